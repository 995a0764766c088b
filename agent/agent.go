// Package agent runs one chat turn end to end: closing remarks, the
// residency gatekeeper, and the deadline-bounded classify, collect and
// synthesize pipeline.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dreamdesk/dreamdesk/curator"
	"github.com/dreamdesk/dreamdesk/gatekeeper"
	"github.com/dreamdesk/dreamdesk/session"
	"github.com/dreamdesk/dreamdesk/synth"
	"github.com/dreamdesk/dreamdesk/telemetry"
)

// DefaultTurnDeadline bounds the pipeline when no deadline is configured.
const DefaultTurnDeadline = 25 * time.Second

// Collector gathers context for a question.
type Collector interface {
	Collect(ctx context.Context, intent, query string) curator.Bundle
}

// Synthesizer classifies questions and writes answers.
type Synthesizer interface {
	Classify(ctx context.Context, query string) synth.Intent
	Synthesize(ctx context.Context, query string, intent synth.Intent, bundle curator.Bundle) synth.Answer
}

// Profile is what the student told us about themselves outside the chat.
type Profile struct {
	SchoolCode string `json:"school_code,omitempty"`
	Status     string `json:"status,omitempty"`
	Goal       string `json:"goal,omitempty"`
	HasInState *bool  `json:"has_instate,omitempty"`
}

// note renders the profile for the answer prompt.
func (p *Profile) note() string {
	if p == nil {
		return ""
	}
	var b strings.Builder
	if gatekeeper.CampusLabel(p.SchoolCode) != "CCNY" {
		b.WriteString("\n\nNote: the student is not at CCNY. Avoid CCNY-only resources and suggest their campus hub.")
	}
	var lines []string
	if p.SchoolCode != "" {
		lines = append(lines, "School code: "+p.SchoolCode)
	}
	if p.Status != "" {
		lines = append(lines, "Status: "+p.Status)
	}
	if p.Goal != "" {
		lines = append(lines, "Goal: "+p.Goal)
	}
	if p.HasInState != nil {
		lines = append(lines, fmt.Sprintf("In-state tuition: %t", *p.HasInState))
	}
	if len(lines) > 0 {
		b.WriteString("\n\nStudent profile:\n- ")
		b.WriteString(strings.Join(lines, "\n- "))
	}
	return b.String()
}

func (p *Profile) schoolCode() string {
	if p == nil {
		return ""
	}
	return p.SchoolCode
}

// Request is one incoming chat message.
type Request struct {
	SessionID string
	Message   string
	Profile   *Profile
}

// Response is the reply to one chat message. Exactly one of Ask and
// AnswerText is set.
type Response struct {
	SessionID  string               `json:"session_id"`
	Ask        string               `json:"ask,omitempty"`
	Intent     string               `json:"intent,omitempty"`
	AnswerText string               `json:"answer_text,omitempty"`
	Sources    []curator.Source     `json:"sources"`
	Cards      []synth.ResourceCard `json:"cards"`

	Outcome telemetry.TurnOutcome `json:"-"`
}

// Config holds the turn settings.
type Config struct {
	// TurnDeadline bounds classify, collect and synthesize together. Zero
	// serves the static fallback without running the pipeline.
	TurnDeadline time.Duration
}

// DefaultConfig returns the production turn settings.
func DefaultConfig() Config {
	return Config{TurnDeadline: DefaultTurnDeadline}
}

// Agent handles chat turns.
type Agent struct {
	cfg      Config
	sessions session.Store
	curator  Collector
	synth    Synthesizer
	logger   *slog.Logger
	newID    func() string
}

// Option configures an Agent.
type Option func(*Agent)

// WithLogger sets the logger for the agent.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Agent) {
		a.logger = logger
	}
}

// WithIDGenerator overrides session ID generation.
func WithIDGenerator(fn func() string) Option {
	return func(a *Agent) {
		a.newID = fn
	}
}

// New creates an Agent.
func New(cfg Config, sessions session.Store, c Collector, s Synthesizer, opts ...Option) *Agent {
	a := &Agent{
		cfg:      cfg,
		sessions: sessions,
		curator:  c,
		synth:    s,
		logger:   slog.Default(),
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With("component", "agent")
	return a
}

// Handle runs one turn. It never fails: errors along the way degrade to
// fallback content.
func (a *Agent) Handle(ctx context.Context, req Request) Response {
	start := time.Now()
	resp := a.handle(ctx, req)
	telemetry.RecordTurn(ctx, resp.Outcome, time.Since(start))
	return resp
}

func (a *Agent) handle(ctx context.Context, req Request) Response {
	sid := strings.TrimSpace(req.SessionID)
	if sid == "" {
		sid = a.newID()
	}
	resp := Response{
		SessionID: sid,
		Sources:   []curator.Source{},
		Cards:     []synth.ResourceCard{},
	}

	if gatekeeper.IsClosing(req.Message) {
		resp.AnswerText = gatekeeper.ClosingReply
		resp.Outcome = telemetry.OutcomeClosing
		return resp
	}

	sess := a.loadSession(ctx, sid)
	state := stateOf(sess)
	if req.Profile != nil && req.Profile.HasInState != nil {
		// A profile answer settles the residency question outright.
		state = gatekeeper.State{Phase: gatekeeper.Normal, HasInState: req.Profile.HasInState}
	}

	machine := gatekeeper.New(req.Profile.schoolCode())
	d := machine.Step(state, req.Message)
	a.saveSession(ctx, applyState(sess, d.State))

	if d.Ask != "" {
		a.logger.Debug("asking clarifying question", "session", sid, "phase", d.State.Phase)
		resp.Ask = d.Ask
		resp.Outcome = telemetry.OutcomeAsked
		return resp
	}

	intent, ans, ok := a.answer(ctx, d.Query, req.Profile.note())
	resp.Intent = string(intent)
	resp.AnswerText = ans.Text
	if ans.Sources != nil {
		resp.Sources = ans.Sources
	}
	if ans.Cards != nil {
		resp.Cards = ans.Cards
	}
	resp.Outcome = telemetry.OutcomeAnswered
	if !ok {
		resp.Outcome = telemetry.OutcomeFallback
	}
	return resp
}

type turnResult struct {
	intent synth.Intent
	answer synth.Answer
	ok     bool
}

// answer runs the pipeline under the turn deadline. It reports false when
// the static fallback was served instead.
func (a *Agent) answer(ctx context.Context, query, note string) (synth.Intent, synth.Answer, bool) {
	if a.cfg.TurnDeadline <= 0 {
		return synth.IntentGeneral, synth.StaticFallback(), false
	}

	ctx, cancel := context.WithTimeout(ctx, a.cfg.TurnDeadline)
	defer cancel()

	done := make(chan turnResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				a.logger.Error("turn pipeline panicked", "panic", r)
				done <- turnResult{}
			}
		}()
		intent := a.synth.Classify(ctx, query)
		bundle := a.curator.Collect(ctx, string(intent), query)
		done <- turnResult{
			intent: intent,
			answer: a.synth.Synthesize(ctx, query+note, intent, bundle),
			ok:     true,
		}
	}()

	select {
	case r := <-done:
		if !r.ok {
			return synth.IntentGeneral, synth.StaticFallback(), false
		}
		if ctx.Err() != nil {
			// Finished, but after the deadline cut the model calls short.
			a.logger.Warn("turn finished past deadline", "deadline", a.cfg.TurnDeadline)
		}
		return r.intent, r.answer, true
	case <-ctx.Done():
		a.logger.Warn("turn deadline exceeded, serving static answer",
			"deadline", a.cfg.TurnDeadline,
			"error", ctx.Err())
		return synth.IntentGeneral, synth.StaticFallback(), false
	}
}

func (a *Agent) loadSession(ctx context.Context, id string) *session.Session {
	s, err := a.sessions.Get(ctx, id)
	if err == nil {
		return s
	}
	if !errors.Is(err, session.ErrNotFound) {
		a.logger.Warn("failed to load session", "session", id, "error", err)
	}
	return &session.Session{ID: id}
}

func (a *Agent) saveSession(ctx context.Context, s *session.Session) {
	if err := a.sessions.Save(ctx, s); err != nil {
		a.logger.Warn("failed to save session", "session", s.ID, "error", err)
	}
}

func stateOf(s *session.Session) gatekeeper.State {
	st := gatekeeper.State{HasInState: s.HasInState}
	if s.PendingKind == session.PendingResidency {
		st.Phase = gatekeeper.AwaitingResidencyAnswer
		st.Pending = s.OrigQuery
	}
	return st
}

func applyState(s *session.Session, st gatekeeper.State) *session.Session {
	out := &session.Session{ID: s.ID, HasInState: st.HasInState}
	if st.Phase == gatekeeper.AwaitingResidencyAnswer {
		out.PendingKind = session.PendingResidency
		out.OrigQuery = st.Pending
	}
	return out
}
