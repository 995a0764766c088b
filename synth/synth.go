// Package synth turns collected context into a student-facing answer with
// resource cards, using two LLM calls: one to classify the question and one
// each for the answer text and the structured cards.
package synth

import (
	"context"
	"log/slog"
	"strings"

	"github.com/dreamdesk/dreamdesk/curator"
	"github.com/dreamdesk/dreamdesk/llm"
)

// minContextChars is the merged-context size below which the model is not
// consulted.
const minContextChars = 200

// Answer is the synthesized reply.
type Answer struct {
	Text    string
	Sources []curator.Source
	Cards   []ResourceCard
}

// Synthesizer classifies questions and writes answers.
type Synthesizer struct {
	llm    llm.Client
	logger *slog.Logger
}

// Option configures a Synthesizer.
type Option func(*Synthesizer)

// WithLogger sets the logger for the synthesizer.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Synthesizer) {
		s.logger = logger
	}
}

// New creates a Synthesizer backed by client.
func New(client llm.Client, opts ...Option) *Synthesizer {
	s := &Synthesizer{
		llm:    client,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "synth")
	return s
}

// Classify picks the intent for query. Any failure yields IntentGeneral.
func (s *Synthesizer) Classify(ctx context.Context, query string) Intent {
	out, err := s.llm.Complete(llm.WithPurpose(ctx, "classify"), classifySystem, classifyUser(query))
	if err != nil {
		return IntentGeneral
	}
	return ParseIntent(out)
}

// Synthesize writes the answer for query from bundle.
func (s *Synthesizer) Synthesize(ctx context.Context, query string, intent Intent, bundle curator.Bundle) Answer {
	merged := bundle.Merged()
	sources := bundle.Sources()

	if len(merged) < minContextChars {
		s.logger.Debug("context too small, serving static answer", "chars", len(merged))
		return Answer{Text: staticAnswerText, Sources: sources, Cards: FallbackCards()}
	}

	text, err := s.llm.Complete(llm.WithPurpose(ctx, "answer"), answerSystem, answerUser(query, merged, intent, sources))
	text = strings.TrimSpace(text)
	answerFailed := err != nil || text == ""

	cards, modelAnswer := s.cards(ctx, query, merged, intent)
	switch {
	case !answerFailed:
	case modelAnswer != "":
		text = modelAnswer
	default:
		text = unavailableAnswerText
	}

	if len(cards) == 0 {
		cards = FallbackCards()
	}
	return Answer{Text: text, Sources: sources, Cards: cards}
}

// cards asks the model for resource cards. The reply may be a bare array or
// an object carrying "cards" and optionally "answer".
func (s *Synthesizer) cards(ctx context.Context, query, merged string, intent Intent) ([]ResourceCard, string) {
	raw, err := s.llm.Complete(llm.WithPurpose(ctx, "cards"), cardsSystem, cardsUser(query, merged, intent))
	if err != nil {
		return nil, ""
	}

	res := ExtractJSON(raw)
	if !res.OK() {
		s.logger.Debug("no card JSON in model reply", "reason", res.Reason)
		return nil, ""
	}

	var answer string
	if obj, ok := res.Value.(map[string]any); ok {
		if a, ok := obj["answer"].(string); ok {
			answer = strings.TrimSpace(a)
		}
	}

	cards := NormalizeCards(candidates(res.Value))
	if len(cards) == 0 {
		s.logger.Debug("model cards rejected, using fallback")
	}
	return cards, answer
}

// StaticFallback is the answer served when a turn cannot finish in time: the
// static residency-first text, the curated safe links, and the fallback
// cards.
func StaticFallback() Answer {
	return Answer{
		Text:    staticAnswerText,
		Sources: SafeSources(),
		Cards:   FallbackCards(),
	}
}

var safeSources = []curator.Source{
	{URL: "https://www.ccny.cuny.edu/immigrantstudentcenter", Title: "CCNY Immigrant Student Center"},
	{URL: "https://www.ccny.cuny.edu/immigrantstudentcenter/qualifying-state-tuition", Title: "Qualifying for In-State Tuition at CCNY"},
	{URL: "https://www.ccny.cuny.edu/immigrantstudentcenter/scholarships", Title: "CCNY Scholarships for Immigrant Students"},
	{URL: "https://www.ccny.cuny.edu/immigrantstudentcenter/financial-aid", Title: "Financial Aid for Undocumented Students"},
	{URL: "https://www.hesc.ny.gov/applying-aid/nys-dream-act/", Title: "NYS Dream Act (HESC)"},
}

// SafeSources returns the fixed links served with StaticFallback.
func SafeSources() []curator.Source {
	return append([]curator.Source(nil), safeSources...)
}
