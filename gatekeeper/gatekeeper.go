// Package gatekeeper decides, before any content is fetched, whether a
// question can be answered yet. Questions that suggest the student is
// undocumented but say nothing about resident tuition are held back until
// the student says whether they already pay in-state tuition.
package gatekeeper

import (
	"fmt"
	"regexp"
	"strings"
)

// Phase is the conversation phase for one session.
type Phase int

const (
	Normal Phase = iota
	AwaitingResidencyAnswer
)

func (p Phase) String() string {
	switch p {
	case Normal:
		return "normal"
	case AwaitingResidencyAnswer:
		return "awaiting_residency_answer"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// Reply classifies an answer to the residency question.
type Reply int

const (
	Unclear Reply = iota
	Affirmative
	Negative
)

func (r Reply) String() string {
	switch r {
	case Affirmative:
		return "affirmative"
	case Negative:
		return "negative"
	}
	return "unclear"
}

// ClosingReply is the canned response to thanks and goodbyes.
const ClosingReply = "Of course! If you have any other questions, I'm here to help. Good luck! 🎓"

var (
	closingToken = `(?:thanks?|thank\s*you|ty|thx|that'?s\s*(?:it|all)|i'?m\s*(?:good|done|set)|i\s+am\s+(?:good|done|set)|` +
		`got\s*it|perfect|great|awesome|cool|ok(?:ay)?|bye|goodbye|see\s*ya|later|cheers|appreciate\s*it)`
	closingRe = regexp.MustCompile(`(?i)^\s*` + closingToken + `(?:[\s,.!]+(?:and\s+)?` + closingToken + `)*\s*[.!]*\s*$`)

	undocumentedRe = regexp.MustCompile(`(?i)\b(undocumented|non[-\s]?citizen|no (?:ssn|green\s*card)|daca|tps|asylee|asylum|sijs)\b`)
	inStateRe      = regexp.MustCompile(`(?i)\b(in[-\s]?state|resident tuition|nysda|nys dream act|tap|already pay)\b`)

	hedgeRe       = regexp.MustCompile(`(?i)\b(not sure|unsure|idk|maybe|do(?:n'?t| not) know)\b`)
	negativeRe    = regexp.MustCompile(`(?i)\b(no|nope|not yet|i don'?t|i do not|i'?m not|i am not|out[-\s]?of[-\s]?state|oos)\b`)
	affirmativeRe = regexp.MustCompile(`(?i)\b(yes|yep|yeah|yup|already|i do|i am|in[-\s]?state|resident)\b`)
)

// normalize folds typographic apostrophes so "I don’t" reads like "I don't".
func normalize(s string) string {
	return strings.NewReplacer("’", "'", "‘", "'").Replace(strings.TrimSpace(s))
}

// IsClosing reports whether text is only a conversational closing such as
// "thanks", "bye" or "thanks, that's all!".
func IsClosing(text string) bool {
	return closingRe.MatchString(normalize(text))
}

// NeedsResidency reports whether query should be held back for the
// residency question. known is the residency fact already on file, if any.
func NeedsResidency(query string, known *bool) bool {
	if known != nil {
		return false
	}
	q := normalize(query)
	return undocumentedRe.MatchString(q) && !inStateRe.MatchString(q)
}

// ClassifyReply reads an answer to the residency question. Negative phrases
// are checked first since "I do not" contains "i do".
func ClassifyReply(text string) Reply {
	t := normalize(text)
	switch {
	case hedgeRe.MatchString(t):
		return Unclear
	case negativeRe.MatchString(t):
		return Negative
	case affirmativeRe.MatchString(t):
		return Affirmative
	}
	return Unclear
}

// CampusLabel returns the name used for the student's campus in questions.
func CampusLabel(schoolCode string) string {
	switch strings.ToLower(strings.TrimSpace(schoolCode)) {
	case "", "ccny":
		return "CCNY"
	}
	return "your campus"
}

// State is what the gatekeeper remembers between turns.
type State struct {
	Phase Phase

	// Pending is the question deferred while awaiting the residency answer.
	Pending string

	// HasInState is the resolved residency fact, nil when unknown.
	HasInState *bool
}

// Decision is the outcome of one Step.
type Decision struct {
	// State is the state to persist for the next turn.
	State State

	// Ask, when set, is returned to the student instead of an answer.
	Ask string

	// Query is the question to run through the pipeline when Ask is empty.
	Query string
}

// Machine is the residency state machine for one campus.
type Machine struct {
	Campus string
}

// New creates a Machine for the campus identified by schoolCode.
func New(schoolCode string) Machine {
	return Machine{Campus: CampusLabel(schoolCode)}
}

func (m Machine) campus() string {
	if m.Campus == "" {
		return "CCNY"
	}
	return m.Campus
}

// Question is the clarifying question asked from Normal.
func (m Machine) Question() string {
	return fmt.Sprintf("Do you already pay **in-state (resident) tuition** at %s?", m.campus())
}

// Reask is the question repeated when a reply is unclear.
func (m Machine) Reask() string {
	return fmt.Sprintf("Just to confirm: do you already pay **in-state (resident) tuition** at %s?", m.campus())
}

// Compose prefixes query with the resolved residency fact.
func (m Machine) Compose(hasInState bool, query string) string {
	if hasInState {
		return fmt.Sprintf("I already pay in-state (resident) tuition at %s. %s", m.campus(), query)
	}
	return fmt.Sprintf("I do NOT yet pay in-state (resident) tuition at %s. %s", m.campus(), query)
}

// Step advances the conversation by one message.
func (m Machine) Step(s State, message string) Decision {
	message = strings.TrimSpace(message)

	if s.Phase == AwaitingResidencyAnswer {
		var fact bool
		switch ClassifyReply(message) {
		case Affirmative:
			fact = true
		case Negative:
			fact = false
		default:
			return Decision{State: s, Ask: m.Reask()}
		}
		orig := s.Pending
		if orig == "" {
			orig = message
		}
		return Decision{
			State: State{Phase: Normal, HasInState: &fact},
			Query: m.Compose(fact, orig),
		}
	}

	if NeedsResidency(message, nil) {
		if s.HasInState == nil {
			return Decision{
				State: State{Phase: AwaitingResidencyAnswer, Pending: message},
				Ask:   m.Question(),
			}
		}
		// Known from an earlier turn or the profile.
		message = m.Compose(*s.HasInState, message)
	}
	return Decision{State: State{Phase: Normal, HasInState: s.HasInState}, Query: message}
}
