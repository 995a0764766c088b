package gatekeeper

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsClosing(t *testing.T) {
	closing := []string{
		"thanks",
		"Thank you!",
		"thanks, that's all!",
		"thx bye",
		"ok thanks",
		"Got it, thank you.",
		"that’s it",
		"I'm good",
		"i am done",
		"cool and thanks",
		"  Perfect!!  ",
		"see ya",
	}
	for _, s := range closing {
		assert.True(t, IsClosing(s), s)
	}

	open := []string{
		"",
		"thanks, what about housing?",
		"ok so how do I apply for TAP",
		"thanksgiving break dates",
		"great scholarships for daca students",
	}
	for _, s := range open {
		assert.False(t, IsClosing(s), s)
	}
}

func TestNeedsResidency(t *testing.T) {
	yes, no := true, false

	assert.True(t, NeedsResidency("I am undocumented, what scholarships exist?", nil))
	assert.True(t, NeedsResidency("I have DACA", nil))
	assert.True(t, NeedsResidency("I'm a non-citizen with no green card", nil))

	assert.False(t, NeedsResidency("I am undocumented and pay in-state tuition", nil))
	assert.False(t, NeedsResidency("DACA student, can I get TAP?", nil))
	assert.False(t, NeedsResidency("where is the library", nil))
	assert.False(t, NeedsResidency("I am undocumented", &yes))
	assert.False(t, NeedsResidency("I am undocumented", &no))
}

func TestClassifyReply(t *testing.T) {
	cases := map[string]Reply{
		"I do not have in-state tuition":     Negative,
		"yes I already pay resident tuition": Affirmative,
		"Yes":                                Affirmative,
		"i do":                               Affirmative,
		"nope":                               Negative,
		"not yet":                            Negative,
		"I don’t":                            Negative,
		"I'm out-of-state right now":         Negative,
		"no":                                 Negative,
		"I'm not sure":                       Unclear,
		"what do you mean?":                  Unclear,
		"":                                   Unclear,
	}
	for in, want := range cases {
		assert.Equal(t, want, ClassifyReply(in), in)
	}
}

func TestCampusLabel(t *testing.T) {
	assert.Equal(t, "CCNY", CampusLabel(""))
	assert.Equal(t, "CCNY", CampusLabel(" CCNY "))
	assert.Equal(t, "your campus", CampusLabel("bmcc"))
}

func TestStep_ResidencyConversation(t *testing.T) {
	m := New("ccny")
	orig := "I am undocumented, what scholarships exist?"

	d := m.Step(State{}, orig)
	require.Equal(t, "Do you already pay **in-state (resident) tuition** at CCNY?", d.Ask)
	require.Empty(t, d.Query)
	require.Equal(t, AwaitingResidencyAnswer, d.State.Phase)
	require.Equal(t, orig, d.State.Pending)

	again := m.Step(d.State, "hmm, what?")
	require.Equal(t, "Just to confirm: do you already pay **in-state (resident) tuition** at CCNY?", again.Ask)
	require.Equal(t, d.State, again.State)

	neg := m.Step(d.State, "I do not have in-state tuition")
	require.Empty(t, neg.Ask)
	require.Equal(t, "I do NOT yet pay in-state (resident) tuition at CCNY. "+orig, neg.Query)
	require.Equal(t, Normal, neg.State.Phase)
	require.NotNil(t, neg.State.HasInState)
	require.False(t, *neg.State.HasInState)

	pos := m.Step(d.State, "yes I already pay resident tuition")
	require.Equal(t, "I already pay in-state (resident) tuition at CCNY. "+orig, pos.Query)
	require.True(t, *pos.State.HasInState)

	// The fact is remembered and composed into later undocumented questions.
	next := m.Step(pos.State, "I have DACA, any grants?")
	require.Empty(t, next.Ask)
	require.Equal(t, "I already pay in-state (resident) tuition at CCNY. I have DACA, any grants?", next.Query)
}

func TestStep_PassThrough(t *testing.T) {
	d := New("").Step(State{}, "  when does registration open? ")
	require.Empty(t, d.Ask)
	require.Equal(t, "when does registration open?", d.Query)
	require.Equal(t, Normal, d.State.Phase)
	require.Nil(t, d.State.HasInState)
}

func TestStep_OtherCampus(t *testing.T) {
	d := New("hunter").Step(State{}, "I'm an asylee")
	require.Equal(t, "Do you already pay **in-state (resident) tuition** at your campus?", d.Ask)
}

func TestPhaseString(t *testing.T) {
	assert.Equal(t, "normal", Normal.String())
	assert.Equal(t, "awaiting_residency_answer", AwaitingResidencyAnswer.String())
	assert.Equal(t, "negative", Negative.String())
}
