package synth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dreamdesk/dreamdesk/curator"
)

type mockLLM struct {
	mock.Mock
}

func (m *mockLLM) Name() string { return "mock" }

func (m *mockLLM) Complete(ctx context.Context, system, user string) (string, error) {
	args := m.Called(ctx, system, user)
	return args.String(0), args.Error(1)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func richBundle() curator.Bundle {
	return curator.Bundle{Items: []curator.Item{
		{URL: "https://www.ccny.cuny.edu/immigrantstudentcenter/qualifying-state-tuition", Title: "Tuition", Content: strings.Repeat("residency pathways ", 20)},
		{URL: "https://www.hesc.ny.gov/applying-aid/nys-dream-act/", Content: strings.Repeat("dream act ", 20)},
	}}
}

func TestClassify(t *testing.T) {
	cases := map[string]Intent{
		"scholarships":       IntentScholarships,
		"  Financial_Aid \n": IntentFinancialAid,
		"`residency`":        IntentResidency,
		"I think: housing":   IntentGeneral,
		"":                   IntentGeneral,
	}
	for reply, want := range cases {
		m := &mockLLM{}
		m.On("Complete", mock.Anything, classifySystem, classifyUser("q")).Return(reply, nil).Once()
		s := New(m, WithLogger(testLogger()))
		assert.Equal(t, want, s.Classify(context.Background(), "q"), "reply %q", reply)
		m.AssertExpectations(t)
	}

	m := &mockLLM{}
	m.On("Complete", mock.Anything, mock.Anything, mock.Anything).Return("", errors.New("timeout"))
	require.Equal(t, IntentGeneral, New(m, WithLogger(testLogger())).Classify(context.Background(), "q"))
}

func TestSynthesize(t *testing.T) {
	m := &mockLLM{}
	m.On("Complete", mock.Anything, answerSystem, mock.Anything).Return("  Start with in-state tuition.  ", nil)
	m.On("Complete", mock.Anything, cardsSystem, mock.Anything).Return("Sure! Here you go:\n```json\n"+`[
		{"name": "NYS Dream Act", "url": "https://www.hesc.ny.gov/applying-aid/nys-dream-act/", "category": "Grant", "why": "state aid"},
		{"name": "Other campus aid", "url": "https://www.jjay.cuny.edu/aid", "category": "grant"},
		{"name": "Dream Scholarship", "url": "https://www.thedream.us/", "category": "money"}
	]`+"\n```", nil)

	s := New(m, WithLogger(testLogger()))
	ans := s.Synthesize(context.Background(), "I am DACA, what aid exists?", IntentFinancialAid, richBundle())

	require.Equal(t, "Start with in-state tuition.", ans.Text)
	require.Len(t, ans.Sources, 2)

	want := []ResourceCard{
		{Name: "NYS Dream Act", URL: "https://www.hesc.ny.gov/applying-aid/nys-dream-act/", Category: CategoryGrant, Why: "state aid", Authority: "HESC"},
		{Name: "Dream Scholarship", URL: "https://www.thedream.us/", Category: CategoryScholarship, Authority: "TheDream.US"},
	}
	if diff := cmp.Diff(want, ans.Cards); diff != "" {
		t.Errorf("cards mismatch (-want +got):\n%s", diff)
	}
	m.AssertExpectations(t)
}

func TestSynthesize_AnswerFailureUsesObjectAnswer(t *testing.T) {
	m := &mockLLM{}
	m.On("Complete", mock.Anything, answerSystem, mock.Anything).Return("", errors.New("503"))
	m.On("Complete", mock.Anything, cardsSystem, mock.Anything).Return(`{"answer": "From the cards call.", "cards": []}`, nil)

	ans := New(m, WithLogger(testLogger())).Synthesize(context.Background(), "q", IntentGeneral, richBundle())
	require.Equal(t, "From the cards call.", ans.Text)
	require.Equal(t, FallbackCards(), ans.Cards)
}

func TestSynthesize_AllCallsFail(t *testing.T) {
	m := &mockLLM{}
	m.On("Complete", mock.Anything, mock.Anything, mock.Anything).Return("", errors.New("down"))

	ans := New(m, WithLogger(testLogger())).Synthesize(context.Background(), "q", IntentGeneral, richBundle())
	require.Equal(t, unavailableAnswerText, ans.Text)
	require.Equal(t, FallbackCards(), ans.Cards)
}

func TestSynthesize_TinyContextSkipsModel(t *testing.T) {
	m := &mockLLM{}
	b := curator.Bundle{Items: []curator.Item{{URL: "https://www.ccny.cuny.edu/immigrantstudentcenter", Content: "short"}}}

	ans := New(m, WithLogger(testLogger())).Synthesize(context.Background(), "q", IntentGeneral, b)
	require.Equal(t, staticAnswerText, ans.Text)
	require.Equal(t, []curator.Source{{URL: "https://www.ccny.cuny.edu/immigrantstudentcenter"}}, ans.Sources)
	require.NotEmpty(t, ans.Cards)
	m.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything, mock.Anything)
}

func TestExtractJSON(t *testing.T) {
	cases := []struct {
		name   string
		in     string
		reason FailureReason
		check  func(t *testing.T, v any)
	}{
		{name: "empty", in: "   ", reason: ReasonEmpty},
		{name: "prose only", in: "I could not find anything.", reason: ReasonNoJSON},
		{name: "broken", in: `[{"name": "x",`, reason: ReasonInvalid},
		{
			name: "bare array",
			in:   `[{"name":"a"}]`,
			check: func(t *testing.T, v any) {
				require.Len(t, v, 1)
			},
		},
		{
			name: "fenced",
			in:   "```json\n[{\"name\":\"a\"},{\"name\":\"b\"}]\n```",
			check: func(t *testing.T, v any) {
				require.Len(t, v, 2)
			},
		},
		{
			name: "prose around object",
			in:   "Here is the result: {\"answer\": \"hi\", \"cards\": [{\"name\": \"a\"}]} Let me know!",
			check: func(t *testing.T, v any) {
				obj, ok := v.(map[string]any)
				require.True(t, ok)
				require.Equal(t, "hi", obj["answer"])
			},
		},
		{
			name: "citation brackets before array",
			in:   "See [1] and [2]: [{\"name\": \"a\"}]",
			check: func(t *testing.T, v any) {
				list, ok := v.([]any)
				require.True(t, ok)
				require.Len(t, list, 1)
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := ExtractJSON(tc.in)
			require.Equal(t, tc.reason, res.Reason)
			if tc.check != nil {
				require.True(t, res.OK())
				tc.check(t, res.Value)
			}
		})
	}
}

func TestNormalizeCards(t *testing.T) {
	in := []CandidateCard{
		{"name": "CCNY Scholarships", "url": "https://www.ccny.cuny.edu/immigrantstudentcenter/scholarships"},
		{"name": "ccny scholarships", "url": "HTTPS://WWW.CCNY.CUNY.EDU/immigrantstudentcenter/scholarships"},
		{"name": "", "url": "https://www.cuny.edu/"},
		{"name": "No scheme", "url": "www.cuny.edu/"},
		{"name": "Resident tuition", "url": "https://www.cuny.edu/tuition", "authority": "CUNY Central", "deadline": 2025.0},
		{"name": "Legal help", "url": "https://www.cuny.edu/legal", "category": " LEGAL "},
		{"name": "Seventh", "url": "https://www.cuny.edu/7"},
	}
	want := []ResourceCard{
		{Name: "CCNY Scholarships", URL: "https://www.ccny.cuny.edu/immigrantstudentcenter/scholarships", Category: CategoryScholarship, Authority: "CCNY"},
		{Name: "Resident tuition", URL: "https://www.cuny.edu/tuition", Category: CategoryTuition, Authority: "CUNY Central", Deadline: "2025"},
		{Name: "Legal help", URL: "https://www.cuny.edu/legal", Category: CategoryLegal, Authority: "CUNY"},
	}
	if diff := cmp.Diff(want, NormalizeCards(in)); diff != "" {
		t.Errorf("NormalizeCards mismatch (-want +got):\n%s", diff)
	}
}

func TestInferCategory(t *testing.T) {
	assert.Equal(t, CategoryScholarship, inferCategory("Golden Door Scholars"))
	assert.Equal(t, CategoryScholarship, inferCategory("NYS DREAM Act"))
	assert.Equal(t, CategoryTuition, inferCategory("Tuition waiver"))
	assert.Equal(t, CategoryBenefit, inferCategory("Food pantry"))
}

func TestFallbackCards(t *testing.T) {
	cards := FallbackCards()
	require.Len(t, cards, 7)
	for _, c := range cards {
		require.True(t, categories[c.Category], c.Name)
		require.NotEmpty(t, c.Authority)
	}

	// Callers may modify the result freely.
	cards[0].Name = "changed"
	require.NotEqual(t, "changed", FallbackCards()[0].Name)
}

func TestStaticFallback(t *testing.T) {
	a := StaticFallback()
	require.Equal(t, staticAnswerText, a.Text)
	require.Equal(t, SafeSources(), a.Sources)
	require.NotEmpty(t, a.Cards)
}
