package synth

import "strings"

// Intent is the topic a question is routed by.
type Intent string

const (
	IntentResidency      Intent = "residency"
	IntentFinancialAid   Intent = "financial_aid"
	IntentScholarships   Intent = "scholarships"
	IntentRegistration   Intent = "registration"
	IntentCalendar       Intent = "calendar"
	IntentITSupport      Intent = "it_support"
	IntentAdvising       Intent = "advising"
	IntentHousing        Intent = "housing"
	IntentTuitionBilling Intent = "tuition_billing"
	IntentStudentLife    Intent = "student_life"
	IntentGeneral        Intent = "general"
)

// Intents lists every intent in prompt order.
var Intents = []Intent{
	IntentResidency,
	IntentFinancialAid,
	IntentScholarships,
	IntentRegistration,
	IntentCalendar,
	IntentITSupport,
	IntentAdvising,
	IntentHousing,
	IntentTuitionBilling,
	IntentStudentLife,
	IntentGeneral,
}

// ParseIntent maps a model reply to an intent. Anything outside the closed
// set is general.
func ParseIntent(s string) Intent {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.Trim(s, "`\"'.*")
	for _, i := range Intents {
		if string(i) == s {
			return i
		}
	}
	return IntentGeneral
}
