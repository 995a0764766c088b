package synth

import (
	"fmt"
	"strings"

	"github.com/dreamdesk/dreamdesk/curator"
	"github.com/dreamdesk/dreamdesk/fetchcache"
)

const classifySystem = `You route questions from City College of New York (CCNY) students.
Pick exactly one category from:
residency, financial_aid, scholarships, registration, calendar, it_support, advising, housing, tuition_billing, student_life, general.
Reply with the category word only.`

func classifyUser(query string) string {
	return "User question: " + query + "\nCategory:"
}

const answerSystem = `You give CCNY students clear, accurate guidance grounded in the page excerpts provided.

Rules:
- The audience is CCNY. Never link campus pages from other CUNY colleges (for example jjay.cuny.edu or qc.cuny.edu). CCNY, CUNY-wide (www.cuny.edu), HESC (hesc.ny.gov, NYS Dream Act and TAP), TheDream.US and Immigrants Rising are fine.
- If the student appears undocumented, DACA, TPS, asylee or otherwise non-citizen and has not said they already pay in-state (resident) tuition, first explain how to qualify for CUNY in-state tuition (two or more years at a NYS high school plus graduation or HiSET, or 12 months of NY domicile with proof) and link the CCNY, CUNY or HESC pages.
- After residency, put money first: NYS Dream Act and TAP, TheDream.US, CCNY scholarship pages, then on-campus programs like the Dream Team.
- Never promise eligibility. Point to the official page to confirm.

Format:
- Open with a one or two sentence direct answer.
- Follow with 4 to 7 bullets of steps, criteria, deadlines or contacts, each with a short bold label.
- Stay under about 200 words. Cite sources as [1], [2] at the end of bullets.
- When sources disagree, trust CCNY, CUNY and HESC over other sites.`

const maxAnswerContext = 8000

func answerUser(query, merged string, intent Intent, sources []curator.Source) string {
	var labels strings.Builder
	for i, s := range sources {
		if i == 8 {
			break
		}
		fmt.Fprintf(&labels, "[%d] %s\n", i+1, s.URL)
	}
	return fmt.Sprintf(`User question: %s
Intent: %s
Sources:
%s
Relevant content:
%s

Write the final answer now.`, query, intent, labels.String(), fetchcache.Truncate(merged, maxAnswerContext))
}

const cardsSystem = `Using only the CCNY, CUNY, HESC, TheDream.US and Immigrants Rising context provided, list 1 to 6 concrete programs the student likely qualifies for.
Return only JSON, no prose: an array of objects with the fields name, url, category, why, deadline, authority.
Allowed categories: scholarship, grant, benefit, legal, advising, tuition, fellowship.
Prefer CCNY pages, but include at least one system-wide resource (CUNY, HESC, TheDream.US or Immigrants Rising) when relevant. No other campuses.`

const maxCardsContext = 7000

func cardsUser(query, merged string, intent Intent) string {
	return fmt.Sprintf("User: %s\n\nContext:\n%s\n\nIntent: %s", query, fetchcache.Truncate(merged, maxCardsContext), intent)
}

// staticAnswerText is served when there is too little context to call the
// model, and by the turn deadline fallback.
const staticAnswerText = `To qualify for **in-state tuition** at CCNY, start with the residency pathways: two or more years at a NYS high school plus graduation, or 12 months of NY domicile with proof. Then look at scholarships and state aid:

- **In-State Tuition (CCNY):** steps and documentation.
- **NYS Dream Act (HESC):** possible access to state aid and TAP.
- **CCNY Scholarships:** curated list for undocumented and immigrant students.
- **TheDream.US:** national scholarships with seasonal deadlines.
- **Immigrants Rising:** updated list of scholarships without citizenship requirements.

If you don't already pay in-state tuition, start there; it lowers tuition substantially. Tell me your major, class year and status (DACA, SIJS, etc.) and I can narrow down scholarships.`

// unavailableAnswerText is served when the answer call fails.
const unavailableAnswerText = `I hit a temporary limit while preparing your answer. These CCNY and CUNY pages are the best place to start right now:
- CCNY Immigrant Student Center: https://www.ccny.cuny.edu/immigrantstudentcenter
- In-State Tuition: https://www.ccny.cuny.edu/immigrantstudentcenter/qualifying-state-tuition
- Scholarships: https://www.ccny.cuny.edu/immigrantstudentcenter/scholarships
- Financial Aid: https://www.ccny.cuny.edu/immigrantstudentcenter/financial-aid
- HESC NYS Dream Act/TAP: https://www.hesc.ny.gov/applying-aid/nys-dream-act/`
