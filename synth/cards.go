package synth

import (
	"fmt"
	"strings"

	"github.com/dreamdesk/dreamdesk/allowlist"
)

// MaxCards bounds how many model-proposed cards are considered.
const MaxCards = 6

// Category is the kind of program a card describes.
type Category string

const (
	CategoryScholarship Category = "scholarship"
	CategoryGrant       Category = "grant"
	CategoryBenefit     Category = "benefit"
	CategoryLegal       Category = "legal"
	CategoryAdvising    Category = "advising"
	CategoryTuition     Category = "tuition"
	CategoryFellowship  Category = "fellowship"
)

var categories = map[Category]bool{
	CategoryScholarship: true,
	CategoryGrant:       true,
	CategoryBenefit:     true,
	CategoryLegal:       true,
	CategoryAdvising:    true,
	CategoryTuition:     true,
	CategoryFellowship:  true,
}

// ResourceCard is one actionable program shown to the student.
type ResourceCard struct {
	Name      string   `json:"name"`
	URL       string   `json:"url"`
	Category  Category `json:"category"`
	Why       string   `json:"why,omitempty"`
	Deadline  string   `json:"deadline,omitempty"`
	Authority string   `json:"authority,omitempty"`
}

// CandidateCard is a card as proposed by the model. Every field is optional
// and may be missing or of the wrong type.
type CandidateCard map[string]any

func (c CandidateCard) str(field string) string {
	switch v := c[field].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64, bool:
		return fmt.Sprint(v)
	}
	return ""
}

// candidates pulls card objects out of an extracted value: either a bare
// array or an object with a "cards" array.
func candidates(v any) []CandidateCard {
	var list []any
	switch t := v.(type) {
	case []any:
		list = t
	case map[string]any:
		list, _ = t["cards"].([]any)
	}
	out := make([]CandidateCard, 0, len(list))
	for _, e := range list {
		if m, ok := e.(map[string]any); ok {
			out = append(out, CandidateCard(m))
		}
	}
	return out
}

// NormalizeCards validates model-proposed cards. At most MaxCards are
// considered; cards without a name or with a URL that lacks an explicit
// http(s) scheme or is not allowed are dropped; unknown categories are
// inferred from the name; missing authorities are derived from the URL;
// duplicate name+URL pairs are dropped.
func NormalizeCards(in []CandidateCard) []ResourceCard {
	if len(in) > MaxCards {
		in = in[:MaxCards]
	}
	seen := make(map[string]bool, len(in))
	out := make([]ResourceCard, 0, len(in))
	for _, c := range in {
		name := c.str("name")
		url := c.str("url")
		if name == "" || !hasHTTPScheme(url) || !allowlist.Allowed(url) {
			continue
		}

		key := strings.ToLower(name) + "\x00" + strings.ToLower(url)
		if seen[key] {
			continue
		}
		seen[key] = true

		category := Category(strings.ToLower(c.str("category")))
		if !categories[category] {
			category = inferCategory(name)
		}
		authority := c.str("authority")
		if authority == "" {
			authority = allowlist.Authority(url)
		}

		out = append(out, ResourceCard{
			Name:      name,
			URL:       url,
			Category:  category,
			Why:       c.str("why"),
			Deadline:  c.str("deadline"),
			Authority: authority,
		})
	}
	return out
}

func hasHTTPScheme(url string) bool {
	lower := strings.ToLower(url)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

func inferCategory(name string) Category {
	low := strings.ToLower(name)
	switch {
	case strings.Contains(low, "scholar"), strings.Contains(low, "dream"):
		return CategoryScholarship
	case strings.Contains(low, "tuition"), strings.Contains(low, "resident"):
		return CategoryTuition
	}
	return CategoryBenefit
}

var fallbackCards = []ResourceCard{
	{
		Name:      "CCNY In-State (Resident) Tuition for Immigrant Students",
		URL:       "https://www.ccny.cuny.edu/immigrantstudentcenter/qualifying-state-tuition",
		Category:  CategoryTuition,
		Authority: "CCNY",
		Deadline:  "rolling",
		Why:       "How undocumented, DACA and SIJS students can qualify for resident tuition through NYS high school attendance or domicile.",
	},
	{
		Name:      "CCNY Immigrant Student Center: Scholarships",
		URL:       "https://www.ccny.cuny.edu/immigrantstudentcenter/scholarships",
		Category:  CategoryScholarship,
		Authority: "CCNY",
		Deadline:  "varies",
		Why:       "Curated scholarships open to undocumented and DACA students.",
	},
	{
		Name:      "HESC: NYS Dream Act (State Aid)",
		URL:       "https://www.hesc.ny.gov/applying-aid/nys-dream-act/",
		Category:  CategoryGrant,
		Authority: "HESC",
		Deadline:  "varies",
		Why:       "State aid, including TAP, for students who meet NYS Dream Act eligibility.",
	},
	{
		Name:      "TheDream.US: Scholarships",
		URL:       "https://www.thedream.us/",
		Category:  CategoryScholarship,
		Authority: "TheDream.US",
		Deadline:  "seasonal",
		Why:       "National scholarships for undocumented and DACA students, usually open once a year.",
	},
	{
		Name:      "CCNY Immigrant Student Center: Financial Aid & Advising",
		URL:       "https://www.ccny.cuny.edu/immigrantstudentcenter/financial-aid",
		Category:  CategoryAdvising,
		Authority: "CCNY",
		Deadline:  "rolling",
		Why:       "One-on-one help with TAP, the Dream Act application, documents and timelines.",
	},
	{
		Name:      "CCNY Dream Team (Student Org)",
		URL:       "https://www.ccny.cuny.edu/immigrantstudentcenter/ccny-dream-team",
		Category:  CategoryAdvising,
		Authority: "CCNY",
		Deadline:  "rolling",
		Why:       "Peer community for undocumented and immigrant students.",
	},
	{
		Name:      "Immigrants Rising: Scholarship List",
		URL:       "https://immigrantsrising.org/resource/scholarships/",
		Category:  CategoryScholarship,
		Authority: "Immigrants Rising",
		Deadline:  "varies",
		Why:       "Regularly updated scholarships that do not require U.S. citizenship.",
	},
}

// FallbackCards returns the hand-curated cards used when the model proposes
// nothing usable. They pass through the allowlist like any other card.
func FallbackCards() []ResourceCard {
	out := make([]ResourceCard, 0, len(fallbackCards))
	for _, c := range fallbackCards {
		if allowlist.Allowed(c.URL) {
			out = append(out, c)
		}
	}
	return out
}
