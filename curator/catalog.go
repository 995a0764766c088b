package curator

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dreamdesk/dreamdesk/allowlist"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// Page is a source the curator knows ahead of time.
type Page struct {
	URL     string `yaml:"url"`
	Title   string `yaml:"title"`
	Snippet string `yaml:"snippet"`
}

// Catalog lists curated pages, secondary seeds and search hints.
type Catalog struct {
	Curated            []Page            `yaml:"curated"`
	Seeds              []Page            `yaml:"seeds"`
	SeedIntents        []string          `yaml:"seed_intents"`
	ScholarshipIntents []string          `yaml:"scholarship_intents"`
	ScholarshipTerms   string            `yaml:"scholarship_terms"`
	SiteClause         string            `yaml:"site_clause"`
	DefaultHint        string            `yaml:"default_hint"`
	Hints              map[string]string `yaml:"hints"`
}

// DefaultCatalog returns the built-in catalog.
func DefaultCatalog() *Catalog {
	cat, err := ParseCatalog(defaultCatalog)
	if err != nil {
		panic(fmt.Sprintf("curator: built-in catalog is invalid: %v", err))
	}
	return cat
}

// LoadCatalog reads a catalog from path.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and validates a YAML catalog.
func ParseCatalog(data []byte) (*Catalog, error) {
	var cat Catalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("parsing catalog: %w", err)
	}
	if err := cat.Validate(); err != nil {
		return nil, err
	}
	return &cat, nil
}

// Validate checks that every page is on an allowed host.
func (c *Catalog) Validate() error {
	if len(c.Curated) == 0 {
		return errors.New("catalog: at least one curated page is required")
	}
	for _, p := range slices.Concat(c.Curated, c.Seeds) {
		if !allowlist.Allowed(p.URL) {
			return fmt.Errorf("catalog: %q is not on an allowed host (allowed: %s)",
				p.URL, strings.Join(allowlist.Hosts(), ", "))
		}
	}
	return nil
}

// Hint returns the search hint for intent.
func (c *Catalog) Hint(intent string) string {
	if h, ok := c.Hints[intent]; ok && h != "" {
		return h
	}
	return c.DefaultHint
}

// UsesSeeds reports whether intent pulls in the secondary seeds.
func (c *Catalog) UsesSeeds(intent string) bool {
	return slices.Contains(c.SeedIntents, intent)
}

// URLs returns curated and seed URLs, for warming the cache.
func (c *Catalog) URLs() []string {
	out := make([]string, 0, len(c.Curated)+len(c.Seeds))
	for _, p := range slices.Concat(c.Curated, c.Seeds) {
		out = append(out, p.URL)
	}
	return out
}
