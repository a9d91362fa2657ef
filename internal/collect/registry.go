package collect

import (
	"embed"
	"fmt"
	"os"

	"github.com/marcelo/licita-radar/internal/filter"
	"gopkg.in/yaml.v3"
)

//go:embed config/sources.yaml
var sourcesYAML embed.FS

// Registry holds the full collection configuration: term tiers, scope
// defaults and the bulletin portals to scrape.
type Registry struct {
	Terms    TermConfig     `yaml:"terms"`
	Scope    ScopeConfig    `yaml:"scope"`
	Registry RegistryAPI    `yaml:"registry"`
	Portals  []PortalConfig `yaml:"portals"`
	Matching MatchTuning    `yaml:"matching"`
	Fetch    FetchConfig    `yaml:"fetch,omitempty"`
}

// TermConfig carries the three keyword tiers. Lists are free-form in the
// YAML; they are normalized and deduplicated on load.
type TermConfig struct {
	Priority []string `yaml:"priority"`
	Positive []string `yaml:"positive"`
	Negative []string `yaml:"negative"`
}

// ScopeConfig is the default collection scope, overridable per run.
type ScopeConfig struct {
	Regions           []string `yaml:"regions"`
	LookbackDays      int      `yaml:"lookback_days"`
	OpenProposalsOnly bool     `yaml:"open_proposals_only"`
	Sources           []string `yaml:"sources"` // empty = all portals
}

// RegistryAPI configures the structured registry client.
type RegistryAPI struct {
	BaseURL  string `yaml:"base_url"`
	PageSize int    `yaml:"page_size,omitempty"` // default 50
	MaxPages int    `yaml:"max_pages,omitempty"` // default 20
}

// PortalConfig defines one bulletin portal.
type PortalConfig struct {
	Name       string `yaml:"name"`
	RegionCode string `yaml:"region_code"`
	LandingURL string `yaml:"landing_url"`
	// CodeMarker is the per-notice code pattern this portal uses in its
	// bulletins (strongest segmentation delimiter), e.g. "CÓDIGO IDENTIFICADOR".
	CodeMarker string `yaml:"code_marker,omitempty"`
}

// MatchTuning exposes the matching knobs that are tuned per deployment
// rather than hardcoded.
type MatchTuning struct {
	AcceptThreshold      int  `yaml:"accept_threshold,omitempty"`       // default 70
	CrossCategoryPenalty int  `yaml:"cross_category_penalty,omitempty"` // default 50
	VerifyMatches        bool `yaml:"verify_matches"`
}

// LoadRegistry reads the embedded sources.yaml, expands environment
// variables, validates and normalizes the result. The path argument is a
// filesystem fallback for local development.
func LoadRegistry(path string) (*Registry, error) {
	data, err := sourcesYAML.ReadFile("config/sources.yaml")
	if err != nil {
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, err
		}
	}

	expanded := os.ExpandEnv(string(data))

	var reg Registry
	if err := yaml.Unmarshal([]byte(expanded), &reg); err != nil {
		return nil, err
	}

	reg.Terms.Priority = filter.NormalizeTerms(reg.Terms.Priority)
	reg.Terms.Positive = filter.NormalizeTerms(reg.Terms.Positive)
	reg.Terms.Negative = filter.NormalizeTerms(reg.Terms.Negative)

	if len(reg.Terms.Priority) == 0 && len(reg.Terms.Positive) == 0 {
		return nil, fmt.Errorf("term config has no priority or positive terms; everything would be excluded")
	}
	if reg.Scope.LookbackDays <= 0 {
		reg.Scope.LookbackDays = 3
	}
	if reg.Registry.PageSize <= 0 {
		reg.Registry.PageSize = 50
	}
	if reg.Registry.MaxPages <= 0 {
		reg.Registry.MaxPages = 20
	}
	if reg.Matching.AcceptThreshold <= 0 {
		reg.Matching.AcceptThreshold = 70
	}
	if reg.Matching.CrossCategoryPenalty <= 0 {
		reg.Matching.CrossCategoryPenalty = 50
	}

	seen := make(map[string]bool)
	for _, p := range reg.Portals {
		if p.Name == "" || p.LandingURL == "" {
			return nil, fmt.Errorf("portal entries need name and landing_url")
		}
		if seen[p.Name] {
			return nil, fmt.Errorf("duplicate portal name %q", p.Name)
		}
		seen[p.Name] = true
	}

	return &reg, nil
}
