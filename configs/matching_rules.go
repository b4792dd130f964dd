// matching_rules.go - Keyword patterns and entity allowlists used by the matchers

package configs

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// MatchingRules lists the regex anchors and entity types the predictors read.
// Defaults match invoices from the construction customers we onboarded first.
type MatchingRules struct {
	CustomerPatterns   []string `yaml:"customer_patterns"`
	AddressPatterns    []string `yaml:"address_patterns"`
	ProjectEntityTypes []string `yaml:"project_entity_types"`
	VendorEntityTypes  []string `yaml:"vendor_entity_types"`
}

// DefaultMatchingRules returns the built-in rules.
func DefaultMatchingRules() *MatchingRules {
	return &MatchingRules{
		CustomerPatterns:   []string{"customer", `ref |reference`},
		AddressPatterns:    nil,
		ProjectEntityTypes: []string{"receiver_name", "ship_to_address"},
		VendorEntityTypes:  []string{"supplier_name", "remit_to_name"},
	}
}

// LoadMatchingRules reads a YAML rules file. An empty path yields the
// defaults; keys missing from the file keep their default value.
func LoadMatchingRules(path string) (*MatchingRules, error) {
	rules := DefaultMatchingRules()
	if path == "" {
		return rules, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read matching rules: %w", err)
	}

	var fromFile MatchingRules
	if err := yaml.Unmarshal(raw, &fromFile); err != nil {
		return nil, fmt.Errorf("parse matching rules %s: %w", path, err)
	}

	if fromFile.CustomerPatterns != nil {
		rules.CustomerPatterns = fromFile.CustomerPatterns
	}
	if fromFile.AddressPatterns != nil {
		rules.AddressPatterns = fromFile.AddressPatterns
	}
	if fromFile.ProjectEntityTypes != nil {
		rules.ProjectEntityTypes = fromFile.ProjectEntityTypes
	}
	if fromFile.VendorEntityTypes != nil {
		rules.VendorEntityTypes = fromFile.VendorEntityTypes
	}

	if err := rules.Validate(); err != nil {
		return nil, fmt.Errorf("matching rules %s: %w", path, err)
	}
	return rules, nil
}

// Validate checks that every pattern compiles.
func (r *MatchingRules) Validate() error {
	for _, group := range [][]string{r.CustomerPatterns, r.AddressPatterns} {
		for _, p := range group {
			if _, err := regexp.Compile("(?i)" + p); err != nil {
				return fmt.Errorf("invalid pattern %q: %w", p, err)
			}
		}
	}
	if len(r.VendorEntityTypes) == 0 {
		return fmt.Errorf("vendor_entity_types must not be empty")
	}
	return nil
}
