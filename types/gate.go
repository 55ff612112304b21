package types

import "fmt"

// GateConfig represents a collection of tests and suites
type GateConfig struct {
	ID          string                 `yaml:"id" json:"id"`
	Description string                 `yaml:"description" json:"description"`
	Inherits    []string               `yaml:"inherits,omitempty" json:"inherits,omitempty"`
	Tests       []TestConfig           `yaml:"tests,omitempty" json:"tests,omitempty"`
	Suites      map[string]SuiteConfig `yaml:"suites,omitempty" json:"suites,omitempty"`
}

// ResolveInherited processes inheritance relationships between gates by merging
// test configurations from parent gates into the current gate recursively.
//
// A gate can inherit tests and suites from other gates named in its
// 'Inherits' field. Inheritance is recursive: if gate C inherits from B,
// and B inherits from A, then C gets configurations from both B and A.
// The rules are:
// - Suites: parent suites are only inherited if they don't exist in the child gate
// - Tests: parent tests are merged with deduplication by package:name key
// - Inheritance is depth-first: more distant ancestors are processed first
func (g *GateConfig) ResolveInherited(gates map[string]GateConfig) error {
	processed := make(map[string]bool)
	return g.resolveInheritedRecursive(gates, processed)
}

func (g *GateConfig) resolveInheritedRecursive(gates map[string]GateConfig, processed map[string]bool) error {
	if len(g.Inherits) == 0 {
		return nil
	}

	mergedSuites := make(map[string]SuiteConfig)
	var mergedTests []TestConfig
	seenTests := make(map[string]bool)

	// The current gate's own configurations take precedence.
	for k, v := range g.Suites {
		mergedSuites[k] = v
	}
	for _, test := range g.Tests {
		key := test.Package
		if test.Name != "" {
			key += ":" + test.Name
		}
		if !seenTests[key] {
			mergedTests = append(mergedTests, test)
			seenTests[key] = true
		}
	}

	for _, inheritFrom := range g.Inherits {
		if processed[inheritFrom] {
			return fmt.Errorf("circular inheritance detected for gate %q", inheritFrom)
		}

		parent, ok := gates[inheritFrom]
		if !ok {
			return fmt.Errorf("gate %q inherits from non-existent gate %q", g.ID, inheritFrom)
		}

		processed[inheritFrom] = true

		if err := parent.resolveInheritedRecursive(gates, processed); err != nil {
			return fmt.Errorf("resolving inheritance for parent gate %q: %w", inheritFrom, err)
		}

		for k, v := range parent.Suites {
			if _, exists := mergedSuites[k]; !exists {
				mergedSuites[k] = v
			}
		}

		for _, test := range parent.Tests {
			key := test.Package
			if test.Name != "" {
				key += ":" + test.Name
			}
			if !seenTests[key] {
				mergedTests = append(mergedTests, test)
				seenTests[key] = true
			}
		}

		processed[inheritFrom] = false
	}

	g.Suites = mergedSuites
	g.Tests = mergedTests
	return nil
}
