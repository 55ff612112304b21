package types

// SuiteConfig represents a collection of related tests
type SuiteConfig struct {
	Description string       `yaml:"description" json:"description"`
	Tests       []TestConfig `yaml:"tests" json:"tests"`
}
