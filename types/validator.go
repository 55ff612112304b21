// Package types contains shared types used across the unitgate testing framework
package types

import "time"

// ValidatorType represents the type of validator
type ValidatorType string

// String implements the Stringer interface for ValidatorType
func (v ValidatorType) String() string {
	return string(v)
}

// ValidatorType enum values
const (
	ValidatorTypeTest  ValidatorType = "test"
	ValidatorTypeSuite ValidatorType = "suite"
	ValidatorTypeGate  ValidatorType = "gate"
)

// SuiteFileConfig represents the complete suite configuration file
type SuiteFileConfig struct {
	Gates    []GateConfig `yaml:"gates" json:"gates"`
	Metadata struct {
		Timeouts map[string]Duration `yaml:"timeouts" json:"timeouts"`
	} `yaml:"metadata" json:"metadata"`
}

// ValidatorMetadata identifies a single runnable unit: either one test
// function or a whole package.
type ValidatorMetadata struct {
	ID       string
	Type     ValidatorType
	Gate     string
	Suite    string
	FuncName string
	Package  string
	Timeout  time.Duration
	RunAll   bool
}

// GetName returns a name for the validator based on available fields
func (v ValidatorMetadata) GetName() string {
	if v.FuncName != "" {
		return v.FuncName
	}
	if v.Package != "" {
		return v.Package
	}
	return v.ID
}
