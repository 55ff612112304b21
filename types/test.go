package types

import (
	"strings"
	"time"
)

// TestStatus represents the possible states of a test execution
type TestStatus string

const (
	TestStatusPass  TestStatus = "pass"
	TestStatusFail  TestStatus = "fail"
	TestStatusSkip  TestStatus = "skip"
	TestStatusError TestStatus = "error"
)

// TestResult captures the outcome of a single test run
type TestResult struct {
	Metadata ValidatorMetadata
	Status   TestStatus
	Error    error
	Duration time.Duration
	SubTests map[string]*TestResult // Individual test results when running a package
	Stdout   string                 // Captured stdout for failing tests
	TimedOut bool
}

// TestConfig represents a test configuration
type TestConfig struct {
	Name    string    `yaml:"name,omitempty" json:"name,omitempty"`
	Package string    `yaml:"package" json:"package"`
	RunAll  bool      `yaml:"run_all,omitempty" json:"run_all,omitempty"`
	Timeout *Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// GetTestDisplayName returns a formatted display name for a test based on its
// name and metadata. If the test name is empty but a package is specified, the
// package name is shortened to its last path element.
func GetTestDisplayName(testName string, metadata ValidatorMetadata) string {
	displayName := testName
	if displayName == "" && metadata.Package != "" {
		pkgParts := strings.Split(metadata.Package, "/")
		if len(pkgParts) > 0 {
			displayName = pkgParts[len(pkgParts)-1] + " (package)"
		} else {
			displayName = metadata.Package
		}
	}
	return displayName
}
