// Package exitcodes defines the standard exit codes used by unitgate.
package exitcodes

// Exit code constants used by unitgate.
//
// * Success (0): all tests passed
// * TestFailure (1): one or more tests failed
// * RuntimeErr (2): runtime errors such as bad configuration, panics or timeouts
//
// In exec mode these constants do not apply: the wrapped runner's exit code
// is mirrored exactly.
const (
	Success     = 0 // All tests pass
	TestFailure = 1 // Test failures
	RuntimeErr  = 2 // Runtime errors or timeouts
)
