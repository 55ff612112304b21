package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unitgate/unitgate/registry"
	"github.com/unitgate/unitgate/types"
)

// stubExecer returns canned results and records every invocation.
type stubExecer struct {
	mu    sync.Mutex
	calls []CommandSpec
	run   func(spec CommandSpec) (*CommandResult, error)
}

func (s *stubExecer) Run(ctx context.Context, spec CommandSpec) (*CommandResult, error) {
	s.mu.Lock()
	s.calls = append(s.calls, spec)
	s.mu.Unlock()
	return s.run(spec)
}

func passingOutput(testName string) []byte {
	return []byte(fmt.Sprintf(`{"Time":"2023-05-01T12:00:00Z","Action":"start","Package":"example/pkg","Test":"%[1]s"}
{"Time":"2023-05-01T12:00:01Z","Action":"pass","Package":"example/pkg","Test":"%[1]s","Elapsed":1.0}
`, testName))
}

func failingOutput(testName string) []byte {
	return []byte(fmt.Sprintf(`{"Time":"2023-05-01T12:00:00Z","Action":"start","Package":"example/pkg","Test":"%[1]s"}
{"Time":"2023-05-01T12:00:00.5Z","Action":"output","Package":"example/pkg","Test":"%[1]s","Output":"Error: assertion failed\n"}
{"Time":"2023-05-01T12:00:01Z","Action":"fail","Package":"example/pkg","Test":"%[1]s","Elapsed":1.0}
`, testName))
}

func skippedOutput(testName string) []byte {
	return []byte(fmt.Sprintf(`{"Time":"2023-05-01T12:00:00Z","Action":"start","Package":"example/pkg","Test":"%[1]s"}
{"Time":"2023-05-01T12:00:01Z","Action":"skip","Package":"example/pkg","Test":"%[1]s","Elapsed":1.0}
`, testName))
}

func setupTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "suites.yaml")
	content := `
gates:
  - id: ci
    description: "CI gate"
    suites:
      config-suite:
        description: "Configuration tests"
        tests:
          - name: TestConfigLoad
            package: "./internal/config"
    tests:
      - name: TestInstaller
        package: "./internal/installer"
`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0644))

	reg, err := registry.NewRegistry(registry.Config{SuiteConfigFile: configPath})
	require.NoError(t, err)
	return reg
}

func newTestRunner(t *testing.T, execer Execer, opts ...func(*Config)) TestRunner {
	t.Helper()
	cfg := Config{
		Registry:   setupTestRegistry(t),
		TargetGate: "ci",
		WorkDir:    t.TempDir(),
		Execer:     execer,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	r, err := NewTestRunner(cfg)
	require.NoError(t, err)
	return r
}

func TestNewTestRunnerValidation(t *testing.T) {
	t.Run("missing registry", func(t *testing.T) {
		_, err := NewTestRunner(Config{WorkDir: t.TempDir()})
		require.ErrorContains(t, err, "registry is required")
	})

	t.Run("missing work directory", func(t *testing.T) {
		_, err := NewTestRunner(Config{Registry: setupTestRegistry(t)})
		require.ErrorContains(t, err, "work directory is required")
	})

	t.Run("unknown gate has no tests", func(t *testing.T) {
		_, err := NewTestRunner(Config{
			Registry:   setupTestRegistry(t),
			TargetGate: "nope",
			WorkDir:    t.TempDir(),
		})
		require.ErrorContains(t, err, "no tests found")
	})
}

func TestRunTest(t *testing.T) {
	metadata := types.ValidatorMetadata{
		ID:       "test1",
		Gate:     "ci",
		FuncName: "TestExample",
		Package:  "./internal/config",
	}

	t.Run("passing test", func(t *testing.T) {
		execer := &stubExecer{run: func(spec CommandSpec) (*CommandResult, error) {
			return &CommandResult{Stdout: passingOutput("TestExample")}, nil
		}}
		r := newTestRunner(t, execer)

		result, err := r.RunTest(context.Background(), metadata)
		require.NoError(t, err)
		assert.Equal(t, types.TestStatusPass, result.Status)
		assert.NoError(t, result.Error)
	})

	t.Run("failing test", func(t *testing.T) {
		execer := &stubExecer{run: func(spec CommandSpec) (*CommandResult, error) {
			return &CommandResult{Stdout: failingOutput("TestExample"), ExitCode: 1}, nil
		}}
		r := newTestRunner(t, execer)

		result, err := r.RunTest(context.Background(), metadata)
		require.NoError(t, err)
		assert.Equal(t, types.TestStatusFail, result.Status)
		require.Error(t, result.Error)
	})

	t.Run("non-zero exit with clean output fails", func(t *testing.T) {
		execer := &stubExecer{run: func(spec CommandSpec) (*CommandResult, error) {
			return &CommandResult{
				Stdout:   passingOutput("TestExample"),
				Stderr:   []byte("build failed"),
				ExitCode: 2,
			}, nil
		}}
		r := newTestRunner(t, execer)

		result, err := r.RunTest(context.Background(), metadata)
		require.NoError(t, err)
		assert.Equal(t, types.TestStatusFail, result.Status)
		require.Error(t, result.Error)
		assert.Contains(t, result.Error.Error(), "exited with code 2")
		assert.Contains(t, result.Error.Error(), "build failed")
	})

	t.Run("skip fails when skips are not allowed", func(t *testing.T) {
		execer := &stubExecer{run: func(spec CommandSpec) (*CommandResult, error) {
			return &CommandResult{Stdout: skippedOutput("TestExample")}, nil
		}}
		r := newTestRunner(t, execer)

		result, err := r.RunTest(context.Background(), metadata)
		require.NoError(t, err)
		assert.Equal(t, types.TestStatusFail, result.Status)
		require.Error(t, result.Error)
		assert.Contains(t, result.Error.Error(), "skips are not allowed")
	})

	t.Run("skip passes through when skips are allowed", func(t *testing.T) {
		execer := &stubExecer{run: func(spec CommandSpec) (*CommandResult, error) {
			return &CommandResult{Stdout: skippedOutput("TestExample")}, nil
		}}
		r := newTestRunner(t, execer, func(cfg *Config) {
			cfg.AllowSkips = true
		})

		result, err := r.RunTest(context.Background(), metadata)
		require.NoError(t, err)
		assert.Equal(t, types.TestStatusSkip, result.Status)
	})

	t.Run("spawn failure is a runtime error", func(t *testing.T) {
		execer := &stubExecer{run: func(spec CommandSpec) (*CommandResult, error) {
			return nil, fmt.Errorf("binary not found")
		}}
		r := newTestRunner(t, execer)

		_, err := r.RunTest(context.Background(), metadata)
		require.ErrorContains(t, err, "binary not found")
	})
}

func TestRunAllTests(t *testing.T) {
	execer := &stubExecer{run: func(spec CommandSpec) (*CommandResult, error) {
		// The -run filter carries the test name as ^Name$
		for i, arg := range spec.Args {
			if arg == "-run" && i+1 < len(spec.Args) {
				name := spec.Args[i+1]
				if name == "^TestInstaller$" {
					return &CommandResult{Stdout: failingOutput("TestInstaller"), ExitCode: 1}, nil
				}
				return &CommandResult{Stdout: passingOutput("TestConfigLoad")}, nil
			}
		}
		return &CommandResult{Stdout: passingOutput("TestConfigLoad")}, nil
	}}

	for _, serial := range []bool{false, true} {
		name := "parallel"
		if serial {
			name = "serial"
		}
		t.Run(name, func(t *testing.T) {
			r := newTestRunner(t, execer, func(cfg *Config) {
				cfg.Serial = serial
			})

			result, err := r.RunAllTests(context.Background())
			require.NoError(t, err)
			require.NotNil(t, result)

			assert.Equal(t, types.TestStatusFail, result.Status)
			assert.Equal(t, 2, result.Stats.Total)
			assert.Equal(t, 1, result.Stats.Passed)
			assert.Equal(t, 1, result.Stats.Failed)
			assert.NotEmpty(t, result.RunID)

			require.Contains(t, result.Gates, "ci")
			gate := result.Gates["ci"]
			assert.Equal(t, types.TestStatusFail, gate.Status)
			require.Contains(t, gate.Suites, "config-suite")
			assert.Equal(t, types.TestStatusPass, gate.Suites["config-suite"].Status)
		})
	}
}

func TestBuildTestArgs(t *testing.T) {
	execer := &stubExecer{run: func(spec CommandSpec) (*CommandResult, error) {
		return &CommandResult{Stdout: passingOutput("TestExample")}, nil
	}}
	r := newTestRunner(t, execer).(*runner)

	tests := []struct {
		name     string
		metadata types.ValidatorMetadata
		pkg      string
		want     []string
	}{
		{
			name:     "single test",
			metadata: types.ValidatorMetadata{FuncName: "TestExample"},
			pkg:      "./pkg",
			want:     []string{"test", "./pkg", "-run", "^TestExample$", "-count", "1", "-v", "-json"},
		},
		{
			name:     "package mode",
			metadata: types.ValidatorMetadata{RunAll: true},
			pkg:      "./pkg",
			want:     []string{"test", "./pkg", "-count", "1", "-v", "-json"},
		},
		{
			name:     "no package falls back to all",
			metadata: types.ValidatorMetadata{RunAll: true},
			pkg:      "",
			want:     []string{"test", "./...", "-count", "1", "-v", "-json"},
		},
		{
			name:     "timeout",
			metadata: types.ValidatorMetadata{FuncName: "TestExample", Timeout: 30 * time.Second},
			pkg:      "./pkg",
			want:     []string{"test", "./pkg", "-run", "^TestExample$", "-count", "1", "-timeout", "30s", "-v", "-json"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.buildTestArgs(tt.metadata, tt.pkg))
		})
	}
}

func TestRunTestRecordsPerTestMetric(t *testing.T) {
	execer := &stubExecer{run: func(spec CommandSpec) (*CommandResult, error) {
		return &CommandResult{Stdout: passingOutput("TestMetricsWiring"), ExitCode: 0}, nil
	}}
	r := newTestRunner(t, execer)

	result, err := r.RunTest(context.Background(), types.ValidatorMetadata{
		ID:       "metrics-wiring",
		Gate:     "ci",
		FuncName: "TestMetricsWiring",
		Package:  "./internal/config",
	})
	require.NoError(t, err)
	require.Equal(t, types.TestStatusPass, result.Status)

	assert.Equal(t, 1.0, counterValue(t, "unitgate_tests_total", map[string]string{
		"gate":   "ci",
		"name":   "TestMetricsWiring",
		"result": "pass",
	}))
}

// counterValue reads a counter from the default registry by name and label
// subset, returning 0 when no matching series exists.
func counterValue(t *testing.T, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)

	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	series:
		for _, m := range mf.GetMetric() {
			got := make(map[string]string)
			for _, lp := range m.GetLabel() {
				got[lp.GetName()] = lp.GetValue()
			}
			for k, v := range labels {
				if got[k] != v {
					continue series
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}
