package registry

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unitgate/unitgate/types"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestRegistry(t *testing.T) {
	validConfig := `
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
	configPath := writeConfig(t, "suites.yaml", validConfig)

	t.Run("source loading", func(t *testing.T) {
		tests := []struct {
			name    string
			cfg     Config
			wantErr bool
		}{
			{
				name:    "valid local source",
				cfg:     Config{SuiteConfigFile: configPath},
				wantErr: false,
			},
			{
				name: "invalid config path",
				cfg: Config{
					SuiteConfigFile: "nonexistent.yaml",
				},
				wantErr: true,
			},
			{
				name:    "missing config file",
				cfg:     Config{},
				wantErr: true,
			},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				r, err := NewRegistry(tt.cfg)
				if tt.wantErr {
					require.Error(t, err)
					return
				}
				require.NoError(t, err)
				require.NotNil(t, r)
			})
		}
	})

	t.Run("validator discovery", func(t *testing.T) {
		r, err := NewRegistry(Config{SuiteConfigFile: configPath})
		require.NoError(t, err)

		validators := r.GetValidators()
		require.Len(t, validators, 2)

		byName := make(map[string]types.ValidatorMetadata)
		for _, v := range validators {
			byName[v.ID] = v
		}

		direct := byName["TestInstaller"]
		assert.Equal(t, "ci", direct.Gate)
		assert.Empty(t, direct.Suite)
		assert.Equal(t, "./internal/installer", direct.Package)

		suiteTest := byName["TestConfigLoad"]
		assert.Equal(t, "ci", suiteTest.Gate)
		assert.Equal(t, "config-suite", suiteTest.Suite)
	})

	t.Run("gate filter", func(t *testing.T) {
		r, err := NewRegistry(Config{SuiteConfigFile: configPath})
		require.NoError(t, err)

		assert.Len(t, r.GetValidatorsByGate("ci"), 2)
		assert.Empty(t, r.GetValidatorsByGate("nightly"))
	})
}

func TestRegistryJSONCConfig(t *testing.T) {
	configPath := writeConfig(t, "suites.jsonc", `{
		// CI gate with a single package target
		"gates": [
			{
				"id": "ci",
				"tests": [
					{"package": "./internal/summary"}, // run everything in the package
				],
			},
		],
	}`)

	r, err := NewRegistry(Config{SuiteConfigFile: configPath})
	require.NoError(t, err)

	validators := r.GetValidators()
	require.Len(t, validators, 1)
	assert.True(t, validators[0].RunAll)
	assert.Equal(t, "./internal/summary", validators[0].Package)
}

func TestRegistryDefaultTimeout(t *testing.T) {
	configPath := writeConfig(t, "suites.yaml", `
gates:
  - id: ci
    tests:
      - name: TestFast
        package: "./pkg"
      - name: TestSlow
        package: "./pkg"
        timeout: 30m
`)

	r, err := NewRegistry(Config{
		SuiteConfigFile: configPath,
		DefaultTimeout:  5 * time.Minute,
	})
	require.NoError(t, err)

	byName := make(map[string]types.ValidatorMetadata)
	for _, v := range r.GetValidators() {
		byName[v.ID] = v
	}
	assert.Equal(t, 5*time.Minute, byName["TestFast"].Timeout)
	assert.Equal(t, 30*time.Minute, byName["TestSlow"].Timeout)
}

func TestRegistryCircularInheritance(t *testing.T) {
	configPath := writeConfig(t, "suites.yaml", `
gates:
  - id: a
    inherits: [b]
  - id: b
    inherits: [a]
`)

	_, err := NewRegistry(Config{SuiteConfigFile: configPath})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circular inheritance")
}
