package unitgate

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/unitgate/unitgate/flags"
)

// runConfig parses args through the real flag set and returns the Config
// NewConfig builds from them.
func runConfig(t *testing.T, args ...string) (*Config, error) {
	t.Helper()

	var cfg *Config
	var cfgErr error
	app := cli.NewApp()
	app.Flags = flags.Flags
	app.Action = func(ctx *cli.Context) error {
		cfg, cfgErr = NewConfig(ctx, testLogger())
		return nil
	}
	require.NoError(t, app.Run(append([]string{"unitgate"}, args...)))
	return cfg, cfgErr
}

func TestNewConfig(t *testing.T) {
	t.Run("resolves paths and defaults", func(t *testing.T) {
		cfg, err := runConfig(t,
			"--testdir", "some/tests",
			"--suites", "suites.yaml",
			"--gate", "ci",
		)
		require.NoError(t, err)

		assert.True(t, filepath.IsAbs(cfg.TestDir), "test dir should be absolute")
		assert.True(t, filepath.IsAbs(cfg.SuiteConfig), "suite config should be absolute")
		assert.True(t, filepath.IsAbs(cfg.LogDir), "log dir should be absolute")
		assert.Equal(t, "ci", cfg.TargetGate)
		assert.Equal(t, "go", cfg.GoBinary)
		assert.Equal(t, 10*time.Minute, cfg.DefaultTimeout)
		assert.True(t, cfg.RunOnce, "zero interval means run-once")
		assert.False(t, cfg.AllowSkips)
	})

	t.Run("interval enables continuous mode", func(t *testing.T) {
		cfg, err := runConfig(t,
			"--testdir", "some/tests",
			"--suites", "suites.yaml",
			"--run-interval", "1h",
		)
		require.NoError(t, err)

		assert.False(t, cfg.RunOnce)
		assert.Equal(t, time.Hour, cfg.RunInterval)
	})

	t.Run("missing testdir", func(t *testing.T) {
		_, err := runConfig(t, "--suites", "suites.yaml")
		require.Error(t, err)
	})

	t.Run("missing suite config", func(t *testing.T) {
		_, err := runConfig(t, "--testdir", "some/tests")
		require.ErrorContains(t, err, "suite configuration")
	})
}
