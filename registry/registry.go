// Package registry loads the suite configuration and flattens it into the
// set of runnable validators.
package registry

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/unitgate/unitgate/types"
)

// Registry manages test sources and their configurations
type Registry struct {
	config     Config
	validators []types.ValidatorMetadata
	mu         sync.RWMutex
}

// Config contains registry configuration
type Config struct {
	Log             *slog.Logger
	SuiteConfigFile string
	DefaultTimeout  time.Duration
}

// NewRegistry creates a new registry instance
func NewRegistry(cfg Config) (*Registry, error) {
	if cfg.SuiteConfigFile == "" {
		return nil, fmt.Errorf("suite config file is required")
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}

	r := &Registry{
		config: cfg,
	}

	if err := r.loadValidators(cfg.SuiteConfigFile); err != nil {
		return nil, fmt.Errorf("failed to load suite config: %w", err)
	}

	cfg.Log.Debug("Registry loaded", "validators", len(r.validators))

	return r, nil
}

// loadValidators loads a suite config and flattens it
func (r *Registry) loadValidators(cfgPath string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	suiteConfig, err := loadConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := r.validateGateInheritance(suiteConfig); err != nil {
		return fmt.Errorf("failed to resolve gate inheritance: %w", err)
	}

	validators, err := r.discoverTests(suiteConfig)
	if err != nil {
		return fmt.Errorf("failed to discover tests: %w", err)
	}

	r.validators = validators

	return nil
}

// validateGateInheritance checks gate inheritance resolution
func (r *Registry) validateGateInheritance(config *types.SuiteFileConfig) error {
	if config.Gates == nil {
		return nil
	}

	gateMap := make(map[string]types.GateConfig)
	for _, gate := range config.Gates {
		gateMap[gate.ID] = gate
	}

	// Check for circular inheritance before resolving
	for _, gate := range config.Gates {
		if err := r.checkCircularInheritance(gate.ID, gate.Inherits, gateMap, make(map[string]bool)); err != nil {
			return fmt.Errorf("circular inheritance detected: %w", err)
		}
	}

	for i := range config.Gates {
		if err := config.Gates[i].ResolveInherited(gateMap); err != nil {
			return fmt.Errorf("invalid gate inheritance: %w", err)
		}
	}

	return nil
}

// checkCircularInheritance detects circular dependencies in gate inheritance
func (r *Registry) checkCircularInheritance(currentID string, inherits []string, gateMap map[string]types.GateConfig, visited map[string]bool) error {
	if visited[currentID] {
		return fmt.Errorf("circular inheritance detected at gate %s", currentID)
	}

	visited[currentID] = true
	defer delete(visited, currentID)

	for _, inheritedID := range inherits {
		inherited, exists := gateMap[inheritedID]
		if !exists {
			return fmt.Errorf("gate %s inherits from non-existent gate %s", currentID, inheritedID)
		}

		if err := r.checkCircularInheritance(inheritedID, inherited.Inherits, gateMap, visited); err != nil {
			return err
		}
	}

	return nil
}

// GetValidators returns all discovered validators
func (r *Registry) GetValidators() []types.ValidatorMetadata {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.validators
}

// GetValidatorsByGate returns validators for a specific gate
func (r *Registry) GetValidatorsByGate(gateID string) []types.ValidatorMetadata {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var validators []types.ValidatorMetadata
	for _, validator := range r.validators {
		if validator.Gate == gateID {
			validators = append(validators, validator)
		}
	}
	return validators
}

// GetConfig returns the registry configuration
func (r *Registry) GetConfig() Config {
	return r.config
}

// loadConfig loads a suite config from a file. YAML is the native format;
// .json and .jsonc files are accepted with comments and trailing commas
// stripped before decoding.
func loadConfig(path string) (*types.SuiteFileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg types.SuiteFileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		if err := json.Unmarshal(jsonc.ToJSON(data), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	return &cfg, nil
}

// discoverTests converts the resolved config into flat test metadata
func (r *Registry) discoverTests(suiteConfig *types.SuiteFileConfig) ([]types.ValidatorMetadata, error) {
	var validators []types.ValidatorMetadata

	for i := range suiteConfig.Gates {
		gate := &suiteConfig.Gates[i]

		tests, err := r.discoverTestsInConfig(gate.Tests, gate.ID, "")
		if err != nil {
			return nil, err
		}
		validators = append(validators, tests...)

		for suiteID, suite := range gate.Suites {
			tests, err := r.discoverTestsInConfig(suite.Tests, gate.ID, suiteID)
			if err != nil {
				return nil, err
			}
			validators = append(validators, tests...)
		}
	}

	return validators, nil
}

func (r *Registry) discoverTestsInConfig(configs []types.TestConfig, gateID string, suiteID string) ([]types.ValidatorMetadata, error) {
	var tests []types.ValidatorMetadata

	for _, cfg := range configs {
		var timeout time.Duration
		if cfg.Timeout != nil {
			timeout = cfg.Timeout.Std()
		} else {
			timeout = r.config.DefaultTimeout
		}

		// If only a package is specified (no name), treat it as "run all"
		if cfg.Name == "" {
			tests = append(tests, types.ValidatorMetadata{
				ID:      cfg.Package,
				Gate:    gateID,
				Suite:   suiteID,
				Package: cfg.Package,
				RunAll:  true,
				Type:    types.ValidatorTypeTest,
				Timeout: timeout,
			})
			continue
		}

		tests = append(tests, types.ValidatorMetadata{
			ID:       cfg.Name,
			Gate:     gateID,
			Suite:    suiteID,
			FuncName: cfg.Name,
			Package:  cfg.Package,
			Type:     types.ValidatorTypeTest,
			Timeout:  timeout,
		})
	}

	return tests, nil
}
