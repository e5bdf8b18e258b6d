package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/kestrelflow/engine/pkg/governance"
	"github.com/kestrelflow/engine/pkg/models"
)

// Config bundles the engine's runtime configuration with the composed
// governance policy for the run's client (policies/*.yaml
// layering), ready for the run engine to consume.
type Config struct {
	Engine EngineConfig
	Policy *models.Policy
}

// LoadDotEnv loads a .env file at path into the process environment if
// present; a missing file is not an error (most deployments configure
// entirely through the real environment).
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return NewLoadError(path, err)
	}
	return nil
}

// Initialize loads engine.yaml (if present) from configDir, then loads and
// composes the three-layer policy tree (universal/org/client) rooted at
// the resolved PoliciesDir, and returns a ready-to-use Config.
func Initialize(_ context.Context, configDir, clientID string) (*Config, error) {
	log := slog.With("config_dir", configDir)

	engineCfg, err := loadEngineYAML(filepath.Join(configDir, "engine.yaml"))
	if err != nil {
		return nil, err
	}
	engineCfg = applyDefaults(engineCfg, DefaultEngineConfig())

	policy, err := LoadPolicies(engineCfg.PoliciesDir, clientID)
	if err != nil {
		return nil, err
	}

	log.Info("configuration initialized", "policies_dir", engineCfg.PoliciesDir, "client", clientID)
	return &Config{Engine: engineCfg, Policy: policy}, nil
}

func loadEngineYAML(path string) (EngineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return EngineConfig{}, nil
		}
		return EngineConfig{}, NewLoadError(path, err)
	}

	var cfg EngineConfig
	if err := yaml.Unmarshal(ExpandEnv(data), &cfg); err != nil {
		return EngineConfig{}, NewLoadError(path, err)
	}
	return cfg, nil
}

// LoadPolicies reads policies/universal.yaml, policies/org.yaml, and
// policies/clients/<clientID>.yaml (each optional except universal) and
// composes them via pkg/governance.
func LoadPolicies(dir, clientID string) (*models.Policy, error) {
	universal, err := readPolicyLayer(filepath.Join(dir, "universal.yaml"), true)
	if err != nil {
		return nil, err
	}
	org, err := readPolicyLayer(filepath.Join(dir, "org.yaml"), false)
	if err != nil {
		return nil, err
	}

	var client *models.Policy
	if clientID != "" {
		client, err = readPolicyLayer(filepath.Join(dir, "clients", clientID+".yaml"), false)
		if err != nil {
			return nil, err
		}
	}

	composed, err := governance.Compose(universal, org, client)
	if err != nil {
		return nil, fmt.Errorf("config: composing policy: %w", err)
	}
	return composed, nil
}

func readPolicyLayer(path string, required bool) (*models.Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !required {
			return &models.Policy{}, nil
		}
		return nil, NewLoadError(path, err)
	}

	var p models.Policy
	if err := yaml.Unmarshal(ExpandEnv(data), &p); err != nil {
		return nil, NewLoadError(path, err)
	}
	return &p, nil
}
