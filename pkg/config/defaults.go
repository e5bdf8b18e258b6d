package config

import "time"

// EngineConfig is the engine's own runtime configuration, layered
// separately from the governance policy tree (policies/*.yaml compose
// through pkg/governance; this is infrastructure, not policy).
type EngineConfig struct {
	DataDir              string        `yaml:"data_dir"`
	PoliciesDir          string        `yaml:"policies_dir"`
	ConcurrencyLimit     int           `yaml:"concurrency_limit"`
	RetryBudget          int           `yaml:"retry_budget"`
	AgentTimeout         time.Duration `yaml:"agent_timeout"`
	SubscriberBufferSize int           `yaml:"subscriber_buffer_size"`
	ThresholdRatio       float64       `yaml:"threshold_ratio"`
	MaskingPatterns      []string      `yaml:"masking_patterns"`
	RunRetentionDays     int           `yaml:"run_retention_days"`
	CleanupInterval      time.Duration `yaml:"cleanup_interval"`
}

// defaultAgentTimeout is the default per-agent timeout.
const defaultAgentTimeout = 30 * time.Minute

// defaultRunRetentionDays and defaultCleanupInterval size the background
// retention loop in pkg/cleanup.
const (
	defaultRunRetentionDays = 30
	defaultCleanupInterval  = 1 * time.Hour
)

// DefaultEngineConfig returns the built-in configuration, used for any
// field a loaded engine.yaml leaves unset.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		DataDir:              "./data",
		PoliciesDir:          "./policies",
		ConcurrencyLimit:     4,
		RetryBudget:          2,
		AgentTimeout:         defaultAgentTimeout,
		SubscriberBufferSize: 256,
		ThresholdRatio:       0.8,
		RunRetentionDays:     defaultRunRetentionDays,
		CleanupInterval:      defaultCleanupInterval,
	}
}

// applyDefaults fills any zero-valued field of cfg from defaults, using the
// "YAML overrides built-in" merge idiom this module applies elsewhere,
// without a generic merge library since this struct is small and flat.
func applyDefaults(cfg, defaults EngineConfig) EngineConfig {
	if cfg.DataDir == "" {
		cfg.DataDir = defaults.DataDir
	}
	if cfg.PoliciesDir == "" {
		cfg.PoliciesDir = defaults.PoliciesDir
	}
	if cfg.ConcurrencyLimit == 0 {
		cfg.ConcurrencyLimit = defaults.ConcurrencyLimit
	}
	if cfg.RetryBudget == 0 {
		cfg.RetryBudget = defaults.RetryBudget
	}
	if cfg.AgentTimeout == 0 {
		cfg.AgentTimeout = defaults.AgentTimeout
	}
	if cfg.SubscriberBufferSize == 0 {
		cfg.SubscriberBufferSize = defaults.SubscriberBufferSize
	}
	if cfg.ThresholdRatio == 0 {
		cfg.ThresholdRatio = defaults.ThresholdRatio
	}
	if cfg.RunRetentionDays == 0 {
		cfg.RunRetentionDays = defaults.RunRetentionDays
	}
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = defaults.CleanupInterval
	}
	return cfg
}
