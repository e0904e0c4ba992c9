// Package config loads the agent configuration from an optional YAML file.
// Command-line flags are applied on top by the caller.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/opscart/k8s-agentic-remediation/memory"
)

const (
	DefaultNamespace      = "agentic-demo"
	DefaultInterval       = 30 * time.Second
	DefaultMemoryPath     = "remediation_memory.json"
	DefaultSettleDelay    = 5 * time.Second
	DefaultRequestTimeout = 15 * time.Second
	DefaultLogTail        = 50
	DefaultOutputDir      = "./output"
	DefaultAPIKeyEnv      = "OPENAI_API_KEY"
	DefaultReasoningModel = "gpt-4"
	DefaultReasoningWait  = 60 * time.Second
)

type Config struct {
	Namespace      string          `yaml:"namespace"`
	Kubeconfig     string          `yaml:"kubeconfig"`
	Interval       time.Duration   `yaml:"interval"`
	AutoRemediate  bool            `yaml:"auto_remediate"`
	Fresh          bool            `yaml:"fresh"`
	SettleDelay    time.Duration   `yaml:"settle_delay"`
	RequestTimeout time.Duration   `yaml:"request_timeout"`
	LogTail        int64           `yaml:"log_tail"`
	OutputDir      string          `yaml:"output_dir"`
	MetricsAddr    string          `yaml:"metrics_addr"`
	IssueFilter    string          `yaml:"issue_filter"`
	Memory         MemoryConfig    `yaml:"memory"`
	Log            LogConfig       `yaml:"log"`
	Reasoning      ReasoningConfig `yaml:"reasoning"`
}

type MemoryConfig struct {
	Path    string `yaml:"path"`
	Backend string `yaml:"backend"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

type ReasoningConfig struct {
	Model     string        `yaml:"model"`
	BaseURL   string        `yaml:"base_url"`
	Timeout   time.Duration `yaml:"timeout"`
	APIKeyEnv string        `yaml:"api_key_env"`
}

func Default() *Config {
	return &Config{
		Namespace:      DefaultNamespace,
		Interval:       DefaultInterval,
		AutoRemediate:  true,
		SettleDelay:    DefaultSettleDelay,
		RequestTimeout: DefaultRequestTimeout,
		LogTail:        DefaultLogTail,
		OutputDir:      DefaultOutputDir,
		Memory: MemoryConfig{
			Path:    DefaultMemoryPath,
			Backend: memory.BackendJSON,
		},
		Log: LogConfig{Level: "info"},
		Reasoning: ReasoningConfig{
			Model:     DefaultReasoningModel,
			Timeout:   DefaultReasoningWait,
			APIKeyEnv: DefaultAPIKeyEnv,
		},
	}
}

// Load returns the defaults overlaid with the file at path. An empty path
// returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Namespace == "" {
		errs = append(errs, errors.New("namespace is required"))
	}
	if c.Interval <= 0 {
		errs = append(errs, fmt.Errorf("interval must be positive, got %s", c.Interval))
	}
	if c.SettleDelay < 0 {
		errs = append(errs, fmt.Errorf("settle_delay must not be negative, got %s", c.SettleDelay))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("request_timeout must be positive, got %s", c.RequestTimeout))
	}
	if c.Reasoning.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("reasoning.timeout must be positive, got %s", c.Reasoning.Timeout))
	}
	if c.LogTail <= 0 {
		errs = append(errs, fmt.Errorf("log_tail must be positive, got %d", c.LogTail))
	}
	if c.Memory.Path == "" {
		errs = append(errs, errors.New("memory.path is required"))
	}
	switch c.Memory.Backend {
	case memory.BackendJSON, memory.BackendBolt:
	default:
		errs = append(errs, fmt.Errorf("memory.backend must be %q or %q, got %q", memory.BackendJSON, memory.BackendBolt, c.Memory.Backend))
	}
	if c.Reasoning.APIKeyEnv == "" {
		errs = append(errs, errors.New("reasoning.api_key_env is required"))
	}
	return errors.Join(errs...)
}

// APIKey reads the reasoning-service credential from the configured variable.
func (c *Config) APIKey() string {
	return os.Getenv(c.Reasoning.APIKeyEnv)
}
