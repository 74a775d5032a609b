package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Initialize loads, merges, and validates mucp.yaml, matching the
// teacher's Initialize shape precisely (SPEC_FULL.md §2.3): load YAML,
// expand environment variables, merge built-in defaults with user
// overrides, then validate the assembled Config.
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("initializing control plane configuration")

	cfg, err := load(configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	stats := cfg.Stats()
	log.Info("configuration initialized",
		"repos", stats.Repos,
		"channels", stats.Channels,
		"enabled_channels", stats.EnabledChannels,
		"policy_commands", stats.PolicyCommands)

	return cfg, nil
}

func load(configDir string) (*Config, error) {
	var yamlCfg MucpYAMLConfig
	yamlCfg.Channels = make(ChannelsConfig)

	path := filepath.Join(configDir, "mucp.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, NewLoadError("mucp.yaml", fmt.Errorf("%w: %s", ErrConfigNotFound, path))
		}
		return nil, NewLoadError("mucp.yaml", err)
	}

	data = ExpandEnv(data)
	if err := yaml.Unmarshal(data, &yamlCfg); err != nil {
		return nil, NewLoadError("mucp.yaml", fmt.Errorf("%w: %v", ErrInvalidYAML, err))
	}

	builtin := GetBuiltinPolicy()
	policy, err := mergePolicy(builtin, yamlCfg.Policy)
	if err != nil {
		return nil, NewLoadError("mucp.yaml", err)
	}

	return &Config{
		configDir: configDir,
		Repos:     yamlCfg.Repos,
		Channels:  yamlCfg.Channels,
		Policy:    policy,
		TTL:       yamlCfg.TTL,
		Outbox:    yamlCfg.Outbox,
		Reload:    yamlCfg.Reload,
	}, nil
}

func validate(cfg *Config) error {
	v := NewValidator(cfg)
	return v.ValidateAll()
}
