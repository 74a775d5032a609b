package config

// MucpYAMLConfig is the top-level shape of mucp.yaml: every field the
// control plane needs to assemble repos, adapters, the policy engine, and
// the outbox/reload subsystems (SPEC_FULL.md §2.3).
type MucpYAMLConfig struct {
	Repos    []RepoConfig   `yaml:"repos"`
	Channels ChannelsConfig `yaml:"channels"`
	Policy   *PolicyConfig  `yaml:"policy"`
	TTL      TTLConfig      `yaml:"ttl"`
	Outbox   OutboxConfig   `yaml:"outbox"`
	Reload   ReloadConfig   `yaml:"reload"`
}

// Config is the fully loaded, validated, default-merged configuration
// object returned by Initialize — the primary object the rest of the
// control plane is assembled from.
type Config struct {
	configDir string

	Repos    []RepoConfig
	Channels ChannelsConfig
	Policy   PolicyConfig
	TTL      TTLConfig
	Outbox   OutboxConfig
	Reload   ReloadConfig
}

// ConfigDir returns the directory Initialize loaded mucp.yaml from.
func (c *Config) ConfigDir() string { return c.configDir }

// Stats summarizes loaded configuration for startup logging.
type Stats struct {
	Repos           int
	Channels        int
	EnabledChannels int
	PolicyCommands  int
}

// Stats returns configuration statistics for logging/monitoring.
func (c *Config) Stats() Stats {
	enabled := 0
	for _, ch := range c.Channels {
		if ch.Enabled {
			enabled++
		}
	}
	return Stats{
		Repos:           len(c.Repos),
		Channels:        len(c.Channels),
		EnabledChannels: enabled,
		PolicyCommands:  len(c.Policy.Commands),
	}
}

// Channel retrieves one channel's configuration by name.
func (c *Config) Channel(name string) (ChannelConfig, bool) {
	ch, ok := c.Channels[name]
	return ch, ok
}

// Repo retrieves the configuration for a repository root, matching on the
// literal Root string as configured (callers resolve absolute paths
// themselves via pkg/cpath before comparing).
func (c *Config) Repo(root string) (RepoConfig, bool) {
	for _, r := range c.Repos {
		if r.Root == root {
			return r, true
		}
	}
	return RepoConfig{}, false
}
