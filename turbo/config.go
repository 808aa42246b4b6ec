package turbo

import "github.com/hazyhaar/entryturbo/turbo/internal/config"

// Config is the top-level configuration. Re-exported from internal.
type Config = config.Config

// LoadConfigFile reads a YAML configuration file.
func LoadConfigFile(path string) (*Config, error) {
	return config.LoadFile(path)
}

// DefaultConfig returns a configuration with every default applied.
func DefaultConfig() *Config {
	return config.Default()
}
