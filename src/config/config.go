// Package config provides configuration management for the kiln runner.
package config

import (
	"fmt"
	"os"
	"strings"
)

// Config holds the application configuration.
type Config struct {
	// RedpandaBrokers is the list of Redpanda/Kafka broker addresses.
	// Empty means single-process mode with the in-memory broker.
	RedpandaBrokers []string

	// PostgresDSN is the connection string for the Postgres run store.
	// Empty means the in-memory store.
	PostgresDSN string

	// Workspace is the directory jobs execute in. Defaults to the
	// current working directory.
	Workspace string

	// DefaultBranch is the branch pushes are assumed to target when no
	// event is given explicitly.
	DefaultBranch string
}

// LoadFromEnv loads configuration from environment variables.
// All variables are optional; the zero configuration runs everything
// in-process against the current directory.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		PostgresDSN:   os.Getenv("KILN_POSTGRES_DSN"),
		Workspace:     os.Getenv("KILN_WORKSPACE"),
		DefaultBranch: os.Getenv("KILN_DEFAULT_BRANCH"),
	}

	if brokers := os.Getenv("KILN_REDPANDA_BROKERS"); brokers != "" {
		for _, addr := range strings.Split(brokers, ",") {
			addr = strings.TrimSpace(addr)
			if addr != "" {
				cfg.RedpandaBrokers = append(cfg.RedpandaBrokers, addr)
			}
		}
	}

	if cfg.Workspace == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to determine working directory: %w", err)
		}
		cfg.Workspace = wd
	}

	if cfg.DefaultBranch == "" {
		cfg.DefaultBranch = "master"
	}

	return cfg, nil
}

// MustLoadFromEnv loads configuration from environment variables and panics on error.
// This is useful for initialization in main() where configuration errors should be fatal.
func MustLoadFromEnv() *Config {
	cfg, err := LoadFromEnv()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Distributed reports whether kiln should talk to an external broker
// instead of running agents in-process.
func (c *Config) Distributed() bool {
	return len(c.RedpandaBrokers) > 0
}

// SecretsFromEnv collects workflow secrets from KILN_SECRET_* variables.
// KILN_SECRET_API_TOKEN=x becomes secrets.API_TOKEN with value x.
func SecretsFromEnv() map[string]string {
	const prefix = "KILN_SECRET_"
	secrets := map[string]string{}
	for _, kv := range os.Environ() {
		if !strings.HasPrefix(kv, prefix) {
			continue
		}
		rest := kv[len(prefix):]
		if i := strings.IndexByte(rest, '='); i > 0 {
			secrets[rest[:i]] = rest[i+1:]
		}
	}
	return secrets
}
