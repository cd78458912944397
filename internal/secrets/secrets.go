// Package secrets supplies SSH probe credentials from a configurable
// backend: static configuration for simple deployments, or a 1Password
// Connect vault when one is available.
package secrets

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/t-cloud/edge-certmon/internal/sshcheck"
)

// Provider supplies probe credentials. It extends the prober's view with a
// Close for backends holding resources.
type Provider interface {
	sshcheck.CredentialProvider
	Close() error
}

// Config selects and configures the credentials backend.
type Config struct {
	// Backend is "1password", "config", or "auto". Auto uses 1Password when
	// Connect is configured and falls back to static config otherwise.
	Backend string

	// 1Password Connect settings, from OP_CONNECT_HOST, OP_CONNECT_TOKEN,
	// and OP_VAULT_ID.
	ConnectHost  string
	ConnectToken string
	VaultID      string

	// ItemTitle is the vault item holding the SSH credentials.
	ItemTitle string

	// Static fallback credentials.
	Username       string
	Password       string
	PrivateKeyFile string
}

// ConfigFromEnv reads the backend selection and Connect settings from the
// environment. Static credentials come from the main config file and are
// filled in by the caller.
func ConfigFromEnv() Config {
	return Config{
		Backend:      getEnv("CERTMON_SECRETS_BACKEND", "auto"),
		ConnectHost:  os.Getenv("OP_CONNECT_HOST"),
		ConnectToken: os.Getenv("OP_CONNECT_TOKEN"),
		VaultID:      os.Getenv("OP_VAULT_ID"),
		ItemTitle:    getEnv("OP_ITEM_TITLE", "nsx-edge-ssh"),
	}
}

// NewProvider creates a credentials provider for the configured backend.
func NewProvider(cfg Config, logger *slog.Logger) (Provider, error) {
	backend := cfg.Backend
	if backend == "" {
		backend = "auto"
	}

	switch backend {
	case "1password":
		if cfg.ConnectHost == "" || cfg.ConnectToken == "" {
			return nil, fmt.Errorf("1password backend requested but OP_CONNECT_HOST or OP_CONNECT_TOKEN not set")
		}
		return NewOnePasswordProvider(cfg, logger)

	case "config":
		return NewConfigProvider(cfg, logger)

	case "auto":
		if cfg.ConnectHost != "" && cfg.ConnectToken != "" {
			p, err := NewOnePasswordProvider(cfg, logger)
			if err != nil {
				logger.Warn("1Password Connect unavailable, falling back to config credentials", "error", err)
				return NewConfigProvider(cfg, logger)
			}
			return p, nil
		}
		logger.Info("OP_CONNECT_HOST not set, using config credentials")
		return NewConfigProvider(cfg, logger)

	default:
		return nil, fmt.Errorf("unknown secrets backend: %s", backend)
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
