package secrets

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/t-cloud/edge-certmon/internal/sshcheck"
)

// ConfigProvider serves credentials from static configuration. The private
// key file, if any, is read once at construction so a later filesystem
// problem cannot fail a check cycle midway.
type ConfigProvider struct {
	creds sshcheck.Credentials
}

// NewConfigProvider creates a provider from static configuration.
func NewConfigProvider(cfg Config, logger *slog.Logger) (*ConfigProvider, error) {
	if cfg.Username == "" {
		return nil, fmt.Errorf("ssh username is not configured")
	}

	creds := sshcheck.Credentials{
		Username: cfg.Username,
		Password: cfg.Password,
	}
	if cfg.PrivateKeyFile != "" {
		key, err := os.ReadFile(cfg.PrivateKeyFile)
		if err != nil {
			return nil, fmt.Errorf("reading private key file: %w", err)
		}
		creds.PrivateKey = key
	}
	if creds.Password == "" && len(creds.PrivateKey) == 0 {
		return nil, fmt.Errorf("no ssh password or private key configured")
	}

	logger.Info("using config-backed SSH credentials",
		"username", cfg.Username,
		"key_file", cfg.PrivateKeyFile != "",
	)
	return &ConfigProvider{creds: creds}, nil
}

// SSHCredentials returns the static credentials.
func (p *ConfigProvider) SSHCredentials(ctx context.Context) (sshcheck.Credentials, error) {
	return p.creds, nil
}

// Close is a no-op.
func (p *ConfigProvider) Close() error { return nil }
