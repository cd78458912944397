package secrets

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/1Password/connect-sdk-go/connect"
	"github.com/1Password/connect-sdk-go/onepassword"

	"github.com/t-cloud/edge-certmon/internal/sshcheck"
)

// OnePasswordProvider reads SSH credentials from a 1Password Connect vault.
//
// The vault item is looked up by title and must carry a username field plus
// a password, a private_key field, or both. The item is fetched once and
// cached for the process lifetime; credential rotation takes a restart.
type OnePasswordProvider struct {
	client    connect.Client
	vaultID   string
	itemTitle string
	logger    *slog.Logger

	mu     sync.Mutex
	cached *sshcheck.Credentials
}

// NewOnePasswordProvider creates a Connect-backed provider.
func NewOnePasswordProvider(cfg Config, logger *slog.Logger) (*OnePasswordProvider, error) {
	if cfg.ConnectHost == "" || cfg.ConnectToken == "" || cfg.VaultID == "" {
		return nil, fmt.Errorf("1Password configuration incomplete: host, token, and vault id are required")
	}

	return &OnePasswordProvider{
		client:    connect.NewClientWithUserAgent(cfg.ConnectHost, cfg.ConnectToken, "edge-certmon"),
		vaultID:   cfg.VaultID,
		itemTitle: cfg.ItemTitle,
		logger:    logger.With("component", "onepassword"),
	}, nil
}

// SSHCredentials fetches the vault item on first use and serves the cached
// copy afterwards.
func (p *OnePasswordProvider) SSHCredentials(ctx context.Context) (sshcheck.Credentials, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cached != nil {
		return *p.cached, nil
	}

	items, err := p.client.GetItemsByTitle(p.itemTitle, p.vaultID)
	if err != nil {
		return sshcheck.Credentials{}, fmt.Errorf("looking up vault item %q: %w", p.itemTitle, err)
	}
	if len(items) == 0 {
		return sshcheck.Credentials{}, fmt.Errorf("vault item %q not found", p.itemTitle)
	}

	item, err := p.client.GetItem(items[0].ID, p.vaultID)
	if err != nil {
		return sshcheck.Credentials{}, fmt.Errorf("fetching vault item: %w", err)
	}

	creds, err := itemToCredentials(item)
	if err != nil {
		return sshcheck.Credentials{}, err
	}

	p.cached = &creds
	p.logger.Info("loaded SSH credentials from 1Password", "item", p.itemTitle)
	return creds, nil
}

// Close drops the cached credentials.
func (p *OnePasswordProvider) Close() error {
	p.mu.Lock()
	p.cached = nil
	p.mu.Unlock()
	return nil
}

func itemToCredentials(item *onepassword.Item) (sshcheck.Credentials, error) {
	var creds sshcheck.Credentials
	for _, field := range item.Fields {
		switch strings.ToLower(field.ID) {
		case "username":
			creds.Username = field.Value
		case "password":
			creds.Password = field.Value
		case "private_key", "private key":
			creds.PrivateKey = []byte(field.Value)
		}
	}
	if creds.Username == "" {
		return sshcheck.Credentials{}, fmt.Errorf("vault item %q has no username field", item.Title)
	}
	if creds.Password == "" && len(creds.PrivateKey) == 0 {
		return sshcheck.Credentials{}, fmt.Errorf("vault item %q has neither password nor private key", item.Title)
	}
	return creds, nil
}
