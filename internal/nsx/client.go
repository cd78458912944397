// Package nsx provides a client for the NSX manager inventory API.
//
// The manager uses form-based session authentication: POST to
// /api/session/create yields a session cookie plus an X-XSRF-TOKEN header
// that must accompany every subsequent API request. Sessions expire
// server-side; a 403 triggers one re-authentication and retry.
package nsx

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/t-cloud/edge-certmon/pkg/types"
)

// Config holds configuration for the NSX manager client.
type Config struct {
	ManagerURL string        // Base URL (e.g., "https://nsx01.example.net")
	Username   string
	Password   string
	Timeout    time.Duration // HTTP timeout (default: 30s)
	RateLimit  int           // Requests per minute (default: 60)

	// InsecureSkipVerify disables TLS verification. Lab NSX managers
	// commonly run with self-signed certificates.
	InsecureSkipVerify bool

	// AllowList restricts the snapshot to these node addresses. Empty means
	// no filtering.
	AllowList []string
}

// Client is an NSX manager API client.
type Client struct {
	baseURL     string
	username    string
	password    string
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	allowList   map[string]bool
	logger      *slog.Logger

	mu        sync.Mutex
	xsrfToken string
	authed    bool
}

// NewClient creates a new NSX manager client.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	rateLimit := cfg.RateLimit
	if rateLimit == 0 {
		rateLimit = 60 // 60 requests per minute = 1 per second
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("creating cookie jar: %w", err)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	var allowList map[string]bool
	if len(cfg.AllowList) > 0 {
		allowList = make(map[string]bool, len(cfg.AllowList))
		for _, addr := range cfg.AllowList {
			allowList[addr] = true
		}
	}

	return &Client{
		baseURL:  strings.TrimRight(cfg.ManagerURL, "/"),
		username: cfg.Username,
		password: cfg.Password,
		httpClient: &http.Client{
			Timeout:   timeout,
			Jar:       jar,
			Transport: transport,
		},
		rateLimiter: rate.NewLimiter(rate.Limit(float64(rateLimit)/60.0), 1),
		allowList:   allowList,
		logger:      logger.With("component", "nsx_client"),
	}, nil
}

// authenticate establishes a manager session and captures the XSRF token.
func (c *Client) authenticate(ctx context.Context) error {
	form := url.Values{}
	form.Set("j_username", c.username)
	form.Set("j_password", c.password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/session/create", strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("create auth request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("auth request: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("authentication failed: status %d", resp.StatusCode)
	}

	c.mu.Lock()
	c.xsrfToken = resp.Header.Get("X-XSRF-TOKEN")
	c.authed = true
	c.mu.Unlock()

	c.logger.Info("authenticated to NSX manager")
	return nil
}

// get performs an authenticated GET, re-authenticating once on 403.
func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	c.mu.Lock()
	authed := c.authed
	c.mu.Unlock()

	if !authed {
		if err := c.authenticate(ctx); err != nil {
			return nil, err
		}
	}

	body, status, err := c.doGet(ctx, path)
	if err != nil {
		return nil, err
	}

	if status == http.StatusForbidden {
		c.logger.Warn("session expired, re-authenticating")
		c.mu.Lock()
		c.authed = false
		c.mu.Unlock()
		if err := c.authenticate(ctx); err != nil {
			return nil, err
		}
		body, status, err = c.doGet(ctx, path)
		if err != nil {
			return nil, err
		}
	}

	if status != http.StatusOK {
		return nil, fmt.Errorf("API error: status %d, body: %s", status, truncate(string(body), 512))
	}
	return body, nil
}

func (c *Client) doGet(ctx context.Context, path string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	c.mu.Lock()
	if c.xsrfToken != "" {
		req.Header.Set("X-XSRF-TOKEN", c.xsrfToken)
	}
	c.mu.Unlock()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("HTTP request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("read response body: %w", err)
	}
	return body, resp.StatusCode, nil
}

// transportNode mirrors the manager's transport-node document, limited to
// the fields we read.
type transportNode struct {
	ID              string `json:"id"`
	DisplayName     string `json:"display_name"`
	MaintenanceMode string `json:"maintenance_mode"`
	NodeDeployment  struct {
		ResourceType string   `json:"resource_type"`
		IPAddresses  []string `json:"ip_addresses"`
	} `json:"node_deployment_info"`
}

type transportNodeList struct {
	Results []transportNode `json:"results"`
}

// FetchNodes returns the current inventory snapshot of edge transport nodes.
// Failure is always an explicit error, never an empty slice, so callers can
// tell an empty fleet apart from an unreachable manager.
func (c *Client) FetchNodes(ctx context.Context) ([]types.DiscoveredNode, error) {
	start := time.Now()

	body, err := c.get(ctx, "/api/v1/transport-nodes")
	if err != nil {
		return nil, fmt.Errorf("fetching transport nodes: %w", err)
	}

	var list transportNodeList
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("unmarshal transport nodes: %w", err)
	}

	nodes := make([]types.DiscoveredNode, 0, len(list.Results))
	skipped := 0
	for _, tn := range list.Results {
		if tn.NodeDeployment.ResourceType != "EdgeNode" {
			continue
		}
		if len(tn.NodeDeployment.IPAddresses) == 0 {
			continue
		}
		ip := tn.NodeDeployment.IPAddresses[0]
		if c.allowList != nil && !c.allowList[ip] {
			skipped++
			continue
		}

		maintenance := tn.MaintenanceMode
		if maintenance == "" {
			maintenance = "UNKNOWN"
		}

		nodes = append(nodes, types.DiscoveredNode{
			ID:              tn.ID,
			DisplayName:     tn.DisplayName,
			IPAddress:       ip,
			MaintenanceMode: maintenance,
		})
	}

	c.logger.Info("fetched inventory snapshot",
		"duration", time.Since(start),
		"total", len(list.Results),
		"edge_nodes", len(nodes),
		"filtered_out", skipped,
	)
	return nodes, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
