// Package config handles server configuration loading and validation.
//
// # Configuration Sources
//
// Configuration is loaded from (in order of precedence):
// 1. Environment variables (CERTMON_*)
// 2. Config file (YAML)
// 3. Defaults
//
// # Example Config File
//
//	database_url: postgres://localhost:5432/certmon?sslmode=disable
//
//	nsx:
//	  manager_url: https://nsx01.example.net
//	  username: svc-certmon
//	  password: secret
//	  insecure_skip_verify: true
//	  allow_list: [10.20.0.11, 10.20.0.12]
//
//	ssh:
//	  username: admin
//	  password: secret
//	  port: 22
//	  timeout: 30s
//
//	telegram:
//	  bot_token: "123456:abc"
//	  chat_id: "-100200300"
//
//	schedule:
//	  inventory_sync: "0 2 */2 * *"
//	  certificate_check: "0 3 * * 1"
//	  notification_sweep: "0 10 * * *"
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete server configuration.
type Config struct {
	DatabaseURL string `yaml:"database_url"`
	RedisURL    string `yaml:"redis_url,omitempty"` // optional API response cache

	NSX      NSXConfig      `yaml:"nsx"`
	SSH      SSHConfig      `yaml:"ssh"`
	Telegram TelegramConfig `yaml:"telegram"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Checks   CheckConfig    `yaml:"checks"`
}

// NSXConfig defines how to reach the NSX manager inventory API.
type NSXConfig struct {
	ManagerURL string `yaml:"manager_url"`
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`

	// InsecureSkipVerify disables TLS verification for lab managers with
	// self-signed certificates.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify,omitempty"`

	// AllowList restricts monitoring to these node addresses. Empty means
	// every discovered edge node is monitored.
	AllowList []string `yaml:"allow_list,omitempty"`

	RequestTimeout time.Duration `yaml:"request_timeout,omitempty"`
	RateLimit      int           `yaml:"rate_limit,omitempty"` // requests per minute
}

// SSHConfig defines credentials and bounds for certificate probes.
// Username/password may be left empty when a secrets backend provides them.
type SSHConfig struct {
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	PrivateKeyFile string        `yaml:"private_key_file,omitempty"`
	Port           int           `yaml:"port"`
	Timeout        time.Duration `yaml:"timeout"`         // connect + handshake
	CommandTimeout time.Duration `yaml:"command_timeout"` // openssl invocation
}

// TelegramConfig defines the notification sink. Leaving either field empty
// disables notifications.
type TelegramConfig struct {
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
}

// ScheduleConfig holds the cron expressions driving the three jobs.
type ScheduleConfig struct {
	InventorySync     string `yaml:"inventory_sync"`
	CertificateCheck  string `yaml:"certificate_check"`
	NotificationSweep string `yaml:"notification_sweep"`
}

// CheckConfig tunes certificate checking and alerting.
type CheckConfig struct {
	// WarningDays is the outer notification threshold; certificates with
	// more days remaining than this are not alerted on.
	WarningDays int `yaml:"warning_days"`

	// MaxConcurrent caps the probe fan-out. Zero means unbounded.
	MaxConcurrent int `yaml:"max_concurrent,omitempty"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DatabaseURL: "postgres://localhost:5432/certmon?sslmode=disable",
		NSX: NSXConfig{
			RequestTimeout: 30 * time.Second,
			RateLimit:      60,
		},
		SSH: SSHConfig{
			Port:           22,
			Timeout:        30 * time.Second,
			CommandTimeout: 10 * time.Second,
		},
		Schedule: ScheduleConfig{
			InventorySync:     "0 2 */2 * *", // every 2 days at 02:00
			CertificateCheck:  "0 3 * * 1",   // Mondays at 03:00
			NotificationSweep: "0 10 * * *",  // daily at 10:00
		},
		Checks: CheckConfig{
			WarningDays: 30,
		},
	}
}

// LoadFromFile loads configuration from a YAML file on top of defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return cfg, nil
}

// ApplyEnvOverrides applies environment variable overrides.
// Environment variables use the CERTMON_ prefix:
//   - CERTMON_DATABASE_URL
//   - CERTMON_REDIS_URL
//   - CERTMON_NSX_MANAGER_URL / CERTMON_NSX_USERNAME / CERTMON_NSX_PASSWORD
//   - CERTMON_NSX_ALLOW_LIST (comma-separated addresses)
//   - CERTMON_SSH_USERNAME / CERTMON_SSH_PASSWORD
//   - CERTMON_TELEGRAM_BOT_TOKEN / CERTMON_TELEGRAM_CHAT_ID
//   - CERTMON_WARNING_DAYS
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("CERTMON_DATABASE_URL"); v != "" {
		c.DatabaseURL = v
	}
	if v := os.Getenv("CERTMON_REDIS_URL"); v != "" {
		c.RedisURL = v
	}
	if v := os.Getenv("CERTMON_NSX_MANAGER_URL"); v != "" {
		c.NSX.ManagerURL = v
	}
	if v := os.Getenv("CERTMON_NSX_USERNAME"); v != "" {
		c.NSX.Username = v
	}
	if v := os.Getenv("CERTMON_NSX_PASSWORD"); v != "" {
		c.NSX.Password = v
	}
	if v := os.Getenv("CERTMON_NSX_ALLOW_LIST"); v != "" {
		var list []string
		for _, addr := range strings.Split(v, ",") {
			if addr = strings.TrimSpace(addr); addr != "" {
				list = append(list, addr)
			}
		}
		c.NSX.AllowList = list
	}
	if v := os.Getenv("CERTMON_SSH_USERNAME"); v != "" {
		c.SSH.Username = v
	}
	if v := os.Getenv("CERTMON_SSH_PASSWORD"); v != "" {
		c.SSH.Password = v
	}
	if v := os.Getenv("CERTMON_TELEGRAM_BOT_TOKEN"); v != "" {
		c.Telegram.BotToken = v
	}
	if v := os.Getenv("CERTMON_TELEGRAM_CHAT_ID"); v != "" {
		c.Telegram.ChatID = v
	}
	if v := os.Getenv("CERTMON_WARNING_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Checks.WarningDays = n
		}
	}
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("database_url is required")
	}
	if c.NSX.ManagerURL == "" {
		return fmt.Errorf("nsx.manager_url is required")
	}
	if c.NSX.Username == "" || c.NSX.Password == "" {
		return fmt.Errorf("nsx.username and nsx.password are required")
	}
	if c.Checks.WarningDays <= 0 {
		return fmt.Errorf("checks.warning_days must be positive")
	}
	for name, expr := range map[string]string{
		"schedule.inventory_sync":     c.Schedule.InventorySync,
		"schedule.certificate_check":  c.Schedule.CertificateCheck,
		"schedule.notification_sweep": c.Schedule.NotificationSweep,
	} {
		if expr == "" {
			return fmt.Errorf("%s is required", name)
		}
	}
	return nil
}
