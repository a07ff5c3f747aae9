package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models invoicer.yml.
type Config struct {
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Database struct {
		Driver    string `yaml:"driver"`
		Workspace string `yaml:"workspace"`
		DSN       string `yaml:"dsn"`
	} `yaml:"database"`
	Auth struct {
		JWTSecret  string        `yaml:"jwt_secret"`
		SessionTTL time.Duration `yaml:"session_ttl"`
		CookieName string        `yaml:"cookie_name"`
	} `yaml:"auth"`
	Notify    NotifyConfig `yaml:"notify"`
	Telemetry struct {
		Endpoint    string `yaml:"endpoint"`
		ServiceName string `yaml:"service_name"`
	} `yaml:"telemetry"`
	Log struct {
		Mode  string `yaml:"mode"`
		Level string `yaml:"level"`
	} `yaml:"log"`
	Seed Seed `yaml:"seed"`
}

type NotifyConfig struct {
	Webhooks     []WebhookConfig `yaml:"webhooks"`
	RedisAddr    string          `yaml:"redis_addr"`
	RedisChannel string          `yaml:"redis_channel"`
}

type WebhookConfig struct {
	URL            string `yaml:"url"`
	Secret         string `yaml:"secret"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	Enabled        *bool  `yaml:"enabled"`
}

type Seed struct {
	Users     []SeedUser     `yaml:"users"`
	Customers []SeedCustomer `yaml:"customers"`
}

type SeedUser struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
}

type SeedCustomer struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Email    string `yaml:"email"`
	ImageURL string `yaml:"image_url"`
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite":
	case "pgx":
		if strings.TrimSpace(c.Database.DSN) == "" {
			return fmt.Errorf("config.database.dsn is required for driver pgx")
		}
	default:
		return fmt.Errorf("config.database.driver must be 'sqlite' or 'pgx', got %q", c.Database.Driver)
	}
	if c.Auth.SessionTTL <= 0 {
		return fmt.Errorf("config.auth.session_ttl must be > 0")
	}
	if strings.TrimSpace(c.Auth.CookieName) == "" {
		return fmt.Errorf("config.auth.cookie_name is required")
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with '/'")
	}
	for i, hook := range c.Notify.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.notify.webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.notify.webhooks[%d].timeout_seconds must be >= 0", i)
		}
	}
	seenCustomers := map[string]bool{}
	for _, cust := range c.Seed.Customers {
		if cust.ID == "" || cust.Name == "" {
			return fmt.Errorf("seed customer requires id and name")
		}
		if seenCustomers[cust.ID] {
			return fmt.Errorf("seed customer %s listed twice", cust.ID)
		}
		seenCustomers[cust.ID] = true
	}
	for _, u := range c.Seed.Users {
		if u.Email == "" || u.Password == "" {
			return fmt.Errorf("seed user requires email and password")
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "invoicer.yml")
}

// Default returns the default Config.
func Default() *Config {
	var cfg Config
	if err := yaml.Unmarshal([]byte(defaultTemplate), &cfg); err != nil {
		panic(fmt.Sprintf("default config: %v", err))
	}
	return &cfg
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses config on top of the defaults and validates it.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

const defaultTemplate = `server:
  addr: 127.0.0.1:8080
  base_path: ""

database:
  driver: sqlite
  workspace: .

auth:
  session_ttl: 24h
  cookie_name: session

notify:
  redis_channel: invoicer.revalidate

telemetry:
  service_name: invoicer

log:
  mode: dev
  level: info
`
