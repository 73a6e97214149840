package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"carbridge/internal/models"
)

// Defaults.
const (
	defaultPort               = "8090"
	defaultVendorBaseURL      = "https://api.smartcar.com"
	defaultCallTimeoutSeconds = 30
	defaultMaxConcurrentCalls = 4
	defaultIdleMinutes        = 360
	defaultActiveMinutes      = 20
)

// Config defines the carbridge service configuration.
type Config struct {
	HTTP struct {
		Port string `yaml:"port" env:"CARBRIDGE_HTTP_PORT"`
	} `yaml:"http"`
	Vendor struct {
		BaseURL            string `yaml:"baseUrl" env:"CARBRIDGE_VENDOR_BASE_URL"`
		VehicleID          string `yaml:"vehicleId" env:"CARBRIDGE_VEHICLE_ID"`
		AccessToken        string `yaml:"accessToken" env:"CARBRIDGE_VENDOR_ACCESS_TOKEN"`
		TimeoutSeconds     int    `yaml:"timeoutSeconds" env:"CARBRIDGE_VENDOR_TIMEOUT"`
		MaxConcurrentCalls int    `yaml:"maxConcurrentCalls" env:"CARBRIDGE_VENDOR_MAX_CONCURRENT"`
	} `yaml:"vendor"`
	Webhook struct {
		ManagementToken string `yaml:"managementToken" env:"CARBRIDGE_WEBHOOK_MANAGEMENT_TOKEN"`
	} `yaml:"webhook"`
	Auth struct {
		JWTSecret string `yaml:"jwtSecret" env:"CARBRIDGE_JWT_SECRET"`
	} `yaml:"auth"`
	Scheduler struct {
		IdleMinutes   int  `yaml:"idleMinutes" env:"CARBRIDGE_IDLE_MINUTES"`
		ActiveMinutes int  `yaml:"activeMinutes" env:"CARBRIDGE_ACTIVE_MINUTES"`
		Disabled      bool `yaml:"disabled" env:"CARBRIDGE_POLLING_DISABLED"`
	} `yaml:"scheduler"`
	Redis struct {
		Addr     string `yaml:"addr" env:"CARBRIDGE_REDIS_ADDR"`
		Password string `yaml:"password" env:"CARBRIDGE_REDIS_PASSWORD"`
	} `yaml:"redis"`
	Database struct {
		DSN string `yaml:"dsn" env:"CARBRIDGE_POSTGRES_DSN"`
	} `yaml:"database"`

	// Scopes granted during OAuth; Datapoints optionally restricts polling
	// to a subset of the catalog. Both are YAML-only lists.
	Scopes     []string `yaml:"scopes" env:"-"`
	Datapoints []string `yaml:"datapoints" env:"-"`
}

// Load reads configuration via the shared loader and validates it.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.HTTP.Port = defaultPort
	cfg.Vendor.BaseURL = defaultVendorBaseURL
	cfg.Vendor.TimeoutSeconds = defaultCallTimeoutSeconds
	cfg.Vendor.MaxConcurrentCalls = defaultMaxConcurrentCalls
	cfg.Scheduler.IdleMinutes = defaultIdleMinutes
	cfg.Scheduler.ActiveMinutes = defaultActiveMinutes

	if err := loadInto(cfg); err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.Vendor.VehicleID) == "" {
		return nil, errors.New("config: vendor vehicle id required")
	}
	if strings.TrimSpace(cfg.Vendor.AccessToken) == "" {
		return nil, errors.New("config: vendor access token required")
	}
	if strings.TrimSpace(cfg.Auth.JWTSecret) == "" {
		return nil, errors.New("config: jwt secret required")
	}
	return cfg, nil
}

// HTTPAddress returns :port style.
func (c *Config) HTTPAddress() string {
	port := strings.TrimSpace(c.HTTP.Port)
	if port == "" {
		port = defaultPort
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return fmt.Sprintf(":%s", port)
}

// VendorTimeout returns the per-call timeout as a duration.
func (c *Config) VendorTimeout() time.Duration {
	if c.Vendor.TimeoutSeconds <= 0 {
		return defaultCallTimeoutSeconds * time.Second
	}
	return time.Duration(c.Vendor.TimeoutSeconds) * time.Second
}

// IdleInterval returns the long polling interval.
func (c *Config) IdleInterval() time.Duration {
	if c.Scheduler.IdleMinutes <= 0 {
		return defaultIdleMinutes * time.Minute
	}
	return time.Duration(c.Scheduler.IdleMinutes) * time.Minute
}

// ActiveInterval returns the short polling interval used while charging.
func (c *Config) ActiveInterval() time.Duration {
	if c.Scheduler.ActiveMinutes <= 0 {
		return defaultActiveMinutes * time.Minute
	}
	return time.Duration(c.Scheduler.ActiveMinutes) * time.Minute
}

// GrantedScopes returns the configured scopes as typed values.
func (c *Config) GrantedScopes() []models.Scope {
	scopes := make([]models.Scope, 0, len(c.Scopes))
	for _, s := range c.Scopes {
		s = strings.TrimSpace(s)
		if s != "" {
			scopes = append(scopes, models.Scope(s))
		}
	}
	return scopes
}

// ConfiguredDatapoints returns the optional polling subset as typed keys.
func (c *Config) ConfiguredDatapoints() []models.Key {
	keys := make([]models.Key, 0, len(c.Datapoints))
	for _, k := range c.Datapoints {
		k = strings.TrimSpace(k)
		if k != "" {
			keys = append(keys, models.Key(k))
		}
	}
	return keys
}
