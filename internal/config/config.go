package config

import (
	"errors"
	"fmt"
	"os"

	"mentorbook/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig          `yaml:"app"`
	Database   DatabaseConfig     `yaml:"database"`
	Redis      RedisConfig        `yaml:"redis"`
	Monitoring MonitoringConfig   `yaml:"monitoring"`
	Logging    LoggingConfig      `yaml:"logging"`
	API        APIConfig          `yaml:"api"`
	Booking    BookingConfig      `yaml:"booking"`
	Payments   PaymentsConfig     `yaml:"payments"`
	Quotas     []QuotaLimitConfig `yaml:"quotas"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool   `yaml:"prometheus_enabled"`
	PrometheusPort    int    `yaml:"prometheus_port"`
	LogLevel          string `yaml:"log_level"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	HTTP      APIHTTPConfig      `yaml:"http"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	HeaderExtra  string         `yaml:"header_extra"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Extra       string   `yaml:"extra"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type BookingConfig struct {
	HoldTTLMinutes            int `yaml:"hold_ttl_minutes"`
	SweepIntervalSeconds      int `yaml:"sweep_interval_seconds"`
	CompletionIntervalSeconds int `yaml:"completion_interval_seconds"`
	MaxAdvanceDays            int `yaml:"max_advance_days"`
}

type PaymentsConfig struct {
	StripeAPIKey string `yaml:"stripe_api_key"`
	SuccessURL   string `yaml:"success_url"`
	CancelURL    string `yaml:"cancel_url"`
}

type QuotaLimitConfig struct {
	Feature string `yaml:"feature"`
	Ceiling int64  `yaml:"ceiling"`
	Period  string `yaml:"period"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional; it only pre-populates the environment.
	_ = godotenv.Load(".env")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	// Environment variables are substituted before the YAML is parsed.
	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}

	if c.Payments.StripeAPIKey == "" || c.Payments.StripeAPIKey == "YOUR_STRIPE_KEY_HERE" {
		return errors.New("stripe api key is required")
	}

	return ValidateQuotas(c.Quotas)
}

func ValidateQuotas(quotas []QuotaLimitConfig) error {
	seen := make(map[string]bool)
	for _, q := range quotas {
		if q.Feature == "" {
			return errors.New("quota entry is missing a feature name")
		}
		if seen[q.Feature] {
			return fmt.Errorf("duplicate quota for feature %q", q.Feature)
		}
		seen[q.Feature] = true

		if q.Ceiling <= 0 {
			return fmt.Errorf("quota for %q has invalid ceiling %d", q.Feature, q.Ceiling)
		}
		if q.Period != "daily" && q.Period != "monthly" {
			return fmt.Errorf("quota for %q has unknown period %q", q.Feature, q.Period)
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.API.Enabled && !c.API.HTTP.Enabled {
		c.API.HTTP.Enabled = true
	}
	if !c.API.Auth.Enabled {
		c.API.Auth.Enabled = true
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.API.Auth.HeaderExtra == "" {
		c.API.Auth.HeaderExtra = "x-api-extra"
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}

	if c.Booking.HoldTTLMinutes == 0 {
		c.Booking.HoldTTLMinutes = models.DefaultHoldTTLMinutes
	}
	if c.Booking.SweepIntervalSeconds == 0 {
		c.Booking.SweepIntervalSeconds = models.DefaultSweepIntervalSeconds
	}
	if c.Booking.CompletionIntervalSeconds == 0 {
		c.Booking.CompletionIntervalSeconds = models.DefaultCompletionIntervalSeconds
	}
	if c.Booking.MaxAdvanceDays == 0 {
		c.Booking.MaxAdvanceDays = models.DefaultMaxAdvanceDays
	}
}
