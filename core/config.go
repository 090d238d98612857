package core

import (
	"fmt"
	"strings"
	"time"
)

type VaultConfig struct {
	Key   string `koanf:"key" mapstructure:"key"`
	KeyID string `koanf:"key_id" mapstructure:"key_id"`
}

type ProviderConfig struct {
	ClientID     string `koanf:"client_id" mapstructure:"client_id"`
	ClientSecret string `koanf:"client_secret" mapstructure:"client_secret"`
	AuthURL      string `koanf:"auth_url" mapstructure:"auth_url"`
	TokenURL     string `koanf:"token_url" mapstructure:"token_url"`
	APIBaseURL   string `koanf:"api_base_url" mapstructure:"api_base_url"`
}

type RetryConfig struct {
	MaxAttempts    int           `koanf:"max_attempts" mapstructure:"max_attempts"`
	AttemptTimeout time.Duration `koanf:"attempt_timeout" mapstructure:"attempt_timeout"`
	InitialBackoff time.Duration `koanf:"initial_backoff" mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `koanf:"max_backoff" mapstructure:"max_backoff"`
}

type ScheduleConfig struct {
	Daily   string `koanf:"daily" mapstructure:"daily"`
	Weekly  string `koanf:"weekly" mapstructure:"weekly"`
	Monthly string `koanf:"monthly" mapstructure:"monthly"`
}

type RateLimitConfig struct {
	AuthRequests int           `koanf:"auth_requests" mapstructure:"auth_requests"`
	AuthWindow   time.Duration `koanf:"auth_window" mapstructure:"auth_window"`
	SyncRequests int           `koanf:"sync_requests" mapstructure:"sync_requests"`
	SyncWindow   time.Duration `koanf:"sync_window" mapstructure:"sync_window"`
}

type Config struct {
	ServiceName string                    `koanf:"service_name" mapstructure:"service_name"`
	Vault       VaultConfig               `koanf:"vault" mapstructure:"vault"`
	Providers   map[string]ProviderConfig `koanf:"providers" mapstructure:"providers"`
	Retry       RetryConfig               `koanf:"retry" mapstructure:"retry"`
	Schedule    ScheduleConfig            `koanf:"schedule" mapstructure:"schedule"`
	RateLimit   RateLimitConfig           `koanf:"rate_limit" mapstructure:"rate_limit"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "finsync",
		Retry: RetryConfig{
			MaxAttempts:    3,
			AttemptTimeout: 30 * time.Second,
			InitialBackoff: 500 * time.Millisecond,
			MaxBackoff:     10 * time.Second,
		},
		Schedule: ScheduleConfig{
			Daily:   "0 3 * * *",
			Weekly:  "0 4 * * 1",
			Monthly: "0 5 1 * *",
		},
		RateLimit: RateLimitConfig{
			AuthRequests: 10,
			AuthWindow:   time.Minute,
			SyncRequests: 5,
			SyncWindow:   5 * time.Minute,
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("core: retry.max_attempts must be at least 1")
	}
	if c.Retry.AttemptTimeout <= 0 {
		return fmt.Errorf("core: retry.attempt_timeout must be positive")
	}
	if c.RateLimit.AuthRequests < 1 || c.RateLimit.SyncRequests < 1 {
		return fmt.Errorf("core: rate_limit request budgets must be at least 1")
	}
	if c.RateLimit.AuthWindow <= 0 || c.RateLimit.SyncWindow <= 0 {
		return fmt.Errorf("core: rate_limit windows must be positive")
	}
	return nil
}

// ProviderFor returns the wire configuration for a provider kind.
func (c Config) ProviderFor(kind ProviderKind) (ProviderConfig, bool) {
	if len(c.Providers) == 0 {
		return ProviderConfig{}, false
	}
	cfg, ok := c.Providers[strings.TrimSpace(strings.ToLower(string(kind)))]
	return cfg, ok
}
