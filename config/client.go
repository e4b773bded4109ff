package config

import (
	"fmt"

	"github.com/kbukum/sdkrtl/logger"
	"github.com/kbukum/sdkrtl/resilience"
	"github.com/kbukum/sdkrtl/security"
	"github.com/kbukum/sdkrtl/transport"
	"github.com/kbukum/sdkrtl/validation"
)

// DefaultSection is the key the transport settings live under.
const DefaultSection = "sdk"

// ClientConfig is everything needed to build a transport client.
//
// Example YAML:
//
//	sdk:
//	  base_url: https://api.example.com/v1
//	  timeout: 30
//	  headers:
//	    X-Tenant: acme
//	tls:
//	  ca_file: /etc/billing/ca.pem
//	retry:
//	  max_attempts: 3
//	  initial_backoff: 200ms
//	circuit_breaker:
//	  max_failures: 5
//	  cooldown: 30s
//	logging:
//	  level: debug
type ClientConfig struct {
	// Settings are read from the configured section (DefaultSection).
	Settings  transport.Settings            `yaml:"-" mapstructure:"-"`
	Retry     resilience.RetryConfig        `yaml:"retry" mapstructure:"retry"`
	RateLimit *resilience.RateLimiterConfig `yaml:"rate_limit" mapstructure:"rate_limit" validate:"omitempty"`
	// CircuitBreaker gates retried attempts; nil disables it.
	CircuitBreaker *resilience.CircuitBreakerConfig `yaml:"circuit_breaker" mapstructure:"circuit_breaker" validate:"omitempty"`
	TLS            security.TLSConfig               `yaml:"tls" mapstructure:"tls"`
	HTTP2          bool                             `yaml:"http2" mapstructure:"http2"`
	Logging        logger.Config                    `yaml:"logging" mapstructure:"logging"`
}

// ApplyDefaults applies default values.
func (c *ClientConfig) ApplyDefaults() {
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = 1
	}
	c.Logging.ApplyDefaults()
	c.Settings.Headers = transport.CanonicalHeaders(c.Settings.Headers)
}

// Validate validates the configuration.
func (c *ClientConfig) Validate() error {
	if err := validation.Validate(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("config.logging: %w", err)
	}
	return nil
}
