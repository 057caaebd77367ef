// Package logging wraps zap with context-scoped correlation fields
// (workspace/project scope, issue and finding IDs), redaction of sensitive
// field values, and an optional OTLP bridge through otelzap.
package logging

import (
	"fmt"
	"regexp"
	"time"

	"go.uber.org/zap/zapcore"
)

// maxRedactPattern bounds redaction regex length.
const maxRedactPattern = 200

// Config holds the logger settings.
type Config struct {
	Level  zapcore.Level `koanf:"level"`
	Format string        `koanf:"format"` // "json" or "console"

	// Stdout writes to standard output; OTEL mirrors entries to the
	// OpenTelemetry log bridge when a provider is available. At least one
	// must be set.
	Stdout bool `koanf:"stdout"`
	OTEL   bool `koanf:"otel"`

	Sampling  SamplingConfig  `koanf:"sampling"`
	Redaction RedactionConfig `koanf:"redaction"`
}

// SamplingConfig throttles repeated sub-error entries. Error and above
// always pass through.
type SamplingConfig struct {
	Enabled    bool          `koanf:"enabled"`
	Tick       time.Duration `koanf:"tick"`
	Initial    int           `koanf:"initial"`
	Thereafter int           `koanf:"thereafter"`
}

// RedactionConfig lists field names and value patterns whose contents are
// replaced before encoding.
type RedactionConfig struct {
	Enabled  bool     `koanf:"enabled"`
	Fields   []string `koanf:"fields"`
	Patterns []string `koanf:"patterns"`
}

// NewDefaultConfig returns production defaults: JSON to stdout at info,
// sampling on, credential-shaped fields redacted.
func NewDefaultConfig() *Config {
	return &Config{
		Level:  zapcore.InfoLevel,
		Format: "json",
		Stdout: true,
		OTEL:   false,
		Sampling: SamplingConfig{
			Enabled:    true,
			Tick:       time.Second,
			Initial:    100,
			Thereafter: 10,
		},
		Redaction: RedactionConfig{
			Enabled: true,
			Fields: []string{
				"password", "secret", "token", "api_key",
				"authorization", "bearer", "credential", "private_key",
			},
			Patterns: []string{
				`(?i)bearer\s+\S+`,
				`(?i)api[_-]?key[=:]\s*\S+`,
			},
		},
	}
}

// Validate checks the logger settings.
func (c *Config) Validate() error {
	if c.Format != "json" && c.Format != "console" {
		return fmt.Errorf("format must be %q or %q, got %q", "json", "console", c.Format)
	}
	if !c.Stdout && !c.OTEL {
		return fmt.Errorf("at least one output must be enabled (stdout or otel)")
	}
	if c.Sampling.Enabled {
		if c.Sampling.Tick <= 0 {
			return fmt.Errorf("sampling tick must be positive")
		}
		if c.Sampling.Initial <= 0 {
			return fmt.Errorf("sampling initial must be positive")
		}
		if c.Sampling.Thereafter < 0 {
			return fmt.Errorf("sampling thereafter must be >= 0")
		}
	}
	if c.Redaction.Enabled {
		for _, p := range c.Redaction.Patterns {
			if len(p) > maxRedactPattern {
				return fmt.Errorf("redaction pattern too long (max %d chars): %q", maxRedactPattern, p)
			}
			if _, err := regexp.Compile(p); err != nil {
				return fmt.Errorf("invalid redaction pattern %q: %w", p, err)
			}
		}
	}
	return nil
}
