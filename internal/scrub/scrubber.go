// Package scrub redacts secret-shaped values from carrier quotes, suggested
// alternatives, and evidence excerpts before they are persisted. Guidance
// text originates in real repository documents and review comments, which
// occasionally embed credentials; the pattern store must never become a
// secondary copy of them.
package scrub

import (
	"fmt"
	"regexp"
	"strings"

	gitleaksConfig "github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
	gitleaksRegexp "github.com/zricethezav/gitleaks/v8/regexp"
	"go.uber.org/zap"
)

// Config controls scrubbing.
type Config struct {
	// Enabled turns scrubbing off entirely when false. Only safe for test
	// fixtures and air-gapped deployments.
	Enabled bool `koanf:"enabled"`

	// AllowlistPath points at an optional TOML allowlist of content regexes
	// that must survive scrubbing (documentation placeholders, fixture
	// values). Missing files are ignored.
	AllowlistPath string `koanf:"allowlist_path"`
}

// DefaultConfig returns scrubbing defaults: on, no allowlist.
func DefaultConfig() Config {
	return Config{Enabled: true}
}

// Scrubber wraps a gitleaks detector built once at startup.
type Scrubber struct {
	detector *detect.Detector
	enabled  bool
	logger   *zap.Logger
}

// Result reports one scrub call.
type Result struct {
	Text string

	// Redacted is how many secret matches were replaced.
	Redacted int
}

// New builds a scrubber from config. The gitleaks default ruleset is
// extended with the allowlist when one is configured.
func New(cfg Config, logger *zap.Logger) (*Scrubber, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !cfg.Enabled {
		return &Scrubber{enabled: false, logger: logger}, nil
	}

	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("create gitleaks detector: %w", err)
	}

	if cfg.AllowlistPath != "" {
		allowlist, err := LoadAllowlist(cfg.AllowlistPath)
		if err != nil {
			return nil, err
		}
		applyAllowlist(&detector.Config, allowlist)
	}

	return &Scrubber{detector: detector, enabled: true, logger: logger}, nil
}

// Scrub replaces every detected secret in content with a redaction marker
// naming the rule that caught it.
func (s *Scrubber) Scrub(content string) Result {
	if !s.enabled || content == "" {
		return Result{Text: content}
	}

	findings := s.detector.DetectString(content)
	if len(findings) == 0 {
		return Result{Text: content}
	}

	scrubbed := content
	redacted := 0
	for _, f := range findings {
		if f.Secret == "" {
			continue
		}
		marker := "[REDACTED:" + f.RuleID + "]"
		replaced := strings.ReplaceAll(scrubbed, f.Secret, marker)
		if replaced != scrubbed {
			scrubbed = replaced
			redacted++
		}
	}
	if redacted > 0 {
		s.logger.Warn("secrets redacted from evidence text",
			zap.Int("redacted", redacted),
		)
	}
	return Result{Text: scrubbed, Redacted: redacted}
}

// ScrubAll scrubs several fields in one pass, returning the total redaction
// count.
func (s *Scrubber) ScrubAll(fields ...*string) int {
	total := 0
	for _, f := range fields {
		if f == nil {
			continue
		}
		res := s.Scrub(*f)
		*f = res.Text
		total += res.Redacted
	}
	return total
}

// applyAllowlist merges allowlisted content regexes into the gitleaks config.
func applyAllowlist(cfg *gitleaksConfig.Config, allowlist *Allowlist) {
	global := &gitleaksConfig.Allowlist{
		Description: "patternd allowlist",
	}
	for _, p := range allowlist.Regexes {
		// Patterns are validated at load time; failure here is a bug.
		re := regexp.MustCompile(p)
		global.Regexes = append(global.Regexes, (*gitleaksRegexp.Regexp)(re))
	}
	global.StopWords = append(global.StopWords, allowlist.StopWords...)
	cfg.Allowlists = append(cfg.Allowlists, global)
}
