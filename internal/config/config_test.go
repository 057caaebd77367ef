package config

import (
	"strings"
	"testing"
	"time"

	"github.com/fyrsmithlabs/patternd/internal/confidence"
	"github.com/fyrsmithlabs/patternd/internal/injection"
	"github.com/fyrsmithlabs/patternd/internal/killswitch"
	"github.com/fyrsmithlabs/patternd/internal/promotion"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	if cfg.Storage.Path == "" {
		t.Error("Storage.Path is empty, want default database path")
	}
	if cfg.Maintenance.Interval != time.Hour {
		t.Errorf("Maintenance.Interval = %v, want 1h", cfg.Maintenance.Interval)
	}
	if cfg.Maintenance.SweepsPerMinute != 30 {
		t.Errorf("Maintenance.SweepsPerMinute = %v, want 30", cfg.Maintenance.SweepsPerMinute)
	}
	if cfg.Maintenance.SweepBurst != 10 {
		t.Errorf("Maintenance.SweepBurst = %d, want 10", cfg.Maintenance.SweepBurst)
	}
	if !cfg.Scrub.ScrubberConfig().Enabled {
		t.Error("Scrub.Enabled = false, want true")
	}
	if cfg.Logging == nil {
		t.Error("Logging is nil, want defaults")
	}
	if cfg.Telemetry == nil {
		t.Error("Telemetry is nil, want defaults")
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate, got: %v", err)
	}
}

// TestDefaultPolicyMatchesPackages verifies the defaulted policy section
// converts to exactly the constants the domain packages ship with.
func TestDefaultPolicyMatchesPackages(t *testing.T) {
	cfg := NewDefaultConfig()

	if got, want := cfg.Policy.ConfidenceParams(), confidence.DefaultParams(); got != want {
		t.Errorf("ConfidenceParams() = %+v, want %+v", got, want)
	}
	if got, want := cfg.Policy.PromotionPolicy(), promotion.DefaultPolicy(); got != want {
		t.Errorf("PromotionPolicy() = %+v, want %+v", got, want)
	}
	if got, want := cfg.Policy.KillSwitchPolicy(), killswitch.DefaultPolicy(); got != want {
		t.Errorf("KillSwitchPolicy() = %+v, want %+v", got, want)
	}
	if got, want := cfg.Policy.InjectionPolicy(), injection.DefaultPolicy(); got != want {
		t.Errorf("InjectionPolicy() = %+v, want %+v", got, want)
	}
}

// TestApplyDefaultsPreservesSetValues verifies defaulting never clobbers
// values already loaded from file or environment.
func TestApplyDefaultsPreservesSetValues(t *testing.T) {
	cross := false
	scrubOff := false
	cfg := &Config{
		Storage:     StorageConfig{Path: "/custom/patterns.db"},
		Scrub:       ScrubConfig{Enabled: &scrubOff},
		Maintenance: MaintenanceConfig{Interval: 15 * time.Minute},
		Policy: PolicyConfig{
			Confidence: ConfidenceConfig{HalfLife: 30 * 24 * time.Hour},
			Promotion:  PromotionConfig{AlertPromotionThreshold: 5},
			KillSwitch: KillSwitchConfig{HealthWindow: 50},
			Injection:  InjectionConfig{MaxWarnings: 2, CrossProject: &cross},
		},
	}

	applyDefaults(cfg)

	if cfg.Storage.Path != "/custom/patterns.db" {
		t.Errorf("Storage.Path = %q, want custom value preserved", cfg.Storage.Path)
	}
	if cfg.Maintenance.Interval != 15*time.Minute {
		t.Errorf("Maintenance.Interval = %v, want 15m preserved", cfg.Maintenance.Interval)
	}
	if got := cfg.Policy.ConfidenceParams().HalfLife; got != 30*24*time.Hour {
		t.Errorf("HalfLife = %v, want 720h preserved", got)
	}
	if got := cfg.Policy.PromotionPolicy().AlertPromotionThreshold; got != 5 {
		t.Errorf("AlertPromotionThreshold = %d, want 5 preserved", got)
	}
	if got := cfg.Policy.KillSwitchPolicy().HealthWindow; got != 50 {
		t.Errorf("HealthWindow = %d, want 50 preserved", got)
	}
	inj := cfg.Policy.InjectionPolicy()
	if inj.MaxWarnings != 2 {
		t.Errorf("MaxWarnings = %d, want 2 preserved", inj.MaxWarnings)
	}
	if inj.CrossProject {
		t.Error("CrossProject = true, want explicit false preserved")
	}
	if cfg.Scrub.ScrubberConfig().Enabled {
		t.Error("Scrub.Enabled = true, want explicit false preserved")
	}

	// Untouched fields still get defaults
	if got, want := cfg.Policy.ConfidenceParams().VerbatimBase, confidence.DefaultParams().VerbatimBase; got != want {
		t.Errorf("VerbatimBase = %v, want default %v", got, want)
	}
	if cfg.Maintenance.SweepBurst != 10 {
		t.Errorf("SweepBurst = %d, want default 10", cfg.Maintenance.SweepBurst)
	}
}

// TestInjectionPolicyDefaultsCrossProject verifies the nil pointer reads
// as the shipped default.
func TestInjectionPolicyDefaultsCrossProject(t *testing.T) {
	var p PolicyConfig
	p.Injection.MaxWarnings = 5

	if !p.InjectionPolicy().CrossProject {
		t.Error("CrossProject = false for unset pointer, want true")
	}
}

// TestScrubberConfigDefaultsEnabled verifies the nil pointer reads as the
// shipped default.
func TestScrubberConfigDefaultsEnabled(t *testing.T) {
	var s ScrubConfig
	if !s.ScrubberConfig().Enabled {
		t.Error("Enabled = false for unset pointer, want true")
	}

	off := false
	s.Enabled = &off
	s.AllowlistPath = "/etc/patternd/allowlist.toml"
	got := s.ScrubberConfig()
	if got.Enabled {
		t.Error("Enabled = true, want explicit false")
	}
	if got.AllowlistPath != "/etc/patternd/allowlist.toml" {
		t.Errorf("AllowlistPath = %q, want carried through", got.AllowlistPath)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid defaults",
			mutate: func(c *Config) {},
		},
		{
			name:    "missing storage path",
			mutate:  func(c *Config) { c.Storage.Path = "" },
			wantErr: "storage.path",
		},
		{
			name:    "non-positive interval",
			mutate:  func(c *Config) { c.Maintenance.Interval = -time.Minute },
			wantErr: "maintenance.interval",
		},
		{
			name:    "negative sweep rate",
			mutate:  func(c *Config) { c.Maintenance.SweepsPerMinute = -1 },
			wantErr: "maintenance.sweeps_per_minute",
		},
		{
			name:    "misordered confidence bases",
			mutate:  func(c *Config) { c.Policy.Confidence.InferredBase = 0.99 },
			wantErr: "policy.confidence",
		},
		{
			name:    "negative promotion floor",
			mutate:  func(c *Config) { c.Policy.Promotion.DecayFloor = -0.1 },
			wantErr: "policy.promotion",
		},
		{
			name:    "kill switch window below min samples",
			mutate:  func(c *Config) { c.Policy.KillSwitch.HealthWindow = 5 },
			wantErr: "policy.kill_switch",
		},
		{
			name:    "injection warnings below one",
			mutate:  func(c *Config) { c.Policy.Injection.MaxWarnings = -3 },
			wantErr: "policy.injection",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}
