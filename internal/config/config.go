// Package config provides configuration loading for patternd.
//
// Configuration is loaded from a YAML file, overlaid with environment
// variables, then validated. Every tunable of the engine lives in the
// Policy section; the per-package policy structs are built from it via
// the conversion methods so that the domain packages never import koanf.
package config

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/patternd/internal/confidence"
	"github.com/fyrsmithlabs/patternd/internal/injection"
	"github.com/fyrsmithlabs/patternd/internal/killswitch"
	"github.com/fyrsmithlabs/patternd/internal/logging"
	"github.com/fyrsmithlabs/patternd/internal/promotion"
	"github.com/fyrsmithlabs/patternd/internal/scrub"
	"github.com/fyrsmithlabs/patternd/internal/telemetry"
)

// Config holds the complete patternd configuration.
type Config struct {
	Storage     StorageConfig     `koanf:"storage"`
	Policy      PolicyConfig      `koanf:"policy"`
	Scrub       ScrubConfig       `koanf:"scrub"`
	Maintenance MaintenanceConfig `koanf:"maintenance"`
	Logging     *logging.Config   `koanf:"logging"`
	Telemetry   *telemetry.Config `koanf:"telemetry"`
}

// ScrubConfig holds the secret-scrubbing settings.
//
// Enabled is a pointer so an explicit "false" in YAML or the environment
// survives the defaulting pass (the shipped default is true).
type ScrubConfig struct {
	Enabled       *bool  `koanf:"enabled"`
	AllowlistPath string `koanf:"allowlist_path"`
}

// ScrubberConfig converts to the scrub package's Config.
func (s ScrubConfig) ScrubberConfig() scrub.Config {
	enabled := true
	if s.Enabled != nil {
		enabled = *s.Enabled
	}
	return scrub.Config{
		Enabled:       enabled,
		AllowlistPath: s.AllowlistPath,
	}
}

// StorageConfig holds the SQLite store location.
type StorageConfig struct {
	// Path is the SQLite database file. The parent directory is created
	// on startup if missing.
	Path string `koanf:"path"`
}

// MaintenanceConfig holds the background runner settings.
type MaintenanceConfig struct {
	// Interval is how often the runner executes one maintenance cycle.
	Interval time.Duration `koanf:"interval"`

	// SweepsPerMinute bounds decay sweeps across daemon and manual
	// invocation so bursty triggering cannot thrash the store.
	SweepsPerMinute float64 `koanf:"sweeps_per_minute"`

	// SweepBurst is the limiter burst size.
	SweepBurst int `koanf:"sweep_burst"`
}

// PolicyConfig carries every engine tunable. Field names mirror the
// per-package policy structs; the conversion methods below translate.
type PolicyConfig struct {
	Confidence ConfidenceConfig `koanf:"confidence"`
	Promotion  PromotionConfig  `koanf:"promotion"`
	KillSwitch KillSwitchConfig `koanf:"kill_switch"`
	Injection  InjectionConfig  `koanf:"injection"`
}

// ConfidenceConfig holds the scoring model constants.
type ConfidenceConfig struct {
	VerbatimBase          float64       `koanf:"verbatim_base"`
	ParaphraseBase        float64       `koanf:"paraphrase_base"`
	InferredBase          float64       `koanf:"inferred_base"`
	OccurrenceBoost       float64       `koanf:"occurrence_boost"`
	MaxBoostedOccurrences int           `koanf:"max_boosted_occurrences"`
	DriftPenalty          float64       `koanf:"drift_penalty"`
	HalfLife              time.Duration `koanf:"half_life"`
	MaxDecayPenalty       float64       `koanf:"max_decay_penalty"`
	TouchMismatchFactor   float64       `koanf:"touch_mismatch_factor"`
	CrossProjectFactor    float64       `koanf:"cross_project_factor"`
}

// PromotionConfig holds the tier-transition thresholds.
type PromotionConfig struct {
	AlertTTL                time.Duration `koanf:"alert_ttl"`
	AlertPromotionThreshold int           `koanf:"alert_promotion_threshold"`
	PrincipleMinProjects    int           `koanf:"principle_min_projects"`
	PrincipleMinConfidence  float64       `koanf:"principle_min_confidence"`
	ProjectBoost            float64       `koanf:"project_boost"`
	ProjectBoostCap         float64       `koanf:"project_boost_cap"`
	DecayFloor              float64       `koanf:"decay_floor"`
}

// KillSwitchConfig holds the circuit-breaker thresholds.
type KillSwitchConfig struct {
	HealthWindow        int           `koanf:"health_window"`
	HealthMinSamples    int           `koanf:"health_min_samples"`
	InferredRatioMax    float64       `koanf:"inferred_ratio_max"`
	PrecisionPauseFloor float64       `koanf:"precision_pause_floor"`
	PrecisionHardFloor  float64       `koanf:"precision_hard_floor"`
	ImprovementFloor    float64       `koanf:"improvement_floor"`
	InferredCooldown    time.Duration `koanf:"inferred_cooldown"`
	FullCooldown        time.Duration `koanf:"full_cooldown"`
}

// InjectionConfig holds the selection policy.
//
// CrossProject is a pointer so an explicit "false" in YAML survives the
// defaulting pass (the shipped default is true).
type InjectionConfig struct {
	MaxWarnings  int   `koanf:"max_warnings"`
	CrossProject *bool `koanf:"cross_project"`
}

// ConfidenceParams converts to the confidence package's Params.
func (p PolicyConfig) ConfidenceParams() confidence.Params {
	c := p.Confidence
	return confidence.Params{
		VerbatimBase:          c.VerbatimBase,
		ParaphraseBase:        c.ParaphraseBase,
		InferredBase:          c.InferredBase,
		OccurrenceBoost:       c.OccurrenceBoost,
		MaxBoostedOccurrences: c.MaxBoostedOccurrences,
		DriftPenalty:          c.DriftPenalty,
		HalfLife:              c.HalfLife,
		MaxDecayPenalty:       c.MaxDecayPenalty,
		TouchMismatchFactor:   c.TouchMismatchFactor,
		CrossProjectFactor:    c.CrossProjectFactor,
	}
}

// PromotionPolicy converts to the promotion package's Policy.
func (p PolicyConfig) PromotionPolicy() promotion.Policy {
	m := p.Promotion
	return promotion.Policy{
		AlertTTL:                m.AlertTTL,
		AlertPromotionThreshold: m.AlertPromotionThreshold,
		PrincipleMinProjects:    m.PrincipleMinProjects,
		PrincipleMinConfidence:  m.PrincipleMinConfidence,
		ProjectBoost:            m.ProjectBoost,
		ProjectBoostCap:         m.ProjectBoostCap,
		DecayFloor:              m.DecayFloor,
	}
}

// KillSwitchPolicy converts to the killswitch package's Policy.
func (p PolicyConfig) KillSwitchPolicy() killswitch.Policy {
	k := p.KillSwitch
	return killswitch.Policy{
		HealthWindow:        k.HealthWindow,
		HealthMinSamples:    k.HealthMinSamples,
		InferredRatioMax:    k.InferredRatioMax,
		PrecisionPauseFloor: k.PrecisionPauseFloor,
		PrecisionHardFloor:  k.PrecisionHardFloor,
		ImprovementFloor:    k.ImprovementFloor,
		InferredCooldown:    k.InferredCooldown,
		FullCooldown:        k.FullCooldown,
	}
}

// InjectionPolicy converts to the injection package's Policy.
func (p PolicyConfig) InjectionPolicy() injection.Policy {
	cross := true
	if p.Injection.CrossProject != nil {
		cross = *p.Injection.CrossProject
	}
	return injection.Policy{
		MaxWarnings:  p.Injection.MaxWarnings,
		CrossProject: cross,
	}
}

// NewDefaultConfig returns a fully-populated configuration matching the
// shipped policy constants.
func NewDefaultConfig() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults fills zero-valued fields with shipped defaults. Values
// already set by file or environment are left alone.
func applyDefaults(cfg *Config) {
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = "~/.local/share/patternd/patternd.db"
	}

	if cfg.Maintenance.Interval == 0 {
		cfg.Maintenance.Interval = time.Hour
	}
	if cfg.Maintenance.SweepsPerMinute == 0 {
		cfg.Maintenance.SweepsPerMinute = 30
	}
	if cfg.Maintenance.SweepBurst == 0 {
		cfg.Maintenance.SweepBurst = 10
	}

	applyPolicyDefaults(&cfg.Policy)

	if cfg.Scrub.Enabled == nil {
		enabled := scrub.DefaultConfig().Enabled
		cfg.Scrub.Enabled = &enabled
	}

	if cfg.Logging == nil {
		cfg.Logging = logging.NewDefaultConfig()
	}
	if cfg.Telemetry == nil {
		cfg.Telemetry = telemetry.NewDefaultConfig()
	}
}

func applyPolicyDefaults(p *PolicyConfig) {
	cd := confidence.DefaultParams()
	c := &p.Confidence
	if c.VerbatimBase == 0 {
		c.VerbatimBase = cd.VerbatimBase
	}
	if c.ParaphraseBase == 0 {
		c.ParaphraseBase = cd.ParaphraseBase
	}
	if c.InferredBase == 0 {
		c.InferredBase = cd.InferredBase
	}
	if c.OccurrenceBoost == 0 {
		c.OccurrenceBoost = cd.OccurrenceBoost
	}
	if c.MaxBoostedOccurrences == 0 {
		c.MaxBoostedOccurrences = cd.MaxBoostedOccurrences
	}
	if c.DriftPenalty == 0 {
		c.DriftPenalty = cd.DriftPenalty
	}
	if c.HalfLife == 0 {
		c.HalfLife = cd.HalfLife
	}
	if c.MaxDecayPenalty == 0 {
		c.MaxDecayPenalty = cd.MaxDecayPenalty
	}
	if c.TouchMismatchFactor == 0 {
		c.TouchMismatchFactor = cd.TouchMismatchFactor
	}
	if c.CrossProjectFactor == 0 {
		c.CrossProjectFactor = cd.CrossProjectFactor
	}

	pd := promotion.DefaultPolicy()
	m := &p.Promotion
	if m.AlertTTL == 0 {
		m.AlertTTL = pd.AlertTTL
	}
	if m.AlertPromotionThreshold == 0 {
		m.AlertPromotionThreshold = pd.AlertPromotionThreshold
	}
	if m.PrincipleMinProjects == 0 {
		m.PrincipleMinProjects = pd.PrincipleMinProjects
	}
	if m.PrincipleMinConfidence == 0 {
		m.PrincipleMinConfidence = pd.PrincipleMinConfidence
	}
	if m.ProjectBoost == 0 {
		m.ProjectBoost = pd.ProjectBoost
	}
	if m.ProjectBoostCap == 0 {
		m.ProjectBoostCap = pd.ProjectBoostCap
	}
	if m.DecayFloor == 0 {
		m.DecayFloor = pd.DecayFloor
	}

	kd := killswitch.DefaultPolicy()
	k := &p.KillSwitch
	if k.HealthWindow == 0 {
		k.HealthWindow = kd.HealthWindow
	}
	if k.HealthMinSamples == 0 {
		k.HealthMinSamples = kd.HealthMinSamples
	}
	if k.InferredRatioMax == 0 {
		k.InferredRatioMax = kd.InferredRatioMax
	}
	if k.PrecisionPauseFloor == 0 {
		k.PrecisionPauseFloor = kd.PrecisionPauseFloor
	}
	if k.PrecisionHardFloor == 0 {
		k.PrecisionHardFloor = kd.PrecisionHardFloor
	}
	if k.ImprovementFloor == 0 {
		k.ImprovementFloor = kd.ImprovementFloor
	}
	if k.InferredCooldown == 0 {
		k.InferredCooldown = kd.InferredCooldown
	}
	if k.FullCooldown == 0 {
		k.FullCooldown = kd.FullCooldown
	}

	id := injection.DefaultPolicy()
	if p.Injection.MaxWarnings == 0 {
		p.Injection.MaxWarnings = id.MaxWarnings
	}
	if p.Injection.CrossProject == nil {
		cross := id.CrossProject
		p.Injection.CrossProject = &cross
	}
}

// Validate checks the full configuration, delegating policy sections to
// the packages that consume them.
func (c *Config) Validate() error {
	if c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required")
	}

	if c.Maintenance.Interval <= 0 {
		return fmt.Errorf("maintenance.interval must be positive, got %v", c.Maintenance.Interval)
	}
	if c.Maintenance.SweepsPerMinute <= 0 {
		return fmt.Errorf("maintenance.sweeps_per_minute must be positive, got %v", c.Maintenance.SweepsPerMinute)
	}
	if c.Maintenance.SweepBurst < 1 {
		return fmt.Errorf("maintenance.sweep_burst must be >= 1, got %d", c.Maintenance.SweepBurst)
	}

	if err := c.Policy.ConfidenceParams().Validate(); err != nil {
		return fmt.Errorf("policy.confidence: %w", err)
	}
	if err := c.Policy.PromotionPolicy().Validate(); err != nil {
		return fmt.Errorf("policy.promotion: %w", err)
	}
	if err := c.Policy.KillSwitchPolicy().Validate(); err != nil {
		return fmt.Errorf("policy.kill_switch: %w", err)
	}
	if err := c.Policy.InjectionPolicy().Validate(); err != nil {
		return fmt.Errorf("policy.injection: %w", err)
	}

	if c.Logging != nil {
		if err := c.Logging.Validate(); err != nil {
			return fmt.Errorf("logging: %w", err)
		}
	}
	if c.Telemetry != nil {
		if err := c.Telemetry.Validate(); err != nil {
			return fmt.Errorf("telemetry: %w", err)
		}
	}

	return nil
}
