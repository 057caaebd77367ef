// Package promotion implements the pattern lifecycle pipeline: provisional
// alerts that graduate into patterns, patterns that graduate into
// workspace-wide principles, and the decay sweep that retires stale patterns.
package promotion

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/patternd/internal/evidence"
	"github.com/fyrsmithlabs/patternd/internal/pattern"
)

// AlertStatus is the lifecycle state of a provisional alert.
type AlertStatus string

const (
	AlertActive   AlertStatus = "active"
	AlertExpired  AlertStatus = "expired"
	AlertPromoted AlertStatus = "promoted"
)

// ValidAlertStatuses contains all valid alert statuses.
var ValidAlertStatuses = map[AlertStatus]bool{
	AlertActive:   true,
	AlertExpired:  true,
	AlertPromoted: true,
}

// IsValid returns true if the alert status is recognized.
func (s AlertStatus) IsValid() bool {
	return ValidAlertStatuses[s]
}

// Alert is a time-boxed candidate pattern. High-severity security findings
// backed only by paraphrase or inferred evidence park here instead of
// becoming durable patterns; repeat occurrences within the expiry window
// promote the alert into a real PatternDefinition.
type Alert struct {
	ID    string        `json:"id"`
	Scope pattern.Scope `json:"scope"`

	// AlertKey uses the same derivation as pattern keys, so an alert and the
	// pattern it may become share identity.
	AlertKey string `json:"alert_key"`

	Content     string                   `json:"content"`
	Alternative string                   `json:"alternative,omitempty"`
	Category    evidence.FindingCategory `json:"category"`
	Severity    evidence.Severity        `json:"severity"`
	QuoteType   evidence.QuoteType       `json:"quote_type"`
	Touches     pattern.TouchSet         `json:"touches,omitempty"`
	InjectInto  pattern.InjectTarget     `json:"inject_into"`

	Status AlertStatus `json:"status"`

	// PromotedPatternID is set once the alert graduates.
	PromotedPatternID string `json:"promoted_pattern_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// PrincipleOrigin distinguishes seeded guardrails from evidence-derived
// principles.
type PrincipleOrigin string

const (
	OriginBaseline PrincipleOrigin = "baseline"
	OriginDerived  PrincipleOrigin = "derived"
)

// PrincipleStatus is the lifecycle state of a derived principle.
type PrincipleStatus string

const (
	PrincipleActive   PrincipleStatus = "active"
	PrincipleArchived PrincipleStatus = "archived"
)

// Principle is a workspace-scoped rule distilled from patterns that recur
// across projects, or seeded as a fixed baseline guardrail.
type Principle struct {
	ID          string          `json:"id"`
	WorkspaceID string          `json:"workspace_id"`
	Origin      PrincipleOrigin `json:"origin"`

	// PromotionKey is the idempotency key: at most one active principle per
	// (workspace, patternKey, carrierStage, category). Baselines use the
	// reserved "baseline:<slug>" form.
	PromotionKey string `json:"promotion_key"`

	Text      string                   `json:"text"`
	Rationale string                   `json:"rationale,omitempty"`
	Category  evidence.FindingCategory `json:"category"`
	Severity  evidence.Severity        `json:"severity"`
	Touches   pattern.TouchSet         `json:"touches,omitempty"`

	InjectInto pattern.InjectTarget `json:"inject_into"`
	Confidence float64              `json:"confidence"`
	Permanent  bool                 `json:"permanent"`

	Status         PrincipleStatus `json:"status"`
	ArchivedReason string          `json:"archived_reason,omitempty"`
	ArchivedBy     string          `json:"archived_by,omitempty"`
	ArchivedAt     time.Time       `json:"archived_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Policy holds the tunable promotion thresholds. They are policy constants,
// not derived values, and load from configuration.
type Policy struct {
	// AlertTTL is how long a provisional alert stays open.
	AlertTTL time.Duration

	// AlertPromotionThreshold is the linked occurrence count at which an
	// alert becomes a pattern.
	AlertPromotionThreshold int

	// PrincipleMinProjects is the distinct project count a pattern key must
	// reach before principle promotion.
	PrincipleMinProjects int

	// PrincipleMinConfidence is the boosted mean confidence required for
	// principle promotion.
	PrincipleMinConfidence float64

	// ProjectBoost is added to the mean confidence per project beyond the
	// minimum, capped at ProjectBoostCap.
	ProjectBoost    float64
	ProjectBoostCap float64

	// DecayFloor archives active non-permanent patterns whose recomputed
	// confidence falls below it.
	DecayFloor float64
}

// DefaultPolicy returns the shipped promotion thresholds.
func DefaultPolicy() Policy {
	return Policy{
		AlertTTL:                14 * 24 * time.Hour,
		AlertPromotionThreshold: 2,
		PrincipleMinProjects:    3,
		PrincipleMinConfidence:  0.6,
		ProjectBoost:            0.05,
		ProjectBoostCap:         0.15,
		DecayFloor:              0.2,
	}
}

// Validate checks that the policy is internally consistent.
func (p Policy) Validate() error {
	if p.AlertTTL <= 0 {
		return fmt.Errorf("alert_ttl must be positive, got %v", p.AlertTTL)
	}
	if p.AlertPromotionThreshold < 1 {
		return fmt.Errorf("alert_promotion_threshold must be >= 1, got %d", p.AlertPromotionThreshold)
	}
	if p.PrincipleMinProjects < 1 {
		return fmt.Errorf("principle_min_projects must be >= 1, got %d", p.PrincipleMinProjects)
	}
	for _, v := range []struct {
		name  string
		value float64
	}{
		{"principle_min_confidence", p.PrincipleMinConfidence},
		{"project_boost", p.ProjectBoost},
		{"project_boost_cap", p.ProjectBoostCap},
		{"decay_floor", p.DecayFloor},
	} {
		if v.value < 0 || v.value > 1 {
			return fmt.Errorf("%s must be in [0,1], got %v", v.name, v.value)
		}
	}
	return nil
}

// AlertRequest carries everything needed to open or extend an alert for one
// attributed finding. The occurrence arrives pre-built (evidence already
// scrubbed); EnsureAlert assigns its AlertID before persisting it.
type AlertRequest struct {
	Scope       pattern.Scope
	Content     string
	Alternative string
	Category    evidence.FindingCategory
	Severity    evidence.Severity
	QuoteType   evidence.QuoteType
	Touches     pattern.TouchSet
	InjectInto  pattern.InjectTarget
	Occurrence  pattern.Occurrence
}

// AlertResult reports what EnsureAlert did.
type AlertResult struct {
	Alert        Alert
	OccurrenceID string

	// Created is true when a new alert was opened, false when the occurrence
	// linked to an existing one.
	Created bool

	// Promoted is true when this occurrence pushed the alert over the
	// promotion threshold; Pattern then holds the new definition.
	Promoted bool
	Pattern  *pattern.Definition
}

// PromotionResult reports a pattern-to-principle promotion attempt.
type PromotionResult struct {
	PrincipleID string

	// Created is false both for "Already promoted" and for non-qualifying
	// patterns; Reason says which.
	Created bool
	Reason  string
}

// ScanReport summarizes one principle promotion scan over a scope.
type ScanReport struct {
	Scope     pattern.Scope
	Evaluated int
	Promoted  int
}

// ExpiryReport summarizes one alert expiry sweep.
type ExpiryReport struct {
	Evaluated int
	Promoted  int
	Expired   int
}

// SweepReport summarizes one per-project decay sweep.
type SweepReport struct {
	Scope    pattern.Scope
	Scanned  int
	Updated  int
	Archived int
}

// ConfidenceUpdate is one recomputed confidence applied by the decay sweep.
type ConfidenceUpdate struct {
	PatternID  string
	Confidence float64
}
