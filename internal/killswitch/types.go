// Package killswitch implements the self-monitoring circuit breaker that
// gates new pattern creation. Health metrics derive from the append-only
// attribution outcome log; when the engine's own precision degrades, the
// switch pauses inferred-evidence attribution first and all attribution
// second. Existing patterns stay fully queryable and injectable in every
// state; only new pattern and occurrence creation is gated.
package killswitch

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/patternd/internal/evidence"
	"github.com/fyrsmithlabs/patternd/internal/pattern"
)

// State is the circuit-breaker position for one (workspace, project) scope.
type State string

const (
	// StateActive creates patterns normally.
	StateActive State = "active"
	// StateInferredPaused skips attribution backed only by inferred evidence.
	StateInferredPaused State = "inferred_paused"
	// StateFullyPaused skips all new pattern and occurrence creation.
	StateFullyPaused State = "fully_paused"
)

// ValidStates contains all valid kill-switch states.
var ValidStates = map[State]bool{
	StateActive:         true,
	StateInferredPaused: true,
	StateFullyPaused:    true,
}

// IsValid returns true if the state is recognized.
func (s State) IsValid() bool {
	return ValidStates[s]
}

// stateRanks orders states from least to most restrictive.
var stateRanks = map[State]int{
	StateActive:         0,
	StateInferredPaused: 1,
	StateFullyPaused:    2,
}

// Rank returns how restrictive the state is (active=0 .. fully_paused=2).
func (s State) Rank() int {
	return stateRanks[s]
}

// allowedTransitions holds the legal automatic transitions. Escalation may
// jump straight from active to fully_paused; recovery steps down one state at
// a time. Manual operations bypass this table.
var allowedTransitions = map[State]map[State]struct{}{
	StateActive: {
		StateInferredPaused: {},
		StateFullyPaused:    {},
	},
	StateInferredPaused: {
		StateFullyPaused: {},
		StateActive:      {},
	},
	StateFullyPaused: {
		StateInferredPaused: {},
	},
}

// canTransition reports whether the automatic state machine may move from one
// state to another.
func canTransition(from, to State) bool {
	_, ok := allowedTransitions[from][to]
	return ok
}

// Machine-checkable reasoning tags carried by skipped attribution results.
const (
	TagInferredPaused = "KILL_SWITCH:INFERRED_PAUSED"
	TagFullyPaused    = "KILL_SWITCH:FULLY_PAUSED"
)

// Status is the persisted circuit-breaker row for one scope. A scope with no
// row is active.
type Status struct {
	Scope pattern.Scope `json:"scope"`
	State State         `json:"state"`

	// Reason records why the current state was entered.
	Reason    string    `json:"reason,omitempty"`
	EnteredAt time.Time `json:"entered_at"`

	// AutoResumeAt is when the scope becomes due for resume evaluation. Zero
	// for active scopes and for manual pauses, which only an operator resumes.
	AutoResumeAt time.Time `json:"auto_resume_at,omitempty"`
}

// Outcome is one append-only row of the attribution outcome log. Every
// attribution writes one, including skipped ones, so health metrics see the
// full picture.
type Outcome struct {
	ID                 string             `json:"id"`
	Scope              pattern.Scope      `json:"scope"`
	IssueKey           string             `json:"issue_key"`
	CarrierQuoteType   evidence.QuoteType `json:"carrier_quote_type"`
	PatternCreated     bool               `json:"pattern_created"`
	InjectionOccurred  bool               `json:"injection_occurred"`
	RecurrenceObserved bool               `json:"recurrence_observed"`
	CreatedAt          time.Time          `json:"created_at"`
}

// Policy holds the tunable health thresholds and cooldowns.
type Policy struct {
	// HealthWindow is how many recent outcomes feed the metrics.
	HealthWindow int

	// HealthMinSamples is the minimum number of outcomes before the switch
	// trusts its own metrics; below it no automatic pause happens.
	HealthMinSamples int

	// InferredRatioMax and PrecisionPauseFloor together trigger
	// inferred_paused: too much guessed evidence with sagging precision.
	InferredRatioMax    float64
	PrecisionPauseFloor float64

	// PrecisionHardFloor or ImprovementFloor alone trigger fully_paused.
	PrecisionHardFloor float64
	ImprovementFloor   float64

	// Cooldowns set autoResumeAt when the respective state is entered.
	InferredCooldown time.Duration
	FullCooldown     time.Duration
}

// DefaultPolicy returns the shipped thresholds.
func DefaultPolicy() Policy {
	return Policy{
		HealthWindow:        20,
		HealthMinSamples:    10,
		InferredRatioMax:    0.5,
		PrecisionPauseFloor: 0.7,
		PrecisionHardFloor:  0.4,
		ImprovementFloor:    0.2,
		InferredCooldown:    48 * time.Hour,
		FullCooldown:        72 * time.Hour,
	}
}

// Validate checks that the policy is internally consistent.
func (p Policy) Validate() error {
	if p.HealthWindow <= 0 {
		return fmt.Errorf("health_window must be positive, got %d", p.HealthWindow)
	}
	if p.HealthMinSamples <= 0 || p.HealthMinSamples > p.HealthWindow {
		return fmt.Errorf("health_min_samples must be in [1,%d], got %d", p.HealthWindow, p.HealthMinSamples)
	}
	for _, v := range []struct {
		name  string
		value float64
	}{
		{"inferred_ratio_max", p.InferredRatioMax},
		{"precision_pause_floor", p.PrecisionPauseFloor},
		{"precision_hard_floor", p.PrecisionHardFloor},
		{"improvement_floor", p.ImprovementFloor},
	} {
		if v.value < 0 || v.value > 1 {
			return fmt.Errorf("%s must be in [0,1], got %v", v.name, v.value)
		}
	}
	if p.PrecisionHardFloor > p.PrecisionPauseFloor {
		return fmt.Errorf("precision_hard_floor %v must not exceed precision_pause_floor %v",
			p.PrecisionHardFloor, p.PrecisionPauseFloor)
	}
	if p.InferredCooldown <= 0 || p.FullCooldown <= 0 {
		return fmt.Errorf("cooldowns must be positive, got inferred=%v full=%v",
			p.InferredCooldown, p.FullCooldown)
	}
	return nil
}

// cooldownFor returns the auto-resume cooldown applied when entering a state.
func (p Policy) cooldownFor(state State) time.Duration {
	switch state {
	case StateFullyPaused:
		return p.FullCooldown
	case StateInferredPaused:
		return p.InferredCooldown
	default:
		return 0
	}
}
