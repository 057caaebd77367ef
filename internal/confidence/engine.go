// Package confidence scores patterns: attribution confidence with time decay,
// and injection priority at selection time. Both are pure functions of stored
// data; nothing here touches the database or the clock on its own.
package confidence

import (
	"fmt"
	"math"
	"time"

	"github.com/fyrsmithlabs/patternd/internal/evidence"
	"github.com/fyrsmithlabs/patternd/internal/pattern"
)

// Stats summarizes a pattern's occurrence history. Stats are recomputed from
// occurrence rows on demand and never persisted.
type Stats struct {
	TotalOccurrences  int
	ActiveOccurrences int

	// LastSeenActive is the most recent CreatedAt among active occurrences,
	// zero when none are active.
	LastSeenActive time.Time

	// InjectionCount counts occurrences whose pattern had been injected into
	// the task that produced them.
	InjectionCount int

	// AdherenceRate is the mean of WasAdheredTo over occurrences where it is
	// recorded, nil when no occurrence has an adherence verdict yet.
	AdherenceRate *float64
}

// Flags carries per-attribution signals that adjust confidence beyond what the
// stored pattern state can express.
type Flags struct {
	SuspectedSynthesisDrift bool
}

// ComputeStats derives Stats from a pattern's occurrence rows.
func ComputeStats(occurrences []pattern.Occurrence) Stats {
	var s Stats
	var rated, adhered int
	s.TotalOccurrences = len(occurrences)
	for _, occ := range occurrences {
		if occ.Status == pattern.OccurrenceActive {
			s.ActiveOccurrences++
			if occ.CreatedAt.After(s.LastSeenActive) {
				s.LastSeenActive = occ.CreatedAt
			}
		}
		if occ.WasInjected {
			s.InjectionCount++
		}
		if occ.WasAdheredTo != nil {
			rated++
			if *occ.WasAdheredTo {
				adhered++
			}
		}
	}
	if rated > 0 {
		rate := float64(adhered) / float64(rated)
		s.AdherenceRate = &rate
	}
	return s
}

// Engine evaluates the scoring model under a fixed set of Params.
type Engine struct {
	params Params
}

// NewEngine creates a scoring engine, rejecting unusable parameters.
func NewEngine(params Params) (*Engine, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid confidence params: %w", err)
	}
	return &Engine{params: params}, nil
}

// AttributionConfidence scores how much trust a pattern's attribution deserves
// at the given instant.
//
// The score starts from a base keyed by quote type (verbatim > paraphrase >
// inferred), adds a corroboration boost per additional active occurrence up to
// a cap, subtracts time decay since the pattern was last seen active, and
// subtracts a fixed penalty when the evidence suggests synthesis drift. The
// result is clamped to [0, 1].
func (e *Engine) AttributionConfidence(def pattern.Definition, stats Stats, flags Flags, now time.Time) float64 {
	score := e.base(def.PrimaryQuoteType)

	// Corroboration: each active occurrence beyond the first adds a fixed
	// boost, capped so a noisy pattern cannot inflate itself indefinitely.
	if extra := stats.ActiveOccurrences - 1; extra > 0 {
		if extra > e.params.MaxBoostedOccurrences {
			extra = e.params.MaxBoostedOccurrences
		}
		score += float64(extra) * e.params.OccurrenceBoost
	}

	score -= e.DecayPenalty(def, stats.LastSeenActive, now)

	if flags.SuspectedSynthesisDrift {
		score -= e.params.DriftPenalty
	}

	return clamp01(score)
}

// DecayPenalty returns the staleness deduction for a pattern last seen active
// at lastSeenActive, evaluated at now.
//
// Non-permanent patterns decay on an exponential half-life curve:
//
//	maxDecayPenalty × (1 − 2^(−elapsed/halfLife))
//
// The penalty is zero at lastSeenActive, half the maximum after one half-life,
// and approaches maxDecayPenalty asymptotically. Permanent patterns never
// decay. A zero lastSeenActive (no active occurrences at all) yields the full
// penalty.
func (e *Engine) DecayPenalty(def pattern.Definition, lastSeenActive, now time.Time) float64 {
	if def.Permanent {
		return 0
	}
	if lastSeenActive.IsZero() {
		return e.params.MaxDecayPenalty
	}
	elapsed := now.Sub(lastSeenActive)
	if elapsed <= 0 {
		return 0
	}
	ratio := elapsed.Seconds() / e.params.HalfLife.Seconds()
	return e.params.MaxDecayPenalty * (1 - math.Exp2(-ratio))
}

// InjectionPriority ranks a pattern against the task about to run. Severity
// carries the most weight (the monotonic high-water mark, not the latest
// observation); patterns touching none of the task's areas are discounted,
// and patterns imported from another project are discounted slightly so local
// evidence sorts first. Priority is computed at selection time only and never
// persisted.
func (e *Engine) InjectionPriority(def pattern.Definition, profile pattern.TaskProfile, crossProject bool) float64 {
	priority := def.SeverityMax.Weight()

	if !def.Touches.Overlaps(profile.Touches) {
		priority *= e.params.TouchMismatchFactor
	}
	if crossProject {
		priority *= e.params.CrossProjectFactor
	}
	return priority
}

// base maps a quote type to its starting confidence. Unknown values get the
// inferred (lowest) base so malformed input can only underestimate.
func (e *Engine) base(qt evidence.QuoteType) float64 {
	switch qt {
	case evidence.QuoteVerbatim:
		return e.params.VerbatimBase
	case evidence.QuoteParaphrase:
		return e.params.ParaphraseBase
	default:
		return e.params.InferredBase
	}
}

// clamp01 bounds a score to the valid confidence range [0.0, 1.0].
func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
