package killswitch

import (
	"fmt"

	"github.com/fyrsmithlabs/patternd/internal/evidence"
)

// HealthMetrics summarizes the recent attribution outcome log for one scope.
type HealthMetrics struct {
	// Samples is how many outcomes fed the computation.
	Samples int

	// Precision is 1 − (patterns created that later recurred / patterns
	// created). 1.0 when nothing was created: no evidence of bad creations.
	Precision float64

	// InferredRatio is the share of outcomes whose evidence was inferred.
	InferredRatio float64

	// ImprovementRate is the share of injected outcomes without a recurrence.
	// 1.0 when nothing was injected.
	ImprovementRate float64
}

// ComputeMetrics derives health metrics from recent outcomes. Callers pass
// the most recent Policy.HealthWindow rows; the function itself does not
// window.
func ComputeMetrics(outcomes []Outcome) HealthMetrics {
	m := HealthMetrics{Samples: len(outcomes), Precision: 1, ImprovementRate: 1}
	if len(outcomes) == 0 {
		return m
	}

	var created, createdRecurred, inferred, injected, improved int
	for _, o := range outcomes {
		if o.CarrierQuoteType == evidence.QuoteInferred {
			inferred++
		}
		if o.PatternCreated {
			created++
			if o.RecurrenceObserved {
				createdRecurred++
			}
		}
		if o.InjectionOccurred {
			injected++
			if !o.RecurrenceObserved {
				improved++
			}
		}
	}

	m.InferredRatio = float64(inferred) / float64(len(outcomes))
	if created > 0 {
		m.Precision = 1 - float64(createdRecurred)/float64(created)
	}
	if injected > 0 {
		m.ImprovementRate = float64(improved) / float64(injected)
	}
	return m
}

// Assess maps health metrics to the state they call for, with the reason a
// transition would record. Below the sample minimum the metrics are noise and
// the answer is always active.
func (p Policy) Assess(m HealthMetrics) (State, string) {
	if m.Samples < p.HealthMinSamples {
		return StateActive, fmt.Sprintf("insufficient samples (%d < %d)", m.Samples, p.HealthMinSamples)
	}
	if m.Precision < p.PrecisionHardFloor {
		return StateFullyPaused, fmt.Sprintf("attribution precision %.2f below hard floor %.2f", m.Precision, p.PrecisionHardFloor)
	}
	if m.ImprovementRate < p.ImprovementFloor {
		return StateFullyPaused, fmt.Sprintf("observed improvement rate %.2f below floor %.2f", m.ImprovementRate, p.ImprovementFloor)
	}
	if m.InferredRatio > p.InferredRatioMax && m.Precision < p.PrecisionPauseFloor {
		return StateInferredPaused, fmt.Sprintf("inferred ratio %.2f above %.2f with precision %.2f below %.2f",
			m.InferredRatio, p.InferredRatioMax, m.Precision, p.PrecisionPauseFloor)
	}
	return StateActive, fmt.Sprintf("healthy (precision %.2f, inferred ratio %.2f, improvement %.2f)",
		m.Precision, m.InferredRatio, m.ImprovementRate)
}

// Decision is the gating verdict for one attribution attempt.
type Decision struct {
	// Allowed reports whether pattern/occurrence creation may proceed.
	Allowed bool

	// Tag is the machine-checkable reasoning tag when creation is skipped,
	// empty otherwise.
	Tag string

	// State is the switch position the decision was made under.
	State State
}

// Gate applies the gating contract for a state and the evidence quote type.
// It gates only new pattern creation; injection of existing patterns is never
// gated.
func Gate(state State, quoteType evidence.QuoteType) Decision {
	switch state {
	case StateFullyPaused:
		return Decision{Allowed: false, Tag: TagFullyPaused, State: state}
	case StateInferredPaused:
		if quoteType == evidence.QuoteInferred {
			return Decision{Allowed: false, Tag: TagInferredPaused, State: state}
		}
		return Decision{Allowed: true, State: state}
	default:
		return Decision{Allowed: true, State: state}
	}
}

// stepToward returns the next state moving one step from current toward
// active.
func stepToward(current State) State {
	switch current {
	case StateFullyPaused:
		return StateInferredPaused
	case StateInferredPaused:
		return StateActive
	default:
		return StateActive
	}
}
