package confidence

import (
	"fmt"
	"time"
)

// Params holds the tunable constants of the scoring model. Values are policy,
// not derived facts, and load from configuration; DefaultParams documents the
// shipped behavior.
type Params struct {
	// VerbatimBase, ParaphraseBase and InferredBase are the starting
	// confidences keyed by how directly the evidence quoted the carrier
	// document. Verbatim evidence must outrank paraphrase, which must
	// outrank inferred.
	VerbatimBase   float64
	ParaphraseBase float64
	InferredBase   float64

	// OccurrenceBoost is added once per active occurrence beyond the first,
	// up to MaxBoostedOccurrences extra occurrences.
	OccurrenceBoost       float64
	MaxBoostedOccurrences int

	// DriftPenalty is subtracted when evidence carries a suspected
	// synthesis-drift flag (citation present but source unretrievable).
	DriftPenalty float64

	// HalfLife controls time decay: after one half-life without an active
	// occurrence, half of MaxDecayPenalty has been applied.
	HalfLife time.Duration

	// MaxDecayPenalty is the asymptotic ceiling of the decay deduction.
	MaxDecayPenalty float64

	// TouchMismatchFactor discounts injection priority when a pattern shares
	// no touch with the task profile.
	TouchMismatchFactor float64

	// CrossProjectFactor discounts injection priority for patterns imported
	// from another project, so local evidence sorts first.
	CrossProjectFactor float64
}

// DefaultParams returns the shipped scoring constants.
func DefaultParams() Params {
	return Params{
		VerbatimBase:          0.75,
		ParaphraseBase:        0.55,
		InferredBase:          0.40,
		OccurrenceBoost:       0.05,
		MaxBoostedOccurrences: 5,
		DriftPenalty:          0.15,
		HalfLife:              90 * 24 * time.Hour,
		MaxDecayPenalty:       0.6,
		TouchMismatchFactor:   0.4,
		CrossProjectFactor:    0.95,
	}
}

// Validate checks that the parameters describe a usable scoring model.
func (p Params) Validate() error {
	for _, v := range []struct {
		name  string
		value float64
	}{
		{"verbatim_base", p.VerbatimBase},
		{"paraphrase_base", p.ParaphraseBase},
		{"inferred_base", p.InferredBase},
		{"occurrence_boost", p.OccurrenceBoost},
		{"drift_penalty", p.DriftPenalty},
		{"max_decay_penalty", p.MaxDecayPenalty},
		{"touch_mismatch_factor", p.TouchMismatchFactor},
		{"cross_project_factor", p.CrossProjectFactor},
	} {
		if v.value < 0 || v.value > 1 {
			return fmt.Errorf("%s must be in [0,1], got %v", v.name, v.value)
		}
	}
	if p.VerbatimBase < p.ParaphraseBase || p.ParaphraseBase < p.InferredBase {
		return fmt.Errorf("quote-type bases must be ordered verbatim >= paraphrase >= inferred, got %v/%v/%v",
			p.VerbatimBase, p.ParaphraseBase, p.InferredBase)
	}
	if p.MaxBoostedOccurrences < 0 {
		return fmt.Errorf("max_boosted_occurrences must be >= 0, got %d", p.MaxBoostedOccurrences)
	}
	if p.HalfLife <= 0 {
		return fmt.Errorf("half_life must be positive, got %v", p.HalfLife)
	}
	return nil
}
