package evidence

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Boundary validation errors. Callers branch with errors.Is.
var (
	// ErrInvalidFinding indicates a malformed confirmed finding.
	ErrInvalidFinding = errors.New("invalid confirmed finding")

	// ErrInvalidBundle indicates a malformed evidence bundle.
	ErrInvalidBundle = errors.New("invalid evidence bundle")
)

// validate is the shared validator instance. Custom enum validators are
// registered once at package init; registration cannot fail for func-backed
// validators with fixed tags.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	mustRegister(v, "carrier_stage", func(fl validator.FieldLevel) bool {
		return CarrierStage(fl.Field().String()).IsValid()
	})
	mustRegister(v, "quote_type", func(fl validator.FieldLevel) bool {
		return QuoteType(fl.Field().String()).IsValid()
	})
	mustRegister(v, "instruction_kind", func(fl validator.FieldLevel) bool {
		return InstructionKind(fl.Field().String()).IsValid()
	})
	mustRegister(v, "severity", func(fl validator.FieldLevel) bool {
		return Severity(fl.Field().String()).IsValid()
	})
	mustRegister(v, "finding_category", func(fl validator.FieldLevel) bool {
		return FindingCategory(fl.Field().String()).IsValid()
	})

	return v
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("evidence: register %q validator: %v", tag, err))
	}
}

// ValidateFinding checks a confirmed finding at the engine boundary.
// Malformed findings never reach the resolver.
func ValidateFinding(f *ConfirmedFinding) error {
	if f == nil {
		return fmt.Errorf("%w: finding is nil", ErrInvalidFinding)
	}
	if err := validate.Struct(f); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidFinding, err)
	}
	return nil
}

// ValidateBundle checks an evidence bundle at the engine boundary.
//
// Beyond per-field shape, it enforces citation coherence: retrievability and
// source agreement are only meaningful claims when the carrier actually
// cites something, and a source cannot both be unretrievable and judged.
func ValidateBundle(b *EvidenceBundle) error {
	if b == nil {
		return fmt.Errorf("%w: bundle is nil", ErrInvalidBundle)
	}
	if err := validate.Struct(b); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidBundle, err)
	}

	if !b.HasCitation {
		if len(b.CitedSources) > 0 {
			return fmt.Errorf("%w: cited_sources present without has_citation", ErrInvalidBundle)
		}
		if b.SourceRetrievable {
			return fmt.Errorf("%w: source_retrievable set without has_citation", ErrInvalidBundle)
		}
		if b.SourceAgreesWithCarrier != nil {
			return fmt.Errorf("%w: source_agrees_with_carrier set without has_citation", ErrInvalidBundle)
		}
	}
	if !b.SourceRetrievable && b.SourceAgreesWithCarrier != nil {
		return fmt.Errorf("%w: source_agrees_with_carrier set for unretrievable source", ErrInvalidBundle)
	}
	// MissingDocID may be empty even when MandatoryDocMissing is set; the
	// resolver cites "unknown" in that case. The reverse is incoherent.
	if !b.MandatoryDocMissing && b.MissingDocID != "" {
		return fmt.Errorf("%w: missing_doc_id present without mandatory_doc_missing", ErrInvalidBundle)
	}
	for i, cs := range b.ConflictSignals {
		if cs.DocA == cs.DocB {
			return fmt.Errorf("%w: conflict_signals[%d] names the same doc on both sides", ErrInvalidBundle, i)
		}
	}
	return nil
}
