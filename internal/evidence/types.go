package evidence

// CarrierStage identifies which document physically carried the guidance an
// agent read: the generated context pack or the task spec.
type CarrierStage string

const (
	CarrierStageContextPack CarrierStage = "context_pack"
	CarrierStageSpec        CarrierStage = "spec"
)

// ValidCarrierStages contains all valid carrier stages.
var ValidCarrierStages = map[CarrierStage]bool{
	CarrierStageContextPack: true,
	CarrierStageSpec:        true,
}

// IsValid returns true if the carrier stage is recognized.
func (s CarrierStage) IsValid() bool {
	return ValidCarrierStages[s]
}

// QuoteType describes how directly the guidance was drawn from its carrier.
type QuoteType string

const (
	// QuoteVerbatim means the guidance text was quoted exactly.
	QuoteVerbatim QuoteType = "verbatim"
	// QuoteParaphrase means the guidance was restated in other words.
	QuoteParaphrase QuoteType = "paraphrase"
	// QuoteInferred means the guidance was deduced from what the carrier
	// failed to say (absence-based evidence).
	QuoteInferred QuoteType = "inferred"
)

// ValidQuoteTypes contains all valid quote types.
var ValidQuoteTypes = map[QuoteType]bool{
	QuoteVerbatim:   true,
	QuoteParaphrase: true,
	QuoteInferred:   true,
}

// IsValid returns true if the quote type is recognized.
func (q QuoteType) IsValid() bool {
	return ValidQuoteTypes[q]
}

// InstructionKind classifies the intent of the carrier instruction.
type InstructionKind string

const (
	KindExplicitlyHarmful       InstructionKind = "explicitly_harmful"
	KindBenignMissingGuardrails InstructionKind = "benign_but_missing_guardrails"
	KindDescriptive             InstructionKind = "descriptive"
	KindUnknown                 InstructionKind = "unknown"
)

// ValidInstructionKinds contains all valid instruction kinds.
var ValidInstructionKinds = map[InstructionKind]bool{
	KindExplicitlyHarmful:       true,
	KindBenignMissingGuardrails: true,
	KindDescriptive:             true,
	KindUnknown:                 true,
}

// IsValid returns true if the instruction kind is recognized.
func (k InstructionKind) IsValid() bool {
	return ValidInstructionKinds[k]
}

// Severity is the reviewer-assigned severity of a confirmed finding.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// ValidSeverities contains all valid severities.
var ValidSeverities = map[Severity]bool{
	SeverityLow:      true,
	SeverityMedium:   true,
	SeverityHigh:     true,
	SeverityCritical: true,
}

// IsValid returns true if the severity is recognized.
func (s Severity) IsValid() bool {
	return ValidSeverities[s]
}

// severityRanks orders severities for monotonic comparisons.
var severityRanks = map[Severity]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// Rank returns the ordinal position of the severity (LOW=1 .. CRITICAL=4).
// Unknown severities rank 0.
func (s Severity) Rank() int {
	return severityRanks[s]
}

// Weight returns the injection-priority weight of the severity.
func (s Severity) Weight() float64 {
	switch s {
	case SeverityLow:
		return 0.25
	case SeverityMedium:
		return 0.5
	case SeverityHigh:
		return 0.75
	case SeverityCritical:
		return 1.0
	default:
		return 0
	}
}

// AtLeast reports whether s is at least as severe as other.
func (s Severity) AtLeast(other Severity) bool {
	return s.Rank() >= other.Rank()
}

// MaxSeverity returns the more severe of a and b.
func MaxSeverity(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// FailureMode is the deterministic classification of why carried guidance
// produced a confirmed finding.
type FailureMode string

const (
	// FailureSynthesisDrift means the carrier cites a retrievable source that
	// disagrees with what the carrier says the source says.
	FailureSynthesisDrift FailureMode = "synthesis_drift"
	// FailureMissingReference means a mandatory document was absent when the
	// carrier was assembled.
	FailureMissingReference FailureMode = "missing_reference"
	// FailureConflictUnresolved means two source documents disagreed and the
	// carrier picked neither side explicitly.
	FailureConflictUnresolved FailureMode = "conflict_unresolved"
	// FailureAmbiguous means the guidance was too vague to act on safely.
	FailureAmbiguous FailureMode = "ambiguous"
	// FailureIncomplete means the guidance omitted a necessary constraint.
	FailureIncomplete FailureMode = "incomplete"
	// FailureIncorrect means the guidance was simply wrong.
	FailureIncorrect FailureMode = "incorrect"
)

// ValidFailureModes contains all valid failure modes.
var ValidFailureModes = map[FailureMode]bool{
	FailureSynthesisDrift:     true,
	FailureMissingReference:   true,
	FailureConflictUnresolved: true,
	FailureAmbiguous:          true,
	FailureIncomplete:         true,
	FailureIncorrect:          true,
}

// IsValid returns true if the failure mode is recognized.
func (m FailureMode) IsValid() bool {
	return ValidFailureModes[m]
}

// ConflictSignal records a disagreement between two source documents on a
// topic the carrier needed to resolve.
type ConflictSignal struct {
	DocA  string `json:"doc_a" validate:"required,max=256"`
	DocB  string `json:"doc_b" validate:"required,max=256"`
	Topic string `json:"topic" validate:"required,max=512"`
}

// EvidenceBundle is the attribution agent's account of why the guidance
// behind one confirmed finding failed. It is immutable per finding; the
// engine only reads it.
type EvidenceBundle struct {
	CarrierStage           CarrierStage    `json:"carrier_stage" validate:"required,carrier_stage"`
	CarrierQuote           string          `json:"carrier_quote" validate:"required,max=8192"`
	CarrierQuoteType       QuoteType       `json:"carrier_quote_type" validate:"required,quote_type"`
	CarrierInstructionKind InstructionKind `json:"carrier_instruction_kind,omitempty" validate:"omitempty,instruction_kind"`

	// Citation trail. SourceAgreesWithCarrier is nil when the agent could not
	// make the comparison; it is only meaningful when HasCitation is set.
	HasCitation             bool     `json:"has_citation"`
	CitedSources            []string `json:"cited_sources,omitempty" validate:"max=32,dive,min=1,max=512"`
	SourceRetrievable       bool     `json:"source_retrievable"`
	SourceAgreesWithCarrier *bool    `json:"source_agrees_with_carrier,omitempty"`

	// Missing-reference signals.
	MandatoryDocMissing bool   `json:"mandatory_doc_missing"`
	MissingDocID        string `json:"missing_doc_id,omitempty" validate:"max=256"`

	// Ambiguity signals.
	VaguenessSignals              []string `json:"vagueness_signals,omitempty" validate:"max=32,dive,min=1,max=512"`
	HasTestableAcceptanceCriteria bool     `json:"has_testable_acceptance_criteria"`

	// Conflict signals.
	ConflictSignals []ConflictSignal `json:"conflict_signals,omitempty" validate:"max=32,dive"`

	// Document fingerprints for occurrence provenance.
	CarrierFingerprint string   `json:"carrier_fingerprint,omitempty" validate:"max=128"`
	OriginFingerprint  string   `json:"origin_fingerprint,omitempty" validate:"max=128"`
	ProvenanceChain    []string `json:"provenance_chain,omitempty" validate:"max=16,dive,min=1,max=512"`

	// Alternative is the agent's suggested replacement guidance, if any.
	Alternative string `json:"alternative,omitempty" validate:"max=8192"`
}

// ConfirmedFinding is a code-review finding a human (or the review pipeline)
// has confirmed as real. Produced by the PR-review collaborator.
type ConfirmedFinding struct {
	ID          string          `json:"id" validate:"required,max=128"`
	ScoutType   string          `json:"scout_type" validate:"required,max=64"`
	Title       string          `json:"title" validate:"required,max=512"`
	Description string          `json:"description,omitempty" validate:"max=8192"`
	Severity    Severity        `json:"severity" validate:"required,severity"`
	Category    FindingCategory `json:"category,omitempty" validate:"omitempty,finding_category"`
	Evidence    string          `json:"evidence,omitempty" validate:"max=16384"`
	Location    string          `json:"location,omitempty" validate:"max=1024"`
	IssueID     string          `json:"issue_id,omitempty" validate:"max=128"`
	PRNumber    int             `json:"pr_number,omitempty" validate:"min=0"`
}

// ResolvedCategory returns the finding's explicit category when set,
// otherwise the category implied by its scout type.
func (f *ConfirmedFinding) ResolvedCategory() FindingCategory {
	if f.Category != "" {
		return f.Category
	}
	return CategoryForScoutType(f.ScoutType)
}
