package attribution

import (
	"strings"
	"testing"

	"github.com/fyrsmithlabs/patternd/internal/evidence"
)

func boolPtr(v bool) *bool { return &v }

func TestResolve(t *testing.T) {
	tests := []struct {
		name          string
		bundle        evidence.EvidenceBundle
		wantMode      evidence.FailureMode
		wantModifier  float64
		wantDriftFlag bool
		wantReasoning []string // substrings the reasoning must contain
	}{
		// --- drift ---
		{
			name: "retrievable source disagrees with carrier",
			bundle: evidence.EvidenceBundle{
				CarrierQuoteType:        evidence.QuoteVerbatim,
				HasCitation:             true,
				CitedSources:            []string{"docs/auth.md"},
				SourceRetrievable:       true,
				SourceAgreesWithCarrier: boolPtr(false),
			},
			wantMode:      evidence.FailureSynthesisDrift,
			wantReasoning: []string{"disagrees"},
		},
		{
			name: "citation present but source unretrievable",
			bundle: evidence.EvidenceBundle{
				CarrierQuoteType:  evidence.QuoteVerbatim,
				HasCitation:       true,
				SourceRetrievable: false,
			},
			wantMode:      evidence.FailureIncorrect,
			wantModifier:  -0.15,
			wantDriftFlag: true,
			wantReasoning: []string{"could not be retrieved"},
		},
		{
			name: "source agrees so drift rules fall through",
			bundle: evidence.EvidenceBundle{
				CarrierQuoteType:        evidence.QuoteVerbatim,
				HasCitation:             true,
				SourceRetrievable:       true,
				SourceAgreesWithCarrier: boolPtr(true),
				MandatoryDocMissing:     true,
				MissingDocID:            "standards/crypto.md",
			},
			wantMode:      evidence.FailureMissingReference,
			wantReasoning: []string{"standards/crypto.md"},
		},
		{
			name: "agreement unverifiable falls through",
			bundle: evidence.EvidenceBundle{
				CarrierQuoteType:    evidence.QuoteVerbatim,
				HasCitation:         true,
				SourceRetrievable:   true,
				MandatoryDocMissing: true,
			},
			wantMode:      evidence.FailureMissingReference,
			wantReasoning: []string{"unknown"},
		},

		// --- missing reference ---
		{
			name: "mandatory doc missing without id cites unknown",
			bundle: evidence.EvidenceBundle{
				CarrierQuoteType:    evidence.QuoteParaphrase,
				MandatoryDocMissing: true,
			},
			wantMode:      evidence.FailureMissingReference,
			wantReasoning: []string{"unknown"},
		},

		// --- conflicts ---
		{
			name: "conflict signals enumerate every pair",
			bundle: evidence.EvidenceBundle{
				CarrierQuoteType: evidence.QuoteParaphrase,
				ConflictSignals: []evidence.ConflictSignal{
					{DocA: "api-spec.md", DocB: "style-guide.md", Topic: "error envelopes"},
					{DocA: "adr-12.md", DocB: "adr-31.md", Topic: "retry policy"},
				},
			},
			wantMode: evidence.FailureConflictUnresolved,
			wantReasoning: []string{
				"api-spec.md vs style-guide.md: error envelopes",
				"adr-12.md vs adr-31.md: retry policy",
			},
		},
		{
			name: "drift outranks conflicts",
			bundle: evidence.EvidenceBundle{
				CarrierQuoteType:        evidence.QuoteVerbatim,
				HasCitation:             true,
				SourceRetrievable:       true,
				SourceAgreesWithCarrier: boolPtr(false),
				ConflictSignals: []evidence.ConflictSignal{
					{DocA: "a.md", DocB: "b.md", Topic: "t"},
				},
			},
			wantMode: evidence.FailureSynthesisDrift,
		},

		// --- ambiguous vs incomplete ---
		{
			name: "vagueness without criteria wins as ambiguous",
			bundle: evidence.EvidenceBundle{
				CarrierQuoteType:              evidence.QuoteParaphrase,
				VaguenessSignals:              []string{"handle errors appropriately", "use a reasonable timeout"},
				HasTestableAcceptanceCriteria: false,
			},
			// ambiguity 3 vs incompleteness 0
			wantMode:      evidence.FailureAmbiguous,
			wantReasoning: []string{"3 vs 0", "2 vagueness signal(s)"},
		},
		{
			name: "inferred evidence wins as incomplete",
			bundle: evidence.EvidenceBundle{
				CarrierQuoteType:              evidence.QuoteInferred,
				HasTestableAcceptanceCriteria: true,
			},
			// incompleteness 3 vs ambiguity 0
			wantMode:      evidence.FailureIncomplete,
			wantReasoning: []string{"3 vs 0", "inferred"},
		},
		{
			name: "clean verbatim with citations leans incomplete",
			bundle: evidence.EvidenceBundle{
				CarrierQuoteType:              evidence.QuoteVerbatim,
				HasCitation:                   true,
				CitedSources:                  []string{"docs/cache.md"},
				SourceRetrievable:             true,
				HasTestableAcceptanceCriteria: true,
			},
			// incompleteness 2 (citation + clean verbatim) vs ambiguity 0
			wantMode: evidence.FailureIncomplete,
		},

		// --- instruction-kind default ---
		{
			name: "tie on harmful instruction resolves incorrect",
			bundle: evidence.EvidenceBundle{
				CarrierQuoteType:              evidence.QuoteParaphrase,
				CarrierInstructionKind:        evidence.KindExplicitlyHarmful,
				HasTestableAcceptanceCriteria: true,
			},
			// ambiguity 0, incompleteness 0: tie falls to the default
			wantMode:      evidence.FailureIncorrect,
			wantReasoning: []string{"explicitly harmful"},
		},
		{
			name: "tie on benign instruction resolves incomplete",
			bundle: evidence.EvidenceBundle{
				CarrierQuoteType:              evidence.QuoteParaphrase,
				CarrierInstructionKind:        evidence.KindBenignMissingGuardrails,
				HasTestableAcceptanceCriteria: true,
			},
			wantMode: evidence.FailureIncomplete,
		},
		{
			name: "equal nonzero scores still fall to default",
			bundle: evidence.EvidenceBundle{
				CarrierQuoteType:              evidence.QuoteParaphrase,
				VaguenessSignals:              []string{"as needed"},
				HasTestableAcceptanceCriteria: true,
				HasCitation:                   true,
				CitedSources:                  []string{"a.md", "b.md"},
				SourceRetrievable:             true, // keeps drift rules quiet
				CarrierInstructionKind:        evidence.KindDescriptive,
			},
			// ambiguity 1 vs incompleteness 1: a tie, so the descriptive
			// instruction kind decides
			wantMode: evidence.FailureIncomplete,
		},
		{
			name: "empty bundle resolves to a mode, never an error",
			bundle: evidence.EvidenceBundle{
				CarrierQuoteType: evidence.QuoteVerbatim,
			},
			// incompleteness 1 (clean verbatim) vs ambiguity 1 (no criteria):
			// tie, default rule, unknown kind
			wantMode: evidence.FailureIncomplete,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Resolve(tt.bundle)

			if got.FailureMode != tt.wantMode {
				t.Errorf("FailureMode = %q, want %q (reasoning: %s)", got.FailureMode, tt.wantMode, got.Reasoning)
			}
			if got.ConfidenceModifier != tt.wantModifier {
				t.Errorf("ConfidenceModifier = %v, want %v", got.ConfidenceModifier, tt.wantModifier)
			}
			if got.Flags.SuspectedSynthesisDrift != tt.wantDriftFlag {
				t.Errorf("SuspectedSynthesisDrift = %v, want %v", got.Flags.SuspectedSynthesisDrift, tt.wantDriftFlag)
			}
			if got.Reasoning == "" {
				t.Error("Reasoning must never be empty")
			}
			for _, want := range tt.wantReasoning {
				if !strings.Contains(got.Reasoning, want) {
					t.Errorf("Reasoning %q missing substring %q", got.Reasoning, want)
				}
			}
		})
	}
}

func TestResolveIsTotal(t *testing.T) {
	// Every combination of the boolean signal space must resolve.
	quoteTypes := []evidence.QuoteType{evidence.QuoteVerbatim, evidence.QuoteParaphrase, evidence.QuoteInferred}
	kinds := []evidence.InstructionKind{
		evidence.KindExplicitlyHarmful,
		evidence.KindBenignMissingGuardrails,
		evidence.KindDescriptive,
		evidence.KindUnknown,
	}
	agrees := []*bool{nil, boolPtr(true), boolPtr(false)}
	bools := []bool{false, true}

	for _, qt := range quoteTypes {
		for _, kind := range kinds {
			for _, agree := range agrees {
				for _, citation := range bools {
					for _, retrievable := range bools {
						for _, missing := range bools {
							b := evidence.EvidenceBundle{
								CarrierQuoteType:        qt,
								CarrierInstructionKind:  kind,
								HasCitation:             citation,
								SourceRetrievable:       retrievable,
								SourceAgreesWithCarrier: agree,
								MandatoryDocMissing:     missing,
							}
							got := Resolve(b)
							if !got.FailureMode.IsValid() {
								t.Fatalf("Resolve returned invalid mode %q for %+v", got.FailureMode, b)
							}
							if got.Reasoning == "" {
								t.Fatalf("Resolve returned empty reasoning for %+v", b)
							}
						}
					}
				}
			}
		}
	}
}

func TestResolveScoreComponents(t *testing.T) {
	tests := []struct {
		name               string
		bundle             evidence.EvidenceBundle
		wantAmbiguity      int
		wantIncompleteness int
	}{
		{
			name:               "baseline paraphrase with criteria",
			bundle:             evidence.EvidenceBundle{CarrierQuoteType: evidence.QuoteParaphrase, HasTestableAcceptanceCriteria: true},
			wantAmbiguity:      0,
			wantIncompleteness: 0,
		},
		{
			name: "vagueness stacks with missing criteria",
			bundle: evidence.EvidenceBundle{
				CarrierQuoteType: evidence.QuoteParaphrase,
				VaguenessSignals: []string{"a", "b", "c"},
			},
			wantAmbiguity:      4,
			wantIncompleteness: 0,
		},
		{
			name: "inferred with citations",
			bundle: evidence.EvidenceBundle{
				CarrierQuoteType:              evidence.QuoteInferred,
				HasCitation:                   true,
				CitedSources:                  []string{"x"},
				HasTestableAcceptanceCriteria: true,
			},
			wantAmbiguity:      0,
			wantIncompleteness: 4,
		},
		{
			name: "citation flag without sources does not count",
			bundle: evidence.EvidenceBundle{
				CarrierQuoteType:              evidence.QuoteParaphrase,
				HasCitation:                   true,
				HasTestableAcceptanceCriteria: true,
			},
			wantAmbiguity:      0,
			wantIncompleteness: 0,
		},
		{
			name: "verbatim bonus requires zero vagueness",
			bundle: evidence.EvidenceBundle{
				CarrierQuoteType:              evidence.QuoteVerbatim,
				VaguenessSignals:              []string{"whatever fits"},
				HasTestableAcceptanceCriteria: true,
			},
			wantAmbiguity:      1,
			wantIncompleteness: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ambiguityScore(tt.bundle); got != tt.wantAmbiguity {
				t.Errorf("ambiguityScore = %d, want %d", got, tt.wantAmbiguity)
			}
			if got := incompletenessScore(tt.bundle); got != tt.wantIncompleteness {
				t.Errorf("incompletenessScore = %d, want %d", got, tt.wantIncompleteness)
			}
		})
	}
}
