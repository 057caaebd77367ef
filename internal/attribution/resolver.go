package attribution

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/patternd/internal/confidence"
	"github.com/fyrsmithlabs/patternd/internal/evidence"
)

// Resolution is the deterministic classification of why carried guidance
// produced a confirmed finding.
type Resolution struct {
	FailureMode evidence.FailureMode

	// Reasoning is a human-readable account of the rule that fired, suitable
	// for surfacing in review output.
	Reasoning string

	// ConfidenceModifier documents the penalty this resolution carries into
	// scoring. The confidence engine already applies it through Flags;
	// callers must not subtract it a second time.
	ConfidenceModifier float64

	Flags confidence.Flags
}

// resolveRule pairs a predicate with the resolution it produces. Rules are
// evaluated in order; the first match wins.
type resolveRule struct {
	name    string
	matches func(evidence.EvidenceBundle) bool
	resolve func(evidence.EvidenceBundle) Resolution
}

// resolveRules is the failure-mode decision tree, ordered from the most
// evidence-specific signal (a cited source that contradicts the carrier) down
// to the instruction-kind default. The final rule matches everything.
var resolveRules = []resolveRule{
	{
		name: "synthesis drift confirmed",
		matches: func(b evidence.EvidenceBundle) bool {
			return b.HasCitation && b.SourceRetrievable &&
				b.SourceAgreesWithCarrier != nil && !*b.SourceAgreesWithCarrier
		},
		resolve: func(b evidence.EvidenceBundle) Resolution {
			return Resolution{
				FailureMode: evidence.FailureSynthesisDrift,
				Reasoning:   "carrier cites a retrievable source that disagrees with the carrier's rendering of it",
			}
		},
	},
	{
		name: "synthesis drift suspected",
		matches: func(b evidence.EvidenceBundle) bool {
			return b.HasCitation && !b.SourceRetrievable
		},
		resolve: func(b evidence.EvidenceBundle) Resolution {
			return Resolution{
				FailureMode:        evidence.FailureIncorrect,
				Reasoning:          "carrier cites a source that could not be retrieved; drift cannot be ruled out",
				ConfidenceModifier: -0.15,
				Flags:              confidence.Flags{SuspectedSynthesisDrift: true},
			}
		},
	},
	{
		name: "missing reference",
		matches: func(b evidence.EvidenceBundle) bool {
			return b.MandatoryDocMissing
		},
		resolve: func(b evidence.EvidenceBundle) Resolution {
			docID := b.MissingDocID
			if docID == "" {
				docID = "unknown"
			}
			return Resolution{
				FailureMode: evidence.FailureMissingReference,
				Reasoning:   fmt.Sprintf("mandatory document was absent when the carrier was assembled: %s", docID),
			}
		},
	},
	{
		name: "unresolved conflicts",
		matches: func(b evidence.EvidenceBundle) bool {
			return len(b.ConflictSignals) > 0
		},
		resolve: func(b evidence.EvidenceBundle) Resolution {
			conflicts := make([]string, len(b.ConflictSignals))
			for i, c := range b.ConflictSignals {
				conflicts[i] = fmt.Sprintf("%s vs %s: %s", c.DocA, c.DocB, c.Topic)
			}
			return Resolution{
				FailureMode: evidence.FailureConflictUnresolved,
				Reasoning:   "carrier left source conflicts unresolved: " + strings.Join(conflicts, "; "),
			}
		},
	},
	{
		name: "ambiguity vs incompleteness",
		matches: func(b evidence.EvidenceBundle) bool {
			// Only a strict winner resolves here; ties fall through to the
			// instruction-kind default.
			return ambiguityScore(b) != incompletenessScore(b)
		},
		resolve: func(b evidence.EvidenceBundle) Resolution {
			ambiguity, incompleteness := ambiguityScore(b), incompletenessScore(b)
			if ambiguity > incompleteness {
				return Resolution{
					FailureMode: evidence.FailureAmbiguous,
					Reasoning: fmt.Sprintf("ambiguity outweighs incompleteness (%d vs %d): %d vagueness signal(s), testable acceptance criteria %v",
						ambiguity, incompleteness, len(b.VaguenessSignals), b.HasTestableAcceptanceCriteria),
				}
			}
			return Resolution{
				FailureMode: evidence.FailureIncomplete,
				Reasoning: fmt.Sprintf("incompleteness outweighs ambiguity (%d vs %d): quote type %q, %d cited source(s)",
					incompleteness, ambiguity, b.CarrierQuoteType, len(b.CitedSources)),
			}
		},
	},
	{
		name:    "instruction-kind default",
		matches: func(evidence.EvidenceBundle) bool { return true },
		resolve: func(b evidence.EvidenceBundle) Resolution {
			if b.CarrierInstructionKind == evidence.KindExplicitlyHarmful {
				return Resolution{
					FailureMode: evidence.FailureIncorrect,
					Reasoning:   "carrier instruction is explicitly harmful",
				}
			}
			return Resolution{
				FailureMode: evidence.FailureIncomplete,
				Reasoning:   fmt.Sprintf("no stronger signal present; instruction kind %q defaults to incomplete guidance", b.CarrierInstructionKind),
			}
		},
	},
}

// Resolve classifies an evidence bundle into exactly one failure mode. The
// function is total: every bundle yields a resolution, never an error.
func Resolve(bundle evidence.EvidenceBundle) Resolution {
	for _, rule := range resolveRules {
		if rule.matches(bundle) {
			return rule.resolve(bundle)
		}
	}
	// Unreachable: the default rule matches every bundle.
	return Resolution{
		FailureMode: evidence.FailureIncomplete,
		Reasoning:   "no rule matched",
	}
}

// ambiguityScore counts signals that the guidance was too vague to act on:
// each vagueness signal, plus one when no testable acceptance criteria exist.
func ambiguityScore(b evidence.EvidenceBundle) int {
	score := len(b.VaguenessSignals)
	if !b.HasTestableAcceptanceCriteria {
		score++
	}
	return score
}

// incompletenessScore counts signals that the guidance omitted something:
// inferred evidence weighs heaviest (the guidance had to be deduced from
// absence), citations add one (the carrier engaged sources yet the finding
// still happened), and clean verbatim text with no vagueness adds one (the
// text itself was fine, so something was left out around it).
func incompletenessScore(b evidence.EvidenceBundle) int {
	var score int
	if b.CarrierQuoteType == evidence.QuoteInferred {
		score += 3
	}
	if b.HasCitation && len(b.CitedSources) > 0 {
		score++
	}
	if len(b.VaguenessSignals) == 0 && b.CarrierQuoteType == evidence.QuoteVerbatim {
		score++
	}
	return score
}
