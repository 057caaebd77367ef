// Package attribution turns a confirmed code-review finding and its evidence
// bundle into durable lifecycle state: it classifies the failure, routes the
// guidance into the pattern store or the provisional alert tier, and feeds
// the outcome log the kill switch watches.
package attribution

import (
	"context"

	"github.com/fyrsmithlabs/patternd/internal/evidence"
	"github.com/fyrsmithlabs/patternd/internal/injection"
	"github.com/fyrsmithlabs/patternd/internal/killswitch"
	"github.com/fyrsmithlabs/patternd/internal/pattern"
	"github.com/fyrsmithlabs/patternd/internal/promotion"
)

// ResultType says what one attribution did.
type ResultType string

const (
	// ResultCreated means a new pattern definition was inserted.
	ResultCreated ResultType = "created"
	// ResultDeduplicated means the finding matched an existing pattern and
	// only added an occurrence.
	ResultDeduplicated ResultType = "deduplicated"
	// ResultAlertCreated means a new provisional alert was opened.
	ResultAlertCreated ResultType = "alert_created"
	// ResultAlertLinked means the occurrence joined an existing alert,
	// possibly promoting it.
	ResultAlertLinked ResultType = "alert_linked"
	// ResultSkipped means the kill switch gated creation. A skip is a
	// first-class result, not an error.
	ResultSkipped ResultType = "skipped"
)

// AttributeRequest carries one confirmed finding and its evidence into the
// engine. Touches, technologies, and task types come from the review
// pipeline's issue tagging and land on the created pattern.
type AttributeRequest struct {
	Scope    pattern.Scope
	Finding  evidence.ConfirmedFinding
	Evidence evidence.EvidenceBundle

	Touches      []string
	Technologies []string
	TaskTypes    []string
}

// AttributionResult reports one attribution.
type AttributionResult struct {
	Type        ResultType
	FailureMode evidence.FailureMode

	// Reasoning explains the decision. For skips it carries the
	// machine-checkable kill-switch tag.
	Reasoning string

	Pattern      *pattern.Definition
	Alert        *promotion.Alert
	OccurrenceID string

	// Confidence is the refreshed attribution confidence of the pattern,
	// when one exists.
	Confidence float64

	// Redacted counts secret values scrubbed from the evidence before
	// persistence.
	Redacted int
}

// BatchResult collects per-finding outcomes of one batch. A failure
// attributing one finding never aborts its siblings.
type BatchResult struct {
	Results []AttributionResult

	// Errors is indexed in step with the request slice; nil entries mean
	// success.
	Errors []error
}

// Store is the persistence attribution needs. CreatePattern dedups by
// (scope, patternKey), returning the canonical row and whether a new one was
// inserted.
type Store interface {
	PatternByKey(ctx context.Context, scope pattern.Scope, patternKey string) (pattern.Definition, error)
	CreatePattern(ctx context.Context, def pattern.Definition) (pattern.Definition, bool, error)
	AppendOccurrence(ctx context.Context, occ pattern.Occurrence) error
	ListOccurrencesByPattern(ctx context.Context, patternID string) ([]pattern.Occurrence, error)
	RefreshPatternConfidence(ctx context.Context, id string, conf float64) error
	AppendOutcome(ctx context.Context, outcome killswitch.Outcome) error

	// LatestInjectionLog links the finding back to the warnings its issue
	// saw; pattern.ErrNotFound means the issue was never injected for.
	LatestInjectionLog(ctx context.Context, scope pattern.Scope, issueID string) (injection.Log, error)
}

// Scrubber redacts secret-shaped values from evidence fields before they are
// persisted.
type Scrubber interface {
	ScrubAll(fields ...*string) int
}
