package pattern

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/fyrsmithlabs/patternd/internal/evidence"
)

// Domain errors shared by the pattern repositories.
var (
	// ErrNotFound indicates the requested row does not exist. Stores return
	// it for every entity so callers can branch without importing the store.
	ErrNotFound = errors.New("not found")

	// ErrImmutableField indicates an update tried to change a write-once
	// field (pattern content, pattern key, or content hash).
	ErrImmutableField = errors.New("immutable field")

	// ErrInvalidScope indicates a malformed workspace or project id.
	ErrInvalidScope = errors.New("invalid scope")

	// ErrInvalidPattern indicates a pattern definition that fails validation.
	ErrInvalidPattern = errors.New("invalid pattern definition")

	// ErrInvalidOccurrence indicates an occurrence that fails validation.
	ErrInvalidOccurrence = errors.New("invalid occurrence")
)

// scopeIDPattern constrains workspace and project identifiers.
var scopeIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// Scope identifies the (workspace, project) a pattern belongs to.
// Deduplication, kill-switch state, and decay sweeps are all scoped here.
type Scope struct {
	WorkspaceID string `json:"workspace_id"`
	ProjectID   string `json:"project_id"`
}

// Validate checks both scope identifiers.
func (s Scope) Validate() error {
	if !scopeIDPattern.MatchString(s.WorkspaceID) {
		return fmt.Errorf("%w: workspace id %q", ErrInvalidScope, s.WorkspaceID)
	}
	if !scopeIDPattern.MatchString(s.ProjectID) {
		return fmt.Errorf("%w: project id %q", ErrInvalidScope, s.ProjectID)
	}
	return nil
}

// String renders the scope as workspace/project for logs and spans.
func (s Scope) String() string {
	return s.WorkspaceID + "/" + s.ProjectID
}

// ValidScopeID reports whether a single identifier is well formed. Used for
// workspace-only operations (principles, baseline seeding).
func ValidScopeID(id string) bool {
	return scopeIDPattern.MatchString(id)
}

// Status is the lifecycle state of a pattern definition.
type Status string

const (
	StatusActive     Status = "active"
	StatusArchived   Status = "archived"
	StatusSuperseded Status = "superseded"
)

// ValidStatuses contains all valid pattern statuses.
var ValidStatuses = map[Status]bool{
	StatusActive:     true,
	StatusArchived:   true,
	StatusSuperseded: true,
}

// IsValid returns true if the status is recognized.
func (s Status) IsValid() bool {
	return ValidStatuses[s]
}

// Definition is one piece of bad guidance, deduplicated by content hash
// within its scope. Content, key, and hash are write-once; severityMax only
// rises; everything else may change over the pattern's life.
type Definition struct {
	ID    string `json:"id"`
	Scope Scope  `json:"scope"`

	// Identity. PatternKey = sha256(stage|normalize(content)|category),
	// ContentHash = sha256(normalize(content)). Both write-once.
	PatternKey  string `json:"pattern_key"`
	ContentHash string `json:"content_hash"`
	Content     string `json:"pattern_content"`

	FailureMode evidence.FailureMode     `json:"failure_mode"`
	Category    evidence.FindingCategory `json:"finding_category"`

	// Severity is the latest observed severity; SeverityMax never decreases.
	Severity    evidence.Severity `json:"severity"`
	SeverityMax evidence.Severity `json:"severity_max"`

	// Alternative is the suggested replacement guidance, when known.
	Alternative string `json:"alternative,omitempty"`

	CarrierStage     evidence.CarrierStage `json:"carrier_stage"`
	PrimaryQuoteType evidence.QuoteType    `json:"primary_carrier_quote_type"`

	Technologies TagSet   `json:"technologies,omitempty"`
	TaskTypes    TagSet   `json:"task_types,omitempty"`
	Touches      TouchSet `json:"touches,omitempty"`

	// Confidence is the last computed attribution confidence; refreshed at
	// attribution time and by decay sweeps.
	Confidence float64 `json:"confidence"`

	Status       Status `json:"status"`
	Permanent    bool   `json:"permanent"`
	SupersededBy string `json:"superseded_by,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks a definition before it reaches the store.
func (d *Definition) Validate() error {
	if d == nil {
		return fmt.Errorf("%w: nil definition", ErrInvalidPattern)
	}
	if err := d.Scope.Validate(); err != nil {
		return err
	}
	if d.Content == "" {
		return fmt.Errorf("%w: content is required", ErrInvalidPattern)
	}
	if d.PatternKey == "" || d.ContentHash == "" {
		return fmt.Errorf("%w: pattern key and content hash are required", ErrInvalidPattern)
	}
	if !d.FailureMode.IsValid() {
		return fmt.Errorf("%w: failure mode %q", ErrInvalidPattern, d.FailureMode)
	}
	if !d.Category.IsValid() {
		return fmt.Errorf("%w: category %q", ErrInvalidPattern, d.Category)
	}
	if !d.Severity.IsValid() {
		return fmt.Errorf("%w: severity %q", ErrInvalidPattern, d.Severity)
	}
	if d.SeverityMax != "" && !d.SeverityMax.IsValid() {
		return fmt.Errorf("%w: severity max %q", ErrInvalidPattern, d.SeverityMax)
	}
	if !d.CarrierStage.IsValid() {
		return fmt.Errorf("%w: carrier stage %q", ErrInvalidPattern, d.CarrierStage)
	}
	if !d.PrimaryQuoteType.IsValid() {
		return fmt.Errorf("%w: quote type %q", ErrInvalidPattern, d.PrimaryQuoteType)
	}
	if d.Status != "" && !d.Status.IsValid() {
		return fmt.Errorf("%w: status %q", ErrInvalidPattern, d.Status)
	}
	if d.Confidence < 0 || d.Confidence > 1 {
		return fmt.Errorf("%w: confidence %v outside [0,1]", ErrInvalidPattern, d.Confidence)
	}
	for _, t := range d.Touches {
		if !t.IsValid() {
			return fmt.Errorf("%w: touch %q", ErrInvalidPattern, t)
		}
	}
	return nil
}

// OccurrenceStatus is the lifecycle state of a single occurrence.
type OccurrenceStatus string

const (
	OccurrenceActive   OccurrenceStatus = "active"
	OccurrenceInactive OccurrenceStatus = "inactive"
)

// Occurrence is one observation of a pattern (or provisional alert) in a
// confirmed finding. Occurrences are append-only: content fields never
// change and rows are never deleted, only marked inactive when a cited
// document's fingerprint changes.
type Occurrence struct {
	ID string `json:"id"`

	// Exactly one of PatternID/AlertID is set at creation; alert promotion
	// relinks alert-held occurrences to the promoted pattern.
	PatternID string `json:"pattern_id,omitempty"`
	AlertID   string `json:"alert_id,omitempty"`

	Scope     Scope  `json:"scope"`
	FindingID string `json:"finding_id"`
	IssueID   string `json:"issue_id,omitempty"`
	PRNumber  int    `json:"pr_number,omitempty"`

	Severity evidence.Severity `json:"severity"`

	// Evidence is the scrubbed JSON snapshot of the bundle that produced
	// this occurrence.
	Evidence string `json:"evidence,omitempty"`

	CarrierFingerprint string   `json:"carrier_fingerprint,omitempty"`
	OriginFingerprint  string   `json:"origin_fingerprint,omitempty"`
	ProvenanceChain    []string `json:"provenance_chain,omitempty"`
	ExcerptHashes      []string `json:"excerpt_hashes,omitempty"`

	WasInjected  bool  `json:"was_injected"`
	WasAdheredTo *bool `json:"was_adhered_to,omitempty"`

	Status         OccurrenceStatus `json:"status"`
	InactiveReason string           `json:"inactive_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Validate checks an occurrence before it reaches the store.
func (o *Occurrence) Validate() error {
	if o == nil {
		return fmt.Errorf("%w: nil occurrence", ErrInvalidOccurrence)
	}
	if err := o.Scope.Validate(); err != nil {
		return err
	}
	if o.PatternID == "" && o.AlertID == "" {
		return fmt.Errorf("%w: neither pattern nor alert id set", ErrInvalidOccurrence)
	}
	if o.FindingID == "" {
		return fmt.Errorf("%w: finding id is required", ErrInvalidOccurrence)
	}
	if !o.Severity.IsValid() {
		return fmt.Errorf("%w: severity %q", ErrInvalidOccurrence, o.Severity)
	}
	return nil
}

// TaskProfile summarizes an upcoming task for warning selection: what it
// touches, which technologies it involves, and what kind of work it is.
type TaskProfile struct {
	Touches      TouchSet `json:"touches,omitempty"`
	Technologies TagSet   `json:"technologies,omitempty"`
	TaskTypes    TagSet   `json:"task_types,omitempty"`
	Confidence   float64  `json:"confidence"`
}
