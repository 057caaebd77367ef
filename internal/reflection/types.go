package reflection

import (
	"time"

	"github.com/fyrsmithlabs/patternd/internal/pattern"
)

// MissStatus is the lifecycle state of a recorded tagging miss.
type MissStatus string

const (
	MissPending  MissStatus = "pending"
	MissResolved MissStatus = "resolved"
)

// ValidMissStatuses contains all valid miss statuses.
var ValidMissStatuses = map[MissStatus]bool{
	MissPending:  true,
	MissResolved: true,
}

// IsValid returns true if the miss status is recognized.
func (s MissStatus) IsValid() bool {
	return ValidMissStatuses[s]
}

// RequiredMatch snapshots the tags the pattern carried when the miss was
// detected. Touches are what the selector matches on; technologies and task
// types are diagnostic context.
type RequiredMatch struct {
	Touches      pattern.TouchSet `json:"touches,omitempty"`
	Technologies pattern.TagSet   `json:"technologies,omitempty"`
	TaskTypes    pattern.TagSet   `json:"task_types,omitempty"`
}

// TaggingMiss records one attributed pattern the selector could not have
// surfaced because the logged task profile lacked its tags.
type TaggingMiss struct {
	ID        string        `json:"id"`
	Scope     pattern.Scope `json:"scope"`
	PatternID string        `json:"pattern_id"`
	IssueID   string        `json:"issue_id"`

	// ActualTaskProfile is the profile the injection log recorded;
	// RequiredMatch is what the pattern needed.
	ActualTaskProfile pattern.TaskProfile `json:"actual_task_profile"`
	RequiredMatch     RequiredMatch       `json:"required_match"`

	// MissingTags lists what the profile lacked, prefixed by kind:
	// "touch:caching", "tech:redis", "tasktype:migration".
	MissingTags []string `json:"missing_tags"`

	Status     MissStatus `json:"status"`
	Resolution string     `json:"resolution,omitempty"`

	CreatedAt  time.Time `json:"created_at"`
	ResolvedAt time.Time `json:"resolved_at,omitempty"`
}

// CheckRequest asks whether any patterns attributed for an issue point at a
// tagging gap.
type CheckRequest struct {
	Scope   pattern.Scope
	IssueID string

	// AttributedPatternIDs are the patterns the issue's confirmed findings
	// were attributed to.
	AttributedPatternIDs []string
}
