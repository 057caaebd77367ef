// Package injection selects and renders the warning block surfaced to an
// agent before it starts a task: workspace principles, scoped patterns,
// cross-project security patterns, and unconfirmed provisional alerts, ranked
// by injection priority. Every selection leaves an immutable audit log row.
package injection

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/patternd/internal/evidence"
	"github.com/fyrsmithlabs/patternd/internal/pattern"
)

// SourceKind says which lifecycle tier a surfaced warning came from.
type SourceKind string

const (
	SourcePattern   SourceKind = "pattern"
	SourcePrinciple SourceKind = "principle"
	SourceAlert     SourceKind = "alert"
)

// Warning is one ranked entry of a selection.
type Warning struct {
	SourceID string     `json:"source_id"`
	Kind     SourceKind `json:"kind"`

	Text        string                   `json:"text"`
	Alternative string                   `json:"alternative,omitempty"`
	Rationale   string                   `json:"rationale,omitempty"`
	Category    evidence.FindingCategory `json:"category"`
	Severity    evidence.Severity        `json:"severity"`

	// Priority is the selection-time score. Never persisted; recomputed on
	// every call.
	Priority float64 `json:"priority"`

	// CrossProject marks patterns imported from a sibling project.
	CrossProject bool `json:"cross_project,omitempty"`
}

// Log is the immutable audit record of one selection: exactly which ids were
// surfaced and the task profile they were matched against. The tagging-miss
// check reads it back as its sole source of truth.
type Log struct {
	ID      string               `json:"id"`
	Scope   pattern.Scope        `json:"scope"`
	IssueID string               `json:"issue_id,omitempty"`
	Target  pattern.InjectTarget `json:"target"`

	TaskProfile pattern.TaskProfile `json:"task_profile"`

	PatternIDs   []string `json:"pattern_ids,omitempty"`
	PrincipleIDs []string `json:"principle_ids,omitempty"`
	AlertIDs     []string `json:"alert_ids,omitempty"`

	Summary   string    `json:"summary"`
	CreatedAt time.Time `json:"created_at"`
}

// SelectRequest asks for the warnings relevant to one upcoming task.
type SelectRequest struct {
	Scope  pattern.Scope
	Target pattern.InjectTarget

	// TaskProfile describes the task about to run; touch overlap against it
	// drives both gathering and ranking.
	TaskProfile pattern.TaskProfile

	// IssueID ties the selection to the issue the task belongs to, linking
	// the audit row to later attribution of that issue's findings.
	IssueID string

	// MaxWarnings caps the merged candidate list. Zero means the policy
	// default.
	MaxWarnings int
}

// Selection is the outcome of one SelectWarnings call.
type Selection struct {
	// Warnings holds the surfaced patterns and principles; Alerts holds the
	// surfaced unconfirmed provisional alerts. Both are slices of the same
	// ranked, truncated candidate list.
	Warnings []Warning
	Alerts   []Warning

	// Markdown is the rendered block handed to the agent; Summary is the
	// one-line description that goes in the audit row.
	Markdown string
	Summary  string

	Log Log
}

// Policy holds the tunable selection knobs.
type Policy struct {
	// MaxWarnings is the default cap on surfaced entries per selection.
	MaxWarnings int

	// CrossProject enables importing security patterns from sibling
	// projects in the same workspace, at a priority discount.
	CrossProject bool
}

// DefaultPolicy returns the shipped selection policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxWarnings:  5,
		CrossProject: true,
	}
}

// Validate checks that the policy is usable.
func (p Policy) Validate() error {
	if p.MaxWarnings < 1 {
		return fmt.Errorf("max_warnings must be >= 1, got %d", p.MaxWarnings)
	}
	return nil
}
