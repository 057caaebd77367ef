package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/patternd/internal/killswitch"
	"github.com/fyrsmithlabs/patternd/internal/pattern"
)

// KillSwitchStatus returns the persisted circuit-breaker row for a scope. A
// scope with no row is active, not an error.
func (s *Store) KillSwitchStatus(ctx context.Context, scope pattern.Scope) (killswitch.Status, error) {
	status, err := scanKillSwitch(s.db.QueryRowContext(ctx,
		`SELECT workspace_id, project_id, state, reason, entered_at, auto_resume_at
		 FROM kill_switches WHERE workspace_id = ? AND project_id = ?`,
		scope.WorkspaceID, scope.ProjectID))
	if errors.Is(err, pattern.ErrNotFound) {
		return killswitch.Status{Scope: scope, State: killswitch.StateActive}, nil
	}
	return status, err
}

// UpsertKillSwitchStatus persists a status row for its scope.
func (s *Store) UpsertKillSwitchStatus(ctx context.Context, status killswitch.Status) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO kill_switches (workspace_id, project_id, state, reason, entered_at, auto_resume_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(workspace_id, project_id) DO UPDATE SET
			state = excluded.state,
			reason = excluded.reason,
			entered_at = excluded.entered_at,
			auto_resume_at = excluded.auto_resume_at`,
		status.Scope.WorkspaceID, status.Scope.ProjectID, string(status.State),
		nullable(status.Reason), encodeTime(status.EnteredAt),
		nullable(encodeTime(status.AutoResumeAt)),
	); err != nil {
		return fmt.Errorf("upsert kill switch: %w", err)
	}
	return nil
}

// KillSwitchesDueForResume returns non-active statuses whose auto-resume
// time has elapsed at now. Manual pauses carry no auto-resume time and never
// appear here.
func (s *Store) KillSwitchesDueForResume(ctx context.Context, now time.Time) ([]killswitch.Status, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT workspace_id, project_id, state, reason, entered_at, auto_resume_at
		 FROM kill_switches
		 WHERE state != ? AND auto_resume_at IS NOT NULL AND auto_resume_at <= ?
		 ORDER BY auto_resume_at`,
		string(killswitch.StateActive), encodeTime(now))
	if err != nil {
		return nil, fmt.Errorf("query due kill switches: %w", err)
	}
	defer rows.Close()

	var due []killswitch.Status
	for rows.Next() {
		status, err := scanKillSwitch(rows)
		if err != nil {
			return nil, err
		}
		due = append(due, status)
	}
	return due, rows.Err()
}

// AppendOutcome writes one row of the append-only attribution outcome log.
func (s *Store) AppendOutcome(ctx context.Context, outcome killswitch.Outcome) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO outcomes (id, workspace_id, project_id, issue_key,
			carrier_quote_type, pattern_created, injection_occurred,
			recurrence_observed, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		outcome.ID, outcome.Scope.WorkspaceID, outcome.Scope.ProjectID,
		nullable(outcome.IssueKey), string(outcome.CarrierQuoteType),
		outcome.PatternCreated, outcome.InjectionOccurred,
		outcome.RecurrenceObserved, encodeTime(outcome.CreatedAt),
	); err != nil {
		return fmt.Errorf("insert outcome: %w", err)
	}
	return nil
}

// ListRecentOutcomes returns up to limit outcome rows for a scope, newest
// first. Health metrics read their window through it.
func (s *Store) ListRecentOutcomes(ctx context.Context, scope pattern.Scope, limit int) ([]killswitch.Outcome, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, workspace_id, project_id, issue_key, carrier_quote_type,
			pattern_created, injection_occurred, recurrence_observed, created_at
		 FROM outcomes
		 WHERE workspace_id = ? AND project_id = ?
		 ORDER BY created_at DESC LIMIT ?`,
		scope.WorkspaceID, scope.ProjectID, limit)
	if err != nil {
		return nil, fmt.Errorf("query outcomes: %w", err)
	}
	defer rows.Close()

	var outcomes []killswitch.Outcome
	for rows.Next() {
		var o killswitch.Outcome
		var issueKey sql.NullString
		var createdAt string
		if err := rows.Scan(
			&o.ID, &o.Scope.WorkspaceID, &o.Scope.ProjectID, &issueKey,
			&o.CarrierQuoteType, &o.PatternCreated, &o.InjectionOccurred,
			&o.RecurrenceObserved, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		o.IssueKey = nullStr(issueKey)
		if o.CreatedAt, err = decodeTime(createdAt); err != nil {
			return nil, err
		}
		outcomes = append(outcomes, o)
	}
	return outcomes, rows.Err()
}

func scanKillSwitch(row rowScanner) (killswitch.Status, error) {
	var status killswitch.Status
	var reason, autoResumeAt sql.NullString
	var enteredAt string

	err := row.Scan(
		&status.Scope.WorkspaceID, &status.Scope.ProjectID, &status.State,
		&reason, &enteredAt, &autoResumeAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return killswitch.Status{}, pattern.ErrNotFound
	}
	if err != nil {
		return killswitch.Status{}, fmt.Errorf("scan kill switch: %w", err)
	}

	status.Reason = nullStr(reason)
	if status.EnteredAt, err = decodeTime(enteredAt); err != nil {
		return killswitch.Status{}, err
	}
	if status.AutoResumeAt, err = decodeTime(nullStr(autoResumeAt)); err != nil {
		return killswitch.Status{}, err
	}
	return status, nil
}
