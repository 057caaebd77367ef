package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/patternd/internal/injection"
	"github.com/fyrsmithlabs/patternd/internal/pattern"
	"github.com/fyrsmithlabs/patternd/internal/reflection"
)

// AppendInjectionLog writes one immutable selection audit row.
func (s *Store) AppendInjectionLog(ctx context.Context, log injection.Log) error {
	profile, err := encodeJSON(log.TaskProfile)
	if err != nil {
		return err
	}
	patternIDs, err := encodeJSON(log.PatternIDs)
	if err != nil {
		return err
	}
	principleIDs, err := encodeJSON(log.PrincipleIDs)
	if err != nil {
		return err
	}
	alertIDs, err := encodeJSON(log.AlertIDs)
	if err != nil {
		return err
	}
	if profile == "" {
		profile = "{}"
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO injection_logs (id, workspace_id, project_id, issue_id,
			target, task_profile, pattern_ids, principle_ids, alert_ids,
			summary, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		log.ID, log.Scope.WorkspaceID, log.Scope.ProjectID, nullable(log.IssueID),
		string(log.Target), profile, nullable(patternIDs), nullable(principleIDs),
		nullable(alertIDs), nullable(log.Summary), encodeTime(log.CreatedAt),
	); err != nil {
		return fmt.Errorf("insert injection log: %w", err)
	}
	return nil
}

// LatestInjectionLog returns the most recent selection audit row for an issue,
// the sole source of truth for tagging-miss detection.
func (s *Store) LatestInjectionLog(ctx context.Context, scope pattern.Scope, issueID string) (injection.Log, error) {
	var log injection.Log
	var issue, profile, patternIDs, principleIDs, alertIDs, summary sql.NullString
	var createdAt string

	err := s.db.QueryRowContext(ctx,
		`SELECT id, workspace_id, project_id, issue_id, target, task_profile,
			pattern_ids, principle_ids, alert_ids, summary, created_at
		 FROM injection_logs
		 WHERE workspace_id = ? AND project_id = ? AND issue_id = ?
		 ORDER BY created_at DESC LIMIT 1`,
		scope.WorkspaceID, scope.ProjectID, issueID,
	).Scan(
		&log.ID, &log.Scope.WorkspaceID, &log.Scope.ProjectID, &issue,
		&log.Target, &profile, &patternIDs, &principleIDs, &alertIDs,
		&summary, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return injection.Log{}, pattern.ErrNotFound
	}
	if err != nil {
		return injection.Log{}, fmt.Errorf("scan injection log: %w", err)
	}

	log.IssueID = nullStr(issue)
	log.Summary = nullStr(summary)
	if err := decodeJSON(profile, &log.TaskProfile); err != nil {
		return injection.Log{}, err
	}
	if err := decodeJSON(patternIDs, &log.PatternIDs); err != nil {
		return injection.Log{}, err
	}
	if err := decodeJSON(principleIDs, &log.PrincipleIDs); err != nil {
		return injection.Log{}, err
	}
	if err := decodeJSON(alertIDs, &log.AlertIDs); err != nil {
		return injection.Log{}, err
	}
	if log.CreatedAt, err = decodeTime(createdAt); err != nil {
		return injection.Log{}, err
	}
	return log, nil
}

// InsertTaggingMiss records a detected tagging coverage gap.
func (s *Store) InsertTaggingMiss(ctx context.Context, miss reflection.TaggingMiss) error {
	profile, err := encodeJSON(miss.ActualTaskProfile)
	if err != nil {
		return err
	}
	required, err := encodeJSON(miss.RequiredMatch)
	if err != nil {
		return err
	}
	missing, err := encodeJSON(miss.MissingTags)
	if err != nil {
		return err
	}
	if profile == "" {
		profile = "{}"
	}
	if required == "" {
		required = "{}"
	}
	if miss.Status == "" {
		miss.Status = reflection.MissPending
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO tagging_misses (id, workspace_id, project_id, pattern_id,
			issue_id, actual_profile, required_match, missing_tags, status,
			resolution, created_at, resolved_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		miss.ID, miss.Scope.WorkspaceID, miss.Scope.ProjectID, miss.PatternID,
		miss.IssueID, profile, required, nullable(missing), string(miss.Status),
		nullable(miss.Resolution), encodeTime(miss.CreatedAt),
		nullable(encodeTime(miss.ResolvedAt)),
	); err != nil {
		return fmt.Errorf("insert tagging miss: %w", err)
	}
	return nil
}

// ResolveTaggingMiss closes a pending miss with an operator note.
func (s *Store) ResolveTaggingMiss(ctx context.Context, id, resolution string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tagging_misses SET status = ?, resolution = ?, resolved_at = ?
		 WHERE id = ? AND status = ?`,
		string(reflection.MissResolved), resolution, encodeTime(nowUTC()),
		id, string(reflection.MissPending))
	if err != nil {
		return fmt.Errorf("resolve tagging miss: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("resolve tagging miss: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("pending tagging miss %s: %w", id, pattern.ErrNotFound)
	}
	return nil
}

// ListPendingTaggingMisses returns the scope's unresolved misses, oldest
// first, for operator review.
func (s *Store) ListPendingTaggingMisses(ctx context.Context, scope pattern.Scope) ([]reflection.TaggingMiss, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, workspace_id, project_id, pattern_id, issue_id,
			actual_profile, required_match, missing_tags, status, resolution,
			created_at, resolved_at
		 FROM tagging_misses
		 WHERE workspace_id = ? AND project_id = ? AND status = ?
		 ORDER BY created_at`,
		scope.WorkspaceID, scope.ProjectID, string(reflection.MissPending))
	if err != nil {
		return nil, fmt.Errorf("query tagging misses: %w", err)
	}
	defer rows.Close()

	var misses []reflection.TaggingMiss
	for rows.Next() {
		var miss reflection.TaggingMiss
		var profile, required, missing, resolution, resolvedAt sql.NullString
		var createdAt string
		if err := rows.Scan(
			&miss.ID, &miss.Scope.WorkspaceID, &miss.Scope.ProjectID,
			&miss.PatternID, &miss.IssueID, &profile, &required, &missing,
			&miss.Status, &resolution, &createdAt, &resolvedAt,
		); err != nil {
			return nil, fmt.Errorf("scan tagging miss: %w", err)
		}
		miss.Resolution = nullStr(resolution)
		if err := decodeJSON(profile, &miss.ActualTaskProfile); err != nil {
			return nil, err
		}
		if err := decodeJSON(required, &miss.RequiredMatch); err != nil {
			return nil, err
		}
		if err := decodeJSON(missing, &miss.MissingTags); err != nil {
			return nil, err
		}
		if miss.CreatedAt, err = decodeTime(createdAt); err != nil {
			return nil, err
		}
		if miss.ResolvedAt, err = decodeTime(nullStr(resolvedAt)); err != nil {
			return nil, err
		}
		misses = append(misses, miss)
	}
	return misses, rows.Err()
}
