package store

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/patternd/internal/pattern"
	"github.com/fyrsmithlabs/patternd/internal/promotion"
)

// ApplyDecaySweep writes one decay sweep's outcome in a single transaction:
// refreshed confidences plus archival of below-floor patterns. All or nothing:
// a failure mid-sweep leaves every row untouched.
func (s *Store) ApplyDecaySweep(ctx context.Context, scope pattern.Scope, updates []promotion.ConfidenceUpdate, archiveIDs []string) error {
	if len(updates) == 0 && len(archiveIDs) == 0 {
		return nil
	}
	now := encodeTime(nowUTC())
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, u := range updates {
			if _, err := tx.ExecContext(ctx,
				`UPDATE patterns SET confidence = ?, updated_at = ?
				 WHERE id = ? AND workspace_id = ? AND project_id = ?`,
				u.Confidence, now, u.PatternID,
				scope.WorkspaceID, scope.ProjectID,
			); err != nil {
				return fmt.Errorf("apply confidence update for %s: %w", u.PatternID, err)
			}
		}
		for _, id := range archiveIDs {
			if _, err := tx.ExecContext(ctx,
				`UPDATE patterns SET status = ?, updated_at = ?
				 WHERE id = ? AND workspace_id = ? AND project_id = ?`,
				string(pattern.StatusArchived), now, id,
				scope.WorkspaceID, scope.ProjectID,
			); err != nil {
				return fmt.Errorf("archive decayed pattern %s: %w", id, err)
			}
		}
		return nil
	})
}

// ListActiveScopes returns every (workspace, project) pair with at least one
// pattern, alert, or outcome row. The maintenance runner sweeps each.
func (s *Store) ListActiveScopes(ctx context.Context) ([]pattern.Scope, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT workspace_id, project_id FROM patterns
		 UNION SELECT workspace_id, project_id FROM alerts
		 UNION SELECT workspace_id, project_id FROM outcomes
		 ORDER BY workspace_id, project_id`)
	if err != nil {
		return nil, fmt.Errorf("query active scopes: %w", err)
	}
	defer rows.Close()

	var scopes []pattern.Scope
	for rows.Next() {
		var scope pattern.Scope
		if err := rows.Scan(&scope.WorkspaceID, &scope.ProjectID); err != nil {
			return nil, fmt.Errorf("scan scope: %w", err)
		}
		scopes = append(scopes, scope)
	}
	return scopes, rows.Err()
}

// DeleteProject cascade-deletes every row a project owns: occurrences,
// outcomes, injection logs, tagging misses, and alerts before the patterns
// they reference, then the kill-switch row. Workspace-scoped principles
// survive. One transaction: a failure leaves the project intact.
func (s *Store) DeleteProject(ctx context.Context, scope pattern.Scope) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		// Dependent rows first; patterns last so foreign references never
		// dangle mid-transaction.
		for _, table := range []string{
			"occurrences", "outcomes", "injection_logs", "tagging_misses",
			"alerts", "kill_switches", "patterns",
		} {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM `+table+` WHERE workspace_id = ? AND project_id = ?`,
				scope.WorkspaceID, scope.ProjectID,
			); err != nil {
				return fmt.Errorf("delete %s for %s: %w", table, scope, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Info("project deleted",
		zap.String("workspace_id", scope.WorkspaceID),
		zap.String("project_id", scope.ProjectID),
	)
	return nil
}
