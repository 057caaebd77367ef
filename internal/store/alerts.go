package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/patternd/internal/pattern"
	"github.com/fyrsmithlabs/patternd/internal/promotion"
)

const alertColumns = `id, workspace_id, project_id, alert_key, content, alternative,
	category, severity, quote_type, touches, inject_into, status,
	promoted_pattern_id, created_at, expires_at`

// InsertAlert persists a new provisional alert. The partial unique index on
// (scope, alert_key) keeps at most one active alert per key.
func (s *Store) InsertAlert(ctx context.Context, alert promotion.Alert) error {
	if alert.Status == "" {
		alert.Status = promotion.AlertActive
	}
	touches, err := encodeJSON(alert.Touches)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO alerts (`+alertColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		alert.ID, alert.Scope.WorkspaceID, alert.Scope.ProjectID, alert.AlertKey,
		alert.Content, nullable(alert.Alternative), string(alert.Category),
		string(alert.Severity), string(alert.QuoteType), nullable(touches),
		string(alert.InjectInto), string(alert.Status),
		nullable(alert.PromotedPatternID), encodeTime(alert.CreatedAt),
		encodeTime(alert.ExpiresAt),
	); err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

// ActiveAlertByKey returns the scope's active alert with the given key.
func (s *Store) ActiveAlertByKey(ctx context.Context, scope pattern.Scope, alertKey string) (promotion.Alert, error) {
	return scanAlert(s.db.QueryRowContext(ctx,
		`SELECT `+alertColumns+` FROM alerts
		 WHERE workspace_id = ? AND project_id = ? AND alert_key = ? AND status = ?`,
		scope.WorkspaceID, scope.ProjectID, alertKey, string(promotion.AlertActive)))
}

// ListActiveAlerts returns the scope's open alerts, oldest first.
func (s *Store) ListActiveAlerts(ctx context.Context, scope pattern.Scope) ([]promotion.Alert, error) {
	return s.queryAlerts(ctx,
		`SELECT `+alertColumns+` FROM alerts
		 WHERE workspace_id = ? AND project_id = ? AND status = ?
		 ORDER BY created_at`,
		scope.WorkspaceID, scope.ProjectID, string(promotion.AlertActive))
}

// ListAlertsDueForExpiry returns active alerts whose expiry has passed at
// now, across all scopes.
func (s *Store) ListAlertsDueForExpiry(ctx context.Context, now time.Time) ([]promotion.Alert, error) {
	return s.queryAlerts(ctx,
		`SELECT `+alertColumns+` FROM alerts
		 WHERE status = ? AND expires_at <= ?
		 ORDER BY expires_at`,
		string(promotion.AlertActive), encodeTime(now))
}

// MarkAlertExpired closes an alert that never reached the promotion
// threshold. Its occurrences stay, linked to no durable pattern.
func (s *Store) MarkAlertExpired(ctx context.Context, alertID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE alerts SET status = ? WHERE id = ? AND status = ?`,
		string(promotion.AlertExpired), alertID, string(promotion.AlertActive))
	if err != nil {
		return fmt.Errorf("expire alert: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("expire alert: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("active alert %s: %w", alertID, pattern.ErrNotFound)
	}
	return nil
}

// PromoteAlert graduates an alert into a durable pattern in one transaction:
// insert the definition (or dedup into an existing same-key row), relink
// every occurrence of the alert to it, and mark the alert promoted. Returns
// the canonical stored definition.
func (s *Store) PromoteAlert(ctx context.Context, alertID string, def pattern.Definition) (pattern.Definition, error) {
	if err := def.Validate(); err != nil {
		return pattern.Definition{}, err
	}
	var stored pattern.Definition
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			`SELECT status FROM alerts WHERE id = ?`, alertID)
		var status string
		if err := row.Scan(&status); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("alert %s: %w", alertID, pattern.ErrNotFound)
			}
			return fmt.Errorf("load alert: %w", err)
		}
		if status != string(promotion.AlertActive) {
			return fmt.Errorf("alert %s is %s, not active", alertID, status)
		}

		var err error
		stored, _, err = s.createPatternTx(ctx, tx, def)
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE occurrences SET pattern_id = ? WHERE alert_id = ?`,
			stored.ID, alertID,
		); err != nil {
			return fmt.Errorf("relink alert occurrences: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE alerts SET status = ?, promoted_pattern_id = ? WHERE id = ?`,
			string(promotion.AlertPromoted), stored.ID, alertID,
		); err != nil {
			return fmt.Errorf("mark alert promoted: %w", err)
		}
		return nil
	})
	if err != nil {
		return pattern.Definition{}, err
	}
	return stored, nil
}

func (s *Store) queryAlerts(ctx context.Context, query string, args ...any) ([]promotion.Alert, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []promotion.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, alert)
	}
	return alerts, rows.Err()
}

func scanAlert(row rowScanner) (promotion.Alert, error) {
	var alert promotion.Alert
	var alternative, touches, promotedID sql.NullString
	var createdAt, expiresAt string

	err := row.Scan(
		&alert.ID, &alert.Scope.WorkspaceID, &alert.Scope.ProjectID,
		&alert.AlertKey, &alert.Content, &alternative, &alert.Category,
		&alert.Severity, &alert.QuoteType, &touches, &alert.InjectInto,
		&alert.Status, &promotedID, &createdAt, &expiresAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return promotion.Alert{}, pattern.ErrNotFound
	}
	if err != nil {
		return promotion.Alert{}, fmt.Errorf("scan alert: %w", err)
	}

	alert.Alternative = nullStr(alternative)
	alert.PromotedPatternID = nullStr(promotedID)
	if err := decodeJSON(touches, &alert.Touches); err != nil {
		return promotion.Alert{}, err
	}
	if alert.CreatedAt, err = decodeTime(createdAt); err != nil {
		return promotion.Alert{}, err
	}
	if alert.ExpiresAt, err = decodeTime(expiresAt); err != nil {
		return promotion.Alert{}, err
	}
	return alert, nil
}
