package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/patternd/internal/pattern"
	"github.com/fyrsmithlabs/patternd/internal/promotion"
)

const principleColumns = `id, workspace_id, origin, promotion_key, text, rationale,
	category, severity, touches, inject_into, confidence, permanent, status,
	archived_reason, archived_by, archived_at, created_at`

// InsertPrinciple persists a new principle. The partial unique index on
// (workspace_id, promotion_key) enforces at most one active principle per
// key, making promotion idempotent by construction.
func (s *Store) InsertPrinciple(ctx context.Context, p promotion.Principle) error {
	if p.Status == "" {
		p.Status = promotion.PrincipleActive
	}
	touches, err := encodeJSON(p.Touches)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO principles (`+principleColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.WorkspaceID, string(p.Origin), p.PromotionKey, p.Text,
		nullable(p.Rationale), string(p.Category), string(p.Severity),
		nullable(touches), string(p.InjectInto), p.Confidence, p.Permanent,
		string(p.Status), nullable(p.ArchivedReason), nullable(p.ArchivedBy),
		nullable(encodeTime(p.ArchivedAt)), encodeTime(p.CreatedAt),
	); err != nil {
		return fmt.Errorf("insert principle: %w", err)
	}
	return nil
}

// ActivePrincipleByKey returns the workspace's active principle with the
// given promotion key.
func (s *Store) ActivePrincipleByKey(ctx context.Context, workspaceID, promotionKey string) (promotion.Principle, error) {
	return scanPrinciple(s.db.QueryRowContext(ctx,
		`SELECT `+principleColumns+` FROM principles
		 WHERE workspace_id = ? AND promotion_key = ? AND status = ?`,
		workspaceID, promotionKey, string(promotion.PrincipleActive)))
}

// ListActivePrinciples returns the workspace's active principles, baselines
// first, oldest first within each origin.
func (s *Store) ListActivePrinciples(ctx context.Context, workspaceID string) ([]promotion.Principle, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+principleColumns+` FROM principles
		 WHERE workspace_id = ? AND status = ?
		 ORDER BY origin, created_at`,
		workspaceID, string(promotion.PrincipleActive))
	if err != nil {
		return nil, fmt.Errorf("query principles: %w", err)
	}
	defer rows.Close()

	var principles []promotion.Principle
	for rows.Next() {
		p, err := scanPrinciple(rows)
		if err != nil {
			return nil, err
		}
		principles = append(principles, p)
	}
	return principles, rows.Err()
}

// ArchivePrincipleByKey archives the workspace's active principle with the
// given promotion key, freeing the key for future re-promotion. A rollback
// records who archived it and why.
func (s *Store) ArchivePrincipleByKey(ctx context.Context, workspaceID, promotionKey, reason, archivedBy string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE principles SET status = ?, archived_reason = ?, archived_by = ?, archived_at = ?
		 WHERE workspace_id = ? AND promotion_key = ? AND status = ?`,
		string(promotion.PrincipleArchived), reason, nullable(archivedBy),
		encodeTime(nowUTC()), workspaceID, promotionKey,
		string(promotion.PrincipleActive))
	if err != nil {
		return fmt.Errorf("archive principle: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("archive principle: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("active principle %s/%s: %w", workspaceID, promotionKey, pattern.ErrNotFound)
	}
	return nil
}

func scanPrinciple(row rowScanner) (promotion.Principle, error) {
	var p promotion.Principle
	var rationale, touches, archivedReason, archivedBy, archivedAt sql.NullString
	var createdAt string

	err := row.Scan(
		&p.ID, &p.WorkspaceID, &p.Origin, &p.PromotionKey, &p.Text, &rationale,
		&p.Category, &p.Severity, &touches, &p.InjectInto, &p.Confidence,
		&p.Permanent, &p.Status, &archivedReason, &archivedBy, &archivedAt,
		&createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return promotion.Principle{}, pattern.ErrNotFound
	}
	if err != nil {
		return promotion.Principle{}, fmt.Errorf("scan principle: %w", err)
	}

	p.Rationale = nullStr(rationale)
	p.ArchivedReason = nullStr(archivedReason)
	p.ArchivedBy = nullStr(archivedBy)
	if err := decodeJSON(touches, &p.Touches); err != nil {
		return promotion.Principle{}, err
	}
	if p.ArchivedAt, err = decodeTime(nullStr(archivedAt)); err != nil {
		return promotion.Principle{}, err
	}
	if p.CreatedAt, err = decodeTime(createdAt); err != nil {
		return promotion.Principle{}, err
	}
	return p, nil
}
