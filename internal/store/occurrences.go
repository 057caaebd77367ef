package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/patternd/internal/pattern"
)

const occurrenceColumns = `id, pattern_id, alert_id, workspace_id, project_id, finding_id,
	issue_id, pr_number, severity, evidence, carrier_fingerprint, origin_fingerprint,
	provenance_chain, excerpt_hashes, was_injected, was_adhered_to, status,
	inactive_reason, created_at`

// AppendOccurrence inserts one occurrence row. Occurrences are append-only:
// content fields never change after this call and rows are never deleted.
func (s *Store) AppendOccurrence(ctx context.Context, occ pattern.Occurrence) error {
	if err := occ.Validate(); err != nil {
		return err
	}
	if occ.Status == "" {
		occ.Status = pattern.OccurrenceActive
	}
	provenance, err := encodeJSON(occ.ProvenanceChain)
	if err != nil {
		return err
	}
	excerpts, err := encodeJSON(occ.ExcerptHashes)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO occurrences (`+occurrenceColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		occ.ID, nullable(occ.PatternID), nullable(occ.AlertID),
		occ.Scope.WorkspaceID, occ.Scope.ProjectID, occ.FindingID,
		nullable(occ.IssueID), occ.PRNumber, string(occ.Severity),
		nullable(occ.Evidence), nullable(occ.CarrierFingerprint),
		nullable(occ.OriginFingerprint), nullable(provenance), nullable(excerpts),
		occ.WasInjected, boolPtrNull(occ.WasAdheredTo), string(occ.Status),
		nullable(occ.InactiveReason), encodeTime(occ.CreatedAt),
	); err != nil {
		return fmt.Errorf("insert occurrence: %w", err)
	}
	return nil
}

// OccurrenceUpdate names the only mutable fields of an occurrence: pattern
// or alert reassignment (alert promotion relinking) and the feedback flags.
type OccurrenceUpdate struct {
	PatternID      *string
	AlertID        *string
	WasInjected    *bool
	WasAdheredTo   *bool
	Status         *pattern.OccurrenceStatus
	InactiveReason *string
}

// UpdateOccurrence applies a partial update; everything not named in
// OccurrenceUpdate is write-once.
func (s *Store) UpdateOccurrence(ctx context.Context, id string, upd OccurrenceUpdate) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		occ, err := scanOccurrence(tx.QueryRowContext(ctx,
			`SELECT `+occurrenceColumns+` FROM occurrences WHERE id = ?`, id))
		if err != nil {
			return err
		}
		if upd.PatternID != nil {
			occ.PatternID = *upd.PatternID
		}
		if upd.AlertID != nil {
			occ.AlertID = *upd.AlertID
		}
		if upd.WasInjected != nil {
			occ.WasInjected = *upd.WasInjected
		}
		if upd.WasAdheredTo != nil {
			occ.WasAdheredTo = upd.WasAdheredTo
		}
		if upd.Status != nil {
			occ.Status = *upd.Status
		}
		if upd.InactiveReason != nil {
			occ.InactiveReason = *upd.InactiveReason
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE occurrences SET pattern_id = ?, alert_id = ?, was_injected = ?,
			 was_adhered_to = ?, status = ?, inactive_reason = ? WHERE id = ?`,
			nullable(occ.PatternID), nullable(occ.AlertID), occ.WasInjected,
			boolPtrNull(occ.WasAdheredTo), string(occ.Status),
			nullable(occ.InactiveReason), id,
		); err != nil {
			return fmt.Errorf("update occurrence: %w", err)
		}
		return nil
	})
}

// ListOccurrencesByPattern returns every occurrence linked to a pattern,
// oldest first.
func (s *Store) ListOccurrencesByPattern(ctx context.Context, patternID string) ([]pattern.Occurrence, error) {
	return s.queryOccurrences(ctx,
		`SELECT `+occurrenceColumns+` FROM occurrences
		 WHERE pattern_id = ? ORDER BY created_at`, patternID)
}

// ListOccurrencesByAlert returns every occurrence linked to an alert,
// oldest first.
func (s *Store) ListOccurrencesByAlert(ctx context.Context, alertID string) ([]pattern.Occurrence, error) {
	return s.queryOccurrences(ctx,
		`SELECT `+occurrenceColumns+` FROM occurrences
		 WHERE alert_id = ? ORDER BY created_at`, alertID)
}

// MarkOccurrencesInactive deactivates every active occurrence in the scope
// citing the given carrier fingerprint. Invoked when a cited document's
// fingerprint changes; rows stay, only status flips. Returns how many rows
// were deactivated.
func (s *Store) MarkOccurrencesInactive(ctx context.Context, scope pattern.Scope, carrierFingerprint, reason string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE occurrences SET status = ?, inactive_reason = ?
		 WHERE workspace_id = ? AND project_id = ? AND carrier_fingerprint = ? AND status = ?`,
		string(pattern.OccurrenceInactive), reason,
		scope.WorkspaceID, scope.ProjectID, carrierFingerprint,
		string(pattern.OccurrenceActive))
	if err != nil {
		return 0, fmt.Errorf("mark occurrences inactive: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mark occurrences inactive: %w", err)
	}
	return int(n), nil
}

func (s *Store) queryOccurrences(ctx context.Context, query string, args ...any) ([]pattern.Occurrence, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query occurrences: %w", err)
	}
	defer rows.Close()

	var occs []pattern.Occurrence
	for rows.Next() {
		occ, err := scanOccurrence(rows)
		if err != nil {
			return nil, err
		}
		occs = append(occs, occ)
	}
	return occs, rows.Err()
}

func scanOccurrence(row rowScanner) (pattern.Occurrence, error) {
	var occ pattern.Occurrence
	var patternID, alertID, issueID, evidenceJSON sql.NullString
	var carrierFP, originFP, provenance, excerpts, inactiveReason sql.NullString
	var adhered sql.NullInt64
	var createdAt string

	err := row.Scan(
		&occ.ID, &patternID, &alertID, &occ.Scope.WorkspaceID, &occ.Scope.ProjectID,
		&occ.FindingID, &issueID, &occ.PRNumber, &occ.Severity, &evidenceJSON,
		&carrierFP, &originFP, &provenance, &excerpts, &occ.WasInjected,
		&adhered, &occ.Status, &inactiveReason, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return pattern.Occurrence{}, pattern.ErrNotFound
	}
	if err != nil {
		return pattern.Occurrence{}, fmt.Errorf("scan occurrence: %w", err)
	}

	occ.PatternID = nullStr(patternID)
	occ.AlertID = nullStr(alertID)
	occ.IssueID = nullStr(issueID)
	occ.Evidence = nullStr(evidenceJSON)
	occ.CarrierFingerprint = nullStr(carrierFP)
	occ.OriginFingerprint = nullStr(originFP)
	occ.InactiveReason = nullStr(inactiveReason)
	occ.WasAdheredTo = nullBoolPtr(adhered)
	if err := decodeJSON(provenance, &occ.ProvenanceChain); err != nil {
		return pattern.Occurrence{}, err
	}
	if err := decodeJSON(excerpts, &occ.ExcerptHashes); err != nil {
		return pattern.Occurrence{}, err
	}
	if occ.CreatedAt, err = decodeTime(createdAt); err != nil {
		return pattern.Occurrence{}, err
	}
	return occ, nil
}
