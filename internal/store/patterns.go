package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/patternd/internal/evidence"
	"github.com/fyrsmithlabs/patternd/internal/pattern"
)

// patternColumns is the select list every pattern scan shares.
const patternColumns = `id, workspace_id, project_id, pattern_key, content_hash, content,
	failure_mode, category, severity, severity_max, alternative, carrier_stage,
	primary_quote_type, technologies, task_types, touches, confidence, status,
	permanent, superseded_by, created_at, updated_at`

// CreatePattern inserts a definition or dedups into the existing row with
// the same (workspace, project, patternKey). On dedup the stored row is
// returned unchanged except for severity_max, which only rises; the boolean
// reports whether a new row was inserted.
func (s *Store) CreatePattern(ctx context.Context, def pattern.Definition) (pattern.Definition, bool, error) {
	if err := def.Validate(); err != nil {
		return pattern.Definition{}, false, err
	}
	var stored pattern.Definition
	var created bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		stored, created, err = s.createPatternTx(ctx, tx, def)
		return err
	})
	if err != nil {
		return pattern.Definition{}, false, err
	}
	return stored, created, nil
}

// createPatternTx is the dedup-or-insert step shared by CreatePattern and
// PromoteAlert.
func (s *Store) createPatternTx(ctx context.Context, tx *sql.Tx, def pattern.Definition) (pattern.Definition, bool, error) {
	existing, err := scanPattern(tx.QueryRowContext(ctx,
		`SELECT `+patternColumns+` FROM patterns
		 WHERE workspace_id = ? AND project_id = ? AND pattern_key = ?`,
		def.Scope.WorkspaceID, def.Scope.ProjectID, def.PatternKey,
	))
	switch {
	case err == nil:
		raised := evidence.MaxSeverity(existing.SeverityMax, def.Severity)
		if raised != existing.SeverityMax {
			if _, err := tx.ExecContext(ctx,
				`UPDATE patterns SET severity_max = ?, updated_at = ? WHERE id = ?`,
				string(raised), encodeTime(def.UpdatedAt), existing.ID,
			); err != nil {
				return pattern.Definition{}, false, fmt.Errorf("raise severity_max: %w", err)
			}
			existing.SeverityMax = raised
			existing.UpdatedAt = def.UpdatedAt
		}
		return existing, false, nil
	case !errors.Is(err, pattern.ErrNotFound):
		return pattern.Definition{}, false, err
	}

	if def.SeverityMax == "" {
		def.SeverityMax = def.Severity
	}
	if def.Status == "" {
		def.Status = pattern.StatusActive
	}
	technologies, err := encodeJSON(def.Technologies)
	if err != nil {
		return pattern.Definition{}, false, err
	}
	taskTypes, err := encodeJSON(def.TaskTypes)
	if err != nil {
		return pattern.Definition{}, false, err
	}
	touches, err := encodeJSON(def.Touches)
	if err != nil {
		return pattern.Definition{}, false, err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO patterns (`+patternColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		def.ID, def.Scope.WorkspaceID, def.Scope.ProjectID, def.PatternKey,
		def.ContentHash, def.Content, string(def.FailureMode), string(def.Category),
		string(def.Severity), string(def.SeverityMax), nullable(def.Alternative),
		string(def.CarrierStage), string(def.PrimaryQuoteType),
		nullable(technologies), nullable(taskTypes), nullable(touches),
		def.Confidence, string(def.Status), def.Permanent,
		nullable(def.SupersededBy), encodeTime(def.CreatedAt), encodeTime(def.UpdatedAt),
	); err != nil {
		return pattern.Definition{}, false, fmt.Errorf("insert pattern: %w", err)
	}
	return def, true, nil
}

// PatternUpdate names the mutable fields of a stored definition. Content,
// pattern key, and content hash are write-once: their presence in the
// payload is rejected with pattern.ErrImmutableField. SeverityMax, when set,
// is only allowed to rise.
type PatternUpdate struct {
	// Write-once fields; any non-empty value fails the update.
	Content     string
	PatternKey  string
	ContentHash string

	Severity     *evidence.Severity
	SeverityMax  *evidence.Severity
	Alternative  *string
	Technologies *pattern.TagSet
	TaskTypes    *pattern.TagSet
	Touches      *pattern.TouchSet
	Confidence   *float64
	Status       *pattern.Status
	SupersededBy *string
	Permanent    *bool
}

// UpdatePattern applies a partial update to a definition.
func (s *Store) UpdatePattern(ctx context.Context, id string, upd PatternUpdate) (pattern.Definition, error) {
	if upd.Content != "" || upd.PatternKey != "" || upd.ContentHash != "" {
		return pattern.Definition{}, fmt.Errorf(
			"%w: pattern content, key, and hash are write-once", pattern.ErrImmutableField)
	}
	var result pattern.Definition
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		def, err := scanPattern(tx.QueryRowContext(ctx,
			`SELECT `+patternColumns+` FROM patterns WHERE id = ?`, id))
		if err != nil {
			return err
		}

		if upd.Severity != nil {
			def.Severity = *upd.Severity
			def.SeverityMax = evidence.MaxSeverity(def.SeverityMax, def.Severity)
		}
		if upd.SeverityMax != nil {
			def.SeverityMax = evidence.MaxSeverity(def.SeverityMax, *upd.SeverityMax)
		}
		if upd.Alternative != nil {
			def.Alternative = *upd.Alternative
		}
		if upd.Technologies != nil {
			def.Technologies = *upd.Technologies
		}
		if upd.TaskTypes != nil {
			def.TaskTypes = *upd.TaskTypes
		}
		if upd.Touches != nil {
			def.Touches = *upd.Touches
		}
		if upd.Confidence != nil {
			def.Confidence = *upd.Confidence
		}
		if upd.Status != nil {
			def.Status = *upd.Status
		}
		if upd.SupersededBy != nil {
			def.SupersededBy = *upd.SupersededBy
		}
		if upd.Permanent != nil {
			def.Permanent = *upd.Permanent
		}
		if err := def.Validate(); err != nil {
			return err
		}

		technologies, err := encodeJSON(def.Technologies)
		if err != nil {
			return err
		}
		taskTypes, err := encodeJSON(def.TaskTypes)
		if err != nil {
			return err
		}
		touches, err := encodeJSON(def.Touches)
		if err != nil {
			return err
		}
		def.UpdatedAt = nowUTC()
		if _, err := tx.ExecContext(ctx,
			`UPDATE patterns SET severity = ?, severity_max = ?, alternative = ?,
			 technologies = ?, task_types = ?, touches = ?, confidence = ?,
			 status = ?, superseded_by = ?, permanent = ?, updated_at = ?
			 WHERE id = ?`,
			string(def.Severity), string(def.SeverityMax), nullable(def.Alternative),
			nullable(technologies), nullable(taskTypes), nullable(touches),
			def.Confidence, string(def.Status), nullable(def.SupersededBy),
			def.Permanent, encodeTime(def.UpdatedAt), id,
		); err != nil {
			return fmt.Errorf("update pattern: %w", err)
		}
		result = def
		return nil
	})
	if err != nil {
		return pattern.Definition{}, err
	}
	return result, nil
}

// RefreshPatternConfidence stores a freshly computed attribution confidence.
// Attribution calls it after every occurrence; the decay sweep uses
// ApplyDecaySweep instead so its writes stay transactional.
func (s *Store) RefreshPatternConfidence(ctx context.Context, id string, conf float64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE patterns SET confidence = ?, updated_at = ? WHERE id = ?`,
		conf, encodeTime(nowUTC()), id)
	if err != nil {
		return fmt.Errorf("refresh pattern confidence: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("refresh pattern confidence: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("pattern %s: %w", id, pattern.ErrNotFound)
	}
	return nil
}

// ArchivePattern soft-deletes a definition.
func (s *Store) ArchivePattern(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE patterns SET status = ?, updated_at = ? WHERE id = ?`,
		string(pattern.StatusArchived), encodeTime(nowUTC()), id)
	if err != nil {
		return fmt.Errorf("archive pattern: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("archive pattern: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("pattern %s: %w", id, pattern.ErrNotFound)
	}
	return nil
}

// PatternByID returns one definition.
func (s *Store) PatternByID(ctx context.Context, id string) (pattern.Definition, error) {
	return scanPattern(s.db.QueryRowContext(ctx,
		`SELECT `+patternColumns+` FROM patterns WHERE id = ?`, id))
}

// PatternByKey returns the scope's definition with the given key regardless
// of status; the attribution dedup path consults it before routing.
func (s *Store) PatternByKey(ctx context.Context, scope pattern.Scope, patternKey string) (pattern.Definition, error) {
	return scanPattern(s.db.QueryRowContext(ctx,
		`SELECT `+patternColumns+` FROM patterns
		 WHERE workspace_id = ? AND project_id = ? AND pattern_key = ?`,
		scope.WorkspaceID, scope.ProjectID, patternKey))
}

// PatternsByKey returns every project's definition sharing a key inside one
// workspace. Principle promotion counts distinct projects from it.
func (s *Store) PatternsByKey(ctx context.Context, workspaceID, patternKey string) ([]pattern.Definition, error) {
	return s.queryPatterns(ctx,
		`SELECT `+patternColumns+` FROM patterns
		 WHERE workspace_id = ? AND pattern_key = ?
		 ORDER BY project_id`,
		workspaceID, patternKey)
}

// ListActivePatterns returns the scope's active definitions.
func (s *Store) ListActivePatterns(ctx context.Context, scope pattern.Scope) ([]pattern.Definition, error) {
	return s.queryPatterns(ctx,
		`SELECT `+patternColumns+` FROM patterns
		 WHERE workspace_id = ? AND project_id = ? AND status = ?
		 ORDER BY created_at`,
		scope.WorkspaceID, scope.ProjectID, string(pattern.StatusActive))
}

// FindCrossProject returns active patterns from sibling projects in the same
// workspace, ranked by severity then total occurrences, for cross-project
// warning sharing. minSeverity and category are optional filters.
func (s *Store) FindCrossProject(ctx context.Context, workspaceID, excludeProjectID string, minSeverity evidence.Severity, category evidence.FindingCategory) ([]pattern.Definition, error) {
	query := `SELECT ` + patternColumns + ` FROM patterns p
		 WHERE p.workspace_id = ? AND p.project_id != ? AND p.status = ?`
	args := []any{workspaceID, excludeProjectID, string(pattern.StatusActive)}
	if category != "" {
		query += ` AND p.category = ?`
		args = append(args, string(category))
	}
	query += ` ORDER BY CASE p.severity_max
			WHEN 'CRITICAL' THEN 4 WHEN 'HIGH' THEN 3 WHEN 'MEDIUM' THEN 2 ELSE 1 END DESC,
		(SELECT COUNT(*) FROM occurrences o WHERE o.pattern_id = p.id) DESC,
		p.created_at`
	defs, err := s.queryPatterns(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if minSeverity == "" {
		return defs, nil
	}
	filtered := defs[:0]
	for _, def := range defs {
		if def.SeverityMax.AtLeast(minSeverity) {
			filtered = append(filtered, def)
		}
	}
	return filtered, nil
}

// ListCrossProjectSecurityPatterns returns active security patterns in the
// scope's workspace that live in a different project. The injection selector
// surfaces them at a priority discount.
func (s *Store) ListCrossProjectSecurityPatterns(ctx context.Context, scope pattern.Scope) ([]pattern.Definition, error) {
	return s.FindCrossProject(ctx, scope.WorkspaceID, scope.ProjectID, "", evidence.CategorySecurity)
}

func (s *Store) queryPatterns(ctx context.Context, query string, args ...any) ([]pattern.Definition, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query patterns: %w", err)
	}
	defer rows.Close()

	var defs []pattern.Definition
	for rows.Next() {
		def, err := scanPattern(rows)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, rows.Err()
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanPattern(row rowScanner) (pattern.Definition, error) {
	var def pattern.Definition
	var alternative, technologies, taskTypes, touches, supersededBy sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(
		&def.ID, &def.Scope.WorkspaceID, &def.Scope.ProjectID, &def.PatternKey,
		&def.ContentHash, &def.Content, &def.FailureMode, &def.Category,
		&def.Severity, &def.SeverityMax, &alternative, &def.CarrierStage,
		&def.PrimaryQuoteType, &technologies, &taskTypes, &touches,
		&def.Confidence, &def.Status, &def.Permanent, &supersededBy,
		&createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return pattern.Definition{}, pattern.ErrNotFound
	}
	if err != nil {
		return pattern.Definition{}, fmt.Errorf("scan pattern: %w", err)
	}

	def.Alternative = nullStr(alternative)
	def.SupersededBy = nullStr(supersededBy)
	if err := decodeJSON(technologies, &def.Technologies); err != nil {
		return pattern.Definition{}, err
	}
	if err := decodeJSON(taskTypes, &def.TaskTypes); err != nil {
		return pattern.Definition{}, err
	}
	if err := decodeJSON(touches, &def.Touches); err != nil {
		return pattern.Definition{}, err
	}
	if def.CreatedAt, err = decodeTime(createdAt); err != nil {
		return pattern.Definition{}, err
	}
	if def.UpdatedAt, err = decodeTime(updatedAt); err != nil {
		return pattern.Definition{}, err
	}
	return def, nil
}
