package promotion

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/patternd/internal/evidence"
	"github.com/fyrsmithlabs/patternd/internal/pattern"
)

// PromotionKey computes the principle idempotency key:
// sha256(workspaceID | patternKey | carrierStage | category), hex-encoded.
// At most one active principle per key exists in a workspace; rollback
// archives the row and frees the key for re-promotion.
func PromotionKey(workspaceID, patternKey string, stage evidence.CarrierStage, category evidence.FindingCategory) string {
	h := sha256.Sum256([]byte(workspaceID + "|" + patternKey + "|" + string(stage) + "|" + string(category)))
	return hex.EncodeToString(h[:])
}

// PromoteToPrinciple evaluates one pattern for workspace-principle promotion.
// A pattern qualifies when its key is active in enough distinct projects, its
// severity high-water mark is HIGH or CRITICAL, its category is security, and
// the boosted mean confidence across the key's active patterns clears the
// policy floor. Non-qualifying patterns return a reason, not an error.
func (s *service) PromoteToPrinciple(ctx context.Context, workspaceID, patternID string) (PromotionResult, error) {
	ctx, span := s.tracer.Start(ctx, "promotion.promote_to_principle")
	defer span.End()

	span.SetAttributes(
		attribute.String("workspace_id", workspaceID),
		attribute.String("pattern_id", patternID),
	)

	if err := s.checkOpen(); err != nil {
		return PromotionResult{}, err
	}

	def, err := s.store.PatternByID(ctx, patternID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return PromotionResult{}, fmt.Errorf("failed to load pattern %s: %w", patternID, err)
	}
	if def.Scope.WorkspaceID != workspaceID {
		err := fmt.Errorf("pattern %s belongs to workspace %s, not %s", patternID, def.Scope.WorkspaceID, workspaceID)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return PromotionResult{}, err
	}

	promotionKey := PromotionKey(workspaceID, def.PatternKey, def.CarrierStage, def.Category)
	span.SetAttributes(attribute.String("promotion_key", promotionKey))

	existing, err := s.store.ActivePrincipleByKey(ctx, workspaceID, promotionKey)
	switch {
	case err == nil:
		span.SetAttributes(attribute.String("outcome", "already_promoted"))
		return PromotionResult{PrincipleID: existing.ID, Created: false, Reason: "Already promoted"}, nil
	case !errors.Is(err, pattern.ErrNotFound):
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return PromotionResult{}, fmt.Errorf("failed to look up principle: %w", err)
	}

	siblings, err := s.store.PatternsByKey(ctx, workspaceID, def.PatternKey)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return PromotionResult{}, fmt.Errorf("failed to list patterns for key: %w", err)
	}

	projects := make(map[string]bool)
	var confidenceSum float64
	var active int
	for _, sibling := range siblings {
		if sibling.Status != pattern.StatusActive {
			continue
		}
		projects[sibling.Scope.ProjectID] = true
		confidenceSum += sibling.Confidence
		active++
	}

	if reason, ok := s.disqualify(def, len(projects)); !ok {
		span.SetAttributes(attribute.String("outcome", "not_qualified"))
		s.logger.Debug("pattern not qualified for principle promotion",
			zap.String("pattern_id", patternID),
			zap.String("workspace_id", workspaceID),
			zap.String("reason", reason),
		)
		return PromotionResult{Reason: reason}, nil
	}

	boost := s.policy.ProjectBoost * float64(len(projects)-s.policy.PrincipleMinProjects)
	if boost > s.policy.ProjectBoostCap {
		boost = s.policy.ProjectBoostCap
	}
	confidence := confidenceSum/float64(active) + boost
	if confidence > 1 {
		confidence = 1
	}
	if confidence < s.policy.PrincipleMinConfidence {
		reason := fmt.Sprintf("Boosted mean confidence %.2f below required %.2f", confidence, s.policy.PrincipleMinConfidence)
		span.SetAttributes(attribute.String("outcome", "not_qualified"))
		return PromotionResult{Reason: reason}, nil
	}

	principle := Principle{
		ID:           uuid.New().String(),
		WorkspaceID:  workspaceID,
		Origin:       OriginDerived,
		PromotionKey: promotionKey,
		Text:         "Avoid: " + def.Content,
		Rationale:    principleRationale(def, len(projects)),
		Category:     def.Category,
		Severity:     def.SeverityMax,
		Touches:      def.Touches,
		InjectInto:   pattern.TargetForStage(def.CarrierStage),
		Confidence:   confidence,
		Permanent:    false,
		Status:       PrincipleActive,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.store.InsertPrinciple(ctx, principle); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return PromotionResult{}, fmt.Errorf("failed to insert principle: %w", err)
	}

	if s.promotionCounter != nil {
		s.promotionCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("tier", "pattern_to_principle"),
		))
	}
	s.logger.Info("pattern promoted to workspace principle",
		zap.String("principle_id", principle.ID),
		zap.String("pattern_id", patternID),
		zap.String("workspace_id", workspaceID),
		zap.Int("projects", len(projects)),
		zap.Float64("confidence", confidence),
	)

	span.SetAttributes(
		attribute.String("outcome", "promoted"),
		attribute.String("principle_id", principle.ID),
	)
	return PromotionResult{PrincipleID: principle.ID, Created: true, Reason: "Promoted"}, nil
}

// RunPromotionScan walks the scope's active patterns and evaluates each
// security pattern with a high or critical severity high-water mark for
// workspace-principle promotion. Patterns whose key already carries an
// active principle count as evaluated, not promoted. Run once per scope
// per maintenance cycle.
func (s *service) RunPromotionScan(ctx context.Context, scope pattern.Scope) (ScanReport, error) {
	ctx, span := s.tracer.Start(ctx, "promotion.run_promotion_scan")
	defer span.End()

	span.SetAttributes(
		attribute.String("workspace_id", scope.WorkspaceID),
		attribute.String("project_id", scope.ProjectID),
	)

	if err := s.checkOpen(); err != nil {
		return ScanReport{}, err
	}

	defs, err := s.store.ListActivePatterns(ctx, scope)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return ScanReport{}, fmt.Errorf("failed to list active patterns: %w", err)
	}

	report := ScanReport{Scope: scope}
	for _, def := range defs {
		if def.Category != evidence.CategorySecurity || !def.SeverityMax.AtLeast(evidence.SeverityHigh) {
			continue
		}

		result, err := s.PromoteToPrinciple(ctx, scope.WorkspaceID, def.ID)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return report, fmt.Errorf("failed to evaluate pattern %s: %w", def.ID, err)
		}
		report.Evaluated++
		if result.Created {
			report.Promoted++
		}
	}

	span.SetAttributes(
		attribute.Int("evaluated", report.Evaluated),
		attribute.Int("promoted", report.Promoted),
	)
	return report, nil
}

// disqualify applies the qualification gates that need no confidence math.
func (s *service) disqualify(def pattern.Definition, projects int) (string, bool) {
	if projects < s.policy.PrincipleMinProjects {
		return fmt.Sprintf("Active in %d projects, need %d", projects, s.policy.PrincipleMinProjects), false
	}
	if !def.SeverityMax.AtLeast(evidence.SeverityHigh) {
		return fmt.Sprintf("Severity high-water mark %s below high", def.SeverityMax), false
	}
	if def.Category != evidence.CategorySecurity {
		return fmt.Sprintf("Category %s does not qualify, only security patterns promote", def.Category), false
	}
	return "", true
}

func principleRationale(def pattern.Definition, projects int) string {
	rationale := fmt.Sprintf("This guidance recurred as a %s-severity security pattern in %d distinct projects.", def.SeverityMax, projects)
	if def.Alternative != "" {
		rationale += " Preferred approach: " + def.Alternative
	}
	return rationale
}

// RollbackPrinciple archives the active principle under the promotion key,
// recording who asked for the rollback. The key is free for re-promotion
// afterwards; a fresh promotion inserts a new row with a new id.
func (s *service) RollbackPrinciple(ctx context.Context, workspaceID, promotionKey, archivedBy string) error {
	ctx, span := s.tracer.Start(ctx, "promotion.rollback_principle")
	defer span.End()

	span.SetAttributes(
		attribute.String("workspace_id", workspaceID),
		attribute.String("promotion_key", promotionKey),
	)

	if err := s.checkOpen(); err != nil {
		return err
	}

	if err := s.store.ArchivePrincipleByKey(ctx, workspaceID, promotionKey, "rollback", archivedBy); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to roll back principle: %w", err)
	}

	s.logger.Info("principle rolled back",
		zap.String("workspace_id", workspaceID),
		zap.String("promotion_key", promotionKey),
		zap.String("archived_by", archivedBy),
	)
	return nil
}
