package promotion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/patternd/internal/confidence"
	"github.com/fyrsmithlabs/patternd/internal/evidence"
	"github.com/fyrsmithlabs/patternd/internal/pattern"
)

// EnsureAlert links an occurrence to the active alert with the same key,
// creating the alert first when none exists. Crossing the promotion threshold
// turns the alert into a durable pattern in the same call.
func (s *service) EnsureAlert(ctx context.Context, req AlertRequest) (AlertResult, error) {
	ctx, span := s.tracer.Start(ctx, "promotion.ensure_alert")
	defer span.End()

	span.SetAttributes(
		attribute.String("workspace_id", req.Scope.WorkspaceID),
		attribute.String("project_id", req.Scope.ProjectID),
		attribute.String("category", string(req.Category)),
		attribute.String("severity", string(req.Severity)),
	)

	if err := s.checkOpen(); err != nil {
		return AlertResult{}, err
	}

	stage := req.InjectInto.CarrierStage()
	alertKey := pattern.Key(stage, req.Content, req.Category)
	span.SetAttributes(attribute.String("alert_key", alertKey))

	alert, err := s.store.ActiveAlertByKey(ctx, req.Scope, alertKey)
	created := false
	switch {
	case errors.Is(err, pattern.ErrNotFound):
		now := time.Now().UTC()
		alert = Alert{
			ID:          uuid.New().String(),
			Scope:       req.Scope,
			AlertKey:    alertKey,
			Content:     req.Content,
			Alternative: req.Alternative,
			Category:    req.Category,
			Severity:    req.Severity,
			QuoteType:   req.QuoteType,
			Touches:     req.Touches,
			InjectInto:  req.InjectInto,
			Status:      AlertActive,
			CreatedAt:   now,
			ExpiresAt:   now.Add(s.policy.AlertTTL),
		}
		if err := s.store.InsertAlert(ctx, alert); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return AlertResult{}, fmt.Errorf("failed to insert alert: %w", err)
		}
		created = true
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return AlertResult{}, fmt.Errorf("failed to look up alert: %w", err)
	}

	occ := req.Occurrence
	occ.AlertID = alert.ID
	occ.PatternID = ""
	if err := s.store.AppendOccurrence(ctx, occ); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return AlertResult{}, fmt.Errorf("failed to append alert occurrence: %w", err)
	}

	if s.alertCounter != nil {
		event := "linked"
		if created {
			event = "created"
		}
		s.alertCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("event", event)))
	}

	result := AlertResult{Alert: alert, OccurrenceID: occ.ID, Created: created}

	occs, err := s.store.ListOccurrencesByAlert(ctx, alert.ID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return AlertResult{}, fmt.Errorf("failed to count alert occurrences: %w", err)
	}
	span.SetAttributes(attribute.Int("occurrence_count", len(occs)))

	if len(occs) < s.policy.AlertPromotionThreshold {
		s.logger.Info("provisional alert updated",
			zap.String("alert_id", alert.ID),
			zap.String("workspace_id", req.Scope.WorkspaceID),
			zap.String("project_id", req.Scope.ProjectID),
			zap.Bool("created", created),
			zap.Int("occurrences", len(occs)),
		)
		return result, nil
	}

	def, err := s.promoteAlert(ctx, alert, occs)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return AlertResult{}, err
	}

	result.Promoted = true
	result.Pattern = &def
	result.Alert.Status = AlertPromoted
	result.Alert.PromotedPatternID = def.ID
	span.SetAttributes(attribute.String("pattern_id", def.ID))
	return result, nil
}

// ExpireAlerts promotes due alerts that reached the threshold and expires the
// rest. Invoked by the maintenance runner.
func (s *service) ExpireAlerts(ctx context.Context, now time.Time) (ExpiryReport, error) {
	ctx, span := s.tracer.Start(ctx, "promotion.expire_alerts")
	defer span.End()

	if err := s.checkOpen(); err != nil {
		return ExpiryReport{}, err
	}

	due, err := s.store.ListAlertsDueForExpiry(ctx, now)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return ExpiryReport{}, fmt.Errorf("failed to list due alerts: %w", err)
	}

	report := ExpiryReport{Evaluated: len(due)}
	for _, alert := range due {
		occs, err := s.store.ListOccurrencesByAlert(ctx, alert.ID)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return report, fmt.Errorf("failed to list occurrences for alert %s: %w", alert.ID, err)
		}

		if len(occs) >= s.policy.AlertPromotionThreshold {
			if _, err := s.promoteAlert(ctx, alert, occs); err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return report, err
			}
			report.Promoted++
			continue
		}

		if err := s.store.MarkAlertExpired(ctx, alert.ID); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return report, fmt.Errorf("failed to expire alert %s: %w", alert.ID, err)
		}
		report.Expired++
		s.logger.Info("provisional alert expired below threshold",
			zap.String("alert_id", alert.ID),
			zap.String("workspace_id", alert.Scope.WorkspaceID),
			zap.String("project_id", alert.Scope.ProjectID),
			zap.Int("occurrences", len(occs)),
		)
	}

	span.SetAttributes(
		attribute.Int("evaluated", report.Evaluated),
		attribute.Int("promoted", report.Promoted),
		attribute.Int("expired", report.Expired),
	)
	return report, nil
}

// promoteAlert builds the definition an alert graduates into and applies the
// promotion transaction: create pattern, relink occurrences, mark promoted.
func (s *service) promoteAlert(ctx context.Context, alert Alert, occs []pattern.Occurrence) (pattern.Definition, error) {
	now := time.Now().UTC()
	stage := alert.InjectInto.CarrierStage()

	severityMax := alert.Severity
	for _, occ := range occs {
		severityMax = evidence.MaxSeverity(severityMax, occ.Severity)
	}

	def := pattern.Definition{
		ID:          uuid.New().String(),
		Scope:       alert.Scope,
		PatternKey:  alert.AlertKey,
		ContentHash: pattern.ContentHash(alert.Content),
		Content:     alert.Content,
		// Alerts hold guidance whose failure was never classified beyond
		// "something was missing"; promoted patterns default accordingly.
		FailureMode:      evidence.FailureIncomplete,
		Category:         alert.Category,
		Severity:         alert.Severity,
		SeverityMax:      severityMax,
		Alternative:      alert.Alternative,
		CarrierStage:     stage,
		PrimaryQuoteType: alert.QuoteType,
		Touches:          alert.Touches,
		Status:           pattern.StatusActive,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	stats := confidence.ComputeStats(occs)
	if stats.LastSeenActive.IsZero() {
		stats.LastSeenActive = now
	}
	def.Confidence = s.engine.AttributionConfidence(def, stats, confidence.Flags{}, now)

	stored, err := s.store.PromoteAlert(ctx, alert.ID, def)
	if err != nil {
		return pattern.Definition{}, fmt.Errorf("failed to promote alert %s: %w", alert.ID, err)
	}

	if s.promotionCounter != nil {
		s.promotionCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("tier", "alert_to_pattern"),
		))
	}
	s.logger.Info("provisional alert promoted to pattern",
		zap.String("alert_id", alert.ID),
		zap.String("pattern_id", stored.ID),
		zap.String("workspace_id", alert.Scope.WorkspaceID),
		zap.String("project_id", alert.Scope.ProjectID),
		zap.Int("occurrences", len(occs)),
		zap.Float64("confidence", stored.Confidence),
	)

	return stored, nil
}
