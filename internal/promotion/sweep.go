package promotion

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/patternd/internal/confidence"
	"github.com/fyrsmithlabs/patternd/internal/pattern"
)

// RunDecaySweep recomputes attribution confidence for every active
// non-permanent pattern in the scope and archives those under the decay
// floor. All writes land in one transaction: a failure mid-sweep leaves
// every row untouched.
func (s *service) RunDecaySweep(ctx context.Context, scope pattern.Scope) (SweepReport, error) {
	ctx, span := s.tracer.Start(ctx, "promotion.run_decay_sweep")
	defer span.End()

	span.SetAttributes(
		attribute.String("workspace_id", scope.WorkspaceID),
		attribute.String("project_id", scope.ProjectID),
	)

	if err := s.checkOpen(); err != nil {
		return SweepReport{}, err
	}

	defs, err := s.store.ListActivePatterns(ctx, scope)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return SweepReport{}, fmt.Errorf("failed to list active patterns: %w", err)
	}

	now := time.Now().UTC()
	report := SweepReport{Scope: scope, Scanned: len(defs)}

	var updates []ConfidenceUpdate
	var archiveIDs []string
	for _, def := range defs {
		if def.Permanent {
			continue
		}

		occs, err := s.store.ListOccurrencesByPattern(ctx, def.ID)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return report, fmt.Errorf("failed to list occurrences for pattern %s: %w", def.ID, err)
		}

		stats := confidence.ComputeStats(occs)
		recomputed := s.engine.AttributionConfidence(def, stats, confidence.Flags{}, now)

		if recomputed < s.policy.DecayFloor {
			archiveIDs = append(archiveIDs, def.ID)
			s.logger.Info("pattern decayed below floor",
				zap.String("pattern_id", def.ID),
				zap.String("workspace_id", scope.WorkspaceID),
				zap.String("project_id", scope.ProjectID),
				zap.Float64("confidence", recomputed),
				zap.Float64("floor", s.policy.DecayFloor),
			)
			continue
		}
		if recomputed != def.Confidence {
			updates = append(updates, ConfidenceUpdate{PatternID: def.ID, Confidence: recomputed})
		}
	}

	if err := s.store.ApplyDecaySweep(ctx, scope, updates, archiveIDs); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return report, fmt.Errorf("failed to apply decay sweep: %w", err)
	}

	report.Updated = len(updates)
	report.Archived = len(archiveIDs)

	if s.archivedCounter != nil && report.Archived > 0 {
		s.archivedCounter.Add(ctx, int64(report.Archived), metric.WithAttributes(
			attribute.String("workspace_id", scope.WorkspaceID),
		))
	}
	span.SetAttributes(
		attribute.Int("scanned", report.Scanned),
		attribute.Int("updated", report.Updated),
		attribute.Int("archived", report.Archived),
	)
	s.logger.Info("decay sweep complete",
		zap.String("workspace_id", scope.WorkspaceID),
		zap.String("project_id", scope.ProjectID),
		zap.Int("scanned", report.Scanned),
		zap.Int("updated", report.Updated),
		zap.Int("archived", report.Archived),
	)
	return report, nil
}
