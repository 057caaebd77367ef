package reflection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/patternd/internal/injection"
	"github.com/fyrsmithlabs/patternd/internal/pattern"
)

const instrumentationName = "github.com/fyrsmithlabs/patternd/internal/reflection"

// Store is the persistence the detector needs. LatestInjectionLog returns
// pattern.ErrNotFound when the issue was never injected for.
type Store interface {
	LatestInjectionLog(ctx context.Context, scope pattern.Scope, issueID string) (injection.Log, error)
	PatternByID(ctx context.Context, id string) (pattern.Definition, error)
	InsertTaggingMiss(ctx context.Context, miss TaggingMiss) error

	// ResolveTaggingMiss marks a pending miss resolved with the given note.
	ResolveTaggingMiss(ctx context.Context, id, resolution string) error
}

// Service detects and resolves tagging misses.
type Service interface {
	// CheckForTaggingMisses compares the attributed patterns with the
	// issue's most recent injection log and records a miss for every
	// pattern the logged task profile could not have matched.
	CheckForTaggingMisses(ctx context.Context, req CheckRequest) ([]TaggingMiss, error)

	// ResolveMiss closes a pending miss with an operator note.
	ResolveMiss(ctx context.Context, id, resolution string) error

	// Close closes the service.
	Close() error
}

// service implements the Service interface.
type service struct {
	store  Store
	logger *zap.Logger

	// Telemetry
	tracer      trace.Tracer
	meter       metric.Meter
	missCounter metric.Int64Counter

	mu     sync.RWMutex
	closed bool
}

// NewService creates a tagging-miss detector.
func NewService(store Store, logger *zap.Logger) (Service, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &service{
		store:  store,
		logger: logger,
		tracer: otel.Tracer(instrumentationName),
		meter:  otel.Meter(instrumentationName),
	}

	s.initMetrics()

	return s, nil
}

// initMetrics initializes OpenTelemetry metrics.
func (s *service) initMetrics() {
	var err error

	s.missCounter, err = s.meter.Int64Counter(
		"patternd.reflection.tagging_misses_total",
		metric.WithDescription("Total number of recorded tagging misses"),
		metric.WithUnit("{miss}"),
	)
	if err != nil {
		s.logger.Warn("failed to create miss counter", zap.Error(err))
	}
}

// CheckForTaggingMisses records a TaggingMiss for every attributed pattern
// that was absent from the issue's latest injection log and whose tags the
// logged task profile did not cover. Patterns that were surfaced, or that
// would have matched and simply ranked out, produce nothing.
func (s *service) CheckForTaggingMisses(ctx context.Context, req CheckRequest) ([]TaggingMiss, error) {
	ctx, span := s.tracer.Start(ctx, "reflection.check_tagging_misses")
	defer span.End()

	span.SetAttributes(
		attribute.String("workspace_id", req.Scope.WorkspaceID),
		attribute.String("project_id", req.Scope.ProjectID),
		attribute.String("issue_id", req.IssueID),
		attribute.Int("attributed", len(req.AttributedPatternIDs)),
	)

	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if err := req.Scope.Validate(); err != nil {
		return nil, err
	}
	if req.IssueID == "" {
		return nil, errors.New("issue id is required")
	}
	if len(req.AttributedPatternIDs) == 0 {
		return nil, nil
	}

	log, err := s.store.LatestInjectionLog(ctx, req.Scope, req.IssueID)
	if errors.Is(err, pattern.ErrNotFound) {
		// Nothing was ever injected for this issue, so there is no recorded
		// task profile to judge coverage against.
		s.logger.Debug("no injection log for issue, skipping miss check",
			zap.String("issue_id", req.IssueID),
			zap.String("workspace_id", req.Scope.WorkspaceID),
			zap.String("project_id", req.Scope.ProjectID),
		)
		return nil, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to load injection log: %w", err)
	}

	surfaced := make(map[string]bool, len(log.PatternIDs))
	for _, id := range log.PatternIDs {
		surfaced[id] = true
	}

	var misses []TaggingMiss
	checked := make(map[string]bool, len(req.AttributedPatternIDs))
	for _, id := range req.AttributedPatternIDs {
		if checked[id] || surfaced[id] {
			continue
		}
		checked[id] = true

		def, err := s.store.PatternByID(ctx, id)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return misses, fmt.Errorf("failed to load attributed pattern %s: %w", id, err)
		}

		// Touch overlap is what the selector gathers on: a pattern that
		// overlapped was eligible and merely ranked out.
		if def.Touches.Overlaps(log.TaskProfile.Touches) {
			continue
		}

		missing := missingTags(def, log.TaskProfile)
		if len(missing) == 0 {
			// The pattern itself carries no tags; no profile change could
			// have surfaced it.
			continue
		}

		miss := TaggingMiss{
			ID:                uuid.New().String(),
			Scope:             req.Scope,
			PatternID:         def.ID,
			IssueID:           req.IssueID,
			ActualTaskProfile: log.TaskProfile,
			RequiredMatch: RequiredMatch{
				Touches:      def.Touches,
				Technologies: def.Technologies,
				TaskTypes:    def.TaskTypes,
			},
			MissingTags: missing,
			Status:      MissPending,
			CreatedAt:   time.Now().UTC(),
		}
		if err := s.store.InsertTaggingMiss(ctx, miss); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return misses, fmt.Errorf("failed to record tagging miss: %w", err)
		}
		misses = append(misses, miss)

		if s.missCounter != nil {
			s.missCounter.Add(ctx, 1, metric.WithAttributes(
				attribute.String("workspace_id", req.Scope.WorkspaceID),
			))
		}
		s.logger.Info("tagging miss recorded",
			zap.String("miss_id", miss.ID),
			zap.String("pattern_id", def.ID),
			zap.String("issue_id", req.IssueID),
			zap.Strings("missing_tags", missing),
		)
	}

	span.SetAttributes(attribute.Int("misses", len(misses)))
	return misses, nil
}

// missingTags lists what the profile lacked, prefixed by kind. Touches gate
// the match; technology and task-type gaps ride along as diagnostics.
func missingTags(def pattern.Definition, profile pattern.TaskProfile) []string {
	var tags []string
	for _, t := range def.Touches.Missing(profile.Touches) {
		tags = append(tags, "touch:"+string(t))
	}
	for _, t := range def.Technologies.Missing(profile.Technologies) {
		tags = append(tags, "tech:"+t)
	}
	for _, t := range def.TaskTypes.Missing(profile.TaskTypes) {
		tags = append(tags, "tasktype:"+t)
	}
	return tags
}

// ResolveMiss closes a pending miss with an operator note.
func (s *service) ResolveMiss(ctx context.Context, id, resolution string) error {
	ctx, span := s.tracer.Start(ctx, "reflection.resolve_miss")
	defer span.End()

	span.SetAttributes(attribute.String("miss_id", id))

	if err := s.checkOpen(); err != nil {
		return err
	}
	if resolution == "" {
		return errors.New("resolution is required")
	}

	if err := s.store.ResolveTaggingMiss(ctx, id, resolution); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to resolve tagging miss: %w", err)
	}

	s.logger.Info("tagging miss resolved",
		zap.String("miss_id", id),
		zap.String("resolution", resolution),
	)
	return nil
}

// Close closes the service.
func (s *service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return nil
}

func (s *service) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errors.New("service is closed")
	}
	return nil
}
