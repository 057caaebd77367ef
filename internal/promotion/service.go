package promotion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/patternd/internal/confidence"
	"github.com/fyrsmithlabs/patternd/internal/pattern"
)

const instrumentationName = "github.com/fyrsmithlabs/patternd/internal/promotion"

// Store is the persistence the promotion pipeline needs. Lookups return
// pattern.ErrNotFound when no row matches. PromoteAlert and ApplyDecaySweep
// are transactional: they succeed completely or leave every row untouched.
type Store interface {
	// Alerts.
	ActiveAlertByKey(ctx context.Context, scope pattern.Scope, alertKey string) (Alert, error)
	InsertAlert(ctx context.Context, alert Alert) error
	AppendOccurrence(ctx context.Context, occ pattern.Occurrence) error
	ListOccurrencesByAlert(ctx context.Context, alertID string) ([]pattern.Occurrence, error)

	// PromoteAlert atomically creates (or dedups into) the definition,
	// relinks every occurrence of the alert to it, and marks the alert
	// promoted. Returns the canonical stored definition.
	PromoteAlert(ctx context.Context, alertID string, def pattern.Definition) (pattern.Definition, error)

	ListAlertsDueForExpiry(ctx context.Context, now time.Time) ([]Alert, error)
	MarkAlertExpired(ctx context.Context, alertID string) error

	// Principles.
	ActivePrincipleByKey(ctx context.Context, workspaceID, promotionKey string) (Principle, error)
	InsertPrinciple(ctx context.Context, principle Principle) error
	ArchivePrincipleByKey(ctx context.Context, workspaceID, promotionKey, reason, archivedBy string) error

	// Tier-2 qualification inputs.
	PatternByID(ctx context.Context, id string) (pattern.Definition, error)
	PatternsByKey(ctx context.Context, workspaceID, patternKey string) ([]pattern.Definition, error)

	// Tier-3 sweep inputs and output.
	ListActivePatterns(ctx context.Context, scope pattern.Scope) ([]pattern.Definition, error)
	ListOccurrencesByPattern(ctx context.Context, patternID string) ([]pattern.Occurrence, error)
	ApplyDecaySweep(ctx context.Context, scope pattern.Scope, updates []ConfidenceUpdate, archiveIDs []string) error
}

// Service runs the three promotion tiers.
type Service interface {
	// EnsureAlert links an occurrence to the scope's active alert with the
	// same key, creating the alert when none exists and promoting it when
	// the occurrence count crosses the threshold.
	EnsureAlert(ctx context.Context, req AlertRequest) (AlertResult, error)

	// ExpireAlerts promotes every due alert that reached the threshold and
	// expires the rest.
	ExpireAlerts(ctx context.Context, now time.Time) (ExpiryReport, error)

	// PromoteToPrinciple evaluates one pattern for workspace-principle
	// promotion. Idempotent per promotion key.
	PromoteToPrinciple(ctx context.Context, workspaceID, patternID string) (PromotionResult, error)

	// RunPromotionScan evaluates every active security pattern in the
	// scope for principle promotion. Safe to re-run; already-promoted
	// keys short-circuit without a new row.
	RunPromotionScan(ctx context.Context, scope pattern.Scope) (ScanReport, error)

	// RollbackPrinciple archives an active principle by promotion key,
	// freeing the key for future re-promotion.
	RollbackPrinciple(ctx context.Context, workspaceID, promotionKey, archivedBy string) error

	// SeedBaselines inserts the fixed baseline principles for a workspace,
	// skipping ones already present. Returns how many were inserted.
	SeedBaselines(ctx context.Context, workspaceID string) (int, error)

	// RunDecaySweep recomputes confidence for every active non-permanent
	// pattern in the scope and archives those under the floor, atomically.
	RunDecaySweep(ctx context.Context, scope pattern.Scope) (SweepReport, error)

	// Close closes the service.
	Close() error
}

// service implements the Service interface.
type service struct {
	policy Policy
	store  Store
	engine *confidence.Engine
	logger *zap.Logger

	// Telemetry
	tracer           trace.Tracer
	meter            metric.Meter
	alertCounter     metric.Int64Counter
	promotionCounter metric.Int64Counter
	archivedCounter  metric.Int64Counter

	mu     sync.RWMutex
	closed bool
}

// NewService creates a promotion service.
func NewService(policy Policy, store Store, engine *confidence.Engine, logger *zap.Logger) (Service, error) {
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid promotion policy: %w", err)
	}
	if store == nil {
		return nil, errors.New("store is required")
	}
	if engine == nil {
		return nil, errors.New("confidence engine is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &service{
		policy: policy,
		store:  store,
		engine: engine,
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

	s.alertCounter, err = s.meter.Int64Counter(
		"patternd.promotion.alerts_total",
		metric.WithDescription("Total number of provisional alert events"),
		metric.WithUnit("{alert}"),
	)
	if err != nil {
		s.logger.Warn("failed to create alert counter", zap.Error(err))
	}

	s.promotionCounter, err = s.meter.Int64Counter(
		"patternd.promotion.promotions_total",
		metric.WithDescription("Total number of promotions by tier"),
		metric.WithUnit("{promotion}"),
	)
	if err != nil {
		s.logger.Warn("failed to create promotion counter", zap.Error(err))
	}

	s.archivedCounter, err = s.meter.Int64Counter(
		"patternd.promotion.decay_archived_total",
		metric.WithDescription("Total number of patterns archived by the decay sweep"),
		metric.WithUnit("{pattern}"),
	)
	if err != nil {
		s.logger.Warn("failed to create archive counter", zap.Error(err))
	}
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
