package injection

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/patternd/internal/confidence"
	"github.com/fyrsmithlabs/patternd/internal/pattern"
	"github.com/fyrsmithlabs/patternd/internal/promotion"
)

const instrumentationName = "github.com/fyrsmithlabs/patternd/internal/injection"

// Store is the persistence the selector needs. Lookups return only active
// rows; AppendInjectionLog is append-only.
type Store interface {
	ListActivePrinciples(ctx context.Context, workspaceID string) ([]promotion.Principle, error)
	ListActivePatterns(ctx context.Context, scope pattern.Scope) ([]pattern.Definition, error)

	// ListCrossProjectSecurityPatterns returns active security patterns in
	// the scope's workspace that live in a different project.
	ListCrossProjectSecurityPatterns(ctx context.Context, scope pattern.Scope) ([]pattern.Definition, error)

	ListActiveAlerts(ctx context.Context, scope pattern.Scope) ([]promotion.Alert, error)
	AppendInjectionLog(ctx context.Context, log Log) error
}

// Service selects warnings for upcoming tasks.
type Service interface {
	// SelectWarnings gathers, ranks, and renders the warnings matching the
	// request, and appends the immutable audit row recording what was
	// surfaced.
	SelectWarnings(ctx context.Context, req SelectRequest) (*Selection, error)

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
	selectionCounter metric.Int64Counter
	surfacedCounter  metric.Int64Counter

	mu     sync.RWMutex
	closed bool
}

// NewService creates an injection selector service.
func NewService(policy Policy, store Store, engine *confidence.Engine, logger *zap.Logger) (Service, error) {
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid injection policy: %w", err)
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

	s.selectionCounter, err = s.meter.Int64Counter(
		"patternd.injection.selections_total",
		metric.WithDescription("Total number of warning selections"),
		metric.WithUnit("{selection}"),
	)
	if err != nil {
		s.logger.Warn("failed to create selection counter", zap.Error(err))
	}

	s.surfacedCounter, err = s.meter.Int64Counter(
		"patternd.injection.surfaced_total",
		metric.WithDescription("Total number of surfaced warnings by source kind"),
		metric.WithUnit("{warning}"),
	)
	if err != nil {
		s.logger.Warn("failed to create surfaced counter", zap.Error(err))
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
