package killswitch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/patternd/internal/evidence"
	"github.com/fyrsmithlabs/patternd/internal/pattern"
)

const instrumentationName = "github.com/fyrsmithlabs/patternd/internal/killswitch"

// Store is the persistence the circuit breaker needs. A scope with no stored
// status must come back as an active Status, not an error.
type Store interface {
	// KillSwitchStatus returns the current status for a scope, defaulting to
	// active when no row exists.
	KillSwitchStatus(ctx context.Context, scope pattern.Scope) (Status, error)

	// UpsertKillSwitchStatus persists a status row for its scope.
	UpsertKillSwitchStatus(ctx context.Context, status Status) error

	// ListRecentOutcomes returns up to limit outcome rows for a scope, newest
	// first.
	ListRecentOutcomes(ctx context.Context, scope pattern.Scope, limit int) ([]Outcome, error)

	// KillSwitchesDueForResume returns non-active statuses whose AutoResumeAt
	// is set and has elapsed at now.
	KillSwitchesDueForResume(ctx context.Context, now time.Time) ([]Status, error)
}

// Service drives the per-scope circuit breaker.
type Service interface {
	// Current returns the switch position for a scope.
	Current(ctx context.Context, scope pattern.Scope) (Status, error)

	// Gate decides whether attribution with the given evidence quote type may
	// create patterns in the scope right now.
	Gate(ctx context.Context, scope pattern.Scope, quoteType evidence.QuoteType) (Decision, error)

	// EvaluateHealth recomputes health metrics for a scope and escalates the
	// state if thresholds are crossed. It never steps a scope back toward
	// active; that is the resume path's job.
	EvaluateHealth(ctx context.Context, scope pattern.Scope) (Status, error)

	// Pause forces fully_paused, bypassing thresholds. Idempotent.
	Pause(ctx context.Context, scope pattern.Scope, reason string) (Status, error)

	// PauseInferred forces inferred_paused, bypassing thresholds. Idempotent.
	PauseInferred(ctx context.Context, scope pattern.Scope, reason string) (Status, error)

	// Resume forces active, bypassing thresholds. Idempotent.
	Resume(ctx context.Context, scope pattern.Scope, reason string) (Status, error)

	// FindDueForResumeEvaluation returns scopes whose auto-resume time has
	// elapsed. Cooperative polling: a scheduler calls this and then
	// EvaluateResume per scope; there is no internal timer.
	FindDueForResumeEvaluation(ctx context.Context, now time.Time) ([]Status, error)

	// EvaluateResume re-checks one paused scope's health: one step toward
	// active when healthy, an extended cooldown when not, an escalation when
	// metrics got worse.
	EvaluateResume(ctx context.Context, scope pattern.Scope) (Status, error)

	// Close releases the service.
	Close() error
}

// service implements the Service interface.
type service struct {
	policy Policy
	store  Store
	logger *zap.Logger

	// Telemetry
	tracer            trace.Tracer
	meter             metric.Meter
	transitionCounter metric.Int64Counter
	skipCounter       metric.Int64Counter

	mu     sync.RWMutex
	closed bool
}

// NewService creates a circuit-breaker service.
func NewService(policy Policy, store Store, logger *zap.Logger) (Service, error) {
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid kill-switch policy: %w", err)
	}
	if store == nil {
		return nil, errors.New("store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &service{
		policy: policy,
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

	s.transitionCounter, err = s.meter.Int64Counter(
		"patternd.killswitch.transitions_total",
		metric.WithDescription("Total number of kill-switch state transitions"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		s.logger.Warn("failed to create transition counter", zap.Error(err))
	}

	s.skipCounter, err = s.meter.Int64Counter(
		"patternd.killswitch.skips_total",
		metric.WithDescription("Total number of attributions skipped by the kill switch"),
		metric.WithUnit("{skip}"),
	)
	if err != nil {
		s.logger.Warn("failed to create skip counter", zap.Error(err))
	}
}

// Current returns the switch position for a scope.
func (s *service) Current(ctx context.Context, scope pattern.Scope) (Status, error) {
	if err := s.checkOpen(); err != nil {
		return Status{}, err
	}
	return s.store.KillSwitchStatus(ctx, scope)
}

// Gate decides whether attribution may create patterns in the scope.
func (s *service) Gate(ctx context.Context, scope pattern.Scope, quoteType evidence.QuoteType) (Decision, error) {
	ctx, span := s.tracer.Start(ctx, "killswitch.gate")
	defer span.End()

	span.SetAttributes(
		attribute.String("workspace_id", scope.WorkspaceID),
		attribute.String("project_id", scope.ProjectID),
		attribute.String("quote_type", string(quoteType)),
	)

	if err := s.checkOpen(); err != nil {
		return Decision{}, err
	}

	status, err := s.store.KillSwitchStatus(ctx, scope)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Decision{}, fmt.Errorf("failed to load kill-switch status: %w", err)
	}

	decision := Gate(status.State, quoteType)
	span.SetAttributes(
		attribute.String("state", string(decision.State)),
		attribute.Bool("allowed", decision.Allowed),
	)

	if !decision.Allowed {
		if s.skipCounter != nil {
			s.skipCounter.Add(ctx, 1, metric.WithAttributes(
				attribute.String("state", string(decision.State)),
				attribute.String("quote_type", string(quoteType)),
			))
		}
		s.logger.Debug("kill switch skipped attribution",
			zap.String("workspace_id", scope.WorkspaceID),
			zap.String("project_id", scope.ProjectID),
			zap.String("state", string(decision.State)),
			zap.String("tag", decision.Tag),
		)
	}

	return decision, nil
}

// EvaluateHealth recomputes metrics and escalates when thresholds are crossed.
func (s *service) EvaluateHealth(ctx context.Context, scope pattern.Scope) (Status, error) {
	ctx, span := s.tracer.Start(ctx, "killswitch.evaluate_health")
	defer span.End()

	span.SetAttributes(
		attribute.String("workspace_id", scope.WorkspaceID),
		attribute.String("project_id", scope.ProjectID),
	)

	if err := s.checkOpen(); err != nil {
		return Status{}, err
	}

	status, metrics, desired, reason, err := s.assessScope(ctx, scope)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Status{}, err
	}

	span.SetAttributes(
		attribute.String("state", string(status.State)),
		attribute.Float64("precision", metrics.Precision),
		attribute.Float64("inferred_ratio", metrics.InferredRatio),
		attribute.Float64("improvement_rate", metrics.ImprovementRate),
		attribute.Int("samples", metrics.Samples),
	)

	// Health evaluation only escalates. Recovery goes through the resume
	// path so a scope cannot flap between states on every attribution.
	if desired.Rank() <= status.State.Rank() || !canTransition(status.State, desired) {
		return status, nil
	}

	next := s.transition(status, desired, reason)
	if err := s.store.UpsertKillSwitchStatus(ctx, next); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Status{}, fmt.Errorf("failed to persist kill-switch transition: %w", err)
	}

	s.recordTransition(ctx, status.State, next.State, "health")
	s.logger.Warn("kill switch engaged",
		zap.String("workspace_id", scope.WorkspaceID),
		zap.String("project_id", scope.ProjectID),
		zap.String("from", string(status.State)),
		zap.String("to", string(next.State)),
		zap.String("reason", reason),
		zap.Time("auto_resume_at", next.AutoResumeAt),
	)

	return next, nil
}

// Pause forces fully_paused.
func (s *service) Pause(ctx context.Context, scope pattern.Scope, reason string) (Status, error) {
	return s.manualSet(ctx, scope, StateFullyPaused, reason, "manual pause")
}

// PauseInferred forces inferred_paused.
func (s *service) PauseInferred(ctx context.Context, scope pattern.Scope, reason string) (Status, error) {
	return s.manualSet(ctx, scope, StateInferredPaused, reason, "manual inferred pause")
}

// Resume forces active.
func (s *service) Resume(ctx context.Context, scope pattern.Scope, reason string) (Status, error) {
	return s.manualSet(ctx, scope, StateActive, reason, "manual resume")
}

// manualSet sets the state directly, bypassing thresholds and the transition
// table. Calling it with the current state is a no-op.
func (s *service) manualSet(ctx context.Context, scope pattern.Scope, target State, reason, fallbackReason string) (Status, error) {
	ctx, span := s.tracer.Start(ctx, "killswitch.manual_set")
	defer span.End()

	span.SetAttributes(
		attribute.String("workspace_id", scope.WorkspaceID),
		attribute.String("project_id", scope.ProjectID),
		attribute.String("target", string(target)),
	)

	if err := s.checkOpen(); err != nil {
		return Status{}, err
	}

	status, err := s.store.KillSwitchStatus(ctx, scope)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Status{}, fmt.Errorf("failed to load kill-switch status: %w", err)
	}
	if status.State == target {
		return status, nil
	}

	if reason == "" {
		reason = fallbackReason
	}
	next := Status{
		Scope:     scope,
		State:     target,
		Reason:    reason,
		EnteredAt: time.Now().UTC(),
		// Manual pauses carry no auto-resume; only an operator undoes them.
	}
	if err := s.store.UpsertKillSwitchStatus(ctx, next); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Status{}, fmt.Errorf("failed to persist kill-switch state: %w", err)
	}

	s.recordTransition(ctx, status.State, target, "manual")
	s.logger.Info("kill switch set manually",
		zap.String("workspace_id", scope.WorkspaceID),
		zap.String("project_id", scope.ProjectID),
		zap.String("from", string(status.State)),
		zap.String("to", string(target)),
		zap.String("reason", reason),
	)

	return next, nil
}

// FindDueForResumeEvaluation returns scopes whose auto-resume time elapsed.
func (s *service) FindDueForResumeEvaluation(ctx context.Context, now time.Time) ([]Status, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	return s.store.KillSwitchesDueForResume(ctx, now)
}

// EvaluateResume re-checks one paused scope's health.
func (s *service) EvaluateResume(ctx context.Context, scope pattern.Scope) (Status, error) {
	ctx, span := s.tracer.Start(ctx, "killswitch.evaluate_resume")
	defer span.End()

	span.SetAttributes(
		attribute.String("workspace_id", scope.WorkspaceID),
		attribute.String("project_id", scope.ProjectID),
	)

	if err := s.checkOpen(); err != nil {
		return Status{}, err
	}

	status, metrics, desired, reason, err := s.assessScope(ctx, scope)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Status{}, err
	}
	if status.State == StateActive {
		return status, nil
	}

	span.SetAttributes(
		attribute.String("state", string(status.State)),
		attribute.Float64("precision", metrics.Precision),
		attribute.Int("samples", metrics.Samples),
	)

	var next Status
	var direction string
	switch {
	case desired.Rank() > status.State.Rank():
		// Metrics got worse while paused: escalate with a fresh cooldown.
		next = s.transition(status, desired, reason)
		direction = "escalate"
	case desired.Rank() < status.State.Rank():
		// Healthy enough to recover, but only one step at a time.
		next = s.transition(status, stepToward(status.State), "recovered: "+reason)
		direction = "recover"
	default:
		// Still unhealthy at the same level: push auto-resume out.
		next = status
		next.Reason = reason
		next.AutoResumeAt = time.Now().UTC().Add(s.policy.cooldownFor(status.State))
		direction = "extend"
	}

	if err := s.store.UpsertKillSwitchStatus(ctx, next); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Status{}, fmt.Errorf("failed to persist resume evaluation: %w", err)
	}

	if next.State != status.State {
		s.recordTransition(ctx, status.State, next.State, "resume")
	}
	s.logger.Info("kill switch resume evaluation",
		zap.String("workspace_id", scope.WorkspaceID),
		zap.String("project_id", scope.ProjectID),
		zap.String("direction", direction),
		zap.String("from", string(status.State)),
		zap.String("to", string(next.State)),
		zap.Time("auto_resume_at", next.AutoResumeAt),
	)

	span.SetAttributes(attribute.String("direction", direction))
	return next, nil
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

// assessScope loads the current status and computes metrics plus the state
// they call for.
func (s *service) assessScope(ctx context.Context, scope pattern.Scope) (Status, HealthMetrics, State, string, error) {
	status, err := s.store.KillSwitchStatus(ctx, scope)
	if err != nil {
		return Status{}, HealthMetrics{}, "", "", fmt.Errorf("failed to load kill-switch status: %w", err)
	}
	outcomes, err := s.store.ListRecentOutcomes(ctx, scope, s.policy.HealthWindow)
	if err != nil {
		return Status{}, HealthMetrics{}, "", "", fmt.Errorf("failed to load attribution outcomes: %w", err)
	}
	metrics := ComputeMetrics(outcomes)
	desired, reason := s.policy.Assess(metrics)
	return status, metrics, desired, reason, nil
}

// transition builds the successor status for an automatic state change.
func (s *service) transition(current Status, target State, reason string) Status {
	next := Status{
		Scope:     current.Scope,
		State:     target,
		Reason:    reason,
		EnteredAt: time.Now().UTC(),
	}
	if cooldown := s.policy.cooldownFor(target); cooldown > 0 {
		next.AutoResumeAt = next.EnteredAt.Add(cooldown)
	}
	return next
}

func (s *service) recordTransition(ctx context.Context, from, to State, trigger string) {
	if s.transitionCounter == nil {
		return
	}
	s.transitionCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", string(from)),
		attribute.String("to", string(to)),
		attribute.String("trigger", trigger),
	))
}

func (s *service) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errors.New("service is closed")
	}
	return nil
}
