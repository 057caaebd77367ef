package attribution

import (
	"context"
	"encoding/json"
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

	"github.com/fyrsmithlabs/patternd/internal/confidence"
	"github.com/fyrsmithlabs/patternd/internal/evidence"
	"github.com/fyrsmithlabs/patternd/internal/killswitch"
	"github.com/fyrsmithlabs/patternd/internal/pattern"
	"github.com/fyrsmithlabs/patternd/internal/promotion"
)

const instrumentationName = "github.com/fyrsmithlabs/patternd/internal/attribution"

// Service attributes confirmed findings to patterns.
type Service interface {
	// Attribute processes one finding end to end: validate, gate, resolve,
	// scrub, route, log the outcome, and re-evaluate scope health.
	Attribute(ctx context.Context, req AttributeRequest) (*AttributionResult, error)

	// AttributeBatch processes findings independently; one failure never
	// aborts siblings.
	AttributeBatch(ctx context.Context, reqs []AttributeRequest) BatchResult

	// Close closes the service.
	Close() error
}

// service implements the Service interface.
type service struct {
	store      Store
	killswitch killswitch.Service
	promotion  promotion.Service
	engine     *confidence.Engine
	scrubber   Scrubber
	logger     *zap.Logger

	// Telemetry
	tracer             trace.Tracer
	meter              metric.Meter
	attributionCounter metric.Int64Counter
	redactionCounter   metric.Int64Counter

	mu     sync.RWMutex
	closed bool
}

// NewService creates an attribution service.
func NewService(store Store, ks killswitch.Service, promo promotion.Service, engine *confidence.Engine, scrubber Scrubber, logger *zap.Logger) (Service, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if ks == nil {
		return nil, errors.New("kill-switch service is required")
	}
	if promo == nil {
		return nil, errors.New("promotion service is required")
	}
	if engine == nil {
		return nil, errors.New("confidence engine is required")
	}
	if scrubber == nil {
		return nil, errors.New("scrubber is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &service{
		store:      store,
		killswitch: ks,
		promotion:  promo,
		engine:     engine,
		scrubber:   scrubber,
		logger:     logger,
		tracer:     otel.Tracer(instrumentationName),
		meter:      otel.Meter(instrumentationName),
	}

	s.initMetrics()

	return s, nil
}

// initMetrics initializes OpenTelemetry metrics.
func (s *service) initMetrics() {
	var err error

	s.attributionCounter, err = s.meter.Int64Counter(
		"patternd.attribution.attributions_total",
		metric.WithDescription("Total number of attributions by result type"),
		metric.WithUnit("{attribution}"),
	)
	if err != nil {
		s.logger.Warn("failed to create attribution counter", zap.Error(err))
	}

	s.redactionCounter, err = s.meter.Int64Counter(
		"patternd.attribution.redactions_total",
		metric.WithDescription("Total number of secret values scrubbed from evidence"),
		metric.WithUnit("{redaction}"),
	)
	if err != nil {
		s.logger.Warn("failed to create redaction counter", zap.Error(err))
	}
}

// Attribute processes one confirmed finding.
func (s *service) Attribute(ctx context.Context, req AttributeRequest) (*AttributionResult, error) {
	ctx, span := s.tracer.Start(ctx, "attribution.attribute")
	defer span.End()

	span.SetAttributes(
		attribute.String("workspace_id", req.Scope.WorkspaceID),
		attribute.String("project_id", req.Scope.ProjectID),
		attribute.String("finding_id", req.Finding.ID),
		attribute.String("quote_type", string(req.Evidence.CarrierQuoteType)),
	)

	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	result, err := s.attribute(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.String("result", string(result.Type)))
	if s.attributionCounter != nil {
		s.attributionCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("result", string(result.Type)),
		))
	}
	if s.redactionCounter != nil && result.Redacted > 0 {
		s.redactionCounter.Add(ctx, int64(result.Redacted))
	}
	return result, nil
}

func (s *service) attribute(ctx context.Context, req AttributeRequest) (*AttributionResult, error) {
	// Boundary validation: malformed input never reaches the resolver.
	if err := req.Scope.Validate(); err != nil {
		return nil, err
	}
	if err := evidence.ValidateFinding(&req.Finding); err != nil {
		return nil, fmt.Errorf("invalid finding: %w", err)
	}
	if err := evidence.ValidateBundle(&req.Evidence); err != nil {
		return nil, fmt.Errorf("invalid evidence bundle: %w", err)
	}
	touches, err := pattern.NewTouchSet(req.Touches)
	if err != nil {
		return nil, err
	}
	technologies, err := pattern.NewTagSet(req.Technologies)
	if err != nil {
		return nil, err
	}
	taskTypes, err := pattern.NewTagSet(req.TaskTypes)
	if err != nil {
		return nil, err
	}

	category := req.Finding.ResolvedCategory()
	quoteType := req.Evidence.CarrierQuoteType

	// Gate before anything is created. A skip still logs an outcome so the
	// health metrics see the full picture.
	decision, err := s.killswitch.Gate(ctx, req.Scope, quoteType)
	if err != nil {
		return nil, fmt.Errorf("kill-switch gate: %w", err)
	}
	if !decision.Allowed {
		result := &AttributionResult{
			Type:      ResultSkipped,
			Reasoning: decision.Tag,
		}
		s.logger.Info("attribution skipped by kill switch",
			zap.String("finding_id", req.Finding.ID),
			zap.String("workspace_id", req.Scope.WorkspaceID),
			zap.String("project_id", req.Scope.ProjectID),
			zap.String("tag", decision.Tag),
		)
		s.finalize(ctx, req, result, false)
		return result, nil
	}

	resolution := Resolve(req.Evidence)

	// Scrub everything evidence-derived that will be persisted.
	bundle := req.Evidence
	redacted := s.scrubber.ScrubAll(
		&bundle.CarrierQuote, &bundle.Alternative, &req.Finding.Evidence)
	evidenceJSON, err := json.Marshal(bundle)
	if err != nil {
		return nil, fmt.Errorf("encode evidence snapshot: %w", err)
	}

	now := time.Now().UTC()
	occ := pattern.Occurrence{
		ID:                 uuid.New().String(),
		Scope:              req.Scope,
		FindingID:          req.Finding.ID,
		IssueID:            req.Finding.IssueID,
		PRNumber:           req.Finding.PRNumber,
		Severity:           req.Finding.Severity,
		Evidence:           string(evidenceJSON),
		CarrierFingerprint: bundle.CarrierFingerprint,
		OriginFingerprint:  bundle.OriginFingerprint,
		ProvenanceChain:    bundle.ProvenanceChain,
		ExcerptHashes:      []string{pattern.ExcerptHash(bundle.CarrierQuote)},
		Status:             pattern.OccurrenceActive,
		CreatedAt:          now,
	}

	patternKey := pattern.Key(bundle.CarrierStage, bundle.CarrierQuote, category)
	existing, err := s.store.PatternByKey(ctx, req.Scope, patternKey)
	switch {
	case err == nil:
		result, injected, err := s.dedup(ctx, req, existing, occ, resolution)
		if err != nil {
			return nil, err
		}
		result.Redacted = redacted
		s.finalize(ctx, req, result, injected)
		return result, nil
	case !errors.Is(err, pattern.ErrNotFound):
		return nil, fmt.Errorf("look up pattern by key: %w", err)
	}

	// No matching pattern. High-severity security findings backed only by
	// paraphrase or inferred evidence park in the alert tier instead of
	// minting a durable pattern from weak evidence.
	if category == evidence.CategorySecurity &&
		req.Finding.Severity.AtLeast(evidence.SeverityHigh) &&
		quoteType != evidence.QuoteVerbatim {
		result, err := s.alertTier(ctx, req, bundle, category, touches, occ)
		if err != nil {
			return nil, err
		}
		result.Redacted = redacted
		s.finalize(ctx, req, result, false)
		return result, nil
	}

	result, injected, err := s.create(ctx, req, bundle, category, touches, technologies, taskTypes, occ, resolution, now)
	if err != nil {
		return nil, err
	}
	result.Redacted = redacted
	s.finalize(ctx, req, result, injected)
	return result, nil
}

// dedup appends an occurrence to an existing pattern and refreshes its
// stored confidence. The definition itself only moves severity_max.
func (s *service) dedup(ctx context.Context, req AttributeRequest, existing pattern.Definition, occ pattern.Occurrence, resolution Resolution) (*AttributionResult, bool, error) {
	// CreatePattern on the existing key is the idempotent severity raise.
	raise := existing
	raise.Severity = req.Finding.Severity
	raise.UpdatedAt = occ.CreatedAt
	stored, _, err := s.store.CreatePattern(ctx, raise)
	if err != nil {
		return nil, false, fmt.Errorf("dedup pattern: %w", err)
	}

	occ.PatternID = stored.ID
	occ.WasInjected = s.wasInjected(ctx, req, stored.ID)
	if err := s.store.AppendOccurrence(ctx, occ); err != nil {
		return nil, false, fmt.Errorf("append occurrence: %w", err)
	}

	conf, err := s.refreshConfidence(ctx, stored, resolution.Flags)
	if err != nil {
		return nil, false, err
	}

	s.logger.Info("finding deduplicated into existing pattern",
		zap.String("finding_id", req.Finding.ID),
		zap.String("pattern_id", stored.ID),
		zap.String("workspace_id", req.Scope.WorkspaceID),
		zap.String("project_id", req.Scope.ProjectID),
		zap.Float64("confidence", conf),
	)
	return &AttributionResult{
		Type:         ResultDeduplicated,
		FailureMode:  resolution.FailureMode,
		Reasoning:    resolution.Reasoning,
		Pattern:      &stored,
		OccurrenceID: occ.ID,
		Confidence:   conf,
	}, occ.WasInjected, nil
}

// alertTier routes weak-evidence security findings through the provisional
// alert pipeline.
func (s *service) alertTier(ctx context.Context, req AttributeRequest, bundle evidence.EvidenceBundle, category evidence.FindingCategory, touches pattern.TouchSet, occ pattern.Occurrence) (*AttributionResult, error) {
	alertRes, err := s.promotion.EnsureAlert(ctx, promotion.AlertRequest{
		Scope:       req.Scope,
		Content:     bundle.CarrierQuote,
		Alternative: bundle.Alternative,
		Category:    category,
		Severity:    req.Finding.Severity,
		QuoteType:   bundle.CarrierQuoteType,
		Touches:     touches,
		InjectInto:  pattern.TargetForStage(bundle.CarrierStage),
		Occurrence:  occ,
	})
	if err != nil {
		return nil, fmt.Errorf("alert tier: %w", err)
	}

	resultType := ResultAlertLinked
	if alertRes.Created {
		resultType = ResultAlertCreated
	}
	result := &AttributionResult{
		Type:         resultType,
		FailureMode:  evidence.FailureIncomplete,
		Reasoning:    "weak-evidence security finding routed to the provisional alert tier",
		Alert:        &alertRes.Alert,
		OccurrenceID: alertRes.OccurrenceID,
		Pattern:      alertRes.Pattern,
	}
	if alertRes.Promoted {
		result.Reasoning = "provisional alert crossed the promotion threshold and graduated into a pattern"
		result.Confidence = alertRes.Pattern.Confidence
	}
	return result, nil
}

// create mints a new durable pattern from the finding.
func (s *service) create(ctx context.Context, req AttributeRequest, bundle evidence.EvidenceBundle, category evidence.FindingCategory, touches pattern.TouchSet, technologies, taskTypes pattern.TagSet, occ pattern.Occurrence, resolution Resolution, now time.Time) (*AttributionResult, bool, error) {
	def := pattern.Definition{
		ID:               uuid.New().String(),
		Scope:            req.Scope,
		PatternKey:       pattern.Key(bundle.CarrierStage, bundle.CarrierQuote, category),
		ContentHash:      pattern.ContentHash(bundle.CarrierQuote),
		Content:          bundle.CarrierQuote,
		FailureMode:      resolution.FailureMode,
		Category:         category,
		Severity:         req.Finding.Severity,
		SeverityMax:      req.Finding.Severity,
		Alternative:      bundle.Alternative,
		CarrierStage:     bundle.CarrierStage,
		PrimaryQuoteType: bundle.CarrierQuoteType,
		Touches:          touches,
		Technologies:     technologies,
		TaskTypes:        taskTypes,
		Status:           pattern.StatusActive,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	stored, created, err := s.store.CreatePattern(ctx, def)
	if err != nil {
		return nil, false, fmt.Errorf("create pattern: %w", err)
	}

	occ.PatternID = stored.ID
	occ.WasInjected = s.wasInjected(ctx, req, stored.ID)
	if err := s.store.AppendOccurrence(ctx, occ); err != nil {
		return nil, false, fmt.Errorf("append occurrence: %w", err)
	}

	conf, err := s.refreshConfidence(ctx, stored, resolution.Flags)
	if err != nil {
		return nil, false, err
	}

	resultType := ResultCreated
	if !created {
		resultType = ResultDeduplicated
	}
	s.logger.Info("pattern attributed",
		zap.String("finding_id", req.Finding.ID),
		zap.String("pattern_id", stored.ID),
		zap.String("workspace_id", req.Scope.WorkspaceID),
		zap.String("project_id", req.Scope.ProjectID),
		zap.String("failure_mode", string(resolution.FailureMode)),
		zap.String("result", string(resultType)),
		zap.Float64("confidence", conf),
	)
	return &AttributionResult{
		Type:         resultType,
		FailureMode:  resolution.FailureMode,
		Reasoning:    resolution.Reasoning,
		Pattern:      &stored,
		OccurrenceID: occ.ID,
		Confidence:   conf,
	}, occ.WasInjected, nil
}

// refreshConfidence recomputes and stores the pattern's attribution
// confidence from its full occurrence history.
func (s *service) refreshConfidence(ctx context.Context, def pattern.Definition, flags confidence.Flags) (float64, error) {
	occs, err := s.store.ListOccurrencesByPattern(ctx, def.ID)
	if err != nil {
		return 0, fmt.Errorf("list occurrences: %w", err)
	}
	stats := confidence.ComputeStats(occs)
	conf := s.engine.AttributionConfidence(def, stats, flags, time.Now().UTC())
	if err := s.store.RefreshPatternConfidence(ctx, def.ID, conf); err != nil {
		return 0, err
	}
	return conf, nil
}

// wasInjected reports whether the issue's most recent injection surfaced the
// pattern. No injection log means no injection, never an error.
func (s *service) wasInjected(ctx context.Context, req AttributeRequest, patternID string) bool {
	if req.Finding.IssueID == "" {
		return false
	}
	log, err := s.store.LatestInjectionLog(ctx, req.Scope, req.Finding.IssueID)
	if err != nil {
		if !errors.Is(err, pattern.ErrNotFound) {
			s.logger.Warn("failed to read injection log",
				zap.String("issue_id", req.Finding.IssueID),
				zap.Error(err),
			)
		}
		return false
	}
	for _, id := range log.PatternIDs {
		if id == patternID {
			return true
		}
	}
	return false
}

// finalize appends the attribution outcome and re-evaluates scope health.
// Neither failure poisons an otherwise complete attribution.
func (s *service) finalize(ctx context.Context, req AttributeRequest, result *AttributionResult, injected bool) {
	outcome := killswitch.Outcome{
		ID:                 uuid.New().String(),
		Scope:              req.Scope,
		IssueKey:           req.Finding.IssueID,
		CarrierQuoteType:   req.Evidence.CarrierQuoteType,
		PatternCreated:     result.Type == ResultCreated,
		InjectionOccurred:  injected,
		RecurrenceObserved: result.Type == ResultDeduplicated,
		CreatedAt:          time.Now().UTC(),
	}
	if err := s.store.AppendOutcome(ctx, outcome); err != nil {
		s.logger.Warn("failed to append attribution outcome",
			zap.String("finding_id", req.Finding.ID),
			zap.Error(err),
		)
		return
	}
	if _, err := s.killswitch.EvaluateHealth(ctx, req.Scope); err != nil {
		s.logger.Warn("failed to evaluate scope health",
			zap.String("workspace_id", req.Scope.WorkspaceID),
			zap.String("project_id", req.Scope.ProjectID),
			zap.Error(err),
		)
	}
}

// AttributeBatch processes findings independently, collecting per-finding
// errors instead of aborting.
func (s *service) AttributeBatch(ctx context.Context, reqs []AttributeRequest) BatchResult {
	ctx, span := s.tracer.Start(ctx, "attribution.attribute_batch")
	defer span.End()
	span.SetAttributes(attribute.Int("findings", len(reqs)))

	batch := BatchResult{
		Results: make([]AttributionResult, len(reqs)),
		Errors:  make([]error, len(reqs)),
	}
	for i, req := range reqs {
		result, err := s.Attribute(ctx, req)
		if err != nil {
			batch.Errors[i] = fmt.Errorf("finding %s: %w", req.Finding.ID, err)
			s.logger.Error("attribution failed; continuing with siblings",
				zap.String("finding_id", req.Finding.ID),
				zap.Error(err),
			)
			continue
		}
		batch.Results[i] = *result
	}
	return batch
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
