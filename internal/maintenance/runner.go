// Package maintenance runs the periodic upkeep the engine itself never
// schedules: alert expiry, confidence decay sweeps, principle promotion
// scans, and kill-switch resume evaluation. The engine's pause states rely
// on an external poller; this runner is that poller.
package maintenance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/patternd/internal/killswitch"
	"github.com/fyrsmithlabs/patternd/internal/pattern"
	"github.com/fyrsmithlabs/patternd/internal/promotion"
)

// ScopeLister enumerates every (workspace, project) pair with stored
// activity. *store.Store satisfies it.
type ScopeLister interface {
	ListActiveScopes(ctx context.Context) ([]pattern.Scope, error)
}

// Runner executes one maintenance cycle per interval in the background.
//
// Thread Safety: all public methods are thread-safe. The running state is
// protected by a mutex to prevent races during Start/Stop.
type Runner struct {
	interval time.Duration

	promotion  promotion.Service
	killswitch killswitch.Service
	scopes     ScopeLister

	// limiter bounds decay sweeps across daemon ticks and manual sweep
	// invocations so both together cannot thrash the store.
	limiter *rate.Limiter

	// cycleTimeout caps one full cycle.
	cycleTimeout time.Duration

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}

	logger *zap.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithInterval sets the time between cycles. Defaults to one hour.
func WithInterval(interval time.Duration) Option {
	return func(r *Runner) {
		r.interval = interval
	}
}

// WithSweepLimit bounds decay sweeps to perMinute with the given burst.
// Defaults to 30 sweeps per minute with a burst of 10.
func WithSweepLimit(perMinute float64, burst int) Option {
	return func(r *Runner) {
		r.limiter = rate.NewLimiter(rate.Limit(perMinute/60.0), burst)
	}
}

// WithCycleTimeout caps the duration of one cycle. Defaults to 10 minutes.
func WithCycleTimeout(timeout time.Duration) Option {
	return func(r *Runner) {
		r.cycleTimeout = timeout
	}
}

// NewRunner creates a maintenance runner. It does not start automatically;
// call Start to begin scheduled cycles.
func NewRunner(promo promotion.Service, ks killswitch.Service, scopes ScopeLister, logger *zap.Logger, opts ...Option) (*Runner, error) {
	if promo == nil {
		return nil, fmt.Errorf("promotion service cannot be nil")
	}
	if ks == nil {
		return nil, fmt.Errorf("killswitch service cannot be nil")
	}
	if scopes == nil {
		return nil, fmt.Errorf("scope lister cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Runner{
		interval:     time.Hour,
		promotion:    promo,
		killswitch:   ks,
		scopes:       scopes,
		limiter:      rate.NewLimiter(rate.Limit(0.5), 10),
		cycleTimeout: 10 * time.Minute,
		stopCh:       make(chan struct{}),
		logger:       logger,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r, nil
}

// Start begins the background maintenance loop.
//
// Idempotent in the error sense: calling Start on an already running runner
// returns an error without starting a second goroutine.
func (r *Runner) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return fmt.Errorf("maintenance runner is already running")
	}

	// Fresh stop channel for this run
	r.stopCh = make(chan struct{})
	r.running = true

	r.logger.Info("maintenance runner started",
		zap.Duration("interval", r.interval),
	)

	go r.run()

	return nil
}

// Stop gracefully stops the runner. Calling Stop on a stopped runner is a
// no-op.
func (r *Runner) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		r.logger.Debug("maintenance stop called but not running")
		return nil
	}

	r.logger.Info("stopping maintenance runner")
	r.running = false

	// stopCh is recreated in Start so it can be safely closed here
	close(r.stopCh)

	return nil
}

// run is the main loop, executing one cycle per tick until Stop is called.
func (r *Runner) run() {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("maintenance goroutine panicked, recovering",
				zap.Any("panic", rec),
				zap.Stack("stack"),
			)
			r.mu.Lock()
			r.running = false
			r.mu.Unlock()
		}
	}()

	r.logger.Debug("maintenance goroutine started")
	defer r.logger.Debug("maintenance goroutine stopped")

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.safeRunCycle()
		case <-r.stopCh:
			r.logger.Debug("maintenance received stop signal")
			return
		}
	}
}

// safeRunCycle wraps one cycle with panic recovery so a single bad cycle
// cannot take the loop down.
func (r *Runner) safeRunCycle() {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("maintenance cycle panicked, continuing",
				zap.Any("panic", rec),
				zap.Stack("stack"),
			)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), r.cycleTimeout)
	defer cancel()

	if err := r.RunCycle(ctx); err != nil {
		r.logger.Error("maintenance cycle failed", zap.Error(err))
	}
}

// RunCycle executes one full maintenance cycle: expire or promote due
// alerts, decay-sweep and promotion-scan every active scope, then
// re-evaluate paused scopes whose cooldown elapsed. Per-scope failures are
// logged and skipped so one bad scope cannot starve the rest.
//
// Exported so the sweep command can run a single cycle without the loop.
func (r *Runner) RunCycle(ctx context.Context) error {
	started := time.Now()

	expiry, err := r.promotion.ExpireAlerts(ctx, started)
	if err != nil {
		return fmt.Errorf("expiring alerts: %w", err)
	}

	scopes, err := r.scopes.ListActiveScopes(ctx)
	if err != nil {
		return fmt.Errorf("listing active scopes: %w", err)
	}

	var scanned, updated, archived, failed int
	var principlesEvaluated, principlesPromoted int
	for _, scope := range scopes {
		if err := r.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("sweep limiter: %w", err)
		}

		report, err := r.promotion.RunDecaySweep(ctx, scope)
		if err != nil {
			failed++
			r.logger.Warn("decay sweep failed, skipping scope",
				zap.String("workspace_id", scope.WorkspaceID),
				zap.String("project_id", scope.ProjectID),
				zap.Error(err))
			continue
		}
		scanned += report.Scanned
		updated += report.Updated
		archived += report.Archived

		// Scan after the sweep so patterns archived this cycle are not
		// considered for principle promotion.
		scan, err := r.promotion.RunPromotionScan(ctx, scope)
		if err != nil {
			r.logger.Warn("promotion scan failed, skipping scope",
				zap.String("workspace_id", scope.WorkspaceID),
				zap.String("project_id", scope.ProjectID),
				zap.Error(err))
			continue
		}
		principlesEvaluated += scan.Evaluated
		principlesPromoted += scan.Promoted
	}

	resumed := r.evaluateResumes(ctx, started)

	r.logger.Info("maintenance cycle completed",
		zap.Int("alerts_evaluated", expiry.Evaluated),
		zap.Int("alerts_promoted", expiry.Promoted),
		zap.Int("alerts_expired", expiry.Expired),
		zap.Int("scopes_swept", len(scopes)-failed),
		zap.Int("scopes_failed", failed),
		zap.Int("patterns_scanned", scanned),
		zap.Int("patterns_updated", updated),
		zap.Int("patterns_archived", archived),
		zap.Int("principles_evaluated", principlesEvaluated),
		zap.Int("principles_promoted", principlesPromoted),
		zap.Int("resume_evaluations", resumed),
		zap.Duration("duration", time.Since(started)),
	)

	return nil
}

// evaluateResumes polls every paused scope whose auto-resume time elapsed.
// Recovery steps down one state at a time, so a fully paused scope needs two
// successful evaluations to go active again.
func (r *Runner) evaluateResumes(ctx context.Context, now time.Time) int {
	due, err := r.killswitch.FindDueForResumeEvaluation(ctx, now)
	if err != nil {
		r.logger.Warn("finding scopes due for resume failed", zap.Error(err))
		return 0
	}

	evaluated := 0
	for _, status := range due {
		next, err := r.killswitch.EvaluateResume(ctx, status.Scope)
		if err != nil {
			r.logger.Warn("resume evaluation failed, skipping scope",
				zap.String("workspace_id", status.Scope.WorkspaceID),
				zap.String("project_id", status.Scope.ProjectID),
				zap.Error(err))
			continue
		}
		evaluated++
		if next.State != status.State {
			r.logger.Info("kill switch state changed",
				zap.String("workspace_id", status.Scope.WorkspaceID),
				zap.String("project_id", status.Scope.ProjectID),
				zap.String("from", string(status.State)),
				zap.String("to", string(next.State)))
		}
	}
	return evaluated
}
