// Package integration exercises the full engine against a real SQLite
// store: attribution, deduplication, the alert tier, injection, reflection,
// the kill switch, and one maintenance cycle.
package integration

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/patternd/internal/attribution"
	"github.com/fyrsmithlabs/patternd/internal/confidence"
	"github.com/fyrsmithlabs/patternd/internal/evidence"
	"github.com/fyrsmithlabs/patternd/internal/injection"
	"github.com/fyrsmithlabs/patternd/internal/killswitch"
	"github.com/fyrsmithlabs/patternd/internal/maintenance"
	"github.com/fyrsmithlabs/patternd/internal/pattern"
	"github.com/fyrsmithlabs/patternd/internal/promotion"
	"github.com/fyrsmithlabs/patternd/internal/reflection"
	"github.com/fyrsmithlabs/patternd/internal/scrub"
	"github.com/fyrsmithlabs/patternd/internal/store"
)

type engine struct {
	store       *store.Store
	attribution attribution.Service
	promotion   promotion.Service
	killswitch  killswitch.Service
	injection   injection.Service
	reflection  reflection.Service
	runner      *maintenance.Runner
}

func newEngine(t *testing.T) *engine {
	t.Helper()

	logger := zap.NewNop()

	st, err := store.Open(filepath.Join(t.TempDir(), "patternd.db"), logger)
	require.NoError(t, err)

	eng, err := confidence.NewEngine(confidence.DefaultParams())
	require.NoError(t, err)

	scrubber, err := scrub.New(scrub.DefaultConfig(), logger)
	require.NoError(t, err)

	ks, err := killswitch.NewService(killswitch.DefaultPolicy(), st, logger)
	require.NoError(t, err)

	promo, err := promotion.NewService(promotion.DefaultPolicy(), st, eng, logger)
	require.NoError(t, err)

	attr, err := attribution.NewService(st, ks, promo, eng, scrubber, logger)
	require.NoError(t, err)

	inj, err := injection.NewService(injection.DefaultPolicy(), st, eng, logger)
	require.NoError(t, err)

	refl, err := reflection.NewService(st, logger)
	require.NoError(t, err)

	runner, err := maintenance.NewRunner(promo, ks, st, logger,
		maintenance.WithSweepLimit(6000, 100))
	require.NoError(t, err)

	e := &engine{
		store:       st,
		attribution: attr,
		promotion:   promo,
		killswitch:  ks,
		injection:   inj,
		reflection:  refl,
		runner:      runner,
	}
	t.Cleanup(func() {
		_ = refl.Close()
		_ = inj.Close()
		_ = attr.Close()
		_ = promo.Close()
		_ = ks.Close()
		_ = st.Close()
	})
	return e
}

func lifecycleScope() pattern.Scope {
	return pattern.Scope{WorkspaceID: "ws-lifecycle", ProjectID: "proj-api"}
}

// findingRequest builds one attributable finding. findingID and issueID vary
// per call so repeated content dedups instead of colliding on ids.
func findingRequest(findingID, issueID, quote string, touches []string) attribution.AttributeRequest {
	return attribution.AttributeRequest{
		Scope: lifecycleScope(),
		Finding: evidence.ConfirmedFinding{
			ID:        findingID,
			ScoutType: "bugs",
			Title:     "SQL built by string concatenation",
			Severity:  evidence.SeverityHigh,
			Evidence:  "query := \"SELECT * FROM users WHERE id = \" + id",
			IssueID:   issueID,
			PRNumber:  12,
		},
		Evidence: evidence.EvidenceBundle{
			CarrierStage:     evidence.CarrierStageContextPack,
			CarrierQuote:     quote,
			CarrierQuoteType: evidence.QuoteVerbatim,
		},
		Touches: touches,
	}
}

func TestLifecycle_CreateDeduplicateInjectRecur(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	const quote = "Build SQL queries with string concatenation for flexibility."

	// First confirmed finding mints the pattern.
	created, err := e.attribution.Attribute(ctx, findingRequest("find-1", "issue-1", quote, []string{"database", "user_input"}))
	require.NoError(t, err)
	require.Equal(t, attribution.ResultCreated, created.Type)
	require.NotNil(t, created.Pattern)
	assert.Equal(t, evidence.SeverityHigh, created.Pattern.SeverityMax)
	assert.Greater(t, created.Confidence, 0.0)

	// Same guidance in a different issue dedups onto the same pattern.
	deduped, err := e.attribution.Attribute(ctx, findingRequest("find-2", "issue-2", quote, []string{"database"}))
	require.NoError(t, err)
	require.Equal(t, attribution.ResultDeduplicated, deduped.Type)
	require.NotNil(t, deduped.Pattern)
	assert.Equal(t, created.Pattern.ID, deduped.Pattern.ID)
	assert.Greater(t, deduped.Confidence, created.Confidence,
		"second occurrence must boost confidence")

	// The next task's selection surfaces the pattern and records the
	// audit row tying it to the issue.
	touches, err := pattern.NewTouchSet([]string{"database", "user_input"})
	require.NoError(t, err)

	selection, err := e.injection.SelectWarnings(ctx, injection.SelectRequest{
		Scope:       lifecycleScope(),
		Target:      pattern.InjectContextPack,
		TaskProfile: pattern.TaskProfile{Touches: touches},
		IssueID:     "issue-3",
	})
	require.NoError(t, err)
	require.Len(t, selection.Warnings, 1)
	assert.Equal(t, created.Pattern.ID, selection.Warnings[0].SourceID)
	assert.Contains(t, selection.Markdown, quote)

	logged, err := e.store.LatestInjectionLog(ctx, lifecycleScope(), "issue-3")
	require.NoError(t, err)
	assert.Equal(t, []string{created.Pattern.ID}, logged.PatternIDs)

	// The warned issue recurs anyway: a post-injection recurrence, the
	// strongest health signal the outcome log carries.
	recurred, err := e.attribution.Attribute(ctx, findingRequest("find-3", "issue-3", quote, []string{"database"}))
	require.NoError(t, err)
	assert.Equal(t, attribution.ResultDeduplicated, recurred.Type)
}

func TestLifecycle_WeakSecurityAlertPromotes(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	req := func(findingID, issueID string) attribution.AttributeRequest {
		r := findingRequest(findingID, issueID, "Tokens may be logged for debugging convenience.", []string{"logging"})
		r.Finding.ScoutType = "adversarial"
		r.Evidence.CarrierQuoteType = evidence.QuoteParaphrase
		return r
	}

	// Paraphrased HIGH security evidence is too weak to mint a pattern;
	// it opens a provisional alert instead.
	first, err := e.attribution.Attribute(ctx, req("find-a", "issue-a"))
	require.NoError(t, err)
	require.Equal(t, attribution.ResultAlertCreated, first.Type)
	require.NotNil(t, first.Alert)
	assert.Nil(t, first.Pattern)

	// The second linked occurrence crosses the default threshold and
	// promotes the alert into a real pattern.
	second, err := e.attribution.Attribute(ctx, req("find-b", "issue-b"))
	require.NoError(t, err)
	require.Equal(t, attribution.ResultAlertLinked, second.Type)
	require.NotNil(t, second.Pattern, "threshold crossing must promote the alert")
	assert.Equal(t, evidence.CategorySecurity, second.Pattern.Category)
}

func TestLifecycle_KillSwitchGatesAttribution(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	_, err := e.killswitch.Pause(ctx, lifecycleScope(), "operator investigating noisy patterns")
	require.NoError(t, err)

	skipped, err := e.attribution.Attribute(ctx, findingRequest("find-1", "issue-1", "Always retry writes without idempotency keys.", []string{"api"}))
	require.NoError(t, err, "a gated attribution is a result, not an error")
	require.Equal(t, attribution.ResultSkipped, skipped.Type)
	assert.Equal(t, killswitch.TagFullyPaused, skipped.Reasoning)
	assert.Nil(t, skipped.Pattern)

	// Outcome log still grows while paused so resume evaluation has data.
	outcomes, err := e.store.ListRecentOutcomes(ctx, lifecycleScope(), 10)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)

	_, err = e.killswitch.Resume(ctx, lifecycleScope(), "investigation finished")
	require.NoError(t, err)

	resumed, err := e.attribution.Attribute(ctx, findingRequest("find-2", "issue-2", "Always retry writes without idempotency keys.", []string{"api"}))
	require.NoError(t, err)
	assert.Equal(t, attribution.ResultCreated, resumed.Type)
}

func TestLifecycle_ReflectionDetectsTaggingMiss(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	// A caching pattern exists before the issue's task runs.
	created, err := e.attribution.Attribute(ctx, findingRequest("find-1", "issue-0", "Cache invalidation is optional for read-heavy tables.", []string{"caching"}))
	require.NoError(t, err)
	require.Equal(t, attribution.ResultCreated, created.Type)

	// The task profile was tagged database-only, so the selection cannot
	// surface the caching pattern.
	touches, err := pattern.NewTouchSet([]string{"database"})
	require.NoError(t, err)

	selection, err := e.injection.SelectWarnings(ctx, injection.SelectRequest{
		Scope:       lifecycleScope(),
		Target:      pattern.InjectContextPack,
		TaskProfile: pattern.TaskProfile{Touches: touches},
		IssueID:     "issue-9",
	})
	require.NoError(t, err)
	for _, w := range selection.Warnings {
		assert.NotEqual(t, created.Pattern.ID, w.SourceID,
			"mismatched pattern must not be surfaced")
	}

	// The issue's review then attributes a finding to that very pattern:
	// the tagging missed a touch the work actually had.
	misses, err := e.reflection.CheckForTaggingMisses(ctx, reflection.CheckRequest{
		Scope:                lifecycleScope(),
		IssueID:              "issue-9",
		AttributedPatternIDs: []string{created.Pattern.ID},
	})
	require.NoError(t, err)
	require.Len(t, misses, 1)
	assert.Equal(t, created.Pattern.ID, misses[0].PatternID)
	assert.Contains(t, misses[0].MissingTags, "touch:caching")
}

func TestLifecycle_MaintenanceCycleRuns(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	// Populate a few patterns so the sweep has work.
	for i := 0; i < 3; i++ {
		quote := fmt.Sprintf("Guidance variant %d that was confirmed harmful.", i)
		_, err := e.attribution.Attribute(ctx, findingRequest(
			fmt.Sprintf("find-%d", i), fmt.Sprintf("issue-%d", i), quote, []string{"api"}))
		require.NoError(t, err)
	}

	require.NoError(t, e.runner.RunCycle(ctx))

	// Freshly created patterns survive the sweep.
	patterns, err := e.store.ListActivePatterns(ctx, lifecycleScope())
	require.NoError(t, err)
	assert.Len(t, patterns, 3)
}

func TestLifecycle_MaintenanceCyclePromotesCrossProjectPrinciple(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	// The same harmful security guidance confirmed in three projects of the
	// workspace qualifies its key for principle promotion.
	const quote = "Interpolate request parameters straight into shell commands."
	for i, project := range []string{"proj-api", "proj-web", "proj-batch"} {
		req := findingRequest(fmt.Sprintf("find-%d", i), fmt.Sprintf("issue-%d", i), quote, []string{"api"})
		req.Scope = pattern.Scope{WorkspaceID: "ws-lifecycle", ProjectID: project}
		req.Finding.ScoutType = "security"
		created, err := e.attribution.Attribute(ctx, req)
		require.NoError(t, err)
		require.Equal(t, attribution.ResultCreated, created.Type)
	}

	require.NoError(t, e.runner.RunCycle(ctx))

	principles, err := e.store.ListActivePrinciples(ctx, "ws-lifecycle")
	require.NoError(t, err)
	require.Len(t, principles, 1, "the cycle's promotion scan must mint the principle")
	assert.Equal(t, promotion.OriginDerived, principles[0].Origin)
	assert.Equal(t, "Avoid: "+quote, principles[0].Text)

	// A second cycle does not duplicate it.
	require.NoError(t, e.runner.RunCycle(ctx))
	principles, err = e.store.ListActivePrinciples(ctx, "ws-lifecycle")
	require.NoError(t, err)
	assert.Len(t, principles, 1)
}
