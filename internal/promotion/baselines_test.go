package promotion

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/patternd/internal/evidence"
	"github.com/fyrsmithlabs/patternd/internal/pattern"
)

func TestSeedBaselines_InsertsFixedGuardrails(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(t, store)

	seeded, err := svc.SeedBaselines(context.Background(), "ws-1")
	require.NoError(t, err)
	assert.Equal(t, 11, seeded)

	principles := store.activePrinciples("ws-1")
	require.Len(t, principles, 11)
	for _, p := range principles {
		assert.Equal(t, OriginBaseline, p.Origin)
		assert.True(t, strings.HasPrefix(p.PromotionKey, "baseline:"), "key %q", p.PromotionKey)
		assert.Equal(t, evidence.CategorySecurity, p.Category)
		assert.Equal(t, pattern.InjectBoth, p.InjectInto)
		assert.Equal(t, baselineConfidence, p.Confidence)
		assert.True(t, p.Permanent)
		assert.NotEmpty(t, p.Text)
		assert.NotEmpty(t, p.Rationale)
	}
}

func TestSeedBaselines_Idempotent(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(t, store)
	ctx := context.Background()

	first, err := svc.SeedBaselines(ctx, "ws-1")
	require.NoError(t, err)
	require.Equal(t, 11, first)

	second, err := svc.SeedBaselines(ctx, "ws-1")
	require.NoError(t, err)
	assert.Zero(t, second)
	assert.Len(t, store.activePrinciples("ws-1"), 11)
}

func TestSeedBaselines_BackfillsMissingSeeds(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(t, store)
	ctx := context.Background()

	_, err := svc.SeedBaselines(ctx, "ws-1")
	require.NoError(t, err)

	// An operator rollback of one guardrail gets re-seeded on the next run.
	require.NoError(t, svc.RollbackPrinciple(ctx, "ws-1", baselinePromotionKey("pin-dependencies"), "oncall@example.com"))

	reseeded, err := svc.SeedBaselines(ctx, "ws-1")
	require.NoError(t, err)
	assert.Equal(t, 1, reseeded)
	assert.Len(t, store.activePrinciples("ws-1"), 11)
}

func TestSeedBaselines_ScopedPerWorkspace(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(t, store)
	ctx := context.Background()

	_, err := svc.SeedBaselines(ctx, "ws-1")
	require.NoError(t, err)
	seeded, err := svc.SeedBaselines(ctx, "ws-2")
	require.NoError(t, err)

	assert.Equal(t, 11, seeded)
	assert.Len(t, store.activePrinciples("ws-1"), 11)
	assert.Len(t, store.activePrinciples("ws-2"), 11)
}

func TestBaselineSeeds_WellFormed(t *testing.T) {
	seeds := buildBaselineSeeds()
	require.Len(t, seeds, 11)

	slugs := make(map[string]bool)
	for _, seed := range seeds {
		assert.NotEmpty(t, seed.slug)
		assert.False(t, slugs[seed.slug], "duplicate slug %q", seed.slug)
		slugs[seed.slug] = true

		assert.NotEmpty(t, seed.text, "seed %s", seed.slug)
		assert.NotEmpty(t, seed.rationale, "seed %s", seed.slug)
		assert.True(t, seed.severity.AtLeast(evidence.SeverityHigh), "seed %s severity %s", seed.slug, seed.severity)
		for _, touch := range seed.touches {
			assert.True(t, touch.IsValid(), "seed %s touch %q", seed.slug, touch)
		}
	}
}
