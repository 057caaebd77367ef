package promotion

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/patternd/internal/evidence"
	"github.com/fyrsmithlabs/patternd/internal/pattern"
)

const leakedTokenGuidance = "Keep the admin API token in a repo-level environment file"

// securityPattern builds one active security pattern sharing the
// leaked-token key, scoped to the given project.
func securityPattern(id, projectID string, conf float64) pattern.Definition {
	now := time.Now().UTC()
	return pattern.Definition{
		ID:               id,
		Scope:            pattern.Scope{WorkspaceID: "ws-1", ProjectID: projectID},
		PatternKey:       pattern.Key(evidence.CarrierStageContextPack, leakedTokenGuidance, evidence.CategorySecurity),
		ContentHash:      pattern.ContentHash(leakedTokenGuidance),
		Content:          leakedTokenGuidance,
		FailureMode:      evidence.FailureIncorrect,
		Category:         evidence.CategorySecurity,
		Severity:         evidence.SeverityHigh,
		SeverityMax:      evidence.SeverityHigh,
		Alternative:      "Read the token from the deployment secret store",
		CarrierStage:     evidence.CarrierStageContextPack,
		PrimaryQuoteType: evidence.QuoteVerbatim,
		Touches:          pattern.TouchSet{pattern.TouchConfig},
		Confidence:       conf,
		Status:           pattern.StatusActive,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// seedSiblings inserts one same-key pattern per project and returns the
// first one's id.
func seedSiblings(store *fakeStore, confidences ...float64) string {
	first := ""
	for i, conf := range confidences {
		def := securityPattern(fmt.Sprintf("pat-%d", i+1), fmt.Sprintf("proj-%d", i+1), conf)
		store.addPattern(def)
		if first == "" {
			first = def.ID
		}
	}
	return first
}

func TestPromotionKey_Deterministic(t *testing.T) {
	a := PromotionKey("ws-1", "key-1", evidence.CarrierStageContextPack, evidence.CategorySecurity)
	b := PromotionKey("ws-1", "key-1", evidence.CarrierStageContextPack, evidence.CategorySecurity)
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)

	assert.NotEqual(t, a, PromotionKey("ws-2", "key-1", evidence.CarrierStageContextPack, evidence.CategorySecurity))
	assert.NotEqual(t, a, PromotionKey("ws-1", "key-1", evidence.CarrierStageSpec, evidence.CategorySecurity))
	assert.NotEqual(t, a, PromotionKey("ws-1", "key-1", evidence.CarrierStageContextPack, evidence.CategoryCorrectness))
}

func TestPromoteToPrinciple_Qualifies(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(t, store)

	patternID := seedSiblings(store, 0.70, 0.65, 0.75)

	result, err := svc.PromoteToPrinciple(context.Background(), "ws-1", patternID)
	require.NoError(t, err)

	assert.True(t, result.Created)
	require.NotEmpty(t, result.PrincipleID)

	principles := store.activePrinciples("ws-1")
	require.Len(t, principles, 1)
	p := principles[0]

	assert.Equal(t, OriginDerived, p.Origin)
	assert.Equal(t, "Avoid: "+leakedTokenGuidance, p.Text)
	assert.Contains(t, p.Rationale, "3 distinct projects")
	assert.Contains(t, p.Rationale, "Read the token from the deployment secret store")
	assert.Equal(t, evidence.CategorySecurity, p.Category)
	assert.Equal(t, evidence.SeverityHigh, p.Severity)
	assert.Equal(t, pattern.InjectContextPack, p.InjectInto)
	assert.False(t, p.Permanent)
	// Mean of 0.70/0.65/0.75 at exactly the minimum project count: no boost.
	assert.InDelta(t, 0.70, p.Confidence, 0.001)
}

func TestPromoteToPrinciple_Idempotent(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(t, store)
	ctx := context.Background()

	patternID := seedSiblings(store, 0.70, 0.65, 0.75)

	first, err := svc.PromoteToPrinciple(ctx, "ws-1", patternID)
	require.NoError(t, err)
	require.True(t, first.Created)

	second, err := svc.PromoteToPrinciple(ctx, "ws-1", patternID)
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, first.PrincipleID, second.PrincipleID)
	assert.Equal(t, "Already promoted", second.Reason)

	// A sibling with the same key hits the same short-circuit.
	third, err := svc.PromoteToPrinciple(ctx, "ws-1", "pat-2")
	require.NoError(t, err)
	assert.False(t, third.Created)
	assert.Equal(t, first.PrincipleID, third.PrincipleID)
}

func TestPromoteToPrinciple_Disqualifications(t *testing.T) {
	tests := []struct {
		name       string
		seed       func(store *fakeStore) string
		wantReason string
	}{
		{
			name: "too few projects",
			seed: func(store *fakeStore) string {
				return seedSiblings(store, 0.9, 0.9)
			},
			wantReason: "2 projects, need 3",
		},
		{
			name: "archived siblings do not count",
			seed: func(store *fakeStore) string {
				id := seedSiblings(store, 0.9, 0.9, 0.9)
				archived := securityPattern("pat-3", "proj-3", 0.9)
				archived.Status = pattern.StatusArchived
				store.addPattern(archived)
				return id
			},
			wantReason: "2 projects, need 3",
		},
		{
			name: "severity high-water mark too low",
			seed: func(store *fakeStore) string {
				id := seedSiblings(store, 0.9, 0.9, 0.9)
				def, _ := store.patternByID(id)
				def.Severity = evidence.SeverityMedium
				def.SeverityMax = evidence.SeverityMedium
				store.addPattern(def)
				return id
			},
			wantReason: "below high",
		},
		{
			name: "category is not security",
			seed: func(store *fakeStore) string {
				id := seedSiblings(store, 0.9, 0.9, 0.9)
				def, _ := store.patternByID(id)
				def.Category = evidence.CategoryCorrectness
				store.addPattern(def)
				return id
			},
			wantReason: "only security",
		},
		{
			name: "mean confidence below floor",
			seed: func(store *fakeStore) string {
				return seedSiblings(store, 0.30, 0.30, 0.30)
			},
			wantReason: "confidence",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			svc := newTestService(t, store)

			patternID := tt.seed(store)
			result, err := svc.PromoteToPrinciple(context.Background(), "ws-1", patternID)
			require.NoError(t, err)

			assert.False(t, result.Created)
			assert.Empty(t, result.PrincipleID)
			assert.Contains(t, result.Reason, tt.wantReason)
			assert.Empty(t, store.activePrinciples("ws-1"))
		})
	}
}

func TestPromoteToPrinciple_ProjectBoost(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(t, store)

	// Mean 0.57 misses the 0.6 floor; one project beyond the minimum adds
	// the 0.05 boost that clears it.
	patternID := seedSiblings(store, 0.57, 0.57, 0.57, 0.57)

	result, err := svc.PromoteToPrinciple(context.Background(), "ws-1", patternID)
	require.NoError(t, err)

	require.True(t, result.Created)
	principles := store.activePrinciples("ws-1")
	require.Len(t, principles, 1)
	assert.InDelta(t, 0.62, principles[0].Confidence, 0.001)
}

func TestPromoteToPrinciple_BoostIsCapped(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(t, store)

	// Ten projects beyond the minimum would add 0.35 unboosted; the cap
	// holds it at 0.15, and 0.40 + 0.15 still misses the floor.
	confidences := make([]float64, 13)
	for i := range confidences {
		confidences[i] = 0.40
	}
	patternID := seedSiblings(store, confidences...)

	result, err := svc.PromoteToPrinciple(context.Background(), "ws-1", patternID)
	require.NoError(t, err)

	assert.False(t, result.Created)
	assert.Contains(t, result.Reason, "0.55")
}

func TestPromoteToPrinciple_WorkspaceMismatch(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(t, store)

	patternID := seedSiblings(store, 0.70, 0.65, 0.75)

	_, err := svc.PromoteToPrinciple(context.Background(), "ws-2", patternID)
	require.Error(t, err)
}

func TestPromoteToPrinciple_UnknownPattern(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(t, store)

	_, err := svc.PromoteToPrinciple(context.Background(), "ws-1", "missing")
	require.ErrorIs(t, err, pattern.ErrNotFound)
}

func TestRunPromotionScan_PromotesQualifyingPatterns(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(t, store)
	ctx := context.Background()

	seedSiblings(store, 0.70, 0.65, 0.75)
	scope := pattern.Scope{WorkspaceID: "ws-1", ProjectID: "proj-1"}

	report, err := svc.RunPromotionScan(ctx, scope)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Evaluated)
	assert.Equal(t, 1, report.Promoted)
	require.Len(t, store.activePrinciples("ws-1"), 1)
}

func TestRunPromotionScan_SecondScanCreatesNothing(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(t, store)
	ctx := context.Background()
	scope := pattern.Scope{WorkspaceID: "ws-1", ProjectID: "proj-1"}

	seedSiblings(store, 0.70, 0.65, 0.75)

	first, err := svc.RunPromotionScan(ctx, scope)
	require.NoError(t, err)
	require.Equal(t, 1, first.Promoted)

	second, err := svc.RunPromotionScan(ctx, scope)
	require.NoError(t, err)
	assert.Equal(t, 1, second.Evaluated)
	assert.Equal(t, 0, second.Promoted)
	assert.Len(t, store.activePrinciples("ws-1"), 1)
}

func TestRunPromotionScan_SkipsIneligiblePatterns(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(t, store)
	scope := pattern.Scope{WorkspaceID: "ws-1", ProjectID: "proj-1"}

	lowSeverity := securityPattern("pat-low", "proj-1", 0.9)
	lowSeverity.Severity = evidence.SeverityMedium
	lowSeverity.SeverityMax = evidence.SeverityMedium
	lowSeverity.PatternKey = pattern.Key(evidence.CarrierStageContextPack, "medium guidance", evidence.CategorySecurity)
	store.addPattern(lowSeverity)

	nonSecurity := securityPattern("pat-correctness", "proj-1", 0.9)
	nonSecurity.Category = evidence.CategoryCorrectness
	nonSecurity.PatternKey = pattern.Key(evidence.CarrierStageContextPack, "correctness guidance", evidence.CategoryCorrectness)
	store.addPattern(nonSecurity)

	report, err := svc.RunPromotionScan(context.Background(), scope)
	require.NoError(t, err)

	assert.Equal(t, 0, report.Evaluated)
	assert.Equal(t, 0, report.Promoted)
	assert.Empty(t, store.activePrinciples("ws-1"))
}

func TestRollbackPrinciple_FreesKeyForRepromotion(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(t, store)
	ctx := context.Background()

	patternID := seedSiblings(store, 0.70, 0.65, 0.75)

	first, err := svc.PromoteToPrinciple(ctx, "ws-1", patternID)
	require.NoError(t, err)
	require.True(t, first.Created)

	def, ok := store.patternByID(patternID)
	require.True(t, ok)
	key := PromotionKey("ws-1", def.PatternKey, def.CarrierStage, def.Category)

	require.NoError(t, svc.RollbackPrinciple(ctx, "ws-1", key, "oncall@example.com"))
	assert.Empty(t, store.activePrinciples("ws-1"))

	for _, p := range store.principles {
		if p.ID == first.PrincipleID {
			assert.Equal(t, PrincipleArchived, p.Status)
			assert.Equal(t, "rollback", p.ArchivedReason)
			assert.Equal(t, "oncall@example.com", p.ArchivedBy)
			assert.False(t, p.ArchivedAt.IsZero())
		}
	}

	second, err := svc.PromoteToPrinciple(ctx, "ws-1", patternID)
	require.NoError(t, err)
	assert.True(t, second.Created)
	assert.NotEqual(t, first.PrincipleID, second.PrincipleID)
}

func TestRollbackPrinciple_UnknownKey(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(t, store)

	err := svc.RollbackPrinciple(context.Background(), "ws-1", "no-such-key", "oncall@example.com")
	require.ErrorIs(t, err, pattern.ErrNotFound)
}
