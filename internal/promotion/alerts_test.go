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

func alertRequest(occID string) AlertRequest {
	scope := testScope()
	return AlertRequest{
		Scope:       scope,
		Content:     "Disable TLS certificate verification when the registry uses a self-signed cert",
		Alternative: "Add the registry CA to the trust store instead",
		Category:    evidence.CategorySecurity,
		Severity:    evidence.SeverityHigh,
		QuoteType:   evidence.QuoteParaphrase,
		Touches:     pattern.TouchSet{pattern.TouchNetwork},
		InjectInto:  pattern.InjectContextPack,
		Occurrence: pattern.Occurrence{
			ID:        occID,
			Scope:     scope,
			FindingID: "finding-" + occID,
			Severity:  evidence.SeverityHigh,
			Status:    pattern.OccurrenceActive,
			CreatedAt: time.Now().UTC(),
		},
	}
}

func TestEnsureAlert_CreatesAlertBelowThreshold(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(t, store)

	req := alertRequest("occ-1")
	result, err := svc.EnsureAlert(context.Background(), req)
	require.NoError(t, err)

	assert.True(t, result.Created)
	assert.False(t, result.Promoted)
	assert.Nil(t, result.Pattern)
	assert.Equal(t, "occ-1", result.OccurrenceID)

	wantKey := pattern.Key(evidence.CarrierStageContextPack, req.Content, req.Category)
	assert.Equal(t, wantKey, result.Alert.AlertKey)
	assert.Equal(t, AlertActive, result.Alert.Status)
	assert.Equal(t, DefaultPolicy().AlertTTL, result.Alert.ExpiresAt.Sub(result.Alert.CreatedAt))

	stored, ok := store.alertByID(result.Alert.ID)
	require.True(t, ok)
	assert.Equal(t, AlertActive, stored.Status)

	occs, err := store.ListOccurrencesByAlert(context.Background(), result.Alert.ID)
	require.NoError(t, err)
	require.Len(t, occs, 1)
	assert.Equal(t, result.Alert.ID, occs[0].AlertID)
	assert.Empty(t, occs[0].PatternID)
}

func TestEnsureAlert_SecondOccurrencePromotes(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(t, store)

	first, err := svc.EnsureAlert(context.Background(), alertRequest("occ-1"))
	require.NoError(t, err)
	require.True(t, first.Created)
	require.False(t, first.Promoted)

	second, err := svc.EnsureAlert(context.Background(), alertRequest("occ-2"))
	require.NoError(t, err)

	assert.False(t, second.Created)
	require.True(t, second.Promoted)
	require.NotNil(t, second.Pattern)
	assert.Equal(t, first.Alert.ID, second.Alert.ID)
	assert.Equal(t, AlertPromoted, second.Alert.Status)
	assert.Equal(t, second.Pattern.ID, second.Alert.PromotedPatternID)

	def := *second.Pattern
	assert.Equal(t, first.Alert.AlertKey, def.PatternKey)
	assert.Equal(t, evidence.FailureIncomplete, def.FailureMode)
	assert.Equal(t, evidence.CarrierStageContextPack, def.CarrierStage)
	assert.Equal(t, evidence.QuoteParaphrase, def.PrimaryQuoteType)
	assert.Equal(t, pattern.StatusActive, def.Status)
	// Paraphrase base 0.55 plus one repeat-occurrence boost of 0.05.
	assert.InDelta(t, 0.60, def.Confidence, 0.001)

	stored, ok := store.alertByID(first.Alert.ID)
	require.True(t, ok)
	assert.Equal(t, AlertPromoted, stored.Status)

	occs, err := store.ListOccurrencesByPattern(context.Background(), def.ID)
	require.NoError(t, err)
	assert.Len(t, occs, 2)
	for _, occ := range occs {
		assert.Equal(t, first.Alert.ID, occ.AlertID)
	}
}

func TestEnsureAlert_SeverityMaxFoldsOccurrenceSeverities(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(t, store)

	_, err := svc.EnsureAlert(context.Background(), alertRequest("occ-1"))
	require.NoError(t, err)

	escalated := alertRequest("occ-2")
	escalated.Occurrence.Severity = evidence.SeverityCritical
	result, err := svc.EnsureAlert(context.Background(), escalated)
	require.NoError(t, err)

	require.True(t, result.Promoted)
	assert.Equal(t, evidence.SeverityHigh, result.Pattern.Severity)
	assert.Equal(t, evidence.SeverityCritical, result.Pattern.SeverityMax)
}

func TestExpireAlerts_PromotesQualifiedAndExpiresRest(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(t, store)
	ctx := context.Background()

	now := time.Now().UTC()
	past := now.Add(-time.Hour)

	qualified := seedAlert(t, store, "alert-1", "Use MD5 for password hashing", past, 2)
	starved := seedAlert(t, store, "alert-2", "Skip input validation on internal endpoints", past, 1)
	fresh := seedAlert(t, store, "alert-3", "Store session tokens in localStorage", now.Add(24*time.Hour), 1)

	report, err := svc.ExpireAlerts(ctx, now)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Evaluated)
	assert.Equal(t, 1, report.Promoted)
	assert.Equal(t, 1, report.Expired)

	promoted, ok := store.alertByID(qualified.ID)
	require.True(t, ok)
	assert.Equal(t, AlertPromoted, promoted.Status)
	assert.NotEmpty(t, promoted.PromotedPatternID)

	expired, ok := store.alertByID(starved.ID)
	require.True(t, ok)
	assert.Equal(t, AlertExpired, expired.Status)
	assert.Empty(t, expired.PromotedPatternID)

	untouched, ok := store.alertByID(fresh.ID)
	require.True(t, ok)
	assert.Equal(t, AlertActive, untouched.Status)
}

// seedAlert inserts an alert with n linked occurrences directly into the
// fake store, bypassing the service.
func seedAlert(t *testing.T, store *fakeStore, id, content string, expiresAt time.Time, occurrences int) Alert {
	t.Helper()
	scope := testScope()
	now := time.Now().UTC()
	alert := Alert{
		ID:         id,
		Scope:      scope,
		AlertKey:   pattern.Key(evidence.CarrierStageContextPack, content, evidence.CategorySecurity),
		Content:    content,
		Category:   evidence.CategorySecurity,
		Severity:   evidence.SeverityHigh,
		QuoteType:  evidence.QuoteInferred,
		InjectInto: pattern.InjectContextPack,
		Status:     AlertActive,
		CreatedAt:  now.Add(-14 * 24 * time.Hour),
		ExpiresAt:  expiresAt,
	}
	require.NoError(t, store.InsertAlert(context.Background(), alert))
	for i := 0; i < occurrences; i++ {
		store.addOccurrence(pattern.Occurrence{
			ID:        fmt.Sprintf("%s-occ-%d", id, i),
			AlertID:   id,
			Scope:     scope,
			FindingID: fmt.Sprintf("%s-finding-%d", id, i),
			Severity:  evidence.SeverityHigh,
			Status:    pattern.OccurrenceActive,
			CreatedAt: now.Add(-time.Duration(i) * time.Hour),
		})
	}
	return alert
}
