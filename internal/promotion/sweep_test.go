package promotion

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/patternd/internal/evidence"
	"github.com/fyrsmithlabs/patternd/internal/pattern"
)

func sweepPattern(id, content string, qt evidence.QuoteType, storedConfidence float64) pattern.Definition {
	now := time.Now().UTC()
	return pattern.Definition{
		ID:               id,
		Scope:            testScope(),
		PatternKey:       pattern.Key(evidence.CarrierStageContextPack, content, evidence.CategorySecurity),
		ContentHash:      pattern.ContentHash(content),
		Content:          content,
		FailureMode:      evidence.FailureIncomplete,
		Category:         evidence.CategorySecurity,
		Severity:         evidence.SeverityHigh,
		SeverityMax:      evidence.SeverityHigh,
		CarrierStage:     evidence.CarrierStageContextPack,
		PrimaryQuoteType: qt,
		Confidence:       storedConfidence,
		Status:           pattern.StatusActive,
		CreatedAt:        now.Add(-730 * 24 * time.Hour),
		UpdatedAt:        now,
	}
}

func sweepOccurrence(id, patternID string, createdAt time.Time) pattern.Occurrence {
	return pattern.Occurrence{
		ID:        id,
		PatternID: patternID,
		Scope:     testScope(),
		FindingID: "finding-" + id,
		Severity:  evidence.SeverityHigh,
		Status:    pattern.OccurrenceActive,
		CreatedAt: createdAt,
	}
}

func TestRunDecaySweep_ArchivesDecayedAndRefreshesRest(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(t, store)
	now := time.Now().UTC()

	// Inferred base 0.40 minus two years of decay lands well under the floor.
	stale := sweepPattern("pat-stale", "Cache auth decisions for the session lifetime", evidence.QuoteInferred, 0.40)
	store.addPattern(stale)
	store.addOccurrence(sweepOccurrence("occ-stale", stale.ID, now.Add(-730*24*time.Hour)))

	// Verbatim base 0.75 with a fresh occurrence; the stored value is stale.
	fresh := sweepPattern("pat-fresh", "Log the raw request body on validation errors", evidence.QuoteVerbatim, 0.50)
	store.addPattern(fresh)
	store.addOccurrence(sweepOccurrence("occ-fresh", fresh.ID, now))

	report, err := svc.RunDecaySweep(context.Background(), testScope())
	require.NoError(t, err)

	assert.Equal(t, 2, report.Scanned)
	assert.Equal(t, 1, report.Updated)
	assert.Equal(t, 1, report.Archived)

	archived, ok := store.patternByID(stale.ID)
	require.True(t, ok)
	assert.Equal(t, pattern.StatusArchived, archived.Status)

	refreshed, ok := store.patternByID(fresh.ID)
	require.True(t, ok)
	assert.Equal(t, pattern.StatusActive, refreshed.Status)
	assert.InDelta(t, 0.75, refreshed.Confidence, 0.001)
}

func TestRunDecaySweep_SkipsPermanentPatterns(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(t, store)

	def := sweepPattern("pat-perm", "Commit the staging database password for local runs", evidence.QuoteInferred, 0.40)
	def.Permanent = true
	store.addPattern(def)

	report, err := svc.RunDecaySweep(context.Background(), testScope())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Scanned)
	assert.Zero(t, report.Updated)
	assert.Zero(t, report.Archived)

	kept, ok := store.patternByID(def.ID)
	require.True(t, ok)
	assert.Equal(t, pattern.StatusActive, kept.Status)
	assert.Equal(t, 0.40, kept.Confidence)
}

func TestRunDecaySweep_NoOccurrencesMeansFullPenalty(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(t, store)

	def := sweepPattern("pat-orphan", "Retry failed webhooks without backoff", evidence.QuoteVerbatim, 0.75)
	store.addPattern(def)

	report, err := svc.RunDecaySweep(context.Background(), testScope())
	require.NoError(t, err)

	// 0.75 minus the full 0.6 decay penalty is 0.15, under the 0.2 floor.
	assert.Equal(t, 1, report.Archived)
	archived, ok := store.patternByID(def.ID)
	require.True(t, ok)
	assert.Equal(t, pattern.StatusArchived, archived.Status)
}

func TestRunDecaySweep_FailureLeavesRowsUntouched(t *testing.T) {
	store := newFakeStore()
	store.sweepErr = errors.New("disk full")
	svc := newTestService(t, store)
	now := time.Now().UTC()

	stale := sweepPattern("pat-stale", "Cache auth decisions for the session lifetime", evidence.QuoteInferred, 0.40)
	store.addPattern(stale)
	store.addOccurrence(sweepOccurrence("occ-stale", stale.ID, now.Add(-730*24*time.Hour)))

	_, err := svc.RunDecaySweep(context.Background(), testScope())
	require.Error(t, err)

	kept, ok := store.patternByID(stale.ID)
	require.True(t, ok)
	assert.Equal(t, pattern.StatusActive, kept.Status)
	assert.Equal(t, 0.40, kept.Confidence)
}

func TestRunDecaySweep_EmptyScope(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(t, store)

	report, err := svc.RunDecaySweep(context.Background(), testScope())
	require.NoError(t, err)
	assert.Equal(t, SweepReport{Scope: testScope()}, report)
}
