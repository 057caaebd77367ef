package promotion

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/patternd/internal/confidence"
	"github.com/fyrsmithlabs/patternd/internal/pattern"
)

// fakeStore is an in-memory Store for exercising the promotion pipeline.
type fakeStore struct {
	mu          sync.Mutex
	alerts      map[string]Alert
	occurrences []pattern.Occurrence
	patterns    map[string]pattern.Definition
	principles  []Principle

	// sweepErr forces ApplyDecaySweep to fail.
	sweepErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		alerts:   make(map[string]Alert),
		patterns: make(map[string]pattern.Definition),
	}
}

func (f *fakeStore) ActiveAlertByKey(_ context.Context, scope pattern.Scope, alertKey string) (Alert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.alerts {
		if a.Scope == scope && a.AlertKey == alertKey && a.Status == AlertActive {
			return a, nil
		}
	}
	return Alert{}, pattern.ErrNotFound
}

func (f *fakeStore) InsertAlert(_ context.Context, alert Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts[alert.ID] = alert
	return nil
}

func (f *fakeStore) AppendOccurrence(_ context.Context, occ pattern.Occurrence) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.occurrences = append(f.occurrences, occ)
	return nil
}

func (f *fakeStore) ListOccurrencesByAlert(_ context.Context, alertID string) ([]pattern.Occurrence, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []pattern.Occurrence
	for _, occ := range f.occurrences {
		if occ.AlertID == alertID {
			out = append(out, occ)
		}
	}
	return out, nil
}

func (f *fakeStore) PromoteAlert(_ context.Context, alertID string, def pattern.Definition) (pattern.Definition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	alert, ok := f.alerts[alertID]
	if !ok {
		return pattern.Definition{}, pattern.ErrNotFound
	}
	f.patterns[def.ID] = def
	for i := range f.occurrences {
		if f.occurrences[i].AlertID == alertID {
			f.occurrences[i].PatternID = def.ID
		}
	}
	alert.Status = AlertPromoted
	alert.PromotedPatternID = def.ID
	f.alerts[alertID] = alert
	return def, nil
}

func (f *fakeStore) ListAlertsDueForExpiry(_ context.Context, now time.Time) ([]Alert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var due []Alert
	for _, a := range f.alerts {
		if a.Status == AlertActive && !a.ExpiresAt.After(now) {
			due = append(due, a)
		}
	}
	return due, nil
}

func (f *fakeStore) MarkAlertExpired(_ context.Context, alertID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	alert, ok := f.alerts[alertID]
	if !ok {
		return pattern.ErrNotFound
	}
	alert.Status = AlertExpired
	f.alerts[alertID] = alert
	return nil
}

func (f *fakeStore) ActivePrincipleByKey(_ context.Context, workspaceID, promotionKey string) (Principle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.principles {
		if p.WorkspaceID == workspaceID && p.PromotionKey == promotionKey && p.Status == PrincipleActive {
			return p, nil
		}
	}
	return Principle{}, pattern.ErrNotFound
}

func (f *fakeStore) InsertPrinciple(_ context.Context, principle Principle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.principles = append(f.principles, principle)
	return nil
}

func (f *fakeStore) ArchivePrincipleByKey(_ context.Context, workspaceID, promotionKey, reason, archivedBy string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, p := range f.principles {
		if p.WorkspaceID == workspaceID && p.PromotionKey == promotionKey && p.Status == PrincipleActive {
			p.Status = PrincipleArchived
			p.ArchivedReason = reason
			p.ArchivedBy = archivedBy
			p.ArchivedAt = time.Now().UTC()
			f.principles[i] = p
			return nil
		}
	}
	return pattern.ErrNotFound
}

func (f *fakeStore) PatternByID(_ context.Context, id string) (pattern.Definition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if def, ok := f.patterns[id]; ok {
		return def, nil
	}
	return pattern.Definition{}, pattern.ErrNotFound
}

func (f *fakeStore) PatternsByKey(_ context.Context, workspaceID, patternKey string) ([]pattern.Definition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []pattern.Definition
	for _, def := range f.patterns {
		if def.Scope.WorkspaceID == workspaceID && def.PatternKey == patternKey {
			out = append(out, def)
		}
	}
	return out, nil
}

func (f *fakeStore) ListActivePatterns(_ context.Context, scope pattern.Scope) ([]pattern.Definition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []pattern.Definition
	for _, def := range f.patterns {
		if def.Scope == scope && def.Status == pattern.StatusActive {
			out = append(out, def)
		}
	}
	return out, nil
}

func (f *fakeStore) ListOccurrencesByPattern(_ context.Context, patternID string) ([]pattern.Occurrence, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []pattern.Occurrence
	for _, occ := range f.occurrences {
		if occ.PatternID == patternID {
			out = append(out, occ)
		}
	}
	return out, nil
}

func (f *fakeStore) ApplyDecaySweep(_ context.Context, _ pattern.Scope, updates []ConfidenceUpdate, archiveIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sweepErr != nil {
		return f.sweepErr
	}
	for _, u := range updates {
		def := f.patterns[u.PatternID]
		def.Confidence = u.Confidence
		f.patterns[u.PatternID] = def
	}
	for _, id := range archiveIDs {
		def := f.patterns[id]
		def.Status = pattern.StatusArchived
		f.patterns[id] = def
	}
	return nil
}

func (f *fakeStore) addPattern(def pattern.Definition) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.patterns[def.ID] = def
}

func (f *fakeStore) addOccurrence(occ pattern.Occurrence) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.occurrences = append(f.occurrences, occ)
}

func (f *fakeStore) patternByID(id string) (pattern.Definition, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	def, ok := f.patterns[id]
	return def, ok
}

func (f *fakeStore) alertByID(id string) (Alert, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.alerts[id]
	return a, ok
}

func (f *fakeStore) activePrinciples(workspaceID string) []Principle {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Principle
	for _, p := range f.principles {
		if p.WorkspaceID == workspaceID && p.Status == PrincipleActive {
			out = append(out, p)
		}
	}
	return out
}

func testScope() pattern.Scope {
	return pattern.Scope{WorkspaceID: "ws-1", ProjectID: "proj-1"}
}

func newTestService(t *testing.T, store Store) Service {
	t.Helper()
	engine, err := confidence.NewEngine(confidence.DefaultParams())
	require.NoError(t, err)
	svc, err := NewService(DefaultPolicy(), store, engine, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func TestNewService_Validation(t *testing.T) {
	engine, err := confidence.NewEngine(confidence.DefaultParams())
	require.NoError(t, err)

	_, err = NewService(DefaultPolicy(), nil, engine, zap.NewNop())
	require.Error(t, err)

	_, err = NewService(DefaultPolicy(), newFakeStore(), nil, zap.NewNop())
	require.Error(t, err)

	bad := DefaultPolicy()
	bad.AlertPromotionThreshold = 0
	_, err = NewService(bad, newFakeStore(), engine, zap.NewNop())
	require.Error(t, err)
}

func TestService_OperationsAfterCloseFail(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(t, store)
	require.NoError(t, svc.Close())

	_, err := svc.EnsureAlert(context.Background(), AlertRequest{Scope: testScope()})
	require.Error(t, err)
	_, err = svc.ExpireAlerts(context.Background(), time.Now())
	require.Error(t, err)
	_, err = svc.PromoteToPrinciple(context.Background(), "ws-1", "pat-1")
	require.Error(t, err)
	_, err = svc.RunPromotionScan(context.Background(), testScope())
	require.Error(t, err)
	_, err = svc.SeedBaselines(context.Background(), "ws-1")
	require.Error(t, err)
	_, err = svc.RunDecaySweep(context.Background(), testScope())
	require.Error(t, err)
}
