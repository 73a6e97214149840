package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"carbridge/internal/catalog"
	"carbridge/internal/metrics"
	"carbridge/internal/models"
	"carbridge/internal/permissions"
	"carbridge/internal/state"
	"carbridge/internal/vendorapi"
)

type fakeSnapshotStore struct {
	mu      sync.Mutex
	stored  map[models.Key]models.DataPointState
	loadErr error
	saveErr error
	saves   int
}

func (f *fakeSnapshotStore) Load(ctx context.Context) (map[models.Key]models.DataPointState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	return f.stored, nil
}

func (f *fakeSnapshotStore) Save(ctx context.Context, snapshot map[models.Key]models.DataPointState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.stored = snapshot
	f.saves++
	return nil
}

func newCoordinatorFixture(vendor *fakeVendor, snapshots SnapshotStore, configured []models.Key, scopes ...models.Scope) (*Coordinator, *state.Store) {
	cat := catalog.New()
	registry := permissions.NewRegistry(cat, scopes)
	store := state.NewStore()
	m := metrics.New()
	logger := zap.NewNop()
	engine := NewFetchEngine(cat, registry, store, vendor, m, time.Second, 4, logger)
	reconciler := NewReconciler(cat, registry, store, fakeVerifier{valid: true}, m, logger)
	commands := NewCommandService(vendor, engine, logger)
	coord := NewCoordinator(cat, registry, store, engine, reconciler, commands, snapshots, configured, logger)
	return coord, store
}

func TestEnabledKeysFollowsScopesAndCatalogOrder(t *testing.T) {
	coord, _ := newCoordinatorFixture(&fakeVendor{}, nil, nil,
		models.ScopeReadBattery, models.ScopeReadOdometer)

	keys := coord.EnabledKeys()
	expected := []models.Key{
		models.KeyBatteryLevel,
		models.KeyBatteryRange,
		models.KeyBatteryCapacity,
		models.KeyOdometer,
	}
	if len(keys) != len(expected) {
		t.Fatalf("expected %d keys, got %v", len(expected), keys)
	}
	for i, key := range expected {
		if keys[i] != key {
			t.Fatalf("expected %s at position %d, got %s", key, i, keys[i])
		}
	}
}

func TestEnabledKeysHonorsConfiguredSubset(t *testing.T) {
	coord, _ := newCoordinatorFixture(&fakeVendor{}, nil,
		[]models.Key{models.KeyOdometer, models.KeyBatteryLevel},
		models.ScopeReadBattery, models.ScopeReadOdometer)

	keys := coord.EnabledKeys()
	if len(keys) != 2 || keys[0] != models.KeyBatteryLevel || keys[1] != models.KeyOdometer {
		t.Fatalf("expected configured subset in catalog order, got %v", keys)
	}
}

func TestRequestRefreshDefaultsToEnabledKeys(t *testing.T) {
	vendor := &fakeVendor{
		items: []vendorapi.BatchItem{
			batchItem("/odometer", 200, `{"distance":500}`, nil),
		},
	}
	coord, _ := newCoordinatorFixture(vendor, nil, nil, models.ScopeReadOdometer)

	results := coord.RequestRefresh(context.Background(), nil)
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %v", results)
	}
	res := results[models.KeyOdometer]
	if res.Err != nil || res.Value.Number != 500 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestReadReturnsStoredCopy(t *testing.T) {
	coord, store := newCoordinatorFixture(&fakeVendor{}, nil, nil, models.ScopeReadOdometer)

	if _, ok := coord.Read(models.KeyOdometer); ok {
		t.Fatal("expected no state before any fetch")
	}

	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	store.ApplyValue(models.KeyOdometer, models.NumberValue(100), &at, at, "")

	st, ok := coord.Read(models.KeyOdometer)
	if !ok || st.Value.Number != 100 {
		t.Fatalf("unexpected read %+v", st)
	}
}

func TestRehydrateSeedsStoreFromSnapshot(t *testing.T) {
	value := models.NumberValue(0.7)
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	snapshots := &fakeSnapshotStore{
		stored: map[models.Key]models.DataPointState{
			models.KeyBatteryLevel: {Value: &value, RecordedAt: &at, FetchedAt: at},
		},
	}
	coord, _ := newCoordinatorFixture(&fakeVendor{}, snapshots, nil, models.ScopeReadBattery)

	coord.Rehydrate(context.Background())

	st, ok := coord.Read(models.KeyBatteryLevel)
	if !ok || st.Value.Number != 0.7 {
		t.Fatalf("expected rehydrated battery level, got %+v", st)
	}
}

func TestSaveSnapshotPersistsCurrentState(t *testing.T) {
	snapshots := &fakeSnapshotStore{}
	coord, store := newCoordinatorFixture(&fakeVendor{}, snapshots, nil, models.ScopeReadOdometer)

	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	store.ApplyValue(models.KeyOdometer, models.NumberValue(100), &at, at, "")

	coord.SaveSnapshot(context.Background())

	snapshots.mu.Lock()
	defer snapshots.mu.Unlock()
	if snapshots.saves != 1 {
		t.Fatalf("expected 1 save, got %d", snapshots.saves)
	}
	if entry, ok := snapshots.stored[models.KeyOdometer]; !ok || entry.Value.Number != 100 {
		t.Fatalf("unexpected persisted snapshot %+v", snapshots.stored)
	}
}

func TestSnapshotHelpersAreNilSafe(t *testing.T) {
	coord, _ := newCoordinatorFixture(&fakeVendor{}, nil, nil, models.ScopeReadOdometer)

	coord.Rehydrate(context.Background())
	coord.SaveSnapshot(context.Background())
}
