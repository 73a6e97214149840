package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"carbridge/internal/catalog"
	"carbridge/internal/metrics"
	"carbridge/internal/models"
	"carbridge/internal/permissions"
	"carbridge/internal/state"
	"carbridge/internal/vendorapi"
)

type fakeVendor struct {
	mu         sync.Mutex
	batchCalls [][]string
	items      []vendorapi.BatchItem
	batchErr   error

	execPaths  []string
	execBodies []any
	execResp   *vendorapi.CommandResponse
	execErr    error
}

func (f *fakeVendor) Batch(ctx context.Context, paths []string) (*vendorapi.BatchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batchCalls = append(f.batchCalls, append([]string(nil), paths...))
	if f.batchErr != nil {
		return nil, f.batchErr
	}
	return &vendorapi.BatchResponse{Responses: f.items}, nil
}

func (f *fakeVendor) Execute(ctx context.Context, path string, body any) (*vendorapi.CommandResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execPaths = append(f.execPaths, path)
	f.execBodies = append(f.execBodies, body)
	if f.execErr != nil {
		return nil, f.execErr
	}
	if f.execResp != nil {
		return f.execResp, nil
	}
	return &vendorapi.CommandResponse{Status: "success"}, nil
}

func (f *fakeVendor) batchCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batchCalls)
}

func (f *fakeVendor) batchCallAt(index int) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if index < 0 || index >= len(f.batchCalls) {
		return nil
	}
	return append([]string(nil), f.batchCalls[index]...)
}

func batchItem(path string, code int, body string, headers map[string]string) vendorapi.BatchItem {
	return vendorapi.BatchItem{
		Path:    path,
		Code:    code,
		Body:    json.RawMessage(body),
		Headers: headers,
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

type engineFixture struct {
	engine  *FetchEngine
	store   *state.Store
	vendor  *fakeVendor
	metrics *metrics.Metrics
}

func newEngineFixture(vendor *fakeVendor, scopes ...models.Scope) *engineFixture {
	cat := catalog.New()
	registry := permissions.NewRegistry(cat, scopes)
	store := state.NewStore()
	m := metrics.New()
	engine := NewFetchEngine(cat, registry, store, vendor, m, time.Second, 4, zap.NewNop())
	return &engineFixture{engine: engine, store: store, vendor: vendor, metrics: m}
}

func TestFetchGroupsSharedEndpointIntoOneCall(t *testing.T) {
	vendor := &fakeVendor{
		items: []vendorapi.BatchItem{
			batchItem("/battery", 200, `{"percentRemaining":0.72,"range":210.5}`, map[string]string{
				vendorapi.HeaderDataAge:    "2026-03-01T10:00:00Z",
				vendorapi.HeaderUnitSystem: "metric",
			}),
		},
	}
	fx := newEngineFixture(vendor, models.ScopeReadBattery)

	results := fx.engine.Fetch(context.Background(), []models.Key{models.KeyBatteryLevel, models.KeyBatteryRange})

	if vendor.batchCallCount() != 1 {
		t.Fatalf("expected 1 vendor call, got %d", vendor.batchCallCount())
	}
	paths := vendor.batchCallAt(0)
	if len(paths) != 1 || paths[0] != "/battery" {
		t.Fatalf("expected single /battery path, got %v", paths)
	}

	level := results[models.KeyBatteryLevel]
	if level.Err != nil {
		t.Fatalf("unexpected error: %v", level.Err)
	}
	if level.Value.Number != 0.72 {
		t.Fatalf("expected battery level 0.72, got %v", level.Value.Number)
	}
	rng := results[models.KeyBatteryRange]
	if rng.Err != nil || rng.Value.Number != 210.5 {
		t.Fatalf("unexpected range result %+v", rng)
	}

	st, _ := fx.store.Get(models.KeyBatteryLevel)
	if st.UnitSystem != "metric" {
		t.Fatalf("expected metric unit system, got %q", st.UnitSystem)
	}
	if st.RecordedAt == nil || !st.RecordedAt.Equal(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected recordedAt %v", st.RecordedAt)
	}
}

func TestFetchWithoutScopeSkipsVendorCall(t *testing.T) {
	vendor := &fakeVendor{}
	fx := newEngineFixture(vendor)

	results := fx.engine.Fetch(context.Background(), []models.Key{models.KeyBatteryLevel})

	if vendor.batchCallCount() != 0 {
		t.Fatalf("expected no vendor calls, got %d", vendor.batchCallCount())
	}
	res := results[models.KeyBatteryLevel]
	if res.Err == nil || res.Err.Kind != models.ErrPermissionDenied {
		t.Fatalf("expected permission_denied, got %+v", res)
	}

	st, ok := fx.store.Get(models.KeyBatteryLevel)
	if !ok || st.LastError == nil || st.LastError.Kind != models.ErrPermissionDenied {
		t.Fatalf("expected error recorded in store, got %+v", st)
	}
}

func TestFetchUnknownKeyReturnsPermissionDenied(t *testing.T) {
	vendor := &fakeVendor{}
	fx := newEngineFixture(vendor, models.ScopeReadBattery)

	results := fx.engine.Fetch(context.Background(), []models.Key{models.Key("bogus")})

	if vendor.batchCallCount() != 0 {
		t.Fatalf("expected no vendor calls, got %d", vendor.batchCallCount())
	}
	res := results[models.Key("bogus")]
	if res.Err == nil || res.Err.Kind != models.ErrPermissionDenied {
		t.Fatalf("expected permission_denied, got %+v", res)
	}
}

func TestFetchCallFailureAppliesToWholeGroup(t *testing.T) {
	vendor := &fakeVendor{batchErr: context.DeadlineExceeded}
	fx := newEngineFixture(vendor, models.ScopeReadTires)

	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	fx.store.ApplyValue(models.KeyTirePressureFrontLeft, models.NumberValue(230), &at, at, "metric")

	keys := []models.Key{
		models.KeyTirePressureFrontLeft,
		models.KeyTirePressureFrontRight,
		models.KeyTirePressureBackLeft,
		models.KeyTirePressureBackRight,
	}
	results := fx.engine.Fetch(context.Background(), keys)

	if vendor.batchCallCount() != 1 {
		t.Fatalf("expected 1 vendor call, got %d", vendor.batchCallCount())
	}
	for _, key := range keys {
		res := results[key]
		if res.Err == nil || res.Err.Kind != models.ErrTimeout {
			t.Fatalf("expected timeout for %s, got %+v", key, res)
		}
	}

	st, _ := fx.store.Get(models.KeyTirePressureFrontLeft)
	if st.Value == nil || st.Value.Number != 230 {
		t.Fatalf("expected previous value to survive, got %+v", st.Value)
	}
	if st.ConsecutiveFailures != 1 {
		t.Fatalf("expected 1 failure, got %d", st.ConsecutiveFailures)
	}
}

func TestFetchMissingPathReportsNotSupported(t *testing.T) {
	vendor := &fakeVendor{
		items: []vendorapi.BatchItem{
			batchItem("/odometer", 404, `{"message":"not capable"}`, nil),
		},
	}
	fx := newEngineFixture(vendor, models.ScopeReadOdometer, models.ScopeReadEngineOil)

	results := fx.engine.Fetch(context.Background(), []models.Key{models.KeyOdometer, models.KeyEngineOil})

	for _, key := range []models.Key{models.KeyOdometer, models.KeyEngineOil} {
		res := results[key]
		if res.Err == nil || res.Err.Kind != models.ErrNotSupported {
			t.Fatalf("expected not_supported for %s, got %+v", key, res)
		}
	}
}

func TestFetchMapsVendorStatuses(t *testing.T) {
	vendor := &fakeVendor{
		items: []vendorapi.BatchItem{
			batchItem("/fuel", 401, `{}`, nil),
			batchItem("/odometer", 429, `{}`, nil),
			batchItem("/location", 500, `{}`, nil),
		},
	}
	fx := newEngineFixture(vendor,
		models.ScopeReadFuel, models.ScopeReadOdometer, models.ScopeReadLocation)

	results := fx.engine.Fetch(context.Background(), []models.Key{
		models.KeyFuel, models.KeyOdometer, models.KeyLocation,
	})

	if kind := results[models.KeyFuel].Err.Kind; kind != models.ErrPermissionDenied {
		t.Fatalf("expected permission_denied for 401, got %s", kind)
	}
	if kind := results[models.KeyOdometer].Err.Kind; kind != models.ErrRateLimited {
		t.Fatalf("expected rate_limited for 429, got %s", kind)
	}
	res := results[models.KeyLocation]
	if res.Err.Kind != models.ErrVendor || res.Err.Code != 500 {
		t.Fatalf("expected vendor_error 500, got %+v", res.Err)
	}
}

func TestFetchSuccessResetsFailureCount(t *testing.T) {
	vendor := &fakeVendor{batchErr: context.DeadlineExceeded}
	fx := newEngineFixture(vendor, models.ScopeReadOdometer)

	fx.engine.Fetch(context.Background(), []models.Key{models.KeyOdometer})
	fx.engine.Fetch(context.Background(), []models.Key{models.KeyOdometer})

	st, _ := fx.store.Get(models.KeyOdometer)
	if st.ConsecutiveFailures != 2 {
		t.Fatalf("expected 2 failures, got %d", st.ConsecutiveFailures)
	}

	vendor.mu.Lock()
	vendor.batchErr = nil
	vendor.items = []vendorapi.BatchItem{
		batchItem("/odometer", 200, `{"distance":42000.5}`, nil),
	}
	vendor.mu.Unlock()

	fx.engine.Fetch(context.Background(), []models.Key{models.KeyOdometer})

	st, _ = fx.store.Get(models.KeyOdometer)
	if st.ConsecutiveFailures != 0 || st.LastError != nil {
		t.Fatalf("expected cleared error state, got %+v", st)
	}
	if st.Value == nil || st.Value.Number != 42000.5 {
		t.Fatalf("expected odometer value, got %+v", st.Value)
	}
}

func TestFetchDeduplicatesRequestedKeys(t *testing.T) {
	vendor := &fakeVendor{
		items: []vendorapi.BatchItem{
			batchItem("/odometer", 200, `{"distance":100}`, nil),
		},
	}
	fx := newEngineFixture(vendor, models.ScopeReadOdometer)

	results := fx.engine.Fetch(context.Background(), []models.Key{
		models.KeyOdometer, models.KeyOdometer, models.KeyOdometer,
	})

	if vendor.batchCallCount() != 1 {
		t.Fatalf("expected 1 vendor call, got %d", vendor.batchCallCount())
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
}

type blockingVendor struct {
	mu      sync.Mutex
	calls   int
	entered chan struct{}
	release chan struct{}
}

func (b *blockingVendor) Batch(ctx context.Context, paths []string) (*vendorapi.BatchResponse, error) {
	b.mu.Lock()
	b.calls++
	b.mu.Unlock()
	b.entered <- struct{}{}
	<-b.release
	return &vendorapi.BatchResponse{Responses: []vendorapi.BatchItem{
		batchItem("/battery", 200, `{"percentRemaining":0.5,"range":100}`, nil),
	}}, nil
}

func (b *blockingVendor) Execute(ctx context.Context, path string, body any) (*vendorapi.CommandResponse, error) {
	return &vendorapi.CommandResponse{Status: "success"}, nil
}

func (b *blockingVendor) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

func TestFetchSerializesDuplicateGroupCalls(t *testing.T) {
	vendor := &blockingVendor{entered: make(chan struct{}), release: make(chan struct{})}
	cat := catalog.New()
	registry := permissions.NewRegistry(cat, []models.Scope{models.ScopeReadBattery})
	store := state.NewStore()
	engine := NewFetchEngine(cat, registry, store, vendor, metrics.New(), time.Second, 4, zap.NewNop())

	done := make(chan struct{}, 2)
	fetch := func() {
		engine.Fetch(context.Background(), []models.Key{models.KeyBatteryLevel})
		done <- struct{}{}
	}

	go fetch()
	<-vendor.entered

	go fetch()
	time.Sleep(50 * time.Millisecond)
	if got := vendor.callCount(); got != 1 {
		t.Fatalf("expected second fetch to wait for the first, got %d calls", got)
	}

	vendor.release <- struct{}{}
	<-vendor.entered
	vendor.release <- struct{}{}

	<-done
	<-done
	if got := vendor.callCount(); got != 2 {
		t.Fatalf("expected 2 calls total, got %d", got)
	}
}

func TestFetchSpendsCostUnitsOnlyOnServedCalls(t *testing.T) {
	vendor := &fakeVendor{batchErr: context.DeadlineExceeded}
	fx := newEngineFixture(vendor, models.ScopeReadOdometer)

	fx.engine.Fetch(context.Background(), []models.Key{models.KeyOdometer})
	if got := testutil.ToFloat64(fx.metrics.CostUnits); got != 0 {
		t.Fatalf("expected no cost for timed out call, got %v", got)
	}

	vendor.mu.Lock()
	vendor.batchErr = &vendorapi.StatusError{Status: 500, Message: "upstream"}
	vendor.mu.Unlock()

	fx.engine.Fetch(context.Background(), []models.Key{models.KeyOdometer})
	if got := testutil.ToFloat64(fx.metrics.CostUnits); got != 1 {
		t.Fatalf("expected served error response to cost 1 unit, got %v", got)
	}

	vendor.mu.Lock()
	vendor.batchErr = nil
	vendor.items = []vendorapi.BatchItem{
		batchItem("/odometer", 200, `{"distance":100}`, nil),
	}
	vendor.mu.Unlock()

	fx.engine.Fetch(context.Background(), []models.Key{models.KeyOdometer})
	if got := testutil.ToFloat64(fx.metrics.CostUnits); got != 2 {
		t.Fatalf("expected successful call to cost 1 unit, got %v", got)
	}
}

func TestFetchDecodeFailureReportsVendorError(t *testing.T) {
	vendor := &fakeVendor{
		items: []vendorapi.BatchItem{
			batchItem("/battery", 200, `{"range":100}`, nil),
		},
	}
	fx := newEngineFixture(vendor, models.ScopeReadBattery)

	results := fx.engine.Fetch(context.Background(), []models.Key{models.KeyBatteryLevel})

	res := results[models.KeyBatteryLevel]
	if res.Err == nil || res.Err.Kind != models.ErrVendor {
		t.Fatalf("expected vendor_error on decode failure, got %+v", res)
	}
}
