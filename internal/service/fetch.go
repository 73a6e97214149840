package service

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"carbridge/internal/catalog"
	"carbridge/internal/metrics"
	"carbridge/internal/models"
	"carbridge/internal/permissions"
	"carbridge/internal/state"
	"carbridge/internal/vendorapi"
)

// VendorAPI is the authenticated call capability consumed from the vendor
// client collaborator.
type VendorAPI interface {
	Batch(ctx context.Context, paths []string) (*vendorapi.BatchResponse, error)
	Execute(ctx context.Context, path string, body any) (*vendorapi.CommandResponse, error)
}

const (
	defaultCallTimeout = 30 * time.Second
	defaultMaxInFlight = 4
)

// FetchEngine groups requested data points into the minimum number of
// vendor batch calls, issues them concurrently and demultiplexes the
// responses back into per-point results. Errors never escape as Go errors;
// every requested key gets a FetchResult and a state store write.
type FetchEngine struct {
	catalog  *catalog.Catalog
	registry *permissions.Registry
	store    *state.Store
	vendor   VendorAPI
	metrics  *metrics.Metrics
	logger   *zap.Logger

	callTimeout time.Duration
	sem         chan struct{}

	groupMu    sync.Mutex
	groupLocks map[string]*sync.Mutex
}

// NewFetchEngine builds the engine. callTimeout bounds each outbound call;
// maxInFlight bounds simultaneous vendor calls across one Fetch invocation.
func NewFetchEngine(
	cat *catalog.Catalog,
	registry *permissions.Registry,
	store *state.Store,
	vendor VendorAPI,
	m *metrics.Metrics,
	callTimeout time.Duration,
	maxInFlight int,
	logger *zap.Logger,
) *FetchEngine {
	if callTimeout <= 0 {
		callTimeout = defaultCallTimeout
	}
	if maxInFlight <= 0 {
		maxInFlight = defaultMaxInFlight
	}
	return &FetchEngine{
		catalog:     cat,
		registry:    registry,
		store:       store,
		vendor:      vendor,
		metrics:     m,
		logger:      logger,
		callTimeout: callTimeout,
		sem:         make(chan struct{}, maxInFlight),
		groupLocks:  make(map[string]*sync.Mutex),
	}
}

// Fetch resolves the requested keys into grouped vendor calls and returns a
// result per key. No retries happen here; retry policy belongs to the
// scheduler's cadence.
func (e *FetchEngine) Fetch(ctx context.Context, keys []models.Key) map[models.Key]models.FetchResult {
	results := make(map[models.Key]models.FetchResult, len(keys))
	var resultsMu sync.Mutex

	groups := make(map[string][]*catalog.Descriptor)
	seen := make(map[models.Key]struct{}, len(keys))

	for _, key := range keys {
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		desc, known := e.catalog.Get(key)
		if !known || !e.registry.IsEnabled(key) {
			ferr := models.FetchError{Kind: models.ErrPermissionDenied, Message: "scope not granted"}
			e.store.ApplyError(key, ferr)
			e.metrics.PointErrors.WithLabelValues(string(models.ErrPermissionDenied)).Inc()
			results[key] = models.FetchResult{Err: &ferr}
			continue
		}
		groups[e.groupID(desc)] = append(groups[e.groupID(desc)], desc)
	}

	var wg sync.WaitGroup
	for groupID, members := range groups {
		wg.Add(1)
		go func(groupID string, members []*catalog.Descriptor) {
			defer wg.Done()

			e.sem <- struct{}{}
			defer func() { <-e.sem }()

			// Concurrent identical requests stay independent, but calls
			// for the same group serialize so racing scheduled and
			// on-demand refreshes cannot burst the quota.
			lock := e.groupLock(groupID)
			lock.Lock()
			defer lock.Unlock()

			groupResults := e.fetchGroup(ctx, members)

			resultsMu.Lock()
			for key, res := range groupResults {
				results[key] = res
			}
			resultsMu.Unlock()
		}(groupID, members)
	}
	wg.Wait()

	return results
}

func (e *FetchEngine) fetchGroup(ctx context.Context, members []*catalog.Descriptor) map[models.Key]models.FetchResult {
	paths := distinctPaths(members)

	callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()

	response, err := e.vendor.Batch(callCtx, paths)
	completedAt := time.Now().UTC()

	// Quota is spent only on calls the vendor actually served; timeouts and
	// transport failures never reached it.
	var statusErr *vendorapi.StatusError
	if err == nil || errors.As(err, &statusErr) {
		e.metrics.CostUnits.Add(float64(groupCost(members)))
	}

	if err != nil {
		ferr := classifyCallError(err)
		e.metrics.VendorCalls.WithLabelValues(string(ferr.Kind)).Inc()
		e.logger.Warn("vendor batch call failed",
			zap.Strings("paths", paths),
			zap.String("kind", string(ferr.Kind)),
			zap.Error(err))

		out := make(map[models.Key]models.FetchResult, len(members))
		for _, desc := range members {
			e.store.ApplyError(desc.Key, ferr)
			e.metrics.PointErrors.WithLabelValues(string(ferr.Kind)).Inc()
			out[desc.Key] = models.FetchResult{Err: &ferr}
		}
		return out
	}

	e.metrics.VendorCalls.WithLabelValues("success").Inc()

	byPath := make(map[string]vendorapi.BatchItem, len(response.Responses))
	for _, item := range response.Responses {
		byPath[item.Path] = item
	}

	out := make(map[models.Key]models.FetchResult, len(members))
	for _, desc := range members {
		out[desc.Key] = e.applyItem(desc, byPath, completedAt)
	}
	return out
}

func (e *FetchEngine) applyItem(desc *catalog.Descriptor, byPath map[string]vendorapi.BatchItem, completedAt time.Time) models.FetchResult {
	item, present := byPath[desc.Endpoint]
	if !present || item.Code == http.StatusNotFound {
		// The vehicle or brand does not support this point; surface that
		// instead of leaving the previous value looking current.
		ferr := models.FetchError{Kind: models.ErrNotSupported, Code: item.Code, Message: "capability not available"}
		e.store.ApplyError(desc.Key, ferr)
		e.metrics.PointErrors.WithLabelValues(string(models.ErrNotSupported)).Inc()
		return models.FetchResult{Err: &ferr}
	}

	if item.Code != http.StatusOK {
		ferr := statusFetchError(item.Code)
		e.store.ApplyError(desc.Key, ferr)
		e.metrics.PointErrors.WithLabelValues(string(ferr.Kind)).Inc()
		return models.FetchResult{Err: &ferr}
	}

	value, err := desc.DecodeBody(item.Body)
	if err != nil {
		ferr := models.FetchError{Kind: models.ErrVendor, Code: item.Code, Message: err.Error()}
		e.store.ApplyError(desc.Key, ferr)
		e.metrics.PointErrors.WithLabelValues(string(models.ErrVendor)).Inc()
		e.logger.Warn("failed to decode vendor body",
			zap.String("key", string(desc.Key)),
			zap.Error(err))
		return models.FetchResult{Err: &ferr}
	}

	recordedAt := parseHeaderTime(item.Header(vendorapi.HeaderDataAge))
	fetchedAt := completedAt
	if headerFetched := parseHeaderTime(item.Header(vendorapi.HeaderFetchedAt)); headerFetched != nil {
		fetchedAt = *headerFetched
	}
	unitSystem := item.Header(vendorapi.HeaderUnitSystem)

	e.store.ApplyValue(desc.Key, value, recordedAt, fetchedAt, unitSystem)
	return models.FetchResult{Value: &value, RecordedAt: recordedAt, UnitSystem: unitSystem}
}

func (e *FetchEngine) groupID(desc *catalog.Descriptor) string {
	if desc.BatchGroup != "" {
		return desc.BatchGroup
	}
	return "endpoint:" + desc.Endpoint
}

func (e *FetchEngine) groupLock(groupID string) *sync.Mutex {
	e.groupMu.Lock()
	defer e.groupMu.Unlock()
	lock, ok := e.groupLocks[groupID]
	if !ok {
		lock = &sync.Mutex{}
		e.groupLocks[groupID] = lock
	}
	return lock
}

func distinctPaths(members []*catalog.Descriptor) []string {
	set := make(map[string]struct{}, len(members))
	for _, desc := range members {
		set[desc.Endpoint] = struct{}{}
	}
	paths := make([]string, 0, len(set))
	for p := range set {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// A group's call costs as much as its most expensive member, not the sum.
func groupCost(members []*catalog.Descriptor) int {
	cost := 0
	for _, desc := range members {
		if desc.CostUnits > cost {
			cost = desc.CostUnits
		}
	}
	return cost
}

func classifyCallError(err error) models.FetchError {
	var statusErr *vendorapi.StatusError
	if errors.As(err, &statusErr) {
		return statusFetchError(statusErr.Status)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return models.FetchError{Kind: models.ErrTimeout, Message: "vendor call timed out"}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return models.FetchError{Kind: models.ErrTimeout, Message: "vendor call timed out"}
	}

	return models.FetchError{Kind: models.ErrTransport, Message: err.Error()}
}

func statusFetchError(status int) models.FetchError {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return models.FetchError{Kind: models.ErrPermissionDenied, Code: status, Message: "vendor rejected credentials"}
	case http.StatusTooManyRequests:
		return models.FetchError{Kind: models.ErrRateLimited, Code: status, Message: "vendor rate limit exhausted"}
	default:
		return models.FetchError{Kind: models.ErrVendor, Code: status, Message: "vendor error"}
	}
}

func parseHeaderTime(raw string) *time.Time {
	if raw == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}
