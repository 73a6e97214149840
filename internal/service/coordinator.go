package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"carbridge/internal/catalog"
	"carbridge/internal/models"
	"carbridge/internal/permissions"
	"carbridge/internal/state"
)

// SnapshotStore persists the last-known state across restarts. Implemented
// by the redis snapshot store; may be absent.
type SnapshotStore interface {
	Load(ctx context.Context) (map[models.Key]models.DataPointState, error)
	Save(ctx context.Context, snapshot map[models.Key]models.DataPointState) error
}

// Coordinator is the stable surface exposed to presentation consumers: a
// non-blocking read model plus refresh, command and push entry points.
type Coordinator struct {
	catalog    *catalog.Catalog
	registry   *permissions.Registry
	store      *state.Store
	engine     *FetchEngine
	reconciler *Reconciler
	commands   *CommandService
	snapshots  SnapshotStore
	logger     *zap.Logger

	// configured subset of data points to poll; empty means every point
	// the granted scopes allow.
	configured map[models.Key]struct{}
}

// NewCoordinator wires the coordinator facade.
func NewCoordinator(
	cat *catalog.Catalog,
	registry *permissions.Registry,
	store *state.Store,
	engine *FetchEngine,
	reconciler *Reconciler,
	commands *CommandService,
	snapshots SnapshotStore,
	configuredKeys []models.Key,
	logger *zap.Logger,
) *Coordinator {
	var configured map[models.Key]struct{}
	if len(configuredKeys) > 0 {
		configured = make(map[models.Key]struct{}, len(configuredKeys))
		for _, k := range configuredKeys {
			configured[k] = struct{}{}
		}
	}
	return &Coordinator{
		catalog:    cat,
		registry:   registry,
		store:      store,
		engine:     engine,
		reconciler: reconciler,
		commands:   commands,
		snapshots:  snapshots,
		logger:     logger,
		configured: configured,
	}
}

// Read returns the last known state for a key. Never blocks on network.
func (c *Coordinator) Read(key models.Key) (models.DataPointState, bool) {
	return c.store.Get(key)
}

// Snapshot returns a copy of the full read model.
func (c *Coordinator) Snapshot() map[models.Key]models.DataPointState {
	return c.store.Snapshot()
}

// EnabledKeys computes the current enabled set: catalog order, filtered by
// the configured subset and the granted scopes. Recomputed on every call so
// scope changes take effect immediately.
func (c *Coordinator) EnabledKeys() []models.Key {
	var keys []models.Key
	for _, desc := range c.catalog.All() {
		if c.configured != nil {
			if _, ok := c.configured[desc.Key]; !ok {
				continue
			}
		}
		if !c.registry.IsEnabled(desc.Key) {
			continue
		}
		keys = append(keys, desc.Key)
	}
	return keys
}

// RequestRefresh fetches an explicit key set outside the scheduled cadence.
// An empty set refreshes every enabled data point. The scheduler's next
// cycle time is not perturbed.
func (c *Coordinator) RequestRefresh(ctx context.Context, keys []models.Key) map[models.Key]models.FetchResult {
	if len(keys) == 0 {
		keys = c.EnabledKeys()
	}
	return c.engine.Fetch(ctx, keys)
}

// Ingest is the push entry point invoked by the webhook transport.
func (c *Coordinator) Ingest(payload []byte, signature string, receivedAt time.Time) (IngestResult, error) {
	return c.reconciler.Ingest(payload, signature, receivedAt)
}

// SendCommand executes a vehicle control command.
func (c *Coordinator) SendCommand(ctx context.Context, cmd Command, params map[string]any) (Ack, error) {
	return c.commands.Execute(ctx, cmd, params)
}

// ReauthRequired reports whether the vendor has asked for re-authorization.
func (c *Coordinator) ReauthRequired() bool {
	return c.reconciler.ReauthRequired()
}

// Rehydrate restores the read model from the persisted snapshot, if any.
func (c *Coordinator) Rehydrate(ctx context.Context) {
	if c.snapshots == nil {
		return
	}
	snapshot, err := c.snapshots.Load(ctx)
	if err != nil {
		c.logger.Warn("failed to load state snapshot", zap.Error(err))
		return
	}
	if len(snapshot) == 0 {
		return
	}
	c.store.Rehydrate(snapshot)
	c.logger.Info("rehydrated state from snapshot", zap.Int("points", len(snapshot)))
}

// SaveSnapshot persists the current read model. Best effort.
func (c *Coordinator) SaveSnapshot(ctx context.Context) {
	if c.snapshots == nil {
		return
	}
	if err := c.snapshots.Save(ctx, c.store.Snapshot()); err != nil {
		c.logger.Warn("failed to save state snapshot", zap.Error(err))
	}
}
