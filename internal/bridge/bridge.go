// Package bridge migrates legacy air entries into the entity store and keeps
// the two mirrored in both directions.
//
// Writes the bridge makes to the store carry the Origin tag and are not
// mirrored back; writes it makes to the collection are filtered out by the
// collection's own Watch. Events that arrive while the bridge is busy are not
// dropped: the affected entries or floors are replayed once the current pass
// finishes.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"airsync/internal/airentry"
	"airsync/internal/legacy"
	"airsync/internal/metrics"
)

// Origin tags every store mutation made by the bridge.
const Origin = "legacy-bridge"

const defaultTimeout = 10 * time.Second

var (
	ErrBusy           = errors.New("bridge is already syncing")
	ErrNotInitialized = errors.New("bridge not initialized")
	ErrClosed         = errors.New("bridge closed")
)

// EntryStore is the entity store surface the bridge reads and writes.
type EntryStore interface {
	Create(floor string, spec airentry.Spec, opts ...airentry.MutationOption) (airentry.Entry, error)
	Update(id string, patch airentry.Patch, opts ...airentry.MutationOption) (airentry.Entry, error)
	Delete(id string, opts ...airentry.MutationOption) bool
	Clear(opts ...airentry.MutationOption)
	Get(id string) (airentry.Entry, bool)
	ListFloor(floor string) []airentry.Entry
	List() []airentry.Entry
	Len() int
	Subscribe(fn airentry.Observer) func()
}

// Resetter ends edit sessions and drops queued edits before a resync.
type Resetter interface {
	Reset()
}

type Option func(*Bridge)

func WithLogger(logger *zap.Logger) Option {
	return func(b *Bridge) {
		if logger != nil {
			b.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Collector) Option {
	return func(b *Bridge) {
		b.metrics = m
	}
}

func WithResetter(r Resetter) Option {
	return func(b *Bridge) {
		b.resetter = r
	}
}

// WithTimeout bounds each collection call made from a store event.
func WithTimeout(d time.Duration) Option {
	return func(b *Bridge) {
		if d > 0 {
			b.timeout = d
		}
	}
}

type Bridge struct {
	store      EntryStore
	collection legacy.Collection
	resetter   Resetter
	logger     *zap.Logger
	metrics    *metrics.Collector
	timeout    time.Duration

	mu          sync.Mutex
	state       SyncState
	initialized bool
	closed      bool
	migration   *MigrationResult
	// entries changed in the store while busy, id to floor
	pendingEntries map[string]string
	pendingClear   bool
	// floors reported changed by the collection while busy
	pendingFloors map[string]struct{}

	unsubscribe func()
	stopWatch   func()
}

func New(store EntryStore, collection legacy.Collection, opts ...Option) *Bridge {
	b := &Bridge{
		store:          store,
		collection:     collection,
		logger:         zap.NewNop(),
		timeout:        defaultTimeout,
		pendingEntries: make(map[string]string),
		pendingFloors:  make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.Named("bridge")
	return b
}

// Initialize migrates every legacy item into the store and then starts
// mirroring in both directions. Later calls return the first result; after
// Close it returns ErrClosed.
func (b *Bridge) Initialize(ctx context.Context) (*MigrationResult, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	if b.initialized {
		result := b.migration
		b.mu.Unlock()
		return result, nil
	}
	if !b.tryEnterLocked(SyncingFromLegacy) {
		b.mu.Unlock()
		return nil, ErrBusy
	}
	b.mu.Unlock()

	result, err := b.migrate(ctx)
	if err != nil {
		b.leave()
		return nil, err
	}

	b.mu.Lock()
	b.migration = result
	b.mu.Unlock()

	unsubscribe := b.store.Subscribe(b.onStoreChange)
	stop, err := b.collection.Watch(context.WithoutCancel(ctx), b.onLegacyChange)
	if err != nil {
		unsubscribe()
		b.leave()
		return nil, fmt.Errorf("watching legacy collection: %w", err)
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		unsubscribe()
		stop()
		b.leave()
		return nil, ErrClosed
	}
	b.unsubscribe = unsubscribe
	b.stopWatch = stop
	b.initialized = true
	b.mu.Unlock()

	b.leave()
	b.logger.Info("bridge initialized",
		zap.Int("floors", result.Floors),
		zap.Int("migrated", result.Migrated),
		zap.Int("failed", result.Failed),
	)
	return result, nil
}

// ForceResync drops any edit session, clears the store and migrates the
// legacy collection again.
func (b *Bridge) ForceResync(ctx context.Context) (*MigrationResult, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	if !b.initialized {
		b.mu.Unlock()
		return nil, ErrNotInitialized
	}
	if !b.tryEnterLocked(SyncingFromLegacy) {
		b.mu.Unlock()
		return nil, ErrBusy
	}
	// the rebuild below supersedes anything queued so far
	b.pendingEntries = make(map[string]string)
	b.pendingFloors = make(map[string]struct{})
	b.pendingClear = false
	b.mu.Unlock()
	defer b.leave()

	if b.resetter != nil {
		b.resetter.Reset()
	}
	b.store.Clear(airentry.WithOrigin(Origin))

	result, err := b.migrate(ctx)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	b.migration = result
	b.mu.Unlock()

	b.logger.Info("forced resync",
		zap.Int("migrated", result.Migrated),
		zap.Int("failed", result.Failed),
	)
	return result, nil
}

// SyncFloor reconciles one floor from the collection into the store.
func (b *Bridge) SyncFloor(ctx context.Context, floor string) (*ReconcileResult, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	if !b.tryEnterLocked(SyncingFromLegacy) {
		b.mu.Unlock()
		return nil, ErrBusy
	}
	b.mu.Unlock()
	defer b.leave()

	return b.reconcile(ctx, floor)
}

type Stats struct {
	StoreCount  int       `json:"storeCount"`
	LegacyCount int       `json:"legacyCount"`
	State       SyncState `json:"-"`
	StateName   string    `json:"state"`
	Syncing     bool      `json:"syncing"`
	Initialized bool      `json:"initialized"`
}

func (b *Bridge) Stats(ctx context.Context) (Stats, error) {
	b.mu.Lock()
	st := Stats{
		State:       b.state,
		StateName:   b.state.String(),
		Syncing:     b.state != Idle,
		Initialized: b.initialized,
	}
	b.mu.Unlock()

	st.StoreCount = b.store.Len()
	n, err := countLegacy(ctx, b.collection)
	if err != nil {
		return st, err
	}
	st.LegacyCount = n
	return st, nil
}

func countLegacy(ctx context.Context, c legacy.Collection) (int, error) {
	floors, err := c.Floors(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing legacy floors: %w", err)
	}
	total := 0
	for _, floor := range floors {
		items, err := c.List(ctx, floor)
		if err != nil {
			return 0, fmt.Errorf("listing legacy floor %q: %w", floor, err)
		}
		total += len(items)
	}
	return total, nil
}

// Close stops mirroring for good. The collection itself stays open, and the
// store keeps the migrated entries.
func (b *Bridge) Close() {
	b.mu.Lock()
	unsubscribe, stop := b.unsubscribe, b.stopWatch
	b.unsubscribe, b.stopWatch = nil, nil
	b.closed = true
	b.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if stop != nil {
		stop()
	}
}

func (b *Bridge) onStoreChange(c airentry.Change) {
	if c.Origin == Origin {
		return
	}

	b.mu.Lock()
	if !b.tryEnterLocked(SyncingFromStore) {
		if c.IsClear() {
			b.pendingClear = true
		} else {
			b.pendingEntries[c.ID] = c.FloorName
		}
		b.mu.Unlock()
		b.metrics.BridgeMirror("store_to_legacy", "deferred")
		return
	}
	b.mu.Unlock()
	defer b.leave()

	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()
	b.mirror(ctx, c)
}

func (b *Bridge) onLegacyChange(floor string) {
	b.mu.Lock()
	if !b.tryEnterLocked(SyncingFromLegacy) {
		b.pendingFloors[floor] = struct{}{}
		b.mu.Unlock()
		b.metrics.BridgeMirror("legacy_to_store", "deferred")
		return
	}
	b.mu.Unlock()
	defer b.leave()

	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()
	if _, err := b.reconcile(ctx, floor); err != nil {
		b.logger.Warn("reconciling legacy floor", zap.String("floor", floor), zap.Error(err))
	}
}

// mirror writes one store change into the collection.
func (b *Bridge) mirror(ctx context.Context, c airentry.Change) {
	var err error
	action := ""
	switch {
	case c.IsClear():
		action = "clear"
		err = b.clearLegacy(ctx)
	case c.Type == airentry.ChangeDelete:
		action = "remove"
		err = b.collection.Remove(ctx, c.FloorName, c.ID)
	case c.Entry != nil:
		action = "upsert"
		err = b.collection.Upsert(ctx, c.FloorName, legacy.FromEntry(*c.Entry))
	default:
		return
	}
	if err != nil {
		b.logger.Warn("mirroring store change",
			zap.String("action", action),
			zap.String("id", c.ID),
			zap.Error(err),
		)
		return
	}
	b.metrics.BridgeMirror("store_to_legacy", action)
}

func (b *Bridge) clearLegacy(ctx context.Context) error {
	floors, err := b.collection.Floors(ctx)
	if err != nil {
		return fmt.Errorf("listing legacy floors: %w", err)
	}
	for _, floor := range floors {
		items, err := b.collection.List(ctx, floor)
		if err != nil {
			return fmt.Errorf("listing legacy floor %q: %w", floor, err)
		}
		for _, it := range items {
			if err := b.collection.Remove(ctx, floor, it.ID); err != nil {
				return fmt.Errorf("removing legacy item %q: %w", it.ID, err)
			}
		}
	}
	return nil
}

// leave returns to Idle, first replaying whatever was deferred while busy.
func (b *Bridge) leave() {
	for {
		b.mu.Lock()
		entries, floors, clear := b.pendingEntries, b.pendingFloors, b.pendingClear
		if len(entries) == 0 && len(floors) == 0 && !clear {
			b.state = Idle
			b.mu.Unlock()
			return
		}
		b.pendingEntries = make(map[string]string)
		b.pendingFloors = make(map[string]struct{})
		b.pendingClear = false
		b.mu.Unlock()

		b.replay(entries, floors, clear)
	}
}

func (b *Bridge) replay(entries map[string]string, floors map[string]struct{}, clear bool) {
	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()

	if clear || len(entries) > 0 {
		b.setState(SyncingFromStore)
		if clear {
			if err := b.clearLegacy(ctx); err != nil {
				b.logger.Warn("replaying store clear", zap.Error(err))
			}
			// anything created after the clear is upserted again below
			for _, e := range b.store.List() {
				entries[e.ID] = e.FloorName
			}
		}
		ids := make([]string, 0, len(entries))
		for id := range entries {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			b.replayEntry(ctx, id, entries[id])
		}
	}

	if len(floors) > 0 {
		b.setState(SyncingFromLegacy)
		names := make([]string, 0, len(floors))
		for floor := range floors {
			names = append(names, floor)
		}
		sort.Strings(names)
		for _, floor := range names {
			if _, err := b.reconcile(ctx, floor); err != nil {
				b.logger.Warn("replaying legacy floor", zap.String("floor", floor), zap.Error(err))
			}
		}
	}
}

// replayEntry mirrors the current store state of id, not the event that
// was deferred, so the last write wins.
func (b *Bridge) replayEntry(ctx context.Context, id, floor string) {
	var err error
	if e, ok := b.store.Get(id); ok {
		err = b.collection.Upsert(ctx, e.FloorName, legacy.FromEntry(e))
	} else if floor != "" {
		err = b.collection.Remove(ctx, floor, id)
	}
	if err != nil {
		b.logger.Warn("replaying store change", zap.String("id", id), zap.Error(err))
		return
	}
	b.metrics.BridgeMirror("store_to_legacy", "replay")
}

// setState switches direction while already busy. Only the goroutine that
// left Idle calls it.
func (b *Bridge) setState(s SyncState) {
	b.mu.Lock()
	b.state = s
	b.mu.Unlock()
}
