package bridge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"airsync/internal/airentry"
	"airsync/internal/legacy"
)

func legacyWindow(id string, x float64) legacy.Item {
	return legacy.Item{
		ID:         id,
		Type:       "window",
		Position:   legacy.Position{X: x, Y: 2},
		Dimensions: legacy.Dimensions{Width: 120, Height: 100, Shape: "rectangular"},
		Line:       legacy.Line{Start: legacy.Point{X: 0, Y: 0}, End: legacy.Point{X: 500, Y: 0}},
		Properties: map[string]any{"state": "closed"},
	}
}

func windowSpec(x float64) airentry.Spec {
	return airentry.Spec{
		Type:       airentry.TypeWindow,
		Position:   airentry.Position{X: x, Y: 2},
		Dimensions: airentry.Dimensions{Width: 120, Height: 100},
		Line:       airentry.Line{End: airentry.Point{X: 500}},
	}
}

type fixture struct {
	ctx    context.Context
	store  *airentry.Store
	coll   *legacy.MemoryCollection
	bridge *Bridge
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		ctx:   context.Background(),
		store: airentry.NewStore(),
		coll:  legacy.NewMemoryCollection(),
	}
	f.bridge = New(f.store, f.coll, opts...)
	t.Cleanup(f.bridge.Close)
	return f
}

func (f *fixture) seed(t *testing.T, floor string, items ...legacy.Item) {
	t.Helper()
	for _, it := range items {
		require.NoError(t, f.coll.Upsert(f.ctx, floor, it))
	}
}

func (f *fixture) legacyIDs(t *testing.T, floor string) []string {
	t.Helper()
	items, err := f.coll.List(f.ctx, floor)
	require.NoError(t, err)
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}
	return ids
}

func storeIDs(entries []airentry.Entry) []string {
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	return ids
}

func TestInitializeMigratesLegacyFloor(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "ground", legacyWindow("w-1", 1), legacyWindow("w-2", 2))

	result, err := f.bridge.Initialize(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Floors)
	assert.Equal(t, 2, result.Migrated)
	assert.Zero(t, result.Failed)

	entries := f.store.ListFloor("ground")
	require.Len(t, entries, 2)
	assert.Equal(t, 1.0, entries[0].Position.X)
	assert.Equal(t, "closed", entries[0].Properties["state"])
	assert.Regexp(t, `^window_0F_1_[0-9a-f]{6}$`, entries[0].ID)

	assert.ElementsMatch(t, storeIDs(entries), f.legacyIDs(t, "ground"), "legacy items carry the store ids")

	stats, err := f.bridge.Stats(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.StoreCount)
	assert.Equal(t, 2, stats.LegacyCount)
	assert.True(t, stats.Initialized)
	assert.False(t, stats.Syncing)
	assert.Equal(t, "idle", stats.StateName)
}

func TestInitializeIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "ground", legacyWindow("w-1", 1))

	first, err := f.bridge.Initialize(f.ctx)
	require.NoError(t, err)
	second, err := f.bridge.Initialize(f.ctx)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, f.store.Len())
}

func TestInitializeSkipsBadItems(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	f := newFixture(t, WithLogger(zap.New(core)))

	bad := legacyWindow("w-bad", 1)
	bad.Type = "skylight"
	f.seed(t, "ground", legacyWindow("w-1", 1), bad, legacyWindow("w-3", 3))

	result, err := f.bridge.Initialize(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Migrated)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "w-bad", result.Errors[0].ItemID)
	assert.True(t, airentry.IsValidation(result.Errors[0]))

	assert.Equal(t, 2, f.store.Len())
	assert.Equal(t, 1, logs.FilterMessage("skipping legacy item").Len())
	assert.Contains(t, f.legacyIDs(t, "ground"), "w-bad", "failed items stay in the legacy collection")
}

func TestStoreChangesMirrorToLegacy(t *testing.T) {
	f := newFixture(t)
	_, err := f.bridge.Initialize(f.ctx)
	require.NoError(t, err)

	e, err := f.store.Create("first", windowSpec(4))
	require.NoError(t, err)
	items, err := f.coll.List(f.ctx, "first")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, legacy.FromEntry(e), items[0])

	_, err = f.store.Update(e.ID, airentry.Patch{
		Position:   &airentry.PositionPatch{X: airentry.Float(9)},
		Properties: airentry.Properties{"state": "open"},
	})
	require.NoError(t, err)
	items, err = f.coll.List(f.ctx, "first")
	require.NoError(t, err)
	assert.Equal(t, 9.0, items[0].Position.X)
	assert.Equal(t, "open", items[0].Properties["state"])

	require.True(t, f.store.Delete(e.ID))
	assert.Empty(t, f.legacyIDs(t, "first"))

	_, err = f.store.Create("ground", windowSpec(1))
	require.NoError(t, err)
	_, err = f.store.Create("first", windowSpec(2))
	require.NoError(t, err)
	f.store.Clear()
	floors, err := f.coll.Floors(f.ctx)
	require.NoError(t, err)
	assert.Empty(t, floors)
}

func TestRoundTripHasNoDelta(t *testing.T) {
	f := newFixture(t)
	_, err := f.bridge.Initialize(f.ctx)
	require.NoError(t, err)

	spec := windowSpec(3)
	spec.Properties = airentry.Properties{"temperature": 21, "flow": map[string]any{"rate": 1.5}}
	spec.WallPosition = airentry.Float(40)
	_, err = f.store.Create("ground", spec)
	require.NoError(t, err)

	result, err := f.bridge.SyncFloor(f.ctx, "ground")
	require.NoError(t, err)
	assert.False(t, result.Changed())
	assert.Equal(t, 1, result.Unchanged)
}

func TestLegacyChangesReconcileIntoStore(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "ground", legacyWindow("w-1", 1), legacyWindow("w-2", 2))
	_, err := f.bridge.Initialize(f.ctx)
	require.NoError(t, err)

	items, err := f.coll.List(f.ctx, "ground")
	require.NoError(t, err)
	kept, dropped := items[0], items[1]

	var changes []airentry.Change
	unsubscribe := f.store.Subscribe(func(c airentry.Change) { changes = append(changes, c) })
	defer unsubscribe()

	kept.Position.X = 7
	kept.Properties["state"] = "open"
	f.coll.Replace("ground", []legacy.Item{kept, legacyWindow("external", 5)})

	_, ok := f.store.Get(dropped.ID)
	assert.False(t, ok)

	updated, ok := f.store.Get(kept.ID)
	require.True(t, ok)
	assert.Equal(t, 7.0, updated.Position.X)
	assert.Equal(t, "open", updated.Properties["state"])

	entries := f.store.ListFloor("ground")
	require.Len(t, entries, 2)
	created := entries[1]
	assert.Equal(t, 5.0, created.Position.X)
	assert.ElementsMatch(t, storeIDs(entries), f.legacyIDs(t, "ground"), "external ids are re-keyed")

	require.Len(t, changes, 3)
	for _, c := range changes {
		assert.Equal(t, Origin, c.Origin)
	}
	assert.Equal(t, airentry.ChangeUpdate, changes[0].Type)
	assert.Equal(t, airentry.ChangeDelete, changes[1].Type)
	assert.Equal(t, airentry.ChangeCreate, changes[2].Type)

	// replaying the same content is a no-op
	changes = nil
	current, err := f.coll.List(f.ctx, "ground")
	require.NoError(t, err)
	f.coll.Replace("ground", current)
	assert.Empty(t, changes)
}

// A store observer that reacts to a reconciled entry writes back while the
// bridge is still syncing from legacy. That write must reach the legacy
// collection once the pass finishes.
func TestChangesDuringSyncAreReplayed(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "ground", legacyWindow("w-1", 1))
	_, err := f.bridge.Initialize(f.ctx)
	require.NoError(t, err)

	unsubscribe := f.store.Subscribe(func(c airentry.Change) {
		if c.Origin != Origin || c.Type != airentry.ChangeUpdate {
			return
		}
		_, err := f.store.Update(c.ID, airentry.Patch{Properties: airentry.Properties{"reviewed": true}}, airentry.WithOrigin("editor"))
		assert.NoError(t, err)
	})
	defer unsubscribe()

	items, err := f.coll.List(f.ctx, "ground")
	require.NoError(t, err)
	items[0].Position.X = 11
	f.coll.Replace("ground", items)

	items, err = f.coll.List(f.ctx, "ground")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 11.0, items[0].Position.X)
	assert.Equal(t, true, items[0].Properties["reviewed"])

	e, ok := f.store.Get(items[0].ID)
	require.True(t, ok)
	assert.Equal(t, true, e.Properties["reviewed"])

	stats, err := f.bridge.Stats(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, Idle, stats.State)
}

// listHookCollection runs onList once, right after the next List read, to
// land a store write between the legacy snapshot and the reconcile writes.
type listHookCollection struct {
	*legacy.MemoryCollection
	onList func()
}

func (c *listHookCollection) List(ctx context.Context, floor string) ([]legacy.Item, error) {
	items, err := c.MemoryCollection.List(ctx, floor)
	if hook := c.onList; hook != nil {
		c.onList = nil
		hook()
	}
	return items, err
}

func TestStoreWritesDuringReconcileWin(t *testing.T) {
	setup := func(t *testing.T) (*airentry.Store, *listHookCollection, airentry.Entry, airentry.Entry) {
		t.Helper()
		ctx := context.Background()
		store := airentry.NewStore()
		coll := &listHookCollection{MemoryCollection: legacy.NewMemoryCollection()}
		require.NoError(t, coll.Upsert(ctx, "ground", legacyWindow("w-1", 1)))
		require.NoError(t, coll.Upsert(ctx, "ground", legacyWindow("w-2", 2)))

		b := New(store, coll)
		t.Cleanup(b.Close)
		_, err := b.Initialize(ctx)
		require.NoError(t, err)

		entries := store.ListFloor("ground")
		require.Len(t, entries, 2)
		return store, coll, entries[0], entries[1]
	}

	// external edit touching only the other entry
	editOther := func(t *testing.T, coll *listHookCollection, otherID string) {
		t.Helper()
		items, err := coll.MemoryCollection.List(context.Background(), "ground")
		require.NoError(t, err)
		for i := range items {
			if items[i].ID == otherID {
				items[i].Position.X = 8
			}
		}
		coll.Replace("ground", items)
	}

	legacyItem := func(t *testing.T, coll *listHookCollection, id string) (legacy.Item, bool) {
		t.Helper()
		items, err := coll.MemoryCollection.List(context.Background(), "ground")
		require.NoError(t, err)
		for _, it := range items {
			if it.ID == id {
				return it, true
			}
		}
		return legacy.Item{}, false
	}

	t.Run("update", func(t *testing.T) {
		store, coll, edited, other := setup(t)
		coll.onList = func() {
			_, err := store.Update(edited.ID, airentry.Patch{Position: &airentry.PositionPatch{X: airentry.Float(99)}}, airentry.WithOrigin("editor"))
			require.NoError(t, err)
		}
		editOther(t, coll, other.ID)

		e, ok := store.Get(edited.ID)
		require.True(t, ok)
		assert.Equal(t, 99.0, e.Position.X)
		it, ok := legacyItem(t, coll, edited.ID)
		require.True(t, ok)
		assert.Equal(t, 99.0, it.Position.X)

		o, ok := store.Get(other.ID)
		require.True(t, ok)
		assert.Equal(t, 8.0, o.Position.X)
	})

	t.Run("delete", func(t *testing.T) {
		store, coll, deleted, other := setup(t)
		coll.onList = func() {
			require.True(t, store.Delete(deleted.ID, airentry.WithOrigin("editor")))
		}
		editOther(t, coll, other.ID)

		_, ok := store.Get(deleted.ID)
		assert.False(t, ok)
		_, ok = legacyItem(t, coll, deleted.ID)
		assert.False(t, ok)
		assert.Equal(t, 1, store.Len())
	})
}

type countingResetter struct{ calls int }

func (r *countingResetter) Reset() { r.calls++ }

func TestForceResync(t *testing.T) {
	resetter := &countingResetter{}
	f := newFixture(t, WithResetter(resetter))

	_, err := f.bridge.ForceResync(f.ctx)
	assert.ErrorIs(t, err, ErrNotInitialized)

	f.seed(t, "ground", legacyWindow("w-1", 1), legacyWindow("w-2", 2))
	_, err = f.bridge.Initialize(f.ctx)
	require.NoError(t, err)
	_, err = f.store.Create("first", windowSpec(3))
	require.NoError(t, err)

	result, err := f.bridge.ForceResync(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, resetter.calls)
	assert.Equal(t, 2, result.Floors)
	assert.Equal(t, 3, result.Migrated)

	stats, err := f.bridge.Stats(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.StoreCount)
	assert.Equal(t, 3, stats.LegacyCount)
	assert.ElementsMatch(t, storeIDs(f.store.ListFloor("ground")), f.legacyIDs(t, "ground"))
}

func TestCloseStopsMirroring(t *testing.T) {
	f := newFixture(t)
	_, err := f.bridge.Initialize(f.ctx)
	require.NoError(t, err)

	f.bridge.Close()
	_, err = f.store.Create("ground", windowSpec(1))
	require.NoError(t, err)
	assert.Empty(t, f.legacyIDs(t, "ground"))

	f.coll.Replace("ground", []legacy.Item{legacyWindow("w-9", 9)})
	assert.Equal(t, 1, f.store.Len())

	// a closed bridge does not migrate a second time into the same store
	_, err = f.bridge.Initialize(f.ctx)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = f.bridge.ForceResync(f.ctx)
	assert.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, 1, f.store.Len())
	assert.Equal(t, []string{"w-9"}, f.legacyIDs(t, "ground"))

	stats, err := f.bridge.Stats(f.ctx)
	require.NoError(t, err)
	assert.True(t, stats.Initialized)
}

func TestSyncStateTransitions(t *testing.T) {
	b := New(airentry.NewStore(), legacy.NewMemoryCollection())

	assert.False(t, b.tryEnterLocked(Idle))
	assert.True(t, b.tryEnterLocked(SyncingFromStore))
	assert.False(t, b.tryEnterLocked(SyncingFromLegacy))
	assert.False(t, b.tryEnterLocked(SyncingFromStore))
	b.leave()
	assert.True(t, b.tryEnterLocked(SyncingFromLegacy))

	for state, want := range map[SyncState]string{
		Idle:              "idle",
		SyncingFromStore:  "syncing_from_store",
		SyncingFromLegacy: "syncing_from_legacy",
		SyncState(9):      "unknown",
	} {
		assert.Equal(t, want, state.String())
	}
}
