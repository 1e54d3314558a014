package mcp

import (
	"context"
	"errors"
	"testing"
	"time"

	"airsync/internal/airentry"
	"airsync/internal/bridge"
	"airsync/internal/config"
	"airsync/internal/legacy"
	"airsync/internal/viewsync"
)

type harness struct {
	store  *airentry.Store
	sync   *viewsync.Synchronizer
	server *Server
}

func newHarness(t *testing.T, stats StatsSource) *harness {
	t.Helper()
	store := airentry.NewStore()
	synchronizer := viewsync.New(store, viewsync.WithDebounce(time.Hour))
	t.Cleanup(synchronizer.Dispose)
	schema, err := config.ParseSchema([]byte(config.DefaultSchema))
	if err != nil {
		t.Fatalf("schema: %v", err)
	}
	server := NewServer(schema, store, synchronizer, stats, "test", nil)
	t.Cleanup(server.Close)
	return &harness{store: store, sync: synchronizer, server: server}
}

func (h *harness) create(t *testing.T, floor string) EntryOutput {
	t.Helper()
	_, out, err := h.server.handleCreateEntry(context.Background(), nil, CreateEntryInput{
		Floor:      floor,
		Type:       "window",
		Position:   airentry.Position{X: 1, Y: 2},
		Dimensions: airentry.Dimensions{Width: 100, Height: 80},
		Properties: map[string]any{"state": "closed"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return out
}

func TestCreateGetListDelete(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	created := h.create(t, "ground")
	if created.ID == "" || created.FloorName != "ground" {
		t.Fatalf("unexpected create output: %+v", created)
	}
	h.create(t, "first")

	_, got, err := h.server.handleGetEntry(ctx, nil, GetEntryInput{ID: created.ID})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Properties["state"] != "closed" {
		t.Fatalf("unexpected entry: %+v", got)
	}

	_, list, err := h.server.handleListEntries(ctx, nil, ListEntriesInput{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(list.Entries))
	}
	_, list, err = h.server.handleListEntries(ctx, nil, ListEntriesInput{Floor: "first"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list.Entries) != 1 || list.Entries[0].FloorName != "first" {
		t.Fatalf("unexpected floor listing: %+v", list)
	}

	if _, out, err := h.server.handleDeleteEntry(ctx, nil, DeleteEntryInput{ID: created.ID}); err != nil || !out.Deleted {
		t.Fatalf("delete: %v %+v", err, out)
	}
	if _, _, err := h.server.handleGetEntry(ctx, nil, GetEntryInput{ID: created.ID}); err == nil {
		t.Fatalf("expected not found")
	}
	if _, _, err := h.server.handleDeleteEntry(ctx, nil, DeleteEntryInput{ID: created.ID}); err == nil {
		t.Fatalf("expected not found on second delete")
	}
}

func TestCreateEntry_Invalid(t *testing.T) {
	h := newHarness(t, nil)
	_, _, err := h.server.handleCreateEntry(context.Background(), nil, CreateEntryInput{Floor: "ground", Type: "skylight"})
	if !airentry.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, _, err := h.server.handleCreateEntry(context.Background(), nil, CreateEntryInput{Type: "window"}); err == nil {
		t.Fatalf("expected error without floor")
	}
}

func TestEditSessionBatchesUpdates(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	entry := h.create(t, "ground")

	if _, _, err := h.server.handleStartEdit(ctx, nil, StartEditInput{ID: entry.ID}); err != nil {
		t.Fatalf("start edit: %v", err)
	}
	if h.sync.StartEditSession("editor-2d", entry.ID) {
		t.Fatalf("expected the lock to be held by the mcp view")
	}

	patch := airentry.Patch{Position: &airentry.PositionPatch{X: airentry.Float(9)}}
	_, out, err := h.server.handleUpdateEntry(ctx, nil, UpdateEntryInput{ID: entry.ID, Patch: patch})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !out.Queued || out.Pending != 1 || out.Entry.Position.X != 1 {
		t.Fatalf("expected queued update, got %+v", out)
	}

	_, state, err := h.server.handleEndEdit(ctx, nil, EndEditInput{})
	if err != nil {
		t.Fatalf("end edit: %v", err)
	}
	if state.LockActive {
		t.Fatalf("expected lock released")
	}
	e, _ := h.store.Get(entry.ID)
	if e.Position.X != 9 {
		t.Fatalf("expected flushed x=9, got %v", e.Position.X)
	}
}

func TestUpdateEntry_LockedByAnotherView(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	entry := h.create(t, "ground")

	if !h.sync.StartEditSession("editor-2d", entry.ID) {
		t.Fatalf("start edit failed")
	}
	patch := airentry.Patch{Properties: airentry.Properties{"state": "open"}}
	if _, _, err := h.server.handleUpdateEntry(ctx, nil, UpdateEntryInput{ID: entry.ID, Patch: patch}); !errors.Is(err, viewsync.ErrLockDenied) {
		t.Fatalf("expected lock denied, got %v", err)
	}
	if _, _, err := h.server.handleStartEdit(ctx, nil, StartEditInput{ID: entry.ID}); !errors.Is(err, viewsync.ErrLockDenied) {
		t.Fatalf("expected lock denied, got %v", err)
	}
	if _, _, err := h.server.handleDeleteEntry(ctx, nil, DeleteEntryInput{ID: entry.ID}); !errors.Is(err, viewsync.ErrLockDenied) {
		t.Fatalf("expected lock denied, got %v", err)
	}

	h.sync.EndEditSession("editor-2d")
	_, out, err := h.server.handleUpdateEntry(ctx, nil, UpdateEntryInput{ID: entry.ID, Patch: patch})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if out.Queued || out.Entry.Properties["state"] != "open" {
		t.Fatalf("expected immediate update, got %+v", out)
	}
}

func TestRecentUpdates(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	entry := h.create(t, "ground")

	patch := airentry.Patch{WallPosition: airentry.Float(50)}
	if err := h.sync.PropagateUpdate("editor-2d", entry.ID, viewsync.KindWallPosition, patch, true); err != nil {
		t.Fatalf("propagate: %v", err)
	}

	_, out, err := h.server.handleRecentUpdates(ctx, nil, RecentUpdatesInput{})
	if err != nil {
		t.Fatalf("recent updates: %v", err)
	}
	if len(out.Updates) != 2 {
		t.Fatalf("expected 2 updates, got %+v", out.Updates)
	}
	if out.Updates[0].Kind != "created" || out.Updates[0].Origin != "store" {
		t.Fatalf("unexpected first update: %+v", out.Updates[0])
	}
	last := out.Updates[1]
	if last.Kind != "wallPosition" || last.SourceView != "editor-2d" || *last.Entry.WallPosition != 50 {
		t.Fatalf("unexpected second update: %+v", last)
	}

	_, out, err = h.server.handleRecentUpdates(ctx, nil, RecentUpdatesInput{Limit: 1})
	if err != nil {
		t.Fatalf("recent updates: %v", err)
	}
	if len(out.Updates) != 1 || out.Updates[0].Kind != "wallPosition" {
		t.Fatalf("unexpected limited updates: %+v", out.Updates)
	}

	h.server.Close()
	h.create(t, "ground")
	if n := len(h.server.recentUpdates(0)); n != 2 {
		t.Fatalf("expected no updates after close, got %d", n)
	}
}

func TestSyncStats(t *testing.T) {
	ctx := context.Background()

	h := newHarness(t, nil)
	h.create(t, "ground")
	_, out, err := h.server.handleSyncStats(ctx, nil, SyncStatsInput{})
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if out.StoreCount != 1 || out.SyncState != "detached" {
		t.Fatalf("unexpected detached stats: %+v", out)
	}

	store := airentry.NewStore()
	coll := legacy.NewMemoryCollection()
	if err := coll.Upsert(ctx, "ground", legacy.Item{ID: "w", Type: "window", Dimensions: legacy.Dimensions{Width: 1, Height: 1}}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	b := bridge.New(store, coll)
	defer b.Close()
	if _, err := b.Initialize(ctx); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	synchronizer := viewsync.New(store)
	defer synchronizer.Dispose()
	server := NewServer(nil, store, synchronizer, b, "test", nil)
	defer server.Close()

	_, out, err = server.handleSyncStats(ctx, nil, SyncStatsInput{})
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if out.StoreCount != 1 || out.LegacyCount != 1 || !out.Initialized || out.SyncState != "idle" {
		t.Fatalf("unexpected bridge stats: %+v", out)
	}
}

func TestGetSchema(t *testing.T) {
	h := newHarness(t, nil)

	_, output, err := h.server.handleGetSchema(context.Background(), nil, GetSchemaInput{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if output.Version != 1 || len(output.EntryTypes) != 3 {
		t.Fatalf("unexpected schema output: %+v", output)
	}
	if !output.EntryTypes[0].Properties[0].Required {
		t.Fatalf("expected window state to be required")
	}

	if out := schemaOutputFromConfig(nil); len(out.EntryTypes) != 0 {
		t.Fatalf("expected empty schema output")
	}
}
