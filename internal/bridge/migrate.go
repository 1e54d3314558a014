package bridge

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"airsync/internal/airentry"
	"airsync/internal/legacy"
)

// MigrationItemError records one legacy item that could not be brought
// into the store.
type MigrationItemError struct {
	Floor  string
	ItemID string
	Err    error
}

func (e *MigrationItemError) Error() string {
	return fmt.Sprintf("migrating %s/%s: %v", e.Floor, e.ItemID, e.Err)
}

func (e *MigrationItemError) Unwrap() error { return e.Err }

type MigrationResult struct {
	Floors   int                   `json:"floors"`
	Migrated int                   `json:"migrated"`
	Failed   int                   `json:"failed"`
	Errors   []*MigrationItemError `json:"-"`
}

// ReconcileResult counts what one floor pass did. Skipped ids were changed
// in the store during the pass; their deferred store change is replayed into
// the collection instead.
type ReconcileResult struct {
	Floor     string                `json:"floor"`
	Created   int                   `json:"created"`
	Updated   int                   `json:"updated"`
	Deleted   int                   `json:"deleted"`
	Unchanged int                   `json:"unchanged"`
	Skipped   int                   `json:"skipped"`
	Errors    []*MigrationItemError `json:"-"`
}

// Changed reports whether the reconciliation touched the store.
func (r *ReconcileResult) Changed() bool {
	return r.Created+r.Updated+r.Deleted > 0
}

// migrate creates a store entry for every legacy item. The caller holds
// SyncingFromLegacy.
func (b *Bridge) migrate(ctx context.Context) (*MigrationResult, error) {
	floors, err := b.collection.Floors(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing legacy floors: %w", err)
	}

	result := &MigrationResult{Floors: len(floors)}
	for _, floor := range floors {
		items, err := b.collection.List(ctx, floor)
		if err != nil {
			return nil, fmt.Errorf("listing legacy floor %q: %w", floor, err)
		}
		for _, it := range items {
			if _, err := b.importItem(ctx, floor, it); err != nil {
				b.recordFailure(&result.Errors, floor, it.ID, err)
				result.Failed++
				continue
			}
			result.Migrated++
			b.metrics.MigrationItem(nil)
		}
	}
	return result, nil
}

// importItem creates the store entry for it and re-keys the legacy item to
// the id the store assigned. Only a failed create is an error; a failed
// re-key is logged and caught up by the next store change.
func (b *Bridge) importItem(ctx context.Context, floor string, it legacy.Item) (airentry.Entry, error) {
	e, err := b.store.Create(floor, it.ToSpec(), airentry.WithOrigin(Origin))
	if err != nil {
		return airentry.Entry{}, err
	}
	if err := b.rekey(ctx, floor, it.ID, e); err != nil {
		b.logger.Warn("re-keying legacy item",
			zap.String("floor", floor),
			zap.String("item", it.ID),
			zap.String("id", e.ID),
			zap.Error(err),
		)
	}
	return e, nil
}

func (b *Bridge) rekey(ctx context.Context, floor, oldID string, e airentry.Entry) error {
	if oldID != e.ID && oldID != "" {
		if err := b.collection.Remove(ctx, floor, oldID); err != nil {
			return fmt.Errorf("removing legacy id: %w", err)
		}
	}
	return b.collection.Upsert(ctx, floor, legacy.FromEntry(e))
}

func (b *Bridge) recordFailure(errs *[]*MigrationItemError, floor, id string, err error) {
	itemErr := &MigrationItemError{Floor: floor, ItemID: id, Err: err}
	*errs = append(*errs, itemErr)
	b.metrics.MigrationItem(err)
	b.logger.Warn("skipping legacy item",
		zap.String("floor", floor),
		zap.String("item", id),
		zap.Error(err),
	)
}

// reconcile brings one store floor in line with the legacy collection. The
// caller holds SyncingFromLegacy. Entries the store changed after the legacy
// snapshot was taken are left alone so the newer store write wins.
func (b *Bridge) reconcile(ctx context.Context, floor string) (*ReconcileResult, error) {
	items, err := b.collection.List(ctx, floor)
	if err != nil {
		return nil, fmt.Errorf("listing legacy floor %q: %w", floor, err)
	}

	result := &ReconcileResult{Floor: floor}
	legacyByID := make(map[string]legacy.Item, len(items))
	for _, it := range items {
		legacyByID[it.ID] = it
	}

	current := b.store.ListFloor(floor)
	inStore := make(map[string]bool, len(current))
	for _, e := range current {
		inStore[e.ID] = true
		if b.changedInStore(e.ID) {
			result.Skipped++
			continue
		}
		it, ok := legacyByID[e.ID]
		if !ok {
			if b.store.Delete(e.ID, airentry.WithOrigin(Origin)) {
				result.Deleted++
				b.metrics.BridgeMirror("legacy_to_store", "delete")
			}
			continue
		}
		patch := legacy.Diff(e, it)
		if patch.IsEmpty() {
			result.Unchanged++
			continue
		}
		if _, err := b.store.Update(e.ID, patch, airentry.WithOrigin(Origin)); err != nil {
			b.recordFailure(&result.Errors, floor, e.ID, err)
			continue
		}
		result.Updated++
		b.metrics.BridgeMirror("legacy_to_store", "update")
	}

	for _, it := range items {
		if inStore[it.ID] {
			continue
		}
		// deleted from the store while this pass ran
		if b.changedInStore(it.ID) {
			result.Skipped++
			continue
		}
		if _, err := b.importItem(ctx, floor, it); err != nil {
			b.recordFailure(&result.Errors, floor, it.ID, err)
			continue
		}
		result.Created++
		b.metrics.BridgeMirror("legacy_to_store", "create")
	}

	if result.Changed() {
		b.logger.Debug("reconciled legacy floor",
			zap.String("floor", floor),
			zap.Int("created", result.Created),
			zap.Int("updated", result.Updated),
			zap.Int("deleted", result.Deleted),
			zap.Int("skipped", result.Skipped),
		)
	}
	return result, nil
}

// changedInStore reports whether a store change to id was deferred while
// the bridge was busy.
func (b *Bridge) changedInStore(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pendingClear {
		return true
	}
	_, ok := b.pendingEntries[id]
	return ok
}
