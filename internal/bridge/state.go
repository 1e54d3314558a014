package bridge

// SyncState is what the bridge is doing right now. Work in one direction may
// only start from Idle, so the two directions never overlap.
type SyncState int

const (
	Idle SyncState = iota
	SyncingFromStore
	SyncingFromLegacy
)

func (s SyncState) String() string {
	switch s {
	case Idle:
		return "idle"
	case SyncingFromStore:
		return "syncing_from_store"
	case SyncingFromLegacy:
		return "syncing_from_legacy"
	default:
		return "unknown"
	}
}

// tryEnterLocked moves Idle to next. It refuses any other transition.
func (b *Bridge) tryEnterLocked(next SyncState) bool {
	if b.state != Idle || next == Idle {
		return false
	}
	b.state = next
	return true
}
