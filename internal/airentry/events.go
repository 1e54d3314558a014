package airentry

import "time"

type ChangeType string

const (
	ChangeCreate ChangeType = "create"
	ChangeUpdate ChangeType = "update"
	ChangeDelete ChangeType = "delete"
)

// AllEntries is the id carried by the single delete event Clear emits.
const AllEntries = "*"

// Change describes one store mutation. Entry is the state after the change
// (nil on delete), Previous the state before it (nil on create).
type Change struct {
	Type      ChangeType
	ID        string
	FloorName string
	Entry     *Entry
	Previous  *Entry
	// Origin is the tag the mutating caller attached with WithOrigin.
	Origin string
	At     time.Time
}

// IsClear reports whether the change is the broadcast emitted by Clear.
func (c Change) IsClear() bool {
	return c.Type == ChangeDelete && c.ID == AllEntries
}

func (c Change) clone() Change {
	cp := c
	if c.Entry != nil {
		e := c.Entry.Clone()
		cp.Entry = &e
	}
	if c.Previous != nil {
		p := c.Previous.Clone()
		cp.Previous = &p
	}
	return cp
}

// Observer receives every store change synchronously, in registration order.
type Observer func(Change)

// MutationOption tags a single Create, Update or Delete call.
type MutationOption func(*mutation)

type mutation struct {
	origin string
}

// WithOrigin attaches an origin tag that observers see as Change.Origin.
func WithOrigin(origin string) MutationOption {
	return func(m *mutation) {
		m.origin = origin
	}
}

func collectMutation(opts []MutationOption) mutation {
	var m mutation
	for _, opt := range opts {
		opt(&m)
	}
	return m
}
