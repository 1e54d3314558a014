package legacy

import (
	"context"
	"sort"
	"sync"
)

var _ Collection = (*MemoryCollection)(nil)

type memoryWatcher struct {
	id uint64
	fn func(floor string)
}

// MemoryCollection keeps items in process. Upsert and Remove do not notify
// watchers; Replace simulates an external writer and does.
type MemoryCollection struct {
	mu       sync.Mutex
	floors   map[string][]Item
	watchers []memoryWatcher
	nextID   uint64
	closed   bool
}

func NewMemoryCollection() *MemoryCollection {
	return &MemoryCollection{floors: make(map[string][]Item)}
}

func (m *MemoryCollection) Floors(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	out := make([]string, 0, len(m.floors))
	for floor := range m.floors {
		out = append(out, floor)
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemoryCollection) List(ctx context.Context, floor string) ([]Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	items := m.floors[floor]
	out := make([]Item, len(items))
	for i, it := range items {
		out[i] = CloneItem(it)
	}
	return out, nil
}

func (m *MemoryCollection) Upsert(ctx context.Context, floor string, item Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	items := m.floors[floor]
	for i, it := range items {
		if it.ID == item.ID {
			items[i] = CloneItem(item)
			return nil
		}
	}
	m.floors[floor] = append(items, CloneItem(item))
	return nil
}

func (m *MemoryCollection) Remove(ctx context.Context, floor, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	items := m.floors[floor]
	for i, it := range items {
		if it.ID == id {
			m.floors[floor] = append(items[:i:i], items[i+1:]...)
			break
		}
	}
	if len(m.floors[floor]) == 0 {
		delete(m.floors, floor)
	}
	return nil
}

// Replace swaps the whole item list of floor and notifies watchers, the way
// an external editor of the legacy data would.
func (m *MemoryCollection) Replace(floor string, items []Item) {
	m.mu.Lock()
	if len(items) == 0 {
		delete(m.floors, floor)
	} else {
		cp := make([]Item, len(items))
		for i, it := range items {
			cp[i] = CloneItem(it)
		}
		m.floors[floor] = cp
	}
	watchers := make([]memoryWatcher, len(m.watchers))
	copy(watchers, m.watchers)
	m.mu.Unlock()

	for _, w := range watchers {
		w.fn(floor)
	}
}

// Watch registers fn synchronously; it runs on the goroutine calling Replace.
func (m *MemoryCollection) Watch(ctx context.Context, fn func(floor string)) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	m.nextID++
	id := m.nextID
	m.watchers = append(m.watchers, memoryWatcher{id: id, fn: fn})

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, w := range m.watchers {
			if w.id == id {
				m.watchers = append(m.watchers[:i:i], m.watchers[i+1:]...)
				return
			}
		}
	}, nil
}

func (m *MemoryCollection) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.watchers = nil
	return nil
}
