package airentry

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"airsync/internal/metrics"
)

type counterKey struct {
	floor string
	typ   Type
}

type record struct {
	entry Entry
	seq   uint64
}

type observerEntry struct {
	id uint64
	fn Observer
}

// Store is the single source of truth for air entries.
//
// The mutex guards the collections only; observers run after it is released,
// so an observer may call back into the store.
type Store struct {
	mu        sync.Mutex
	entries   map[string]*record
	floors    map[string]map[string]struct{}
	counters  map[counterKey]int
	issued    map[string]struct{}
	seq       uint64
	observers []observerEntry
	nextObsID uint64

	nowFn    func() time.Time
	suffixFn func() string
	logger   *zap.Logger
	metrics  *metrics.Collector
}

type Option func(*Store)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Collector) Option {
	return func(s *Store) {
		s.metrics = m
	}
}

// WithClock replaces time.Now for CreatedAt and LastModified stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.nowFn = now
		}
	}
}

// WithSuffix replaces the random id suffix generator.
func WithSuffix(fn func() string) Option {
	return func(s *Store) {
		if fn != nil {
			s.suffixFn = fn
		}
	}
}

func NewStore(opts ...Option) *Store {
	s := &Store{
		entries:  make(map[string]*record),
		floors:   make(map[string]map[string]struct{}),
		counters: make(map[counterKey]int),
		issued:   make(map[string]struct{}),
		nowFn:    func() time.Time { return time.Now().UTC() },
		suffixFn: randomSuffix,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("store")
	return s
}

// Create validates spec, assigns a new id and adds the entry to its floor.
func (s *Store) Create(floor string, spec Spec, opts ...MutationOption) (Entry, error) {
	m := collectMutation(opts)
	now := s.nowFn()

	entry := Entry{
		FloorName:    floor,
		CreatedAt:    now,
		Type:         spec.Type,
		Position:     spec.Position.clone(),
		Dimensions:   spec.Dimensions.clone(),
		Line:         spec.Line,
		Properties:   spec.Properties.Clone(),
		WallPosition: cloneFloat(spec.WallPosition),
		LastModified: now,
	}
	if err := Validate(entry); err != nil {
		s.metrics.StoreMutation("create", err)
		s.logger.Warn("rejected new entry", zap.String("floor", floor), zap.Error(err))
		return Entry{}, err
	}

	s.mu.Lock()
	entry.ID = s.nextIDLocked(floor, spec.Type)
	s.seq++
	s.entries[entry.ID] = &record{entry: entry, seq: s.seq}
	idx, ok := s.floors[floor]
	if !ok {
		idx = make(map[string]struct{})
		s.floors[floor] = idx
	}
	idx[entry.ID] = struct{}{}
	size := len(s.entries)
	s.mu.Unlock()

	s.metrics.StoreMutation("create", nil)
	s.metrics.SetEntries(size)
	s.logger.Debug("entry created", zap.String("id", entry.ID), zap.String("floor", floor))

	created := entry.Clone()
	s.notify(Change{
		Type:      ChangeCreate,
		ID:        entry.ID,
		FloorName: floor,
		Entry:     &created,
		Origin:    m.origin,
		At:        now,
	})
	return entry.Clone(), nil
}

func (s *Store) nextIDLocked(floor string, t Type) string {
	key := counterKey{floor: floor, typ: t}
	for {
		s.counters[key]++
		id := formatID(t, floor, s.counters[key], s.suffixFn())
		if _, used := s.issued[id]; used {
			continue
		}
		s.issued[id] = struct{}{}
		return id
	}
}

// Update merges patch into the entry with the given id. On a validation
// failure the stored entry is left untouched.
func (s *Store) Update(id string, patch Patch, opts ...MutationOption) (Entry, error) {
	m := collectMutation(opts)

	s.mu.Lock()
	rec, ok := s.entries[id]
	if !ok {
		s.mu.Unlock()
		err := newNotFound(id)
		s.metrics.StoreMutation("update", err)
		s.logger.Warn("update for unknown entry", zap.String("id", id))
		return Entry{}, err
	}

	previous := rec.entry.Clone()
	next := patch.applyTo(rec.entry)
	if err := Validate(next); err != nil {
		s.mu.Unlock()
		s.metrics.StoreMutation("update", err)
		s.logger.Warn("rejected entry update", zap.String("id", id), zap.Error(err))
		return Entry{}, err
	}

	now := s.nowFn()
	if now.Before(previous.LastModified) {
		now = previous.LastModified
	}
	next.LastModified = now
	rec.entry = next
	s.mu.Unlock()

	s.metrics.StoreMutation("update", nil)

	current := next.Clone()
	s.notify(Change{
		Type:      ChangeUpdate,
		ID:        id,
		FloorName: next.FloorName,
		Entry:     &current,
		Previous:  &previous,
		Origin:    m.origin,
		At:        now,
	})
	return next.Clone(), nil
}

// Delete removes the entry. It reports false when the id is unknown.
func (s *Store) Delete(id string, opts ...MutationOption) bool {
	m := collectMutation(opts)

	s.mu.Lock()
	rec, ok := s.entries[id]
	if !ok {
		s.mu.Unlock()
		s.logger.Debug("delete for unknown entry", zap.String("id", id))
		return false
	}
	delete(s.entries, id)
	floor := rec.entry.FloorName
	if idx, ok := s.floors[floor]; ok {
		delete(idx, id)
		if len(idx) == 0 {
			delete(s.floors, floor)
		}
	}
	size := len(s.entries)
	s.mu.Unlock()

	s.metrics.StoreMutation("delete", nil)
	s.metrics.SetEntries(size)

	previous := rec.entry.Clone()
	s.notify(Change{
		Type:      ChangeDelete,
		ID:        id,
		FloorName: floor,
		Previous:  &previous,
		Origin:    m.origin,
		At:        s.nowFn(),
	})
	return true
}

// Clear drops every entry and resets the id counters. Observers receive one
// delete change whose ID is AllEntries.
func (s *Store) Clear(opts ...MutationOption) {
	m := collectMutation(opts)

	s.mu.Lock()
	s.entries = make(map[string]*record)
	s.floors = make(map[string]map[string]struct{})
	s.counters = make(map[counterKey]int)
	s.issued = make(map[string]struct{})
	s.mu.Unlock()

	s.metrics.StoreMutation("clear", nil)
	s.metrics.SetEntries(0)
	s.logger.Info("store cleared")

	s.notify(Change{
		Type:   ChangeDelete,
		ID:     AllEntries,
		Origin: m.origin,
		At:     s.nowFn(),
	})
}

func (s *Store) Get(id string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.entries[id]
	if !ok {
		return Entry{}, false
	}
	return rec.entry.Clone(), true
}

// ListFloor returns the entries of one floor in creation order.
func (s *Store) ListFloor(floor string) []Entry {
	s.mu.Lock()
	idx := s.floors[floor]
	recs := make([]*record, 0, len(idx))
	for id := range idx {
		recs = append(recs, s.entries[id])
	}
	out := cloneSorted(recs)
	s.mu.Unlock()
	return out
}

// List returns every entry in creation order.
func (s *Store) List() []Entry {
	s.mu.Lock()
	recs := make([]*record, 0, len(s.entries))
	for _, rec := range s.entries {
		recs = append(recs, rec)
	}
	out := cloneSorted(recs)
	s.mu.Unlock()
	return out
}

// Floors returns the names of floors holding at least one entry.
func (s *Store) Floors() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.floors))
	for floor := range s.floors {
		out = append(out, floor)
	}
	sort.Strings(out)
	return out
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func cloneSorted(recs []*record) []Entry {
	sort.Slice(recs, func(i, j int) bool { return recs[i].seq < recs[j].seq })
	out := make([]Entry, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.entry.Clone())
	}
	return out
}

// Subscribe registers an observer. The returned function removes it and is
// safe to call more than once.
func (s *Store) Subscribe(fn Observer) func() {
	s.mu.Lock()
	s.nextObsID++
	id := s.nextObsID
	s.observers = append(s.observers, observerEntry{id: id, fn: fn})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, o := range s.observers {
				if o.id == id {
					s.observers = append(s.observers[:i:i], s.observers[i+1:]...)
					return
				}
			}
		})
	}
}

func (s *Store) notify(c Change) {
	s.mu.Lock()
	observers := make([]observerEntry, len(s.observers))
	copy(observers, s.observers)
	s.mu.Unlock()

	for _, o := range observers {
		s.deliver(o, c.clone())
	}
}

func (s *Store) deliver(o observerEntry, c Change) {
	defer func() {
		if r := recover(); r != nil {
			s.metrics.ObserverPanic()
			s.logger.Error("observer failed",
				zap.Error(fmt.Errorf("%w: %v", ErrObserverPanic, r)),
				zap.String("change", string(c.Type)),
				zap.String("id", c.ID),
			)
		}
	}()
	o.fn(c)
}
