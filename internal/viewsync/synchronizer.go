// Package viewsync fans entry changes out to every registered view, owns the
// single system-wide edit lock and batches rapid edits made under it.
package viewsync

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"airsync/internal/airentry"
	"airsync/internal/metrics"
)

// DefaultDebounce is the delay between the last queued patch for an entry and
// its batched commit.
const DefaultDebounce = 150 * time.Millisecond

// storeOrigin tags store writes made by the synchronizer so that the resulting
// store event is not broadcast a second time.
const storeOrigin = "viewsync"

var (
	ErrLockDenied  = errors.New("entry is being edited by another view")
	ErrUnknownKind = errors.New("unknown update kind")
	ErrEmptyPatch  = errors.New("empty patch")
	ErrDisposed    = errors.New("synchronizer disposed")
)

type UpdateKind string

const (
	KindPosition     UpdateKind = "position"
	KindDimensions   UpdateKind = "dimensions"
	KindProperties   UpdateKind = "properties"
	KindWallPosition UpdateKind = "wallPosition"
	// KindComplete marks a merged batch of queued patches.
	KindComplete UpdateKind = "complete"

	KindCreated UpdateKind = "created"
	KindUpdated UpdateKind = "updated"
	KindDeleted UpdateKind = "deleted"
)

// Propagatable reports whether views may send updates of this kind.
func (k UpdateKind) Propagatable() bool {
	switch k {
	case KindPosition, KindDimensions, KindProperties, KindWallPosition, KindComplete:
		return true
	}
	return false
}

// KindFor names the single field group a patch touches, or KindComplete
// when it touches several or replaces type or line.
func KindFor(p airentry.Patch) UpdateKind {
	var kinds []UpdateKind
	if p.Position != nil {
		kinds = append(kinds, KindPosition)
	}
	if p.Dimensions != nil {
		kinds = append(kinds, KindDimensions)
	}
	if len(p.Properties) > 0 {
		kinds = append(kinds, KindProperties)
	}
	if p.WallPosition != nil {
		kinds = append(kinds, KindWallPosition)
	}
	if len(kinds) != 1 || p.Type != nil || p.Line != nil {
		return KindComplete
	}
	return kinds[0]
}

type Origin string

const (
	OriginView  Origin = "view"
	OriginStore Origin = "store"
)

// Update is what a view receives. Entry is the committed state (nil on
// delete); Patch is set for view-originated updates.
type Update struct {
	Kind       UpdateKind      `json:"kind"`
	EntryID    string          `json:"entryId"`
	FloorName  string          `json:"floorName,omitempty"`
	SourceView string          `json:"sourceView,omitempty"`
	Origin     Origin          `json:"origin"`
	Patch      *airentry.Patch `json:"patch,omitempty"`
	Entry      *airentry.Entry `json:"entry,omitempty"`
	At         time.Time       `json:"at"`
}

func (u Update) clone() Update {
	cp := u
	if u.Patch != nil {
		p := u.Patch.Clone()
		cp.Patch = &p
	}
	if u.Entry != nil {
		e := u.Entry.Clone()
		cp.Entry = &e
	}
	return cp
}

// State is an immutable snapshot of the edit lock.
type State struct {
	ActiveEditor   string    `json:"activeEditor,omitempty"`
	EditingEntryID string    `json:"editingEntryId,omitempty"`
	LockActive     bool      `json:"lockActive"`
	LastUpdate     time.Time `json:"lastUpdate"`
}

type ViewFunc func(Update)

type StateFunc func(State)

// EntryStore is the part of the entity store the synchronizer drives.
type EntryStore interface {
	Update(id string, patch airentry.Patch, opts ...airentry.MutationOption) (airentry.Entry, error)
	Subscribe(fn airentry.Observer) func()
}

type view struct {
	token uint64
	id    string
	fn    ViewFunc
}

type stateListener struct {
	token uint64
	fn    StateFunc
}

type pendingPatch struct {
	source string
	patch  airentry.Patch
	at     time.Time
	seq    uint64
}

type armedTimer struct {
	timer Timer
	gen   uint64
}

type Synchronizer struct {
	store    EntryStore
	clock    Clock
	debounce time.Duration
	logger   *zap.Logger
	metrics  *metrics.Collector

	mu        sync.Mutex
	state     State
	views     []view
	listeners []stateListener
	queues    map[string][]pendingPatch
	timers    map[string]armedTimer
	nextToken uint64
	gen       uint64
	seq       uint64
	disposed  bool

	unsubscribe func()
}

type Option func(*Synchronizer)

func WithDebounce(d time.Duration) Option {
	return func(s *Synchronizer) {
		if d > 0 {
			s.debounce = d
		}
	}
}

func WithClock(c Clock) Option {
	return func(s *Synchronizer) {
		if c != nil {
			s.clock = c
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Synchronizer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Collector) Option {
	return func(s *Synchronizer) {
		s.metrics = m
	}
}

// New builds a synchronizer and subscribes it to store.
func New(store EntryStore, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		store:    store,
		clock:    systemClock{},
		debounce: DefaultDebounce,
		logger:   zap.NewNop(),
		queues:   make(map[string][]pendingPatch),
		timers:   make(map[string]armedTimer),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("viewsync")
	s.unsubscribe = store.Subscribe(s.onStoreChange)
	return s
}

// RegisterView adds a view. The returned function removes this registration
// and may be called more than once.
func (s *Synchronizer) RegisterView(viewID string, fn ViewFunc) func() {
	s.mu.Lock()
	s.nextToken++
	token := s.nextToken
	s.views = append(s.views, view{token: token, id: viewID, fn: fn})
	s.mu.Unlock()

	s.logger.Debug("view registered", zap.String("view", viewID))

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, v := range s.views {
				if v.token == token {
					s.views = append(s.views[:i:i], s.views[i+1:]...)
					return
				}
			}
		})
	}
}

// SubscribeToState registers a listener for lock state snapshots.
func (s *Synchronizer) SubscribeToState(fn StateFunc) func() {
	s.mu.Lock()
	s.nextToken++
	token := s.nextToken
	s.listeners = append(s.listeners, stateListener{token: token, fn: fn})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, l := range s.listeners {
				if l.token == token {
					s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

func (s *Synchronizer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// StartEditSession takes the edit lock for entryID. It never blocks: it
// returns false when another view, or the same view on another entry,
// holds the lock.
func (s *Synchronizer) StartEditSession(viewID, entryID string) bool {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return false
	}
	if s.state.LockActive {
		held := s.state.ActiveEditor == viewID && s.state.EditingEntryID == entryID
		holder := s.state.ActiveEditor
		s.mu.Unlock()
		if !held {
			s.metrics.LockDenied()
			s.logger.Debug("edit lock denied",
				zap.String("view", viewID),
				zap.String("entry", entryID),
				zap.String("holder", holder),
			)
		}
		return held
	}
	s.state = State{
		ActiveEditor:   viewID,
		EditingEntryID: entryID,
		LockActive:     true,
		LastUpdate:     s.clock.Now(),
	}
	snapshot := s.state
	s.mu.Unlock()

	s.metrics.EditSession(true)
	s.logger.Debug("edit session started", zap.String("view", viewID), zap.String("entry", entryID))
	s.broadcastState(snapshot)
	return true
}

// EndEditSession releases the lock if viewID holds it. Patches queued for the
// locked entry are committed first, including any a view queued while that
// commit was being delivered.
func (s *Synchronizer) EndEditSession(viewID string) {
	s.mu.Lock()
	if !s.state.LockActive || s.state.ActiveEditor != viewID {
		s.mu.Unlock()
		return
	}
	entryID := s.state.EditingEntryID
	s.mu.Unlock()

	s.flush(entryID)

	s.mu.Lock()
	// a view callback run by the flush may already have released the lock
	if !s.state.LockActive || s.state.ActiveEditor != viewID {
		s.mu.Unlock()
		return
	}
	leftover, _ := s.takeQueueLocked(entryID, 0)
	s.state = State{LastUpdate: s.clock.Now()}
	snapshot := s.state
	s.mu.Unlock()

	s.metrics.EditSession(false)
	s.logger.Debug("edit session ended", zap.String("view", viewID), zap.String("entry", entryID))
	s.broadcastState(snapshot)
	s.commit(entryID, leftover)
}

// CanEdit reports whether viewID may edit entryID now. A disposed
// synchronizer allows no edits.
func (s *Synchronizer) CanEdit(viewID, entryID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return false
	}
	if !s.state.LockActive {
		return true
	}
	return s.state.ActiveEditor == viewID && s.state.EditingEntryID == entryID
}

// PropagateUpdate applies patch to entryID on behalf of sourceView.
//
// With immediate set, or with no lock active, the store is updated now and
// every other view is notified before returning. Otherwise the patch is
// queued and committed with the rest of the entry's queue once the debounce
// delay passes without a newer patch, or when the session ends.
func (s *Synchronizer) PropagateUpdate(sourceView, entryID string, kind UpdateKind, patch airentry.Patch, immediate bool) error {
	if !kind.Propagatable() {
		return fmt.Errorf("propagating %q: %w", kind, ErrUnknownKind)
	}
	if patch.IsEmpty() {
		return fmt.Errorf("propagating %s for %s: %w", kind, entryID, ErrEmptyPatch)
	}

	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return ErrDisposed
	}
	now := s.clock.Now()
	if immediate || !s.state.LockActive {
		s.mu.Unlock()
		return s.apply(sourceView, entryID, kind, patch)
	}

	s.seq++
	s.queues[entryID] = append(s.queues[entryID], pendingPatch{
		source: sourceView,
		patch:  patch.Clone(),
		at:     now,
		seq:    s.seq,
	})
	s.armLocked(entryID)
	s.state.LastUpdate = now
	snapshot := s.state
	queued := len(s.queues[entryID])
	s.mu.Unlock()

	s.logger.Debug("patch queued",
		zap.String("view", sourceView),
		zap.String("entry", entryID),
		zap.String("kind", string(kind)),
		zap.Int("queued", queued),
	)
	s.broadcastState(snapshot)
	return nil
}

func (s *Synchronizer) apply(sourceView, entryID string, kind UpdateKind, patch airentry.Patch) error {
	entry, err := s.store.Update(entryID, patch, airentry.WithOrigin(storeOrigin))
	if err != nil {
		return fmt.Errorf("applying %s to %s: %w", kind, entryID, err)
	}

	s.mu.Lock()
	var snapshot *State
	if s.state.LockActive {
		s.state.LastUpdate = s.clock.Now()
		st := s.state
		snapshot = &st
	}
	s.mu.Unlock()

	p := patch.Clone()
	s.fanOut(Update{
		Kind:       kind,
		EntryID:    entryID,
		FloorName:  entry.FloorName,
		SourceView: sourceView,
		Origin:     OriginView,
		Patch:      &p,
		Entry:      &entry,
		At:         entry.LastModified,
	}, sourceView)
	if snapshot != nil {
		s.broadcastState(*snapshot)
	}
	return nil
}

// armLocked (re)starts the debounce timer for entryID. Each arm gets a fresh
// generation so a timer that fires after being replaced or stopped is a no-op.
func (s *Synchronizer) armLocked(entryID string) {
	if t, ok := s.timers[entryID]; ok {
		t.timer.Stop()
	}
	s.gen++
	gen := s.gen
	s.timers[entryID] = armedTimer{
		gen: gen,
		timer: s.clock.AfterFunc(s.debounce, func() {
			s.fire(entryID, gen)
		}),
	}
}

func (s *Synchronizer) fire(entryID string, gen uint64) {
	s.mu.Lock()
	t, ok := s.timers[entryID]
	current := ok && t.gen == gen && !s.disposed
	s.mu.Unlock()
	if !current {
		return
	}
	s.flushGen(entryID, gen)
}

func (s *Synchronizer) flush(entryID string) {
	s.flushGen(entryID, 0)
}

// flushGen merges and commits the queue for entryID. A non-zero gen must
// still match the armed timer, which makes a timer racing with an explicit
// flush commit at most once.
func (s *Synchronizer) flushGen(entryID string, gen uint64) {
	s.mu.Lock()
	queue, ok := s.takeQueueLocked(entryID, gen)
	s.mu.Unlock()
	if ok {
		s.commit(entryID, queue)
	}
}

// takeQueueLocked stops the entry's timer and removes its queue. It reports
// false when gen is stale.
func (s *Synchronizer) takeQueueLocked(entryID string, gen uint64) ([]pendingPatch, bool) {
	if t, ok := s.timers[entryID]; ok {
		if gen != 0 && t.gen != gen {
			return nil, false
		}
		t.timer.Stop()
		delete(s.timers, entryID)
	}
	queue := s.queues[entryID]
	delete(s.queues, entryID)
	return queue, true
}

func (s *Synchronizer) commit(entryID string, queue []pendingPatch) {
	if len(queue) == 0 {
		return
	}

	sort.SliceStable(queue, func(i, j int) bool {
		if !queue[i].at.Equal(queue[j].at) {
			return queue[i].at.Before(queue[j].at)
		}
		return queue[i].seq < queue[j].seq
	})

	var merged airentry.Patch
	sources := make(map[string]struct{})
	for _, p := range queue {
		merged = merged.Merge(p.patch)
		sources[p.source] = struct{}{}
	}

	exclude := ""
	if len(sources) == 1 {
		exclude = queue[0].source
	}

	s.metrics.BatchCommit(len(queue))
	if err := s.apply(exclude, entryID, KindComplete, merged); err != nil {
		s.logger.Warn("dropping queued patches",
			zap.String("entry", entryID),
			zap.Int("patches", len(queue)),
			zap.Error(err),
		)
		return
	}
	s.logger.Debug("queued patches committed", zap.String("entry", entryID), zap.Int("patches", len(queue)))
}

// Flush commits every queued patch without ending the session.
func (s *Synchronizer) Flush() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.queues))
	for id := range s.queues {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	sort.Strings(ids)
	for _, id := range ids {
		s.flush(id)
	}
}

// Pending returns the number of queued patches for entryID.
func (s *Synchronizer) Pending(entryID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queues[entryID])
}

func (s *Synchronizer) onStoreChange(c airentry.Change) {
	if c.Origin == storeOrigin {
		return
	}

	u := Update{
		EntryID:   c.ID,
		FloorName: c.FloorName,
		Origin:    OriginStore,
		Entry:     c.Entry,
		At:        c.At,
	}
	switch c.Type {
	case airentry.ChangeCreate:
		u.Kind = KindCreated
	case airentry.ChangeUpdate:
		u.Kind = KindUpdated
	case airentry.ChangeDelete:
		u.Kind = KindDeleted
	}
	s.fanOut(u, "")
}

func (s *Synchronizer) fanOut(u Update, exclude string) {
	s.mu.Lock()
	targets := make([]view, 0, len(s.views))
	for _, v := range s.views {
		if exclude != "" && v.id == exclude {
			continue
		}
		targets = append(targets, v)
	}
	s.mu.Unlock()

	for _, v := range targets {
		s.deliver(v, u.clone())
	}
}

func (s *Synchronizer) deliver(v view, u Update) {
	defer func() {
		if r := recover(); r != nil {
			s.metrics.ObserverPanic()
			s.logger.Error("view callback failed",
				zap.String("view", v.id),
				zap.String("entry", u.EntryID),
				zap.Any("panic", r),
			)
		}
	}()
	v.fn(u)
	s.metrics.ViewUpdate(string(u.Kind), string(u.Origin))
}

func (s *Synchronizer) broadcastState(st State) {
	s.mu.Lock()
	listeners := make([]stateListener, len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	for _, l := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.metrics.ObserverPanic()
					s.logger.Error("state listener failed", zap.Any("panic", r))
				}
			}()
			l.fn(st)
		}()
	}
}

// Reset ends any edit session and drops queued patches without committing
// them. Views and listeners stay registered.
func (s *Synchronizer) Reset() {
	s.mu.Lock()
	s.stopTimersLocked()
	wasLocked := s.state.LockActive
	s.state = State{LastUpdate: s.clock.Now()}
	snapshot := s.state
	s.mu.Unlock()

	if wasLocked {
		s.metrics.EditSession(false)
	}
	s.logger.Info("synchronizer reset")
	s.broadcastState(snapshot)
}

// Dispose cancels pending timers, drops every queue, view and listener and
// detaches from the store. A disposed synchronizer is closed for good: State
// reports the initial unlocked snapshot, but CanEdit and StartEditSession
// refuse and PropagateUpdate returns ErrDisposed. Later calls are no-ops.
func (s *Synchronizer) Dispose() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.disposed = true
	s.stopTimersLocked()
	wasLocked := s.state.LockActive
	s.state = State{}
	s.views = nil
	s.listeners = nil
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if wasLocked {
		s.metrics.EditSession(false)
	}
	s.logger.Debug("synchronizer disposed")
}

func (s *Synchronizer) stopTimersLocked() {
	for id, t := range s.timers {
		t.timer.Stop()
		delete(s.timers, id)
	}
	s.queues = make(map[string][]pendingPatch)
}
