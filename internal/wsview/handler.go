// Package wsview turns each websocket connection into a synchronizer view.
package wsview

import (
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"airsync/internal/airentry"
	"airsync/internal/viewsync"
)

type EntryStore interface {
	Create(floor string, spec airentry.Spec, opts ...airentry.MutationOption) (airentry.Entry, error)
	Delete(id string, opts ...airentry.MutationOption) bool
	Get(id string) (airentry.Entry, bool)
	ListFloor(floor string) []airentry.Entry
	List() []airentry.Entry
}

type Synchronizer interface {
	RegisterView(viewID string, fn viewsync.ViewFunc) func()
	SubscribeToState(fn viewsync.StateFunc) func()
	State() viewsync.State
	StartEditSession(viewID, entryID string) bool
	EndEditSession(viewID string)
	CanEdit(viewID, entryID string) bool
	PropagateUpdate(sourceView, entryID string, kind viewsync.UpdateKind, patch airentry.Patch, immediate bool) error
}

type Options struct {
	ReadBufferSize  int
	WriteBufferSize int
	// CheckOrigin defaults to allowing every origin.
	CheckOrigin func(r *http.Request) bool
}

type Handler struct {
	store    EntryStore
	sync     Synchronizer
	logger   *zap.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[string]*client
	closed  bool
	wg      sync.WaitGroup
}

func NewHandler(store EntryStore, synchronizer Synchronizer, logger *zap.Logger, opts Options) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ReadBufferSize == 0 {
		opts.ReadBufferSize = 1024
	}
	if opts.WriteBufferSize == 0 {
		opts.WriteBufferSize = 1024
	}
	if opts.CheckOrigin == nil {
		opts.CheckOrigin = func(*http.Request) bool { return true }
	}
	return &Handler{
		store:  store,
		sync:   synchronizer,
		logger: logger.Named("wsview"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  opts.ReadBufferSize,
			WriteBufferSize: opts.WriteBufferSize,
			CheckOrigin:     opts.CheckOrigin,
		},
		clients: make(map[string]*client),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.isClosed() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed",
			zap.Error(err),
			zap.String("remoteAddr", r.RemoteAddr),
		)
		return
	}

	c := newClient("ws-"+uuid.NewString(), h, conn)
	h.mu.Lock()
	// Close may have run during the upgrade
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c.viewID] = c
	h.wg.Add(2)
	h.mu.Unlock()

	c.start()
	go func() {
		defer h.wg.Done()
		c.writePump()
	}()
	go func() {
		defer h.wg.Done()
		c.readPump()
	}()
}

func (h *Handler) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// Count reports the number of connected views.
func (h *Handler) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every view and waits for their pumps to stop. Later
// connections are refused.
func (h *Handler) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.conn.Close()
	}
	h.wg.Wait()
}

func (h *Handler) remove(c *client) {
	h.mu.Lock()
	delete(h.clients, c.viewID)
	h.mu.Unlock()
}
