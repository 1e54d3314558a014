// Package mcp exposes the entry store and the edit lock to agents as MCP
// tools. The server is one more view of the synchronizer.
package mcp

import (
	"context"
	"sync"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"airsync/internal/airentry"
	"airsync/internal/bridge"
	"airsync/internal/config"
	"airsync/internal/viewsync"
)

// ViewID is the view name the server registers under.
const ViewID = "mcp"

const recentLimit = 50

type EntryStore interface {
	Create(floor string, spec airentry.Spec, opts ...airentry.MutationOption) (airentry.Entry, error)
	Delete(id string, opts ...airentry.MutationOption) bool
	Get(id string) (airentry.Entry, bool)
	ListFloor(floor string) []airentry.Entry
	List() []airentry.Entry
}

type Synchronizer interface {
	RegisterView(viewID string, fn viewsync.ViewFunc) func()
	StartEditSession(viewID, entryID string) bool
	EndEditSession(viewID string)
	CanEdit(viewID, entryID string) bool
	PropagateUpdate(sourceView, entryID string, kind viewsync.UpdateKind, patch airentry.Patch, immediate bool) error
	Pending(entryID string) int
	State() viewsync.State
}

type StatsSource interface {
	Stats(ctx context.Context) (bridge.Stats, error)
}

type Server struct {
	schema *config.Schema
	store  EntryStore
	sync   Synchronizer
	stats  StatsSource
	logger *zap.Logger
	mcp    *sdk.Server

	mu         sync.Mutex
	recent     []viewsync.Update
	unregister func()
}

// NewServer registers the server as a view; Close unregisters it. stats may
// be nil when no legacy bridge is running.
func NewServer(schema *config.Schema, store EntryStore, synchronizer Synchronizer, stats StatsSource, version string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		schema: schema,
		store:  store,
		sync:   synchronizer,
		stats:  stats,
		logger: logger.Named("mcp"),
		mcp: sdk.NewServer(&sdk.Implementation{
			Name:    "airsync",
			Version: version,
		}, nil),
	}
	s.unregister = synchronizer.RegisterView(ViewID, s.record)
	s.registerTools()
	return s
}

func (s *Server) Run(ctx context.Context, transport sdk.Transport) error {
	return s.mcp.Run(ctx, transport)
}

// Close ends any edit session held by the server and unregisters the view.
func (s *Server) Close() {
	s.sync.EndEditSession(ViewID)
	s.mu.Lock()
	unregister := s.unregister
	s.unregister = nil
	s.mu.Unlock()
	if unregister != nil {
		unregister()
	}
}

func (s *Server) record(u viewsync.Update) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recent = append(s.recent, u)
	if len(s.recent) > recentLimit {
		s.recent = s.recent[len(s.recent)-recentLimit:]
	}
}

func (s *Server) recentUpdates(limit int) []viewsync.Update {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 || limit > len(s.recent) {
		limit = len(s.recent)
	}
	out := make([]viewsync.Update, limit)
	copy(out, s.recent[len(s.recent)-limit:])
	return out
}
