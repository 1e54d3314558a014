// Package httpapi serves health, metrics, read-only entry queries and the
// websocket view endpoint.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"airsync/internal/airentry"
	"airsync/internal/bridge"
	"airsync/internal/metrics"
	"airsync/internal/viewsync"
)

type EntrySource interface {
	Get(id string) (airentry.Entry, bool)
	ListFloor(floor string) []airentry.Entry
	Floors() []string
	Len() int
}

type StatsSource interface {
	Stats(ctx context.Context) (bridge.Stats, error)
}

type StateSource interface {
	State() viewsync.State
}

type Deps struct {
	Store   EntrySource
	Sync    StateSource
	Bridge  StatsSource
	Metrics *metrics.Collector
	Views   http.Handler
	Logger  *zap.Logger
}

type router struct {
	deps   Deps
	logger *zap.Logger
}

// NewRouter wires every route. Bridge, Metrics and Views are optional.
func NewRouter(deps Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	rt := &router{deps: deps, logger: logger.Named("http")}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(rt.logger))

	r.Get("/healthz", rt.health)
	if reg := deps.Metrics.Registry(); reg != nil {
		r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}
	if deps.Views != nil {
		r.Handle("/ws", deps.Views)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/stats", rt.stats)
		r.Get("/floors", rt.floors)
		r.Get("/floors/{floor}/entries", rt.floorEntries)
		r.Get("/entries/{id}", rt.entry)
	})
	return r
}

func requestLogger(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Debug("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("requestID", middleware.GetReqID(r.Context())),
			)
		})
	}
}

type statsResponse struct {
	bridge.Stats
	Edit viewsync.State `json:"edit"`
}

func (rt *router) health(w http.ResponseWriter, r *http.Request) {
	rt.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *router) stats(w http.ResponseWriter, r *http.Request) {
	var resp statsResponse
	if rt.deps.Bridge != nil {
		st, err := rt.deps.Bridge.Stats(r.Context())
		if err != nil {
			rt.writeError(w, http.StatusInternalServerError, err)
			return
		}
		resp.Stats = st
	} else {
		resp.StoreCount = rt.deps.Store.Len()
		resp.StateName = "detached"
	}
	if rt.deps.Sync != nil {
		resp.Edit = rt.deps.Sync.State()
	}
	rt.writeJSON(w, http.StatusOK, resp)
}

func (rt *router) floors(w http.ResponseWriter, r *http.Request) {
	rt.writeJSON(w, http.StatusOK, map[string][]string{"floors": rt.deps.Store.Floors()})
}

func (rt *router) floorEntries(w http.ResponseWriter, r *http.Request) {
	floor := chi.URLParam(r, "floor")
	rt.writeJSON(w, http.StatusOK, map[string][]airentry.Entry{"entries": rt.deps.Store.ListFloor(floor)})
}

func (rt *router) entry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	e, ok := rt.deps.Store.Get(id)
	if !ok {
		rt.writeJSON(w, http.StatusNotFound, map[string]string{"error": "entry not found"})
		return
	}
	rt.writeJSON(w, http.StatusOK, e)
}

func (rt *router) writeError(w http.ResponseWriter, status int, err error) {
	rt.logger.Warn("request failed", zap.Error(err))
	rt.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (rt *router) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		rt.logger.Warn("encoding response", zap.Error(err))
	}
}
