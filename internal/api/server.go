// Package api provides the HTTP surface of the inkhub daemon: asset
// uploads, link unfurling and the observability endpoints.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/inkhub/inkhub/internal/config"
	"github.com/inkhub/inkhub/internal/gateway"
	"github.com/inkhub/inkhub/internal/health"
	"github.com/inkhub/inkhub/internal/log"
	"github.com/inkhub/inkhub/internal/room"
	"github.com/inkhub/inkhub/internal/store"
	"github.com/inkhub/inkhub/internal/unfurl"
)

// unfurlRateLimit bounds per-client unfurl requests; each one triggers an
// outbound fetch.
const unfurlRateLimit = 30

// Server wires the REST handlers, the WebSocket gateway and the metrics
// endpoint onto one router.
type Server struct {
	cfg      config.Config
	engine   *room.Engine
	store    *store.Store
	resolver *unfurl.Resolver
	gateway  *gateway.Gateway
	health   *health.Manager
	logger   zerolog.Logger
	start    time.Time
}

// New builds the server and registers its health checkers.
func New(cfg config.Config, engine *room.Engine, st *store.Store, resolver *unfurl.Resolver, gw *gateway.Gateway) *Server {
	s := &Server{
		cfg:      cfg,
		engine:   engine,
		store:    st,
		resolver: resolver,
		gateway:  gw,
		health:   health.NewManager(),
		logger:   log.WithComponent("api"),
		start:    time.Now(),
	}
	s.health.RegisterChecker(&health.MemoryChecker{})
	s.health.RegisterChecker(&health.ConnectionsChecker{Active: engine.ActiveSessions})
	s.health.RegisterChecker(&health.StorageChecker{Dirs: map[string]string{
		"rooms":  cfg.RoomsDir,
		"assets": cfg.AssetsDir,
	}})
	return s
}

// Routes assembles the full handler tree.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(s.requestContext)
	r.Use(cors)
	r.Use(chimw.Recoverer)

	r.Get("/health", s.handleHealthText)
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/rooms", s.handleRooms)
		r.Get("/assets", s.handleAssets)
		r.Get("/stats", s.handleStats)
	})

	r.Put("/uploads/{id}", s.handlePutUpload)
	r.Get("/uploads/{id}", s.handleGetUpload)

	r.With(httprate.LimitByIP(unfurlRateLimit, time.Minute)).
		Get("/unfurl", s.handleUnfurl)

	r.Handle("/metrics", promhttp.Handler())

	s.gateway.Routes(r)

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	})
	return r
}
