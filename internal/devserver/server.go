// Package devserver is a reference backend for opsdesk: the REST channel,
// message and task API on chi, SQLite persistence, and a JSON-lines push
// hub. It exists for local development and integration tests.
package devserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/microcosm-cc/bluemonday"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/tOgg1/opsdesk/internal/db"
	"github.com/tOgg1/opsdesk/internal/logging"
	"github.com/tOgg1/opsdesk/internal/metrics"
)

const (
	defaultHistoryLimit = 200
	maxHistoryLimit     = 1000
)

// Options configures a Server.
type Options struct {
	DB       *db.DB
	Registry *prometheus.Registry
	// HideMetrics leaves /metrics unmounted.
	HideMetrics bool
	Logger   *zerolog.Logger
	Now      func() time.Time
}

// Server owns the repositories, the push hub and the HTTP routes.
type Server struct {
	channels *db.ChannelRepository
	messages *db.MessageRepository
	tasks    *db.TaskRepository
	users    *db.UserRepository

	hub      *Hub
	policy   *bluemonday.Policy
	registry *prometheus.Registry
	metrics  *metrics.Backend
	expose   bool
	logger   zerolog.Logger
	now      func() time.Time
}

// New builds a Server on an opened database.
func New(opts Options) (*Server, error) {
	logger := logging.Component("devserver")
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	registry := opts.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	backendMetrics, err := metrics.NewBackend(registry)
	if err != nil {
		return nil, err
	}

	s := &Server{
		channels: db.NewChannelRepository(opts.DB),
		messages: db.NewMessageRepository(opts.DB),
		tasks:    db.NewTaskRepository(opts.DB),
		users:    db.NewUserRepository(opts.DB),
		policy:   bluemonday.StrictPolicy(),
		registry: registry,
		metrics:  backendMetrics,
		expose:   !opts.HideMetrics,
		logger:   logger,
		now:      now,
	}
	s.hub = NewHub(s.channels.Members, logger.With().Str("part", "hub").Logger())
	s.hub.now = now
	return s, nil
}

// Hub returns the push hub.
func (s *Server) Hub() *Hub { return s.hub }

// Router returns the HTTP handler for the REST API and /metrics.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.observe)

	if s.expose {
		r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}

	r.Group(func(ar chi.Router) {
		ar.Use(requireUser)

		ar.Route("/channels", func(cr chi.Router) {
			cr.Get("/", s.handleListChannels)
			cr.Post("/", s.handleCreateChannel)
			cr.Post("/dm", s.handleDirectChannel)

			cr.Route("/{channelID}", func(one chi.Router) {
				one.Delete("/", s.handleDeleteChannel)
				one.Post("/members", s.handleAddMember)
				one.Delete("/members/{userID}", s.handleRemoveMember)

				one.Get("/messages", s.handleListMessages)
				one.Post("/messages", s.handleCreateMessage)
				one.Patch("/messages/{messageID}", s.handlePatchMessage)
				one.Delete("/messages/{messageID}", s.handleDeleteMessage)
			})
		})

		ar.Get("/tasks", s.handleListTasks)
		ar.Patch("/tasks/{taskID}", s.handlePatchTask)
	})
	return r
}

// observe logs each request and counts it by route pattern.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := s.now()
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.metrics.Request(route, status)
		s.logger.Debug().
			Str("method", r.Method).
			Str("route", route).
			Int("status", status).
			Dur("elapsed", s.now().Sub(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("request")
	})
}

type userKey struct{}

func actingUser(ctx context.Context) int64 {
	id, _ := ctx.Value(userKey{}).(int64)
	return id
}
