// Package server exposes a live map session over HTTP: a JSON API for layer
// operations, server-sent change events and an optional watch on the map
// document.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/leapstack-labs/leapmap/internal/layerstore"
	"github.com/leapstack-labs/leapmap/internal/mapconfig"
	"github.com/leapstack-labs/leapmap/internal/reconcile"
	"github.com/leapstack-labs/leapmap/internal/server/notifier"
	"github.com/leapstack-labs/leapmap/internal/session"
	"github.com/leapstack-labs/leapmap/internal/state"
)

// DefaultDebounce is how long the watcher waits after the last write
// before reloading.
const DefaultDebounce = 100 * time.Millisecond

// Inspector exposes a renderer's current objects. Recorders implement it.
type Inspector interface {
	Name() string
	State() reconcile.RecorderState
}

// Config holds configuration for the server.
type Config struct {
	Session *session.Session
	// Snapshots enables the snapshot routes when set.
	Snapshots state.Store
	// Renderers are listed by GET /api/render.
	Renderers []Inspector
	Host      string
	Port      int
	// MapFile is reloaded on change when Watch is set.
	MapFile  string
	Format   mapconfig.Format
	Watch    bool
	Debounce time.Duration
	Logger   *slog.Logger
}

// Server is the HTTP front of one session.
type Server struct {
	session   *session.Session
	snapshots state.Store
	renderers []Inspector
	addr      string
	mapFile   string
	format    mapconfig.Format
	watch     bool
	debounce  time.Duration
	logger    *slog.Logger
	notifier  *notifier.Notifier
}

// New creates a new server instance.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Server{
		session:   cfg.Session,
		snapshots: cfg.Snapshots,
		renderers: cfg.Renderers,
		addr:      net.JoinHostPort(cfg.Host, fmt.Sprint(cfg.Port)),
		mapFile:   cfg.MapFile,
		format:    cfg.Format,
		watch:     cfg.Watch,
		debounce:  debounce,
		logger:    logger,
		notifier:  notifier.New(),
	}
}

// Notifier returns the server's notifier for SSE updates.
func (s *Server) Notifier() *notifier.Notifier {
	return s.notifier
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewMux()
	r.Use(
		middleware.RequestID,
		middleware.Logger,
		middleware.Recoverer,
		middleware.Compress(5),
	)
	s.SetupRoutes(r)
	return r
}

// Forward relays store events to SSE subscribers. The returned func stops
// relaying.
func (s *Server) Forward() func() {
	return s.session.Store().OnAll(func(ev layerstore.Event) {
		if ev.Kind == layerstore.EventBatch {
			ids := make([]string, 0, len(ev.Changes))
			for _, c := range ev.Changes {
				ids = append(ids, c.LayerID())
			}
			s.notifier.Broadcast(string(ev.Kind), ids...)
			return
		}
		s.notifier.Broadcast(string(ev.Kind), ev.ID)
	})
}

// Serve starts the server and blocks until the context is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener serves on ln until the context is cancelled.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	s.logger.Info("starting map server", "addr", "http://"+ln.Addr().String())
	defer s.Forward()()

	eg, egctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Handler: s.Handler(),
		BaseContext: func(_ net.Listener) context.Context {
			return egctx
		},
		ReadHeaderTimeout: 10 * time.Second,
	}

	if s.watch && s.mapFile != "" {
		eg.Go(func() error {
			return s.watchFile(egctx)
		})
	}

	eg.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown
	eg.Go(func() error {
		<-egctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		s.logger.Debug("shutting down map server...")
		return srv.Shutdown(shutdownCtx)
	})

	return eg.Wait()
}
