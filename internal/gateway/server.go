// Package gateway is the inlet HTTP front door. It routes inbound HTTP
// traffic to the adapter that owns each path prefix and publishes every
// envelope an adapter emits.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/inletmsg/inlet/internal/config"
	"github.com/inletmsg/inlet/internal/events"
	"github.com/inletmsg/inlet/internal/logging"
	"github.com/inletmsg/inlet/internal/provider"
	"github.com/inletmsg/inlet/internal/version"
)

// maxIngestBody caps inbound request bodies before they reach an adapter.
const maxIngestBody = 2 << 20

// Server is the inlet gateway HTTP server.
type Server struct {
	cfg       config.Config
	log       *logging.Logger
	registry  *provider.Registry
	publisher events.Publisher

	mu     sync.RWMutex
	routes []route

	startedAt  time.Time
	httpServer *http.Server
}

// route maps an HTTP path prefix to the adapter that handles it.
type route struct {
	prefix       string
	providerType string
}

// New creates a gateway server.
func New(cfg config.Config, registry *provider.Registry, publisher events.Publisher, log *logging.Logger) *Server {
	return &Server{
		cfg:       cfg,
		log:       log.Sub("gateway"),
		registry:  registry,
		publisher: publisher,
	}
}

// Route binds a path prefix to a registered adapter type. Longer prefixes
// win when several match.
func (s *Server) Route(prefix, providerType string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routes = append(s.routes, route{prefix: prefix, providerType: providerType})
	sort.Slice(s.routes, func(i, j int) bool {
		return len(s.routes[i].prefix) > len(s.routes[j].prefix)
	})
	s.log.Info().Str("prefix", prefix).Str("provider", providerType).Msg("route registered")
}

// resolveRoute finds the adapter owning a path, longest prefix first.
func (s *Server) resolveRoute(path string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rt := range s.routes {
		if strings.HasPrefix(path, rt.prefix) {
			return rt.providerType, true
		}
	}
	return "", false
}

// Handler builds the full HTTP handler with the middleware chain applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("/", s.handleIngest)
	return withMiddleware(mux, s.log)
}

// Start begins listening. It blocks until the context is cancelled or an
// error occurs.
func (s *Server) Start(ctx context.Context) error {
	addr := s.cfg.BindAddr()

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
		BaseContext:  func(l net.Listener) context.Context { return ctx },
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.startedAt = time.Now()
	s.log.Info().
		Str("addr", ln.Addr().String()).
		Str("bind", s.cfg.Gateway.Bind).
		Int("adapters", s.registry.Count()).
		Msg("gateway server starting")

	go func() {
		<-ctx.Done()
		s.log.Info().Msg("shutting down gateway server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Addr returns the server's listen address, or empty string if not started.
func (s *Server) Addr() string {
	if s.httpServer != nil {
		return s.httpServer.Addr
	}
	return ""
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"version":   version.Version,
		"adapters":  s.registry.List(),
		"uptime_ms": time.Since(s.startedAt).Milliseconds(),
	})
}
