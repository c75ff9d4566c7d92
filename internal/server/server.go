// Package server provides the HTTP control surface: health, the annotated
// camera stream, live state over WebSocket and the JSON API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ayusman/airdrums/internal/engine"
	"github.com/ayusman/airdrums/internal/input"
	"github.com/ayusman/airdrums/internal/server/api"
	"github.com/ayusman/airdrums/internal/store"
)

// FrameSource yields the latest annotated frame as JPEG with its sequence
// number.
type FrameSource interface {
	JPEG() ([]byte, uint64, error)
}

// SnapshotSource yields the latest engine snapshot with its sequence number.
type SnapshotSource interface {
	Snapshot() (engine.Snapshot, uint64)
}

// Config holds the server configuration. Endpoints whose dependencies are
// nil are not registered.
type Config struct {
	StaticDir string
	Store     *store.Store
	Frames    FrameSource
	Snapshots SnapshotSource
	Input     *input.Queue
	Zones     []engine.ZoneView
	// Interval is the stream and broadcast poll period; zero means ~15 FPS.
	Interval time.Duration
	Logger   zerolog.Logger
}

// Server represents the HTTP server.
type Server struct {
	config Config
	mux    *http.ServeMux
	start  time.Time
	log    zerolog.Logger
	state  *StateHandler
}

// New creates a new Server with the given configuration.
func New(config Config) *Server {
	if config.Interval <= 0 {
		config.Interval = 66 * time.Millisecond
	}
	s := &Server{
		config: config,
		mux:    http.NewServeMux(),
		start:  time.Now(),
		log:    config.Logger.With().Str("component", "server").Logger(),
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes for the server.
func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)
	s.mux.Handle("/api/zones", api.NewZonesHandler(s.config.Zones))

	if s.config.Store != nil {
		models := api.NewModelsHandler(s.config.Store)
		sessions := api.NewSessionsHandler(s.config.Store)
		s.mux.Handle("/api/models", models)
		s.mux.Handle("/api/models/", models)
		s.mux.Handle("/api/sessions", sessions)
		s.mux.Handle("/api/sessions/", sessions)
	}

	if s.config.Frames != nil {
		s.mux.Handle("/api/stream", NewStreamHandler(s.config.Frames, s.config.Interval))
	}

	if s.config.Snapshots != nil {
		s.state = NewStateHandler(s.config.Snapshots, s.config.Input, s.config.Interval, s.log)
		s.mux.Handle("/api/state", s.state)
	}

	if s.config.StaticDir != "" {
		fs := http.FileServer(http.Dir(s.config.StaticDir))
		s.mux.Handle("/", fs)
	}
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// handleHealth handles GET requests to /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(s.start).String(),
	}
	if s.config.Snapshots != nil {
		snap, seq := s.config.Snapshots.Snapshot()
		if seq > 0 {
			response["phase"] = snap.Phase
			response["session"] = snap.Session
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	if s.state != nil {
		s.state.Close()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// keyMessage is sent by browser clients over /api/state. Key is a single
// character as on the keyboard; Action is an action name.
type keyMessage struct {
	Key    string `json:"key,omitempty"`
	Action string `json:"action,omitempty"`
}

func (m keyMessage) action() (input.Action, bool) {
	if m.Action != "" {
		return input.ParseAction(strings.ToLower(m.Action))
	}
	r := []rune(m.Key)
	if len(r) != 1 {
		return input.None, false
	}
	return input.FromKey(r[0])
}
