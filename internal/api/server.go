// Package api serves the viewer's local HTTP control surface: gallery and
// comparison actions, the preview stream and a websocket for browser input.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"

	"github.com/bryanchriswhite/renderview/internal/gallery"
	"github.com/bryanchriswhite/renderview/internal/logger"
	"github.com/bryanchriswhite/renderview/internal/region"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrNoImage is returned by Controller when there is nothing to encode yet.
var ErrNoImage = errors.New("no image available")

// Status is the viewer state reported by GET /api/status.
type Status struct {
	Status         string  `json:"status"`
	Target         string  `json:"target,omitempty"`
	Width          int     `json:"width"`
	Height         int     `json:"height"`
	Frames         uint64  `json:"frames"`
	Failures       uint64  `json:"failures"`
	Dropped        uint64  `json:"dropped"`
	Selector       string  `json:"selector"`
	DividerVisible bool    `json:"divider_visible"`
	DividerOffset  float64 `json:"divider_offset"`
	Snapshots      int     `json:"snapshots"`
	Scale          float64 `json:"scale"`
}

// Snapshot describes one gallery entry.
type Snapshot struct {
	ID       uuid.UUID `json:"id"`
	Name     string    `json:"name"`
	Width    int       `json:"width"`
	Height   int       `json:"height"`
	TakenAt  time.Time `json:"taken_at"`
	Selected bool      `json:"selected"`
	Roles    []string  `json:"roles,omitempty"`
}

// Controller executes requests on the viewer's UI task.
type Controller interface {
	Status(ctx context.Context) (Status, error)
	Gallery(ctx context.Context) ([]Snapshot, error)
	TakeSnapshot(ctx context.Context, name string) (Snapshot, error)
	RemoveSnapshot(ctx context.Context, id uuid.UUID) error
	ToggleSnapshot(ctx context.Context, id uuid.UUID) error
	SetRole(ctx context.Context, role gallery.Role, id uuid.UUID) error
	UnsetRole(ctx context.Context, role gallery.Role) error
	Navigate(ctx context.Context, delta int) error
	ArmRegion(ctx context.Context) error
	Fit(ctx context.Context, mode string) error
	SetDivider(ctx context.Context, offset float64) error
	CompositePNG(ctx context.Context, w io.Writer) error
	SnapshotPNG(ctx context.Context, id uuid.UUID, w io.Writer) error
	// Input feeds an event given in composite image pixels.
	Input(ev region.Event)
}

// Server represents the HTTP API server
type Server struct {
	router   *mux.Router
	ctl      Controller
	stream   http.Handler
	page     http.Handler
	upgrader websocket.Upgrader
}

// NewServer creates a new API server. stream and page may be nil.
func NewServer(ctl Controller, stream, page http.Handler) *Server {
	s := &Server{
		router: mux.NewRouter(),
		ctl:    ctl,
		stream: stream,
		page:   page,
		upgrader: websocket.Upgrader{
			// The server only listens on loopback.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/health", s.handleHealth).Methods("GET")

	// Gallery
	api.HandleFunc("/gallery", s.handleGallery).Methods("GET")
	api.HandleFunc("/snapshots", s.handleTakeSnapshot).Methods("POST")
	api.HandleFunc("/snapshots/{id}.png", s.handleSnapshotPNG).Methods("GET")
	api.HandleFunc("/snapshots/{id}", s.handleRemoveSnapshot).Methods("DELETE")
	api.HandleFunc("/snapshots/{id}/toggle", s.handleToggleSnapshot).Methods("POST")
	api.HandleFunc("/roles/{role}", s.handleSetRole).Methods("PUT")
	api.HandleFunc("/roles/{role}", s.handleUnsetRole).Methods("DELETE")
	api.HandleFunc("/navigate", s.handleNavigate).Methods("POST")

	// View
	api.HandleFunc("/region/arm", s.handleArmRegion).Methods("POST")
	api.HandleFunc("/view/fit", s.handleFit).Methods("POST")
	api.HandleFunc("/divider", s.handleDivider).Methods("POST")
	api.HandleFunc("/composite.png", s.handleCompositePNG).Methods("GET")
	api.HandleFunc("/input", s.handleInput)

	if s.stream != nil {
		s.router.Handle("/stream", s.stream).Methods("GET")
	}
	if s.page != nil {
		s.router.Handle("/", s.page).Methods("GET")
	}
}

// Handler returns the router wrapped with CORS headers.
func (s *Server) Handler() http.Handler {
	return s.enableCORS(s.router)
}

// ListenAndServe serves on addr until ctx ends.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	log := logger.WithComponent("api")

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", "http://"+ln.Addr().String()).Msg("Preview server listening")
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("preview server failed: %w", err)
	}
	return nil
}

// enableCORS adds CORS headers
func (s *Server) enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// HTTP Handlers

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.ctl.Status(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleGallery(w http.ResponseWriter, r *http.Request) {
	snaps, err := s.ctl.Gallery(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snaps)
}

func (s *Server) handleTakeSnapshot(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	// An empty body takes a snapshot with the default name.
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	snap, err := s.ctl.TakeSnapshot(r.Context(), req.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

func (s *Server) handleRemoveSnapshot(w http.ResponseWriter, r *http.Request) {
	id, ok := snapshotID(w, r)
	if !ok {
		return
	}
	if err := s.ctl.RemoveSnapshot(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w)
}

func (s *Server) handleToggleSnapshot(w http.ResponseWriter, r *http.Request) {
	id, ok := snapshotID(w, r)
	if !ok {
		return
	}
	if err := s.ctl.ToggleSnapshot(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w)
}

func (s *Server) handleSnapshotPNG(w http.ResponseWriter, r *http.Request) {
	id, ok := snapshotID(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "image/png")
	if err := s.ctl.SnapshotPNG(r.Context(), id, w); err != nil {
		w.Header().Del("Content-Type")
		writeError(w, err)
	}
}

func (s *Server) handleSetRole(w http.ResponseWriter, r *http.Request) {
	role, err := gallery.ParseRole(mux.Vars(r)["role"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var req struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	id, err := uuid.Parse(req.ID)
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid snapshot id: %v", err), http.StatusBadRequest)
		return
	}

	if err := s.ctl.SetRole(r.Context(), role, id); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w)
}

func (s *Server) handleUnsetRole(w http.ResponseWriter, r *http.Request) {
	role, err := gallery.ParseRole(mux.Vars(r)["role"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.ctl.UnsetRole(r.Context(), role); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w)
}

func (s *Server) handleNavigate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Delta int `json:"delta"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Delta == 0 {
		http.Error(w, "delta must be non-zero", http.StatusBadRequest)
		return
	}
	if err := s.ctl.Navigate(r.Context(), req.Delta); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w)
}

func (s *Server) handleArmRegion(w http.ResponseWriter, r *http.Request) {
	if err := s.ctl.ArmRegion(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w)
}

func (s *Server) handleFit(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("mode")
	if mode == "" {
		mode = "1:1"
	}
	if mode != "1:1" && mode != "window" {
		http.Error(w, fmt.Sprintf("unknown fit mode %q", mode), http.StatusBadRequest)
		return
	}
	if err := s.ctl.Fit(r.Context(), mode); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w)
}

func (s *Server) handleDivider(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Offset *float64 `json:"offset"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Offset == nil {
		http.Error(w, "body must be {\"offset\": <pixels>}", http.StatusBadRequest)
		return
	}
	if err := s.ctl.SetDivider(r.Context(), *req.Offset); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w)
}

func (s *Server) handleCompositePNG(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "image/png")
	if err := s.ctl.CompositePNG(r.Context(), w); err != nil {
		w.Header().Del("Content-Type")
		writeError(w, err)
	}
}

// handleInput reads JSON region events from a browser until it goes away.
func (s *Server) handleInput(w http.ResponseWriter, r *http.Request) {
	log := logger.WithComponent("api")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	log.Info().Str("remote", r.RemoteAddr).Msg("Input client connected")
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug().Err(err).Msg("Input client read ended")
			}
			return
		}
		var ev region.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			log.Debug().Err(err).Msg("Ignoring malformed input event")
			continue
		}
		s.ctl.Input(ev)
	}
}

func snapshotID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid snapshot id: %v", err), http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeOK(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, gallery.ErrNoSnapshot), errors.Is(err, gallery.ErrEmptyGallery):
		code = http.StatusNotFound
	case errors.Is(err, ErrNoImage):
		code = http.StatusConflict
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		code = http.StatusServiceUnavailable
	}
	http.Error(w, err.Error(), code)
}
