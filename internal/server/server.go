package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/zapgate/zapgate/internal/flow"
	"github.com/zapgate/zapgate/internal/logging"
	"github.com/zapgate/zapgate/internal/manager"
	"github.com/zapgate/zapgate/internal/session"
)

// Config carries the HTTP listen address for the API server.
type Config struct {
	ListenAddr string
}

// Pinger checks reachability of the backing scanner.
type Pinger interface {
	Version(ctx context.Context) (string, error)
}

// Server is the HTTP + WebSocket API surface.
type Server struct {
	cfg      Config
	mgr      *manager.Manager
	sessions *session.Manager
	pinger   Pinger
	router   chi.Router
	upgrader websocket.Upgrader
	logger   logging.Logger
}

// NewServer wires the API routes around an existing scan manager.
func NewServer(cfg Config, mgr *manager.Manager, sessions *session.Manager, pinger Pinger, logger logging.Logger) *Server {
	if logger == nil {
		logger = logging.NewStdoutLogger("Server")
	}

	s := &Server{
		cfg:      cfg,
		mgr:      mgr,
		sessions: sessions,
		pinger:   pinger,
		router:   chi.NewRouter(),
		logger:   logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// TODO: tighten for production
				return true
			},
		},
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router

	r.Use(s.corsMiddleware)

	// CORS preflight
	r.Options("/scans", s.optionsHandler("GET"))
	r.Options("/scans/active", s.optionsHandler("POST"))
	r.Options("/scans/complete", s.optionsHandler("POST"))
	r.Options("/scans/passive", s.optionsHandler("POST"))
	r.Options("/scans/ajax", s.optionsHandler("POST"))
	r.Options("/scans/{scanID}", s.optionsHandler("GET, DELETE"))
	r.Options("/session", s.optionsHandler("POST"))
	r.Options("/health", s.optionsHandler("GET"))
	r.Options("/ws/scans/{scanID}", s.optionsHandler("GET"))

	// Scans
	r.Post("/scans/active", s.handleStartScan(flow.ModeActive))
	r.Post("/scans/complete", s.handleStartScan(flow.ModeComplete))
	r.Post("/scans/passive", s.handleStartScan(flow.ModePassive))
	r.Post("/scans/ajax", s.handleStartScan(flow.ModeAjax))
	r.Get("/scans", s.handleListScans)
	r.Get("/scans/{scanID}", s.handleGetScan)
	r.Delete("/scans/{scanID}", s.handleCancelScan)

	// Scanner session management
	r.Post("/session", s.handleNewSession)

	// Liveness
	r.Get("/health", s.handleHealth)

	// WebSocket for scan progress
	r.Get("/ws/scans/{scanID}", s.handleScanWS)
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		next.ServeHTTP(w, r)
	})
}

func (s *Server) optionsHandler(methods string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Methods", methods)
		w.WriteHeader(http.StatusNoContent)
	}
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	fields := []logging.Field{
		{Key: "method", Value: r.Method},
		{Key: "path", Value: r.URL.Path},
	}

	if q := r.URL.Query(); len(q) > 0 {
		fields = append(fields, logging.Field{Key: "query", Value: q})
	}

	if r.Body != nil && (r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch) {
		if bodyBytes, err := io.ReadAll(r.Body); err == nil {
			fields = append(fields, logging.Field{Key: "body", Value: string(bodyBytes)})
			r.Body = io.NopCloser(bytes.NewReader(bodyBytes))
		}
	}

	s.logger.Info("http_request", fields...)

	s.router.ServeHTTP(w, r)
}

// HTTPServer creates an *http.Server ready to ListenAndServe.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      s,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // allow streaming
	}
}

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// --- HTTP handlers ---

func (s *Server) handleStartScan(mode string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req StartScanRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
		if req.TargetURL == "" {
			writeError(w, http.StatusBadRequest, "target_url is required")
			return
		}

		id, err := s.mgr.Start(mode, req.TargetURL, req.Options(mode))
		if err != nil {
			status := http.StatusBadRequest
			switch {
			case errors.Is(err, manager.ErrBusy):
				status = http.StatusTooManyRequests
			case errors.Is(err, manager.ErrClosed):
				status = http.StatusServiceUnavailable
			}
			s.logger.Warn("starting scan", logging.Field{Key: "mode", Value: mode}, logging.Field{Key: "error", Value: err.Error()})
			writeError(w, status, err.Error())
			return
		}

		s.logger.Info("started scan",
			logging.Field{Key: "scan_id", Value: id},
			logging.Field{Key: "mode", Value: mode},
			logging.Field{Key: "target", Value: req.TargetURL},
		)
		writeJSON(w, http.StatusAccepted, StartScanResponse{
			ScanID:  id,
			Status:  "started",
			Message: fmt.Sprintf("%s scan started for %s", mode, req.TargetURL),
		})
	}
}

func (s *Server) handleListScans(w http.ResponseWriter, r *http.Request) {
	scans := s.mgr.List()
	s.logger.Info("listed scans", logging.Field{Key: "count", Value: len(scans)})
	writeJSON(w, http.StatusOK, scans)
}

func (s *Server) handleGetScan(w http.ResponseWriter, r *http.Request) {
	scanID := chi.URLParam(r, "scanID")
	snap, err := s.mgr.Status(scanID)
	if err != nil {
		s.logger.Warn("getting scan: not found", logging.Field{Key: "scan_id", Value: scanID})
		writeError(w, http.StatusNotFound, "scan not found")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleCancelScan(w http.ResponseWriter, r *http.Request) {
	scanID := chi.URLParam(r, "scanID")
	if !s.mgr.Cancel(scanID) {
		writeJSON(w, http.StatusOK, CancelScanResponse{
			Success: false,
			Message: fmt.Sprintf("Scan %s not found or already finished", scanID),
		})
		return
	}
	writeJSON(w, http.StatusOK, CancelScanResponse{
		Success: true,
		Message: fmt.Sprintf("Scan %s cancelled", scanID),
	})
}

func (s *Server) handleNewSession(w http.ResponseWriter, r *http.Request) {
	var req NewSessionRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	sessionID, err := s.sessions.Create(r.Context(), req.Name)
	if err != nil {
		s.logger.Warn("creating session", logging.Field{Key: "error", Value: err.Error()})
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, NewSessionResponse{
		Success:   true,
		SessionID: sessionID,
		Message:   fmt.Sprintf("New session created: %s", sessionID),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	version, err := s.pinger.Version(ctx)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "unreachable", Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Version: version})
}

// WebSocket

func (s *Server) handleScanWS(w http.ResponseWriter, r *http.Request) {
	scanID := chi.URLParam(r, "scanID")

	events, ok := s.mgr.Events(scanID)
	if !ok {
		writeError(w, http.StatusNotFound, "scan not found")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrading to websocket", logging.Field{Key: "error", Value: err.Error()})
		return
	}
	defer conn.Close()

	// Send the current state first so late subscribers see where the scan is.
	if snap, err := s.mgr.Status(scanID); err == nil {
		_ = conn.WriteJSON(snap)
	}

	for ev := range events {
		if err := conn.WriteJSON(ev); err != nil {
			// Client went away; the scan keeps running.
			return
		}
	}

	// Channel closed: the scan is terminal, send the final snapshot.
	if snap, err := s.mgr.Status(scanID); err == nil {
		_ = conn.WriteJSON(snap)
	}
}
