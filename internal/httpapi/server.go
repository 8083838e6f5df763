package httpapi

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"limitless/internal/domain"
	"limitless/internal/event"
	"limitless/internal/ledger"
	"limitless/internal/risk"
	"limitless/internal/store"
)

// EngineStatus is the slice of the engine the API reads from.
type EngineStatus interface {
	Watchlist() []string
	States() map[string]string
	PositionSnapshots() []domain.Position
}

// Server serves the read-only status API.
type Server struct {
	engine EngineStatus
	ledger *ledger.Ledger
	caps   *risk.Tracker
	bridge *event.Bridge     // nil disables /api/events/stream
	audit  store.AuditStore  // nil disables /api/events
	token  string            // empty disables auth
	log    *slog.Logger
}

// NewServer creates a Server over the given engine and books.
func NewServer(
	engine EngineStatus,
	led *ledger.Ledger,
	caps *risk.Tracker,
	bridge *event.Bridge,
	audit store.AuditStore,
	token string,
	log *slog.Logger,
) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		engine: engine,
		ledger: led,
		caps:   caps,
		bridge: bridge,
		audit:  audit,
		token:  token,
		log:    log.With("component", "httpapi"),
	}
}

// RegisterRoutes registers all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/positions", s.handlePositions)
	mux.HandleFunc("GET /api/events", s.handleEvents)
	mux.HandleFunc("GET /api/events/stream", s.handleEventStream)
}

// Handler returns an http.Handler with auth and CORS middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return corsMiddleware(s.authMiddleware(mux))
}

// authMiddleware rejects requests without the configured bearer token. A
// server with no token configured passes everything through.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	if s.token == "" {
		return next
	}
	want := "Bearer " + s.token
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != want {
			writeError(w, http.StatusUnauthorized, "missing or invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	positions := s.engine.PositionSnapshots()
	out := make([]PositionJSON, 0, len(positions))
	for _, p := range positions {
		out = append(out, convertPosition(p))
	}
	writeJSON(w, StatusResponse{
		Time:      time.Now().UTC().Format(time.RFC3339),
		Watchlist: s.engine.Watchlist(),
		Ledger:    convertLedger(s.ledger.Snapshot()),
		Caps:      convertCaps(s.caps.State()),
		Positions: out,
	})
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	positions := s.engine.PositionSnapshots()
	out := make([]PositionJSON, 0, len(positions))
	for _, p := range positions {
		out = append(out, convertPosition(p))
	}
	writeJSON(w, out)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeJSON(w, EventsResponse{Events: []EventJSON{}})
		return
	}

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			writeError(w, http.StatusBadRequest, "limit must be 1..1000")
			return
		}
		limit = n
	}

	events, err := s.audit.RecentEvents(r.Context(), limit)
	if err != nil {
		s.log.Error("loading recent events", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load events")
		return
	}
	out := make([]EventJSON, 0, len(events))
	for _, ev := range events {
		out = append(out, convertEvent(ev))
	}
	writeJSON(w, EventsResponse{Events: out})
}

// handleEventStream streams live events as server-sent events until the
// client disconnects or the bridge shuts down.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	if s.bridge == nil {
		writeError(w, http.StatusServiceUnavailable, "event stream not available")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	id, ch := s.bridge.Subscribe(64)
	defer s.bridge.Unsubscribe(id)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(convertEvent(ev))
			if err != nil {
				s.log.Error("encoding stream event", "error", err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, data)
			flusher.Flush()
		}
	}
}
