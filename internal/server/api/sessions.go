package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/ayusman/airdrums/internal/store"
)

// DefaultSessionLimit bounds GET /api/sessions without a limit parameter.
const DefaultSessionLimit = 50

// SessionsHandler serves recorded sessions and their hit logs.
type SessionsHandler struct {
	store *store.Store
}

// NewSessionsHandler creates a new SessionsHandler with the given store.
func NewSessionsHandler(s *store.Store) *SessionsHandler {
	return &SessionsHandler{store: s}
}

type sessionResponse struct {
	ID         string `json:"id"`
	StartedAt  string `json:"started_at"`
	EndedAt    string `json:"ended_at,omitempty"`
	StopReason string `json:"stop_reason,omitempty"`
}

type listSessionsResponse struct {
	Sessions []sessionResponse `json:"sessions"`
}

type hitResponse struct {
	ID         int64   `json:"id"`
	Marker     string  `json:"marker"`
	Zone       string  `json:"zone"`
	Instrument string  `json:"instrument"`
	Intensity  float64 `json:"intensity"`
	PeakSpeed  float64 `json:"peak_speed"`
	Timestamp  string  `json:"timestamp"`
}

type sessionHitsResponse struct {
	Session string         `json:"session"`
	Hits    []hitResponse  `json:"hits"`
	Counts  map[string]int `json:"counts"`
}

func toSessionResponse(s *store.Session) sessionResponse {
	resp := sessionResponse{
		ID:         s.ID,
		StartedAt:  formatTime(s.StartedAt),
		StopReason: s.StopReason,
	}
	if s.EndedAt != nil {
		resp.EndedAt = formatTime(*s.EndedAt)
	}
	return resp
}

// ServeHTTP routes /api/sessions, /api/sessions/{id} and
// /api/sessions/{id}/hits.
func (h *SessionsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/sessions")
	path = strings.Trim(path, "/")

	switch parts := strings.Split(path, "/"); {
	case path == "":
		h.list(w, r)
	case len(parts) == 1:
		h.get(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "hits":
		h.hits(w, r, parts[0])
	default:
		http.NotFound(w, r)
	}
}

// list handles GET /api/sessions?limit=n, newest first.
func (h *SessionsHandler) list(w http.ResponseWriter, r *http.Request) {
	limit := DefaultSessionLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = n
	}

	sessions, err := h.store.Sessions().List(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list sessions")
		return
	}

	response := listSessionsResponse{Sessions: make([]sessionResponse, 0, len(sessions))}
	for _, s := range sessions {
		response.Sessions = append(response.Sessions, toSessionResponse(s))
	}
	writeJSON(w, http.StatusOK, response)
}

// get handles GET /api/sessions/{id}.
func (h *SessionsHandler) get(w http.ResponseWriter, r *http.Request, id string) {
	s, err := h.store.Sessions().Get(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get session")
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(s))
}

// hits handles GET /api/sessions/{id}/hits.
func (h *SessionsHandler) hits(w http.ResponseWriter, r *http.Request, id string) {
	if _, err := h.store.Sessions().Get(id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get session")
		return
	}

	hits, err := h.store.Hits().ListBySession(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list hits")
		return
	}
	counts, err := h.store.Hits().CountBySession(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to count hits")
		return
	}

	response := sessionHitsResponse{
		Session: id,
		Hits:    make([]hitResponse, 0, len(hits)),
		Counts:  counts,
	}
	for _, hit := range hits {
		response.Hits = append(response.Hits, hitResponse{
			ID:         hit.ID,
			Marker:     string(hit.Marker),
			Zone:       hit.Zone,
			Instrument: hit.Instrument,
			Intensity:  hit.Intensity,
			PeakSpeed:  hit.PeakSpeed,
			Timestamp:  formatTime(hit.Timestamp),
		})
	}
	writeJSON(w, http.StatusOK, response)
}
