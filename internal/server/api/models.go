package api

import (
	"errors"
	"net/http"
	"sort"
	"strings"

	"github.com/ayusman/airdrums/internal/marker"
	"github.com/ayusman/airdrums/internal/store"
)

// ModelsHandler handles HTTP requests for saved color models.
type ModelsHandler struct {
	store *store.Store
}

// NewModelsHandler creates a new ModelsHandler with the given store.
func NewModelsHandler(s *store.Store) *ModelsHandler {
	return &ModelsHandler{store: s}
}

type modelResponse struct {
	Marker     marker.ID `json:"marker"`
	Hue        float64   `json:"hue"`
	Saturation float64   `json:"saturation"`
	Value      float64   `json:"value"`
	Tolerance  float64   `json:"tolerance"`
	Radius     float64   `json:"radius"`
}

type listModelsResponse struct {
	Models []modelResponse `json:"models"`
}

func toModelResponse(id marker.ID, m marker.ColorModel) modelResponse {
	return modelResponse{
		Marker:     id,
		Hue:        m.Center.H,
		Saturation: m.Center.S,
		Value:      m.Center.V,
		Tolerance:  m.Tolerance,
		Radius:     m.Radius,
	}
}

// ServeHTTP routes /api/models and /api/models/{marker}.
func (h *ModelsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/models")
	path = strings.TrimPrefix(path, "/")

	if path == "" {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.list(w, r)
		return
	}

	id, err := marker.ParseID(path)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Unknown marker")
		return
	}
	switch r.Method {
	case http.MethodGet:
		h.get(w, r, id)
	case http.MethodDelete:
		h.delete(w, r, id)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// list handles GET /api/models.
func (h *ModelsHandler) list(w http.ResponseWriter, r *http.Request) {
	set, err := h.store.ColorModels().Load()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load models")
		return
	}

	response := listModelsResponse{Models: make([]modelResponse, 0, len(set))}
	for id, m := range set {
		response.Models = append(response.Models, toModelResponse(id, m))
	}
	sort.Slice(response.Models, func(i, j int) bool { return response.Models[i].Marker < response.Models[j].Marker })

	writeJSON(w, http.StatusOK, response)
}

// get handles GET /api/models/{marker}.
func (h *ModelsHandler) get(w http.ResponseWriter, r *http.Request, id marker.ID) {
	m, err := h.store.ColorModels().Get(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Model not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get model")
		return
	}
	writeJSON(w, http.StatusOK, toModelResponse(id, m))
}

// delete handles DELETE /api/models/{marker}; the marker is calibrated again
// on the next run.
func (h *ModelsHandler) delete(w http.ResponseWriter, r *http.Request, id marker.ID) {
	if err := h.store.ColorModels().Delete(id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Model not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to delete model")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
