package api

import (
	"net/http"

	"github.com/ayusman/airdrums/internal/engine"
)

// ZonesHandler serves the configured drum zones.
type ZonesHandler struct {
	zones []engine.ZoneView
}

// NewZonesHandler creates a handler over a fixed zone list.
func NewZonesHandler(zones []engine.ZoneView) *ZonesHandler {
	return &ZonesHandler{zones: zones}
}

type listZonesResponse struct {
	Zones []engine.ZoneView `json:"zones"`
}

// ServeHTTP handles GET /api/zones.
func (h *ZonesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	zones := h.zones
	if zones == nil {
		zones = []engine.ZoneView{}
	}
	writeJSON(w, http.StatusOK, listZonesResponse{Zones: zones})
}
