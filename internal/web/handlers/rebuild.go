package handlers

import (
	"net/http"

	"github.com/kozaktomas/face-finder/internal/gallery"
)

// IndexController exposes the index lifecycle operations the API needs.
type IndexController interface {
	RebuildAsync() bool
	Stats() gallery.Stats
}

// RebuildHandler triggers index rebuilds.
type RebuildHandler struct {
	manager IndexController
}

// NewRebuildHandler creates a new rebuild handler.
func NewRebuildHandler(manager IndexController) *RebuildHandler {
	return &RebuildHandler{manager: manager}
}

// Rebuild handles POST /api/v1/rebuild. The rebuild runs in the background;
// a second request while one is running is rejected, not queued.
func (h *RebuildHandler) Rebuild(w http.ResponseWriter, r *http.Request) {
	if !h.manager.RebuildAsync() {
		respondError(w, http.StatusConflict, CodeRebuildInProgress, "a rebuild is already running")
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{
		"status": "rebuild scheduled",
	})
}
