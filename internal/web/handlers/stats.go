package handlers

import (
	"net/http"

	"github.com/kozaktomas/face-finder/internal/config"
	"github.com/kozaktomas/face-finder/internal/gallery"
)

// StatsHandler reports index and configuration state.
type StatsHandler struct {
	config  *config.Config
	manager IndexController
}

// NewStatsHandler creates a new stats handler.
func NewStatsHandler(cfg *config.Config, manager IndexController) *StatsHandler {
	return &StatsHandler{config: cfg, manager: manager}
}

// StatsResponse is the GET /api/v1/stats payload.
type StatsResponse struct {
	Gallery         gallery.Stats `json:"gallery"`
	Model           string        `json:"model"`
	EmbeddingDim    int           `json:"embedding_dim"`
	QueryThreshold  float64       `json:"query_threshold"`
	StreamThreshold float64       `json:"stream_threshold"`
}

// Stats handles GET /api/v1/stats.
func (h *StatsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, StatsResponse{
		Gallery:         h.manager.Stats(),
		Model:           h.config.Embedding.Model,
		EmbeddingDim:    h.config.Embedding.Dim,
		QueryThreshold:  h.config.Match.QueryThreshold,
		StreamThreshold: h.config.Match.StreamThreshold,
	})
}
