package web

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/kozaktomas/face-finder/internal/config"
	"github.com/kozaktomas/face-finder/internal/detect"
	"github.com/kozaktomas/face-finder/internal/embedding"
	"github.com/kozaktomas/face-finder/internal/gallery"
	"github.com/kozaktomas/face-finder/internal/match"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	t.Setenv("GALLERY_DIR", t.TempDir())
	t.Setenv("INDEX_PATH", filepath.Join(t.TempDir(), "index.bin"))
	t.Setenv("SIGHTINGS_DIR", t.TempDir())

	cfg := config.Load()
	extractor := embedding.NewClient("http://localhost:1", cfg.Embedding.Model)
	store := gallery.NewStore(cfg.Gallery.IndexPath)
	manager := gallery.NewManager(cfg.Gallery.Dir, store, extractor, cfg.Embedding.Model, cfg.Embedding.Dim)

	return NewServer(cfg, "127.0.0.1", 0, Deps{
		Manager:  manager,
		Engine:   match.NewEngine(manager, extractor, cfg.Match.HNSWCutoff),
		Detector: detect.New(cfg.Stream.MinFaceSize),
	})
}

func TestRouting(t *testing.T) {
	srv := testServer(t)

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/api/v1/health", http.StatusOK},
		{http.MethodGet, "/api/v1/stats", http.StatusOK},
		{http.MethodPost, "/api/v1/rebuild", http.StatusAccepted},
		{http.MethodGet, "/api/v1/match", http.StatusMethodNotAllowed},
		{http.MethodGet, "/nope", http.StatusNotFound},
	}

	for _, tt := range tests {
		req := httptest.NewRequest(tt.method, tt.path, nil)
		rec := httptest.NewRecorder()
		srv.Router().ServeHTTP(rec, req)
		if rec.Code != tt.want {
			t.Errorf("%s %s: expected %d, got %d", tt.method, tt.path, tt.want, rec.Code)
		}
	}
}
