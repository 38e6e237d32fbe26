package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/kozaktomas/face-finder/internal/stream"
	"github.com/kozaktomas/face-finder/internal/web/handlers"
	"github.com/kozaktomas/face-finder/internal/web/middleware"
)

// galleryPrefix is the public URL prefix under which gallery photos are
// served; matched identities are returned as paths below it.
const galleryPrefix = "uploads/reports"

func (s *Server) setupRoutes(deps Deps, checkOrigin middleware.OriginChecker) {
	matchHandler := handlers.NewMatchHandler(
		deps.Engine, deps.Reports,
		s.config.Gallery.SightingsDir, galleryPrefix,
		s.config.Match.QueryThreshold, s.config.Match.Timeout,
	)
	rebuildHandler := handlers.NewRebuildHandler(deps.Manager)
	statsHandler := handlers.NewStatsHandler(s.config, deps.Manager)
	streamHandler := handlers.NewStreamHandler(deps.Detector, deps.Engine, galleryPrefix, stream.Options{
		Threshold:    s.config.Match.StreamThreshold,
		Cooldown:     s.config.Stream.Cooldown,
		FrameSkip:    s.config.Stream.FrameSkip,
		MatchTimeout: s.config.Match.Timeout,
	}, checkOrigin)

	// Health check
	s.router.Get("/api/v1/health", handlers.HealthCheck)

	// API routes get a request timeout; the websocket route must not.
	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(chiMiddleware.Timeout(2 * s.config.Match.Timeout))

		r.Post("/match", matchHandler.Match)
		r.Post("/rebuild", rebuildHandler.Rebuild)
		r.Get("/stats", statsHandler.Stats)
	})

	// Live stream
	s.router.Get("/ws/live", streamHandler.Live)

	// Static photo mounts for gallery photos and archived sightings.
	s.router.Handle("/uploads/reports/*",
		http.StripPrefix("/uploads/reports/", http.FileServer(http.Dir(s.config.Gallery.Dir))))
	s.router.Handle("/uploads/sightings/*",
		http.StripPrefix("/uploads/sightings/", http.FileServer(http.Dir(s.config.Gallery.SightingsDir))))
}
