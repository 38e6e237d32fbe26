package handlers

import (
	"log"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/kozaktomas/face-finder/internal/detect"
	"github.com/kozaktomas/face-finder/internal/stream"
	"github.com/kozaktomas/face-finder/internal/web/middleware"
)

// StreamHandler upgrades live stream connections.
type StreamHandler struct {
	detector      *detect.Detector
	searcher      Searcher
	galleryPrefix string
	opts          stream.Options
	upgrader      websocket.Upgrader
}

// NewStreamHandler creates a new live stream handler. The websocket
// handshake enforces the same origin whitelist as the CORS middleware.
func NewStreamHandler(detector *detect.Detector, searcher Searcher, galleryPrefix string, opts stream.Options, checkOrigin middleware.OriginChecker) *StreamHandler {
	return &StreamHandler{
		detector:      detector,
		searcher:      searcher,
		galleryPrefix: galleryPrefix,
		opts:          opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 << 10,
			WriteBufferSize: 16 << 10,
			CheckOrigin: func(r *http.Request) bool {
				return checkOrigin(r.Header.Get("Origin"))
			},
		},
	}
}

// Live handles GET /ws/live. The connection is handed to a session that
// runs until the client disconnects.
func (h *StreamHandler) Live(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		log.Printf("Websocket upgrade failed: %v", err)
		return
	}

	stream.NewSession(conn, h.detector, h.searcher, h.galleryPrefix, h.opts).Run()
}
