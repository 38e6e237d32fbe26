// Package stream handles live video sessions. Every inbound frame gets an
// immediate presence reply from the cheap detector; expensive matching runs
// on at most one background task per session, with a per-identity cooldown
// before a match is reported again.
package stream

import (
	"context"
	"encoding/base64"
	"errors"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/kozaktomas/face-finder/internal/detect"
	"github.com/kozaktomas/face-finder/internal/embedding"
	"github.com/kozaktomas/face-finder/internal/match"
)

// outboundBuffer is the size of the per-session outbound message queue.
const outboundBuffer = 16

// FrameMatcher runs the expensive extract+search pipeline for one frame.
type FrameMatcher interface {
	SearchImage(ctx context.Context, imageData []byte, threshold float64) (match.Result, error)
}

// Options configures a session.
type Options struct {
	Threshold    float64       // lenient stream threshold
	Cooldown     time.Duration // per-identity window between notifications
	FrameSkip    int           // only every Nth frame may dispatch a match task
	MatchTimeout time.Duration // budget for one background match task
}

// frameReply acknowledges a single inbound frame. Sent for every frame,
// regardless of whether a match task was dispatched.
type frameReply struct {
	Type         string      `json:"type"`
	FaceDetected bool        `json:"face_detected"`
	FaceBox      *detect.Box `json:"face_box,omitempty"`
}

// matchNotice is pushed out-of-band when a background match completes and
// clears the cooldown. It correlates to the session, not to any one frame.
type matchNotice struct {
	Type       string  `json:"type"`
	Identity   string  `json:"identity"`
	Confidence float64 `json:"confidence"`
	FilePath   string  `json:"file_path,omitempty"`
}

// Session is the per-connection state machine for one live stream. Frames
// are read and acknowledged on the read loop; matching runs on a background
// goroutine guarded so only one task is in flight at a time. The session is
// never blocked waiting on a match.
type Session struct {
	id       string
	conn     *websocket.Conn
	detector *detect.Detector
	matcher  FrameMatcher
	opts     Options

	galleryPrefix string // prepended to matched identities for file_path

	inFlight   atomic.Bool
	frameCount int

	mu           sync.Mutex
	lastNotified map[string]time.Time
	now          func() time.Time // for tests

	out       chan any
	closed    chan struct{}
	closeOnce sync.Once
}

// NewSession wraps an accepted websocket connection.
func NewSession(conn *websocket.Conn, detector *detect.Detector, matcher FrameMatcher, galleryPrefix string, opts Options) *Session {
	if opts.FrameSkip < 1 {
		opts.FrameSkip = 1
	}
	if opts.MatchTimeout <= 0 {
		opts.MatchTimeout = 30 * time.Second
	}
	return &Session{
		id:            uuid.New().String(),
		conn:          conn,
		detector:      detector,
		matcher:       matcher,
		opts:          opts,
		galleryPrefix: galleryPrefix,
		lastNotified:  make(map[string]time.Time),
		now:           time.Now,
		out:           make(chan any, outboundBuffer),
		closed:        make(chan struct{}),
	}
}

// Run reads frames until the connection drops, then closes the session. An
// in-flight match task is allowed to finish; its result is discarded.
func (s *Session) Run() {
	log.Printf("Live session %s connected", s.id)
	defer s.close()

	go s.writeLoop()

	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			log.Printf("Live session %s closed: %v", s.id, err)
			return
		}

		reply := frameReply{Type: "frame"}
		if frame, err := decodeFramePayload(messageType, data); err == nil {
			reply = s.handleFrame(frame)
		}
		// A bad frame still gets its reply, just without presence data.
		s.send(reply)
	}
}

// handleFrame runs the cheap presence check and decides whether to dispatch
// a background match task for this frame.
func (s *Session) handleFrame(frame []byte) frameReply {
	reply := frameReply{Type: "frame"}

	box, faceFound, err := s.detector.DetectBytes(frame)
	if err != nil {
		return reply
	}
	if faceFound {
		reply.FaceDetected = true
		reply.FaceBox = &box
	}

	s.frameCount++
	if faceFound && s.frameCount%s.opts.FrameSkip == 0 && s.inFlight.CompareAndSwap(false, true) {
		go s.matchFrame(frame)
	}

	return reply
}

// matchFrame runs the expensive pipeline for one frame. Errors never reach
// the client; the task just produces no notification.
func (s *Session) matchFrame(frame []byte) {
	defer s.inFlight.Store(false)

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.MatchTimeout)
	defer cancel()

	result, err := s.matcher.SearchImage(ctx, frame, s.opts.Threshold)
	if err != nil {
		if !errors.Is(err, embedding.ErrNoFace) {
			log.Printf("Live session %s: frame match failed: %v", s.id, err)
		}
		return
	}
	if !result.Found || !s.shouldNotify(result.Identity) {
		return
	}

	notice := matchNotice{
		Type:       "match",
		Identity:   result.Identity,
		Confidence: result.Confidence,
	}
	if s.galleryPrefix != "" {
		notice.FilePath = s.galleryPrefix + "/" + result.Identity
	}
	s.send(notice)
}

// shouldNotify applies the per-identity cooldown and refreshes the
// timestamp when the notification is allowed.
func (s *Session) shouldNotify(identity string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if last, ok := s.lastNotified[identity]; ok && now.Sub(last) < s.opts.Cooldown {
		return false
	}
	s.lastNotified[identity] = now
	return true
}

// send queues an outbound message unless the session has closed.
func (s *Session) send(msg any) {
	select {
	case s.out <- msg:
	case <-s.closed:
	}
}

// writeLoop is the single writer for the connection; gorilla connections do
// not allow concurrent writes. A write failure closes the whole session so
// senders never block on a dead connection.
func (s *Session) writeLoop() {
	defer s.close()
	for {
		select {
		case <-s.closed:
			return
		case msg := <-s.out:
			if err := s.conn.WriteJSON(msg); err != nil {
				log.Printf("Live session %s: write failed: %v", s.id, err)
				return
			}
		}
	}
}

func (s *Session) close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		_ = s.conn.Close()
	})
}

// decodeFramePayload turns an inbound websocket message into raw image
// bytes. Binary messages are used as-is; text messages carry base64 with an
// optional data-URL prefix.
func decodeFramePayload(messageType int, data []byte) ([]byte, error) {
	if messageType == websocket.BinaryMessage {
		return data, nil
	}

	payload := string(data)
	if i := strings.Index(payload, "base64,"); i >= 0 {
		payload = payload[i+len("base64,"):]
	}
	return base64.StdEncoding.DecodeString(payload)
}
