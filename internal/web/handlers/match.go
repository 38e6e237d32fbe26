package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kozaktomas/face-finder/internal/constants"
	"github.com/kozaktomas/face-finder/internal/embedding"
	"github.com/kozaktomas/face-finder/internal/match"
	"github.com/kozaktomas/face-finder/internal/reports"
)

// Searcher runs the extract+search pipeline for an uploaded photo.
type Searcher interface {
	SearchImage(ctx context.Context, imageData []byte, threshold float64) (match.Result, error)
}

// ReportFinder resolves a gallery file name to its missing-person report.
type ReportFinder interface {
	FindByFileName(ctx context.Context, fileName string) (*reports.Report, error)
}

// MatchHandler handles one-shot photo queries.
type MatchHandler struct {
	searcher      Searcher
	reports       ReportFinder // nil when no database is configured
	sightingsDir  string
	galleryPrefix string
	threshold     float64
	timeout       time.Duration
}

// NewMatchHandler creates a new match handler. reports may be nil.
func NewMatchHandler(searcher Searcher, reports ReportFinder, sightingsDir, galleryPrefix string, threshold float64, timeout time.Duration) *MatchHandler {
	return &MatchHandler{
		searcher:      searcher,
		reports:       reports,
		sightingsDir:  sightingsDir,
		galleryPrefix: galleryPrefix,
		threshold:     threshold,
		timeout:       timeout,
	}
}

// matchRequest is the JSON request body alternative to a multipart upload.
type matchRequest struct {
	FileData string `json:"file_data"` // base64, optional data-URL prefix
}

// matchResponse is returned for every completed query, found or not.
type matchResponse struct {
	MatchFound   bool            `json:"match_found"`
	Identity     string          `json:"identity,omitempty"`
	Similarity   float64         `json:"similarity"`
	Confidence   float64         `json:"confidence"`
	FilePath     string          `json:"file_path,omitempty"`
	Report       *reports.Report `json:"report,omitempty"`
	SightingFile string          `json:"sighting_file,omitempty"`
}

// Match handles POST /api/v1/match. The photo arrives either as a multipart
// "file" field or as base64 JSON.
func (h *MatchHandler) Match(w http.ResponseWriter, r *http.Request) {
	imageData, ok := h.readImage(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	result, err := h.searcher.SearchImage(ctx, imageData, h.threshold)
	if err != nil {
		h.respondSearchError(w, err)
		return
	}

	resp := matchResponse{
		MatchFound: result.Found,
		Identity:   result.Identity,
		Similarity: result.Similarity,
		Confidence: result.Confidence,
	}

	if result.Found {
		if h.galleryPrefix != "" {
			resp.FilePath = h.galleryPrefix + "/" + result.Identity
		}
		resp.Report = h.lookupReport(ctx, result.Identity)
	} else if name, err := h.saveSighting(imageData); err != nil {
		log.Printf("Could not save sighting: %v", err)
	} else {
		resp.SightingFile = name
	}

	respondJSON(w, http.StatusOK, resp)
}

// readImage extracts the photo bytes from the request, writing the error
// response itself when the request is malformed.
func (h *MatchHandler) readImage(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, constants.MaxUploadSize)

	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "multipart/form-data") {
		file, _, err := r.FormFile("file")
		if err != nil {
			respondError(w, http.StatusBadRequest, CodeInvalidRequest, "missing file field")
			return nil, false
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			respondError(w, http.StatusBadRequest, CodeInvalidRequest, "could not read uploaded file")
			return nil, false
		}
		return data, true
	}

	var req matchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.FileData == "" {
		respondError(w, http.StatusBadRequest, CodeInvalidRequest, "expected multipart file or file_data JSON field")
		return nil, false
	}

	payload := req.FileData
	if i := strings.Index(payload, "base64,"); i >= 0 {
		payload = payload[i+len("base64,"):]
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		respondError(w, http.StatusBadRequest, CodeInvalidRequest, "file_data is not valid base64")
		return nil, false
	}
	return data, true
}

// respondSearchError maps pipeline failures onto the API error taxonomy.
func (h *MatchHandler) respondSearchError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, embedding.ErrNoFace):
		respondError(w, http.StatusUnprocessableEntity, CodeNoFace, "no face detected in image")
	case errors.Is(err, match.ErrIndexUnavailable):
		respondError(w, http.StatusServiceUnavailable, CodeIndexUnavailable, "index not built yet, try again later")
	case errors.Is(err, context.DeadlineExceeded):
		respondError(w, http.StatusGatewayTimeout, CodeTimeout, "match timed out")
	default:
		log.Printf("Match failed: %v", err)
		respondError(w, http.StatusInternalServerError, CodeExtractionFailed, "could not process image")
	}
}

// lookupReport enriches a matched identity with its report. Lookup failures
// degrade the response, they never fail the match.
func (h *MatchHandler) lookupReport(ctx context.Context, identity string) *reports.Report {
	if h.reports == nil {
		return nil
	}
	report, err := h.reports.FindByFileName(ctx, identity)
	if err != nil {
		if !errors.Is(err, reports.ErrNotFound) {
			log.Printf("Report lookup for %s failed: %v", sanitizeForLog(identity), err)
		}
		return nil
	}
	return report
}

// saveSighting archives an unmatched query photo for later review. The
// timestamp prefix keeps the review directory browsable chronologically; the
// uuid keeps concurrent captures from colliding.
func (h *MatchHandler) saveSighting(imageData []byte) (string, error) {
	if h.sightingsDir == "" {
		return "", nil
	}
	if err := os.MkdirAll(h.sightingsDir, 0o750); err != nil {
		return "", err
	}

	name := fmt.Sprintf("sighting_%s_%s.jpg", time.Now().UTC().Format("20060102T150405"), uuid.New().String())
	if err := os.WriteFile(filepath.Join(h.sightingsDir, name), imageData, 0o640); err != nil {
		return "", err
	}
	return name, nil
}
