// Package embedding talks to the external face embedding service. The
// detection and embedding model itself is a black box behind an HTTP API;
// this package only knows how to hand it an image and get a vector back.
package embedding

import (
	"context"
	"errors"
)

// ErrNoFace is returned when the service finds no usable face in the image.
// Callers must distinguish it from transport or server failures: a query
// without a face is user-correctable, a broken service is not.
var ErrNoFace = errors.New("no face detected in image")

// Extractor produces a fixed-length embedding vector for the most prominent
// face in an image. Extraction is expensive (tens to hundreds of
// milliseconds) and must never run on a latency-sensitive path.
type Extractor interface {
	ExtractImage(ctx context.Context, imageData []byte) ([]float32, error)
	ExtractFile(ctx context.Context, path string) ([]float32, error)
}
