// Package detect provides a cheap, local face-presence check for live video
// frames. It exists to give immediate per-frame feedback (a bounding box for
// the UI) without touching the embedding service; it trades accuracy for
// low single-digit millisecond latency, and the expensive extractor remains
// the ground truth on the background match path.
package detect

import (
	"bytes"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
)

// analysisWidth is the width frames are downscaled to before analysis.
const analysisWidth = 160

// Box is a face bounding box in original frame coordinates.
type Box struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// strategy is one detection heuristic. Strategies are tried in order until
// one reports a face.
type strategy struct {
	name   string
	detect func(img *image.RGBA) (Box, bool)
}

// Detector runs an ordered list of presence heuristics over a downscaled
// copy of the frame.
type Detector struct {
	minFaceSize int
	strategies  []strategy
}

// New creates a detector. minFaceSize is the smallest accepted box edge in
// original frame coordinates.
func New(minFaceSize int) *Detector {
	d := &Detector{minFaceSize: minFaceSize}
	d.strategies = []strategy{
		{"skin-region", detectSkinRegion},
		{"center-variance", detectCenterVariance},
	}
	return d
}

// Detect reports whether the frame appears to contain a face and where.
func (d *Detector) Detect(img image.Image) (Box, bool) {
	scaled, factor := downscale(img)

	for _, s := range d.strategies {
		box, ok := s.detect(scaled)
		if !ok {
			continue
		}

		box = Box{
			X:      int(float64(box.X) * factor),
			Y:      int(float64(box.Y) * factor),
			Width:  int(float64(box.Width) * factor),
			Height: int(float64(box.Height) * factor),
		}
		if box.Width < d.minFaceSize || box.Height < d.minFaceSize {
			continue
		}
		return box, true
	}

	return Box{}, false
}

// DetectBytes decodes an encoded frame and runs Detect.
func (d *Detector) DetectBytes(data []byte) (Box, bool, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return Box{}, false, err
	}
	box, ok := d.Detect(img)
	return box, ok, nil
}

// downscale scales the frame to analysisWidth and returns the factor to map
// analysis coordinates back to the original.
func downscale(img image.Image) (*image.RGBA, float64) {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	if width <= analysisWidth {
		dst := image.NewRGBA(image.Rect(0, 0, width, height))
		draw.Draw(dst, dst.Bounds(), img, bounds.Min, draw.Src)
		return dst, 1
	}

	factor := float64(width) / float64(analysisWidth)
	newHeight := int(float64(height) / factor)
	if newHeight < 1 {
		newHeight = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, analysisWidth, newHeight))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, bounds, draw.Src, nil)
	return dst, factor
}

// detectSkinRegion finds the bounding box of skin-toned pixels. A face fills
// its box fairly densely, so sparse skin-colored noise is rejected by the
// coverage check.
func detectSkinRegion(img *image.RGBA) (Box, bool) {
	bounds := img.Bounds()
	minX, minY := bounds.Max.X, bounds.Max.Y
	maxX, maxY := -1, -1
	count := 0

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			if !isSkinTone(uint8(r>>8), uint8(g>>8), uint8(b>>8)) {
				continue
			}
			count++
			if x < minX {
				minX = x
			}
			if x > maxX {
				maxX = x
			}
			if y < minY {
				minY = y
			}
			if y > maxY {
				maxY = y
			}
		}
	}

	if maxX < 0 {
		return Box{}, false
	}

	w := maxX - minX + 1
	h := maxY - minY + 1
	if w < 8 || h < 8 {
		return Box{}, false
	}
	coverage := float64(count) / float64(w*h)
	if coverage < 0.35 {
		return Box{}, false
	}

	return Box{X: minX, Y: minY, Width: w, Height: h}, true
}

// isSkinTone is the classic RGB skin rule. Loose on purpose: the extractor
// does the real detection, this only filters obviously faceless frames.
func isSkinTone(r, g, b uint8) bool {
	if r < 95 || g < 40 || b < 20 {
		return false
	}
	maxC := max(r, max(g, b))
	minC := min(r, min(g, b))
	if maxC-minC < 15 {
		return false
	}
	diff := int(r) - int(g)
	if diff < 0 {
		diff = -diff
	}
	return diff > 15 && r > g && r > b
}

// detectCenterVariance treats a high-contrast center region as a probable
// face. Last resort for lighting where the skin rule fails; returns a box
// over the middle of the frame.
func detectCenterVariance(img *image.RGBA) (Box, bool) {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	if width < 12 || height < 12 {
		return Box{}, false
	}

	x0 := bounds.Min.X + width/3
	y0 := bounds.Min.Y + height/3
	x1 := bounds.Min.X + 2*width/3
	y1 := bounds.Min.Y + 2*height/3

	var sum, sumSq float64
	n := 0
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			// ITU-R BT.601 luma formula.
			luma := 0.299*float64(r>>8) + 0.587*float64(g>>8) + 0.114*float64(b>>8)
			sum += luma
			sumSq += luma * luma
			n++
		}
	}
	if n == 0 {
		return Box{}, false
	}

	mean := sum / float64(n)
	stddev := math.Sqrt(sumSq/float64(n) - mean*mean)
	if stddev < 40 {
		return Box{}, false
	}

	return Box{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}, true
}
