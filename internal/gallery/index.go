// Package gallery owns the lifecycle of the face embedding index built from
// the registered report photos: persistence, staleness detection, rebuilds
// and the in-memory snapshot served to the match engine.
package gallery

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Entry is one registered identity and its face embedding. Identity is the
// gallery file name; uniqueness is guaranteed by the filesystem.
type Entry struct {
	Identity  string
	Embedding []float32
}

// Index is an immutable snapshot of the gallery. Once published it is never
// mutated; rebuilds publish a replacement.
type Index struct {
	Entries []Entry
	Model   string
	Dim     int
	BuiltAt time.Time

	// GalleryCount is the number of gallery files seen at build time,
	// including skipped ones. Staleness detection compares against it.
	GalleryCount int
}

// Count returns the number of indexed entries.
func (idx *Index) Count() int {
	if idx == nil {
		return 0
	}
	return len(idx.Entries)
}

// imageExtensions are the gallery file types the index considers.
var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
}

// IsImageFile reports whether the file name has an indexable image extension.
func IsImageFile(name string) bool {
	return imageExtensions[strings.ToLower(filepath.Ext(name))]
}

// ListImageFiles returns the image file names in a directory, in directory
// order. A missing directory yields an empty list, not an error.
func ListImageFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || !IsImageFile(e.Name()) {
			continue
		}
		files = append(files, e.Name())
	}
	return files, nil
}
