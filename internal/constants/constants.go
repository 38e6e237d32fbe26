// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

// Upload constants
const (
	// MaxUploadSize is the maximum accepted request body for photo uploads (20 MB)
	MaxUploadSize = 20 << 20
)
