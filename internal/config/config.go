package config

import (
	_ "embed"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

type Config struct {
	Gallery   GalleryConfig
	Embedding EmbeddingConfig
	Match     MatchConfig
	Stream    StreamConfig
	Watcher   WatcherConfig
	Database  DatabaseConfig
}

type GalleryConfig struct {
	Dir          string // directory with registered report photos
	IndexPath    string // path of the persisted embedding index
	SightingsDir string // where unmatched query photos are kept for review
}

type EmbeddingConfig struct {
	URL   string // face embedding service base URL (defaults to http://localhost:8000)
	Model string // model name, informational and recorded in the index meta
	Dim   int    // embedding vector length produced by the model
}

type MatchConfig struct {
	QueryThreshold  float64       // minimum similarity for one-shot queries
	StreamThreshold float64       // minimum similarity for live-stream frames
	Timeout         time.Duration // budget for the extract+search pipeline
	HNSWCutoff      int           // gallery size at which the HNSW path engages
}

type StreamConfig struct {
	Cooldown    time.Duration // minimum gap between notifications for one identity
	FrameSkip   int           // only every Nth frame is considered for matching
	MinFaceSize int           // minimum face box edge in pixels for the cheap detector
}

type WatcherConfig struct {
	Debounce time.Duration // leading-edge debounce window for gallery events
}

type DatabaseConfig struct {
	URL          string // PostgreSQL connection URL for report metadata (optional)
	MaxOpenConns int    // Maximum open connections (default 25)
	MaxIdleConns int    // Maximum idle connections (default 5)
}

// defaults mirrors the embedded defaults.yaml structure.
type defaults struct {
	Model struct {
		Name string `yaml:"name"`
		Dim  int    `yaml:"dim"`
	} `yaml:"model"`
	Thresholds struct {
		Query  float64 `yaml:"query"`
		Stream float64 `yaml:"stream"`
	} `yaml:"thresholds"`
	Stream struct {
		CooldownSeconds int `yaml:"cooldown_seconds"`
		FrameSkip       int `yaml:"frame_skip"`
	} `yaml:"stream"`
	Watcher struct {
		DebounceSeconds int `yaml:"debounce_seconds"`
	} `yaml:"watcher"`
	Index struct {
		HNSWCutoff int `yaml:"hnsw_cutoff"`
	} `yaml:"index"`
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads an environment variable and parses it as a float in (0, 1].
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 && f <= 1 {
		return f
	}
	return defaultVal
}

// envString reads an environment variable with a fallback.
func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

func Load() *Config {
	var def defaults
	if err := yaml.Unmarshal(defaultsYAML, &def); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded defaults.yaml: " + err.Error())
	}

	galleryDir := envString("GALLERY_DIR", "uploads/reports")

	return &Config{
		Gallery: GalleryConfig{
			Dir:          galleryDir,
			IndexPath:    envString("INDEX_PATH", galleryDir+"/index.bin"),
			SightingsDir: envString("SIGHTINGS_DIR", "uploads/unidentified_sightings"),
		},
		Embedding: EmbeddingConfig{
			URL:   os.Getenv("EMBEDDING_URL"),
			Model: envString("EMBEDDING_MODEL", def.Model.Name),
			Dim:   envInt("EMBEDDING_DIM", def.Model.Dim),
		},
		Match: MatchConfig{
			QueryThreshold:  envFloat("MATCH_THRESHOLD", def.Thresholds.Query),
			StreamThreshold: envFloat("STREAM_THRESHOLD", def.Thresholds.Stream),
			Timeout:         time.Duration(envInt("MATCH_TIMEOUT_SECONDS", 30)) * time.Second,
			HNSWCutoff:      envInt("HNSW_CUTOFF", def.Index.HNSWCutoff),
		},
		Stream: StreamConfig{
			Cooldown:    time.Duration(envInt("STREAM_COOLDOWN_SECONDS", def.Stream.CooldownSeconds)) * time.Second,
			FrameSkip:   envInt("STREAM_FRAME_SKIP", def.Stream.FrameSkip),
			MinFaceSize: envInt("STREAM_MIN_FACE_SIZE", 80),
		},
		Watcher: WatcherConfig{
			Debounce: time.Duration(envInt("WATCH_DEBOUNCE_SECONDS", def.Watcher.DebounceSeconds)) * time.Second,
		},
		Database: DatabaseConfig{
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", 5),
		},
	}
}
