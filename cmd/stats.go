package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-finder/internal/config"
	"github.com/kozaktomas/face-finder/internal/embedding"
	"github.com/kozaktomas/face-finder/internal/gallery"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show gallery and index statistics",
	RunE:  runStats,
}

func init() {
	statsCmd.Flags().Bool("json", false, "Output stats as JSON")
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg := config.Load()

	extractor := embedding.NewClient(cfg.Embedding.URL, cfg.Embedding.Model)
	store := gallery.NewStore(cfg.Gallery.IndexPath)
	manager := gallery.NewManager(cfg.Gallery.Dir, store, extractor, cfg.Embedding.Model, cfg.Embedding.Dim)

	if err := manager.LoadPersisted(); err != nil {
		return fmt.Errorf("could not load index: %w", err)
	}
	stats := manager.Stats()

	if mustGetBool(cmd, "json") {
		return json.NewEncoder(os.Stdout).Encode(stats)
	}

	fmt.Printf("Gallery:          %s\n", cfg.Gallery.Dir)
	fmt.Printf("  Photos:         %d\n", stats.GalleryCount)
	fmt.Printf("  Indexed:        %d\n", stats.IndexedCount)
	fmt.Printf("  Skipped:        %d\n", stats.LastSkipped)
	fmt.Printf("Index:            %s\n", cfg.Gallery.IndexPath)
	fmt.Printf("  Persisted:      %v\n", stats.IndexPersisted)
	fmt.Printf("  Needs rebuild:  %v\n", stats.NeedsRebuild)
	fmt.Printf("Model:            %s (%d dimensions)\n", cfg.Embedding.Model, cfg.Embedding.Dim)
	return nil
}
