package cmd

import (
	"fmt"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-finder/internal/config"
	"github.com/kozaktomas/face-finder/internal/embedding"
	"github.com/kozaktomas/face-finder/internal/gallery"
)

var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Rebuild the face embedding index from the gallery",
	Long: `Extracts an embedding for every photo in the gallery directory and
writes a fresh index to disk. Photos where no face can be detected are
skipped and counted.`,
	RunE: runRebuild,
}

func init() {
	rootCmd.AddCommand(rebuildCmd)
}

func runRebuild(cmd *cobra.Command, args []string) error {
	cfg := config.Load()

	extractor := embedding.NewClient(cfg.Embedding.URL, cfg.Embedding.Model)
	store := gallery.NewStore(cfg.Gallery.IndexPath)
	manager := gallery.NewManager(cfg.Gallery.Dir, store, extractor, cfg.Embedding.Model, cfg.Embedding.Dim)

	files, err := gallery.ListImageFiles(cfg.Gallery.Dir)
	if err != nil {
		return fmt.Errorf("could not read gallery %s: %w", cfg.Gallery.Dir, err)
	}
	fmt.Printf("Indexing %d photos from %s\n\n", len(files), cfg.Gallery.Dir)

	bar := progressbar.NewOptions(len(files),
		progressbar.OptionSetDescription("Extracting embeddings"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("photos"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
	)

	result, err := manager.Rebuild(cmd.Context(), func(done, total int) {
		_ = bar.Set(done)
	})
	if err != nil {
		return fmt.Errorf("rebuild failed: %w", err)
	}
	_ = bar.Finish()

	fmt.Printf("\n\nIndexed %d photos (%d skipped, no face) in %s\n", result.Indexed, result.Skipped, result.Duration.Round(time.Millisecond))
	return nil
}
