package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-finder/internal/config"
	"github.com/kozaktomas/face-finder/internal/embedding"
	"github.com/kozaktomas/face-finder/internal/gallery"
	"github.com/kozaktomas/face-finder/internal/match"
)

var matchCmd = &cobra.Command{
	Use:   "match <photo>",
	Short: "Match a photo against the indexed gallery",
	Args:  cobra.ExactArgs(1),
	RunE:  runMatch,
}

func init() {
	matchCmd.Flags().Float64("threshold", 0, "Similarity threshold (defaults to MATCH_THRESHOLD)")
	matchCmd.Flags().Bool("json", false, "Output result as JSON")
	rootCmd.AddCommand(matchCmd)
}

func runMatch(cmd *cobra.Command, args []string) error {
	cfg := config.Load()

	threshold := mustGetFloat64(cmd, "threshold")
	if threshold <= 0 {
		threshold = cfg.Match.QueryThreshold
	}

	extractor := embedding.NewClient(cfg.Embedding.URL, cfg.Embedding.Model)
	store := gallery.NewStore(cfg.Gallery.IndexPath)
	manager := gallery.NewManager(cfg.Gallery.Dir, store, extractor, cfg.Embedding.Model, cfg.Embedding.Dim)

	if err := manager.LoadPersisted(); err != nil {
		return fmt.Errorf("could not load index: %w", err)
	}
	if manager.Snapshot() == nil {
		return errors.New("no index found, run 'face-finder rebuild' first")
	}

	engine := match.NewEngine(manager, extractor, cfg.Match.HNSWCutoff)
	result, err := engine.SearchFile(cmd.Context(), args[0], threshold)
	if err != nil {
		if errors.Is(err, embedding.ErrNoFace) {
			return fmt.Errorf("no face detected in %s", args[0])
		}
		return fmt.Errorf("match failed: %w", err)
	}

	if mustGetBool(cmd, "json") {
		return json.NewEncoder(os.Stdout).Encode(result)
	}

	if result.Found {
		fmt.Printf("Match: %s (similarity %.3f, confidence %.1f%%)\n", result.Identity, result.Similarity, result.Confidence*100)
	} else {
		fmt.Printf("No match above threshold %.2f (best similarity %.3f)\n", threshold, result.Similarity)
	}
	return nil
}
