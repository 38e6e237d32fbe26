package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-finder/internal/config"
	"github.com/kozaktomas/face-finder/internal/detect"
	"github.com/kozaktomas/face-finder/internal/embedding"
	"github.com/kozaktomas/face-finder/internal/gallery"
	"github.com/kozaktomas/face-finder/internal/match"
	"github.com/kozaktomas/face-finder/internal/reports"
	"github.com/kozaktomas/face-finder/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the face finder web service",
	Long: `Starts the HTTP API and the live stream endpoint. On startup the
persisted index is loaded if it matches the gallery; otherwise a rebuild is
scheduled in the background. The gallery directory is watched so new report
photos trigger a rebuild automatically.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntP("port", "p", 8080, "Port to listen on")
	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	rootCmd.AddCommand(serveCmd)
}

// ensureDirectories creates the photo directories on a fresh install so the
// gallery watcher and sighting capture have somewhere to work.
func ensureDirectories(cfg *config.Config) error {
	for _, dir := range []string{cfg.Gallery.Dir, cfg.Gallery.SightingsDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("could not create directory %s: %w", dir, err)
		}
	}
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	host := mustGetString(cmd, "host")
	port := mustGetInt(cmd, "port")

	if err := ensureDirectories(cfg); err != nil {
		return err
	}

	extractor := embedding.NewClient(cfg.Embedding.URL, cfg.Embedding.Model)
	store := gallery.NewStore(cfg.Gallery.IndexPath)
	manager := gallery.NewManager(cfg.Gallery.Dir, store, extractor, cfg.Embedding.Model, cfg.Embedding.Dim)

	if err := manager.LoadPersisted(); err != nil {
		log.Printf("Could not load persisted index: %v", err)
	}
	if manager.ShouldRebuild() {
		log.Println("Index is stale, scheduling rebuild")
		manager.RebuildAsync()
	}

	engine := match.NewEngine(manager, extractor, cfg.Match.HNSWCutoff)
	detector := detect.New(cfg.Stream.MinFaceSize)

	watcher := gallery.NewWatcher(cfg.Gallery.Dir, cfg.Watcher.Debounce, func() {
		if !manager.RebuildAsync() {
			log.Println("Gallery changed during a rebuild, change will be picked up next time")
		}
	})
	if err := watcher.Start(); err != nil {
		log.Printf("Gallery watcher disabled: %v", err)
	} else {
		defer watcher.Stop()
	}

	deps := web.Deps{
		Manager:  manager,
		Engine:   engine,
		Detector: detector,
	}

	// The report database is optional; without it matches are returned
	// without report details.
	if cfg.Database.URL != "" {
		pool, err := reports.NewPool(&cfg.Database)
		if err != nil {
			return fmt.Errorf("failed to initialize PostgreSQL: %w", err)
		}
		defer pool.Close()

		if err := pool.Migrate(cmd.Context()); err != nil {
			return fmt.Errorf("database migration failed: %w", err)
		}
		deps.Reports = reports.NewRepository(pool)
		log.Println("Report database connected")
	} else {
		log.Println("DATABASE_URL not set, running without report details")
	}

	server := web.NewServer(cfg, host, port, deps)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			fmt.Printf("Error during shutdown: %v\n", err)
		}
	}()

	fmt.Printf("Starting Face Finder on http://%s:%d\n", host, port)
	fmt.Println("Press Ctrl+C to stop")

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}
