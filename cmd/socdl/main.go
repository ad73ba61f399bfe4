// Command socdl runs the social media download service: an HTTP API that
// classifies URLs, acquires media through a yt-dlp strategy ladder, and
// serves the resulting artifacts.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/socdl/socdl/internal/cache"
	"github.com/socdl/socdl/internal/downloader"
	"github.com/socdl/socdl/internal/fetch"
	"github.com/socdl/socdl/internal/server"
	"github.com/socdl/socdl/internal/thumbnail"
	"github.com/socdl/socdl/internal/tracker"
	"github.com/socdl/socdl/pkg/config"
	"github.com/socdl/socdl/pkg/events"
	"github.com/socdl/socdl/pkg/storage"
	_ "github.com/socdl/socdl/pkg/storage/backends"
)

func main() {
	_ = godotenv.Load() // best-effort: load .env if present

	var configPath string

	root := &cobra.Command{
		Use:          "socdl",
		Short:        "Social media download service",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), configPath)
		},
	}

	root.SetOut(os.Stdout)
	root.SetErr(os.Stderr)
	root.SilenceErrors = true
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to JSON config file")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server (default command)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), configPath)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print service and yt-dlp versions",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", server.ServiceName, server.Version)
			fmt.Fprintf(cmd.OutOrStdout(), "yt-dlp %s\n", fetch.NewYTDLP().Version(cmd.Context()))
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serve(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.Download.Dir, 0o750); err != nil {
		return fmt.Errorf("create download directory %s: %w", cfg.Download.Dir, err)
	}

	store, err := storage.Open(cfg.Storage.Type, cfg.Storage.Options)
	if err != nil {
		return fmt.Errorf("open %s storage backend: %w", cfg.Storage.Type, err)
	}
	defer store.Close()

	extractor := fetch.NewYTDLP()
	if cfg.Download.YTDLPBinary != "" {
		extractor.Binary = cfg.Download.YTDLPBinary
	}
	if !extractor.Available() {
		log.Printf("Warning: yt-dlp binary %q not found, extraction downloads will fail", extractor.Binary)
	}

	emitter := events.NewEmitter()
	defer emitter.Close()
	registerEventLog(emitter)

	tr := tracker.New()
	index := cache.Load(ctx, store, cfg.Download.Dir)

	dl := downloader.New(downloader.Options{
		Dir:          cfg.Download.Dir,
		MinFreeBytes: cfg.Download.MinFreeBytes,
		Tracker:      tr,
		Index:        index,
		Emitter:      emitter,
		Extractor:    extractor,
	})

	srv := server.New(server.Options{
		Downloader: dl,
		Tracker:    tr,
		Index:      index,
		Store:      store,
		Prober:     extractor,
		Thumbs:     thumbnail.NewRenderer(cfg.Download.Dir),
		Emitter:    emitter,
		Dir:        cfg.Download.Dir,
	})

	httpSrv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      srv.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("%s %s listening on %s (artifacts in %s, %s storage)",
			server.ServiceName, server.Version, httpSrv.Addr, cfg.Download.Dir, cfg.Storage.Type)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Println("shutdown signal received, draining connections")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	log.Println("server stopped")

	return nil
}

// registerEventLog logs the lifecycle events worth seeing in service output.
// Progress updates flow through the tracker, not the emitter, so this stays
// quiet during transfers.
func registerEventLog(emitter *events.Emitter) {
	emitter.On(events.EventTaskSubmitted, func(e events.Event) {
		log.Printf("task %s submitted for %s", e.TaskID, e.URL)
	})
	emitter.On(events.EventTaskCompleted, func(e events.Event) {
		log.Printf("task %s completed: %v", e.TaskID, e.Data["filename"])
	})
	emitter.On(events.EventTaskFailed, func(e events.Event) {
		log.Printf("task %s failed: %v", e.TaskID, e.Data["error"])
	})
	emitter.On(events.EventStrategyFailed, func(e events.Event) {
		log.Printf("task %s strategy %v failed: %v", e.TaskID, e.Data["strategy"], e.Data["error"])
	})
	emitter.On(events.EventCacheHit, func(e events.Event) {
		log.Printf("cache hit for %s: %v", e.URL, e.Data["filename"])
	})
}
