package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/overlayforge/orchestrator/internal/api"
	"github.com/overlayforge/orchestrator/internal/artifacts"
	"github.com/overlayforge/orchestrator/internal/config"
	"github.com/overlayforge/orchestrator/internal/db"
	"github.com/overlayforge/orchestrator/internal/events"
	"github.com/overlayforge/orchestrator/internal/job"
	"github.com/overlayforge/orchestrator/internal/preview"
	"github.com/overlayforge/orchestrator/internal/renderer"
)

func main() {
	cfg := config.Load()

	log.Printf("Starting preview orchestrator node: %s", cfg.NodeID)
	log.Printf("HTTP port: %d", cfg.HTTPPort)

	store, cleanup, err := openStore(cfg)
	if err != nil {
		log.Fatalf("Failed to open job store: %v", err)
	}
	defer cleanup()

	files, err := artifacts.NewStore(cfg.WorkDir)
	if err != nil {
		log.Fatalf("Failed to open artifact store: %v", err)
	}

	bus := events.NewBusWithGrace(cfg.StreamCloseGrace)
	mgr := preview.NewManager(store, bus, files)

	cli, err := renderer.NewClient()
	if err != nil {
		log.Fatalf("Docker not available: %v", err)
	}
	defer cli.Close()

	ctl := renderer.NewDockerController(cli, renderer.Options{
		Image:     cfg.RendererImage,
		WorkRoot:  cfg.WorkDir,
		MemoryMB:  cfg.RendererMemoryMB,
		StopGrace: cfg.StopGrace,
		TailLines: cfg.LogTailLines,
	}, mgr.Hooks())
	mgr.Bind(ctl)

	// Jobs left running or paused by a previous process have no live
	// renderer anymore.
	mgr.RecoverStale()

	router := api.NewRouter(cfg, mgr, bus)

	server := &http.Server{
		Addr:        cfg.Addr(),
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("Listening on %s", cfg.Addr())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	<-done
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
	log.Println("Stopped")
}

func openStore(cfg *config.Config) (*job.Store, func(), error) {
	if cfg.Ephemeral {
		return job.NewStore(), func() {}, nil
	}

	kv, err := db.NewStore(cfg.DataDir)
	if err != nil {
		return nil, nil, err
	}
	store, err := job.NewPersistentStore(kv)
	if err != nil {
		kv.Close()
		return nil, nil, err
	}
	return store, func() { kv.Close() }, nil
}
