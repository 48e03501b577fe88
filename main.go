// mediagenapi/main.go
package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"mediagenapi/api"
	"mediagenapi/config"
	"mediagenapi/generate"
	"mediagenapi/job"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// 2. Initialize the job registry, settings store and generation service
	registry := job.NewRegistry()
	store := config.NewStore(cfg.StoragePath)
	svc := generate.NewService(cfg, store, registry)
	if err := svc.EnsureStorageDirs(); err != nil {
		log.Fatalf("Failed to prepare storage directories: %v", err)
	}

	// 3. Set up router and server
	router := api.SetupRouter(svc, registry, cfg, store)
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// 4. Background jobs run until completion or process shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc.Start(ctx)

	go func() {
		log.Printf("Server starting on port %s (storage: %s, lip sync provider: %s)",
			cfg.Port, cfg.StoragePath, cfg.LipsyncProvider)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	// 5. Wait for interrupt signal for graceful shutdown
	<-ctx.Done()

	stop()
	log.Println("Shutting down gracefully, press Ctrl+C again to force")

	// In-flight jobs are abandoned on shutdown; job history is process-scoped.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal("Server forced to shutdown: ", err)
	}

	log.Println("Server exiting")
}
