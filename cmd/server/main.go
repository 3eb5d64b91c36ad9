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
	"time"

	"github.com/shelfsignal/backend/config"
	httpDelivery "github.com/shelfsignal/backend/internal/delivery/http"
	"github.com/shelfsignal/backend/internal/infrastructure/cache"
	"github.com/shelfsignal/backend/internal/infrastructure/metrics"
	"github.com/shelfsignal/backend/internal/infrastructure/pagesource"
	"github.com/shelfsignal/backend/internal/infrastructure/queue"
	"github.com/shelfsignal/backend/internal/infrastructure/remote"
	"github.com/shelfsignal/backend/internal/usecase"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	log.Printf("Starting ShelfSignal Backend v1.0.0")
	log.Printf("Environment: %s", cfg.Server.Environment)
	log.Printf("Port: %s", cfg.Server.Port)
	log.Printf("Store Type: %s", cfg.Store.Type)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize infrastructure dependencies
	kv, err := cache.Open(ctx, cfg.Store)
	if err != nil {
		log.Fatalf("Failed to open local store: %v", err)
	}
	defer func() {
		if err := kv.Close(); err != nil {
			log.Printf("[STORE] close: %v", err)
		}
	}()

	promMetrics := metrics.New()
	debug := cfg.Server.Environment == "development"

	// Initialize usecase layer
	store, err := usecase.NewHistoryStore(kv, usecase.HistoryStoreConfig{
		UserID:             cfg.Remote.UserID,
		MaxEntries:         cfg.History.MaxEntries,
		EnableDebugLogging: debug,
	})
	if err != nil {
		log.Fatalf("Failed to create history store: %v", err)
	}

	platforms, err := usecase.NewDefaultPlatformRegistry(usecase.ExtractorConfig{
		UpliftPercent:      cfg.Extraction.UpliftPercent,
		MinCount:           cfg.Extraction.MinCount,
		MaxCount:           cfg.Extraction.MaxCount,
		EnableDebugLogging: cfg.Extraction.Debug,
	})
	if err != nil {
		log.Fatalf("Failed to create platforms: %v", err)
	}
	log.Printf("Extraction: uplift=%d%%, window=[%d, %d], platforms=%v",
		cfg.Extraction.UpliftPercent, cfg.Extraction.MinCount, cfg.Extraction.MaxCount, platforms.IDs())

	var coordinator *usecase.SyncCoordinator
	if cfg.Remote.BaseURL != "" {
		remoteClient := remote.NewClient(remote.ClientConfig{
			BaseURL:           cfg.Remote.BaseURL,
			APIKey:            cfg.Remote.APIKey,
			Timeout:           cfg.Remote.Timeout,
			RequestsPerSecond: cfg.Remote.RequestsPerSecond,
			Burst:             cfg.Remote.Burst,
		})
		remoteClient.SetDebug(debug)

		coordinator = usecase.NewSyncCoordinator(store, remoteClient, queue.NewKVQueue(kv), promMetrics, usecase.SyncConfig{
			MaxAttempts:        cfg.Sync.MaxAttempts,
			BaseBackoff:        cfg.Sync.BaseBackoff,
			MaxBackoff:         cfg.Sync.MaxBackoff,
			EnableDebugLogging: debug,
		})
		log.Printf("Remote persistence: %s (user %s, sync every %s)", cfg.Remote.BaseURL, cfg.Remote.UserID, cfg.Sync.Interval)
	} else {
		log.Printf("WARNING: remote persistence not configured - histories stay local")
	}

	tracking := usecase.NewTrackingService(platforms, store, coordinator, promMetrics, usecase.TrackingServiceConfig{
		PushOnObserve:      cfg.Sync.PushOnObserve,
		EnableDebugLogging: debug,
	})

	var collector *usecase.Collector
	if cfg.Source.BaseURL != "" {
		source := pagesource.NewClient(pagesource.ClientConfig{
			BaseURL:           cfg.Source.BaseURL,
			Timeout:           cfg.Source.Timeout,
			RequestsPerSecond: cfg.Source.RequestsPerSecond,
		})
		source.SetDebug(debug)

		collector, err = usecase.NewCollector(source, tracking, usecase.CollectorConfig{
			BatchSize:  cfg.Collector.BatchSize,
			BatchDelay: cfg.Collector.BatchDelay,
			MaxPages:   cfg.Collector.MaxPages,
		})
		if err != nil {
			log.Fatalf("Failed to create collector: %v", err)
		}
		log.Printf("Snippet feed: %s (batch=%d, delay=%s, pages=%d)",
			cfg.Source.BaseURL, cfg.Collector.BatchSize, cfg.Collector.BatchDelay, cfg.Collector.MaxPages)
	}

	if coordinator != nil {
		go coordinator.Run(ctx, cfg.Sync.Interval)
	}

	// Create HTTP handler with dependencies
	handler := httpDelivery.NewHandler(tracking, collector, coordinator)

	// Setup router
	router := httpDelivery.SetupRouter(cfg, handler, promMetrics)

	// Start server
	addr := fmt.Sprintf(":%s", cfg.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("Server listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown: %v", err)
	}
}

func init() {
	// Set log flags for better debugging
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	log.SetOutput(os.Stdout)
}
