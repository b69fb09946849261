package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/retailcore/sales-system/sales-service/config"
	"github.com/retailcore/sales-system/sales-service/domain"
	"github.com/retailcore/sales-system/sales-service/handlers"
	"github.com/retailcore/sales-system/shared/telemetry"
)

func main() {
	// A broken transition graph is a programming error, catch it before
	// serving traffic
	if err := domain.ValidateGraph(); err != nil {
		log.Fatalf("Invalid saga state graph: %v", err)
	}

	// Load configuration
	cfg, err := config.ReadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	fmt.Printf("Starting %s in %s environment on port %s\n", cfg.ServiceName, cfg.Env, cfg.Port)

	// Initialize dependencies
	ctx := context.Background()
	deps, err := config.BuildDependencies(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to build dependencies: %v", err)
	}
	defer func() {
		if err := deps.Close(); err != nil {
			log.Printf("Error closing dependencies: %v", err)
		}
	}()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Start event subscriber
	go func() {
		subCtx := runCtx
		if deps.Telemetry != nil {
			subCtx = telemetry.WithTelemetry(subCtx, deps.Telemetry)
		}
		if err := deps.EventSubscriber.Subscribe(subCtx, "", deps.SaleEventHandlers); err != nil {
			log.Printf("Error in event subscriber: %v", err)
		}
	}()

	// Start the timeout and race detection sweeps
	go func() {
		sweepCtx := runCtx
		if deps.Telemetry != nil {
			sweepCtx = telemetry.WithTelemetry(sweepCtx, deps.Telemetry)
		}
		deps.TimeoutSweep.RunPeriodically(sweepCtx, cfg.Saga.SweepInterval)
	}()
	go func() {
		sweepCtx := runCtx
		if deps.Telemetry != nil {
			sweepCtx = telemetry.WithTelemetry(sweepCtx, deps.Telemetry)
		}
		ticker := time.NewTicker(cfg.Saga.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-sweepCtx.Done():
				return
			case <-ticker.C:
				if _, err := deps.SagaManager.DetectAndLogRaceConditions(sweepCtx); err != nil {
					log.Printf("Error detecting saga races: %v", err)
				}
			}
		}
	}()

	// Setup HTTP router
	router := setupRouter(cfg, deps)

	// Setup and start HTTP server
	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Start server in goroutine
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	fmt.Printf("Shutting down %s...\n", cfg.ServiceName)
	cancel()

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	fmt.Printf("%s stopped\n", cfg.ServiceName)
}

func setupRouter(cfg *config.Config, deps *config.Dependencies) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	// Telemetry middleware (inject telemetry into context)
	if deps.Telemetry != nil {
		r.Use(telemetry.Middleware(deps.Telemetry))
	}

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Metrics endpoint for Prometheus
	r.Handle("/metrics", handlers.NewMetricsHandler())

	// Register sale routes
	deps.SaleHandlers.RegisterRoutes(r)

	return r
}
