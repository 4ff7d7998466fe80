package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"asset-atlas/internal/database"
	"asset-atlas/internal/deps"
	"asset-atlas/internal/handlers"
	"asset-atlas/internal/logging"
	"asset-atlas/internal/memory"
	"asset-atlas/internal/metrics"
	"asset-atlas/internal/middleware"
	"asset-atlas/internal/orchestrator"
	"asset-atlas/internal/scanner"
	"asset-atlas/internal/startup"
	"asset-atlas/internal/thumbs"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	startTime := time.Now()

	// Load configuration
	config, err := startup.LoadConfig()
	if err != nil {
		startup.LogFatal("Configuration error: %v", err)
	}

	metrics.SetAppInfo(startup.Version, startup.Commit, runtime.Version())

	// Initialize database
	dbStart := time.Now()
	db, err := database.New(context.Background(), config.DatabasePath)
	if err != nil {
		startup.LogFatal("Failed to initialize database: %v", err)
	}
	defer db.Close()
	startup.LogDatabaseInit(time.Since(dbStart))

	// Refresh database connection gauges periodically
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		for range ticker.C {
			db.UpdateDBMetrics()
		}
	}()

	// Memory backpressure for batch commits
	monitor := memory.NewMonitor(memory.DefaultConfig())
	monitor.Start()
	defer monitor.Stop()

	// Thumbnail pipeline
	if err := thumbs.InitVips(); err != nil {
		logging.Warn("libvips unavailable, exotic formats will not decode: %v", err)
	}
	defer thumbs.ShutdownVips()
	startup.LogThumbnailInit(config.ThumbnailsEnabled)
	gen := thumbs.NewGenerator(db, config.ThumbnailDir, config.ThumbnailSize, config.MaxDecodeBytes, config.ThumbnailsEnabled)

	// Pipeline components
	scanConfig := scanner.DefaultConfig()
	scanConfig.BatchSize = config.ScanBatchSize
	sc := scanner.New(db, scanConfig)
	resolver := deps.New(db)
	orch := orchestrator.New(db, sc, resolver, gen, monitor)

	// Initialize handlers
	h := handlers.New(db, orch, resolver, gen)

	// Setup router
	router := setupRouter(h, config)

	// Log routes dynamically
	startup.LogHTTPRoutes(router, config.LogHealthChecks)

	// Apply logging middleware
	handler := middleware.Logger(config.LogHealthChecks)(router)

	// Create server
	srv := &http.Server{
		Addr:         ":" + config.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	// Metrics server on its own port
	var metricsSrv *http.Server
	if config.MetricsEnabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{
			Addr:         ":" + config.MetricsPort,
			Handler:      metricsMux,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != http.ErrServerClosed {
				logging.Error("Metrics server error: %v", err)
			}
		}()
	}

	// Start graceful shutdown handler
	go handleShutdown(srv, metricsSrv, orch)

	// Start server
	startup.LogServerStarted(startup.ServerConfig{
		Port:            config.Port,
		MetricsPort:     config.MetricsPort,
		MetricsEnabled:  config.MetricsEnabled,
		StartupDuration: time.Since(startTime),
	})
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		startup.LogFatal("Server error: %v", err)
	}
}

func setupRouter(h *handlers.Handlers, config *startup.Config) *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.Metrics())

	// Health check routes
	r.HandleFunc("/health", h.HealthCheck).Methods("GET")
	r.HandleFunc("/healthz", h.HealthCheck).Methods("GET")

	// Metrics are also reachable on the API port for single-port deployments
	if config.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	}

	api := r.PathPrefix("/api").Subrouter()

	// Projects and pipeline control
	api.HandleFunc("/projects", h.SelectRoot).Methods("POST")
	api.HandleFunc("/projects", h.ListProjects).Methods("GET")
	api.HandleFunc("/projects/{id}/scan", h.StartScan).Methods("POST")
	api.HandleFunc("/projects/{id}/stats", h.ProjectStats).Methods("GET")
	api.HandleFunc("/maintenance/optimize", h.Optimize).Methods("POST")
	api.HandleFunc("/scan/cancel", h.CancelScan).Methods("POST")
	api.HandleFunc("/progress", h.Progress).Methods("GET")

	// Asset catalog
	api.HandleFunc("/assets", h.QueryAssets).Methods("GET")
	api.HandleFunc("/assets/{id}", h.GetAsset).Methods("GET")
	api.HandleFunc("/assets/{id}/dependencies", h.GetDependencies).Methods("GET")
	api.HandleFunc("/assets/{id}/dependents", h.GetDependents).Methods("GET")
	api.HandleFunc("/assets/{id}/bundle", h.GetBundle).Methods("GET")
	api.HandleFunc("/assets/{id}/manifest", h.BundleManifest).Methods("GET")
	api.HandleFunc("/assets/{id}/thumbnail", h.Thumbnail).Methods("GET")
	api.HandleFunc("/assets/{id}/export", h.ExportBundle).Methods("POST")

	return r
}

func handleShutdown(srv, metricsSrv *http.Server, orch *orchestrator.Orchestrator) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	startup.LogShutdownInitiated(sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	startup.LogShutdownStep("Stopping scan pipeline")
	if err := orch.CancelScan(); err == nil {
		startup.LogShutdownStepComplete("Scan pipeline stopped")
	}

	startup.LogShutdownStep("Shutting down HTTP server")
	if err := srv.Shutdown(ctx); err != nil {
		logging.Warn("Server shutdown error: %v", err)
	} else {
		startup.LogShutdownStepComplete("HTTP server stopped")
	}

	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(ctx); err != nil {
			logging.Warn("Metrics server shutdown error: %v", err)
		}
	}

	startup.LogShutdownComplete()
}
