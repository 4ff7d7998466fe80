package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "asset_atlas_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "asset_atlas_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "asset_atlas_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)
)

// Database metrics
var (
	DBQueryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "asset_atlas_db_queries_total",
			Help: "Total number of database queries",
		},
		[]string{"operation", "status"},
	)

	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "asset_atlas_db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"operation"},
	)

	DBConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "asset_atlas_db_connections_open",
			Help: "Number of open database connections",
		},
	)

	DBTransactionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "asset_atlas_db_transaction_duration_seconds",
			Help:    "Database transaction duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"outcome"}, // "commit" or "rollback"
	)

	DBRowsAffected = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "asset_atlas_db_rows_affected",
			Help:    "Number of rows affected by write operations",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"operation"},
	)
)

// Scanner metrics
var (
	ScanRunsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "asset_atlas_scan_runs_total",
			Help: "Total number of scan runs",
		},
	)

	ScanLastRunTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "asset_atlas_scan_last_run_timestamp",
			Help: "Timestamp of the last scan run",
		},
	)

	ScanLastRunDuration = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "asset_atlas_scan_last_run_duration_seconds",
			Help: "Duration of the last scan run in seconds",
		},
	)

	ScanFilesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "asset_atlas_scan_files_processed_total",
			Help: "Total number of files processed by scans",
		},
		[]string{"outcome"}, // "indexed", "skipped", "failed"
	)

	ScanErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "asset_atlas_scan_errors_total",
			Help: "Total number of scan errors",
		},
	)

	ScanRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "asset_atlas_scan_running",
			Help: "Whether a scan is currently running (1 = running, 0 = idle)",
		},
	)

	ScanPhase = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "asset_atlas_scan_phase",
			Help: "Current scan phase as an ordinal (0 = idle, 6 = complete)",
		},
	)
)

// Dependency resolver metrics
var (
	DepsEdgesExtracted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "asset_atlas_deps_edges_extracted_total",
			Help: "Total number of dependency edges extracted by confidence tier",
		},
		[]string{"confidence"},
	)

	DepsEdgesResolved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "asset_atlas_deps_edges_resolved_total",
			Help: "Total number of dependency edges by resolution status",
		},
		[]string{"status"}, // "resolved", "unresolved"
	)

	DepsResolveDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "asset_atlas_deps_resolve_duration_seconds",
			Help:    "Dependency resolution pass duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
	)
)

// Thumbnail metrics
var (
	ThumbnailGenerationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "asset_atlas_thumbnail_generations_total",
			Help: "Total number of thumbnail generations",
		},
		[]string{"type", "status"},
	)

	ThumbnailGenerationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "asset_atlas_thumbnail_generation_duration_seconds",
			Help:    "Thumbnail generation duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"type"},
	)

	ThumbnailCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "asset_atlas_thumbnail_cache_hits_total",
			Help: "Total number of thumbnail cache hits by tier",
		},
		[]string{"tier"}, // "memory", "store"
	)

	ThumbnailCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "asset_atlas_thumbnail_cache_misses_total",
			Help: "Total number of thumbnail cache misses",
		},
	)

	ThumbnailCacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "asset_atlas_thumbnail_cache_size_bytes",
			Help: "Total size of the in-memory thumbnail cache in bytes",
		},
	)

	ThumbnailGeneratorRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "asset_atlas_thumbnail_generator_running",
			Help: "Whether bulk thumbnail generation is currently running (1 = running, 0 = idle)",
		},
	)
)

// Asset catalog metrics
var (
	AssetsTotal = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "asset_atlas_assets_total",
			Help: "Total number of indexed assets by type",
		},
		[]string{"type"},
	)

	ExportsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "asset_atlas_exports_total",
			Help: "Total number of bundle manifest exports",
		},
		[]string{"status"},
	)
)

// Memory management metrics
var (
	MemoryUsageRatio = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "asset_atlas_memory_usage_ratio",
			Help: "Current memory usage as a ratio of the configured limit",
		},
	)

	MemoryPaused = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "asset_atlas_memory_paused",
			Help: "Whether processing is paused due to memory pressure (1 = paused)",
		},
	)

	MemoryGCPauses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "asset_atlas_memory_gc_pauses_total",
			Help: "Total number of forced GC runs triggered by memory pressure",
		},
	)
)

// Application info metric
var (
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "asset_atlas_app_info",
			Help: "Application information",
		},
		[]string{"version", "commit", "go_version"},
	)
)

// SetAppInfo sets the application info metric
func SetAppInfo(version, commit, goVersion string) {
	AppInfo.WithLabelValues(version, commit, goVersion).Set(1)
}
