package main

import (
	"context"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"geobatch/internal/config"
	"geobatch/internal/ingest"
	"geobatch/internal/job"
	"geobatch/internal/logging"
	"geobatch/internal/spatial"
	"geobatch/internal/store"
	"geobatch/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	// Load and validate configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging based on config
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"db_max_conns", cfg.Database.MaxConns,
		"jobs_max_concurrent", cfg.Jobs.MaxConcurrent,
		"jobs_chunk_size", cfg.Jobs.ChunkSize,
	)

	// Parse and configure connection pool
	poolConfig, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		slog.Error("failed to parse database URL", "error", err)
		os.Exit(1)
	}

	poolConfig.MaxConns = int32(cfg.Database.MaxConns)
	poolConfig.MinConns = int32(cfg.Database.MinConns)
	poolConfig.MaxConnLifetime = cfg.Database.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.Database.MaxConnIdleTime

	// Connect to database
	ctx := context.Background()
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		slog.Error("failed to ping database", "error", err)
		os.Exit(1)
	}

	// Log which database we connected to
	if u, err := url.Parse(cfg.Database.URL); err == nil {
		dbName := strings.TrimPrefix(u.Path, "/")
		slog.Info("connected to database", "name", dbName)
	} else {
		slog.Info("connected to database")
	}

	// Spatial store: schema and indexes must exist before any job runs
	st := store.New(pool)
	if err := st.EnsureSchema(ctx); err != nil {
		slog.Error("failed to ensure schema", "error", err)
		os.Exit(1)
	}
	if err := st.EnsureIndexes(ctx); err != nil {
		slog.Error("failed to ensure indexes", "error", err)
		os.Exit(1)
	}

	// Spatial query service over the store
	spatialSvc := spatial.NewService(st, spatial.Options{
		CacheTTL:        cfg.Spatial.CacheTTL,
		CacheMaxEntries: cfg.Spatial.CacheMaxEntries,
		NearbyLimit:     cfg.Spatial.NearbyLimit,
	})

	// Job manager with one runner per job type
	manager := job.NewManager(job.NewMemoryStore(), cfg.Jobs.MaxConcurrent)
	importer := ingest.NewImporter(st, cfg.Jobs.ChunkSize)
	manager.Register(job.TypeImport, ingest.NewImportRunner(importer, spatialSvc))
	manager.Register(job.TypeExport, ingest.NewExportRunner(st, cfg.Export.Dir, cfg.Jobs.ChunkSize))
	manager.Register(job.TypeValidation, ingest.NewValidationRunner())
	manager.Register(job.TypeTransformation, ingest.NewTransformRunner(st, st, spatialSvc, cfg.Jobs.ChunkSize))

	server := web.NewServer(cfg, manager, spatialSvc, st)

	// Create cancellable context for background routines
	jobCtx, cancelJobs := context.WithCancel(context.Background())

	// Sweep finished jobs on a fixed interval
	go manager.StartCleanupScheduler(jobCtx, cfg.Jobs.CleanupInterval, cfg.Jobs.CleanupMaxAge)

	// Periodic index maintenance keeps spatial queries fast as data grows
	if cfg.Spatial.IndexMaintenanceInterval > 0 {
		go st.StartIndexMaintenance(jobCtx, cfg.Spatial.IndexMaintenanceInterval)
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		// Stop background routines
		cancelJobs()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Wait for running jobs to reach a chunk boundary or finish
		if running := manager.RunningCount(); running > 0 {
			slog.Info("waiting for running jobs", "active", running)
			if err := manager.WaitForDrain(shutdownCtx); err != nil {
				slog.Warn("jobs did not finish in time", "error", err)
			} else {
				slog.Info("all jobs finished")
			}
		}

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	// Start server (uses addr from config internally)
	slog.Info("server starting", "addr", cfg.Server.Addr())
	if err := server.Start(); err != nil {
		slog.Info("server stopped", "error", err)
	}
}
