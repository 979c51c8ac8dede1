package cmd

import (
	"context"
	"fmt"
	"log/slog"
	stdhttp "net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/opensensor/lightnvr/internal/backup"
	"github.com/opensensor/lightnvr/internal/config"
	"github.com/opensensor/lightnvr/internal/database"
	"github.com/opensensor/lightnvr/internal/database/migrations"
	"github.com/opensensor/lightnvr/internal/detection"
	"github.com/opensensor/lightnvr/internal/health"
	"github.com/opensensor/lightnvr/internal/hls"
	internalhttp "github.com/opensensor/lightnvr/internal/http"
	"github.com/opensensor/lightnvr/internal/http/handlers"
	"github.com/opensensor/lightnvr/internal/httpclient"
	"github.com/opensensor/lightnvr/internal/ingest"
	"github.com/opensensor/lightnvr/internal/models"
	"github.com/opensensor/lightnvr/internal/observability"
	"github.com/opensensor/lightnvr/internal/recsync"
	"github.com/opensensor/lightnvr/internal/repository"
	"github.com/opensensor/lightnvr/internal/retention"
	"github.com/opensensor/lightnvr/internal/storage"
	"github.com/opensensor/lightnvr/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the lightnvr server",
	Long: `Start the NVR: per-stream capture pipelines, the recording catalog,
the retention engine, and the HTTP API.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("storage", "./data", "Storage root directory")

	viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	viper.BindPFlag("storage.base_dir", serveCmd.Flags().Lookup("storage"))
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	// config.Load reads its own viper instance, so explicitly set flags
	// are applied here, over the file and environment values.
	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.Server.Host, _ = flags.GetString("host")
	}
	if flags.Changed("port") {
		cfg.Server.Port, _ = flags.GetInt("port")
	}
	if flags.Changed("storage") {
		cfg.Storage.BaseDir, _ = flags.GetString("storage")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating flags: %w", err)
	}

	logger := observability.NewLogger(cfg.Logging)
	observability.SetDefault(logger)

	if err := storage.EnsureLayout(cfg.Storage); err != nil {
		return fmt.Errorf("preparing storage layout: %w", err)
	}

	// Catalog: open failure or integrity failure aborts startup.
	db, err := database.Open(cfg.DatabasePath(), cfg.Database, logger, nil)
	if err != nil {
		return fmt.Errorf("opening catalog: %w", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	migrator := migrations.NewMigrator(db.DB, logger)
	migrator.RegisterAll(migrations.AllMigrations())
	if err := migrator.Up(ctx); err != nil {
		return fmt.Errorf("migrating catalog: %w", err)
	}
	if err := db.IntegrityCheck(ctx); err != nil {
		return fmt.Errorf("catalog integrity: %w", err)
	}

	streamRepo := repository.NewStreamRepository(db.DB)
	recordingRepo := repository.NewRecordingRepository(db.DB)
	detectionRepo := repository.NewDetectionRepository(db.DB)
	eventRepo := repository.NewEventRepository(db.DB)
	motionRepo := repository.NewMotionRepository(db.DB)

	httpClient := httpclient.New(httpclient.Config{
		Timeout:             cfg.Detection.Timeout,
		RetryAttempts:       1,
		RetryDelay:          time.Second,
		RetryMaxDelay:       5 * time.Second,
		CircuitThreshold:    httpclient.DefaultCircuitThreshold,
		CircuitTimeout:      httpclient.DefaultCircuitTimeout,
		Logger:              observability.WithComponent(logger, "httpclient"),
		EnableDecompression: true,
	})
	detectorFactory := detection.NewFactory(
		cfg.Detection,
		cfg.Storage.ModelsPath(),
		httpClient,
		observability.WithComponent(logger, "detection"),
	)

	hlsServer := hls.NewServer(cfg.HLS, observability.WithComponent(logger, "hls"))
	writerRegistry := ingest.NewWriterRegistry(observability.WithComponent(logger, "writers"))

	registry := ingest.NewRegistry(
		cfg.Ingest.MaxStreams,
		cfg.Ingest.StopTimeout,
		func(stream *models.Stream) (*ingest.Thread, error) {
			if err := storage.EnsureStreamDirs(cfg.Storage, stream.Name); err != nil {
				return nil, err
			}

			var detector detection.Detector
			if stream.IsDetectionEnabled() {
				d, err := detectorFactory.ForStream(stream)
				if err != nil {
					// Detection failure degrades to plain buffering, it
					// does not keep the stream from capturing.
					logger.Warn("detector unavailable, stream runs without detection",
						slog.String("stream", stream.Name),
						slog.String("error", err.Error()),
					)
				} else {
					detector = d
				}
			}

			threadCfg := ingest.ThreadConfig{
				Stream:     stream,
				Ingest:     cfg.Ingest,
				Storage:    cfg.Storage,
				Grace:      cfg.Detection.Grace,
				Detector:   detector,
				Recordings: recordingRepo,
				Detections: detectionRepo,
				Events:     eventRepo,
				Writers:    writerRegistry,
				Logger:     observability.WithStream(observability.WithComponent(logger, "ingest"), stream.Name),
			}
			if models.BoolVal(cfg.HLS.Enabled) && stream.IsStreamingEnabled() {
				threadCfg.PacketSink = hlsServer.Sink(stream.Name)
			}
			return ingest.NewThread(threadCfg), nil
		},
		observability.WithComponent(logger, "registry"),
	)

	// Spawn one ingest thread per enabled stream.
	enabled, err := streamRepo.GetEnabled(ctx)
	if err != nil {
		return fmt.Errorf("loading enabled streams: %w", err)
	}
	for _, stream := range enabled {
		if err := registry.Start(ctx, stream); err != nil {
			logger.Error("starting ingest failed",
				slog.String("stream", stream.Name),
				slog.String("error", err.Error()),
			)
		}
	}

	// HTTP surface.
	server := internalhttp.NewServer(internalhttp.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, observability.WithComponent(logger, "http"), version.Version)

	syncer := recsync.NewSyncer(cfg.Storage, streamRepo, recordingRepo, eventRepo,
		observability.WithComponent(logger, "sync"))

	api := server.API()
	handlers.NewHealthHandler(version.Version, server, db.Ping).Register(api)
	handlers.NewStreamsHandler(streamRepo, registry).Register(api)
	handlers.NewRecordingsHandler(recordingRepo, syncer).Register(api)
	handlers.NewDetectionsHandler(detectionRepo).Register(api)
	handlers.NewEventsHandler(eventRepo).Register(api)
	handlers.NewMotionHandler(motionRepo).Register(api)

	server.Router().Get("/hls/{stream}/*", func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
		hlsServer.Handle(chi.URLParam(r, "stream"), w, r)
	})

	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting HTTP server: %w", err)
	}

	// Health supervisor probes the surface from outside and restarts it
	// on deadlock. It never touches ingest threads.
	var supervisor *health.Supervisor
	if models.BoolVal(cfg.Health.Enabled) {
		supervisor = health.NewSupervisor(cfg.Health, cfg.Server.Port, server,
			observability.WithComponent(logger, "health"),
			func(description string) {
				_ = eventRepo.Append(context.Background(), &models.Event{
					Type:        models.EventServerRestarted,
					Timestamp:   time.Now(),
					Description: description,
				})
			})
		supervisor.Start(ctx)
	}

	retentionEngine := retention.NewEngine(cfg.Retention, db, streamRepo, recordingRepo,
		detectionRepo, eventRepo, observability.WithComponent(logger, "retention"))
	if err := retentionEngine.Start(ctx); err != nil {
		return fmt.Errorf("starting retention engine: %w", err)
	}

	backupService := backup.NewService(cfg.Backup, cfg.Storage.BaseDir, cfg.DatabasePath(),
		observability.WithComponent(logger, "backup"))
	if err := backupService.Start(); err != nil {
		return fmt.Errorf("starting backup service: %w", err)
	}

	logger.Info("lightnvr started",
		slog.String("version", version.String()),
		slog.String("address", cfg.Server.Address()),
		slog.Int("streams", len(enabled)),
	)

	<-ctx.Done()
	logger.Info("shutdown requested")

	// Two-phase shutdown: signal every worker, then wait for confirmed
	// exits before releasing shared resources.
	if supervisor != nil {
		supervisor.Stop()
	}
	backupService.Stop()
	retentionEngine.Stop()
	registry.ShutdownAll()
	writerRegistry.CloseAll()
	hlsServer.CloseAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown incomplete", slog.String("error", err.Error()))
	}

	logger.Info("lightnvr stopped")
	return nil
}
