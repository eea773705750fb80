package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/drivewatch/drivewatch/internal/alerts"
	"github.com/drivewatch/drivewatch/internal/cache"
	"github.com/drivewatch/drivewatch/internal/clients/mediastore"
	"github.com/drivewatch/drivewatch/internal/clients/overpass"
	"github.com/drivewatch/drivewatch/internal/clients/vision"
	"github.com/drivewatch/drivewatch/internal/config"
	"github.com/drivewatch/drivewatch/internal/lib/detection"
	"github.com/drivewatch/drivewatch/internal/lib/media"
	"github.com/drivewatch/drivewatch/internal/monitor"
)

func main() {
	configPath := flag.String("config", "", "path of the config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	zlog, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer zlog.Sync()
	logger := zlog.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// External API clients
	visionClient := newVisionClient(cfg.Vision)
	overpassClient := overpass.NewClient(cfg.Speed.OverpassURL)

	var store monitor.MediaStore
	if cfg.Mediastore.BaseURL != "" {
		store = mediastore.NewClient(cfg.Mediastore.BaseURL)
		logger.Infow("Media persistence enabled", "backend", cfg.Mediastore.BaseURL)
	}

	// Shared TTL cache for speed limit lookups
	limitCache := cache.NewCache()
	limitCache.StartPeriodicCleanup(ctx, 5*time.Minute, logger)

	// Alert fan-out: one dispatcher per alert class so cooldowns stay
	// independent
	hub := alerts.NewHub(logger)
	impairmentDispatcher := newDispatcher(cfg.Alerts, hub, logger)
	overspeedDispatcher := newDispatcher(cfg.Alerts, hub, logger)

	parser := detection.NewParser(logger)

	frameSource := monitor.NewSnapshotSource(cfg.Monitor.CameraSnapshotURL,
		cfg.Monitor.MaxFrameWidth, cfg.Monitor.MaxFrameHeight)
	captureLoop := monitor.NewCaptureLoop(frameSource, visionClient, parser,
		impairmentDispatcher, cfg.Monitor, logger)

	uploadAnalyzer := monitor.NewUploadAnalyzer(visionClient, parser, impairmentDispatcher,
		media.NewFFmpegExtractor(cfg.Upload.FFmpegBinary), store, cfg.Upload, logger)

	manager := monitor.NewManager(captureLoop, uploadAnalyzer)

	positions := monitor.NewChannelPositionSource(64)
	speedMonitor := monitor.NewSpeedMonitor(positions, overpassClient, overspeedDispatcher,
		limitCache, cfg.Speed, logger)
	if err := speedMonitor.Start(ctx); err != nil {
		logger.Warnw("Speed monitoring unavailable", "error", err)
	}

	srv := newServer(cfg.Server.Addr, manager, speedMonitor, positions, hub, cfg.Upload.MaxBytes, logger)

	go func() {
		logger.Infow("DriveWatch listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalw("Server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Infow("Shutting down")

	manager.StopMonitoring()
	speedMonitor.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnw("Server shutdown failed", "error", err)
	}
}

func newVisionClient(cfg config.VisionConfig) *vision.Client {
	if cfg.BaseURL != "" {
		apiConfig := openai.DefaultConfig(cfg.APIKey)
		apiConfig.BaseURL = cfg.BaseURL
		return vision.NewClientWithConfig(apiConfig, cfg.Model)
	}
	return vision.NewClient(cfg.APIKey, cfg.Model)
}

func newDispatcher(cfg config.AlertsConfig, hub *alerts.Hub, logger *zap.SugaredLogger) *alerts.Dispatcher {
	d := alerts.NewDispatcher(cfg.ConfidenceThreshold, cfg.Cooldown, logger)
	d.AddVisualChannel(alerts.NewOverlayChannel(hub))
	d.AddVisualChannel(alerts.NewToastChannel(hub))
	d.AddVisualChannel(alerts.NewNotificationChannel(hub, cfg.NotificationsGranted))
	d.AddVisualChannel(alerts.NewLogChannel(logger))
	if cfg.SpeechCommand != "" {
		d.AddAudibleChannel(alerts.NewSpeechChannel(cfg.SpeechCommand, cfg.SpeechArgs))
	}
	return d
}
