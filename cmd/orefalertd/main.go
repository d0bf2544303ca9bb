package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"orefalert/internal/alerts"
	"orefalert/internal/api"
	"orefalert/internal/config"
	"orefalert/internal/geoloc"
	"orefalert/internal/ha"
	"orefalert/internal/metadata"
	"orefalert/internal/observability"
	"orefalert/internal/oref"
)

const cleanStartTimeout = 30 * time.Second

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := godotenv.Load(); err != nil {
		logger.Warn("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	logger.Info("Starting oref alert bridge",
		zap.String("ha_url", cfg.HomeAssistantURL),
		zap.Duration("poll_interval", cfg.PollInterval),
		zap.Duration("alert_active_duration", cfg.AlertActiveDuration),
		zap.Bool("read_only", cfg.ReadOnly))

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	client := ha.NewClient(cfg.HomeAssistantURL, cfg.Token, logger)
	client.SetOnReconnect(metrics.HAReconnects.Inc)
	if err := client.Connect(); err != nil {
		logger.Fatal("Failed to connect to Home Assistant", zap.Error(err))
	}
	defer client.Disconnect()

	homeConfig, err := client.GetConfig()
	if err != nil {
		logger.Fatal("Failed to read Home Assistant config", zap.Error(err))
	}
	// Entity distances are measured from the home coordinates.
	if homeConfig.Latitude == 0 && homeConfig.Longitude == 0 {
		logger.Fatal("Home Assistant has no home coordinates configured")
	}
	home := geoloc.Coordinates{Latitude: homeConfig.Latitude, Longitude: homeConfig.Longitude}

	logger.Info("Connected to Home Assistant",
		zap.String("location", homeConfig.LocationName),
		zap.String("version", homeConfig.Version),
		zap.Float64("latitude", homeConfig.Latitude),
		zap.Float64("longitude", homeConfig.Longitude),
		zap.Int("known_areas", len(metadata.Areas())))

	manager := geoloc.NewManager(client, metrics, home, logger, cfg.ReadOnly)

	cleanCtx, cancelClean := context.WithTimeout(context.Background(), cleanStartTimeout)
	err = manager.CleanStart(cleanCtx)
	cancelClean()
	if err != nil {
		logger.Fatal("Failed to remove stale entities", zap.Error(err))
	}

	orefClient := oref.NewClient(cfg.RealTimeURL, cfg.HistoryURL, logger)
	coordinator := alerts.NewCoordinator(orefClient, cfg.PollInterval, cfg.AlertActiveDuration, metrics, logger)
	coordinator.AddListener(manager.HandleUpdate)

	subscription, err := client.SubscribeEvents("oref_alert_synthetic_alert", func(event ha.Event) {
		var payload struct {
			Area     string `json:"area"`
			Duration int    `json:"duration"`
		}
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			logger.Warn("Ignoring malformed synthetic alert event", zap.Error(err))
			return
		}
		if payload.Area == "" || payload.Duration <= 0 {
			logger.Warn("Ignoring synthetic alert event without area or duration",
				zap.String("area", payload.Area),
				zap.Int("duration", payload.Duration))
			return
		}
		coordinator.InjectSynthetic(payload.Area, time.Duration(payload.Duration)*time.Second)
	})
	if err != nil {
		logger.Fatal("Failed to subscribe to synthetic alert events", zap.Error(err))
	}
	defer subscription.Unsubscribe()

	server := api.NewServer(coordinator, manager, client, registry, logger, cfg.APIAddr)
	if err := server.Start(); err != nil {
		logger.Fatal("Failed to start API server", zap.Error(err))
	}

	coordinator.Start(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Bridge running. Press Ctrl+C to exit.")
	<-sigChan

	logger.Info("Shutting down gracefully...")
	coordinator.Stop()
	manager.Stop()
	if err := server.Stop(); err != nil {
		logger.Warn("API server shutdown", zap.Error(err))
	}
}
