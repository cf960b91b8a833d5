package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"greentech/api"
	"greentech/config"
	"greentech/log"
	"greentech/services"
	"greentech/store"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.GetInstance().Fatal("Failed to load config", zap.Error(err))
	}

	// Initialize structured logger
	logger := log.Init(cfg.LogLevel)
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}
	if cfg.UserID == "" {
		logger.Warn("USER_ID is not set, alerts and analytics will not be persisted")
	}

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, stopping services")
		cancel()
	}()

	// Initialize services
	st, err := store.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize store", zap.Error(err))
	}

	telemetry := services.NewTelemetryManager(cfg, logger)
	var creds *services.Credentials
	if cfg.MQTTUsername != "" {
		creds = &services.Credentials{Username: cfg.MQTTUsername, Password: cfg.MQTTPassword}
	}
	if err := telemetry.Connect(cfg.MQTTURL, creds); err != nil {
		logger.Fatal("Failed to start telemetry session", zap.Error(err))
	}
	defer telemetry.Disconnect()

	bridge := services.NewAlertBridge(cfg, telemetry, st, logger)

	var analyticsOpts []services.AnalyticsOption
	if cfg.InsightEnabled() {
		analyticsOpts = append(analyticsOpts, services.WithInsightGenerator(services.NewInsightClient(cfg, logger)))
		logger.Info("Insight generator enabled", zap.String("model", cfg.InsightModel))
	}
	analyticsService := services.NewAnalyticsService(cfg, telemetry, st, logger, analyticsOpts...)

	// Optional sinks never stop the pipeline from starting
	if cfg.TelegramEnabled() {
		notifier, err := services.NewTelegramNotifier(cfg, logger)
		if err != nil {
			logger.Error("Telegram notifications disabled", zap.Error(err))
		} else {
			bridge.AddSink(notifier)
			if err := notifier.SendStartupMessage(cfg.MQTTURL); err != nil {
				logger.Warn("Failed to send startup message", zap.Error(err))
			}
		}
	}

	if cfg.RabbitMQEnabled() {
		publisher, err := services.NewEventPublisher(cfg, logger)
		if err != nil {
			logger.Error("Event fan-out disabled", zap.Error(err))
		} else {
			defer publisher.Close()
			bridge.AddSink(publisher)
			analyticsService.AddSink(publisher)
		}
	}

	logger.Info("Greenhouse telemetry pipeline started",
		zap.String("store", cfg.StoreBackend),
		zap.String("user_id", cfg.UserID),
		zap.String("http_addr", cfg.HTTPAddr))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		bridge.Start(gctx)
		return nil
	})
	g.Go(func() error {
		return analyticsService.Start(gctx)
	})

	if cfg.HTTPAddr != "" {
		router := api.NewRouter(api.NewHandler(telemetry, bridge, analyticsService, logger))
		server := &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		}

		g.Go(func() error {
			logger.Info("HTTP API listening", zap.String("addr", cfg.HTTPAddr))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("Pipeline stopped with error", zap.Error(err))
	}

	logger.Info("Greenhouse telemetry pipeline stopped")
}
