package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/airguard-io/airguard/internal/alerting"
	"github.com/airguard-io/airguard/internal/anomaly"
	"github.com/airguard-io/airguard/internal/config"
	"github.com/airguard-io/airguard/internal/feature"
	"github.com/airguard-io/airguard/internal/forecast"
	"github.com/airguard-io/airguard/internal/ingest"
	"github.com/airguard-io/airguard/internal/observability"
	"github.com/airguard-io/airguard/internal/pipeline"
	"github.com/airguard-io/airguard/internal/store"
	"github.com/airguard-io/airguard/internal/version"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "version" {
		fmt.Println(version.Info())
		return
	}

	configPath := flag.String("config", "", "path to configuration file")
	showVersion := flag.Bool("version", false, "print version information and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Info())
		os.Exit(0)
	}

	// Load configuration (before logger, so log level/format can be configured).
	v, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.Parse(v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to parse configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("AirGuard starting", zap.String("version", version.Short()))

	if f := v.ConfigFileUsed(); f != "" {
		logger.Info("configuration loaded",
			zap.String("component", "config"),
			zap.String("source", f))
	} else {
		logger.Warn("no configuration file found, using defaults",
			zap.String("component", "config"))
	}

	if err := run(cfg, logger); err != nil {
		logger.Fatal("fatal error", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.New(cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(ctx, "airguard", store.Migrations()); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	logger.Info("database initialized",
		zap.String("component", "database"),
		zap.String("path", cfg.Database.DSN))

	measurements := store.NewMeasurementStore(db.DB())
	anomalies := store.NewAnomalyStore(db.DB())
	registry := store.NewModelRegistry(db.DB())

	metrics := observability.NewMetrics()

	builder := feature.NewBuilder(feature.Config{
		ShortWindow: cfg.Feature.ShortWindow,
		LongWindow:  cfg.Feature.LongWindow,
		MaxFillGap:  cfg.Feature.MaxFillGap,
	})

	manager := forecast.NewManager(forecast.Config{
		Estimators:      cfg.Forecast.Estimators,
		MaxDepth:        cfg.Forecast.MaxDepth,
		Seed:            cfg.Forecast.Seed,
		MinTrainSamples: cfg.Forecast.MinTrainSamples,
		MinR2:           cfg.Forecast.MinR2,
		HoldoutFraction: cfg.Forecast.HoldoutFraction,
		Horizon:         cfg.Forecast.Horizon,
		LookbackDays:    cfg.Forecast.LookbackDays,
	}, measurements, registry, builder, logger.Named("forecast"), nil)

	detector := anomaly.New(anomaly.Config{
		ZThreshold:    cfg.Detector.ZScoreThreshold,
		Contamination: cfg.Detector.Contamination,
		Trees:         cfg.Detector.Trees,
		Seed:          cfg.Detector.Seed,
	}, logger.Named("anomaly"), metrics)

	var notifiers []alerting.Notifier
	if cfg.Alerting.Webhook.URL != "" {
		notifiers = append(notifiers, alerting.NewWebhookNotifier(alerting.WebhookConfig{
			URL:        cfg.Alerting.Webhook.URL,
			Secret:     cfg.Alerting.Webhook.Secret,
			Timeout:    cfg.Alerting.Webhook.Timeout,
			RatePerMin: cfg.Alerting.Webhook.RatePerMin,
		}))
		logger.Info("webhook notifier configured",
			zap.String("component", "alerting"),
			zap.String("url", cfg.Alerting.Webhook.URL))
	}
	var kafkaNotifier *alerting.KafkaNotifier
	if len(cfg.Alerting.Kafka.Brokers) > 0 && cfg.Alerting.Kafka.Topic != "" {
		kafkaNotifier = alerting.NewKafkaNotifier(alerting.KafkaConfig{
			Brokers: cfg.Alerting.Kafka.Brokers,
			Topic:   cfg.Alerting.Kafka.Topic,
		})
		notifiers = append(notifiers, kafkaNotifier)
		logger.Info("kafka notifier configured",
			zap.String("component", "alerting"),
			zap.Strings("brokers", cfg.Alerting.Kafka.Brokers),
			zap.String("topic", cfg.Alerting.Kafka.Topic))
	}
	if len(notifiers) == 0 {
		logger.Warn("no notifiers configured, alerts will only be logged",
			zap.String("component", "alerting"))
	}

	evaluator := alerting.NewEvaluator(alerting.Config{
		Cooldown:        cfg.Alerting.Cooldown,
		HealthThreshold: cfg.Alerting.HealthThreshold,
	}, notifiers, logger.Named("alerting"), nil)

	orch := pipeline.New(pipeline.Config{
		SweepInterval:   cfg.Pipeline.SweepInterval,
		RetrainInterval: cfg.Pipeline.RetrainInterval,
		WindowSamples:   cfg.Detector.WindowSamples,
		FetchRetries:    cfg.Pipeline.FetchRetries,
		FetchBackoff:    cfg.Pipeline.FetchBackoff,
	}, measurements, anomalies, detector, manager, evaluator, metrics, logger.Named("pipeline"), nil)

	var consumer *ingest.Consumer
	consumerDone := make(chan struct{})
	if len(cfg.Ingest.Brokers) > 0 {
		consumer = ingest.NewConsumer(ingest.ConsumerConfig{
			Brokers: cfg.Ingest.Brokers,
			Topic:   cfg.Ingest.Topic,
			GroupID: cfg.Ingest.GroupID,
		}, measurements, metrics, logger.Named("ingest"))
		go func() {
			defer close(consumerDone)
			if err := consumer.Run(ctx); err != nil {
				logger.Error("measurement consumer stopped", zap.Error(err))
			}
		}()
		logger.Info("measurement consumer started",
			zap.String("component", "ingest"),
			zap.Strings("brokers", cfg.Ingest.Brokers),
			zap.String("topic", cfg.Ingest.Topic))
	} else {
		close(consumerDone)
		logger.Info("no ingest brokers configured, expecting direct store writes",
			zap.String("component", "ingest"))
	}

	orch.Start(ctx)
	for _, entity := range cfg.Entities {
		if err := orch.AddEntity(entity); err != nil {
			return fmt.Errorf("add entity %s: %w", entity, err)
		}
	}
	logger.Info("pipeline started",
		zap.String("component", "pipeline"),
		zap.Int("entities", len(cfg.Entities)),
		zap.Duration("sweep_interval", cfg.Pipeline.SweepInterval))

	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("metrics listener started",
				zap.String("component", "metrics"),
				zap.String("addr", cfg.Metrics.Addr))
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics listener failed", zap.Error(err))
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutdown signal received")

	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics listener shutdown", zap.Error(err))
		}
	}
	if err := orch.Stop(); err != nil {
		logger.Warn("pipeline shutdown", zap.Error(err))
	}
	<-consumerDone
	if consumer != nil {
		if err := consumer.Close(); err != nil {
			logger.Warn("measurement consumer close", zap.Error(err))
		}
	}
	if kafkaNotifier != nil {
		if err := kafkaNotifier.Close(); err != nil {
			logger.Warn("kafka notifier close", zap.Error(err))
		}
	}

	logger.Info("shutdown complete")
	return nil
}
