// Package config loads AirGuard configuration from file and environment
// and builds the typed per-component config structs.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the full AirGuard configuration tree.
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Ingest   IngestConfig   `mapstructure:"ingest"`
	Feature  FeatureConfig  `mapstructure:"feature"`
	Forecast ForecastConfig `mapstructure:"forecast"`
	Detector DetectorConfig `mapstructure:"detector"`
	Alerting AlertingConfig `mapstructure:"alerting"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Entities []string       `mapstructure:"entities"`
}

// DatabaseConfig selects the SQLite database location.
type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MetricsConfig controls the Prometheus metrics listener.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// IngestConfig configures the Kafka measurement source. Empty brokers
// disable the consumer; producers may also write to the store directly.
type IngestConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	GroupID string   `mapstructure:"group_id"`
}

// FeatureConfig controls the feature builder.
type FeatureConfig struct {
	ShortWindow int `mapstructure:"short_window"` // samples, default 24
	LongWindow  int `mapstructure:"long_window"`  // samples, default 168
	MaxFillGap  int `mapstructure:"max_fill_gap"` // consecutive missing samples
}

// ForecastConfig controls model training and serving.
type ForecastConfig struct {
	Estimators      int           `mapstructure:"estimators"`
	MaxDepth        int           `mapstructure:"max_depth"`
	Seed            int64         `mapstructure:"seed"`
	MinTrainSamples int           `mapstructure:"min_train_samples"`
	MinR2           float64       `mapstructure:"min_r2"`
	HoldoutFraction float64       `mapstructure:"holdout_fraction"`
	Horizon         time.Duration `mapstructure:"horizon"`
	LookbackDays    int           `mapstructure:"lookback_days"`
}

// DetectorConfig controls the dual anomaly detector.
type DetectorConfig struct {
	ZScoreThreshold float64 `mapstructure:"zscore_threshold"`
	Contamination   float64 `mapstructure:"contamination"`
	Trees           int     `mapstructure:"trees"`
	Seed            int64   `mapstructure:"seed"`
	WindowSamples   int     `mapstructure:"window_samples"`
}

// AlertingConfig controls the alert evaluator and notifiers.
type AlertingConfig struct {
	Cooldown        time.Duration `mapstructure:"cooldown"`
	HealthThreshold float64       `mapstructure:"health_threshold"` // PM2.5 ug/m3
	Webhook         WebhookConfig `mapstructure:"webhook"`
	Kafka           KafkaConfig   `mapstructure:"kafka"`
}

// WebhookConfig configures webhook notification delivery.
type WebhookConfig struct {
	URL        string        `mapstructure:"url"`
	Secret     string        `mapstructure:"secret"`
	Timeout    time.Duration `mapstructure:"timeout"`
	RatePerMin int           `mapstructure:"rate_per_min"`
}

// KafkaConfig configures Kafka notification delivery.
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// PipelineConfig controls per-entity scheduling.
type PipelineConfig struct {
	SweepInterval   time.Duration `mapstructure:"sweep_interval"`
	RetrainInterval time.Duration `mapstructure:"retrain_interval"`
	FetchRetries    int           `mapstructure:"fetch_retries"`
	FetchBackoff    time.Duration `mapstructure:"fetch_backoff"`
}

// Load reads configuration from file and environment variables.
// An absent config file is fine; defaults apply.
func Load(configPath string) (*viper.Viper, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("database.dsn", "./data/airguard.db")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.addr", ":9108")

	v.SetDefault("ingest.brokers", []string{})
	v.SetDefault("ingest.topic", "airguard-measurements")
	v.SetDefault("ingest.group_id", "airguard")

	v.SetDefault("feature.short_window", 24)
	v.SetDefault("feature.long_window", 168)
	v.SetDefault("feature.max_fill_gap", 3)

	v.SetDefault("forecast.estimators", 100)
	v.SetDefault("forecast.max_depth", 20)
	v.SetDefault("forecast.seed", 42)
	v.SetDefault("forecast.min_train_samples", 168)
	v.SetDefault("forecast.min_r2", 0.0)
	v.SetDefault("forecast.holdout_fraction", 0.2)
	v.SetDefault("forecast.horizon", "24h")
	v.SetDefault("forecast.lookback_days", 30)

	v.SetDefault("detector.zscore_threshold", 3.0)
	v.SetDefault("detector.contamination", 0.1)
	v.SetDefault("detector.trees", 100)
	v.SetDefault("detector.seed", 42)
	v.SetDefault("detector.window_samples", 168)

	v.SetDefault("alerting.cooldown", "60m")
	v.SetDefault("alerting.health_threshold", 50.0)
	v.SetDefault("alerting.webhook.url", "")
	v.SetDefault("alerting.webhook.timeout", "10s")
	v.SetDefault("alerting.webhook.rate_per_min", 30)
	v.SetDefault("alerting.kafka.brokers", []string{})
	v.SetDefault("alerting.kafka.topic", "airguard-alerts")

	v.SetDefault("pipeline.sweep_interval", "15m")
	v.SetDefault("pipeline.retrain_interval", "24h")
	v.SetDefault("pipeline.fetch_retries", 3)
	v.SetDefault("pipeline.fetch_backoff", "2s")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("airguard")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/airguard")
	}

	// Environment variable support: AG_PIPELINE_SWEEP_INTERVAL=5m
	v.SetEnvPrefix("AG")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		// Config file not found is fine -- use defaults
	}

	return v, nil
}

// Parse unmarshals the loaded Viper tree into a typed Config.
func Parse(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}
