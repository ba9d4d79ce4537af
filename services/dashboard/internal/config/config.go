// Package config loads the dashboard daemon's runtime configuration from
// the environment.
package config

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-envconfig"

	"floorsight/services/dashboard/internal/aggregator"
	"floorsight/services/dashboard/internal/queue"
)

// Config holds runtime configuration for the dashboard daemon.
type Config struct {
	Addr      string `env:"ADDR,default=:8080"`
	BrokerURL string `env:"BROKER_URL,default=tcp://localhost:1883"`

	// ClientID identifies this process on the bus. Left empty, a random
	// one is generated so parallel instances never collide.
	ClientID string `env:"BUS_CLIENT_ID"`

	SnapshotTopic string `env:"SNAPSHOT_TOPIC,default=job/status"`
	EventTopic    string `env:"EVENT_TOPIC,default=jobshop/status"`

	ActivityLogCap int   `env:"ACTIVITY_LOG_CAP,default=300"`
	MarkerMinGapMS int64 `env:"MARKER_MIN_GAP_MS,default=1200"`
	HistoryCap     int   `env:"HISTORY_CAP,default=0"`

	QueueStepDelay       time.Duration `env:"QUEUE_STEP_DELAY,default=900ms"`
	QueuePredictionDelay time.Duration `env:"QUEUE_PREDICTION_DELAY,default=1200ms"`
	QueueFailedDelay     time.Duration `env:"QUEUE_FAILED_DELAY,default=900ms"`
	QueueRemovalDelay    time.Duration `env:"QUEUE_REMOVAL_DELAY,default=450ms"`
	QueueFrontBias       int           `env:"QUEUE_FRONT_BIAS,default=2"`

	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS,default=http://localhost:5173"`
	RateLimit      int      `env:"HTTP_RATE_LIMIT,default=300"`
	OTLPEndpoint   string   `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

// Load returns a Config populated from environment variables.
func Load(ctx context.Context) (Config, error) {
	return LoadWith(ctx, envconfig.OsLookuper())
}

// LoadWith populates a Config through the given lookuper.
func LoadWith(ctx context.Context, lookuper envconfig.Lookuper) (Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: &cfg, Lookuper: lookuper}); err != nil {
		return Config{}, err
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "floorsightd-" + uuid.NewString()[:8]
	}
	return cfg, nil
}

// AggregatorConfig maps the environment settings onto the aggregator.
func (c Config) AggregatorConfig() aggregator.Config {
	return aggregator.Config{
		SnapshotTopic: c.SnapshotTopic,
		EventTopic:    c.EventTopic,
		ActivityCap:   c.ActivityLogCap,
		MarkerGapMS:   c.MarkerMinGapMS,
		HistoryCap:    c.HistoryCap,
		Queue: queue.Config{
			Delays: queue.Delays{
				Step:       c.QueueStepDelay,
				Prediction: c.QueuePredictionDelay,
				Failed:     c.QueueFailedDelay,
				Removal:    c.QueueRemovalDelay,
			},
			FrontBias: c.QueueFrontBias,
		},
	}
}
