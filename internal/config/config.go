package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"

	"github.com/couchcryptid/covid-trend-etl/internal/domain"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	KafkaEnabled   bool
	KafkaBrokers   []string
	KafkaSinkTopic string

	// NATS publishing is enabled when NATSURL is set.
	NATSURL     string
	NATSSubject string

	// StorePath is the badger directory for the latest snapshot. Empty disables persistence.
	StorePath string

	Ingest  IngestConfig
	Options domain.Options
}

// IngestConfig controls where the export comes from and how it is reconciled.
type IngestConfig struct {
	SourcePath      string        `envconfig:"SOURCE_PATH" required:"true" validate:"required"`
	SourceFormat    string        `envconfig:"SOURCE_FORMAT" default:"auto" validate:"oneof=auto csv xlsx"`
	SourceSheet     string        `envconfig:"SOURCE_SHEET"`
	SourceRetries   uint          `envconfig:"SOURCE_RETRIES" default:"3" validate:"min=1,max=10"`
	RefreshInterval time.Duration `envconfig:"REFRESH_INTERVAL" default:"2m" validate:"min=1s"`

	SmoothingWindow int    `envconfig:"SMOOTHING_WINDOW" default:"7" validate:"min=1,max=365"`
	NullPolicy      string `envconfig:"NULL_POLICY" default:"zero" validate:"oneof=zero skip"`
	HospOffset      string `envconfig:"HOSP_OFFSET" default:"auto"`
	DeathOffset     string `envconfig:"DEATH_OFFSET" default:"auto"`
	CategoryPreset  string `envconfig:"CATEGORY_PRESET" default:"default" validate:"oneof=default colorado"`
	Region          string `envconfig:"REGION" default:"Colorado"`
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	var ingest IngestConfig
	if err := envconfig.Process("", &ingest); err != nil {
		return nil, fmt.Errorf("parse ingest config: %w", err)
	}
	if err := validator.New().Struct(ingest); err != nil {
		return nil, fmt.Errorf("validate ingest config: %w", err)
	}

	opts, err := ingest.options()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		KafkaEnabled:   sharedcfg.EnvOrDefault("KAFKA_ENABLED", "true") == "true",
		KafkaBrokers:   sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaSinkTopic: sharedcfg.EnvOrDefault("KAFKA_SINK_TOPIC", "covid-trend-snapshots"),

		NATSURL:     sharedcfg.EnvOrDefault("NATS_URL", ""),
		NATSSubject: sharedcfg.EnvOrDefault("NATS_SUBJECT", "covid.trend.snapshot"),

		StorePath: sharedcfg.EnvOrDefault("STORE_PATH", ""),

		Ingest:  ingest,
		Options: opts,
	}

	if cfg.KafkaEnabled && len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_BROKERS is required when KAFKA_ENABLED is true")
	}
	if cfg.KafkaEnabled && cfg.KafkaSinkTopic == "" {
		return nil, errors.New("KAFKA_SINK_TOPIC is required when KAFKA_ENABLED is true")
	}
	if cfg.NATSURL != "" && cfg.NATSSubject == "" {
		return nil, errors.New("NATS_SUBJECT is required when NATS_URL is set")
	}

	return cfg, nil
}

// options resolves the reconciliation settings into domain options.
func (c IngestConfig) options() (domain.Options, error) {
	cats, err := domain.CategoriesByPreset(c.CategoryPreset)
	if err != nil {
		return domain.Options{}, fmt.Errorf("invalid CATEGORY_PRESET: %w", err)
	}
	policy, err := domain.ParseNullPolicy(c.NullPolicy)
	if err != nil {
		return domain.Options{}, fmt.Errorf("invalid NULL_POLICY: %w", err)
	}
	hosp, err := ParseOffset("HOSP_OFFSET", c.HospOffset)
	if err != nil {
		return domain.Options{}, err
	}
	death, err := ParseOffset("DEATH_OFFSET", c.DeathOffset)
	if err != nil {
		return domain.Options{}, err
	}
	return domain.Options{
		Categories:            cats,
		HospitalizationOffset: hosp,
		DeathOffset:           death,
		Window:                c.SmoothingWindow,
		NullPolicy:            policy,
	}, nil
}

// ParseOffset reads a cursor offset: "auto" (or empty) or a non-negative integer.
// name labels the setting in the error.
func ParseOffset(name, s string) (domain.Offset, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "auto") {
		return domain.AutoOffset, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s: want a non-negative integer or \"auto\"", name)
	}
	return domain.Offset(n), nil
}
