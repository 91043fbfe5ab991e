package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"

	httpadapter "github.com/couchcryptid/covid-trend-etl/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/covid-trend-etl/internal/adapter/kafka"
	natsadapter "github.com/couchcryptid/covid-trend-etl/internal/adapter/nats"
	"github.com/couchcryptid/covid-trend-etl/internal/adapter/source"
	"github.com/couchcryptid/covid-trend-etl/internal/adapter/store"
	"github.com/couchcryptid/covid-trend-etl/internal/adapter/websocket"
	"github.com/couchcryptid/covid-trend-etl/internal/config"
	"github.com/couchcryptid/covid-trend-etl/internal/observability"
	"github.com/couchcryptid/covid-trend-etl/internal/pipeline"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()
	clock := clockwork.NewRealClock()

	src := source.NewFileSource(source.Config{
		Path:     cfg.Ingest.SourcePath,
		Format:   source.Format(cfg.Ingest.SourceFormat),
		Sheet:    cfg.Ingest.SourceSheet,
		Attempts: cfg.Ingest.SourceRetries,
	}, logger)
	transformer := pipeline.NewTransformer(cfg.Options, cfg.Ingest.Region, clock, logger, metrics)

	hub := websocket.NewHub(logger, metrics)
	sinks := []pipeline.Publisher{hub}

	var snapshots *store.Store
	if cfg.StorePath != "" {
		snapshots, err = store.Open(cfg.StorePath, logger)
		if err != nil {
			logger.Error("failed to open snapshot store", "error", err, "path", cfg.StorePath)
			os.Exit(1)
		}
		sinks = append(sinks, snapshots)
		logger.Info("snapshot persistence enabled", "path", cfg.StorePath)
	}

	var writer *kafkaadapter.Writer
	if cfg.KafkaEnabled {
		writer = kafkaadapter.NewWriter(cfg, logger)
		sinks = append(sinks, writer)
		logger.Info("kafka publishing enabled", "topic", cfg.KafkaSinkTopic)
	}

	var natsPub *natsadapter.Publisher
	if cfg.NATSURL != "" {
		natsPub, err = natsadapter.Connect(cfg.NATSURL, cfg.NATSSubject, logger)
		if err != nil {
			logger.Error("failed to connect to nats", "error", err)
			os.Exit(1)
		}
		sinks = append(sinks, natsPub)
		logger.Info("nats publishing enabled", "subject", cfg.NATSSubject)
	}

	p := pipeline.New(src, transformer, pipeline.NewFanout(logger, metrics, sinks...),
		clock, cfg.Ingest.RefreshInterval, logger, metrics)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if snapshots != nil {
		seed(ctx, snapshots, p, hub, logger)
	}

	srv := httpadapter.NewServer(cfg.HTTPAddr, p, p, hub, logger)

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Start ingest pipeline.
	go func() {
		if err := p.Run(ctx); err != nil {
			logger.Error("pipeline error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if writer != nil {
		if err := writer.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}
	if natsPub != nil {
		if err := natsPub.Close(); err != nil {
			logger.Error("nats close error", "error", err)
		}
	}
	if snapshots != nil {
		if err := snapshots.Close(); err != nil {
			logger.Error("snapshot store close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}

// seed restores the persisted snapshot so /api/v1/latest and new display
// clients have data before the first cycle finishes. The headline is redrawn
// for today; an unchanged export keeps it until the export changes.
func seed(ctx context.Context, snapshots *store.Store, p *pipeline.Pipeline, hub *websocket.Hub, logger *slog.Logger) {
	snap, err := snapshots.Latest(ctx)
	if errors.Is(err, store.ErrNoSnapshot) {
		return
	}
	if err != nil {
		logger.Warn("could not restore snapshot", "error", err)
		return
	}
	if err := hub.Publish(ctx, p.Seed(snap)); err != nil {
		logger.Warn("could not prime websocket hub", "error", err)
	}
}
