// Command floorsightd runs the job-shop dashboard daemon: it subscribes to
// the machine snapshot and job lifecycle topics, folds them into in-memory
// dashboard state, and serves that state to browsers over HTTP and SSE.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"floorsight/pkg/bus"
	"floorsight/services/dashboard/internal/aggregator"
	"floorsight/services/dashboard/internal/config"
	"floorsight/services/dashboard/internal/httpapi"
	"floorsight/services/dashboard/internal/metrics"
	"floorsight/services/dashboard/internal/tracing"
)

const serviceName = "floorsightd"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	_ = godotenv.Load()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	cleanup, err := tracing.Init(ctx, serviceName, cfg.OTLPEndpoint)
	if err != nil {
		log.Fatal().Err(err).Msg("init tracing")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := cleanup(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("shutdown tracing")
		}
	}()

	agg, err := aggregator.New(cfg.AggregatorConfig(), log.Logger, metrics.New(nil))
	if err != nil {
		log.Fatal().Err(err).Msg("build aggregator")
	}
	defer agg.Close()

	conn, err := bus.Dial(cfg.BrokerURL, cfg.ClientID)
	if err != nil {
		log.Fatal().Err(err).Str("broker", cfg.BrokerURL).Msg("connect broker")
	}
	defer conn.Close()

	if err := conn.Subscribe(agg.Topics(), agg.OnMessage); err != nil {
		log.Fatal().Err(err).Msg("subscribe topics")
	}
	log.Info().
		Str("broker", cfg.BrokerURL).
		Strs("topics", agg.Topics()).
		Msg("consuming feed")

	api, err := httpapi.New(agg, httpapi.Config{
		AllowedOrigins: cfg.AllowedOrigins,
		RateLimit:      cfg.RateLimit,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("build http api")
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           tracing.Middleware(serviceName, log.Logger)(api.Routes()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("starting floorsightd")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown server")
	}
}
