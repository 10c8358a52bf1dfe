package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/billing-api/config"
	"github.com/jwalitptl/billing-api/internal/app"
	"github.com/jwalitptl/billing-api/pkg/logger"
	"github.com/jwalitptl/billing-api/pkg/messaging/redis"
	"github.com/jwalitptl/billing-api/pkg/metrics"
	"github.com/jwalitptl/billing-api/pkg/worker"
)

func setupHealthCheck(addr string, a *app.App, logger *logger.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/health/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		if err := a.DB.PingContext(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error(err, "Health check server failed")
			os.Exit(1)
		}
	}()
	return srv
}

func main() {
	configPath := flag.String("config", "", "path to config.yml")
	healthAddr := flag.String("health-addr", ":8081", "listen address for health and metrics")
	flag.Parse()

	// Load config
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	// Initialize logger
	l := logger.NewLogger(&logger.Config{
		Level:      logger.ParseLevel(cfg.Log.Level),
		TimeFormat: time.RFC3339,
		Output:     os.Stdout,
		Console:    cfg.Log.Console,
	})
	log.Logger = l.Zerolog()
	l = l.WithFields(map[string]interface{}{"component": "outbox_worker"})

	if cfg.Database.Driver == "memory" {
		l.Fatal(nil, "The outbox worker needs a shared database; set database.driver to postgres or sqlite")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg, l)
	if err != nil {
		l.Fatal(err, "Failed to connect to database")
	}
	defer a.Close()

	relayMetrics := metrics.NewMetrics("billing", "outbox_processor")

	// Initialize Redis broker
	zl := l.Zerolog()
	broker, err := redis.NewRedisBroker(cfg.Redis.ToBrokerConfig(), &zl, relayMetrics)
	if err != nil {
		l.Fatal(err, "Failed to create Redis broker")
	}
	defer broker.Close()

	processor := worker.NewOutboxProcessor(
		a.Ledger.Outbox,
		broker,
		cfg.Outbox.ToWorkerConfig(),
		l,
		relayMetrics,
	)

	health := setupHealthCheck(*healthAddr, a, l)
	defer health.Close()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		l.Info("Shutting down...")
		cancel()
	}()

	processor.Start(ctx)
}
