package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/relicadb/relica/admin"
	"github.com/relicadb/relica/cfg"
	"github.com/relicadb/relica/cluster"
	"github.com/relicadb/relica/coordinator"
	"github.com/relicadb/relica/db"
	"github.com/relicadb/relica/health"
	"github.com/relicadb/relica/recovery"
	"github.com/relicadb/relica/telemetry"
)

func main() {
	flag.Parse()

	if err := cfg.Load(*cfg.ConfigPathFlag); err != nil {
		panic(err)
	}
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("Invalid configuration: %v", err))
	}

	// Setup logging
	var writer io.Writer = zerolog.NewConsoleWriter()
	if cfg.Config.Logging.Format == "json" {
		writer = os.Stdout
	}
	gLog := zerolog.New(writer).
		With().
		Timestamp().
		Logger()

	if cfg.Config.Logging.Verbose {
		log.Logger = gLog.Level(zerolog.DebugLevel)
	} else {
		log.Logger = gLog.Level(zerolog.InfoLevel)
	}

	log.Info().Msg("Relica - replication & recovery coordinator")

	if cfg.Config.Prometheus.Enabled {
		telemetry.InitializeTelemetry()
	}

	registry, err := cluster.NewRegistry(cfg.Config)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize node registry")
		return
	}
	defer registry.Close()

	connectTimeout := time.Duration(cfg.Config.Timeouts.ConnectMS) * time.Millisecond
	queryTimeout := time.Duration(cfg.Config.Timeouts.QueryMS) * time.Millisecond
	probeTimeout := time.Duration(cfg.Config.Timeouts.HealthProbeMS) * time.Millisecond
	monitorInterval := time.Duration(cfg.Config.Recovery.MonitorIntervalMS) * time.Millisecond
	retryDelay := time.Duration(cfg.Config.Recovery.RetryDelayMS) * time.Millisecond

	// Bootstrap schemas: users everywhere, the recovery ledger on master only.
	schemaCtx, cancelSchema := context.WithTimeout(context.Background(), 30*time.Second)
	for id := cluster.MasterNode; id <= cluster.Slave2; id++ {
		node, _ := registry.NodeByID(id)
		if err := db.EnsureSchema(schemaCtx, node.DB, id == cluster.MasterNode); err != nil {
			log.Warn().Err(err).Int("node", int(id)).Msg("Schema bootstrap failed, node may be offline")
		}
	}
	cancelSchema()

	checker := health.NewChecker(registry, probeTimeout)
	queue := recovery.NewQueue(registry, queryTimeout, cfg.Config.Recovery.MaxAttempts, retryDelay)
	coord := coordinator.New(registry, queue, connectTimeout, queryTimeout)
	monitor := recovery.NewMonitor(registry, checker, queue, cfg.Config.Recovery.DrainBatchSize)

	monitor.Start(monitorInterval)
	defer monitor.Stop()

	handlers := admin.NewHandlers(registry, coord, queue, monitor, checker, monitorInterval)
	apiServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Config.HTTP.BindAddress, cfg.Config.HTTP.Port),
		Handler: admin.NewRouter(handlers),
	}

	go func() {
		log.Info().Str("addr", apiServer.Addr).Msg("HTTP API listening")
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	var metricsServer *http.Server
	if handler := telemetry.GetMetricsHandler(); handler != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", handler)
		metricsServer = &http.Server{
			Addr:    fmt.Sprintf("%s:%d", cfg.Config.Prometheus.Address, cfg.Config.Prometheus.Port),
			Handler: mux,
		}
		go func() {
			log.Info().Str("addr", metricsServer.Addr).Msg("Metrics endpoint listening")
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("Metrics server failed")
			}
		}()
	}

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("HTTP server shutdown failed")
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Metrics server shutdown failed")
		}
	}
}
