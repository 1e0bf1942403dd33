package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/joshp123/gohome-resideo/internal/accessory"
	"github.com/joshp123/gohome-resideo/internal/config"
	"github.com/joshp123/gohome-resideo/internal/core"
	"github.com/joshp123/gohome-resideo/internal/hostmqtt"
	"github.com/joshp123/gohome-resideo/internal/logging"
	"github.com/joshp123/gohome-resideo/internal/oauth"
	compiled "github.com/joshp123/gohome-resideo/internal/plugins"
	"github.com/joshp123/gohome-resideo/internal/rate"
	"github.com/joshp123/gohome-resideo/internal/router"
	"github.com/joshp123/gohome-resideo/internal/server"
	"github.com/joshp123/gohome-resideo/internal/telemetry"
)

const (
	healthSyncInterval = 15 * time.Second
	shutdownTimeout    = 10 * time.Second
)

func runCommand() *cli.Command {
	return &cli.Command{
		Name:   "run",
		Usage:  "Discover devices and serve them until interrupted",
		Action: run,
	}
}

func run(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	log := logger.WithField("component", "main")

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	bridge := accessory.NewBridge(cacheFile(cfg), logger.WithField("component", "bridge"))
	if err := bridge.LoadCache(); err != nil {
		log.WithError(err).Warn("ignoring accessory cache")
	}

	sink, err := telemetry.Open(cfg.InfluxDB, logger.WithField("component", "telemetry"))
	if err != nil {
		return err
	}
	defer sink.Close()

	if cfg.MQTT.Enabled {
		conn, err := hostmqtt.Dial(cfg.MQTT, logger.WithField("component", "mqtt"))
		if err != nil {
			return err
		}
		defer conn.Close()
		exposer := hostmqtt.NewExposer(conn, bridge, cfg.MQTT.TopicPrefix, byte(cfg.MQTT.QoS), logger.WithField("component", "mqtt"))
		if err := exposer.Start(ctx); err != nil {
			return fmt.Errorf("mqtt exposer: %w", err)
		}
	}

	plugins := compiled.Compiled(compiled.Env{Config: cfg, Bridge: bridge, Logger: logger, Sink: sink})
	if len(plugins) == 0 {
		log.Warn("no plugin configured; serving an empty bridge")
	}
	if err := core.ValidatePlugins(plugins); err != nil {
		return err
	}
	registry := core.NewRegistry(plugins)

	shared := append(oauth.MetricsCollectors(), rate.MetricsCollectors()...)
	shared = append(shared, prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name:        "gohome_build_info",
		Help:        "Build information",
		ConstLabels: prometheus.Labels{"version": version},
	}, func() float64 { return 1 }))
	metrics := core.MetricsRegistry(plugins, shared...)

	grpcServer, err := server.NewGRPCServer(cfg.Core.GRPCAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	hs := router.RegisterPlugins(grpcServer.Server, registry)

	httpServer := server.NewHTTPServer(cfg.Core.HTTPAddr, server.Routes(server.Deps{
		Registry: registry,
		Bridge:   bridge,
		Metrics:  metrics,
		Log:      logger.WithField("component", "http"),
	}))

	for _, p := range plugins {
		runner, ok := p.(core.Runner)
		if !ok {
			continue
		}
		if err := runner.Start(ctx); err != nil {
			log.WithError(err).WithField("plugin", p.ID()).Error("plugin did not start")
			continue
		}
		defer runner.Stop()
	}
	router.Sync(hs, registry)

	errCh := make(chan error, 2)
	go func() {
		errCh <- grpcServer.Serve()
	}()
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()
	go router.Watch(ctx, hs, registry, healthSyncInterval)

	log.WithFields(logrus.Fields{
		"grpc_addr": cfg.Core.GRPCAddr,
		"http_addr": cfg.Core.HTTPAddr,
		"version":   version,
	}).Info("gohome started")

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err = <-errCh:
		if err != nil {
			log.WithError(err).Error("server stopped")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if shutdownErr := httpServer.Shutdown(shutdownCtx); shutdownErr != nil && !errors.Is(shutdownErr, context.Canceled) {
		log.WithError(shutdownErr).Warn("http shutdown")
	}
	grpcServer.Stop()
	return err
}

// cacheFile defaults to a file next to the token state.
func cacheFile(cfg *config.Config) string {
	if cfg.Core.CacheFile != "" {
		return cfg.Core.CacheFile
	}
	if cfg.Resideo != nil && cfg.Resideo.StateFile != "" {
		return filepath.Join(filepath.Dir(cfg.Resideo.StateFile), "accessories.json")
	}
	return ""
}
