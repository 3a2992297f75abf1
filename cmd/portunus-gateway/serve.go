package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/BrandonDHaskell/Portunus/gateway/internal/bus/mqtt"
	"github.com/BrandonDHaskell/Portunus/gateway/internal/config"
	"github.com/BrandonDHaskell/Portunus/gateway/internal/db"
	"github.com/BrandonDHaskell/Portunus/gateway/internal/grpcapi"
	"github.com/BrandonDHaskell/Portunus/gateway/internal/httpapi"
	"github.com/BrandonDHaskell/Portunus/gateway/internal/metrics"
	"github.com/BrandonDHaskell/Portunus/gateway/internal/portunus/service"
	sqlitestore "github.com/BrandonDHaskell/Portunus/gateway/internal/portunus/store/sqlite"
)

func serve(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	conn, err := db.Open(ctx, db.Config{Path: cfg.DBPath})
	if err != nil {
		return fmt.Errorf("open audit db: %w", err)
	}
	defer conn.Close()

	versions, err := db.AppliedVersions(ctx, conn)
	if err != nil {
		return err
	}

	writer := db.NewWorker(conn)
	defer writer.Close()
	auditLog := sqlitestore.NewAuditLog(conn, writer)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	busClient := mqtt.New(mqtt.Config{
		Broker:         cfg.BrokerAddress,
		ClientID:       cfg.ClientID,
		RequestTopic:   cfg.RequestTopic,
		QoS:            byte(cfg.QoS),
		PublishTimeout: cfg.PublishTimeout,
		Workers:        cfg.Workers,
	}, logger)

	policy := service.NewAccessPolicy(cfg.AuthorizedCredentials)
	pipeline := service.NewPipeline(service.PipelineDeps{
		Logger:       logger,
		Policy:       policy,
		AuditLog:     auditLog,
		Publisher:    busClient,
		ResponseBase: cfg.ResponseBase,
		Metrics:      m,
	})

	logger.Info("portunus gateway starting",
		slog.String("broker", cfg.BrokerAddress),
		slog.String("request_topic", cfg.RequestTopic),
		slog.String("response_base", cfg.ResponseBase),
		slog.Int("authorized_credentials", policy.Size()),
		slog.String("db", cfg.DBPath),
		slog.Any("schema_versions", versions),
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return busClient.Run(gctx, pipeline.HandleMessage) })

	var sink func(bool)
	if cfg.GRPCAddr != "" {
		hs := grpcapi.NewServer(cfg.GRPCAddr, logger)
		sink = hs.SetServing
		g.Go(func() error { return hs.Run(gctx) })
	}

	monitor := service.NewHealthMonitor(map[string]service.HealthCheck{
		"bus":   busClient.Ping,
		"store": auditLog.Ping,
	}, service.HealthMonitorConfig{Interval: cfg.HealthInterval}, sink, logger)
	g.Go(func() error { return monitor.Run(gctx) })

	if cfg.HTTPAddr != "" {
		srv := httpapi.NewServer(httpapi.Dependencies{
			Logger:       logger,
			Addr:         cfg.HTTPAddr,
			History:      auditLog,
			DefaultLimit: cfg.HistoryDefaultLimit,
			MaxLimit:     cfg.HistoryMaxLimit,
			BusConnected: busClient.IsConnected,
			Healthy:      monitor.Healthy,
			Metrics:      promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		})
		g.Go(func() error {
			logger.Info("history api listening", slog.String("addr", cfg.HTTPAddr))
			return srv.Start()
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	logger.Info("portunus gateway stopped")
	return err
}
