package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/fleetscore/fleetscore/pkg/metrics"
	"github.com/fleetscore/fleetscore/pkg/tsdb"
	"github.com/fleetscore/fleetscore/pkg/types"
	"github.com/fleetscore/fleetscore/server/internal/alerts"
	"github.com/fleetscore/fleetscore/server/internal/api"
	"github.com/fleetscore/fleetscore/server/internal/auth"
	"github.com/fleetscore/fleetscore/server/internal/config"
	"github.com/fleetscore/fleetscore/server/internal/fleet"
	"github.com/fleetscore/fleetscore/server/internal/registry"
	"github.com/fleetscore/fleetscore/server/internal/scoring"
	"github.com/fleetscore/fleetscore/server/internal/weights"
	"github.com/fleetscore/fleetscore/server/internal/ws"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("fleetscore-server starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	level.Set(cfg.Server.Level())
	slog.Info("config loaded",
		"http_port", cfg.Server.HTTPPort,
		"auth_mode", cfg.Server.Auth.Mode,
		"tsdb", cfg.Server.TSDB.Backend,
		"weights", cfg.Server.Weights.Backend,
		"refresh_interval", cfg.Server.Fleet.RefreshInterval,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := tsdb.Open(cfg.Server.TSDB)
	if err != nil {
		slog.Error("failed to open time-series store", "err", err)
		os.Exit(1)
	}
	defer store.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewServer(reg)

	weightStore, closeWeights, err := openWeightStore(ctx, cfg.Server.Weights)
	if err != nil {
		slog.Error("failed to open weight store", "err", err)
		os.Exit(1)
	}
	defer closeWeights()

	wm := weights.NewManager(weightStore)
	if err := wm.Load(ctx); err != nil {
		slog.Error("failed to load weight profiles", "err", err)
		os.Exit(1)
	}
	seed(ctx, wm, cfg.Server.Weights.DomainProfiles())

	devices := registry.New()
	engine := scoring.NewEngine(devices, wm, scoring.JitterStrategy{})
	engine.SetMetrics(m)

	agg := fleet.New(cfg.Server.Fleet, store, devices, engine, m)
	alertEngine := alerts.New(cfg.Server.Alerts, m)
	hub := ws.New(agg, cfg.Server.Stream.Interval)

	agg.Subscribe(alertEngine.EvaluateFleet)
	agg.Subscribe(func(snap types.FleetSnapshot, _ []types.Device) { hub.Publish(snap) })

	go agg.RunEviction(ctx)
	go agg.Run(ctx)
	go hub.Run(ctx)

	// Weight profiles, alert rules, fleet membership and the log level follow
	// the file; ports, backends and intervals need a restart.
	go func() {
		if err := config.Watch(ctx, *configPath, func(updated *config.Config) {
			level.Set(updated.Server.Level())
			seed(ctx, wm, updated.Server.Weights.DomainProfiles())
			alertEngine.Reconfigure(updated.Server.Alerts)
			agg.Reconfigure(updated.Server.Fleet)
			agg.InvalidateScore("")
			agg.Rescore()
		}); err != nil {
			slog.Error("config watcher stopped", "err", err)
		}
	}()

	apiKey := auth.APIKey(
		cfg.Server.Auth.Mode,
		cfg.Server.Auth.EffectiveHeader(),
		cfg.Server.Auth.Key(),
		"/api/v1/health", "/metrics",
	)
	httpMux := http.NewServeMux()
	httpMux.Handle("/ws/stream", apiKey(hub))
	httpMux.Handle("/", api.New(api.Deps{
		Fleet:    agg,
		Registry: devices,
		Weights:  wm,
		Engine:   engine,
		Alerts:   alertEngine,
		Gatherer: reg,
	}, apiKey))

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:           httpMux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		slog.Info("HTTP server listening", "port", cfg.Server.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server stopped", "err", err)
		}
	}()

	<-ctx.Done()
	slog.Info("fleetscore-server shutting down")

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutCancel()
	_ = httpSrv.Shutdown(shutCtx)
	alertEngine.Wait()
}

// openWeightStore returns the configured profile store and its closer. The
// memory backend has no store.
func openWeightStore(ctx context.Context, cfg config.WeightsConfig) (weights.Store, func(), error) {
	if cfg.Backend != "mongo" {
		return nil, func() {}, nil
	}
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	ms, err := weights.NewMongoStore(connectCtx, cfg.Mongo.URI(), cfg.Mongo.Database, cfg.Mongo.Collection)
	if err != nil {
		return nil, nil, err
	}
	slog.Info("weight store connected", "database", cfg.Mongo.Database, "collection", cfg.Mongo.Collection)
	return ms, func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := ms.Close(closeCtx); err != nil {
			slog.Warn("weight store close failed", "err", err)
		}
	}, nil
}

func seed(ctx context.Context, wm *weights.Manager, profiles []types.WeightProfile) {
	if len(profiles) == 0 {
		return
	}
	n := wm.Seed(ctx, profiles)
	slog.Info("weight profiles applied", "applied", n, "configured", len(profiles))
}
