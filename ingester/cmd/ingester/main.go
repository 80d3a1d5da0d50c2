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

	"github.com/fleetscore/fleetscore/ingester/internal/config"
	"github.com/fleetscore/fleetscore/ingester/internal/pipeline"
	"github.com/fleetscore/fleetscore/pkg/metrics"
	"github.com/fleetscore/fleetscore/pkg/tsdb"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("fleetscore-ingester starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	level.Set(cfg.Ingester.Level())
	slog.Info("config loaded",
		"sources", len(cfg.Ingester.Sources),
		"tsdb", cfg.Ingester.TSDB.URL,
		"bucket", cfg.Ingester.TSDB.Bucket,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := tsdb.Open(cfg.Ingester.TSDB)
	if err != nil {
		slog.Error("failed to open time-series store", "err", err)
		os.Exit(1)
	}
	defer store.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewIngester(reg)

	// Sources are fixed at startup; a reload only changes the log level.
	go func() {
		if err := config.Watch(ctx, *configPath, func(updated *config.Config) {
			level.Set(updated.Ingester.Level())
			slog.Info("config hot-reloaded", "log_level", updated.Ingester.Level().String())
		}); err != nil {
			slog.Error("config watcher stopped", "err", err)
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Ingester.HTTPPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		slog.Info("metrics listener starting", "port", cfg.Ingester.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics listener error", "err", err)
		}
	}()

	p := pipeline.New(cfg.Ingester, store, m)
	p.Run(ctx)

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutCancel()
	_ = httpSrv.Shutdown(shutCtx)

	slog.Info("fleetscore-ingester shutting down")
}
