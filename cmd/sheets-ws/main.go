// File: cmd/sheets-ws/main.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// sheets-ws serves a small collaborative sheet page over plain HTTP and
// relays cell edits between browsers over raw WebSocket connections.

package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/momentics/sheets-ws/control"
	"github.com/momentics/sheets-ws/internal/config"
	"github.com/momentics/sheets-ws/internal/logger"
	"github.com/momentics/sheets-ws/server"
)

//go:embed index.html
var defaultIndex []byte

func newRootCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "sheets-ws [OPTIONS]",
		Short:         "Collaborative sheet page with a raw WebSocket relay.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}
	cfg.BindFlags(cmd.Flags())
	return cmd
}

func run(ctx context.Context, cfg *config.Config) error {
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	page, err := loadIndex(cfg.IndexPath)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := control.NewMetrics(reg)

	var srv *server.Server
	srv = server.New(newHandler(cfg.Mode, hubFunc(func(v any) (int, error) { return srv.Broadcast(v) }), log),
		server.WithAddr(cfg.Addr()),
		server.WithLogger(log),
		server.WithMetrics(metrics),
		server.WithIndexPage(page),
		server.WithMaxMessageSize(uint64(cfg.MaxMessageSize)),
		server.WithReadBufferSize(cfg.ReadBufferSize),
	)

	g, ctx := errgroup.WithContext(ctx)
	if cfg.MetricsAddr != "" {
		g.Go(func() error {
			return serveMetrics(ctx, cfg.MetricsAddr, reg, log)
		})
	}
	g.Go(func() error {
		return srv.ListenAndServe(ctx)
	})

	log.Info("sheets-ws starting",
		zap.String("addr", cfg.Addr()),
		zap.String("mode", cfg.Mode),
		zap.String("metrics_addr", cfg.MetricsAddr),
	)
	return g.Wait()
}

func loadIndex(path string) ([]byte, error) {
	if path == "" {
		return defaultIndex, nil
	}
	page, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read index page: %w", err)
	}
	return page, nil
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry, log *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	hs := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = hs.Shutdown(shutdownCtx)
	}()

	log.Info("serving metrics", zap.String("addr", addr))
	if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
	cmd := newRootCommand(cfg)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}
