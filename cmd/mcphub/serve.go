package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	mcpgateway "github.com/vikashloomba/mcp-hub-go/pkg/mcp-gateway"
	"github.com/vikashloomba/mcp-hub-go/pkg/mcpmgr"
	"github.com/vikashloomba/mcp-hub-go/pkg/settings"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Keep providers connected and serve them through the gateway",
	Long: `Connect every provider in the settings file and keep the connections in
line with the file. With --watch, edits to the file are reconciled as they
happen. The gateway exposes every enabled provider on one Streamable MCP
endpoint; --gateway-addr="" disables it.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	},
}

func init() {
	flags := serveCmd.Flags()
	flags.String(keyGatewayAddr, ":8700", "gateway listen address, empty to disable")
	flags.String(keyGatewayPath, "/mcp", "gateway MCP endpoint path")
	flags.String(keyMetricsAddr, "", "prometheus metrics listen address, empty to disable")
	flags.Bool(keyWatch, true, "reconcile when the settings file changes")
	if err := viper.BindPFlags(flags); err != nil {
		panic(err)
	}
}

func serve(ctx context.Context) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	h, err := openHost(reg)
	if err != nil {
		return err
	}
	defer h.close()

	resync := func(ctx context.Context) {
		report, err := h.manager.Sync(ctx)
		if err != nil {
			logger.Error("settings sync failed", "error", err)
			return
		}
		logReport(report)
	}
	resync(ctx)

	g, ctx := errgroup.WithContext(ctx)

	if addr := viper.GetString(keyGatewayAddr); addr != "" {
		gateway, err := mcpgateway.NewGateway(h.manager, &mcpgateway.Options{
			Addr:   addr,
			Path:   viper.GetString(keyGatewayPath),
			Logger: logger.With("component", "gateway"),
		})
		if err != nil {
			return err
		}
		g.Go(func() error {
			return ignoreCanceled(gateway.ListenAndServe(ctx))
		})
	}

	if addr := viper.GetString(keyMetricsAddr); addr != "" {
		g.Go(func() error {
			return serveMetrics(ctx, addr, reg)
		})
	}

	if viper.GetBool(keyWatch) {
		g.Go(func() error {
			return ignoreCanceled(settings.Watch(ctx, h.store.Path(), settings.DefaultDebounce, logger, resync))
		})
	}

	logger.Info("mcphub serving", "settings", h.store.Path(), "providers", len(h.manager.Providers()))
	g.Go(func() error {
		<-ctx.Done()
		return nil
	})
	return g.Wait()
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	logger.Info("metrics listening", "addr", addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func logReport(report mcpmgr.ReconcileReport) {
	if report.Changed() {
		logger.Info("providers reconciled",
			"created", report.Created,
			"recreated", report.Recreated,
			"removed", report.Removed)
	}
	for name, err := range report.Failures {
		logger.Warn("provider failed to connect", "provider", name, "error", err)
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
