package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/bamsammich/warren/internal/config"
	"github.com/bamsammich/warren/internal/event"
	"github.com/bamsammich/warren/internal/links"
	"github.com/bamsammich/warren/internal/metrics"
	"github.com/bamsammich/warren/internal/server"
	"github.com/bamsammich/warren/internal/telemetry"
)

func newServeCmd(opts *options) *cobra.Command {
	var (
		listen      string
		noMetrics   bool
		trace       bool
		traceTarget string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the link API over HTTP",
		Long: `Serve the link API over HTTP.

The sandbox root is created if it does not exist. Routes live under /api;
Prometheus metrics are served at /metrics unless --no-metrics is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !cmd.Flags().Changed("listen") && opts.cfg.Server.Listen != nil {
				listen = *opts.cfg.Server.Listen
			}
			return runServe(opts, serveOptions{
				listen:      listen,
				metrics:     !noMetrics,
				trace:       trace || cmd.Flags().Changed("otlp-endpoint"),
				traceTarget: traceTarget,
			})
		},
	}

	cmd.Flags().StringVar(&listen, "listen", config.DefaultListen, "listen address (host:port)")
	cmd.Flags().BoolVar(&noMetrics, "no-metrics", false, "do not serve /metrics")
	cmd.Flags().BoolVar(&trace, "trace", false, "export OpenTelemetry traces")
	cmd.Flags().StringVar(&traceTarget, "otlp-endpoint", "", "OTLP/gRPC collector address (implies --trace)")
	return cmd
}

type serveOptions struct {
	listen      string
	traceTarget string
	metrics     bool
	trace       bool
}

func runServe(opts *options, so serveOptions) error {
	if err := os.MkdirAll(opts.root, 0o755); err != nil {
		return fmt.Errorf("create sandbox root: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdown, err := telemetry.Init(ctx, telemetryConfig(opts.cfg.Telemetry, so))
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(flushCtx); err != nil {
			slog.Warn("flush traces", "error", err)
		}
	}()

	var (
		gatherer prometheus.Gatherer
		m        *metrics.Metrics
	)
	if so.metrics {
		reg := metrics.NewRegistry()
		m = metrics.New(reg)
		gatherer = reg
	}

	events := make(chan event.Event, 256)
	svc, err := opts.service(m, links.WithEvents(events))
	if err != nil {
		return err
	}

	// Handlers may still be sending after shutdown times out, so the
	// channel stays open for the life of the process.
	go logEvents(events)

	srv := server.New(server.Config{
		Listen:       so.listen,
		Version:      version,
		ReadTimeout:  opts.cfg.Server.ReadTimeoutOr(0),
		WriteTimeout: opts.cfg.Server.WriteTimeoutOr(0),
	}, svc, gatherer)

	slog.Info("serving sandbox",
		"root", svc.Sandbox().Root(),
		"listen", so.listen,
		"metrics", so.metrics,
		"tracing", telemetry.IsEnabled(),
	)
	return srv.Start(ctx)
}

// logEvents writes every service event as a structured log record.
func logEvents(events <-chan event.Event) {
	for ev := range events {
		attrs := []slog.Attr{
			slog.String("id", ev.ID),
			slog.String("type", ev.Type.String()),
			slog.String("path", ev.Path),
		}
		if ev.Target != "" {
			attrs = append(attrs, slog.String("target", ev.Target))
		}
		if ev.Count > 0 {
			attrs = append(attrs, slog.Int("count", ev.Count))
		}
		level := slog.LevelInfo
		if !ev.Type.Mutation() {
			level = slog.LevelDebug
		}
		if ev.Error != nil {
			level = slog.LevelWarn
			attrs = append(attrs, slog.String("error", ev.Error.Error()))
		}
		slog.LogAttrs(context.Background(), level, "warren.event", attrs...)
	}
}

// telemetryConfig merges the [telemetry] config section with serve flags.
func telemetryConfig(tc config.TelemetryConfig, so serveOptions) telemetry.Config {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = version
	if tc.Enabled != nil {
		cfg.Enabled = *tc.Enabled
	}
	if tc.Endpoint != nil {
		cfg.Endpoint = *tc.Endpoint
	}
	if tc.Insecure != nil {
		cfg.Insecure = *tc.Insecure
	}
	if tc.SampleRate != nil {
		cfg.SampleRate = *tc.SampleRate
	}
	if so.trace {
		cfg.Enabled = true
	}
	if so.traceTarget != "" {
		cfg.Endpoint = so.traceTarget
	}
	return cfg
}
