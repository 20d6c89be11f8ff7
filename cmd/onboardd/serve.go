package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/jeeves-cluster-organization/onboarding/coreengine/config"
	"github.com/jeeves-cluster-organization/onboarding/coreengine/grpc"
	"github.com/jeeves-cluster-organization/onboarding/coreengine/kernel"
	"github.com/jeeves-cluster-organization/onboarding/coreengine/observability"
)

const shutdownTimeout = 10 * time.Second

type serveOptions struct {
	grpcAddress     string
	metricsAddress  string
	cleanupInterval time.Duration
}

func newServeCmd(root *rootOptions) *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the onboarding gRPC service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			if opts.grpcAddress != "" {
				cfg.GRPCAddress = opts.grpcAddress
			}
			if opts.metricsAddress != "" {
				cfg.MetricsAddress = opts.metricsAddress
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, root, cfg, opts.cleanupInterval)
		},
	}
	cmd.Flags().StringVar(&opts.grpcAddress, "grpc-address", "", "Override grpc_address")
	cmd.Flags().StringVar(&opts.metricsAddress, "metrics-address", "", "Override metrics_address (\"-\" disables)")
	cmd.Flags().DurationVar(&opts.cleanupInterval, "cleanup-interval", time.Minute, "Idle session sweep interval")
	return cmd
}

func runServe(ctx context.Context, root *rootOptions, cfg *config.OnboardingConfig, cleanupInterval time.Duration) error {
	logger := newLogger(cfg, os.Stderr)
	logger.Info("onboardd_starting",
		"version", version,
		"grpc_address", cfg.GRPCAddress,
		"metrics_address", cfg.MetricsAddress,
	)

	shutdownTracer, err := observability.InitTracer(ctx, observability.TracerConfig{
		ServiceName:    cfg.ServiceName,
		ServiceVersion: version,
		Endpoint:       cfg.OTLPEndpoint,
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			logger.Warn("tracer_shutdown_failed", "error", err.Error())
		}
	}()

	deps, err := root.buildCollaborators(ctx, cfg, logger)
	if err != nil {
		return err
	}
	k, bus, err := newEngine(cfg, deps, logger)
	if err != nil {
		return err
	}
	unsubscribe := observability.SubscribeMetrics(bus)
	defer unsubscribe()

	stopCleanup := k.StartCleanupLoop(kernel.CleanupConfig{Interval: cleanupInterval})
	defer stopCleanup()

	metricsSrv := startMetricsServer(cfg.MetricsAddress, logger)

	server, err := grpc.NewGracefulServer(grpc.NewOnboardingServer(logger.With("component", "grpc"), k), cfg.GRPCAddress)
	if err != nil {
		return err
	}
	serveErr := server.Start(ctx)
	if errors.Is(serveErr, context.Canceled) {
		serveErr = nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics_shutdown_failed", "error", err.Error())
		}
	}
	if err := k.Shutdown(shutdownCtx); err != nil {
		logger.Warn("kernel_shutdown_failed", "error", err.Error())
	}
	logger.Info("onboardd_stopped")
	return serveErr
}

// startMetricsServer exposes /metrics on address. Empty or "-" disables it.
func startMetricsServer(address string, logger *observability.ZerologLogger) *http.Server {
	if address == "" || address == "-" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              address,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics_server_failed", "error", err.Error())
		}
	}()
	return srv
}
