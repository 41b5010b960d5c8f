// autodeploy-stepd serves pipeline steps over gRPC for servers whose steps
// use the grpc worker.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/Littlefish319/autodeploy-agent-233/pkg/config"
	"github.com/Littlefish319/autodeploy-agent-233/pkg/version"
	"github.com/Littlefish319/autodeploy-agent-233/pkg/worker"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		configDir string
		listen    string
		debug     bool
	)

	cmd := &cobra.Command{
		Use:          "autodeploy-stepd",
		Short:        "Remote step service for autodeploy pipelines",
		Version:      version.Full(),
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if debug {
				slog.SetLogLoggerLevel(slog.LevelDebug)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
				slog.Warn("Could not load .env file", "error", err)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := config.Initialize(ctx, configDir)
			if err != nil {
				return err
			}
			ln, err := net.Listen("tcp", listen)
			if err != nil {
				return fmt.Errorf("listen %s: %w", listen, err)
			}
			return serve(ctx, cfg, ln)
		},
	}

	cmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	cmd.Flags().StringVar(&configDir, "config-dir", envOr("CONFIG_DIR", "./deploy/config"), "Path to configuration directory")
	cmd.Flags().StringVar(&listen, "listen", envOr("STEPD_LISTEN", ":50051"), "gRPC listen address")
	return cmd
}

// serve runs the step service and the standard gRPC health service on ln
// until ctx is cancelled.
func serve(ctx context.Context, cfg *config.Config, ln net.Listener) error {
	workers := worker.NewFactory(cfg).LocalWorkers()

	srv := grpc.NewServer()
	worker.RegisterStepServiceServer(srv, worker.NewStepService(workers))
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(srv, healthSrv)
	healthSrv.SetServingStatus(worker.ServiceName, healthpb.HealthCheckResponse_SERVING)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("Step service listening", "addr", ln.Addr().String(), "steps", len(workers))
		if err := srv.Serve(ln); err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		healthSrv.Shutdown()
		srv.GracefulStop()
		slog.Info("Step service stopped")
		return nil
	})
	return g.Wait()
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
