// Command server runs the factory controller: the gRPC production-control
// service, the HTTP shim, Prometheus metrics and the reconciliation loop.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/devghori1264/aerophoenix/factory-sim/internal/api"
	"github.com/devghori1264/aerophoenix/factory-sim/internal/config"
	"github.com/devghori1264/aerophoenix/factory-sim/internal/dispatch"
	"github.com/devghori1264/aerophoenix/factory-sim/internal/logging"
	natsclient "github.com/devghori1264/aerophoenix/factory-sim/internal/nats"
	"github.com/devghori1264/aerophoenix/factory-sim/internal/server"
	"github.com/devghori1264/aerophoenix/factory-sim/internal/storage"
	"github.com/devghori1264/aerophoenix/factory-sim/internal/telemetry"
)

const shutdownTimeout = 5 * time.Second

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		configPath string
		cfg        = config.DefaultController()
	)
	cmd := &cobra.Command{
		Use:           "server",
		Short:         "Run the factory production controller",
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fileCfg := config.DefaultController()
			if err := config.Load(configPath, &fileCfg); err != nil {
				return err
			}
			merged := overrideChanged(cmd, fileCfg, cfg)
			if err := merged.Validate(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, merged)
		},
	}

	f := cmd.Flags()
	f.StringVar(&configPath, "config", "", "YAML configuration file")
	f.StringVar(&cfg.GRPCAddr, "grpc-addr", cfg.GRPCAddr, "gRPC listen address")
	f.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "HTTP shim listen address (empty disables)")
	f.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "Prometheus listen address (empty disables)")
	f.StringVar(&cfg.NATSURL, "nats", cfg.NATSURL, "NATS URL for station callbacks and events (empty disables)")
	f.StringVar(&cfg.DBPath, "db", cfg.DBPath, "Badger directory for the machine audit (empty keeps it in memory)")
	f.StringVar(&cfg.Log.Level, "log-level", cfg.Log.Level, "Log level")
	f.BoolVar(&cfg.Log.Development, "dev", cfg.Log.Development, "Human-readable development logs")
	f.BoolVar(&cfg.Tracing, "tracing", cfg.Tracing, "Export traces to stdout")
	f.DurationVar(&cfg.ReconcileInterval, "reconcile-interval", cfg.ReconcileInterval, "Reconciliation period")
	f.DurationVar(&cfg.DeliveryTimeout, "delivery-timeout", cfg.DeliveryTimeout, "Bound on one component delivery")
	f.IntVar(&cfg.StartBatch, "start-batch", cfg.StartBatch, "Machines started per type on shortage")
	f.IntVar(&cfg.Policy.LowWatermark, "low-watermark", cfg.Policy.LowWatermark, "Storage percentage counted as low")
	return cmd
}

// overrideChanged copies the flags the user actually set over the file values.
func overrideChanged(cmd *cobra.Command, file, flags config.Controller) config.Controller {
	set := func(name string, apply func()) {
		if cmd.Flags().Changed(name) {
			apply()
		}
	}
	set("grpc-addr", func() { file.GRPCAddr = flags.GRPCAddr })
	set("http-addr", func() { file.HTTPAddr = flags.HTTPAddr })
	set("metrics-addr", func() { file.MetricsAddr = flags.MetricsAddr })
	set("nats", func() { file.NATSURL = flags.NATSURL })
	set("db", func() { file.DBPath = flags.DBPath })
	set("log-level", func() { file.Log.Level = flags.Log.Level })
	set("dev", func() { file.Log.Development = flags.Log.Development })
	set("tracing", func() { file.Tracing = flags.Tracing })
	set("reconcile-interval", func() { file.ReconcileInterval = flags.ReconcileInterval })
	set("delivery-timeout", func() { file.DeliveryTimeout = flags.DeliveryTimeout })
	set("start-batch", func() { file.StartBatch = flags.StartBatch })
	set("low-watermark", func() { file.Policy.LowWatermark = flags.Policy.LowWatermark })
	return file
}

func run(ctx context.Context, cfg config.Controller) error {
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	shutdownTracing, err := telemetry.Setup("factory-controller", cfg.Tracing, os.Stdout)
	if err != nil {
		return err
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	store, err := storage.NewBadgerStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open badger store: %w", err)
	}
	defer store.Close()

	opts := []server.Option{server.WithLogger(logger), server.WithAudit(store)}
	var resolve server.StationResolver
	if cfg.NATSURL != "" {
		nc, err := natsclient.Connect(cfg.NATSURL, "factory-controller", logger)
		if err != nil {
			return err
		}
		pub := natsclient.NewPublisher(nc, logger.Named("events"))
		defer pub.Close()
		opts = append(opts, server.WithEvents(pub))
		resolve = natsResolver(nc)
	} else {
		logger.Warn("NATS disabled, remote stations cannot register")
	}

	ctrl := server.New(cfg.ServerConfig(), opts...)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.GRPCAddr, err)
	}
	gs := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	server.NewGRPCService(ctrl, resolve).RegisterGRPC(gs)

	var httpServers []*http.Server
	if cfg.HTTPAddr != "" {
		httpServers = append(httpServers, &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           api.NewHTTPHandler(ctrl, logger.Named("http")),
			ReadHeaderTimeout: 5 * time.Second,
		})
	}
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		api.RegisterMetrics(mux)
		httpServers = append(httpServers, &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		})
	}

	g, ctx := errgroup.WithContext(ctx)
	ctrl.Start(ctx)
	defer ctrl.Stop()

	g.Go(func() error {
		logger.Info("gRPC server listening", zap.String("addr", cfg.GRPCAddr))
		return gs.Serve(lis)
	})
	for _, hs := range httpServers {
		g.Go(func() error {
			logger.Info("HTTP server listening", zap.String("addr", hs.Addr))
			if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http %s: %w", hs.Addr, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutdown initiated")
		gs.GracefulStop()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		for _, hs := range httpServers {
			if err := hs.Shutdown(sctx); err != nil {
				logger.Warn("http shutdown", zap.String("addr", hs.Addr), zap.Error(err))
			}
		}
		return nil
	})

	err = g.Wait()
	logger.Info("shutdown complete")
	return err
}

func natsResolver(nc *nats.Conn) server.StationResolver {
	return func(ctx context.Context, id string) (dispatch.Handle, error) {
		sc := natsclient.NewStationClient(nc, id)
		if err := sc.Ping(ctx); err != nil {
			return nil, err
		}
		return sc, nil
	}
}
