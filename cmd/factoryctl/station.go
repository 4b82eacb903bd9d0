package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/devghori1264/aerophoenix/factory-sim/internal/config"
	natsclient "github.com/devghori1264/aerophoenix/factory-sim/internal/nats"
	"github.com/devghori1264/aerophoenix/factory-sim/internal/rpc"
	"github.com/devghori1264/aerophoenix/factory-sim/internal/station"
	"github.com/devghori1264/aerophoenix/factory-sim/internal/storage"
)

var errStationRefused = errors.New("station registration refused")

func stationCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "station",
		Short: "Run an assembly station",
	}
	cmd.AddCommand(stationRunCmd(g))
	return cmd
}

func stationRunCmd(g *globals) *cobra.Command {
	var (
		configPath string
		id         string
		dbPath     string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a station agent until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.DefaultStation()
			if err := config.Load(configPath, &cfg); err != nil {
				return err
			}
			fs := cmd.Flags()
			if fs.Changed("id") {
				cfg.ID = id
			}
			if fs.Changed("db") {
				cfg.DBPath = dbPath
			}
			if fs.Changed("controller") {
				cfg.Controller = g.controller
			}
			if fs.Changed("nats") {
				cfg.NATSURL = g.natsURL
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			logger, err := g.agentLogger(cmd, cfg.Log)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			return runStation(cmd.Context(), g, cfg, logger)
		},
	}
	f := cmd.Flags()
	f.StringVar(&configPath, "config", "", "YAML configuration file")
	f.StringVar(&id, "id", "", "Station id")
	f.StringVar(&dbPath, "db", "", "Badger directory for assembled products (empty keeps them in memory)")
	return cmd
}

func runStation(parent context.Context, g *globals, cfg config.Station, logger *zap.Logger) error {
	logger = logger.With(zap.String("station", cfg.ID))

	st, err := station.New(cfg.ID, cfg.Zones, cfg.Recipe, cfg.Policy)
	if err != nil {
		return err
	}
	store, err := storage.NewBadgerStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open product store: %w", err)
	}
	defer store.Close()

	cl, err := rpc.Dial(cfg.Controller, g.timeout)
	if err != nil {
		return err
	}
	defer cl.Close()

	nc, err := natsclient.Connect(cfg.NATSURL, "factory-station-"+cfg.ID, logger)
	if err != nil {
		return err
	}
	defer nc.Close()

	events := natsclient.NewPublisher(nc, logger.Named("events"))
	runner := station.NewRunner(st, cl, store, station.RunnerConfig{
		AssembleInterval: cfg.AssembleInterval,
		ReportInterval:   cfg.ReportInterval,
	}, logger, station.WithEvents(events))
	if err := runner.Resume(parent); err != nil {
		return err
	}
	srv, err := natsclient.ServeStation(nc, runner, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := srv.Close(); err != nil {
			logger.Warn("unsubscribe station", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner.Start(ctx)
	defer runner.Stop()

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error { return registerStation(ctx, cl, cfg.ID, logger) })
	eg.Go(func() error {
		<-ctx.Done()
		return nil
	})
	if err := eg.Wait(); err != nil {
		return err
	}

	products, err := store.ListProducts(context.Background(), cfg.ID)
	if err != nil {
		return err
	}
	logger.Info("station shutting down",
		zap.Int64("assembled", st.Assembled()),
		zap.Int("stored_products", len(products)))
	return nil
}

func registerStation(ctx context.Context, cl *rpc.Client, id string, logger *zap.Logger) error {
	b := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(200*time.Millisecond),
		backoff.WithMaxInterval(5*time.Second),
		backoff.WithMaxElapsedTime(time.Minute),
	)

	op := func() error {
		ok, err := cl.RegisterStation(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			// the controller could not reach us over NATS yet
			return errStationRefused
		}
		return nil
	}
	notify := func(err error, wait time.Duration) {
		logger.Warn("station registration pending", zap.Error(err), zap.Duration("wait", wait))
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("register station %s: %w", id, err)
	}
	logger.Info("station registered with controller")
	return nil
}
