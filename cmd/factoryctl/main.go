// Command factoryctl runs machine and station agents and drives the
// controller from the command line.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/devghori1264/aerophoenix/factory-sim/internal/config"
	"github.com/devghori1264/aerophoenix/factory-sim/internal/logging"
	"github.com/devghori1264/aerophoenix/factory-sim/internal/rpc"
)

type globals struct {
	controller string
	natsURL    string
	timeout    time.Duration
	logLevel   string
	dev        bool
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", errorMsg("%v", err))
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:           "factoryctl",
		Short:         "Factory machines, stations and controller operations",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&g.controller, "controller", "127.0.0.1:50051", "Controller gRPC address")
	pf.StringVar(&g.natsURL, "nats", "nats://127.0.0.1:4222", "NATS URL")
	pf.DurationVar(&g.timeout, "timeout", rpc.DefaultCallTimeout, "Per-call timeout")
	pf.StringVar(&g.logLevel, "log-level", "info", "Log level for agents")
	pf.BoolVar(&g.dev, "dev", true, "Human-readable agent logs")

	root.AddCommand(machineCmd(g))
	root.AddCommand(stationCmd(g))
	root.AddCommand(statusCmd(g))
	root.AddCommand(deliverCmd(g))
	root.AddCommand(alertCmd(g))
	root.AddCommand(eventsCmd(g))
	return root
}

func (g *globals) dial() (*rpc.Client, error) {
	return rpc.Dial(g.controller, g.timeout)
}

// agentLogger builds an agent logger. Flags set on the command line win over
// the configuration file.
func (g *globals) agentLogger(cmd *cobra.Command, lc config.LogConfig) (*zap.Logger, error) {
	level, dev := g.logLevel, g.dev
	if !cmd.Flags().Changed("log-level") && lc.Level != "" {
		level = lc.Level
	}
	if !cmd.Flags().Changed("dev") && lc.Development {
		dev = true
	}
	return logging.New(level, dev)
}

// withClient runs fn against a fresh controller connection.
func (g *globals) withClient(ctx context.Context, fn func(context.Context, *rpc.Client) error) error {
	cl, err := g.dial()
	if err != nil {
		return err
	}
	defer cl.Close()
	return fn(ctx, cl)
}
