package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/devghori1264/aerophoenix/factory-sim/internal/config"
	"github.com/devghori1264/aerophoenix/factory-sim/internal/machine"
	"github.com/devghori1264/aerophoenix/factory-sim/internal/rpc"
)

func machineCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "machine",
		Short: "Run a production machine or act on one",
	}
	cmd.AddCommand(machineRunCmd(g))
	cmd.AddCommand(machineGetCmd(g))
	cmd.AddCommand(machineActionCmd(g, "start", "Ask the controller to start a machine", (*rpc.Client).RequestStart))
	cmd.AddCommand(machineActionCmd(g, "stop", "Ask the controller to stop a machine", (*rpc.Client).RequestStop))
	cmd.AddCommand(machineActionCmd(g, "repair", "Mark a failed machine repaired", (*rpc.Client).NotifyRepair))
	cmd.AddCommand(machineActionCmd(g, "maintain", "Put a machine in maintenance", (*rpc.Client).NotifyMaintenance))
	cmd.AddCommand(machineFailCmd(g))
	return cmd
}

func machineRunCmd(g *globals) *cobra.Command {
	var (
		configPath string
		flags      = config.DefaultMachine()
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a machine agent until interrupted",
		Long: "Registers the machine, follows the status the controller assigns it and produces\n" +
			"while RUNNING. SIGUSR1 simulates a breakdown, SIGUSR2 repairs it.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.DefaultMachine()
			if err := config.Load(configPath, &cfg); err != nil {
				return err
			}
			fs := cmd.Flags()
			if fs.Changed("id") {
				cfg.Machine.ID = flags.Machine.ID
			}
			if fs.Changed("type") {
				cfg.Machine.Type = flags.Machine.Type
			}
			if fs.Changed("interval") {
				cfg.Machine.ProductionInterval = flags.Machine.ProductionInterval
			}
			if fs.Changed("defect-rate") {
				cfg.Machine.DefectRate = flags.Machine.DefectRate
			}
			if fs.Changed("failure-rate") {
				cfg.Machine.FailureRate = flags.Machine.FailureRate
			}
			if fs.Changed("controller") || cfg.Controller == "" {
				cfg.Controller = g.controller
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			logger, err := g.agentLogger(cmd, cfg.Log)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			return runMachine(cmd.Context(), g, cfg, logger)
		},
	}
	f := cmd.Flags()
	f.StringVar(&configPath, "config", "", "YAML configuration file")
	f.StringVar(&flags.Machine.ID, "id", "", "Machine id")
	f.StringVar(&flags.Machine.Type, "type", "", "Component type produced")
	f.DurationVar(&flags.Machine.ProductionInterval, "interval", flags.Machine.ProductionInterval, "Time between two components")
	f.Float64Var(&flags.Machine.DefectRate, "defect-rate", flags.Machine.DefectRate, "Probability a component is defective")
	f.Float64Var(&flags.Machine.FailureRate, "failure-rate", flags.Machine.FailureRate, "Probability of a breakdown per cycle")
	return cmd
}

func runMachine(parent context.Context, g *globals, cfg config.Machine, logger *zap.Logger) error {
	cl, err := rpc.Dial(cfg.Controller, g.timeout)
	if err != nil {
		return err
	}
	defer cl.Close()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	agent := machine.New(cfg.Machine, cl, logger)
	if err := agent.Register(ctx); err != nil {
		return err
	}
	agent.Start(ctx)
	defer agent.Stop()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(sigs)

	for {
		select {
		case <-ctx.Done():
			made, accepted := agent.Produced()
			logger.Info("machine shutting down", zap.Int64("produced", made), zap.Int64("accepted", accepted))
			return nil
		case sig := <-sigs:
			switch sig {
			case syscall.SIGUSR1:
				if _, err := agent.Fail(ctx, "MANUAL_FAILURE"); err != nil {
					logger.Error("failure notification failed", zap.Error(err))
				}
			case syscall.SIGUSR2:
				if err := agent.Repair(ctx); err != nil {
					logger.Warn("repair failed", zap.Error(err))
				}
			}
		}
	}
}

func machineGetCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "get ID",
		Short: "Show the status of a machine",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withClient(cmd.Context(), func(ctx context.Context, cl *rpc.Client) error {
				st, err := cl.GetMachineStatus(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Print(keyValues(pair{"machine", args[0]}, pair{"status", statusText(st)}))
				return nil
			})
		},
	}
}

func machineActionCmd(g *globals, use, short string, call func(*rpc.Client, context.Context, string) (bool, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withClient(cmd.Context(), func(ctx context.Context, cl *rpc.Client) error {
				ok, err := call(cl, ctx, args[0])
				if err != nil {
					return err
				}
				st, _ := cl.GetMachineStatus(ctx, args[0])
				fmt.Println(verdict(ok,
					fmt.Sprintf("%s %s: now %s", use, args[0], statusText(st)),
					fmt.Sprintf("%s %s refused (status %s)", use, args[0], statusText(st))))
				return nil
			})
		},
	}
}

func machineFailCmd(g *globals) *cobra.Command {
	var errorType string
	cmd := &cobra.Command{
		Use:   "fail ID",
		Short: "Report a machine failure and trigger failover",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withClient(cmd.Context(), func(ctx context.Context, cl *rpc.Client) error {
				reply, err := cl.NotifyFailure(ctx, args[0], errorType)
				if err != nil {
					return err
				}
				switch reply {
				case "ERROR":
					fmt.Println(errorMsg("machine %s unknown", args[0]))
				case "NO_REPLACEMENT":
					fmt.Println(warnMsg("%s failed, no replacement available", args[0]))
				default:
					fmt.Println(successMsg("%s failed, %s", args[0], reply))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&errorType, "error", "MANUAL_FAILURE", "Error type recorded on the machine")
	return cmd
}
