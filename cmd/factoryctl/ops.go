package main

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"os/signal"
	"slices"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/devghori1264/aerophoenix/factory-sim/internal/models"
	natsclient "github.com/devghori1264/aerophoenix/factory-sim/internal/nats"
	"github.com/devghori1264/aerophoenix/factory-sim/internal/rpc"
)

func statusCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the controller's system snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return g.withClient(cmd.Context(), func(ctx context.Context, cl *rpc.Client) error {
				text, err := cl.GetSystemStatus(ctx)
				if err != nil {
					return err
				}
				fmt.Print(text)
				return nil
			})
		},
	}
}

func deliverCmd(g *globals) *cobra.Command {
	var (
		producer  string
		id        string
		defective bool
	)
	cmd := &cobra.Command{
		Use:   "deliver TYPE",
		Short: "Deliver one hand-made component to the stations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" {
				id = "manual-" + uuid.NewString()
			}
			c := models.Component{
				ID:         id,
				Type:       args[0],
				ProducedBy: producer,
				Defective:  defective,
				ProducedAt: time.Now().UTC(),
			}
			return g.withClient(cmd.Context(), func(ctx context.Context, cl *rpc.Client) error {
				ok, err := cl.DeliverComponent(ctx, c)
				if err != nil {
					return err
				}
				fmt.Println(verdict(ok,
					fmt.Sprintf("component %s accepted", c.ID),
					fmt.Sprintf("component %s not accepted", c.ID)))
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&producer, "producer", "", "Machine credited with the component")
	f.StringVar(&id, "id", "", "Component id (default: random)")
	f.BoolVar(&defective, "defective", false, "Mark the component defective")
	return cmd
}

func alertCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "alert TYPE LEVEL",
		Short: "Report a storage level for a component type",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			level, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("level %q: %w", args[1], err)
			}
			return g.withClient(cmd.Context(), func(ctx context.Context, cl *rpc.Client) error {
				if err := cl.NotifyStorageAlert(ctx, args[0], level); err != nil {
					return err
				}
				fmt.Println(successMsg("reported %s at %d%%", args[0], level))
				return nil
			})
		},
	}
}

func eventsCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "events",
		Short: "Follow controller events until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			nc, err := natsclient.Connect(g.natsURL, "factoryctl-events", nil)
			if err != nil {
				return err
			}
			defer nc.Close()

			sub, err := nc.Subscribe("factory.events.>", func(msg *nats.Msg) {
				var ev models.Event
				if err := json.Unmarshal(msg.Data, &ev); err != nil {
					fmt.Println(errorMsg("undecodable event on %s", msg.Subject))
					return
				}
				rows := make([][]string, 0, len(ev.Attrs))
				for _, k := range slices.Sorted(maps.Keys(ev.Attrs)) {
					rows = append(rows, []string{k, ev.Attrs[k]})
				}
				fmt.Println(ev.Time.Local().Format(time.TimeOnly), ev.Kind)
				if len(rows) > 0 {
					fmt.Println(renderTable([]string{"ATTR", "VALUE"}, rows))
				}
			})
			if err != nil {
				return err
			}
			defer func() { _ = sub.Unsubscribe() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			<-ctx.Done()
			return nil
		},
	}
}
