package server

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/devghori1264/aerophoenix/factory-sim/internal/dispatch"
	"github.com/devghori1264/aerophoenix/factory-sim/internal/models"
	"github.com/devghori1264/aerophoenix/factory-sim/internal/rpc"
)

func startGRPC(t *testing.T, c *Controller, resolve StationResolver) *rpc.Client {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	gs := grpc.NewServer()
	NewGRPCService(c, resolve).RegisterGRPC(gs)
	go func() { _ = gs.Serve(lis) }()
	t.Cleanup(gs.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return rpc.NewClient(conn, 2*time.Second)
}

func TestGRPCMachineLifecycle(t *testing.T) {
	c := newController(t)
	cl := startGRPC(t, c, nil)
	ctx := context.Background()

	msg, err := cl.Ping(ctx)
	require.NoError(t, err)
	assert.Contains(t, msg, "pong")

	ok, err := cl.RegisterMachine(ctx, "M1", "TYPE_A")
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = cl.RegisterMachine(ctx, "M2", "TYPE_A")
	require.NoError(t, err)
	require.True(t, ok)

	st, err := cl.GetMachineStatus(ctx, "M1")
	require.NoError(t, err)
	assert.Equal(t, "STOPPED", st)

	ok, err = cl.RequestStart(ctx, "M1")
	require.NoError(t, err)
	assert.True(t, ok)

	reply, err := cl.NotifyFailure(ctx, "M1", "JAM")
	require.NoError(t, err)
	assert.Equal(t, "REPLACED_BY:M2", reply)

	ok, err = cl.RequestStart(ctx, "M1")
	require.NoError(t, err)
	assert.False(t, ok, "rejections are answers, not errors")

	ok, err = cl.NotifyRepair(ctx, "M1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = cl.NotifyMaintenance(ctx, "M1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = cl.RequestStop(ctx, "M2")
	require.NoError(t, err)
	assert.True(t, ok)

	st, err = cl.GetMachineStatus(ctx, "ghost")
	require.NoError(t, err)
	assert.Equal(t, StatusUnknown, st)
}

func TestGRPCStorageAlertAndStatus(t *testing.T) {
	c := newController(t)
	cl := startGRPC(t, c, nil)
	ctx := context.Background()

	require.NoError(t, cl.NotifyStorageAlert(ctx, "TYPE_A", 0))
	ok, err := cl.RegisterMachine(ctx, "M3", "TYPE_A")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "RUNNING", c.GetMachineStatus("M3"))

	text, err := cl.GetSystemStatus(ctx)
	require.NoError(t, err)
	assert.Contains(t, text, "M3")
}

func TestGRPCStationRegistrationAndDelivery(t *testing.T) {
	c := newController(t)
	known := map[string]dispatch.Handle{"S1": &stubStation{id: "S1", accept: true}}
	cl := startGRPC(t, c, func(_ context.Context, id string) (dispatch.Handle, error) {
		h, ok := known[id]
		if !ok {
			return nil, errors.New("no such station")
		}
		return h, nil
	})
	ctx := context.Background()

	ok, err := cl.RegisterStation(ctx, "S9")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = cl.RegisterStation(ctx, "S1")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = cl.DeliverComponent(ctx, models.Component{ID: "M1-C1", Type: "TYPE_A", ProducedBy: "M1"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = cl.DeliverComponent(ctx, models.Component{ID: "M1-C2", Type: "TYPE_A", Defective: true})
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = cl.DeliverComponent(ctx, models.Component{})
	assert.Error(t, err)
}
