package rpc

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/devghori1264/aerophoenix/factory-sim/internal/models"
)

// DefaultCallTimeout bounds every client call made without its own deadline.
// It exceeds the controller's delivery bound so a slow dispatch still answers.
const DefaultCallTimeout = 5 * time.Second

// Client talks to the controller. Machine and station agents use it.
type Client struct {
	cc      grpc.ClientConnInterface
	conn    *grpc.ClientConn
	timeout time.Duration
}

// Dial connects to the controller at target.
func Dial(target string, timeout time.Duration, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	}, opts...)
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial controller %s: %w", target, err)
	}
	c := NewClient(conn, timeout)
	c.conn = conn
	return c, nil
}

// NewClient wraps an existing connection.
func NewClient(cc grpc.ClientConnInterface, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	return &Client{cc: cc, timeout: timeout}
}

// Close closes the connection opened by Dial.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

func (c *Client) invoke(ctx context.Context, name string, req, resp any) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	in, err := toStruct(req)
	if err != nil {
		return err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, fullMethod(name), in, out); err != nil {
		return err
	}
	return fromStruct(out, resp)
}

func (c *Client) invokeBool(ctx context.Context, name string, req any) (bool, error) {
	var resp BoolResponse
	if err := c.invoke(ctx, name, req, &resp); err != nil {
		return false, err
	}
	return resp.OK, nil
}

func (c *Client) Ping(ctx context.Context) (string, error) {
	var resp PingResponse
	err := c.invoke(ctx, "Ping", &Empty{}, &resp)
	return resp.Message, err
}

func (c *Client) RegisterMachine(ctx context.Context, id, machineType string) (bool, error) {
	return c.invokeBool(ctx, "RegisterMachine", &MachineRequest{ID: id, Type: machineType})
}

// NotifyFailure returns REPLACED_BY:<id>, NO_REPLACEMENT or ERROR.
func (c *Client) NotifyFailure(ctx context.Context, id, errorType string) (string, error) {
	var resp StringResponse
	err := c.invoke(ctx, "NotifyFailure", &FailureRequest{ID: id, ErrorType: errorType}, &resp)
	return resp.Value, err
}

func (c *Client) NotifyRepair(ctx context.Context, id string) (bool, error) {
	return c.invokeBool(ctx, "NotifyRepair", &MachineRequest{ID: id})
}

func (c *Client) NotifyMaintenance(ctx context.Context, id string) (bool, error) {
	return c.invokeBool(ctx, "NotifyMaintenance", &MachineRequest{ID: id})
}

func (c *Client) RequestStart(ctx context.Context, id string) (bool, error) {
	return c.invokeBool(ctx, "RequestStart", &MachineRequest{ID: id})
}

func (c *Client) RequestStop(ctx context.Context, id string) (bool, error) {
	return c.invokeBool(ctx, "RequestStop", &MachineRequest{ID: id})
}

func (c *Client) GetMachineStatus(ctx context.Context, id string) (string, error) {
	var resp StringResponse
	err := c.invoke(ctx, "GetMachineStatus", &MachineRequest{ID: id}, &resp)
	return resp.Value, err
}

func (c *Client) DeliverComponent(ctx context.Context, comp models.Component) (bool, error) {
	return c.invokeBool(ctx, "DeliverComponent", &DeliverRequest{Component: comp})
}

// RegisterStation announces a station already serving its NATS subjects.
func (c *Client) RegisterStation(ctx context.Context, id string) (bool, error) {
	return c.invokeBool(ctx, "RegisterStation", &StationRequest{ID: id})
}

func (c *Client) NotifyStorageAlert(ctx context.Context, componentType string, level int) error {
	return c.invoke(ctx, "NotifyStorageAlert", &StorageAlertRequest{Type: componentType, Level: level}, &Empty{})
}

// ReportLevel lets a station runner report through the client.
func (c *Client) ReportLevel(ctx context.Context, componentType string, level int) error {
	return c.NotifyStorageAlert(ctx, componentType, level)
}

func (c *Client) GetSystemStatus(ctx context.Context) (string, error) {
	var resp StringResponse
	err := c.invoke(ctx, "GetSystemStatus", &Empty{}, &resp)
	return resp.Value, err
}
