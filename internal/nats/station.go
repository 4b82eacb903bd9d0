package natsclient

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/devghori1264/aerophoenix/factory-sim/internal/codec"
	"github.com/devghori1264/aerophoenix/factory-sim/internal/dispatch"
	"github.com/devghori1264/aerophoenix/factory-sim/internal/models"
)

// DefaultRequestTimeout bounds a station call made without a deadline.
const DefaultRequestTimeout = 2 * time.Second

// ReceiveSubject is where station id listens for deliveries.
func ReceiveSubject(stationID string) string {
	return "factory.stations." + stationID + ".receive"
}

// IDSubject answers with the station id.
func IDSubject(stationID string) string {
	return "factory.stations." + stationID + ".id"
}

type receiveRequest struct {
	Component models.Component `cbor:"component"`
}

type receiveReply struct {
	Accepted bool   `cbor:"accepted"`
	Error    string `cbor:"error,omitempty"`
}

// StationServer exposes a local station on NATS.
type StationServer struct {
	subs []*nats.Subscription
}

// ServeStation subscribes h to its receive and id subjects. Messages on one
// subscription are handled in arrival order.
func ServeStation(nc *nats.Conn, h dispatch.Handle, logger *zap.Logger) (*StationServer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	id := h.ID()
	recv, err := nc.Subscribe(ReceiveSubject(id), func(msg *nats.Msg) {
		var req receiveRequest
		reply := receiveReply{}
		if err := codec.Unmarshal(msg.Data, &req); err != nil {
			reply.Error = "decode: " + err.Error()
		} else {
			ctx, cancel := context.WithTimeout(context.Background(), DefaultRequestTimeout)
			ok, err := h.ReceiveComponent(ctx, req.Component)
			cancel()
			reply.Accepted = ok
			if err != nil {
				reply.Error = err.Error()
			}
		}
		data, err := codec.Marshal(reply)
		if err != nil {
			logger.Error("encode receive reply", zap.Error(err))
			return
		}
		if err := msg.Respond(data); err != nil {
			logger.Warn("respond to controller", zap.Error(err))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", ReceiveSubject(id), err)
	}
	ident, err := nc.Subscribe(IDSubject(id), func(msg *nats.Msg) {
		_ = msg.Respond([]byte(id))
	})
	if err != nil {
		_ = recv.Unsubscribe()
		return nil, fmt.Errorf("subscribe %s: %w", IDSubject(id), err)
	}
	return &StationServer{subs: []*nats.Subscription{recv, ident}}, nil
}

// Close unsubscribes the station.
func (s *StationServer) Close() error {
	var err error
	for _, sub := range s.subs {
		err = multierr.Append(err, sub.Unsubscribe())
	}
	return err
}

// StationClient is the controller-side handle of a remote station.
type StationClient struct {
	nc *nats.Conn
	id string
}

var _ dispatch.Handle = (*StationClient)(nil)

// NewStationClient returns a handle for station id.
func NewStationClient(nc *nats.Conn, id string) *StationClient {
	return &StationClient{nc: nc, id: id}
}

func (c *StationClient) ID() string { return c.id }

// ReceiveComponent forwards comp to the station and waits for its answer or
// for ctx to end.
func (c *StationClient) ReceiveComponent(ctx context.Context, comp models.Component) (bool, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultRequestTimeout)
		defer cancel()
	}
	data, err := codec.Marshal(receiveRequest{Component: comp})
	if err != nil {
		return false, err
	}
	msg, err := c.nc.RequestWithContext(ctx, ReceiveSubject(c.id), data)
	if err != nil {
		return false, fmt.Errorf("station %s: %w", c.id, err)
	}
	var reply receiveReply
	if err := codec.Unmarshal(msg.Data, &reply); err != nil {
		return false, fmt.Errorf("station %s: decode reply: %w", c.id, err)
	}
	if reply.Error != "" {
		return false, fmt.Errorf("station %s: %s", c.id, reply.Error)
	}
	return reply.Accepted, nil
}

// Ping asks the station for its id, confirming it is reachable.
func (c *StationClient) Ping(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultRequestTimeout)
		defer cancel()
	}
	msg, err := c.nc.RequestWithContext(ctx, IDSubject(c.id), nil)
	if err != nil {
		return fmt.Errorf("station %s: %w", c.id, err)
	}
	if got := string(msg.Data); got != c.id {
		return fmt.Errorf("station %s answered as %q", c.id, got)
	}
	return nil
}
