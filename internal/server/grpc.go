package server

import (
	"context"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/devghori1264/aerophoenix/factory-sim/internal/dispatch"
	"github.com/devghori1264/aerophoenix/factory-sim/internal/rpc"
)

// StationResolver turns a station id received over gRPC into a callable
// handle, typically a NATS StationClient after a reachability check.
type StationResolver func(ctx context.Context, id string) (dispatch.Handle, error)

// GRPCService exposes a Controller as factory.v1.ProductionControl.
type GRPCService struct {
	ctrl    *Controller
	resolve StationResolver
}

var _ rpc.ProductionControlServer = (*GRPCService)(nil)

// NewGRPCService wraps ctrl. With a nil resolver RegisterStation always
// answers false.
func NewGRPCService(ctrl *Controller, resolve StationResolver) *GRPCService {
	return &GRPCService{ctrl: ctrl, resolve: resolve}
}

// RegisterGRPC attaches the service to gs.
func (s *GRPCService) RegisterGRPC(gs *grpc.Server) {
	rpc.Register(gs, s)
}

func ok(v bool) *rpc.BoolResponse { return &rpc.BoolResponse{OK: v} }

func (s *GRPCService) Ping(context.Context, *rpc.Empty) (*rpc.PingResponse, error) {
	return &rpc.PingResponse{Message: "pong from factory controller"}, nil
}

func (s *GRPCService) RegisterMachine(_ context.Context, req *rpc.MachineRequest) (*rpc.BoolResponse, error) {
	return ok(s.ctrl.RegisterMachine(req.ID, req.Type)), nil
}

func (s *GRPCService) NotifyFailure(_ context.Context, req *rpc.FailureRequest) (*rpc.StringResponse, error) {
	return &rpc.StringResponse{Value: s.ctrl.NotifyFailure(req.ID, req.ErrorType)}, nil
}

func (s *GRPCService) NotifyRepair(_ context.Context, req *rpc.MachineRequest) (*rpc.BoolResponse, error) {
	return ok(s.ctrl.NotifyRepair(req.ID)), nil
}

func (s *GRPCService) NotifyMaintenance(_ context.Context, req *rpc.MachineRequest) (*rpc.BoolResponse, error) {
	return ok(s.ctrl.NotifyMaintenance(req.ID)), nil
}

func (s *GRPCService) RequestStart(_ context.Context, req *rpc.MachineRequest) (*rpc.BoolResponse, error) {
	return ok(s.ctrl.RequestStart(req.ID)), nil
}

func (s *GRPCService) RequestStop(_ context.Context, req *rpc.MachineRequest) (*rpc.BoolResponse, error) {
	return ok(s.ctrl.RequestStop(req.ID)), nil
}

func (s *GRPCService) GetMachineStatus(_ context.Context, req *rpc.MachineRequest) (*rpc.StringResponse, error) {
	return &rpc.StringResponse{Value: s.ctrl.GetMachineStatus(req.ID)}, nil
}

func (s *GRPCService) DeliverComponent(ctx context.Context, req *rpc.DeliverRequest) (*rpc.BoolResponse, error) {
	if req.Component.ID == "" || req.Component.Type == "" {
		return nil, status.Error(codes.InvalidArgument, "component id and type required")
	}
	return ok(s.ctrl.DeliverComponent(ctx, req.Component)), nil
}

func (s *GRPCService) RegisterStation(ctx context.Context, req *rpc.StationRequest) (*rpc.BoolResponse, error) {
	if s.resolve == nil || req.ID == "" {
		return ok(false), nil
	}
	h, err := s.resolve(ctx, req.ID)
	if err != nil {
		s.ctrl.logger.Warn("station not reachable", zap.String("station", req.ID), zap.Error(err))
		return ok(false), nil
	}
	return ok(s.ctrl.RegisterStation(req.ID, h)), nil
}

func (s *GRPCService) NotifyStorageAlert(_ context.Context, req *rpc.StorageAlertRequest) (*rpc.Empty, error) {
	s.ctrl.NotifyStorageAlert(req.Type, req.Level)
	return &rpc.Empty{}, nil
}

func (s *GRPCService) GetSystemStatus(context.Context, *rpc.Empty) (*rpc.StringResponse, error) {
	return &rpc.StringResponse{Value: s.ctrl.GetSystemStatus()}, nil
}
