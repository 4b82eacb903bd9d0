// Package rpc defines the factory.v1.ProductionControl gRPC service.
//
// There is no generated code: the service descriptor is written by hand and
// every request and response travels as a google.protobuf.Struct. Go values
// are converted through their JSON form, so the default proto codec carries
// them unchanged.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/devghori1264/aerophoenix/factory-sim/internal/models"
)

const ServiceName = "factory.v1.ProductionControl"

type Empty struct{}

type PingResponse struct {
	Message string `json:"message"`
}

type MachineRequest struct {
	ID   string `json:"id"`
	Type string `json:"type,omitempty"`
}

type FailureRequest struct {
	ID        string `json:"id"`
	ErrorType string `json:"error_type"`
}

type BoolResponse struct {
	OK bool `json:"ok"`
}

type StringResponse struct {
	Value string `json:"value"`
}

type DeliverRequest struct {
	Component models.Component `json:"component"`
}

type StationRequest struct {
	ID string `json:"id"`
}

type StorageAlertRequest struct {
	Type  string `json:"type"`
	Level int    `json:"level"`
}

// ProductionControlServer is implemented by the controller.
type ProductionControlServer interface {
	Ping(context.Context, *Empty) (*PingResponse, error)
	RegisterMachine(context.Context, *MachineRequest) (*BoolResponse, error)
	NotifyFailure(context.Context, *FailureRequest) (*StringResponse, error)
	NotifyRepair(context.Context, *MachineRequest) (*BoolResponse, error)
	NotifyMaintenance(context.Context, *MachineRequest) (*BoolResponse, error)
	RequestStart(context.Context, *MachineRequest) (*BoolResponse, error)
	RequestStop(context.Context, *MachineRequest) (*BoolResponse, error)
	GetMachineStatus(context.Context, *MachineRequest) (*StringResponse, error)
	DeliverComponent(context.Context, *DeliverRequest) (*BoolResponse, error)
	RegisterStation(context.Context, *StationRequest) (*BoolResponse, error)
	NotifyStorageAlert(context.Context, *StorageAlertRequest) (*Empty, error)
	GetSystemStatus(context.Context, *Empty) (*StringResponse, error)
}

// ServiceDesc describes the service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ProductionControlServer)(nil),
	Methods: []grpc.MethodDesc{
		method("Ping", ProductionControlServer.Ping),
		method("RegisterMachine", ProductionControlServer.RegisterMachine),
		method("NotifyFailure", ProductionControlServer.NotifyFailure),
		method("NotifyRepair", ProductionControlServer.NotifyRepair),
		method("NotifyMaintenance", ProductionControlServer.NotifyMaintenance),
		method("RequestStart", ProductionControlServer.RequestStart),
		method("RequestStop", ProductionControlServer.RequestStop),
		method("GetMachineStatus", ProductionControlServer.GetMachineStatus),
		method("DeliverComponent", ProductionControlServer.DeliverComponent),
		method("RegisterStation", ProductionControlServer.RegisterStation),
		method("NotifyStorageAlert", ProductionControlServer.NotifyStorageAlert),
		method("GetSystemStatus", ProductionControlServer.GetSystemStatus),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "factory/v1/production_control",
}

// Register attaches srv to s.
func Register(s grpc.ServiceRegistrar, srv ProductionControlServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func fullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

func method[Req, Resp any](name string, call func(ProductionControlServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			handler := func(ctx context.Context, req any) (any, error) {
				r := new(Req)
				if err := fromStruct(req.(*structpb.Struct), r); err != nil {
					return nil, status.Errorf(codes.InvalidArgument, "%s: %v", name, err)
				}
				resp, err := call(srv.(ProductionControlServer), ctx, r)
				if err != nil {
					return nil, err
				}
				out, err := toStruct(resp)
				if err != nil {
					return nil, status.Errorf(codes.Internal, "%s: %v", name, err)
				}
				return out, nil
			}
			if interceptor == nil {
				return handler(ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	s := new(structpb.Struct)
	if err := protojson.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	return s, nil
}

func fromStruct(s *structpb.Struct, v any) error {
	data, err := protojson.Marshal(s)
	if err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}
