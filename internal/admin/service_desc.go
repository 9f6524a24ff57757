package admin

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified name of the admin service.
const ServiceName = "netctrl.admin.v1.ControlService"

// Method names of ControlService.
const (
	MethodGetStatus       = "GetStatus"
	MethodListArp         = "ListArp"
	MethodAddArpEntry     = "AddArpEntry"
	MethodForceArpRequest = "ForceArpRequest"
	MethodSendPing        = "SendPing"
	MethodCheckPingReply  = "CheckPingReply"
	MethodSetAddress      = "SetAddress"
	MethodPortStats       = "PortStats"
)

// ControlServiceServer is the server API for ControlService. Requests and
// responses are free-form structs; field names are documented on Service.
type ControlServiceServer interface {
	GetStatus(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListArp(context.Context, *structpb.Struct) (*structpb.Struct, error)
	AddArpEntry(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ForceArpRequest(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SendPing(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CheckPingReply(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SetAddress(context.Context, *structpb.Struct) (*structpb.Struct, error)
	PortStats(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryCall func(ControlServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryMethod(name string, call unaryCall) grpc.MethodDesc {
	fullMethod := "/" + ServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			s := srv.(ControlServiceServer)
			if interceptor == nil {
				return call(s, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(s, ctx, req.(*structpb.Struct))
			})
		},
	}
}

// ControlServiceDesc describes ControlService for grpc.Server.RegisterService.
var ControlServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ControlServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod(MethodGetStatus, ControlServiceServer.GetStatus),
		unaryMethod(MethodListArp, ControlServiceServer.ListArp),
		unaryMethod(MethodAddArpEntry, ControlServiceServer.AddArpEntry),
		unaryMethod(MethodForceArpRequest, ControlServiceServer.ForceArpRequest),
		unaryMethod(MethodSendPing, ControlServiceServer.SendPing),
		unaryMethod(MethodCheckPingReply, ControlServiceServer.CheckPingReply),
		unaryMethod(MethodSetAddress, ControlServiceServer.SetAddress),
		unaryMethod(MethodPortStats, ControlServiceServer.PortStats),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "netctrl/admin/v1/control.proto",
}

// RegisterControlServiceServer registers srv on s.
func RegisterControlServiceServer(s grpc.ServiceRegistrar, srv ControlServiceServer) {
	s.RegisterService(&ControlServiceDesc, srv)
}

// ControlClient calls ControlService over a client connection.
type ControlClient struct {
	cc grpc.ClientConnInterface
}

// NewControlClient wraps cc.
func NewControlClient(cc grpc.ClientConnInterface) *ControlClient {
	return &ControlClient{cc: cc}
}

// Call invokes method with req. A nil req sends an empty struct.
func (c *ControlClient) Call(ctx context.Context, method string, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	if req == nil {
		req = &structpb.Struct{}
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ControlClient) GetStatus(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.Call(ctx, MethodGetStatus, req, opts...)
}

func (c *ControlClient) ListArp(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.Call(ctx, MethodListArp, req, opts...)
}

func (c *ControlClient) AddArpEntry(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.Call(ctx, MethodAddArpEntry, req, opts...)
}

func (c *ControlClient) ForceArpRequest(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.Call(ctx, MethodForceArpRequest, req, opts...)
}

func (c *ControlClient) SendPing(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.Call(ctx, MethodSendPing, req, opts...)
}

func (c *ControlClient) CheckPingReply(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.Call(ctx, MethodCheckPingReply, req, opts...)
}

func (c *ControlClient) SetAddress(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.Call(ctx, MethodSetAddress, req, opts...)
}

func (c *ControlClient) PortStats(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.Call(ctx, MethodPortStats, req, opts...)
}
