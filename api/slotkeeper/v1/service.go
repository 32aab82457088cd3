package slotkeeperv1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "slotkeeper.v1.SlotKeeper"

const (
	LoginMethod           = "/" + ServiceName + "/Login"
	CreateStudentMethod   = "/" + ServiceName + "/CreateStudent"
	GenerateMethod        = "/" + ServiceName + "/Generate"
	ListSlotsMethod       = "/" + ServiceName + "/ListSlots"
	ExitSlotMethod        = "/" + ServiceName + "/ExitSlot"
	ResetSlotMethod       = "/" + ServiceName + "/ResetSlot"
	ForceLockSlotMethod   = "/" + ServiceName + "/ForceLockSlot"
	ForceUnlockSlotMethod = "/" + ServiceName + "/ForceUnlockSlot"
	ForceClearSlotMethod  = "/" + ServiceName + "/ForceClearSlot"
	SetLoginLockedMethod  = "/" + ServiceName + "/SetLoginLocked"
	GetGateMethod         = "/" + ServiceName + "/GetGate"
	GetPresenceMethod     = "/" + ServiceName + "/GetPresence"
	ListStudentsMethod    = "/" + ServiceName + "/ListStudents"
	WatchGateMethod       = "/" + ServiceName + "/WatchGate"
)

// SlotKeeperServer is the server API.
type SlotKeeperServer interface {
	Login(context.Context, *LoginRequest) (*LoginResponse, error)
	CreateStudent(context.Context, *CreateStudentRequest) (*CreateStudentResponse, error)
	Generate(context.Context, *GenerateRequest) (*GenerateResponse, error)
	ListSlots(context.Context, *ListSlotsRequest) (*ListSlotsResponse, error)
	ExitSlot(context.Context, *ExitSlotRequest) (*SlotResponse, error)
	ResetSlot(context.Context, *SlotIDRequest) (*SlotResponse, error)
	ForceLockSlot(context.Context, *SlotIDRequest) (*SlotResponse, error)
	ForceUnlockSlot(context.Context, *SlotIDRequest) (*SlotResponse, error)
	ForceClearSlot(context.Context, *SlotIDRequest) (*SlotResponse, error)
	SetLoginLocked(context.Context, *SetLoginLockedRequest) (*GateState, error)
	GetGate(context.Context, *Empty) (*GateState, error)
	GetPresence(context.Context, *Empty) (*PresenceResponse, error)
	ListStudents(context.Context, *Empty) (*ListStudentsResponse, error)
	// WatchGate sends the current gate state, then every change.
	WatchGate(*Empty, grpc.ServerStreamingServer[GateState]) error
}

// UnimplementedSlotKeeperServer answers Unimplemented for every method.
type UnimplementedSlotKeeperServer struct{}

func unimplemented(m string) error { return status.Errorf(codes.Unimplemented, "method %s not implemented", m) }

func (UnimplementedSlotKeeperServer) Login(context.Context, *LoginRequest) (*LoginResponse, error) {
	return nil, unimplemented("Login")
}
func (UnimplementedSlotKeeperServer) CreateStudent(context.Context, *CreateStudentRequest) (*CreateStudentResponse, error) {
	return nil, unimplemented("CreateStudent")
}
func (UnimplementedSlotKeeperServer) Generate(context.Context, *GenerateRequest) (*GenerateResponse, error) {
	return nil, unimplemented("Generate")
}
func (UnimplementedSlotKeeperServer) ListSlots(context.Context, *ListSlotsRequest) (*ListSlotsResponse, error) {
	return nil, unimplemented("ListSlots")
}
func (UnimplementedSlotKeeperServer) ExitSlot(context.Context, *ExitSlotRequest) (*SlotResponse, error) {
	return nil, unimplemented("ExitSlot")
}
func (UnimplementedSlotKeeperServer) ResetSlot(context.Context, *SlotIDRequest) (*SlotResponse, error) {
	return nil, unimplemented("ResetSlot")
}
func (UnimplementedSlotKeeperServer) ForceLockSlot(context.Context, *SlotIDRequest) (*SlotResponse, error) {
	return nil, unimplemented("ForceLockSlot")
}
func (UnimplementedSlotKeeperServer) ForceUnlockSlot(context.Context, *SlotIDRequest) (*SlotResponse, error) {
	return nil, unimplemented("ForceUnlockSlot")
}
func (UnimplementedSlotKeeperServer) ForceClearSlot(context.Context, *SlotIDRequest) (*SlotResponse, error) {
	return nil, unimplemented("ForceClearSlot")
}
func (UnimplementedSlotKeeperServer) SetLoginLocked(context.Context, *SetLoginLockedRequest) (*GateState, error) {
	return nil, unimplemented("SetLoginLocked")
}
func (UnimplementedSlotKeeperServer) GetGate(context.Context, *Empty) (*GateState, error) {
	return nil, unimplemented("GetGate")
}
func (UnimplementedSlotKeeperServer) GetPresence(context.Context, *Empty) (*PresenceResponse, error) {
	return nil, unimplemented("GetPresence")
}
func (UnimplementedSlotKeeperServer) ListStudents(context.Context, *Empty) (*ListStudentsResponse, error) {
	return nil, unimplemented("ListStudents")
}
func (UnimplementedSlotKeeperServer) WatchGate(*Empty, grpc.ServerStreamingServer[GateState]) error {
	return unimplemented("WatchGate")
}

// unary builds the method descriptor for one request/response call.
func unary[Req, Res any](name string, call func(SlotKeeperServer, context.Context, *Req) (*Res, error)) grpc.MethodDesc {
	full := "/" + ServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(SlotKeeperServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: full}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(SlotKeeperServer), ctx, req.(*Req))
			})
		},
	}
}

func watchGateHandler(srv any, stream grpc.ServerStream) error {
	in := new(Empty)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(SlotKeeperServer).WatchGate(in, &grpc.GenericServerStream[Empty, GateState]{ServerStream: stream})
}

// ServiceDesc describes the SlotKeeper service for grpc.Server.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SlotKeeperServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Login", SlotKeeperServer.Login),
		unary("CreateStudent", SlotKeeperServer.CreateStudent),
		unary("Generate", SlotKeeperServer.Generate),
		unary("ListSlots", SlotKeeperServer.ListSlots),
		unary("ExitSlot", SlotKeeperServer.ExitSlot),
		unary("ResetSlot", SlotKeeperServer.ResetSlot),
		unary("ForceLockSlot", SlotKeeperServer.ForceLockSlot),
		unary("ForceUnlockSlot", SlotKeeperServer.ForceUnlockSlot),
		unary("ForceClearSlot", SlotKeeperServer.ForceClearSlot),
		unary("SetLoginLocked", SlotKeeperServer.SetLoginLocked),
		unary("GetGate", SlotKeeperServer.GetGate),
		unary("GetPresence", SlotKeeperServer.GetPresence),
		unary("ListStudents", SlotKeeperServer.ListStudents),
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "WatchGate", Handler: watchGateHandler, ServerStreams: true},
	},
	Metadata: "slotkeeper/v1/slotkeeper.json",
}

// RegisterSlotKeeperServer registers srv on s.
func RegisterSlotKeeperServer(s grpc.ServiceRegistrar, srv SlotKeeperServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// SlotKeeperClient is the client API. Calls use the JSON codec.
type SlotKeeperClient interface {
	Login(ctx context.Context, in *LoginRequest, opts ...grpc.CallOption) (*LoginResponse, error)
	CreateStudent(ctx context.Context, in *CreateStudentRequest, opts ...grpc.CallOption) (*CreateStudentResponse, error)
	Generate(ctx context.Context, in *GenerateRequest, opts ...grpc.CallOption) (*GenerateResponse, error)
	ListSlots(ctx context.Context, in *ListSlotsRequest, opts ...grpc.CallOption) (*ListSlotsResponse, error)
	ExitSlot(ctx context.Context, in *ExitSlotRequest, opts ...grpc.CallOption) (*SlotResponse, error)
	ResetSlot(ctx context.Context, in *SlotIDRequest, opts ...grpc.CallOption) (*SlotResponse, error)
	ForceLockSlot(ctx context.Context, in *SlotIDRequest, opts ...grpc.CallOption) (*SlotResponse, error)
	ForceUnlockSlot(ctx context.Context, in *SlotIDRequest, opts ...grpc.CallOption) (*SlotResponse, error)
	ForceClearSlot(ctx context.Context, in *SlotIDRequest, opts ...grpc.CallOption) (*SlotResponse, error)
	SetLoginLocked(ctx context.Context, in *SetLoginLockedRequest, opts ...grpc.CallOption) (*GateState, error)
	GetGate(ctx context.Context, in *Empty, opts ...grpc.CallOption) (*GateState, error)
	GetPresence(ctx context.Context, in *Empty, opts ...grpc.CallOption) (*PresenceResponse, error)
	ListStudents(ctx context.Context, in *Empty, opts ...grpc.CallOption) (*ListStudentsResponse, error)
	WatchGate(ctx context.Context, in *Empty, opts ...grpc.CallOption) (grpc.ServerStreamingClient[GateState], error)
}

type slotKeeperClient struct{ cc grpc.ClientConnInterface }

// NewSlotKeeperClient wraps cc.
func NewSlotKeeperClient(cc grpc.ClientConnInterface) SlotKeeperClient {
	return &slotKeeperClient{cc: cc}
}

func invoke[Res any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Res, error) {
	out := new(Res)
	opts = append([]grpc.CallOption{CallOption()}, opts...)
	if err := cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *slotKeeperClient) Login(ctx context.Context, in *LoginRequest, opts ...grpc.CallOption) (*LoginResponse, error) {
	return invoke[LoginResponse](ctx, c.cc, LoginMethod, in, opts)
}
func (c *slotKeeperClient) CreateStudent(ctx context.Context, in *CreateStudentRequest, opts ...grpc.CallOption) (*CreateStudentResponse, error) {
	return invoke[CreateStudentResponse](ctx, c.cc, CreateStudentMethod, in, opts)
}
func (c *slotKeeperClient) Generate(ctx context.Context, in *GenerateRequest, opts ...grpc.CallOption) (*GenerateResponse, error) {
	return invoke[GenerateResponse](ctx, c.cc, GenerateMethod, in, opts)
}
func (c *slotKeeperClient) ListSlots(ctx context.Context, in *ListSlotsRequest, opts ...grpc.CallOption) (*ListSlotsResponse, error) {
	return invoke[ListSlotsResponse](ctx, c.cc, ListSlotsMethod, in, opts)
}
func (c *slotKeeperClient) ExitSlot(ctx context.Context, in *ExitSlotRequest, opts ...grpc.CallOption) (*SlotResponse, error) {
	return invoke[SlotResponse](ctx, c.cc, ExitSlotMethod, in, opts)
}
func (c *slotKeeperClient) ResetSlot(ctx context.Context, in *SlotIDRequest, opts ...grpc.CallOption) (*SlotResponse, error) {
	return invoke[SlotResponse](ctx, c.cc, ResetSlotMethod, in, opts)
}
func (c *slotKeeperClient) ForceLockSlot(ctx context.Context, in *SlotIDRequest, opts ...grpc.CallOption) (*SlotResponse, error) {
	return invoke[SlotResponse](ctx, c.cc, ForceLockSlotMethod, in, opts)
}
func (c *slotKeeperClient) ForceUnlockSlot(ctx context.Context, in *SlotIDRequest, opts ...grpc.CallOption) (*SlotResponse, error) {
	return invoke[SlotResponse](ctx, c.cc, ForceUnlockSlotMethod, in, opts)
}
func (c *slotKeeperClient) ForceClearSlot(ctx context.Context, in *SlotIDRequest, opts ...grpc.CallOption) (*SlotResponse, error) {
	return invoke[SlotResponse](ctx, c.cc, ForceClearSlotMethod, in, opts)
}
func (c *slotKeeperClient) SetLoginLocked(ctx context.Context, in *SetLoginLockedRequest, opts ...grpc.CallOption) (*GateState, error) {
	return invoke[GateState](ctx, c.cc, SetLoginLockedMethod, in, opts)
}
func (c *slotKeeperClient) GetGate(ctx context.Context, in *Empty, opts ...grpc.CallOption) (*GateState, error) {
	return invoke[GateState](ctx, c.cc, GetGateMethod, in, opts)
}
func (c *slotKeeperClient) GetPresence(ctx context.Context, in *Empty, opts ...grpc.CallOption) (*PresenceResponse, error) {
	return invoke[PresenceResponse](ctx, c.cc, GetPresenceMethod, in, opts)
}
func (c *slotKeeperClient) ListStudents(ctx context.Context, in *Empty, opts ...grpc.CallOption) (*ListStudentsResponse, error) {
	return invoke[ListStudentsResponse](ctx, c.cc, ListStudentsMethod, in, opts)
}

func (c *slotKeeperClient) WatchGate(ctx context.Context, in *Empty, opts ...grpc.CallOption) (grpc.ServerStreamingClient[GateState], error) {
	opts = append([]grpc.CallOption{CallOption()}, opts...)
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], WatchGateMethod, opts...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[Empty, GateState]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}
