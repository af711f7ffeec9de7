package grpc

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"

	"github.com/amirimatin/coremember/pkg/observability/tracing"
	"github.com/amirimatin/coremember/pkg/transport"
)

const serviceName = "coremember.v1.Membership"

// Server implements transport.RPCServer over gRPC using the binary codec.
type Server struct {
	bind string
	lis  net.Listener

	mu  sync.Mutex
	srv *grpc.Server
}

func NewServer(bind string) *Server { return &Server{bind: bind} }

// membershipServer defines the methods we expose.
type membershipServer interface {
	Join(ctx context.Context, in *transport.JoinRequest) (*transport.JoinResponse, error)
	Leave(ctx context.Context, in *transport.LeaveRequest) (*transport.LeaveResponse, error)
	Members(ctx context.Context, in *transport.MembersRequest) (*transport.MembersResponse, error)
}

type membershipImpl struct{ h transport.Handlers }

func (m *membershipImpl) Join(ctx context.Context, in *transport.JoinRequest) (*transport.JoinResponse, error) {
	ctx, end := tracing.StartSpan(ctx, "grpc.join", tracing.MemberAttrs(in.ID, in.Member)...)
	defer end()
	if m.h.Join == nil {
		return &transport.JoinResponse{Error: "join not supported"}, nil
	}
	out, err := m.h.Join(ctx, *in)
	if err != nil {
		return &transport.JoinResponse{Accepted: false, Leader: out.Leader, Error: err.Error()}, nil
	}
	return &out, nil
}

func (m *membershipImpl) Leave(ctx context.Context, in *transport.LeaveRequest) (*transport.LeaveResponse, error) {
	ctx, end := tracing.StartSpan(ctx, "grpc.leave")
	defer end()
	if m.h.Leave == nil {
		return &transport.LeaveResponse{Error: "leave not supported"}, nil
	}
	out, err := m.h.Leave(ctx, *in)
	if err != nil {
		return &transport.LeaveResponse{Accepted: false, Leader: out.Leader, Error: err.Error()}, nil
	}
	return &out, nil
}

func (m *membershipImpl) Members(ctx context.Context, _ *transport.MembersRequest) (*transport.MembersResponse, error) {
	ctx, end := tracing.StartSpan(ctx, "grpc.members")
	defer end()
	if m.h.Members == nil {
		return nil, fmt.Errorf("members not supported")
	}
	out, err := m.h.Members(ctx)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Service descriptor and handlers (hand-written, no codegen required)
var _Membership_serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*membershipServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Join", Handler: _Membership_Join_Handler},
		{MethodName: "Leave", Handler: _Membership_Leave_Handler},
		{MethodName: "Members", Handler: _Membership_Members_Handler},
	},
}

func _Membership_Join_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(transport.JoinRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(membershipServer).Join(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Join"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(membershipServer).Join(ctx, req.(*transport.JoinRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Membership_Leave_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(transport.LeaveRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(membershipServer).Leave(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Leave"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(membershipServer).Leave(ctx, req.(*transport.LeaveRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Membership_Members_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(transport.MembersRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(membershipServer).Members(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Members"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(membershipServer).Members(ctx, req.(*transport.MembersRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// Listen binds the listener so Addr reports the real port before Start.
func (s *Server) Listen() error {
	if s.lis != nil {
		return nil
	}
	lis, err := net.Listen("tcp", s.bind)
	if err != nil {
		return err
	}
	s.lis = lis
	return nil
}

func (s *Server) Start(ctx context.Context, h transport.Handlers) error {
	if err := s.Listen(); err != nil {
		return err
	}
	// The binary codec is selected per call by content subtype, so the
	// protobuf health service keeps working next to it.
	srv := grpc.NewServer(
		grpc.MaxRecvMsgSize(MaxFrameSize),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{MinTime: 5 * time.Second, PermitWithoutStream: true}),
		grpc.KeepaliveParams(keepalive.ServerParameters{Time: 30 * time.Second, Timeout: 10 * time.Second}),
	)
	s.mu.Lock()
	s.srv = srv
	s.mu.Unlock()
	// Health service (always serving for now)
	healthpb.RegisterHealthServer(srv, health.NewServer())
	srv.RegisterService(&_Membership_serviceDesc, &membershipImpl{h: h})

	go func() {
		<-ctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Stop(stopCtx)
	}()
	lis := s.lis
	go func() { _ = srv.Serve(lis) }()
	return nil
}

// Addr returns the bound address once listening, else the configured bind.
func (s *Server) Addr() string {
	if s.lis != nil {
		return s.lis.Addr().String()
	}
	return s.bind
}

func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.srv = nil
	s.mu.Unlock()
	if srv == nil {
		// listening but never served
		if s.lis != nil {
			_ = s.lis.Close()
		}
		return nil
	}
	ch := make(chan struct{})
	go func() { srv.GracefulStop(); close(ch) }()
	select {
	case <-ch:
	case <-ctx.Done():
		srv.Stop()
	}
	return nil
}

var _ transport.RPCServer = (*Server)(nil)
