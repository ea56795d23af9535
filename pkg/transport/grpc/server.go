package grpc

import (
	"context"
	"crypto/tls"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/amirimatin/go-rumors/pkg/observability/tracing"
	"github.com/amirimatin/go-rumors/pkg/transport"
)

const serviceName = "rumors.v1.Management"

// Server implements transport.RPCServer over gRPC using a JSON codec.
type Server struct {
	bind   string
	lis    net.Listener
	srv    *grpc.Server
	health *health.Server
	tlsCfg *tls.Config
}

func NewServer(bind string) *Server { return &Server{bind: bind} }

// UseTLS enables TLS for the gRPC server using the provided config.
func (s *Server) UseTLS(cfg *tls.Config) *Server { s.tlsCfg = cfg; return s }

// internal request/response types used over gRPC JSON codec
type empty struct{}
type statusBlob struct {
	Data []byte `json:"data"`
}

// managementServer defines the methods we expose.
type managementServer interface {
	GetStatus(ctx context.Context, in *empty) (*statusBlob, error)
	Report(ctx context.Context, in *transport.ReportRequest) (*transport.ReportResponse, error)
}

type mgmtImpl struct {
	status transport.StatusFunc
	report transport.ReportFunc
}

func (m *mgmtImpl) GetStatus(ctx context.Context, _ *empty) (*statusBlob, error) {
	ctx, span := tracing.StartSpan(ctx, "grpc.status")
	b, err := m.status(ctx)
	span.End(err)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return &statusBlob{Data: b}, nil
}

func (m *mgmtImpl) Report(ctx context.Context, in *transport.ReportRequest) (*transport.ReportResponse, error) {
	if in == nil {
		in = &transport.ReportRequest{}
	}
	if m.report == nil {
		return &transport.ReportResponse{Error: "report not supported"}, nil
	}
	ctx, span := tracing.StartSpan(ctx, "grpc.report")
	out, err := m.report(ctx, *in)
	span.End(err)
	if err != nil {
		return &transport.ReportResponse{Error: err.Error()}, nil
	}
	return &out, nil
}

// Service descriptor and handlers (hand-written, no codegen required)
var _Management_serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*managementServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetStatus", Handler: _Management_GetStatus_Handler},
		{MethodName: "Report", Handler: _Management_Report_Handler},
	},
}

func _Management_GetStatus_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(managementServer).GetStatus(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/GetStatus"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(managementServer).GetStatus(ctx, req.(*empty))
	}
	return interceptor(ctx, in, info, handler)
}

func _Management_Report_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(transport.ReportRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(managementServer).Report(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Report"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(managementServer).Report(ctx, req.(*transport.ReportRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func (s *Server) Start(ctx context.Context, st transport.StatusFunc, report transport.ReportFunc) error {
	lis, err := net.Listen("tcp", s.bind)
	if err != nil {
		return err
	}
	s.lis = lis
	// Force JSON codec to avoid requiring protobuf types
	opts := []grpc.ServerOption{grpc.ForceServerCodec(jsonCodec{})}
	if s.tlsCfg != nil {
		opts = append(opts, grpc.Creds(credentials.NewTLS(s.tlsCfg)))
	}
	srv := grpc.NewServer(opts...)
	s.srv = srv
	s.health = health.NewServer()
	s.health.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, s.health)
	srv.RegisterService(&_Management_serviceDesc, &mgmtImpl{status: st, report: report})

	go func() {
		<-ctx.Done()
		_ = s.Stop(context.Background())
	}()
	go func() { _ = srv.Serve(lis) }()
	return nil
}

// Addr returns the bound address once started, else the configured one.
func (s *Server) Addr() string {
	if s.lis != nil {
		return s.lis.Addr().String()
	}
	return s.bind
}

func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	s.health.Shutdown()
	ch := make(chan struct{})
	go func() { s.srv.GracefulStop(); close(ch) }()
	c, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	select {
	case <-ch:
	case <-c.Done():
		s.srv.Stop()
	}
	s.srv = nil
	return nil
}

var _ transport.RPCServer = (*Server)(nil)
