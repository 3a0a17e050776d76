package fleetmock

import (
	"context"
	"net"

	"github.com/dmitrijs2005/fleetsync/internal/logging"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthServer exposes the standard gRPC health service so that clients
// can use a grpc:// fallback probe. Its status follows the REST
// handler's availability.
type HealthServer struct {
	address string
	handler *Handler
	health  *health.Server
	logger  logging.Logger
}

func NewHealthServer(address string, h *Handler, l logging.Logger) *HealthServer {
	return &HealthServer{
		address: address,
		handler: h,
		health:  health.NewServer(),
		logger:  l.With("module", "grpc_health"),
	}
}

// SetServing updates the status reported for the overall server ("").
func (s *HealthServer) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
}

// Run listens on the configured address until ctx is cancelled.
func (s *HealthServer) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listen)
}

// Serve accepts connections on l until ctx is cancelled.
func (s *HealthServer) Serve(ctx context.Context, l net.Listener) error {
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, s.health)
	s.SetServing(s.handler.Available())

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC health server...")
		s.health.Shutdown()
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC health server", "address", l.Addr().String())

	return srv.Serve(l)
}
