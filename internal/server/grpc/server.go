// Package grpc exposes the standard gRPC health service for the upload
// worker so that orchestrators and load balancers can probe it.
package grpc

import (
	"context"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/dmitrijs2005/mediasync/internal/logging"
)

// UploadService is the health service name reported for the job workers.
const UploadService = "mediasync.Upload"

type HealthServer struct {
	address string
	logger  logging.Logger
	health  *health.Server
}

func NewHealthServer(a string, l logging.Logger) *HealthServer {
	h := health.NewServer()
	h.SetServingStatus(UploadService, healthpb.HealthCheckResponse_NOT_SERVING)
	return &HealthServer{
		address: a,
		logger:  l.With("module", "grpc_server"),
		health:  h,
	}
}

// SetServing flips the status reported for service.
func (s *HealthServer) SetServing(service string, serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(service, st)
}

func (s *HealthServer) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listen)
}

// Serve accepts connections on lis until ctx is cancelled.
func (s *HealthServer) Serve(ctx context.Context, lis net.Listener) error {
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(s.loggingInterceptor))
	healthpb.RegisterHealthServer(srv, s.health)

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC server...")
		s.health.Shutdown()
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", lis.Addr().String())

	if err := srv.Serve(lis); err != nil {
		return err
	}
	return nil
}
