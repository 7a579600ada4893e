package grpc

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// loggingInterceptor records every unary call with its status code. Probes
// that succeed are logged at debug level.
func (s *HealthServer) loggingInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	start := time.Now()
	resp, err := handler(ctx, req)

	code := status.Code(err)
	kv := []any{"method", info.FullMethod, "code", code.String(), "duration", time.Since(start)}
	if code == codes.OK {
		s.logger.Debug(ctx, "grpc call", kv...)
	} else {
		s.logger.Warn(ctx, "grpc call", append(kv, "error", err)...)
	}
	return resp, err
}
