package server

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/joseph-ayodele/packet-parser/internal/common"
)

// NewGRPCServer builds the gRPC server that carries the standard health service. The
// returned health server starts NOT_SERVING; callers flip it once dependencies are up.
func NewGRPCServer(logger *slog.Logger) (*grpc.Server, *health.Server) {
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(unaryLogging(logger)))
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	reflection.Register(srv)
	return srv, hs
}

// unaryLogging logs each call and maps application errors onto gRPC status codes.
func unaryLogging(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		if err != nil {
			logger.Warn("grpc call failed", "method", info.FullMethod, "latency_ms", time.Since(start).Milliseconds(), "error", err)
			return resp, common.GRPCError(err)
		}
		logger.Debug("grpc call", "method", info.FullMethod, "latency_ms", time.Since(start).Milliseconds())
		return resp, nil
	}
}
