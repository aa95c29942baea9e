package httpapi

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"vetrai.org/internal/auth"
)

const healthServicePrefix = "/grpc.health.v1.Health/"

// NewGRPCServer builds a gRPC server guarded by the bearer interceptors with
// the standard health service registered and otel spans per call.
//
// Health is the only service registered here and it is public, so on its own
// the interceptors have nothing to guard. Every service a caller registers on
// the returned server before Serve requires a valid access token in the
// "authorization" metadata.
func NewGRPCServer(svc *auth.Service, logger *zap.Logger, opts ...grpc.ServerOption) (*grpc.Server, *health.Server) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts = append(opts,
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(UnaryAuthInterceptor(svc, logger)),
		grpc.ChainStreamInterceptor(StreamAuthInterceptor(svc, logger)),
	)
	srv := grpc.NewServer(opts...)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	return srv, hs
}

// WatchReadiness mirrors the readiness probe into the health service until
// ctx is done.
func WatchReadiness(ctx context.Context, hs *health.Server, ready readinessChecker, every time.Duration) {
	update := func() {
		checkCtx, cancel := context.WithTimeout(ctx, every)
		defer cancel()
		st := healthpb.HealthCheckResponse_SERVING
		if err := ready.Check(checkCtx); err != nil {
			st = healthpb.HealthCheckResponse_NOT_SERVING
		}
		hs.SetServingStatus("", st)
	}
	update()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			hs.Shutdown()
			return
		case <-ticker.C:
			update()
		}
	}
}

func UnaryAuthInterceptor(svc *auth.Service, logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if isPublicMethod(info.FullMethod) {
			return handler(ctx, req)
		}
		ctx, err := authenticateRPC(ctx, svc, logger)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

func StreamAuthInterceptor(svc *auth.Service, logger *zap.Logger) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if isPublicMethod(info.FullMethod) {
			return handler(srv, ss)
		}
		ctx, err := authenticateRPC(ss.Context(), svc, logger)
		if err != nil {
			return err
		}
		return handler(srv, &authedStream{ServerStream: ss, ctx: ctx})
	}
}

type authedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *authedStream) Context() context.Context { return s.ctx }

func isPublicMethod(fullMethod string) bool {
	return strings.HasPrefix(fullMethod, healthServicePrefix)
}

func authenticateRPC(ctx context.Context, svc *auth.Service, logger *zap.Logger) (context.Context, error) {
	var header string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if vals := md.Get("authorization"); len(vals) > 0 {
			header = vals[0]
		}
	}
	u, err := svc.ResolveCaller(ctx, header)
	if err != nil {
		if detail, ok := unauthorizedDetail(err); ok {
			return nil, status.Error(codes.Unauthenticated, detail)
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, status.FromContextError(err).Err()
		}
		logger.Error("rpc authentication error", zap.Error(err))
		return nil, status.Error(codes.Internal, msgInternal)
	}
	ctx = auth.ContextWithUser(ctx, u)
	if token, err := auth.ParseBearer(header); err == nil {
		ctx = auth.ContextWithToken(ctx, token)
	}
	return ctx, nil
}
