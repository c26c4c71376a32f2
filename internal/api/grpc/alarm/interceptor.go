package alarm

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/oshokin/alarm-groups/internal/logger"
)

// ActorMetadataKey carries "user@host" of the calling client.
const ActorMetadataKey = "x-alarm-actor"

// actorFrom extracts the caller identity from incoming metadata.
func actorFrom(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}

	values := md.Get(ActorMetadataKey)
	if len(values) == 0 {
		return ""
	}

	return values[0]
}

// withCallLogger names the context after the method and tags it with the actor.
func withCallLogger(ctx context.Context, method string) context.Context {
	ctx = logger.WithKV(ctx, "method", method)

	if actor := actorFrom(ctx); actor != "" {
		ctx = logger.WithKV(ctx, "actor", actor)
	}

	return ctx
}

// UnaryLogger logs each unary call with its actor, status code and latency.
func UnaryLogger(base context.Context) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx = logger.ToContext(ctx, logger.FromContext(base))
		ctx = withCallLogger(ctx, info.FullMethod)
		started := time.Now()

		resp, err := handler(ctx, req)

		logger.DebugKV(ctx, "Call finished", "code", status.Code(err).String(), "elapsed", time.Since(started))

		return resp, err
	}
}

// loggedStream overrides the stream context with one carrying the call logger.
type loggedStream struct {
	grpc.ServerStream

	ctx context.Context //nolint:containedctx // Replaces the stream context.
}

// Context returns the decorated context.
func (s *loggedStream) Context() context.Context {
	return s.ctx
}

// StreamLogger is the streaming counterpart of UnaryLogger.
func StreamLogger(base context.Context) grpc.StreamServerInterceptor {
	return func(srv any, stream grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx := logger.ToContext(stream.Context(), logger.FromContext(base))
		ctx = withCallLogger(ctx, info.FullMethod)
		started := time.Now()

		err := handler(srv, &loggedStream{ServerStream: stream, ctx: ctx})

		logger.DebugKV(ctx, "Stream finished", "code", status.Code(err).String(), "elapsed", time.Since(started))

		return err
	}
}
