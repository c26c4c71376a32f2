package alarm

import (
	"context"
	"errors"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/oshokin/alarm-groups/internal/codec"
	domain "github.com/oshokin/alarm-groups/internal/domain/alarm"
	"github.com/oshokin/alarm-groups/internal/logger"
	"github.com/oshokin/alarm-groups/internal/service/events"
	"github.com/oshokin/alarm-groups/internal/service/processor"
)

// Service abstracts the command operations the transport layer depends on.
type Service interface {
	Execute(ctx context.Context, cmd domain.Command) (*processor.Result, error)
	ExecuteLine(ctx context.Context, line string) (*processor.Result, error)
}

// Broker hands out event subscriptions for Watch.
type Broker interface {
	Subscribe(buffer int) *events.Subscription
}

// Server implements the AlarmService gRPC API.
type Server struct {
	// service executes commands.
	service Service
	// broker feeds Watch streams.
	broker Broker
	// quit is closed by Close to end open Watch streams.
	quit chan struct{}
	// closeOnce guards quit.
	closeOnce sync.Once
}

// NewServer wires the provided service implementation into a gRPC handler.
func NewServer(service Service, broker Broker) *Server {
	return &Server{
		service: service,
		broker:  broker,
		quit:    make(chan struct{}),
	}
}

// Close ends every open Watch stream so a graceful stop does not wait on them.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		close(s.quit)
	})
}

// Submit executes one command line.
func (s *Server) Submit(ctx context.Context, req *wrapperspb.StringValue) (*wrapperspb.StringValue, error) {
	if req == nil || req.GetValue() == "" {
		return nil, status.Error(codes.InvalidArgument, "command line is required")
	}

	result, err := s.service.ExecuteLine(ctx, req.GetValue())
	if err != nil {
		return nil, toStatus(err)
	}

	return wrapperspb.String(result.Status), nil
}

// List returns the stored alarms in store order.
func (s *Server) List(ctx context.Context, _ *emptypb.Empty) (*structpb.ListValue, error) {
	result, err := s.service.Execute(ctx, domain.Command{Kind: domain.CommandView})
	if err != nil {
		return nil, toStatus(err)
	}

	list := &structpb.ListValue{
		Values: make([]*structpb.Value, 0, len(result.Alarms)),
	}

	for _, a := range result.Alarms {
		item, err := codec.AlarmToStruct(a)
		if err != nil {
			return nil, status.Errorf(codes.Internal, "encode alarm %d: %v", a.ID, err)
		}

		list.Values = append(list.Values, structpb.NewStructValue(item))
	}

	return list, nil
}

// Watch streams events until the client disconnects or falls behind.
func (s *Server) Watch(_ *emptypb.Empty, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	ctx := stream.Context()

	sub := s.broker.Subscribe(events.DefaultSubscriptionBuffer)
	defer sub.Close()

	logger.Info(ctx, "Event watcher connected")

	for {
		select {
		case <-ctx.Done():
			logger.Info(ctx, "Event watcher disconnected")

			return nil
		case <-s.quit:
			return status.Error(codes.Unavailable, "server is shutting down")
		case event, ok := <-sub.C():
			if !ok {
				return status.Error(codes.ResourceExhausted, "watcher fell behind the event stream")
			}

			item, err := codec.EventToStruct(event)
			if err != nil {
				return status.Errorf(codes.Internal, "encode event: %v", err)
			}

			if err = stream.Send(item); err != nil {
				return err
			}
		}
	}
}

// toStatus maps command errors to gRPC status codes.
func toStatus(err error) error {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, domain.ErrMalformedCommand):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, processor.ErrFatal):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return status.FromContextError(err).Err()
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
