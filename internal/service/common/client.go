//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	api "github.com/oshokin/alarm-groups/internal/api/grpc/alarm"
	"github.com/oshokin/alarm-groups/internal/codec"
	"github.com/oshokin/alarm-groups/internal/config"
	domain "github.com/oshokin/alarm-groups/internal/domain/alarm"
	"github.com/oshokin/alarm-groups/internal/version"
)

// Client wraps the gRPC AlarmService client with convenience helpers.
type Client struct {
	// conn is the underlying gRPC connection to the alarm daemon.
	conn *grpc.ClientConn
	// api is the AlarmService client interface.
	api api.AlarmServiceClient
	// actor identifies the caller in server logs.
	actor *Actor

	// callTimeout is the default timeout for individual RPC calls.
	callTimeout time.Duration
}

// Option configures client behaviour.
type Option func(*Client)

// WithCallTimeout sets a default timeout for unary service calls.
func WithCallTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.callTimeout = timeout
		}
	}
}

// WithActor attaches the caller identity to every call.
func WithActor(actor *Actor) Option {
	return func(c *Client) {
		c.actor = actor
	}
}

var (
	// errAddressRequired is returned when a required address value is missing.
	errAddressRequired = errors.New("address must be provided")
	// errLineRequired is returned when Submit gets an empty command line.
	errLineRequired = errors.New("command line must be provided")
)

// Dial establishes a gRPC connection to the alarm daemon.
// Note: this uses insecure transport credentials; the daemon listens on
// loopback by default.
func Dial(_ context.Context, address string, opts ...Option) (*Client, error) {
	if address == "" {
		return nil, errAddressRequired
	}

	conn, err := grpc.NewClient(
		address,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUserAgent(version.UserAgent("alarmctl")),
	)
	if err != nil {
		return nil, fmt.Errorf("dial alarm daemon: %w", err)
	}

	client := &Client{
		conn:        conn,
		api:         api.NewAlarmServiceClient(conn),
		callTimeout: config.DefaultTimeout,
	}

	for _, opt := range opts {
		opt(client)
	}

	return client, nil
}

// Close releases the underlying gRPC connection.
func (c *Client) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}

	return c.conn.Close()
}

// Submit sends one command line and returns the status line.
func (c *Client) Submit(ctx context.Context, line string) (string, error) {
	if line == "" {
		return "", errLineRequired
	}

	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	response, err := c.api.Submit(callCtx, wrapperspb.String(line))
	if err != nil {
		return "", fmt.Errorf("submit command: %w", err)
	}

	return response.GetValue(), nil
}

// List returns the alarms stored by the daemon.
func (c *Client) List(ctx context.Context) ([]*domain.Alarm, error) {
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	response, err := c.api.List(callCtx, new(emptypb.Empty))
	if err != nil {
		return nil, fmt.Errorf("list alarms: %w", err)
	}

	result := make([]*domain.Alarm, 0, len(response.GetValues()))

	for _, value := range response.GetValues() {
		a, err := codec.AlarmFromStruct(value.GetStructValue())
		if err != nil {
			return nil, fmt.Errorf("decode alarm: %w", err)
		}

		result = append(result, a)
	}

	return result, nil
}

// Watch calls fn for every event until ctx ends or the stream breaks.
// The call timeout does not apply; the stream lives as long as ctx.
func (c *Client) Watch(ctx context.Context, fn func(domain.Event) error) error {
	streamCtx, cancel := context.WithCancel(c.outgoing(ctx))
	defer cancel()

	stream, err := c.api.Watch(streamCtx, new(emptypb.Empty))
	if err != nil {
		return fmt.Errorf("open event stream: %w", err)
	}

	for {
		item, err := stream.Recv()
		if errors.Is(err, io.EOF) || ctx.Err() != nil {
			return nil
		}

		if err != nil {
			return fmt.Errorf("receive event: %w", err)
		}

		event, err := codec.EventFromStruct(item)
		if err != nil {
			return fmt.Errorf("decode event: %w", err)
		}

		if err = fn(event); err != nil {
			return err
		}
	}
}

// callContext returns a context with the client's call timeout if configured,
// otherwise a cancellable child context without a deadline.
func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx = c.outgoing(ctx)

	if c.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, c.callTimeout)
}

// outgoing attaches the actor metadata when an actor is set.
func (c *Client) outgoing(ctx context.Context) context.Context {
	if c.actor == nil {
		return ctx
	}

	return metadata.AppendToOutgoingContext(ctx, api.ActorMetadataKey, c.actor.String())
}
