package events

import (
	"context"
	"fmt"
	"io"
	"sync"

	domain "github.com/oshokin/alarm-groups/internal/domain/alarm"
	"github.com/oshokin/alarm-groups/internal/logger"
)

// Sink consumes events. Emit must be safe for concurrent use.
type Sink interface {
	Emit(ctx context.Context, event domain.Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, event domain.Event)

// Emit calls f.
func (f SinkFunc) Emit(ctx context.Context, event domain.Event) {
	f(ctx, event)
}

// Discard drops every event.
//
//nolint:gochecknoglobals // Stateless sink shared by tests and defaults.
var Discard Sink = SinkFunc(func(context.Context, domain.Event) {})

// WriterSink prints one line per event.
type WriterSink struct {
	// w receives the rendered lines.
	w io.Writer
	// mu keeps lines from different workers from interleaving.
	mu sync.Mutex
}

// NewWriterSink creates a sink writing to w.
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{
		w: w,
	}
}

// Emit writes the event line. Write failures are logged and otherwise ignored.
func (s *WriterSink) Emit(ctx context.Context, event domain.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := fmt.Fprintln(s.w, event.String()); err != nil {
		logger.ErrorKV(ctx, "Failed to write event", "kind", event.Kind, "error", err)
	}
}

// Multi forwards every event to each sink in order.
type Multi []Sink

// Emit forwards the event.
func (m Multi) Emit(ctx context.Context, event domain.Event) {
	for _, sink := range m {
		if sink != nil {
			sink.Emit(ctx, event)
		}
	}
}
