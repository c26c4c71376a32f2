package events

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	domain "github.com/oshokin/alarm-groups/internal/domain/alarm"
)

// testEvent builds an announcement event for alarm id.
func testEvent(id int) domain.Event {
	return domain.Event{
		Timestamp:       time.Unix(1000, 0).UTC(),
		Kind:            domain.EventAnnounced,
		Message:         "hello",
		AlarmID:         id,
		GroupID:         1,
		IntervalSeconds: 5,
	}
}

// TestWriterSink_OneLinePerEvent verifies line framing under concurrent writers.
func TestWriterSink_OneLinePerEvent(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	sink := NewWriterSink(&buf)

	var wg sync.WaitGroup

	for i := range 20 {
		wg.Add(1)

		go func() {
			defer wg.Done()
			sink.Emit(context.Background(), testEvent(i))
		}()
	}

	wg.Wait()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 20)

	for _, line := range lines {
		require.Contains(t, line, "announced by group 1")
	}
}

// TestMulti_ForwardsToAll ensures every sink sees every event and nil sinks are skipped.
func TestMulti_ForwardsToAll(t *testing.T) {
	t.Parallel()

	var first, second []int

	m := Multi{
		SinkFunc(func(_ context.Context, e domain.Event) { first = append(first, e.AlarmID) }),
		nil,
		SinkFunc(func(_ context.Context, e domain.Event) { second = append(second, e.AlarmID) }),
	}

	m.Emit(context.Background(), testEvent(1))
	m.Emit(context.Background(), testEvent(2))

	require.Equal(t, []int{1, 2}, first)
	require.Equal(t, []int{1, 2}, second)

	Discard.Emit(context.Background(), testEvent(3))
}

// TestHub_DeliversAndUnsubscribes covers delivery, Close and the subscriber count.
func TestHub_DeliversAndUnsubscribes(t *testing.T) {
	t.Parallel()

	hub := NewHub()
	sub := hub.Subscribe(4)
	require.Equal(t, 1, hub.Len())

	hub.Emit(context.Background(), testEvent(7))

	got := <-sub.C()
	require.Equal(t, 7, got.AlarmID)

	sub.Close()
	sub.Close()
	require.Equal(t, 0, hub.Len())

	_, ok := <-sub.C()
	require.False(t, ok)

	// Emitting without subscribers is fine.
	hub.Emit(context.Background(), testEvent(8))
}

// TestHub_DropsSlowSubscriber closes the channel of a subscriber whose queue is full.
func TestHub_DropsSlowSubscriber(t *testing.T) {
	t.Parallel()

	hub := NewHub()
	slow := hub.Subscribe(1)

	hub.Emit(context.Background(), testEvent(1))
	hub.Emit(context.Background(), testEvent(2))

	require.Equal(t, 0, hub.Len())

	first, ok := <-slow.C()
	require.True(t, ok)
	require.Equal(t, 1, first.AlarmID)

	_, ok = <-slow.C()
	require.False(t, ok)

	// Closing a dropped subscription is safe.
	slow.Close()
}
