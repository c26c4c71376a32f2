package registry

import (
	"context"
	"sync/atomic"
	"testing"
	"testing/synctest"
	"time"

	"github.com/stretchr/testify/require"

	domain "github.com/oshokin/alarm-groups/internal/domain/alarm"
	repo "github.com/oshokin/alarm-groups/internal/repository/alarm"
	"github.com/oshokin/alarm-groups/internal/service/events"
)

// flakyStore fails the first scans and then reports one due alarm per scan.
type flakyStore struct {
	// failures is how many scans fail before succeeding.
	failures int32
	// calls counts CollectDue invocations.
	calls atomic.Int32
}

// Locked is unused by workers.
func (s *flakyStore) Locked(context.Context, func(tx *repo.Tx) error) error {
	return nil
}

// CollectDue fails while calls are within failures.
func (s *flakyStore) CollectDue(_ context.Context, groupID int, now time.Time) ([]*domain.Alarm, error) {
	if s.calls.Add(1) <= s.failures {
		return nil, repo.ErrLockUnavailable
	}

	return []*domain.Alarm{{ID: 1, GroupID: groupID, Interval: time.Second, NextAnnounceAt: now}}, nil
}

// TestWorker_SkipsTickOnLockFailure keeps scanning after lock failures.
func TestWorker_SkipsTickOnLockFailure(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		store := &flakyStore{failures: 2}
		sink := new(recordingSink)
		w := newWorker(WorkerConfig{Handle: "h", GroupID: 1, Tick: time.Second, LockTimeout: time.Second},
			store, sink, time.Now)

		go w.run(context.Background())

		time.Sleep(3*time.Second + 500*time.Millisecond)

		require.Equal(t, int32(4), store.calls.Load())
		require.Len(t, sink.kinds(domain.EventAnnounced), 2)

		close(w.stop)
		<-w.done

		require.Equal(t, WorkerStopped, w.info().State)
	})
}

// TestWorker_SurvivesPanickingSink keeps the worker alive when a sink panics.
func TestWorker_SurvivesPanickingSink(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		var emitted atomic.Int32

		sink := events.SinkFunc(func(context.Context, domain.Event) {
			if emitted.Add(1) == 1 {
				panic("sink exploded")
			}
		})

		w := newWorker(WorkerConfig{Handle: "h", GroupID: 1, Tick: time.Second, LockTimeout: time.Second},
			&flakyStore{}, sink, time.Now)

		go w.run(context.Background())

		time.Sleep(2*time.Second + 500*time.Millisecond)

		require.Equal(t, int32(3), emitted.Load())

		close(w.stop)
		<-w.done
	})
}

// TestWorker_StopsBeforeFirstScan honours a stop requested before the loop started.
func TestWorker_StopsBeforeFirstScan(t *testing.T) {
	t.Parallel()

	store := new(flakyStore)
	w := newWorker(WorkerConfig{Handle: "h", GroupID: 1, Tick: time.Second, LockTimeout: time.Second},
		store, events.Discard, time.Now)

	require.Equal(t, WorkerPending, w.info().State)

	close(w.stop)
	w.run(context.Background())

	require.Equal(t, int32(0), store.calls.Load())
	require.Equal(t, WorkerStopped, w.info().State)
	require.Equal(t, "stopped", w.info().State.String())
}
