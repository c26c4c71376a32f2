package registry

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"slices"
	"sync"
	"testing"
	"testing/synctest"
	"time"

	"github.com/stretchr/testify/require"

	domain "github.com/oshokin/alarm-groups/internal/domain/alarm"
	repo "github.com/oshokin/alarm-groups/internal/repository/alarm"
)

// recordingSink keeps every event it receives.
type recordingSink struct {
	// events are the received events in order.
	events []domain.Event
	// mu guards events.
	mu sync.Mutex
}

// Emit appends the event.
func (s *recordingSink) Emit(_ context.Context, event domain.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, event)
}

// kinds returns events of the given kind.
func (s *recordingSink) kinds(kind domain.EventKind) []domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []domain.Event

	for _, e := range s.events {
		if e.Kind == kind {
			result = append(result, e)
		}
	}

	return result
}

// announcements returns the announcements of one alarm.
func (s *recordingSink) announcements(alarmID int) []domain.Event {
	var result []domain.Event

	for _, e := range s.kinds(domain.EventAnnounced) {
		if e.AlarmID == alarmID {
			result = append(result, e)
		}
	}

	return result
}

// fixture bundles a store, a registry and a sink.
type fixture struct {
	store    *repo.Store
	registry *Registry
	sink     *recordingSink
}

// newFixture builds a registry with a one second tick.
func newFixture(opts Options) *fixture {
	if opts.Tick == 0 {
		opts.Tick = time.Second
	}

	store := repo.NewStore()
	sink := new(recordingSink)

	return &fixture{
		store:    store,
		registry: New(store, sink, opts),
		sink:     sink,
	}
}

// start inserts an alarm and reconciles its group, like the Start command does.
func (f *fixture) start(t *testing.T, id, seconds int, message string) {
	t.Helper()

	ctx := context.Background()

	a, err := domain.New(id, time.Duration(seconds)*time.Second, message, "", time.Now())
	require.NoError(t, err)
	require.NoError(t, f.store.Insert(ctx, a))
	require.NoError(t, f.registry.Reconcile(ctx, a.GroupID))
}

// replace updates an alarm and reconciles both groups, like the Replace command does.
func (f *fixture) replace(t *testing.T, id, seconds int, message string) {
	t.Helper()

	ctx := context.Background()

	previous, updated, err := f.store.Update(ctx, id, time.Duration(seconds)*time.Second, message, "", time.Now())
	require.NoError(t, err)
	require.NoError(t, f.registry.Reconcile(ctx, previous, updated.GroupID))
}

// cancel removes an alarm and reconciles its group, like the Cancel command does.
func (f *fixture) cancel(t *testing.T, id int) {
	t.Helper()

	ctx := context.Background()

	removed, err := f.store.Remove(ctx, id)
	require.NoError(t, err)
	require.NoError(t, f.registry.Reconcile(ctx, removed.GroupID))
}

// requireGroupInvariant checks that workers exist for exactly the non-empty groups.
func (f *fixture) requireGroupInvariant(t *testing.T) {
	t.Helper()

	groups, err := f.store.DistinctGroups(context.Background())
	require.NoError(t, err)

	want := make([]int, 0, len(groups))
	for groupID := range groups {
		want = append(want, groupID)
	}

	slices.Sort(want)

	require.Equal(t, want, f.registry.Groups())
}

// TestReconcile_SpawnsAndRetires covers the basic worker lifecycle.
func TestReconcile_SpawnsAndRetires(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		f := newFixture(Options{})
		defer func() { require.NoError(t, f.registry.Shutdown(context.Background())) }()

		f.start(t, 1, 5, "hello")
		require.Equal(t, []int{1}, f.registry.Groups())

		synctest.Wait()

		workers := f.registry.Workers()
		require.Len(t, workers, 1)
		require.Equal(t, WorkerRunning, workers[0].State)
		require.NotEmpty(t, workers[0].Handle)

		f.cancel(t, 1)
		require.Empty(t, f.registry.Groups())

		created := f.sink.kinds(domain.EventWorkerCreated)
		terminated := f.sink.kinds(domain.EventWorkerTerminated)

		require.Len(t, created, 1)
		require.Len(t, terminated, 1)
		require.Equal(t, created[0].Handle, terminated[0].Handle)
		require.Equal(t, 1, terminated[0].GroupID)
	})
}

// TestReconcile_Idempotent ensures repeated calls without store changes do nothing.
func TestReconcile_Idempotent(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		f := newFixture(Options{})
		defer func() { require.NoError(t, f.registry.Shutdown(context.Background())) }()

		ctx := context.Background()

		f.start(t, 1, 5, "hello")
		require.NoError(t, f.registry.Reconcile(ctx, 1))
		require.NoError(t, f.registry.Reconcile(ctx, 1, 1))
		require.Len(t, f.sink.kinds(domain.EventWorkerCreated), 1)

		// A second alarm in the same group reuses the worker.
		f.start(t, 2, 4, "same group")
		require.Len(t, f.sink.kinds(domain.EventWorkerCreated), 1)

		f.cancel(t, 1)
		require.Equal(t, []int{1}, f.registry.Groups())

		f.cancel(t, 2)
		require.NoError(t, f.registry.Reconcile(ctx, 1))
		require.NoError(t, f.registry.Reconcile(ctx, 1))
		require.Len(t, f.sink.kinds(domain.EventWorkerTerminated), 1)

		// Reconciling a group that never existed is a no-op.
		require.NoError(t, f.registry.Reconcile(ctx, 42))
		require.NoError(t, f.registry.Reconcile(ctx))
		require.Empty(t, f.registry.Groups())
	})
}

// TestEndToEnd_StartStartCancel follows the hello/world scenario.
func TestEndToEnd_StartStartCancel(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		f := newFixture(Options{})
		defer func() { require.NoError(t, f.registry.Shutdown(context.Background())) }()

		begin := time.Now()

		f.start(t, 1, 5, "hello")
		time.Sleep(15*time.Second + 500*time.Millisecond)

		hello := f.sink.announcements(1)
		require.Len(t, hello, 3)

		for i, e := range hello {
			require.Equal(t, begin.Add(time.Duration(5*(i+1))*time.Second), e.Timestamp)
			require.Equal(t, "hello", e.Message)
			require.Equal(t, 1, e.GroupID)
		}

		f.start(t, 2, 7, "world")
		require.Equal(t, []int{1, 2}, f.registry.Groups())

		f.cancel(t, 1)
		require.Equal(t, []int{2}, f.registry.Groups())

		time.Sleep(15 * time.Second)

		require.Len(t, f.sink.announcements(1), 3)

		world := f.sink.announcements(2)
		require.Len(t, world, 2)
		require.Equal(t, 7*time.Second, world[1].Timestamp.Sub(world[0].Timestamp))
		require.Equal(t, 2, world[0].GroupID)

		f.requireGroupInvariant(t)
	})
}

// TestReplace_MigratesGroup moves an alarm from group 2 to group 3.
func TestReplace_MigratesGroup(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		f := newFixture(Options{})
		defer func() { require.NoError(t, f.registry.Shutdown(context.Background())) }()

		f.start(t, 3, 6, "a")
		require.Equal(t, []int{2}, f.registry.Groups())

		time.Sleep(6*time.Second + 500*time.Millisecond)
		require.Len(t, f.sink.announcements(3), 1)

		replacedAt := time.Now()

		f.replace(t, 3, 12, "b")
		require.Equal(t, []int{3}, f.registry.Groups())

		terminated := f.sink.kinds(domain.EventWorkerTerminated)
		created := f.sink.kinds(domain.EventWorkerCreated)

		require.Len(t, terminated, 1)
		require.Equal(t, 2, terminated[0].GroupID)
		require.Len(t, created, 2)
		require.Equal(t, 3, created[1].GroupID)

		time.Sleep(25 * time.Second)

		after := f.sink.announcements(3)[1:]
		require.Len(t, after, 2)

		for i, e := range after {
			require.Equal(t, "b", e.Message)
			require.Equal(t, 3, e.GroupID)
			require.Equal(t, 12, e.IntervalSeconds)
			require.Equal(t, replacedAt.Add(time.Duration(12*(i+1))*time.Second), e.Timestamp)
		}
	})
}

// TestReplace_WithinGroupKeepsWorker changes the interval without changing the group.
func TestReplace_WithinGroupKeepsWorker(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		f := newFixture(Options{})
		defer func() { require.NoError(t, f.registry.Shutdown(context.Background())) }()

		f.start(t, 1, 1, "fast")
		f.replace(t, 1, 5, "slower")

		require.Len(t, f.sink.kinds(domain.EventWorkerCreated), 1)
		require.Empty(t, f.sink.kinds(domain.EventWorkerTerminated))
		require.Equal(t, []int{1}, f.registry.Groups())
	})
}

// TestNoLostAlarms cancels an alarm before it is ever due.
func TestNoLostAlarms(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		f := newFixture(Options{})
		defer func() { require.NoError(t, f.registry.Shutdown(context.Background())) }()

		f.start(t, 1, 5, "never")
		time.Sleep(2 * time.Second)
		f.cancel(t, 1)

		time.Sleep(20 * time.Second)

		require.Empty(t, f.sink.announcements(1))
		require.Empty(t, f.registry.Groups())
		require.Len(t, f.sink.kinds(domain.EventWorkerTerminated), 1)
	})
}

// TestGroupInvariant_RandomOperations checks the invariant after every operation.
func TestGroupInvariant_RandomOperations(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		f := newFixture(Options{})
		defer func() { require.NoError(t, f.registry.Shutdown(context.Background())) }()

		rng := rand.New(rand.NewPCG(1, 2)) //nolint:gosec // Deterministic test sequence.
		live := make(map[int]bool)

		for step := range 200 {
			id := rng.IntN(15)
			seconds := rng.IntN(30) + 1

			switch {
			case !live[id]:
				f.start(t, id, seconds, "m")
				live[id] = true
			case rng.IntN(2) == 0:
				f.replace(t, id, seconds, "r")
			default:
				f.cancel(t, id)
				delete(live, id)
			}

			f.requireGroupInvariant(t)

			if step%10 == 0 {
				time.Sleep(time.Second)
			}
		}

		created := len(f.sink.kinds(domain.EventWorkerCreated))
		terminated := len(f.sink.kinds(domain.EventWorkerTerminated))
		require.Equal(t, len(f.registry.Groups()), created-terminated)
	})
}

// TestReconcile_ResourceExhausted retries and then reports exhaustion.
func TestReconcile_ResourceExhausted(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		f := newFixture(Options{
			MaxWorkers:   1,
			SpawnRetries: 2,
			SpawnBackoff: 10 * time.Millisecond,
		})
		defer func() { require.NoError(t, f.registry.Shutdown(context.Background())) }()

		ctx := context.Background()

		f.start(t, 1, 5, "one")

		a, err := domain.New(2, 7*time.Second, "two", "", time.Now())
		require.NoError(t, err)
		require.NoError(t, f.store.Insert(ctx, a))

		started := time.Now()

		err = f.registry.Reconcile(ctx, a.GroupID)
		require.ErrorIs(t, err, ErrResourceExhausted)
		require.Equal(t, 30*time.Millisecond, time.Since(started))
		require.Equal(t, []int{1}, f.registry.Groups())

		// Moving the only alarm of group 1 into group 2 frees the slot in the same pass.
		_, err = f.store.Remove(ctx, 2)
		require.NoError(t, err)

		f.replace(t, 1, 7, "moved")
		require.Equal(t, []int{2}, f.registry.Groups())
	})
}

// TestReconcile_SpawnHookRetries retries refused spawns and succeeds once the hook admits the worker.
func TestReconcile_SpawnHookRetries(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		errNoCapacity := errors.New("no capacity")

		var calls []WorkerConfig

		f := newFixture(Options{
			SpawnRetries: 3,
			SpawnBackoff: 10 * time.Millisecond,
			Spawn: func(cfg WorkerConfig) error {
				calls = append(calls, cfg)
				if len(calls) <= 2 {
					return errNoCapacity
				}

				return nil
			},
		})
		defer func() { require.NoError(t, f.registry.Shutdown(context.Background())) }()

		ctx := context.Background()

		a, err := domain.New(1, 5*time.Second, "one", "", time.Now())
		require.NoError(t, err)
		require.NoError(t, f.store.Insert(ctx, a))

		started := time.Now()

		require.NoError(t, f.registry.Reconcile(ctx, a.GroupID))
		require.Equal(t, 30*time.Millisecond, time.Since(started))
		require.Len(t, calls, 3)
		require.Equal(t, []int{1}, f.registry.Groups())
		require.Len(t, f.sink.kinds(domain.EventWorkerCreated), 1)

		handle := f.registry.Workers()[0].Handle
		require.Equal(t, calls[2].Handle, handle)
		require.Equal(t, 1, calls[2].GroupID)
	})
}

// TestReconcile_SpawnHookExhausted reports exhaustion wrapping the hook's error.
func TestReconcile_SpawnHookExhausted(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		errNoCapacity := errors.New("no capacity")
		attempts := 0

		f := newFixture(Options{
			SpawnRetries: 1,
			SpawnBackoff: 10 * time.Millisecond,
			Spawn: func(WorkerConfig) error {
				attempts++
				return errNoCapacity
			},
		})
		defer func() { require.NoError(t, f.registry.Shutdown(context.Background())) }()

		ctx := context.Background()

		a, err := domain.New(1, 5*time.Second, "one", "", time.Now())
		require.NoError(t, err)
		require.NoError(t, f.store.Insert(ctx, a))

		err = f.registry.Reconcile(ctx, a.GroupID)
		require.ErrorIs(t, err, ErrResourceExhausted)
		require.ErrorIs(t, err, errNoCapacity)
		require.Equal(t, 2, attempts)
		require.Empty(t, f.registry.Groups())
		require.Empty(t, f.sink.kinds(domain.EventWorkerCreated))
	})
}

// TestSpawnDelay doubles the backoff and never exceeds the cap.
func TestSpawnDelay(t *testing.T) {
	t.Parallel()

	require.Equal(t, 100*time.Millisecond, spawnDelay(100*time.Millisecond, 0))
	require.Equal(t, 400*time.Millisecond, spawnDelay(100*time.Millisecond, 2))
	require.Equal(t, maxSpawnBackoff, spawnDelay(100*time.Millisecond, 10))
	require.Equal(t, maxSpawnBackoff, spawnDelay(100*time.Millisecond, 1000))
	require.Equal(t, maxSpawnBackoff, spawnDelay(time.Duration(math.MaxInt64), 70))
}

// blockingSink blocks every announcement until release is closed.
type blockingSink struct {
	recordingSink

	// entered is closed on the first blocked announcement.
	entered chan struct{}
	// release unblocks announcements.
	release chan struct{}
	// once closes entered.
	once sync.Once
}

// Emit blocks announcements and records everything.
func (s *blockingSink) Emit(ctx context.Context, event domain.Event) {
	if event.Kind == domain.EventAnnounced {
		s.once.Do(func() { close(s.entered) })
		<-s.release
	}

	s.recordingSink.Emit(ctx, event)
}

// TestReconcile_StopTimeout reports a worker that does not stop within the bound.
func TestReconcile_StopTimeout(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		ctx := context.Background()
		store := repo.NewStore()
		sink := &blockingSink{
			entered: make(chan struct{}),
			release: make(chan struct{}),
		}
		r := New(store, sink, Options{Tick: time.Second, StopTimeout: 3 * time.Second})

		a, err := domain.New(1, time.Second, "slow", "", time.Now())
		require.NoError(t, err)
		require.NoError(t, store.Insert(ctx, a))
		require.NoError(t, r.Reconcile(ctx, 1))

		<-sink.entered

		_, err = store.Remove(ctx, 1)
		require.NoError(t, err)

		started := time.Now()

		err = r.Reconcile(ctx, 1)
		require.ErrorIs(t, err, ErrWorkerStopTimeout)
		require.Equal(t, 3*time.Second, time.Since(started))
		require.Empty(t, r.Groups())

		abandoned := sink.kinds(domain.EventWorkerAbandoned)
		require.Len(t, abandoned, 1)
		require.Equal(t, 1, abandoned[0].GroupID)
		require.Empty(t, sink.kinds(domain.EventWorkerTerminated))

		// The announcement in flight completes and the worker then stops.
		close(sink.release)
		synctest.Wait()

		require.Len(t, sink.kinds(domain.EventAnnounced), 1)
		require.NoError(t, r.Shutdown(ctx))
	})
}

// TestShutdown stops all workers and rejects later reconciles.
func TestShutdown(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		f := newFixture(Options{})
		ctx := context.Background()

		f.start(t, 1, 5, "a")
		f.start(t, 2, 10, "b")
		f.start(t, 3, 15, "c")

		require.NoError(t, f.registry.Shutdown(ctx))
		require.Empty(t, f.registry.Groups())
		require.Len(t, f.sink.kinds(domain.EventWorkerTerminated), 3)

		a, err := domain.New(4, 20*time.Second, "d", "", time.Now())
		require.NoError(t, err)
		require.NoError(t, f.store.Insert(ctx, a))
		require.ErrorIs(t, f.registry.Reconcile(ctx, a.GroupID), ErrClosed)

		// Shutting down twice is fine.
		require.NoError(t, f.registry.Shutdown(ctx))
	})
}

// TestReconcile_ConcurrentCallers keeps the invariant with parallel command handlers.
func TestReconcile_ConcurrentCallers(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		f := newFixture(Options{})
		defer func() { require.NoError(t, f.registry.Shutdown(context.Background())) }()

		var wg sync.WaitGroup

		for caller := range 6 {
			wg.Add(1)

			go func() {
				defer wg.Done()

				for i := range 20 {
					id := caller*100 + i
					f.start(t, id, (i%4)*5+1, "m")

					if i%3 != 0 {
						f.cancel(t, id)
					}
				}
			}()
		}

		wg.Wait()

		f.requireGroupInvariant(t)
		require.Equal(t, []int{1, 2, 3, 4}, f.registry.Groups())
	})
}
