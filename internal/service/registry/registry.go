package registry

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap/zapcore"

	domain "github.com/oshokin/alarm-groups/internal/domain/alarm"
	"github.com/oshokin/alarm-groups/internal/logger"
	repo "github.com/oshokin/alarm-groups/internal/repository/alarm"
	"github.com/oshokin/alarm-groups/internal/service/events"
)

var (
	// ErrResourceExhausted is returned when a worker cannot be spawned after all retries.
	ErrResourceExhausted = errors.New("worker resources exhausted")
	// ErrWorkerStopTimeout is returned when a retired worker does not stop in time.
	ErrWorkerStopTimeout = errors.New("worker did not stop in time")
	// ErrClosed is returned by Reconcile after Shutdown.
	ErrClosed = errors.New("registry is shut down")
)

// Store is the part of the alarm store the registry and its workers use.
type Store interface {
	Locked(ctx context.Context, fn func(tx *repo.Tx) error) error
	CollectDue(ctx context.Context, groupID int, now time.Time) ([]*domain.Alarm, error)
}

// Options tunes worker cadence, timeouts and spawn limits.
type Options struct {
	// Tick is the worker scan period.
	Tick time.Duration
	// LockTimeout bounds a worker's store lock wait per tick.
	LockTimeout time.Duration
	// StopTimeout bounds the wait for a retired worker to stop.
	StopTimeout time.Duration
	// SpawnBackoff is the first delay between spawn retries; it doubles per retry
	// up to maxSpawnBackoff.
	SpawnBackoff time.Duration
	// SpawnRetries is how many times a refused spawn is retried.
	SpawnRetries int
	// MaxWorkers caps concurrently registered workers. Zero means no cap.
	MaxWorkers int
	// Spawn, when set, admits a new worker before it is registered. An error
	// refuses the spawn the same way a full registry does, so it is retried.
	// It runs under the store lock and must not block.
	Spawn func(cfg WorkerConfig) error
	// WorkerLogLevel overrides the log level of worker loggers when set.
	WorkerLogLevel *zapcore.Level
	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
}

const (
	defaultTick         = time.Second
	defaultSpawnBackoff = 100 * time.Millisecond
	maxSpawnBackoff     = 5 * time.Second
	stopTimeoutTicks    = 3
)

// Registry owns the group workers.
type Registry struct {
	// store is the alarm store whose lock is always taken before mu.
	store Store
	// sink receives worker lifecycle events and announcements.
	sink events.Sink
	// workers maps group id to its running worker.
	workers map[int]*worker
	// opts is the normalized configuration.
	opts Options
	// mu guards workers and closed.
	mu sync.Mutex
	// closed is set by Shutdown.
	closed bool
}

// New creates a registry with no workers.
func New(store Store, sink events.Sink, opts Options) *Registry {
	if sink == nil {
		sink = events.Discard
	}

	if opts.Tick <= 0 {
		opts.Tick = defaultTick
	}

	if opts.LockTimeout <= 0 || opts.LockTimeout > opts.Tick {
		opts.LockTimeout = opts.Tick
	}

	if opts.StopTimeout <= 0 {
		opts.StopTimeout = stopTimeoutTicks * opts.Tick
	}

	if opts.SpawnBackoff <= 0 {
		opts.SpawnBackoff = defaultSpawnBackoff
	}

	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Registry{
		store:   store,
		sink:    sink,
		workers: make(map[int]*worker),
		opts:    opts,
	}
}

// outcome collects what a reconcile pass changed, to be published after the locks are released.
type outcome struct {
	spawned []*worker
	retired []*worker
}

// Reconcile brings the workers of the given groups in line with the store:
// a non-empty group without a worker gets one, an empty group with a worker
// loses it. All groups are decided under one store lock hold, so moving an
// alarm from group A to group B is a single logical update. Calling it again
// without an intervening store change does nothing.
func (r *Registry) Reconcile(ctx context.Context, groupIDs ...int) error {
	groupIDs = distinct(groupIDs)
	if len(groupIDs) == 0 {
		return nil
	}

	for attempt := 0; ; attempt++ {
		result, err := r.reconcileOnce(ctx, groupIDs)

		publishErr := r.publish(ctx, result)

		if !errors.Is(err, ErrResourceExhausted) {
			return errors.Join(err, publishErr)
		}

		if attempt >= r.opts.SpawnRetries {
			logger.ErrorKV(ctx, "Giving up spawning group worker", "groups", groupIDs, "attempts", attempt+1)

			return errors.Join(err, publishErr)
		}

		delay := spawnDelay(r.opts.SpawnBackoff, attempt)
		logger.WarnKV(ctx, "Group worker spawn refused, retrying", "groups", groupIDs, "delay", delay, "error", err)

		if err = sleep(ctx, delay); err != nil {
			return fmt.Errorf("wait before spawn retry: %w", err)
		}
	}
}

// reconcileOnce decides spawns and retirements holding the store lock, then the registry lock.
func (r *Registry) reconcileOnce(ctx context.Context, groupIDs []int) (outcome, error) {
	var result outcome

	err := r.store.Locked(ctx, func(tx *repo.Tx) error {
		r.mu.Lock()
		defer r.mu.Unlock()

		if r.closed {
			return ErrClosed
		}

		// Retire first so a freed slot is available to a group gaining its first alarm.
		for _, groupID := range groupIDs {
			w, running := r.workers[groupID]
			if running && !tx.HasGroup(groupID) {
				close(w.stop)
				delete(r.workers, groupID)

				result.retired = append(result.retired, w)
			}
		}

		for _, groupID := range groupIDs {
			if _, running := r.workers[groupID]; running || !tx.HasGroup(groupID) {
				continue
			}

			if r.opts.MaxWorkers > 0 && len(r.workers) >= r.opts.MaxWorkers {
				return fmt.Errorf("spawn worker for group %d: %w", groupID, ErrResourceExhausted)
			}

			cfg := WorkerConfig{
				Handle:      uuid.NewString(),
				GroupID:     groupID,
				Tick:        r.opts.Tick,
				LockTimeout: r.opts.LockTimeout,
			}

			if r.opts.Spawn != nil {
				if err := r.opts.Spawn(cfg); err != nil {
					return fmt.Errorf("spawn worker for group %d: %w: %w", groupID, ErrResourceExhausted, err)
				}
			}

			w := newWorker(cfg, r.store, r.sink, r.opts.Now)

			r.workers[groupID] = w
			result.spawned = append(result.spawned, w)
		}

		return nil
	})

	return result, err
}

// publish starts spawned workers, waits for retired ones and emits lifecycle events.
// It runs with no lock held.
func (r *Registry) publish(ctx context.Context, result outcome) error {
	var errs []error

	for _, w := range result.retired {
		if err := r.awaitStop(ctx, w); err != nil {
			errs = append(errs, err)
		}
	}

	for _, w := range result.spawned {
		workerCtx := r.workerContext(ctx, w.cfg)

		logger.InfoKV(workerCtx, "Group worker created")
		r.sink.Emit(ctx, domain.WorkerEvent(domain.EventWorkerCreated, w.cfg.GroupID, w.cfg.Handle, r.opts.Now()))

		go w.run(workerCtx)
	}

	return errors.Join(errs...)
}

// awaitStop blocks until w has stopped or StopTimeout elapsed.
func (r *Registry) awaitStop(ctx context.Context, w *worker) error {
	timer := time.NewTimer(r.opts.StopTimeout)
	defer timer.Stop()

	select {
	case <-w.done:
		logger.InfoKV(ctx, "Group worker terminated", "group_id", w.cfg.GroupID, "handle", w.cfg.Handle)
		r.sink.Emit(ctx, domain.WorkerEvent(domain.EventWorkerTerminated, w.cfg.GroupID, w.cfg.Handle, r.opts.Now()))

		return nil
	case <-timer.C:
		logger.ErrorKV(ctx, "Group worker did not stop in time",
			"group_id", w.cfg.GroupID, "handle", w.cfg.Handle, "stop_timeout", r.opts.StopTimeout)
		r.sink.Emit(ctx, domain.WorkerEvent(domain.EventWorkerAbandoned, w.cfg.GroupID, w.cfg.Handle, r.opts.Now()))

		return fmt.Errorf("group %d worker %s: %w", w.cfg.GroupID, w.cfg.Handle, ErrWorkerStopTimeout)
	}
}

// workerContext detaches the worker from the caller's cancellation but keeps its logger.
func (r *Registry) workerContext(ctx context.Context, cfg WorkerConfig) context.Context {
	workerCtx := logger.WithFields(
		logger.WithName(context.WithoutCancel(ctx), "worker"),
		"group_id", cfg.GroupID,
		"handle", cfg.Handle,
	)

	if r.opts.WorkerLogLevel != nil {
		leveled := logger.FromContext(workerCtx).Desugar().WithOptions(logger.WithLevel(*r.opts.WorkerLogLevel))
		workerCtx = logger.ToContext(workerCtx, leveled.Sugar())
	}

	return workerCtx
}

// Groups returns the group ids that currently have a worker, ascending.
func (r *Registry) Groups() []int {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := make([]int, 0, len(r.workers))
	for groupID := range r.workers {
		result = append(result, groupID)
	}

	slices.Sort(result)

	return result
}

// Workers describes the registered workers ordered by group id.
func (r *Registry) Workers() []WorkerInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := make([]WorkerInfo, 0, len(r.workers))
	for _, w := range r.workers {
		result = append(result, w.info())
	}

	slices.SortFunc(result, func(a, b WorkerInfo) int { return a.GroupID - b.GroupID })

	return result
}

// Shutdown stops every worker and waits for them. Later Reconcile calls fail with ErrClosed.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()

	if r.closed {
		r.mu.Unlock()
		return nil
	}

	r.closed = true

	var result outcome

	for groupID, w := range r.workers {
		close(w.stop)
		delete(r.workers, groupID)

		result.retired = append(result.retired, w)
	}

	r.mu.Unlock()

	slices.SortFunc(result.retired, func(a, b *worker) int { return a.cfg.GroupID - b.cfg.GroupID })

	logger.InfoKV(ctx, "Stopping group workers", "count", len(result.retired))

	return r.publish(ctx, result)
}

// distinct drops repeated group ids keeping the first occurrence.
func distinct(groupIDs []int) []int {
	seen := make(map[int]struct{}, len(groupIDs))
	result := make([]int, 0, len(groupIDs))

	for _, groupID := range groupIDs {
		if _, ok := seen[groupID]; ok {
			continue
		}

		seen[groupID] = struct{}{}
		result = append(result, groupID)
	}

	return result
}

// spawnDelay doubles base per attempt, capped at maxSpawnBackoff.
func spawnDelay(base time.Duration, attempt int) time.Duration {
	delay := base

	for range attempt {
		if delay >= maxSpawnBackoff {
			break
		}

		delay *= 2
	}

	return min(delay, maxSpawnBackoff)
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
