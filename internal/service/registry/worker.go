package registry

import (
	"context"
	"sync/atomic"
	"time"

	domain "github.com/oshokin/alarm-groups/internal/domain/alarm"
	"github.com/oshokin/alarm-groups/internal/logger"
	"github.com/oshokin/alarm-groups/internal/service/events"
)

// WorkerState is the lifecycle state of a group worker.
type WorkerState int32

const (
	// WorkerPending is a registered worker whose loop has not started yet.
	WorkerPending WorkerState = iota
	// WorkerRunning is scanning its group every tick.
	WorkerRunning
	// WorkerStopping has observed the stop signal and is leaving its loop.
	WorkerStopping
	// WorkerStopped has returned. Terminal.
	WorkerStopped
)

// String returns the state name.
func (s WorkerState) String() string {
	switch s {
	case WorkerPending:
		return "pending"
	case WorkerRunning:
		return "running"
	case WorkerStopping:
		return "stopping"
	case WorkerStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// WorkerConfig is handed to a worker at spawn time and owned by it.
type WorkerConfig struct {
	// Handle identifies the worker instance.
	Handle string
	// GroupID is the group the worker announces.
	GroupID int
	// Tick is the scan period.
	Tick time.Duration
	// LockTimeout bounds the store lock wait of a single scan.
	LockTimeout time.Duration
}

// WorkerInfo describes a registered worker.
type WorkerInfo struct {
	// StartedAt is when the worker was spawned.
	StartedAt time.Time
	// Handle identifies the worker instance.
	Handle string
	// GroupID is the group the worker announces.
	GroupID int
	// State is the lifecycle state at the time of the call.
	State WorkerState
}

// worker announces the due alarms of one group.
type worker struct {
	// startedAt is when the worker was registered.
	startedAt time.Time
	// store is scanned every tick.
	store Store
	// sink receives announcements.
	sink events.Sink
	// now is the clock.
	now func() time.Time
	// stop is closed by the registry to request a cooperative stop.
	stop chan struct{}
	// done is closed by the worker when its loop has returned.
	done chan struct{}
	// cfg is the spawn-time configuration.
	cfg WorkerConfig
	// state holds a WorkerState.
	state atomic.Int32
}

// newWorker builds a pending worker.
func newWorker(cfg WorkerConfig, store Store, sink events.Sink, now func() time.Time) *worker {
	return &worker{
		startedAt: now(),
		store:     store,
		sink:      sink,
		now:       now,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		cfg:       cfg,
	}
}

// info snapshots the worker for listings.
func (w *worker) info() WorkerInfo {
	return WorkerInfo{
		StartedAt: w.startedAt,
		Handle:    w.cfg.Handle,
		GroupID:   w.cfg.GroupID,
		State:     WorkerState(w.state.Load()),
	}
}

// run scans, then sleeps one tick, until the stop channel is closed.
// The stop signal is only observed between scans so an announcement is
// never cut short and the store lock is never left held.
func (w *worker) run(ctx context.Context) {
	defer close(w.done)
	defer w.state.Store(int32(WorkerStopped))

	w.state.Store(int32(WorkerRunning))

	logger.Debug(ctx, "Group worker started")

	ticker := time.NewTicker(w.cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			w.state.Store(int32(WorkerStopping))
			logger.Debug(ctx, "Group worker stopping")

			return
		default:
		}

		w.scan(ctx)

		select {
		case <-w.stop:
			w.state.Store(int32(WorkerStopping))
			logger.Debug(ctx, "Group worker stopping")

			return
		case <-ticker.C:
		}
	}
}

// scan announces every due alarm of the group. A lock timeout skips the tick.
func (w *worker) scan(ctx context.Context) {
	lockCtx, cancel := context.WithTimeout(ctx, w.cfg.LockTimeout)
	now := w.now()
	due, err := w.store.CollectDue(lockCtx, w.cfg.GroupID, now)

	cancel()

	if err != nil {
		logger.WarnKV(ctx, "Group worker skipped a tick", "error", err)
		return
	}

	for _, a := range due {
		w.announce(ctx, domain.AlarmEvent(domain.EventAnnounced, a, now))
	}
}

// announce emits one event, containing a panicking sink.
func (w *worker) announce(ctx context.Context, event domain.Event) {
	defer func() {
		if recovered := recover(); recovered != nil {
			logger.ErrorKV(ctx, "Announcement sink panicked", "alarm_id", event.AlarmID, "panic", recovered)
		}
	}()

	w.sink.Emit(ctx, event)
}
