package processor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/oshokin/alarm-groups/internal/domain/alarm"
	"github.com/oshokin/alarm-groups/internal/logger"
	"github.com/oshokin/alarm-groups/internal/metrics"
	repo "github.com/oshokin/alarm-groups/internal/repository/alarm"
	"github.com/oshokin/alarm-groups/internal/service/events"
	"github.com/oshokin/alarm-groups/internal/service/registry"
)

// DefaultCommandTimeout bounds a single command including worker reconciliation.
const DefaultCommandTimeout = 10 * time.Second

// ErrFatal marks errors after which the process must not continue.
var ErrFatal = errors.New("fatal scheduler failure")

// Store is the part of the alarm store the processor mutates.
type Store interface {
	Insert(ctx context.Context, a *domain.Alarm) error
	Update(ctx context.Context, id int, interval time.Duration, message, category string, now time.Time) (int, *domain.Alarm, error)
	Remove(ctx context.Context, id int) (*domain.Alarm, error)
	List(ctx context.Context) ([]*domain.Alarm, error)
}

// Registry is the part of the worker registry the processor drives.
type Registry interface {
	Reconcile(ctx context.Context, groupIDs ...int) error
	Workers() []registry.WorkerInfo
}

// Options configures a Processor.
type Options struct {
	// Sink receives inserted, replaced and canceled events.
	Sink events.Sink
	// OnFatal is called once for resource exhaustion or a locking failure.
	OnFatal func(err error)
	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
	// CommandTimeout bounds a single command.
	CommandTimeout time.Duration
}

// Result is what a command produced for the caller.
type Result struct {
	// Alarms is the listing of a View command.
	Alarms []*domain.Alarm
	// Workers is the worker listing of a View command.
	Workers []registry.WorkerInfo
	// Status is the human-readable status line.
	Status string
}

// Processor executes commands against the store and keeps workers reconciled.
type Processor struct {
	// store holds the alarms.
	store Store
	// registry owns the group workers.
	registry Registry
	// opts is the normalized configuration.
	opts Options
}

// New creates a processor.
func New(store Store, reg Registry, opts Options) *Processor {
	if opts.Sink == nil {
		opts.Sink = events.Discard
	}

	if opts.Now == nil {
		opts.Now = time.Now
	}

	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = DefaultCommandTimeout
	}

	return &Processor{
		store:    store,
		registry: reg,
		opts:     opts,
	}
}

// ExecuteLine parses and executes one command line.
func (p *Processor) ExecuteLine(ctx context.Context, line string) (*Result, error) {
	cmd, err := Parse(line)
	if err != nil {
		metrics.ObserveCommand(domain.CommandUnknown, metrics.ResultOf(err), 0)
		return nil, err
	}

	return p.Execute(ctx, cmd)
}

// Execute runs one command. NotFound and malformed errors leave all state untouched.
func (p *Processor) Execute(ctx context.Context, cmd domain.Command) (*Result, error) {
	ctx = logger.WithKV(ctx, "command", cmd.Kind.String())
	started := time.Now()

	result, err := p.execute(ctx, cmd)

	metrics.ObserveCommand(cmd.Kind, metrics.ResultOf(err), time.Since(started))

	if err != nil {
		err = p.classify(ctx, err)
		logger.WarnKV(ctx, "Command failed", "alarm_id", cmd.ID, "error", err)

		return nil, err
	}

	return result, nil
}

// execute dispatches on the command kind within the command timeout.
func (p *Processor) execute(ctx context.Context, cmd domain.Command) (*Result, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	cmdCtx, cancel := context.WithTimeout(ctx, p.opts.CommandTimeout)
	defer cancel()

	switch cmd.Kind {
	case domain.CommandStart:
		return p.start(cmdCtx, cmd)
	case domain.CommandReplace:
		return p.replace(cmdCtx, cmd)
	case domain.CommandCancel:
		return p.cancel(cmdCtx, cmd)
	case domain.CommandView:
		return p.view(cmdCtx)
	default:
		return nil, fmt.Errorf("%w: unknown command kind %d", domain.ErrMalformedCommand, cmd.Kind)
	}
}

// start inserts a new alarm and reconciles its group.
func (p *Processor) start(ctx context.Context, cmd domain.Command) (*Result, error) {
	now := p.opts.Now()

	a, err := domain.New(cmd.ID, cmd.Interval, cmd.Message, cmd.Category, now)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrMalformedCommand, err)
	}

	if err = p.store.Insert(ctx, a); err != nil {
		return nil, fmt.Errorf("insert alarm %d: %w", cmd.ID, err)
	}

	event := domain.AlarmEvent(domain.EventInserted, a, now)
	p.opts.Sink.Emit(ctx, event)
	logger.InfoKV(ctx, "Alarm inserted", "alarm_id", a.ID, "group_id", a.GroupID, "interval", a.Interval)

	if err = p.registry.Reconcile(ctx, a.GroupID); err != nil {
		return nil, fmt.Errorf("reconcile group %d: %w", a.GroupID, err)
	}

	return &Result{Status: event.String()}, nil
}

// replace updates an alarm in place and reconciles its old and new group together.
func (p *Processor) replace(ctx context.Context, cmd domain.Command) (*Result, error) {
	now := p.opts.Now()

	previousGroup, updated, err := p.store.Update(ctx, cmd.ID, cmd.Interval, cmd.Message, cmd.Category, now)
	if err != nil {
		return nil, fmt.Errorf("replace alarm %d: %w", cmd.ID, err)
	}

	event := domain.AlarmEvent(domain.EventReplaced, updated, now)
	p.opts.Sink.Emit(ctx, event)
	logger.InfoKV(ctx, "Alarm replaced",
		"alarm_id", updated.ID, "previous_group_id", previousGroup, "group_id", updated.GroupID)

	if err = p.registry.Reconcile(ctx, previousGroup, updated.GroupID); err != nil {
		return nil, fmt.Errorf("reconcile groups %d and %d: %w", previousGroup, updated.GroupID, err)
	}

	return &Result{Status: event.String()}, nil
}

// cancel removes an alarm and reconciles the group it left.
func (p *Processor) cancel(ctx context.Context, cmd domain.Command) (*Result, error) {
	removed, err := p.store.Remove(ctx, cmd.ID)
	if err != nil {
		return nil, fmt.Errorf("cancel alarm %d: %w", cmd.ID, err)
	}

	event := domain.AlarmEvent(domain.EventCanceled, removed, p.opts.Now())
	p.opts.Sink.Emit(ctx, event)
	logger.InfoKV(ctx, "Alarm canceled", "alarm_id", removed.ID, "group_id", removed.GroupID)

	if err = p.registry.Reconcile(ctx, removed.GroupID); err != nil {
		return nil, fmt.Errorf("reconcile group %d: %w", removed.GroupID, err)
	}

	return &Result{Status: event.String()}, nil
}

// view lists alarms and workers.
func (p *Processor) view(ctx context.Context) (*Result, error) {
	alarms, err := p.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list alarms: %w", err)
	}

	workers := p.registry.Workers()

	var b strings.Builder

	fmt.Fprintf(&b, "%d alarm(s), %d worker(s)", len(alarms), len(workers))

	for _, a := range alarms {
		fmt.Fprintf(&b, "\n  %s", a)
	}

	for _, w := range workers {
		fmt.Fprintf(&b, "\n  Worker %s: group %d, %s since %s",
			w.Handle, w.GroupID, w.State, w.StartedAt.Format(time.RFC3339))
	}

	return &Result{
		Alarms:  alarms,
		Workers: workers,
		Status:  b.String(),
	}, nil
}

// classify reports errors the process cannot survive through OnFatal.
// A store lock that stays unavailable while the caller is still waiting
// means the lock discipline is broken; running on would leave workers and
// alarms out of step.
func (p *Processor) classify(ctx context.Context, err error) error {
	fatal := errors.Is(err, registry.ErrResourceExhausted) ||
		(errors.Is(err, repo.ErrLockUnavailable) && ctx.Err() == nil)

	if !fatal {
		return err
	}

	err = fmt.Errorf("%w: %w", ErrFatal, err)

	logger.ErrorKV(ctx, "Scheduler invariant cannot be maintained", "error", err)

	if p.opts.OnFatal != nil {
		p.opts.OnFatal(err)
	}

	return err
}
