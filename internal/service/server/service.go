package server

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/oshokin/alarm-groups/internal/config"
	"github.com/oshokin/alarm-groups/internal/logger"
	"github.com/oshokin/alarm-groups/internal/metrics"
	repo "github.com/oshokin/alarm-groups/internal/repository/alarm"
	"github.com/oshokin/alarm-groups/internal/repository/journal"
	"github.com/oshokin/alarm-groups/internal/service/events"
	"github.com/oshokin/alarm-groups/internal/service/processor"
	"github.com/oshokin/alarm-groups/internal/service/registry"
)

// service bundles the scheduler components of one daemon.
// It is unexported to keep the transport decoupled from the implementation.
type service struct {
	// store holds the alarms.
	store *repo.Store
	// hub fans events out to gRPC watchers.
	hub *events.Hub
	// registry owns the group workers.
	registry *registry.Registry
	// processor executes commands.
	processor *processor.Processor
	// journal records events on disk, nil when disabled.
	journal *journal.FileJournal
}

// newService wires store, registry and processor. Every event is printed to
// out, counted in metrics, published to the hub and optionally journaled.
func newService(
	ctx context.Context,
	settings *config.Config,
	out io.Writer,
	onFatal func(error),
) (*service, error) {
	store := repo.NewStore()
	hub := events.NewHub()
	sink := events.Multi{
		events.NewWriterSink(out),
		metrics.Sink(),
		hub,
	}

	var file *journal.FileJournal

	if settings.JournalFile != "" {
		var err error

		file, err = journal.Open(settings.JournalFile)
		if err != nil {
			return nil, fmt.Errorf("open event journal: %w", err)
		}

		logger.InfoKV(ctx, "Journaling events", "journal_file", file.Path())

		sink = append(sink, file)
	}

	opts := registry.Options{
		Tick:         settings.Tick,
		LockTimeout:  settings.LockTimeout,
		StopTimeout:  settings.StopTimeout,
		SpawnRetries: settings.SpawnRetries,
		MaxWorkers:   settings.MaxWorkers,
	}

	if settings.WorkerLogLevel != "" {
		if level, ok := logger.ParseLogLevel(settings.WorkerLogLevel); ok {
			opts.WorkerLogLevel = &level
		}
	}

	reg := registry.New(store, sink, opts)

	logger.InfoKV(ctx, "Scheduler ready",
		"tick", opts.Tick,
		"lock_timeout", opts.LockTimeout,
		"stop_timeout", opts.StopTimeout,
		"spawn_retries", opts.SpawnRetries,
		"max_workers", opts.MaxWorkers,
	)

	return &service{
		store:    store,
		hub:      hub,
		registry: reg,
		journal:  file,
		processor: processor.New(store, reg, processor.Options{
			Sink:    sink,
			OnFatal: onFatal,
		}),
	}, nil
}

// shutdown stops every group worker, then closes the journal so their
// termination events are recorded.
func (s *service) shutdown(ctx context.Context) error {
	err := s.registry.Shutdown(ctx)

	if s.journal != nil {
		err = errors.Join(err, s.journal.Close())
	}

	return err
}
