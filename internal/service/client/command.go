package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/oshokin/alarm-groups/internal/config"
	domain "github.com/oshokin/alarm-groups/internal/domain/alarm"
	"github.com/oshokin/alarm-groups/internal/logger"
	"github.com/oshokin/alarm-groups/internal/repository/journal"
	"github.com/oshokin/alarm-groups/internal/service/common"
)

// Options configures how alarmctl reaches the daemon.
type Options struct {
	// Out receives the command output.
	Out io.Writer

	// ConfigPath to YAML settings file, defaults to standard filename if empty.
	ConfigPath string

	// ServerAddress overrides the daemon address from config when specified.
	ServerAddress string

	// Reconnect keeps Watch reconnecting after the stream breaks.
	Reconnect bool
}

// defaultReconnectInterval is the delay between Watch reconnect attempts.
const defaultReconnectInterval = 1 * time.Second

// errJournalNotConfigured is returned by Journal when no file is given or configured.
var errJournalNotConfigured = errors.New("no journal file given and journal_file is not set")

// Submit sends one command line and prints the daemon's status line.
func Submit(ctx context.Context, opts *Options, line string) error {
	ctx = logger.WithName(ctx, "alarmctl")

	client, err := connect(ctx, opts)
	if err != nil {
		return err
	}

	defer func() {
		_ = client.Close()
	}()

	status, err := client.Submit(ctx, strings.TrimSpace(line))
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(opts.Out, status)

	return err
}

// List prints the alarms stored by the daemon, one per line.
func List(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "alarmctl")

	client, err := connect(ctx, opts)
	if err != nil {
		return err
	}

	defer func() {
		_ = client.Close()
	}()

	alarms, err := client.List(ctx)
	if err != nil {
		return err
	}

	return writeAlarms(opts.Out, alarms)
}

// Watch prints events until ctx is canceled. With Reconnect set, a broken
// stream is reopened after defaultReconnectInterval.
func Watch(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "alarmctl")

	client, err := connect(ctx, opts)
	if err != nil {
		return err
	}

	defer func() {
		_ = client.Close()
	}()

	printEvent := func(event domain.Event) error {
		_, err := fmt.Fprintln(opts.Out, event.String())
		return err
	}

	for {
		err = client.Watch(ctx, printEvent)
		if err == nil || ctx.Err() != nil {
			return nil
		}

		if !opts.Reconnect {
			return err
		}

		logger.WarnKV(ctx, "Event stream broken, reconnecting", "error", err, "delay", defaultReconnectInterval)

		timer := time.NewTimer(defaultReconnectInterval)

		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// Journal prints the events recorded in a journal file, oldest first.
// An empty path falls back to journal_file from the settings.
func Journal(ctx context.Context, opts *Options, path string) error {
	ctx = logger.WithName(ctx, "alarmctl")

	if path == "" {
		cfg, err := config.LoadOrDefault(opts.ConfigPath)
		if err != nil {
			return fmt.Errorf("load settings: %w", err)
		}

		path = cfg.JournalFile
	}

	if path == "" {
		return errJournalNotConfigured
	}

	recorded, err := journal.Read(ctx, path)
	if err != nil {
		return err
	}

	logger.DebugKV(ctx, "Read event journal", "journal_file", path, "events", len(recorded))

	for _, event := range recorded {
		if _, err = fmt.Fprintln(opts.Out, event.String()); err != nil {
			return err
		}
	}

	return nil
}

// connect loads settings, identifies the caller and dials the daemon.
func connect(ctx context.Context, opts *Options) (*common.Client, error) {
	cfg, err := config.LoadOrDefault(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	if err = logger.Configure(cfg.LogLevel); err != nil {
		return nil, err
	}

	serverAddress := cfg.ListenAddress
	if opts.ServerAddress != "" {
		serverAddress = opts.ServerAddress
	}

	dialOptions := []common.Option{common.WithCallTimeout(cfg.Timeout)}

	// Identify current user and hostname for server logs.
	if actor, err := common.DetectActor(); err == nil {
		dialOptions = append(dialOptions, common.WithActor(actor))
	} else {
		logger.DebugKV(ctx, "Caller identity unavailable", "error", err)
	}

	client, err := common.Dial(ctx, serverAddress, dialOptions...)
	if err != nil {
		return nil, err
	}

	logger.DebugKV(ctx, "Dialed alarm daemon", "server_address", serverAddress)

	return client, nil
}

// writeAlarms renders a listing.
func writeAlarms(out io.Writer, alarms []*domain.Alarm) error {
	if len(alarms) == 0 {
		_, err := fmt.Fprintln(out, "No alarms.")
		return err
	}

	for _, a := range alarms {
		category := ""
		if a.Category != "" {
			category = " [" + a.Category + "]"
		}

		if _, err := fmt.Fprintf(out, "%s%s (announced %d times)\n", a, category, a.Announcements); err != nil {
			return err
		}
	}

	return nil
}
