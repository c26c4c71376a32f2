package client

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/alarm-groups/internal/config"
	domain "github.com/oshokin/alarm-groups/internal/domain/alarm"
	"github.com/oshokin/alarm-groups/internal/repository/journal"
)

func TestWriteAlarms(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer

	require.NoError(t, writeAlarms(&out, nil))
	require.Equal(t, "No alarms.\n", out.String())

	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	a, err := domain.New(3, 12*time.Second, "pie", "kitchen", now)
	require.NoError(t, err)

	out.Reset()
	require.NoError(t, writeAlarms(&out, []*domain.Alarm{a}))
	require.Equal(t,
		"Alarm(3): group 3, every 12s, next at 2024-05-01T10:00:12Z: pie [kitchen] (announced 0 times)\n",
		out.String())
}

func TestSubmit_Unreachable(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var out bytes.Buffer

	opts := &Options{
		Out:           &out,
		ConfigPath:    filepath.Join(t.TempDir(), "missing.yaml"),
		ServerAddress: "127.0.0.1:1",
	}

	require.Error(t, Submit(ctx, opts, "View_Alarms"))
	require.Empty(t, out.String())
}

func TestJournal(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "events.jsonl")
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	a, err := domain.New(1, 5*time.Second, "hello", "", at)
	require.NoError(t, err)

	j, err := journal.Open(path)
	require.NoError(t, err)
	require.NoError(t, j.Append(ctx, domain.AlarmEvent(domain.EventInserted, a, at)))
	require.NoError(t, j.Append(ctx, domain.WorkerEvent(domain.EventWorkerCreated, 1, "h1", at)))
	require.NoError(t, j.Close())

	var out bytes.Buffer

	// The path comes from the settings when not given.
	configPath := filepath.Join(dir, "settings.yaml")
	require.NoError(t, config.Save(configPath, &config.Config{
		ListenAddress: "127.0.0.1:0",
		JournalFile:   path,
	}))

	require.NoError(t, Journal(ctx, &Options{Out: &out, ConfigPath: configPath}, ""))
	require.Equal(t,
		"Alarm(1) inserted into group 1 at 2024-05-01T10:00:00Z: 5 hello\n"+
			"Worker h1 created for group 1 at 2024-05-01T10:00:00Z\n",
		out.String())

	out.Reset()
	require.NoError(t, Journal(ctx, &Options{Out: &out}, path))
	require.Equal(t, 2, bytes.Count(out.Bytes(), []byte("\n")))

	missing := &Options{Out: &out, ConfigPath: filepath.Join(dir, "missing.yaml")}
	require.ErrorIs(t, Journal(ctx, missing, ""), errJournalNotConfigured)
	require.ErrorIs(t, Journal(ctx, missing, filepath.Join(dir, "none.jsonl")), journal.ErrNotFound)
}
