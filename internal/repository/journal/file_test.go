package journal

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	domain "github.com/oshokin/alarm-groups/internal/domain/alarm"
)

// TestRead_NotFound verifies Read returns ErrNotFound for a missing file.
func TestRead_NotFound(t *testing.T) {
	t.Parallel()

	events, err := Read(context.Background(), filepath.Join(t.TempDir(), "missing.jsonl"))
	require.ErrorIs(t, err, ErrNotFound)
	require.Nil(t, events)
}

// TestFileJournal_AppendRead ensures appended events read back in order, across reopen.
func TestFileJournal_AppendRead(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "events.jsonl")
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	a, err := domain.New(1, 5*time.Second, "hello", "", at)
	require.NoError(t, err)

	want := []domain.Event{
		domain.AlarmEvent(domain.EventInserted, a, at),
		domain.WorkerEvent(domain.EventWorkerCreated, 1, "handle-1", at),
		domain.AlarmEvent(domain.EventAnnounced, a, at.Add(5*time.Second)),
	}

	j, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, j.Append(ctx, want[0]))
	require.NoError(t, j.Append(ctx, want[1]))
	require.NoError(t, j.Close())

	j, err = Open(path)
	require.NoError(t, err)

	j.Emit(ctx, want[2])
	require.NoError(t, j.Close())
	require.NoError(t, j.Close())
	require.ErrorIs(t, j.Append(ctx, want[0]), os.ErrClosed)

	got, err := Read(ctx, path)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

// TestFileJournal_ConcurrentAppends keeps lines whole under concurrent workers.
func TestFileJournal_ConcurrentAppends(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "events.jsonl")

	j, err := Open(path)
	require.NoError(t, err)

	var wg sync.WaitGroup

	for group := 1; group <= 4; group++ {
		wg.Go(func() {
			for range 25 {
				j.Emit(ctx, domain.WorkerEvent(domain.EventWorkerCreated, group, "h", time.Now()))
			}
		})
	}

	wg.Wait()
	require.NoError(t, j.Close())

	got, err := Read(ctx, path)
	require.NoError(t, err)
	require.Len(t, got, 100)
}

// TestRead_Corrupt reports the bad line number.
func TestRead_Corrupt(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "events.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("{not json}\n"), 0o600))

	_, err := Read(context.Background(), path)
	require.ErrorContains(t, err, "line 1")
}
