package journal

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/oshokin/alarm-groups/internal/codec"
	"github.com/oshokin/alarm-groups/internal/config"
	domain "github.com/oshokin/alarm-groups/internal/domain/alarm"
	"github.com/oshokin/alarm-groups/internal/logger"
)

// ErrNotFound is returned by Read when the journal file does not exist yet.
var ErrNotFound = errors.New("journal not found")

// FileJournal appends events to a file as JSON lines.
type FileJournal struct {
	// file is the open journal, nil after Close.
	file *os.File
	// path is the filesystem location of the journal.
	path string
	// mu serializes appends from concurrent workers.
	mu sync.Mutex
}

// Open opens path for appending, creating it when missing.
func Open(path string) (*FileJournal, error) {
	path = filepath.Clean(path)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, config.DefaultFilePermissions)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	return &FileJournal{
		file: file,
		path: path,
	}, nil
}

// Path returns the journal location.
func (j *FileJournal) Path() string {
	return j.path
}

// Append writes one event line.
func (j *FileJournal) Append(_ context.Context, event domain.Event) error {
	item, err := codec.EventToStruct(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	data, err := protojson.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.file == nil {
		return os.ErrClosed
	}

	if _, err = j.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write journal: %w", err)
	}

	return nil
}

// Emit appends the event, logging failures. It makes the journal an event sink.
func (j *FileJournal) Emit(ctx context.Context, event domain.Event) {
	if err := j.Append(ctx, event); err != nil {
		logger.ErrorKV(ctx, "Failed to journal event", "kind", event.Kind, "error", err)
	}
}

// Close flushes and closes the file. Later appends fail with os.ErrClosed.
func (j *FileJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.file == nil {
		return nil
	}

	err := j.file.Close()
	j.file = nil

	return err
}

// Read loads every event recorded in the journal at path, oldest first.
func Read(_ context.Context, path string) ([]domain.Event, error) {
	file, err := os.Open(filepath.Clean(path))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("open journal: %w", err)
	}

	defer func() {
		_ = file.Close()
	}()

	var result []domain.Event

	scanner := bufio.NewScanner(file)
	for line := 1; scanner.Scan(); line++ {
		item := new(structpb.Struct)
		if err = protojson.Unmarshal(scanner.Bytes(), item); err != nil {
			return nil, fmt.Errorf("decode journal line %d: %w", line, err)
		}

		event, decodeErr := codec.EventFromStruct(item)
		if decodeErr != nil {
			return nil, fmt.Errorf("decode journal line %d: %w", line, decodeErr)
		}

		result = append(result, event)
	}

	if err = scanner.Err(); err != nil {
		return nil, fmt.Errorf("read journal: %w", err)
	}

	return result, nil
}
