package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/oshokin/alarm-groups/internal/logger"
	"github.com/oshokin/alarm-groups/internal/service/processor"
)

// Prompt is printed before every input line.
const Prompt = "alarm> "

// quitCommands end the loop like end of input does.
//
//nolint:gochecknoglobals // Read-only lookup table.
var quitCommands = map[string]struct{}{
	"exit": {},
	"quit": {},
}

// Executor runs one command line.
type Executor interface {
	ExecuteLine(ctx context.Context, line string) (*processor.Result, error)
}

// SyncWriter serializes writes so prompt, replies and event lines never interleave.
type SyncWriter struct {
	// w is the destination.
	w io.Writer
	// mu guards w.
	mu sync.Mutex
}

// NewSyncWriter wraps w.
func NewSyncWriter(w io.Writer) *SyncWriter {
	return &SyncWriter{
		w: w,
	}
}

// Write writes p under the lock.
func (s *SyncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.w.Write(p)
}

// Console reads commands from in and writes replies to out.
type Console struct {
	// executor runs the commands.
	executor Executor
	// in is the command source.
	in io.Reader
	// out receives prompts and replies.
	out io.Writer
}

// New creates a console.
func New(executor Executor, in io.Reader, out io.Writer) *Console {
	return &Console{
		executor: executor,
		in:       in,
		out:      out,
	}
}

// Run loops until end of input, a quit command or ctx cancellation.
// Command errors are printed and do not stop the loop.
func (c *Console) Run(ctx context.Context) error {
	ctx = logger.WithName(ctx, "console")

	lines := make(chan string)
	readErr := make(chan error, 1)

	go func() {
		defer close(lines)

		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}

		readErr <- scanner.Err()
	}()

	for {
		c.print(Prompt)

		select {
		case <-ctx.Done():
			c.print("\n")
			return nil
		case line, ok := <-lines:
			if !ok {
				c.print("\n")

				select {
				case err := <-readErr:
					if err != nil {
						return fmt.Errorf("read console input: %w", err)
					}
				default:
				}

				return nil
			}

			if stop := c.handle(ctx, line); stop {
				return nil
			}
		}
	}
}

// handle executes one line and reports whether the loop should stop.
func (c *Console) handle(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)

	if line == "" {
		return false
	}

	if _, quit := quitCommands[strings.ToLower(line)]; quit {
		return true
	}

	result, err := c.executor.ExecuteLine(ctx, line)
	if err != nil {
		if errors.Is(err, processor.ErrFatal) {
			c.print("fatal: " + err.Error() + "\n")
			return true
		}

		c.print("error: " + err.Error() + "\n")

		return false
	}

	c.print(result.Status + "\n")

	return false
}

// print writes s, logging failures.
func (c *Console) print(s string) {
	if _, err := io.WriteString(c.out, s); err != nil {
		logger.Debugf(context.Background(), "Console write failed: %v", err)
	}
}
