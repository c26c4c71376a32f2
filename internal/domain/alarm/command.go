package alarm

import (
	"fmt"
	"time"
)

// CommandKind identifies a request type.
type CommandKind int

const (
	// CommandUnknown is the zero value and never valid.
	CommandUnknown CommandKind = iota
	// CommandStart inserts a new alarm.
	CommandStart
	// CommandReplace changes the interval and message of an existing alarm.
	CommandReplace
	// CommandCancel removes an alarm.
	CommandCancel
	// CommandView lists alarms and workers without changing state.
	CommandView
)

// String returns the command name used in logs and metrics.
func (k CommandKind) String() string {
	switch k {
	case CommandStart:
		return "start"
	case CommandReplace:
		return "replace"
	case CommandCancel:
		return "cancel"
	case CommandView:
		return "view"
	default:
		return "unknown"
	}
}

// Command is a parsed request.
type Command struct {
	// Message is the alarm payload for Start and Replace.
	Message string
	// Category is an optional label for Start and Replace.
	Category string
	// Kind selects the operation.
	Kind CommandKind
	// ID is the target alarm id.
	ID int
	// Interval is the requested cadence for Start and Replace.
	Interval time.Duration
}

// Validate checks that the fields required by Kind are present and in range.
func (c *Command) Validate() error {
	switch c.Kind {
	case CommandStart, CommandReplace:
		if err := ValidateInterval(c.Interval); err != nil {
			return fmt.Errorf("%w: %w", ErrMalformedCommand, err)
		}

		if err := ValidateText(c.Message, c.Category); err != nil {
			return fmt.Errorf("%w: %w", ErrMalformedCommand, err)
		}

		return nil
	case CommandCancel, CommandView:
		return nil
	default:
		return fmt.Errorf("%w: unknown command kind %d", ErrMalformedCommand, c.Kind)
	}
}
