package processor

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	domain "github.com/oshokin/alarm-groups/internal/domain/alarm"
)

// MaxLineLength is the longest accepted command line in bytes, without the line ending.
const MaxLineLength = domain.MaxTextLength

var (
	//nolint:gochecknoglobals // Compiled once, read-only.
	setPattern = regexp.MustCompile(`^(Start|Replace)_Alarm\((-?\d+)\):\s+(\d+)\s+(?:\[([^\]]*)\]\s+)?(\S.*)$`)
	//nolint:gochecknoglobals // Compiled once, read-only.
	cancelPattern = regexp.MustCompile(`^Cancel_Alarm\((-?\d+)\)$`)
	//nolint:gochecknoglobals // Compiled once, read-only.
	viewPattern = regexp.MustCompile(`^View_Alarms$`)
)

// Parse turns one input line into a command.
// Every failure wraps domain.ErrMalformedCommand.
func Parse(line string) (domain.Command, error) {
	line = strings.TrimRight(line, "\r\n")
	if len(line) > MaxLineLength {
		return domain.Command{}, fmt.Errorf("%w: line is %d bytes, limit is %d",
			domain.ErrMalformedCommand, len(line), MaxLineLength)
	}

	line = strings.TrimSpace(line)

	switch {
	case setPattern.MatchString(line):
		return parseSet(setPattern.FindStringSubmatch(line))
	case cancelPattern.MatchString(line):
		id, err := parseID(cancelPattern.FindStringSubmatch(line)[1])
		if err != nil {
			return domain.Command{}, err
		}

		return domain.Command{Kind: domain.CommandCancel, ID: id}, nil
	case viewPattern.MatchString(line):
		return domain.Command{Kind: domain.CommandView}, nil
	default:
		return domain.Command{}, fmt.Errorf("%w: %q", domain.ErrMalformedCommand, line)
	}
}

// parseSet builds a Start or Replace command from setPattern submatches.
func parseSet(match []string) (domain.Command, error) {
	kind := domain.CommandStart
	if match[1] == "Replace" {
		kind = domain.CommandReplace
	}

	id, err := parseID(match[2])
	if err != nil {
		return domain.Command{}, err
	}

	seconds, err := strconv.Atoi(match[3])
	if err != nil {
		return domain.Command{}, fmt.Errorf("%w: interval %q: %w", domain.ErrMalformedCommand, match[3], err)
	}

	if time.Duration(seconds) > math.MaxInt64/time.Second {
		return domain.Command{}, fmt.Errorf("%w: interval %d is out of range", domain.ErrMalformedCommand, seconds)
	}

	cmd := domain.Command{
		Kind:     kind,
		ID:       id,
		Interval: time.Duration(seconds) * time.Second,
		Category: strings.TrimSpace(match[4]),
		Message:  strings.TrimSpace(match[5]),
	}

	if err = cmd.Validate(); err != nil {
		return domain.Command{}, err
	}

	return cmd, nil
}

// parseID converts an alarm id.
func parseID(raw string) (int, error) {
	id, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: id %q: %w", domain.ErrMalformedCommand, raw, err)
	}

	return id, nil
}

// Format renders a command in the line syntax accepted by Parse.
func Format(cmd domain.Command) string {
	switch cmd.Kind {
	case domain.CommandStart, domain.CommandReplace:
		name := "Start"
		if cmd.Kind == domain.CommandReplace {
			name = "Replace"
		}

		category := ""
		if cmd.Category != "" {
			category = "[" + cmd.Category + "] "
		}

		return fmt.Sprintf("%s_Alarm(%d): %d %s%s", name, cmd.ID, int(cmd.Interval/time.Second), category, cmd.Message)
	case domain.CommandCancel:
		return fmt.Sprintf("Cancel_Alarm(%d)", cmd.ID)
	case domain.CommandView:
		return "View_Alarms"
	default:
		return ""
	}
}
