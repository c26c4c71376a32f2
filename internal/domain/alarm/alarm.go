package alarm

import (
	"errors"
	"fmt"
	"time"
)

const (
	// GroupWidth is the span of intervals that share one group worker.
	GroupWidth = 5 * time.Second

	// MaxTextLength is the maximum size in bytes of a message or category.
	MaxTextLength = 127
)

var (
	// ErrNotFound is returned when no alarm matches the requested id.
	ErrNotFound = errors.New("alarm not found")
	// ErrMalformedCommand is returned for input that cannot be turned into a command.
	ErrMalformedCommand = errors.New("malformed command")
	// ErrInvalidInterval is returned for non-positive or fractional intervals.
	ErrInvalidInterval = errors.New("interval must be a positive number of seconds")
	// ErrTextTooLong is returned when a message or category exceeds MaxTextLength.
	ErrTextTooLong = errors.New("text exceeds maximum length")
)

// Alarm is a repeating announcement request.
type Alarm struct {
	// CreatedAt is when the alarm was inserted.
	CreatedAt time.Time
	// FireAt is the first due time: CreatedAt (or the last replace time) plus Interval.
	FireAt time.Time
	// NextAnnounceAt is when the alarm is due next.
	NextAnnounceAt time.Time
	// Message is the announced payload.
	Message string
	// Category is an optional label carried with the alarm.
	Category string
	// ID is the caller-supplied identifier. It is not required to be unique.
	ID int
	// Interval is the repeat cadence in whole seconds.
	Interval time.Duration
	// GroupID is GroupOf(Interval), kept in sync on every interval change.
	GroupID int
	// Announcements counts how many times the alarm was announced since the last reset.
	Announcements int
}

// New builds an alarm created at now with derived group and due times.
func New(id int, interval time.Duration, message, category string, now time.Time) (*Alarm, error) {
	if err := ValidateInterval(interval); err != nil {
		return nil, err
	}

	if err := ValidateText(message, category); err != nil {
		return nil, err
	}

	a := &Alarm{
		ID:        id,
		CreatedAt: now,
		Message:   message,
		Category:  category,
	}
	a.Reschedule(interval, now)

	return a, nil
}

// Reschedule sets a new interval and recomputes the group and due times from now.
func (a *Alarm) Reschedule(interval time.Duration, now time.Time) {
	a.Interval = interval
	a.GroupID = GroupOf(interval)
	a.FireAt = now.Add(interval)
	a.NextAnnounceAt = a.FireAt
	a.Announcements = 0
}

// IsDue reports whether the alarm must be announced at now.
func (a *Alarm) IsDue(now time.Time) bool {
	return !now.Before(a.NextAnnounceAt)
}

// MarkAnnounced advances NextAnnounceAt by one interval from now.
func (a *Alarm) MarkAnnounced(now time.Time) {
	next := now.Add(a.Interval)
	if next.Before(a.NextAnnounceAt) {
		next = a.NextAnnounceAt
	}

	a.NextAnnounceAt = next
	a.Announcements++
}

// IntervalSeconds returns the interval as whole seconds.
func (a *Alarm) IntervalSeconds() int {
	return int(a.Interval / time.Second)
}

// Clone returns a copy of the alarm to avoid leaking internal references.
func (a *Alarm) Clone() *Alarm {
	if a == nil {
		return nil
	}

	cloned := *a

	return &cloned
}

// String renders the alarm for listings.
func (a *Alarm) String() string {
	return fmt.Sprintf("Alarm(%d): group %d, every %ds, next at %s: %s",
		a.ID, a.GroupID, a.IntervalSeconds(), a.NextAnnounceAt.Format(time.RFC3339), a.Message)
}

// GroupOf maps an interval to its group: ceil(seconds / 5).
// The ceiling is taken on whole seconds so the largest durations cannot overflow.
func GroupOf(interval time.Duration) int {
	width := int64(GroupWidth / time.Second)

	seconds := int64(interval / time.Second)
	if interval%time.Second != 0 {
		seconds++
	}

	return int((seconds + width - 1) / width)
}

// ValidateInterval checks that interval is a positive whole number of seconds.
func ValidateInterval(interval time.Duration) error {
	if interval < time.Second || interval%time.Second != 0 {
		return fmt.Errorf("%w: %s", ErrInvalidInterval, interval)
	}

	return nil
}

// ValidateText checks every value against MaxTextLength.
func ValidateText(values ...string) error {
	for _, v := range values {
		if len(v) > MaxTextLength {
			return fmt.Errorf("%w: %d bytes", ErrTextTooLong, len(v))
		}
	}

	return nil
}
