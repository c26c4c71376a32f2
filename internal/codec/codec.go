package codec

import (
	"errors"
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"

	domain "github.com/oshokin/alarm-groups/internal/domain/alarm"
)

// Struct field names shared by the transport and the journal.
const (
	fieldKind          = "kind"
	fieldID            = "id"
	fieldGroupID       = "group_id"
	fieldInterval      = "interval_seconds"
	fieldMessage       = "message"
	fieldCategory      = "category"
	fieldHandle        = "handle"
	fieldTimestamp     = "timestamp"
	fieldCreatedAt     = "created_at"
	fieldNextAnnounce  = "next_announce_at"
	fieldAnnouncements = "announcements"
)

// ErrBadPayload is returned when a struct does not carry the expected fields.
var ErrBadPayload = errors.New("unexpected payload")

// AlarmToStruct converts an alarm to a struct.
func AlarmToStruct(a *domain.Alarm) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		fieldID:            a.ID,
		fieldGroupID:       a.GroupID,
		fieldInterval:      a.IntervalSeconds(),
		fieldMessage:       a.Message,
		fieldCategory:      a.Category,
		fieldCreatedAt:     formatTime(a.CreatedAt),
		fieldNextAnnounce:  formatTime(a.NextAnnounceAt),
		fieldAnnouncements: a.Announcements,
	})
}

// EventToStruct converts an event to a struct.
func EventToStruct(event domain.Event) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		fieldKind:      string(event.Kind),
		fieldID:        event.AlarmID,
		fieldGroupID:   event.GroupID,
		fieldInterval:  event.IntervalSeconds,
		fieldMessage:   event.Message,
		fieldHandle:    event.Handle,
		fieldTimestamp: formatTime(event.Timestamp),
	})
}

// AlarmFromStruct converts a struct produced by AlarmToStruct back to an alarm.
func AlarmFromStruct(s *structpb.Struct) (*domain.Alarm, error) {
	fields := s.GetFields()

	createdAt, err := parseTime(fields[fieldCreatedAt].GetStringValue())
	if err != nil {
		return nil, err
	}

	next, err := parseTime(fields[fieldNextAnnounce].GetStringValue())
	if err != nil {
		return nil, err
	}

	interval := time.Duration(fields[fieldInterval].GetNumberValue()) * time.Second

	return &domain.Alarm{
		ID:             int(fields[fieldID].GetNumberValue()),
		GroupID:        int(fields[fieldGroupID].GetNumberValue()),
		Interval:       interval,
		Message:        fields[fieldMessage].GetStringValue(),
		Category:       fields[fieldCategory].GetStringValue(),
		CreatedAt:      createdAt,
		FireAt:         createdAt.Add(interval),
		NextAnnounceAt: next,
		Announcements:  int(fields[fieldAnnouncements].GetNumberValue()),
	}, nil
}

// EventFromStruct converts a struct produced by EventToStruct back to an event.
func EventFromStruct(s *structpb.Struct) (domain.Event, error) {
	fields := s.GetFields()

	kind := fields[fieldKind].GetStringValue()
	if kind == "" {
		return domain.Event{}, fmt.Errorf("%w: event without kind", ErrBadPayload)
	}

	timestamp, err := parseTime(fields[fieldTimestamp].GetStringValue())
	if err != nil {
		return domain.Event{}, err
	}

	return domain.Event{
		Kind:            domain.EventKind(kind),
		AlarmID:         int(fields[fieldID].GetNumberValue()),
		GroupID:         int(fields[fieldGroupID].GetNumberValue()),
		IntervalSeconds: int(fields[fieldInterval].GetNumberValue()),
		Message:         fields[fieldMessage].GetStringValue(),
		Handle:          fields[fieldHandle].GetStringValue(),
		Timestamp:       timestamp,
	}, nil
}

// formatTime renders t in the protobuf Timestamp JSON form.
func formatTime(t time.Time) string {
	return timestamppb.New(t).AsTime().Format(time.RFC3339Nano)
}

// parseTime reads a time written by formatTime.
func parseTime(value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: timestamp %q: %w", ErrBadPayload, value, err)
	}

	return t, nil
}
