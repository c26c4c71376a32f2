package metrics

import (
	"errors"
	"strconv"

	domain "github.com/oshokin/alarm-groups/internal/domain/alarm"
)

// Exported result labels for callers.
const (
	ResultSuccess   = resultSuccess
	ResultNotFound  = resultNotFound
	ResultMalformed = resultMalformed
	ResultError     = resultError
)

// ResultOf maps a command error to its result label.
func ResultOf(err error) string {
	switch {
	case err == nil:
		return resultSuccess
	case errors.Is(err, domain.ErrNotFound):
		return resultNotFound
	case errors.Is(err, domain.ErrMalformedCommand):
		return resultMalformed
	default:
		return resultError
	}
}

// groupLabel renders a group id as a label value.
func groupLabel(groupID int) string {
	return strconv.Itoa(groupID)
}
