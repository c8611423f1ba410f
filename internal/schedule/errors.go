package schedule

import "errors"

var (
	// ErrInvalidRule is returned when a recurrence string cannot be parsed.
	ErrInvalidRule = errors.New("schedule: invalid recurrence")

	// ErrNoRecurrence is returned for a schedule with neither rrule nor cron.
	ErrNoRecurrence = errors.New("schedule: no recurrence")

	// ErrScheduleNotFound is returned when a schedule ID does not exist.
	ErrScheduleNotFound = errors.New("schedule: not found")
)
