package schedule

import (
	"encoding/json"
	"time"
)

// Schedule is a time-based trigger. Exactly one of DevicePK and SceneID is
// set, and at least one of RRule and Cron.
type Schedule struct {
	ID        int64           `json:"id"`
	HomeID    int64           `json:"home_id"`
	DevicePK  *int64          `json:"device_pk,omitempty"`
	SceneID   *int64          `json:"scene_id,omitempty"`
	Action    json.RawMessage `json:"action"`
	RRule     string          `json:"rrule,omitempty"`
	Cron      string          `json:"cron,omitempty"`
	Timezone  string          `json:"timezone,omitempty"`
	IsActive  bool            `json:"is_active"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Recurrence parses the schedule's rule. Cron takes precedence when both
// are set.
func (s *Schedule) Recurrence() (Recurrence, error) {
	switch {
	case s.Cron != "":
		return ParseCron(s.Cron)
	case s.RRule != "":
		return ParseRRule(s.RRule)
	default:
		return nil, ErrNoRecurrence
	}
}

// Logger is the logging interface used by the engine.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
