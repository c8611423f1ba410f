package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Recurrence decides whether a local wall-clock minute matches a rule.
type Recurrence interface {
	Matches(local time.Time) bool
}

// IsDue reports whether rule matches now in loc and now falls within the
// first window of that minute.
func IsDue(rule Recurrence, now time.Time, loc *time.Location, window time.Duration) bool {
	if rule == nil {
		return false
	}
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	intoMinute := time.Duration(local.Second())*time.Second + time.Duration(local.Nanosecond())
	if intoMinute >= window {
		return false
	}
	return rule.Matches(local)
}

// RRule is the supported RRULE subset.
type RRule struct {
	Freq   string // DAILY or WEEKLY
	Hour   int
	Minute int
	Days   []time.Weekday // WEEKLY only; empty means every day
}

var weekdayCodes = map[string]time.Weekday{
	"SU": time.Sunday,
	"MO": time.Monday,
	"TU": time.Tuesday,
	"WE": time.Wednesday,
	"TH": time.Thursday,
	"FR": time.Friday,
	"SA": time.Saturday,
}

// ParseRRule parses "FREQ=DAILY|WEEKLY;BYHOUR=h;BYMINUTE=m[;BYDAY=MO,TU]".
// BYHOUR and BYMINUTE are required. Unknown parts are ignored.
func ParseRRule(s string) (*RRule, error) {
	parts := make(map[string]string)
	for _, kv := range strings.Split(strings.TrimPrefix(strings.TrimSpace(s), "RRULE:"), ";") {
		if kv == "" {
			continue
		}
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, fmt.Errorf("%w: rrule part %q", ErrInvalidRule, kv)
		}
		parts[strings.ToUpper(strings.TrimSpace(k))] = strings.TrimSpace(v)
	}

	r := &RRule{Freq: strings.ToUpper(parts["FREQ"])}
	if r.Freq != "DAILY" && r.Freq != "WEEKLY" {
		return nil, fmt.Errorf("%w: unsupported FREQ %q", ErrInvalidRule, parts["FREQ"])
	}

	var err error
	if r.Hour, err = ruleNumber(parts, "BYHOUR", 0, 23); err != nil {
		return nil, err
	}
	if r.Minute, err = ruleNumber(parts, "BYMINUTE", 0, 59); err != nil {
		return nil, err
	}

	if byDay := parts["BYDAY"]; byDay != "" {
		for _, code := range strings.Split(byDay, ",") {
			d, ok := weekdayCodes[strings.ToUpper(strings.TrimSpace(code))]
			if !ok {
				return nil, fmt.Errorf("%w: BYDAY code %q", ErrInvalidRule, code)
			}
			r.Days = append(r.Days, d)
		}
	}
	return r, nil
}

func ruleNumber(parts map[string]string, key string, lo, hi int) (int, error) {
	v, ok := parts[key]
	if !ok || v == "" {
		return 0, fmt.Errorf("%w: %s is required", ErrInvalidRule, key)
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < lo || n > hi {
		return 0, fmt.Errorf("%w: %s=%q", ErrInvalidRule, key, v)
	}
	return n, nil
}

// Matches implements Recurrence. BYDAY only restricts WEEKLY rules.
func (r *RRule) Matches(local time.Time) bool {
	if local.Hour() != r.Hour || local.Minute() != r.Minute {
		return false
	}
	if r.Freq != "WEEKLY" || len(r.Days) == 0 {
		return true
	}
	for _, d := range r.Days {
		if local.Weekday() == d {
			return true
		}
	}
	return false
}

// CronExpr is a five-field cron expression:
// minute hour day-of-month month day-of-week (0 = Sunday).
// All fields must match; day-of-month and day-of-week are ANDed.
type CronExpr struct {
	fields [5]cronField
}

type cronField struct {
	any   bool
	step  int
	items []cronRange
}

type cronRange struct{ lo, hi int }

var cronBounds = [5]struct {
	name   string
	lo, hi int
}{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"day-of-month", 1, 31},
	{"month", 1, 12},
	{"day-of-week", 0, 6},
}

// ParseCron parses a cron expression supporting *, */step, lists and ranges.
func ParseCron(s string) (*CronExpr, error) {
	tokens := strings.Fields(s)
	if len(tokens) != 5 {
		return nil, fmt.Errorf("%w: cron needs 5 fields, got %d", ErrInvalidRule, len(tokens))
	}

	c := &CronExpr{}
	for i, tok := range tokens {
		f, err := parseCronField(tok, cronBounds[i].lo, cronBounds[i].hi)
		if err != nil {
			return nil, fmt.Errorf("%w: %s field %q", ErrInvalidRule, cronBounds[i].name, tok)
		}
		c.fields[i] = f
	}
	return c, nil
}

func parseCronField(tok string, lo, hi int) (cronField, error) {
	if tok == "*" {
		return cronField{any: true}, nil
	}
	if rest, ok := strings.CutPrefix(tok, "*/"); ok {
		step, err := strconv.Atoi(rest)
		if err != nil || step <= 0 {
			return cronField{}, ErrInvalidRule
		}
		return cronField{step: step}, nil
	}

	var f cronField
	for _, item := range strings.Split(tok, ",") {
		a, b, isRange := strings.Cut(item, "-")
		from, err := strconv.Atoi(a)
		if err != nil {
			return cronField{}, ErrInvalidRule
		}
		to := from
		if isRange {
			if to, err = strconv.Atoi(b); err != nil {
				return cronField{}, ErrInvalidRule
			}
		}
		if from < lo || to > hi || from > to {
			return cronField{}, ErrInvalidRule
		}
		f.items = append(f.items, cronRange{from, to})
	}
	return f, nil
}

func (f cronField) matches(v int) bool {
	switch {
	case f.any:
		return true
	case f.step > 0:
		return v%f.step == 0
	}
	for _, r := range f.items {
		if v >= r.lo && v <= r.hi {
			return true
		}
	}
	return false
}

// Matches implements Recurrence.
func (c *CronExpr) Matches(local time.Time) bool {
	values := [5]int{
		local.Minute(),
		local.Hour(),
		local.Day(),
		int(local.Month()),
		int(local.Weekday()),
	}
	for i, v := range values {
		if !c.fields[i].matches(v) {
			return false
		}
	}
	return true
}
