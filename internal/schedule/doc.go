// Package schedule fires device commands on wall-clock time.
//
// Each Schedule carries either an RRULE subset or a five-field cron
// expression, evaluated in the schedule's time zone:
//
//	FREQ=WEEKLY;BYDAY=MO,WE;BYHOUR=7;BYMINUTE=30
//	*/5 * * * *
//
// The Engine polls active schedules on a fixed interval and hands due,
// device-targeted ones to the command dispatcher with source "schedule".
// A schedule matches for one minute; it fires only when a tick lands in the
// first poll interval of that minute, and at most once per minute. Ticks
// missed while the process is busy or down are skipped, not caught up.
package schedule
