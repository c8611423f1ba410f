package schedule

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/nerrad567/devicelink-core/internal/command"
)

// DefaultPollInterval is how often active schedules are evaluated.
const DefaultPollInterval = 15 * time.Second

// Dispatcher is the part of the command dispatcher the engine uses.
type Dispatcher interface {
	Dispatch(ctx context.Context, req command.Request) (*command.Result, error)
}

// Observer is told about fires and tick durations.
type Observer interface {
	ScheduleFired(s *Schedule, res *command.Result)
	TickCompleted(d time.Duration, stats TickStats)
}

// TickStats summarises one evaluation pass.
type TickStats struct {
	Evaluated int
	Fired     int
	Failed    int
}

// Engine evaluates schedules on a fixed interval and dispatches due ones.
type Engine struct {
	repo       Repository
	dispatcher Dispatcher
	interval   time.Duration
	defaultLoc *time.Location
	logger     Logger
	observer   Observer
	now        func() time.Time

	mu        sync.Mutex
	lastFired map[int64]time.Time
	locations map[string]*time.Location

	cron   *cron.Cron
	cancel context.CancelFunc
}

// Option configures an Engine.
type Option func(*Engine)

// WithPollInterval sets the tick interval. It also bounds how far into a
// minute a tick may land and still fire that minute's schedules.
func WithPollInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.interval = d
		}
	}
}

// WithDefaultLocation sets the zone for schedules without one.
func WithDefaultLocation(loc *time.Location) Option {
	return func(e *Engine) {
		if loc != nil {
			e.defaultLoc = loc
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(l Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithObserver sets the fire/tick observer.
func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observer = o }
}

// WithClock overrides time.Now. Used in tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an Engine. Call Start to begin polling.
func NewEngine(repo Repository, dispatcher Dispatcher, opts ...Option) *Engine {
	e := &Engine{
		repo:       repo,
		dispatcher: dispatcher,
		interval:   DefaultPollInterval,
		defaultLoc: time.UTC,
		logger:     noopLogger{},
		now:        time.Now,
		lastFired:  make(map[int64]time.Time),
		locations:  make(map[string]*time.Location),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start schedules Tick every poll interval. Ticks never overlap: a tick
// still running when the next is due causes that one to be skipped.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cron != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	cl := cronLogger{e.logger}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	spec := fmt.Sprintf("@every %s", e.interval)
	if _, err := c.AddFunc(spec, func() {
		if _, err := e.Tick(ctx); err != nil && ctx.Err() == nil {
			e.logger.Error("schedule tick failed", "error", err)
		}
	}); err != nil {
		cancel()
		return fmt.Errorf("registering schedule tick %q: %w", spec, err)
	}

	c.Start()
	e.cron = c
	e.cancel = cancel
	e.logger.Info("schedule engine started", "poll_interval", e.interval.String(), "default_timezone", e.defaultLoc.String())
	return nil
}

// Stop halts polling and waits for a running tick to finish.
func (e *Engine) Stop() {
	e.mu.Lock()
	c, cancel := e.cron, e.cancel
	e.cron, e.cancel = nil, nil
	e.mu.Unlock()

	if c == nil {
		return
	}
	cancel()
	<-c.Stop().Done()
	e.logger.Info("schedule engine stopped")
}

// Tick evaluates every active schedule once against the current time. A
// failing schedule is logged and skipped; it does not abort the tick.
func (e *Engine) Tick(ctx context.Context) (TickStats, error) {
	var stats TickStats
	started := e.now()
	defer func() {
		if e.observer != nil {
			e.observer.TickCompleted(e.now().Sub(started), stats)
		}
	}()

	schedules, err := e.repo.ListActive(ctx)
	if err != nil {
		return stats, fmt.Errorf("loading schedules: %w", err)
	}

	minute := started.Truncate(time.Minute)
	for i := range schedules {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		s := &schedules[i]
		stats.Evaluated++

		if !e.due(s, started) || !e.claim(s.ID, minute) {
			continue
		}
		if err := e.fire(ctx, s); err != nil {
			stats.Failed++
			e.logger.Error("schedule fire failed", "schedule_id", s.ID, "error", err)
			continue
		}
		stats.Fired++
	}

	e.forgetBefore(minute)
	return stats, nil
}

// due reports whether s should fire at now.
func (e *Engine) due(s *Schedule, now time.Time) bool {
	if s.DevicePK == nil {
		// Scene targets are resolved elsewhere.
		return false
	}
	rule, err := s.Recurrence()
	if err != nil {
		e.logger.Warn("skipping schedule with bad recurrence", "schedule_id", s.ID, "error", err)
		return false
	}
	return IsDue(rule, now, e.location(s), e.interval)
}

// claim records that schedule id fires in minute, returning false if it
// already has.
func (e *Engine) claim(id int64, minute time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if last, ok := e.lastFired[id]; ok && !last.Before(minute) {
		return false
	}
	e.lastFired[id] = minute
	return true
}

func (e *Engine) forgetBefore(minute time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, last := range e.lastFired {
		if last.Before(minute) {
			delete(e.lastFired, id)
		}
	}
}

func (e *Engine) fire(ctx context.Context, s *Schedule) error {
	var action map[string]any
	if err := json.Unmarshal(s.Action, &action); err != nil || action == nil {
		return errors.New("action is not a JSON object")
	}

	res, err := e.dispatcher.Dispatch(ctx, command.Request{
		DevicePK: *s.DevicePK,
		Payload:  s.Action,
		Source:   command.SourceSchedule,
	})
	if err != nil {
		return err
	}

	e.logger.Info("schedule fired", "schedule_id", s.ID, "device_pk", *s.DevicePK, "cmd_id", res.CommandID, "live", res.Live)
	if e.observer != nil {
		e.observer.ScheduleFired(s, res)
	}
	return nil
}

// location resolves the schedule zone, falling back to the default for an
// empty or unknown name.
func (e *Engine) location(s *Schedule) *time.Location {
	if s.Timezone == "" {
		return e.defaultLoc
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if loc, ok := e.locations[s.Timezone]; ok {
		return loc
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		e.logger.Warn("unknown schedule timezone, using default", "schedule_id", s.ID, "timezone", s.Timezone)
		loc = e.defaultLoc
	}
	e.locations[s.Timezone] = loc
	return loc
}

// cronLogger adapts Logger to cron.Logger.
type cronLogger struct{ l Logger }

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
