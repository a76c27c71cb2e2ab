// Package reaper fails calls whose orchestration was abandoned, for example
// by a process restart between the completion signal and archival.
//
// Opts.Active covers only this process. Another instance still enriching a
// call that gets reaped drops its result when its final transition is
// rejected; the call stays FAILED.
package reaper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/zulandar/switchyard/internal/call"
	"github.com/zulandar/switchyard/internal/events"
	"github.com/zulandar/switchyard/internal/logging"
	"github.com/zulandar/switchyard/internal/models"
	"gorm.io/gorm"
)

// Reason is attached to the ai_failed event for reaped calls.
const Reason = "orchestration abandoned"

// DefaultStaleAfter is how long a call may sit in COMPLETED or PROCESSING_AI
// before it is considered abandoned.
const DefaultStaleAfter = 15 * time.Minute

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Opts configures a Reaper.
type Opts struct {
	DB         *gorm.DB
	Machine    *call.Machine
	Publisher  events.Publisher
	Active     func(callID string) bool // reports in-process orchestrations; may be nil
	StaleAfter time.Duration
	Schedule   string // 5-field cron; required by Start only
	Logger     *slog.Logger
	Now        func() time.Time
}

// Reaper periodically sweeps stuck calls into FAILED.
type Reaper struct {
	db         *gorm.DB
	machine    *call.Machine
	pub        events.Publisher
	active     func(string) bool
	staleAfter time.Duration
	schedule   cron.Schedule
	log        *slog.Logger
	now        func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Reaper.
func New(opts Opts) (*Reaper, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("reaper: db is required")
	}
	if opts.Machine == nil {
		return nil, fmt.Errorf("reaper: machine is required")
	}
	r := &Reaper{
		db:         opts.DB,
		machine:    opts.Machine,
		pub:        opts.Publisher,
		active:     opts.Active,
		staleAfter: opts.StaleAfter,
		log:        logging.OrDefault(opts.Logger),
		now:        opts.Now,
	}
	if r.pub == nil {
		r.pub = events.Nop{}
	}
	if r.active == nil {
		r.active = func(string) bool { return false }
	}
	if r.staleAfter <= 0 {
		r.staleAfter = DefaultStaleAfter
	}
	if r.now == nil {
		r.now = time.Now
	}
	if opts.Schedule != "" {
		sched, err := cronParser.Parse(opts.Schedule)
		if err != nil {
			return nil, fmt.Errorf("reaper: parse schedule %q: %w", opts.Schedule, err)
		}
		r.schedule = sched
	}
	return r, nil
}

// Start runs Sweep on the configured schedule until ctx is cancelled or
// Stop is called.
func (r *Reaper) Start(ctx context.Context) error {
	if r.schedule == nil {
		return fmt.Errorf("reaper: schedule is required")
	}
	if r.done != nil {
		return fmt.Errorf("reaper: already started")
	}
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})
	go r.loop(ctx)
	r.log.Info("reaper started", "stale_after", r.staleAfter)
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (r *Reaper) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	<-r.done
}

func (r *Reaper) loop(ctx context.Context) {
	defer close(r.done)
	for {
		wait := time.Until(r.schedule.Next(time.Now()))
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		if n, err := r.Sweep(ctx); err != nil {
			r.log.Error("reaper sweep failed", "err", err)
		} else if n > 0 {
			r.log.Info("reaper sweep", "failed", n)
		}
	}
}

// Sweep fails every stale COMPLETED or PROCESSING_AI call not owned by a
// running orchestration and returns how many it moved to FAILED. A call that
// another worker advances concurrently is skipped.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	cutoff := r.now().Add(-r.staleAfter)
	stale, err := call.Stale(ctx, r.db, []models.CallState{models.StateCompleted, models.StateProcessingAI}, cutoff)
	if err != nil {
		return 0, fmt.Errorf("reaper: %w", err)
	}

	failed := 0
	for _, c := range stale {
		if err := ctx.Err(); err != nil {
			return failed, err
		}
		if r.active(c.CallID) {
			continue
		}
		ok, err := r.fail(ctx, c)
		if err != nil {
			return failed, err
		}
		if ok {
			failed++
		}
	}
	return failed, nil
}

func (r *Reaper) fail(ctx context.Context, c models.Call) (bool, error) {
	if c.State == models.StateCompleted {
		if _, err := r.machine.Transition(ctx, c.CallID, models.StateProcessingAI); err != nil {
			return skip(err)
		}
	}
	if _, err := r.machine.Transition(ctx, c.CallID, models.StateFailed); err != nil {
		return skip(err)
	}
	r.log.Warn("reaped abandoned call", "call_id", c.CallID, "from", c.State)
	r.pub.Publish(events.AIFailed(c.CallID, Reason))
	return true, nil
}

// skip swallows lost races; anything else aborts the sweep.
func skip(err error) (bool, error) {
	if errors.Is(err, call.ErrInvalidTransition) || errors.Is(err, call.ErrNotFound) {
		return false, nil
	}
	return false, fmt.Errorf("reaper: %w", err)
}
