// Package orchestrator drives a call from its completion signal through the
// grace window and enrichment to ARCHIVED or FAILED.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/zulandar/switchyard/internal/call"
	"github.com/zulandar/switchyard/internal/enrich"
	"github.com/zulandar/switchyard/internal/events"
	"github.com/zulandar/switchyard/internal/logging"
	"github.com/zulandar/switchyard/internal/models"
	"github.com/zulandar/switchyard/internal/retry"
	"gorm.io/gorm"
)

// Defaults used when an Opts field is zero.
const (
	DefaultGracePeriod  = 3 * time.Second
	DefaultPollInterval = 250 * time.Millisecond
)

// FailureReason is the ai_failed reason when enrichment retries run out.
const FailureReason = "AI service failed after maximum retries"

// ErrValidation marks a malformed completion request.
var ErrValidation = errors.New("orchestrator: invalid completion")

// Opts configures an Orchestrator.
type Opts struct {
	DB        *gorm.DB
	Machine   *call.Machine
	Enricher  enrich.Client
	Publisher events.Publisher

	GracePeriod  time.Duration
	FastPath     bool // end the grace wait once every expected packet is in
	PollInterval time.Duration
	Retry        retry.Policy

	Logger *slog.Logger
	// BaseContext parents every background orchestration. Cancelling it is
	// the only way to stop one. Defaults to context.Background().
	BaseContext context.Context
}

// Orchestrator runs completion flows. Complete returns once the call is
// COMPLETED; the rest runs on a tracked goroutine.
type Orchestrator struct {
	db       *gorm.DB
	machine  *call.Machine
	enricher enrich.Client
	pub      events.Publisher
	grace    time.Duration
	fastPath bool
	poll     time.Duration
	policy   retry.Policy
	log      *slog.Logger
	base     context.Context

	wg     sync.WaitGroup
	mu     sync.Mutex
	active map[string]int
}

// New creates an Orchestrator.
func New(opts Opts) (*Orchestrator, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("orchestrator: db is required")
	}
	if opts.Machine == nil {
		return nil, fmt.Errorf("orchestrator: machine is required")
	}
	if opts.Enricher == nil {
		return nil, fmt.Errorf("orchestrator: enricher is required")
	}

	o := &Orchestrator{
		db:       opts.DB,
		machine:  opts.Machine,
		enricher: opts.Enricher,
		pub:      opts.Publisher,
		grace:    opts.GracePeriod,
		fastPath: opts.FastPath,
		poll:     opts.PollInterval,
		policy:   opts.Retry,
		log:      logging.OrDefault(opts.Logger),
		base:     opts.BaseContext,
		active:   make(map[string]int),
	}
	if o.pub == nil {
		o.pub = events.Nop{}
	}
	if o.grace <= 0 {
		o.grace = DefaultGracePeriod
	}
	if o.poll <= 0 {
		o.poll = DefaultPollInterval
	}
	if o.base == nil {
		o.base = context.Background()
	}
	return o, nil
}

// Complete accepts a completion signal. The call must exist and be
// IN_PROGRESS; it is moved to COMPLETED, the expected total is recorded and
// Finish is started in the background.
func (o *Orchestrator) Complete(ctx context.Context, callID string, totalPackets int) error {
	if totalPackets <= 0 {
		return fmt.Errorf("%w: total_packets must be > 0, got %d", ErrValidation, totalPackets)
	}
	if _, err := call.Get(ctx, o.db, callID); err != nil {
		return err
	}
	if _, err := o.machine.Transition(ctx, callID, models.StateCompleted); err != nil {
		return err
	}
	if err := call.SetExpectedTotal(ctx, o.db, callID, totalPackets); err != nil {
		return fmt.Errorf("orchestrator: complete %s: %w", callID, err)
	}

	o.log.Info("call completion received", "call_id", callID, "expected_total", totalPackets)
	o.launch(callID)
	return nil
}

func (o *Orchestrator) launch(callID string) {
	o.mu.Lock()
	o.active[callID]++
	o.mu.Unlock()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer o.release(callID)
		if err := o.Finish(o.base, callID); err != nil {
			o.log.Error("orchestration failed", "call_id", callID, "err", err)
		}
	}()
}

func (o *Orchestrator) release(callID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active[callID] <= 1 {
		delete(o.active, callID)
		return
	}
	o.active[callID]--
}

// Active reports whether an orchestration for callID is running in this
// process.
func (o *Orchestrator) Active(callID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active[callID] > 0
}

// Wait blocks until every background orchestration has returned.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Finish runs the post-completion flow for a COMPLETED call: grace wait,
// PROCESSING_AI, enrichment with retries, then ARCHIVED or FAILED.
// A cancelled ctx stops the flow and leaves the call where it is.
func (o *Orchestrator) Finish(ctx context.Context, callID string) error {
	if err := o.waitGrace(ctx, callID); err != nil {
		return fmt.Errorf("orchestrator: grace wait for %s: %w", callID, err)
	}

	c, err := call.Get(ctx, o.db, callID)
	if err != nil {
		return fmt.Errorf("orchestrator: reload %s: %w", callID, err)
	}
	if !complete(c) {
		o.log.Warn("processing incomplete call",
			"call_id", callID,
			"total_received", c.TotalPacketsReceived,
			"expected_total", expected(c),
			"missing", []int(c.MissingSequences))
	}

	if _, err := o.machine.Transition(ctx, callID, models.StateProcessingAI); err != nil {
		return fmt.Errorf("orchestrator: start processing %s: %w", callID, err)
	}

	packets, err := call.Packets(ctx, o.db, callID)
	if err != nil {
		return fmt.Errorf("orchestrator: load packets of %s: %w", callID, err)
	}
	text := joinPayloads(packets)

	policy := o.policy
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		o.log.Warn("enrichment attempt failed", "call_id", callID, "attempt", attempt, "delay", delay, "err", err)
	}
	res, ok := retry.Do(ctx, policy, func(ctx context.Context) (enrich.Result, error) {
		return o.enricher.Enrich(ctx, text)
	})
	if ctx.Err() != nil {
		return fmt.Errorf("orchestrator: enrich %s: %w", callID, ctx.Err())
	}

	if !ok {
		if _, err := o.machine.Transition(ctx, callID, models.StateFailed); err != nil {
			if o.finalizedElsewhere(callID, err) {
				return nil
			}
			return fmt.Errorf("orchestrator: fail %s: %w", callID, err)
		}
		o.log.Error("enrichment exhausted", "call_id", callID)
		o.pub.Publish(events.AIFailed(callID, FailureReason))
		return nil
	}

	if _, err := o.machine.TransitionWith(ctx, callID, models.StateArchived, map[string]any{
		"transcription": res.Transcription,
		"sentiment":     res.Sentiment,
	}); err != nil {
		if o.finalizedElsewhere(callID, err) {
			return nil
		}
		return fmt.Errorf("orchestrator: archive %s: %w", callID, err)
	}
	o.log.Info("call archived", "call_id", callID, "sentiment", res.Sentiment)
	o.pub.Publish(events.AICompleted(callID, res.Transcription, res.Sentiment))
	return nil
}

// finalizedElsewhere reports whether err means another worker, typically
// the reaper, already moved the call out of PROCESSING_AI. The result is
// dropped and no event is published.
func (o *Orchestrator) finalizedElsewhere(callID string, err error) bool {
	if !errors.Is(err, call.ErrInvalidTransition) {
		return false
	}
	o.log.Warn("call finalized by another worker, dropping enrichment result", "call_id", callID, "err", err)
	return true
}

// waitGrace sleeps for the grace period. With fast path on, it polls the
// call and returns early once nothing is outstanding.
func (o *Orchestrator) waitGrace(ctx context.Context, callID string) error {
	timer := time.NewTimer(o.grace)
	defer timer.Stop()

	var tick <-chan time.Time
	if o.fastPath {
		ticker := time.NewTicker(o.poll)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		case <-tick:
			c, err := call.Get(ctx, o.db, callID)
			if err != nil {
				o.log.Debug("fast path poll failed", "call_id", callID, "err", err)
				continue
			}
			if complete(c) {
				o.log.Debug("grace period ended early", "call_id", callID)
				return nil
			}
		}
	}
}

// complete reports whether every expected packet has arrived.
func complete(c *models.Call) bool {
	return c.ExpectedTotalPackets != nil &&
		len(c.MissingSequences) == 0 &&
		c.TotalPacketsReceived >= *c.ExpectedTotalPackets
}

func expected(c *models.Call) any {
	if c.ExpectedTotalPackets == nil {
		return nil
	}
	return *c.ExpectedTotalPackets
}

func joinPayloads(packets []models.Packet) string {
	parts := make([]string, len(packets))
	for i, p := range packets {
		parts[i] = p.Data
	}
	return strings.Join(parts, " ")
}
