// Package notify forwards selected lifecycle events to chat platforms.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/zulandar/switchyard/internal/config"
	"github.com/zulandar/switchyard/internal/events"
	"github.com/zulandar/switchyard/internal/logging"
)

// Sink delivers a message to one platform.
type Sink interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

// ForwarderOpts configures a Forwarder.
type ForwarderOpts struct {
	Hub         *events.Hub
	Sinks       []Sink
	Events      []string // event types to forward; empty means ai_failed only
	Buffer      int
	SendTimeout time.Duration
	Logger      *slog.Logger
}

// Forwarder subscribes to the hub and posts matching events to every sink.
// Delivery is best effort: failures are logged and dropped.
type Forwarder struct {
	hub     *events.Hub
	sinks   []Sink
	types   map[string]bool
	buffer  int
	timeout time.Duration
	log     *slog.Logger
}

// NewForwarder creates a Forwarder.
func NewForwarder(opts ForwarderOpts) (*Forwarder, error) {
	if opts.Hub == nil {
		return nil, fmt.Errorf("notify: hub is required")
	}
	if len(opts.Sinks) == 0 {
		return nil, fmt.Errorf("notify: at least one sink is required")
	}
	types := make(map[string]bool)
	for _, t := range opts.Events {
		types[t] = true
	}
	if len(types) == 0 {
		types[events.TypeAIFailed] = true
	}
	timeout := opts.SendTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Forwarder{
		hub:     opts.Hub,
		sinks:   opts.Sinks,
		types:   types,
		buffer:  opts.Buffer,
		timeout: timeout,
		log:     logging.OrDefault(opts.Logger),
	}, nil
}

// Run forwards events until ctx is cancelled or the hub closes.
func (f *Forwarder) Run(ctx context.Context) {
	sub := f.hub.Subscribe(f.buffer)
	defer f.hub.Unsubscribe(sub.ID)

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-sub.C:
			if !ok {
				return
			}
			if !f.types[evt.Type] {
				continue
			}
			f.deliver(ctx, evt)
		}
	}
}

func (f *Forwarder) deliver(ctx context.Context, evt events.Event) {
	msg := Format(evt)
	for _, s := range f.sinks {
		sctx, cancel := context.WithTimeout(ctx, f.timeout)
		err := s.Send(sctx, msg)
		cancel()
		if err != nil {
			f.log.Warn("notification failed", "sink", s.Name(), "event", evt.Type, "call_id", evt.CallID, "err", err)
			continue
		}
		f.log.Debug("notification sent", "sink", s.Name(), "event", evt.Type, "call_id", evt.CallID)
	}
}

// SinksFromConfig builds a sink for every enabled platform.
func SinksFromConfig(cfg config.NotifyConfig) ([]Sink, error) {
	var sinks []Sink
	if cfg.Slack.Enabled() {
		sinks = append(sinks, NewSlack(cfg.Slack))
	}
	if cfg.Discord.Enabled() {
		d, err := NewDiscord(cfg.Discord)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, d)
	}
	return sinks, nil
}
