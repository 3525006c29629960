// Package chat delivers relay events to chat platforms: rate-limited,
// best-effort, never propagating failures back into the capture engine.
package chat

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/time/rate"

	"github.com/termrelay/termrelay/internal/logging"
	"github.com/termrelay/termrelay/internal/relay"
)

var chatLog = logging.ForComponent(logging.CompChat)

// Sink sends one message to one channel of a chat platform.
type Sink interface {
	Name() string
	Send(ctx context.Context, channel, text string) error
}

// ChannelNamer maps an event to its chat channel.
type ChannelNamer func(ev relay.Event) string

// Dispatcher consumes the merged event stream and fans chunks out to the
// configured sinks, throttled per channel so a chatty agent cannot trip
// platform rate limits.
type Dispatcher struct {
	sinks       []Sink
	channelFor  ChannelNamer
	perSec      rate.Limit
	burst       int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewDispatcher creates a Dispatcher sending at most perSec messages per
// channel with the given burst.
func NewDispatcher(sinks []Sink, channelFor ChannelNamer, perSec float64, burst int) *Dispatcher {
	if perSec <= 0 {
		perSec = 1
	}
	if burst <= 0 {
		burst = 5
	}
	return &Dispatcher{
		sinks:      sinks,
		channelFor: channelFor,
		perSec:     rate.Limit(perSec),
		burst:      burst,
		limiters:   make(map[string]*rate.Limiter),
	}
}

// Run consumes events until the stream closes or ctx is cancelled. Each
// window's chunks stay in order because the stream itself is ordered and
// dispatch is sequential per event.
func (d *Dispatcher) Run(ctx context.Context, events <-chan relay.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			d.Dispatch(ctx, ev)
		}
	}
}

// Dispatch sends one event's chunks to every sink. Delivery errors are
// logged and dropped; they never travel back to the agent side.
func (d *Dispatcher) Dispatch(ctx context.Context, ev relay.Event) {
	channel := d.channelFor(ev)
	if channel == "" {
		return
	}
	limiter := d.limiter(channel)

	for _, chunk := range ev.Chunks {
		if chunk == "" {
			continue
		}
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		for _, sink := range d.sinks {
			if err := sink.Send(ctx, channel, chunk); err != nil {
				chatLog.Warn("send_failed",
					slog.String("sink", sink.Name()),
					slog.String("channel", channel),
					slog.String("error", err.Error()))
			}
		}
	}
}

func (d *Dispatcher) limiter(channel string) *rate.Limiter {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.limiters[channel]
	if !ok {
		l = rate.NewLimiter(d.perSec, d.burst)
		d.limiters[channel] = l
	}
	return l
}
