// Package sync subscribes to the post change feed and replays remote events
// into the local store. One goroutine drains the event channel, so events
// apply strictly in arrival order and never interleave with each other.
package sync

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/carsgate/portal-engine/engine/remote"
	"github.com/carsgate/portal-engine/pkg/metrics"
	"github.com/carsgate/portal-engine/pkg/natsutil"
	"github.com/nats-io/nats.go"
)

// Applier is the store-side surface the subscriber feeds.
type Applier interface {
	ApplyEvent(ev remote.Event) bool
}

// eventBuffer absorbs bursts from the feed while the apply loop is busy.
const eventBuffer = 256

// Subscriber bridges the change feed to the store. Malformed events are
// logged and skipped; the subscription itself stays alive.
type Subscriber struct {
	store  Applier
	log    *slog.Logger
	events chan remote.Event
	online atomic.Bool

	sub *nats.Subscription

	applied *metrics.Counter
	dropped *metrics.Counter
	gauge   *metrics.Gauge
}

// New creates a subscriber feeding events into store.
func New(store Applier, log *slog.Logger, reg *metrics.Registry) *Subscriber {
	s := &Subscriber{
		store:  store,
		log:    log,
		events: make(chan remote.Event, eventBuffer),
	}
	if reg != nil {
		s.applied = reg.Counter("portal_sync_events_received_total", "Change-feed events received")
		s.dropped = reg.Counter("portal_sync_events_dropped_total", "Change-feed events dropped or undecodable")
		s.gauge = reg.Gauge("portal_sync_online", "1 when the change-feed connection is up")
	}
	return s
}

// SetOnline records connection state. Wired to the NATS connection handlers
// so status changes arrive without polling.
func (s *Subscriber) SetOnline(up bool) {
	s.online.Store(up)
	if s.gauge != nil {
		if up {
			s.gauge.Set(1)
		} else {
			s.gauge.Set(0)
		}
	}
	s.log.Info("sync connection state", "online", up)
}

// Online reports whether the change-feed connection is currently up.
func (s *Subscriber) Online() bool { return s.online.Load() }

// Start subscribes to the feed and runs the apply loop until ctx ends.
// When the loop is saturated the feed callback blocks until the buffer
// drains, so no event is ever lost; a lone delete has no follow-up event
// that could reconverge state, so dropping is not an option.
func (s *Subscriber) Start(ctx context.Context, nc *nats.Conn) error {
	sub, err := s.subscribe(ctx, nc)
	if err != nil {
		return err
	}
	s.sub = sub
	s.SetOnline(nc.IsConnected())

	go s.loop(ctx)
	return nil
}

func (s *Subscriber) subscribe(ctx context.Context, nc *nats.Conn) (*nats.Subscription, error) {
	handler := func(_ context.Context, ev remote.Event) {
		s.enqueue(ctx, ev)
	}
	onErr := func(err error) {
		if s.dropped != nil {
			s.dropped.Inc()
		}
		s.log.Warn("malformed sync event skipped", "error", err)
	}
	return natsutil.Subscribe(nc, remote.SubjectAll, handler, onErr)
}

// enqueue hands an event to the apply loop, blocking when the buffer is
// full. Only shutdown releases a blocked enqueue without delivery.
func (s *Subscriber) enqueue(ctx context.Context, ev remote.Event) {
	select {
	case s.events <- ev:
	case <-ctx.Done():
		if s.dropped != nil {
			s.dropped.Inc()
		}
		s.log.Debug("sync event discarded during shutdown", "type", ev.Type, "id", ev.ID)
	}
}

func (s *Subscriber) loop(ctx context.Context) {
	defer func() {
		if s.sub != nil {
			_ = s.sub.Unsubscribe()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.events:
			s.apply(ev)
		}
	}
}

// apply feeds one event to the store. A panic from a single bad event must
// not kill the loop.
func (s *Subscriber) apply(ev remote.Event) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic applying sync event", "type", ev.Type, "id", ev.ID, "panic", r)
		}
	}()
	if s.applied != nil {
		s.applied.Inc()
	}
	if changed := s.store.ApplyEvent(ev); changed {
		s.log.Debug("sync event applied", "type", ev.Type, "id", ev.ID)
	}
}

// Feed returns the internal event channel for tests and local wiring.
func (s *Subscriber) Feed() chan<- remote.Event { return s.events }
