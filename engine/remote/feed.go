package remote

import (
	"context"
	"log/slog"
	"time"

	"github.com/carsgate/portal-engine/pkg/natsutil"
	"github.com/nats-io/nats.go"
)

// Change-feed subjects. Subscribers listen on SubjectAll.
const (
	SubjectInsert = "portal.posts.insert"
	SubjectUpdate = "portal.posts.update"
	SubjectDelete = "portal.posts.delete"
	SubjectAll    = "portal.posts.*"
)

// Feed decorates a Store so every successful write publishes a change event
// on NATS, fanning out to all subscribed sessions including our own. Publish
// failures are logged, not propagated: the row write already succeeded and
// the store remains the source of truth.
type Feed struct {
	Store
	nc  *nats.Conn
	log *slog.Logger
}

// WithFeed wraps a store with change-event publication.
func WithFeed(s Store, nc *nats.Conn, log *slog.Logger) *Feed {
	if log == nil {
		log = slog.Default()
	}
	return &Feed{Store: s, nc: nc, log: log}
}

func (f *Feed) publish(ctx context.Context, subject string, ev Event) {
	if err := natsutil.Publish(ctx, f.nc, subject, ev); err != nil {
		f.log.Warn("change feed publish failed", "subject", subject, "id", ev.ID, "error", err)
	}
}

func (f *Feed) Insert(ctx context.Context, records []Record) error {
	if err := f.Store.Insert(ctx, records); err != nil {
		return err
	}
	for i := range records {
		r := records[i]
		f.publish(ctx, SubjectInsert, Event{Type: EventInsert, ID: r.ID, Record: &r, At: time.Now()})
	}
	return nil
}

func (f *Feed) Update(ctx context.Context, id string, patch Patch) error {
	if err := f.Store.Update(ctx, id, patch); err != nil {
		return err
	}
	// Publish the full updated row, as the hosted store's feed does.
	rec, err := f.Store.Get(ctx, id)
	if err != nil {
		f.log.Warn("change feed read-back failed", "id", id, "error", err)
		return nil
	}
	f.publish(ctx, SubjectUpdate, Event{Type: EventUpdate, ID: id, Record: &rec, At: time.Now()})
	return nil
}

func (f *Feed) Delete(ctx context.Context, id string) error {
	if err := f.Store.Delete(ctx, id); err != nil {
		return err
	}
	f.publish(ctx, SubjectDelete, Event{Type: EventDelete, ID: id, At: time.Now()})
	return nil
}

func (f *Feed) DeleteOwned(ctx context.Context) error {
	// Capture ids first so per-row delete events can be published.
	records, err := f.Store.List(ctx)
	if err != nil {
		return err
	}
	if err := f.Store.DeleteOwned(ctx); err != nil {
		return err
	}
	for _, r := range records {
		f.publish(ctx, SubjectDelete, Event{Type: EventDelete, ID: r.ID, At: time.Now()})
	}
	return nil
}
