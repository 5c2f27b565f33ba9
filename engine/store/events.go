package store

import (
	"reflect"
	"time"

	"github.com/carsgate/portal-engine/engine/domain"
	"github.com/carsgate/portal-engine/engine/remote"
)

// ApplyEvent reconciles one change-feed event into the local collection.
// Events include echoes of this store's own writes; applying one is always
// idempotent. Returns true when local state changed.
//
// Inserts prepend unless the id is already present. Updates replace the
// local post wholesale, with one exception: when the incoming row carries
// no extraction result but the local post has one, the local result is
// kept (a concurrent save from another field must not wipe an analysis
// that just landed here). Deletes remove; unknown ids are a no-op.
func (s *Store) ApplyEvent(ev remote.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch ev.Type {
	case remote.EventInsert:
		if ev.Record == nil || s.find(ev.Record.ID) >= 0 {
			return false
		}
		s.posts = append([]*domain.Post{ev.Record.ToPost()}, s.posts...)
		s.metrics.eventsApplied.Inc()
		return true

	case remote.EventUpdate:
		if ev.Record == nil {
			return false
		}
		i := s.find(ev.Record.ID)
		if i < 0 {
			return false
		}
		local := s.posts[i]
		incoming := ev.Record.ToPost()
		if local.HasParsed() && !incoming.HasParsed() {
			incoming.Parsed = local.Parsed.Clone()
		}
		if postsEqual(local, incoming) {
			return false
		}
		s.posts[i] = incoming
		s.metrics.eventsApplied.Inc()
		return true

	case remote.EventDelete:
		i := s.find(ev.ID)
		if i < 0 {
			return false
		}
		s.posts = append(s.posts[:i], s.posts[i+1:]...)
		if s.activeID == ev.ID {
			s.activeID = ""
		}
		s.metrics.eventsApplied.Inc()
		return true
	}
	return false
}

// postsEqual ignores the local bookkeeping timestamp so that a
// self-echo carrying the state we already hold is recognized as a no-op.
func postsEqual(a, b *domain.Post) bool {
	ca, cb := a.Clone(), b.Clone()
	ca.LastUpdatedAt, cb.LastUpdatedAt = time.Time{}, time.Time{}
	return reflect.DeepEqual(ca, cb)
}
