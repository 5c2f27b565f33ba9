// Package remote defines the Remote Store collaborator boundary: the row
// shape, the mapper between rows and the in-memory post model, typed errors,
// the change-feed event vocabulary, and SQL-backed implementations. The
// remote store is the source of truth; access control lives inside it and
// surfaces here only as typed permission errors.
package remote

import (
	"context"
	"errors"
	"time"
)

// Typed errors the core must tolerate from any implementation.
var (
	ErrNotFound         = errors.New("record not found")
	ErrDuplicateURL     = errors.New("duplicate url")
	ErrPermissionDenied = errors.New("permission denied by remote store")
	ErrUnavailable      = errors.New("remote store unavailable")
)

// Store is the CRUD surface of the posts table. Implementations scope rows
// to the calling operator's identity; the engine never sees other operators'
// rows except through the change feed.
type Store interface {
	// Insert writes a batch of rows. The whole batch fails together; a
	// UNIQUE violation on url surfaces as ErrDuplicateURL.
	Insert(ctx context.Context, records []Record) error
	// Update applies a partial update to one row by id.
	Update(ctx context.Context, id string, patch Patch) error
	// Get returns one row by id.
	Get(ctx context.Context, id string) (Record, error)
	// Delete removes one row by id.
	Delete(ctx context.Context, id string) error
	// DeleteOwned removes every row the operator owns (the bulk reset).
	DeleteOwned(ctx context.Context) error
	// List returns all visible rows, newest first.
	List(ctx context.Context) ([]Record, error)
	// ExistingURLs reports which of the given urls are already stored. This
	// is the authoritative duplicate check.
	ExistingURLs(ctx context.Context, urls []string) (map[string]bool, error)
}

// EventType classifies a change-feed event.
type EventType string

const (
	EventInsert EventType = "insert"
	EventUpdate EventType = "update"
	EventDelete EventType = "delete"
)

// Event is one change observed on the posts table, from any writer
// including ourselves.
type Event struct {
	Type   EventType `json:"type"`
	ID     string    `json:"id"`
	Record *Record   `json:"record,omitempty"` // nil for deletes
	At     time.Time `json:"at"`
}
