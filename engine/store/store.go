// Package store implements the Post Store: the single source of truth for
// the in-memory post collection and the only component that writes to the
// Remote Store on behalf of operator actions. Every mutating action updates
// local state, writes through to the remote, and is idempotent under replay
// when the change feed echoes the write back.
package store

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/carsgate/portal-engine/engine/domain"
	"github.com/carsgate/portal-engine/engine/pricing"
	"github.com/carsgate/portal-engine/engine/remote"
	"github.com/carsgate/portal-engine/pkg/fn"
	"github.com/carsgate/portal-engine/pkg/metrics"
	"github.com/google/uuid"
)

// Extractor is the extraction-service dependency. The returned payload is
// the raw upstream response, normalized by the store.
type Extractor interface {
	Analyze(ctx context.Context, listingURL, raw string) (json.RawMessage, error)
}

// DefaultPricingDebounce is the auto-save window for rapid pricing edits.
const DefaultPricingDebounce = 2 * time.Second

// Store owns the post collection. All actions are serialized: each action
// and each applied sync event runs to completion before the next.
type Store struct {
	mu       sync.Mutex
	posts    []*domain.Post // newest first
	activeID string
	search   string

	// inflight holds exactly one cancel func per post with a running
	// extraction; entries are removed on every exit path.
	inflight map[string]context.CancelFunc

	pricingTimers map[string]*time.Timer

	remote    remote.Store
	extractor Extractor
	rate      float64
	debounce  time.Duration
	newID     func() string
	now       func() time.Time
	log       *slog.Logger
	metrics   *storeMetrics
}

// Option configures a Store.
type Option func(*Store)

// WithRate overrides the USD→SAR conversion rate.
func WithRate(rate float64) Option { return func(s *Store) { s.rate = rate } }

// WithPricingDebounce overrides the pricing auto-save window.
func WithPricingDebounce(d time.Duration) Option { return func(s *Store) { s.debounce = d } }

// WithLogger sets the store logger.
func WithLogger(log *slog.Logger) Option { return func(s *Store) { s.log = log } }

// WithMetrics registers the store's counters and gauges on reg.
func WithMetrics(reg *metrics.Registry) Option {
	return func(s *Store) { s.metrics = newStoreMetrics(reg) }
}

// WithClock injects a clock for tests.
func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

// New creates a Post Store with injected collaborators. No globals: every
// dependency arrives through the constructor.
func New(r remote.Store, e Extractor, opts ...Option) *Store {
	s := &Store{
		inflight:      make(map[string]context.CancelFunc),
		pricingTimers: make(map[string]*time.Timer),
		remote:        r,
		extractor:     e,
		rate:          pricing.DefaultRate,
		debounce:      DefaultPricingDebounce,
		newID:         uuid.NewString,
		now:           time.Now,
		log:           slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = newStoreMetrics(nil)
	}
	return s
}

// Hydrate replaces the local collection with the remote's rows, newest
// first. Called once at session start, before subscribing to the feed.
func (s *Store) Hydrate(ctx context.Context) error {
	records, err := s.remote.List(ctx)
	if err != nil {
		return err
	}
	posts := make([]*domain.Post, len(records))
	for i, r := range records {
		posts[i] = r.ToPost()
	}

	s.mu.Lock()
	s.posts = posts
	s.mu.Unlock()

	s.log.Info("hydrated", "posts", len(posts))
	return nil
}

// find returns the index of id, or -1. Callers hold mu.
func (s *Store) find(id string) int {
	for i, p := range s.posts {
		if p.ID == id {
			return i
		}
	}
	return -1
}

// get returns the post with id, or nil. Callers hold mu.
func (s *Store) get(id string) *domain.Post {
	if i := s.find(id); i >= 0 {
		return s.posts[i]
	}
	return nil
}

// Get returns a copy of the post with id.
func (s *Store) Get(id string) (*domain.Post, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p := s.get(id); p != nil {
		return p.Clone(), true
	}
	return nil, false
}

// Posts returns a snapshot of the collection, filtered by the current
// search term when one is set.
func (s *Store) Posts() []*domain.Post {
	s.mu.Lock()
	defer s.mu.Unlock()

	needle := strings.ToLower(strings.TrimSpace(s.search))
	out := make([]*domain.Post, 0, len(s.posts))
	for _, p := range s.posts {
		if needle != "" && !matches(p, needle) {
			continue
		}
		out = append(out, p.Clone())
	}
	return out
}

func matches(p *domain.Post, needle string) bool {
	if strings.Contains(strings.ToLower(p.URL), needle) ||
		strings.Contains(strings.ToLower(p.Source), needle) ||
		strings.Contains(strings.ToLower(p.Note), needle) {
		return true
	}
	return p.Parsed != nil && strings.Contains(strings.ToLower(p.Parsed.Title), needle)
}

// SetSearch sets the working-set filter. Pure local state.
func (s *Store) SetSearch(q string) {
	s.mu.Lock()
	s.search = q
	s.mu.Unlock()
}

// SetActive selects a post (or none with ""). Pure local state; in-flight
// extractions on other posts keep running.
func (s *Store) SetActive(id string) {
	s.mu.Lock()
	s.activeID = id
	s.mu.Unlock()
}

// Active returns the selected post id, or "".
func (s *Store) Active() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID
}

// Next cycles the active post forward through the working set.
func (s *Store) Next() { s.cycle(1) }

// Prev cycles the active post backward through the working set.
func (s *Store) Prev() { s.cycle(-1) }

func (s *Store) cycle(dir int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.posts) == 0 {
		return
	}
	i := s.find(s.activeID)
	next := (i + dir + len(s.posts)) % len(s.posts)
	s.activeID = s.posts[next].ID
}

// ImportEntry rows land as status=pending posts at the raw step.
// Duplicate URLs are collapsed within the batch and checked in memory as a
// fast path; the remote's UNIQUE constraint is the authoritative gate. The
// whole batch fails together.
func (s *Store) ImportPosts(ctx context.Context, entries []domain.ImportEntry) (int, error) {
	if len(entries) == 0 {
		return 0, domain.ErrNoEntries
	}
	for _, e := range entries {
		if err := domain.ValidateImportEntry(e); err != nil {
			return 0, err
		}
	}

	entries = fn.UniqueBy(entries, func(e domain.ImportEntry) string {
		return strings.TrimSpace(e.URL)
	})

	s.mu.Lock()
	known := make(map[string]bool, len(s.posts))
	for _, p := range s.posts {
		known[p.URL] = true
	}
	s.mu.Unlock()

	entries = fn.Filter(entries, func(e domain.ImportEntry) bool {
		return !known[strings.TrimSpace(e.URL)]
	})
	if len(entries) == 0 {
		return 0, nil
	}

	urls := fn.Map(entries, func(e domain.ImportEntry) string {
		return strings.TrimSpace(e.URL)
	})
	existing, err := s.remote.ExistingURLs(ctx, urls)
	if err != nil {
		return 0, err
	}
	entries = fn.Filter(entries, func(e domain.ImportEntry) bool {
		return !existing[strings.TrimSpace(e.URL)]
	})
	if len(entries) == 0 {
		return 0, nil
	}

	now := s.now()
	posts := fn.Map(entries, func(e domain.ImportEntry) *domain.Post {
		return &domain.Post{
			ID:            s.newID(),
			URL:           strings.TrimSpace(e.URL),
			Source:        e.Source,
			Note:          e.Note,
			Status:        domain.StatusPending,
			Step:          domain.StepRaw,
			Images:        []domain.ImageItem{},
			LastUpdatedAt: now,
		}
	})
	records := fn.Map(posts, func(p *domain.Post) remote.Record {
		return remote.FromPost(p, "")
	})
	if err := s.remote.Insert(ctx, records); err != nil {
		return 0, err
	}

	s.mu.Lock()
	for i := len(posts) - 1; i >= 0; i-- {
		if s.find(posts[i].ID) == -1 {
			s.posts = append([]*domain.Post{posts[i]}, s.posts...)
		}
	}
	s.mu.Unlock()

	s.metrics.imported.Add(int64(len(posts)))
	s.log.Info("imported posts", "count", len(posts))
	return len(posts), nil
}

// Reject marks a post rejected with an optional reason. Idempotent: a
// second reject is a no-op.
func (s *Store) Reject(ctx context.Context, id, reason string) error {
	s.mu.Lock()
	p := s.get(id)
	if p == nil {
		s.mu.Unlock()
		return domain.ErrPostNotFound
	}
	if p.Status == domain.StatusRejected {
		s.mu.Unlock()
		return nil
	}
	p.Status = domain.StatusRejected
	p.RejectionReason = reason
	p.LastUpdatedAt = s.now()
	s.mu.Unlock()

	s.metrics.actions.Inc()
	return s.remote.Update(ctx, id, remote.Patch{
		Status:          remote.String(string(domain.StatusRejected)),
		RejectionReason: remote.String(reason),
	})
}

// UndoReject returns a rejected post to pending and clears the reason.
func (s *Store) UndoReject(ctx context.Context, id string) error {
	s.mu.Lock()
	p := s.get(id)
	if p == nil {
		s.mu.Unlock()
		return domain.ErrPostNotFound
	}
	p.Status = domain.StatusPending
	p.RejectionReason = ""
	p.LastUpdatedAt = s.now()
	s.mu.Unlock()

	s.metrics.actions.Inc()
	return s.remote.Update(ctx, id, remote.Patch{
		Status:          remote.String(string(domain.StatusPending)),
		RejectionReason: remote.String(""),
	})
}

// SaveRaw stores the operator-pasted raw content. Step completion is not
// touched here: the raw step completes only through a successful
// extraction.
func (s *Store) SaveRaw(ctx context.Context, id, text string) error {
	s.mu.Lock()
	p := s.get(id)
	if p == nil {
		s.mu.Unlock()
		return domain.ErrPostNotFound
	}
	p.RawContent = text
	p.LastUpdatedAt = s.now()
	s.mu.Unlock()

	s.metrics.actions.Inc()
	return s.remote.Update(ctx, id, remote.Patch{RawContent: remote.String(text)})
}

// SetImages replaces a post's image list, repairing the single-main
// invariant before the write so it holds after the call returns.
func (s *Store) SetImages(ctx context.Context, id string, images []domain.ImageItem) error {
	repaired := domain.RepairImages(images)

	s.mu.Lock()
	p := s.get(id)
	if p == nil {
		s.mu.Unlock()
		return domain.ErrPostNotFound
	}
	p.Images = repaired
	p.LastUpdatedAt = s.now()
	s.mu.Unlock()

	s.metrics.actions.Inc()
	return s.remote.Update(ctx, id, remote.Patch{Images: remote.JSON(repaired)})
}

// ImageImport is one row of a bulk image paste, matched to posts by URL.
type ImageImport struct {
	PostURL  string `json:"post_url"`
	ImageURL string `json:"image_url"`
	Caption  string `json:"caption,omitempty"`
}

// ImportImages appends pasted images to the posts they belong to. A post
// with no main image gets the first attached one as main.
func (s *Store) ImportImages(ctx context.Context, rows []ImageImport) error {
	s.mu.Lock()
	merged := make(map[string][]domain.ImageItem)
	for _, p := range s.posts {
		var add []domain.ImageItem
		for _, row := range rows {
			if row.PostURL != p.URL {
				continue
			}
			add = append(add, domain.ImageItem{URL: row.ImageURL, Keep: true, Caption: row.Caption})
		}
		if len(add) == 0 {
			continue
		}
		merged[p.ID] = domain.RepairImages(append(append([]domain.ImageItem{}, p.Images...), add...))
	}
	s.mu.Unlock()

	for id, images := range merged {
		if err := s.SetImages(ctx, id, images); err != nil {
			return err
		}
	}
	return nil
}

// SaveDetails stores the operator-reviewed extraction result and marks the
// details step complete.
func (s *Store) SaveDetails(ctx context.Context, id string, details *domain.ParsedPost) error {
	s.mu.Lock()
	p := s.get(id)
	if p == nil {
		s.mu.Unlock()
		return domain.ErrPostNotFound
	}
	p.Parsed = details.Clone()
	p.StepCompleted.Set(domain.StepDetails)
	flags := p.StepCompleted
	p.LastUpdatedAt = s.now()
	s.mu.Unlock()

	s.metrics.actions.Inc()
	return s.remote.Update(ctx, id, remote.Patch{
		ParsedJSON:    remote.JSON(details),
		StepCompleted: remote.JSON(flags),
	})
}

// SavePricing computes the derived breakdown and writes it immediately,
// bypassing any pending debounce, and marks the pricing step complete.
func (s *Store) SavePricing(ctx context.Context, id string, in pricing.Inputs) error {
	s.mu.Lock()
	if t, ok := s.pricingTimers[id]; ok {
		t.Stop()
		delete(s.pricingTimers, id)
	}
	p := s.get(id)
	if p == nil {
		s.mu.Unlock()
		return domain.ErrPostNotFound
	}
	breakdown := pricing.Calculate(in, s.rate)
	p.Pricing = &breakdown
	p.StepCompleted.Set(domain.StepPricing)
	flags := p.StepCompleted
	p.LastUpdatedAt = s.now()
	s.mu.Unlock()

	s.metrics.actions.Inc()
	return s.remote.Update(ctx, id, remote.Patch{
		Pricing:       remote.JSON(breakdown),
		StepCompleted: remote.JSON(flags),
	})
}

// SavePricingDebounced schedules SavePricing after the debounce window,
// collapsing rapid edits into one write. Save errors on the deferred path
// are logged; the operator's explicit save surfaces them.
func (s *Store) SavePricingDebounced(id string, in pricing.Inputs) {
	s.mu.Lock()
	if t, ok := s.pricingTimers[id]; ok {
		t.Stop()
	}
	s.pricingTimers[id] = time.AfterFunc(s.debounce, func() {
		if err := s.SavePricing(context.Background(), id, in); err != nil {
			s.log.Warn("debounced pricing save failed", "id", id, "error", err)
		}
	})
	s.mu.Unlock()
}

// CompleteStep marks one workflow step complete with write-through.
func (s *Store) CompleteStep(ctx context.Context, id string, step domain.Step) error {
	if err := domain.ValidateStep(step); err != nil {
		return err
	}
	s.mu.Lock()
	p := s.get(id)
	if p == nil {
		s.mu.Unlock()
		return domain.ErrPostNotFound
	}
	p.StepCompleted.Set(step)
	flags := p.StepCompleted
	p.LastUpdatedAt = s.now()
	s.mu.Unlock()

	return s.remote.Update(ctx, id, remote.Patch{StepCompleted: remote.JSON(flags)})
}

// AcceptAnalysis is the operator's explicit sign-off on the extraction
// result; it marks the raw step complete.
func (s *Store) AcceptAnalysis(ctx context.Context, id string) error {
	return s.CompleteStep(ctx, id, domain.StepRaw)
}

// AcceptImages marks the images step complete.
func (s *Store) AcceptImages(ctx context.Context, id string) error {
	return s.CompleteStep(ctx, id, domain.StepImages)
}

// SetWorkflowStep moves a post's workflow cursor with write-through. Steps
// never change except through this and the post-extraction auto-advance.
func (s *Store) SetWorkflowStep(ctx context.Context, id string, step domain.Step) error {
	if err := domain.ValidateStep(step); err != nil {
		return err
	}
	s.mu.Lock()
	p := s.get(id)
	if p == nil {
		s.mu.Unlock()
		return domain.ErrPostNotFound
	}
	p.Step = step
	p.LastUpdatedAt = s.now()
	s.mu.Unlock()

	return s.remote.Update(ctx, id, remote.Patch{WorkflowStep: remote.String(string(step))})
}

// FinalizePost marks a post ready: the terminal workflow state. Remote
// errors surface to the caller, never silently.
func (s *Store) FinalizePost(ctx context.Context, id string) error {
	s.mu.Lock()
	p := s.get(id)
	if p == nil {
		s.mu.Unlock()
		return domain.ErrPostNotFound
	}
	if p.Status == domain.StatusRejected {
		s.mu.Unlock()
		return domain.NewValidationError("status", string(p.Status), domain.ErrPostRejected)
	}
	p.Status = domain.StatusReady
	p.Step = domain.StepComplete
	p.StepCompleted.Set(domain.StepImages)
	p.StepCompleted.Set(domain.StepPricing)
	flags := p.StepCompleted
	p.LastUpdatedAt = s.now()
	s.mu.Unlock()

	s.metrics.actions.Inc()
	s.metrics.finalized.Inc()
	return s.remote.Update(ctx, id, remote.Patch{
		Status:        remote.String(string(domain.StatusReady)),
		WorkflowStep:  remote.String(string(domain.StepComplete)),
		StepCompleted: remote.JSON(flags),
	})
}

// Reset destroys the operator's whole working set: cancels every in-flight
// extraction, deletes all owned rows from the remote, and clears local
// state. Irreversible; confirmation is the presentation layer's problem.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	for id, cancel := range s.inflight {
		cancel()
		delete(s.inflight, id)
	}
	for id, t := range s.pricingTimers {
		t.Stop()
		delete(s.pricingTimers, id)
	}
	s.mu.Unlock()

	if err := s.remote.DeleteOwned(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	s.posts = nil
	s.activeID = ""
	s.search = ""
	s.mu.Unlock()

	s.metrics.inflightGauge.Set(0)
	s.log.Info("working set reset")
	return nil
}
