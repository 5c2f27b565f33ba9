package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/carsgate/portal-engine/engine/domain"
	"github.com/carsgate/portal-engine/engine/extract"
	"github.com/carsgate/portal-engine/engine/remote"
	"github.com/carsgate/portal-engine/engine/workflow"
	"github.com/carsgate/portal-engine/pkg/fn"
)

// defaultAnalyzeWorkers bounds bulk analysis concurrency.
const defaultAnalyzeWorkers = 4

// Analyze runs the extraction pipeline for one post: status flips to
// analyzing, the raw content is sent to the extraction service, and on
// success the normalized result lands with the raw step complete and the
// workflow auto-advanced from raw to details.
//
// At most one extraction runs per post; a second call while one is running
// returns ErrAnalysisInFlight. Extractions on different posts run freely in
// parallel. Cancellation (operator or CancelAnalysis) reverts the post to
// pending and is not an error.
func (s *Store) Analyze(ctx context.Context, id string) error {
	s.mu.Lock()
	p := s.get(id)
	if err := domain.CanAnalyze(p); err != nil {
		s.mu.Unlock()
		return err
	}
	if _, running := s.inflight[id]; running {
		s.mu.Unlock()
		return domain.ErrAnalysisInFlight
	}
	// Detach from the caller's cancellation so a dropped request does not
	// abort the extraction; only CancelAnalysis and Reset cancel it. Remote
	// writes issued after the extraction use the detached context too, so a
	// result that arrived is never lost to a dead caller.
	wctx := context.WithoutCancel(ctx)
	runCtx, cancel := context.WithCancel(wctx)
	s.inflight[id] = cancel
	p.Status = domain.StatusAnalyzing
	p.LastUpdatedAt = s.now()
	listingURL, raw := p.URL, p.RawContent
	s.mu.Unlock()

	defer func() {
		cancel()
		s.mu.Lock()
		delete(s.inflight, id)
		n := len(s.inflight)
		s.mu.Unlock()
		s.metrics.inflightGauge.Set(int64(n))
	}()
	s.metrics.inflightGauge.Set(int64(s.inflightCount()))

	if err := s.remote.Update(wctx, id, remote.Patch{
		Status: remote.String(string(domain.StatusAnalyzing)),
	}); err != nil {
		s.revertToPending(wctx, id)
		return err
	}

	started := time.Now()
	payload, err := s.extractor.Analyze(runCtx, listingURL, raw)
	s.metrics.latency.Since(started)
	if err != nil {
		s.revertToPending(wctx, id)
		if errors.Is(err, context.Canceled) {
			s.log.Info("analysis canceled", "id", id)
			return nil
		}
		s.metrics.analyzeFailed.Inc()
		return fmt.Errorf("analyze %s: %w", id, err)
	}

	parsed := extract.Normalize(payload, listingURL)

	s.mu.Lock()
	p = s.get(id)
	if p == nil {
		s.mu.Unlock()
		return domain.ErrPostNotFound
	}
	p.Status = domain.StatusParsed
	p.Parsed = parsed
	p.StepCompleted.Set(domain.StepRaw)
	workflow.Advance(p, domain.StepRaw)
	flags := p.StepCompleted
	step := p.Step
	p.LastUpdatedAt = s.now()
	s.mu.Unlock()

	s.metrics.analyzed.Inc()
	return s.remote.Update(wctx, id, remote.Patch{
		Status:        remote.String(string(domain.StatusParsed)),
		ParsedJSON:    remote.JSON(parsed),
		StepCompleted: remote.JSON(flags),
		WorkflowStep:  remote.String(string(step)),
	})
}

func (s *Store) inflightCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inflight)
}

// revertToPending is the shared failure/cancellation path. The remote write
// is best effort: the post must not stay stuck in analyzing locally even
// when the remote is unreachable.
func (s *Store) revertToPending(ctx context.Context, id string) {
	s.mu.Lock()
	if p := s.get(id); p != nil && p.Status == domain.StatusAnalyzing {
		p.Status = domain.StatusPending
		p.LastUpdatedAt = s.now()
	}
	s.mu.Unlock()

	err := s.remote.Update(ctx, id, remote.Patch{
		Status: remote.String(string(domain.StatusPending)),
	})
	if err != nil {
		s.log.Warn("revert to pending failed", "id", id, "error", err)
	}
}

// CancelAnalysis aborts the in-flight extraction for a post, if any.
// Returns true when a running extraction was signaled.
func (s *Store) CancelAnalysis(id string) bool {
	s.mu.Lock()
	cancel, ok := s.inflight[id]
	s.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// AnalyzeAll runs Analyze over every eligible post with bounded
// parallelism and reports per-post failures without stopping the batch.
func (s *Store) AnalyzeAll(ctx context.Context) map[string]error {
	s.mu.Lock()
	var ids []string
	for _, p := range s.posts {
		if domain.CanAnalyze(p) == nil {
			ids = append(ids, p.ID)
		}
	}
	s.mu.Unlock()

	results := fn.ParMapResult(ids, defaultAnalyzeWorkers, func(id string) fn.Result[string] {
		if err := s.Analyze(ctx, id); err != nil {
			return fn.Err[string](fmt.Errorf("%s: %w", id, err))
		}
		return fn.Ok(id)
	})

	failed := make(map[string]error)
	for i, r := range results {
		if _, err := r.Unwrap(); err != nil {
			failed[ids[i]] = err
		}
	}
	return failed
}
