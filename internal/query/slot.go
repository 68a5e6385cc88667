package query

import (
	"context"
	"sync"
)

// Slot serializes searches for one logical query surface (for example, one
// search box). Each new Search supersedes the previous one: the in-flight
// scan is cancelled and any of its still-buffered results are dropped
// silently rather than interleaving with the new stream. This keeps rapid
// repeated queries from accumulating unbounded concurrent store scans.
type Slot struct {
	engine *Engine

	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc
}

func NewSlot(engine *Engine) *Slot {
	return &Slot{engine: engine}
}

// Search starts a new search in this slot, superseding any in-flight one.
// The returned channel belongs to this call only; it is closed when the
// search completes, is cancelled, or is superseded by a newer Search.
func (s *Slot) Search(ctx context.Context, pred Predicate) <-chan Item {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	searchCtx, cancel := context.WithCancel(ctx)
	s.gen++
	gen := s.gen
	s.cancel = cancel
	s.mu.Unlock()

	out := make(chan Item)
	results := s.engine.Search(searchCtx, pred)

	go func() {
		defer close(out)
		defer cancel()
		for item := range results {
			if s.superseded(gen) {
				return
			}
			select {
			case out <- item:
			case <-searchCtx.Done():
				return
			}
		}
	}()
	return out
}

// Cancel stops the in-flight search, if any.
func (s *Slot) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

func (s *Slot) superseded(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen != gen
}
