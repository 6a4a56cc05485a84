package statehub

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// DefaultDebounce is the quiet period a [Searcher] waits for after the last
// keystroke before searching.
const DefaultDebounce = 300 * time.Millisecond

// SearchFunc runs one search.
type SearchFunc[T Entity] func(ctx context.Context, term string) ([]T, error)

// SearchResult is delivered to [Searcher] listeners for every completed
// search.
type SearchResult[T Entity] struct {
	Term  string `json:"term"`
	Items []T    `json:"items"`
	Err   error  `json:"-"`
}

// Searcher turns a stream of search terms into a stream of results.
//
// Terms are debounced: a search starts only after no new term has been
// submitted for the debounce period. A term equal to the previously
// searched one is ignored. A blank term yields an empty result without a
// request. Starting a search cancels the one in flight, and a cancelled
// search never publishes, so results always belong to the latest term.
// Failed searches publish an empty result with Err set.
type Searcher[T Entity] struct {
	search   SearchFunc[T]
	debounce time.Duration
	results  *Channel[SearchResult[T]]
	logger   *slog.Logger
	subs     Group

	mu      sync.Mutex
	timer   *time.Timer
	pending string
	last    string
	hasLast bool
	gen     uint64
	cancel  context.CancelFunc
	closed  bool
}

// NewSearcher creates a [Searcher]. A zero debounce selects
// [DefaultDebounce].
func NewSearcher[T Entity](search SearchFunc[T], debounce time.Duration, opts ...CoreOption) *Searcher[T] {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	cfg := newCoreConfig(opts)
	return &Searcher[T]{
		search:   search,
		debounce: debounce,
		results:  NewChannel[SearchResult[T]](opts...),
		logger:   cfg.logger,
	}
}

// Submit feeds a new term, restarting the debounce period.
func (s *Searcher[T]) Submit(term string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.pending = term
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.debounce, s.fire)
}

// Subscribe registers fn for search results.
//
// The caller must release the returned [Subscription]. [Searcher.Close]
// releases it too.
func (s *Searcher[T]) Subscribe(fn func(SearchResult[T])) *Subscription {
	sub := s.results.Subscribe(fn)
	s.subs.Add(sub)
	return sub
}

// Close cancels pending and in-flight searches and releases every result
// subscription, so no listener is invoked after Close returns. It is safe
// to call from a result listener.
func (s *Searcher[T]) Close() {
	s.mu.Lock()
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	s.subs.Close()
}

// fire runs when the debounce period elapses.
func (s *Searcher[T]) fire() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	term := s.pending
	if s.hasLast && term == s.last {
		s.mu.Unlock()
		return
	}
	s.last = term
	s.hasLast = true
	if s.cancel != nil {
		s.cancel()
	}
	s.gen++
	gen := s.gen
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.mu.Unlock()
	defer cancel()

	result := SearchResult[T]{Term: term, Items: []T{}}
	if strings.TrimSpace(term) != "" {
		items, err := s.search(ctx, term)
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Warn("search failed", "term", term, "error", err)
			}
			result.Err = err
		} else if items != nil {
			result.Items = items
		}
	}

	s.mu.Lock()
	stale := gen != s.gen || s.closed
	s.mu.Unlock()
	if stale {
		return
	}
	s.results.Publish(result)
}
