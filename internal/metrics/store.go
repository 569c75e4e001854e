package metrics

import (
	"slices"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/sells-group/tariff-map/internal/identity"
)

// Observer receives join diagnostics. All methods must be safe for
// concurrent use.
type Observer interface {
	// Unmatched reports how many records of source the latest join dropped.
	Unmatched(source string, n int)
	Stale(source string)
	FetchFailed(source string)
}

type nopObserver struct{}

func (nopObserver) Unmatched(string, int) {}
func (nopObserver) Stale(string)          {}
func (nopObserver) FetchFailed(string)    {}

// Store keeps the latest accepted Set per source key and the join built
// from them. Readers get the current Result without locking; every change
// rebuilds the join wholesale and swaps it in.
type Store struct {
	registry *identity.Holder
	fence    *Fence
	observer Observer

	mu    sync.Mutex
	sets  map[string]Set
	order []string

	current atomic.Pointer[Result]
}

// NewStore creates a Store joining against the registry published by h.
func NewStore(h *identity.Holder, obs Observer) *Store {
	if obs == nil {
		obs = nopObserver{}
	}
	s := &Store{
		registry: h,
		fence:    NewFence(),
		observer: obs,
		sets:     make(map[string]Set),
	}
	s.current.Store(Join(h.Load(), nil))
	return s
}

// Issue returns the sequence number to attach to a new fetch.
func (s *Store) Issue() uint64 { return s.fence.Issue() }

// Apply installs set as the latest data for source key if seq is newer
// than the last applied fetch for that key, then rebuilds the join. It
// returns false for a stale response.
func (s *Store) Apply(key string, seq uint64, set Set) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.fence.Accept(key, seq) {
		s.observer.Stale(key)
		zap.L().Debug("metrics: discarded stale response",
			zap.String("source", key),
			zap.Uint64("seq", seq),
			zap.Uint64("applied", s.fence.Applied(key)),
		)
		return false
	}

	if set.Err != nil {
		s.observer.FetchFailed(key)
		zap.L().Warn("metrics: source fetch failed, metric marked absent",
			zap.String("source", key),
			zap.String("metric", set.Metric),
			zap.Error(set.Err),
		)
	}

	// The most recently applied set joins last so its direct values win.
	s.order = slices.DeleteFunc(s.order, func(k string) bool { return k == key })
	s.order = append(s.order, key)
	s.sets[key] = set
	s.rebuildLocked()
	return true
}

// Rejoin rebuilds the join against the current registry snapshot.
func (s *Store) Rejoin() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rebuildLocked()
}

func (s *Store) rebuildLocked() {
	sets := make([]Set, 0, len(s.order))
	for _, key := range s.order {
		sets = append(sets, s.sets[key])
	}
	res := Join(s.registry.Load(), sets)

	perSource := make(map[string]int, len(sets))
	for _, u := range res.Unmatched {
		perSource[u.Source] += u.Count
	}
	for _, set := range sets {
		s.observer.Unmatched(set.Source, perSource[set.Source])
	}
	s.current.Store(res)
}

// Current returns the latest joined result. It never blocks on a rebuild.
func (s *Store) Current() *Result { return s.current.Load() }

// Sources returns the source keys with an applied set.
func (s *Store) Sources() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}
