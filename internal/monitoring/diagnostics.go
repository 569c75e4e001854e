// Package monitoring counts the conditions the map absorbs instead of
// failing on, exports them to Prometheus and alerts when they pile up.
package monitoring

import (
	"maps"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Snapshot is a point-in-time view of the diagnostic counters.
type Snapshot struct {
	// Unmatched is the number of records each source's latest join dropped.
	Unmatched map[string]int `json:"unmatched"`
	// Stale counts discarded out-of-order responses per source.
	Stale map[string]int `json:"stale"`
	// Failed counts failed fetches per source.
	Failed map[string]int `json:"failed"`
	// InvalidScaleInputs counts values a scale could not map, per metric.
	InvalidScaleInputs map[string]int `json:"invalid_scale_inputs"`

	CloseMatches int               `json:"close_matches"`
	Breakers     map[string]string `json:"breakers"`
	CollectedAt  time.Time         `json:"collected_at"`
}

// UnmatchedTotal sums Unmatched.
func (s Snapshot) UnmatchedTotal() int {
	var n int
	for _, v := range s.Unmatched {
		n += v
	}
	return n
}

// FailedTotal sums Failed.
func (s Snapshot) FailedTotal() int {
	var n int
	for _, v := range s.Failed {
		n += v
	}
	return n
}

// Diagnostics records map diagnostics both as Prometheus series and as an
// in-process Snapshot. It satisfies metrics.Observer.
type Diagnostics struct {
	unmatched    *prometheus.GaugeVec
	stale        *prometheus.CounterVec
	failed       *prometheus.CounterVec
	invalidScale *prometheus.CounterVec
	closeMatch   prometheus.Counter
	breaker      *prometheus.GaugeVec

	mu   sync.Mutex
	snap Snapshot
}

// NewDiagnostics registers the diagnostic series with reg. A nil reg uses
// the default Prometheus registerer.
func NewDiagnostics(reg prometheus.Registerer) *Diagnostics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Diagnostics{
		unmatched: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tariffmap_unmatched_records",
			Help: "Records dropped by the latest join because their country did not resolve",
		}, []string{"source"}),
		stale: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tariffmap_stale_responses_total",
			Help: "Metric responses discarded because a newer request was already applied",
		}, []string{"source"}),
		failed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tariffmap_source_failures_total",
			Help: "Metric fetches that failed after retries",
		}, []string{"source"}),
		invalidScale: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tariffmap_invalid_scale_inputs_total",
			Help: "Values a colour scale could not map and rendered as missing",
		}, []string{"metric"}),
		closeMatch: f.NewCounter(prometheus.CounterOpts{
			Name: "tariffmap_close_matches_total",
			Help: "Identity tokens resolved by substring close match",
		}),
		breaker: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tariffmap_source_breaker_open",
			Help: "1 while a source's circuit breaker is not closed",
		}, []string{"source"}),
		snap: Snapshot{
			Unmatched:          make(map[string]int),
			Stale:              make(map[string]int),
			Failed:             make(map[string]int),
			InvalidScaleInputs: make(map[string]int),
			Breakers:           make(map[string]string),
		},
	}
}

// Unmatched implements metrics.Observer.
func (d *Diagnostics) Unmatched(source string, n int) {
	if d == nil {
		return
	}
	d.unmatched.WithLabelValues(source).Set(float64(n))
	d.mu.Lock()
	d.snap.Unmatched[source] = n
	d.mu.Unlock()
}

// Stale implements metrics.Observer.
func (d *Diagnostics) Stale(source string) {
	if d == nil {
		return
	}
	d.stale.WithLabelValues(source).Inc()
	d.mu.Lock()
	d.snap.Stale[source]++
	d.mu.Unlock()
}

// FetchFailed implements metrics.Observer.
func (d *Diagnostics) FetchFailed(source string) {
	if d == nil {
		return
	}
	d.failed.WithLabelValues(source).Inc()
	d.mu.Lock()
	d.snap.Failed[source]++
	d.mu.Unlock()
}

// InvalidScaleInput records a value the metric's scale rendered as missing.
func (d *Diagnostics) InvalidScaleInput(metric string) {
	if d == nil {
		return
	}
	d.invalidScale.WithLabelValues(metric).Inc()
	d.mu.Lock()
	d.snap.InvalidScaleInputs[metric]++
	d.mu.Unlock()
}

// CloseMatch records a substring resolution.
func (d *Diagnostics) CloseMatch(string, string) {
	if d == nil {
		return
	}
	d.closeMatch.Inc()
	d.mu.Lock()
	d.snap.CloseMatches++
	d.mu.Unlock()
}

// BreakerState records a source breaker transition.
func (d *Diagnostics) BreakerState(source, state string) {
	if d == nil {
		return
	}
	open := 0.0
	if state != "closed" {
		open = 1
	}
	d.breaker.WithLabelValues(source).Set(open)
	d.mu.Lock()
	d.snap.Breakers[source] = state
	d.mu.Unlock()
}

// Snapshot returns a copy of the counters.
func (d *Diagnostics) Snapshot() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Snapshot{
		Unmatched:          maps.Clone(d.snap.Unmatched),
		Stale:              maps.Clone(d.snap.Stale),
		Failed:             maps.Clone(d.snap.Failed),
		InvalidScaleInputs: maps.Clone(d.snap.InvalidScaleInputs),
		CloseMatches:       d.snap.CloseMatches,
		Breakers:           maps.Clone(d.snap.Breakers),
		CollectedAt:        time.Now().UTC(),
	}
}
