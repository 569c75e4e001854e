package monitoring

import (
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestDiagnostics_CountsAndExports(t *testing.T) {
	d := NewDiagnostics(prometheus.NewRegistry())

	d.Unmatched("tariffs", 4)
	d.Unmatched("tariffs", 2)
	d.Stale("deficits")
	d.Stale("deficits")
	d.FetchFailed("deficits")
	d.InvalidScaleInput("deficit")
	d.CloseMatch("Federal Republic of Nigeria", "NGA")
	d.BreakerState("deficits", "open")

	snap := d.Snapshot()
	assert.Equal(t, map[string]int{"tariffs": 2}, snap.Unmatched, "unmatched is the latest join, not a running total")
	assert.Equal(t, 2, snap.Stale["deficits"])
	assert.Equal(t, 1, snap.Failed["deficits"])
	assert.Equal(t, 1, snap.FailedTotal())
	assert.Equal(t, 1, snap.InvalidScaleInputs["deficit"])
	assert.Equal(t, 1, snap.CloseMatches)
	assert.Equal(t, "open", snap.Breakers["deficits"])
	assert.False(t, snap.CollectedAt.IsZero())

	assert.InDelta(t, 2, testutil.ToFloat64(d.unmatched.WithLabelValues("tariffs")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(d.stale.WithLabelValues("deficits")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(d.breaker.WithLabelValues("deficits")), 0)

	d.BreakerState("deficits", "closed")
	assert.InDelta(t, 0, testutil.ToFloat64(d.breaker.WithLabelValues("deficits")), 0)
}

func TestDiagnostics_SnapshotIsCopy(t *testing.T) {
	d := NewDiagnostics(prometheus.NewRegistry())
	d.Stale("tariffs")
	snap := d.Snapshot()
	snap.Stale["tariffs"] = 100
	assert.Equal(t, 1, d.Snapshot().Stale["tariffs"])
}

func TestDiagnostics_NilSafe(t *testing.T) {
	var d *Diagnostics
	assert.NotPanics(t, func() {
		d.Unmatched("x", 1)
		d.Stale("x")
		d.FetchFailed("x")
		d.InvalidScaleInput("x")
		d.CloseMatch("a", "b")
		d.BreakerState("x", "open")
	})
}

func TestDiagnostics_Concurrent(t *testing.T) {
	d := NewDiagnostics(prometheus.NewRegistry())
	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				d.Stale("deficits")
				_ = d.Snapshot()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1000, d.Snapshot().Stale["deficits"])
}
