package metrics

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/tariff-map/internal/identity"
)

type countingObserver struct {
	mu        sync.Mutex
	unmatched map[string]int
	stale     int
	failed    int
}

func (o *countingObserver) Unmatched(source string, n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.unmatched == nil {
		o.unmatched = make(map[string]int)
	}
	o.unmatched[source] = n
}

func (o *countingObserver) Stale(string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stale++
}

func (o *countingObserver) FetchFailed(string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failed++
}

func TestFence_OrdersByIssue(t *testing.T) {
	fence := NewFence()
	first := fence.Issue()
	second := fence.Issue()
	require.Less(t, first, second)

	assert.True(t, fence.Accept("deficits", second))
	assert.False(t, fence.Accept("deficits", first))
	assert.False(t, fence.Accept("deficits", second), "a response is applied once")
	assert.Equal(t, second, fence.Applied("deficits"))

	// Keys are fenced independently.
	assert.True(t, fence.Accept("tariffs", first))
}

func TestStore_StaleResponseRejected(t *testing.T) {
	obs := &countingObserver{}
	store := NewStore(identity.NewHolder(testRegistry(t)), obs)

	seq1 := store.Issue() // year 2023
	seq2 := store.Issue() // year 2024

	// Response 2 arrives first.
	applied := store.Apply("deficits", seq2, Set{Metric: Deficit, Source: "deficits", Records: []Record{
		{Country: identity.ISO3("CHN"), Value: f(-2024)},
	}})
	require.True(t, applied)

	applied = store.Apply("deficits", seq1, Set{Metric: Deficit, Source: "deficits", Records: []Record{
		{Country: identity.ISO3("CHN"), Value: f(-2023)},
	}})
	assert.False(t, applied)

	assert.Equal(t, -2024.0, *store.Current().Record("CHN").Deficit())
	assert.Equal(t, 1, obs.stale)
}

func TestStore_SupersedesWholesale(t *testing.T) {
	store := NewStore(identity.NewHolder(testRegistry(t)), nil)

	store.Apply("tariffs", store.Issue(), tariffSet("tariffs",
		Record{Country: identity.ISO3("DEU"), Value: f(1)},
		Record{Country: identity.ISO3("FRA"), Value: f(2)},
	))
	store.Apply("tariffs", store.Issue(), tariffSet("tariffs",
		Record{Country: identity.ISO3("DEU"), Value: f(3)},
	))

	cur := store.Current()
	assert.Equal(t, 3.0, *cur.Record("DEU").TariffRate())
	assert.Nil(t, cur.Record("FRA"), "no partial patching")
	assert.Equal(t, []string{"tariffs"}, store.Sources())
}

func TestStore_MostRecentSourceWins(t *testing.T) {
	store := NewStore(identity.NewHolder(testRegistry(t)), nil)

	store.Apply("b", store.Issue(), tariffSet("b", Record{Country: identity.ISO3("DEU"), Value: f(1)}))
	store.Apply("a", store.Issue(), tariffSet("a", Record{Country: identity.ISO3("DEU"), Value: f(2)}))
	assert.Equal(t, 2.0, *store.Current().Record("DEU").TariffRate())

	store.Apply("b", store.Issue(), tariffSet("b", Record{Country: identity.ISO3("DEU"), Value: f(3)}))
	assert.Equal(t, 3.0, *store.Current().Record("DEU").TariffRate())
}

func TestStore_FailureIsolation(t *testing.T) {
	obs := &countingObserver{}
	store := NewStore(identity.NewHolder(testRegistry(t)), obs)

	store.Apply("tariffs", store.Issue(), tariffSet("tariffs", Record{Country: identity.ISO3("DEU"), Value: f(10)}))
	store.Apply("deficits", store.Issue(), Set{Metric: Deficit, Source: "deficits", Err: errors.New("connection refused")})

	cur := store.Current()
	assert.Equal(t, 10.0, *cur.Record("DEU").TariffRate())
	assert.Nil(t, cur.Record("DEU").Deficit())
	assert.Equal(t, []string{Deficit}, cur.Absent)
	assert.Equal(t, 1, obs.failed)
}

func TestStore_RejoinAfterRegistrySwap(t *testing.T) {
	holder := identity.NewHolder(identity.New())
	obs := &countingObserver{}
	store := NewStore(holder, obs)

	store.Apply("tariffs", store.Issue(), tariffSet("tariffs", Record{Country: identity.Auto("GER"), Value: f(12.4)}))
	assert.Nil(t, store.Current().Record("DEU"))
	assert.Equal(t, 1, obs.unmatched["tariffs"])

	holder.Swap(testRegistry(t))
	store.Rejoin()
	assert.Equal(t, 12.4, *store.Current().Record("DEU").TariffRate())
	assert.Equal(t, 0, obs.unmatched["tariffs"])
}

func TestStore_EmptyBeforeFirstFetch(t *testing.T) {
	store := NewStore(identity.NewHolder(testRegistry(t)), nil)
	require.NotNil(t, store.Current())
	assert.Nil(t, store.Current().Record("DEU"))
}
