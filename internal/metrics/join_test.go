package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/tariff-map/internal/identity"
)

func f(v float64) *float64 { return &v }

func testRegistry(t *testing.T) *identity.Registry {
	t.Helper()
	r := identity.New()
	require.NoError(t, r.Register(identity.Country{ISO3: "DEU", NumericID: 276, Name: "Germany", Aliases: []string{"GER", "DE"}}))
	require.NoError(t, r.Register(identity.Country{ISO3: "FRA", NumericID: 250, Name: "France"}))
	require.NoError(t, r.Register(identity.Country{ISO3: "CHN", NumericID: 156, Name: "China"}))
	require.NoError(t, identity.SeedRegistry(r))
	return r
}

func tariffSet(source string, recs ...Record) Set {
	for i := range recs {
		recs[i].Source = source
	}
	return Set{Metric: TariffRate, Source: source, Records: recs}
}

func TestJoin_ResolvesEveryScheme(t *testing.T) {
	r := testRegistry(t)
	require.NoError(t, r.MergeAliases(map[string]string{"BRD": "DEU", "PRC": "CHN"}))

	tests := []struct {
		name string
		tok  identity.Token
		want string
	}{
		{"auto alias", identity.Auto("GER"), "DEU"},
		{"iso3", identity.ISO3("FRA"), "FRA"},
		{"iso3 alternative code", identity.ISO3("GER"), "DEU"},
		{"iso3 merged alias", identity.ISO3("BRD"), "DEU"},
		{"name alternative code", identity.Name("GER"), "DEU"},
		{"name merged alias", identity.Name("PRC"), "CHN"},
		{"numeric", identity.Numeric(250), "FRA"},
		{"name", identity.Name("China"), "CHN"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Join(r, []Set{tariffSet("tariffs", Record{Country: tt.tok, Value: f(12.4)})})
			assert.Empty(t, res.Unmatched)
			rec := res.Record(tt.want)
			require.NotNil(t, rec)
			assert.Equal(t, 12.4, *rec.TariffRate())
			assert.Equal(t, []string{TariffRate}, res.Metrics)
			assert.Empty(t, res.Absent)
		})
	}
}

func TestJoin_AggregateInheritance(t *testing.T) {
	r := testRegistry(t)
	res := Join(r, []Set{tariffSet("tariffs",
		Record{Country: identity.Auto("European Union"), Value: f(20)},
	)})

	fra := res.Record("FRA")
	require.NotNil(t, fra)
	assert.Equal(t, 20.0, *fra.TariffRate())
	assert.Equal(t, "EUU", fra.InheritedFrom(TariffRate))

	// Members never registered as identities still inherit.
	assert.Equal(t, 20.0, *res.Record("AUT").TariffRate())
	// The aggregate keeps its own record.
	assert.Equal(t, 20.0, *res.Record("EUU").TariffRate())
	assert.Equal(t, "", res.Record("EUU").InheritedFrom(TariffRate))
}

func TestJoin_DirectBeatsInherited(t *testing.T) {
	r := testRegistry(t)

	// Member first, aggregate later, in one set and across sets.
	orders := [][]Set{
		{tariffSet("a", Record{Country: identity.ISO3("DEU"), Value: f(5)}, Record{Country: identity.ISO3("EUU"), Value: f(20)})},
		{tariffSet("a", Record{Country: identity.ISO3("EUU"), Value: f(20)}, Record{Country: identity.ISO3("DEU"), Value: f(5)})},
		{tariffSet("a", Record{Country: identity.ISO3("DEU"), Value: f(5)}), tariffSet("b", Record{Country: identity.ISO3("EUU"), Value: f(20)})},
		{tariffSet("b", Record{Country: identity.ISO3("EUU"), Value: f(20)}), tariffSet("a", Record{Country: identity.ISO3("DEU"), Value: f(5)})},
	}
	for i, sets := range orders {
		res := Join(r, sets)
		assert.Equal(t, 5.0, *res.Record("DEU").TariffRate(), "order %d", i)
		assert.Equal(t, "", res.Record("DEU").InheritedFrom(TariffRate), "order %d", i)
		assert.Equal(t, 20.0, *res.Record("FRA").TariffRate(), "order %d", i)
	}
}

func TestJoin_NullDirectIsFilledByAggregate(t *testing.T) {
	r := testRegistry(t)
	res := Join(r, []Set{tariffSet("a",
		Record{Country: identity.ISO3("DEU"), Value: nil},
		Record{Country: identity.ISO3("EUU"), Value: f(20)},
	)})
	assert.Equal(t, 20.0, *res.Record("DEU").TariffRate())
}

func TestJoin_LaterDirectWins(t *testing.T) {
	r := testRegistry(t)
	res := Join(r, []Set{
		tariffSet("old", Record{Country: identity.ISO3("DEU"), Value: f(1)}),
		tariffSet("new", Record{Country: identity.Auto("Germany"), Value: f(2)}),
	})
	assert.Equal(t, 2.0, *res.Record("DEU").TariffRate())
}

func TestJoin_MultipleMetrics(t *testing.T) {
	r := testRegistry(t)
	asOf := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	res := Join(r, []Set{
		tariffSet("tariffs", Record{Country: identity.ISO3("CHN"), Value: f(34)}),
		{Metric: Deficit, Source: "deficits", Records: []Record{{Country: identity.ISO3("CHN"), Value: f(-295000), AsOf: asOf}}},
	})

	chn := res.Record("CHN")
	assert.Equal(t, 34.0, *chn.TariffRate())
	assert.Equal(t, -295000.0, *chn.Deficit())
	assert.Nil(t, chn.ClaimedTariff())
	assert.Equal(t, asOf, chn.AsOf(Deficit))
	assert.Equal(t, map[string]float64{TariffRate: 34, Deficit: -295000}, chn.Values())
	assert.Equal(t, []float64{-295000}, res.Values(Deficit))
}

func TestJoin_UnmatchedIsCountedNotFatal(t *testing.T) {
	r := testRegistry(t)
	res := Join(r, []Set{tariffSet("tariffs",
		Record{Country: identity.Auto("Atlantis"), Value: f(1)},
		Record{Country: identity.Auto("Atlantis"), Value: f(2)},
		Record{Country: identity.Numeric(999), Value: f(3)},
		Record{Country: identity.ISO3("DEU"), Value: f(4)},
	)})

	assert.Len(t, res.Records, 1)
	assert.Equal(t, []Unmatched{
		{Source: "tariffs", Token: "999", Count: 1},
		{Source: "tariffs", Token: "Atlantis", Count: 2},
	}, res.Unmatched)
	assert.Equal(t, 3, res.UnmatchedTotal())
}

func TestJoin_FailedSetIsIsolated(t *testing.T) {
	r := testRegistry(t)
	res := Join(r, []Set{
		{Metric: Deficit, Source: "deficits", Err: errors.New("timeout")},
		tariffSet("tariffs", Record{Country: identity.ISO3("DEU"), Value: f(10)}),
	})

	assert.Equal(t, []string{Deficit}, res.Absent)
	assert.Equal(t, 10.0, *res.Record("DEU").TariffRate())
	assert.Nil(t, res.Record("DEU").Deficit())
}

func TestJoin_Idempotent(t *testing.T) {
	r := testRegistry(t)
	sets := []Set{tariffSet("a",
		Record{Country: identity.ISO3("EUU"), Value: f(20)},
		Record{Country: identity.ISO3("DEU"), Value: f(5)},
	)}
	first := Join(r, sets)
	second := Join(r, sets)

	assert.NotSame(t, first.Record("DEU"), second.Record("DEU"))
	assert.Equal(t, first.Record("DEU").Values(), second.Record("DEU").Values())
	assert.Equal(t, len(first.Records), len(second.Records))
}

func TestJoined_NilSafe(t *testing.T) {
	var j *Joined
	_, ok := j.Value(TariffRate)
	assert.False(t, ok)
	assert.Nil(t, j.TariffRate())
	assert.Equal(t, "", j.InheritedFrom(TariffRate))

	var res *Result
	assert.Nil(t, res.Record("DEU"))
}
