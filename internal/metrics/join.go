// Package metrics merges independently fetched per-country metric sets into
// one joined record per resolvable country.
package metrics

import (
	"sort"
	"time"

	"github.com/sells-group/tariff-map/internal/identity"
)

// Well-known metric names.
const (
	TariffRate    = "tariff_rate"
	ClaimedTariff = "claimed_tariff"
	Deficit       = "deficit"
	AppliedTariff = "applied_tariff"
)

// Record is one country's value for one metric from one fetch. A nil Value
// means the source reported the country without data.
type Record struct {
	Country identity.Token
	Value   *float64
	AsOf    time.Time
	Source  string
}

// Set is the result of one fetch of one source. A non-nil Err marks a
// failed fetch: the set contributes no values and its metric reads as
// absent for every country.
type Set struct {
	Metric  string
	Source  string
	Records []Record
	Err     error
}

// Joined is the merged view of every active metric for one country. It is
// never modified after Join returns.
type Joined struct {
	Country   string
	values    map[string]float64
	inherited map[string]string
	asOf      map[string]time.Time
}

// Value returns the metric's value and whether one is present.
func (j *Joined) Value(metric string) (float64, bool) {
	if j == nil {
		return 0, false
	}
	v, ok := j.values[metric]
	return v, ok
}

// ValuePtr is Value as an optional.
func (j *Joined) ValuePtr(metric string) *float64 {
	v, ok := j.Value(metric)
	if !ok {
		return nil
	}
	return &v
}

// TariffRate returns the reciprocal tariff rate.
func (j *Joined) TariffRate() *float64 { return j.ValuePtr(TariffRate) }

// ClaimedTariff returns the tariff the partner was claimed to charge.
func (j *Joined) ClaimedTariff() *float64 { return j.ValuePtr(ClaimedTariff) }

// Deficit returns the trade balance in thousands of USD.
func (j *Joined) Deficit() *float64 { return j.ValuePtr(Deficit) }

// InheritedFrom returns the aggregate a value was inherited from, or "" for
// direct values.
func (j *Joined) InheritedFrom(metric string) string {
	if j == nil {
		return ""
	}
	return j.inherited[metric]
}

// AsOf returns the reporting date of a metric value.
func (j *Joined) AsOf(metric string) time.Time {
	if j == nil {
		return time.Time{}
	}
	return j.asOf[metric]
}

// Values returns a copy of every present metric value.
func (j *Joined) Values() map[string]float64 {
	if j == nil {
		return nil
	}
	out := make(map[string]float64, len(j.values))
	for k, v := range j.values {
		out[k] = v
	}
	return out
}

// Unmatched counts records of one source whose token did not resolve.
type Unmatched struct {
	Source string `json:"source"`
	Token  string `json:"token"`
	Count  int    `json:"count"`
}

// Result is the output of one Join.
type Result struct {
	Records   map[string]*Joined
	Unmatched []Unmatched
	// Absent lists metrics whose only sets failed.
	Absent []string
	// Metrics lists the metrics of the input sets in first-seen order.
	Metrics []string
}

// Record returns the joined record for iso3, or nil.
func (r *Result) Record(iso3 string) *Joined {
	if r == nil {
		return nil
	}
	return r.Records[iso3]
}

// UnmatchedTotal returns the number of dropped records.
func (r *Result) UnmatchedTotal() int {
	var n int
	for _, u := range r.Unmatched {
		n += u.Count
	}
	return n
}

// Values returns the present values of metric across all countries, sorted.
func (r *Result) Values(metric string) []float64 {
	if r == nil {
		return nil
	}
	var out []float64
	for _, j := range r.Records {
		if v, ok := j.values[metric]; ok {
			out = append(out, v)
		}
	}
	sort.Float64s(out)
	return out
}

type cell struct {
	value float64
	asOf  time.Time
}

type inheritance struct {
	aggregate string
	metric    string
	cell      cell
}

// Join resolves every record through reg and merges the sets in order. A
// later direct value for a country and metric replaces an earlier one.
// Values reported for an aggregate are inherited by each member that has no
// direct value for that metric; direct always beats inherited. Records that
// do not resolve are dropped and counted. Join shares no state between
// calls.
func Join(reg *identity.Registry, sets []Set) *Result {
	direct := make(map[string]map[string]cell)
	var inherits []inheritance
	unmatched := make(map[[2]string]int)

	res := &Result{Records: make(map[string]*Joined)}
	seen := make(map[string]bool)
	succeeded := make(map[string]bool)

	for _, set := range sets {
		if !seen[set.Metric] {
			seen[set.Metric] = true
			res.Metrics = append(res.Metrics, set.Metric)
		}
		if set.Err != nil {
			continue
		}
		succeeded[set.Metric] = true

		for _, rec := range set.Records {
			iso3, ok := reg.Resolve(rec.Country)
			if !ok {
				unmatched[[2]string{set.Source, rec.Country.Value}]++
				continue
			}
			ensure(res, iso3)
			if rec.Value == nil {
				continue
			}

			c := cell{value: *rec.Value, asOf: rec.AsOf}
			if direct[iso3] == nil {
				direct[iso3] = make(map[string]cell)
			}
			direct[iso3][set.Metric] = c

			if reg.IsAggregate(iso3) {
				inherits = append(inherits, inheritance{aggregate: iso3, metric: set.Metric, cell: c})
			}
		}
	}

	for iso3, metrics := range direct {
		j := res.Records[iso3]
		for metric, c := range metrics {
			j.values[metric] = c.value
			j.asOf[metric] = c.asOf
		}
	}

	// Inheritance runs after every direct value is known, so a member's own
	// value wins regardless of set order. Among aggregates the later wins.
	for _, in := range inherits {
		for _, member := range reg.ExpandAggregate(in.aggregate) {
			if _, ok := direct[member][in.metric]; ok {
				continue
			}
			j := ensure(res, member)
			j.values[in.metric] = in.cell.value
			j.asOf[in.metric] = in.cell.asOf
			j.inherited[in.metric] = in.aggregate
		}
	}

	for _, metric := range res.Metrics {
		if !succeeded[metric] {
			res.Absent = append(res.Absent, metric)
		}
	}

	for key, n := range unmatched {
		res.Unmatched = append(res.Unmatched, Unmatched{Source: key[0], Token: key[1], Count: n})
	}
	sort.Slice(res.Unmatched, func(i, j int) bool {
		a, b := res.Unmatched[i], res.Unmatched[j]
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		return a.Token < b.Token
	})

	return res
}

func ensure(res *Result, iso3 string) *Joined {
	j, ok := res.Records[iso3]
	if !ok {
		j = &Joined{
			Country:   iso3,
			values:    make(map[string]float64),
			inherited: make(map[string]string),
			asOf:      make(map[string]time.Time),
		}
		res.Records[iso3] = j
	}
	return j
}
