// Package colorscale builds pure functions that map a metric value to a
// choropleth fill colour.
package colorscale

import (
	"math"
	"slices"
	"sort"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/rotisserie/eris"
)

// ErrInvalidScale is returned for malformed scale configuration.
var ErrInvalidScale = eris.New("colorscale: invalid scale")

// Kind selects the interpolation of a Scale.
type Kind string

const (
	Linear      Kind = "linear"
	Threshold   Kind = "threshold"
	Logarithmic Kind = "logarithmic"
)

// Option configures a Scale at build time.
type Option func(*Scale)

// OnInvalidInput registers a hook called with every value a scale could not
// place (NaN, or non-positive input to a logarithmic scale).
func OnInvalidInput(fn func(v float64)) Option {
	return func(s *Scale) { s.onInvalid = fn }
}

// Scale maps values to colours. It is immutable after construction and safe
// for concurrent use.
type Scale struct {
	kind    Kind
	domain  []float64
	colors  []colorful.Color
	missing colorful.Color

	onInvalid func(v float64)
}

// BuildLinear interpolates between adjacent stops and clamps outside the
// domain. len(domain) must equal len(colors) and be at least 2.
func BuildLinear(domain []float64, colors []colorful.Color, missing colorful.Color, opts ...Option) (*Scale, error) {
	if err := checkInterpolated(domain, colors); err != nil {
		return nil, eris.Wrap(err, "colorscale: build linear")
	}
	return newScale(Linear, domain, colors, missing, opts), nil
}

// BuildThreshold maps v to colors[i] where breakpoints[i-1] <= v <
// breakpoints[i], open-ended at both ends. len(colors) must equal
// len(breakpoints)+1.
func BuildThreshold(breakpoints []float64, colors []colorful.Color, missing colorful.Color, opts ...Option) (*Scale, error) {
	if len(breakpoints) == 0 {
		return nil, eris.Wrap(ErrInvalidScale, "colorscale: build threshold: no breakpoints")
	}
	if len(colors) != len(breakpoints)+1 {
		return nil, eris.Wrapf(ErrInvalidScale, "colorscale: build threshold: %d colors for %d breakpoints", len(colors), len(breakpoints))
	}
	if err := checkAscending(breakpoints); err != nil {
		return nil, eris.Wrap(err, "colorscale: build threshold")
	}
	return newScale(Threshold, breakpoints, colors, missing, opts), nil
}

// BuildLogarithmic is BuildLinear on log10(value). The domain must be
// strictly positive; values <= 0 map to the missing colour.
func BuildLogarithmic(domain []float64, colors []colorful.Color, missing colorful.Color, opts ...Option) (*Scale, error) {
	if err := checkInterpolated(domain, colors); err != nil {
		return nil, eris.Wrap(err, "colorscale: build logarithmic")
	}
	if domain[0] <= 0 {
		return nil, eris.Wrapf(ErrInvalidScale, "colorscale: build logarithmic: domain starts at %v", domain[0])
	}
	return newScale(Logarithmic, domain, colors, missing, opts), nil
}

func newScale(kind Kind, domain []float64, colors []colorful.Color, missing colorful.Color, opts []Option) *Scale {
	s := &Scale{
		kind:    kind,
		domain:  slices.Clone(domain),
		colors:  slices.Clone(colors),
		missing: missing,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func checkInterpolated(domain []float64, colors []colorful.Color) error {
	if len(domain) < 2 {
		return eris.Wrapf(ErrInvalidScale, "need at least 2 stops, got %d", len(domain))
	}
	if len(domain) != len(colors) {
		return eris.Wrapf(ErrInvalidScale, "%d colors for %d stops", len(colors), len(domain))
	}
	return checkAscending(domain)
}

func checkAscending(domain []float64) error {
	for i, v := range domain {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return eris.Wrapf(ErrInvalidScale, "stop %d is not finite", i)
		}
		if i > 0 && v <= domain[i-1] {
			return eris.Wrapf(ErrInvalidScale, "stops not strictly ascending at %d", i)
		}
	}
	return nil
}

// Kind returns the interpolation kind.
func (s *Scale) Kind() Kind { return s.kind }

// Domain returns a copy of the domain stops.
func (s *Scale) Domain() []float64 { return slices.Clone(s.domain) }

// Missing returns the colour used for absent or invalid values.
func (s *Scale) Missing() colorful.Color { return s.missing }

// Color maps an optional value. nil always yields the missing colour.
func (s *Scale) Color(v *float64) colorful.Color {
	if v == nil {
		return s.missing
	}
	return s.At(*v)
}

// Hex is Color formatted as #rrggbb.
func (s *Scale) Hex(v *float64) string {
	return s.Color(v).Hex()
}

// At maps a present value.
func (s *Scale) At(v float64) colorful.Color {
	if s.kind == Threshold {
		if math.IsNaN(v) {
			s.invalid(v)
			return s.missing
		}
		return s.colors[s.bucket(v)]
	}

	seg, t, ok := s.locate(v)
	if !ok {
		s.invalid(v)
		return s.missing
	}
	if t == 0 {
		return s.colors[seg]
	}
	return s.colors[seg].BlendRgb(s.colors[seg+1], t).Clamped()
}

// Position returns where v falls on the scale, normalized to [0, 1]. For
// threshold scales it is the bucket index over the bucket count. The second
// result is false when v cannot be placed.
func (s *Scale) Position(v float64) (float64, bool) {
	if s.kind == Threshold {
		if math.IsNaN(v) {
			return 0, false
		}
		return float64(s.bucket(v)) / float64(len(s.colors)-1), true
	}
	seg, t, ok := s.locate(v)
	if !ok {
		return 0, false
	}
	return (float64(seg) + t) / float64(len(s.domain)-1), true
}

// bucket returns the threshold colour index for v.
func (s *Scale) bucket(v float64) int {
	return sort.Search(len(s.domain), func(i int) bool { return s.domain[i] > v })
}

// locate returns the segment index and the interpolation factor in [0, 1)
// for interpolated scales; the last stop is reported as (n-1, 0).
func (s *Scale) locate(v float64) (int, float64, bool) {
	if math.IsNaN(v) {
		return 0, 0, false
	}
	x, lo, hi := v, s.domain[0], s.domain[len(s.domain)-1]
	if s.kind == Logarithmic {
		if v <= 0 {
			return 0, 0, false
		}
		x = math.Log10(v)
		lo, hi = math.Log10(lo), math.Log10(hi)
	}

	if x <= lo {
		return 0, 0, true
	}
	if x >= hi {
		return len(s.domain) - 1, 0, true
	}

	i := sort.SearchFloat64s(s.domain, v)
	// domain[i-1] < v <= domain[i]
	a, b := s.domain[i-1], s.domain[i]
	if s.kind == Logarithmic {
		a, b = math.Log10(a), math.Log10(b)
	}
	if x == b {
		return i, 0, true
	}
	return i - 1, (x - a) / (b - a), true
}

func (s *Scale) invalid(v float64) {
	if s.onInvalid != nil {
		s.onInvalid(v)
	}
}

// LegendEntry is one row of a map legend. From and To are nil for the
// open ends of a threshold scale.
type LegendEntry struct {
	From  *float64 `json:"from,omitempty"`
	To    *float64 `json:"to,omitempty"`
	Color string   `json:"color"`
}

// Legend returns the colour stops of the scale in ascending order.
func (s *Scale) Legend() []LegendEntry {
	out := make([]LegendEntry, 0, len(s.colors))
	if s.kind == Threshold {
		for i, c := range s.colors {
			e := LegendEntry{Color: c.Hex()}
			if i > 0 {
				from := s.domain[i-1]
				e.From = &from
			}
			if i < len(s.domain) {
				to := s.domain[i]
				e.To = &to
			}
			out = append(out, e)
		}
		return out
	}
	for i, c := range s.colors {
		v := s.domain[i]
		out = append(out, LegendEntry{From: &v, To: &v, Color: c.Hex()})
	}
	return out
}

// ParseColors parses hex colour strings (#rgb or #rrggbb).
func ParseColors(hexes []string) ([]colorful.Color, error) {
	out := make([]colorful.Color, 0, len(hexes))
	for _, h := range hexes {
		c, err := colorful.Hex(h)
		if err != nil {
			return nil, eris.Wrapf(ErrInvalidScale, "colorscale: parse color %q: %v", h, err)
		}
		out = append(out, c)
	}
	return out, nil
}
