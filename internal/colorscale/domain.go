package colorscale

import (
	"math"
	"slices"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Spec describes a scale in configuration terms.
type Spec struct {
	Kind    Kind
	Domain  []float64
	Colors  []string
	Missing string
	// Quantiles derives the domain from the value distribution instead of
	// using Domain.
	Quantiles bool
}

// DefaultMissing is the fill for countries without data.
const DefaultMissing = "#d9d9d9"

// DefaultSpecs are the palettes of the tariff and trade-deficit maps.
func DefaultSpecs() map[string]Spec {
	return map[string]Spec{
		"tariff_rate": {
			Kind:   Threshold,
			Domain: []float64{10, 25, 50},
			Colors: []string{"#ffffb2", "#fecc5c", "#fd8d3c", "#e31a1c"},
		},
		"claimed_tariff": {
			Kind:   Threshold,
			Domain: []float64{10, 25, 50},
			Colors: []string{"#ffffb2", "#fecc5c", "#fd8d3c", "#e31a1c"},
		},
		"applied_tariff": {
			Kind:   Threshold,
			Domain: []float64{2, 5, 10},
			Colors: []string{"#f1eef6", "#bdc9e1", "#74a9cf", "#0570b0"},
		},
		"deficit": {
			Kind:   Linear,
			Domain: []float64{-500000, 0, 500000},
			Colors: []string{"#b2182b", "#f7f7f7", "#2166ac"},
		},
	}
}

// FromSpec builds a scale from spec. values is the current distribution of
// the metric and is only consulted when spec.Quantiles is set.
func FromSpec(spec Spec, values []float64, opts ...Option) (*Scale, error) {
	colors, err := ParseColors(spec.Colors)
	if err != nil {
		return nil, err
	}
	missingHex := spec.Missing
	if missingHex == "" {
		missingHex = DefaultMissing
	}
	missing, err := colorful.Hex(missingHex)
	if err != nil {
		return nil, eris.Wrapf(ErrInvalidScale, "colorscale: parse missing color %q: %v", missingHex, err)
	}

	domain := spec.Domain
	if spec.Quantiles {
		if d, ok := derivedDomain(spec.Kind, values, len(colors)); ok {
			domain = d
		}
	}

	switch spec.Kind {
	case Linear, "":
		return BuildLinear(domain, colors, missing, opts...)
	case Threshold:
		return BuildThreshold(domain, colors, missing, opts...)
	case Logarithmic:
		return BuildLogarithmic(domain, colors, missing, opts...)
	default:
		return nil, eris.Wrapf(ErrInvalidScale, "colorscale: unknown kind %q", spec.Kind)
	}
}

// derivedDomain computes a domain from values that fits ncolors colours.
func derivedDomain(kind Kind, values []float64, ncolors int) ([]float64, bool) {
	if ncolors < 2 {
		return nil, false
	}
	values = sortedFinite(values)
	if kind == Logarithmic {
		values = positive(values)
	}
	if len(values) < 2 {
		return nil, false
	}

	if kind == Threshold {
		b := QuantileBreaks(values, ncolors)
		return b, len(b) == ncolors-1
	}

	d := QuantileDomain(values, ncolors)
	if len(d) == ncolors {
		return d, true
	}

	// Ties collapsed quantiles; fall back to even spacing over the range.
	lo, hi := floats.Min(values), floats.Max(values)
	if lo >= hi {
		return nil, false
	}
	d = make([]float64, ncolors)
	if kind == Logarithmic {
		floats.LogSpan(d, lo, hi)
	} else {
		floats.Span(d, lo, hi)
	}
	return d, true
}

// QuantileDomain returns n stops at the evenly spaced quantiles of values,
// from the minimum to the maximum, with duplicates removed. n < 2 or empty
// input returns nil.
func QuantileDomain(values []float64, n int) []float64 {
	sorted := sortedFinite(values)
	if n < 2 || len(sorted) == 0 {
		return nil
	}
	out := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		p := float64(i) / float64(n-1)
		out = appendDistinct(out, stat.Quantile(p, stat.Empirical, sorted, nil))
	}
	return out
}

// QuantileBreaks returns the classes-1 interior breakpoints that split values
// into classes groups of equal size, with duplicates removed.
func QuantileBreaks(values []float64, classes int) []float64 {
	sorted := sortedFinite(values)
	if classes < 2 || len(sorted) == 0 {
		return nil
	}
	out := make([]float64, 0, classes-1)
	for i := 1; i < classes; i++ {
		p := float64(i) / float64(classes)
		out = appendDistinct(out, stat.Quantile(p, stat.Empirical, sorted, nil))
	}
	return out
}

func appendDistinct(out []float64, v float64) []float64 {
	if len(out) > 0 && v <= out[len(out)-1] {
		return out
	}
	return append(out, v)
}

func sortedFinite(values []float64) []float64 {
	out := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			out = append(out, v)
		}
	}
	slices.Sort(out)
	return out
}

func positive(values []float64) []float64 {
	out := make([]float64, 0, len(values))
	for _, v := range values {
		if v > 0 {
			out = append(out, v)
		}
	}
	return out
}
