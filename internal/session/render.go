package session

import (
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/tariff-map/internal/colorscale"
	"github.com/sells-group/tariff-map/internal/identity"
	"github.com/sells-group/tariff-map/internal/metrics"
)

// Tooltip is the hover payload for one country.
type Tooltip struct {
	Country     string               `json:"country"`
	Name        string               `json:"name"`
	TradeRegion string               `json:"trade_region,omitempty"`
	Metrics     map[string]float64   `json:"metrics"`
	Inherited   map[string]string    `json:"inherited,omitempty"`
	AsOf        map[string]time.Time `json:"as_of,omitempty"`
}

// GetFillColor returns the hex fill for a boundary identifier under the
// active metric. Unresolved tokens, countries without a record, null or
// unmappable values and metrics still being fetched all get the missing
// colour.
func (s *Session) GetFillColor(tok identity.Token) string {
	metric := s.ActiveMetric()
	res := s.store.Current()
	scale := s.scale(res, metric)
	iso3, ok := s.holder.Load().Resolve(tok)
	if !ok {
		return scale.Hex(nil)
	}
	return scale.Hex(res.Record(iso3).ValuePtr(metric))
}

// Colors returns the fill of every joined country under the active metric,
// keyed by ISO3.
func (s *Session) Colors() map[string]string {
	metric := s.ActiveMetric()
	res := s.store.Current()
	scale := s.scale(res, metric)
	out := make(map[string]string, len(res.Records))
	for iso3, rec := range res.Records {
		out[iso3] = scale.Hex(rec.ValuePtr(metric))
	}
	return out
}

// Legend returns the colour stops of metric's scale, or of the active
// metric when metric is empty.
func (s *Session) Legend(metric string) ([]colorscale.LegendEntry, error) {
	if metric == "" {
		metric = s.ActiveMetric()
	}
	s.mu.Lock()
	_, ok := s.specs[metric]
	s.mu.Unlock()
	if !ok {
		return nil, ErrUnknownMetric
	}
	return s.scale(s.store.Current(), metric).Legend(), nil
}

// GetTooltipPayload returns the tooltip for a boundary identifier, or nil
// when it does not resolve or has no joined record.
func (s *Session) GetTooltipPayload(tok identity.Token) *Tooltip {
	reg := s.holder.Load()
	iso3, ok := reg.Resolve(tok)
	if !ok {
		return nil
	}
	rec := s.store.Current().Record(iso3)
	if rec == nil {
		return nil
	}

	t := &Tooltip{Country: iso3, Name: iso3, Metrics: rec.Values()}
	if c, ok := reg.Lookup(iso3); ok {
		t.Name = c.Name
		t.TradeRegion = c.TradeRegion
	}
	for metric := range t.Metrics {
		if from := rec.InheritedFrom(metric); from != "" {
			if t.Inherited == nil {
				t.Inherited = make(map[string]string)
			}
			t.Inherited[metric] = from
		}
		if at := rec.AsOf(metric); !at.IsZero() {
			if t.AsOf == nil {
				t.AsOf = make(map[string]time.Time)
			}
			t.AsOf[metric] = at
		}
	}
	return t
}

// scale returns metric's scale for the join res; values coloured with it
// must be read from the same res. Scales are rebuilt when the join changes. A metric without a spec, or
// whose derived scale cannot be built, renders everything missing.
func (s *Session) scale(res *metrics.Result, metric string) *colorscale.Scale {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scaleOf != res {
		s.scales = make(map[string]*colorscale.Scale, len(s.specs))
		s.scaleOf = res
	}
	if sc, ok := s.scales[metric]; ok {
		return sc
	}

	spec, ok := s.specs[metric]
	if !ok {
		spec = colorscale.Spec{Missing: s.opts.Missing}
	}
	var values []float64
	if spec.Quantiles {
		values = res.Values(metric)
	}
	sc, err := colorscale.FromSpec(spec, values, colorscale.OnInvalidInput(func(float64) {
		s.diag.InvalidScaleInput(metric)
	}))
	if err != nil {
		if ok {
			s.log.Warn("session: scale unavailable, rendering missing",
				zap.String("metric", metric), zap.Error(err))
		}
		sc = s.missingOnly(spec.Missing)
	}
	s.scales[metric] = sc
	return sc
}

// missingOnly is a scale whose every input renders as missing.
func (s *Session) missingOnly(missingHex string) *colorscale.Scale {
	if missingHex == "" {
		missingHex = s.opts.Missing
	}
	sc, err := colorscale.FromSpec(colorscale.Spec{
		Kind:    colorscale.Threshold,
		Domain:  []float64{0},
		Colors:  []string{missingHex, missingHex},
		Missing: missingHex,
	}, nil)
	if err != nil {
		sc, _ = colorscale.FromSpec(colorscale.Spec{
			Kind:   colorscale.Threshold,
			Domain: []float64{0},
			Colors: []string{colorscale.DefaultMissing, colorscale.DefaultMissing},
		}, nil)
	}
	return sc
}
