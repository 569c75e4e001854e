package geography

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
)

// rawFeature decodes the parts of a GeoJSON feature that go-geom's Feature
// type is strict about: the id may be a number and properties may hold any
// JSON value.
type rawFeature struct {
	ID         json.RawMessage `json:"id"`
	Properties map[string]any  `json:"properties"`
	Geometry   json.RawMessage `json:"geometry"`
}

// ReadGeoJSON reads a FeatureCollection. A feature's top-level id is offered
// to opts as the "id" property.
func ReadGeoJSON(r io.Reader, opts Options) ([]Feature, error) {
	var fc struct {
		Type     string       `json:"type"`
		Features []rawFeature `json:"features"`
	}
	if err := json.NewDecoder(r).Decode(&fc); err != nil {
		return nil, eris.Wrap(err, "geography: decode geojson")
	}
	if fc.Type != "FeatureCollection" {
		return nil, eris.Errorf("geography: expected FeatureCollection, got %q", fc.Type)
	}

	out := make([]Feature, 0, len(fc.Features))
	for i, raw := range fc.Features {
		props := make(map[string]string, len(raw.Properties)+1)
		for k, v := range raw.Properties {
			props[k] = propString(v)
		}
		if id := rawID(raw.ID); id != "" {
			if _, ok := props["id"]; !ok {
				props["id"] = id
			}
		}
		tok, name, ok := opts.pick(props)
		if !ok {
			continue
		}
		var g geom.T
		if len(raw.Geometry) > 0 && string(raw.Geometry) != "null" {
			if err := geojson.Unmarshal(raw.Geometry, &g); err != nil {
				return nil, eris.Wrapf(err, "geography: feature %d geometry", i)
			}
		}
		out = append(out, Feature{ID: tok, Name: name, Properties: props, Geometry: g})
	}
	return out, nil
}

func rawID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

func propString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	default:
		return fmt.Sprint(t)
	}
}

// Styler returns the extra properties written for one feature, for example
// its fill colour.
type Styler func(Feature) map[string]any

// WriteGeoJSON writes features as a FeatureCollection. Each feature keeps
// its raw identifier as "id" and gains the properties style returns.
// Features without geometry are left out.
func WriteGeoJSON(w io.Writer, features []Feature, style Styler) error {
	fc := geojson.FeatureCollection{Features: make([]*geojson.Feature, 0, len(features))}
	for _, f := range features {
		if f.Geometry == nil {
			continue
		}
		props := map[string]any{"name": f.Name}
		if style != nil {
			for k, v := range style(f) {
				props[k] = v
			}
		}
		fc.Features = append(fc.Features, &geojson.Feature{
			ID:         f.ID.Value,
			Geometry:   f.Geometry,
			Properties: props,
		})
	}
	data, err := fc.MarshalJSON()
	if err != nil {
		return eris.Wrap(err, "geography: encode geojson")
	}
	if _, err := w.Write(data); err != nil {
		return eris.Wrap(err, "geography: write geojson")
	}
	return nil
}
