// Package geography reads country boundary datasets into features keyed by
// their raw country identifier, and writes them back out as GeoJSON.
package geography

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/tariff-map/internal/fetcher"
	"github.com/sells-group/tariff-map/internal/identity"
)

// Feature is one boundary shape. ID is the dataset's own identifier and is
// resolved through the registry at render time, never here.
type Feature struct {
	ID         identity.Token
	Name       string
	Properties map[string]string
	Geometry   geom.T
}

// Options selects which attributes identify a feature.
type Options struct {
	// IDFields are tried in order; the first non-placeholder value wins.
	// Natural Earth uses ISO_A3 with "-99" for several countries, so
	// ADM0_A3 is a useful fallback.
	IDFields []string
	// Scheme tags the ID. SchemeAuto when unset.
	Scheme    identity.Scheme
	NameField string
}

// DefaultOptions reads Natural Earth admin-0 attributes.
func DefaultOptions() Options {
	return Options{
		IDFields:  []string{"ISO_A3", "ISO_A3_EH", "ADM0_A3", "id"},
		NameField: "NAME",
	}
}

// WithIDField puts field ahead of the defaults.
func (o Options) WithIDField(field string) Options {
	if field == "" {
		return o
	}
	fields := []string{field}
	for _, f := range o.IDFields {
		if !strings.EqualFold(f, field) {
			fields = append(fields, f)
		}
	}
	o.IDFields = fields
	return o
}

// placeholder reports identifier values datasets use for "no code".
func placeholder(v string) bool {
	switch strings.TrimSpace(v) {
	case "", "-99", "-1", "null":
		return true
	}
	return false
}

// pick returns the first usable identifier and display name from props.
// Lookups are case-insensitive.
func (o Options) pick(props map[string]string) (identity.Token, string, bool) {
	lower := make(map[string]string, len(props))
	for k, v := range props {
		lower[strings.ToLower(k)] = v
	}
	name := lower[strings.ToLower(o.NameField)]
	for _, f := range o.IDFields {
		if v := lower[strings.ToLower(f)]; !placeholder(v) {
			return identity.Token{Scheme: o.Scheme, Value: strings.TrimSpace(v)}, name, true
		}
	}
	return identity.Token{}, name, false
}

// Load reads a boundary file by extension: .shp, .zip (a zipped shapefile)
// or .geojson/.json.
func Load(path string, opts Options) ([]Feature, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".shp":
		return ReadShapefile(path, opts)
	case ".zip":
		dir, err := os.MkdirTemp("", "tariffmap-boundaries-")
		if err != nil {
			return nil, eris.Wrap(err, "geography: create temp dir")
		}
		defer os.RemoveAll(dir) //nolint:errcheck
		shp, err := fetcher.ExtractShapefile(path, dir)
		if err != nil {
			return nil, err
		}
		return ReadShapefile(shp, opts)
	case ".geojson", ".json":
		f, err := os.Open(path) //nolint:gosec
		if err != nil {
			return nil, eris.Wrapf(err, "geography: open %s", path)
		}
		defer f.Close() //nolint:errcheck
		return ReadGeoJSON(f, opts)
	default:
		return nil, eris.Errorf("geography: unsupported boundary file %s", path)
	}
}
