package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/tariff-map/internal/geography"
	"github.com/sells-group/tariff-map/internal/identity"
	"github.com/sells-group/tariff-map/internal/metrics"
	"github.com/sells-group/tariff-map/internal/resilience"
	"github.com/sells-group/tariff-map/internal/session"
	"github.com/sells-group/tariff-map/internal/source"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func f(v float64) *float64 { return &v }

type countries []identity.Country

func (c countries) Countries(context.Context) ([]identity.Country, error) { return c, nil }

type staticMetric struct {
	key, metric string
	recs        []metrics.Record
	err         error
}

func (m staticMetric) Key() string    { return m.key }
func (m staticMetric) Metric() string { return m.metric }

func (m staticMetric) Fetch(context.Context, source.Params) ([]metrics.Record, error) {
	return m.recs, m.err
}

func newRouter(t *testing.T) (http.Handler, *Handler) {
	t.Helper()
	sess, err := session.New(session.Sources{
		Countries: countries{
			{ISO3: "DEU", NumericID: 276, Name: "Germany"},
			{ISO3: "FRA", NumericID: 250, Name: "France"},
			{ISO3: "USA", NumericID: 840, Name: "United States of America"},
		},
		Metrics: []source.MetricSource{
			staticMetric{key: "tariff_rate", metric: metrics.TariffRate, recs: []metrics.Record{
				{Country: identity.ISO3("DEU"), Value: f(12.4)},
			}},
			staticMetric{key: "deficit", metric: metrics.Deficit, err: errors.New("no trade data")},
		},
	}, session.Options{Home: "USA", Retry: resilience.RetryConfig{MaxAttempts: 1}}, nil)
	require.NoError(t, err)
	require.NoError(t, sess.LoadRegistry(context.Background()))
	_ = sess.RefreshWait(context.Background(), source.Params{})

	h := New(context.Background(), sess)
	r := chi.NewRouter()
	r.Route("/api/map", h.Register)
	return r, h
}

func do(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v))
	return v
}

func TestHandleFill(t *testing.T) {
	r, _ := newRouter(t)

	rr := do(t, r, http.MethodGet, "/api/map/fill/276?scheme=numeric", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")
	body := decode[map[string]string](t, rr)
	assert.Equal(t, "DEU", body["iso3"])
	assert.Equal(t, "#fecc5c", body["fill"])

	rr = do(t, r, http.MethodGet, "/api/map/fill/Atlantis", nil)
	body = decode[map[string]string](t, rr)
	assert.Empty(t, body["iso3"])
	assert.Equal(t, "#d9d9d9", body["fill"])
}

func TestHandleColorsAndLegend(t *testing.T) {
	r, _ := newRouter(t)

	rr := do(t, r, http.MethodGet, "/api/map/colors", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	colors := decode[struct {
		Colors  map[string]string `json:"colors"`
		Missing string            `json:"missing"`
	}](t, rr)
	assert.Equal(t, map[string]string{"DEU": "#fecc5c"}, colors.Colors)
	assert.Equal(t, "#d9d9d9", colors.Missing)

	rr = do(t, r, http.MethodGet, "/api/map/legend", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decode[[]map[string]any](t, rr), 4)

	rr = do(t, r, http.MethodGet, "/api/map/legend?metric=nope", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHandleTooltip(t *testing.T) {
	r, _ := newRouter(t)

	rr := do(t, r, http.MethodGet, "/api/map/tooltip/Germany?scheme=name", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	tip := decode[session.Tooltip](t, rr)
	assert.Equal(t, "DEU", tip.Country)
	assert.Equal(t, 12.4, tip.Metrics[metrics.TariffRate])

	rr = do(t, r, http.MethodGet, "/api/map/tooltip/FRA", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHandleResolve(t *testing.T) {
	r, _ := newRouter(t)

	rr := do(t, r, http.MethodGet, "/api/map/resolve/EU", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	body := decode[map[string]any](t, rr)
	assert.Equal(t, identity.EUU, body["iso3"])
	assert.Equal(t, true, body["aggregate"])
	assert.Len(t, body["members"], 27)

	rr = do(t, r, http.MethodGet, "/api/map/resolve/United%20States", nil)
	require.Equal(t, http.StatusNotFound, rr.Code)
	miss := decode[struct {
		Suggestions []identity.Suggestion `json:"suggestions"`
	}](t, rr)
	require.NotEmpty(t, miss.Suggestions)
	assert.Equal(t, "USA", miss.Suggestions[0].ISO3)
}

func TestHandleSetMetric(t *testing.T) {
	r, _ := newRouter(t)

	rr := do(t, r, http.MethodPut, "/api/map/metric", metricRequest{Metric: metrics.Deficit})
	require.Equal(t, http.StatusOK, rr.Code)
	rr = do(t, r, http.MethodGet, "/api/map/fill/DEU", nil)
	assert.Equal(t, "#d9d9d9", decode[map[string]string](t, rr)["fill"], "failed deficit source renders missing")

	rr = do(t, r, http.MethodPut, "/api/map/metric", metricRequest{Metric: "nope"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	req := httptest.NewRequest(http.MethodPut, "/api/map/metric", bytes.NewBufferString("{"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleRefresh(t *testing.T) {
	r, _ := newRouter(t)

	rr := do(t, r, http.MethodPost, "/api/map/refresh", refreshRequest{Sources: []string{"tariff_rate"}})
	require.Equal(t, http.StatusAccepted, rr.Code)
	body := decode[struct {
		Sources []string `json:"sources"`
	}](t, rr)
	assert.Equal(t, []string{"tariff_rate"}, body.Sources)

	rr = do(t, r, http.MethodPost, "/api/map/refresh", nil)
	assert.Equal(t, http.StatusAccepted, rr.Code)

	rr = do(t, r, http.MethodPost, "/api/map/refresh", refreshRequest{Sources: []string{"nope"}})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandleDiagnosticsAndSummary(t *testing.T) {
	r, _ := newRouter(t)

	rr := do(t, r, http.MethodGet, "/api/map/diagnostics", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	diag := decode[struct {
		Failed map[string]int `json:"failed"`
	}](t, rr)
	assert.Equal(t, 1, diag.Failed["deficit"])

	rr = do(t, r, http.MethodGet, "/api/map/", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	sum := decode[map[string]any](t, rr)
	assert.Equal(t, metrics.TariffRate, sum["active_metric"])
	assert.Equal(t, []any{metrics.Deficit}, sum["absent"])
}

func TestInteractionEndpoints(t *testing.T) {
	r, _ := newRouter(t)

	rr := do(t, r, http.MethodPost, "/api/map/hover/DEU?x=10&y=20", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	state := decode[map[string]any](t, rr)
	assert.Equal(t, "DEU", state["hovered"])

	rr = do(t, r, http.MethodDelete, "/api/map/hover", nil)
	assert.Nil(t, decode[map[string]any](t, rr)["hovered"])

	rr = do(t, r, http.MethodPost, "/api/map/select/USA", nil)
	assert.Nil(t, decode[map[string]any](t, rr)["selected"], "home country")

	rr = do(t, r, http.MethodPost, "/api/map/select/276", nil)
	assert.Equal(t, "DEU", decode[map[string]any](t, rr)["selected"])

	rr = do(t, r, http.MethodDelete, "/api/map/select", nil)
	assert.Nil(t, decode[map[string]any](t, rr)["selected"])

	rr = do(t, r, http.MethodPost, "/api/map/zoom/in", nil)
	assert.Equal(t, 1.5, decode[map[string]any](t, rr)["zoom"])
	rr = do(t, r, http.MethodPost, "/api/map/zoom/reset", nil)
	assert.Equal(t, 1.0, decode[map[string]any](t, rr)["zoom"])
	rr = do(t, r, http.MethodPost, "/api/map/zoom/sideways", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, r, http.MethodGet, "/api/map/state", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestHandleGeoJSON(t *testing.T) {
	r, h := newRouter(t)

	rr := do(t, r, http.MethodGet, "/api/map/geojson", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	poly := geom.NewPolygon(geom.XY).MustSetCoords([][]geom.Coord{{{0, 0}, {0, 1}, {1, 1}, {0, 0}}})
	h.SetBoundaries([]geography.Feature{
		{ID: identity.Numeric(276), Name: "Germany", Geometry: poly},
		{ID: identity.Numeric(250), Name: "France", Geometry: poly},
	})

	rr = do(t, r, http.MethodGet, "/api/map/geojson", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/geo+json", rr.Header().Get("Content-Type"))
	fc := decode[struct {
		Features []struct {
			Properties map[string]any `json:"properties"`
		} `json:"features"`
	}](t, rr)
	require.Len(t, fc.Features, 2)
	assert.Equal(t, "#fecc5c", fc.Features[0].Properties["fill"])
	assert.Equal(t, "FRA", fc.Features[1].Properties["iso3"])
	assert.Equal(t, "#d9d9d9", fc.Features[1].Properties["fill"])
}
