// Package api exposes a map session over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/tariff-map/internal/geography"
	"github.com/sells-group/tariff-map/internal/identity"
	"github.com/sells-group/tariff-map/internal/interaction"
	"github.com/sells-group/tariff-map/internal/session"
	"github.com/sells-group/tariff-map/internal/source"
)

// suggestLimit caps the close matches returned for an unresolved token.
const suggestLimit = 5

// Handler wires map endpoints to a session.
type Handler struct {
	// ctx outlives requests; refreshes launched by POST /refresh run under it.
	ctx        context.Context
	sess       *session.Session
	boundaries atomic.Pointer[[]geography.Feature]
	log        *zap.Logger
}

// New constructs a handler. Background refreshes run under ctx.
func New(ctx context.Context, sess *session.Session) *Handler {
	return &Handler{
		ctx:  ctx,
		sess: sess,
		log:  zap.L().With(zap.String("component", "api")),
	}
}

// SetBoundaries publishes the features GET /geojson renders.
func (h *Handler) SetBoundaries(features []geography.Feature) {
	h.boundaries.Store(&features)
}

// Register mounts the map endpoints on r.
func (h *Handler) Register(r chi.Router) {
	r.Get("/", h.HandleSummary)
	r.Get("/fill/{token}", h.HandleFill)
	r.Get("/colors", h.HandleColors)
	r.Get("/legend", h.HandleLegend)
	r.Get("/tooltip/{token}", h.HandleTooltip)
	r.Get("/resolve/{token}", h.HandleResolve)
	r.Get("/geojson", h.HandleGeoJSON)
	r.Put("/metric", h.HandleSetMetric)
	r.Post("/refresh", h.HandleRefresh)
	r.Get("/diagnostics", h.HandleDiagnostics)

	r.Get("/state", h.HandleState)
	r.Post("/hover/{token}", h.HandleHover)
	r.Delete("/hover", h.HandleLeave)
	r.Post("/select/{token}", h.HandleSelect)
	r.Delete("/select", h.HandleDeselect)
	r.Post("/zoom/{op}", h.HandleZoom)
}

// token reads the {token} path parameter, tagged by the ?scheme= query
// parameter.
func token(r *http.Request) identity.Token {
	return identity.Token{
		Scheme: identity.ParseScheme(r.URL.Query().Get("scheme")),
		Value:  chi.URLParam(r, "token"),
	}
}

// HandleSummary handles GET / with the session's identity and sources.
func (h *Handler) HandleSummary(w http.ResponseWriter, r *http.Request) {
	res := h.sess.Result()
	writeJSON(w, http.StatusOK, map[string]any{
		"session":       h.sess.ID(),
		"active_metric": h.sess.ActiveMetric(),
		"metrics":       h.sess.Metrics(),
		"identities":    h.sess.Registry().Len(),
		"countries":     len(res.Records),
		"absent":        res.Absent,
		"unmatched":     res.UnmatchedTotal(),
	})
}

// HandleFill handles GET /fill/{token}.
func (h *Handler) HandleFill(w http.ResponseWriter, r *http.Request) {
	tok := token(r)
	iso3, _ := h.sess.Registry().Resolve(tok)
	writeJSON(w, http.StatusOK, map[string]string{
		"token":  tok.Value,
		"iso3":   iso3,
		"metric": h.sess.ActiveMetric(),
		"fill":   h.sess.GetFillColor(tok),
	})
}

// HandleColors handles GET /colors.
func (h *Handler) HandleColors(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"metric":  h.sess.ActiveMetric(),
		"colors":  h.sess.Colors(),
		"missing": h.sess.GetFillColor(identity.Token{}),
	})
}

// HandleLegend handles GET /legend?metric=.
func (h *Handler) HandleLegend(w http.ResponseWriter, r *http.Request) {
	legend, err := h.sess.Legend(r.URL.Query().Get("metric"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, legend)
}

// HandleTooltip handles GET /tooltip/{token}.
func (h *Handler) HandleTooltip(w http.ResponseWriter, r *http.Request) {
	tip := h.sess.GetTooltipPayload(token(r))
	if tip == nil {
		writeError(w, http.StatusNotFound, "no data for "+chi.URLParam(r, "token"))
		return
	}
	writeJSON(w, http.StatusOK, tip)
}

// HandleResolve handles GET /resolve/{token}. Unresolved tokens answer 404
// with close-match suggestions.
func (h *Handler) HandleResolve(w http.ResponseWriter, r *http.Request) {
	tok := token(r)
	reg := h.sess.Registry()
	if iso3, ok := reg.Resolve(tok); ok {
		c, _ := reg.Lookup(iso3)
		writeJSON(w, http.StatusOK, map[string]any{
			"token":     tok.Value,
			"iso3":      iso3,
			"name":      c.Name,
			"aggregate": c.Aggregate,
			"members":   reg.ExpandAggregate(iso3),
		})
		return
	}
	writeJSON(w, http.StatusNotFound, map[string]any{
		"token":       tok.Value,
		"error":       "unresolved",
		"suggestions": reg.Suggest(tok.Value, suggestLimit),
	})
}

// HandleGeoJSON handles GET /geojson: the loaded boundaries with the
// current fill and ISO3 on each feature.
func (h *Handler) HandleGeoJSON(w http.ResponseWriter, r *http.Request) {
	features := h.boundaries.Load()
	if features == nil {
		writeError(w, http.StatusNotFound, "no boundaries loaded")
		return
	}
	reg := h.sess.Registry()
	w.Header().Set("Content-Type", "application/geo+json")
	err := geography.WriteGeoJSON(w, *features, func(f geography.Feature) map[string]any {
		iso3, _ := reg.Resolve(f.ID)
		return map[string]any{"iso3": iso3, "fill": h.sess.GetFillColor(f.ID)}
	})
	if err != nil {
		h.log.Error("api: write geojson", zap.Error(err))
	}
}

type metricRequest struct {
	Metric string `json:"metric"`
}

// HandleSetMetric handles PUT /metric.
func (h *Handler) HandleSetMetric(w http.ResponseWriter, r *http.Request) {
	var req metricRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.sess.SetActiveMetric(req.Metric); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"metric": req.Metric})
}

type refreshRequest struct {
	Sources  []string `json:"sources"`
	Reporter string   `json:"reporter"`
	Year     int      `json:"year"`
}

// HandleRefresh handles POST /refresh. The fetches run in the background;
// the response lists the sources launched.
func (h *Handler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	params := source.Params{Reporter: req.Reporter, Year: req.Year}
	pending, err := h.sess.Refresh(h.ctx, params, req.Sources...)
	if err != nil {
		if eris.Is(err, session.ErrUnknownSource) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	go func() {
		if err := pending.Wait(); err != nil {
			h.log.Warn("api: refresh finished with failures", zap.Error(err))
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":  "accepted",
		"sources": pending.Keys(),
	})
}

// HandleDiagnostics handles GET /diagnostics.
func (h *Handler) HandleDiagnostics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.sess.Diagnostics())
}

// HandleState handles GET /state.
func (h *Handler) HandleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.sess.Controller().State())
}

// HandleHover handles POST /hover/{token}?x=&y=&touch=&narrow=.
func (h *Handler) HandleHover(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	x, _ := strconv.ParseFloat(q.Get("x"), 64)
	y, _ := strconv.ParseFloat(q.Get("y"), 64)
	at := interaction.Point{X: x, Y: y}

	ctrl := h.sess.Controller()
	if touch, _ := strconv.ParseBool(q.Get("touch")); touch {
		narrow, _ := strconv.ParseBool(q.Get("narrow"))
		ctrl.TouchStart(chi.URLParam(r, "token"), at, narrow)
	} else {
		ctrl.PointerEnter(chi.URLParam(r, "token"), at)
	}
	writeJSON(w, http.StatusOK, ctrl.State())
}

// HandleLeave handles DELETE /hover?touch=.
func (h *Handler) HandleLeave(w http.ResponseWriter, r *http.Request) {
	ctrl := h.sess.Controller()
	if touch, _ := strconv.ParseBool(r.URL.Query().Get("touch")); touch {
		ctrl.TouchEnd()
	} else {
		ctrl.PointerLeave()
	}
	writeJSON(w, http.StatusOK, ctrl.State())
}

// HandleSelect handles POST /select/{token}.
func (h *Handler) HandleSelect(w http.ResponseWriter, r *http.Request) {
	ctrl := h.sess.Controller()
	ctrl.Click(chi.URLParam(r, "token"))
	writeJSON(w, http.StatusOK, ctrl.State())
}

// HandleDeselect handles DELETE /select.
func (h *Handler) HandleDeselect(w http.ResponseWriter, r *http.Request) {
	ctrl := h.sess.Controller()
	ctrl.Deselect()
	writeJSON(w, http.StatusOK, ctrl.State())
}

// HandleZoom handles POST /zoom/{in|out|reset}.
func (h *Handler) HandleZoom(w http.ResponseWriter, r *http.Request) {
	ctrl := h.sess.Controller()
	switch chi.URLParam(r, "op") {
	case "in":
		ctrl.ZoomIn()
	case "out":
		ctrl.ZoomOut()
	case "reset":
		ctrl.ResetZoom()
	default:
		writeError(w, http.StatusBadRequest, "zoom op must be in, out or reset")
		return
	}
	writeJSON(w, http.StatusOK, ctrl.State())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("api: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
