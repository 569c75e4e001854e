// Package session owns the state of one map instance: the published
// identity registry, the joined metrics, the colour scales and the
// interaction controller.
package session

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/tariff-map/internal/colorscale"
	"github.com/sells-group/tariff-map/internal/identity"
	"github.com/sells-group/tariff-map/internal/interaction"
	"github.com/sells-group/tariff-map/internal/metrics"
	"github.com/sells-group/tariff-map/internal/monitoring"
	"github.com/sells-group/tariff-map/internal/resilience"
	"github.com/sells-group/tariff-map/internal/source"
)

// Sentinel errors.
var (
	ErrUnknownSource = eris.New("session: unknown source")
	ErrUnknownMetric = eris.New("session: unknown metric")
)

// Sources are the collaborators a session loads from. Countries and
// Aliases may be nil.
type Sources struct {
	Countries source.CountrySource
	Aliases   source.AliasSource
	Metrics   []source.MetricSource
}

// Options configures a session. Zero values take the defaults noted.
type Options struct {
	Home         string                     // interaction.DefaultHome
	ZoomFactor   float64                    // interaction.DefaultZoomFactor
	ZoomMin      float64                    // interaction.DefaultZoomMin
	ZoomMax      float64                    // interaction.DefaultZoomMax
	Missing      string                     // colorscale.DefaultMissing
	ActiveMetric string                     // metrics.TariffRate
	CloseMatch   bool                       // substring fallback in the registry
	Scales       map[string]colorscale.Spec // merged over colorscale.DefaultSpecs
	Params       source.Params
	Retry        resilience.RetryConfig
	Breaker      resilience.BreakerConfig
	Limiter      *rate.Limiter // nil means unlimited
	Listener     interaction.Listener
}

// Session is one map instance. All methods are safe for concurrent use.
type Session struct {
	id       string
	src      Sources
	opts     Options
	diag     *monitoring.Diagnostics
	holder   *identity.Holder
	store    *metrics.Store
	ctrl     *interaction.Controller
	breakers *resilience.Breakers
	limiter  *rate.Limiter
	log      *zap.Logger

	mu      sync.Mutex
	active  string
	specs   map[string]colorscale.Spec
	scales  map[string]*colorscale.Scale
	scaleOf *metrics.Result
}

// New creates a session with an empty registry. Call LoadRegistry and
// Refresh to populate it. A nil diag gets a private registry. Malformed
// scale specs are rejected here.
func New(src Sources, opts Options, diag *monitoring.Diagnostics) (*Session, error) {
	if diag == nil {
		diag = monitoring.NewDiagnostics(prometheus.NewRegistry())
	}
	if opts.ActiveMetric == "" {
		opts.ActiveMetric = metrics.TariffRate
	}
	if opts.Missing == "" {
		opts.Missing = colorscale.DefaultMissing
	}
	if opts.Limiter == nil {
		opts.Limiter = rate.NewLimiter(rate.Inf, 0)
	}

	specs := colorscale.DefaultSpecs()
	for metric, spec := range opts.Scales {
		specs[metric] = spec
	}
	for metric, spec := range specs {
		if spec.Missing == "" {
			spec.Missing = opts.Missing
		}
		specs[metric] = spec
		if err := validateSpec(spec); err != nil {
			return nil, eris.Wrapf(err, "session: scale for %s", metric)
		}
	}

	id := uuid.New().String()
	s := &Session{
		id:      id,
		src:     src,
		opts:    opts,
		diag:    diag,
		holder:  identity.NewHolder(nil),
		limiter: opts.Limiter,
		log:     zap.L().With(zap.String("component", "session"), zap.String("session", id)),
		active:  opts.ActiveMetric,
		specs:   specs,
	}
	s.store = metrics.NewStore(s.holder, diag)

	bcfg := opts.Breaker
	onChange := bcfg.OnStateChange
	bcfg.OnStateChange = func(name string, from, to resilience.BreakerState) {
		diag.BreakerState(name, to.String())
		if onChange != nil {
			onChange(name, from, to)
		}
	}
	s.breakers = resilience.NewBreakers(bcfg)

	ctrlOpts := []interaction.Option{
		interaction.WithZoomFactor(opts.ZoomFactor),
		interaction.WithZoomBounds(opts.ZoomMin, opts.ZoomMax),
		interaction.WithListener(interaction.ListenerFunc(s.logEvent)),
		interaction.WithListener(opts.Listener),
	}
	if opts.Home != "" {
		ctrlOpts = append(ctrlOpts, interaction.WithHome(identity.NormalizeCode(opts.Home)))
	}
	s.ctrl = interaction.New(s, ctrlOpts...)
	return s, nil
}

// ID returns the session's unique id.
func (s *Session) ID() string { return s.id }

// Controller returns the interaction controller.
func (s *Session) Controller() *interaction.Controller { return s.ctrl }

// Registry returns the published registry snapshot.
func (s *Session) Registry() *identity.Registry { return s.holder.Load() }

// Result returns the current joined metrics.
func (s *Session) Result() *metrics.Result { return s.store.Current() }

// Diagnostics returns the current counters.
func (s *Session) Diagnostics() monitoring.Snapshot { return s.diag.Snapshot() }

// Resolve implements interaction.Binder.
func (s *Session) Resolve(token string) (string, bool) {
	return s.holder.Load().ResolveString(token)
}

// HasRecord implements interaction.Binder.
func (s *Session) HasRecord(iso3 string) bool {
	return s.store.Current().Record(iso3) != nil
}

// ActiveMetric returns the metric that drives the fill.
func (s *Session) ActiveMetric() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Metrics lists the metrics the session can show.
func (s *Session) Metrics() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for m := range s.specs {
		out = append(out, m)
	}
	for _, src := range s.src.Metrics {
		if !slices.Contains(out, src.Metric()) {
			out = append(out, src.Metric())
		}
	}
	slices.Sort(out)
	return out
}

// SetActiveMetric switches the fill to metric.
func (s *Session) SetActiveMetric(metric string) error {
	if !slices.Contains(s.Metrics(), metric) {
		return eris.Wrapf(ErrUnknownMetric, "metric %q", metric)
	}
	s.mu.Lock()
	s.active = metric
	s.mu.Unlock()
	s.log.Info("session: active metric changed", zap.String("metric", metric))
	return nil
}

// LoadRegistry builds a registry from the country source, the seed
// identities and the alias source, publishes it and rejoins the current
// metrics against it. A failing country source leaves the published
// registry in place. Alias conflicts and alias source failures are logged;
// the registry is still published without them.
func (s *Session) LoadRegistry(ctx context.Context) error {
	var opts []identity.Option
	if s.opts.CloseMatch {
		opts = append(opts, identity.WithCloseMatch(s.diag.CloseMatch))
	}
	reg := identity.New(opts...)

	if s.src.Countries != nil {
		countries, err := fetchVia(ctx, s, "countries", s.src.Countries.Countries)
		if err != nil {
			s.diag.FetchFailed("countries")
			return eris.Wrap(err, "session: load countries")
		}
		var conflicts []error
		for _, c := range countries {
			if err := reg.Register(c); err != nil {
				conflicts = append(conflicts, err)
			}
		}
		s.logConflicts("countries", conflicts)
	}
	if err := identity.SeedRegistry(reg); err != nil {
		s.logConflicts("seed", []error{err})
	}

	if s.src.Aliases != nil {
		aliases, err := fetchVia(ctx, s, "aliases", s.src.Aliases.Aliases)
		if err != nil {
			s.diag.FetchFailed("aliases")
			s.log.Warn("session: alias source failed, publishing registry without aliases", zap.Error(err))
		} else if err := reg.MergeAliases(aliases); err != nil {
			s.logConflicts("aliases", []error{err})
		}
	}

	s.holder.Swap(reg)
	s.store.Rejoin()
	s.log.Info("session: registry published", zap.Int("identities", reg.Len()))
	return nil
}

// validateSpec builds spec once. A quantile spec without a fallback domain
// only has its colours checked, since its domain comes from the data.
func validateSpec(spec colorscale.Spec) error {
	if spec.Quantiles && len(spec.Domain) == 0 {
		colors, err := colorscale.ParseColors(spec.Colors)
		if err != nil {
			return err
		}
		if len(colors) < 2 {
			return eris.Wrap(colorscale.ErrInvalidScale, "quantile scale needs at least two colors")
		}
		return nil
	}
	_, err := colorscale.FromSpec(spec, nil)
	return err
}

func (s *Session) logConflicts(stage string, errs []error) {
	if err := errors.Join(errs...); err != nil {
		s.log.Warn("session: identity conflicts skipped", zap.String("stage", stage), zap.Error(err))
	}
}

func (s *Session) logEvent(ev interaction.Event) {
	s.log.Debug("session: interaction",
		zap.Stringer("kind", ev.Kind),
		zap.String("country", ev.Country),
		zap.Float64("zoom", ev.Zoom),
	)
}
