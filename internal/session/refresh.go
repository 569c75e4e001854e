package session

import (
	"context"
	"slices"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/tariff-map/internal/metrics"
	"github.com/sells-group/tariff-map/internal/resilience"
	"github.com/sells-group/tariff-map/internal/source"
)

// Pending tracks the fetches launched by one Refresh.
type Pending struct {
	g    errgroup.Group
	keys []string
}

// Keys returns the source keys the refresh fetches.
func (p *Pending) Keys() []string { return slices.Clone(p.keys) }

// Wait blocks until every fetch has been applied or discarded and returns
// the first fetch failure. Failures have already been recorded as absent
// sets by then.
func (p *Pending) Wait() error { return p.g.Wait() }

// Refresh launches one fetch per metric source, or per named source when
// keys are given, and returns without waiting. Each fetch takes a sequence
// number at launch; its completion is applied only if no later fetch of
// the same source has been applied already. A fetch that fails after
// retries is applied as a failed set, which marks its metric absent. Zero
// fields of params take the session's configured values. The fetches run
// under ctx.
func (s *Session) Refresh(ctx context.Context, params source.Params, keys ...string) (*Pending, error) {
	srcs, err := s.selectSources(keys)
	if err != nil {
		return nil, err
	}
	if params.Reporter == "" {
		params.Reporter = s.opts.Params.Reporter
	}
	if params.Year == 0 {
		params.Year = s.opts.Params.Year
	}
	params = params.WithDefaults()

	p := &Pending{}
	for _, src := range srcs {
		seq := s.store.Issue()
		p.keys = append(p.keys, src.Key())
		p.g.Go(func() error {
			return s.fetchAndApply(ctx, src, params, seq)
		})
	}
	s.log.Debug("session: refresh started", zap.Strings("sources", p.keys),
		zap.String("reporter", params.Reporter), zap.Int("year", params.Year))
	return p, nil
}

// RefreshWait is Refresh followed by Wait.
func (s *Session) RefreshWait(ctx context.Context, params source.Params, keys ...string) error {
	p, err := s.Refresh(ctx, params, keys...)
	if err != nil {
		return err
	}
	return p.Wait()
}

func (s *Session) selectSources(keys []string) ([]source.MetricSource, error) {
	if len(keys) == 0 {
		return s.src.Metrics, nil
	}
	out := make([]source.MetricSource, 0, len(keys))
	for _, k := range keys {
		i := slices.IndexFunc(s.src.Metrics, func(m source.MetricSource) bool { return m.Key() == k })
		if i < 0 {
			return nil, eris.Wrapf(ErrUnknownSource, "source %q", k)
		}
		out = append(out, s.src.Metrics[i])
	}
	return out, nil
}

func (s *Session) fetchAndApply(ctx context.Context, src source.MetricSource, params source.Params, seq uint64) error {
	key := src.Key()
	records, err := fetchVia(ctx, s, key, func(ctx context.Context) ([]metrics.Record, error) {
		return src.Fetch(ctx, params)
	})

	set := metrics.Set{Metric: src.Metric(), Source: key, Records: records, Err: err}
	if err != nil {
		set.Records = nil
	}
	applied := s.store.Apply(key, seq, set)
	if applied && err == nil {
		s.log.Info("session: source applied",
			zap.String("source", key),
			zap.Int("records", len(records)),
			zap.Uint64("seq", seq),
		)
	}
	if err != nil {
		return eris.Wrapf(err, "session: fetch %s", key)
	}
	return nil
}

// fetchVia runs fn for source key behind the rate limiter, the source's
// circuit breaker and the retry policy. An open breaker fails fast and is
// not retried.
func fetchVia[T any](ctx context.Context, s *Session, key string, fn func(context.Context) (T, error)) (T, error) {
	cfg := s.opts.Retry
	if cfg.OnRetry == nil {
		cfg.OnRetry = resilience.RetryLogger(key)
	}
	userShould := cfg.ShouldRetry
	cfg.ShouldRetry = func(err error) bool {
		if eris.Is(err, resilience.ErrBreakerOpen) {
			return false
		}
		if userShould != nil {
			return userShould(err)
		}
		return resilience.IsTransient(err)
	}

	breaker := s.breakers.Get(key)
	return resilience.DoVal(ctx, cfg, func(ctx context.Context) (T, error) {
		if err := s.limiter.Wait(ctx); err != nil {
			var zero T
			return zero, eris.Wrap(err, "rate limiter wait")
		}
		return resilience.Call(ctx, breaker, fn)
	})
}
