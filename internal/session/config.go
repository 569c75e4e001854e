package session

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/tariff-map/internal/colorscale"
	"github.com/sells-group/tariff-map/internal/config"
	"github.com/sells-group/tariff-map/internal/db"
	"github.com/sells-group/tariff-map/internal/resilience"
	"github.com/sells-group/tariff-map/internal/source"
)

// OptionsFromConfig maps the map, sources and scales sections of cfg onto
// session options.
func OptionsFromConfig(cfg *config.Config) Options {
	r := cfg.Sources.Retry
	opts := Options{
		Home:         cfg.Map.Home,
		ZoomFactor:   cfg.Map.ZoomFactor,
		ZoomMin:      cfg.Map.ZoomMin,
		ZoomMax:      cfg.Map.ZoomMax,
		Missing:      cfg.Map.MissingColor,
		ActiveMetric: cfg.Map.ActiveMetric,
		CloseMatch:   cfg.Map.CloseMatch,
		Params:       source.Params{Reporter: cfg.Sources.Reporter, Year: cfg.Sources.Year},
		Retry:        resilience.FromMillis(r.MaxAttempts, r.InitialBackoffMs, r.MaxBackoffMs, r.Multiplier, r.JitterFraction),
		Breaker: resilience.BreakerConfig{
			Threshold: cfg.Sources.Breaker.Threshold,
			Cooldown:  time.Duration(cfg.Sources.Breaker.CooldownSecs) * time.Second,
		},
	}
	if cfg.Sources.RatePerSec > 0 {
		burst := max(cfg.Sources.Burst, 1)
		opts.Limiter = rate.NewLimiter(rate.Limit(cfg.Sources.RatePerSec), burst)
	}
	if len(cfg.Scales) > 0 {
		opts.Scales = make(map[string]colorscale.Spec, len(cfg.Scales))
		for metric, sc := range cfg.Scales {
			opts.Scales[metric] = colorscale.Spec{
				Kind:      scaleKind(sc.Kind),
				Domain:    sc.Domain,
				Colors:    sc.Colors,
				Quantiles: sc.Quantiles || len(sc.Domain) == 0,
			}
		}
	}
	return opts
}

func scaleKind(s string) colorscale.Kind {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "threshold":
		return colorscale.Threshold
	case "log", "logarithmic":
		return colorscale.Logarithmic
	default:
		return colorscale.Linear
	}
}

// SourcesFromConfig picks the Postgres tables when pool is non-nil and the
// configured files otherwise. File sources whose path is empty are left
// out. loc resolves file references that are URLs and may be nil.
func SourcesFromConfig(cfg *config.Config, pool db.Pool, loc source.Localizer) Sources {
	if pool != nil {
		pg := source.NewPostgres(pool)
		return Sources{
			Countries: pg,
			Aliases:   pg,
			Metrics: []source.MetricSource{
				pg.Tariffs(source.ColReciprocal),
				pg.Tariffs(source.ColClaimed),
				pg.Deficits(),
				pg.AppliedTariffs(),
			},
		}
	}

	files := cfg.Files
	var src Sources
	if files.Countries != "" {
		src.Countries = source.CountryFile{Ref: files.Countries, Loc: loc}
	}
	if files.Aliases != "" {
		src.Aliases = source.AliasFile{Ref: files.Aliases, Loc: loc}
	}
	if files.Tariffs != "" {
		src.Metrics = append(src.Metrics,
			source.TariffFile{Ref: files.Tariffs, Column: source.ColReciprocal, Loc: loc},
			source.TariffFile{Ref: files.Tariffs, Column: source.ColClaimed, Loc: loc},
		)
	}
	if files.Deficits != "" {
		src.Metrics = append(src.Metrics, source.DeficitFile{Ref: files.Deficits, Loc: loc})
	}
	return src
}

// SourcesFromSnapshot serves the countries, aliases and every metric held
// by a SQLite snapshot.
func SourcesFromSnapshot(ctx context.Context, lite *source.SQLite) (Sources, error) {
	names, err := lite.Metrics(ctx)
	if err != nil {
		return Sources{}, eris.Wrap(err, "session: list snapshot metrics")
	}
	src := Sources{Countries: lite, Aliases: lite}
	for _, m := range names {
		src.Metrics = append(src.Metrics, lite.Metric(m))
	}
	return src, nil
}
