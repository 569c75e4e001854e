package main

import (
	"context"
	"os"
	"path/filepath"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/tariff-map/internal/db"
	"github.com/sells-group/tariff-map/internal/fetcher"
	"github.com/sells-group/tariff-map/internal/geography"
	"github.com/sells-group/tariff-map/internal/monitoring"
	"github.com/sells-group/tariff-map/internal/resilience"
	"github.com/sells-group/tariff-map/internal/session"
	"github.com/sells-group/tariff-map/internal/source"
)

// mapEnv holds the session and the resources behind it for the serve,
// render and audit commands.
type mapEnv struct {
	Pool      *pgxpool.Pool  // nil when running from files
	Snapshot  *source.SQLite // set when running from store.snapshot_path
	Localizer *fetcher.Localizer
	Diag      *monitoring.Diagnostics
	Session   *session.Session
}

// Close releases resources held by the map environment.
func (me *mapEnv) Close() {
	if me.Pool != nil {
		me.Pool.Close()
	}
	if me.Snapshot != nil {
		_ = me.Snapshot.Close()
	}
}

// initMap connects the configured sources, builds the session and loads
// its registry. Metrics are not fetched; callers refresh as they need.
// Callers should defer env.Close().
func initMap(ctx context.Context, reg prometheus.Registerer) (*mapEnv, error) {
	if err := cfg.Validate("map"); err != nil {
		return nil, err
	}

	env := &mapEnv{
		Localizer: newLocalizer(),
		Diag:      monitoring.NewDiagnostics(reg),
	}

	var src session.Sources
	switch {
	case cfg.Store.DatabaseURL != "":
		p, err := db.Connect(ctx, cfg.Store.DatabaseURL, nil)
		if err != nil {
			return nil, err
		}
		env.Pool = p
		src = session.SourcesFromConfig(cfg, p, env.Localizer)
		zap.L().Info("map sources: postgres")
	case cfg.Store.SnapshotPath != "":
		lite, err := source.OpenSQLite(cfg.Store.SnapshotPath)
		if err != nil {
			return nil, err
		}
		env.Snapshot = lite
		if src, err = session.SourcesFromSnapshot(ctx, lite); err != nil {
			env.Close()
			return nil, err
		}
		zap.L().Info("map sources: sqlite snapshot", zap.String("path", cfg.Store.SnapshotPath))
	default:
		src = session.SourcesFromConfig(cfg, nil, env.Localizer)
		zap.L().Info("map sources: files", zap.String("tariffs", cfg.Files.Tariffs), zap.String("deficits", cfg.Files.Deficits))
	}

	sess, err := session.New(src, session.OptionsFromConfig(cfg), env.Diag)
	if err != nil {
		env.Close()
		return nil, eris.Wrap(err, "build session")
	}
	env.Session = sess

	if err := sess.LoadRegistry(ctx); err != nil {
		env.Close()
		return nil, eris.Wrap(err, "load registry")
	}
	return env, nil
}

// newLocalizer caches downloaded inputs under files.cache_dir, or the user
// cache directory when unset.
func newLocalizer() *fetcher.Localizer {
	dir := cfg.Files.CacheDir
	if dir == "" {
		base, err := os.UserCacheDir()
		if err != nil {
			base = os.TempDir()
		}
		dir = filepath.Join(base, "tariff-map")
	}
	r := cfg.Sources.Retry
	return fetcher.NewLocalizer(dir, fetcher.HTTPOptions{
		Retry: resilience.FromMillis(r.MaxAttempts, r.InitialBackoffMs, r.MaxBackoffMs, r.Multiplier, r.JitterFraction),
	})
}

// loadBoundaries reads files.boundaries, which may be a URL. An empty
// setting returns no features.
func loadBoundaries(ctx context.Context, loc *fetcher.Localizer) ([]geography.Feature, error) {
	if cfg.Files.Boundaries == "" {
		return nil, nil
	}
	path, err := loc.Localize(ctx, cfg.Files.Boundaries)
	if err != nil {
		return nil, eris.Wrap(err, "localize boundaries")
	}
	opts := geography.DefaultOptions()
	if cfg.Files.BoundaryIDField != "" {
		opts = opts.WithIDField(cfg.Files.BoundaryIDField)
	}
	features, err := geography.Load(path, opts)
	if err != nil {
		return nil, err
	}
	zap.L().Info("boundaries loaded", zap.Int("features", len(features)), zap.String("path", path))
	return features, nil
}
