package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/tariff-map/internal/api"
	"github.com/sells-group/tariff-map/internal/monitoring"
	"github.com/sells-group/tariff-map/internal/source"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the tariff map API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

		env, err := initMap(ctx, reg)
		if err != nil {
			return err
		}
		defer env.Close()

		h := api.New(ctx, env.Session)
		reloadBoundaries(ctx, env, h)

		// First fetch runs in the background; the map renders missing until
		// each source lands.
		pending, err := env.Session.Refresh(ctx, source.Params{})
		if err != nil {
			return eris.Wrap(err, "initial refresh")
		}
		go func() {
			if err := pending.Wait(); err != nil {
				zap.L().Warn("initial refresh finished with failures", zap.Error(err))
			}
		}()

		var notify monitoring.Notifier
		if cfg.Monitoring.WebhookURL != "" {
			notify = monitoring.NewWebhook(cfg.Monitoring.WebhookURL)
		}
		checker := monitoring.NewChecker(env.Diag, monitoring.RulesFromConfig(cfg.Monitoring), notify,
			time.Duration(cfg.Monitoring.CheckIntervalSecs)*time.Second)
		go checker.Run(ctx)

		if cfg.Files.Watch && cfg.Store.DatabaseURL == "" {
			go watchFiles(ctx, env, h)
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           buildRouter(h, reg, cfg.Server.CORSOrigins),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port), zap.String("session", env.Session.ID()))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// buildRouter mounts health, metrics and the map API.
func buildRouter(h *api.Handler, gatherer prometheus.Gatherer, origins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	if h != nil {
		r.Route("/api/map", h.Register)
	}
	return r
}

func reloadBoundaries(ctx context.Context, env *mapEnv, h *api.Handler) {
	features, err := loadBoundaries(ctx, env.Localizer)
	if err != nil {
		zap.L().Warn("boundaries unavailable, /api/map/geojson disabled", zap.Error(err))
		return
	}
	if features != nil {
		h.SetBoundaries(features)
	}
}

// watchFiles reloads the registry and refetches metrics when a local input
// file changes.
func watchFiles(ctx context.Context, env *mapEnv, h *api.Handler) {
	f := cfg.Files
	paths := []string{f.Countries, f.Aliases, f.Tariffs, f.Deficits, f.Boundaries}
	err := source.Watch(ctx, paths, source.DefaultDebounce, func(path string) {
		log := zap.L().With(zap.String("path", path))
		switch {
		case samePath(path, f.Boundaries):
			reloadBoundaries(ctx, env, h)
		case samePath(path, f.Countries), samePath(path, f.Aliases):
			if err := env.Session.LoadRegistry(ctx); err != nil {
				log.Warn("registry reload failed", zap.Error(err))
			}
		default:
			if err := env.Session.RefreshWait(ctx, source.Params{}); err != nil {
				log.Warn("refresh after change finished with failures", zap.Error(err))
			}
		}
	})
	if err != nil && ctx.Err() == nil {
		zap.L().Error("file watcher stopped", zap.Error(err))
	}
}

// samePath reports whether the absolute path abs names the configured ref.
func samePath(abs, ref string) bool {
	if ref == "" {
		return false
	}
	r, err := filepath.Abs(ref)
	return err == nil && r == abs
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
