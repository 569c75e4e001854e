package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig            `yaml:"store" mapstructure:"store"`
	Server     ServerConfig           `yaml:"server" mapstructure:"server"`
	Log        LogConfig              `yaml:"log" mapstructure:"log"`
	Map        MapConfig              `yaml:"map" mapstructure:"map"`
	Sources    SourcesConfig          `yaml:"sources" mapstructure:"sources"`
	Files      FilesConfig            `yaml:"files" mapstructure:"files"`
	Scales     map[string]ScaleConfig `yaml:"scales" mapstructure:"scales"`
	Monitoring MonitoringConfig       `yaml:"monitoring" mapstructure:"monitoring"`
}

// StoreConfig configures the Postgres connection. An empty URL means a
// SQLite snapshot, when SnapshotPath is set, or the file sources are used
// instead.
type StoreConfig struct {
	DatabaseURL  string `yaml:"database_url" mapstructure:"database_url"`
	SnapshotPath string `yaml:"snapshot_path" mapstructure:"snapshot_path"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// MapConfig configures one map session.
type MapConfig struct {
	Home         string  `yaml:"home" mapstructure:"home"`
	ZoomFactor   float64 `yaml:"zoom_factor" mapstructure:"zoom_factor"`
	ZoomMin      float64 `yaml:"zoom_min" mapstructure:"zoom_min"`
	ZoomMax      float64 `yaml:"zoom_max" mapstructure:"zoom_max"`
	MissingColor string  `yaml:"missing_color" mapstructure:"missing_color"`
	ActiveMetric string  `yaml:"active_metric" mapstructure:"active_metric"`
	CloseMatch   bool    `yaml:"close_match" mapstructure:"close_match"`
}

// SourcesConfig configures metric fetching.
type SourcesConfig struct {
	Reporter   string        `yaml:"reporter" mapstructure:"reporter"`
	Year       int           `yaml:"year" mapstructure:"year"`
	RatePerSec float64       `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	Burst      int           `yaml:"burst" mapstructure:"burst"`
	Retry      RetryConfig   `yaml:"retry" mapstructure:"retry"`
	Breaker    BreakerConfig `yaml:"breaker" mapstructure:"breaker"`
}

// RetryConfig configures per-fetch retries.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// BreakerConfig configures the per-source circuit breakers.
type BreakerConfig struct {
	Threshold    int `yaml:"threshold" mapstructure:"threshold"`
	CooldownSecs int `yaml:"cooldown_secs" mapstructure:"cooldown_secs"`
}

// FilesConfig points at local inputs used when no database is configured.
type FilesConfig struct {
	Countries       string `yaml:"countries" mapstructure:"countries"`
	Aliases         string `yaml:"aliases" mapstructure:"aliases"`
	Tariffs         string `yaml:"tariffs" mapstructure:"tariffs"`
	Deficits        string `yaml:"deficits" mapstructure:"deficits"`
	Boundaries      string `yaml:"boundaries" mapstructure:"boundaries"`
	BoundaryIDField string `yaml:"boundary_id_field" mapstructure:"boundary_id_field"`
	Watch           bool   `yaml:"watch" mapstructure:"watch"`
	// CacheDir holds downloads of file references that are URLs.
	CacheDir string `yaml:"cache_dir" mapstructure:"cache_dir"`
}

// ScaleConfig overrides the colour scale for one metric. An empty Domain
// is derived from the data.
type ScaleConfig struct {
	Kind      string    `yaml:"kind" mapstructure:"kind"`
	Domain    []float64 `yaml:"domain" mapstructure:"domain"`
	Colors    []string  `yaml:"colors" mapstructure:"colors"`
	Quantiles bool      `yaml:"quantiles" mapstructure:"quantiles"`
}

// MonitoringConfig configures the background alert checker.
type MonitoringConfig struct {
	WebhookURL         string `yaml:"webhook_url" mapstructure:"webhook_url"`
	UnmatchedThreshold int    `yaml:"unmatched_threshold" mapstructure:"unmatched_threshold"`
	CheckIntervalSecs  int    `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("TARIFFMAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.snapshot_path", "")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("map.home", "USA")
	v.SetDefault("map.zoom_factor", 1.5)
	v.SetDefault("map.zoom_min", 1.0)
	v.SetDefault("map.zoom_max", 4.0)
	v.SetDefault("map.missing_color", "#d9d9d9")
	v.SetDefault("map.active_metric", "tariff_rate")
	v.SetDefault("map.close_match", false)
	v.SetDefault("sources.reporter", "USA")
	v.SetDefault("sources.year", 0)
	v.SetDefault("sources.rate_per_sec", 5.0)
	v.SetDefault("sources.burst", 2)
	v.SetDefault("sources.retry.max_attempts", 3)
	v.SetDefault("sources.retry.initial_backoff_ms", 250)
	v.SetDefault("sources.retry.max_backoff_ms", 5000)
	v.SetDefault("sources.retry.multiplier", 2.0)
	v.SetDefault("sources.retry.jitter_fraction", 0.2)
	v.SetDefault("sources.breaker.threshold", 5)
	v.SetDefault("sources.breaker.cooldown_secs", 30)
	v.SetDefault("files.countries", "")
	v.SetDefault("files.aliases", "")
	v.SetDefault("files.tariffs", "")
	v.SetDefault("files.deficits", "")
	v.SetDefault("files.boundaries", "")
	v.SetDefault("files.boundary_id_field", "ISO_A3")
	v.SetDefault("files.watch", false)
	v.SetDefault("files.cache_dir", "")
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.unmatched_threshold", 10)
	v.SetDefault("monitoring.check_interval_secs", 300)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

var scaleKinds = map[string]bool{"": true, "linear": true, "threshold": true, "log": true, "logarithmic": true}

// Validate checks the settings the given mode depends on. Modes are
// "map" (session settings), "serve" (map plus server) and "database"
// (map plus a Postgres URL).
func (c *Config) Validate(mode string) error {
	var problems []string
	switch mode {
	case "map":
		problems = c.validateMap()
	case "serve":
		problems = c.validateMap()
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			problems = append(problems, "server.port must be > 0 and <= 65535")
		}
	case "database":
		problems = c.validateMap()
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}
	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func (c *Config) validateMap() []string {
	var problems []string
	m := c.Map
	if len(m.Home) != 3 {
		problems = append(problems, fmt.Sprintf("map.home must be an ISO alpha-3 code, got %q", m.Home))
	}
	if m.ZoomFactor <= 1 {
		problems = append(problems, "map.zoom_factor must be > 1")
	}
	if m.ZoomMin <= 0 || m.ZoomMax < m.ZoomMin {
		problems = append(problems, fmt.Sprintf("map zoom bounds [%v, %v] are invalid", m.ZoomMin, m.ZoomMax))
	}
	if m.ActiveMetric == "" {
		problems = append(problems, "map.active_metric is required")
	}
	if c.Sources.RatePerSec < 0 {
		problems = append(problems, "sources.rate_per_sec must be >= 0")
	}
	for metric, sc := range c.Scales {
		if !scaleKinds[sc.Kind] {
			problems = append(problems, fmt.Sprintf("scales.%s.kind %q is not linear, threshold or log", metric, sc.Kind))
		}
		if len(sc.Colors) == 1 {
			problems = append(problems, fmt.Sprintf("scales.%s needs at least two colors", metric))
		}
	}
	return problems
}

// Redacted returns a copy safe to print: the database password and the
// webhook path are masked.
func (c *Config) Redacted() Config {
	out := *c
	if u, err := url.Parse(c.Store.DatabaseURL); err == nil && u.User != nil {
		if _, ok := u.User.Password(); ok {
			u.User = url.UserPassword(u.User.Username(), "xxxxx")
			out.Store.DatabaseURL = u.String()
		}
	}
	if u, err := url.Parse(c.Monitoring.WebhookURL); err == nil && u.Host != "" {
		out.Monitoring.WebhookURL = u.Scheme + "://" + u.Host + "/xxxxx"
	}
	return out
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
