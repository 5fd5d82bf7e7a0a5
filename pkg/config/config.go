// Package config loads georecon settings from a YAML file, a .env file and
// the process environment, in that order of precedence (lowest first).
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/georecon/pkg/gazetteer"
	"github.com/hazyhaar/georecon/pkg/reconcile"
	"github.com/hazyhaar/georecon/pkg/store"
)

// Config is the file layout of config.yaml.
type Config struct {
	Input     string      `yaml:"input"`
	Store     StoreConfig `yaml:"store"`
	Reconcile Reconcile   `yaml:"reconcile"`
	Redis     RedisConfig `yaml:"redis"`
	Log       LogConfig   `yaml:"log"`
	HTTP      HTTPConfig  `yaml:"http"`
}

type StoreConfig struct {
	Driver       string        `yaml:"driver"`
	DSN          string        `yaml:"dsn"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxOpenConns int           `yaml:"max_open_conns"`
}

type Reconcile struct {
	Workers         int                 `yaml:"workers"`
	BatchSize       int                 `yaml:"batch_size"`
	RadiusKm        map[string]float64  `yaml:"radius_km"`
	Countries       []string            `yaml:"countries"`
	Features        map[string][]string `yaml:"features"`
	MaxParseErrors  int                 `yaml:"max_parse_errors"`
	SuggestDistance int                 `yaml:"suggest_distance"`
	Report          string              `yaml:"report"`
}

type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix"`
	LockTTL  time.Duration `yaml:"lock_ttl"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type HTTPConfig struct {
	Addr        string `yaml:"addr"`
	MetricsAddr string `yaml:"metrics_addr"`
}

// Default returns the settings used when no file is present.
func Default() Config {
	def := reconcile.DefaultConfig()
	radius := make(map[string]float64, len(def.RadiusKm))
	for l, r := range def.RadiusKm {
		radius[string(l)] = r
	}
	return Config{
		Store: StoreConfig{
			Driver:  store.SQLite,
			DSN:     "georecon.db",
			Timeout: store.DefaultTimeout,
		},
		Reconcile: Reconcile{
			Workers:         def.Workers,
			BatchSize:       def.BatchSize,
			RadiusKm:        radius,
			MaxParseErrors:  100,
			SuggestDistance: def.SuggestDistance,
		},
		Redis: RedisConfig{Prefix: "georecon:", LockTTL: 6 * time.Hour},
		Log:   LogConfig{Level: "info", Format: "text"},
		HTTP:  HTTPConfig{Addr: ":8420"},
	}
}

// Load reads path over the defaults, then applies .env and environment
// overrides. A missing file is not an error.
func Load(path string, logger *slog.Logger) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		logger.Info("no config file, using defaults", "path", path)
	case err != nil:
		return cfg, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	_ = godotenv.Load(".env")
	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("GEORECON_STORE_DRIVER"); v != "" {
		c.Store.Driver = v
	}
	if v := os.Getenv("GEORECON_STORE_DSN"); v != "" {
		c.Store.DSN = v
	}
	if v := os.Getenv("GEORECON_INPUT"); v != "" {
		c.Input = v
	}
	if v := os.Getenv("GEORECON_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("GEORECON_WORKERS: %w", err)
		}
		c.Reconcile.Workers = n
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
	if c.Store.Driver == store.Postgres && (c.Store.DSN == "" || c.Store.DSN == Default().Store.DSN) {
		c.Store.DSN = PostgresDSNFromEnv()
	}
	return nil
}

// PostgresDSNFromEnv builds a postgres:// DSN from the PG_* variables.
func PostgresDSNFromEnv() string {
	host := envOr("PG_HOST", "localhost")
	port := envOr("PG_PORT", "5432")
	user := envOr("PG_USER", "postgres")
	pass := os.Getenv("PG_PASSWORD")
	db := envOr("PG_DB", "georecon")
	ssl := envOr("PG_SSLMODE", "disable")

	dsn := "postgres://" + user
	if pass != "" {
		dsn += ":" + pass
	}
	dsn += "@" + host + ":" + port + "/" + db + "?sslmode=" + ssl
	return dsn
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch c.Store.Driver {
	case store.SQLite, store.Postgres:
	default:
		return fmt.Errorf("store.driver: unknown driver %q", c.Store.Driver)
	}
	if c.Store.DSN == "" {
		return fmt.Errorf("store.dsn: empty")
	}
	if c.Reconcile.Workers < 1 {
		return fmt.Errorf("reconcile.workers: must be >= 1, got %d", c.Reconcile.Workers)
	}
	if c.Reconcile.BatchSize < 1 {
		return fmt.Errorf("reconcile.batch_size: must be >= 1, got %d", c.Reconcile.BatchSize)
	}
	for l, r := range c.Reconcile.RadiusKm {
		if _, err := gazetteer.ParseLevel(l); err != nil {
			return fmt.Errorf("reconcile.radius_km: %w", err)
		}
		if r < 0 {
			return fmt.Errorf("reconcile.radius_km.%s: negative radius %g", l, r)
		}
	}
	if _, err := c.FeatureTable(); err != nil {
		return fmt.Errorf("reconcile.features: %w", err)
	}
	return nil
}

// FeatureTable returns the configured feature codes, or the defaults when
// none are set.
func (c Config) FeatureTable() (gazetteer.FeatureTable, error) {
	if len(c.Reconcile.Features) == 0 {
		return gazetteer.DefaultFeatures(), nil
	}
	byLevel := make(map[gazetteer.Level][]string, len(c.Reconcile.Features))
	for name, codes := range c.Reconcile.Features {
		l, err := gazetteer.ParseLevel(name)
		if err != nil {
			return nil, err
		}
		byLevel[l] = codes
	}
	return gazetteer.NewFeatureTable(byLevel)
}

// StoreOptions returns the options for store.Open.
func (c Config) StoreOptions() store.Options {
	return store.Options{
		Driver:       c.Store.Driver,
		DSN:          c.Store.DSN,
		Timeout:      c.Store.Timeout,
		MaxOpenConns: c.Store.MaxOpenConns,
	}
}

// EngineConfig returns the reconcile settings. Call Validate first.
func (c Config) EngineConfig() (reconcile.Config, error) {
	ft, err := c.FeatureTable()
	if err != nil {
		return reconcile.Config{}, err
	}
	radius := make(map[gazetteer.Level]float64, len(c.Reconcile.RadiusKm))
	for name, r := range c.Reconcile.RadiusKm {
		l, err := gazetteer.ParseLevel(name)
		if err != nil {
			return reconcile.Config{}, err
		}
		radius[l] = r
	}
	countries := make([]string, 0, len(c.Reconcile.Countries))
	for _, cc := range c.Reconcile.Countries {
		countries = append(countries, strings.ToUpper(strings.TrimSpace(cc)))
	}
	return reconcile.Config{
		Workers:   c.Reconcile.Workers,
		BatchSize: c.Reconcile.BatchSize,
		RadiusKm:  radius,
		Reader: gazetteer.Options{
			Features:  ft,
			Countries: countries,
			MaxErrors: c.Reconcile.MaxParseErrors,
		},
		SuggestDistance: c.Reconcile.SuggestDistance,
	}, nil
}

// Logger builds the process logger writing to w.
func (c Config) Logger(w io.Writer) *slog.Logger {
	return NewLogger(w, c.Log.Level, c.Log.Format)
}

// NewLogger returns a text or JSON slog logger at the named level.
func NewLogger(w io.Writer, level, format string) *slog.Logger {
	lvl := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.ToLower(format) == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
