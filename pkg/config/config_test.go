package config

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hazyhaar/georecon/pkg/gazetteer"
	"github.com/hazyhaar/georecon/pkg/store"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// clearEnv unsets every variable Load reads for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"GEORECON_STORE_DRIVER", "GEORECON_STORE_DSN", "GEORECON_INPUT", "GEORECON_WORKERS",
		"REDIS_ADDR", "REDIS_PASSWORD", "LOG_LEVEL", "LOG_FORMAT",
		"PG_HOST", "PG_PORT", "PG_USER", "PG_PASSWORD", "PG_DB", "PG_SSLMODE",
	} {
		t.Setenv(k, "")
	}
	t.Chdir(t.TempDir())
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), quiet())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store.Driver != store.SQLite || cfg.Reconcile.BatchSize != 500 {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Reconcile.RadiusKm["district"] != 50 || cfg.Reconcile.RadiusKm["town"] != 5 {
		t.Errorf("radius = %v", cfg.Reconcile.RadiusKm)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults invalid: %v", err)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
input: data/TR.zip
store:
  dsn: /var/lib/georecon.db
reconcile:
  workers: 3
  radius_km:
    town: 2.5
  countries: [tr]
`)
	cfg, err := Load(path, quiet())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Input != "data/TR.zip" || cfg.Store.DSN != "/var/lib/georecon.db" || cfg.Reconcile.Workers != 3 {
		t.Errorf("cfg = %+v", cfg)
	}
	// Maps are merged by yaml.v3, so the district default survives.
	if cfg.Reconcile.RadiusKm["town"] != 2.5 || cfg.Reconcile.RadiusKm["district"] != 50 {
		t.Errorf("radius = %v", cfg.Reconcile.RadiusKm)
	}
	if cfg.Reconcile.BatchSize != 500 {
		t.Errorf("BatchSize = %d, want default", cfg.Reconcile.BatchSize)
	}

	ec, err := cfg.EngineConfig()
	if err != nil {
		t.Fatalf("EngineConfig: %v", err)
	}
	if ec.RadiusKm[gazetteer.Town] != 2.5 || ec.Reader.Countries[0] != "TR" {
		t.Errorf("engine config = %+v", ec)
	}
}

func TestLoad_BadYAML(t *testing.T) {
	clearEnv(t)
	if _, err := Load(writeConfig(t, "store: [not, a, map"), quiet()); err == nil {
		t.Error("expected parse error")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("GEORECON_WORKERS", "7")
	t.Setenv("GEORECON_INPUT", "/in/allCountries.zip")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("LOG_FORMAT", "json")

	cfg, err := Load(writeConfig(t, "reconcile:\n  workers: 2\n"), quiet())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Reconcile.Workers != 7 || cfg.Input != "/in/allCountries.zip" || cfg.Redis.Addr != "redis:6379" || cfg.Log.Format != "json" {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoad_BadWorkersEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("GEORECON_WORKERS", "many")
	if _, err := Load("absent.yaml", quiet()); err == nil {
		t.Error("expected error")
	}
}

func TestLoad_DotEnv(t *testing.T) {
	clearEnv(t)
	os.Unsetenv("GEORECON_INPUT")
	if err := os.WriteFile(".env", []byte("GEORECON_INPUT=from-dotenv.txt\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("GEORECON_INPUT") })

	cfg, err := Load("absent.yaml", quiet())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Input != "from-dotenv.txt" {
		t.Errorf("Input = %q", cfg.Input)
	}
}

func TestLoad_PostgresFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("GEORECON_STORE_DRIVER", "postgres")
	t.Setenv("PG_HOST", "db")
	t.Setenv("PG_USER", "geo")
	t.Setenv("PG_PASSWORD", "secret")

	cfg, err := Load("absent.yaml", quiet())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := "postgres://geo:secret@db:5432/georecon?sslmode=disable"
	if cfg.Store.DSN != want {
		t.Errorf("DSN = %q, want %q", cfg.Store.DSN, want)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"driver", func(c *Config) { c.Store.Driver = "mysql" }, "unknown driver"},
		{"dsn", func(c *Config) { c.Store.DSN = "" }, "store.dsn"},
		{"workers", func(c *Config) { c.Reconcile.Workers = 0 }, "workers"},
		{"batch", func(c *Config) { c.Reconcile.BatchSize = -1 }, "batch_size"},
		{"negative radius", func(c *Config) { c.Reconcile.RadiusKm["town"] = -1 }, "negative radius"},
		{"radius level", func(c *Config) { c.Reconcile.RadiusKm["village"] = 1 }, "unknown level"},
		{"feature level", func(c *Config) { c.Reconcile.Features = map[string][]string{"region": {"ADM1"}} }, "unknown level"},
		{"feature clash", func(c *Config) {
			c.Reconcile.Features = map[string][]string{"province": {"ADM1"}, "town": {"ADM1"}}
		}, "features"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.want)
			}
		})
	}
}

func TestFeatureTable_Custom(t *testing.T) {
	cfg := Default()
	cfg.Reconcile.Features = map[string][]string{
		"province": {"ADM1"},
		"district": {"ADM2"},
		"town":     {"PPL"},
	}
	ft, err := cfg.FeatureTable()
	if err != nil {
		t.Fatalf("FeatureTable: %v", err)
	}
	if _, ok := ft.Categorize("PPLA"); ok {
		t.Error("PPLA should not be categorized by the custom table")
	}
	if l, ok := ft.Categorize("PPL"); !ok || l != gazetteer.Town {
		t.Errorf("PPL = %v, %v", l, ok)
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	NewLogger(&buf, "warn", "json").Info("hidden")
	NewLogger(&buf, "warn", "json").Warn("shown", "k", 1)
	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, `"msg":"shown"`) {
		t.Errorf("output = %q", out)
	}
}
