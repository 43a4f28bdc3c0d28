package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// loadInEmptyDir runs Load from a directory without a ritstream.toml.
func loadInEmptyDir(t *testing.T) *Config {
	t.Helper()
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return cfg
}

func TestLoad_Defaults(t *testing.T) {
	cfg := loadInEmptyDir(t)

	if cfg.Source.Driver != "sqlite3" {
		t.Errorf("Source.Driver = %q, want sqlite3", cfg.Source.Driver)
	}
	if cfg.Source.Table != "ritdb1" {
		t.Errorf("Source.Table = %q, want ritdb1", cfg.Source.Table)
	}
	if cfg.Source.PageSize != 2500 {
		t.Errorf("Source.PageSize = %d, want 2500", cfg.Source.PageSize)
	}
	if !cfg.Source.Snapshot {
		t.Error("Source.Snapshot should default to true")
	}
	if cfg.MQTT.Broker != "tcp://localhost:1883" {
		t.Errorf("MQTT.Broker = %q, want tcp://localhost:1883", cfg.MQTT.Broker)
	}
	if cfg.MQTT.ClientID != "ritdb_inflight_data_generator" {
		t.Errorf("MQTT.ClientID = %q", cfg.MQTT.ClientID)
	}
	if cfg.MQTT.Topic != "ritdb" {
		t.Errorf("MQTT.Topic = %q, want ritdb", cfg.MQTT.Topic)
	}
	if cfg.MQTT.QoS != 1 {
		t.Errorf("MQTT.QoS = %d, want 1", cfg.MQTT.QoS)
	}
	if cfg.Pipeline.SettleDelayMS != 1000 {
		t.Errorf("Pipeline.SettleDelayMS = %d, want 1000", cfg.Pipeline.SettleDelayMS)
	}
	if cfg.Pipeline.ProgressInterval != 200000 {
		t.Errorf("Pipeline.ProgressInterval = %d, want 200000", cfg.Pipeline.ProgressInterval)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "json" {
		t.Errorf("Log = %+v, want info/json", cfg.Log)
	}
	if cfg.Metrics.ListenAddr != "" {
		t.Errorf("Metrics.ListenAddr = %q, want empty", cfg.Metrics.ListenAddr)
	}
}

func TestLoad_SQLitePathEnv(t *testing.T) {
	t.Setenv("SQLITE_PATH", "/data/ritdb.sqlite")
	cfg := loadInEmptyDir(t)

	if cfg.Source.DSN != "/data/ritdb.sqlite" {
		t.Errorf("Source.DSN = %q, want /data/ritdb.sqlite", cfg.Source.DSN)
	}
}

func TestLoad_PrefixedEnvWins(t *testing.T) {
	t.Setenv("SQLITE_PATH", "/data/old.sqlite")
	t.Setenv("RITSTREAM_SOURCE_DSN", "/data/new.sqlite")
	t.Setenv("RITSTREAM_SOURCE_PAGE_SIZE", "500")
	t.Setenv("RITSTREAM_MQTT_TOPIC", "ritdb/replay")
	cfg := loadInEmptyDir(t)

	if cfg.Source.DSN != "/data/new.sqlite" {
		t.Errorf("Source.DSN = %q, want /data/new.sqlite", cfg.Source.DSN)
	}
	if cfg.Source.PageSize != 500 {
		t.Errorf("Source.PageSize = %d, want 500", cfg.Source.PageSize)
	}
	if cfg.MQTT.Topic != "ritdb/replay" {
		t.Errorf("MQTT.Topic = %q, want ritdb/replay", cfg.MQTT.Topic)
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ritstream.toml")
	content := `
[source]
driver = "duckdb"
dsn = "/data/ritdb.duckdb"
page_size = 1000

[mqtt]
broker = "ssl://broker.example.com:8883"
tls_enabled = true

[pipeline]
settle_delay_ms = 0
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Source.Driver != "duckdb" || cfg.Source.DSN != "/data/ritdb.duckdb" {
		t.Errorf("Source = %+v", cfg.Source)
	}
	if cfg.Source.PageSize != 1000 {
		t.Errorf("Source.PageSize = %d, want 1000", cfg.Source.PageSize)
	}
	if !cfg.MQTT.TLSEnabled || cfg.MQTT.Broker != "ssl://broker.example.com:8883" {
		t.Errorf("MQTT = %+v", cfg.MQTT)
	}
	if cfg.Pipeline.SettleDelayMS != 0 {
		t.Errorf("Pipeline.SettleDelayMS = %d, want 0", cfg.Pipeline.SettleDelayMS)
	}
	// Untouched keys keep their defaults.
	if cfg.MQTT.Topic != "ritdb" {
		t.Errorf("MQTT.Topic = %q, want ritdb", cfg.MQTT.Topic)
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Error("Load() with a missing explicit file should fail")
	}
}

func validConfig(t *testing.T) *Config {
	t.Helper()
	t.Setenv("SQLITE_PATH", "/data/ritdb.sqlite")
	return loadInEmptyDir(t)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "defaults with dsn", mutate: func(c *Config) {}},
		{name: "postgres driver", mutate: func(c *Config) { c.Source.Driver = "pgx" }},
		{name: "unknown driver", mutate: func(c *Config) { c.Source.Driver = "mysql" }, wantErr: true},
		{name: "missing dsn", mutate: func(c *Config) { c.Source.DSN = "" }, wantErr: true},
		{name: "zero page size", mutate: func(c *Config) { c.Source.PageSize = 0 }, wantErr: true},
		{name: "negative page size", mutate: func(c *Config) { c.Source.PageSize = -10 }, wantErr: true},
		{name: "empty topic", mutate: func(c *Config) { c.MQTT.Topic = "" }, wantErr: true},
		{name: "wildcard topic", mutate: func(c *Config) { c.MQTT.Topic = "ritdb/#" }, wantErr: true},
		{name: "qos 0", mutate: func(c *Config) { c.MQTT.QoS = 0 }, wantErr: true},
		{name: "qos 2", mutate: func(c *Config) { c.MQTT.QoS = 2 }, wantErr: true},
		{name: "bad broker scheme", mutate: func(c *Config) { c.MQTT.Broker = "http://localhost:1883" }, wantErr: true},
		{name: "negative settle delay", mutate: func(c *Config) { c.Pipeline.SettleDelayMS = -1 }, wantErr: true},
		{name: "negative progress interval", mutate: func(c *Config) { c.Pipeline.ProgressInterval = -1 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr {
				if err == nil {
					t.Fatal("Validate() expected error, got nil")
				}
				if !errors.Is(err, ErrInvalid) {
					t.Errorf("Validate() error = %v, want ErrInvalid", err)
				}
				return
			}
			if err != nil {
				t.Errorf("Validate() unexpected error: %v", err)
			}
		})
	}
}

func TestPipelineOptions(t *testing.T) {
	cfg := validConfig(t)
	cfg.Pipeline.SettleDelayMS = 250

	p := cfg.PipelineOptions()
	if p.SettleDelay != 250*time.Millisecond {
		t.Errorf("SettleDelay = %v, want 250ms", p.SettleDelay)
	}
	if p.Topic != "ritdb" || p.QoS != 1 || p.PageSize != 2500 {
		t.Errorf("PipelineOptions() = %+v", p)
	}
}

func TestMQTTOptions(t *testing.T) {
	cfg := validConfig(t)
	cfg.MQTT.Username = "ingest"

	o := cfg.MQTTOptions()
	if o.Username != "ingest" || o.Broker != "tcp://localhost:1883" {
		t.Errorf("MQTTOptions() = %+v", o)
	}
	if o.DisconnectQuiesceMS == 0 {
		t.Error("MQTTOptions() should apply sink defaults")
	}
}
