package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/basekick-labs/ritstream/internal/mqtt"
	"github.com/basekick-labs/ritstream/internal/pipeline"
	"github.com/basekick-labs/ritstream/internal/source"
)

// ErrInvalid is wrapped by every Validate failure.
var ErrInvalid = errors.New("invalid configuration")

// Config holds all configuration for ritstream
type Config struct {
	Source   SourceConfig
	MQTT     MQTTConfig
	Pipeline PipelineConfig
	Log      LogConfig
	Metrics  MetricsConfig
}

type SourceConfig struct {
	Driver   string // sqlite3, duckdb or pgx
	DSN      string // File path for sqlite3/duckdb, connection string for pgx
	Table    string
	PageSize int64
	Snapshot bool // Read every page inside one read-only transaction
}

type MQTTConfig struct {
	Broker                string
	ClientID              string
	Topic                 string
	QoS                   int
	Username              string
	Password              string
	KeepAliveSeconds      int
	ConnectTimeoutSeconds int
	PublishTimeoutSeconds int // Max wait for the broker ack per batch
	ReconnectMaxSeconds   int
	// TLS Configuration
	TLSEnabled            bool
	TLSCertPath           string
	TLSKeyPath            string
	TLSCAPath             string
	TLSInsecureSkipVerify bool
}

type PipelineConfig struct {
	SettleDelayMS    int
	ProgressInterval int64 // Rows between progress lines, 0 disables them
}

type LogConfig struct {
	Level  string
	Format string
}

type MetricsConfig struct {
	ListenAddr string // Empty disables the /metrics endpoint
}

// Load loads configuration from defaults, an optional config file and the environment.
// When configFile is empty the standard locations are searched for ritstream.toml.
func Load(configFile string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	// Environment variables
	v.SetEnvPrefix("RITSTREAM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// SQLITE_PATH is the historical way to point at the database file.
	if err := v.BindEnv("source.dsn", "RITSTREAM_SOURCE_DSN", "SQLITE_PATH"); err != nil {
		return nil, fmt.Errorf("failed to bind source.dsn: %w", err)
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", configFile, err)
		}
	} else {
		v.SetConfigName("ritstream")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/ritstream/")
		v.AddConfigPath("$HOME/.ritstream/")

		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
			// Config file not found is OK, use defaults
		}
	}

	cfg := &Config{
		Source: SourceConfig{
			Driver:   v.GetString("source.driver"),
			DSN:      v.GetString("source.dsn"),
			Table:    v.GetString("source.table"),
			PageSize: v.GetInt64("source.page_size"),
			Snapshot: v.GetBool("source.snapshot"),
		},
		MQTT: MQTTConfig{
			Broker:                v.GetString("mqtt.broker"),
			ClientID:              v.GetString("mqtt.client_id"),
			Topic:                 v.GetString("mqtt.topic"),
			QoS:                   v.GetInt("mqtt.qos"),
			Username:              v.GetString("mqtt.username"),
			Password:              v.GetString("mqtt.password"),
			KeepAliveSeconds:      v.GetInt("mqtt.keep_alive_seconds"),
			ConnectTimeoutSeconds: v.GetInt("mqtt.connect_timeout_seconds"),
			PublishTimeoutSeconds: v.GetInt("mqtt.publish_timeout_seconds"),
			ReconnectMaxSeconds:   v.GetInt("mqtt.reconnect_max_seconds"),
			TLSEnabled:            v.GetBool("mqtt.tls_enabled"),
			TLSCertPath:           v.GetString("mqtt.tls_cert_path"),
			TLSKeyPath:            v.GetString("mqtt.tls_key_path"),
			TLSCAPath:             v.GetString("mqtt.tls_ca_path"),
			TLSInsecureSkipVerify: v.GetBool("mqtt.tls_insecure_skip_verify"),
		},
		Pipeline: PipelineConfig{
			SettleDelayMS:    v.GetInt("pipeline.settle_delay_ms"),
			ProgressInterval: v.GetInt64("pipeline.progress_interval"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
		Metrics: MetricsConfig{
			ListenAddr: v.GetString("metrics.listen_addr"),
		},
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Source defaults
	v.SetDefault("source.driver", source.DriverSQLite)
	v.SetDefault("source.dsn", "")
	v.SetDefault("source.table", source.DefaultTable)
	v.SetDefault("source.page_size", pipeline.DefaultPageSize)
	v.SetDefault("source.snapshot", true)

	// MQTT defaults
	v.SetDefault("mqtt.broker", mqtt.DefaultBroker)
	v.SetDefault("mqtt.client_id", mqtt.DefaultClientID)
	v.SetDefault("mqtt.topic", mqtt.DefaultTopic)
	v.SetDefault("mqtt.qos", int(mqtt.QoSAtLeastOnce))
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.keep_alive_seconds", 60)
	v.SetDefault("mqtt.connect_timeout_seconds", 30)
	v.SetDefault("mqtt.publish_timeout_seconds", 30)
	v.SetDefault("mqtt.reconnect_max_seconds", 60)
	v.SetDefault("mqtt.tls_enabled", false)
	v.SetDefault("mqtt.tls_cert_path", "")
	v.SetDefault("mqtt.tls_key_path", "")
	v.SetDefault("mqtt.tls_ca_path", "")
	v.SetDefault("mqtt.tls_insecure_skip_verify", false)

	// Pipeline defaults
	v.SetDefault("pipeline.settle_delay_ms", int(pipeline.DefaultSettleDelay/time.Millisecond))
	v.SetDefault("pipeline.progress_interval", pipeline.DefaultProgressInterval)

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Metrics defaults (disabled)
	v.SetDefault("metrics.listen_addr", "")
}

// Validate rejects settings that cannot produce a correct run.
func (c *Config) Validate() error {
	switch c.Source.Driver {
	case source.DriverSQLite, source.DriverDuckDB, source.DriverPostgres:
	default:
		return fmt.Errorf("%w: unknown source.driver %q", ErrInvalid, c.Source.Driver)
	}
	if c.Source.DSN == "" {
		return fmt.Errorf("%w: source.dsn is required (or set SQLITE_PATH)", ErrInvalid)
	}
	if c.Source.PageSize <= 0 {
		return fmt.Errorf("%w: source.page_size must be positive, got %d", ErrInvalid, c.Source.PageSize)
	}
	if c.MQTT.Topic == "" {
		return fmt.Errorf("%w: mqtt.topic is required", ErrInvalid)
	}
	if err := mqtt.ValidateTopic(c.MQTT.Topic); err != nil {
		return fmt.Errorf("%w: mqtt.topic: %v", ErrInvalid, err)
	}
	if c.MQTT.QoS != int(mqtt.QoSAtLeastOnce) {
		return fmt.Errorf("%w: mqtt.qos must be 1 (at-least-once), got %d", ErrInvalid, c.MQTT.QoS)
	}
	mqttOpts := c.MQTTOptions()
	if err := mqttOpts.Validate(); err != nil {
		return fmt.Errorf("%w: mqtt: %v", ErrInvalid, err)
	}
	if c.Pipeline.SettleDelayMS < 0 {
		return fmt.Errorf("%w: pipeline.settle_delay_ms cannot be negative", ErrInvalid)
	}
	if c.Pipeline.ProgressInterval < 0 {
		return fmt.Errorf("%w: pipeline.progress_interval cannot be negative", ErrInvalid)
	}
	return nil
}

// SourceOptions maps the source section to source.Config.
func (c *Config) SourceOptions() source.Config {
	return source.Config{
		Driver:   c.Source.Driver,
		DSN:      c.Source.DSN,
		Table:    c.Source.Table,
		Snapshot: c.Source.Snapshot,
	}
}

// MQTTOptions maps the mqtt section to mqtt.Options with defaults applied.
func (c *Config) MQTTOptions() mqtt.Options {
	opts := mqtt.Options{
		Broker:                c.MQTT.Broker,
		ClientID:              c.MQTT.ClientID,
		Username:              c.MQTT.Username,
		Password:              c.MQTT.Password,
		TLSEnabled:            c.MQTT.TLSEnabled,
		TLSCertPath:           c.MQTT.TLSCertPath,
		TLSKeyPath:            c.MQTT.TLSKeyPath,
		TLSCAPath:             c.MQTT.TLSCAPath,
		TLSInsecureSkipVerify: c.MQTT.TLSInsecureSkipVerify,
		KeepAliveSeconds:      c.MQTT.KeepAliveSeconds,
		ConnectTimeoutSeconds: c.MQTT.ConnectTimeoutSeconds,
		PublishTimeoutSeconds: c.MQTT.PublishTimeoutSeconds,
		ReconnectMaxSeconds:   c.MQTT.ReconnectMaxSeconds,
	}
	opts.SetDefaults()
	return opts
}

// PipelineOptions maps the relevant sections to pipeline.Config.
func (c *Config) PipelineOptions() pipeline.Config {
	return pipeline.Config{
		Topic:            c.MQTT.Topic,
		QoS:              byte(c.MQTT.QoS),
		PageSize:         c.Source.PageSize,
		SettleDelay:      time.Duration(c.Pipeline.SettleDelayMS) * time.Millisecond,
		ProgressInterval: c.Pipeline.ProgressInterval,
	}
}
