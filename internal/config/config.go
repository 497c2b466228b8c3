// Package config loads replay settings from defaults, an optional YAML file,
// ITCH_* environment variables and command-line flags, in that order of
// increasing precedence.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/Aidin1998/itchbook/internal/itch"
)

const envPrefix = "ITCH"

// Config is the full replay configuration.
type Config struct {
	Files    []string `mapstructure:"files" validate:"required,min=1,dive,required"`
	Version  string   `mapstructure:"version" validate:"required"`
	Symbols  []string `mapstructure:"symbols" validate:"required,min=1,dive,required,max=8"`
	Levels   int      `mapstructure:"levels" validate:"min=1,max=100"`
	Capacity int      `mapstructure:"capacity" validate:"min=1"`
	Workers  int      `mapstructure:"workers" validate:"min=1"`

	Log      LogConfig  `mapstructure:"log"`
	Journal  string     `mapstructure:"journal"`
	Manifest string     `mapstructure:"manifest"`
	Metrics  string     `mapstructure:"metrics_addr" validate:"omitempty,hostname_port"`
	Sinks    SinkConfig `mapstructure:"sinks"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json console"`
}

// SinkConfig enables a sink by giving it a destination. At least one is required.
type SinkConfig struct {
	CSVDir      string   `mapstructure:"csv_dir"`
	BadgerPath  string   `mapstructure:"badger_path"`
	JSONLPath   string   `mapstructure:"jsonl_path"`
	SQLDriver   string   `mapstructure:"sql_driver" validate:"omitempty,oneof=postgres sqlite"`
	SQLDSN      string   `mapstructure:"sql_dsn" validate:"required_with=SQLDriver"`
	PostgresDSN string   `mapstructure:"postgres_dsn"`
	Kafka       []string `mapstructure:"kafka_brokers" validate:"omitempty,dive,hostname_port"`
	KafkaTopic  string   `mapstructure:"kafka_topic_prefix"`
	Redis       []string `mapstructure:"redis_addrs" validate:"omitempty,dive,hostname_port"`
	RedisMaxLen int64    `mapstructure:"redis_max_len" validate:"min=0"`
}

// Enabled lists the names of the configured sinks.
func (s SinkConfig) Enabled() []string {
	var out []string
	if s.CSVDir != "" {
		out = append(out, "csv")
	}
	if s.BadgerPath != "" {
		out = append(out, "badger")
	}
	if s.JSONLPath != "" {
		out = append(out, "jsonl")
	}
	if s.SQLDriver != "" {
		out = append(out, "sql")
	}
	if s.PostgresDSN != "" {
		out = append(out, "postgres")
	}
	if len(s.Kafka) > 0 {
		out = append(out, "kafka")
	}
	if len(s.Redis) > 0 {
		out = append(out, "redis")
	}
	return out
}

// ProtocolVersion parses Version.
func (c *Config) ProtocolVersion() (itch.Version, error) {
	return itch.ParseVersion(c.Version)
}

func stockWidth(v itch.Version) (int, error) {
	l, err := itch.Lookup(v, 'A')
	if err != nil {
		return 0, err
	}
	f, ok := l.Field(itch.FieldStock)
	if !ok {
		return 0, fmt.Errorf("no stock field in %s add order", v)
	}
	return f.Width, nil
}

// Flags declares every setting on fs. Keys match the YAML names.
func Flags(fs *pflag.FlagSet) {
	fs.String("config", "", "path to a YAML config file")
	fs.StringSlice("files", nil, "session files, path or path@YYYY-MM-DD")
	fs.String("version", "4.1", "ITCH protocol version (4.0, 4.1, 5.0)")
	fs.StringSlice("symbols", nil, "symbols to reconstruct")
	fs.Int("levels", 5, "book levels per side in snapshots")
	fs.Int("capacity", 10_000, "records held per stream before a flush")
	fs.Int("workers", 1, "session files replayed concurrently")
	fs.String("log.level", "info", "log level")
	fs.String("log.format", "console", "log format (json, console)")
	fs.String("journal", "", "anomaly journal path")
	fs.String("manifest", "", "run manifest path")
	fs.String("metrics_addr", "", "serve prometheus metrics on host:port")
	fs.String("sinks.csv_dir", "", "write delimited text under this directory")
	fs.String("sinks.badger_path", "", "write integer rows to a badger store")
	fs.String("sinks.jsonl_path", "", "append records to a JSON lines log")
	fs.String("sinks.sql_driver", "", "relational sink driver (postgres, sqlite)")
	fs.String("sinks.sql_dsn", "", "relational sink DSN")
	fs.String("sinks.postgres_dsn", "", "bulk COPY into postgres")
	fs.StringSlice("sinks.kafka_brokers", nil, "kafka brokers")
	fs.String("sinks.kafka_topic_prefix", "itch", "kafka topic prefix")
	fs.StringSlice("sinks.redis_addrs", nil, "redis addresses for stream output")
	fs.Int64("sinks.redis_max_len", 0, "approximate redis stream length cap, 0 for none")
}

var validate = validator.New()

// Load resolves the configuration. fs must have been set up with Flags and parsed.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("bind flags: %w", err)
	}

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("itchreplay")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints, that every symbol fits the stock field
// of the chosen version and that at least one sink is configured.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	version, err := c.ProtocolVersion()
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	width, err := stockWidth(version)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	for _, sym := range c.Symbols {
		if len(sym) > width {
			return fmt.Errorf("invalid config: symbol %q is longer than %d bytes under ITCH %s", sym, width, version)
		}
	}
	if len(c.Sinks.Enabled()) == 0 {
		return errors.New("invalid config: no sink configured")
	}
	return nil
}
