// Package config loads engine settings from a YAML file, a .env file and
// KESTREL_* environment variables, in increasing order of precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Engine  Engine  `mapstructure:"engine"`
	Journal Journal `mapstructure:"journal"`
	GRPC    GRPC    `mapstructure:"grpc"`
	Kafka   Kafka   `mapstructure:"kafka"`
	Metrics Metrics `mapstructure:"metrics"`
	Log     Log     `mapstructure:"log"`
	RefData RefData `mapstructure:"refdata"`
}

type Engine struct {
	PageSize       int `mapstructure:"page_size"`
	MaxSmallBlocks int `mapstructure:"max_small_blocks"`
	MaxLargeBlocks int `mapstructure:"max_large_blocks"`
	// MaxLevels caps price levels per book side. Zero is unbounded.
	MaxLevels int `mapstructure:"max_levels"`
}

type Journal struct {
	// Driver is "pebble" or "wal".
	Driver      string `mapstructure:"driver"`
	Dir         string `mapstructure:"dir"`
	SegmentSize int64  `mapstructure:"segment_size"`
}

type GRPC struct {
	Addr string `mapstructure:"addr"`
}

type Kafka struct {
	Brokers     []string      `mapstructure:"brokers"`
	FillsTopic  string        `mapstructure:"fills_topic"`
	TradesTopic string        `mapstructure:"trades_topic"`
	Interval    time.Duration `mapstructure:"interval"`
}

// Enabled reports whether any broker is configured.
func (k Kafka) Enabled() bool {
	return len(k.Brokers) > 0
}

type Metrics struct {
	Addr string `mapstructure:"addr"`
}

type Log struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

type RefData struct {
	Markets []Market `mapstructure:"markets"`
	Traders []Trader `mapstructure:"traders"`
}

type Market struct {
	Mnem     string `mapstructure:"mnem"`
	Contr    string `mapstructure:"contr"`
	SettlDay int32  `mapstructure:"settl_day"`
	TickSize string `mapstructure:"tick_size"`
	Closed   bool   `mapstructure:"closed"`
}

type Trader struct {
	Mnem    string `mapstructure:"mnem"`
	Display string `mapstructure:"display"`
	Email   string `mapstructure:"email"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("engine.page_size", 0)
	v.SetDefault("engine.max_small_blocks", 0)
	v.SetDefault("engine.max_large_blocks", 0)
	v.SetDefault("engine.max_levels", 0)

	v.SetDefault("journal.driver", "pebble")
	v.SetDefault("journal.dir", "./data/journal")
	v.SetDefault("journal.segment_size", 64<<20)

	v.SetDefault("grpc.addr", ":50051")

	v.SetDefault("kafka.fills_topic", "kestrel.fills")
	v.SetDefault("kafka.trades_topic", "kestrel.trades")
	v.SetDefault("kafka.interval", 250*time.Millisecond)

	v.SetDefault("metrics.addr", ":9090")

	v.SetDefault("log.level", "info")
}

// Load reads path (optional) and envFile (optional) and applies defaults.
func Load(path, envFile string) (*Config, error) {
	if envFile != "" {
		_ = godotenv.Load(envFile)
	} else {
		_ = godotenv.Load()
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("KESTREL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	// Env values for list keys arrive as one comma separated string.
	if len(cfg.Kafka.Brokers) == 1 && strings.Contains(cfg.Kafka.Brokers[0], ",") {
		cfg.Kafka.Brokers = strings.Split(cfg.Kafka.Brokers[0], ",")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// MustLoad is Load for process bootstrap.
func MustLoad(path, envFile string) *Config {
	cfg, err := Load(path, envFile)
	if err != nil {
		panic("couldn't load configuration: " + err.Error())
	}
	return cfg
}

func (c *Config) Validate() error {
	switch c.Journal.Driver {
	case "pebble", "wal":
	default:
		return fmt.Errorf("config: unknown journal driver %q", c.Journal.Driver)
	}
	if c.Journal.Dir == "" {
		return fmt.Errorf("config: journal.dir is required")
	}
	seen := make(map[string]bool)
	for _, m := range c.RefData.Markets {
		if m.Mnem == "" || m.Contr == "" {
			return fmt.Errorf("config: market requires mnem and contr")
		}
		if seen[m.Mnem] {
			return fmt.Errorf("config: duplicate market %q", m.Mnem)
		}
		seen[m.Mnem] = true
	}
	return nil
}
