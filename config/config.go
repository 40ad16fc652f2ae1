// Package config loads simulator settings.
// Priority: ENV > .env file > defaults.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"l3sim/domain/orderbook"
	"l3sim/domain/session"
)

const envPrefix = "L3SIM"

type Config struct {
	Mode      string
	Date      string
	Codes     []string
	StockType string
	LotSize   int64

	JournalDir  string
	SnapshotDir string
	OutboxDir   string

	KafkaBrokers []string
	KafkaTopic   string

	HookLevels       int
	Step             time.Duration
	SnapshotInterval time.Duration
	RecordDir        string // per-instrument book series, empty disables
	MetricsAddr      string // prometheus listener, empty disables
	LogLevel         string
}

func defaults(v *viper.Viper) {
	v.SetDefault("mode", "backtest")
	v.SetDefault("date", "")
	v.SetDefault("code", "")
	v.SetDefault("stock_type", "stock")
	v.SetDefault("lot_size", 100)
	v.SetDefault("journal_dir", "./data/journal")
	v.SetDefault("snapshot_dir", "./data/snapshots")
	v.SetDefault("outbox_dir", "./data/outbox")
	v.SetDefault("kafka_brokers", "")
	v.SetDefault("kafka_topic", "l3sim.book")
	v.SetDefault("hook_levels", 10)
	v.SetDefault("step_ms", 1000)
	v.SetDefault("snapshot_interval_ms", 30000)
	v.SetDefault("record_dir", "")
	v.SetDefault("metrics_addr", "")
	v.SetDefault("log_level", "info")
}

// Load reads envPath (optional, missing is fine) into the environment and
// resolves every L3SIM_* key against the defaults.
func Load(envPath string) (Config, error) {
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	v := viper.New()
	defaults(v)
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	cfg := Config{
		Mode:             v.GetString("mode"),
		Date:             v.GetString("date"),
		Codes:            list(v.GetString("code")),
		StockType:        v.GetString("stock_type"),
		LotSize:          v.GetInt64("lot_size"),
		JournalDir:       v.GetString("journal_dir"),
		SnapshotDir:      v.GetString("snapshot_dir"),
		OutboxDir:        v.GetString("outbox_dir"),
		KafkaBrokers:     list(v.GetString("kafka_brokers")),
		KafkaTopic:       v.GetString("kafka_topic"),
		HookLevels:       v.GetInt("hook_levels"),
		Step:             time.Duration(v.GetInt64("step_ms")) * time.Millisecond,
		SnapshotInterval: time.Duration(v.GetInt64("snapshot_interval_ms")) * time.Millisecond,
		RecordDir:        v.GetString("record_dir"),
		MetricsAddr:      v.GetString("metrics_addr"),
		LogLevel:         v.GetString("log_level"),
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if _, err := orderbook.ParseMode(c.Mode); err != nil {
		return err
	}
	if _, err := session.Start(c.Date); err != nil {
		return fmt.Errorf("%s_DATE: %w", envPrefix, err)
	}
	if len(c.Codes) == 0 {
		return fmt.Errorf("%s_CODE is empty", envPrefix)
	}
	if c.LotSize <= 0 {
		return fmt.Errorf("%s_LOT_SIZE %d must be positive", envPrefix, c.LotSize)
	}
	if c.Step <= 0 {
		return fmt.Errorf("%s_STEP_MS must be positive", envPrefix)
	}
	return nil
}

// StepMillis is Step in simulated milliseconds.
func (c Config) StepMillis() int64 { return c.Step.Milliseconds() }

// Publishing reports whether events go straight to Kafka as well as the outbox.
func (c Config) Publishing() bool { return len(c.KafkaBrokers) > 0 }

func list(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
