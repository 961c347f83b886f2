package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"hft_go/internal/domain"
	"hft_go/pkg/quant"
)

// InstrumentConfig is one tradable instrument. Sizes are decimal strings in
// whole units so that they convert exactly to fixed point.
type InstrumentConfig struct {
	Symbol   string `yaml:"symbol"`
	TickSize string `yaml:"tick_size"`
	LotSize  string `yaml:"lot_size"`
}

// WindowConfig declares one moving average of the tick aggregator.
type WindowConfig struct {
	Name string `yaml:"name"`
	Kind string `yaml:"kind"` // sma | wma
	Size int    `yaml:"size"`
}

// Config holds every setting of the process. LoadConfig reads it from YAML,
// then lets environment variables override the secrets.
type Config struct {
	App struct {
		Name      string `yaml:"name"`
		Version   string `yaml:"version"`
		PprofAddr string `yaml:"pprof_addr"`
	} `yaml:"app"`

	Exchange struct {
		Endpoint       string        `yaml:"endpoint"` // tcp://host:port, ws:// or wss://
		Protocol       string        `yaml:"protocol"` // binary | text | fix
		APIKey         string        `yaml:"api_key"`
		APISecret      string        `yaml:"api_secret"`
		Passphrase     string        `yaml:"passphrase"`
		DialTimeout    time.Duration `yaml:"dial_timeout"`
		MaxPayload     int           `yaml:"max_payload"`
		FIXBeginString string        `yaml:"fix_begin_string"`
		FIXDelimiter   string        `yaml:"fix_delimiter"`
		Paper          bool          `yaml:"paper"` // fill orders locally, market data stays live
	} `yaml:"exchange"`

	Session struct {
		HeartbeatInterval  time.Duration `yaml:"heartbeat_interval"`
		HeartbeatTolerance float64       `yaml:"heartbeat_tolerance"`
		LogonTimeout       time.Duration `yaml:"logon_timeout"`
		LogoutTimeout      time.Duration `yaml:"logout_timeout"`
		WriteTimeout       time.Duration `yaml:"write_timeout"`
		MaxRetries         int           `yaml:"max_retries"`
		BackoffBase        time.Duration `yaml:"backoff_base"`
		BackoffMax         time.Duration `yaml:"backoff_max"`
		BackoffJitter      float64       `yaml:"backoff_jitter"`
		SequenceCheck      bool          `yaml:"sequence_check"`
	} `yaml:"session"`

	Instruments []InstrumentConfig `yaml:"instruments"`

	MarketData struct {
		DepthLevels int            `yaml:"depth_levels"`
		Windows     []WindowConfig `yaml:"windows"`
	} `yaml:"market_data"`

	Strategy struct {
		Name   string          `yaml:"name"` // sma_cross | price_sma
		Fast   string          `yaml:"fast"`
		Slow   string          `yaml:"slow"`
		Window string          `yaml:"window"`
		Qty    decimal.Decimal `yaml:"qty"`
	} `yaml:"strategy"`

	Risk struct {
		MaxPosition     decimal.Decimal `yaml:"max_position"`
		MaxLossPerTrade decimal.Decimal `yaml:"max_loss_per_trade"`
		StopLossPct     decimal.Decimal `yaml:"stop_loss_pct"`
		InitialCapital  decimal.Decimal `yaml:"initial_capital"`
	} `yaml:"risk"`

	Gateway struct {
		ResponseTimeout time.Duration `yaml:"response_timeout"`
		Retention       time.Duration `yaml:"retention"`
		MaxHistory      int           `yaml:"max_history"`
	} `yaml:"gateway"`

	Engine struct {
		Shards              int           `yaml:"shards"`
		InboxSize           int           `yaml:"inbox_size"`
		BatchSize           int           `yaml:"batch_size"`
		IntentBuffer        int           `yaml:"intent_buffer"`
		SubmitTimeout       time.Duration `yaml:"submit_timeout"`
		MaintenanceInterval time.Duration `yaml:"maintenance_interval"`
		DumpDir             string        `yaml:"dump_dir"`
	} `yaml:"engine"`

	Storage struct {
		Enabled       bool   `yaml:"enabled"`
		Path          string `yaml:"path"`
		JournalBuffer int    `yaml:"journal_buffer"`
	} `yaml:"storage"`

	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"metrics"`

	Logging struct {
		Level      string `yaml:"level"`
		Dir        string `yaml:"dir"`
		File       string `yaml:"file"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
		Compress   bool   `yaml:"compress"`
		Stdout     bool   `yaml:"stdout"`
	} `yaml:"logging"`
}

// LoadConfig reads and parses the configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &domain.ConfigError{Field: "path", Err: fmt.Errorf("%s: %w", path, domain.ErrConfigNotFound)}
		}
		return nil, err
	}
	return ParseConfig(data)
}

// ParseConfig decodes YAML, applies env overrides and defaults, and validates.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, &domain.ConfigError{Field: "yaml", Err: err}
	}

	// Secrets never need to live in the file.
	overrideWithEnv(&cfg)
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// ApplyDefaults fills unset timers and limits.
func (c *Config) ApplyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "hft_go"
	}
	if c.App.PprofAddr == "" {
		c.App.PprofAddr = "localhost:6060"
	}
	if c.Exchange.Protocol == "" {
		c.Exchange.Protocol = "binary"
	}
	if c.Exchange.DialTimeout <= 0 {
		c.Exchange.DialTimeout = 5 * time.Second
	}

	s := &c.Session
	if s.HeartbeatInterval <= 0 {
		s.HeartbeatInterval = 5 * time.Second
	}
	if s.HeartbeatTolerance <= 0 {
		s.HeartbeatTolerance = 2
	}
	if s.LogonTimeout <= 0 {
		s.LogonTimeout = 5 * time.Second
	}
	if s.LogoutTimeout <= 0 {
		s.LogoutTimeout = 2 * time.Second
	}
	if s.WriteTimeout <= 0 {
		s.WriteTimeout = 2 * time.Second
	}
	if s.BackoffBase <= 0 {
		s.BackoffBase = 500 * time.Millisecond
	}
	if s.BackoffMax <= 0 {
		s.BackoffMax = 30 * time.Second
	}

	if c.MarketData.DepthLevels <= 0 {
		c.MarketData.DepthLevels = 10
	}
	if len(c.MarketData.Windows) == 0 {
		c.MarketData.Windows = []WindowConfig{
			{Name: "fast", Kind: "sma", Size: 5},
			{Name: "slow", Kind: "sma", Size: 20},
		}
	}

	if c.Strategy.Name == "" {
		c.Strategy.Name = "sma_cross"
	}
	if c.Strategy.Fast == "" {
		c.Strategy.Fast = "fast"
	}
	if c.Strategy.Slow == "" {
		c.Strategy.Slow = "slow"
	}
	if c.Strategy.Window == "" {
		c.Strategy.Window = c.Strategy.Slow
	}

	if c.Gateway.ResponseTimeout <= 0 {
		c.Gateway.ResponseTimeout = 5 * time.Second
	}
	if c.Gateway.Retention <= 0 {
		c.Gateway.Retention = time.Minute
	}
	if c.Gateway.MaxHistory <= 0 {
		c.Gateway.MaxHistory = 10_000
	}

	if c.Engine.Shards <= 0 {
		c.Engine.Shards = 4
	}
	if c.Engine.DumpDir == "" {
		c.Engine.DumpDir = "."
	}

	if c.Storage.Path == "" {
		c.Storage.Path = "data/hft.db"
	}
	if c.Storage.JournalBuffer <= 0 {
		c.Storage.JournalBuffer = 1024
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}

	l := &c.Logging
	if l.Level == "" {
		l.Level = "info"
	}
	if l.Dir == "" {
		l.Dir = "logs"
	}
	if l.File == "" {
		l.File = "app.log"
	}
	if l.MaxSizeMB <= 0 {
		l.MaxSizeMB = 10
	}
	if l.MaxBackups <= 0 {
		l.MaxBackups = 3
	}
	if l.MaxAgeDays <= 0 {
		l.MaxAgeDays = 28
	}
}

func invalid(field, format string, args ...any) error {
	return &domain.ConfigError{Field: field, Err: fmt.Errorf(format, args...)}
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	// Exchange
	ep := c.Exchange.Endpoint
	if ep == "" {
		return invalid("exchange.endpoint", "must not be empty")
	}
	if strings.Contains(ep, "://") && !hasPrefix(ep, "tcp://") && !hasPrefix(ep, "ws://") && !hasPrefix(ep, "wss://") {
		return invalid("exchange.endpoint", "unsupported scheme in %q", ep)
	}
	switch c.Exchange.Protocol {
	case "binary", "text", "fix":
	default:
		return invalid("exchange.protocol", "unknown protocol %q", c.Exchange.Protocol)
	}
	if len(c.Exchange.FIXDelimiter) > 1 {
		return invalid("exchange.fix_delimiter", "must be a single byte")
	}

	// Session
	if c.Session.MaxRetries < 0 {
		return invalid("session.max_retries", "must not be negative")
	}
	if c.Session.BackoffMax < c.Session.BackoffBase {
		return invalid("session.backoff_max", "must not be below backoff_base")
	}
	if c.Session.BackoffJitter < 0 || c.Session.BackoffJitter > 1 {
		return invalid("session.backoff_jitter", "must be within [0, 1]")
	}

	// Instruments
	if len(c.Instruments) == 0 {
		return invalid("instruments", "at least one instrument is required")
	}
	if _, err := c.DomainInstruments(); err != nil {
		return err
	}

	// Strategy
	switch c.Strategy.Name {
	case "sma_cross", "price_sma", "none":
	default:
		return invalid("strategy.name", "unknown strategy %q", c.Strategy.Name)
	}
	if c.Strategy.Name != "none" && !c.Strategy.Qty.IsPositive() {
		return invalid("strategy.qty", "must be positive")
	}

	// Risk
	if c.Risk.MaxPosition.IsNegative() || c.Risk.MaxLossPerTrade.IsNegative() || c.Risk.InitialCapital.IsNegative() {
		return invalid("risk", "limits must not be negative")
	}
	if c.Risk.StopLossPct.IsNegative() || c.Risk.StopLossPct.GreaterThan(decimal.NewFromInt(1)) {
		return invalid("risk.stop_loss_pct", "must be within [0, 1]")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return invalid("logging.level", "unknown level %q", c.Logging.Level)
	}
	return nil
}

// DomainInstruments converts the instrument section to fixed point.
func (c *Config) DomainInstruments() ([]domain.Instrument, error) {
	out := make([]domain.Instrument, 0, len(c.Instruments))
	for i, ic := range c.Instruments {
		tick, err := quant.ParsePriceMicros(ic.TickSize)
		if err != nil {
			return nil, invalid(fmt.Sprintf("instruments[%d].tick_size", i), "%w", err)
		}
		lot, err := quant.ParseQtySats(ic.LotSize)
		if err != nil {
			return nil, invalid(fmt.Sprintf("instruments[%d].lot_size", i), "%w", err)
		}
		inst := domain.Instrument{Symbol: ic.Symbol, TickSize: tick, LotSize: lot}
		if err := inst.Validate(); err != nil {
			return nil, invalid(fmt.Sprintf("instruments[%d]", i), "%w", err)
		}
		out = append(out, inst)
	}
	return out, nil
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[0:len(prefix)] == prefix
}

// overrideWithEnv overwrites secrets and the endpoint from the environment.
func overrideWithEnv(cfg *Config) {
	if key := os.Getenv("HFT_API_KEY"); key != "" {
		cfg.Exchange.APIKey = key
	}
	if secret := os.Getenv("HFT_API_SECRET"); secret != "" {
		cfg.Exchange.APISecret = secret
	}
	if pass := os.Getenv("HFT_PASSPHRASE"); pass != "" {
		cfg.Exchange.Passphrase = pass
	}
	if ep := os.Getenv("HFT_ENDPOINT"); ep != "" {
		cfg.Exchange.Endpoint = ep
	}
}
