package config

import "time"

// Config is the process-wide configuration snapshot. It is resolved once at
// startup and treated as immutable afterwards; the trading policy rails live
// in the database, not here.
type Config struct {
	App       AppConfig       `yaml:"app"`
	Broker    BrokerConfig    `yaml:"broker"`
	Risk      RiskConfig      `yaml:"risk"`
	Market    MarketConfig    `yaml:"market"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Notify    NotifyConfig    `yaml:"notify"`
}

type AppConfig struct {
	Env         string `yaml:"env"`
	LogLevel    string `yaml:"log_level"`
	HTTPAddr    string `yaml:"http_addr"`
	LogPath     string `yaml:"log_path"`
	DBPath      string `yaml:"db_path"`
	AuditDir    string `yaml:"audit_dir"`
	ArtifactDir string `yaml:"artifact_dir"`
}

// BrokerConfig describes access to the brokerage REST API. Env selects the
// demo or live base URL; Mode selects paper fills vs real order placement.
type BrokerConfig struct {
	Env            string `yaml:"env"`  // "demo" | "live"
	Mode           string `yaml:"mode"` // "paper" | "live"
	APIKey         string `yaml:"api_key"`
	APISecret      string `yaml:"api_secret"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	MaxRetries     int    `yaml:"max_retries"`
	// PaperCash seeds the account snapshot when no broker credentials are
	// configured, so the cash guard has a balance to check against.
	PaperCash float64 `yaml:"paper_cash"`
}

func (b BrokerConfig) Timeout() time.Duration {
	if b.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(b.TimeoutSeconds) * time.Second
}

// RiskConfig carries the execution-engine hard caps. These are process-level
// rails, distinct from the per-strategy policy stored in the database.
type RiskConfig struct {
	MaxSingleOrderNotional float64 `yaml:"max_single_order_notional"`
	MaxDailyNotional       float64 `yaml:"max_daily_notional"`
	DuplicateWindowSeconds int     `yaml:"duplicate_window_seconds"`
}

type MarketConfig struct {
	BaseURL         string            `yaml:"base_url"`
	CacheTTLSeconds int               `yaml:"cache_ttl_seconds"`
	CacheMaxItems   int               `yaml:"cache_max_items"`
	LookbackDays    int               `yaml:"lookback_days"`
	SymbolMap       map[string]string `yaml:"symbol_map"`
}

type SchedulerConfig struct {
	TickSeconds int    `yaml:"tick_seconds"`
	Timezone    string `yaml:"timezone"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
}
