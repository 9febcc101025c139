package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load reads the YAML config at path, applies defaults, overlays broker
// credentials from the environment, and validates the result.
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file failed (%s): %w", path, err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "yaml"
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	cfg.applyDefaults()
	cfg.applyEnvOverrides()
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.App.HTTPAddr == "" {
		c.App.HTTPAddr = ":8870"
	}
	if c.App.DBPath == "" {
		c.App.DBPath = "data/levtrader.db"
	}
	if c.App.AuditDir == "" {
		c.App.AuditDir = "data/trades"
	}
	if c.App.ArtifactDir == "" {
		c.App.ArtifactDir = "data/artifacts"
	}
	if c.Broker.Env == "" {
		c.Broker.Env = "demo"
	}
	if c.Broker.Mode == "" {
		c.Broker.Mode = "paper"
	}
	if c.Broker.TimeoutSeconds <= 0 {
		c.Broker.TimeoutSeconds = 30
	}
	if c.Broker.MaxRetries <= 0 {
		c.Broker.MaxRetries = 2
	}
	if c.Broker.PaperCash <= 0 {
		c.Broker.PaperCash = 10000
	}
	if c.Risk.MaxSingleOrderNotional <= 0 {
		c.Risk.MaxSingleOrderNotional = 2000
	}
	if c.Risk.MaxDailyNotional <= 0 {
		c.Risk.MaxDailyNotional = 8000
	}
	if c.Risk.DuplicateWindowSeconds <= 0 {
		c.Risk.DuplicateWindowSeconds = 45
	}
	if c.Market.CacheTTLSeconds <= 0 {
		c.Market.CacheTTLSeconds = 300
	}
	if c.Market.CacheMaxItems <= 0 {
		c.Market.CacheMaxItems = 512
	}
	if c.Market.LookbackDays <= 0 {
		c.Market.LookbackDays = 180
	}
	// viper lower-cases map keys on decode; symbols are upper-case everywhere
	// else, so restore that here.
	if len(c.Market.SymbolMap) > 0 {
		normalized := make(map[string]string, len(c.Market.SymbolMap))
		for symbol, vendor := range c.Market.SymbolMap {
			normalized[strings.ToUpper(strings.TrimSpace(symbol))] = vendor
		}
		c.Market.SymbolMap = normalized
	}
	if c.Scheduler.TickSeconds <= 0 {
		c.Scheduler.TickSeconds = 15
	}
	if c.Scheduler.Timezone == "" {
		c.Scheduler.Timezone = "Europe/London"
	}
}

// applyEnvOverrides lets credentials live outside the config file.
func (c *Config) applyEnvOverrides() {
	if key := strings.TrimSpace(os.Getenv("LEVTRADER_BROKER_API_KEY")); key != "" {
		c.Broker.APIKey = key
	}
	if secret := strings.TrimSpace(os.Getenv("LEVTRADER_BROKER_API_SECRET")); secret != "" {
		c.Broker.APISecret = secret
	}
	if env := strings.TrimSpace(os.Getenv("LEVTRADER_BROKER_ENV")); env != "" {
		c.Broker.Env = env
	}
}

func validate(c *Config) error {
	switch strings.ToLower(c.Broker.Env) {
	case "demo", "live":
	default:
		return fmt.Errorf("broker.env must be demo or live, got %q", c.Broker.Env)
	}
	switch strings.ToLower(c.Broker.Mode) {
	case "paper", "live":
	default:
		return fmt.Errorf("broker.mode must be paper or live, got %q", c.Broker.Mode)
	}
	if c.Broker.Mode == "live" && (c.Broker.APIKey == "" || c.Broker.APISecret == "") {
		return fmt.Errorf("broker.mode=live requires api_key and api_secret")
	}
	if c.Risk.MaxSingleOrderNotional > c.Risk.MaxDailyNotional {
		return fmt.Errorf("risk.max_single_order_notional exceeds risk.max_daily_notional")
	}
	return nil
}
