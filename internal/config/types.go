package config

import "strings"

// Config is the top-level configuration for kitebot. Every recognized option
// lives here; nothing is read from ad-hoc keys at runtime.
type Config struct {
	App      AppConfig      `toml:"app"`
	Broker   BrokerConfig   `toml:"broker"`
	Auth     AuthConfig     `toml:"auth"`
	Receiver ReceiverConfig `toml:"receiver"`
	Data     DataConfig     `toml:"data"`
	Strategy StrategyConfig `toml:"strategy"`
	Notify   NotifyConfig   `toml:"notify"`
	Journal  JournalConfig  `toml:"journal"`
	Trading  TradingConfig  `toml:"trading"`
	Health   HealthConfig   `toml:"health"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	LogPath  string `toml:"log_path"`
	Timezone string `toml:"timezone"`
}

// BrokerConfig describes the Kite-style brokerage API endpoint.
type BrokerConfig struct {
	APIKey         string  `toml:"api_key"`
	APISecret      string  `toml:"api_secret"`
	BaseURL        string  `toml:"base_url"`
	LoginBaseURL   string  `toml:"login_base_url"`
	TimeoutSeconds int     `toml:"timeout_seconds"`
	RatePerSecond  float64 `toml:"rate_per_second"`
}

// AuthConfig controls the redirect handshake and the credential store.
type AuthConfig struct {
	ReceiverURL             string `toml:"receiver_url"`
	PostbackURL             string `toml:"postback_url"`
	TimeoutSeconds          int    `toml:"timeout_seconds"`
	PollIntervalSeconds     int    `toml:"poll_interval_seconds"`
	ProgressIntervalSeconds int    `toml:"progress_interval_seconds"`
	DailyRefreshTime        string `toml:"daily_refresh_time"`
	MaxTokenAgeHours        int    `toml:"max_token_age_hours"`
	StorageDir              string `toml:"storage_dir"`
	HistoryRetentionDays    int    `toml:"history_retention_days"`
	WatchCredentialFile     bool   `toml:"watch_credential_file"`
}

// ReceiverConfig describes the bundled postback receiver, when served from
// this process.
type ReceiverConfig struct {
	Addr            string `toml:"addr"`
	TokenTTLSeconds int    `toml:"token_ttl_seconds"`
}

type DataConfig struct {
	Dir             string   `toml:"dir"`
	IntervalMinutes int      `toml:"interval_minutes"`
	MarketStart     string   `toml:"market_start"`
	MarketEnd       string   `toml:"market_end"`
	Holidays        []string `toml:"holidays"`
	RetentionDays   int      `toml:"retention_days"`
	CacheTTLSeconds int      `toml:"cache_ttl_seconds"`
}

// Tie-break policies for a candle where both legs signal at once.
const (
	TieBreakPreferCE = "prefer_ce"
	TieBreakPreferPE = "prefer_pe"
	TieBreakSkip     = "skip"
)

// StrategyConfig holds every threshold the signal engine compares against.
// These are empirically tuned policy parameters, not derived values.
type StrategyConfig struct {
	FastSpan        int     `toml:"fast_span"`
	SlowSpan        int     `toml:"slow_span"`
	MinHistory      int     `toml:"min_history"`
	EntryBand       float64 `toml:"entry_band"`
	EntryProximity  float64 `toml:"entry_proximity"`
	ExitBand        float64 `toml:"exit_band"`
	IndexCandleCap  int     `toml:"index_candle_cap"`
	OptionCandleCap int     `toml:"option_candle_cap"`
	TieBreak        string  `toml:"tie_break"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `toml:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"bot_token"`
	ChatID   string `toml:"chat_id"`
}

type JournalConfig struct {
	TradesPath  string `toml:"trades_path"`
	SignalsPath string `toml:"signals_path"`
}

// TradingConfig controls the live loop: instrument selection and sizing.
type TradingConfig struct {
	Mode          string `toml:"mode"` // "test" | "live"
	Underlying    string `toml:"underlying"`
	SpotSymbol    string `toml:"spot_symbol"`
	IndexToken    string `toml:"index_token"`
	Exchange      string `toml:"exchange"`
	PositionSize  int    `toml:"position_size"`
	LotSize       int    `toml:"lot_size"`
	StrikeStep    int    `toml:"strike_step"`
	AfternoonBias int    `toml:"afternoon_bias"`
	ExpiryDate    string `toml:"expiry_date"`
}

type HealthConfig struct {
	DataFreshnessSeconds   int `toml:"data_freshness_seconds"`
	CredentialAgeWarnHours int `toml:"credential_age_warn_hours"`
}

// LiveMode reports whether real orders should be placed.
func (t TradingConfig) LiveMode() bool {
	return strings.EqualFold(strings.TrimSpace(t.Mode), "live")
}
