package config

const (
	defaultAppEnv            = "dev"
	defaultAppLogLevel       = "info"
	defaultAppTimezone       = "Asia/Kolkata"
	defaultBrokerBaseURL     = "https://api.kite.trade"
	defaultBrokerLoginURL    = "https://kite.zerodha.com/connect/login"
	defaultBrokerTimeout     = 15
	defaultBrokerRate        = 3
	defaultAuthTimeout       = 300
	defaultAuthPollInterval  = 3
	defaultAuthProgress      = 30
	defaultAuthRefreshTime   = "09:00"
	defaultAuthMaxAgeHours   = 20
	defaultAuthStorageDir    = "kite_tokens"
	defaultAuthHistoryDays   = 30
	defaultReceiverAddr      = ":8001"
	defaultReceiverTokenTTL  = 300
	defaultDataDir           = "option_data"
	defaultDataInterval      = 3
	defaultDataMarketStart   = "09:15"
	defaultDataMarketEnd     = "15:30"
	defaultDataRetentionDays = 30
	defaultDataCacheTTL      = 300
	defaultFastSpan          = 10
	defaultSlowSpan          = 20
	defaultMinHistory        = 20
	defaultEntryBand         = 51.0
	defaultEntryProximity    = 21.0
	defaultExitBand          = 150.0
	defaultIndexCandleCap    = 20
	defaultOptionCandleCap   = 10
	defaultTieBreak          = "skip"
	defaultTradingMode       = "test"
	defaultUnderlying        = "SENSEX"
	defaultSpotSymbol        = "BSE:SENSEX"
	defaultIndexToken        = "265"
	defaultExchange          = "BFO"
	defaultPositionSize      = 100
	defaultLotSize           = 20
	defaultStrikeStep        = 100
	defaultAfternoonBias     = 175
	defaultTradesPath        = "data/trades.db"
	defaultSignalsPath       = "data/signals.db"
	defaultHealthFreshness   = 300
	defaultHealthCredWarn    = 20
)

func (c *Config) applyDefaults() {
	c.App.applyDefaults()
	c.Broker.applyDefaults()
	c.Auth.applyDefaults()
	c.Receiver.applyDefaults()
	c.Data.applyDefaults()
	c.Strategy.applyDefaults()
	c.Journal.applyDefaults()
	c.Trading.applyDefaults()
	c.Health.applyDefaults()
}

func (a *AppConfig) applyDefaults() {
	if a.Env == "" {
		a.Env = defaultAppEnv
	}
	if a.LogLevel == "" {
		a.LogLevel = defaultAppLogLevel
	}
	if a.Timezone == "" {
		a.Timezone = defaultAppTimezone
	}
}

func (b *BrokerConfig) applyDefaults() {
	if b.BaseURL == "" {
		b.BaseURL = defaultBrokerBaseURL
	}
	if b.LoginBaseURL == "" {
		b.LoginBaseURL = defaultBrokerLoginURL
	}
	if b.TimeoutSeconds <= 0 {
		b.TimeoutSeconds = defaultBrokerTimeout
	}
	if b.RatePerSecond <= 0 {
		b.RatePerSecond = defaultBrokerRate
	}
}

func (a *AuthConfig) applyDefaults() {
	if a.TimeoutSeconds <= 0 {
		a.TimeoutSeconds = defaultAuthTimeout
	}
	if a.PollIntervalSeconds <= 0 {
		a.PollIntervalSeconds = defaultAuthPollInterval
	}
	if a.ProgressIntervalSeconds <= 0 {
		a.ProgressIntervalSeconds = defaultAuthProgress
	}
	if a.DailyRefreshTime == "" {
		a.DailyRefreshTime = defaultAuthRefreshTime
	}
	if a.MaxTokenAgeHours <= 0 {
		a.MaxTokenAgeHours = defaultAuthMaxAgeHours
	}
	if a.StorageDir == "" {
		a.StorageDir = defaultAuthStorageDir
	}
	if a.HistoryRetentionDays <= 0 {
		a.HistoryRetentionDays = defaultAuthHistoryDays
	}
}

func (r *ReceiverConfig) applyDefaults() {
	if r.Addr == "" {
		r.Addr = defaultReceiverAddr
	}
	if r.TokenTTLSeconds <= 0 {
		r.TokenTTLSeconds = defaultReceiverTokenTTL
	}
}

func (d *DataConfig) applyDefaults() {
	if d.Dir == "" {
		d.Dir = defaultDataDir
	}
	if d.IntervalMinutes <= 0 {
		d.IntervalMinutes = defaultDataInterval
	}
	if d.MarketStart == "" {
		d.MarketStart = defaultDataMarketStart
	}
	if d.MarketEnd == "" {
		d.MarketEnd = defaultDataMarketEnd
	}
	if d.RetentionDays <= 0 {
		d.RetentionDays = defaultDataRetentionDays
	}
	if d.CacheTTLSeconds <= 0 {
		d.CacheTTLSeconds = defaultDataCacheTTL
	}
}

func (s *StrategyConfig) applyDefaults() {
	if s.FastSpan <= 0 {
		s.FastSpan = defaultFastSpan
	}
	if s.SlowSpan <= 0 {
		s.SlowSpan = defaultSlowSpan
	}
	if s.MinHistory <= 0 {
		s.MinHistory = defaultMinHistory
	}
	if s.EntryBand <= 0 {
		s.EntryBand = defaultEntryBand
	}
	if s.EntryProximity <= 0 {
		s.EntryProximity = defaultEntryProximity
	}
	if s.ExitBand <= 0 {
		s.ExitBand = defaultExitBand
	}
	if s.IndexCandleCap <= 0 {
		s.IndexCandleCap = defaultIndexCandleCap
	}
	if s.OptionCandleCap <= 0 {
		s.OptionCandleCap = defaultOptionCandleCap
	}
	if s.TieBreak == "" {
		s.TieBreak = defaultTieBreak
	}
}

func (j *JournalConfig) applyDefaults() {
	if j.TradesPath == "" {
		j.TradesPath = defaultTradesPath
	}
	if j.SignalsPath == "" {
		j.SignalsPath = defaultSignalsPath
	}
}

func (t *TradingConfig) applyDefaults() {
	if t.Mode == "" {
		t.Mode = defaultTradingMode
	}
	if t.Underlying == "" {
		t.Underlying = defaultUnderlying
	}
	if t.SpotSymbol == "" {
		t.SpotSymbol = defaultSpotSymbol
	}
	if t.IndexToken == "" {
		t.IndexToken = defaultIndexToken
	}
	if t.Exchange == "" {
		t.Exchange = defaultExchange
	}
	if t.PositionSize <= 0 {
		t.PositionSize = defaultPositionSize
	}
	if t.LotSize <= 0 {
		t.LotSize = defaultLotSize
	}
	if t.StrikeStep <= 0 {
		t.StrikeStep = defaultStrikeStep
	}
	if t.AfternoonBias <= 0 {
		t.AfternoonBias = defaultAfternoonBias
	}
}

func (h *HealthConfig) applyDefaults() {
	if h.DataFreshnessSeconds <= 0 {
		h.DataFreshnessSeconds = defaultHealthFreshness
	}
	if h.CredentialAgeWarnHours <= 0 {
		h.CredentialAgeWarnHours = defaultHealthCredWarn
	}
}
