package config

import (
	"fmt"
	"strings"
	"time"
)

func validate(c *Config) error {
	if err := c.Broker.validate(); err != nil {
		return err
	}
	if err := c.Auth.validate(); err != nil {
		return err
	}
	if err := c.Data.validate(); err != nil {
		return err
	}
	if err := c.Strategy.validate(); err != nil {
		return err
	}
	if err := c.Notify.validate(); err != nil {
		return err
	}
	if err := c.Trading.validate(); err != nil {
		return err
	}
	if _, err := time.LoadLocation(c.App.Timezone); err != nil {
		return fmt.Errorf("app.timezone is not a valid zone: %w", err)
	}
	return nil
}

func (b *BrokerConfig) validate() error {
	if strings.TrimSpace(b.APIKey) == "" {
		return fmt.Errorf("broker.api_key is required")
	}
	if strings.TrimSpace(b.APISecret) == "" {
		return fmt.Errorf("broker.api_secret is required")
	}
	return nil
}

func (a *AuthConfig) validate() error {
	if strings.TrimSpace(a.ReceiverURL) == "" {
		return fmt.Errorf("auth.receiver_url is required")
	}
	if strings.TrimSpace(a.PostbackURL) == "" {
		return fmt.Errorf("auth.postback_url is required")
	}
	for _, u := range []string{a.ReceiverURL, a.PostbackURL} {
		if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
			return fmt.Errorf("auth url must be http(s): %s", u)
		}
	}
	if _, err := time.Parse("15:04", a.DailyRefreshTime); err != nil {
		return fmt.Errorf("auth.daily_refresh_time must be HH:MM: %w", err)
	}
	return nil
}

func (d *DataConfig) validate() error {
	if _, err := time.Parse("15:04", d.MarketStart); err != nil {
		return fmt.Errorf("data.market_start must be HH:MM: %w", err)
	}
	if _, err := time.Parse("15:04", d.MarketEnd); err != nil {
		return fmt.Errorf("data.market_end must be HH:MM: %w", err)
	}
	for _, h := range d.Holidays {
		if _, err := time.Parse("2006-01-02", h); err != nil {
			return fmt.Errorf("data.holidays contains invalid date %q: %w", h, err)
		}
	}
	return nil
}

func (s *StrategyConfig) validate() error {
	if s.FastSpan >= s.SlowSpan {
		return fmt.Errorf("strategy.fast_span must be less than slow_span")
	}
	switch s.TieBreak {
	case TieBreakPreferCE, TieBreakPreferPE, TieBreakSkip:
	default:
		return fmt.Errorf("strategy.tie_break must be prefer_ce, prefer_pe or skip (got %q)", s.TieBreak)
	}
	return nil
}

func (n *NotifyConfig) validate() error {
	if !n.Telegram.Enabled {
		return nil
	}
	if strings.TrimSpace(n.Telegram.BotToken) == "" {
		return fmt.Errorf("notify.telegram.bot_token is required when telegram is enabled")
	}
	if strings.TrimSpace(n.Telegram.ChatID) == "" {
		return fmt.Errorf("notify.telegram.chat_id is required when telegram is enabled")
	}
	return nil
}

func (t *TradingConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(t.Mode)) {
	case "test", "live":
	default:
		return fmt.Errorf("trading.mode must be test or live (got %q)", t.Mode)
	}
	if t.ExpiryDate != "" {
		if _, err := time.Parse("2006-01-02", t.ExpiryDate); err != nil {
			return fmt.Errorf("trading.expiry_date must be YYYY-MM-DD: %w", err)
		}
	}
	return nil
}
