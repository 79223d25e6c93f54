// Package app wires the subsystems together and exposes one entrypoint
// per CLI mode.
package app

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"kitebot/internal/authflow"
	"kitebot/internal/broker"
	"kitebot/internal/config"
	"kitebot/internal/datastore"
	"kitebot/internal/health"
	"kitebot/internal/journal"
	"kitebot/internal/logger"
	"kitebot/internal/market"
	"kitebot/internal/notify"
	"kitebot/internal/scheduler"
	"kitebot/internal/store/signallog"
	"kitebot/internal/strategy"
	"kitebot/internal/trading"
	"kitebot/internal/transport/http/postback"
)

// App owns every long-lived component.
type App struct {
	cfg config.Config

	client    *broker.Client
	credStore *authflow.CredentialStore
	refresher *authflow.Refresher
	cal       *market.Calendar
	store     *datastore.Store
	engine    *strategy.Engine
	chain     *trading.OptionChain
	journal   *journal.Journal
	siglog    *signallog.Log
	notifier  notify.Notifier
	trader    *trading.Service
	monitor   *health.Monitor
	receiver  *authflow.ReceiverClient
}

// New builds the full component graph from configuration.
func New(cfg config.Config) (*App, error) {
	a := &App{cfg: cfg}

	if cfg.Notify.Telegram.Enabled {
		a.notifier = notify.NewTelegram(cfg.Notify.Telegram.BotToken, cfg.Notify.Telegram.ChatID)
	} else {
		a.notifier = notify.Nop{}
	}

	cal, err := market.NewCalendar(cfg.App.Timezone, cfg.Data.MarketStart, cfg.Data.MarketEnd,
		cfg.Data.IntervalMinutes, cfg.Data.Holidays)
	if err != nil {
		return nil, fmt.Errorf("build calendar: %w", err)
	}
	a.cal = cal

	a.client = broker.NewClient(cfg.Broker.BaseURL, cfg.Broker.LoginBaseURL,
		cfg.Broker.APIKey, cfg.Broker.APISecret,
		time.Duration(cfg.Broker.TimeoutSeconds)*time.Second, cfg.Broker.RatePerSecond)

	maxAge := time.Duration(cfg.Auth.MaxTokenAgeHours) * time.Hour
	credStore, err := authflow.NewCredentialStore(cfg.Auth.StorageDir, maxAge)
	if err != nil {
		return nil, fmt.Errorf("open credential store: %w", err)
	}
	credStore.SetHistoryRetention(cfg.Auth.HistoryRetentionDays)
	a.credStore = credStore

	a.receiver = authflow.NewReceiverClient(cfg.Auth.ReceiverURL)
	controller := authflow.NewController(a.client, a.receiver, credStore, a.notifier,
		cfg.Auth.PostbackURL,
		time.Duration(cfg.Auth.TimeoutSeconds)*time.Second,
		time.Duration(cfg.Auth.PollIntervalSeconds)*time.Second)
	controller.SetProgressInterval(time.Duration(cfg.Auth.ProgressIntervalSeconds) * time.Second)

	a.refresher = authflow.NewRefresher(controller, credStore, cal.Location(), cfg.Auth.DailyRefreshTime)
	a.refresher.OnCredential(func(rec *authflow.Record) {
		a.client.SetAccessToken(rec.AccessToken)
		logger.Infof("broker session rebound to fresh credential")
	})

	store, err := datastore.New(cfg.Data.Dir, cal, cfg.Strategy.FastSpan, cfg.Strategy.SlowSpan,
		time.Duration(cfg.Data.CacheTTLSeconds)*time.Second)
	if err != nil {
		return nil, fmt.Errorf("open data store: %w", err)
	}
	a.store = store

	jnl, err := journal.Open(cfg.Journal.TradesPath)
	if err != nil {
		return nil, fmt.Errorf("open trade journal: %w", err)
	}
	a.journal = jnl

	siglog, err := signallog.Open(cfg.Journal.SignalsPath)
	if err != nil {
		return nil, fmt.Errorf("open signal log: %w", err)
	}
	a.siglog = siglog

	a.engine = strategy.NewEngine(cfg.Strategy)
	a.chain = trading.NewOptionChain(a.client, cfg.Trading.Exchange, cfg.Trading.Underlying,
		cfg.Trading.StrikeStep, cfg.Trading.AfternoonBias)
	if cfg.Trading.ExpiryDate != "" {
		a.chain.PinExpiry(cfg.Trading.ExpiryDate)
	}
	a.trader = trading.NewService(cfg, a.client, store, cal, a.engine, a.chain, jnl, siglog, a.notifier)

	a.monitor = health.NewMonitor(a.notifier, 5*time.Minute)
	a.monitor.Register("receiver", a.receiver.Health)
	a.monitor.Register("credential_age", health.CredentialAgeCheck(a.credentialAge,
		time.Duration(cfg.Health.CredentialAgeWarnHours)*time.Hour))
	a.monitor.Register("data_freshness", health.DataFreshnessCheck(a.trader.LastCandleTime,
		time.Duration(cfg.Health.DataFreshnessSeconds)*time.Second,
		func() bool { open, _ := cal.IsMarketOpen(time.Now().In(cal.Location())); return open }))

	return a, nil
}

func (a *App) credentialAge() (time.Duration, bool) {
	rec, err := a.credStore.Load()
	if err != nil {
		return 0, false
	}
	return rec.Age(time.Now()), true
}

// Close releases persistent resources.
func (a *App) Close() {
	if a.journal != nil {
		a.journal.Close()
	}
}

// RunAuth validates the stored credential, running a full interactive
// flow when needed, and exits.
func (a *App) RunAuth(ctx context.Context) error {
	rec, err := a.refresher.EnsureFresh(ctx)
	if err != nil {
		return err
	}
	a.client.SetAccessToken(rec.AccessToken)
	logger.Infof("credential ready for user %s", rec.UserID)
	return nil
}

// RunRefresh forces a fresh authentication attempt regardless of the
// stored credential's state.
func (a *App) RunRefresh(ctx context.Context) error {
	rec, err := a.refresher.Trigger(ctx, authflow.TriggerManual)
	if err != nil {
		return err
	}
	logger.Infof("credential refreshed for user %s", rec.UserID)
	return nil
}

// RunStatus prints a one-shot operational summary to the log.
func (a *App) RunStatus(ctx context.Context) error {
	rec, err := a.credStore.Load()
	switch {
	case err != nil:
		logger.Warnf("credential: none stored (%v)", err)
	case a.credStore.IsStale(rec):
		logger.Warnf("credential: stale, age %s (user %s)", rec.Age(time.Now()).Round(time.Minute), rec.UserID)
	default:
		logger.Infof("credential: ok, age %s (user %s)", rec.Age(time.Now()).Round(time.Minute), rec.UserID)
	}

	if err := a.receiver.Health(ctx); err != nil {
		logger.Warnf("receiver: unreachable (%v)", err)
	} else {
		logger.Infof("receiver: ok")
	}

	now := time.Now().In(a.cal.Location())
	if open, reason := a.cal.IsMarketOpen(now); open {
		logger.Infof("market: open")
	} else {
		logger.Infof("market: closed (%s)", reason)
	}

	trades, err := a.journal.RecentTrades(ctx, 5)
	if err != nil {
		return fmt.Errorf("read journal: %w", err)
	}
	if len(trades) == 0 {
		logger.Infof("journal: no trades recorded")
	}
	for _, t := range trades {
		if t.ExitPrice == nil {
			logger.Infof("journal: OPEN %s %s entry %.2f at %s", t.Side, t.Symbol, t.EntryPrice,
				t.EntryTime.In(a.cal.Location()).Format("2006-01-02 15:04"))
			continue
		}
		logger.Infof("journal: %s %s entry %.2f exit %.2f points %+.2f (%s)",
			t.Side, t.Symbol, t.EntryPrice, *t.ExitPrice, *t.Points, t.ExitReason)
	}
	return nil
}

// RunServe runs only the postback receiver, for deployments that host it
// next to the bot instead of on a public VPS.
func (a *App) RunServe(ctx context.Context) error {
	ttl := time.Duration(a.cfg.Receiver.TokenTTLSeconds) * time.Second
	return postback.NewServer(ttl).Run(ctx, a.cfg.Receiver.Addr)
}

// RunTrade runs the full trading stack until the context is cancelled.
func (a *App) RunTrade(ctx context.Context) error {
	sessionID, err := a.journal.StartSession(ctx, a.cfg.Trading.Mode, "trading loop")
	if err != nil {
		logger.Warnf("record session start failed: %v", err)
	}
	defer func() {
		if sessionID != 0 {
			if err := a.journal.EndSession(context.Background(), sessionID); err != nil {
				logger.Warnf("record session end failed: %v", err)
			}
		}
	}()

	rec, err := a.refresher.EnsureFresh(ctx)
	if err != nil {
		return fmt.Errorf("credential bootstrap: %w", err)
	}
	a.client.SetAccessToken(rec.AccessToken)

	if err := a.trader.Restore(ctx); err != nil {
		logger.Warnf("restore open position failed: %v", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.refresher.Run(gctx)
	})
	g.Go(func() error {
		return a.monitor.Run(gctx)
	})
	if a.cfg.Auth.WatchCredentialFile {
		watcher := authflow.NewWatcher(a.credStore, func(rec *authflow.Record) {
			a.client.SetAccessToken(rec.AccessToken)
		})
		g.Go(func() error {
			return watcher.Run(gctx)
		})
	}
	g.Go(func() error {
		interval := time.Duration(a.cfg.Data.IntervalMinutes) * time.Minute
		sched := scheduler.NewAlignedScheduler(gctx, interval, 10*time.Second)
		sched.Start(func() { a.trader.Cycle(gctx) })
		return gctx.Err()
	})

	logger.Infof("trading loop started (mode=%s, underlying=%s)", a.cfg.Trading.Mode, a.cfg.Trading.Underlying)
	return g.Wait()
}
