package trading

import (
	"context"
	"fmt"
	"time"

	"kitebot/internal/broker"
	"kitebot/internal/config"
	"kitebot/internal/datastore"
	"kitebot/internal/journal"
	"kitebot/internal/logger"
	"kitebot/internal/market"
	"kitebot/internal/notify"
	"kitebot/internal/store/signallog"
	"kitebot/internal/strategy"
)

// Service runs the per-candle trading cycle: refresh data, evaluate the
// rules and act on the decision.
type Service struct {
	cfg      config.Config
	client   *broker.Client
	store    *datastore.Store
	cal      *market.Calendar
	engine   *strategy.Engine
	chain    *OptionChain
	journal  *journal.Journal
	siglog   *signallog.Log
	notifier notify.Notifier

	openTradeID int64
	openQty     int
	entryPrice  float64
	lastCandle  time.Time
	lastCleanup time.Time
}

func seriesView(s *datastore.Series) *strategy.SeriesView {
	if s == nil {
		return nil
	}
	snap, ok := s.Last()
	if !ok {
		return nil
	}
	return &strategy.SeriesView{Symbol: s.Symbol, Snap: snap, Rows: len(s.Candles)}
}

func NewService(cfg config.Config, client *broker.Client, store *datastore.Store, cal *market.Calendar, engine *strategy.Engine, chain *OptionChain, jnl *journal.Journal, siglog *signallog.Log, notifier notify.Notifier) *Service {
	return &Service{
		cfg:      cfg,
		client:   client,
		store:    store,
		cal:      cal,
		engine:   engine,
		chain:    chain,
		journal:  jnl,
		siglog:   siglog,
		notifier: notifier,
	}
}

// Restore reinstates an open trade from the journal after a restart.
func (s *Service) Restore(ctx context.Context) error {
	trade, err := s.journal.LastOpenTrade(ctx)
	if err != nil {
		return err
	}
	if trade == nil {
		return nil
	}
	s.openTradeID = trade.ID
	s.entryPrice = trade.EntryPrice

	// Derive the holding-period count from the entry time so the candle
	// cap survives restarts.
	held := 0
	if interval := time.Duration(s.cfg.Data.IntervalMinutes) * time.Minute; interval > 0 {
		if elapsed := time.Since(trade.EntryTime); elapsed > 0 {
			held = int(elapsed / interval)
		}
	}
	s.engine.Restore(&strategy.Position{
		Side:        strategy.Side(trade.Side),
		Symbol:      trade.Symbol,
		Basis:       strategy.Basis(trade.Basis),
		EntryPrice:  trade.EntryPrice,
		StopLoss:    trade.StopLoss,
		EntryTime:   trade.EntryTime,
		CandlesHeld: held,
	})
	logger.Infof("restored open %s position on %s from journal (trade %d)", trade.Side, trade.Symbol, trade.ID)
	return nil
}

// LastCandleTime reports the newest candle timestamp seen, for the data
// freshness health check.
func (s *Service) LastCandleTime() (time.Time, bool) {
	return s.lastCandle, !s.lastCandle.IsZero()
}

// Cycle runs one evaluation pass. Errors are logged, not returned; the
// scheduler keeps running regardless.
func (s *Service) Cycle(ctx context.Context) {
	now := time.Now().In(s.cal.Location())

	if open, reason := s.cal.IsMarketOpen(now); !open {
		logger.Debugf("market closed: %s", reason)
		return
	}

	if err := s.runCycle(ctx, now); err != nil {
		logger.Errorf("trading cycle failed: %v", err)
	}

	if now.Sub(s.lastCleanup) > 24*time.Hour {
		if removed, err := s.store.Cleanup(s.cfg.Data.RetentionDays); err != nil {
			logger.Warnf("data cleanup failed: %v", err)
		} else if removed > 0 {
			logger.Infof("data cleanup removed %d expired files", removed)
		}
		if err := s.siglog.Prune(s.cfg.Data.RetentionDays); err != nil {
			logger.Warnf("signal log prune failed: %v", err)
		}
		s.lastCleanup = now
	}
}

func (s *Service) runCycle(ctx context.Context, now time.Time) error {
	quote, err := s.client.Quote(ctx, s.cfg.Trading.SpotSymbol)
	if err != nil {
		return fmt.Errorf("fetch spot quote: %w", err)
	}

	strike := s.chain.TargetStrike(quote.LastPrice, now)
	legs, err := s.chain.Legs(ctx, strike, now)
	if err != nil {
		return err
	}

	// While holding, keep evaluating the entry leg even if the target
	// strike has drifted away.
	ceSymbol, ceToken := legs.CE.TradingSymbol, legs.CE.Token
	peSymbol, peToken := legs.PE.TradingSymbol, legs.PE.Token
	pos := s.engine.Position()
	if pos != nil {
		held, err := s.heldLeg(ctx, pos)
		if err != nil {
			return err
		}
		if pos.Side == strategy.SideCE {
			ceSymbol, ceToken = held.TradingSymbol, held.Token
		} else {
			peSymbol, peToken = held.TradingSymbol, held.Token
		}
	}

	date := now.Format("2006-01-02")
	index, err := s.refreshSeries(ctx, s.cfg.Trading.Underlying, s.cfg.Trading.IndexToken, date, now)
	if err != nil {
		logger.Warnf("index data unavailable this cycle: %v", err)
		index = nil
	}
	ce, err := s.refreshSeries(ctx, ceSymbol, ceToken, date, now)
	if err != nil {
		return fmt.Errorf("refresh CE series: %w", err)
	}
	pe, err := s.refreshSeries(ctx, peSymbol, peToken, date, now)
	if err != nil {
		return fmt.Errorf("refresh PE series: %w", err)
	}

	ev := s.engine.Evaluate(seriesView(index), seriesView(ce), seriesView(pe))
	if err := s.siglog.Record(now, ev); err != nil {
		logger.Warnf("record signal failed: %v", err)
	}

	switch ev.Action {
	case strategy.ActionEnter:
		return s.enter(ctx, ev, legs)
	case strategy.ActionExit:
		return s.exit(ctx, ev, now, pos)
	default:
		logger.Debugf("no action: %s", ev.Reason)
		return nil
	}
}

// heldLeg resolves the instrument of the open position's symbol so its
// series keeps updating until exit.
func (s *Service) heldLeg(ctx context.Context, pos *strategy.Position) (*broker.Instrument, error) {
	instruments, err := s.client.Instruments(ctx, s.cfg.Trading.Exchange)
	if err != nil {
		return nil, fmt.Errorf("resolve held instrument: %w", err)
	}
	for _, inst := range instruments {
		if inst.TradingSymbol == pos.Symbol {
			return &inst, nil
		}
	}
	return nil, fmt.Errorf("held instrument %s no longer listed", pos.Symbol)
}

// refreshSeries pulls today's bars from the broker, persists them and
// loads the enriched series back with the previous day merged in.
func (s *Service) refreshSeries(ctx context.Context, symbol, token, date string, now time.Time) (*datastore.Series, error) {
	if token == "" {
		return nil, fmt.Errorf("no instrument token for %s", symbol)
	}
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	interval := kiteInterval(s.cfg.Data.IntervalMinutes)

	candles, err := s.client.HistoricalCandles(ctx, token, interval, dayStart, now)
	if err != nil {
		return nil, fmt.Errorf("fetch %s candles: %w", symbol, err)
	}
	if len(candles) == 0 {
		return nil, fmt.Errorf("broker returned no candles for %s", symbol)
	}
	if ts := candles[len(candles)-1].Timestamp; ts.After(s.lastCandle) {
		s.lastCandle = ts
	}

	if err := s.store.Save(symbol, date, candles, true); err != nil {
		return nil, fmt.Errorf("persist %s candles: %w", symbol, err)
	}

	series, err := s.store.Load(symbol, date, true, true)
	if err != nil {
		return nil, fmt.Errorf("load %s series: %w", symbol, err)
	}
	if series.Validation.Quality == datastore.QualityUnusable {
		return nil, fmt.Errorf("%s data quality unusable: %v", symbol, series.Validation.Issues)
	}
	return series, nil
}

func (s *Service) enter(ctx context.Context, ev strategy.Evaluation, legs *Legs) error {
	pos := s.engine.Position()

	orderID := ""
	qty := s.cfg.Trading.PositionSize * legs.LotSize
	if s.cfg.Trading.LiveMode() {
		id, err := s.client.PlaceOrder(ctx, broker.OrderParams{
			Exchange:        s.cfg.Trading.Exchange,
			TradingSymbol:   ev.Symbol,
			TransactionType: "BUY",
			Quantity:        qty,
			Product:         "MIS",
			OrderType:       "MARKET",
		})
		if err != nil {
			// Order rejected; forget the position so the engine
			// does not track a fill that never happened.
			s.engine.Restore(nil)
			return fmt.Errorf("place entry order: %w", err)
		}
		orderID = id
		logger.Infof("entry order %s placed: BUY %d x %s", id, qty, ev.Symbol)
	} else {
		logger.Infof("test mode: simulated BUY %s at %.2f", ev.Symbol, ev.Price)
	}

	tradeID, err := s.journal.OpenTrade(ctx, pos, s.cfg.Trading.LiveMode(), orderID)
	if err != nil {
		logger.Warnf("journal entry failed: %v", err)
	} else {
		s.openTradeID = tradeID
	}
	s.openQty = qty
	s.entryPrice = pos.EntryPrice

	s.notify("🟢", fmt.Sprintf("%s Entry", ev.Side), []notify.MessageSection{
		{Title: "Trade", Lines: []string{
			ev.Symbol,
			fmt.Sprintf("entry %.2f", ev.Price),
			fmt.Sprintf("stop loss %.2f", pos.StopLoss),
			"basis: " + string(ev.Basis),
		}},
		{Title: "Signal", Lines: []string{ev.Reason}},
	})
	return nil
}

func (s *Service) exit(ctx context.Context, ev strategy.Evaluation, now time.Time, pos *strategy.Position) error {
	if s.cfg.Trading.LiveMode() {
		qty := s.openQty
		if qty == 0 {
			qty = s.cfg.Trading.PositionSize * s.cfg.Trading.LotSize
		}
		id, err := s.client.PlaceOrder(ctx, broker.OrderParams{
			Exchange:        s.cfg.Trading.Exchange,
			TradingSymbol:   ev.Symbol,
			TransactionType: "SELL",
			Quantity:        qty,
			Product:         "MIS",
			OrderType:       "MARKET",
		})
		if err != nil {
			// The broker position is still open; reinstate it so the
			// next cycle re-fires the exit.
			s.engine.Restore(pos)
			return fmt.Errorf("place exit order: %w", err)
		}
		logger.Infof("exit order %s placed: SELL %d x %s", id, qty, ev.Symbol)
	} else {
		logger.Infof("test mode: simulated SELL %s at %.2f", ev.Symbol, ev.Price)
	}

	p := strategy.Position{EntryPrice: s.entryPrice}
	points, _ := p.Points(ev.Price).Float64()
	if s.openTradeID != 0 {
		if err := s.journal.CloseTrade(ctx, s.openTradeID, now, ev.Price, points, ev.Reason); err != nil {
			logger.Warnf("journal exit failed: %v", err)
		}
		s.openTradeID = 0
	}
	s.openQty = 0
	s.entryPrice = 0

	s.notify("🔴", fmt.Sprintf("%s Exit", ev.Side), []notify.MessageSection{
		{Title: "Trade", Lines: []string{
			ev.Symbol,
			fmt.Sprintf("exit %.2f", ev.Price),
			fmt.Sprintf("points %+.2f", points),
		}},
		{Title: "Reason", Lines: []string{ev.Reason}},
	})
	return nil
}

func (s *Service) notify(icon, title string, sections []notify.MessageSection) {
	msg := notify.StructuredMessage{
		Icon:      icon,
		Title:     title,
		Sections:  sections,
		Timestamp: time.Now(),
	}
	if err := s.notifier.Send(msg.RenderHTML(), false); err != nil {
		logger.Warnf("send trade notification failed: %v", err)
	}
}

// kiteInterval renders the broker's historical-data interval name.
func kiteInterval(minutes int) string {
	if minutes <= 1 {
		return "minute"
	}
	return fmt.Sprintf("%dminute", minutes)
}
