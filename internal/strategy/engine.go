package strategy

import (
	"fmt"
	"math"

	"kitebot/internal/config"
	"kitebot/internal/logger"
)

// Engine evaluates the crossover rules each cycle and tracks at most one
// open position. It is not safe for concurrent use; the trading loop is
// single-threaded.
type Engine struct {
	cfg config.StrategyConfig
	pos *Position
}

func NewEngine(cfg config.StrategyConfig) *Engine {
	return &Engine{cfg: cfg}
}

// Position returns the open position, or nil when flat.
func (e *Engine) Position() *Position {
	return e.pos
}

// Restore reinstates a position carried over from the journal after a
// restart.
func (e *Engine) Restore(pos *Position) {
	e.pos = pos
}

// Evaluate runs one cycle. index may be nil when index data is
// unavailable; ce and pe are the option series being traded.
func (e *Engine) Evaluate(index, ce, pe *SeriesView) Evaluation {
	if e.pos != nil {
		return e.evaluateExit(index, ce, pe)
	}
	return e.evaluateEntry(index, ce, pe)
}

func (e *Engine) evaluateEntry(index, ce, pe *SeriesView) Evaluation {
	basis := BasisOption
	ceBasis, peBasis := ce, pe
	if index != nil && index.Rows >= e.cfg.MinHistory {
		basis = BasisIndex
		ceBasis, peBasis = index, index
	} else if index != nil {
		logger.Debugf("index has %d candles, below %d, evaluating on option series", index.Rows, e.cfg.MinHistory)
	}

	ceOK, ceWhy := e.entryConditions(ceBasis, SideCE, basis)
	peOK, peWhy := e.entryConditions(peBasis, SidePE, basis)

	if ceOK && peOK {
		switch e.cfg.TieBreak {
		case config.TieBreakPreferCE:
			peOK = false
		case config.TieBreakPreferPE:
			ceOK = false
		default:
			logger.Warnf("both legs signalled on the same candle, skipping cycle")
			return Evaluation{Action: ActionNone, Reason: "simultaneous CE and PE signals"}
		}
	}

	switch {
	case ceOK:
		return e.enter(SideCE, basis, ceBasis, ce, ceWhy)
	case peOK:
		return e.enter(SidePE, basis, peBasis, pe, peWhy)
	default:
		return Evaluation{Action: ActionNone, Reason: "no entry conditions met"}
	}
}

// entryConditions checks the entry rule on the basis series. Index-basis
// PE mirrors every predicate against a falling index. On the option's own
// series both legs want a rising premium, so the predicates stay bullish
// and only the proximity anchor moves to the high for the put.
func (e *Engine) entryConditions(v *SeriesView, side Side, basis Basis) (bool, string) {
	if v == nil {
		return false, "no data"
	}
	if v.Rows < e.cfg.MinHistory {
		return false, fmt.Sprintf("%d candles, need %d", v.Rows, e.cfg.MinHistory)
	}
	c := v.Snap.Candle
	fast, slow := v.Snap.EMAFast, v.Snap.EMASlow

	var directionOK bool
	if side == SidePE && basis == BasisIndex {
		directionOK = !c.IsGreen() && fast < slow
	} else {
		directionOK = c.IsGreen() && fast > slow
	}
	anchor := c.Low
	if side == SidePE {
		anchor = c.High
	}
	proximity := math.Min(math.Abs(c.Open-fast), math.Abs(anchor-fast))
	if !directionOK {
		return false, "direction"
	}
	if math.Abs(fast-slow) > e.cfg.EntryBand {
		return false, fmt.Sprintf("band %.2f above %.2f", math.Abs(fast-slow), e.cfg.EntryBand)
	}
	if proximity >= e.cfg.EntryProximity {
		return false, fmt.Sprintf("proximity %.2f not under %.2f", proximity, e.cfg.EntryProximity)
	}
	return true, fmt.Sprintf("band %.2f, proximity %.2f", math.Abs(fast-slow), proximity)
}

func (e *Engine) enter(side Side, basis Basis, basisView, leg *SeriesView, why string) Evaluation {
	if leg == nil {
		return Evaluation{Action: ActionNone, Reason: "entry signalled but option series unavailable"}
	}
	e.pos = &Position{
		Side:       side,
		Symbol:     leg.Symbol,
		Basis:      basis,
		EntryPrice: leg.Snap.Candle.Close,
		StopLoss:   basisView.Snap.EMASlow,
		EntryTime:  leg.Snap.Candle.Timestamp,
	}
	return Evaluation{
		Action: ActionEnter,
		Side:   side,
		Symbol: leg.Symbol,
		Basis:  basis,
		Price:  e.pos.EntryPrice,
		Reason: why,
	}
}

func (e *Engine) evaluateExit(index, ce, pe *SeriesView) Evaluation {
	leg := ce
	if e.pos.Side == SidePE {
		leg = pe
	}
	if leg == nil {
		return Evaluation{Action: ActionNone, Reason: "holding but option series unavailable"}
	}
	e.pos.CandlesHeld++

	var reason string
	if e.pos.Basis == BasisOption {
		reason = e.optionExitReason(leg)
	} else {
		reason = e.indexExitReason(index, leg)
	}
	if reason == "" {
		return Evaluation{Action: ActionNone, Side: e.pos.Side, Symbol: e.pos.Symbol, Reason: "hold"}
	}

	ev := Evaluation{
		Action: ActionExit,
		Side:   e.pos.Side,
		Symbol: e.pos.Symbol,
		Basis:  e.pos.Basis,
		Price:  leg.Snap.Candle.Close,
		Reason: reason,
	}
	e.pos = nil
	return ev
}

// optionExitReason applies the option-basis exit ladder. Both legs exit a
// collapsing premium on a red close under the fast EMA; the call checks
// the distance breach first, the put checks the adverse close first.
func (e *Engine) optionExitReason(leg *SeriesView) string {
	c := leg.Snap.Candle
	fast, slow := leg.Snap.EMAFast, leg.Snap.EMASlow

	dist := math.Abs(c.Close - slow)
	distReason := fmt.Sprintf("close %.2f sits %.2f from slow ema, over %.2f", c.Close, dist, e.cfg.ExitBand)
	adverse := !c.IsGreen() && c.Close < fast

	if e.pos.Side == SideCE {
		if dist > e.cfg.ExitBand {
			return distReason
		}
		if adverse {
			return "red close below fast ema"
		}
	} else {
		if adverse {
			return "red close below fast ema"
		}
		if dist > e.cfg.ExitBand {
			return distReason
		}
	}
	if e.pos.CandlesHeld >= e.cfg.OptionCandleCap {
		return fmt.Sprintf("held %d candles", e.pos.CandlesHeld)
	}
	return ""
}

// indexExitReason applies the index-basis ladder: adverse close through
// the slow index EMA, band breach, EMA order flip, then the candle cap.
func (e *Engine) indexExitReason(index, leg *SeriesView) string {
	if index == nil {
		// Lost the index mid-trade; fall back to the option ladder.
		return e.optionExitReason(leg)
	}
	c := index.Snap.Candle
	fast, slow := index.Snap.EMAFast, index.Snap.EMASlow

	if e.pos.Side == SideCE && !c.IsGreen() && c.Close < slow {
		return fmt.Sprintf("index red close %.2f below slow ema %.2f", c.Close, slow)
	}
	if e.pos.Side == SidePE && c.IsGreen() && c.Close > slow {
		return fmt.Sprintf("index green close %.2f above slow ema %.2f", c.Close, slow)
	}
	if dist := math.Abs(c.Close - slow); dist > e.cfg.ExitBand {
		return fmt.Sprintf("index close %.2f sits %.2f from slow ema, over %.2f", c.Close, dist, e.cfg.ExitBand)
	}
	if e.pos.Side == SideCE && fast < slow {
		return "index ema order flipped bearish"
	}
	if e.pos.Side == SidePE && fast > slow {
		return "index ema order flipped bullish"
	}
	if e.pos.CandlesHeld >= e.cfg.IndexCandleCap {
		return fmt.Sprintf("held %d candles", e.pos.CandlesHeld)
	}
	return ""
}
