package strategy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kitebot/internal/analysis/indicator"
	"kitebot/internal/config"
	"kitebot/internal/market"
)

func testStrategyConfig() config.StrategyConfig {
	return config.StrategyConfig{
		FastSpan:        10,
		SlowSpan:        20,
		MinHistory:      20,
		EntryBand:       51,
		EntryProximity:  21,
		ExitBand:        150,
		IndexCandleCap:  20,
		OptionCandleCap: 10,
		TieBreak:        config.TieBreakSkip,
	}
}

func view(symbol string, open, high, low, close, fast, slow float64, rows int) *SeriesView {
	return &SeriesView{
		Symbol: symbol,
		Rows:   rows,
		Snap: indicator.Snapshot{
			Candle: market.Candle{
				Timestamp: time.Date(2025, 9, 1, 10, 0, 0, 0, time.UTC),
				Open:      open, High: high, Low: low, Close: close,
			},
			EMAFast: fast,
			EMASlow: slow,
		},
	}
}

// bullish: green candle near the fast EMA with fast above slow
func bullishView(symbol string, rows int) *SeriesView {
	return view(symbol, 95, 102, 94, 100, 101, 100, rows)
}

// bearish mirror of bullishView
func bearishView(symbol string, rows int) *SeriesView {
	return view(symbol, 105, 106, 98, 100, 99, 100, rows)
}

// flat: red with fast above slow satisfies neither leg
func neutralView(symbol string, rows int) *SeriesView {
	return view(symbol, 105, 106, 98, 100, 101, 100, rows)
}

func TestEntryCEOnIndexBasis(t *testing.T) {
	e := NewEngine(testStrategyConfig())

	ev := e.Evaluate(bullishView("SENSEX", 25), view("CE-LEG", 300, 320, 295, 310, 305, 300, 25), neutralView("PE-LEG", 25))
	require.Equal(t, ActionEnter, ev.Action)
	assert.Equal(t, SideCE, ev.Side)
	assert.Equal(t, BasisIndex, ev.Basis)
	assert.Equal(t, "CE-LEG", ev.Symbol)
	assert.Equal(t, 310.0, ev.Price, "entry at the option close")

	pos := e.Position()
	require.NotNil(t, pos)
	assert.Equal(t, 100.0, pos.StopLoss, "stop loss at the basis slow EMA")
}

func TestEntryPEMirrorsPredicates(t *testing.T) {
	e := NewEngine(testStrategyConfig())

	ev := e.Evaluate(bearishView("SENSEX", 25), neutralView("CE-LEG", 25), view("PE-LEG", 300, 320, 295, 310, 305, 300, 25))
	require.Equal(t, ActionEnter, ev.Action)
	assert.Equal(t, SidePE, ev.Side)
	assert.Equal(t, "PE-LEG", ev.Symbol)
}

func TestEntrySuppressedByWideBand(t *testing.T) {
	e := NewEngine(testStrategyConfig())

	// fast-slow spread of 60 exceeds the 51 entry band
	wide := view("SENSEX", 95, 165, 94, 160, 160, 100, 25)
	ev := e.Evaluate(wide, bullishView("CE-LEG", 25), neutralView("PE-LEG", 25))
	assert.Equal(t, ActionNone, ev.Action)
	assert.Nil(t, e.Position())
}

func TestEntrySuppressedByProximity(t *testing.T) {
	e := NewEngine(testStrategyConfig())

	// both open and low sit 30 points from the fast EMA
	far := view("SENSEX", 130, 142, 130, 140, 100, 99, 25)
	ev := e.Evaluate(far, bullishView("CE-LEG", 25), neutralView("PE-LEG", 25))
	assert.Equal(t, ActionNone, ev.Action)
}

func TestEntryFallsBackToOptionBasisOnShortIndexHistory(t *testing.T) {
	e := NewEngine(testStrategyConfig())

	// The index is bullish but too short; the CE leg itself signals.
	ev := e.Evaluate(bullishView("SENSEX", 10), bullishView("CE-LEG", 30), neutralView("PE-LEG", 30))
	require.Equal(t, ActionEnter, ev.Action)
	assert.Equal(t, BasisOption, ev.Basis)
}

func TestEntryOptionBasisWithoutIndex(t *testing.T) {
	e := NewEngine(testStrategyConfig())

	ev := e.Evaluate(nil, bullishView("CE-LEG", 30), neutralView("PE-LEG", 30))
	require.Equal(t, ActionEnter, ev.Action)
	assert.Equal(t, BasisOption, ev.Basis)
}

func TestSimultaneousSignalsSkippedByDefault(t *testing.T) {
	e := NewEngine(testStrategyConfig())

	// Option basis with both premiums rising: both legs signal.
	ev := e.Evaluate(nil, bullishView("CE-LEG", 30), bullishView("PE-LEG", 30))
	assert.Equal(t, ActionNone, ev.Action)
	assert.Nil(t, e.Position())
}

func TestSimultaneousSignalsTieBreakPreferCE(t *testing.T) {
	cfg := testStrategyConfig()
	cfg.TieBreak = config.TieBreakPreferCE
	e := NewEngine(cfg)

	ev := e.Evaluate(nil, bullishView("CE-LEG", 30), bullishView("PE-LEG", 30))
	require.Equal(t, ActionEnter, ev.Action)
	assert.Equal(t, SideCE, ev.Side)
}

func TestSimultaneousSignalsTieBreakPreferPE(t *testing.T) {
	cfg := testStrategyConfig()
	cfg.TieBreak = config.TieBreakPreferPE
	e := NewEngine(cfg)

	ev := e.Evaluate(nil, bullishView("CE-LEG", 30), bullishView("PE-LEG", 30))
	require.Equal(t, ActionEnter, ev.Action)
	assert.Equal(t, SidePE, ev.Side)
}

func TestOptionEntryPERequiresRisingPremium(t *testing.T) {
	e := NewEngine(testStrategyConfig())

	// A collapsing put premium (red bar, fast under slow) is not a PE
	// entry on the option's own series; a winning put means the premium
	// is rising.
	falling := view("PE-LEG", 105, 106, 98, 100, 99, 100, 30)
	ev := e.Evaluate(nil, neutralView("CE-LEG", 30), falling)
	assert.Equal(t, ActionNone, ev.Action)
	assert.Nil(t, e.Position())

	rising := bullishView("PE-LEG", 30)
	ev = e.Evaluate(nil, neutralView("CE-LEG", 30), rising)
	require.Equal(t, ActionEnter, ev.Action)
	assert.Equal(t, SidePE, ev.Side)
	assert.Equal(t, BasisOption, ev.Basis)
}

func TestOptionEntryRequiresMinimumHistory(t *testing.T) {
	e := NewEngine(testStrategyConfig())

	// One candle means the EMAs are just their seed; no entry.
	ev := e.Evaluate(nil, bullishView("CE-LEG", 1), neutralView("PE-LEG", 1))
	assert.Equal(t, ActionNone, ev.Action)
	assert.Nil(t, e.Position())

	ev = e.Evaluate(nil, bullishView("CE-LEG", 19), neutralView("PE-LEG", 19))
	assert.Equal(t, ActionNone, ev.Action)
}

func enterOptionCE(t *testing.T, e *Engine) {
	t.Helper()
	ev := e.Evaluate(nil, bullishView("CE-LEG", 30), neutralView("PE-LEG", 30))
	require.Equal(t, ActionEnter, ev.Action)
	require.Equal(t, BasisOption, ev.Basis)
}

func TestOptionExitOnDistanceBreach(t *testing.T) {
	e := NewEngine(testStrategyConfig())
	enterOptionCE(t, e)

	// Close 210 points over the slow EMA while the EMAs themselves sit
	// together: the breach is measured close-to-slow, not fast-to-slow.
	breach := view("CE-LEG", 100, 320, 99, 310, 100, 100, 31)
	ev := e.Evaluate(nil, breach, neutralView("PE-LEG", 31))
	require.Equal(t, ActionExit, ev.Action)
	assert.Contains(t, ev.Reason, "from slow ema")
	assert.Nil(t, e.Position())
}

func TestOptionExitOnRedCloseBelowFastEMA(t *testing.T) {
	e := NewEngine(testStrategyConfig())
	enterOptionCE(t, e)

	red := view("CE-LEG", 105, 106, 90, 95, 100, 99, 31)
	ev := e.Evaluate(nil, red, neutralView("PE-LEG", 31))
	require.Equal(t, ActionExit, ev.Action)
	assert.Contains(t, ev.Reason, "red close")
}

func TestOptionExitCEChecksDistanceBeforeRedClose(t *testing.T) {
	e := NewEngine(testStrategyConfig())
	enterOptionCE(t, e)

	// Red candle below the fast EMA and a distance breach at once: the
	// call reports the breach.
	both := view("CE-LEG", 320, 321, 200, 210, 300, 10, 31)
	ev := e.Evaluate(nil, both, neutralView("PE-LEG", 31))
	require.Equal(t, ActionExit, ev.Action)
	assert.Contains(t, ev.Reason, "from slow ema")
}

func TestOptionExitPEChecksRedCloseBeforeDistance(t *testing.T) {
	e := NewEngine(testStrategyConfig())
	e.Restore(&Position{Side: SidePE, Symbol: "PE-LEG", Basis: BasisOption, EntryPrice: 300})

	// Same double condition on the put: the adverse close wins.
	both := view("PE-LEG", 320, 321, 200, 210, 300, 10, 31)
	ev := e.Evaluate(nil, neutralView("CE-LEG", 31), both)
	require.Equal(t, ActionExit, ev.Action)
	assert.Contains(t, ev.Reason, "red close below fast ema")
}

func TestOptionExitPEHoldsOnFavorableGreenBar(t *testing.T) {
	e := NewEngine(testStrategyConfig())
	e.Restore(&Position{Side: SidePE, Symbol: "PE-LEG", Basis: BasisOption, EntryPrice: 100})

	// A rising premium is what the put wants; no exit.
	green := view("PE-LEG", 99, 103, 98, 102, 101, 100, 31)
	ev := e.Evaluate(nil, neutralView("CE-LEG", 31), green)
	assert.Equal(t, ActionNone, ev.Action)
	assert.NotNil(t, e.Position())
}

func TestOptionExitOnCandleCap(t *testing.T) {
	e := NewEngine(testStrategyConfig())
	enterOptionCE(t, e)

	// Green, tight band, above the fast EMA: only the cap can fire.
	hold := view("CE-LEG", 99, 103, 98, 102, 101, 100, 31)
	for i := 0; i < 9; i++ {
		ev := e.Evaluate(nil, hold, neutralView("PE-LEG", 31))
		require.Equal(t, ActionNone, ev.Action, "cycle %d", i)
	}
	ev := e.Evaluate(nil, hold, neutralView("PE-LEG", 31))
	require.Equal(t, ActionExit, ev.Action)
	assert.Contains(t, ev.Reason, "held 10 candles")
}

func TestIndexExitOnAdverseCloseThroughSlowEMA(t *testing.T) {
	e := NewEngine(testStrategyConfig())
	ev := e.Evaluate(bullishView("SENSEX", 25), view("CE-LEG", 300, 320, 295, 310, 305, 300, 25), neutralView("PE-LEG", 25))
	require.Equal(t, ActionEnter, ev.Action)
	require.Equal(t, BasisIndex, ev.Basis)

	// Index closes below its slow EMA while the option still looks fine.
	adverse := view("SENSEX", 100, 101, 94, 95, 99, 98, 26)
	fineLeg := view("CE-LEG", 300, 322, 299, 320, 310, 305, 26)
	out := e.Evaluate(adverse, fineLeg, neutralView("PE-LEG", 26))
	require.Equal(t, ActionExit, out.Action)
	assert.Contains(t, out.Reason, "below slow ema")
	assert.Equal(t, 320.0, out.Price, "exit at the option close")
}

func TestIndexExitHoldsOnGreenDipBelowSlowEMA(t *testing.T) {
	e := NewEngine(testStrategyConfig())
	ev := e.Evaluate(bullishView("SENSEX", 25), view("CE-LEG", 300, 320, 295, 310, 305, 300, 25), neutralView("PE-LEG", 25))
	require.Equal(t, ActionEnter, ev.Action)

	// A green bar closing under the slow EMA is not an adverse close;
	// the exit needs the red conjunct.
	greenDip := view("SENSEX", 90, 96, 89, 95, 99, 98, 26)
	out := e.Evaluate(greenDip, view("CE-LEG", 300, 322, 299, 320, 310, 305, 26), neutralView("PE-LEG", 26))
	assert.Equal(t, ActionNone, out.Action)
	assert.NotNil(t, e.Position())
}

func TestIndexExitOnDistanceBreach(t *testing.T) {
	e := NewEngine(testStrategyConfig())
	ev := e.Evaluate(bullishView("SENSEX", 25), view("CE-LEG", 300, 320, 295, 310, 305, 300, 25), neutralView("PE-LEG", 25))
	require.Equal(t, ActionEnter, ev.Action)

	// Green bar far above the slow EMA with the EMAs still together.
	runaway := view("SENSEX", 100, 320, 99, 310, 100, 100, 26)
	out := e.Evaluate(runaway, view("CE-LEG", 300, 322, 299, 320, 310, 305, 26), neutralView("PE-LEG", 26))
	require.Equal(t, ActionExit, out.Action)
	assert.Contains(t, out.Reason, "from slow ema")
}

func TestIndexExitOnEMAOrderFlip(t *testing.T) {
	e := NewEngine(testStrategyConfig())
	ev := e.Evaluate(bullishView("SENSEX", 25), view("CE-LEG", 300, 320, 295, 310, 305, 300, 25), neutralView("PE-LEG", 25))
	require.Equal(t, ActionEnter, ev.Action)

	// Index holds above the slow EMA but the fast EMA has crossed under.
	flipped := view("SENSEX", 100, 103, 99, 102, 99, 100, 26)
	out := e.Evaluate(flipped, view("CE-LEG", 300, 322, 299, 320, 310, 305, 26), neutralView("PE-LEG", 26))
	require.Equal(t, ActionExit, out.Action)
	assert.Contains(t, out.Reason, "flipped")
}

func TestFlatEngineNeverExits(t *testing.T) {
	e := NewEngine(testStrategyConfig())
	ev := e.Evaluate(nil, neutralView("CE-LEG", 30), neutralView("PE-LEG", 30))
	assert.Equal(t, ActionNone, ev.Action)
	assert.Equal(t, "no entry conditions met", ev.Reason)
}

func TestRestoreReinstatesPosition(t *testing.T) {
	e := NewEngine(testStrategyConfig())
	e.Restore(&Position{Side: SideCE, Symbol: "CE-LEG", Basis: BasisOption, EntryPrice: 300})

	breach := view("CE-LEG", 100, 320, 99, 310, 300, 100, 31)
	ev := e.Evaluate(nil, breach, neutralView("PE-LEG", 31))
	require.Equal(t, ActionExit, ev.Action)
	assert.Equal(t, "CE-LEG", ev.Symbol)
}

func TestPointsRounding(t *testing.T) {
	p := Position{EntryPrice: 100.555}
	pts := p.Points(110.055)
	assert.Equal(t, "9.5", pts.String())
}
