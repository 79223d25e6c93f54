package indicator

import (
	"math"

	"kitebot/internal/market"
)

// Columns holds the derived indicator series for one candle series. Every
// slice has the same length as the source candles.
type Columns struct {
	EMAFast    []float64
	EMASlow    []float64
	EMADiff    []float64
	EMADiffAbs []float64

	Body        []float64
	UpperShadow []float64
	LowerShadow []float64

	OpenFastDiff  []float64
	LowFastDiff   []float64
	CloseFastDiff []float64
	MinProximity  []float64
}

// EMA computes an exponential moving average with smoothing factor
// alpha = 2/(span+1), seeded from the first value with no warm-up bias
// correction: ema[0] = v[0], ema[i] = alpha*v[i] + (1-alpha)*ema[i-1].
func EMA(values []float64, span int) []float64 {
	if len(values) == 0 || span <= 0 {
		return nil
	}
	alpha := 2.0 / float64(span+1)
	out := make([]float64, len(values))
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = alpha*values[i] + (1-alpha)*out[i-1]
	}
	return out
}

// Compute derives the EMA pair and candle-geometry columns used by the
// signal engine.
func Compute(cs []market.Candle, fastSpan, slowSpan int) *Columns {
	n := len(cs)
	if n == 0 {
		return &Columns{}
	}
	closes := make([]float64, n)
	for i, c := range cs {
		closes[i] = c.Close
	}
	cols := &Columns{
		EMAFast:       EMA(closes, fastSpan),
		EMASlow:       EMA(closes, slowSpan),
		EMADiff:       make([]float64, n),
		EMADiffAbs:    make([]float64, n),
		Body:          make([]float64, n),
		UpperShadow:   make([]float64, n),
		LowerShadow:   make([]float64, n),
		OpenFastDiff:  make([]float64, n),
		LowFastDiff:   make([]float64, n),
		CloseFastDiff: make([]float64, n),
		MinProximity:  make([]float64, n),
	}
	for i, c := range cs {
		fast := cols.EMAFast[i]
		cols.EMADiff[i] = fast - cols.EMASlow[i]
		cols.EMADiffAbs[i] = math.Abs(cols.EMADiff[i])
		cols.Body[i] = math.Abs(c.Close - c.Open)
		cols.UpperShadow[i] = c.High - math.Max(c.Open, c.Close)
		cols.LowerShadow[i] = math.Min(c.Open, c.Close) - c.Low
		cols.OpenFastDiff[i] = math.Abs(c.Open - fast)
		cols.LowFastDiff[i] = math.Abs(c.Low - fast)
		cols.CloseFastDiff[i] = math.Abs(c.Close - fast)
		cols.MinProximity[i] = math.Min(cols.OpenFastDiff[i], cols.LowFastDiff[i])
	}
	return cols
}

// Snapshot is the latest bar together with its indicator values; what the
// signal engine actually compares against.
type Snapshot struct {
	Candle  market.Candle
	EMAFast float64
	EMASlow float64
}

// Last returns the snapshot of the final bar, or false on an empty series.
func (c *Columns) Last(cs []market.Candle) (Snapshot, bool) {
	n := len(cs)
	if n == 0 || len(c.EMAFast) != n || len(c.EMASlow) != n {
		return Snapshot{}, false
	}
	return Snapshot{Candle: cs[n-1], EMAFast: c.EMAFast[n-1], EMASlow: c.EMASlow[n-1]}, true
}

// ColumnOrder is the persisted indicator column order.
var ColumnOrder = []string{"ema10", "ema20", "ema_diff", "ema_diff_abs", "min_ema10_proximity"}

// Export maps the persisted indicator columns by name for CSV output.
func (c *Columns) Export() map[string][]float64 {
	return map[string][]float64{
		"ema10":               c.EMAFast,
		"ema20":               c.EMASlow,
		"ema_diff":            c.EMADiff,
		"ema_diff_abs":        c.EMADiffAbs,
		"min_ema10_proximity": c.MinProximity,
	}
}
