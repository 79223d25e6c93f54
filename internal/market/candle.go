package market

import (
	"sort"
	"time"
)

// Candle is one OHLCV bar in exchange-local time, minute-aligned to the
// trading interval.
type Candle struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    int64     `json:"volume"`
}

// IsGreen reports a bullish bar.
func (c Candle) IsGreen() bool { return c.Close > c.Open }

// SortByTimestamp orders candles ascending in place. The sort is stable so
// that a later append with an equal timestamp stays behind the original and
// DedupKeepLatest keeps it.
func SortByTimestamp(cs []Candle) {
	sort.SliceStable(cs, func(i, j int) bool {
		return cs[i].Timestamp.Before(cs[j].Timestamp)
	})
}

// DedupKeepLatest removes duplicate timestamps from a sorted slice, keeping
// the later occurrence.
func DedupKeepLatest(cs []Candle) []Candle {
	if len(cs) < 2 {
		return cs
	}
	out := cs[:1]
	for _, c := range cs[1:] {
		if c.Timestamp.Equal(out[len(out)-1].Timestamp) {
			out[len(out)-1] = c
			continue
		}
		out = append(out, c)
	}
	return out
}
