package market

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"kitebot/internal/logger"
)

const timestampLayout = "2006-01-02 15:04:05"

var baseHeader = []string{"timestamp", "open", "high", "low", "close", "volume"}

// WriteCSV encodes candles with the base OHLCV columns plus any extra
// indicator columns. extra maps column name to a series of the same length
// as cs; extraOrder fixes column order.
func WriteCSV(w io.Writer, cs []Candle, extraOrder []string, extra map[string][]float64) error {
	cw := csv.NewWriter(w)
	header := append(append([]string{}, baseHeader...), extraOrder...)
	if err := cw.Write(header); err != nil {
		return err
	}
	for i, c := range cs {
		row := []string{
			c.Timestamp.Format(timestampLayout),
			formatPrice(c.Open),
			formatPrice(c.High),
			formatPrice(c.Low),
			formatPrice(c.Close),
			strconv.FormatInt(c.Volume, 10),
		}
		for _, name := range extraOrder {
			col := extra[name]
			if i < len(col) {
				row = append(row, formatPrice(col[i]))
			} else {
				row = append(row, "")
			}
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadCSV decodes candles from a CSV written by WriteCSV (indicator columns,
// if present, are ignored; they are recomputed on load). Rows with
// unparseable timestamps are skipped with a warning rather than included.
func ReadCSV(r io.Reader, loc *time.Location) ([]Candle, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading csv: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	cols := indexColumns(records[0])
	for _, need := range baseHeader {
		if _, ok := cols[need]; !ok {
			return nil, fmt.Errorf("csv missing required column %q", need)
		}
	}
	out := make([]Candle, 0, len(records)-1)
	dropped := 0
	for _, rec := range records[1:] {
		c, err := parseRow(rec, cols, loc)
		if err != nil {
			dropped++
			continue
		}
		out = append(out, c)
	}
	if dropped > 0 {
		logger.Warnf("csv: dropped %d unparseable row(s)", dropped)
	}
	if len(out) == 0 && dropped > 0 {
		return nil, fmt.Errorf("csv contains no parseable rows")
	}
	SortByTimestamp(out)
	return out, nil
}

func indexColumns(header []string) map[string]int {
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[name] = i
	}
	return cols
}

func parseRow(rec []string, cols map[string]int, loc *time.Location) (Candle, error) {
	field := func(name string) string {
		idx := cols[name]
		if idx >= len(rec) {
			return ""
		}
		return rec[idx]
	}
	ts, err := parseTimestamp(field("timestamp"), loc)
	if err != nil {
		return Candle{}, err
	}
	c := Candle{Timestamp: ts}
	for _, p := range []struct {
		name string
		dst  *float64
	}{
		{"open", &c.Open}, {"high", &c.High}, {"low", &c.Low}, {"close", &c.Close},
	} {
		v, err := strconv.ParseFloat(field(p.name), 64)
		if err != nil {
			return Candle{}, fmt.Errorf("parsing %s: %w", p.name, err)
		}
		*p.dst = v
	}
	// Volume sometimes arrives as a float from upstream dumps.
	vol, err := strconv.ParseFloat(field("volume"), 64)
	if err != nil {
		return Candle{}, fmt.Errorf("parsing volume: %w", err)
	}
	c.Volume = int64(vol)
	return c, nil
}

func parseTimestamp(s string, loc *time.Location) (time.Time, error) {
	if ts, err := time.ParseInLocation(timestampLayout, s, loc); err == nil {
		return ts, nil
	}
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts.In(loc), nil
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}

func formatPrice(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
