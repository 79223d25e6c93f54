package datastore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"kitebot/internal/analysis/indicator"
	"kitebot/internal/logger"
	"kitebot/internal/market"
)

// ErrNotFound is returned when no candle file exists for a symbol/date. A
// missing file is an expected condition, not a failure.
var ErrNotFound = errors.New("datastore: no data for symbol/date")

// Series is one instrument-day of candles, optionally enriched with
// indicator columns. The store owns it; consumers treat it as read-only.
type Series struct {
	Symbol     string
	Date       string
	Candles    []market.Candle
	Ind        *indicator.Columns
	Validation Report
	LoadedAt   time.Time
}

// Last returns the snapshot of the final bar.
func (s *Series) Last() (indicator.Snapshot, bool) {
	if s == nil || s.Ind == nil {
		return indicator.Snapshot{}, false
	}
	return s.Ind.Last(s.Candles)
}

// Store persists one CSV file per (symbol, date) under a base directory and
// memoizes loads for a short freshness window.
type Store struct {
	dir      string
	cal      *market.Calendar
	fastSpan int
	slowSpan int
	cacheTTL time.Duration

	mu    sync.RWMutex
	cache map[string]*Series

	nowFn func() time.Time
}

// New creates the store and its base directory.
func New(dir string, cal *market.Calendar, fastSpan, slowSpan int, cacheTTL time.Duration) (*Store, error) {
	if cal == nil {
		return nil, fmt.Errorf("datastore: calendar is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}
	return &Store{
		dir:      dir,
		cal:      cal,
		fastSpan: fastSpan,
		slowSpan: slowSpan,
		cacheTTL: cacheTTL,
		cache:    make(map[string]*Series),
		nowFn:    time.Now,
	}, nil
}

func (s *Store) filePath(symbol, date string) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s_%s.csv", symbol, date))
}

func cacheKey(symbol, date string, withIndicators, includePrevDay bool) string {
	return fmt.Sprintf("%s|%s|%v|%v", symbol, date, withIndicators, includePrevDay)
}

// Load reads the candles for symbol/date. With includePrevDay the most
// recent prior trading day's file is unioned in before indicator
// computation, deduplicated keep-latest by timestamp. Results are memoized
// per (symbol, date, indicator flag, prev-day flag) for the cache TTL.
func (s *Store) Load(symbol, date string, withIndicators, includePrevDay bool) (*Series, error) {
	key := cacheKey(symbol, date, withIndicators, includePrevDay)
	s.mu.RLock()
	if cached, ok := s.cache[key]; ok && s.nowFn().Sub(cached.LoadedAt) < s.cacheTTL {
		s.mu.RUnlock()
		return cached, nil
	}
	s.mu.RUnlock()

	cs, err := s.readFile(symbol, date)
	if err != nil {
		return nil, err
	}
	if includePrevDay {
		cs = s.mergePreviousDay(symbol, date, cs)
	}
	ser := &Series{
		Symbol:   symbol,
		Date:     date,
		Candles:  cs,
		LoadedAt: s.nowFn(),
	}
	if withIndicators {
		ser.Ind = indicator.Compute(cs, s.fastSpan, s.slowSpan)
	}
	ser.Validation = s.Validate(cs)
	if ser.Validation.Quality == QualityPoor || ser.Validation.Quality == QualityUnusable {
		logger.Warnf("datastore: %s %s quality=%s issues=%v", symbol, date, ser.Validation.Quality, ser.Validation.Issues)
	}

	s.mu.Lock()
	s.cache[key] = ser
	s.mu.Unlock()
	return ser, nil
}

func (s *Store) readFile(symbol, date string) ([]market.Candle, error) {
	f, err := os.Open(s.filePath(symbol, date))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", s.filePath(symbol, date), err)
	}
	defer f.Close()
	cs, err := market.ReadCSV(f, s.cal.Location())
	if err != nil {
		// A file we cannot parse at all degrades to NotFound so callers
		// refetch instead of trading on garbage.
		logger.Warnf("datastore: dropping malformed file %s: %v", s.filePath(symbol, date), err)
		return nil, ErrNotFound
	}
	return cs, nil
}

func (s *Store) mergePreviousDay(symbol, date string, cs []market.Candle) []market.Candle {
	day, err := time.ParseInLocation("2006-01-02", date, s.cal.Location())
	if err != nil {
		logger.Warnf("datastore: cannot derive previous day from %q: %v", date, err)
		return cs
	}
	prevDate := s.cal.PreviousTradingDay(day).Format("2006-01-02")
	prev, err := s.readFile(symbol, prevDate)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			logger.Warnf("datastore: previous day load failed for %s %s: %v", symbol, prevDate, err)
		}
		return cs
	}
	merged := append(append([]market.Candle{}, prev...), cs...)
	market.SortByTimestamp(merged)
	return market.DedupKeepLatest(merged)
}

// Save overwrites the file for symbol/date with the given candles,
// optionally persisting indicator columns, and invalidates memoized loads.
func (s *Store) Save(symbol, date string, cs []market.Candle, withIndicators bool) error {
	tmp, err := os.CreateTemp(s.dir, "."+symbol+"-*.csv")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	var order []string
	var extra map[string][]float64
	if withIndicators {
		cols := indicator.Compute(cs, s.fastSpan, s.slowSpan)
		order = indicator.ColumnOrder
		extra = cols.Export()
	}
	if err := market.WriteCSV(tmp, cs, order, extra); err != nil {
		tmp.Close()
		return fmt.Errorf("writing csv: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), s.filePath(symbol, date)); err != nil {
		return fmt.Errorf("replacing %s: %w", s.filePath(symbol, date), err)
	}
	s.invalidate(symbol, date)
	return nil
}

// Append upserts one candle by timestamp into the day's series, re-sorts,
// persists and invalidates memoized loads for the key. Appending the same
// candle twice leaves the series unchanged.
func (s *Store) Append(symbol, date string, c market.Candle) error {
	existing, err := s.readFile(symbol, date)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	merged := append(existing, c)
	market.SortByTimestamp(merged)
	merged = market.DedupKeepLatest(merged)
	return s.Save(symbol, date, merged, false)
}

func (s *Store) invalidate(symbol, date string) {
	prefix := symbol + "|" + date + "|"
	s.mu.Lock()
	for key := range s.cache {
		if strings.HasPrefix(key, prefix) {
			delete(s.cache, key)
		}
	}
	s.mu.Unlock()
}

// Cleanup deletes candle files whose embedded date is older than
// retentionDays. Files whose names do not parse are skipped, never deleted.
func (s *Store) Cleanup(retentionDays int) (int, error) {
	cutoff := s.nowFn().AddDate(0, 0, -retentionDays)
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("listing data dir: %w", err)
	}
	deleted := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".csv") {
			continue
		}
		stem := strings.TrimSuffix(e.Name(), ".csv")
		idx := strings.LastIndex(stem, "_")
		if idx < 0 {
			continue
		}
		day, err := time.ParseInLocation("2006-01-02", stem[idx+1:], s.cal.Location())
		if err != nil {
			continue
		}
		if day.Before(cutoff) {
			if err := os.Remove(filepath.Join(s.dir, e.Name())); err != nil {
				logger.Warnf("datastore: cleanup remove %s: %v", e.Name(), err)
				continue
			}
			deleted++
		}
	}
	if deleted > 0 {
		logger.Infof("datastore: cleanup removed %d file(s)", deleted)
	}
	return deleted, nil
}

// ClearCache drops every memoized series.
func (s *Store) ClearCache() {
	s.mu.Lock()
	s.cache = make(map[string]*Series)
	s.mu.Unlock()
}
