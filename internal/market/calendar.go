package market

import (
	"fmt"
	"time"
)

// Calendar answers trading-day and session-hour questions for one exchange.
// The location is resolved once at construction; callers never re-resolve
// zones per call.
type Calendar struct {
	loc          *time.Location
	holidays     map[string]bool
	startMinutes int
	endMinutes   int
	interval     time.Duration
}

// NewCalendar builds a Calendar. start/end are "HH:MM" wall-clock session
// bounds, holidays are "YYYY-MM-DD" strings; invalid holiday entries are
// rejected here, not skipped at query time.
func NewCalendar(tz, start, end string, intervalMinutes int, holidays []string) (*Calendar, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("loading timezone %q: %w", tz, err)
	}
	startM, err := parseClock(start)
	if err != nil {
		return nil, err
	}
	endM, err := parseClock(end)
	if err != nil {
		return nil, err
	}
	if endM <= startM {
		return nil, fmt.Errorf("market end %s not after start %s", end, start)
	}
	hs := make(map[string]bool, len(holidays))
	for _, h := range holidays {
		if _, err := time.Parse("2006-01-02", h); err != nil {
			return nil, fmt.Errorf("invalid holiday %q: %w", h, err)
		}
		hs[h] = true
	}
	return &Calendar{
		loc:          loc,
		holidays:     hs,
		startMinutes: startM,
		endMinutes:   endM,
		interval:     time.Duration(intervalMinutes) * time.Minute,
	}, nil
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid clock %q: %w", s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// Location returns the exchange timezone.
func (c *Calendar) Location() *time.Location { return c.loc }

// Interval returns the candle interval.
func (c *Calendar) Interval() time.Duration { return c.interval }

// IsTradingDay reports whether d (interpreted in the exchange zone) is
// neither a weekend nor a configured holiday.
func (c *Calendar) IsTradingDay(d time.Time) bool {
	d = d.In(c.loc)
	if wd := d.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false
	}
	return !c.holidays[d.Format("2006-01-02")]
}

// IsMarketOpen reports whether now falls inside the trading session, with a
// human-readable reason when it does not.
func (c *Calendar) IsMarketOpen(now time.Time) (bool, string) {
	now = now.In(c.loc)
	if wd := now.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false, fmt.Sprintf("weekend (%s)", wd)
	}
	if c.holidays[now.Format("2006-01-02")] {
		return false, "market holiday"
	}
	minutes := now.Hour()*60 + now.Minute()
	if minutes < c.startMinutes {
		return false, "before market open"
	}
	if minutes >= c.endMinutes {
		return false, "after market close"
	}
	return true, "market open"
}

// PreviousTradingDay walks backwards from d until it lands on a trading day.
func (c *Calendar) PreviousTradingDay(d time.Time) time.Time {
	d = d.In(c.loc)
	for {
		d = d.AddDate(0, 0, -1)
		if c.IsTradingDay(d) {
			return d
		}
	}
}

// ExpectedRows returns the number of candles a complete session produces.
func (c *Calendar) ExpectedRows() int {
	if c.interval <= 0 {
		return 0
	}
	return (c.endMinutes - c.startMinutes) / int(c.interval.Minutes())
}
