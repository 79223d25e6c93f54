package trading

import (
	"context"
	"fmt"
	"time"

	"kitebot/internal/broker"
	"kitebot/internal/logger"
)

// Legs is the CE/PE instrument pair for one strike and expiry.
type Legs struct {
	Expiry  string
	Strike  int
	CE      broker.Instrument
	PE      broker.Instrument
	LotSize int
}

// OptionChain resolves target strikes to tradeable contracts from the
// exchange instrument dump, cached because the dump is large and changes
// only on listing days.
type OptionChain struct {
	client     *broker.Client
	exchange   string
	underlying string
	strikeStep int
	bias       int
	// pinned, when set, overrides the weekly-expiry calculation with a
	// fixed contract date.
	pinned string
	ttl    time.Duration

	chain     map[string]map[int]Legs // expiry -> strike -> legs
	fetchedAt time.Time
	nowFn     func() time.Time
}

func NewOptionChain(client *broker.Client, exchange, underlying string, strikeStep, afternoonBias int) *OptionChain {
	return &OptionChain{
		client:     client,
		exchange:   exchange,
		underlying: underlying,
		strikeStep: strikeStep,
		bias:       afternoonBias,
		ttl:        5 * time.Minute,
		nowFn:      time.Now,
	}
}

// TargetStrike maps the spot price to the strike to trade. Afternoon
// sessions shift the price down by the bias before flooring, buying
// slightly in the money to offset premium decay.
func (o *OptionChain) TargetStrike(spot float64, now time.Time) int {
	price := spot
	session := "morning"
	if now.Hour() >= 12 {
		price -= float64(o.bias)
		session = "afternoon"
	}
	strike := int(price) / o.strikeStep * o.strikeStep
	logger.Infof("spot %.2f, %s session, target strike %d", spot, session, strike)
	return strike
}

// PinExpiry fixes the contract date instead of resolving the next weekly
// expiry, for trading a specific listed series.
func (o *OptionChain) PinExpiry(date string) {
	o.pinned = date
}

// WeeklyExpiry returns the next weekly expiry date. Contracts expire on
// Tuesday; on expiry day after the close the following week is used.
func (o *OptionChain) WeeklyExpiry(now time.Time) string {
	if o.pinned != "" {
		return o.pinned
	}
	daysAhead := (int(time.Tuesday) - int(now.Weekday()) + 7) % 7
	if daysAhead == 0 {
		closed := now.Hour() > 15 || (now.Hour() == 15 && now.Minute() >= 30)
		if closed {
			daysAhead = 7
		}
	}
	return now.AddDate(0, 0, daysAhead).Format("2006-01-02")
}

// Legs returns the CE/PE pair for the strike at the next weekly expiry.
func (o *OptionChain) Legs(ctx context.Context, strike int, now time.Time) (*Legs, error) {
	if err := o.refresh(ctx); err != nil {
		return nil, err
	}
	expiry := o.WeeklyExpiry(now)
	strikes, ok := o.chain[expiry]
	if !ok {
		return nil, fmt.Errorf("no %s contracts for expiry %s", o.underlying, expiry)
	}
	legs, ok := strikes[strike]
	if !ok {
		return nil, fmt.Errorf("no contracts at strike %d for expiry %s", strike, expiry)
	}
	if legs.CE.TradingSymbol == "" || legs.PE.TradingSymbol == "" {
		return nil, fmt.Errorf("incomplete pair at strike %d for expiry %s", strike, expiry)
	}
	return &legs, nil
}

// Invalidate drops the cached dump so the next call refetches.
func (o *OptionChain) Invalidate() {
	o.fetchedAt = time.Time{}
}

func (o *OptionChain) refresh(ctx context.Context) error {
	if o.chain != nil && o.nowFn().Sub(o.fetchedAt) < o.ttl {
		return nil
	}

	instruments, err := o.client.Instruments(ctx, o.exchange)
	if err != nil {
		return fmt.Errorf("fetch %s instruments: %w", o.exchange, err)
	}

	chain := make(map[string]map[int]Legs)
	count := 0
	for _, inst := range instruments {
		if inst.Name != o.underlying || inst.Expiry == "" {
			continue
		}
		if inst.InstrumentType != "CE" && inst.InstrumentType != "PE" {
			continue
		}
		strike := int(inst.Strike)
		byStrike, ok := chain[inst.Expiry]
		if !ok {
			byStrike = make(map[int]Legs)
			chain[inst.Expiry] = byStrike
		}
		legs := byStrike[strike]
		legs.Expiry = inst.Expiry
		legs.Strike = strike
		legs.LotSize = inst.LotSize
		if inst.InstrumentType == "CE" {
			legs.CE = inst
		} else {
			legs.PE = inst
		}
		byStrike[strike] = legs
		count++
	}

	o.chain = chain
	o.fetchedAt = o.nowFn()
	logger.Infof("option chain refreshed: %d %s contracts on %s", count, o.underlying, o.exchange)
	return nil
}
