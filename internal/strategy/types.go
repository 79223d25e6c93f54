package strategy

import (
	"time"

	"github.com/shopspring/decimal"

	"kitebot/internal/analysis/indicator"
)

// Side is the option leg a signal trades.
type Side string

const (
	SideCE Side = "CE"
	SidePE Side = "PE"
)

// Basis names which series the entry predicates were evaluated on. Exit
// rules differ between the two.
type Basis string

const (
	BasisIndex  Basis = "index"
	BasisOption Basis = "option"
)

// Action is the outcome of one evaluation cycle.
type Action string

const (
	ActionNone  Action = "none"
	ActionEnter Action = "enter"
	ActionExit  Action = "exit"
)

// SeriesView is one symbol's latest indicator state for an evaluation.
type SeriesView struct {
	Symbol string
	Snap   indicator.Snapshot
	Rows   int
}

// Position is the single open position the engine tracks.
type Position struct {
	Side        Side
	Symbol      string
	Basis       Basis
	EntryPrice  float64
	StopLoss    float64
	EntryTime   time.Time
	CandlesHeld int
}

// Points returns the signed point move from entry, rounded to two
// decimals the way the broker reports option premiums.
func (p *Position) Points(exitPrice float64) decimal.Decimal {
	entry := decimal.NewFromFloat(p.EntryPrice)
	exit := decimal.NewFromFloat(exitPrice)
	return exit.Sub(entry).Round(2)
}

// Evaluation is the decision for one cycle.
type Evaluation struct {
	Action Action
	Side   Side
	Symbol string
	Basis  Basis
	Price  float64
	Reason string
}
