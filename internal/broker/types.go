package broker

import "time"

// Session is the payload of a successful exchange-code handshake.
type Session struct {
	AccessToken string
	UserID      string
	UserName    string
	LoginTime   time.Time
}

// Profile identifies the authenticated account holder.
type Profile struct {
	UserID   string
	UserName string
	Email    string
}

// Quote is one last-traded-price snapshot.
type Quote struct {
	Symbol    string
	LastPrice float64
}

// Instrument is one tradeable contract from the exchange master dump.
type Instrument struct {
	Token          string
	TradingSymbol  string
	Name           string
	Expiry         string
	Strike         float64
	InstrumentType string
	Exchange       string
	LotSize        int
}

// Margins reports the live available balance for the equity segment.
type Margins struct {
	Available float64
}

// Position is one open position as reported by the broker.
type Position struct {
	TradingSymbol string
	Quantity      int
	AveragePrice  float64
	PnL           float64
}

// OrderParams describes a regular order.
type OrderParams struct {
	Exchange        string
	TradingSymbol   string
	TransactionType string // BUY | SELL
	Quantity        int
	Product         string // MIS
	OrderType       string // MARKET | LIMIT
	Price           float64
}
