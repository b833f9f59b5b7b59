package domain

import "github.com/shopspring/decimal"

// TradeRecord represents one executed fill in the trade ledger.
// Rows are immutable once inserted; corrections happen by inserting
// compensating records, never by editing existing rows.
type TradeRecord struct {
	OrderID    string          // exchange-assigned order identifier
	Symbol     string          // trading pair, e.g. "BTCUSDT"
	Side       Side            // BUY or SELL
	Quantity   decimal.Decimal // filled quantity
	Price      decimal.Decimal // fill price
	Fee        decimal.Decimal // commission, in quote units
	ExecutedAt int64           // exchange timestamp (ms)
	IngestedAt int64           // local ingestion timestamp (ms)
	Source     TradeSource     // normal flow vs backfill
}

// Side of a trade.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// TradeSource identifies how a record entered the ledger.
type TradeSource string

const (
	SourceNormal   TradeSource = "NORMAL"
	SourceBackfill TradeSource = "BACKFILL"
)

// Key returns the ledger uniqueness key (order_id, symbol).
func (t *TradeRecord) Key() string {
	return t.OrderID + "|" + t.Symbol
}
