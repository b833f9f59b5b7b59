package domain

// PnLHistoryPoint is one analytics row of realized P&L, written per sell
// per version. Stored in ClickHouse for downstream reporting; values are
// float64 because the analytics store is not the audit source of truth.
type PnLHistoryPoint struct {
	Namespace     string
	VersionNumber int64
	Symbol        string
	SellOrderID   string
	ExecutedAtMs  int64 // sell exchange timestamp
	MatchedQty    float64
	ResidueQty    float64
	RealizedPnL   float64
}
