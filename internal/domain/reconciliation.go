package domain

// ReconciliationTier is the strictness level of a reconciliation run.
type ReconciliationTier int

const (
	// TierPresence compares order identifier sets (tier 1).
	TierPresence ReconciliationTier = 1
	// TierValues compares quantity, price and fee for common orders (tier 2).
	TierValues ReconciliationTier = 2
)

// DiscrepancyKind classifies one ledger-vs-exchange mismatch.
type DiscrepancyKind string

const (
	// MissingTrade: present on the exchange, absent from the local ledger.
	MissingTrade DiscrepancyKind = "MISSING_TRADE"
	// ExtraTrade: present locally, absent on the exchange. Flagged only;
	// the ledger is insert-only so removal requires manual review.
	ExtraTrade DiscrepancyKind = "EXTRA_TRADE"
	// AmountMismatch: present on both sides with diverging values.
	AmountMismatch DiscrepancyKind = "AMOUNT_MISMATCH"
)

// Discrepancy is one finding of a reconciliation run. Field names the
// diverging value for AMOUNT_MISMATCH (quantity, price or fee); the
// local and external values are decimal strings, empty when the record
// is absent on that side.
type Discrepancy struct {
	Kind          DiscrepancyKind `json:"kind"`
	Symbol        string          `json:"symbol"`
	OrderID       string          `json:"order_id"`
	Field         string          `json:"field,omitempty"`
	LocalValue    string          `json:"local_value,omitempty"`
	ExternalValue string          `json:"external_value,omitempty"`
}

// ReconciliationReport is the immutable result of one reconciliation run.
// CutoffMs records the ledger snapshot the run observed; the report is
// only meaningful relative to that state.
type ReconciliationReport struct {
	ReportID      string // uuid
	Namespace     string
	Tier          ReconciliationTier
	Symbols       []string
	WindowStartMs int64
	WindowEndMs   int64
	CutoffMs      int64
	CreatedAtMs   int64
	Discrepancies []Discrepancy
}

// MissingOrderIDs returns the order identifiers of all MissingTrade
// discrepancies, keyed by symbol. This is the backfill work list.
func (r *ReconciliationReport) MissingOrderIDs() map[string][]string {
	out := make(map[string][]string)
	for _, d := range r.Discrepancies {
		if d.Kind == MissingTrade {
			out[d.Symbol] = append(out[d.Symbol], d.OrderID)
		}
	}
	return out
}
