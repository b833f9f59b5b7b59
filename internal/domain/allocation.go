package domain

import "github.com/shopspring/decimal"

// VersionStatus is the lifecycle state of an AllocationVersion.
type VersionStatus string

const (
	VersionComputing  VersionStatus = "COMPUTING"
	VersionValid      VersionStatus = "VALID"
	VersionInvalid    VersionStatus = "INVALID"
	VersionSuperseded VersionStatus = "SUPERSEDED"
)

// AllocationVersion identifies one immutable FIFO computation run.
// Numbers increase strictly per namespace. A version is never mutated
// after creation except for status transitions, and never deleted.
type AllocationVersion struct {
	Namespace     string          // logical allocation namespace (account)
	Number        int64           // strictly increasing per namespace
	Status        VersionStatus   // COMPUTING | VALID | INVALID | SUPERSEDED
	CutoffMs      int64           // ledger snapshot cutoff (ingestion timestamp, ms)
	CreatedAtMs   int64           // creation timestamp (ms)
	Symbols       []string        // symbol scope, empty means all
	ResidueQty    decimal.Decimal // total unmatched sell quantity, flagged for audit
	InvalidReason string          // populated when Status == INVALID
}

// Terminal reports whether the version has reached a terminal status
// for the purposes of the computation lease.
func (v *AllocationVersion) Terminal() bool {
	return v.Status != VersionComputing
}

// FIFOAllocation is one matched buy/sell lot slice within a version.
// Residue rows mark sell quantity with no matching buy history: they
// carry an empty BuyOrderID, zero cost basis and zero realized P&L,
// and exist so that unmatched quantity is never silently dropped.
type FIFOAllocation struct {
	AllocationID  string          // deterministic SHA-256 identifier
	Namespace     string
	VersionNumber int64
	Symbol        string
	BuyOrderID    string // empty for residue rows
	SellOrderID   string
	MatchedQty    decimal.Decimal
	BuyPrice      decimal.Decimal // zero for residue rows
	SellPrice     decimal.Decimal
	FeeAllocated  decimal.Decimal // pro-rata share of both parents' fees
	RealizedPnL   decimal.Decimal
	Residue       bool // unmatched sell residue marker
	Seq           int  // emission order within the version, per symbol
}
