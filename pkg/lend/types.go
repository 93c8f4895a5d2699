package lend

import (
	"math/big"
	"time"
)

// AssetType classifies the real-world asset backing a token.
type AssetType int

const (
	RealEstate AssetType = iota
	CorporateBond
	Invoice
	Commodity
	IntellectualProperty
	Equipment
	Inventory
	Receivables
)

// String returns the display label for an asset type.
func (t AssetType) String() string {
	switch t {
	case RealEstate:
		return "real_estate"
	case CorporateBond:
		return "corporate_bond"
	case Invoice:
		return "invoice"
	case Commodity:
		return "commodity"
	case IntellectualProperty:
		return "intellectual_property"
	case Equipment:
		return "equipment"
	case Inventory:
		return "inventory"
	case Receivables:
		return "receivables"
	}
	return "unknown"
}

// ApprovalStatus tracks the verifier decision on a tokenized asset.
type ApprovalStatus int

const (
	ApprovalPending ApprovalStatus = iota
	ApprovalApproved
	ApprovalRejected
)

// RequestStatus tracks a loan request through its lifecycle.
type RequestStatus int

const (
	RequestOpen RequestStatus = iota
	RequestFunded
	RequestCancelled
)

// LoanStatus tracks a funded loan. Repaid and Liquidated are terminal.
type LoanStatus int

const (
	LoanActive LoanStatus = iota
	LoanRepaid
	LoanLiquidated
)

// Asset is a tokenized real-world asset record.
type Asset struct {
	TokenID        uint64
	AssetType      AssetType
	Owner          string
	CurrentValue   *big.Int // smallest currency unit
	Description    string
	Location       string
	MetadataURI    string
	IsVerified     bool
	IsLocked       bool
	ApprovalStatus ApprovalStatus
	CreatedAt      time.Time
}

// PricePoint is one historical valuation sample for an asset.
type PricePoint struct {
	Value     *big.Int
	Timestamp time.Time
}

// LoanRequest is an unfunded borrow request backed by a locked asset.
type LoanRequest struct {
	RequestID         uint64
	Borrower          string
	CollateralTokenID uint64
	RequestedAmount   *big.Int
	InterestRateBPS   uint64 // basis points per annum
	DurationDays      uint64
	Purpose           string
	Status            RequestStatus
	CreatedAt         time.Time
}

// Loan is a funded loan. Principal, rate and duration are copied from the
// request at funding time and never change afterwards.
type Loan struct {
	LoanID            uint64
	RequestID         uint64
	Borrower          string
	Lender            string
	CollateralTokenID uint64
	Principal         *big.Int
	InterestRateBPS   uint64
	DurationDays      uint64
	FundedAt          time.Time
	DueDate           time.Time
	LastPaymentAt     time.Time
	TotalRepaid       *big.Int
	Status            LoanStatus
}

// Params holds the protocol constants. Every value is queryable through the
// engine rather than buried in the arithmetic.
type Params struct {
	LTVRatioBPS          uint64 // max principal as bps of collateral value
	LiquidationThreshold uint64 // health factor percent below which loans liquidate
	OriginationFeeBPS    uint64 // fee retained from the funded payout
	DaysPerYear          uint64
	BPSDenominator       uint64
	MaxHealth            uint64 // sentinel health factor when nothing is owed
}

// DefaultParams returns the protocol defaults: 80% LTV, liquidation below
// 110%, 0.5% origination fee, simple interest on a 365-day year.
func DefaultParams() Params {
	return Params{
		LTVRatioBPS:          8000,
		LiquidationThreshold: 110,
		OriginationFeeBPS:    50,
		DaysPerYear:          365,
		BPSDenominator:       10000,
		MaxHealth:            10000,
	}
}
