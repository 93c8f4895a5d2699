package lend

import (
	"math/big"
	"time"
)

// Event is a domain event emitted by the engine. Data holds one of the
// typed payloads below.
type Event struct {
	Type      string
	Timestamp time.Time
	Data      interface{}
}

// Event type names.
const (
	EventAssetTokenized       = "asset_tokenized"
	EventAssetVerified        = "asset_verified"
	EventPriceUpdated         = "price_updated"
	EventLoanRequested        = "loan_requested"
	EventLoanRequestCancelled = "loan_request_cancelled"
	EventLoanFunded           = "loan_funded"
	EventLoanRepaid           = "loan_repaid"
	EventLoanLiquidated       = "loan_liquidated"
)

// AssetTokenized is emitted when a new asset enters the registry.
type AssetTokenized struct {
	TokenID   uint64
	Owner     string
	AssetType AssetType
	Value     *big.Int
}

// AssetVerified is emitted on a verifier decision.
type AssetVerified struct {
	TokenID  uint64
	Approved bool
	Reason   string
}

// PriceUpdated is emitted when the oracle revalues an asset.
type PriceUpdated struct {
	TokenID  uint64
	OldPrice *big.Int
	NewPrice *big.Int
}

// LoanRequested is emitted when collateral is locked behind a new request.
type LoanRequested struct {
	RequestID         uint64
	Borrower          string
	CollateralTokenID uint64
	Amount            *big.Int
}

// LoanRequestCancelled is emitted when an unfunded request is withdrawn.
type LoanRequestCancelled struct {
	RequestID         uint64
	CollateralTokenID uint64
}

// LoanFunded is emitted when a lender funds an open request.
type LoanFunded struct {
	LoanID    uint64
	RequestID uint64
	Lender    string
	Amount    *big.Int
	Fee       *big.Int
}

// LoanRepaidEvent is emitted on every accepted repayment.
type LoanRepaidEvent struct {
	LoanID    uint64
	Amount    *big.Int
	Remaining *big.Int
}

// LoanLiquidatedEvent is emitted when collateral is seized.
type LoanLiquidatedEvent struct {
	LoanID          uint64
	Liquidator      string
	CollateralValue *big.Int
}
