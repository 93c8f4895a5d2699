package lend

import (
	"math/big"
	"sync"
	"time"

	"github.com/luxfi/log"
)

// LendingEngine is the call/response surface of the protocol. It owns the
// capability sets (admin, verifiers, price oracles), accumulates protocol
// fees, and emits domain events; the actual records live in the registry
// and the ledger.
type LendingEngine struct {
	Registry   *AssetRegistry
	Ledger     *LoanLedger
	Liquidator *LiquidationController

	params Params
	admin  string

	verifiers    map[string]bool
	oracles      map[string]bool
	protocolFees *big.Int

	events chan Event
	logger log.Logger
	clock  func() time.Time

	mu sync.RWMutex
}

// NewLendingEngine builds a fully wired engine. The admin account manages
// the verifier and oracle sets and holds both capabilities itself.
func NewLendingEngine(admin string, params Params, logger log.Logger) *LendingEngine {
	registry := NewAssetRegistry()
	ledger := NewLoanLedger(registry, params)

	return &LendingEngine{
		Registry:     registry,
		Ledger:       ledger,
		Liquidator:   NewLiquidationController(ledger, registry, params),
		params:       params,
		admin:        admin,
		verifiers:    make(map[string]bool),
		oracles:      make(map[string]bool),
		protocolFees: big.NewInt(0),
		events:       make(chan Event, 1024),
		logger:       logger,
		clock:        time.Now,
	}
}

// Params returns the protocol constants.
func (e *LendingEngine) Params() Params {
	return e.params
}

// Events exposes the domain event stream. Events are dropped, never
// blocked on, when no consumer keeps up.
func (e *LendingEngine) Events() <-chan Event {
	return e.events
}

func (e *LendingEngine) emit(eventType string, data interface{}) {
	select {
	case e.events <- Event{Type: eventType, Timestamp: e.clock(), Data: data}:
	default:
		e.logger.Warn("Event channel full, dropping event", "type", eventType)
	}
}

// AddVerifier grants the verifier capability. Admin only.
func (e *LendingEngine) AddVerifier(caller, account string) error {
	if caller != e.admin {
		return ErrNotAdmin
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.verifiers[account] = true
	return nil
}

// RemoveVerifier revokes the verifier capability. Admin only.
func (e *LendingEngine) RemoveVerifier(caller, account string) error {
	if caller != e.admin {
		return ErrNotAdmin
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.verifiers, account)
	return nil
}

// AddOracle grants the price-oracle capability. Admin only.
func (e *LendingEngine) AddOracle(caller, account string) error {
	if caller != e.admin {
		return ErrNotAdmin
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.oracles[account] = true
	return nil
}

// RemoveOracle revokes the price-oracle capability. Admin only.
func (e *LendingEngine) RemoveOracle(caller, account string) error {
	if caller != e.admin {
		return ErrNotAdmin
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.oracles, account)
	return nil
}

func (e *LendingEngine) isVerifier(account string) bool {
	if account == e.admin {
		return true
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.verifiers[account]
}

func (e *LendingEngine) isOracle(account string) bool {
	if account == e.admin {
		return true
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.oracles[account]
}

// TokenizeAsset mints a new asset for the caller and returns its token ID.
func (e *LendingEngine) TokenizeAsset(owner string, assetType AssetType, value *big.Int, description, location, metadataURI string) (uint64, error) {
	asset, err := e.Registry.Tokenize(owner, assetType, value, description, location, metadataURI, e.clock())
	if err != nil {
		return 0, err
	}

	e.logger.Info("Asset tokenized",
		"tokenID", asset.TokenID,
		"owner", owner,
		"type", assetType.String(),
		"value", asset.CurrentValue.String())
	e.emit(EventAssetTokenized, AssetTokenized{
		TokenID:   asset.TokenID,
		Owner:     owner,
		AssetType: assetType,
		Value:     asset.CurrentValue,
	})
	return asset.TokenID, nil
}

// VerifyAsset records an approve/reject decision. Caller must hold the
// verifier capability.
func (e *LendingEngine) VerifyAsset(caller string, tokenID uint64, approved bool, reason string) error {
	if !e.isVerifier(caller) {
		return ErrNotVerifier
	}
	if err := e.Registry.Verify(tokenID, approved); err != nil {
		return err
	}

	e.logger.Info("Asset verification decided",
		"tokenID", tokenID,
		"approved", approved,
		"verifier", caller)
	e.emit(EventAssetVerified, AssetVerified{TokenID: tokenID, Approved: approved, Reason: reason})
	return nil
}

// UpdateAssetPrice overwrites an asset's valuation. Caller must hold the
// oracle capability.
func (e *LendingEngine) UpdateAssetPrice(caller string, tokenID uint64, newValue *big.Int) error {
	if !e.isOracle(caller) {
		return ErrNotOracle
	}
	old, err := e.Registry.UpdatePrice(tokenID, newValue, e.clock())
	if err != nil {
		return err
	}

	e.logger.Info("Asset price updated",
		"tokenID", tokenID,
		"oldPrice", old.String(),
		"newPrice", newValue.String())
	e.emit(EventPriceUpdated, PriceUpdated{TokenID: tokenID, OldPrice: old, NewPrice: new(big.Int).Set(newValue)})
	return nil
}

// CreateLoanRequest opens a borrow request and locks the collateral.
func (e *LendingEngine) CreateLoanRequest(borrower string, collateralTokenID uint64, amount *big.Int, rateBPS, durationDays uint64, purpose string) (uint64, error) {
	req, err := e.Ledger.CreateLoanRequest(borrower, collateralTokenID, amount, rateBPS, durationDays, purpose, e.clock())
	if err != nil {
		return 0, err
	}

	e.logger.Info("Loan requested",
		"requestID", req.RequestID,
		"borrower", borrower,
		"collateral", collateralTokenID,
		"amount", req.RequestedAmount.String(),
		"rateBPS", rateBPS,
		"durationDays", durationDays)
	e.emit(EventLoanRequested, LoanRequested{
		RequestID:         req.RequestID,
		Borrower:          borrower,
		CollateralTokenID: collateralTokenID,
		Amount:            req.RequestedAmount,
	})
	return req.RequestID, nil
}

// CancelLoanRequest withdraws an unfunded request and unlocks the asset.
func (e *LendingEngine) CancelLoanRequest(caller string, requestID uint64) error {
	req, err := e.Ledger.GetLoanRequest(requestID)
	if err != nil {
		return err
	}
	if err := e.Ledger.CancelLoanRequest(requestID, caller); err != nil {
		return err
	}

	e.logger.Info("Loan request cancelled", "requestID", requestID)
	e.emit(EventLoanRequestCancelled, LoanRequestCancelled{
		RequestID:         requestID,
		CollateralTokenID: req.CollateralTokenID,
	})
	return nil
}

// FundLoan funds an open request with exactly the requested amount and
// activates the loan. The origination fee is retained by the protocol; the
// borrower payout is principal minus fee (the transfer itself is the
// caller's side effect).
func (e *LendingEngine) FundLoan(requestID uint64, lender string, paidAmount *big.Int) (uint64, error) {
	loan, fee, err := e.Ledger.FundLoan(requestID, lender, paidAmount, e.clock())
	if err != nil {
		return 0, err
	}

	e.mu.Lock()
	e.protocolFees.Add(e.protocolFees, fee)
	e.mu.Unlock()

	e.logger.Info("Loan funded",
		"loanID", loan.LoanID,
		"requestID", requestID,
		"lender", lender,
		"principal", loan.Principal.String(),
		"fee", fee.String(),
		"dueDate", loan.DueDate)
	e.emit(EventLoanFunded, LoanFunded{
		LoanID:    loan.LoanID,
		RequestID: requestID,
		Lender:    lender,
		Amount:    loan.Principal,
		Fee:       fee,
	})
	return loan.LoanID, nil
}

// RepayLoan applies a payment and returns the remaining debt. Any account
// may pay down a loan.
func (e *LendingEngine) RepayLoan(loanID uint64, payer string, paidAmount *big.Int) (*big.Int, error) {
	remaining, err := e.Ledger.RepayLoan(loanID, paidAmount, e.clock())
	if err != nil {
		return nil, err
	}

	e.logger.Info("Loan repayment accepted",
		"loanID", loanID,
		"payer", payer,
		"amount", paidAmount.String(),
		"remaining", remaining.String())
	e.emit(EventLoanRepaid, LoanRepaidEvent{
		LoanID:    loanID,
		Amount:    new(big.Int).Set(paidAmount),
		Remaining: new(big.Int).Set(remaining),
	})
	return remaining, nil
}

// LiquidateLoan seizes the collateral of an under-collateralized loan for
// the liquidator.
func (e *LendingEngine) LiquidateLoan(loanID uint64, liquidator string) error {
	value, err := e.Liquidator.Liquidate(loanID, liquidator, e.clock())
	if err != nil {
		return err
	}

	e.logger.Info("Loan liquidated",
		"loanID", loanID,
		"liquidator", liquidator,
		"collateralValue", value.String())
	e.emit(EventLoanLiquidated, LoanLiquidatedEvent{
		LoanID:          loanID,
		Liquidator:      liquidator,
		CollateralValue: value,
	})
	return nil
}

// IsLiquidatable reports liquidation eligibility from live price data.
func (e *LendingEngine) IsLiquidatable(loanID uint64) (bool, error) {
	return e.Liquidator.IsLiquidatable(loanID, e.clock())
}

// CalculateTotalOwed returns the outstanding debt on a loan right now.
func (e *LendingEngine) CalculateTotalOwed(loanID uint64) (*big.Int, error) {
	return e.Ledger.TotalOwed(loanID, e.clock())
}

// CalculateHealthFactor returns a loan's live collateralization percentage.
func (e *LendingEngine) CalculateHealthFactor(loanID uint64) (uint64, error) {
	return e.Ledger.HealthFactor(loanID, e.clock())
}

// GetAsset returns a copy of an asset record.
func (e *LendingEngine) GetAsset(tokenID uint64) (*Asset, error) {
	return e.Registry.GetAsset(tokenID)
}

// GetLoan returns a copy of a loan record.
func (e *LendingEngine) GetLoan(loanID uint64) (*Loan, error) {
	return e.Ledger.GetLoan(loanID)
}

// GetLoanRequest returns a copy of a loan request record.
func (e *LendingEngine) GetLoanRequest(requestID uint64) (*LoanRequest, error) {
	return e.Ledger.GetLoanRequest(requestID)
}

// GetUserAssets returns every asset owned by the account.
func (e *LendingEngine) GetUserAssets(owner string) []*Asset {
	return e.Registry.GetUserAssets(owner)
}

// GetUserLoans returns every loan the account participates in.
func (e *LendingEngine) GetUserLoans(account string) []*Loan {
	return e.Ledger.GetUserLoans(account)
}

// GetProtocolStats aggregates live protocol-wide figures.
func (e *LendingEngine) GetProtocolStats() ProtocolStats {
	now := e.clock()
	outstanding, factors := e.Ledger.ActiveLoanMetrics(now)

	e.mu.RLock()
	fees := new(big.Int).Set(e.protocolFees)
	e.mu.RUnlock()

	return collectStats(e.Registry, e.Ledger, fees, outstanding, factors)
}
