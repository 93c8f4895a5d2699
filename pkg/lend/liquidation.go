package lend

import (
	"math/big"
	"time"
)

// LiquidationController evaluates liquidation eligibility and executes the
// collateral seizure. There is no background sweep: any caller may trigger
// a liquidation once a loan's health factor breaches the threshold, and
// eligibility is recomputed from the live collateral price on every call.
type LiquidationController struct {
	ledger   *LoanLedger
	registry *AssetRegistry
	params   Params
}

// NewLiquidationController wires the controller to the ledger and registry
// it consults. It never bypasses either.
func NewLiquidationController(ledger *LoanLedger, registry *AssetRegistry, params Params) *LiquidationController {
	return &LiquidationController{
		ledger:   ledger,
		registry: registry,
		params:   params,
	}
}

// IsLiquidatable reports whether a loan is active and under-collateralized.
func (c *LiquidationController) IsLiquidatable(loanID uint64, now time.Time) (bool, error) {
	c.ledger.mu.RLock()
	defer c.ledger.mu.RUnlock()

	loan, ok := c.ledger.loans[loanID]
	if !ok {
		return false, ErrNotFound
	}
	if loan.Status != LoanActive {
		return false, nil
	}

	hf, err := c.ledger.healthFactorLocked(loan, now)
	if err != nil {
		return false, err
	}
	return hf < c.params.LiquidationThreshold, nil
}

// Liquidate seizes the collateral of an under-collateralized loan: the
// entire asset transfers to the liquidator regardless of the shortfall, the
// lock is released and the loan closes as Liquidated. The eligibility check
// and the status transition happen inside one ledger critical section, so a
// concurrent repayment and a liquidation cannot both win. Returns the
// seized collateral's value.
func (c *LiquidationController) Liquidate(loanID uint64, liquidator string, now time.Time) (*big.Int, error) {
	c.ledger.mu.Lock()
	defer c.ledger.mu.Unlock()

	loan, ok := c.ledger.loans[loanID]
	if !ok {
		return nil, ErrNotFound
	}
	if loan.Status != LoanActive {
		return nil, ErrNotLiquidatable
	}

	hf, err := c.ledger.healthFactorLocked(loan, now)
	if err != nil {
		return nil, err
	}
	if hf >= c.params.LiquidationThreshold {
		return nil, ErrNotLiquidatable
	}

	// Seize first, then transition; a seizure failure leaves the loan
	// Active and untouched. The ledger lock held here keeps any racer out
	// until both writes commit.
	value, err := c.registry.Seize(loan.CollateralTokenID, liquidator)
	if err != nil {
		return nil, err
	}
	loan.Status = LoanLiquidated
	return value, nil
}
