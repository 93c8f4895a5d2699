package lend

import (
	"math"
	"math/big"
	"time"
)

// Pure interest and health-factor arithmetic. Nothing here mutates state;
// the ledger and liquidation controller call these with a caller-supplied
// clock so the math is deterministic under test.

// ElapsedDays returns whole days between fundedAt and now, never negative.
// Accrual is day-granular: a loan repaid within its first 24 hours owes no
// interest.
func ElapsedDays(fundedAt, now time.Time) uint64 {
	if !now.After(fundedAt) {
		return 0
	}
	return uint64(now.Sub(fundedAt) / (24 * time.Hour))
}

// AccruedInterest computes simple (non-compounding) interest:
//
//	principal * rateBPS * elapsedDays / (DaysPerYear * BPSDenominator)
//
// Interest keeps accruing past the due date; there is no grace period and
// no maturity cutoff.
func AccruedInterest(p Params, principal *big.Int, rateBPS uint64, fundedAt, now time.Time) *big.Int {
	days := ElapsedDays(fundedAt, now)
	if days == 0 || rateBPS == 0 {
		return big.NewInt(0)
	}

	interest := new(big.Int).Mul(principal, new(big.Int).SetUint64(rateBPS))
	interest.Mul(interest, new(big.Int).SetUint64(days))
	denom := new(big.Int).SetUint64(p.DaysPerYear * p.BPSDenominator)
	return interest.Div(interest, denom)
}

// TotalOwed returns the outstanding debt on a loan at the given instant:
// principal plus accrued interest minus everything repaid so far. A closed
// loan owes nothing.
func TotalOwed(p Params, loan *Loan, now time.Time) *big.Int {
	if loan.Status != LoanActive {
		return big.NewInt(0)
	}
	owed := new(big.Int).Add(loan.Principal, AccruedInterest(p, loan.Principal, loan.InterestRateBPS, loan.FundedAt, now))
	owed.Sub(owed, loan.TotalRepaid)
	if owed.Sign() < 0 {
		return big.NewInt(0)
	}
	return owed
}

// HealthFactor returns collateralValue * 100 / owed as an integer percent.
// 100 means exactly covered, below the liquidation threshold means
// under-collateralized. The MaxHealth sentinel is reserved for the zero-debt
// case; a genuinely over-collateralized loan reports its real ratio, however
// large, saturating only at the uint64 limit.
func HealthFactor(p Params, collateralValue, owed *big.Int) uint64 {
	if owed.Sign() <= 0 {
		return p.MaxHealth
	}
	hf := new(big.Int).Mul(collateralValue, big.NewInt(100))
	hf.Div(hf, owed)
	if !hf.IsUint64() {
		return math.MaxUint64
	}
	return hf.Uint64()
}
