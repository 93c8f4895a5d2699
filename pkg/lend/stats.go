package lend

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// ProtocolStats is a point-in-time aggregate over the whole ledger.
type ProtocolStats struct {
	TotalValueLocked     *big.Int
	TotalLoansOriginated uint64
	ProtocolFees         *big.Int
	TotalAssets          uint64
	TotalActiveLoans     uint64

	// Utilization is outstanding debt over total value locked.
	Utilization decimal.Decimal
	// AverageHealthFactor averages the live health factor of active loans;
	// zero when no loans are active.
	AverageHealthFactor decimal.Decimal
}

// collectStats is called by the engine with fresh reads of both stores.
func collectStats(registry *AssetRegistry, ledger *LoanLedger, fees *big.Int, outstandingDebt *big.Int, healthFactors []uint64) ProtocolStats {
	tvl := registry.LockedValue()

	stats := ProtocolStats{
		TotalValueLocked:     tvl,
		TotalLoansOriginated: ledger.LoansOriginated(),
		ProtocolFees:         new(big.Int).Set(fees),
		TotalAssets:          uint64(registry.TotalAssets()),
		TotalActiveLoans:     uint64(ledger.ActiveLoans()),
	}

	if tvl.Sign() > 0 {
		stats.Utilization = decimal.NewFromBigInt(outstandingDebt, 0).
			Div(decimal.NewFromBigInt(tvl, 0))
	}
	if len(healthFactors) > 0 {
		sum := decimal.Zero
		for _, hf := range healthFactors {
			sum = sum.Add(decimal.NewFromInt(int64(hf)))
		}
		stats.AverageHealthFactor = sum.Div(decimal.NewFromInt(int64(len(healthFactors))))
	}

	return stats
}
