package lend

import (
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newLiquidationFixture funds a 640,000 loan against an 800,000 asset
// (exactly the 80% LTV cap) and returns the wired components.
func newLiquidationFixture(t *testing.T) (*LiquidationController, *LoanLedger, *AssetRegistry, uint64, uint64) {
	t.Helper()

	params := DefaultParams()
	registry := NewAssetRegistry()
	ledger := NewLoanLedger(registry, params)
	controller := NewLiquidationController(ledger, registry, params)

	asset, err := registry.Tokenize("alice", RealEstate, big.NewInt(800000), "warehouse", "Chicago", "ipfs://doc", baseTime)
	require.NoError(t, err)
	require.NoError(t, registry.Verify(asset.TokenID, true))

	req, err := ledger.CreateLoanRequest("alice", asset.TokenID, big.NewInt(640000), 500, 365, "", baseTime)
	require.NoError(t, err)
	loan, _, err := ledger.FundLoan(req.RequestID, "bob", big.NewInt(640000), baseTime)
	require.NoError(t, err)

	return controller, ledger, registry, loan.LoanID, asset.TokenID
}

func TestIsLiquidatable(t *testing.T) {
	t.Run("HealthyLoan", func(t *testing.T) {
		controller, _, _, loanID, _ := newLiquidationFixture(t)

		// 800000 * 100 / 640000 = 125, above the 110 threshold
		ok, err := controller.IsLiquidatable(loanID, baseTime)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("AfterPriceDrop", func(t *testing.T) {
		controller, _, registry, loanID, tokenID := newLiquidationFixture(t)

		// 40% drop: 480000 * 100 / 640000 = 75 < 110
		_, err := registry.UpdatePrice(tokenID, big.NewInt(480000), baseTime)
		require.NoError(t, err)

		ok, err := controller.IsLiquidatable(loanID, baseTime)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("EligibilityTracksLivePrice", func(t *testing.T) {
		controller, _, registry, loanID, tokenID := newLiquidationFixture(t)

		registry.UpdatePrice(tokenID, big.NewInt(480000), baseTime)
		ok, _ := controller.IsLiquidatable(loanID, baseTime)
		assert.True(t, ok)

		// Price recovers; no stale cached health factor keeps it eligible
		registry.UpdatePrice(tokenID, big.NewInt(800000), baseTime)
		ok, _ = controller.IsLiquidatable(loanID, baseTime)
		assert.False(t, ok)
	})

	t.Run("InterestAccrualErodesHealth", func(t *testing.T) {
		_, ledger, _, loanID, _ := newLiquidationFixture(t)

		hf0, err := ledger.HealthFactor(loanID, baseTime)
		require.NoError(t, err)
		hf1, err := ledger.HealthFactor(loanID, baseTime.Add(5*365*24*time.Hour))
		require.NoError(t, err)
		assert.Less(t, hf1, hf0)
	})

	t.Run("NotFound", func(t *testing.T) {
		controller, _, _, _, _ := newLiquidationFixture(t)
		_, err := controller.IsLiquidatable(777, baseTime)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestLiquidate(t *testing.T) {
	t.Run("SeizesCollateral", func(t *testing.T) {
		controller, ledger, registry, loanID, tokenID := newLiquidationFixture(t)

		registry.UpdatePrice(tokenID, big.NewInt(480000), baseTime)

		value, err := controller.Liquidate(loanID, "liquidator", baseTime)
		require.NoError(t, err)
		assert.Equal(t, int64(480000), value.Int64())

		// Whole asset transfers regardless of shortfall size
		asset, _ := registry.GetAsset(tokenID)
		assert.Equal(t, "liquidator", asset.Owner)
		assert.False(t, asset.IsLocked)

		loan, _ := ledger.GetLoan(loanID)
		assert.Equal(t, LoanLiquidated, loan.Status)
	})

	t.Run("GatedOnThreshold", func(t *testing.T) {
		controller, _, _, loanID, _ := newLiquidationFixture(t)

		_, err := controller.Liquidate(loanID, "liquidator", baseTime)
		assert.ErrorIs(t, err, ErrNotLiquidatable)
	})

	t.Run("UnavailableAfterSuccess", func(t *testing.T) {
		controller, _, registry, loanID, tokenID := newLiquidationFixture(t)
		registry.UpdatePrice(tokenID, big.NewInt(480000), baseTime)

		_, err := controller.Liquidate(loanID, "liquidator", baseTime)
		require.NoError(t, err)
		_, err = controller.Liquidate(loanID, "liquidator", baseTime)
		assert.ErrorIs(t, err, ErrNotLiquidatable)
	})

	t.Run("NotFound", func(t *testing.T) {
		controller, _, _, _, _ := newLiquidationFixture(t)
		_, err := controller.Liquidate(999, "liquidator", baseTime)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("SeizureFailureLeavesLoanActive", func(t *testing.T) {
		controller, ledger, registry, loanID, tokenID := newLiquidationFixture(t)
		registry.UpdatePrice(tokenID, big.NewInt(480000), baseTime)

		// Break the lock out of band so the seizure itself fails
		require.NoError(t, registry.Unlock(tokenID))

		_, err := controller.Liquidate(loanID, "liquidator", baseTime)
		assert.ErrorIs(t, err, ErrNotLocked)

		loan, _ := ledger.GetLoan(loanID)
		assert.Equal(t, LoanActive, loan.Status)
		asset, _ := registry.GetAsset(tokenID)
		assert.Equal(t, "alice", asset.Owner)
	})

	t.Run("RepayLiquidateRaceSingleWinner", func(t *testing.T) {
		controller, ledger, registry, loanID, tokenID := newLiquidationFixture(t)
		registry.UpdatePrice(tokenID, big.NewInt(480000), baseTime)

		owed, err := ledger.TotalOwed(loanID, baseTime)
		require.NoError(t, err)

		var wg sync.WaitGroup
		var repayErr, liqErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, repayErr = ledger.RepayLoan(loanID, owed, baseTime)
		}()
		go func() {
			defer wg.Done()
			_, liqErr = controller.Liquidate(loanID, "liquidator", baseTime)
		}()
		wg.Wait()

		// Exactly one transition away from Active succeeds
		if repayErr == nil {
			assert.ErrorIs(t, liqErr, ErrNotLiquidatable)
			loan, _ := ledger.GetLoan(loanID)
			assert.Equal(t, LoanRepaid, loan.Status)
		} else {
			assert.ErrorIs(t, repayErr, ErrNotActive)
			require.NoError(t, liqErr)
			loan, _ := ledger.GetLoan(loanID)
			assert.Equal(t, LoanLiquidated, loan.Status)
		}
	})
}
