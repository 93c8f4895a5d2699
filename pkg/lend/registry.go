package lend

import (
	"math/big"
	"sync"
	"time"
)

// maxPricePoints caps the retained valuation history per asset.
const maxPricePoints = 256

// AssetRegistry owns every tokenized asset record. It is the sole writer of
// Owner, CurrentValue, IsVerified and IsLocked; the loan ledger and the
// liquidation controller go through its methods, never around them.
type AssetRegistry struct {
	assets      map[uint64]*Asset
	history     map[uint64][]PricePoint
	nextTokenID uint64
	mu          sync.RWMutex
}

// NewAssetRegistry creates an empty registry. Token IDs start at 1.
func NewAssetRegistry() *AssetRegistry {
	return &AssetRegistry{
		assets:      make(map[uint64]*Asset),
		history:     make(map[uint64][]PricePoint),
		nextTokenID: 1,
	}
}

// Tokenize mints a new asset record for owner. The asset starts unverified,
// unlocked and pending approval.
func (r *AssetRegistry) Tokenize(owner string, assetType AssetType, value *big.Int, description, location, metadataURI string, now time.Time) (*Asset, error) {
	if value == nil || value.Sign() <= 0 {
		return nil, ErrInvalidValue
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	asset := &Asset{
		TokenID:        r.nextTokenID,
		AssetType:      assetType,
		Owner:          owner,
		CurrentValue:   new(big.Int).Set(value),
		Description:    description,
		Location:       location,
		MetadataURI:    metadataURI,
		ApprovalStatus: ApprovalPending,
		CreatedAt:      now,
	}
	r.nextTokenID++
	r.assets[asset.TokenID] = asset
	r.history[asset.TokenID] = []PricePoint{{Value: new(big.Int).Set(value), Timestamp: now}}

	return r.copyAsset(asset), nil
}

// Verify records the verifier decision on a pending asset. The decision is
// made exactly once.
func (r *AssetRegistry) Verify(tokenID uint64, approved bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	asset, ok := r.assets[tokenID]
	if !ok {
		return ErrNotFound
	}
	if asset.ApprovalStatus != ApprovalPending {
		return ErrAlreadyDecided
	}

	asset.IsVerified = approved
	if approved {
		asset.ApprovalStatus = ApprovalApproved
	} else {
		asset.ApprovalStatus = ApprovalRejected
	}
	return nil
}

// UpdatePrice overwrites an asset's current valuation and appends to its
// price history. It never triggers liquidation itself; eligibility is
// recomputed from live prices on each query.
func (r *AssetRegistry) UpdatePrice(tokenID uint64, newValue *big.Int, now time.Time) (*big.Int, error) {
	if newValue == nil || newValue.Sign() <= 0 {
		return nil, ErrInvalidValue
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	asset, ok := r.assets[tokenID]
	if !ok {
		return nil, ErrNotFound
	}

	old := asset.CurrentValue
	asset.CurrentValue = new(big.Int).Set(newValue)

	points := append(r.history[tokenID], PricePoint{Value: new(big.Int).Set(newValue), Timestamp: now})
	if len(points) > maxPricePoints {
		points = points[len(points)-maxPricePoints:]
	}
	r.history[tokenID] = points

	return old, nil
}

// Lock reserves an asset as collateral. Invoked only by the loan ledger
// while it holds its own write lock, so the reservation commits together
// with the ledger's request record.
func (r *AssetRegistry) Lock(tokenID uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	asset, ok := r.assets[tokenID]
	if !ok {
		return ErrNotFound
	}
	if asset.IsLocked {
		return ErrAlreadyLocked
	}
	asset.IsLocked = true
	return nil
}

// Unlock releases collateral after repayment or request cancellation.
func (r *AssetRegistry) Unlock(tokenID uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	asset, ok := r.assets[tokenID]
	if !ok {
		return ErrNotFound
	}
	if !asset.IsLocked {
		return ErrNotLocked
	}
	asset.IsLocked = false
	return nil
}

// Seize transfers a locked asset to the liquidator and releases the lock.
// Invoked only by the liquidation controller after it has transitioned the
// loan away from Active.
func (r *AssetRegistry) Seize(tokenID uint64, liquidator string) (*big.Int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	asset, ok := r.assets[tokenID]
	if !ok {
		return nil, ErrNotFound
	}
	if !asset.IsLocked {
		return nil, ErrNotLocked
	}
	asset.Owner = liquidator
	asset.IsLocked = false
	return new(big.Int).Set(asset.CurrentValue), nil
}

// GetAsset returns a copy of an asset record.
func (r *AssetRegistry) GetAsset(tokenID uint64) (*Asset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	asset, ok := r.assets[tokenID]
	if !ok {
		return nil, ErrNotFound
	}
	return r.copyAsset(asset), nil
}

// GetUserAssets returns copies of every asset owned by owner.
func (r *AssetRegistry) GetUserAssets(owner string) []*Asset {
	r.mu.RLock()
	defer r.mu.RUnlock()

	assets := make([]*Asset, 0)
	for _, asset := range r.assets {
		if asset.Owner == owner {
			assets = append(assets, r.copyAsset(asset))
		}
	}
	return assets
}

// PriceHistory returns the retained valuation samples for an asset, oldest
// first.
func (r *AssetRegistry) PriceHistory(tokenID uint64) ([]PricePoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.assets[tokenID]; !ok {
		return nil, ErrNotFound
	}
	points := r.history[tokenID]
	out := make([]PricePoint, len(points))
	for i, pt := range points {
		out[i] = PricePoint{Value: new(big.Int).Set(pt.Value), Timestamp: pt.Timestamp}
	}
	return out, nil
}

// CurrentValue returns an asset's live valuation.
func (r *AssetRegistry) CurrentValue(tokenID uint64) (*big.Int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	asset, ok := r.assets[tokenID]
	if !ok {
		return nil, ErrNotFound
	}
	return new(big.Int).Set(asset.CurrentValue), nil
}

// TotalAssets returns the number of tokenized assets.
func (r *AssetRegistry) TotalAssets() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.assets)
}

// LockedValue sums the current value of every locked asset. This is the
// protocol's total value locked.
func (r *AssetRegistry) LockedValue() *big.Int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total := big.NewInt(0)
	for _, asset := range r.assets {
		if asset.IsLocked {
			total.Add(total, asset.CurrentValue)
		}
	}
	return total
}

func (r *AssetRegistry) copyAsset(asset *Asset) *Asset {
	cp := *asset
	cp.CurrentValue = new(big.Int).Set(asset.CurrentValue)
	return &cp
}
