package lend

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/luxfi/database"
)

// Key layout: one JSON value per record plus a meta record for counters and
// capability sets. Records are never deleted by the domain, so a snapshot
// is a plain overwrite.
const (
	assetKeyPrefix   = "asset:"
	requestKeyPrefix = "request:"
	loanKeyPrefix    = "loan:"
	metaKey          = "meta:state"
)

// Store snapshots and restores the whole ledger through a luxfi/database
// backend (BadgerDB in the daemon, memdb under test).
type Store struct {
	db database.Database
}

// NewStore wraps a database handle.
func NewStore(db database.Database) *Store {
	return &Store{db: db}
}

type persistedAsset struct {
	Asset   *Asset
	History []PricePoint
}

type persistedMeta struct {
	NextTokenID     uint64
	NextRequestID   uint64
	NextLoanID      uint64
	LoansOriginated uint64
	ProtocolFees    *big.Int
	Verifiers       []string
	Oracles         []string
}

// Save writes a consistent snapshot of the engine in one batch. Both the
// ledger and the registry read locks are held for the whole snapshot, in the
// ledger-then-registry order every mutator uses, so a request and its
// collateral lock always land in the same snapshot.
func (s *Store) Save(e *LendingEngine) error {
	batch := s.db.NewBatch()
	defer batch.Reset()

	e.Ledger.mu.RLock()
	defer e.Ledger.mu.RUnlock()
	e.Registry.mu.RLock()
	defer e.Registry.mu.RUnlock()

	for id, asset := range e.Registry.assets {
		if err := putJSON(batch, assetKey(id), persistedAsset{Asset: asset, History: e.Registry.history[id]}); err != nil {
			return err
		}
	}
	for id, req := range e.Ledger.requests {
		if err := putJSON(batch, requestKey(id), req); err != nil {
			return err
		}
	}
	for id, loan := range e.Ledger.loans {
		if err := putJSON(batch, loanKey(id), loan); err != nil {
			return err
		}
	}
	meta := persistedMeta{
		NextTokenID:     e.Registry.nextTokenID,
		NextRequestID:   e.Ledger.nextRequestID,
		NextLoanID:      e.Ledger.nextLoanID,
		LoansOriginated: e.Ledger.loansOriginated,
	}

	e.mu.RLock()
	meta.ProtocolFees = new(big.Int).Set(e.protocolFees)
	for v := range e.verifiers {
		meta.Verifiers = append(meta.Verifiers, v)
	}
	for o := range e.oracles {
		meta.Oracles = append(meta.Oracles, o)
	}
	e.mu.RUnlock()

	if err := putJSON(batch, []byte(metaKey), meta); err != nil {
		return err
	}
	return batch.Write()
}

// Load restores a snapshot into a freshly constructed engine. A missing
// meta record means no snapshot exists and the engine is left empty.
func (s *Store) Load(e *LendingEngine) error {
	raw, err := s.db.Get([]byte(metaKey))
	if err != nil {
		if err == database.ErrNotFound {
			return nil
		}
		return err
	}
	var meta persistedMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return fmt.Errorf("corrupt meta record: %w", err)
	}

	assets := make(map[uint64]*Asset)
	history := make(map[uint64][]PricePoint)
	iter := s.db.NewIteratorWithPrefix([]byte(assetKeyPrefix))
	for iter.Next() {
		var rec persistedAsset
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			iter.Release()
			return fmt.Errorf("corrupt asset record %q: %w", iter.Key(), err)
		}
		assets[rec.Asset.TokenID] = rec.Asset
		history[rec.Asset.TokenID] = rec.History
	}
	iter.Release()

	requests := make(map[uint64]*LoanRequest)
	iter = s.db.NewIteratorWithPrefix([]byte(requestKeyPrefix))
	for iter.Next() {
		var req LoanRequest
		if err := json.Unmarshal(iter.Value(), &req); err != nil {
			iter.Release()
			return fmt.Errorf("corrupt request record %q: %w", iter.Key(), err)
		}
		requests[req.RequestID] = &req
	}
	iter.Release()

	loans := make(map[uint64]*Loan)
	iter = s.db.NewIteratorWithPrefix([]byte(loanKeyPrefix))
	for iter.Next() {
		var loan Loan
		if err := json.Unmarshal(iter.Value(), &loan); err != nil {
			iter.Release()
			return fmt.Errorf("corrupt loan record %q: %w", iter.Key(), err)
		}
		loans[loan.LoanID] = &loan
	}
	iter.Release()

	e.Registry.mu.Lock()
	e.Registry.assets = assets
	e.Registry.history = history
	e.Registry.nextTokenID = meta.NextTokenID
	e.Registry.mu.Unlock()

	e.Ledger.mu.Lock()
	e.Ledger.requests = requests
	e.Ledger.loans = loans
	e.Ledger.nextRequestID = meta.NextRequestID
	e.Ledger.nextLoanID = meta.NextLoanID
	e.Ledger.loansOriginated = meta.LoansOriginated
	e.Ledger.mu.Unlock()

	e.mu.Lock()
	if meta.ProtocolFees != nil {
		e.protocolFees = meta.ProtocolFees
	}
	e.verifiers = make(map[string]bool)
	for _, v := range meta.Verifiers {
		e.verifiers[v] = true
	}
	e.oracles = make(map[string]bool)
	for _, o := range meta.Oracles {
		e.oracles[o] = true
	}
	e.mu.Unlock()

	return nil
}

func putJSON(batch database.Batch, key []byte, v interface{}) error {
	value, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return batch.Put(key, value)
}

func assetKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%d", assetKeyPrefix, id))
}

func requestKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%d", requestKeyPrefix, id))
}

func loanKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%d", loanKeyPrefix, id))
}
