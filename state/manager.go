package state

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"

	"pursechain/core/types"
	"pursechain/storage"
)

var (
	pursePrefix    = []byte("purse/acct/")
	earningsPrefix = []byte("purse/earnings/")
	redeemedPrefix = []byte("voucher/redeemed/")
	positionKey    = []byte("loan/position")
)

// Ledger is the mutable state surface shared by the purse, voucher and loan
// engines. Manager implements it directly against the key-value store;
// Overlay implements it as a buffered view that commits atomically.
type Ledger interface {
	PurseGet(addr [20]byte) (*types.Purse, error)
	PursePut(addr [20]byte, purse *types.Purse) error
	EarningsGet(addr [20]byte) (*big.Int, error)
	EarningsPut(addr [20]byte, amount *big.Int) error
	RedeemedHas(digest [32]byte) (bool, error)
	RedeemedMark(digest [32]byte, at int64) error
	PositionActive() (bool, error)
	SetPositionActive(active bool) error
}

type storedPurse struct {
	Total    *big.Int
	Reserved *big.Int
}

type storedEarnings struct {
	Amount *big.Int
}

type storedRedemption struct {
	RedeemedAt uint64
}

type storedPosition struct {
	Active uint8
}

// Manager persists ledger state as RLP-encoded records in the underlying
// key-value store.
type Manager struct {
	db storage.Database
}

// NewManager constructs a state manager bound to the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

func purseKey(addr [20]byte) []byte {
	return append(append([]byte(nil), pursePrefix...), addr[:]...)
}

func earningsKey(addr [20]byte) []byte {
	return append(append([]byte(nil), earningsPrefix...), addr[:]...)
}

func redeemedKey(digest [32]byte) []byte {
	return append(append([]byte(nil), redeemedPrefix...), digest[:]...)
}

// PurseGet loads the purse for an address, returning a zero-valued record
// when none has been persisted yet. Purses are created implicitly on first
// reference and never deleted.
func (m *Manager) PurseGet(addr [20]byte) (*types.Purse, error) {
	raw, ok, err := m.db.Get(purseKey(addr))
	if err != nil {
		return nil, err
	}
	if !ok {
		return types.NewPurse(), nil
	}
	var stored storedPurse
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, fmt.Errorf("state: decode purse: %w", err)
	}
	return types.SanitizePurse(&types.Purse{Total: stored.Total, Reserved: stored.Reserved})
}

// PursePut persists the purse record, enforcing the reserved-within-total
// invariant on every write.
func (m *Manager) PursePut(addr [20]byte, purse *types.Purse) error {
	sanitized, err := types.SanitizePurse(purse)
	if err != nil {
		return err
	}
	encoded, err := rlp.EncodeToBytes(storedPurse{Total: sanitized.Total, Reserved: sanitized.Reserved})
	if err != nil {
		return err
	}
	return m.db.Put(purseKey(addr), encoded)
}

// EarningsGet loads the accumulated merchant earnings for an address.
func (m *Manager) EarningsGet(addr [20]byte) (*big.Int, error) {
	raw, ok, err := m.db.Get(earningsKey(addr))
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	var stored storedEarnings
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, fmt.Errorf("state: decode earnings: %w", err)
	}
	if stored.Amount == nil {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(stored.Amount), nil
}

// EarningsPut persists the merchant earnings counter.
func (m *Manager) EarningsPut(addr [20]byte, amount *big.Int) error {
	if amount == nil {
		amount = big.NewInt(0)
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("state: earnings must be non-negative")
	}
	encoded, err := rlp.EncodeToBytes(storedEarnings{Amount: amount})
	if err != nil {
		return err
	}
	return m.db.Put(earningsKey(addr), encoded)
}

// RedeemedHas reports whether the voucher digest is already in the redeemed
// set.
func (m *Manager) RedeemedHas(digest [32]byte) (bool, error) {
	_, ok, err := m.db.Get(redeemedKey(digest))
	if err != nil {
		return false, err
	}
	return ok, nil
}

// RedeemedMark records the digest in the redeemed set. Membership is
// monotone: marking an already-present digest is rejected so settlement
// effects can never be applied twice.
func (m *Manager) RedeemedMark(digest [32]byte, at int64) error {
	ok, err := m.RedeemedHas(digest)
	if err != nil {
		return err
	}
	if ok {
		return fmt.Errorf("state: voucher digest already redeemed")
	}
	ts := uint64(0)
	if at > 0 {
		ts = uint64(at)
	}
	encoded, err := rlp.EncodeToBytes(storedRedemption{RedeemedAt: ts})
	if err != nil {
		return err
	}
	return m.db.Put(redeemedKey(digest), encoded)
}

// PositionActive reports whether the ledger currently holds an open borrowing
// position with the lending collaborator.
func (m *Manager) PositionActive() (bool, error) {
	raw, ok, err := m.db.Get(positionKey)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	var stored storedPosition
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return false, fmt.Errorf("state: decode position: %w", err)
	}
	return stored.Active == 1, nil
}

// SetPositionActive persists the position-active flag.
func (m *Manager) SetPositionActive(active bool) error {
	stored := storedPosition{}
	if active {
		stored.Active = 1
	}
	encoded, err := rlp.EncodeToBytes(stored)
	if err != nil {
		return err
	}
	return m.db.Put(positionKey, encoded)
}
