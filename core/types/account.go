package types

import (
	"fmt"
	"math/big"
)

// Purse is the per-address balance record held by the ledger. Total counts
// every unit the ledger holds on the owner's behalf; Reserved is the portion
// of Total earmarked to back off-chain vouchers. Reserved must never exceed
// Total.
type Purse struct {
	Total    *big.Int `json:"total"`
	Reserved *big.Int `json:"reserved"`
}

// NewPurse returns an empty, zero-valued purse.
func NewPurse() *Purse {
	return &Purse{Total: big.NewInt(0), Reserved: big.NewInt(0)}
}

// Clone returns a deep copy so callers can safely mutate the copy without
// affecting the stored instance.
func (p *Purse) Clone() *Purse {
	if p == nil {
		return NewPurse()
	}
	clone := NewPurse()
	if p.Total != nil {
		clone.Total = new(big.Int).Set(p.Total)
	}
	if p.Reserved != nil {
		clone.Reserved = new(big.Int).Set(p.Reserved)
	}
	return clone
}

// Available reports the withdrawable balance: Total minus Reserved, floored
// at zero.
func (p *Purse) Available() *big.Int {
	if p == nil || p.Total == nil {
		return big.NewInt(0)
	}
	reserved := big.NewInt(0)
	if p.Reserved != nil {
		reserved = p.Reserved
	}
	if p.Total.Cmp(reserved) <= 0 {
		return big.NewInt(0)
	}
	return new(big.Int).Sub(p.Total, reserved)
}

// SanitizePurse validates the record and returns a cloned instance with
// non-nil fields. The reserved-within-total invariant is enforced here so no
// code path can persist a purse that violates it.
func SanitizePurse(p *Purse) (*Purse, error) {
	clone := p.Clone()
	if clone.Total.Sign() < 0 {
		return nil, fmt.Errorf("purse: total must be non-negative")
	}
	if clone.Reserved.Sign() < 0 {
		return nil, fmt.Errorf("purse: reserved must be non-negative")
	}
	if clone.Reserved.Cmp(clone.Total) > 0 {
		return nil, fmt.Errorf("purse: reserved exceeds total")
	}
	return clone, nil
}
