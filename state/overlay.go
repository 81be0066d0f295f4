package state

import (
	"fmt"
	"math/big"

	"pursechain/core/types"
)

// Overlay buffers ledger writes on top of a backing Ledger. Reads fall
// through to the backing state until a key has been written. Nothing reaches
// the backing state until Commit, which gives every entry point the
// run-to-completion-or-revert semantics of the execution model: a failed
// operation simply discards its overlay.
type Overlay struct {
	base     Ledger
	purses   map[[20]byte]*types.Purse
	earnings map[[20]byte]*big.Int
	redeemed map[[32]byte]int64
	position *bool
}

// NewOverlay creates an empty overlay on top of the supplied ledger state.
func NewOverlay(base Ledger) *Overlay {
	return &Overlay{
		base:     base,
		purses:   make(map[[20]byte]*types.Purse),
		earnings: make(map[[20]byte]*big.Int),
		redeemed: make(map[[32]byte]int64),
	}
}

func (o *Overlay) PurseGet(addr [20]byte) (*types.Purse, error) {
	if purse, ok := o.purses[addr]; ok {
		return purse.Clone(), nil
	}
	return o.base.PurseGet(addr)
}

func (o *Overlay) PursePut(addr [20]byte, purse *types.Purse) error {
	sanitized, err := types.SanitizePurse(purse)
	if err != nil {
		return err
	}
	o.purses[addr] = sanitized
	return nil
}

func (o *Overlay) EarningsGet(addr [20]byte) (*big.Int, error) {
	if amount, ok := o.earnings[addr]; ok {
		return new(big.Int).Set(amount), nil
	}
	return o.base.EarningsGet(addr)
}

func (o *Overlay) EarningsPut(addr [20]byte, amount *big.Int) error {
	if amount == nil {
		amount = big.NewInt(0)
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("state: earnings must be non-negative")
	}
	o.earnings[addr] = new(big.Int).Set(amount)
	return nil
}

func (o *Overlay) RedeemedHas(digest [32]byte) (bool, error) {
	if _, ok := o.redeemed[digest]; ok {
		return true, nil
	}
	return o.base.RedeemedHas(digest)
}

func (o *Overlay) RedeemedMark(digest [32]byte, at int64) error {
	ok, err := o.RedeemedHas(digest)
	if err != nil {
		return err
	}
	if ok {
		return fmt.Errorf("state: voucher digest already redeemed")
	}
	o.redeemed[digest] = at
	return nil
}

func (o *Overlay) PositionActive() (bool, error) {
	if o.position != nil {
		return *o.position, nil
	}
	return o.base.PositionActive()
}

func (o *Overlay) SetPositionActive(active bool) error {
	value := active
	o.position = &value
	return nil
}

// Commit flushes every buffered write to the backing ledger. The overlay
// remains usable afterwards but its buffers are cleared.
func (o *Overlay) Commit() error {
	for addr, purse := range o.purses {
		if err := o.base.PursePut(addr, purse); err != nil {
			return err
		}
	}
	for addr, amount := range o.earnings {
		if err := o.base.EarningsPut(addr, amount); err != nil {
			return err
		}
	}
	for digest, at := range o.redeemed {
		if err := o.base.RedeemedMark(digest, at); err != nil {
			return err
		}
	}
	if o.position != nil {
		if err := o.base.SetPositionActive(*o.position); err != nil {
			return err
		}
	}
	o.purses = make(map[[20]byte]*types.Purse)
	o.earnings = make(map[[20]byte]*big.Int)
	o.redeemed = make(map[[32]byte]int64)
	o.position = nil
	return nil
}
