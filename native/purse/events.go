package purse

import (
	"encoding/hex"
	"math/big"

	"pursechain/core/types"
)

const (
	EventTypeDeposited = "purse.deposited"
	EventTypeWithdrawn = "purse.withdrawn"
	EventTypeReserved  = "purse.reserved"
	EventTypeReleased  = "purse.released"
)

// NewDepositedEvent returns the canonical payload emitted when external funds
// are credited to a purse.
func NewDepositedEvent(account [20]byte, amount *big.Int) *types.Event {
	return newPurseEvent(EventTypeDeposited, account, amount)
}

// NewWithdrawnEvent returns the canonical payload emitted when purse funds
// are returned to their owner.
func NewWithdrawnEvent(account [20]byte, amount *big.Int) *types.Event {
	return newPurseEvent(EventTypeWithdrawn, account, amount)
}

// NewReservedEvent returns the canonical payload emitted when funds are
// earmarked to back vouchers.
func NewReservedEvent(account [20]byte, amount *big.Int) *types.Event {
	return newPurseEvent(EventTypeReserved, account, amount)
}

// NewReleasedEvent returns the canonical payload emitted when a reservation
// is returned to the available balance.
func NewReleasedEvent(account [20]byte, amount *big.Int) *types.Event {
	return newPurseEvent(EventTypeReleased, account, amount)
}

func newPurseEvent(eventType string, account [20]byte, amount *big.Int) *types.Event {
	attrs := make(map[string]string)
	attrs["account"] = hex.EncodeToString(account[:])
	if amount != nil {
		attrs["amount"] = amount.String()
	} else {
		attrs["amount"] = "0"
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}
