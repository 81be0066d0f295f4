package loan

import (
	"encoding/hex"
	"math/big"

	"pursechain/core/types"
)

const (
	EventTypePositionOpened      = "loan.position_opened"
	EventTypeLoanRepaid          = "loan.repaid"
	EventTypePositionClosed      = "loan.position_closed"
	EventTypePositionRefinanced  = "loan.position_refinanced"
	EventTypeCollateralAdded     = "loan.collateral_added"
	EventTypeCollateralWithdrawn = "loan.collateral_withdrawn"
)

// NewPositionOpenedEvent records a successful open: the collateral attached
// and the stablecoin amount actually received.
func NewPositionOpenedEvent(caller [20]byte, borrowed, collateral *big.Int) *types.Event {
	attrs := loanAttrs(caller, borrowed)
	attrs["collateral"] = amountString(collateral)
	return &types.Event{Type: EventTypePositionOpened, Attributes: attrs}
}

func NewLoanRepaidEvent(caller [20]byte, amount *big.Int, fromPurse bool) *types.Event {
	attrs := loanAttrs(caller, amount)
	attrs["from_purse"] = boolString(fromPurse)
	return &types.Event{Type: EventTypeLoanRepaid, Attributes: attrs}
}

// NewPositionClosedEvent records the close payment made and the collateral
// delta returned to the caller.
func NewPositionClosedEvent(caller [20]byte, payment, collateral *big.Int) *types.Event {
	attrs := loanAttrs(caller, payment)
	attrs["collateral"] = amountString(collateral)
	return &types.Event{Type: EventTypePositionClosed, Attributes: attrs}
}

func NewPositionRefinancedEvent(caller [20]byte, rateBps uint64) *types.Event {
	attrs := loanAttrs(caller, nil)
	delete(attrs, "amount")
	attrs["rate_bps"] = new(big.Int).SetUint64(rateBps).String()
	return &types.Event{Type: EventTypePositionRefinanced, Attributes: attrs}
}

func NewCollateralAddedEvent(caller [20]byte, amount *big.Int) *types.Event {
	return &types.Event{Type: EventTypeCollateralAdded, Attributes: loanAttrs(caller, amount)}
}

func NewCollateralWithdrawnEvent(caller [20]byte, amount *big.Int) *types.Event {
	return &types.Event{Type: EventTypeCollateralWithdrawn, Attributes: loanAttrs(caller, amount)}
}

func loanAttrs(caller [20]byte, amount *big.Int) map[string]string {
	attrs := make(map[string]string)
	attrs["caller"] = hex.EncodeToString(caller[:])
	attrs["amount"] = amountString(amount)
	return attrs
}

func amountString(amount *big.Int) string {
	if amount == nil {
		return "0"
	}
	return amount.String()
}

func boolString(v bool) string {
	if v {
		return "true"
	}
	return "false"
}
