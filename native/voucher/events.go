package voucher

import (
	"encoding/hex"
	"math/big"

	"pursechain/core/types"
)

const (
	EventTypeRedeemed          = "voucher.redeemed"
	EventTypeBatchSkipped      = "voucher.batch_skipped"
	EventTypeMerchantWithdrawn = "voucher.merchant_withdrawn"
)

// NewRedeemedEvent returns the canonical payload emitted when a voucher
// settles.
func NewRedeemedEvent(v *Voucher, digest [32]byte) *types.Event {
	attrs := voucherAttrs(v, digest)
	return &types.Event{Type: EventTypeRedeemed, Attributes: attrs}
}

// NewBatchSkippedEvent returns the payload emitted when a batch entry is
// skipped rather than settled. The reason is either "already_redeemed" or
// "invalid_signature".
func NewBatchSkippedEvent(v *Voucher, digest [32]byte, reason string) *types.Event {
	attrs := voucherAttrs(v, digest)
	attrs["reason"] = reason
	return &types.Event{Type: EventTypeBatchSkipped, Attributes: attrs}
}

// NewMerchantWithdrawnEvent returns the payload emitted when a merchant pays
// earnings out.
func NewMerchantWithdrawnEvent(merchant [20]byte, amount *big.Int) *types.Event {
	attrs := make(map[string]string)
	attrs["merchant"] = hex.EncodeToString(merchant[:])
	if amount != nil {
		attrs["amount"] = amount.String()
	} else {
		attrs["amount"] = "0"
	}
	return &types.Event{Type: EventTypeMerchantWithdrawn, Attributes: attrs}
}

func voucherAttrs(v *Voucher, digest [32]byte) map[string]string {
	attrs := make(map[string]string)
	attrs["digest"] = hex.EncodeToString(digest[:])
	if v == nil {
		return attrs
	}
	attrs["payer"] = hex.EncodeToString(v.Payer[:])
	attrs["merchant"] = hex.EncodeToString(v.Merchant[:])
	if v.Amount != nil {
		attrs["amount"] = v.Amount.String()
	} else {
		attrs["amount"] = "0"
	}
	return attrs
}
