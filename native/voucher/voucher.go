package voucher

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	repoCrypto "pursechain/crypto"
)

// DomainV1 is the domain separator for the first voucher payload version.
// Together with the chain identifier and the verifying ledger address it
// scopes every signature to one deployment: the same voucher signed for a
// different chain or ledger produces a different digest.
const DomainV1 = "PURSECHAIN_VOUCHER_V1"

// ErrInvalidSignature is returned when signature recovery fails or the
// recovered signer does not match the expected address.
var ErrInvalidSignature = errors.New("voucher: invalid signature")

// Voucher is the off-chain-constructed payment promise. The payer signs its
// digest; the named merchant submits voucher and signature for settlement.
// Vouchers are never persisted as structs: only the digest enters the
// redeemed set.
type Voucher struct {
	Payer    [20]byte
	Merchant [20]byte
	Amount   *big.Int
	Nonce    *big.Int
	Expiry   int64
}

// Clone returns a deep copy of the voucher.
func (v *Voucher) Clone() *Voucher {
	if v == nil {
		return nil
	}
	clone := *v
	if v.Amount != nil {
		clone.Amount = new(big.Int).Set(v.Amount)
	}
	if v.Nonce != nil {
		clone.Nonce = new(big.Int).Set(v.Nonce)
	}
	return &clone
}

// Digest computes the canonical keccak256 digest the payer signs. Every field
// participates: changing any of them, the chain id, or the ledger address
// yields a different digest.
func (v Voucher) Digest(chainID uint64, ledger [20]byte) [32]byte {
	amountStr := "0"
	if v.Amount != nil {
		amountStr = v.Amount.String()
	}
	nonceStr := "0"
	if v.Nonce != nil {
		nonceStr = v.Nonce.String()
	}
	payload := fmt.Sprintf("%s|chain=%d|ledger=%s|payer=%s|merchant=%s|amount=%s|nonce=%s|exp=%d",
		DomainV1,
		chainID,
		hex.EncodeToString(ledger[:]),
		hex.EncodeToString(v.Payer[:]),
		hex.EncodeToString(v.Merchant[:]),
		amountStr,
		nonceStr,
		v.Expiry,
	)
	var digest [32]byte
	copy(digest[:], ethcrypto.Keccak256([]byte(payload)))
	return digest
}

// RecoverSigner recovers the 20-byte address that produced the 65-byte
// signature over the digest.
func RecoverSigner(digest [32]byte, signature []byte) ([20]byte, error) {
	var signer [20]byte
	if len(signature) != 65 {
		return signer, ErrInvalidSignature
	}
	pubKey, err := ethcrypto.SigToPub(digest[:], signature)
	if err != nil {
		return signer, ErrInvalidSignature
	}
	recovered := ethcrypto.PubkeyToAddress(*pubKey)
	copy(signer[:], recovered.Bytes())
	return signer, nil
}

type voucherJSON struct {
	Payer    string `json:"payer"`
	Merchant string `json:"merchant"`
	Amount   string `json:"amount"`
	Nonce    string `json:"nonce"`
	Expiry   int64  `json:"expiry"`
}

// MarshalJSON encodes the voucher into the wire representation consumed by
// RPC clients and the signing CLI.
func (v Voucher) MarshalJSON() ([]byte, error) {
	amountStr := "0"
	if v.Amount != nil {
		amountStr = v.Amount.String()
	}
	nonceStr := "0"
	if v.Nonce != nil {
		nonceStr = v.Nonce.String()
	}
	payload := voucherJSON{
		Payer:    repoCrypto.NewAddress(repoCrypto.PursePrefix, v.Payer[:]).String(),
		Merchant: repoCrypto.NewAddress(repoCrypto.PursePrefix, v.Merchant[:]).String(),
		Amount:   amountStr,
		Nonce:    nonceStr,
		Expiry:   v.Expiry,
	}
	return json.Marshal(payload)
}

// UnmarshalJSON decodes the on-wire representation into the canonical struct.
func (v *Voucher) UnmarshalJSON(data []byte) error {
	if v == nil {
		return fmt.Errorf("voucher: nil receiver")
	}
	var payload voucherJSON
	if err := json.Unmarshal(data, &payload); err != nil {
		return err
	}
	payerStr := strings.TrimSpace(payload.Payer)
	if payerStr == "" {
		return fmt.Errorf("voucher: payer required")
	}
	payerAddr, err := repoCrypto.DecodeAddress(payerStr)
	if err != nil {
		return fmt.Errorf("voucher: payer: %w", err)
	}
	merchantStr := strings.TrimSpace(payload.Merchant)
	if merchantStr == "" {
		return fmt.Errorf("voucher: merchant required")
	}
	merchantAddr, err := repoCrypto.DecodeAddress(merchantStr)
	if err != nil {
		return fmt.Errorf("voucher: merchant: %w", err)
	}
	amountStr := strings.TrimSpace(payload.Amount)
	if amountStr == "" {
		return fmt.Errorf("voucher: amount required")
	}
	amount, ok := new(big.Int).SetString(amountStr, 10)
	if !ok {
		return fmt.Errorf("voucher: invalid amount %q", payload.Amount)
	}
	if amount.Sign() <= 0 {
		return fmt.Errorf("voucher: amount must be positive")
	}
	nonceStr := strings.TrimSpace(payload.Nonce)
	if nonceStr == "" {
		return fmt.Errorf("voucher: nonce required")
	}
	nonce, ok := new(big.Int).SetString(nonceStr, 10)
	if !ok || nonce.Sign() < 0 {
		return fmt.Errorf("voucher: invalid nonce %q", payload.Nonce)
	}
	*v = Voucher{
		Payer:    payerAddr.Array(),
		Merchant: merchantAddr.Array(),
		Amount:   amount,
		Nonce:    nonce,
		Expiry:   payload.Expiry,
	}
	return nil
}
