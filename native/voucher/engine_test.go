package voucher

import (
	"crypto/ecdsa"
	"errors"
	"math/big"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"pursechain/core/types"
)

const testChainID = 7001

var testLedgerAddr = [20]byte{0xEE}

type mockState struct {
	purses   map[[20]byte]*types.Purse
	earnings map[[20]byte]*big.Int
	redeemed map[[32]byte]int64
}

func newMockState() *mockState {
	return &mockState{
		purses:   make(map[[20]byte]*types.Purse),
		earnings: make(map[[20]byte]*big.Int),
		redeemed: make(map[[32]byte]int64),
	}
}

func (m *mockState) PurseGet(addr [20]byte) (*types.Purse, error) {
	if purse, ok := m.purses[addr]; ok {
		return purse.Clone(), nil
	}
	return types.NewPurse(), nil
}

func (m *mockState) PursePut(addr [20]byte, purse *types.Purse) error {
	sanitized, err := types.SanitizePurse(purse)
	if err != nil {
		return err
	}
	m.purses[addr] = sanitized
	return nil
}

func (m *mockState) EarningsGet(addr [20]byte) (*big.Int, error) {
	if amount, ok := m.earnings[addr]; ok {
		return new(big.Int).Set(amount), nil
	}
	return big.NewInt(0), nil
}

func (m *mockState) EarningsPut(addr [20]byte, amount *big.Int) error {
	m.earnings[addr] = new(big.Int).Set(amount)
	return nil
}

func (m *mockState) RedeemedHas(digest [32]byte) (bool, error) {
	_, ok := m.redeemed[digest]
	return ok, nil
}

func (m *mockState) RedeemedMark(digest [32]byte, at int64) error {
	if _, ok := m.redeemed[digest]; ok {
		return errors.New("already redeemed")
	}
	m.redeemed[digest] = at
	return nil
}

func (m *mockState) fund(addr [20]byte, total, reserved int64) {
	m.purses[addr] = &types.Purse{Total: big.NewInt(total), Reserved: big.NewInt(reserved)}
}

type signer struct {
	key  *ecdsa.PrivateKey
	addr [20]byte
}

func newSigner(t *testing.T) *signer {
	t.Helper()
	key, err := ethcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	var addr [20]byte
	copy(addr[:], ethcrypto.PubkeyToAddress(key.PublicKey).Bytes())
	return &signer{key: key, addr: addr}
}

func (s *signer) sign(t *testing.T, digest [32]byte) []byte {
	t.Helper()
	sig, err := ethcrypto.Sign(digest[:], s.key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return sig
}

const testNow = int64(1_750_000_000)

func newTestEngine(state *mockState) *Engine {
	engine := NewEngine(testChainID, testLedgerAddr)
	engine.SetState(state)
	engine.SetNowFunc(func() int64 { return testNow })
	return engine
}

func signedVoucher(t *testing.T, engine *Engine, payer *signer, merchant [20]byte, amount, nonce int64, expiry int64) (*Voucher, []byte) {
	t.Helper()
	v := &Voucher{
		Payer:    payer.addr,
		Merchant: merchant,
		Amount:   big.NewInt(amount),
		Nonce:    big.NewInt(nonce),
		Expiry:   expiry,
	}
	return v, payer.sign(t, engine.Digest(v))
}

func TestRedeemVoucherSettles(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(state)
	payer := newSigner(t)
	merchant := [20]byte{0x02}
	state.fund(payer.addr, 1000, 100)

	v, sig := signedVoucher(t, engine, payer, merchant, 100, 1, testNow+3600)
	if err := engine.RedeemVoucher(merchant, v, sig); err != nil {
		t.Fatalf("redeem: %v", err)
	}

	purse := state.purses[payer.addr]
	if purse.Total.Cmp(big.NewInt(900)) != 0 || purse.Reserved.Sign() != 0 {
		t.Fatalf("expected total=900 reserved=0, got total=%s reserved=%s", purse.Total, purse.Reserved)
	}
	earnings := state.earnings[merchant]
	if earnings.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("expected earnings 100, got %s", earnings)
	}
	redeemed, err := engine.IsRedeemed(engine.Digest(v))
	if err != nil || !redeemed {
		t.Fatalf("digest must be marked redeemed (err=%v)", err)
	}
}

func TestRedeemVoucherIdempotentByRejection(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(state)
	payer := newSigner(t)
	merchant := [20]byte{0x02}
	state.fund(payer.addr, 1000, 200)

	v, sig := signedVoucher(t, engine, payer, merchant, 100, 1, testNow+3600)
	if err := engine.RedeemVoucher(merchant, v, sig); err != nil {
		t.Fatalf("first redeem: %v", err)
	}
	if err := engine.RedeemVoucher(merchant, v, sig); !errors.Is(err, ErrAlreadyRedeemed) {
		t.Fatalf("expected ErrAlreadyRedeemed, got %v", err)
	}
	purse := state.purses[payer.addr]
	if purse.Total.Cmp(big.NewInt(900)) != 0 || purse.Reserved.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("second attempt must not change balances, got total=%s reserved=%s", purse.Total, purse.Reserved)
	}
}

func TestRedeemVoucherAuthorization(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(state)
	payer := newSigner(t)
	merchant := [20]byte{0x02}
	state.fund(payer.addr, 1000, 200)

	v, sig := signedVoucher(t, engine, payer, merchant, 100, 1, testNow+3600)
	other := [20]byte{0x03}
	if err := engine.RedeemVoucher(other, v, sig); !errors.Is(err, ErrNotMerchant) {
		t.Fatalf("expected ErrNotMerchant, got %v", err)
	}
}

func TestRedeemVoucherWrongSigner(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(state)
	payer := newSigner(t)
	impostor := newSigner(t)
	merchant := [20]byte{0x02}
	state.fund(payer.addr, 1000, 200)

	v := &Voucher{Payer: payer.addr, Merchant: merchant, Amount: big.NewInt(100), Nonce: big.NewInt(1), Expiry: testNow + 3600}
	sig := impostor.sign(t, engine.Digest(v))
	if err := engine.RedeemVoucher(merchant, v, sig); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestRedeemVoucherExpiryBoundaryInclusive(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(state)
	payer := newSigner(t)
	merchant := [20]byte{0x02}
	state.fund(payer.addr, 1000, 500)

	// expiry == now is still valid.
	atBoundary, sig := signedVoucher(t, engine, payer, merchant, 100, 1, testNow)
	if err := engine.RedeemVoucher(merchant, atBoundary, sig); err != nil {
		t.Fatalf("voucher expiring exactly now must settle: %v", err)
	}
	// expiry == now-1 is expired.
	expired, sig := signedVoucher(t, engine, payer, merchant, 100, 2, testNow-1)
	if err := engine.RedeemVoucher(merchant, expired, sig); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestRedeemVoucherZeroAmountFailsBeforeStateAccess(t *testing.T) {
	engine := NewEngine(testChainID, testLedgerAddr)
	// State deliberately unset after the cheap checks: a zero amount must be
	// rejected without touching it.
	engine.SetState(newMockState())
	engine.SetNowFunc(func() int64 { return testNow })
	payer := newSigner(t)
	merchant := [20]byte{0x02}
	v := &Voucher{Payer: payer.addr, Merchant: merchant, Amount: big.NewInt(0), Nonce: big.NewInt(1), Expiry: testNow + 3600}
	if err := engine.RedeemVoucher(merchant, v, nil); !errors.Is(err, ErrAmountPositive) {
		t.Fatalf("expected ErrAmountPositive, got %v", err)
	}
}

func TestRedeemVoucherInsufficientReserved(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(state)
	payer := newSigner(t)
	merchant := [20]byte{0x02}
	// Total covers the amount but the reservation does not.
	state.fund(payer.addr, 1000, 50)

	v, sig := signedVoucher(t, engine, payer, merchant, 100, 1, testNow+3600)
	if err := engine.RedeemVoucher(merchant, v, sig); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
}

func TestRedeemBatchSkipsInvalidSignature(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(state)
	payer := newSigner(t)
	impostor := newSigner(t)
	merchant := [20]byte{0x02}
	state.fund(payer.addr, 1000, 600)

	v1, sig1 := signedVoucher(t, engine, payer, merchant, 100, 1, testNow+3600)
	v2 := &Voucher{Payer: payer.addr, Merchant: merchant, Amount: big.NewInt(200), Nonce: big.NewInt(2), Expiry: testNow + 3600}
	sig2 := impostor.sign(t, engine.Digest(v2))
	v3, sig3 := signedVoucher(t, engine, payer, merchant, 300, 3, testNow+3600)

	settled, err := engine.RedeemBatch(merchant, []*Voucher{v1, v2, v3}, [][]byte{sig1, sig2, sig3})
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if settled != 2 {
		t.Fatalf("expected 2 settled entries, got %d", settled)
	}
	earnings := state.earnings[merchant]
	if earnings.Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("expected earnings amount1+amount3=400, got %s", earnings)
	}
	if _, ok := state.redeemed[engine.Digest(v2)]; ok {
		t.Fatalf("skipped entry must not be marked redeemed")
	}
}

func TestRedeemBatchSkipsAlreadyRedeemed(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(state)
	payer := newSigner(t)
	merchant := [20]byte{0x02}
	state.fund(payer.addr, 1000, 600)

	v1, sig1 := signedVoucher(t, engine, payer, merchant, 100, 1, testNow+3600)
	if err := engine.RedeemVoucher(merchant, v1, sig1); err != nil {
		t.Fatalf("pre-redeem: %v", err)
	}
	v2, sig2 := signedVoucher(t, engine, payer, merchant, 200, 2, testNow+3600)

	settled, err := engine.RedeemBatch(merchant, []*Voucher{v1, v2}, [][]byte{sig1, sig2})
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if settled != 1 {
		t.Fatalf("expected 1 settled entry, got %d", settled)
	}
	earnings := state.earnings[merchant]
	if earnings.Cmp(big.NewInt(300)) != 0 {
		t.Fatalf("expected earnings 300, got %s", earnings)
	}
}

func TestRedeemBatchAbortsOnAuthorizationMismatch(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(state)
	payer := newSigner(t)
	merchant := [20]byte{0x02}
	otherMerchant := [20]byte{0x03}
	state.fund(payer.addr, 1000, 600)

	v1, sig1 := signedVoucher(t, engine, payer, merchant, 100, 1, testNow+3600)
	v2 := &Voucher{Payer: payer.addr, Merchant: otherMerchant, Amount: big.NewInt(200), Nonce: big.NewInt(2), Expiry: testNow + 3600}
	sig2 := payer.sign(t, engine.Digest(v2))

	if _, err := engine.RedeemBatch(merchant, []*Voucher{v1, v2}, [][]byte{sig1, sig2}); !errors.Is(err, ErrNotMerchant) {
		t.Fatalf("expected ErrNotMerchant, got %v", err)
	}
}

func TestRedeemBatchAbortsOnInsufficientFunds(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(state)
	payer := newSigner(t)
	merchant := [20]byte{0x02}
	state.fund(payer.addr, 1000, 150)

	v1, sig1 := signedVoucher(t, engine, payer, merchant, 100, 1, testNow+3600)
	v2, sig2 := signedVoucher(t, engine, payer, merchant, 100, 2, testNow+3600)

	if _, err := engine.RedeemBatch(merchant, []*Voucher{v1, v2}, [][]byte{sig1, sig2}); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
}

func TestRedeemBatchValidation(t *testing.T) {
	engine := newTestEngine(newMockState())
	merchant := [20]byte{0x02}

	if _, err := engine.RedeemBatch(merchant, nil, nil); !errors.Is(err, ErrEmptyBatch) {
		t.Fatalf("expected ErrEmptyBatch, got %v", err)
	}
	payer := newSigner(t)
	v, sig := signedVoucher(t, engine, payer, merchant, 100, 1, testNow+3600)
	if _, err := engine.RedeemBatch(merchant, []*Voucher{v}, [][]byte{sig, sig}); !errors.Is(err, ErrBatchLengthMismatch) {
		t.Fatalf("expected ErrBatchLengthMismatch, got %v", err)
	}
}

func TestRedeemBatchPreservesArrayOrder(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(state)
	payer := newSigner(t)
	merchant := [20]byte{0x02}
	// The reservation only covers the first voucher: order decides which
	// entry settles before funds run out.
	state.fund(payer.addr, 1000, 100)

	v1, sig1 := signedVoucher(t, engine, payer, merchant, 100, 1, testNow+3600)
	v2, sig2 := signedVoucher(t, engine, payer, merchant, 100, 2, testNow+3600)

	settled, err := engine.RedeemBatch(merchant, []*Voucher{v1, v2}, [][]byte{sig1, sig2})
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds after the first entry, got %v", err)
	}
	if settled != 1 {
		t.Fatalf("expected the first entry to settle before the abort, got %d", settled)
	}
	if _, ok := state.redeemed[engine.Digest(v1)]; !ok {
		t.Fatalf("first entry must have settled in order")
	}
}

type mockToken struct {
	balances map[[20]byte]*big.Int
	fail     bool
}

func (t *mockToken) Transfer(from, to [20]byte, amount *big.Int) error {
	if t.fail {
		return errors.New("transfer rejected")
	}
	return nil
}

func (t *mockToken) BalanceOf(addr [20]byte) (*big.Int, error) {
	return big.NewInt(0), nil
}

func TestWithdrawMerchant(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(state)
	engine.SetToken(&mockToken{})
	merchant := [20]byte{0x02}
	state.earnings[merchant] = big.NewInt(500)

	if err := engine.WithdrawMerchant(merchant, big.NewInt(200)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if state.earnings[merchant].Cmp(big.NewInt(300)) != 0 {
		t.Fatalf("expected earnings 300, got %s", state.earnings[merchant])
	}
	if err := engine.WithdrawMerchant(merchant, big.NewInt(400)); !errors.Is(err, ErrInsufficientEarnings) {
		t.Fatalf("expected ErrInsufficientEarnings, got %v", err)
	}
}

func TestWithdrawMerchantCompensatesFailedTransfer(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(state)
	engine.SetToken(&mockToken{fail: true})
	merchant := [20]byte{0x02}
	state.earnings[merchant] = big.NewInt(500)

	if err := engine.WithdrawMerchant(merchant, big.NewInt(200)); err == nil {
		t.Fatalf("expected withdraw to fail")
	}
	if state.earnings[merchant].Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("earnings must be restored, got %s", state.earnings[merchant])
	}
}
