package purse

import (
	"errors"
	"fmt"
	"math/big"
	"testing"

	"pursechain/core/events"
	"pursechain/core/types"
)

type mockState struct {
	purses   map[[20]byte]*types.Purse
	earnings map[[20]byte]*big.Int
}

func newMockState() *mockState {
	return &mockState{
		purses:   make(map[[20]byte]*types.Purse),
		earnings: make(map[[20]byte]*big.Int),
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

type mockToken struct {
	balances map[[20]byte]*big.Int
	failNext bool
}

func newMockToken() *mockToken {
	return &mockToken{balances: make(map[[20]byte]*big.Int)}
}

func (t *mockToken) mint(addr [20]byte, amount int64) {
	t.balances[addr] = big.NewInt(amount)
}

func (t *mockToken) Transfer(from, to [20]byte, amount *big.Int) error {
	if t.failNext {
		t.failNext = false
		return errors.New("token transfer rejected")
	}
	current, ok := t.balances[from]
	if !ok || current.Cmp(amount) < 0 {
		return fmt.Errorf("insufficient token balance")
	}
	t.balances[from] = new(big.Int).Sub(current, amount)
	toBal, ok := t.balances[to]
	if !ok {
		toBal = big.NewInt(0)
	}
	t.balances[to] = new(big.Int).Add(toBal, amount)
	return nil
}

func (t *mockToken) BalanceOf(addr [20]byte) (*big.Int, error) {
	if balance, ok := t.balances[addr]; ok {
		return new(big.Int).Set(balance), nil
	}
	return big.NewInt(0), nil
}

type capturingEmitter struct {
	types []string
}

func (c *capturingEmitter) Emit(evt events.Event) {
	c.types = append(c.types, evt.EventType())
}

func newTestAddress(fill byte) [20]byte {
	var addr [20]byte
	for i := range addr {
		addr[i] = fill
	}
	return addr
}

func newTestEngine() (*Engine, *mockState, *mockToken) {
	state := newMockState()
	token := newMockToken()
	engine := NewEngine(newTestAddress(0xEE))
	engine.SetState(state)
	engine.SetToken(token)
	return engine, state, token
}

func TestDepositCreditsTotal(t *testing.T) {
	engine, state, token := newTestEngine()
	payer := newTestAddress(0x01)
	token.mint(payer, 1000)

	if err := engine.Deposit(payer, big.NewInt(1000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	purse := state.purses[payer]
	if purse.Total.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("expected total 1000, got %s", purse.Total)
	}
	vaultBal, _ := token.BalanceOf(newTestAddress(0xEE))
	if vaultBal.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("expected vault to hold deposit, got %s", vaultBal)
	}
}

func TestDepositRejectsZeroAmount(t *testing.T) {
	engine, _, _ := newTestEngine()
	if err := engine.Deposit(newTestAddress(0x01), big.NewInt(0)); !errors.Is(err, ErrAmountPositive) {
		t.Fatalf("expected ErrAmountPositive, got %v", err)
	}
}

func TestDepositFailedTransferLeavesPurseUntouched(t *testing.T) {
	engine, state, token := newTestEngine()
	payer := newTestAddress(0x01)
	token.failNext = true

	if err := engine.Deposit(payer, big.NewInt(10)); err == nil {
		t.Fatalf("expected deposit to fail")
	}
	if _, ok := state.purses[payer]; ok {
		t.Fatalf("purse must not be created on failed deposit")
	}
}

func TestWithdrawBoundedByAvailable(t *testing.T) {
	engine, state, token := newTestEngine()
	payer := newTestAddress(0x02)
	token.mint(payer, 1000)
	if err := engine.Deposit(payer, big.NewInt(1000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := engine.Reserve(payer, big.NewInt(400)); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	// available is 600: 500 fits but a prior attempt at the full total must
	// have failed.
	if err := engine.Withdraw(payer, big.NewInt(700)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if err := engine.Withdraw(payer, big.NewInt(600)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	purse := state.purses[payer]
	if purse.Total.Cmp(big.NewInt(400)) != 0 || purse.Reserved.Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("expected total=400 reserved=400, got total=%s reserved=%s", purse.Total, purse.Reserved)
	}
	if purse.Available().Sign() != 0 {
		t.Fatalf("expected available=0, got %s", purse.Available())
	}
}

func TestWithdrawCompensatesFailedTransfer(t *testing.T) {
	engine, state, token := newTestEngine()
	payer := newTestAddress(0x03)
	token.mint(payer, 100)
	if err := engine.Deposit(payer, big.NewInt(100)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	token.failNext = true
	if err := engine.Withdraw(payer, big.NewInt(50)); err == nil {
		t.Fatalf("expected withdraw to fail")
	}
	purse := state.purses[payer]
	if purse.Total.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("expected total restored to 100, got %s", purse.Total)
	}
}

func TestReserveReleaseRoundTrip(t *testing.T) {
	engine, state, token := newTestEngine()
	payer := newTestAddress(0x04)
	token.mint(payer, 500)
	if err := engine.Deposit(payer, big.NewInt(500)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := engine.Reserve(payer, big.NewInt(200)); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := engine.Release(payer, big.NewInt(200)); err != nil {
		t.Fatalf("release: %v", err)
	}
	purse := state.purses[payer]
	if purse.Reserved.Sign() != 0 {
		t.Fatalf("expected reserved restored to 0, got %s", purse.Reserved)
	}
	if purse.Total.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("round trip must not change total, got %s", purse.Total)
	}
}

func TestReserveBoundedByAvailable(t *testing.T) {
	engine, _, token := newTestEngine()
	payer := newTestAddress(0x05)
	token.mint(payer, 100)
	if err := engine.Deposit(payer, big.NewInt(100)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := engine.Reserve(payer, big.NewInt(80)); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := engine.Reserve(payer, big.NewInt(30)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
}

func TestReleaseBoundedByReserved(t *testing.T) {
	engine, _, token := newTestEngine()
	payer := newTestAddress(0x06)
	token.mint(payer, 100)
	if err := engine.Deposit(payer, big.NewInt(100)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := engine.Release(payer, big.NewInt(1)); !errors.Is(err, ErrInsufficientReserved) {
		t.Fatalf("expected ErrInsufficientReserved, got %v", err)
	}
}

func TestPurseEventsEmitted(t *testing.T) {
	engine, _, token := newTestEngine()
	emitter := &capturingEmitter{}
	engine.SetEmitter(emitter)
	payer := newTestAddress(0x07)
	token.mint(payer, 100)

	if err := engine.Deposit(payer, big.NewInt(100)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := engine.Reserve(payer, big.NewInt(40)); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := engine.Release(payer, big.NewInt(40)); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := engine.Withdraw(payer, big.NewInt(100)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	want := []string{EventTypeDeposited, EventTypeReserved, EventTypeReleased, EventTypeWithdrawn}
	if len(emitter.types) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(emitter.types))
	}
	for i, eventType := range want {
		if emitter.types[i] != eventType {
			t.Fatalf("event %d: expected %s, got %s", i, eventType, emitter.types[i])
		}
	}
}
