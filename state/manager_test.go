package state

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"pursechain/core/types"
	"pursechain/storage"
)

func testAddr(fill byte) [20]byte {
	var addr [20]byte
	for i := range addr {
		addr[i] = fill
	}
	return addr
}

func TestManagerPurseRoundTrip(t *testing.T) {
	m := NewManager(storage.NewMemDB())
	addr := testAddr(0x01)

	purse, err := m.PurseGet(addr)
	require.NoError(t, err)
	require.Zero(t, purse.Total.Sign(), "implicit purse must be zero-valued")
	require.Zero(t, purse.Reserved.Sign())

	purse.Total = big.NewInt(1000)
	purse.Reserved = big.NewInt(400)
	require.NoError(t, m.PursePut(addr, purse))

	loaded, err := m.PurseGet(addr)
	require.NoError(t, err)
	require.Equal(t, 0, loaded.Total.Cmp(big.NewInt(1000)))
	require.Equal(t, 0, loaded.Reserved.Cmp(big.NewInt(400)))
	require.Equal(t, 0, loaded.Available().Cmp(big.NewInt(600)))
}

func TestManagerRejectsReservedAboveTotal(t *testing.T) {
	m := NewManager(storage.NewMemDB())
	err := m.PursePut(testAddr(0x02), &types.Purse{Total: big.NewInt(10), Reserved: big.NewInt(11)})
	require.Error(t, err)
}

func TestManagerRedeemedSetMonotone(t *testing.T) {
	m := NewManager(storage.NewMemDB())
	digest := [32]byte{0xAB}

	ok, err := m.RedeemedHas(digest)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, m.RedeemedMark(digest, 1700000000))
	ok, err = m.RedeemedHas(digest)
	require.NoError(t, err)
	require.True(t, ok)

	require.Error(t, m.RedeemedMark(digest, 1700000001), "second mark must be rejected")
}

func TestManagerPositionFlag(t *testing.T) {
	m := NewManager(storage.NewMemDB())
	active, err := m.PositionActive()
	require.NoError(t, err)
	require.False(t, active)

	require.NoError(t, m.SetPositionActive(true))
	active, err = m.PositionActive()
	require.NoError(t, err)
	require.True(t, active)
}

func TestOverlayCommitAndDiscard(t *testing.T) {
	m := NewManager(storage.NewMemDB())
	addr := testAddr(0x03)
	require.NoError(t, m.PursePut(addr, &types.Purse{Total: big.NewInt(500), Reserved: big.NewInt(0)}))

	discarded := NewOverlay(m)
	require.NoError(t, discarded.PursePut(addr, &types.Purse{Total: big.NewInt(1), Reserved: big.NewInt(0)}))
	require.NoError(t, discarded.RedeemedMark([32]byte{0x01}, 1))
	// Never committed: backing state must be untouched.
	purse, err := m.PurseGet(addr)
	require.NoError(t, err)
	require.Equal(t, 0, purse.Total.Cmp(big.NewInt(500)))
	ok, err := m.RedeemedHas([32]byte{0x01})
	require.NoError(t, err)
	require.False(t, ok)

	committed := NewOverlay(m)
	loaded, err := committed.PurseGet(addr)
	require.NoError(t, err)
	loaded.Total = big.NewInt(750)
	require.NoError(t, committed.PursePut(addr, loaded))
	require.NoError(t, committed.EarningsPut(addr, big.NewInt(25)))
	require.NoError(t, committed.RedeemedMark([32]byte{0x02}, 2))
	require.NoError(t, committed.SetPositionActive(true))
	require.NoError(t, committed.Commit())

	purse, err = m.PurseGet(addr)
	require.NoError(t, err)
	require.Equal(t, 0, purse.Total.Cmp(big.NewInt(750)))
	earnings, err := m.EarningsGet(addr)
	require.NoError(t, err)
	require.Equal(t, 0, earnings.Cmp(big.NewInt(25)))
	ok, err = m.RedeemedHas([32]byte{0x02})
	require.NoError(t, err)
	require.True(t, ok)
	active, err := m.PositionActive()
	require.NoError(t, err)
	require.True(t, active)
}

func TestOverlayReadsThroughToBase(t *testing.T) {
	m := NewManager(storage.NewMemDB())
	addr := testAddr(0x04)
	require.NoError(t, m.EarningsPut(addr, big.NewInt(77)))
	require.NoError(t, m.RedeemedMark([32]byte{0x05}, 5))

	ov := NewOverlay(m)
	earnings, err := ov.EarningsGet(addr)
	require.NoError(t, err)
	require.Equal(t, 0, earnings.Cmp(big.NewInt(77)))
	ok, err := ov.RedeemedHas([32]byte{0x05})
	require.NoError(t, err)
	require.True(t, ok)
	require.Error(t, ov.RedeemedMark([32]byte{0x05}, 6))
}
