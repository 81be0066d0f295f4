package rpc

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"pursechain/core"
	"pursechain/native/loan"
	"pursechain/native/token"
	"pursechain/native/voucher"
	"pursechain/state"
	"pursechain/storage"
)

const (
	testChainID   = 7001
	testAuthToken = "test-token"
	testNow       = int64(1_750_000_000)
)

var (
	ledgerAddr   = [20]byte{0xEE}
	simAddr      = [20]byte{0xDD}
	merchantAddr = [20]byte{0x02}
)

type rpcHarness struct {
	server   *httptest.Server
	rpc      *Server
	node     *core.Node
	stable   *token.Ledger
	payerKey []byte
	payer    [20]byte
}

func newRPCHarness(t *testing.T) *rpcHarness {
	t.Helper()
	db := storage.NewMemDB()
	manager := state.NewManager(db)
	stable := token.NewLedger("MUSD")
	collateral := token.NewLedger("BTC")
	one, _ := new(big.Int).SetString("1000000000000000000", 10)
	price := new(big.Int).Mul(big.NewInt(10), one)
	sim := loan.NewTroveSim(stable, collateral, simAddr, ledgerAddr, price)
	node := core.NewNode(manager, testChainID, ledgerAddr, stable, collateral)
	node.SetCollaborator(sim)
	node.SetNowFunc(func() int64 { return testNow })

	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	var payer [20]byte
	copy(payer[:], ethcrypto.PubkeyToAddress(key.PublicKey).Bytes())

	server := NewServer(node, testAuthToken, 0)
	ts := httptest.NewServer(http.HandlerFunc(server.handle))
	t.Cleanup(ts.Close)
	return &rpcHarness{
		server:   ts,
		rpc:      server,
		node:     node,
		stable:   stable,
		payerKey: ethcrypto.FromECDSA(key),
		payer:    payer,
	}
}

func (h *rpcHarness) call(t *testing.T, method string, authed bool, params interface{}) *RPCResponse {
	t.Helper()
	var rawParams []json.RawMessage
	if params != nil {
		encoded, err := json.Marshal(params)
		require.NoError(t, err)
		rawParams = []json.RawMessage{encoded}
	}
	body, err := json.Marshal(RPCRequest{JSONRPC: jsonRPCVersion, Method: method, Params: rawParams, ID: 1})
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, h.server.URL, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if authed {
		req.Header.Set("Authorization", "Bearer "+testAuthToken)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	decoded := &RPCResponse{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(decoded))
	return decoded
}

func (h *rpcHarness) fundAndDeposit(t *testing.T, amount int64) {
	t.Helper()
	require.NoError(t, h.stable.Mint(h.payer, big.NewInt(amount)))
	resp := h.call(t, "purse_deposit", true, purseOpParams{
		Caller: formatAddress(h.payer),
		Amount: big.NewInt(amount).String(),
	})
	require.Nil(t, resp.Error)
}

func TestMutatingMethodsRequireAuth(t *testing.T) {
	h := newRPCHarness(t)
	resp := h.call(t, "purse_deposit", false, purseOpParams{
		Caller: formatAddress(h.payer),
		Amount: "100",
	})
	require.NotNil(t, resp.Error)
	require.Equal(t, codeUnauthorized, resp.Error.Code)
}

func TestUnknownMethod(t *testing.T) {
	h := newRPCHarness(t)
	resp := h.call(t, "purse_unknown", true, nil)
	require.NotNil(t, resp.Error)
	require.Equal(t, codeMethodNotFound, resp.Error.Code)
}

func TestDepositAndBalances(t *testing.T) {
	h := newRPCHarness(t)
	h.fundAndDeposit(t, 1000)

	resp := h.call(t, "purse_balances", false, addressParams{Address: formatAddress(h.payer)})
	require.Nil(t, resp.Error)
	result, ok := resp.Result.(map[string]interface{})
	require.True(t, ok)
	require.Equal(t, "1000", result["total"])
	require.Equal(t, "0", result["reserved"])
	require.Equal(t, "1000", result["available"])
}

func TestVoucherRedeemOverRPC(t *testing.T) {
	h := newRPCHarness(t)
	h.fundAndDeposit(t, 1000)
	resp := h.call(t, "purse_reserve", true, purseOpParams{Caller: formatAddress(h.payer), Amount: "100"})
	require.Nil(t, resp.Error)

	v := &voucher.Voucher{
		Payer:    h.payer,
		Merchant: merchantAddr,
		Amount:   big.NewInt(100),
		Nonce:    big.NewInt(1),
		Expiry:   testNow + 3600,
	}
	digest := h.node.VoucherDigest(v)
	key, err := ethcrypto.ToECDSA(h.payerKey)
	require.NoError(t, err)
	sig, err := ethcrypto.Sign(digest[:], key)
	require.NoError(t, err)

	resp = h.call(t, "voucher_redeem", true, voucherRedeemParams{
		Caller:    formatAddress(merchantAddr),
		Voucher:   v,
		Signature: hex.EncodeToString(sig),
	})
	require.Nil(t, resp.Error)

	resp = h.call(t, "voucher_isRedeemed", false, voucherDigestParams{Digest: hex.EncodeToString(digest[:])})
	require.Nil(t, resp.Error)
	result, ok := resp.Result.(map[string]interface{})
	require.True(t, ok)
	require.Equal(t, true, result["redeemed"])

	resp = h.call(t, "merchant_earnings", false, addressParams{Address: formatAddress(merchantAddr)})
	require.Nil(t, resp.Error)
	result, ok = resp.Result.(map[string]interface{})
	require.True(t, ok)
	require.Equal(t, "100", result["earnings"])
}

func TestEngineErrorsSurfaceAsServerErrors(t *testing.T) {
	h := newRPCHarness(t)
	h.fundAndDeposit(t, 100)
	resp := h.call(t, "purse_withdraw", true, purseOpParams{
		Caller: formatAddress(h.payer),
		Amount: "500",
	})
	require.NotNil(t, resp.Error)
	require.Equal(t, codeServerError, resp.Error.Code)
}

func TestLoanDetailsOverRPC(t *testing.T) {
	h := newRPCHarness(t)
	resp := h.call(t, "loan_details", false, nil)
	require.Nil(t, resp.Error)
	result, ok := resp.Result.(map[string]interface{})
	require.True(t, ok)
	require.Equal(t, false, result["active"])
	require.Equal(t, "0", result["totalDebt"])
}

func TestRateLimitByClient(t *testing.T) {
	h := newRPCHarness(t)
	limited := NewServer(h.node, testAuthToken, 1)
	ts := httptest.NewServer(http.HandlerFunc(limited.handle))
	defer ts.Close()

	body := []byte(`{"jsonrpc":"2.0","method":"loan_details","id":1}`)
	first, err := http.Post(ts.URL, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	first.Body.Close()
	require.Equal(t, http.StatusOK, first.StatusCode)

	second, err := http.Post(ts.URL, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer second.Body.Close()
	require.Equal(t, http.StatusTooManyRequests, second.StatusCode)

	decoded := &RPCResponse{}
	require.NoError(t, json.NewDecoder(second.Body).Decode(decoded))
	require.NotNil(t, decoded.Error)
	require.Equal(t, codeRateLimited, decoded.Error.Code)
}
