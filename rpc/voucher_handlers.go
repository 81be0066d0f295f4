package rpc

import (
	"encoding/hex"
	"net/http"
	"strings"

	"pursechain/native/voucher"
)

type voucherRedeemParams struct {
	Caller    string           `json:"caller"`
	Voucher   *voucher.Voucher `json:"voucher"`
	Signature string           `json:"signature"`
}

type voucherBatchParams struct {
	Caller     string             `json:"caller"`
	Vouchers   []*voucher.Voucher `json:"vouchers"`
	Signatures []string           `json:"signatures"`
}

type voucherDigestParams struct {
	Digest string `json:"digest"`
}

type redeemResult struct {
	Digest string `json:"digest"`
}

type batchResult struct {
	Settled   int `json:"settled"`
	Submitted int `json:"submitted"`
}

func parseSignature(value string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(value), "0x"))
}

func (s *Server) handleVoucherRedeem(w http.ResponseWriter, req *RPCRequest) {
	var params voucherRedeemParams
	if err := parseParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	if params.Voucher == nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "voucher required", nil)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller address", err.Error())
		return
	}
	signature, err := parseSignature(params.Signature)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid signature encoding", err.Error())
		return
	}
	if err := s.node.RedeemVoucher(caller, params.Voucher, signature); err != nil {
		writeError(w, http.StatusOK, req.ID, codeServerError, err.Error(), nil)
		return
	}
	digest := s.node.VoucherDigest(params.Voucher)
	writeResult(w, req.ID, redeemResult{Digest: hex.EncodeToString(digest[:])})
}

func (s *Server) handleVoucherRedeemBatch(w http.ResponseWriter, req *RPCRequest) {
	var params voucherBatchParams
	if err := parseParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller address", err.Error())
		return
	}
	signatures := make([][]byte, len(params.Signatures))
	for i, raw := range params.Signatures {
		sig, err := parseSignature(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid signature encoding", err.Error())
			return
		}
		signatures[i] = sig
	}
	settled, err := s.node.RedeemBatch(caller, params.Vouchers, signatures)
	if err != nil {
		writeError(w, http.StatusOK, req.ID, codeServerError, err.Error(), nil)
		return
	}
	writeResult(w, req.ID, batchResult{Settled: settled, Submitted: len(params.Vouchers)})
}

func (s *Server) handleVoucherIsRedeemed(w http.ResponseWriter, req *RPCRequest) {
	var params voucherDigestParams
	if err := parseParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	raw, err := parseSignature(params.Digest)
	if err != nil || len(raw) != 32 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "digest must be 32 hex-encoded bytes", nil)
		return
	}
	var digest [32]byte
	copy(digest[:], raw)
	redeemed, err := s.node.IsRedeemed(digest)
	if err != nil {
		writeError(w, http.StatusOK, req.ID, codeServerError, err.Error(), nil)
		return
	}
	writeResult(w, req.ID, map[string]bool{"redeemed": redeemed})
}
