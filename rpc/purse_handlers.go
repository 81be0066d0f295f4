package rpc

import (
	"math/big"
	"net/http"
)

type purseOpParams struct {
	Caller string `json:"caller"`
	Amount string `json:"amount"`
}

type balancesResult struct {
	Address   string `json:"address"`
	Total     string `json:"total"`
	Reserved  string `json:"reserved"`
	Available string `json:"available"`
}

type earningsResult struct {
	Address  string `json:"address"`
	Earnings string `json:"earnings"`
}

func (s *Server) handlePurseDeposit(w http.ResponseWriter, req *RPCRequest) {
	s.runPurseOp(w, req, s.node.Deposit)
}

func (s *Server) handlePurseWithdraw(w http.ResponseWriter, req *RPCRequest) {
	s.runPurseOp(w, req, s.node.Withdraw)
}

func (s *Server) handlePurseReserve(w http.ResponseWriter, req *RPCRequest) {
	s.runPurseOp(w, req, s.node.Reserve)
}

func (s *Server) handlePurseRelease(w http.ResponseWriter, req *RPCRequest) {
	s.runPurseOp(w, req, s.node.Release)
}

func (s *Server) handleMerchantWithdraw(w http.ResponseWriter, req *RPCRequest) {
	s.runPurseOp(w, req, s.node.WithdrawMerchant)
}

func (s *Server) runPurseOp(w http.ResponseWriter, req *RPCRequest, op func([20]byte, *big.Int) error) {
	var params purseOpParams
	if err := parseParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller address", err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid amount", err.Error())
		return
	}
	if err := op(caller, amount); err != nil {
		writeError(w, http.StatusOK, req.ID, codeServerError, err.Error(), nil)
		return
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
}

type addressParams struct {
	Address string `json:"address"`
}

func (s *Server) handlePurseBalances(w http.ResponseWriter, req *RPCRequest) {
	var params addressParams
	if err := parseParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	addr, err := parseAddress(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid address", err.Error())
		return
	}
	total, reserved, available, err := s.node.Balances(addr)
	if err != nil {
		writeError(w, http.StatusOK, req.ID, codeServerError, err.Error(), nil)
		return
	}
	writeResult(w, req.ID, balancesResult{
		Address:   formatAddress(addr),
		Total:     total.String(),
		Reserved:  reserved.String(),
		Available: available.String(),
	})
}

func (s *Server) handleMerchantEarnings(w http.ResponseWriter, req *RPCRequest) {
	var params addressParams
	if err := parseParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	addr, err := parseAddress(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid address", err.Error())
		return
	}
	earnings, err := s.node.Earnings(addr)
	if err != nil {
		writeError(w, http.StatusOK, req.ID, codeServerError, err.Error(), nil)
		return
	}
	writeResult(w, req.ID, earningsResult{Address: formatAddress(addr), Earnings: earnings.String()})
}
