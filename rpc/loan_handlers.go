package rpc

import (
	"math/big"
	"net/http"
)

type loanOpenParams struct {
	Caller         string `json:"caller"`
	Amount         string `json:"amount"`
	Collateral     string `json:"collateral"`
	DepositToPurse bool   `json:"depositToPurse"`
	HintA          string `json:"hintA,omitempty"`
	HintB          string `json:"hintB,omitempty"`
}

type loanRepayParams struct {
	Caller    string `json:"caller"`
	Amount    string `json:"amount"`
	FromPurse bool   `json:"fromPurse"`
	HintA     string `json:"hintA,omitempty"`
	HintB     string `json:"hintB,omitempty"`
}

type loanCloseParams struct {
	Caller    string `json:"caller"`
	FromPurse bool   `json:"fromPurse"`
	HintA     string `json:"hintA,omitempty"`
	HintB     string `json:"hintB,omitempty"`
}

type loanCollateralParams struct {
	Caller string `json:"caller"`
	Amount string `json:"amount"`
	HintA  string `json:"hintA,omitempty"`
	HintB  string `json:"hintB,omitempty"`
}

type loanDetailsResult struct {
	Principal              string `json:"principal"`
	Interest               string `json:"interest"`
	TotalDebt              string `json:"totalDebt"`
	Collateral             string `json:"collateral"`
	CollateralizationRatio string `json:"collateralizationRatio"`
	InterestRateBps        uint64 `json:"interestRateBps"`
	Active                 bool   `json:"active"`
}

type loanRiskResult struct {
	RatioPercent      string `json:"ratioPercent"`
	AtLiquidationRisk bool   `json:"atLiquidationRisk"`
}

// parseHint decodes an optional bech32 hint; the zero value is always valid.
func parseHint(value string) ([20]byte, error) {
	if value == "" {
		return [20]byte{}, nil
	}
	return parseAddress(value)
}

func (s *Server) handleLoanOpen(w http.ResponseWriter, req *RPCRequest) {
	var params loanOpenParams
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
	collateral, err := parseAmount(params.Collateral)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid collateral", err.Error())
		return
	}
	hintA, err := parseHint(params.HintA)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid hintA", err.Error())
		return
	}
	hintB, err := parseHint(params.HintB)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid hintB", err.Error())
		return
	}
	borrowed, err := s.node.OpenAndBorrow(caller, amount, collateral, params.DepositToPurse, hintA, hintB)
	if err != nil {
		writeError(w, http.StatusOK, req.ID, codeServerError, err.Error(), nil)
		return
	}
	writeResult(w, req.ID, map[string]string{"borrowed": borrowed.String()})
}

func (s *Server) handleLoanRepay(w http.ResponseWriter, req *RPCRequest) {
	var params loanRepayParams
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
	hintA, err := parseHint(params.HintA)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid hintA", err.Error())
		return
	}
	hintB, err := parseHint(params.HintB)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid hintB", err.Error())
		return
	}
	if err := s.node.RepayLoan(caller, amount, params.FromPurse, hintA, hintB); err != nil {
		writeError(w, http.StatusOK, req.ID, codeServerError, err.Error(), nil)
		return
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
}

func (s *Server) handleLoanClose(w http.ResponseWriter, req *RPCRequest) {
	var params loanCloseParams
	if err := parseParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller address", err.Error())
		return
	}
	hintA, err := parseHint(params.HintA)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid hintA", err.Error())
		return
	}
	hintB, err := parseHint(params.HintB)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid hintB", err.Error())
		return
	}
	returned, err := s.node.CloseLoan(caller, params.FromPurse, hintA, hintB)
	if err != nil {
		writeError(w, http.StatusOK, req.ID, codeServerError, err.Error(), nil)
		return
	}
	writeResult(w, req.ID, map[string]string{"collateralReturned": returned.String()})
}

func (s *Server) handleLoanAddCollateral(w http.ResponseWriter, req *RPCRequest) {
	s.runCollateralOp(w, req, s.node.AddCollateral)
}

func (s *Server) handleLoanWithdrawCollateral(w http.ResponseWriter, req *RPCRequest) {
	s.runCollateralOp(w, req, s.node.WithdrawCollateral)
}

func (s *Server) runCollateralOp(w http.ResponseWriter, req *RPCRequest, op func([20]byte, *big.Int, [20]byte, [20]byte) error) {
	var params loanCollateralParams
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
	hintA, err := parseHint(params.HintA)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid hintA", err.Error())
		return
	}
	hintB, err := parseHint(params.HintB)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid hintB", err.Error())
		return
	}
	if err := op(caller, amount, hintA, hintB); err != nil {
		writeError(w, http.StatusOK, req.ID, codeServerError, err.Error(), nil)
		return
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
}

func (s *Server) handleLoanRefinance(w http.ResponseWriter, req *RPCRequest) {
	var params loanCloseParams
	if err := parseParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller address", err.Error())
		return
	}
	hintA, err := parseHint(params.HintA)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid hintA", err.Error())
		return
	}
	hintB, err := parseHint(params.HintB)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid hintB", err.Error())
		return
	}
	if err := s.node.RefinanceLoan(caller, hintA, hintB); err != nil {
		writeError(w, http.StatusOK, req.ID, codeServerError, err.Error(), nil)
		return
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
}

func (s *Server) handleLoanDetails(w http.ResponseWriter, req *RPCRequest) {
	details, err := s.node.LoanDetails()
	if err != nil {
		writeError(w, http.StatusOK, req.ID, codeServerError, err.Error(), nil)
		return
	}
	writeResult(w, req.ID, loanDetailsResult{
		Principal:              details.Principal.String(),
		Interest:               details.Interest.String(),
		TotalDebt:              details.TotalDebt.String(),
		Collateral:             details.Collateral.String(),
		CollateralizationRatio: details.CollateralizationRatio.String(),
		InterestRateBps:        details.InterestRateBps,
		Active:                 details.Active,
	})
}

func (s *Server) handleLoanRiskStatus(w http.ResponseWriter, req *RPCRequest) {
	percent, err := s.node.CollateralizationRatioPercent()
	if err != nil {
		writeError(w, http.StatusOK, req.ID, codeServerError, err.Error(), nil)
		return
	}
	risky, err := s.node.IsAtLiquidationRisk()
	if err != nil {
		writeError(w, http.StatusOK, req.ID, codeServerError, err.Error(), nil)
		return
	}
	writeResult(w, req.ID, loanRiskResult{RatioPercent: percent.String(), AtLiquidationRisk: risky})
}
