package rpc

import (
	"encoding/hex"
	"errors"
	"math/big"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"custodia/native/ledger"
)

type operationRequest struct {
	Account string `json:"account"`
	Symbol  string `json:"symbol"`
	Amount  string `json:"amount"`
}

type marketPayload struct {
	Symbol              string `json:"symbol"`
	CollateralFactorBps uint64 `json:"collateralFactorBps"`
	SupplyRateBps       uint64 `json:"supplyRateBps"`
	BorrowRateBps       uint64 `json:"borrowRateBps"`
	TotalSupply         string `json:"totalSupply"`
	TotalBorrow         string `json:"totalBorrow"`
	Active              bool   `json:"active"`
	CreatedAt           int64  `json:"createdAt"`
}

func marketToPayload(m *ledger.Market) marketPayload {
	return marketPayload{
		Symbol:              m.Symbol,
		CollateralFactorBps: m.CollateralFactorBps,
		SupplyRateBps:       m.SupplyRateBps,
		BorrowRateBps:       m.BorrowRateBps,
		TotalSupply:         m.TotalSupply.String(),
		TotalBorrow:         m.TotalBorrow.String(),
		Active:              m.Active,
		CreatedAt:           m.CreatedAt,
	}
}

func (s *Server) runOperation(w http.ResponseWriter, r *http.Request, op string, fn func(req operationRequest, amount *big.Int) error) {
	var req operationRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := fn(req, amount); err != nil {
		s.metrics.ObserveFailure(op)
		writeError(w, statusForError(err), err)
		return
	}
	s.metrics.ObserveOperation(op)
	s.publishMarketTotals(req.Symbol)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) publishMarketTotals(symbol string) {
	market, err := s.engine.Market(symbol)
	if err != nil || market == nil {
		return
	}
	supply, _ := new(big.Float).SetInt(market.TotalSupply).Float64()
	borrow, _ := new(big.Float).SetInt(market.TotalBorrow).Float64()
	s.metrics.SetMarketTotals(market.Symbol, supply, borrow)
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	s.runOperation(w, r, "deposit", func(req operationRequest, amount *big.Int) error {
		account, err := parseAddress(req.Account)
		if err != nil {
			return err
		}
		return s.engine.Deposit(account, req.Symbol, amount)
	})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	s.runOperation(w, r, "withdraw", func(req operationRequest, amount *big.Int) error {
		account, err := parseAddress(req.Account)
		if err != nil {
			return err
		}
		return s.engine.Withdraw(account, req.Symbol, amount)
	})
}

func (s *Server) handleBorrow(w http.ResponseWriter, r *http.Request) {
	s.runOperation(w, r, "borrow", func(req operationRequest, amount *big.Int) error {
		account, err := parseAddress(req.Account)
		if err != nil {
			return err
		}
		return s.engine.Borrow(account, req.Symbol, amount)
	})
}

func (s *Server) handleRepay(w http.ResponseWriter, r *http.Request) {
	s.runOperation(w, r, "repay", func(req operationRequest, amount *big.Int) error {
		account, err := parseAddress(req.Account)
		if err != nil {
			return err
		}
		return s.engine.Repay(account, req.Symbol, amount)
	})
}

type liquidateRequest struct {
	Liquidator string `json:"liquidator"`
	Account    string `json:"account"`
	Symbol     string `json:"symbol"`
	Amount     string `json:"amount"`
}

func (s *Server) handleLiquidate(w http.ResponseWriter, r *http.Request) {
	var req liquidateRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	liquidator, err := parseAddress(req.Liquidator)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	account, err := parseAddress(req.Account)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	seized, err := s.engine.Liquidate(liquidator, account, req.Symbol, amount)
	if err != nil {
		s.metrics.ObserveFailure("liquidate")
		writeError(w, statusForError(err), err)
		return
	}
	s.metrics.ObserveOperation("liquidate")
	s.metrics.ObserveLiquidation()
	s.publishMarketTotals(req.Symbol)
	writeJSON(w, http.StatusOK, map[string]string{
		"status":       "ok",
		"seizedAmount": seized.String(),
	})
}

type authorizedDepositRequest struct {
	Account   string `json:"account"`
	Symbol    string `json:"symbol"`
	Amount    string `json:"amount"`
	Nonce     uint64 `json:"nonce"`
	Deadline  int64  `json:"deadline"`
	Signature string `json:"signature"`
}

func (s *Server) handleDepositWithAuthorization(w http.ResponseWriter, r *http.Request) {
	var req authorizedDepositRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	account, err := parseAddress(req.Account)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	signature, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(req.Signature), "0x"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	auth := ledger.DepositAuthorization{
		Nonce:     req.Nonce,
		Deadline:  req.Deadline,
		Signature: signature,
	}
	if err := s.engine.DepositWithAuthorization(account, req.Symbol, amount, auth); err != nil {
		s.metrics.ObserveFailure("depositWithAuthorization")
		writeError(w, statusForError(err), err)
		return
	}
	s.metrics.ObserveOperation("depositWithAuthorization")
	s.publishMarketTotals(req.Symbol)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type checkRequest struct {
	Account string `json:"account"`
	Op      string `json:"op"`
	Symbol  string `json:"symbol"`
	Amount  string `json:"amount"`
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	account, err := parseAddress(req.Account)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var allowed bool
	switch strings.ToLower(strings.TrimSpace(req.Op)) {
	case "withdraw":
		allowed, err = s.engine.CanWithdraw(account, req.Symbol, amount)
	case "borrow":
		allowed, err = s.engine.CanBorrow(account, req.Symbol, amount)
	default:
		writeError(w, http.StatusBadRequest, errors.New("op must be withdraw or borrow"))
		return
	}
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"allowed": allowed})
}

func (s *Server) handleListMarkets(w http.ResponseWriter, r *http.Request) {
	assets, err := s.engine.SupportedAssets()
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	markets := make([]marketPayload, 0, len(assets))
	for _, symbol := range assets {
		market, err := s.engine.Market(symbol)
		if err != nil {
			writeError(w, statusForError(err), err)
			return
		}
		if market == nil {
			continue
		}
		markets = append(markets, marketToPayload(market))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"markets": markets})
}

func (s *Server) handleGetMarket(w http.ResponseWriter, r *http.Request) {
	market, err := s.engine.Market(chi.URLParam(r, "symbol"))
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	if market == nil {
		writeError(w, http.StatusNotFound, errors.New("market not found"))
		return
	}
	writeJSON(w, http.StatusOK, marketToPayload(market))
}

func (s *Server) handleGetPosition(w http.ResponseWriter, r *http.Request) {
	account, err := parseAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	position, err := s.engine.Position(account)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"address":        account.String(),
		"totalDeposited": position.TotalDeposited.String(),
		"totalBorrowed":  position.TotalBorrowed.String(),
		"lastUpdate":     position.LastUpdate,
		"active":         position.Active,
	})
}

func (s *Server) handleGetRatio(w http.ResponseWriter, r *http.Request) {
	account, err := parseAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	ratio, err := s.engine.CollateralizationRatio(account)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	liquidatable, err := s.engine.IsLiquidatable(account)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	infinite := ratio.Cmp(ledger.MaxRatio) == 0
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ratio":        ratio.String(),
		"infinite":     infinite,
		"liquidatable": liquidatable,
	})
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	account, err := parseAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	balance, err := s.engine.Balance(account, chi.URLParam(r, "symbol"))
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"symbol":    balance.Symbol,
		"deposited": balance.Deposited.String(),
		"borrowed":  balance.Borrowed.String(),
	})
}

func (s *Server) handleGetNonce(w http.ResponseWriter, r *http.Request) {
	account, err := parseAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	nonce, err := s.engine.Nonce(account)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"nonce": nonce})
}

func (s *Server) handleTokenBalance(w http.ResponseWriter, r *http.Request) {
	account, err := parseAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	balance, err := s.tokens.BalanceOf(account, strings.ToUpper(chi.URLParam(r, "symbol")))
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"balance": balance.String()})
}
