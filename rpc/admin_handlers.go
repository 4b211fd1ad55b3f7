package rpc

import (
	"net/http"
	"strings"
)

type marketRequest struct {
	Symbol              string `json:"symbol"`
	CollateralFactorBps uint64 `json:"collateralFactorBps"`
	SupplyRateBps       uint64 `json:"supplyRateBps"`
	BorrowRateBps       uint64 `json:"borrowRateBps"`
}

func (s *Server) handleAddMarket(w http.ResponseWriter, r *http.Request) {
	var req marketRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.engine.AddMarket(s.owner, req.Symbol, req.CollateralFactorBps, req.SupplyRateBps, req.BorrowRateBps); err != nil {
		s.metrics.ObserveFailure("addMarket")
		writeError(w, statusForError(err), err)
		return
	}
	s.metrics.ObserveOperation("addMarket")
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleUpdateMarket(w http.ResponseWriter, r *http.Request) {
	var req marketRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.engine.UpdateMarket(s.owner, req.Symbol, req.CollateralFactorBps, req.SupplyRateBps, req.BorrowRateBps); err != nil {
		s.metrics.ObserveFailure("updateMarket")
		writeError(w, statusForError(err), err)
		return
	}
	s.metrics.ObserveOperation("updateMarket")
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type activateRequest struct {
	Symbol string `json:"symbol"`
	Active bool   `json:"active"`
}

func (s *Server) handleSetMarketActive(w http.ResponseWriter, r *http.Request) {
	var req activateRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.engine.SetMarketActive(s.owner, req.Symbol, req.Active); err != nil {
		s.metrics.ObserveFailure("setMarketActive")
		writeError(w, statusForError(err), err)
		return
	}
	s.metrics.ObserveOperation("setMarketActive")
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type pauseRequest struct {
	Module string `json:"module"`
	Paused bool   `json:"paused"`
}

func (s *Server) handleSetPaused(w http.ResponseWriter, r *http.Request) {
	var req pauseRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	module := strings.TrimSpace(req.Module)
	if module == "" {
		module = "ledger"
	}
	s.pauses.SetPaused(module, req.Paused)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"module": module,
		"paused": req.Paused,
	})
}

type recoverRequest struct {
	Symbol    string `json:"symbol"`
	Amount    string `json:"amount"`
	Recipient string `json:"recipient"`
}

func (s *Server) handleRecoverAssets(w http.ResponseWriter, r *http.Request) {
	var req recoverRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	recipient, err := parseAddress(req.Recipient)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.engine.RecoverAssets(s.owner, req.Symbol, amount, recipient); err != nil {
		s.metrics.ObserveFailure("recoverAssets")
		writeError(w, statusForError(err), err)
		return
	}
	s.metrics.ObserveOperation("recoverAssets")
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type mintRequest struct {
	Account string `json:"account"`
	Symbol  string `json:"symbol"`
	Amount  string `json:"amount"`
}

func (s *Server) handleMint(w http.ResponseWriter, r *http.Request) {
	var req mintRequest
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
	if err := s.tokens.Mint(account, strings.ToUpper(strings.TrimSpace(req.Symbol)), amount); err != nil {
		s.metrics.ObserveFailure("mint")
		writeError(w, statusForError(err), err)
		return
	}
	s.metrics.ObserveOperation("mint")
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
