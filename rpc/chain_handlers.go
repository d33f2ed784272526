package rpc

import (
	"encoding/json"
	"net/http"
	"strings"

	"safedeal/core/events"
	"safedeal/core/types"
	"safedeal/crypto"
)

const maxEventsPerQuery = 1000

func (s *Server) handleChainStatus(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	status, err := s.node.Status()
	if err != nil {
		writeNodeError(w, req.ID, "failed to load chain status", err)
		return
	}
	writeResult(w, req.ID, status)
}

func (s *Server) handleGetBalance(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "address required", nil)
		return
	}
	addr, err := parseAddressParam(req.Params[0])
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid address", err.Error())
		return
	}
	account, err := s.node.Account(addr)
	if err != nil {
		writeNodeError(w, req.ID, "failed to load account", err)
		return
	}
	result := BalanceResult{Address: crypto.FormatAccount(addr), Balance: "0", Nonce: account.Nonce}
	if account.Balance != nil {
		result.Balance = account.Balance.Dec()
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleTokenBalanceOf(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "address required", nil)
		return
	}
	addr, err := parseAddressParam(req.Params[0])
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid address", err.Error())
		return
	}
	balance, err := s.node.TokenBalance(addr)
	if err != nil {
		writeNodeError(w, req.ID, "failed to load token balance", err)
		return
	}
	meta := s.node.TokenMetadata()
	writeResult(w, req.ID, TokenBalanceResult{
		Address:  crypto.FormatAccount(addr),
		Balance:  balance.Dec(),
		Symbol:   meta.Symbol,
		Decimals: meta.Decimals,
	})
}

func (s *Server) handleTokenAllowance(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 2 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "owner and spender required", nil)
		return
	}
	owner, err := parseAddressParam(req.Params[0])
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid owner", err.Error())
		return
	}
	spender, err := parseAddressParam(req.Params[1])
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid spender", err.Error())
		return
	}
	allowance, err := s.node.TokenAllowance(owner, spender)
	if err != nil {
		writeNodeError(w, req.ID, "failed to load allowance", err)
		return
	}
	writeResult(w, req.ID, AllowanceResult{
		Owner:     crypto.FormatAccount(owner),
		Spender:   crypto.FormatAccount(spender),
		Allowance: allowance.Dec(),
	})
}

func (s *Server) handleGetReceipt(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	id, ok := stringParam(req)
	if !ok {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "transaction hash or deferred call id required", nil)
		return
	}
	receipt, err := s.node.Receipt(id)
	if err != nil {
		writeNodeError(w, req.ID, "failed to load receipt", err)
		return
	}
	writeResult(w, req.ID, receipt)
}

func (s *Server) handleDeferredGet(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	id, ok := stringParam(req)
	if !ok {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "deferred call id required", nil)
		return
	}
	call, err := s.node.DeferredCall(id)
	if err != nil {
		writeNodeError(w, req.ID, "failed to load deferred call", err)
		return
	}
	writeResult(w, req.ID, deferredCallResult(call))
}

type quoteParams struct {
	Period     uint64 `json:"period"`
	Thread     uint8  `json:"thread"`
	MaxGas     uint64 `json:"maxGas"`
	ParamsSize uint64 `json:"paramsSize"`
}

func (s *Server) handleDeferredQuote(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "parameter object required", nil)
		return
	}
	var params quoteParams
	if err := json.Unmarshal(req.Params[0], &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	slot := types.Slot{Period: params.Period, Thread: params.Thread}
	fee, err := s.node.Quote(slot, params.MaxGas, params.ParamsSize)
	if err != nil {
		writeNodeError(w, req.ID, "quote failed", err)
		return
	}
	writeResult(w, req.ID, QuoteResult{Slot: slot, Fee: fee})
}

type eventsSinceParams struct {
	After int64 `json:"after"`
	Limit int   `json:"limit"`
}

func (s *Server) handleEventsSince(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params eventsSinceParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params[0], &params); err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
			return
		}
	}
	if params.After < 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "after must not be negative", params.After)
		return
	}
	if params.Limit > maxEventsPerQuery {
		params.Limit = maxEventsPerQuery
	}
	records, err := s.node.EventsSince(params.After, params.Limit)
	if err != nil {
		writeNodeError(w, req.ID, "failed to load events", err)
		return
	}
	if records == nil {
		records = []events.Record{}
	}
	writeResult(w, req.ID, records)
}

type faucetParams struct {
	Address string `json:"address"`
	Coins   uint64 `json:"coins"`
	Tokens  uint64 `json:"tokens"`
}

func (s *Server) handleDevFaucet(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "parameter object required", nil)
		return
	}
	var params faucetParams
	if err := json.Unmarshal(req.Params[0], &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	addr, err := resolveAddress(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid address", err.Error())
		return
	}
	if params.Coins == 0 && params.Tokens == 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "coins or tokens required", nil)
		return
	}
	if err := s.node.Faucet(addr, params.Coins, params.Tokens); err != nil {
		writeNodeError(w, req.ID, "faucet failed", err)
		return
	}
	s.logger.Info("faucet funded account",
		"address", crypto.FormatAccount(addr),
		"coins", params.Coins,
		"tokens", params.Tokens)
	writeResult(w, req.ID, map[string]interface{}{
		"address": crypto.FormatAccount(addr),
		"coins":   params.Coins,
		"tokens":  params.Tokens,
	})
}

func (s *Server) handleDevAdvancePeriods(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "period count required", nil)
		return
	}
	periods, err := parseUintParam(req.Params[0])
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid period count", err.Error())
		return
	}
	slot, err := s.node.AdvancePeriods(periods)
	if err != nil {
		writeNodeError(w, req.ID, "advance failed", err)
		return
	}
	writeResult(w, req.ID, slot)
}

func stringParam(req *RPCRequest) (string, bool) {
	if len(req.Params) != 1 {
		return "", false
	}
	var value string
	if err := json.Unmarshal(req.Params[0], &value); err != nil {
		return "", false
	}
	value = strings.TrimSpace(value)
	return value, value != ""
}
