package rpc

import (
	"encoding/hex"
	"encoding/json"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"safedeal/core/events"
	"safedeal/core/types"
	"safedeal/crypto"
	"safedeal/observability"
)

func (s *Server) handleSendCall(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "call parameter required", nil)
		return
	}
	var call types.Call
	if err := json.Unmarshal(req.Params[0], &call); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid call format", err.Error())
		return
	}
	if _, err := call.From(); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid call signature", err.Error())
		return
	}

	now := time.Now()
	source := s.clientSource(r)
	if !s.limiter.allow(source, now) {
		observability.ModuleMetrics().RecordThrottle("rpc", "call_rate")
		writeError(w, http.StatusTooManyRequests, req.ID, codeRateLimited, "call rate limit exceeded", source)
		return
	}

	hash, err := call.Hash32()
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "failed to hash call", err.Error())
		return
	}
	txHash := events.FormatHash(hash)
	if !s.rememberTx(txHash, now) {
		writeError(w, http.StatusConflict, req.ID, codeDuplicateTx, "call has already been submitted", txHash)
		return
	}

	receipt, err := s.node.SubmitCall(&call)
	if err != nil {
		s.forgetTx(txHash)
		status, code := classify(err)
		if code == codeServerError {
			status, code = http.StatusUnprocessableEntity, codeExecutionFailed
		}
		writeError(w, status, req.ID, code, "call rejected", err.Error())
		return
	}
	writeResult(w, req.ID, receipt)
}

func (s *Server) handleGetDeal(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "deal id required", nil)
		return
	}
	id, err := parseUintParam(req.Params[0])
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid deal id", err.Error())
		return
	}
	deal, err := s.node.GetDeal(id)
	if err != nil {
		writeNodeError(w, req.ID, "failed to load deal", err)
		return
	}
	writeResult(w, req.ID, dealResult(deal))
}

func (s *Server) handleGetDealsByClient(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.handleDealIndex(w, r, req, s.node.DealsByClient)
}

func (s *Server) handleGetDealsByFreelancer(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.handleDealIndex(w, r, req, s.node.DealsByFreelancer)
}

func (s *Server) handleDealIndex(w http.ResponseWriter, _ *http.Request, req *RPCRequest, lookup func([20]byte) ([]uint64, error)) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "address required", nil)
		return
	}
	addr, err := parseAddressParam(req.Params[0])
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid address", err.Error())
		return
	}
	ids, err := lookup(addr)
	if err != nil {
		writeNodeError(w, req.ID, "failed to load deals", err)
		return
	}
	if ids == nil {
		ids = []uint64{}
	}
	writeResult(w, req.ID, DealIDsResult{Address: crypto.FormatAccount(addr), DealIDs: ids})
}

func (s *Server) handleGetNextDealID(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	next, err := s.node.NextDealID()
	if err != nil {
		writeNodeError(w, req.ID, "failed to load next deal id", err)
		return
	}
	writeResult(w, req.ID, next)
}

type readParams struct {
	Caller   string        `json:"caller"`
	Target   string        `json:"target"`
	Function string        `json:"function"`
	Args     hexutil.Bytes `json:"args"`
}

func (s *Server) handleRead(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "parameter object required", nil)
		return
	}
	var params readParams
	if err := json.Unmarshal(req.Params[0], &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	if params.Function == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "function required", nil)
		return
	}
	target, err := resolveAddress(params.Target)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid target", err.Error())
		return
	}
	var caller [20]byte
	if params.Caller != "" {
		if caller, err = resolveAddress(params.Caller); err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller", err.Error())
			return
		}
	}
	result, err := s.node.Read(caller, target, params.Function, params.Args)
	if err != nil {
		writeNodeError(w, req.ID, "read failed", err)
		return
	}
	writeResult(w, req.ID, ReadResult{Result: "0x" + hex.EncodeToString(result)})
}
