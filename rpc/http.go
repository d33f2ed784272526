package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"safedeal/core"
	"safedeal/observability"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
	txSeenTTL       = 15 * time.Minute
)

const (
	codeParseError      = -32700
	codeInvalidRequest  = -32600
	codeMethodNotFound  = -32601
	codeInvalidParams   = -32602
	codeServerError     = -32000
	codeUnauthorized    = -32001
	codeForbidden       = -32003
	codeNotFound        = -32004
	codeConflict        = -32009
	codeDuplicateTx     = -32010
	codeRateLimited     = -32020
	codeExecutionFailed = -32030
)

const (
	defaultReadHeaderTimeout = 5 * time.Second
	defaultReadTimeout       = 15 * time.Second
	defaultWriteTimeout      = 15 * time.Second
	defaultIdleTimeout       = 60 * time.Second
)

// ServerConfig tunes the JSON-RPC server.
type ServerConfig struct {
	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration

	// CallsPerSecond and CallBurst bound safedeal_sendCall per client.
	CallsPerSecond float64
	CallBurst      int

	// TrustProxyHeaders honours X-Forwarded-For from any peer. TrustedProxies
	// limits that to the listed peer addresses.
	TrustProxyHeaders bool
	TrustedProxies    []string

	// DevMethods enables dev_faucet and dev_advancePeriods. They additionally
	// require a bearer JWT signed with JWTSecret.
	DevMethods bool
	JWTSecret  string
	JWTIssuer  string
}

// Server exposes a node over JSON-RPC 2.0.
type Server struct {
	node   *core.Node
	cfg    ServerConfig
	logger *slog.Logger

	limiter *callLimiter
	admin   *adminAuth

	mu     sync.Mutex
	txSeen map[string]time.Time

	trustedProxies map[string]struct{}

	serverMu   sync.Mutex
	httpServer *http.Server
}

// NewServer builds a server over node. A nil logger falls back to slog.Default.
func NewServer(node *core.Node, cfg ServerConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	trusted := make(map[string]struct{}, len(cfg.TrustedProxies))
	for _, proxy := range cfg.TrustedProxies {
		if trimmed := strings.TrimSpace(proxy); trimmed != "" {
			trusted[trimmed] = struct{}{}
		}
	}
	return &Server{
		node:           node,
		cfg:            cfg,
		logger:         logger.With(slog.String("component", "rpc")),
		limiter:        newCallLimiter(cfg.CallsPerSecond, cfg.CallBurst),
		admin:          newAdminAuth(cfg.JWTSecret, cfg.JWTIssuer),
		txSeen:         make(map[string]time.Time),
		trustedProxies: trusted,
	}
}

// Handler returns the HTTP routes served by the node.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/", otelhttp.NewHandler(http.HandlerFunc(s.handle), "safedeal.rpc"))
	mux.Handle("/healthz", otelhttp.NewHandler(http.HandlerFunc(s.handleHealth), "safedeal.health"))
	mux.HandleFunc("/ws/events", s.handleEventsWS)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// Serve accepts connections on listener until Shutdown is called.
func (s *Server) Serve(listener net.Listener) error {
	if listener == nil {
		return fmt.Errorf("rpc: listener required")
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: orDuration(s.cfg.ReadHeaderTimeout, defaultReadHeaderTimeout),
		ReadTimeout:       orDuration(s.cfg.ReadTimeout, defaultReadTimeout),
		WriteTimeout:      orDuration(s.cfg.WriteTimeout, defaultWriteTimeout),
		IdleTimeout:       orDuration(s.cfg.IdleTimeout, defaultIdleTimeout),
		ErrorLog:          slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}
	s.serverMu.Lock()
	s.httpServer = srv
	s.serverMu.Unlock()
	s.logger.Info("json-rpc server listening", slog.String("address", listener.Addr().String()))
	return srv.Serve(listener)
}

// Shutdown gracefully stops a running server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.serverMu.Lock()
	srv := s.httpServer
	s.serverMu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func orDuration(v, fallback time.Duration) time.Duration {
	if v <= 0 {
		return fallback
	}
	return v
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

// statusRecorder remembers the status written so it can be reported to metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	method := "unknown"
	defer func() {
		observability.ModuleMetrics().Observe("rpc", method, rec.status, time.Since(start))
	}()

	if r.Method != http.MethodPost {
		rec.Header().Set("Allow", http.MethodPost)
		writeError(rec, http.StatusMethodNotAllowed, nil, codeInvalidRequest, "method not allowed", r.Method)
		return
	}

	reader := http.MaxBytesReader(rec, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	rec.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(rec, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(rec, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(rec, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(rec, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(rec, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}
	if s.node == nil {
		writeError(rec, http.StatusServiceUnavailable, req.ID, codeServerError, "node unavailable", nil)
		return
	}

	handler, ok := s.methods()[req.Method]
	if !ok {
		writeError(rec, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("unknown method %s", req.Method), nil)
		return
	}
	method = req.Method
	if strings.HasPrefix(req.Method, "dev_") {
		if authErr := s.requireAdmin(r); authErr != nil {
			writeError(rec, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
	}
	handler(rec, r, req)
}

type methodHandler func(w http.ResponseWriter, r *http.Request, req *RPCRequest)

func (s *Server) methods() map[string]methodHandler {
	return map[string]methodHandler{
		"safedeal_sendCall":             s.handleSendCall,
		"safedeal_getDeal":              s.handleGetDeal,
		"safedeal_getDealsByClient":     s.handleGetDealsByClient,
		"safedeal_getDealsByFreelancer": s.handleGetDealsByFreelancer,
		"safedeal_getNextDealId":        s.handleGetNextDealID,
		"sc_read":                       s.handleRead,
		"chain_status":                  s.handleChainStatus,
		"account_getBalance":            s.handleGetBalance,
		"token_balanceOf":               s.handleTokenBalanceOf,
		"token_allowance":               s.handleTokenAllowance,
		"tx_getReceipt":                 s.handleGetReceipt,
		"deferred_get":                  s.handleDeferredGet,
		"deferred_quote":                s.handleDeferredQuote,
		"events_since":                  s.handleEventsSince,
		"dev_faucet":                    s.handleDevFaucet,
		"dev_advancePeriods":            s.handleDevAdvancePeriods,
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if s.node == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "unavailable"})
		return
	}
	slot := s.node.CurrentSlot()
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "ok",
		"network": s.node.Network(),
		"slot":    slot,
	})
}

func (s *Server) requireAdmin(r *http.Request) *RPCError {
	if !s.cfg.DevMethods {
		return &RPCError{Code: codeUnauthorized, Message: "dev methods disabled on this node"}
	}
	return s.admin.authorize(r)
}

func (s *Server) rememberTx(hash string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for h, seenAt := range s.txSeen {
		if now.Sub(seenAt) > txSeenTTL {
			delete(s.txSeen, h)
		}
	}
	if _, exists := s.txSeen[hash]; exists {
		return false
	}
	s.txSeen[hash] = now
	return true
}

func (s *Server) forgetTx(hash string) {
	s.mu.Lock()
	delete(s.txSeen, hash)
	s.mu.Unlock()
}

func (s *Server) clientSource(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if !s.trustForwarded(host) {
		return host
	}
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			candidate := strings.TrimSpace(parts[0])
			if candidate != "" {
				return candidate
			}
		}
	}
	return host
}

func (s *Server) trustForwarded(peer string) bool {
	if s.cfg.TrustProxyHeaders {
		return true
	}
	_, ok := s.trustedProxies[peer]
	return ok
}
