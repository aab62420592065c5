// Package rpc exposes the account engine over HTTP: a JSON API for
// mutations and queries under /v1/accounts, a health probe, and a
// WebSocket feed that streams operation events to subscribers.
//
// Responses use a fixed envelope. Success:
//
//	{"status":"success","result":{...}}
//
// Error:
//
//	{"status":"error","error":"<code>","error_message":"<detail>"}
//
// A failed transfer whose debit leg already persisted carries the partial
// result next to the error so callers can audit what landed.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/contalabs/bankd/internal/core/account"
	"github.com/contalabs/bankd/internal/core/rates"
	"github.com/contalabs/bankd/internal/core/vault"
)

const maxBodyBytes = 1 << 20

// Config carries the listener settings.
type Config struct {
	// ListenAddress is the host:port the HTTP server binds to.
	ListenAddress string

	// NodeName is reported by the health endpoint.
	NodeName string
}

// DefaultConfig returns the local-only development listener.
func DefaultConfig() *Config {
	return &Config{
		ListenAddress: "127.0.0.1:8090",
		NodeName:      "bankd",
	}
}

// Server is the HTTP edge over a vault. It owns the listener and the
// WebSocket hub wired into it.
type Server struct {
	cfg   *Config
	vault *vault.Vault
	hub   *Hub
	log   *zap.Logger

	httpServer *http.Server
	listener   net.Listener
}

// NewServer builds the edge. The hub may be nil when no feed is wanted;
// the /ws route then answers 404.
func NewServer(cfg *Config, v *vault.Vault, hub *Hub, log *zap.Logger) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		cfg:   cfg,
		vault: v,
		hub:   hub,
		log:   log,
	}
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the full route table. It is exported so tests can mount
// it on httptest servers without opening a real listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/accounts/{id}/deposit", s.handleDeposit)
	mux.HandleFunc("POST /v1/accounts/{id}/withdraw", s.handleWithdraw)
	mux.HandleFunc("POST /v1/accounts/{id}/card", s.handleCard)
	mux.HandleFunc("POST /v1/accounts/{id}/transfer", s.handleTransfer)
	mux.HandleFunc("POST /v1/accounts/{id}/refund", s.handleRefund)
	mux.HandleFunc("POST /v1/accounts/{id}/exchange", s.handleExchange)

	mux.HandleFunc("GET /v1/accounts/{id}/balance", s.handleBalance)
	mux.HandleFunc("GET /v1/accounts/{id}/balances", s.handleBalances)
	mux.HandleFunc("GET /v1/accounts/{id}/operations/{opID}", s.handleOperation)
	mux.HandleFunc("GET /v1/accounts/{id}/operations", s.handleOperations)

	mux.HandleFunc("GET /health", s.handleHealth)
	if s.hub != nil {
		mux.HandleFunc("GET /ws", s.hub.ServeWS)
	}

	return s.withCORS(s.withLogging(mux))
}

// Start binds the listener and serves in the background. The bind error
// is returned synchronously so a taken port fails startup instead of
// surfacing later in a goroutine.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddress)
	if err != nil {
		return err
	}
	s.listener = ln
	s.log.Info("http server listening", zap.String("address", ln.Addr().String()))

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http server failed", zap.Error(err))
		}
	}()
	return nil
}

// Addr reports the bound address, useful when ListenAddress used port 0.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.cfg.ListenAddress
	}
	return s.listener.Addr().String()
}

// Stop closes the WebSocket feed and shuts the HTTP server down, waiting
// for in-flight requests up to the context deadline. Hijacked WebSocket
// connections are not tracked by http.Server, so the hub goes first.
func (s *Server) Stop(ctx context.Context) error {
	if s.hub != nil {
		s.hub.Close()
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the status code for the access log.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		// The WebSocket route hijacks the connection; logging its
		// lifetime here would just record the dial.
		if r.URL.Path == "/ws" {
			return
		}
		s.log.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("client", clientIP(r)),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]any{
		"status":          "ok",
		"service":         s.cfg.NodeName,
		"active_accounts": s.vault.ActiveAccounts(),
	})
}

// envelope is the fixed response frame of the JSON API.
type envelope struct {
	Status  string `json:"status"`
	Result  any    `json:"result,omitempty"`
	ErrCode string `json:"error,omitempty"`
	ErrMsg  string `json:"error_message,omitempty"`
}

func writeResult(w http.ResponseWriter, result any) {
	writeJSON(w, http.StatusOK, envelope{Status: "success", Result: result})
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, envelope{Status: "error", ErrCode: code, ErrMsg: message})
}

// writeErrorResult reports a failure that still left persisted state
// behind, attaching that state to the error frame.
func writeErrorResult(w http.ResponseWriter, status int, code, message string, result any) {
	writeJSON(w, status, envelope{Status: "error", ErrCode: code, ErrMsg: message, Result: result})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// vaultErrorParts maps engine errors onto an HTTP status and envelope
// code. Precondition failures are client errors; a stopped engine is
// unavailability; anything else (storage, encoding) stays internal.
func vaultErrorParts(err error) (int, string) {
	switch {
	case errors.Is(err, account.ErrOperationNotFound):
		return http.StatusNotFound, "notFound"
	case errors.Is(err, account.ErrNotRefundable):
		return http.StatusBadRequest, "notRefundable"
	case errors.Is(err, account.ErrInvalidAmount),
		errors.Is(err, account.ErrNoRecipients),
		errors.Is(err, account.ErrInvalidPercentage):
		return http.StatusBadRequest, "invalidRequest"
	case errors.Is(err, rates.ErrUnknownCurrency):
		return http.StatusBadRequest, "unknownCurrency"
	case errors.Is(err, vault.ErrShutdown), errors.Is(err, vault.ErrStopped):
		return http.StatusServiceUnavailable, "unavailable"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func writeVaultError(w http.ResponseWriter, err error) {
	status, code := vaultErrorParts(err)
	writeError(w, status, code, err.Error())
}

// accountID parses the {id} path segment. Accounts are keyed by positive
// integers; anything else is a client error, not a lookup miss.
func accountID(r *http.Request) (int64, error) {
	raw := r.PathValue("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("account id must be a positive integer")
	}
	return id, nil
}

// clientIP resolves the caller address, preferring proxy headers.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	ip := r.RemoteAddr
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}
	return ip
}
