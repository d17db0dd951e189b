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
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"cvnchain/core/events"
	"cvnchain/native/governance"
	"cvnchain/observability"
)

const (
	jsonRPCVersion         = "2.0"
	defaultMaxRequestBytes = 1 << 20 // 1 MiB
	requestIDHeader        = "X-Request-ID"
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
	codeRejected       = -32010
	codeBlocked        = -32011
	codeSubmitFailed   = -32012
	codeRateLimited    = -32020
)

// Engine is the governance entry point used by the mutating methods.
type Engine interface {
	Propose(ctx context.Context, p governance.Proposal) (*governance.Message, error)
	Submit(ctx context.Context, msg *governance.Message, tokens []string) (governance.Outcome, error)
}

// Registry exposes the membership queries served by the read methods.
type Registry interface {
	Validators() []governance.Validator
	Admins() []governance.ChainAdmin
	Params() governance.DynamicChainParams
	AdminPubKey(id uint32) ([]byte, bool)
}

// Chain reports the local tip and sync state.
type Chain interface {
	Tip() (uint32, governance.Hash)
	IsCatchingUp() bool
}

// GovernanceLog lists the applied governance messages, oldest first.
type GovernanceLog interface {
	GovernanceLog() ([]*governance.Message, error)
}

// EventSource returns recently emitted events.
type EventSource interface {
	Events() []events.Event
}

// Backend groups the collaborators the server dispatches to. Log and Events
// are optional.
type Backend struct {
	Engine   Engine
	Registry Registry
	Chain    Chain
	Log      GovernanceLog
	Events   EventSource
}

// ServerConfig carries the listener policy resolved from node configuration.
type ServerConfig struct {
	AuthToken          string
	JWTSecret          string
	JWTIssuer          string
	RateLimitPerSecond float64
	RateLimitBurst     int
	MaxRequestBytes    int64
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	// TrustedProxies lists the peer addresses whose X-Forwarded-For header
	// names the client. Requests from any other peer are keyed on RemoteAddr.
	TrustedProxies []string
}

type Server struct {
	backend Backend
	cfg     ServerConfig
	proxies map[string]struct{}
	auth    *authenticator
	limiter *clientLimiter
	logger  *slog.Logger
	metrics *observability.GovernanceMetrics
}

func NewServer(backend Backend, cfg ServerConfig) (*Server, error) {
	if backend.Engine == nil || backend.Registry == nil || backend.Chain == nil {
		return nil, fmt.Errorf("rpc: engine, registry and chain are required")
	}
	if cfg.MaxRequestBytes <= 0 {
		cfg.MaxRequestBytes = defaultMaxRequestBytes
	}
	proxies := make(map[string]struct{}, len(cfg.TrustedProxies))
	for _, addr := range cfg.TrustedProxies {
		if trimmed := strings.TrimSpace(addr); trimmed != "" {
			proxies[trimmed] = struct{}{}
		}
	}
	return &Server{
		backend: backend,
		cfg:     cfg,
		proxies: proxies,
		auth:    newAuthenticator(cfg.AuthToken, cfg.JWTSecret, cfg.JWTIssuer),
		limiter: newClientLimiter(cfg.RateLimitPerSecond, cfg.RateLimitBurst),
		logger:  slog.Default().With(slog.String("component", "rpc")),
	}, nil
}

// SetLogger overrides the structured logger. Nil restores slog.Default.
func (s *Server) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	s.logger = logger.With(slog.String("component", "rpc"))
}

// SetMetrics enables per-method request metrics.
func (s *Server) SetMetrics(m *observability.GovernanceMetrics) { s.metrics = m }

// Handler builds the HTTP routes: JSON-RPC on POST /, Prometheus metrics and
// a liveness probe.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Post("/", s.handle)
	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	return otelhttp.NewHandler(r, "cvn.rpc")
}

// Start serves until ctx is cancelled and then drains in-flight requests.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      s.cfg.WriteTimeout,
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("rpc: listen %s: %w", addr, err)
	}
	s.logger.Info("json-rpc server listening", slog.String("address", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("rpc: shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
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

func (e *RPCError) Error() string { return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message) }

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

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	height, tip := s.backend.Chain.Tip()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":     "ok",
		"height":     height,
		"tip":        tip.Hex(),
		"catchingUp": s.backend.Chain.IsCatchingUp(),
	})
}

type methodHandler func(r *http.Request, req *RPCRequest) (interface{}, *RPCError)

type method struct {
	handler  methodHandler
	mutating bool
}

func (s *Server) methods() map[string]method {
	add := method{handler: s.handleCvnAdd, mutating: true}
	remove := method{handler: s.handleCvnRemove, mutating: true}
	sign := method{handler: s.handleSignChainData, mutating: true}
	info := method{handler: s.handleGetInfo}
	return map[string]method{
		"cvn_add":              add,
		"addcvn":               add,
		"cvn_remove":           remove,
		"removecvn":            remove,
		"cvn_setParams":        {handler: s.handleSetParams, mutating: true},
		"cvn_signChainData":    sign,
		"signchaindata":        sign,
		"cvn_getInfo":          info,
		"getcvninfo":           info,
		"cvn_listValidators":   {handler: s.handleListValidators},
		"cvn_listAdmins":       {handler: s.handleListAdmins},
		"cvn_getDynamicParams": {handler: s.handleGetDynamicParams},
		"cvn_getGovernanceLog": {handler: s.handleGetGovernanceLog},
		"cvn_recentEvents":     {handler: s.handleRecentEvents},
	}
}

// handle is the main request handler that routes to specific handlers.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, s.cfg.MaxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

	if !s.limiter.allow(s.clientSource(r)) {
		writeError(w, http.StatusTooManyRequests, nil, codeRateLimited, "rate limit exceeded", nil)
		return
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", s.cfg.MaxRequestBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}

	m, ok := s.methods()[req.Method]
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("unknown method %s", req.Method), nil)
		return
	}
	log := s.logger.With(
		slog.String("method", req.Method),
		slog.String("requestId", w.Header().Get(requestIDHeader)))

	started := time.Now()
	if m.mutating {
		if authErr := s.auth.authorize(r); authErr != nil {
			s.metrics.ObserveRPC(req.Method, true, time.Since(started))
			log.Warn("rpc call unauthorized", slog.String("error", authErr.Message))
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
	}
	result, rpcErr := m.handler(r, req)
	s.metrics.ObserveRPC(req.Method, rpcErr != nil, time.Since(started))
	if rpcErr != nil {
		log.Info("rpc call failed", slog.Int("code", rpcErr.Code), slog.String("error", rpcErr.Message))
		writeError(w, statusFor(rpcErr.Code), req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	log.Debug("rpc call served", slog.Duration("elapsed", time.Since(started)))
	writeResult(w, req.ID, result)
}

func statusFor(code int) int {
	switch code {
	case codeInvalidParams, codeInvalidRequest, codeParseError:
		return http.StatusBadRequest
	case codeRejected, codeSubmitFailed:
		return http.StatusConflict
	case codeBlocked:
		return http.StatusServiceUnavailable
	case codeUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) clientSource(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if _, trusted := s.proxies[host]; !trusted {
		return host
	}
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if candidate := strings.TrimSpace(parts[0]); candidate != "" {
			return candidate
		}
	}
	return host
}
