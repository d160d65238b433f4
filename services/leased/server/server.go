// Package server exposes the lease node over HTTP: customer lease
// operations, operator endpoints guarded by bearer tokens, prometheus
// metrics and a websocket stream of committed events.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"nhblease/config"
	"nhblease/crypto"
	"nhblease/finance"
	"nhblease/gateway/middleware"
	"nhblease/native/common"
	"nhblease/native/dex"
	"nhblease/native/lease"
	"nhblease/runtime"
	"nhblease/services/leased/journal"
	"nhblease/services/leased/node"
)

const (
	maxBodyBytes      = 1 << 20
	defaultEventLimit = 100
	relayRounds       = 8
)

// Node is the lease node the handlers drive.
type Node interface {
	OpenLease(ctx context.Context, customer crypto.Address, currency string, downpayment finance.Coin) (crypto.Address, string, runtime.Result, error)
	Repay(ctx context.Context, addr, sender crypto.Address, payment finance.Coin) (runtime.Result, error)
	Close(ctx context.Context, addr, sender crypto.Address) (runtime.Result, error)
	State(ctx context.Context, addr crypto.Address) (lease.StateResponse, error)
	FeedPrices(ctx context.Context, prices []finance.Price) (runtime.Result, error)
	DispatchAlarms(ctx context.Context, max uint32) (runtime.Result, error)
	Tick(ctx context.Context) (node.TickReport, error)
	Faucet(addr crypto.Address, coins ...finance.Coin) error
	Balance(addr crypto.Address, ticker string) (finance.Coin, error)
	Host() *runtime.Host
}

type Server struct {
	cfg     *config.Config
	node    Node
	journal *journal.Journal
	broker  *Broker
	auth    *middleware.Authenticator
	limiter *middleware.RateLimiter
	logger  *slog.Logger
	now     func() time.Time
	handler http.Handler
}

func New(cfg *config.Config, n Node, j *journal.Journal, broker *Broker, logger *slog.Logger) (*Server, error) {
	if cfg == nil || n == nil || j == nil {
		return nil, fmt.Errorf("server: config, node and journal required")
	}
	if broker == nil {
		broker = NewBroker()
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:     cfg,
		node:    n,
		journal: j,
		broker:  broker,
		auth:    middleware.NewAuthenticator(cfg.Auth, logger),
		limiter: middleware.NewRateLimiter(cfg.RateLimit),
		logger:  logger,
		now:     time.Now,
	}
	s.handler = otelhttp.NewHandler(s.routes(), "leased.api")
	return s, nil
}

func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(v1 chi.Router) {
		v1.Group(func(pub chi.Router) {
			pub.Use(middleware.Observe("leases", s.logger))
			pub.Use(s.limiter.Middleware("leases"))
			pub.Post("/leases", s.handleOpenLease)
			pub.Get("/leases", s.handleListLeases)
			pub.Get("/leases/{addr}", s.handleLeaseState)
			pub.Post("/leases/{addr}/repay", s.handleRepay)
			pub.Post("/leases/{addr}/close", s.handleClose)
			pub.Get("/leases/{addr}/events", s.handleLeaseEvents)
			pub.Get("/balances/{addr}/{ticker}", s.handleBalance)
			pub.Get("/events/ws", s.handleEventStream)
		})
		v1.Route("/admin", func(admin chi.Router) {
			admin.Use(middleware.Observe("admin", s.logger))
			admin.With(s.auth.Middleware(middleware.ScopeOracle)).Post("/prices", s.handleFeedPrices)
			admin.With(s.auth.Middleware(middleware.ScopeKeeper)).Post("/alarms/dispatch", s.handleDispatchAlarms)
			admin.With(s.auth.Middleware(middleware.ScopeKeeper)).Post("/tick", s.handleTick)
			admin.With(s.auth.Middleware(middleware.ScopeAdmin)).Post("/relay", s.handleRelay)
			admin.With(s.auth.Middleware(middleware.ScopeAdmin)).Post("/faucet", s.handleFaucet)
			admin.With(s.auth.Middleware(middleware.ScopeAdmin)).Post("/export", s.handleExport)
		})
	})
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.ListenAddress,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	s.logger.Info("http server listening", "component", "api", "addr", s.cfg.ListenAddress)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen and serve: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"height_time": s.node.Host().Now().Time(),
		"subscribers": s.broker.Subscribers(),
	})
}

type openLeaseRequest struct {
	Customer    crypto.Address `json:"customer"`
	Currency    string         `json:"currency"`
	Downpayment finance.Coin   `json:"downpayment"`
}

type eventView struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

type txResponse struct {
	Lease  string      `json:"lease,omitempty"`
	Label  string      `json:"label,omitempty"`
	Events []eventView `json:"events"`
}

func newTxResponse(res runtime.Result) txResponse {
	out := txResponse{Events: make([]eventView, 0, len(res.Events))}
	for _, e := range res.Events {
		out.Events = append(out.Events, eventView{Type: e.Type, Attributes: e.Attributes})
	}
	return out
}

func (s *Server) handleOpenLease(w http.ResponseWriter, r *http.Request) {
	var req openLeaseRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Customer.IsZero() || req.Currency == "" {
		writeError(w, http.StatusBadRequest, "customer and currency are required")
		return
	}
	addr, label, res, err := s.node.OpenLease(r.Context(), req.Customer, req.Currency, req.Downpayment)
	if err != nil {
		s.writeNodeError(w, err)
		return
	}
	if err := s.journal.RecordLease(r.Context(), journal.LeaseRecord{
		Label:    label,
		Address:  addr.String(),
		Customer: req.Customer.String(),
		Currency: req.Currency,
	}); err != nil {
		s.logger.Error("record lease", "component", "api", "lease", addr.String(), "error", err)
	}
	out := newTxResponse(res)
	out.Lease = addr.String()
	out.Label = label
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) handleListLeases(w http.ResponseWriter, r *http.Request) {
	leases, err := s.journal.Leases(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, leases)
}

func (s *Server) handleLeaseState(w http.ResponseWriter, r *http.Request) {
	addr, ok := leaseParam(w, r)
	if !ok {
		return
	}
	state, err := s.node.State(r.Context(), addr)
	if err != nil {
		s.writeNodeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

type repayRequest struct {
	Sender  crypto.Address `json:"sender"`
	Payment finance.Coin   `json:"payment"`
}

func (s *Server) handleRepay(w http.ResponseWriter, r *http.Request) {
	addr, ok := leaseParam(w, r)
	if !ok {
		return
	}
	var req repayRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := s.node.Repay(r.Context(), addr, req.Sender, req.Payment)
	if err != nil {
		s.writeNodeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newTxResponse(res))
}

type closeRequest struct {
	Sender crypto.Address `json:"sender"`
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	addr, ok := leaseParam(w, r)
	if !ok {
		return
	}
	var req closeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := s.node.Close(r.Context(), addr, req.Sender)
	if err != nil {
		s.writeNodeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newTxResponse(res))
}

func (s *Server) handleLeaseEvents(w http.ResponseWriter, r *http.Request) {
	addr, ok := leaseParam(w, r)
	if !ok {
		return
	}
	limit := defaultEventLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}
	records, err := s.journal.Events(r.Context(), addr.String(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	addr, err := crypto.DecodeAddress(chi.URLParam(r, "addr"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	coin, err := s.node.Balance(addr, chi.URLParam(r, "ticker"))
	if err != nil {
		s.writeNodeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, coin)
}

type feedPricesRequest struct {
	Prices []finance.Price `json:"prices"`
}

func (s *Server) handleFeedPrices(w http.ResponseWriter, r *http.Request) {
	var req feedPricesRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Prices) == 0 {
		writeError(w, http.StatusBadRequest, "no prices")
		return
	}
	res, err := s.node.FeedPrices(r.Context(), req.Prices)
	if err != nil {
		s.writeNodeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newTxResponse(res))
}

type dispatchRequest struct {
	MaxCount uint32 `json:"max_count"`
}

func (s *Server) handleDispatchAlarms(w http.ResponseWriter, r *http.Request) {
	req := dispatchRequest{MaxCount: s.cfg.Keeper.MaxAlarms}
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}
	res, err := s.node.DispatchAlarms(r.Context(), req.MaxCount)
	if err != nil {
		s.writeNodeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newTxResponse(res))
}

func (s *Server) handleTick(w http.ResponseWriter, r *http.Request) {
	report, err := s.node.Tick(r.Context())
	if err != nil {
		s.writeNodeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"advanced": report.Advanced,
		"alarms":   report.Alarms,
		"relayed":  report.Relayed,
	})
}

type relayRequest struct {
	Max int `json:"max"`
}

func (s *Server) handleRelay(w http.ResponseWriter, r *http.Request) {
	var req relayRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}
	var (
		n   int
		err error
	)
	if req.Max > 0 {
		n, err = s.node.Host().Relay(r.Context(), req.Max)
	} else {
		n, err = s.node.Host().RelayRounds(r.Context(), relayRounds)
	}
	if err != nil {
		s.writeNodeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"relayed": n})
}

type faucetRequest struct {
	Address crypto.Address `json:"address"`
	Coins   []finance.Coin `json:"coins"`
}

func (s *Server) handleFaucet(w http.ResponseWriter, r *http.Request) {
	var req faucetRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Address.IsZero() || len(req.Coins) == 0 {
		writeError(w, http.StatusBadRequest, "address and coins are required")
		return
	}
	if err := s.node.Faucet(req.Address, req.Coins...); err != nil {
		s.writeNodeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	dir := s.cfg.Journal.ExportDir
	if dir == "" {
		dir = filepath.Join(s.cfg.DataDir, "exports")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	path := filepath.Join(dir, fmt.Sprintf("events-%s.parquet", s.now().UTC().Format("20060102T150405Z")))
	rows, err := s.journal.ExportParquet(r.Context(), path)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.logger.Info("journal exported", "component", "api", "path", path, "rows", rows)
	writeJSON(w, http.StatusOK, map[string]any{"path": path, "rows": rows})
}

func leaseParam(w http.ResponseWriter, r *http.Request) (crypto.Address, bool) {
	addr, err := crypto.DecodeAddress(chi.URLParam(r, "addr"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return crypto.Address{}, false
	}
	return addr, true
}

func (s *Server) writeNodeError(w http.ResponseWriter, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("node request failed", "component", "api", "error", err)
	}
	writeError(w, status, err.Error())
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, node.ErrUnknownLease):
		return http.StatusNotFound
	case errors.Is(err, lease.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, common.ErrModulePaused):
		return http.StatusServiceUnavailable
	case errors.Is(err, common.ErrQuotaLeasesExceeded),
		errors.Is(err, common.ErrQuotaDownpaymentExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, lease.ErrInvalidForm),
		errors.Is(err, lease.ErrInvalidPayment),
		errors.Is(err, dex.ErrUnsupported),
		errors.Is(err, node.ErrNoSwapLeg),
		errors.Is(err, runtime.ErrInsufficientFunds),
		errors.Is(err, finance.ErrUnknownCurrency),
		errors.Is(err, finance.ErrInvalidPrice):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
