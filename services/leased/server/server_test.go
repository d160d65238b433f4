package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"nhblease/config"
	"nhblease/core/types"
	"nhblease/crypto"
	"nhblease/finance"
	"nhblease/gateway/middleware"
	"nhblease/native/common"
	"nhblease/native/lease"
	"nhblease/services/leased/journal"
	"nhblease/services/leased/node"
	"nhblease/storage"
)

var customer = crypto.NewAddress(crypto.AccountPrefix, []byte("customer-address-001"))

type testEnv struct {
	t      *testing.T
	cfg    *config.Config
	node   *node.Node
	server *Server
	broker *Broker
}

func newTestEnv(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.RateLimit = config.RateLimit{RequestsPerMinute: 6000, Burst: 1000}
	if mutate != nil {
		mutate(cfg)
	}
	j, err := journal.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })

	broker := NewBroker()
	clock := time.Unix(1_700_000_000, 0)
	n, err := node.New(context.Background(), cfg, storage.NewMemDB(),
		node.WithClock(func() time.Time { return clock }),
		node.WithCommitHook(func(height uint64, events []types.Event) {
			require.NoError(t, j.Append(context.Background(), height, events))
			broker.Publish(height, events)
		}))
	require.NoError(t, err)

	srv, err := New(cfg, n, j, broker, nil)
	require.NoError(t, err)
	return &testEnv{t: t, cfg: cfg, node: n, server: srv, broker: broker}
}

func (e *testEnv) do(method, path string, body any, token string) *httptest.ResponseRecorder {
	e.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(e.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(res, req)
	return res
}

func pricesBody(atom, usdc uint64) map[string]any {
	return map[string]any{"prices": []map[string]any{{
		"base":  map[string]string{"amount": fmt.Sprint(atom), "ticker": "ATOM"},
		"quote": map[string]string{"amount": fmt.Sprint(usdc), "ticker": "USDC"},
	}}}
}

// openLease funds the customer, opens a lease and runs the keeper until the
// position is bought.
func (e *testEnv) openLease() string {
	e.t.Helper()
	res := e.do(http.MethodPost, "/v1/admin/faucet", map[string]any{
		"address": customer.String(),
		"coins":   []map[string]string{{"amount": "10000000", "ticker": "USDC"}},
	}, "")
	require.Equal(e.t, http.StatusNoContent, res.Code, res.Body.String())
	res = e.do(http.MethodPost, "/v1/admin/prices", pricesBody(1, 2), "")
	require.Equal(e.t, http.StatusOK, res.Code, res.Body.String())

	res = e.do(http.MethodPost, "/v1/leases", map[string]any{
		"customer":    customer.String(),
		"currency":    "ATOM",
		"downpayment": map[string]string{"amount": "1000000", "ticker": "USDC"},
	}, "")
	require.Equal(e.t, http.StatusCreated, res.Code, res.Body.String())
	var out txResponse
	require.NoError(e.t, json.Unmarshal(res.Body.Bytes(), &out))
	require.NotEmpty(e.t, out.Lease)
	require.Equal(e.t, lease.EventRequestLoan, out.Events[0].Type)

	for i := 0; i < 3; i++ {
		res = e.do(http.MethodPost, "/v1/admin/tick", nil, "")
		require.Equal(e.t, http.StatusOK, res.Code, res.Body.String())
	}
	return out.Lease
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t, nil)
	res := env.do(http.MethodGet, "/healthz", nil, "")
	require.Equal(t, http.StatusOK, res.Code)
	require.Contains(t, res.Body.String(), `"status":"ok"`)

	res = env.do(http.MethodGet, "/metrics", nil, "")
	require.Equal(t, http.StatusOK, res.Code)
}

func TestLeaseLifecycleOverHTTP(t *testing.T) {
	env := newTestEnv(t, nil)
	addr := env.openLease()

	res := env.do(http.MethodGet, "/v1/leases/"+addr, nil, "")
	require.Equal(t, http.StatusOK, res.Code)
	var state lease.StateResponse
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &state))
	require.NotNil(t, state.Opened)

	res = env.do(http.MethodPost, "/v1/leases/"+addr+"/repay", map[string]any{
		"sender":  customer.String(),
		"payment": map[string]string{"amount": "3000000", "ticker": "USDC"},
	}, "")
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	require.Contains(t, res.Body.String(), lease.EventRepay)

	stranger := crypto.NewAddress(crypto.AccountPrefix, []byte("stranger-address-001"))
	res = env.do(http.MethodPost, "/v1/leases/"+addr+"/close", map[string]any{"sender": stranger.String()}, "")
	require.Equal(t, http.StatusForbidden, res.Code)

	res = env.do(http.MethodPost, "/v1/leases/"+addr+"/close", map[string]any{"sender": customer.String()}, "")
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	env.do(http.MethodPost, "/v1/admin/relay", nil, "")

	res = env.do(http.MethodGet, "/v1/leases/"+addr, nil, "")
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &state))
	require.NotNil(t, state.Closed)

	res = env.do(http.MethodGet, "/v1/leases/"+addr+"/events?limit=1", nil, "")
	require.Equal(t, http.StatusOK, res.Code)
	var records []journal.EventRecord
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &records))
	require.Len(t, records, 1)
	require.Equal(t, lease.EventClose, records[0].Type)

	res = env.do(http.MethodGet, "/v1/leases", nil, "")
	var leases []journal.LeaseRecord
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &leases))
	require.Len(t, leases, 1)
	require.Equal(t, addr, leases[0].Address)

	res = env.do(http.MethodGet, "/v1/balances/"+customer.String()+"/ATOM", nil, "")
	require.Equal(t, http.StatusOK, res.Code)
	var atom finance.Coin
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &atom))
	require.False(t, atom.Amount.IsZero())
}

func TestRequestErrors(t *testing.T) {
	env := newTestEnv(t, nil)
	unknown := crypto.NewAddress(crypto.AccountPrefix, []byte("unknown-lease-000001"))

	res := env.do(http.MethodGet, "/v1/leases/"+unknown.String(), nil, "")
	require.Equal(t, http.StatusNotFound, res.Code)

	res = env.do(http.MethodGet, "/v1/leases/not-an-address", nil, "")
	require.Equal(t, http.StatusBadRequest, res.Code)

	res = env.do(http.MethodPost, "/v1/leases", map[string]any{"customer": customer.String(), "bogus": 1}, "")
	require.Equal(t, http.StatusBadRequest, res.Code)

	res = env.do(http.MethodPost, "/v1/leases", map[string]any{
		"customer":    customer.String(),
		"currency":    "ATOM",
		"downpayment": map[string]string{"amount": "1000000", "ticker": "USDC"},
	}, "")
	require.Equal(t, http.StatusBadRequest, res.Code, res.Body.String())
}

func TestQuotaErrorsAreTooManyRequests(t *testing.T) {
	require.Equal(t, http.StatusTooManyRequests, statusOf(fmt.Errorf("open: %w", common.ErrQuotaLeasesExceeded)))
	require.Equal(t, http.StatusTooManyRequests, statusOf(common.ErrQuotaDownpaymentExceeded))
	require.Equal(t, http.StatusInternalServerError, statusOf(common.ErrQuotaCounterOverflow))
}

func TestAdminRoutesRequireToken(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.Auth = config.Auth{Enabled: true, HMACSecret: "s3cret", Issuer: "leased"}
	})
	res := env.do(http.MethodPost, "/v1/admin/prices", pricesBody(1, 2), "")
	require.Equal(t, http.StatusUnauthorized, res.Code)

	auth := middleware.NewAuthenticator(env.cfg.Auth, nil)
	keeper, err := auth.Issue("keeper", time.Hour, middleware.ScopeKeeper)
	require.NoError(t, err)
	res = env.do(http.MethodPost, "/v1/admin/prices", pricesBody(1, 2), keeper)
	require.Equal(t, http.StatusForbidden, res.Code)
	res = env.do(http.MethodPost, "/v1/admin/tick", nil, keeper)
	require.Equal(t, http.StatusOK, res.Code)

	feeder, err := auth.Issue("feeder", time.Hour, middleware.ScopeOracle)
	require.NoError(t, err)
	res = env.do(http.MethodPost, "/v1/admin/prices", pricesBody(1, 2), feeder)
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())

	res = env.do(http.MethodGet, "/v1/leases", nil, "")
	require.Equal(t, http.StatusOK, res.Code)
}

func TestExportWritesParquet(t *testing.T) {
	env := newTestEnv(t, nil)
	res := env.do(http.MethodPost, "/v1/admin/prices", pricesBody(1, 2), "")
	require.Equal(t, http.StatusOK, res.Code)

	res = env.do(http.MethodPost, "/v1/admin/export", nil, "")
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	var out struct {
		Path string `json:"path"`
		Rows int    `json:"rows"`
	}
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &out))
	require.True(t, strings.HasPrefix(out.Path, env.cfg.DataDir))
	require.Positive(t, out.Rows)
}

func TestEventStream(t *testing.T) {
	env := newTestEnv(t, nil)
	ts := httptest.NewServer(env.server.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/v1/events/ws", nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")
	require.Eventually(t, func() bool { return env.broker.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)

	res := env.do(http.MethodPost, "/v1/admin/prices", pricesBody(1, 2), "")
	require.Equal(t, http.StatusOK, res.Code)

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var ev StreamEvent
	require.NoError(t, json.Unmarshal(data, &ev))
	require.NotEmpty(t, ev.Type)
	require.NotZero(t, ev.Height)
}

func TestBrokerFiltersByLease(t *testing.T) {
	b := NewBroker()
	all, cancelAll := b.Subscribe("")
	defer cancelAll()
	one, cancelOne := b.Subscribe("lease-a")

	b.Publish(7, []types.Event{
		{Type: "ls-open", Attributes: map[string]string{"id": "lease-a"}},
		{Type: "ls-open", Attributes: map[string]string{"id": "lease-b"}},
	})
	require.Len(t, all, 2)
	require.Len(t, one, 1)
	ev := <-one
	require.Equal(t, "lease-a", ev.Lease)
	require.Equal(t, uint64(7), ev.Height)

	cancelOne()
	cancelOne()
	require.Equal(t, 1, b.Subscribers())
}
