package node

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"nhblease/config"
	"nhblease/core/types"
	"nhblease/crypto"
	"nhblease/finance"
	"nhblease/native/common"
	"nhblease/native/lease"
	"nhblease/storage"
)

var customer = crypto.NewAddress(crypto.AccountPrefix, []byte("customer-address-001"))

type harness struct {
	t      *testing.T
	ctx    context.Context
	cfg    *config.Config
	db     storage.Database
	clock  time.Time
	events []types.Event
	node   *Node
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := config.Default()
	cfg.Keeper.MaxAlarms = 16
	h := &harness{
		t:     t,
		ctx:   context.Background(),
		cfg:   cfg,
		db:    storage.NewMemDB(),
		clock: time.Unix(1_700_000_000, 0),
	}
	h.start()
	return h
}

func (h *harness) start() {
	h.t.Helper()
	n, err := New(h.ctx, h.cfg, h.db,
		WithClock(func() time.Time { return h.clock }),
		WithCommitHook(func(_ uint64, events []types.Event) { h.events = append(h.events, events...) }))
	require.NoError(h.t, err)
	h.node = n
}

func (h *harness) feed(atom, usdc uint64) {
	h.t.Helper()
	price, err := finance.NewPrice(finance.NewCoin(atom, "ATOM"), finance.NewCoin(usdc, "USDC"))
	require.NoError(h.t, err)
	_, err = h.node.FeedPrices(h.ctx, []finance.Price{price})
	require.NoError(h.t, err)
}

func (h *harness) tick(rounds int) {
	h.t.Helper()
	for i := 0; i < rounds; i++ {
		_, err := h.node.Tick(h.ctx)
		require.NoError(h.t, err)
	}
}

func (h *harness) openLease() crypto.Address {
	h.t.Helper()
	require.NoError(h.t, h.node.Faucet(customer, finance.NewCoin(10_000_000, "USDC")))
	h.feed(1, 2)
	addr, label, res, err := h.node.OpenLease(h.ctx, customer, "ATOM", finance.NewCoin(1_000_000, "USDC"))
	require.NoError(h.t, err)
	require.Contains(h.t, label, "lease-")
	_, ok := res.Event(lease.EventRequestLoan)
	require.True(h.t, ok)
	h.tick(3)
	return addr
}

func TestNewBootstrapsSharedContracts(t *testing.T) {
	h := newHarness(t)
	pool, err := h.node.Balance(h.node.Pool(), "USDC")
	require.NoError(t, err)
	require.Equal(t, finance.NewCoin(h.cfg.Pool.Liquidity, "USDC"), pool)
	require.Empty(t, h.node.Leases())
}

func TestOpenLeaseReachesOpened(t *testing.T) {
	h := newHarness(t)
	addr := h.openLease()

	s, err := h.node.State(h.ctx, addr)
	require.NoError(t, err)
	require.NotNil(t, s.Opened)
	require.Empty(t, s.Opened.InProgress)
	require.Equal(t, "ATOM", s.Opened.Amount.Ticker)

	var opened bool
	for _, e := range h.events {
		if e.Type == lease.EventOpen {
			opened = true
		}
	}
	require.True(t, opened)
}

func TestRepayAndCloseThroughNode(t *testing.T) {
	h := newHarness(t)
	addr := h.openLease()

	_, err := h.node.Repay(h.ctx, addr, customer, finance.NewCoin(3_000_000, "USDC"))
	require.NoError(t, err)

	s, err := h.node.State(h.ctx, addr)
	require.NoError(t, err)
	require.NotNil(t, s.Paid)

	_, err = h.node.Close(h.ctx, addr, customer)
	require.NoError(t, err)
	h.tick(3)

	s, err = h.node.State(h.ctx, addr)
	require.NoError(t, err)
	require.NotNil(t, s.Closed)
	atom, err := h.node.Balance(customer, "ATOM")
	require.NoError(t, err)
	require.False(t, atom.Amount.IsZero())
}

func TestUnknownLeaseRejected(t *testing.T) {
	h := newHarness(t)
	stranger := crypto.NewAddress(crypto.AccountPrefix, []byte("stranger-address-001"))
	_, err := h.node.State(h.ctx, stranger)
	require.ErrorIs(t, err, ErrUnknownLease)
	_, err = h.node.Repay(h.ctx, stranger, customer, finance.NewCoin(1, "USDC"))
	require.ErrorIs(t, err, ErrUnknownLease)
}

func TestFeedPricesRequiresSwapLeg(t *testing.T) {
	h := newHarness(t)
	price, err := finance.NewPrice(finance.NewCoin(1, "NLS"), finance.NewCoin(3, "USDC"))
	require.NoError(t, err)
	_, err = h.node.FeedPrices(h.ctx, []finance.Price{price})
	require.ErrorIs(t, err, ErrNoSwapLeg)
}

func TestRestartRestoresLeases(t *testing.T) {
	h := newHarness(t)
	addr := h.openLease()

	h.start()
	require.Contains(t, h.node.Leases(), addr)
	s, err := h.node.State(h.ctx, addr)
	require.NoError(t, err)
	require.NotNil(t, s.Opened)

	pool, err := h.node.Balance(h.node.Pool(), "USDC")
	require.NoError(t, err)
	require.Less(t, pool.Amount.Uint64(), h.cfg.Pool.Liquidity)
}

func TestTickAdvancesChainClock(t *testing.T) {
	h := newHarness(t)
	before := h.node.Host().Now()

	report, err := h.node.Tick(h.ctx)
	require.NoError(t, err)
	require.False(t, report.Advanced)

	h.clock = h.clock.Add(time.Minute)
	report, err = h.node.Tick(h.ctx)
	require.NoError(t, err)
	require.True(t, report.Advanced)
	require.Equal(t, before.Add(finance.DurationFromStd(time.Minute)), h.node.Host().Now())
}

func TestOpenLeaseQuotaPerCustomer(t *testing.T) {
	h := newHarness(t)
	h.cfg.Lease.Quota = config.Quota{
		MaxLeasesPerEpoch:      1,
		MaxDownpaymentPerEpoch: 1_500_000,
		Epoch:                  config.Duration{Duration: 24 * time.Hour},
	}
	h.openLease()

	_, _, _, err := h.node.OpenLease(h.ctx, customer, "ATOM", finance.NewCoin(100_000, "USDC"))
	require.ErrorIs(t, err, common.ErrQuotaLeasesExceeded)
	require.Len(t, h.node.Leases(), 1)

	// the usage survives a restart
	h.start()
	_, _, _, err = h.node.OpenLease(h.ctx, customer, "ATOM", finance.NewCoin(100_000, "USDC"))
	require.ErrorIs(t, err, common.ErrQuotaLeasesExceeded)

	h.clock = h.clock.Add(24 * time.Hour)
	h.tick(1)
	_, _, _, err = h.node.OpenLease(h.ctx, customer, "ATOM", finance.NewCoin(2_000_000, "USDC"))
	require.ErrorIs(t, err, common.ErrQuotaDownpaymentExceeded)
	_, _, _, err = h.node.OpenLease(h.ctx, customer, "ATOM", finance.NewCoin(1_000_000, "USDC"))
	require.NoError(t, err)
	require.Len(t, h.node.Leases(), 2)
}
