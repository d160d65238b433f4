// Package node runs the lease contracts and their collaborators in one
// process: the liquidity pool, the price oracle, the time alarm service and
// a simulated trading venue, over a persistent key-value store.
package node

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"nhblease/config"
	"nhblease/core/types"
	"nhblease/crypto"
	"nhblease/finance"
	"nhblease/native/common"
	"nhblease/native/dex"
	"nhblease/native/lease"
	"nhblease/native/lpp"
	"nhblease/native/oracle"
	"nhblease/native/timealarms"
	"nhblease/runtime"
	"nhblease/storage"
)

var (
	ErrUnknownLease = errors.New("node: unknown lease")
	ErrNoSwapLeg    = errors.New("node: price has no venue pool")
)

const (
	labelPool   = "lpp"
	labelOracle = "oracle"
	labelAlarms = "timealarms"
	leasePrefix = "lease/"
	quotaPrefix = "quota/"
	// relayRounds bounds the follow-up packets relayed by one tick.
	relayRounds = 8
)

var bootstrappedKey = []byte("bootstrapped")

// CommitHook receives the events of every committed transaction.
type CommitHook func(height uint64, events []types.Event)

type Option func(*Node)

func WithLogger(l *slog.Logger) Option {
	return func(n *Node) { n.logger = l }
}

func WithCommitHook(h CommitHook) Option {
	return func(n *Node) { n.hook = h }
}

// WithClock replaces the wall clock driving Tick.
func WithClock(now func() time.Time) Option {
	return func(n *Node) { n.now = now }
}

type Node struct {
	cfg    *config.Config
	host   *runtime.Host
	meta   storage.Database
	logger *slog.Logger
	hook   CommitHook
	now    func() time.Time

	pool   crypto.Address
	oracle crypto.Address
	alarms crypto.Address
	profit crypto.Address
	feeder crypto.Address

	mu     sync.RWMutex
	leases map[crypto.Address]string

	// quotaMu serialises openings so each quota check sees the previous
	// commit.
	quotaMu sync.Mutex
}

// New registers the configured currencies, deploys the shared contracts
// and, on a fresh store, instantiates them and funds the pool.
func New(ctx context.Context, cfg *config.Config, db storage.Database, opts ...Option) (*Node, error) {
	n := &Node{
		cfg:    cfg,
		meta:   storage.NewPrefixed(db, []byte("node/")),
		logger: slog.Default(),
		now:    time.Now,
		leases: make(map[crypto.Address]string),
	}
	for _, opt := range opts {
		opt(n)
	}
	if err := registerCurrencies(cfg.Currencies); err != nil {
		return nil, err
	}
	var err error
	if n.profit, err = crypto.DecodeAddress(cfg.Lease.Profit); err != nil {
		return nil, fmt.Errorf("node: profit address: %w", err)
	}
	if n.feeder, err = crypto.DecodeAddress(cfg.Oracle.Feeder); err != nil {
		return nil, fmt.Errorf("node: feeder address: %w", err)
	}

	hostOpts := []runtime.Option{
		runtime.WithLogger(n.logger),
		runtime.WithClock(finance.TimestampFromTime(n.now())),
	}
	if n.hook != nil {
		hostOpts = append(hostOpts, runtime.WithCommitHook(n.hook))
	}
	n.host = runtime.NewHost(storage.NewPrefixed(db, []byte("chain/")), hostOpts...)
	n.pool = n.host.Deploy(labelPool, lpp.Pool{})
	n.oracle = n.host.Deploy(labelOracle, oracle.Oracle{})
	n.alarms = n.host.Deploy(labelAlarms, timealarms.Contract{Pauses: cfg.Pauses})

	if _, err := n.meta.Get(bootstrappedKey); storage.IsNotFound(err) {
		if err := n.bootstrap(ctx); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}
	if err := n.restoreLeases(); err != nil {
		return nil, err
	}
	return n, nil
}

func registerCurrencies(list []config.Currency) error {
	currencies := make([]finance.Currency, 0, len(list))
	for _, c := range list {
		currencies = append(currencies, finance.Currency{
			Ticker:    c.Ticker,
			DexSymbol: c.DexSymbol,
			Group:     finance.Group(c.Group),
		})
	}
	return finance.RegisterCurrencies(currencies...)
}

func (n *Node) bootstrap(ctx context.Context) error {
	admin := n.feeder
	if _, err := n.host.Instantiate(ctx, n.pool, admin, lpp.InstantiateMsg{
		Lpn:        n.cfg.Pool.Lpn,
		AnnualRate: finance.Percent(n.cfg.Pool.AnnualRate),
	}); err != nil {
		return fmt.Errorf("node: instantiate pool: %w", err)
	}
	legs := make([]oracle.SwapLeg, 0, len(n.cfg.Oracle.SwapTree))
	for _, leg := range n.cfg.Oracle.SwapTree {
		legs = append(legs, oracle.SwapLeg{From: leg.From, To: leg.To, PoolID: leg.PoolID})
	}
	if _, err := n.host.Instantiate(ctx, n.oracle, admin, oracle.InstantiateMsg{
		BaseCurrency: n.cfg.Pool.Lpn,
		Feeder:       n.feeder,
		SwapTree:     legs,
	}); err != nil {
		return fmt.Errorf("node: instantiate oracle: %w", err)
	}
	if _, err := n.host.Instantiate(ctx, n.alarms, admin, struct{}{}); err != nil {
		return fmt.Errorf("node: instantiate time alarms: %w", err)
	}
	if n.cfg.Pool.Liquidity > 0 {
		if err := n.host.Mint(n.pool, finance.NewCoin(n.cfg.Pool.Liquidity, n.cfg.Pool.Lpn)); err != nil {
			return fmt.Errorf("node: fund pool: %w", err)
		}
	}
	n.logger.Info("node bootstrapped",
		"component", "node",
		"pool", n.pool.String(),
		"oracle", n.oracle.String(),
		"time_alarms", n.alarms.String())
	return n.meta.Put(bootstrappedKey, []byte{1})
}

func (n *Node) restoreLeases() error {
	var labels []string
	err := n.meta.Iterate([]byte(leasePrefix), func(key, _ []byte) bool {
		labels = append(labels, strings.TrimPrefix(string(key), leasePrefix))
		return true
	})
	if err != nil {
		return err
	}
	for _, label := range labels {
		n.deployLease(label)
	}
	if len(labels) > 0 {
		n.logger.Info("leases restored", "component", "node", "count", len(labels))
	}
	return nil
}

func (n *Node) deployLease(label string) crypto.Address {
	addr := n.host.Deploy(label, lease.Contract{Pauses: n.cfg.Pauses})
	n.mu.Lock()
	n.leases[addr] = label
	n.mu.Unlock()
	return addr
}

func (n *Node) Host() *runtime.Host { return n.host }

func (n *Node) Pool() crypto.Address { return n.pool }

func (n *Node) Oracle() crypto.Address { return n.oracle }

func (n *Node) TimeAlarms() crypto.Address { return n.alarms }

func (n *Node) Feeder() crypto.Address { return n.feeder }

// Leases maps the address of every known lease to its label.
func (n *Node) Leases() map[crypto.Address]string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make(map[crypto.Address]string, len(n.leases))
	for addr, label := range n.leases {
		out[addr] = label
	}
	return out
}

func (n *Node) form(customer crypto.Address, currency string) lease.NewLeaseForm {
	c := n.cfg
	l := c.Lease.Liability
	return lease.NewLeaseForm{
		Customer: customer,
		Currency: currency,
		Liability: lease.Liability{
			Initial:       finance.Percent(l.Initial),
			Healthy:       finance.Percent(l.Healthy),
			FirstLiqWarn:  finance.Percent(l.FirstWarn),
			SecondLiqWarn: finance.Percent(l.SecondWarn),
			ThirdLiqWarn:  finance.Percent(l.ThirdWarn),
			Max:           finance.Percent(l.Max),
			RecalcTime:    finance.DurationFromStd(l.RecalcTime.Duration),
		},
		Loan: lease.LoanForm{
			Lpp:                  n.pool,
			Lpn:                  c.Pool.Lpn,
			AnnualMarginInterest: finance.Percent(c.Lease.MarginRate),
			DuePeriod:            finance.DurationFromStd(c.Lease.DuePeriod.Duration),
			GracePeriod:          finance.DurationFromStd(c.Lease.GracePeriod.Duration),
			Profit:               n.profit,
		},
		Dex: dex.ConnectionParams{
			ConnectionID: c.Dex.ConnectionID,
			TransferChannel: dex.TransferChannel{
				LocalEndpoint:  c.Dex.LocalChannel,
				RemoteEndpoint: c.Dex.RemoteChannel,
			},
			TxTimeout:  finance.DurationFromStd(c.Dex.TxTimeout.Duration),
			AckTip:     finance.NewCoin(c.Dex.AckTip, c.Dex.TipCurrency),
			TimeoutTip: finance.NewCoin(c.Dex.TimeoutTip, c.Dex.TipCurrency),
		},
		Oracle:     n.oracle,
		TimeAlarms: n.alarms,
	}
}

// OpenLease deploys a new lease for customer and instantiates it with the
// downpayment, which must already be in the customer's balance. Openings
// count against the customer's quota.
func (n *Node) OpenLease(ctx context.Context, customer crypto.Address, currency string, downpayment finance.Coin) (crypto.Address, string, runtime.Result, error) {
	n.quotaMu.Lock()
	defer n.quotaMu.Unlock()
	usage, err := n.checkQuota(customer, downpayment)
	if err != nil {
		n.logger.Warn("lease quota exceeded",
			"component", "node",
			"customer", customer.String(),
			"downpayment", downpayment.String(),
			"error", err)
		return crypto.Address{}, "", runtime.Result{}, err
	}

	label := "lease-" + uuid.NewString()
	addr := n.deployLease(label)
	res, err := n.host.Instantiate(ctx, addr, customer, n.form(customer, currency), downpayment)
	if err != nil {
		n.mu.Lock()
		delete(n.leases, addr)
		n.mu.Unlock()
		return crypto.Address{}, "", runtime.Result{}, err
	}
	if err := n.meta.Put([]byte(leasePrefix+label), addr.Bytes()); err != nil {
		return crypto.Address{}, "", runtime.Result{}, err
	}
	if err := n.saveQuota(customer, usage); err != nil {
		return crypto.Address{}, "", runtime.Result{}, err
	}
	n.logger.Info("lease opened",
		"component", "node",
		"lease", addr.String(),
		"label", label,
		"customer", customer.String(),
		"downpayment", downpayment.String())
	return addr, label, res, nil
}

func (n *Node) quota() common.Quota {
	q := n.cfg.Lease.Quota
	return common.Quota{
		MaxLeasesPerEpoch:      q.MaxLeasesPerEpoch,
		MaxDownpaymentPerEpoch: finance.NewAmount(q.MaxDownpaymentPerEpoch),
		EpochSeconds:           uint32(q.Epoch.Seconds()),
	}
}

// checkQuota returns the usage of customer including one more lease with
// downpayment, or the quota error. Downpayments are counted in any currency
// at face value.
func (n *Node) checkQuota(customer crypto.Address, downpayment finance.Coin) (common.QuotaNow, error) {
	q := n.quota()
	var prev common.QuotaNow
	raw, err := n.meta.Get([]byte(quotaPrefix + customer.String()))
	switch {
	case storage.IsNotFound(err):
	case err != nil:
		return common.QuotaNow{}, err
	default:
		if err := json.Unmarshal(raw, &prev); err != nil {
			return common.QuotaNow{}, fmt.Errorf("node: decode quota of %s: %w", customer, err)
		}
	}
	return common.CheckQuota(q, q.Epoch(n.host.Now()), prev, 1, downpayment.Amount)
}

func (n *Node) saveQuota(customer crypto.Address, usage common.QuotaNow) error {
	raw, err := json.Marshal(usage)
	if err != nil {
		return err
	}
	return n.meta.Put([]byte(quotaPrefix+customer.String()), raw)
}

func (n *Node) known(addr crypto.Address) error {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if _, ok := n.leases[addr]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownLease, addr)
	}
	return nil
}

func (n *Node) Repay(ctx context.Context, addr, sender crypto.Address, payment finance.Coin) (runtime.Result, error) {
	if err := n.known(addr); err != nil {
		return runtime.Result{}, err
	}
	return n.host.Execute(ctx, addr, sender, lease.ExecuteMsg{Repay: &struct{}{}}, payment)
}

func (n *Node) Close(ctx context.Context, addr, sender crypto.Address) (runtime.Result, error) {
	if err := n.known(addr); err != nil {
		return runtime.Result{}, err
	}
	return n.host.Execute(ctx, addr, sender, lease.ExecuteMsg{Close: &struct{}{}})
}

func (n *Node) State(ctx context.Context, addr crypto.Address) (lease.StateResponse, error) {
	var s lease.StateResponse
	if err := n.known(addr); err != nil {
		return s, err
	}
	err := n.host.Query(ctx, addr, lease.QueryMsg{State: &struct{}{}}, &s)
	return s, err
}

// FeedPrices publishes prices to the oracle and moves the venue pools
// quoting the same pairs, so swaps execute at the published rates.
func (n *Node) FeedPrices(ctx context.Context, prices []finance.Price) (runtime.Result, error) {
	for _, p := range prices {
		leg, ok := n.legOf(p.Base.Ticker, p.Quote.Ticker)
		if !ok {
			return runtime.Result{}, fmt.Errorf("%w: %s/%s", ErrNoSwapLeg, p.Base.Ticker, p.Quote.Ticker)
		}
		n.host.Venue().SetPool(leg.PoolID, p)
	}
	return n.host.Execute(ctx, n.oracle, n.feeder, oracle.ExecuteMsg{FeedPrices: &oracle.FeedPricesMsg{Prices: prices}})
}

func (n *Node) legOf(from, to string) (config.SwapLeg, bool) {
	for _, leg := range n.cfg.Oracle.SwapTree {
		if leg.From == from && leg.To == to {
			return leg, true
		}
	}
	return config.SwapLeg{}, false
}

// Faucet credits coins to addr.
func (n *Node) Faucet(addr crypto.Address, coins ...finance.Coin) error {
	return n.host.Mint(addr, coins...)
}

func (n *Node) Balance(addr crypto.Address, ticker string) (finance.Coin, error) {
	return n.host.Balance(addr, ticker)
}

func (n *Node) DispatchAlarms(ctx context.Context, max uint32) (runtime.Result, error) {
	return n.host.Execute(ctx, n.alarms, n.feeder, timealarms.ExecuteMsg{DispatchAlarms: &timealarms.DispatchAlarmsMsg{MaxCount: max}})
}

// TickReport summarises one keeper round.
type TickReport struct {
	Advanced bool
	Alarms   uint32
	Relayed  int
}

// Tick moves the chain clock to the wall clock, dispatches the due alarms
// and relays the pending venue packets with their follow-ups.
func (n *Node) Tick(ctx context.Context) (TickReport, error) {
	var report TickReport
	report.Advanced = n.host.AdvanceTo(finance.TimestampFromTime(n.now()))
	res, err := n.DispatchAlarms(ctx, n.cfg.Keeper.MaxAlarms)
	if err != nil {
		return report, fmt.Errorf("node: dispatch alarms: %w", err)
	}
	report.Alarms = dispatched(res)
	if report.Relayed, err = n.host.RelayRounds(ctx, relayRounds); err != nil {
		return report, fmt.Errorf("node: relay: %w", err)
	}
	return report, nil
}

func dispatched(res runtime.Result) uint32 {
	var out timealarms.DispatchResponse
	if len(res.Data) == 0 || json.Unmarshal(res.Data, &out) != nil {
		return 0
	}
	return out.Dispatched
}

// Run ticks every keeper interval until ctx is cancelled. Tick failures are
// logged and retried on the next round.
func (n *Node) Run(ctx context.Context) {
	ticker := time.NewTicker(n.cfg.Keeper.Interval.Duration)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := n.Tick(ctx)
			if err != nil {
				n.logger.Warn("keeper round failed", "component", "keeper", "error", err)
				continue
			}
			if report.Alarms > 0 || report.Relayed > 0 {
				n.logger.Debug("keeper round",
					"component", "keeper",
					"alarms", report.Alarms,
					"relayed", report.Relayed)
			}
		}
	}
}
