// Package runtime hosts contracts the way a wasm chain does: every
// invocation runs in a transaction, sub-messages are dispatched depth-first
// with their own revertible state layer, and remote operations are queued to
// a simulated trading venue whose outcomes come back as sudo callbacks.
package runtime

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"nhblease/core/types"
	"nhblease/crypto"
	"nhblease/finance"
	"nhblease/observability"
	"nhblease/platform"
	"nhblease/storage"
)

var (
	ErrCallDepth      = errors.New("runtime: call depth exceeded")
	ErrUnsupportedMsg = errors.New("runtime: unsupported message")
	ErrInjectedFault  = errors.New("runtime: injected fault")
)

const maxCallDepth = 32

// Result is what a committed transaction reports.
type Result struct {
	Events []types.Event
	Data   []byte
}

// Event returns the first event of type typ.
func (r Result) Event(typ string) (types.Event, bool) {
	for _, e := range r.Events {
		if e.Type == typ {
			return e, true
		}
	}
	return types.Event{}, false
}

type Option func(*Host)

func WithLogger(l *slog.Logger) Option {
	return func(h *Host) { h.logger = l }
}

// WithClock sets the block time of the first block.
func WithClock(start finance.Timestamp) Option {
	return func(h *Host) { h.now = start }
}

func WithVenue(v *Venue) Option {
	return func(h *Host) { h.venue = v }
}

// WithCommitHook calls fn with the events of every committed transaction.
// fn runs with the host locked and must not call back into it.
func WithCommitHook(fn func(height uint64, events []types.Event)) Option {
	return func(h *Host) { h.onCommit = fn }
}

type fault struct {
	contract crypto.Address
	key      string
	times    int
}

// Host runs contracts over a single store. It is safe for concurrent use;
// transactions are serialised.
type Host struct {
	mu        sync.Mutex
	db        storage.Database
	contracts map[crypto.Address]platform.Contract
	labels    map[crypto.Address]string
	creator   crypto.Address
	now       finance.Timestamp
	height    uint64
	venue     *Venue
	faults    []*fault
	logger    *slog.Logger
	tracer    trace.Tracer
	onCommit  func(uint64, []types.Event)
}

func NewHost(db storage.Database, opts ...Option) *Host {
	h := &Host{
		db:        db,
		contracts: make(map[crypto.Address]platform.Contract),
		labels:    make(map[crypto.Address]string),
		creator:   crypto.NewAddress(crypto.AccountPrefix, make([]byte, crypto.AddressLength)),
		height:    1,
		logger:    slog.Default(),
		tracer:    otel.Tracer("nhblease/runtime"),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.venue == nil {
		h.venue = NewVenue()
	}
	return h
}

// Deploy registers c under an address derived from label.
func (h *Host) Deploy(label string, c platform.Contract) crypto.Address {
	h.mu.Lock()
	defer h.mu.Unlock()
	addr := crypto.ContractAddress(crypto.AccountPrefix, h.creator, []byte(label))
	h.contracts[addr] = c
	h.labels[addr] = label
	return addr
}

// Contracts lists the deployed contracts by label.
func (h *Host) Contracts() map[string]crypto.Address {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]crypto.Address, len(h.labels))
	for addr, label := range h.labels {
		out[label] = addr
	}
	return out
}

func (h *Host) Venue() *Venue { return h.venue }

func (h *Host) Now() finance.Timestamp {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.now
}

// Advance moves the clock forward and opens a new block.
func (h *Host) Advance(d finance.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.now = h.now.Add(d)
	h.height++
}

// AdvanceTo moves the clock to t and opens a new block. A t not after the
// current time is ignored.
func (h *Host) AdvanceTo(t finance.Timestamp) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !t.After(h.now) {
		return false
	}
	h.now = t
	h.height++
	return true
}

// FailExecute makes the next times executions of contract carrying the
// top-level message key fail.
func (h *Host) FailExecute(contract crypto.Address, key string, times int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.faults = append(h.faults, &fault{contract: contract, key: key, times: times})
}

func (h *Host) Mint(addr crypto.Address, coins ...finance.Coin) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	cache := storage.NewCache(h.db)
	for _, c := range coins {
		if err := (bank{cache}).mint(addr, c); err != nil {
			cache.Discard()
			return err
		}
	}
	return cache.Commit()
}

func (h *Host) Balance(addr crypto.Address, ticker string) (finance.Coin, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return bank{h.db}.balance(addr, ticker)
}

func (h *Host) Instantiate(ctx context.Context, contract, sender crypto.Address, msg any, funds ...finance.Coin) (Result, error) {
	raw, err := json.Marshal(msg)
	if err != nil {
		return Result{}, err
	}
	return h.transact(ctx, "instantiate", contract, func(t *txn, root storage.Database) (outcome, error) {
		if err := (bank{root}).send(sender, contract, funds); err != nil {
			return outcome{}, err
		}
		return t.invoke(root, contract, "instantiate", func(c platform.Contract, deps platform.Deps, env platform.Env) (platform.MessageResponse, error) {
			return c.Instantiate(deps, env, platform.MessageInfo{Sender: sender, Funds: funds}, raw)
		})
	})
}

func (h *Host) Execute(ctx context.Context, contract, sender crypto.Address, msg any, funds ...finance.Coin) (Result, error) {
	raw, err := json.Marshal(msg)
	if err != nil {
		return Result{}, err
	}
	return h.transact(ctx, "execute", contract, func(t *txn, root storage.Database) (outcome, error) {
		return t.deliver(root, sender, platform.ExecuteMsg{Contract: contract, Msg: raw, Funds: funds})
	})
}

func (h *Host) Sudo(ctx context.Context, contract crypto.Address, msg platform.SudoMsg) (Result, error) {
	return h.transact(ctx, "sudo", contract, func(t *txn, root storage.Database) (outcome, error) {
		return t.invoke(root, contract, "sudo", func(c platform.Contract, deps platform.Deps, env platform.Env) (platform.MessageResponse, error) {
			return c.Sudo(deps, env, msg)
		})
	})
}

// Query runs a read-only request against the committed state.
func (h *Host) Query(ctx context.Context, contract crypto.Address, request, response any) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, span := h.tracer.Start(ctx, "runtime.query", trace.WithAttributes(attribute.String("contract", contract.String())))
	defer span.End()
	q := &querier{host: h, store: h.db}
	if err := q.QueryWasm(contract, request, response); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (h *Host) transact(ctx context.Context, entry string, contract crypto.Address, fn func(*txn, storage.Database) (outcome, error)) (Result, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, span := h.tracer.Start(ctx, "runtime."+entry, trace.WithAttributes(
		attribute.String("contract", contract.String()),
		attribute.Int64("height", int64(h.height)),
	))
	defer span.End()

	root := storage.NewCache(h.db)
	t := &txn{host: h}
	out, err := fn(t, root)
	if err != nil {
		root.Discard()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}
	if err := root.Commit(); err != nil {
		return Result{}, err
	}
	h.venue.enqueue(t.outbox...)
	for _, e := range out.events {
		observability.Events().RecordEvent(e.Type)
	}
	if h.onCommit != nil && len(out.events) > 0 {
		h.onCommit(h.height, out.events)
	}
	return Result{Events: out.events, Data: out.data}, nil
}

type outcome struct {
	data   []byte
	events []types.Event
}

// txn is one transaction in flight. Remote packets are held until the
// transaction commits; those of reverted layers are dropped.
type txn struct {
	host   *Host
	outbox []packet
	depth  int
}

func contractPrefix(addr crypto.Address) []byte {
	return []byte("c/" + hex.EncodeToString(addr.Bytes()) + "/")
}

func (t *txn) env(self crypto.Address) platform.Env {
	return platform.Env{Now: t.host.now, Self: self, Height: t.host.height}
}

func (t *txn) deps(layer storage.Database, addr crypto.Address) platform.Deps {
	return platform.Deps{
		Storage: storage.NewPrefixed(layer, contractPrefix(addr)),
		Querier: &querier{host: t.host, store: layer},
		Logger:  t.host.logger.With("contract", t.host.labels[addr]),
	}
}

// invoke runs one entry point of addr and, depth-first, the sub-messages it
// returns. Its writes reach parent only if the whole call tree succeeds.
func (t *txn) invoke(parent storage.Database, addr crypto.Address, entry string, call func(platform.Contract, platform.Deps, platform.Env) (platform.MessageResponse, error)) (outcome, error) {
	c, ok := t.host.contracts[addr]
	if !ok {
		return outcome{}, fmt.Errorf("%w: %s", platform.ErrUnknownContract, addr)
	}
	if t.depth >= maxCallDepth {
		return outcome{}, ErrCallDepth
	}
	t.depth++
	defer func() { t.depth-- }()

	layer := storage.NewCache(parent)
	mark := len(t.outbox)
	start := time.Now()
	resp, err := call(c, t.deps(layer, addr), t.env(addr))
	observability.Lease().ObserveInvocation(entry, err, time.Since(start))
	if err != nil {
		return outcome{}, fmt.Errorf("%s of %s: %w", entry, t.host.labels[addr], err)
	}
	out := outcome{data: resp.Data, events: resp.Events}
	for _, sub := range resp.Messages.Messages() {
		if err := t.dispatch(layer, addr, sub, &out); err != nil {
			t.outbox = t.outbox[:mark]
			return outcome{}, err
		}
	}
	if err := layer.Commit(); err != nil {
		return outcome{}, err
	}
	return out, nil
}

// dispatch runs a sub-message in its own layer and replies its outcome when
// asked to. An unreplied failure aborts the caller.
func (t *txn) dispatch(layer storage.Database, sender crypto.Address, sub platform.SubMsg, out *outcome) error {
	subLayer := storage.NewCache(layer)
	mark := len(t.outbox)
	res, err := t.deliver(subLayer, sender, sub.Msg)
	if err == nil {
		if cerr := subLayer.Commit(); cerr != nil {
			return cerr
		}
		out.events = append(out.events, res.events...)
	} else {
		subLayer.Discard()
		t.outbox = t.outbox[:mark]
	}
	if !sub.ReplyOn.Reports(err == nil) {
		return err
	}
	result := platform.SubMsgResult{Data: res.data}
	if err != nil {
		t.host.logger.Debug("sub-message failed", "component", "runtime", "kind", platform.Kind(sub.Msg), "reply_id", sub.ID, "error", err)
		result = platform.SubMsgResult{Err: err.Error()}
	}
	reply, err := t.invoke(layer, sender, "reply", func(c platform.Contract, deps platform.Deps, env platform.Env) (platform.MessageResponse, error) {
		return c.Reply(deps, env, platform.Reply{ID: sub.ID, Result: result})
	})
	if err != nil {
		return err
	}
	out.events = append(out.events, reply.events...)
	if reply.data != nil {
		out.data = reply.data
	}
	return nil
}

func (t *txn) deliver(store storage.Database, sender crypto.Address, msg platform.CosmosMsg) (outcome, error) {
	b := bank{store}
	switch m := msg.(type) {
	case platform.ExecuteMsg:
		if err := t.injected(m); err != nil {
			return outcome{}, err
		}
		if err := b.send(sender, m.Contract, m.Funds); err != nil {
			return outcome{}, err
		}
		return t.invoke(store, m.Contract, "execute", func(c platform.Contract, deps platform.Deps, env platform.Env) (platform.MessageResponse, error) {
			return c.Execute(deps, env, platform.MessageInfo{Sender: sender, Funds: m.Funds}, m.Msg)
		})
	case platform.BankSend:
		return outcome{}, b.send(sender, m.To, m.Amount)
	case platform.IBCTransfer:
		if err := b.burn(sender, m.Token); err != nil {
			return outcome{}, err
		}
		t.outbox = append(t.outbox, packet{kind: packetTransferOut, owner: sender, transfer: m})
		return outcome{}, nil
	case platform.RegisterICA:
		t.outbox = append(t.outbox, packet{kind: packetRegister, owner: sender, connection: m.ConnectionID})
		return outcome{}, nil
	case platform.SubmitICATx:
		t.outbox = append(t.outbox, packet{kind: packetTx, owner: sender, connection: m.ConnectionID, trx: m.Trx})
		return outcome{}, nil
	default:
		return outcome{}, fmt.Errorf("%w: %s", ErrUnsupportedMsg, platform.Kind(msg))
	}
}

func (t *txn) injected(m platform.ExecuteMsg) error {
	if len(t.host.faults) == 0 {
		return nil
	}
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(m.Msg, &keys); err != nil {
		return nil
	}
	for _, f := range t.host.faults {
		if f.times == 0 || f.contract != m.Contract {
			continue
		}
		if _, ok := keys[f.key]; ok {
			f.times--
			return fmt.Errorf("%w: %s", ErrInjectedFault, f.key)
		}
	}
	return nil
}

// querier answers contract queries against a state layer. Queries run in a
// throwaway layer so they cannot write.
type querier struct {
	host  *Host
	store storage.Database
}

func (q *querier) QueryWasm(contract crypto.Address, request, response any) error {
	c, ok := q.host.contracts[contract]
	if !ok {
		return fmt.Errorf("%w: %s", platform.ErrUnknownContract, contract)
	}
	raw, err := json.Marshal(request)
	if err != nil {
		return err
	}
	scratch := storage.NewCache(q.store)
	defer scratch.Discard()
	deps := platform.Deps{
		Storage: storage.NewPrefixed(scratch, contractPrefix(contract)),
		Querier: &querier{host: q.host, store: scratch},
		Logger:  q.host.logger.With("contract", q.host.labels[contract]),
	}
	env := platform.Env{Now: q.host.now, Self: contract, Height: q.host.height}
	answer, err := c.Query(deps, env, raw)
	if err != nil {
		return err
	}
	return json.Unmarshal(answer, response)
}

func (q *querier) QueryBalance(addr crypto.Address, ticker string) (finance.Coin, error) {
	return bank{q.store}.balance(addr, ticker)
}
