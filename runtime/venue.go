package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"lukechampine.com/blake3"

	"nhblease/crypto"
	"nhblease/finance"
	"nhblease/platform"
)

var (
	ErrUnknownPool  = errors.New("venue: unknown pool")
	ErrUnknownHost  = errors.New("venue: unknown account")
	ErrVenueBalance = errors.New("venue: insufficient balance")
)

type packetKind uint8

const (
	packetRegister packetKind = iota + 1
	packetTx
	packetTransferOut
	packetTransferIn
)

func (k packetKind) String() string {
	switch k {
	case packetRegister:
		return "register"
	case packetTx:
		return "tx"
	case packetTransferOut:
		return "transfer_out"
	case packetTransferIn:
		return "transfer_in"
	default:
		return fmt.Sprintf("packet(%d)", uint8(k))
	}
}

type packet struct {
	kind       packetKind
	seq        uint64
	owner      crypto.Address
	connection string
	trx        platform.Transaction
	transfer   platform.IBCTransfer
	credit     finance.Coin
}

// Venue simulates the remote trading chain: interchain accounts, their
// balances and constant-price pools. Packets queued by committed
// transactions are processed in order by Host.Relay.
type Venue struct {
	mu       sync.Mutex
	seq      uint64
	queue    []packet
	hosts    map[string]string
	balances map[string]map[string]finance.Amount
	pools    map[uint64]finance.Price
	timeouts int
	delayIn  bool
}

func NewVenue() *Venue {
	return &Venue{
		hosts:    make(map[string]string),
		balances: make(map[string]map[string]finance.Amount),
		pools:    make(map[uint64]finance.Price),
	}
}

// SetPool sets the exchange rate of a pool. The pool trades both ways.
func (v *Venue) SetPool(id uint64, price finance.Price) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.pools[id] = price
}

// TimeoutNext makes the next n remote transactions or transfers time out.
func (v *Venue) TimeoutNext(n int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.timeouts = n
}

// DelayTransferIn holds the local credit of transfers from the venue in a
// separate packet relayed after the acknowledgement.
func (v *Venue) DelayTransferIn(on bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.delayIn = on
}

func (v *Venue) Pending() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.queue)
}

// HostOf returns the venue account opened by owner over connection.
func (v *Venue) HostOf(owner crypto.Address, connection string) (string, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	host, ok := v.hosts[accountKey(owner, connection)]
	return host, ok
}

func (v *Venue) Balance(host, ticker string) finance.Coin {
	v.mu.Lock()
	defer v.mu.Unlock()
	return finance.CoinOf(v.balances[host][ticker], ticker)
}

func (v *Venue) enqueue(ps ...packet) {
	if len(ps) == 0 {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, p := range ps {
		v.seq++
		p.seq = v.seq
		v.queue = append(v.queue, p)
	}
}

func (v *Venue) pop() (packet, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.queue) == 0 {
		return packet{}, false
	}
	p := v.queue[0]
	v.queue = v.queue[1:]
	return p, true
}

func (v *Venue) delayed() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.delayIn
}

func (v *Venue) takeTimeout() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.timeouts == 0 {
		return false
	}
	v.timeouts--
	return true
}

func accountKey(owner crypto.Address, connection string) string {
	return owner.String() + "/" + connection
}

// openAccount returns the account of owner, creating it on first use. A
// re-registration reopens the same account.
func (v *Venue) openAccount(owner crypto.Address, connection string) string {
	v.mu.Lock()
	defer v.mu.Unlock()
	key := accountKey(owner, connection)
	if host, ok := v.hosts[key]; ok {
		return host
	}
	digest := blake3.Sum256([]byte(key))
	host := crypto.NewAddress(crypto.RemotePrefix, digest[:crypto.AddressLength]).String()
	v.hosts[key] = host
	return host
}

func (v *Venue) credit(host string, c finance.Coin) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return credit(v.balances, host, c)
}

func credit(balances map[string]map[string]finance.Amount, host string, c finance.Coin) error {
	held := balances[host]
	if held == nil {
		held = make(map[string]finance.Amount)
		balances[host] = held
	}
	sum, err := held[c.Ticker].Add(c.Amount)
	if err != nil {
		return err
	}
	held[c.Ticker] = sum
	return nil
}

func debit(balances map[string]map[string]finance.Amount, host string, c finance.Coin) error {
	held, ok := balances[host]
	if !ok || held[c.Ticker].Lt(c.Amount) {
		return fmt.Errorf("%w: %s holds %s %s, needs %s", ErrVenueBalance, host, held[c.Ticker], c.Ticker, c)
	}
	rest, err := held[c.Ticker].Sub(c.Amount)
	if err != nil {
		return err
	}
	held[c.Ticker] = rest
	return nil
}

// execute runs trx for owner against a copy of the balances and installs the
// copy only if every message succeeds. Coins sent home are returned for the
// caller to credit locally.
func (v *Venue) execute(owner crypto.Address, connection string, trx platform.Transaction) ([]byte, []finance.Coin, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	host, ok := v.hosts[accountKey(owner, connection)]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s over %s", ErrUnknownHost, owner, connection)
	}
	work := make(map[string]map[string]finance.Amount, len(v.balances))
	for h, held := range v.balances {
		cp := make(map[string]finance.Amount, len(held))
		for t, a := range held {
			cp[t] = a
		}
		work[h] = cp
	}
	var (
		resps    platform.Transaction
		transfer []finance.Coin
	)
	for _, msg := range trx.Msgs {
		switch msg.TypeURL {
		case platform.TypeURLSwapExactAmountIn:
			var swap platform.MsgSwapExactAmountIn
			if err := platform.DecodeAny(msg, msg.TypeURL, &swap); err != nil {
				return nil, nil, err
			}
			out, err := v.swap(work, host, swap)
			if err != nil {
				return nil, nil, err
			}
			if err := resps.AddMessage(platform.TypeURLSwapExactAmountInResponse, &platform.MsgSwapExactAmountInResponse{TokenOutAmount: out.Amount.Uint256()}); err != nil {
				return nil, nil, err
			}
		case platform.TypeURLTransfer:
			var t platform.MsgTransfer
			if err := platform.DecodeAny(msg, msg.TypeURL, &t); err != nil {
				return nil, nil, err
			}
			coin, err := fromDexCoin(t.Token)
			if err != nil {
				return nil, nil, err
			}
			if err := debit(work, host, coin); err != nil {
				return nil, nil, err
			}
			transfer = append(transfer, coin)
			v.seq++
			if err := resps.AddMessage(platform.TypeURLTransferResponse, &platform.MsgTransferResponse{Sequence: v.seq}); err != nil {
				return nil, nil, err
			}
		default:
			return nil, nil, fmt.Errorf("%w: %s", ErrUnsupportedMsg, msg.TypeURL)
		}
	}
	data, err := platform.EncodeTxMsgData(platform.TxMsgData{MsgResponses: resps.Msgs})
	if err != nil {
		return nil, nil, err
	}
	v.balances = work
	return data, transfer, nil
}

// swap follows the routes hop by hop at the pool rates.
func (v *Venue) swap(work map[string]map[string]finance.Amount, host string, msg platform.MsgSwapExactAmountIn) (finance.Coin, error) {
	in, err := fromDexCoin(msg.TokenIn)
	if err != nil {
		return finance.Coin{}, err
	}
	if err := debit(work, host, in); err != nil {
		return finance.Coin{}, err
	}
	current := in
	for _, route := range msg.Routes {
		price, ok := v.pools[route.PoolID]
		if !ok {
			return finance.Coin{}, fmt.Errorf("%w: %d", ErrUnknownPool, route.PoolID)
		}
		out, err := finance.Registry().ByDexSymbol(route.TokenOutDenom)
		if err != nil {
			return finance.Coin{}, err
		}
		switch {
		case price.Base.Ticker == current.Ticker && price.Quote.Ticker == out.Ticker:
		case price.Quote.Ticker == current.Ticker && price.Base.Ticker == out.Ticker:
			price = price.Inverse()
		default:
			return finance.Coin{}, fmt.Errorf("%w: pool %d does not trade %s for %s", ErrUnknownPool, route.PoolID, current.Ticker, out.Ticker)
		}
		if current, err = price.Total(current); err != nil {
			return finance.Coin{}, err
		}
	}
	if msg.TokenOutMinAmount != nil {
		floor, err := finance.AmountFromUint256(msg.TokenOutMinAmount)
		if err != nil {
			return finance.Coin{}, err
		}
		if current.Amount.Lt(floor) {
			return finance.Coin{}, fmt.Errorf("venue: swap output %s under minimum %s", current, floor)
		}
	}
	return current, credit(work, host, current)
}

func fromDexCoin(c platform.DexCoin) (finance.Coin, error) {
	cur, err := finance.Registry().ByDexSymbol(c.Denom)
	if err != nil {
		return finance.Coin{}, err
	}
	amount, err := finance.AmountFromUint256(c.Amount)
	if err != nil {
		return finance.Coin{}, err
	}
	return finance.CoinOf(amount, cur.Ticker), nil
}

// Relay processes up to max queued packets and delivers their outcome to
// the owning contracts. A non-positive max relays the packets queued when the
// call starts; packets queued while relaying wait for the next call.
func (h *Host) Relay(ctx context.Context, max int) (int, error) {
	if pending := h.venue.Pending(); max <= 0 || max > pending {
		max = pending
	}
	n := 0
	for n < max {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		p, ok := h.venue.pop()
		if !ok {
			break
		}
		n++
		h.logger.Debug("relaying packet", "component", "runtime", "kind", p.kind.String(), "seq", p.seq, "owner", p.owner.String())
		if err := h.relay(ctx, p); err != nil {
			return n, fmt.Errorf("relay %s packet %d: %w", p.kind, p.seq, err)
		}
	}
	return n, nil
}

// RelayRounds calls Relay until the queue is empty or rounds calls were made,
// so acknowledgements that queue follow-up packets are carried through.
func (h *Host) RelayRounds(ctx context.Context, rounds int) (int, error) {
	total := 0
	for i := 0; i < rounds; i++ {
		n, err := h.Relay(ctx, 0)
		total += n
		if err != nil || n == 0 {
			return total, err
		}
	}
	return total, nil
}

func (h *Host) relay(ctx context.Context, p packet) error {
	request := platform.Packet{Sequence: p.seq, SourceChannel: p.connection}
	switch p.kind {
	case packetRegister:
		host := h.venue.openAccount(p.owner, p.connection)
		version, err := json.Marshal(platform.OpenAckVersion{
			Version:                "ics27-1",
			ControllerConnectionID: p.connection,
			HostConnectionID:       p.connection,
			Address:                host,
			Encoding:               "rlp",
			TxType:                 "sdk_multi_msg",
		})
		if err != nil {
			return err
		}
		_, err = h.Sudo(ctx, p.owner, platform.SudoMsg{OpenAck: &platform.OpenAck{
			PortID:                "icacontroller-" + p.owner.String(),
			ChannelID:             fmt.Sprintf("channel-%d", p.seq),
			CounterpartyChannelID: fmt.Sprintf("channel-%d", p.seq),
			CounterpartyVersion:   string(version),
		}})
		return err
	case packetTx:
		if h.venue.takeTimeout() {
			_, err := h.Sudo(ctx, p.owner, platform.SudoMsg{Timeout: &platform.SudoTimeout{Request: request}})
			return err
		}
		data, home, err := h.venue.execute(p.owner, p.connection, p.trx)
		if err != nil {
			_, serr := h.Sudo(ctx, p.owner, platform.SudoMsg{Error: &platform.SudoError{Request: request, Details: err.Error()}})
			return serr
		}
		if len(home) > 0 {
			if h.venue.delayed() {
				for _, c := range home {
					h.venue.enqueue(packet{kind: packetTransferIn, owner: p.owner, credit: c})
				}
			} else if err := h.Mint(p.owner, home...); err != nil {
				return err
			}
		}
		_, err = h.Sudo(ctx, p.owner, platform.SudoMsg{Response: &platform.SudoResponse{Request: request, Data: data}})
		return err
	case packetTransferOut:
		request.SourceChannel = p.transfer.Channel
		if h.venue.takeTimeout() {
			if err := h.Mint(p.owner, p.transfer.Token); err != nil {
				return err
			}
			_, err := h.Sudo(ctx, p.owner, platform.SudoMsg{Timeout: &platform.SudoTimeout{Request: request}})
			return err
		}
		if err := h.venue.credit(p.transfer.Receiver, p.transfer.Token); err != nil {
			return err
		}
		_, err := h.Sudo(ctx, p.owner, platform.SudoMsg{Response: &platform.SudoResponse{Request: request, Data: []byte(`{"result":"AQ=="}`)}})
		return err
	case packetTransferIn:
		return h.Mint(p.owner, p.credit)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedMsg, p.kind)
	}
}
