package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"nhblease/crypto"
	"nhblease/finance"
	"nhblease/platform"
	"nhblease/storage"
)

var (
	alice = crypto.NewAddress(crypto.AccountPrefix, []byte("alice-address-000001"))
	start = finance.TimestampFromSeconds(1_700_000_000)
)

type fakeMsg struct {
	Inc   *struct{}  `json:"inc,omitempty"`
	Fail  *struct{}  `json:"fail,omitempty"`
	Call  *fakeCall `json:"call,omitempty"`
	Remit *struct{}  `json:"remit,omitempty"`
}

type fakeCall struct {
	Target  crypto.Address   `json:"target"`
	Fail    bool             `json:"fail"`
	ReplyOn platform.ReplyOn `json:"reply_on"`
	Remote  bool             `json:"remote"`
}

// fakeContract counts invocations and records the replies it receives.
type fakeContract struct{}

func counter(db storage.Database, key string) int {
	raw, err := db.Get([]byte(key))
	if err != nil {
		return 0
	}
	n, _ := strconv.Atoi(string(raw))
	return n
}

func bump(db storage.Database, key string) error {
	return db.Put([]byte(key), []byte(strconv.Itoa(counter(db, key)+1)))
}

func (fakeContract) Instantiate(deps platform.Deps, _ platform.Env, _ platform.MessageInfo, _ json.RawMessage) (platform.MessageResponse, error) {
	return platform.MessageResponse{}, bump(deps.Storage, "instantiated")
}

func (fakeContract) Execute(deps platform.Deps, env platform.Env, info platform.MessageInfo, raw json.RawMessage) (platform.MessageResponse, error) {
	var msg fakeMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		return platform.MessageResponse{}, err
	}
	if err := bump(deps.Storage, "count"); err != nil {
		return platform.MessageResponse{}, err
	}
	switch {
	case msg.Fail != nil:
		return platform.MessageResponse{}, errors.New("contract failure")
	case msg.Remit != nil:
		var b platform.Batch
		b.Schedule(platform.BankSend{To: info.Sender, Amount: info.Funds})
		return platform.MessageResponse{Messages: b, Data: []byte("remitted")}, nil
	case msg.Call != nil:
		var b platform.Batch
		if msg.Call.Remote {
			b.Schedule(platform.RegisterICA{ConnectionID: "connection-0", AccountID: "0"})
		}
		inner := fakeMsg{Inc: &struct{}{}}
		if msg.Call.Fail {
			inner = fakeMsg{Fail: &struct{}{}}
		}
		exec, err := platform.NewExecute(msg.Call.Target, inner)
		if err != nil {
			return platform.MessageResponse{}, err
		}
		b.Schedule(exec)
		subs := b.Messages()
		var out platform.Batch
		for i, sub := range subs {
			if i == len(subs)-1 {
				switch msg.Call.ReplyOn {
				case platform.ReplyAlways:
					out.ScheduleReplyAlways(sub.Msg, 7)
				case platform.ReplyOnError:
					out.ScheduleReplyOnError(sub.Msg, 7)
				case platform.ReplyOnSuccess:
					out.ScheduleReplyOnSuccess(sub.Msg, 7)
				default:
					out.Schedule(sub.Msg)
				}
				continue
			}
			out.Schedule(sub.Msg)
		}
		return platform.MessagesOnly(out), nil
	}
	return platform.MessageResponse{}, nil
}

func (fakeContract) Sudo(deps platform.Deps, _ platform.Env, msg platform.SudoMsg) (platform.MessageResponse, error) {
	if msg.OpenAck != nil {
		return platform.MessageResponse{}, deps.Storage.Put([]byte("host"), []byte(msg.OpenAck.CounterpartyVersion))
	}
	return platform.MessageResponse{}, bump(deps.Storage, "sudo")
}

func (fakeContract) Reply(deps platform.Deps, _ platform.Env, reply platform.Reply) (platform.MessageResponse, error) {
	key := "reply-ok"
	if !reply.Result.IsOk() {
		key = "reply-err"
	}
	return platform.MessageResponse{Data: []byte(key)}, bump(deps.Storage, key)
}

func (fakeContract) Query(deps platform.Deps, _ platform.Env, raw json.RawMessage) (json.RawMessage, error) {
	var key string
	if err := json.Unmarshal(raw, &key); err != nil {
		return nil, err
	}
	n := counter(deps.Storage, key)
	if err := deps.Storage.Put([]byte("queried"), []byte("1")); err != nil {
		return nil, err
	}
	return json.Marshal(n)
}

func newTestHost(t *testing.T) (*Host, crypto.Address, crypto.Address) {
	t.Helper()
	require.NoError(t, finance.RegisterCurrencies(
		finance.Currency{Ticker: "USDC", DexSymbol: "ibc/usdc", Group: finance.GroupLpn},
		finance.Currency{Ticker: "ATOM", DexSymbol: "ibc/atom", Group: finance.GroupLease},
	))
	h := NewHost(storage.NewMemDB(), WithClock(start))
	return h, h.Deploy("caller", fakeContract{}), h.Deploy("callee", fakeContract{})
}

func count(t *testing.T, h *Host, contract crypto.Address, key string) int {
	t.Helper()
	var n int
	require.NoError(t, h.Query(context.Background(), contract, key, &n))
	return n
}

func TestSubMessageSuccessCommits(t *testing.T) {
	h, caller, callee := newTestHost(t)
	ctx := context.Background()

	_, err := h.Execute(ctx, caller, alice, fakeMsg{Call: &fakeCall{Target: callee, ReplyOn: platform.ReplyOnSuccess}})
	require.NoError(t, err)
	require.Equal(t, 1, count(t, h, caller, "count"))
	require.Equal(t, 1, count(t, h, callee, "count"))
	require.Equal(t, 1, count(t, h, caller, "reply-ok"))
	require.Zero(t, count(t, h, caller, "queried"))
}

func TestUnrepliedFailureRevertsCaller(t *testing.T) {
	h, caller, callee := newTestHost(t)
	ctx := context.Background()

	_, err := h.Execute(ctx, caller, alice, fakeMsg{Call: &fakeCall{Target: callee, Fail: true, Remote: true}})
	require.Error(t, err)
	require.Zero(t, count(t, h, caller, "count"))
	require.Zero(t, count(t, h, callee, "count"))
	require.Zero(t, h.Venue().Pending())
}

func TestRepliedFailureRevertsOnlyTheSubMessage(t *testing.T) {
	h, caller, callee := newTestHost(t)
	ctx := context.Background()

	res, err := h.Execute(ctx, caller, alice, fakeMsg{Call: &fakeCall{Target: callee, Fail: true, ReplyOn: platform.ReplyOnError, Remote: true}})
	require.NoError(t, err)
	require.Equal(t, []byte("reply-err"), res.Data)
	require.Equal(t, 1, count(t, h, caller, "count"))
	require.Equal(t, 1, count(t, h, caller, "reply-err"))
	require.Zero(t, count(t, h, callee, "count"))
	require.Equal(t, 1, h.Venue().Pending())
}

func TestRelayStopsOnCancelledContext(t *testing.T) {
	h, caller, callee := newTestHost(t)
	ctx, cancel := context.WithCancel(context.Background())

	for i := 0; i < 2; i++ {
		_, err := h.Execute(ctx, caller, alice, fakeMsg{Call: &fakeCall{Target: callee, Remote: true}})
		require.NoError(t, err)
	}
	cancel()
	n, err := h.Relay(ctx, 0)
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, n)
	require.Equal(t, 2, h.Venue().Pending())

	n, err = h.Relay(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Zero(t, h.Venue().Pending())
}

func TestReplyOnErrorSkipsSuccess(t *testing.T) {
	h, caller, callee := newTestHost(t)

	res, err := h.Execute(context.Background(), caller, alice, fakeMsg{Call: &fakeCall{Target: callee, ReplyOn: platform.ReplyOnError}})
	require.NoError(t, err)
	require.Nil(t, res.Data)
	require.Zero(t, count(t, h, caller, "reply-ok"))
	require.Equal(t, 1, count(t, h, callee, "count"))
}

func TestFundsMoveWithExecute(t *testing.T) {
	h, caller, _ := newTestHost(t)
	ctx := context.Background()
	require.NoError(t, h.Mint(alice, finance.NewCoin(100, "USDC")))

	_, err := h.Execute(ctx, caller, alice, fakeMsg{Inc: &struct{}{}}, finance.NewCoin(40, "USDC"))
	require.NoError(t, err)
	bal, err := h.Balance(caller, "USDC")
	require.NoError(t, err)
	require.Equal(t, finance.NewCoin(40, "USDC"), bal)

	_, err = h.Execute(ctx, caller, alice, fakeMsg{Inc: &struct{}{}}, finance.NewCoin(100, "USDC"))
	require.ErrorIs(t, err, ErrInsufficientFunds)

	res, err := h.Execute(ctx, caller, alice, fakeMsg{Remit: &struct{}{}}, finance.NewCoin(60, "USDC"))
	require.NoError(t, err)
	require.Equal(t, []byte("remitted"), res.Data)
	bal, err = h.Balance(alice, "USDC")
	require.NoError(t, err)
	require.Equal(t, finance.NewCoin(60, "USDC"), bal)
}

func TestInjectedFaultIsConsumed(t *testing.T) {
	h, caller, _ := newTestHost(t)
	ctx := context.Background()
	h.FailExecute(caller, "inc", 1)

	_, err := h.Execute(ctx, caller, alice, fakeMsg{Inc: &struct{}{}})
	require.ErrorIs(t, err, ErrInjectedFault)
	_, err = h.Execute(ctx, caller, alice, fakeMsg{Inc: &struct{}{}})
	require.NoError(t, err)
	require.Equal(t, 1, count(t, h, caller, "count"))
}

func TestUnknownContract(t *testing.T) {
	h, _, _ := newTestHost(t)
	stranger := crypto.NewAddress(crypto.AccountPrefix, []byte("stranger-address-001"))

	_, err := h.Execute(context.Background(), stranger, alice, fakeMsg{Inc: &struct{}{}})
	require.ErrorIs(t, err, platform.ErrUnknownContract)
}

func TestRelayOpensStableAccount(t *testing.T) {
	h, caller, callee := newTestHost(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := h.Execute(ctx, caller, alice, fakeMsg{Call: &fakeCall{Target: callee, Remote: true}})
		require.NoError(t, err)
		n, err := h.Relay(ctx, 0)
		require.NoError(t, err)
		require.Equal(t, 1, n)
	}
	host, ok := h.Venue().HostOf(caller, "connection-0")
	require.True(t, ok)
	account, err := platform.ParseRegisterResponse(string(mustGet(t, h, caller, "host")))
	require.NoError(t, err)
	require.Equal(t, host, account.String())
	decoded, err := crypto.DecodeAddress(host)
	require.NoError(t, err)
	require.Equal(t, crypto.RemotePrefix, decoded.Prefix())
}

func mustGet(t *testing.T, h *Host, contract crypto.Address, key string) []byte {
	t.Helper()
	raw, err := h.db.Get(append(contractPrefix(contract), key...))
	require.NoError(t, err)
	return raw
}

func TestAdvanceMovesClock(t *testing.T) {
	h, _, _ := newTestHost(t)
	h.Advance(5 * finance.Second)
	require.Equal(t, start.Add(5*finance.Second), h.Now())
}
