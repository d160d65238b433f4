package lease

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"

	"nhblease/crypto"
	"nhblease/finance"
	"nhblease/native/common"
	"nhblease/native/dex"
	"nhblease/observability"
	"nhblease/platform"
	"nhblease/storage"
)

var (
	ErrInvalidForm    = errors.New("lease: invalid lease form")
	ErrInvalidPayment = errors.New("lease: invalid payment")
	ErrUnauthorized   = errors.New("lease: unauthorized")
	ErrInvalidMessage = errors.New("lease: invalid message")
)

// UnsupportedOperationError rejects a command the current state does not
// accept. The lease stays in place.
type UnsupportedOperationError struct {
	Op    string
	State string
}

func (e *UnsupportedOperationError) Error() string {
	return fmt.Sprintf("lease: %s is not supported in state %s", e.Op, e.State)
}

func (e *UnsupportedOperationError) Unwrap() error { return dex.ErrUnsupported }

var partiesKey = []byte("parties")

// parties are the addresses allowed to send privileged commands. They are
// fixed at instantiation.
type parties struct {
	Customer   crypto.Address
	Oracle     crypto.Address
	TimeAlarms crypto.Address
}

type repayer interface {
	Repay(payment finance.Coin, env platform.Env, q platform.Querier) (response, error)
}

type closer interface {
	Close(sender crypto.Address, env platform.Env, q platform.Querier) (response, error)
}

type priceAlarmHandler interface {
	OnPriceAlarm(env platform.Env, q platform.Querier) (response, error)
}

// Contract is the lease. Every invocation loads the state, feeds it the
// input and persists the state it moves to.
type Contract struct {
	Pauses common.PauseView
}

var _ platform.Contract = Contract{}

func (c Contract) Instantiate(deps platform.Deps, env platform.Env, info platform.MessageInfo, raw json.RawMessage) (platform.MessageResponse, error) {
	if err := common.Guard(c.Pauses, common.ModuleLease); err != nil {
		return platform.MessageResponse{}, err
	}
	var form NewLeaseForm
	if err := decodeJSON(raw, &form); err != nil {
		return platform.MessageResponse{}, err
	}
	if err := form.Validate(); err != nil {
		return platform.MessageResponse{}, err
	}
	downpayment, err := singleCoin(info.Funds)
	if err != nil {
		return platform.MessageResponse{}, err
	}
	o := opening{Form: form, Downpayment: downpayment}
	price, err := o.oracle().Price(deps.Querier, downpayment.Ticker)
	if err != nil {
		return platform.MessageResponse{}, err
	}
	value, err := price.Total(downpayment)
	if err != nil {
		return platform.MessageResponse{}, err
	}
	principal, err := form.Liability.InitBorrowAmount(value.Amount)
	if err != nil {
		return platform.MessageResponse{}, err
	}
	if principal.IsZero() {
		return platform.MessageResponse{}, fmt.Errorf("%w: downpayment %s too small", ErrInvalidPayment, downpayment)
	}
	o.Principal = finance.CoinOf(principal, form.Loan.Lpn)

	state := &requestLoan{opening: o}
	batch, err := state.Enter(env, deps.Querier)
	if err != nil {
		return platform.MessageResponse{}, err
	}
	if err := putParties(deps.Storage, parties{Customer: form.Customer, Oracle: form.Oracle, TimeAlarms: form.TimeAlarms}); err != nil {
		return platform.MessageResponse{}, err
	}
	if err := saveState(deps.Storage, state); err != nil {
		return platform.MessageResponse{}, err
	}
	deps.Log().Info("lease requested",
		"component", "lease",
		"lease", env.Self.String(),
		"customer", form.Customer.String(),
		"downpayment", downpayment.String(),
		"loan", o.Principal.String())
	return platform.MessagesWithEvent(batch, emitter(EventRequestLoan, env).
		EmitAddress("customer", form.Customer).
		Emit("currency", form.Currency).
		EmitCoin("downpayment", downpayment).
		EmitCoin("loan", o.Principal).
		EmitAddress("loan-pool-id", form.Loan.Lpp)), nil
}

func (c Contract) Execute(deps platform.Deps, env platform.Env, info platform.MessageInfo, raw json.RawMessage) (platform.MessageResponse, error) {
	var msg ExecuteMsg
	if err := decodeJSON(raw, &msg); err != nil {
		return platform.MessageResponse{}, err
	}
	op, err := msg.op()
	if err != nil {
		return platform.MessageResponse{}, err
	}
	who, err := getParties(deps.Storage)
	if err != nil {
		return platform.MessageResponse{}, err
	}
	return c.run(deps, env, op, func(state handler) (response, error) {
		q := deps.Querier
		switch {
		case msg.Repay != nil:
			if err := common.Guard(c.Pauses, common.ModuleLease); err != nil {
				return response{}, err
			}
			payment, err := singleCoin(info.Funds)
			if err != nil {
				return response{}, err
			}
			r, ok := state.(repayer)
			if !ok {
				return dex.Unsupported[StateResponse](op)
			}
			return r.Repay(payment, env, q)
		case msg.Close != nil:
			if err := common.Guard(c.Pauses, common.ModuleLease); err != nil {
				return response{}, err
			}
			if info.Sender != who.Customer {
				return response{}, fmt.Errorf("%w: %s is not the customer", ErrUnauthorized, info.Sender)
			}
			cl, ok := state.(closer)
			if !ok {
				return dex.Unsupported[StateResponse](op)
			}
			return cl.Close(info.Sender, env, q)
		case msg.PriceAlarm != nil:
			if info.Sender != who.Oracle {
				return response{}, fmt.Errorf("%w: price alarm from %s", ErrUnauthorized, info.Sender)
			}
			h, ok := state.(priceAlarmHandler)
			if !ok {
				return dex.Ignore[StateResponse]()
			}
			return h.OnPriceAlarm(env, q)
		case msg.TimeAlarm != nil:
			if info.Sender != who.TimeAlarms {
				return response{}, fmt.Errorf("%w: time alarm from %s", ErrUnauthorized, info.Sender)
			}
			if msg.TimeAlarm.Time.After(env.Now) {
				return response{}, fmt.Errorf("%w: time alarm for %s delivered at %s", ErrInvalidMessage, msg.TimeAlarm.Time, env.Now)
			}
			return state.OnTimeAlarm(env, q)
		case msg.DexCallback != nil:
			if info.Sender != env.Self {
				return response{}, fmt.Errorf("%w: callback from %s", ErrUnauthorized, info.Sender)
			}
			return state.OnInner(env, q)
		default:
			if info.Sender != env.Self {
				return response{}, fmt.Errorf("%w: callback from %s", ErrUnauthorized, info.Sender)
			}
			return state.OnInnerContinue(env, q)
		}
	})
}

func (c Contract) Sudo(deps platform.Deps, env platform.Env, msg platform.SudoMsg) (platform.MessageResponse, error) {
	q := deps.Querier
	switch {
	case msg.OpenAck != nil:
		return c.run(deps, env, "open_ack", func(state handler) (response, error) {
			return state.OnOpenAck(msg.OpenAck.CounterpartyVersion, env, q)
		})
	case msg.Response != nil:
		return c.run(deps, env, "response", func(state handler) (response, error) {
			return state.OnResponse(msg.Response.Data, env, q)
		})
	case msg.Timeout != nil:
		return c.run(deps, env, "timeout", func(state handler) (response, error) {
			return state.OnTimeout(env, q)
		})
	case msg.Error != nil:
		deps.Log().Warn("remote request failed",
			"component", "lease",
			"lease", env.Self.String(),
			"sequence", msg.Error.Request.Sequence,
			"details", msg.Error.Details)
		return c.run(deps, env, "error", func(state handler) (response, error) {
			return state.OnError(msg.Error.Details, env, q)
		})
	default:
		return platform.MessageResponse{}, platform.ErrUnknownMessage
	}
}

func (c Contract) Reply(deps platform.Deps, env platform.Env, reply platform.Reply) (platform.MessageResponse, error) {
	return c.run(deps, env, "reply", func(state handler) (response, error) {
		return state.Reply(reply, env, deps.Querier)
	})
}

func (Contract) Query(deps platform.Deps, env platform.Env, raw json.RawMessage) (json.RawMessage, error) {
	var msg QueryMsg
	if err := decodeJSON(raw, &msg); err != nil {
		return nil, err
	}
	if msg.State == nil {
		return nil, platform.ErrUnknownMessage
	}
	state, err := loadState(deps.Storage)
	if err != nil {
		return nil, err
	}
	resp, err := state.State(env.Now, deps.Querier)
	if err != nil {
		return nil, err
	}
	return json.Marshal(resp)
}

// run feeds the loaded state to input and persists the state it moves to.
func (Contract) run(deps platform.Deps, env platform.Env, op string, input func(handler) (response, error)) (platform.MessageResponse, error) {
	state, err := loadState(deps.Storage)
	if err != nil {
		return platform.MessageResponse{}, err
	}
	from := tagOf(state)
	resp, err := input(state)
	if errors.Is(err, dex.ErrUnsupported) {
		return platform.MessageResponse{}, &UnsupportedOperationError{Op: op, State: from}
	} else if err != nil {
		return platform.MessageResponse{}, err
	}
	if resp.Next != nil {
		if err := saveState(deps.Storage, resp.Next); err != nil {
			return platform.MessageResponse{}, err
		}
		to := tagOf(resp.Next)
		observability.Lease().RecordTransition(from, to)
		if from != to {
			deps.Log().Debug("lease transition",
				"component", "lease",
				"lease", env.Self.String(),
				"op", op,
				"from", from,
				"to", to)
		}
	}
	return resp.Messages, nil
}

func singleCoin(funds []finance.Coin) (finance.Coin, error) {
	if len(funds) != 1 || funds[0].IsZero() {
		return finance.Coin{}, fmt.Errorf("%w: expected one non-zero coin, got %d", ErrInvalidPayment, len(funds))
	}
	if _, err := finance.Registry().ByTicker(funds[0].Ticker); err != nil {
		return finance.Coin{}, fmt.Errorf("%w: %v", ErrInvalidPayment, err)
	}
	return funds[0], nil
}

func putParties(db storage.Database, p parties) error {
	raw, err := rlp.EncodeToBytes(&p)
	if err != nil {
		return err
	}
	return db.Put(partiesKey, raw)
}

func getParties(db storage.Database) (parties, error) {
	raw, err := db.Get(partiesKey)
	if err != nil {
		return parties{}, fmt.Errorf("lease: load parties: %w", err)
	}
	var p parties
	if err := rlp.DecodeBytes(raw, &p); err != nil {
		return parties{}, fmt.Errorf("lease: decode parties: %w", err)
	}
	return p, nil
}

func decodeJSON(raw []byte, out any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("%w: %v", platform.ErrUnknownMessage, err)
	}
	return nil
}
