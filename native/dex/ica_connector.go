package dex

import (
	"nhblease/finance"
	"nhblease/platform"
)

// IcaConnectee is a workflow step that needs an interchain account before it
// can proceed.
type IcaConnectee[R any] interface {
	// Label is the event type emitted once the account is open.
	Label() string
	DexParams() ConnectionParams
	TimeAlarms() TimeAlarms
	// Connected builds the step that follows the account opening.
	Connected(account Account) Enterable[R]
	State(now finance.Timestamp, q platform.Querier) (R, error)
}

// IcaConnector opens the interchain account of its connectee.
type IcaConnector[R any] struct {
	Base[R]
	connectee IcaConnectee[R]
}

func NewIcaConnector[R any](connectee IcaConnectee[R]) *IcaConnector[R] {
	return &IcaConnector[R]{connectee: connectee}
}

func (c *IcaConnector[R]) Connectee() IcaConnectee[R] { return c.connectee }

func (c *IcaConnector[R]) Enter(platform.Env, platform.Querier) (platform.Batch, error) {
	return platform.RegisterAccount(c.connectee.DexParams().ConnectionID), nil
}

func (c *IcaConnector[R]) TimeAlarms() TimeAlarms { return c.connectee.TimeAlarms() }

func (c *IcaConnector[R]) OnOpenAck(version string, env platform.Env, q platform.Querier) (Response[R], error) {
	return DeliverOpenAck[R](c, version, env, q)
}

// HandleOpenAck builds the account and enters the connectee's next step.
func (c *IcaConnector[R]) HandleOpenAck(version string, env platform.Env, q platform.Querier) (Response[R], error) {
	host, err := platform.ParseRegisterResponse(version)
	if err != nil {
		return Response[R]{}, err
	}
	account, err := NewAccount(env.Self, host, c.connectee.DexParams())
	if err != nil {
		return Response[R]{}, err
	}
	next := c.connectee.Connected(account)
	batch, err := next.Enter(env, q)
	if err != nil {
		return Response[R]{}, err
	}
	emitter := platform.NewEmitter(c.connectee.Label()).
		EmitTxInfo(env).
		EmitAddress("id", env.Self).
		Emit("connection-id", account.Dex.ConnectionID).
		Emit("ica-host", host.String())
	return Transition[R](next, platform.MessagesWithEvent(batch, emitter)), nil
}

func (c *IcaConnector[R]) State(now finance.Timestamp, q platform.Querier) (R, error) {
	return c.connectee.State(now, q)
}
