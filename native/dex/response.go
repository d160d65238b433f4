package dex

import (
	"errors"
	"fmt"

	"nhblease/finance"
	"nhblease/platform"
)

var (
	// ErrUnsupported is returned when a state receives an input it does not
	// accept. The caller keeps the state unchanged.
	ErrUnsupported = errors.New("dex: operation not supported in the current state")
	ErrNoCoins     = errors.New("dex: swap task declares no coins")
	// ErrCoinIndexOutOfRange is returned when an indexed visit points past the
	// last declared coin.
	ErrCoinIndexOutOfRange = errors.New("dex: coin index out of range")
)

// Response is the outcome of a handler call: the messages to dispatch and the
// state to persist next. A nil Next keeps the current state.
type Response[R any] struct {
	Messages platform.MessageResponse
	Next     Handler[R]
}

// Transition moves to next while dispatching msgs.
func Transition[R any](next Handler[R], msgs platform.MessageResponse) Response[R] {
	return Response[R]{Messages: msgs, Next: next}
}

// Stay keeps the current state while dispatching msgs.
func Stay[R any](msgs platform.MessageResponse) Response[R] {
	return Response[R]{Messages: msgs}
}

// Ignore accepts an input without any effect.
func Ignore[R any]() (Response[R], error) {
	return Response[R]{}, nil
}

// Unsupported rejects op.
func Unsupported[R any](op string) (Response[R], error) {
	return Response[R]{}, fmt.Errorf("%w: %s", ErrUnsupported, op)
}

// Handler is the capability set shared by every state of a workflow built on
// this package. R is the snapshot type the states report through State.
type Handler[R any] interface {
	// OnOpenAck receives the counterparty version of a freshly opened
	// interchain account channel.
	OnOpenAck(counterpartyVersion string, env platform.Env, q platform.Querier) (Response[R], error)
	// OnResponse receives the acknowledgement data of the pending remote
	// operation.
	OnResponse(data []byte, env platform.Env, q platform.Querier) (Response[R], error)
	// OnTimeout is called when the pending remote operation timed out.
	OnTimeout(env platform.Env, q platform.Querier) (Response[R], error)
	// OnError is called when the remote host rejected the pending operation.
	OnError(details string, env platform.Env, q platform.Querier) (Response[R], error)
	// OnTimeAlarm is called when an alarm set by the state fires. Stale
	// alarms are expected and ignored by default.
	OnTimeAlarm(env platform.Env, q platform.Querier) (Response[R], error)
	OnInner(env platform.Env, q platform.Querier) (Response[R], error)
	OnInnerContinue(env platform.Env, q platform.Querier) (Response[R], error)
	Reply(reply platform.Reply, env platform.Env, q platform.Querier) (Response[R], error)
	State(now finance.Timestamp, q platform.Querier) (R, error)
}

// Enterable is a handler that dispatches its remote operation on entry.
type Enterable[R any] interface {
	Handler[R]
	Enter(env platform.Env, q platform.Querier) (platform.Batch, error)
}

// ResponseHandler processes a remote acknowledgement once it is delivered.
type ResponseHandler[R any] interface {
	Handler[R]
	HandleResponse(data []byte, env platform.Env, q platform.Querier) (Response[R], error)
	TimeAlarms() TimeAlarms
}

// OpenAckHandler processes an interchain account open acknowledgement once it
// is delivered.
type OpenAckHandler[R any] interface {
	Handler[R]
	HandleOpenAck(counterpartyVersion string, env platform.Env, q platform.Querier) (Response[R], error)
	TimeAlarms() TimeAlarms
}

// Base rejects every input except time alarms, which it ignores. States embed
// it and override what they accept.
type Base[R any] struct{}

func (Base[R]) OnOpenAck(string, platform.Env, platform.Querier) (Response[R], error) {
	return Unsupported[R]("open_ack")
}

func (Base[R]) OnResponse([]byte, platform.Env, platform.Querier) (Response[R], error) {
	return Unsupported[R]("response")
}

func (Base[R]) OnTimeout(platform.Env, platform.Querier) (Response[R], error) {
	return Unsupported[R]("timeout")
}

func (Base[R]) OnError(string, platform.Env, platform.Querier) (Response[R], error) {
	return Unsupported[R]("error")
}

func (Base[R]) OnTimeAlarm(platform.Env, platform.Querier) (Response[R], error) {
	return Ignore[R]()
}

func (Base[R]) OnInner(platform.Env, platform.Querier) (Response[R], error) {
	return Unsupported[R]("dex_callback")
}

func (Base[R]) OnInnerContinue(platform.Env, platform.Querier) (Response[R], error) {
	return Unsupported[R]("dex_callback_continue")
}

func (Base[R]) Reply(platform.Reply, platform.Env, platform.Querier) (Response[R], error) {
	return Unsupported[R]("reply")
}

// enterInto enters next and transitions into it.
func enterInto[R any](next Enterable[R], env platform.Env, q platform.Querier) (Response[R], error) {
	batch, err := next.Enter(env, q)
	if err != nil {
		return Response[R]{}, err
	}
	return Transition[R](next, platform.MessagesOnly(batch)), nil
}
