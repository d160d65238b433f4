package dex

import (
	"nhblease/finance"
	"nhblease/platform"
)

// TransferOut moves the task's coins from the owner to its account one coin
// per step, then enters the swap through an entry delay.
type TransferOut[R any] struct {
	Base[R]
	task      SwapTask[R]
	out       SwapOut
	coinIndex uint32
}

// NewTransferOut starts with the first coin. out selects where the swap
// following the transfers delivers its output.
func NewTransferOut[R any](task SwapTask[R], out SwapOut) *TransferOut[R] {
	return &TransferOut[R]{task: task, out: out}
}

// RestoreTransferOut rebuilds a persisted transfer positioned at coinIndex.
func RestoreTransferOut[R any](task SwapTask[R], out SwapOut, coinIndex uint32) *TransferOut[R] {
	return &TransferOut[R]{task: task, out: out, coinIndex: coinIndex}
}

func (t *TransferOut[R]) Task() SwapTask[R] { return t.task }

func (t *TransferOut[R]) Out() SwapOut { return t.out }

func (t *TransferOut[R]) CoinIndex() uint32 { return t.coinIndex }

func (t *TransferOut[R]) TimeAlarms() TimeAlarms { return t.task.TimeAlarm() }

func (t *TransferOut[R]) Enter(env platform.Env, _ platform.Querier) (platform.Batch, error) {
	sender := t.task.DexAccount().TransferTo(env.Now)
	_, err := VisitAtIndex(t.task, t.coinIndex, CoinVisitorFunc(func(coin finance.Coin) (IterNext, error) {
		return Stop, sender.Send(coin)
	}))
	if err != nil {
		return platform.Batch{}, err
	}
	return sender.Batch(), nil
}

func (t *TransferOut[R]) OnResponse(data []byte, env platform.Env, q platform.Querier) (Response[R], error) {
	return DeliverResponse[R](t, data, env, q)
}

// HandleResponse advances to the next coin or, after the last one, to the swap.
func (t *TransferOut[R]) HandleResponse(_ []byte, env platform.Env, q platform.Querier) (Response[R], error) {
	state, err := VisitAtIndex(t.task, t.coinIndex, CoinVisitorFunc(func(finance.Coin) (IterNext, error) {
		return Stop, nil
	}))
	if err != nil {
		return Response[R]{}, err
	}
	if state == Incomplete {
		return enterInto[R](RestoreTransferOut(t.task, t.out, t.coinIndex+1), env, q)
	}
	swap := NewSwapExactIn(t.task, t.out)
	return enterInto[R](NewEntryDelay[R](swap, t.task.TimeAlarm()), env, q)
}

func (t *TransferOut[R]) OnTimeout(env platform.Env, q platform.Querier) (Response[R], error) {
	return OnTimeoutRetry[R](t, t.task.Label(), env, q)
}

func (t *TransferOut[R]) OnError(details string, env platform.Env, q platform.Querier) (Response[R], error) {
	return OnErrorRetryLater[R](t, t.task.Label(), details, t.task, env, q)
}

func (t *TransferOut[R]) State(now finance.Timestamp, q platform.Querier) (R, error) {
	return t.task.State(StepTransferOut, now, q)
}
