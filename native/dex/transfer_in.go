package dex

import (
	"nhblease/finance"
	"nhblease/platform"
)

// TransferInPollDelay is the interval between two balance checks while the
// transferred funds have not arrived yet.
const TransferInPollDelay = 2 * finance.Second

// TransferInInit transfers an amount held by the account back to its owner.
type TransferInInit[R any] struct {
	Base[R]
	task   SwapTask[R]
	amount finance.Coin
}

func NewTransferInInit[R any](task SwapTask[R], amount finance.Coin) *TransferInInit[R] {
	return &TransferInInit[R]{task: task, amount: amount}
}

func (t *TransferInInit[R]) Task() SwapTask[R] { return t.task }

func (t *TransferInInit[R]) Amount() finance.Coin { return t.amount }

func (t *TransferInInit[R]) TimeAlarms() TimeAlarms { return t.task.TimeAlarm() }

func (t *TransferInInit[R]) Enter(env platform.Env, _ platform.Querier) (platform.Batch, error) {
	sender := t.task.DexAccount().TransferFrom(env.Now)
	if err := sender.Send(t.amount); err != nil {
		return platform.Batch{}, err
	}
	return sender.Batch()
}

func (t *TransferInInit[R]) OnResponse(data []byte, env platform.Env, q platform.Querier) (Response[R], error) {
	return DeliverResponse[R](t, data, env, q)
}

// HandleResponse waits for the funds to land locally. The acknowledgement
// may arrive before the bank credit does.
func (t *TransferInInit[R]) HandleResponse(_ []byte, env platform.Env, q platform.Querier) (Response[R], error) {
	finish := NewTransferInFinish(t.task, t.amount, env.Now.Add(t.task.DexAccount().Dex.TxTimeout))
	return finish.TryComplete(env, q)
}

func (t *TransferInInit[R]) OnTimeout(env platform.Env, _ platform.Querier) (Response[R], error) {
	return OnTimeoutRepairChannel[R](t.task.Label(), t.task.DexAccount().Dex, env)
}

func (t *TransferInInit[R]) OnError(details string, env platform.Env, q platform.Querier) (Response[R], error) {
	return OnErrorRetryLater[R](t, t.task.Label(), details, t.task, env, q)
}

func (t *TransferInInit[R]) OnOpenAck(version string, env platform.Env, q platform.Querier) (Response[R], error) {
	return DeliverOpenAck[R](t, version, env, q)
}

// HandleOpenAck replays the transfer over the repaired channel.
func (t *TransferInInit[R]) HandleOpenAck(_ string, env platform.Env, q platform.Querier) (Response[R], error) {
	return enterInto[R](t, env, q)
}

func (t *TransferInInit[R]) State(now finance.Timestamp, q platform.Querier) (R, error) {
	return t.task.State(StepTransferInInit, now, q)
}

// TransferInFinish polls the owner's balance until the transferred amount is
// there or the deadline passes, in which case the transfer is started over.
type TransferInFinish[R any] struct {
	Base[R]
	task     SwapTask[R]
	amount   finance.Coin
	deadline finance.Timestamp
}

func NewTransferInFinish[R any](task SwapTask[R], amount finance.Coin, deadline finance.Timestamp) *TransferInFinish[R] {
	return &TransferInFinish[R]{task: task, amount: amount, deadline: deadline}
}

func (t *TransferInFinish[R]) Task() SwapTask[R] { return t.task }

func (t *TransferInFinish[R]) Amount() finance.Coin { return t.amount }

func (t *TransferInFinish[R]) Deadline() finance.Timestamp { return t.deadline }

func (t *TransferInFinish[R]) TryComplete(env platform.Env, q platform.Querier) (Response[R], error) {
	balance, err := q.QueryBalance(env.Self, t.amount.Ticker)
	if err != nil {
		return Response[R]{}, err
	}
	if !balance.Amount.Lt(t.amount.Amount) {
		return t.task.Finish(t.amount, env, q)
	}
	if !env.Now.Before(t.deadline) {
		return enterInto[R](NewTransferInInit(t.task, t.amount), env, q)
	}
	batch, err := t.task.TimeAlarm().SetupAlarm(env.Now.Add(TransferInPollDelay))
	if err != nil {
		return Response[R]{}, err
	}
	return Transition[R](t, platform.MessagesOnly(batch)), nil
}

func (t *TransferInFinish[R]) OnTimeAlarm(env platform.Env, q platform.Querier) (Response[R], error) {
	return t.TryComplete(env, q)
}

func (t *TransferInFinish[R]) State(now finance.Timestamp, q platform.Querier) (R, error) {
	return t.task.State(StepTransferInFinish, now, q)
}
