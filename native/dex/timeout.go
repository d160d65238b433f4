package dex

import (
	"nhblease/observability"
	"nhblease/platform"
)

// OnTimeoutRepairChannel answers a remote timeout by re-opening the account
// channel on the same connection. The state stays unchanged and re-enters its
// step once the open acknowledgement is delivered to it.
func OnTimeoutRepairChannel[R any](label string, dex ConnectionParams, env platform.Env) (Response[R], error) {
	observability.Lease().RecordChannelRepair(label)
	batch := platform.RegisterAccount(dex.ConnectionID)
	return Stay[R](platform.MessagesWithEvent(batch, timeoutEmitter(label, env))), nil
}

// OnTimeoutRetry answers the timeout of a local transfer by entering the
// current step again.
func OnTimeoutRetry[R any](current Enterable[R], label string, env platform.Env, q platform.Querier) (Response[R], error) {
	batch, err := current.Enter(env, q)
	if err != nil {
		return Response[R]{}, err
	}
	return Stay[R](platform.MessagesWithEvent(batch, timeoutEmitter(label, env))), nil
}

func timeoutEmitter(label string, env platform.Env) *platform.Emitter {
	return platform.NewEmitter(label).
		EmitTxInfo(env).
		EmitAddress("id", env.Self).
		EmitBool("timeout", true)
}

// OnErrorRetryLater answers a rejected remote operation by waiting one
// transaction timeout and entering the current step again. No packet is sent
// until the retry alarm fires.
func OnErrorRetryLater[R any](current Enterable[R], label, details string, task SwapTask[R], env platform.Env, q platform.Querier) (Response[R], error) {
	observability.Lease().RecordRemoteError(label)
	retry := NewRetryDelay[R](current, task.TimeAlarm(), task.DexAccount().Dex.TxTimeout)
	batch, err := retry.Enter(env, q)
	if err != nil {
		return Response[R]{}, err
	}
	e := platform.NewEmitter(label).
		EmitTxInfo(env).
		EmitAddress("id", env.Self).
		Emit("error", details)
	return Transition[R](retry, platform.MessagesWithEvent(batch, e)), nil
}
