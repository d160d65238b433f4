package dex

import (
	"nhblease/finance"
	"nhblease/native/common"
	"nhblease/platform"
)

// SwapOut selects where the output of a swap ends up.
type SwapOut uint8

const (
	// OutRemote leaves the output on the account and finishes the task.
	OutRemote SwapOut = iota
	// OutLocal transfers the output back to the owner before finishing.
	OutLocal
)

func (o SwapOut) String() string {
	if o == OutLocal {
		return "local"
	}
	return "remote"
}

// SwapExactIn swaps every coin of the task into its output currency within
// one remote transaction.
type SwapExactIn[R any] struct {
	Base[R]
	task SwapTask[R]
	out  SwapOut
}

func NewSwapExactIn[R any](task SwapTask[R], out SwapOut) *SwapExactIn[R] {
	return &SwapExactIn[R]{task: task, out: out}
}

func (s *SwapExactIn[R]) Task() SwapTask[R] { return s.task }

func (s *SwapExactIn[R]) Out() SwapOut { return s.out }

func (s *SwapExactIn[R]) TimeAlarms() TimeAlarms { return s.task.TimeAlarm() }

func (s *SwapExactIn[R]) Enter(_ platform.Env, q platform.Querier) (platform.Batch, error) {
	trx := s.task.DexAccount().Swap(s.task.Oracle(q))
	outCurrency := s.task.OutCurrency()
	state, err := s.task.OnCoins(CoinVisitorFunc(func(coin finance.Coin) (IterNext, error) {
		return Continue, trx.SwapExactIn(coin, outCurrency)
	}))
	if err != nil {
		return platform.Batch{}, err
	}
	if err := assertComplete(state, "swap request"); err != nil {
		return platform.Batch{}, err
	}
	return trx.Batch()
}

func (s *SwapExactIn[R]) OnResponse(data []byte, env platform.Env, q platform.Querier) (Response[R], error) {
	return DeliverResponse[R](s, data, env, q)
}

// HandleResponse sums the swap outputs and moves on with a coin of the output
// currency.
func (s *SwapExactIn[R]) HandleResponse(data []byte, env platform.Env, q platform.Querier) (Response[R], error) {
	out, err := s.decodeResponse(data)
	if err != nil {
		return Response[R]{}, err
	}
	if s.out == OutLocal {
		return enterInto[R](NewTransferInInit(s.task, out), env, q)
	}
	return s.task.Finish(out, env, q)
}

func (s *SwapExactIn[R]) decodeResponse(data []byte) (finance.Coin, error) {
	resps, err := platform.NewResponses(data)
	if err != nil {
		return finance.Coin{}, err
	}
	outCurrency := s.task.OutCurrency()
	total := finance.ZeroCoin(outCurrency)
	state, err := s.task.OnCoins(CoinVisitorFunc(func(coin finance.Coin) (IterNext, error) {
		amount, err := ExactAmountIn(resps, coin, outCurrency)
		if err != nil {
			return Stop, err
		}
		total, err = total.Add(finance.CoinOf(amount, outCurrency))
		return Continue, err
	}))
	if err != nil {
		return finance.Coin{}, err
	}
	if err := assertComplete(state, "swap response"); err != nil {
		return finance.Coin{}, err
	}
	if err := resps.Finish(); err != nil {
		return finance.Coin{}, err
	}
	return total, nil
}

func (s *SwapExactIn[R]) OnTimeout(env platform.Env, _ platform.Querier) (Response[R], error) {
	return OnTimeoutRepairChannel[R](s.task.Label(), s.task.DexAccount().Dex, env)
}

func (s *SwapExactIn[R]) OnError(details string, env platform.Env, q platform.Querier) (Response[R], error) {
	return OnErrorRetryLater[R](s, s.task.Label(), details, s.task, env, q)
}

func (s *SwapExactIn[R]) OnOpenAck(version string, env platform.Env, q platform.Querier) (Response[R], error) {
	return DeliverOpenAck[R](s, version, env, q)
}

// HandleOpenAck replays the swap over the repaired channel.
func (s *SwapExactIn[R]) HandleOpenAck(_ string, env platform.Env, q platform.Querier) (Response[R], error) {
	return enterInto[R](s, env, q)
}

func (s *SwapExactIn[R]) State(now finance.Timestamp, q platform.Querier) (R, error) {
	return s.task.State(StepSwap, now, q)
}

func assertComplete(state IterState, what string) error {
	return common.Invariant(state == Complete, "%s visited coins partially", what)
}
