package dex

import (
	"nhblease/finance"
	"nhblease/platform"
)

// IterNext tells a coin traversal whether to go on.
type IterNext uint8

const (
	Continue IterNext = iota
	Stop
)

// IterState reports whether a traversal reached the last coin.
type IterState uint8

const (
	Complete IterState = iota
	Incomplete
)

func (s IterState) String() string {
	if s == Complete {
		return "complete"
	}
	return "incomplete"
}

// CoinVisitor is called once per visited coin.
type CoinVisitor interface {
	Visit(coin finance.Coin) (IterNext, error)
}

// CoinVisitorFunc adapts a function to CoinVisitor.
type CoinVisitorFunc func(coin finance.Coin) (IterNext, error)

func (f CoinVisitorFunc) Visit(coin finance.Coin) (IterNext, error) { return f(coin) }

// VisitCoins walks coins in order until the visitor stops or fails. The
// traversal is Complete once the last coin has been visited.
func VisitCoins(coins []finance.Coin, v CoinVisitor) (IterState, error) {
	if len(coins) == 0 {
		return Incomplete, ErrNoCoins
	}
	for i, coin := range coins {
		next, err := v.Visit(coin)
		if err != nil {
			return Incomplete, err
		}
		if next == Stop && i < len(coins)-1 {
			return Incomplete, nil
		}
	}
	return Complete, nil
}

// SwapPathFinder resolves the venue route between two currencies.
type SwapPathFinder interface {
	SwapPath(from, to string) ([]platform.SwapRoute, error)
}

// TimeAlarms schedules a wake-up of the calling contract.
type TimeAlarms interface {
	SetupAlarm(at finance.Timestamp) (platform.Batch, error)
}

// Step names the sub-operation a swap task is in, reported by queries.
type Step string

const (
	StepOpenIca          Step = "open-ica"
	StepTransferOut      Step = "transfer-out"
	StepSwap             Step = "swap"
	StepTransferInInit   Step = "transfer-in-init"
	StepTransferInFinish Step = "transfer-in-finish"
)

// SwapTask declares a multi-coin exchange and what happens with its output.
// The coin list is fixed for the task's lifetime.
type SwapTask[R any] interface {
	// Label is the event type emitted on the task's sub-operations.
	Label() string
	DexAccount() Account
	Oracle(q platform.Querier) SwapPathFinder
	TimeAlarm() TimeAlarms
	OutCurrency() string
	// OnCoins visits the input coins in declaration order.
	OnCoins(v CoinVisitor) (IterState, error)
	// Finish consumes the output of the whole exchange.
	Finish(out finance.Coin, env platform.Env, q platform.Querier) (Response[R], error)
	State(step Step, now finance.Timestamp, q platform.Querier) (R, error)
}

// VisitAtIndex walks past the first index coins and hands the coin at index
// to v, then stops. The result is Complete when that coin was the last one.
func VisitAtIndex[R any](task SwapTask[R], index uint32, v CoinVisitor) (IterState, error) {
	adapter := &indexVisitor{remaining: index, inner: v}
	state, err := task.OnCoins(adapter)
	if err != nil {
		return state, err
	}
	if !adapter.visited {
		return state, ErrCoinIndexOutOfRange
	}
	return state, nil
}

type indexVisitor struct {
	remaining uint32
	inner     CoinVisitor
	visited   bool
}

func (v *indexVisitor) Visit(coin finance.Coin) (IterNext, error) {
	if v.remaining > 0 {
		v.remaining--
		return Continue, nil
	}
	if _, err := v.inner.Visit(coin); err != nil {
		return Stop, err
	}
	v.visited = true
	return Stop, nil
}
