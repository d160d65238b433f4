package dex

import (
	"errors"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"nhblease/finance"
)

func TestVisitAtIndexProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	tickers := []string{"A", "B", "X"}
	properties.Property("indexed visit equals a full iteration stopped at the index", prop.ForAll(
		func(amounts []uint64, index uint32) bool {
			coins := make([]finance.Coin, len(amounts))
			for i, amount := range amounts {
				coins[i] = finance.NewCoin(amount, tickers[i%len(tickers)])
			}
			task := &testTask{coins: coins}

			var visited []finance.Coin
			state, err := VisitAtIndex[string](task, index, CoinVisitorFunc(func(c finance.Coin) (IterNext, error) {
				visited = append(visited, c)
				return Continue, nil
			}))
			if int(index) >= len(coins) {
				return errors.Is(err, ErrCoinIndexOutOfRange) && len(visited) == 0
			}
			if err != nil || len(visited) != 1 {
				return false
			}

			var seen int
			var stopped finance.Coin
			fullState, err := VisitCoins(coins, CoinVisitorFunc(func(c finance.Coin) (IterNext, error) {
				seen++
				if seen == int(index)+1 {
					stopped = c
					return Stop, nil
				}
				return Continue, nil
			}))
			return err == nil && fullState == state && stopped == visited[0]
		},
		gen.SliceOf(gen.UInt64Range(1, 1_000_000)).SuchThat(func(v []uint64) bool { return len(v) > 0 }),
		gen.UInt32Range(0, 7),
	))

	properties.TestingRun(t)
}
