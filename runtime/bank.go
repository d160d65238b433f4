package runtime

import (
	"errors"
	"fmt"

	"nhblease/crypto"
	"nhblease/finance"
	"nhblease/storage"
)

var ErrInsufficientFunds = errors.New("runtime: insufficient funds")

var bankPrefix = []byte("bank/")

// bank keeps local balances in the host store so transfers commit and revert
// together with the contract state of an invocation.
type bank struct {
	db storage.Database
}

func balanceKey(addr crypto.Address, ticker string) []byte {
	key := append(append([]byte(nil), bankPrefix...), addr.Bytes()...)
	return append(append(key, '/'), ticker...)
}

func (b bank) balance(addr crypto.Address, ticker string) (finance.Coin, error) {
	raw, err := b.db.Get(balanceKey(addr, ticker))
	if storage.IsNotFound(err) {
		return finance.ZeroCoin(ticker), nil
	} else if err != nil {
		return finance.Coin{}, err
	}
	amount, err := finance.ParseAmount(string(raw))
	if err != nil {
		return finance.Coin{}, fmt.Errorf("runtime: corrupted balance of %s: %w", addr, err)
	}
	return finance.CoinOf(amount, ticker), nil
}

func (b bank) set(addr crypto.Address, c finance.Coin) error {
	if c.IsZero() {
		return b.db.Delete(balanceKey(addr, c.Ticker))
	}
	return b.db.Put(balanceKey(addr, c.Ticker), []byte(c.Amount.String()))
}

func (b bank) mint(addr crypto.Address, c finance.Coin) error {
	current, err := b.balance(addr, c.Ticker)
	if err != nil {
		return err
	}
	sum, err := current.Add(c)
	if err != nil {
		return err
	}
	return b.set(addr, sum)
}

func (b bank) burn(addr crypto.Address, c finance.Coin) error {
	current, err := b.balance(addr, c.Ticker)
	if err != nil {
		return err
	}
	if current.Amount.Lt(c.Amount) {
		return fmt.Errorf("%w: %s holds %s, needs %s", ErrInsufficientFunds, addr, current, c)
	}
	rest, err := current.Sub(c)
	if err != nil {
		return err
	}
	return b.set(addr, rest)
}

func (b bank) send(from, to crypto.Address, coins []finance.Coin) error {
	for _, c := range coins {
		if err := b.burn(from, c); err != nil {
			return err
		}
		if err := b.mint(to, c); err != nil {
			return err
		}
	}
	return nil
}
