package finance

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
)

var (
	ErrCurrencyMismatch = errors.New("finance: currency mismatch")
	ErrUnknownCurrency  = errors.New("finance: unknown currency")
	ErrDuplicateTicker  = errors.New("finance: duplicate currency ticker")
)

// Group classifies a currency by the role it plays in a lease.
type Group string

const (
	GroupLpn    Group = "lpn"
	GroupLease  Group = "lease"
	GroupNative Group = "native"
)

// Currency describes a ticker known to the protocol and the symbol the
// trading venue uses for it.
type Currency struct {
	Ticker    string `json:"ticker" toml:"ticker" yaml:"ticker"`
	DexSymbol string `json:"dex_symbol" toml:"dex_symbol" yaml:"dex_symbol"`
	Group     Group  `json:"group" toml:"group" yaml:"group"`
}

// Currencies is an immutable ticker registry.
type Currencies struct {
	byTicker map[string]Currency
	bySymbol map[string]Currency
}

func NewCurrencies(list ...Currency) (*Currencies, error) {
	out := &Currencies{
		byTicker: make(map[string]Currency, len(list)),
		bySymbol: make(map[string]Currency, len(list)),
	}
	for _, c := range list {
		ticker := strings.TrimSpace(c.Ticker)
		if ticker == "" || strings.TrimSpace(c.DexSymbol) == "" {
			return nil, fmt.Errorf("%w: empty ticker or dex symbol", ErrUnknownCurrency)
		}
		switch c.Group {
		case GroupLpn, GroupLease, GroupNative:
		default:
			return nil, fmt.Errorf("finance: currency %s has unknown group %q", ticker, c.Group)
		}
		if _, dup := out.byTicker[ticker]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateTicker, ticker)
		}
		c.Ticker = ticker
		out.byTicker[ticker] = c
		out.bySymbol[c.DexSymbol] = c
	}
	return out, nil
}

func (c *Currencies) ByTicker(ticker string) (Currency, error) {
	cur, ok := c.byTicker[ticker]
	if !ok {
		return Currency{}, fmt.Errorf("%w: %s", ErrUnknownCurrency, ticker)
	}
	return cur, nil
}

func (c *Currencies) ByDexSymbol(symbol string) (Currency, error) {
	cur, ok := c.bySymbol[symbol]
	if !ok {
		return Currency{}, fmt.Errorf("%w: dex symbol %s", ErrUnknownCurrency, symbol)
	}
	return cur, nil
}

// InGroup reports whether ticker is registered under group.
func (c *Currencies) InGroup(ticker string, group Group) bool {
	cur, ok := c.byTicker[ticker]
	return ok && cur.Group == group
}

// Tickers lists the registered tickers in lexical order.
func (c *Currencies) Tickers() []string {
	out := make([]string, 0, len(c.byTicker))
	for t := range c.byTicker {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

var registry atomic.Pointer[Currencies]

// RegisterCurrencies installs the process-wide registry. It is set once at
// start-up and read-only afterwards.
func RegisterCurrencies(list ...Currency) error {
	c, err := NewCurrencies(list...)
	if err != nil {
		return err
	}
	registry.Store(c)
	return nil
}

// Registry returns the process-wide currency registry.
func Registry() *Currencies {
	if c := registry.Load(); c != nil {
		return c
	}
	empty, _ := NewCurrencies()
	return empty
}

// Coin is an amount of a single currency.
type Coin struct {
	Amount Amount `json:"amount"`
	Ticker string `json:"ticker"`
}

func NewCoin(amount uint64, ticker string) Coin {
	return Coin{Amount: NewAmount(amount), Ticker: ticker}
}

func CoinOf(amount Amount, ticker string) Coin {
	return Coin{Amount: amount, Ticker: ticker}
}

// ZeroCoin returns the zero amount of ticker.
func ZeroCoin(ticker string) Coin { return Coin{Ticker: ticker} }

func (c Coin) IsZero() bool { return c.Amount.IsZero() }

func (c Coin) checkTicker(o Coin) error {
	if c.Ticker != o.Ticker {
		return fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, c.Ticker, o.Ticker)
	}
	return nil
}

func (c Coin) Add(o Coin) (Coin, error) {
	if err := c.checkTicker(o); err != nil {
		return Coin{}, err
	}
	sum, err := c.Amount.Add(o.Amount)
	if err != nil {
		return Coin{}, err
	}
	return CoinOf(sum, c.Ticker), nil
}

func (c Coin) Sub(o Coin) (Coin, error) {
	if err := c.checkTicker(o); err != nil {
		return Coin{}, err
	}
	diff, err := c.Amount.Sub(o.Amount)
	if err != nil {
		return Coin{}, err
	}
	return CoinOf(diff, c.Ticker), nil
}

func (c Coin) Min(o Coin) (Coin, error) {
	if err := c.checkTicker(o); err != nil {
		return Coin{}, err
	}
	return CoinOf(c.Amount.Min(o.Amount), c.Ticker), nil
}

func (c Coin) Cmp(o Coin) (int, error) {
	if err := c.checkTicker(o); err != nil {
		return 0, err
	}
	return c.Amount.Cmp(o.Amount), nil
}

func (c Coin) String() string { return c.Amount.String() + " " + c.Ticker }
