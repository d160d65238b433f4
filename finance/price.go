package finance

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
)

var ErrInvalidPrice = errors.New("finance: invalid price")

// Price states that Base.Amount units of Base.Ticker trade for Quote.Amount
// units of Quote.Ticker.
type Price struct {
	Base  Coin `json:"base"`
	Quote Coin `json:"quote"`
}

func NewPrice(base, quote Coin) (Price, error) {
	if base.IsZero() || quote.IsZero() {
		return Price{}, fmt.Errorf("%w: zero leg", ErrInvalidPrice)
	}
	if base.Ticker == "" || quote.Ticker == "" {
		return Price{}, fmt.Errorf("%w: missing ticker", ErrInvalidPrice)
	}
	return Price{Base: base, Quote: quote}, nil
}

// Identity prices a currency against itself.
func Identity(ticker string) Price {
	return Price{Base: NewCoin(1, ticker), Quote: NewCoin(1, ticker)}
}

// Total converts an amount of the base currency into the quote currency.
func (p Price) Total(c Coin) (Coin, error) {
	if c.Ticker != p.Base.Ticker {
		return Coin{}, fmt.Errorf("%w: price of %s applied to %s", ErrCurrencyMismatch, p.Base.Ticker, c.Ticker)
	}
	amount, err := MulDiv(c.Amount, p.Quote.Amount, p.Base.Amount)
	if err != nil {
		return Coin{}, err
	}
	return CoinOf(amount, p.Quote.Ticker), nil
}

// Less reports whether p quotes less than o for a unit of the base currency.
func (p Price) Less(o Price) (bool, error) {
	if p.Base.Ticker != o.Base.Ticker || p.Quote.Ticker != o.Quote.Ticker {
		return false, fmt.Errorf("%w: %s compared to %s", ErrCurrencyMismatch, p, o)
	}
	var lhs, rhs uint256.Int
	lhs.Mul(p.Quote.Amount.Uint256(), o.Base.Amount.Uint256())
	rhs.Mul(o.Quote.Amount.Uint256(), p.Base.Amount.Uint256())
	return lhs.Lt(&rhs), nil
}

// Inverse swaps the legs.
func (p Price) Inverse() Price {
	return Price{Base: p.Quote, Quote: p.Base}
}

func (p Price) String() string {
	return fmt.Sprintf("%s/%s", p.Quote, p.Base)
}
