package oracle

import (
	"fmt"

	"nhblease/crypto"
	"nhblease/finance"
	"nhblease/platform"
)

// Ref is a client-side handle to an oracle.
type Ref struct {
	Addr         crypto.Address
	BaseCurrency string
}

func NewRef(addr crypto.Address, base string) Ref {
	return Ref{Addr: addr, BaseCurrency: base}
}

// Price returns the price of currency in the base currency.
func (r Ref) Price(q platform.Querier, currency string) (finance.Price, error) {
	if currency == r.BaseCurrency {
		return finance.Identity(currency), nil
	}
	var price finance.Price
	if err := q.QueryWasm(r.Addr, QueryMsg{Price: &PriceQuery{Currency: currency}}, &price); err != nil {
		return finance.Price{}, fmt.Errorf("oracle: query price of %s: %w", currency, err)
	}
	return price, nil
}

// PriceAlarmRequest subscribes the caller to alarm, replacing its previous
// subscription.
func (r Ref) PriceAlarmRequest(alarm Alarm) (platform.Batch, error) {
	if alarm.Below.Quote.Ticker != r.BaseCurrency {
		return platform.Batch{}, fmt.Errorf("%w: alarm quoted in %s", finance.ErrCurrencyMismatch, alarm.Below.Quote.Ticker)
	}
	return r.execute(ExecuteMsg{AddPriceAlarm: &alarm})
}

// RemovePriceAlarmRequest drops the caller's subscription.
func (r Ref) RemovePriceAlarmRequest() (platform.Batch, error) {
	return r.execute(ExecuteMsg{RemovePriceAlarm: &struct{}{}})
}

func (r Ref) execute(msg ExecuteMsg) (platform.Batch, error) {
	exec, err := platform.NewExecute(r.Addr, msg)
	if err != nil {
		return platform.Batch{}, err
	}
	var b platform.Batch
	b.Schedule(exec)
	return b, nil
}

// PathFinder binds the oracle to a querier for swap route lookups.
func (r Ref) PathFinder(q platform.Querier) PathFinder {
	return PathFinder{ref: r, querier: q}
}

// PathFinder resolves swap routes through the oracle.
type PathFinder struct {
	ref     Ref
	querier platform.Querier
}

func (p PathFinder) SwapPath(from, to string) ([]platform.SwapRoute, error) {
	var resp SwapPathResponse
	if err := p.querier.QueryWasm(p.ref.Addr, QueryMsg{SwapPath: &SwapPathQuery{From: from, To: to}}, &resp); err != nil {
		return nil, fmt.Errorf("oracle: query swap path %s->%s: %w", from, to, err)
	}
	return resp.Routes, nil
}
