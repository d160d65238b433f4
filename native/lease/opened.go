package lease

import (
	"errors"

	"nhblease/crypto"
	"nhblease/finance"
	"nhblease/native/dex"
	"nhblease/native/lease/loan"
	"nhblease/platform"
)

// Operations reported as in progress.
const (
	opOpen        = "open"
	opRepayment   = "repayment"
	opLiquidation = "liquidation"
	opClose       = "close"
)

func inProgress(op string, step dex.Step) string { return op + ":" + string(step) }

// Liquidation causes.
const (
	causeHighLTV = "high-ltv"
	causeOverdue = "overdue"
)

// active is an open lease accruing interest.
type active struct {
	dex.Base[StateResponse]
	lease Lease
}

func (a *active) Repay(payment finance.Coin, env platform.Env, q platform.Querier) (response, error) {
	l := a.lease
	if payment.Ticker == l.lpn() {
		return settle(l, payment, emitter(EventRepay, env), env, q)
	}
	task := &repaySwap{lease: l, payment: payment}
	e := emitter(EventRepaySwap, env).EmitCoin("payment", payment)
	return enter(dex.NewTransferOut[StateResponse](task, dex.OutLocal), env, q, e)
}

// Close is accepted once the pool reports the loan as repaid by someone
// else than the lease.
func (a *active) Close(sender crypto.Address, env platform.Env, q platform.Querier) (response, error) {
	if _, err := a.lease.Loan.State(env.Now, q); !errors.Is(err, loan.ErrLoanClosed) {
		if err != nil {
			return response{}, err
		}
		return dex.Unsupported[StateResponse]("close")
	}
	return (&paid{lease: a.lease}).Close(sender, env, q)
}

func (a *active) OnPriceAlarm(env platform.Env, q platform.Querier) (response, error) {
	return a.check(env, q)
}

func (a *active) OnTimeAlarm(env platform.Env, q platform.Querier) (response, error) {
	return a.check(env, q)
}

// check liquidates the part of the position that brings the ltv back to
// healthy, or the overdue interest, and otherwise warns and re-arms the
// alarms.
func (a *active) check(env platform.Env, q platform.Querier) (response, error) {
	l := a.lease
	assessed, err := l.assess(env.Now, q, finance.Amount{})
	if err != nil {
		return response{}, err
	}
	liquidate, err := l.Liability.AmountToLiquidate(assessed.total, assessed.value)
	if err != nil {
		return response{}, err
	}
	cause := causeHighLTV
	if liquidate.IsZero() && !env.Now.Before(l.Loan.GraceDeadline()) {
		liquidate, cause = assessed.previous, causeOverdue
	}
	if !liquidate.IsZero() {
		amount, err := l.assetOf(liquidate, assessed)
		if err != nil {
			return response{}, err
		}
		return startLiquidation(l, amount, cause, assessed.ltv, env, q)
	}
	batch, err := l.rearm(env.Now, assessed)
	if err != nil {
		return response{}, err
	}
	msgs := platform.MessagesOnly(batch)
	if level := l.Liability.WarningLevel(assessed.ltv); level > 0 {
		msgs = msgs.WithEvent(emitLiquidationWarning(env, l.Customer.String(), assessed.ltv, level, l.Amount.Ticker))
	}
	return dex.Stay[StateResponse](msgs), nil
}

// assetOf converts an LPN amount into the asset, at least one unit and at
// most the whole position.
func (l *Lease) assetOf(lpnAmount finance.Amount, a assessment) (finance.Coin, error) {
	if !lpnAmount.Lt(a.value) {
		return l.Amount, nil
	}
	asset, err := a.price.Inverse().Total(finance.CoinOf(lpnAmount, l.lpn()))
	if err != nil {
		return finance.Coin{}, err
	}
	if asset.IsZero() {
		asset = finance.NewCoin(1, l.Amount.Ticker)
	}
	return asset.Min(l.Amount)
}

func startLiquidation(l Lease, amount finance.Coin, cause string, ltv finance.Percent, env platform.Env, q platform.Querier) (response, error) {
	task := &liquidation{lease: l, amount: amount, cause: cause}
	e := emitter(EventLiquidationStart, env).
		EmitAddress("customer", l.Customer).
		Emit("cause", cause).
		EmitPercent("ltv", ltv).
		EmitCoin("liquidation", amount)
	return enter(dex.NewSwapExactIn[StateResponse](task, dex.OutLocal), env, q, e)
}

func (a *active) State(now finance.Timestamp, q platform.Querier) (StateResponse, error) {
	return a.lease.openedState(now, q, "")
}

// liquidation sells part of the position and repays the loan with the
// proceeds.
type liquidation struct {
	lease  Lease
	amount finance.Coin
	cause  string
}

func (t *liquidation) name() string { return "liquidation" }

func (t *liquidation) Label() string { return EventLiquidationSwap }

func (t *liquidation) DexAccount() dex.Account { return t.lease.Account }

func (t *liquidation) Oracle(q platform.Querier) dex.SwapPathFinder {
	return t.lease.Oracle.PathFinder(q)
}

func (t *liquidation) TimeAlarm() dex.TimeAlarms { return t.lease.TimeAlarms }

func (t *liquidation) OutCurrency() string { return t.lease.lpn() }

func (t *liquidation) OnCoins(v dex.CoinVisitor) (dex.IterState, error) {
	return dex.VisitCoins([]finance.Coin{t.amount}, v)
}

func (t *liquidation) Finish(out finance.Coin, env platform.Env, q platform.Querier) (response, error) {
	l := t.lease
	var err error
	if l.Amount, err = l.Amount.Sub(t.amount); err != nil {
		return response{}, err
	}
	e := emitter(EventLiquidation, env).
		EmitAddress("customer", l.Customer).
		Emit("cause", t.cause).
		EmitCoin("liquidation", t.amount)
	return settle(l, out, e, env, q)
}

func (t *liquidation) State(step dex.Step, now finance.Timestamp, q platform.Querier) (StateResponse, error) {
	return t.lease.openedState(now, q, inProgress(opLiquidation, step))
}

// repaySwap converts a payment in another currency into the LPN before it
// repays the loan.
type repaySwap struct {
	lease   Lease
	payment finance.Coin
}

func (t *repaySwap) name() string { return "repayment" }

func (t *repaySwap) Label() string { return EventRepaySwap }

func (t *repaySwap) DexAccount() dex.Account { return t.lease.Account }

func (t *repaySwap) Oracle(q platform.Querier) dex.SwapPathFinder {
	return t.lease.Oracle.PathFinder(q)
}

func (t *repaySwap) TimeAlarm() dex.TimeAlarms { return t.lease.TimeAlarms }

func (t *repaySwap) OutCurrency() string { return t.lease.lpn() }

func (t *repaySwap) OnCoins(v dex.CoinVisitor) (dex.IterState, error) {
	return dex.VisitCoins([]finance.Coin{t.payment}, v)
}

func (t *repaySwap) Finish(out finance.Coin, env platform.Env, q platform.Querier) (response, error) {
	return settle(t.lease, out, emitter(EventRepay, env), env, q)
}

func (t *repaySwap) State(step dex.Step, now finance.Timestamp, q platform.Querier) (StateResponse, error) {
	return t.lease.openedState(now, q, inProgress(opRepayment, step))
}
