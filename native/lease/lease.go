// Package lease implements a collateralised position: the customer's
// downpayment and a pool loan are swapped into an asset held on a remote
// venue, the loan accrues interest until repaid, and the position is
// liquidated when its loan-to-value gets too high.
package lease

import (
	"errors"
	"math"

	"nhblease/crypto"
	"nhblease/finance"
	"nhblease/native/dex"
	"nhblease/native/lease/loan"
	"nhblease/native/oracle"
	"nhblease/native/timealarms"
	"nhblease/platform"
)

type (
	handler   = dex.Handler[StateResponse]
	response  = dex.Response[StateResponse]
	enterable = dex.Enterable[StateResponse]
)

// ltvUnbounded stands for a position worth nothing.
const ltvUnbounded = finance.Percent(math.MaxUint32)

// Lease is an open position. Amount is held by the venue account.
type Lease struct {
	Customer   crypto.Address
	Amount     finance.Coin
	Loan       loan.Loan
	Liability  Liability
	Account    dex.Account
	Oracle     oracle.Ref
	TimeAlarms timealarms.Ref
	Profit     crypto.Address
	// Surplus is the part of payments exceeding the liability, returned to
	// the customer on close.
	Surplus finance.Coin
}

func (l *Lease) lpn() string { return l.Loan.Pool.Lpn }

func (l *Lease) openedState(now finance.Timestamp, q platform.Querier, inProgress string) (StateResponse, error) {
	state, err := l.Loan.State(now, q)
	if err != nil {
		return StateResponse{}, err
	}
	return StateResponse{Opened: &OpenedInfo{
		Amount:     l.Amount,
		Loan:       state,
		Surplus:    l.Surplus,
		InProgress: inProgress,
	}}, nil
}

func (l *Lease) paidState(inProgress string) StateResponse {
	return StateResponse{Paid: &PaidInfo{Amount: l.Amount, Surplus: l.Surplus, InProgress: inProgress}}
}

// repay pays the loan with an LPN payment. The margin goes to the profit
// account and the surplus stays with the lease.
func (l *Lease) repay(payment finance.Coin, env platform.Env, q platform.Querier) (loan.RepayReceipt, platform.Batch, error) {
	receipt, batch, err := l.Loan.Repay(payment, env.Now, q)
	if err != nil {
		return loan.RepayReceipt{}, platform.Batch{}, err
	}
	margin, err := receipt.MarginPaid()
	if err != nil {
		return loan.RepayReceipt{}, platform.Batch{}, err
	}
	if !margin.IsZero() {
		batch.Schedule(platform.BankSend{To: l.Profit, Amount: []finance.Coin{margin}})
	}
	if l.Surplus, err = l.Surplus.Add(receipt.Surplus); err != nil {
		return loan.RepayReceipt{}, platform.Batch{}, err
	}
	return receipt, batch, nil
}

// assessment is the liability of a lease against the value of its position.
type assessment struct {
	total    finance.Amount
	previous finance.Amount
	value    finance.Amount
	price    finance.Price
	ltv      finance.Percent
}

// assess values the position at now. paid is deducted from the pool part
// of the liability since a pool repayment of the same invocation is not
// reflected by the pool yet.
func (l *Lease) assess(now finance.Timestamp, q platform.Querier, paid finance.Amount) (assessment, error) {
	status, err := l.Loan.LiabilityStatus(now, q)
	if err != nil {
		return assessment{}, err
	}
	price, err := l.Oracle.Price(q, l.Amount.Ticker)
	if err != nil {
		return assessment{}, err
	}
	value, err := price.Total(l.Amount)
	if err != nil {
		return assessment{}, err
	}
	a := assessment{
		total:    status.Total.Amount.SaturatingSub(paid),
		previous: status.PreviousInterest.Amount.SaturatingSub(paid),
		value:    value.Amount,
		price:    price,
	}
	a.ltv, err = finance.PercentOfRatio(a.total, a.value)
	if errors.Is(err, finance.ErrDivisionByZero) || errors.Is(err, finance.ErrPercentOverflow) {
		a.ltv = ltvUnbounded
	} else if err != nil {
		return assessment{}, err
	}
	return a, nil
}

// rearm schedules the next liability check: a time alarm at the sooner of
// the recalculation period and the grace deadline, and a price alarm at the
// price the next ltv level is reached.
func (l *Lease) rearm(now finance.Timestamp, a assessment) (platform.Batch, error) {
	at := now.Add(l.Liability.RecalcTime)
	if grace := l.Loan.GraceDeadline(); now.Before(grace) && grace.Before(at) {
		at = grace
	}
	batch, err := l.TimeAlarms.SetupAlarm(at)
	if err != nil {
		return platform.Batch{}, err
	}
	level := l.Liability.NextLevel(a.ltv)
	base, err := level.Of(l.Amount.Amount)
	if err != nil {
		return platform.Batch{}, err
	}
	if base.IsZero() || a.total.IsZero() {
		return batch, nil
	}
	below, err := finance.NewPrice(finance.CoinOf(base, l.Amount.Ticker), finance.CoinOf(a.total, l.lpn()))
	if err != nil {
		return platform.Batch{}, err
	}
	alarm, err := l.Oracle.PriceAlarmRequest(oracle.Alarm{Below: below})
	if err != nil {
		return platform.Batch{}, err
	}
	return batch.Merge(alarm), nil
}

// activate moves the lease into the opened state and schedules its checks.
// paid is the pool payment dispatched by msgs.
func activate(l Lease, paid finance.Amount, env platform.Env, q platform.Querier, msgs platform.MessageResponse) (response, error) {
	a, err := l.assess(env.Now, q, paid)
	if err != nil {
		return response{}, err
	}
	batch, err := l.rearm(env.Now, a)
	if err != nil {
		return response{}, err
	}
	return dex.Transition[StateResponse](&active{lease: l}, msgs.Merge(platform.MessagesOnly(batch))), nil
}

// settle repays the loan with an LPN amount and continues in the opened or,
// once the loan is closed, the paid state.
func settle(l Lease, payment finance.Coin, event *platform.Emitter, env platform.Env, q platform.Querier) (response, error) {
	receipt, batch, err := l.repay(payment, env, q)
	if err != nil {
		return response{}, err
	}
	msgs := platform.MessagesWithEvent(batch, emitReceipt(event, receipt))
	if receipt.Close {
		return toPaid(l, msgs)
	}
	if l.Amount.IsZero() {
		// nothing is left to secure the loan
		return closeLease(l, env, msgs)
	}
	paid, err := receipt.LoanPayment()
	if err != nil {
		return response{}, err
	}
	return activate(l, paid.Amount, env, q, msgs)
}

func toPaid(l Lease, msgs platform.MessageResponse) (response, error) {
	remove, err := l.Oracle.RemovePriceAlarmRequest()
	if err != nil {
		return response{}, err
	}
	return dex.Transition[StateResponse](&paid{lease: l}, msgs.Merge(platform.MessagesOnly(remove))), nil
}

// closeLease hands whatever the lease holds locally to the customer.
func closeLease(l Lease, env platform.Env, msgs platform.MessageResponse) (response, error) {
	var funds []finance.Coin
	for _, c := range []finance.Coin{l.Amount, l.Surplus} {
		if !c.IsZero() {
			funds = append(funds, c)
		}
	}
	var batch platform.Batch
	if len(funds) > 0 {
		batch.Schedule(platform.BankSend{To: l.Customer, Amount: funds})
	}
	e := emitter(EventClose, env).
		EmitAddress("customer", l.Customer).
		EmitCoin("amount", l.Amount).
		EmitCoin("surplus", l.Surplus)
	return dex.Transition[StateResponse](&closed{}, msgs.Merge(platform.MessagesWithEvent(batch, e))), nil
}

func enter(next enterable, env platform.Env, q platform.Querier, events ...*platform.Emitter) (response, error) {
	batch, err := next.Enter(env, q)
	if err != nil {
		return response{}, err
	}
	msgs := platform.MessagesOnly(batch)
	for _, e := range events {
		msgs = msgs.WithEvent(e)
	}
	return dex.Transition[StateResponse](next, msgs), nil
}
