package loan

import (
	"errors"
	"fmt"

	"nhblease/crypto"
	"nhblease/finance"
	"nhblease/native/common"
	"nhblease/native/lpp"
	"nhblease/platform"
)

var (
	// ErrLoanClosed is returned once the pool reports the loan as repaid.
	ErrLoanClosed   = errors.New("loan: the loan is closed")
	ErrInvalidTerms = errors.New("loan: invalid terms")
)

// Loan tracks the protocol margin accrued on top of a pool loan. The pool
// owns the principal and its interest; the loan owns the margin period.
//
// Margin is paid in due periods. A payment covers the current period's margin
// first, then the pool interest accrued before the period start, and only
// after both are settled the period rolls over into the next one.
type Loan struct {
	Lease                crypto.Address
	Pool                 lpp.Ref
	AnnualMarginInterest finance.Percent
	DuePeriod            finance.Duration
	GracePeriod          finance.Duration
	CurrentPeriod        finance.InterestPeriod
}

// Open starts the margin accrual of a fresh loan at now.
func Open(now finance.Timestamp, lease crypto.Address, pool lpp.Ref, marginRate finance.Percent, duePeriod, gracePeriod finance.Duration) (Loan, error) {
	if duePeriod == 0 {
		return Loan{}, fmt.Errorf("%w: zero due period", ErrInvalidTerms)
	}
	return Loan{
		Lease:                lease,
		Pool:                 pool,
		AnnualMarginInterest: marginRate,
		DuePeriod:            duePeriod,
		GracePeriod:          gracePeriod,
		CurrentPeriod:        finance.NewInterestPeriod(marginRate).From(now).Spanning(duePeriod),
	}, nil
}

// State is a read-only snapshot of the loan at ValidityTime. AnnualInterest
// and InterestDue cover the pool and the margin together. Previous amounts
// accrued before the end of the current due period and are overdue once that
// moment passes.
type State struct {
	AnnualInterest            finance.Percent   `json:"annual_interest"`
	AnnualLoanInterest        finance.Percent   `json:"annual_interest_loan"`
	AnnualMarginInterest      finance.Percent   `json:"annual_interest_margin"`
	PrincipalDue              finance.Coin      `json:"principal_due"`
	InterestDue               finance.Coin      `json:"interest_due"`
	LoanInterestDue           finance.Coin      `json:"loan_interest_due"`
	MarginInterestDue         finance.Coin      `json:"margin_interest_due"`
	PreviousInterestDue       finance.Coin      `json:"previous_interest_due"`
	PreviousMarginInterestDue finance.Coin      `json:"previous_margin_interest_due"`
	CurrentInterestDue        finance.Coin      `json:"current_interest_due"`
	CurrentMarginInterestDue  finance.Coin      `json:"current_margin_interest_due"`
	ValidityTime              finance.Timestamp `json:"validity_time"`
}

// TotalDue is principal plus every interest due.
func (s State) TotalDue() (finance.Coin, error) {
	return s.PrincipalDue.Add(s.InterestDue)
}

// State merges the pool's view of the loan with the margin accrued until now.
func (l *Loan) State(now finance.Timestamp, q platform.Querier) (State, error) {
	resp, err := l.Pool.Loan(q, l.Lease)
	if err != nil {
		return State{}, err
	}
	if resp == nil {
		return State{}, ErrLoanClosed
	}
	lpn := l.Pool.Lpn
	principal := resp.PrincipalDue.Amount

	var previousMargin, currentMargin, previousInterest finance.Amount
	if till := l.CurrentPeriod.Till(); now.After(till) {
		if previousMargin, err = l.CurrentPeriod.InterestBy(principal, till); err != nil {
			return State{}, err
		}
		overdue := finance.NewInterestPeriod(l.AnnualMarginInterest).From(till).Spanning(finance.Between(till, now))
		if currentMargin, err = overdue.InterestBy(principal, now); err != nil {
			return State{}, err
		}
		outstanding, err := l.Pool.OutstandingInterest(q, l.Lease, till)
		if err != nil {
			return State{}, err
		}
		if outstanding == nil {
			return State{}, ErrLoanClosed
		}
		previousInterest = outstanding.Amount.Min(resp.InterestDue.Amount)
	} else if currentMargin, err = l.CurrentPeriod.InterestBy(principal, now); err != nil {
		return State{}, err
	}
	margin, err := previousMargin.Add(currentMargin)
	if err != nil {
		return State{}, err
	}
	currentInterest, err := resp.InterestDue.Amount.Sub(previousInterest)
	if err != nil {
		return State{}, err
	}
	annual, err := resp.AnnualInterestRate.Add(l.AnnualMarginInterest)
	if err != nil {
		return State{}, err
	}
	interest, err := resp.InterestDue.Amount.Add(margin)
	if err != nil {
		return State{}, err
	}
	return State{
		AnnualInterest:            annual,
		AnnualLoanInterest:        resp.AnnualInterestRate,
		AnnualMarginInterest:      l.AnnualMarginInterest,
		PrincipalDue:              resp.PrincipalDue,
		InterestDue:               finance.CoinOf(interest, lpn),
		LoanInterestDue:           resp.InterestDue,
		MarginInterestDue:         finance.CoinOf(margin, lpn),
		PreviousInterestDue:       finance.CoinOf(previousInterest, lpn),
		PreviousMarginInterestDue: finance.CoinOf(previousMargin, lpn),
		CurrentInterestDue:        finance.CoinOf(currentInterest, lpn),
		CurrentMarginInterestDue:  finance.CoinOf(currentMargin, lpn),
		ValidityTime:              now,
	}, nil
}

// LiabilityStatus summarises what the customer owes.
type LiabilityStatus struct {
	Total            finance.Coin
	PreviousInterest finance.Coin
}

func (l *Loan) LiabilityStatus(now finance.Timestamp, q platform.Querier) (LiabilityStatus, error) {
	state, err := l.State(now, q)
	if err != nil {
		return LiabilityStatus{}, err
	}
	return liabilityOf(state)
}

func liabilityOf(state State) (LiabilityStatus, error) {
	previous, err := state.PreviousInterestDue.Add(state.PreviousMarginInterestDue)
	if err != nil {
		return LiabilityStatus{}, err
	}
	total, err := state.TotalDue()
	if err != nil {
		return LiabilityStatus{}, err
	}
	if err := common.Invariant(!total.Amount.Lt(previous.Amount), "previous interest %s exceeds the total %s", previous, total); err != nil {
		return LiabilityStatus{}, err
	}
	return LiabilityStatus{Total: total, PreviousInterest: previous}, nil
}

// Overdue reports whether interest of a past due period is still unpaid after
// the grace period.
func (l *Loan) Overdue(now finance.Timestamp, q platform.Querier) (bool, error) {
	if now.Before(l.GraceDeadline()) {
		return false, nil
	}
	status, err := l.LiabilityStatus(now, q)
	if err != nil {
		return false, err
	}
	return !status.PreviousInterest.IsZero(), nil
}

// GraceDeadline is the moment unpaid interest of the current due period
// becomes overdue.
func (l *Loan) GraceDeadline() finance.Timestamp {
	return l.CurrentPeriod.Till().Add(l.GracePeriod)
}

// RepayReceipt splits a payment into what it paid for.
type RepayReceipt struct {
	Payment              finance.Coin
	PreviousMarginPaid   finance.Coin
	CurrentMarginPaid    finance.Coin
	PreviousInterestPaid finance.Coin
	CurrentInterestPaid  finance.Coin
	PrincipalPaid        finance.Coin
	// Surplus is the part of the payment exceeding the whole liability.
	Surplus finance.Coin
	// Close is set when the payment repays the principal.
	Close bool
}

// MarginPaid is the whole margin covered by the payment.
func (r RepayReceipt) MarginPaid() (finance.Coin, error) {
	return r.PreviousMarginPaid.Add(r.CurrentMarginPaid)
}

// InterestPaid is the whole pool interest covered by the payment.
func (r RepayReceipt) InterestPaid() (finance.Coin, error) {
	return r.PreviousInterestPaid.Add(r.CurrentInterestPaid)
}

// LoanPayment is what is sent to the pool.
func (r RepayReceipt) LoanPayment() (finance.Coin, error) {
	interest, err := r.InterestPaid()
	if err != nil {
		return finance.Coin{}, err
	}
	return interest.Add(r.PrincipalPaid)
}

func newReceipt(payment finance.Coin) RepayReceipt {
	zero := finance.ZeroCoin(payment.Ticker)
	return RepayReceipt{
		Payment:              payment,
		PreviousMarginPaid:   zero,
		CurrentMarginPaid:    zero,
		PreviousInterestPaid: zero,
		CurrentInterestPaid:  zero,
		PrincipalPaid:        zero,
		Surplus:              zero,
	}
}

// Repay pays the margin and the pool loan with payment at by. It returns the
// receipt and the request to the pool, which is empty when nothing is owed
// to the pool.
func (l *Loan) Repay(payment finance.Coin, by finance.Timestamp, q platform.Querier) (RepayReceipt, platform.Batch, error) {
	if payment.Ticker != l.Pool.Lpn {
		return RepayReceipt{}, platform.Batch{}, fmt.Errorf("%w: loan in %s, payment in %s", finance.ErrCurrencyMismatch, l.Pool.Lpn, payment.Ticker)
	}
	before, err := l.State(by, q)
	if err != nil {
		return RepayReceipt{}, platform.Batch{}, err
	}
	principal := before.PrincipalDue.Amount
	receipt := newReceipt(payment)

	change, err := l.repayMargin(principal, by, payment.Amount)
	if err != nil {
		return RepayReceipt{}, platform.Batch{}, err
	}
	if change.IsZero() {
		return l.splitMargin(receipt, before, payment.Amount), platform.Batch{}, nil
	}

	loanInterestDue, err := l.interestDueBy(q, l.CurrentPeriod.Start)
	if err != nil {
		return RepayReceipt{}, platform.Batch{}, err
	}
	loanPayment := change
	if !change.Lt(loanInterestDue) && l.CurrentPeriod.ZeroLength() {
		if err := l.openNextPeriod(); err != nil {
			return RepayReceipt{}, platform.Batch{}, err
		}
		rest, err := change.Sub(loanInterestDue)
		if err != nil {
			return RepayReceipt{}, platform.Batch{}, err
		}
		change, err = l.repayMargin(principal, by, rest)
		if err != nil {
			return RepayReceipt{}, platform.Batch{}, err
		}
		if loanPayment, err = loanInterestDue.Add(change); err != nil {
			return RepayReceipt{}, platform.Batch{}, err
		}
	}
	marginPaid, err := payment.Amount.Sub(loanPayment)
	if err != nil {
		return RepayReceipt{}, platform.Batch{}, err
	}
	receipt = l.splitMargin(receipt, before, marginPaid)
	if loanPayment.IsZero() {
		return receipt, platform.Batch{}, nil
	}
	receipt, err = l.splitLoanPayment(receipt, before, loanPayment, by, q)
	if err != nil {
		return RepayReceipt{}, platform.Batch{}, err
	}
	toPool, err := receipt.LoanPayment()
	if err != nil {
		return RepayReceipt{}, platform.Batch{}, err
	}
	if toPool.IsZero() {
		return receipt, platform.Batch{}, nil
	}
	req, err := l.Pool.RepayLoanRequest(toPool)
	if err != nil {
		return RepayReceipt{}, platform.Batch{}, err
	}
	return receipt, req, nil
}

func (l *Loan) repayMargin(principal finance.Amount, by finance.Timestamp, payment finance.Amount) (finance.Amount, error) {
	period, change, err := l.CurrentPeriod.Pay(principal, payment, by)
	if err != nil {
		return finance.Amount{}, err
	}
	l.CurrentPeriod = period
	return change, nil
}

// openNextPeriod rolls a fully paid margin period over into the next one.
func (l *Loan) openNextPeriod() error {
	if err := common.Invariant(l.CurrentPeriod.ZeroLength(), "rollover of a margin period with %s left", l.CurrentPeriod.Length); err != nil {
		return err
	}
	l.CurrentPeriod = finance.NewInterestPeriod(l.AnnualMarginInterest).
		From(l.CurrentPeriod.Till()).
		Spanning(l.DuePeriod)
	return nil
}

func (l *Loan) interestDueBy(q platform.Querier, by finance.Timestamp) (finance.Amount, error) {
	due, err := l.Pool.OutstandingInterest(q, l.Lease, by)
	if err != nil {
		return finance.Amount{}, err
	}
	if due == nil {
		return finance.Amount{}, ErrLoanClosed
	}
	return due.Amount, nil
}

// splitMargin attributes the paid margin to the previous period first.
func (l *Loan) splitMargin(r RepayReceipt, before State, paid finance.Amount) RepayReceipt {
	previous := paid.Min(before.PreviousMarginInterestDue.Amount)
	r.PreviousMarginPaid = finance.CoinOf(previous, r.Payment.Ticker)
	r.CurrentMarginPaid = finance.CoinOf(paid.SaturatingSub(previous), r.Payment.Ticker)
	return r
}

// splitLoanPayment mirrors how the pool applies the payment: interest due at
// by first, principal next. The rest is surplus and never leaves the lease.
func (l *Loan) splitLoanPayment(r RepayReceipt, before State, payment finance.Amount, by finance.Timestamp, q platform.Querier) (RepayReceipt, error) {
	interestDue, err := l.interestDueBy(q, by)
	if err != nil {
		return RepayReceipt{}, err
	}
	lpn := r.Payment.Ticker
	interest := payment.Min(interestDue)
	previous := interest.Min(before.PreviousInterestDue.Amount)
	rest, err := payment.Sub(interest)
	if err != nil {
		return RepayReceipt{}, err
	}
	principal := rest.Min(before.PrincipalDue.Amount)
	surplus, err := rest.Sub(principal)
	if err != nil {
		return RepayReceipt{}, err
	}
	r.PreviousInterestPaid = finance.CoinOf(previous, lpn)
	r.CurrentInterestPaid = finance.CoinOf(interest.SaturatingSub(previous), lpn)
	r.PrincipalPaid = finance.CoinOf(principal, lpn)
	r.Surplus = finance.CoinOf(surplus, lpn)
	r.Close = principal.Eq(before.PrincipalDue.Amount)
	return r, nil
}
