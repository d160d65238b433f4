package lpp

import (
	"fmt"

	"nhblease/crypto"
	"nhblease/finance"
	"nhblease/platform"
)

// OpenLoanReplyID correlates the reply of an OpenLoan request.
const OpenLoanReplyID uint64 = 0

// Ref is a lease-side handle to a pool. It is persisted with the loan.
type Ref struct {
	Addr crypto.Address
	Lpn  string
}

func NewRef(addr crypto.Address, lpn string) Ref {
	return Ref{Addr: addr, Lpn: lpn}
}

func (r Ref) checkCurrency(c finance.Coin) error {
	if c.Ticker != r.Lpn {
		return fmt.Errorf("%w: pool lends %s, got %s", finance.ErrCurrencyMismatch, r.Lpn, c.Ticker)
	}
	return nil
}

// OpenLoanRequest asks the pool to lend amount to the caller. The pool's
// answer arrives as a reply with OpenLoanReplyID.
func (r Ref) OpenLoanRequest(amount finance.Coin) (platform.Batch, error) {
	if err := r.checkCurrency(amount); err != nil {
		return platform.Batch{}, err
	}
	msg, err := platform.NewExecute(r.Addr, ExecuteMsg{OpenLoan: &OpenLoanMsg{Amount: amount}})
	if err != nil {
		return platform.Batch{}, err
	}
	var b platform.Batch
	b.ScheduleReplyOnSuccess(msg, OpenLoanReplyID)
	return b, nil
}

// OpenLoanResponse decodes the reply data of an OpenLoan request.
func (r Ref) OpenLoanResponse(reply platform.Reply) (OpenLoanResponse, error) {
	if reply.ID != OpenLoanReplyID {
		return OpenLoanResponse{}, fmt.Errorf("lpp: unexpected reply id %d", reply.ID)
	}
	if !reply.Result.IsOk() {
		return OpenLoanResponse{}, fmt.Errorf("lpp: open loan failed: %s", reply.Result.Err)
	}
	var resp OpenLoanResponse
	if err := decodeJSON(reply.Result.Data, &resp); err != nil {
		return OpenLoanResponse{}, fmt.Errorf("lpp: decode open loan response: %w", err)
	}
	return resp, nil
}

// RepayLoanRequest sends payment to the pool.
func (r Ref) RepayLoanRequest(payment finance.Coin) (platform.Batch, error) {
	if err := r.checkCurrency(payment); err != nil {
		return platform.Batch{}, err
	}
	msg, err := platform.NewExecute(r.Addr, ExecuteMsg{RepayLoan: &struct{}{}}, payment)
	if err != nil {
		return platform.Batch{}, err
	}
	var b platform.Batch
	b.Schedule(msg)
	return b, nil
}

// Loan returns the loan of lease, or nil once it is repaid.
func (r Ref) Loan(q platform.Querier, lease crypto.Address) (*LoanResponse, error) {
	var resp *LoanResponse
	if err := q.QueryWasm(r.Addr, QueryMsg{Loan: &LoanQuery{LeaseAddr: lease}}, &resp); err != nil {
		return nil, fmt.Errorf("lpp: query loan: %w", err)
	}
	return resp, nil
}

// OutstandingInterest returns the interest of lease's loan accrued by the
// given time, or nil once the loan is repaid.
func (r Ref) OutstandingInterest(q platform.Querier, lease crypto.Address, by finance.Timestamp) (*finance.Coin, error) {
	var resp *OutstandingInterest
	query := QueryMsg{LoanOutstandingInterest: &OutstandingInterestQuery{LeaseAddr: lease, OutstandingTime: by}}
	if err := q.QueryWasm(r.Addr, query, &resp); err != nil {
		return nil, fmt.Errorf("lpp: query outstanding interest: %w", err)
	}
	if resp == nil {
		return nil, nil
	}
	return &resp.Amount, nil
}
