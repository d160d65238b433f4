package lpp

import (
	"nhblease/crypto"
	"nhblease/finance"
)

// InstantiateMsg configures a pool lending one currency at a flat annual rate.
type InstantiateMsg struct {
	Lpn        string          `json:"lpn"`
	AnnualRate finance.Percent `json:"annual_rate"`
}

type OpenLoanMsg struct {
	Amount finance.Coin `json:"amount"`
}

// ExecuteMsg is the set of pool commands. Exactly one field is set.
type ExecuteMsg struct {
	OpenLoan  *OpenLoanMsg `json:"open_loan,omitempty"`
	RepayLoan *struct{}    `json:"repay_loan,omitempty"`
}

// OpenLoanResponse is returned as reply data of a successful OpenLoan.
type OpenLoanResponse struct {
	Principal          finance.Coin    `json:"principal"`
	AnnualInterestRate finance.Percent `json:"annual_interest_rate"`
}

type LoanQuery struct {
	LeaseAddr crypto.Address `json:"lease_addr"`
}

type OutstandingInterestQuery struct {
	LeaseAddr       crypto.Address    `json:"lease_addr"`
	OutstandingTime finance.Timestamp `json:"outstanding_time"`
}

// QueryMsg is the set of pool queries. Exactly one field is set.
type QueryMsg struct {
	Loan                    *LoanQuery                `json:"loan,omitempty"`
	LoanOutstandingInterest *OutstandingInterestQuery `json:"loan_outstanding_interest,omitempty"`
	Balance                 *struct{}                 `json:"balance,omitempty"`
}

// LoanResponse describes an open loan. The pool answers null for a closed
// or unknown loan.
type LoanResponse struct {
	PrincipalDue       finance.Coin      `json:"principal_due"`
	InterestDue        finance.Coin      `json:"interest_due"`
	AnnualInterestRate finance.Percent   `json:"annual_interest_rate"`
	InterestPaid       finance.Timestamp `json:"interest_paid"`
}

type OutstandingInterest struct {
	Amount finance.Coin `json:"amount"`
}

// BalanceResponse reports the pool's lendable liquidity.
type BalanceResponse struct {
	Balance finance.Coin `json:"balance"`
	Loans   uint64       `json:"loans"`
}
