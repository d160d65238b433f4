package lease

import (
	"fmt"
	"strings"

	"nhblease/crypto"
	"nhblease/finance"
	"nhblease/native/dex"
	"nhblease/native/lease/loan"
	"nhblease/platform"
)

// LoanForm are the borrowing terms of a lease.
type LoanForm struct {
	Lpp                  crypto.Address   `json:"lpp"`
	Lpn                  string           `json:"lpn"`
	AnnualMarginInterest finance.Percent  `json:"annual_margin_interest"`
	DuePeriod            finance.Duration `json:"due_period"`
	GracePeriod          finance.Duration `json:"grace_period"`
	// Profit receives the margin paid by the customer.
	Profit crypto.Address `json:"profit"`
}

// NewLeaseForm instantiates a lease. The downpayment comes with the
// instantiate funds.
type NewLeaseForm struct {
	Customer   crypto.Address       `json:"customer"`
	Currency   string               `json:"currency"`
	Liability  Liability            `json:"liability"`
	Loan       LoanForm             `json:"loan"`
	Dex        dex.ConnectionParams `json:"dex"`
	Oracle     crypto.Address       `json:"oracle"`
	TimeAlarms crypto.Address       `json:"time_alarms"`
}

func (f NewLeaseForm) Validate() error {
	if f.Customer.IsZero() {
		return fmt.Errorf("%w: no customer", ErrInvalidForm)
	}
	if f.Oracle.IsZero() || f.TimeAlarms.IsZero() || f.Loan.Lpp.IsZero() || f.Loan.Profit.IsZero() {
		return fmt.Errorf("%w: missing collaborator address", ErrInvalidForm)
	}
	registry := finance.Registry()
	if !registry.InGroup(f.Currency, finance.GroupLease) {
		return fmt.Errorf("%w: %s is not a lease currency", ErrInvalidForm, f.Currency)
	}
	if !registry.InGroup(f.Loan.Lpn, finance.GroupLpn) {
		return fmt.Errorf("%w: %s is not a pool currency", ErrInvalidForm, f.Loan.Lpn)
	}
	if f.Loan.DuePeriod == 0 {
		return fmt.Errorf("%w: zero due period", ErrInvalidForm)
	}
	if err := f.Liability.Validate(); err != nil {
		return err
	}
	return f.Dex.Validate()
}

// ExecuteMsg is the set of lease commands. Exactly one field is set.
type ExecuteMsg struct {
	Repay               *struct{}     `json:"repay,omitempty"`
	Close               *struct{}     `json:"close,omitempty"`
	PriceAlarm          *struct{}     `json:"price_alarm,omitempty"`
	TimeAlarm           *TimeAlarmMsg `json:"time_alarm,omitempty"`
	DexCallback         *struct{}     `json:"dex_callback,omitempty"`
	DexCallbackContinue *struct{}     `json:"dex_callback_continue,omitempty"`
}

// TimeAlarmMsg carries the time the alarm was set for.
type TimeAlarmMsg struct {
	Time finance.Timestamp `json:"time"`
}

// op names the command of the message. It fails unless exactly one field is
// set.
func (m ExecuteMsg) op() (string, error) {
	var ops []string
	if m.Repay != nil {
		ops = append(ops, "repay")
	}
	if m.Close != nil {
		ops = append(ops, "close")
	}
	if m.PriceAlarm != nil {
		ops = append(ops, "price_alarm")
	}
	if m.TimeAlarm != nil {
		ops = append(ops, "time_alarm")
	}
	if m.DexCallback != nil {
		ops = append(ops, "dex_callback")
	}
	if m.DexCallbackContinue != nil {
		ops = append(ops, "dex_callback_continue")
	}
	switch len(ops) {
	case 0:
		return "", platform.ErrUnknownMessage
	case 1:
		return ops[0], nil
	default:
		return "", fmt.Errorf("%w: %s in one message", ErrInvalidMessage, strings.Join(ops, ", "))
	}
}

type QueryMsg struct {
	State *struct{} `json:"state,omitempty"`
}

// StateResponse is the snapshot a lease reports. Exactly one field is set.
type StateResponse struct {
	Opening *OpeningInfo `json:"opening,omitempty"`
	Opened  *OpenedInfo  `json:"opened,omitempty"`
	Paid    *PaidInfo    `json:"paid,omitempty"`
	Closed  *struct{}    `json:"closed,omitempty"`
}

type OpeningInfo struct {
	Currency    string       `json:"currency"`
	Downpayment finance.Coin `json:"downpayment"`
	Loan        finance.Coin `json:"loan"`
	InProgress  string       `json:"in_progress"`
}

type OpenedInfo struct {
	Amount     finance.Coin `json:"amount"`
	Loan       loan.State   `json:"loan"`
	Surplus    finance.Coin `json:"surplus"`
	InProgress string       `json:"in_progress,omitempty"`
}

type PaidInfo struct {
	Amount     finance.Coin `json:"amount"`
	Surplus    finance.Coin `json:"surplus"`
	InProgress string       `json:"in_progress,omitempty"`
}
