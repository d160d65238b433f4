package lease

import (
	"nhblease/finance"
	"nhblease/native/common"
	"nhblease/native/dex"
	"nhblease/native/lease/loan"
	"nhblease/native/lpp"
	"nhblease/native/oracle"
	"nhblease/native/timealarms"
	"nhblease/platform"
)

// opening is what a lease knows before its position is bought.
type opening struct {
	Form             NewLeaseForm
	Downpayment      finance.Coin
	Principal        finance.Coin
	LoanInterestRate finance.Percent
	Loan             loan.Loan
}

func (o opening) pool() lpp.Ref { return lpp.NewRef(o.Form.Loan.Lpp, o.Form.Loan.Lpn) }

func (o opening) oracle() oracle.Ref { return oracle.NewRef(o.Form.Oracle, o.Form.Loan.Lpn) }

func (o opening) alarms() timealarms.Ref { return timealarms.NewRef(o.Form.TimeAlarms) }

func (o opening) state(inProgress string) StateResponse {
	return StateResponse{Opening: &OpeningInfo{
		Currency:    o.Form.Currency,
		Downpayment: o.Downpayment,
		Loan:        o.Principal,
		InProgress:  inProgress,
	}}
}

// requestLoan waits for the pool to grant the loan.
type requestLoan struct {
	dex.Base[StateResponse]
	opening opening
}

func (r *requestLoan) Enter(platform.Env, platform.Querier) (platform.Batch, error) {
	return r.opening.pool().OpenLoanRequest(r.opening.Principal)
}

func (r *requestLoan) Reply(reply platform.Reply, env platform.Env, q platform.Querier) (response, error) {
	if err := common.Invariant(reply.ID == lpp.OpenLoanReplyID, "unexpected reply id %d", reply.ID); err != nil {
		return response{}, err
	}
	o := r.opening
	granted, err := o.pool().OpenLoanResponse(reply)
	if err != nil {
		return response{}, err
	}
	o.Principal = granted.Principal
	o.LoanInterestRate = granted.AnnualInterestRate
	terms := o.Form.Loan
	o.Loan, err = loan.Open(env.Now, env.Self, o.pool(), terms.AnnualMarginInterest, terms.DuePeriod, terms.GracePeriod)
	if err != nil {
		return response{}, err
	}
	return enter(dex.NewIcaConnector[StateResponse](&openIca{opening: o}), env, q)
}

func (r *requestLoan) State(finance.Timestamp, platform.Querier) (StateResponse, error) {
	return r.opening.state("request-loan"), nil
}

// openIca is the connectee of the account opening.
type openIca struct {
	opening opening
}

func (o *openIca) Label() string { return EventOpenDexAccount }

func (o *openIca) DexParams() dex.ConnectionParams { return o.opening.Form.Dex }

func (o *openIca) TimeAlarms() dex.TimeAlarms { return o.opening.alarms() }

func (o *openIca) Connected(account dex.Account) dex.Enterable[StateResponse] {
	return dex.NewTransferOut[StateResponse](&buyAsset{opening: o.opening, account: account}, dex.OutRemote)
}

func (o *openIca) State(finance.Timestamp, platform.Querier) (StateResponse, error) {
	return o.opening.state(inProgress(opOpen, dex.StepOpenIca)), nil
}

// buyAsset swaps the downpayment and the loan into the lease asset and keeps
// it on the account.
type buyAsset struct {
	opening opening
	account dex.Account
}

func (b *buyAsset) name() string { return "buy_asset" }

func (b *buyAsset) Label() string { return EventOpenSwap }

func (b *buyAsset) DexAccount() dex.Account { return b.account }

func (b *buyAsset) Oracle(q platform.Querier) dex.SwapPathFinder { return b.opening.oracle().PathFinder(q) }

func (b *buyAsset) TimeAlarm() dex.TimeAlarms { return b.opening.alarms() }

func (b *buyAsset) OutCurrency() string { return b.opening.Form.Currency }

func (b *buyAsset) OnCoins(v dex.CoinVisitor) (dex.IterState, error) {
	return dex.VisitCoins([]finance.Coin{b.opening.Downpayment, b.opening.Principal}, v)
}

func (b *buyAsset) Finish(out finance.Coin, env platform.Env, q platform.Querier) (response, error) {
	o := b.opening
	l := Lease{
		Customer:   o.Form.Customer,
		Amount:     out,
		Loan:       o.Loan,
		Liability:  o.Form.Liability,
		Account:    b.account,
		Oracle:     o.oracle(),
		TimeAlarms: o.alarms(),
		Profit:     o.Form.Loan.Profit,
		Surplus:    finance.ZeroCoin(o.Form.Loan.Lpn),
	}
	e := emitter(EventOpen, env).
		EmitAddress("customer", o.Form.Customer).
		EmitCoin("downpayment", o.Downpayment).
		EmitCoin("loan", o.Principal).
		EmitPercent("loan-interest", o.LoanInterestRate).
		EmitPercent("margin-interest", o.Form.Loan.AnnualMarginInterest).
		EmitTimestamp("due-till", o.Loan.CurrentPeriod.Till()).
		EmitCoin("amount", out).
		Emit("ica-host", b.account.Host.String())
	return activate(l, finance.Amount{}, env, q, platform.MessageResponse{}.WithEvent(e))
}

func (b *buyAsset) State(step dex.Step, _ finance.Timestamp, _ platform.Querier) (StateResponse, error) {
	return b.opening.state(inProgress(opOpen, step)), nil
}
