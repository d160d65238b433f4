package lease

import (
	"nhblease/crypto"
	"nhblease/finance"
	"nhblease/native/dex"
	"nhblease/platform"
)

// paid is a lease whose loan is repaid. The position is still held by the
// account until the customer closes the lease.
type paid struct {
	dex.Base[StateResponse]
	lease Lease
}

func (p *paid) Close(_ crypto.Address, env platform.Env, q platform.Querier) (response, error) {
	l := p.lease
	if l.Amount.IsZero() {
		return closeLease(l, env, platform.MessageResponse{})
	}
	e := emitter(EventCloseTransferIn, env).EmitCoin("amount", l.Amount)
	return enter(dex.NewTransferInInit[StateResponse](&closeTransfer{lease: l}, l.Amount), env, q, e)
}

func (p *paid) State(finance.Timestamp, platform.Querier) (StateResponse, error) {
	return p.lease.paidState(""), nil
}

// closeTransfer moves the position back from the account.
type closeTransfer struct {
	lease Lease
}

func (t *closeTransfer) name() string { return "closing" }

func (t *closeTransfer) Label() string { return EventCloseTransferIn }

func (t *closeTransfer) DexAccount() dex.Account { return t.lease.Account }

func (t *closeTransfer) Oracle(q platform.Querier) dex.SwapPathFinder {
	return t.lease.Oracle.PathFinder(q)
}

func (t *closeTransfer) TimeAlarm() dex.TimeAlarms { return t.lease.TimeAlarms }

func (t *closeTransfer) OutCurrency() string { return t.lease.Amount.Ticker }

func (t *closeTransfer) OnCoins(v dex.CoinVisitor) (dex.IterState, error) {
	return dex.VisitCoins([]finance.Coin{t.lease.Amount}, v)
}

func (t *closeTransfer) Finish(_ finance.Coin, env platform.Env, _ platform.Querier) (response, error) {
	return closeLease(t.lease, env, platform.MessageResponse{})
}

func (t *closeTransfer) State(step dex.Step, _ finance.Timestamp, _ platform.Querier) (StateResponse, error) {
	return t.lease.paidState(inProgress(opClose, step)), nil
}

// closed is terminal. Commands are rejected and alarms ignored.
type closed struct {
	dex.Base[StateResponse]
}

func (*closed) State(finance.Timestamp, platform.Querier) (StateResponse, error) {
	return StateResponse{Closed: &struct{}{}}, nil
}
