package loan

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"nhblease/crypto"
	"nhblease/finance"
	"nhblease/native/lpp"
	"nhblease/platform"
	"nhblease/storage"
)

const lpn = "USDC"

var (
	leaseAddr = crypto.NewAddress(crypto.AccountPrefix, []byte("lease-address-000001"))
	poolAddr  = crypto.NewAddress(crypto.AccountPrefix, []byte("pool-address-0000001"))
	t0        = finance.TimestampFromSeconds(1_700_000_000)
)

// poolHarness runs an lpp.Pool in memory and answers the loan's queries.
type poolHarness struct {
	t    *testing.T
	db   *storage.MemDB
	pool lpp.Pool
	now  finance.Timestamp
	sent []finance.Coin
}

func newPoolHarness(t *testing.T, rate finance.Percent) *poolHarness {
	t.Helper()
	h := &poolHarness{t: t, db: storage.NewMemDB(), now: t0}
	raw, err := json.Marshal(lpp.InstantiateMsg{Lpn: lpn, AnnualRate: rate})
	require.NoError(t, err)
	_, err = h.pool.Instantiate(h.deps(), h.env(), platform.MessageInfo{}, raw)
	require.NoError(t, err)
	return h
}

func (h *poolHarness) deps() platform.Deps {
	return platform.Deps{Storage: h.db, Querier: h}
}

func (h *poolHarness) env() platform.Env {
	return platform.Env{Now: h.now, Self: poolAddr}
}

func (h *poolHarness) QueryWasm(contract crypto.Address, request, response any) error {
	require.Equal(h.t, poolAddr, contract)
	raw, err := json.Marshal(request)
	if err != nil {
		return err
	}
	out, err := h.pool.Query(h.deps(), h.env(), raw)
	if err != nil {
		return err
	}
	return json.Unmarshal(out, response)
}

func (h *poolHarness) QueryBalance(crypto.Address, string) (finance.Coin, error) {
	return finance.NewCoin(1_000_000_000_000, lpn), nil
}

func (h *poolHarness) openLoan(amount uint64) {
	raw, err := json.Marshal(lpp.ExecuteMsg{OpenLoan: &lpp.OpenLoanMsg{Amount: finance.NewCoin(amount, lpn)}})
	require.NoError(h.t, err)
	_, err = h.pool.Execute(h.deps(), h.env(), platform.MessageInfo{Sender: leaseAddr}, raw)
	require.NoError(h.t, err)
}

// deliver executes the repay requests of a batch on the pool.
func (h *poolHarness) deliver(b platform.Batch) {
	for _, sub := range b.Messages() {
		msg, ok := sub.Msg.(platform.ExecuteMsg)
		require.True(h.t, ok)
		require.Equal(h.t, poolAddr, msg.Contract)
		h.sent = append(h.sent, msg.Funds...)
		_, err := h.pool.Execute(h.deps(), h.env(), platform.MessageInfo{Sender: leaseAddr, Funds: msg.Funds}, msg.Msg)
		require.NoError(h.t, err)
	}
}

func (h *poolHarness) at(d finance.Duration) finance.Timestamp {
	h.now = t0.Add(d)
	return h.now
}

func loanPayment(t *testing.T, r RepayReceipt) finance.Coin {
	t.Helper()
	paid, err := r.LoanPayment()
	require.NoError(t, err)
	return paid
}

func openTestLoan(t *testing.T, h *poolHarness, margin finance.Percent, due finance.Duration) Loan {
	t.Helper()
	h.openLoan(1_000_000_000)
	l, err := Open(t0, leaseAddr, lpp.NewRef(poolAddr, lpn), margin, due, 10*finance.Day)
	require.NoError(t, err)
	return l
}

func TestOpenRejectsZeroDuePeriod(t *testing.T) {
	_, err := Open(t0, leaseAddr, lpp.NewRef(poolAddr, lpn), finance.PercentFromPermille(30), 0, 0)
	require.ErrorIs(t, err, ErrInvalidTerms)
}

func TestMarginRepaymentLeavesChangeForPool(t *testing.T) {
	h := newPoolHarness(t, 0)
	l := openTestLoan(t, h, finance.PercentFromPermille(30), 90*finance.Day)

	by := h.at(45 * finance.Day)
	state, err := l.State(by, h)
	require.NoError(t, err)
	require.Equal(t, finance.NewCoin(3_698_630, lpn), state.MarginInterestDue)
	require.True(t, state.PreviousMarginInterestDue.IsZero())

	receipt, req, err := l.Repay(finance.NewCoin(5_000_000, lpn), by, h)
	require.NoError(t, err)
	margin, err := receipt.MarginPaid()
	require.NoError(t, err)
	require.Equal(t, finance.NewCoin(3_698_630, lpn), margin)
	require.Equal(t, finance.NewCoin(1_301_370, lpn), receipt.PrincipalPaid)
	interest, err := receipt.InterestPaid()
	require.NoError(t, err)
	require.True(t, interest.IsZero())
	require.True(t, receipt.Surplus.IsZero())
	require.False(t, receipt.Close)
	require.Equal(t, 1, req.Len())

	h.deliver(req)
	require.Equal(t, []finance.Coin{finance.NewCoin(1_301_370, lpn)}, h.sent)

	after, err := l.State(by, h)
	require.NoError(t, err)
	require.True(t, after.MarginInterestDue.IsZero())
	require.Equal(t, finance.NewCoin(1_000_000_000-1_301_370, lpn), after.PrincipalDue)
}

func TestStateMergesPoolAndMargin(t *testing.T) {
	h := newPoolHarness(t, finance.PercentFromPermille(100))
	l := openTestLoan(t, h, finance.PercentFromPermille(30), 90*finance.Day)

	state, err := l.State(h.at(45*finance.Day), h)
	require.NoError(t, err)
	require.Equal(t, finance.PercentFromPermille(130), state.AnnualInterest)
	require.Equal(t, finance.PercentFromPermille(100), state.AnnualLoanInterest)
	require.Equal(t, finance.PercentFromPermille(30), state.AnnualMarginInterest)
	require.Equal(t, finance.NewCoin(12_328_767, lpn), state.LoanInterestDue)
	require.Equal(t, finance.NewCoin(3_698_630, lpn), state.MarginInterestDue)
	require.Equal(t, finance.NewCoin(12_328_767+3_698_630, lpn), state.InterestDue)

	total, err := state.TotalDue()
	require.NoError(t, err)
	require.Equal(t, finance.NewCoin(1_000_000_000+12_328_767+3_698_630, lpn), total)
}

func TestPaymentAbsorbedByMarginSendsNothing(t *testing.T) {
	h := newPoolHarness(t, finance.PercentFromPermille(100))
	l := openTestLoan(t, h, finance.PercentFromPermille(30), 90*finance.Day)

	by := h.at(45 * finance.Day)
	receipt, req, err := l.Repay(finance.NewCoin(1_000_000, lpn), by, h)
	require.NoError(t, err)
	require.True(t, req.IsEmpty())
	require.Equal(t, finance.NewCoin(1_000_000, lpn), receipt.CurrentMarginPaid)
	require.True(t, loanPayment(t, receipt).IsZero())
}

func TestRepeatedRepaymentAtSameTime(t *testing.T) {
	h := newPoolHarness(t, finance.PercentFromPermille(100))
	l := openTestLoan(t, h, finance.PercentFromPermille(30), 30*finance.Day)

	var requested, paid finance.Amount
	record := func(receipt RepayReceipt, req platform.Batch) {
		var err error
		if !req.IsEmpty() {
			for _, sub := range req.Messages() {
				requested, err = requested.Add(sub.Msg.(platform.ExecuteMsg).Funds[0].Amount)
				require.NoError(t, err)
			}
		}
		paid, err = paid.Add(loanPayment(t, receipt).Amount)
		require.NoError(t, err)
		h.deliver(req)
	}

	for _, step := range []struct {
		at      finance.Duration
		payment uint64
	}{
		{at: 10 * finance.Day, payment: 2_000_000},
		{at: 10 * finance.Day, payment: 3_000_000},
		{at: 35 * finance.Day, payment: 1_000_000},
		{at: 35 * finance.Day, payment: 20_000_000},
		{at: 70 * finance.Day, payment: 7_000_000},
	} {
		receipt, req, err := l.Repay(finance.NewCoin(step.payment, lpn), h.at(step.at), h)
		require.NoError(t, err)
		record(receipt, req)

		// a second zero payment at the same time never reaches the pool
		receipt, req, err = l.Repay(finance.ZeroCoin(lpn), h.now, h)
		require.NoError(t, err)
		require.True(t, req.IsEmpty())
		require.True(t, loanPayment(t, receipt).IsZero())
	}
	require.True(t, requested.Eq(paid), "requested %s, paid %s", requested, paid)
}

func TestRolloverKeepsMarginDue(t *testing.T) {
	h := newPoolHarness(t, 0)
	l := openTestLoan(t, h, finance.PercentFromPermille(30), 30*finance.Day)

	till := l.CurrentPeriod.Till()
	l.CurrentPeriod = l.CurrentPeriod.From(till).Spanning(0)

	now := h.at(40 * finance.Day)
	before, err := l.State(now, h)
	require.NoError(t, err)

	require.NoError(t, l.openNextPeriod())
	require.Equal(t, till, l.CurrentPeriod.Start)
	require.Equal(t, 30*finance.Day, l.CurrentPeriod.Length)

	after, err := l.State(now, h)
	require.NoError(t, err)
	require.Equal(t, before.MarginInterestDue, after.MarginInterestDue)
	require.False(t, after.MarginInterestDue.IsZero())
}

func TestOpenNextPeriodRequiresPaidPeriod(t *testing.T) {
	h := newPoolHarness(t, 0)
	l := openTestLoan(t, h, finance.PercentFromPermille(30), 30*finance.Day)
	require.Error(t, l.openNextPeriod())
}

func TestRepaymentAfterDuePeriodRollsOver(t *testing.T) {
	h := newPoolHarness(t, finance.PercentFromPermille(100))
	l := openTestLoan(t, h, finance.PercentFromPermille(30), 30*finance.Day)

	by := h.at(40 * finance.Day)
	state, err := l.State(by, h)
	require.NoError(t, err)
	require.False(t, state.PreviousMarginInterestDue.IsZero())
	require.False(t, state.PreviousInterestDue.IsZero())
	require.False(t, state.CurrentMarginInterestDue.IsZero())

	receipt, req, err := l.Repay(finance.NewCoin(50_000_000, lpn), by, h)
	require.NoError(t, err)
	require.Equal(t, state.PreviousMarginInterestDue, receipt.PreviousMarginPaid)
	require.Equal(t, state.CurrentMarginInterestDue, receipt.CurrentMarginPaid)
	require.Equal(t, state.PreviousInterestDue, receipt.PreviousInterestPaid)
	require.Equal(t, state.CurrentInterestDue, receipt.CurrentInterestPaid)
	require.False(t, receipt.PrincipalPaid.IsZero())
	require.Equal(t, by, l.CurrentPeriod.Start)
	require.Equal(t, t0.Add(60*finance.Day), l.CurrentPeriod.Till())
	h.deliver(req)

	after, err := l.State(by, h)
	require.NoError(t, err)
	require.True(t, after.PreviousMarginInterestDue.IsZero())
	require.True(t, after.PreviousInterestDue.IsZero())
	require.True(t, after.InterestDue.IsZero())
}

func TestOverpaymentIsSurplus(t *testing.T) {
	h := newPoolHarness(t, finance.PercentFromPermille(100))
	l := openTestLoan(t, h, finance.PercentFromPermille(30), 30*finance.Day)

	by := h.at(20 * finance.Day)
	state, err := l.State(by, h)
	require.NoError(t, err)
	total, err := state.TotalDue()
	require.NoError(t, err)

	payment := finance.NewCoin(1_100_000_000, lpn)
	receipt, req, err := l.Repay(payment, by, h)
	require.NoError(t, err)
	require.True(t, receipt.Close)
	require.Equal(t, state.PrincipalDue, receipt.PrincipalPaid)
	surplus, err := payment.Sub(total)
	require.NoError(t, err)
	require.Equal(t, surplus, receipt.Surplus)

	h.deliver(req)
	require.Equal(t, []finance.Coin{loanPayment(t, receipt)}, h.sent)

	_, err = l.State(by, h)
	require.ErrorIs(t, err, ErrLoanClosed)
	_, _, err = l.Repay(payment, by, h)
	require.ErrorIs(t, err, ErrLoanClosed)
}

func TestRepayRejectsForeignCurrency(t *testing.T) {
	h := newPoolHarness(t, 0)
	l := openTestLoan(t, h, finance.PercentFromPermille(30), 30*finance.Day)
	_, _, err := l.Repay(finance.NewCoin(10, "ATOM"), h.at(finance.Day), h)
	require.ErrorIs(t, err, finance.ErrCurrencyMismatch)
}

func TestLiabilityAndOverdue(t *testing.T) {
	h := newPoolHarness(t, finance.PercentFromPermille(100))
	l := openTestLoan(t, h, finance.PercentFromPermille(30), 30*finance.Day)

	status, err := l.LiabilityStatus(h.at(20*finance.Day), h)
	require.NoError(t, err)
	require.True(t, status.PreviousInterest.IsZero())
	require.True(t, finance.NewCoin(1_000_000_000, lpn).Amount.Lt(status.Total.Amount))

	overdue, err := l.Overdue(h.at(35*finance.Day), h)
	require.NoError(t, err)
	require.False(t, overdue, "still within the grace period")

	overdue, err = l.Overdue(h.at(41*finance.Day), h)
	require.NoError(t, err)
	require.True(t, overdue)

	status, err = l.LiabilityStatus(h.now, h)
	require.NoError(t, err)
	require.False(t, status.PreviousInterest.IsZero())
	require.True(t, status.PreviousInterest.Amount.Lt(status.Total.Amount))
}

func TestReceiptTotalsReportOverflow(t *testing.T) {
	huge := finance.CoinOf(finance.MustParseAmount("340282366920938463463374607431768211455"), lpn)
	r := newReceipt(huge)
	r.PreviousInterestPaid = huge
	r.CurrentInterestPaid = finance.NewCoin(1, lpn)
	_, err := r.InterestPaid()
	require.ErrorIs(t, err, finance.ErrOverflow)
	_, err = r.LoanPayment()
	require.ErrorIs(t, err, finance.ErrOverflow)

	r = newReceipt(huge)
	r.PreviousMarginPaid = huge
	r.CurrentMarginPaid = huge
	_, err = r.MarginPaid()
	require.ErrorIs(t, err, finance.ErrOverflow)

	r = newReceipt(finance.NewCoin(10, lpn))
	r.CurrentInterestPaid = finance.NewCoin(3, lpn)
	r.PrincipalPaid = finance.NewCoin(7, lpn)
	require.Equal(t, finance.NewCoin(10, lpn), loanPayment(t, r))
}

func TestLiabilityInvariant(t *testing.T) {
	_, err := liabilityOf(State{
		PrincipalDue:              finance.ZeroCoin(lpn),
		InterestDue:               finance.ZeroCoin(lpn),
		LoanInterestDue:           finance.ZeroCoin(lpn),
		MarginInterestDue:         finance.ZeroCoin(lpn),
		PreviousInterestDue:       finance.NewCoin(5, lpn),
		PreviousMarginInterestDue: finance.ZeroCoin(lpn),
	})
	require.Error(t, err)
}
