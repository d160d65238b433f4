package lpp

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"nhblease/crypto"
	"nhblease/finance"
	"nhblease/platform"
	"nhblease/storage"
)

var (
	testPool  = crypto.NewAddress(crypto.AccountPrefix, []byte("pool-address-0000001"))
	testLease = crypto.NewAddress(crypto.AccountPrefix, []byte("lease-address-000001"))
	start     = finance.TimestampFromSeconds(1_700_000_000)
)

type liquidity finance.Coin

func (l liquidity) QueryWasm(crypto.Address, any, any) error { return platform.ErrUnknownContract }

func (l liquidity) QueryBalance(crypto.Address, string) (finance.Coin, error) {
	return finance.Coin(l), nil
}

func newTestPool(t *testing.T, balance uint64) platform.Deps {
	t.Helper()
	deps := platform.Deps{Storage: storage.NewMemDB(), Querier: liquidity(finance.NewCoin(balance, "USDC"))}
	raw, err := json.Marshal(InstantiateMsg{Lpn: "USDC", AnnualRate: finance.PercentFromPermille(100)})
	require.NoError(t, err)
	_, err = Pool{}.Instantiate(deps, platform.Env{Now: start, Self: testPool}, platform.MessageInfo{}, raw)
	require.NoError(t, err)
	return deps
}

func execute(t *testing.T, deps platform.Deps, now finance.Timestamp, msg ExecuteMsg, funds ...finance.Coin) (platform.MessageResponse, error) {
	t.Helper()
	raw, err := json.Marshal(msg)
	require.NoError(t, err)
	return Pool{}.Execute(deps, platform.Env{Now: now, Self: testPool}, platform.MessageInfo{Sender: testLease, Funds: funds}, raw)
}

func query[T any](t *testing.T, deps platform.Deps, now finance.Timestamp, msg QueryMsg) *T {
	t.Helper()
	raw, err := json.Marshal(msg)
	require.NoError(t, err)
	out, err := Pool{}.Query(deps, platform.Env{Now: now, Self: testPool}, raw)
	require.NoError(t, err)
	var resp *T
	require.NoError(t, json.Unmarshal(out, &resp))
	return resp
}

func TestOpenLoan(t *testing.T) {
	deps := newTestPool(t, 5_000)
	resp, err := execute(t, deps, start, ExecuteMsg{OpenLoan: &OpenLoanMsg{Amount: finance.NewCoin(1_000, "USDC")}})
	require.NoError(t, err)

	msgs := resp.Messages.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, platform.BankSend{To: testLease, Amount: []finance.Coin{finance.NewCoin(1_000, "USDC")}}, msgs[0].Msg)

	var opened OpenLoanResponse
	require.NoError(t, json.Unmarshal(resp.Data, &opened))
	require.Equal(t, finance.PercentFromPermille(100), opened.AnnualInterestRate)

	_, err = execute(t, deps, start, ExecuteMsg{OpenLoan: &OpenLoanMsg{Amount: finance.NewCoin(1, "USDC")}})
	require.ErrorIs(t, err, ErrLoanExists)
}

func TestOpenLoanChecks(t *testing.T) {
	deps := newTestPool(t, 500)
	_, err := execute(t, deps, start, ExecuteMsg{OpenLoan: &OpenLoanMsg{Amount: finance.NewCoin(1_000, "USDC")}})
	require.ErrorIs(t, err, ErrNoLiquidity)
	_, err = execute(t, deps, start, ExecuteMsg{OpenLoan: &OpenLoanMsg{Amount: finance.NewCoin(100, "ATOM")}})
	require.ErrorIs(t, err, finance.ErrCurrencyMismatch)
}

func TestRepayInterestThenPrincipal(t *testing.T) {
	deps := newTestPool(t, 1_000_000_000_000)
	_, err := execute(t, deps, start, ExecuteMsg{OpenLoan: &OpenLoanMsg{Amount: finance.NewCoin(1_000_000_000, "USDC")}})
	require.NoError(t, err)

	now := start.Add(73 * finance.Day)
	loan := query[LoanResponse](t, deps, now, QueryMsg{Loan: &LoanQuery{LeaseAddr: testLease}})
	require.NotNil(t, loan)
	require.Equal(t, finance.NewCoin(20_000_000, "USDC"), loan.InterestDue)

	half := query[OutstandingInterest](t, deps, now, QueryMsg{LoanOutstandingInterest: &OutstandingInterestQuery{
		LeaseAddr:       testLease,
		OutstandingTime: start.Add(36*finance.Day + 12*finance.Hour),
	}})
	require.Equal(t, finance.NewCoin(10_000_000, "USDC"), half.Amount)

	_, err = execute(t, deps, now, ExecuteMsg{RepayLoan: &struct{}{}}, finance.NewCoin(25_000_000, "USDC"))
	require.NoError(t, err)
	loan = query[LoanResponse](t, deps, now, QueryMsg{Loan: &LoanQuery{LeaseAddr: testLease}})
	require.True(t, loan.InterestDue.IsZero())
	require.Equal(t, finance.NewCoin(995_000_000, "USDC"), loan.PrincipalDue)
	require.Equal(t, now, loan.InterestPaid)

	resp, err := execute(t, deps, now, ExecuteMsg{RepayLoan: &struct{}{}}, finance.NewCoin(1_000_000_000, "USDC"))
	require.NoError(t, err)
	msgs := resp.Messages.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, platform.BankSend{To: testLease, Amount: []finance.Coin{finance.NewCoin(5_000_000, "USDC")}}, msgs[0].Msg)

	require.Nil(t, query[LoanResponse](t, deps, now, QueryMsg{Loan: &LoanQuery{LeaseAddr: testLease}}))
	_, err = execute(t, deps, now, ExecuteMsg{RepayLoan: &struct{}{}}, finance.NewCoin(1, "USDC"))
	require.ErrorIs(t, err, ErrLoanNotFound)
}

func TestUnknownMessage(t *testing.T) {
	deps := newTestPool(t, 0)
	_, err := Pool{}.Execute(deps, platform.Env{}, platform.MessageInfo{}, json.RawMessage(`{"withdraw":{}}`))
	require.ErrorIs(t, err, platform.ErrUnknownMessage)
}
