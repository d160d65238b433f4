package oracle

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
	oracleAddr = crypto.NewAddress(crypto.AccountPrefix, []byte("oracle-address-00001"))
	feeder     = crypto.NewAddress(crypto.AccountPrefix, []byte("feeder-address-00001"))
	subscriber = crypto.NewAddress(crypto.AccountPrefix, []byte("lease-address-000001"))
)

func newTestOracle(t *testing.T) platform.Deps {
	t.Helper()
	require.NoError(t, finance.RegisterCurrencies(
		finance.Currency{Ticker: "USDC", DexSymbol: "ibc/usdc", Group: finance.GroupLpn},
		finance.Currency{Ticker: "ATOM", DexSymbol: "ibc/atom", Group: finance.GroupLease},
		finance.Currency{Ticker: "OSMO", DexSymbol: "uosmo", Group: finance.GroupLease},
	))
	deps := platform.Deps{Storage: storage.NewMemDB()}
	raw, err := json.Marshal(InstantiateMsg{
		BaseCurrency: "USDC",
		Feeder:       feeder,
		SwapTree: []SwapLeg{
			{From: "ATOM", To: "USDC", PoolID: 1},
			{From: "OSMO", To: "USDC", PoolID: 678},
		},
	})
	require.NoError(t, err)
	_, err = Oracle{}.Instantiate(deps, platform.Env{Self: oracleAddr}, platform.MessageInfo{}, raw)
	require.NoError(t, err)
	return deps
}

func exec(t *testing.T, deps platform.Deps, sender crypto.Address, msg ExecuteMsg) (platform.MessageResponse, error) {
	t.Helper()
	raw, err := json.Marshal(msg)
	require.NoError(t, err)
	return Oracle{}.Execute(deps, platform.Env{Self: oracleAddr}, platform.MessageInfo{Sender: sender}, raw)
}

func atomPrice(t *testing.T, usdc uint64) finance.Price {
	t.Helper()
	p, err := finance.NewPrice(finance.NewCoin(1, "ATOM"), finance.NewCoin(usdc, "USDC"))
	require.NoError(t, err)
	return p
}

func feed(t *testing.T, deps platform.Deps, prices ...finance.Price) []platform.SubMsg {
	t.Helper()
	resp, err := exec(t, deps, feeder, ExecuteMsg{FeedPrices: &FeedPricesMsg{Prices: prices}})
	require.NoError(t, err)
	return resp.Messages.Messages()
}

func queryOracle(t *testing.T, deps platform.Deps, msg QueryMsg, out any) error {
	t.Helper()
	raw, err := json.Marshal(msg)
	require.NoError(t, err)
	resp, err := Oracle{}.Query(deps, platform.Env{Self: oracleAddr}, raw)
	if err != nil {
		return err
	}
	return json.Unmarshal(resp, out)
}

func TestFeedAndQueryPrice(t *testing.T) {
	deps := newTestOracle(t)
	var price finance.Price
	require.ErrorIs(t, queryOracle(t, deps, QueryMsg{Price: &PriceQuery{Currency: "ATOM"}}, &price), ErrNoPrice)

	_, err := exec(t, deps, subscriber, ExecuteMsg{FeedPrices: &FeedPricesMsg{Prices: []finance.Price{atomPrice(t, 10)}}})
	require.ErrorIs(t, err, ErrUnauthorized)

	resp, err := exec(t, deps, feeder, ExecuteMsg{FeedPrices: &FeedPricesMsg{Prices: []finance.Price{atomPrice(t, 10)}}})
	require.NoError(t, err)
	require.Len(t, resp.Events, 1)
	require.Equal(t, EventFeedPrices, resp.Events[0].Type)
	require.Equal(t, "1", resp.Events[0].Attributes["prices"])
	require.NoError(t, queryOracle(t, deps, QueryMsg{Price: &PriceQuery{Currency: "ATOM"}}, &price))
	require.Equal(t, atomPrice(t, 10), price)

	require.NoError(t, queryOracle(t, deps, QueryMsg{Price: &PriceQuery{Currency: "USDC"}}, &price))
	require.Equal(t, finance.Identity("USDC"), price)
}

func TestSwapPath(t *testing.T) {
	deps := newTestOracle(t)
	var resp SwapPathResponse
	require.NoError(t, queryOracle(t, deps, QueryMsg{SwapPath: &SwapPathQuery{From: "USDC", To: "ATOM"}}, &resp))
	require.Equal(t, []platform.SwapRoute{{PoolID: 1, TokenOutDenom: "ibc/atom"}}, resp.Routes)

	require.NoError(t, queryOracle(t, deps, QueryMsg{SwapPath: &SwapPathQuery{From: "ATOM", To: "OSMO"}}, &resp))
	require.Equal(t, []platform.SwapRoute{
		{PoolID: 1, TokenOutDenom: "ibc/usdc"},
		{PoolID: 678, TokenOutDenom: "uosmo"},
	}, resp.Routes)

	require.ErrorIs(t, queryOracle(t, deps, QueryMsg{SwapPath: &SwapPathQuery{From: "ATOM", To: "ATOM"}}, &resp), ErrNoPath)
}

func TestPriceAlarmDelivery(t *testing.T) {
	deps := newTestOracle(t)
	_, err := exec(t, deps, subscriber, ExecuteMsg{AddPriceAlarm: &Alarm{Below: atomPrice(t, 8)}})
	require.NoError(t, err)

	require.Empty(t, feed(t, deps, atomPrice(t, 9)))

	msgs := feed(t, deps, atomPrice(t, 7))
	require.Len(t, msgs, 1)
	require.Equal(t, platform.ReplyAlways, msgs[0].ReplyOn)
	call := msgs[0].Msg.(platform.ExecuteMsg)
	require.Equal(t, subscriber, call.Contract)
	require.JSONEq(t, `{"price_alarm":{}}`, string(call.Msg))

	// out for delivery: a further feed does not fire it twice
	require.Empty(t, feed(t, deps, atomPrice(t, 6)))

	// failed delivery keeps the subscription
	_, err = Oracle{}.Reply(deps, platform.Env{}, platform.Reply{ID: msgs[0].ID, Result: platform.SubMsgResult{Err: "boom"}})
	require.NoError(t, err)
	msgs = feed(t, deps, atomPrice(t, 6))
	require.Len(t, msgs, 1)

	// successful delivery removes it
	_, err = Oracle{}.Reply(deps, platform.Env{}, platform.Reply{ID: msgs[0].ID})
	require.NoError(t, err)
	require.Empty(t, feed(t, deps, atomPrice(t, 5)))
}

func TestResubscribedAlarmSurvivesDelivery(t *testing.T) {
	deps := newTestOracle(t)
	_, err := exec(t, deps, subscriber, ExecuteMsg{AddPriceAlarm: &Alarm{Below: atomPrice(t, 8)}})
	require.NoError(t, err)
	msgs := feed(t, deps, atomPrice(t, 7))
	require.Len(t, msgs, 1)

	_, err = exec(t, deps, subscriber, ExecuteMsg{AddPriceAlarm: &Alarm{Below: atomPrice(t, 5)}})
	require.NoError(t, err)
	_, err = Oracle{}.Reply(deps, platform.Env{}, platform.Reply{ID: msgs[0].ID})
	require.NoError(t, err)

	require.Len(t, feed(t, deps, atomPrice(t, 4)), 1)
}
