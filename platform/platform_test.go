package platform

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"nhblease/finance"
)

func TestReplyOnReports(t *testing.T) {
	require.True(t, ReplyAlways.Reports(true))
	require.True(t, ReplyAlways.Reports(false))
	require.True(t, ReplyOnError.Reports(false))
	require.False(t, ReplyOnError.Reports(true))
	require.True(t, ReplyOnSuccess.Reports(true))
	require.False(t, ReplyNever.Reports(false))
}

func TestBatchOrderAndMerge(t *testing.T) {
	var first Batch
	first.Schedule(RegisterICA{ConnectionID: "connection-0"})
	var second Batch
	second.ScheduleReplyOnError(BankSend{}, 7)

	merged := first.Merge(second)
	msgs := merged.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "register_ica", Kind(msgs[0].Msg))
	require.Equal(t, uint64(7), msgs[1].ID)
	require.Equal(t, ReplyOnError, msgs[1].ReplyOn)
	require.Equal(t, 1, first.Len())
}

func TestParseRegisterResponse(t *testing.T) {
	version := `{"version":"ics27-1","controller_connection_id":"connection-0","host_connection_id":"connection-1","address":"dex1host","encoding":"proto3","tx_type":"sdk_multi_msg"}`
	account, err := ParseRegisterResponse(version)
	require.NoError(t, err)
	require.Equal(t, HostAccount("dex1host"), account)

	_, err = ParseRegisterResponse(`{"address":""}`)
	require.ErrorIs(t, err, ErrInvalidHostAccount)

	_, err = ParseRegisterResponse(`not json`)
	require.Error(t, err)
}

func TestResponsesPositional(t *testing.T) {
	var data TxMsgData
	for _, amount := range []uint64{7, 18} {
		var trx Transaction
		require.NoError(t, trx.AddMessage(TypeURLSwapExactAmountInResponse, &MsgSwapExactAmountInResponse{
			TokenOutAmount: uint256.NewInt(amount),
		}))
		data.MsgResponses = append(data.MsgResponses, trx.Msgs[0])
	}
	raw, err := EncodeTxMsgData(data)
	require.NoError(t, err)

	resps, err := NewResponses(raw)
	require.NoError(t, err)
	var out MsgSwapExactAmountInResponse
	require.NoError(t, resps.Next(TypeURLSwapExactAmountInResponse, &out))
	require.Equal(t, uint64(7), out.TokenOutAmount.Uint64())
	require.ErrorIs(t, resps.Finish(), ErrUnexpectedResponses)

	var wrong MsgTransferResponse
	require.ErrorIs(t, resps.Next(TypeURLTransferResponse, &wrong), ErrUnexpectedTypeURL)
	require.ErrorIs(t, resps.Next(TypeURLSwapExactAmountInResponse, &out), ErrMissingResponse)
	require.NoError(t, resps.Finish())
}

func TestEmitter(t *testing.T) {
	env := Env{Now: finance.TimestampFromSeconds(10), Height: 3}
	ev := NewEmitter("ls-open").
		EmitTxInfo(env).
		EmitCoin("loan", finance.NewCoin(100, "USDC")).
		EmitPercent("loan-interest", finance.PercentFromPermille(75)).
		Event()

	require.Equal(t, "ls-open", ev.EventType())
	require.Equal(t, "3", ev.Attributes["height"])
	require.Equal(t, "10000000000", ev.Attributes["at"])
	require.Equal(t, "100", ev.Attributes["loan-amount"])
	require.Equal(t, "USDC", ev.Attributes["loan-symbol"])
	require.Equal(t, "75", ev.Attributes["loan-interest"])
}
