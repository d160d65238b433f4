package timealarms

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"nhblease/crypto"
	"nhblease/finance"
	"nhblease/native/common"
	"nhblease/platform"
	"nhblease/storage"
)

var (
	addr1 = crypto.NewAddress(crypto.AccountPrefix, []byte("subscriber-address-1"))
	addr2 = crypto.NewAddress(crypto.AccountPrefix, []byte("subscriber-address-2"))
)

func secs(s uint64) finance.Timestamp { return finance.TimestampFromSeconds(s) }

func TestAddKeepsSingleAlarmPerSubscriber(t *testing.T) {
	alarms := NewAlarms(storage.NewMemDB())
	require.NoError(t, alarms.Add(addr1, secs(1)))

	due, err := alarms.Selection(secs(10), 0)
	require.NoError(t, err)
	require.Equal(t, []Entry{{Subscriber: addr1, Seconds: 1}}, due)

	require.NoError(t, alarms.Add(addr1, secs(3)))
	require.NoError(t, alarms.Add(addr2, secs(3)))
	due, err = alarms.Selection(secs(10), 0)
	require.NoError(t, err)
	require.Equal(t, []Entry{{Subscriber: addr1, Seconds: 3}, {Subscriber: addr2, Seconds: 3}}, due)

	due, err = alarms.Selection(secs(2), 0)
	require.NoError(t, err)
	require.Empty(t, due)
}

func TestSelectionOrderAndLimit(t *testing.T) {
	alarms := NewAlarms(storage.NewMemDB())
	require.NoError(t, alarms.Add(addr1, secs(20)))
	require.NoError(t, alarms.Add(addr2, secs(10)))

	due, err := alarms.Selection(secs(30), 1)
	require.NoError(t, err)
	require.Equal(t, []Entry{{Subscriber: addr2, Seconds: 10}}, due)

	require.NoError(t, alarms.Remove(addr2))
	require.NoError(t, alarms.Remove(addr2))
	due, err = alarms.Selection(secs(30), 0)
	require.NoError(t, err)
	require.Equal(t, []Entry{{Subscriber: addr1, Seconds: 20}}, due)
}

func TestDeliveryQueue(t *testing.T) {
	alarms := NewAlarms(storage.NewMemDB())
	require.ErrorIs(t, alarms.LastDelivered(), ErrEmptyDeliveryQueue)

	require.NoError(t, alarms.Add(addr1, secs(10)))
	require.NoError(t, alarms.Add(addr2, secs(10)))
	require.NoError(t, alarms.OutForDelivery(addr1))
	require.NoError(t, alarms.OutForDelivery(addr2))

	due, err := alarms.Selection(secs(100), 0)
	require.NoError(t, err)
	require.Empty(t, due, "alarms out for delivery leave the index")

	n, err := alarms.InDelivery()
	require.NoError(t, err)
	require.Equal(t, uint64(2), n)

	require.NoError(t, alarms.LastDelivered())
	require.NoError(t, alarms.LastFailed(secs(50)))

	due, err = alarms.Selection(secs(50), 0)
	require.NoError(t, err)
	require.Equal(t, []Entry{{Subscriber: addr2, Seconds: 49}}, due)
	require.ErrorIs(t, alarms.LastFailed(secs(50)), ErrEmptyDeliveryQueue)
}

func execute(t *testing.T, c Contract, deps platform.Deps, env platform.Env, sender crypto.Address, msg ExecuteMsg) (platform.MessageResponse, error) {
	t.Helper()
	raw, err := json.Marshal(msg)
	require.NoError(t, err)
	return c.Execute(deps, env, platform.MessageInfo{Sender: sender}, raw)
}

func TestContractDispatch(t *testing.T) {
	deps := platform.Deps{Storage: storage.NewMemDB()}
	c := Contract{}
	env := platform.Env{Now: secs(100)}

	_, err := execute(t, c, deps, env, addr1, ExecuteMsg{AddAlarm: &AddAlarmMsg{Time: secs(99)}})
	require.ErrorIs(t, err, ErrInvalidAlarm)

	_, err = execute(t, c, deps, env, addr1, ExecuteMsg{AddAlarm: &AddAlarmMsg{Time: env.Now.Add(finance.Nanosecond)}})
	require.NoError(t, err)
	_, err = execute(t, c, deps, env, addr2, ExecuteMsg{AddAlarm: &AddAlarmMsg{Time: secs(200)}})
	require.NoError(t, err)

	resp, err := execute(t, c, deps, env, addr2, ExecuteMsg{DispatchAlarms: &DispatchAlarmsMsg{MaxCount: 10}})
	require.NoError(t, err)
	msgs := resp.Messages.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, platform.ReplyAlways, msgs[0].ReplyOn)
	call := msgs[0].Msg.(platform.ExecuteMsg)
	require.Equal(t, addr1, call.Contract)
	require.JSONEq(t, `{"time_alarm":{"time":100000000000}}`, string(call.Msg))
	require.Len(t, resp.Events, 1)
	require.Equal(t, EventType, resp.Events[0].Type)
	require.JSONEq(t, `{"dispatched":1}`, string(resp.Data))

	_, err = c.Reply(deps, env, platform.Reply{ID: ReplyID, Result: platform.SubMsgResult{Err: "out of gas"}})
	require.NoError(t, err)

	resp, err = execute(t, c, deps, env, addr2, ExecuteMsg{DispatchAlarms: &DispatchAlarmsMsg{MaxCount: 10}})
	require.NoError(t, err)
	require.Len(t, resp.Messages.Messages(), 1, "a failed alarm is dispatched again")

	_, err = c.Reply(deps, env, platform.Reply{ID: ReplyID})
	require.NoError(t, err)
	resp, err = execute(t, c, deps, env, addr2, ExecuteMsg{DispatchAlarms: &DispatchAlarmsMsg{MaxCount: 10}})
	require.NoError(t, err)
	require.True(t, resp.Messages.IsEmpty())

	out, err := c.Query(deps, platform.Env{Now: secs(300)}, json.RawMessage(`{"alarms_status":{}}`))
	require.NoError(t, err)
	require.JSONEq(t, `{"remaining_alarms":true,"in_delivery":0}`, string(out))
}

func TestDispatchPaused(t *testing.T) {
	deps := platform.Deps{Storage: storage.NewMemDB()}
	c := Contract{Pauses: common.PauseSet{common.ModuleTimeAlarms: true}}
	_, err := execute(t, c, deps, platform.Env{Now: secs(1)}, addr1, ExecuteMsg{DispatchAlarms: &DispatchAlarmsMsg{}})
	require.ErrorIs(t, err, common.ErrModulePaused)
}

func TestRefSetupAlarm(t *testing.T) {
	svc := crypto.NewAddress(crypto.AccountPrefix, []byte("time-alarms-address1"))
	b, err := NewRef(svc).SetupAlarm(secs(42))
	require.NoError(t, err)
	msgs := b.Messages()
	require.Len(t, msgs, 1)
	call := msgs[0].Msg.(platform.ExecuteMsg)
	require.Equal(t, svc, call.Contract)
	require.JSONEq(t, `{"add_alarm":{"time":42000000000}}`, string(call.Msg))
}
