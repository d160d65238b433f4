package timealarms

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"nhblease/crypto"
	"nhblease/finance"
	"nhblease/native/common"
	"nhblease/observability"
	"nhblease/platform"
)

// ErrInvalidAlarm rejects an alarm set in the past.
var ErrInvalidAlarm = errors.New("timealarms: alarm in the past")

// EventType is emitted on each dispatch.
const EventType = "timealarm"

// ReplyID is shared by every delivery; outcomes are matched to the delivery
// queue in order.
const ReplyID uint64 = 0

type AddAlarmMsg struct {
	Time finance.Timestamp `json:"time"`
}

type DispatchAlarmsMsg struct {
	MaxCount uint32 `json:"max_count"`
}

// ExecuteMsg is the set of alarm service commands. Exactly one field is set.
type ExecuteMsg struct {
	AddAlarm       *AddAlarmMsg       `json:"add_alarm,omitempty"`
	RemoveAlarm    *struct{}          `json:"remove_alarm,omitempty"`
	DispatchAlarms *DispatchAlarmsMsg `json:"dispatch_alarms,omitempty"`
}

type QueryMsg struct {
	AlarmsStatus *struct{} `json:"alarms_status,omitempty"`
}

type AlarmsStatusResponse struct {
	RemainingAlarms bool   `json:"remaining_alarms"`
	InDelivery      uint64 `json:"in_delivery"`
}

// DispatchResponse is the data of a dispatch invocation.
type DispatchResponse struct {
	Dispatched uint32 `json:"dispatched"`
}

// TimeAlarmMsg is sent to a subscriber whose alarm is due.
type TimeAlarmMsg struct {
	TimeAlarm TimeAlarm `json:"time_alarm"`
}

// TimeAlarm carries the time the alarm was set for.
type TimeAlarm struct {
	Time finance.Timestamp `json:"time"`
}

// Contract is the time alarm service. Alarms are kept with second precision
// and delivered at most once per dispatch; a failed delivery is rescheduled.
type Contract struct {
	Pauses common.PauseView
}

var _ platform.Contract = Contract{}

func (Contract) Instantiate(platform.Deps, platform.Env, platform.MessageInfo, json.RawMessage) (platform.MessageResponse, error) {
	return platform.MessageResponse{}, nil
}

func (c Contract) Execute(deps platform.Deps, env platform.Env, info platform.MessageInfo, raw json.RawMessage) (platform.MessageResponse, error) {
	var msg ExecuteMsg
	if err := decodeJSON(raw, &msg); err != nil {
		return platform.MessageResponse{}, err
	}
	alarms := NewAlarms(deps.Storage)
	switch {
	case msg.AddAlarm != nil:
		if msg.AddAlarm.Time.Before(env.Now) {
			return platform.MessageResponse{}, fmt.Errorf("%w: %s before %s", ErrInvalidAlarm, msg.AddAlarm.Time, env.Now)
		}
		return platform.MessageResponse{}, alarms.Add(info.Sender, msg.AddAlarm.Time)
	case msg.RemoveAlarm != nil:
		return platform.MessageResponse{}, alarms.Remove(info.Sender)
	case msg.DispatchAlarms != nil:
		if err := common.Guard(c.Pauses, common.ModuleTimeAlarms); err != nil {
			return platform.MessageResponse{}, err
		}
		return dispatch(deps, env, alarms, msg.DispatchAlarms.MaxCount)
	default:
		return platform.MessageResponse{}, platform.ErrUnknownMessage
	}
}

func dispatch(deps platform.Deps, env platform.Env, alarms *Alarms, max uint32) (platform.MessageResponse, error) {
	due, err := alarms.Selection(env.Now, max)
	if err != nil {
		return platform.MessageResponse{}, err
	}
	var b platform.Batch
	for _, entry := range due {
		if err := alarms.OutForDelivery(entry.Subscriber); err != nil {
			return platform.MessageResponse{}, err
		}
		exec, err := platform.NewExecute(entry.Subscriber, TimeAlarmMsg{
			TimeAlarm: TimeAlarm{Time: finance.TimestampFromSeconds(entry.Seconds)},
		})
		if err != nil {
			return platform.MessageResponse{}, err
		}
		b.ScheduleReplyAlways(exec, ReplyID)
	}
	observability.Alarms().RecordDispatched(len(due))
	data, err := json.Marshal(DispatchResponse{Dispatched: uint32(len(due))})
	if err != nil {
		return platform.MessageResponse{}, err
	}
	resp := platform.MessagesWithEvent(b, platform.NewEmitter(EventType).
		EmitTxInfo(env).
		EmitUint("delivered", uint64(len(due))))
	resp.Data = data
	return resp, nil
}

func (Contract) Reply(deps platform.Deps, env platform.Env, reply platform.Reply) (platform.MessageResponse, error) {
	if err := common.Invariant(reply.ID == ReplyID, "unexpected reply id %d", reply.ID); err != nil {
		return platform.MessageResponse{}, err
	}
	alarms := NewAlarms(deps.Storage)
	if reply.Result.IsOk() {
		observability.Alarms().RecordDelivered()
		return platform.MessageResponse{}, alarms.LastDelivered()
	}
	observability.Alarms().RecordFailed()
	deps.Log().Warn("time alarm delivery failed", "component", "timealarms", "error", reply.Result.Err)
	return platform.MessageResponse{}, alarms.LastFailed(env.Now)
}

func (Contract) Sudo(platform.Deps, platform.Env, platform.SudoMsg) (platform.MessageResponse, error) {
	return platform.MessageResponse{}, platform.ErrUnknownMessage
}

func (Contract) Query(deps platform.Deps, env platform.Env, raw json.RawMessage) (json.RawMessage, error) {
	var msg QueryMsg
	if err := decodeJSON(raw, &msg); err != nil {
		return nil, err
	}
	if msg.AlarmsStatus == nil {
		return nil, platform.ErrUnknownMessage
	}
	alarms := NewAlarms(deps.Storage)
	due, err := alarms.Selection(env.Now, 1)
	if err != nil {
		return nil, err
	}
	inDelivery, err := alarms.InDelivery()
	if err != nil {
		return nil, err
	}
	return json.Marshal(AlarmsStatusResponse{RemainingAlarms: len(due) > 0, InDelivery: inDelivery})
}

// Ref is a subscriber-side handle to the alarm service.
type Ref struct {
	Addr crypto.Address
}

func NewRef(addr crypto.Address) Ref { return Ref{Addr: addr} }

// SetupAlarm subscribes the caller to a wake-up at the given time.
func (r Ref) SetupAlarm(at finance.Timestamp) (platform.Batch, error) {
	exec, err := platform.NewExecute(r.Addr, ExecuteMsg{AddAlarm: &AddAlarmMsg{Time: at}})
	if err != nil {
		return platform.Batch{}, err
	}
	var b platform.Batch
	b.Schedule(exec)
	return b, nil
}

func decodeJSON(raw []byte, out any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("%w: %v", platform.ErrUnknownMessage, err)
	}
	return nil
}
