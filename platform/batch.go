package platform

import (
	"nhblease/core/types"
)

// Batch accumulates the outbound sub-messages of one invocation. The host
// delivers them in the order they were scheduled.
type Batch struct {
	msgs []SubMsg
}

// Schedule appends a fire-and-forget message.
func (b *Batch) Schedule(msg CosmosMsg) {
	b.msgs = append(b.msgs, SubMsg{Msg: msg, ReplyOn: ReplyNever})
}

// ScheduleReplyOnSuccess appends a message whose success is replied with id.
func (b *Batch) ScheduleReplyOnSuccess(msg CosmosMsg, id uint64) {
	b.msgs = append(b.msgs, SubMsg{ID: id, Msg: msg, ReplyOn: ReplyOnSuccess})
}

// ScheduleReplyOnError appends a message whose failure is replied with id.
func (b *Batch) ScheduleReplyOnError(msg CosmosMsg, id uint64) {
	b.msgs = append(b.msgs, SubMsg{ID: id, Msg: msg, ReplyOn: ReplyOnError})
}

// ScheduleReplyAlways appends a message whose every outcome is replied.
func (b *Batch) ScheduleReplyAlways(msg CosmosMsg, id uint64) {
	b.msgs = append(b.msgs, SubMsg{ID: id, Msg: msg, ReplyOn: ReplyAlways})
}

// Merge returns a batch holding b's messages followed by other's.
func (b Batch) Merge(other Batch) Batch {
	out := make([]SubMsg, 0, len(b.msgs)+len(other.msgs))
	out = append(out, b.msgs...)
	out = append(out, other.msgs...)
	return Batch{msgs: out}
}

func (b Batch) Len() int { return len(b.msgs) }

func (b Batch) IsEmpty() bool { return len(b.msgs) == 0 }

// Messages returns a copy of the scheduled sub-messages.
func (b Batch) Messages() []SubMsg {
	out := make([]SubMsg, len(b.msgs))
	copy(out, b.msgs)
	return out
}

// MessageResponse is the outcome of a command: outbound messages, events and
// optional response data.
type MessageResponse struct {
	Messages Batch
	Events   []types.Event
	Data     []byte
}

// MessagesOnly wraps a batch without events.
func MessagesOnly(b Batch) MessageResponse {
	return MessageResponse{Messages: b}
}

// MessagesWithEvent attaches one event to a batch.
func MessagesWithEvent(b Batch, e *Emitter) MessageResponse {
	return MessageResponse{Messages: b, Events: []types.Event{e.Event()}}
}

// Merge concatenates two responses. Data of the latter wins when set.
func (r MessageResponse) Merge(other MessageResponse) MessageResponse {
	events := make([]types.Event, 0, len(r.Events)+len(other.Events))
	events = append(events, r.Events...)
	events = append(events, other.Events...)
	data := r.Data
	if other.Data != nil {
		data = other.Data
	}
	return MessageResponse{
		Messages: r.Messages.Merge(other.Messages),
		Events:   events,
		Data:     data,
	}
}

// WithEvent appends an event built by e.
func (r MessageResponse) WithEvent(e *Emitter) MessageResponse {
	return r.Merge(MessageResponse{Events: []types.Event{e.Event()}})
}

// SubMsgResult is the outcome of a dispatched sub-message.
type SubMsgResult struct {
	Data []byte
	Err  string
}

func (r SubMsgResult) IsOk() bool { return r.Err == "" }

// Reply delivers a sub-message outcome to its originator.
type Reply struct {
	ID     uint64
	Result SubMsgResult
}
