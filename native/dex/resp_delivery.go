package dex

import (
	"fmt"

	"nhblease/finance"
	"nhblease/native/common"
	"nhblease/observability"
	"nhblease/platform"
)

// ResponseDeliveryReplyID correlates the reply of a failed self-delivery.
const ResponseDeliveryReplyID uint64 = 12345678901

// EventNextDelivery is emitted when an immediate delivery failed and the next
// attempt is scheduled through an alarm.
const EventNextDelivery = "next-delivery"

// CallbackMsg is the execute payload a contract sends to itself to trigger a
// delivery. Contracts embedding this package accept it from themselves only.
type CallbackMsg struct {
	DexCallback         *struct{} `json:"dex_callback,omitempty"`
	DexCallbackContinue *struct{} `json:"dex_callback_continue,omitempty"`
}

// PayloadKind discriminates what a delivery carries.
type PayloadKind uint8

const (
	PayloadResponse PayloadKind = iota
	PayloadOpenAck
)

func (k PayloadKind) String() string {
	if k == PayloadOpenAck {
		return "ica-open-ack"
	}
	return "dex-response"
}

// ResponseDelivery holds a captured remote outcome until the wrapped handler
// has processed it. The first attempt runs in a self-call so a failure can be
// retried from an alarm without losing the outcome.
type ResponseDelivery[R any] struct {
	Base[R]
	kind    PayloadKind
	payload []byte
	inner   Handler[R]
	alarms  TimeAlarms
}

// NewResponseDelivery wraps a handler awaiting a transaction acknowledgement.
func NewResponseDelivery[R any](inner ResponseHandler[R], data []byte) *ResponseDelivery[R] {
	return &ResponseDelivery[R]{
		kind:    PayloadResponse,
		payload: append([]byte(nil), data...),
		inner:   inner,
		alarms:  inner.TimeAlarms(),
	}
}

// NewICAOpenResponseDelivery wraps a handler awaiting an account open
// acknowledgement.
func NewICAOpenResponseDelivery[R any](inner OpenAckHandler[R], counterpartyVersion string) *ResponseDelivery[R] {
	return &ResponseDelivery[R]{
		kind:    PayloadOpenAck,
		payload: []byte(counterpartyVersion),
		inner:   inner,
		alarms:  inner.TimeAlarms(),
	}
}

// RestoreResponseDelivery rebuilds a persisted delivery.
func RestoreResponseDelivery[R any](kind PayloadKind, payload []byte, inner Handler[R]) (*ResponseDelivery[R], error) {
	switch kind {
	case PayloadResponse:
		h, ok := inner.(ResponseHandler[R])
		if !ok {
			return nil, fmt.Errorf("%w: %T does not handle responses", common.ErrInvariant, inner)
		}
		return NewResponseDelivery[R](h, payload), nil
	case PayloadOpenAck:
		h, ok := inner.(OpenAckHandler[R])
		if !ok {
			return nil, fmt.Errorf("%w: %T does not handle open acks", common.ErrInvariant, inner)
		}
		return NewICAOpenResponseDelivery[R](h, string(payload)), nil
	default:
		return nil, fmt.Errorf("%w: unknown payload kind %d", common.ErrInvariant, kind)
	}
}

func (d *ResponseDelivery[R]) Kind() PayloadKind { return d.kind }

func (d *ResponseDelivery[R]) Payload() []byte { return append([]byte(nil), d.payload...) }

func (d *ResponseDelivery[R]) Inner() Handler[R] { return d.inner }

// Enter schedules the self-call carrying the first delivery attempt.
func (d *ResponseDelivery[R]) Enter(env platform.Env, _ platform.Querier) (platform.Batch, error) {
	msg, err := platform.NewExecute(env.Self, CallbackMsg{DexCallback: &struct{}{}})
	if err != nil {
		return platform.Batch{}, err
	}
	var b platform.Batch
	b.ScheduleReplyOnError(msg, ResponseDeliveryReplyID)
	return b, nil
}

func (d *ResponseDelivery[R]) OnInner(env platform.Env, q platform.Querier) (Response[R], error) {
	return d.deliver(env, q)
}

func (d *ResponseDelivery[R]) OnInnerContinue(env platform.Env, q platform.Querier) (Response[R], error) {
	return d.deliver(env, q)
}

// Reply observes the failure of the self-call and schedules the next attempt.
func (d *ResponseDelivery[R]) Reply(reply platform.Reply, env platform.Env, _ platform.Querier) (Response[R], error) {
	if err := common.Invariant(reply.ID == ResponseDeliveryReplyID, "unexpected reply id %d", reply.ID); err != nil {
		return Response[R]{}, err
	}
	if err := common.Invariant(!reply.Result.IsOk(), "delivery self-call replied on success"); err != nil {
		return Response[R]{}, err
	}
	return d.setupNextDelivery(reply.Result.Err, env)
}

// OnTimeAlarm retries the delivery. Alarm delivery is itself reliable, so a
// failure here is returned to the alarm service instead of being retried.
func (d *ResponseDelivery[R]) OnTimeAlarm(env platform.Env, q platform.Querier) (Response[R], error) {
	return d.deliver(env, q)
}

func (d *ResponseDelivery[R]) State(now finance.Timestamp, q platform.Querier) (R, error) {
	return d.inner.State(now, q)
}

func (d *ResponseDelivery[R]) setupNextDelivery(cause string, env platform.Env) (Response[R], error) {
	batch, err := d.alarms.SetupAlarm(env.Now.Add(finance.Nanosecond))
	if err != nil {
		return Response[R]{}, err
	}
	observability.Lease().RecordDeliveryRetry(d.kind.String())
	emitter := platform.NewEmitter(EventNextDelivery).
		EmitTxInfo(env).
		EmitAddress("id", env.Self).
		Emit("what", d.kind.String()).
		Emit("cause", cause)
	return Stay[R](platform.MessagesWithEvent(batch, emitter)), nil
}

func (d *ResponseDelivery[R]) deliver(env platform.Env, q platform.Querier) (Response[R], error) {
	var (
		resp Response[R]
		err  error
	)
	switch d.kind {
	case PayloadResponse:
		resp, err = d.inner.(ResponseHandler[R]).HandleResponse(d.payload, env, q)
	case PayloadOpenAck:
		resp, err = d.inner.(OpenAckHandler[R]).HandleOpenAck(string(d.payload), env, q)
	default:
		err = fmt.Errorf("%w: unknown payload kind %d", common.ErrInvariant, d.kind)
	}
	if err != nil {
		return Response[R]{}, err
	}
	if resp.Next == nil {
		resp.Next = d.inner
	}
	return resp, nil
}

// DeliverResponse wraps h into a response delivery and enters it.
func DeliverResponse[R any](h ResponseHandler[R], data []byte, env platform.Env, q platform.Querier) (Response[R], error) {
	return enterInto[R](NewResponseDelivery[R](h, data), env, q)
}

// DeliverOpenAck wraps h into an open acknowledgement delivery and enters it.
func DeliverOpenAck[R any](h OpenAckHandler[R], counterpartyVersion string, env platform.Env, q platform.Querier) (Response[R], error) {
	return enterInto[R](NewICAOpenResponseDelivery[R](h, counterpartyVersion), env, q)
}
