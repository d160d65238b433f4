package dex

import (
	"nhblease/finance"
	"nhblease/platform"
)

// EntryDelay postpones entering the inner state to a later invocation by
// scheduling an alarm. The plain entry delay waits one nanosecond.
type EntryDelay[R any] struct {
	Base[R]
	inner  Enterable[R]
	alarms TimeAlarms
	delay  finance.Duration
}

func NewEntryDelay[R any](inner Enterable[R], alarms TimeAlarms) *EntryDelay[R] {
	return &EntryDelay[R]{inner: inner, alarms: alarms, delay: finance.Nanosecond}
}

// NewRetryDelay enters inner again once delay has passed.
func NewRetryDelay[R any](inner Enterable[R], alarms TimeAlarms, delay finance.Duration) *EntryDelay[R] {
	if delay == 0 {
		delay = finance.Nanosecond
	}
	return &EntryDelay[R]{inner: inner, alarms: alarms, delay: delay}
}

func (d *EntryDelay[R]) Inner() Enterable[R] { return d.inner }

func (d *EntryDelay[R]) Enter(env platform.Env, _ platform.Querier) (platform.Batch, error) {
	return d.alarms.SetupAlarm(env.Now.Add(d.delay))
}

func (d *EntryDelay[R]) OnTimeAlarm(env platform.Env, q platform.Querier) (Response[R], error) {
	return enterInto[R](d.inner, env, q)
}

func (d *EntryDelay[R]) State(now finance.Timestamp, q platform.Querier) (R, error) {
	return d.inner.State(now, q)
}
