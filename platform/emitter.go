package platform

import (
	"strconv"

	"nhblease/core/types"
	"nhblease/crypto"
	"nhblease/finance"
)

// Emitter builds one event attribute by attribute.
type Emitter struct {
	typ   string
	attrs map[string]string
}

func NewEmitter(eventType string) *Emitter {
	return &Emitter{typ: eventType, attrs: make(map[string]string)}
}

func (e *Emitter) Emit(key, value string) *Emitter {
	e.attrs[key] = value
	return e
}

// EmitTxInfo records the invocation height and time.
func (e *Emitter) EmitTxInfo(env Env) *Emitter {
	e.attrs["height"] = strconv.FormatUint(env.Height, 10)
	e.attrs["at"] = env.Now.String()
	return e
}

func (e *Emitter) EmitAddress(key string, addr crypto.Address) *Emitter {
	return e.Emit(key, addr.String())
}

func (e *Emitter) EmitTimestamp(key string, ts finance.Timestamp) *Emitter {
	return e.Emit(key, ts.String())
}

func (e *Emitter) EmitBool(key string, v bool) *Emitter {
	return e.Emit(key, strconv.FormatBool(v))
}

func (e *Emitter) EmitUint(key string, v uint64) *Emitter {
	return e.Emit(key, strconv.FormatUint(v, 10))
}

func (e *Emitter) EmitPercent(key string, p finance.Percent) *Emitter {
	return e.Emit(key, strconv.FormatUint(uint64(p.Units()), 10))
}

func (e *Emitter) EmitAmount(key string, a finance.Amount) *Emitter {
	return e.Emit(key, a.String())
}

// EmitCoin writes the amount under key and the ticker under key-symbol.
func (e *Emitter) EmitCoin(key string, c finance.Coin) *Emitter {
	e.attrs[key+"-amount"] = c.Amount.String()
	e.attrs[key+"-symbol"] = c.Ticker
	return e
}

// Event returns a snapshot of the built event.
func (e *Emitter) Event() types.Event {
	attrs := make(map[string]string, len(e.attrs))
	for k, v := range e.attrs {
		attrs[k] = v
	}
	return types.Event{Type: e.typ, Attributes: attrs}
}
