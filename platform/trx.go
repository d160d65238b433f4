package platform

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
)

var (
	ErrUnexpectedTypeURL   = errors.New("platform: unexpected message type url")
	ErrMissingResponse     = errors.New("platform: missing message response")
	ErrUnexpectedResponses = errors.New("platform: more message responses than requests")
)

// Any is a type-tagged, rlp-encoded message.
type Any struct {
	TypeURL string
	Value   []byte
}

// Transaction is an ordered list of messages executed atomically on the
// remote venue.
type Transaction struct {
	Msgs []Any
}

// AddMessage encodes msg and appends it under typeURL.
func (t *Transaction) AddMessage(typeURL string, msg any) error {
	raw, err := rlp.EncodeToBytes(msg)
	if err != nil {
		return fmt.Errorf("platform: encode %s: %w", typeURL, err)
	}
	t.Msgs = append(t.Msgs, Any{TypeURL: typeURL, Value: raw})
	return nil
}

func (t Transaction) Len() int { return len(t.Msgs) }

// TxMsgData is the acknowledgement of a remote transaction: one response per
// submitted message, in submission order.
type TxMsgData struct {
	MsgResponses []Any
}

func EncodeTxMsgData(data TxMsgData) ([]byte, error) {
	return rlp.EncodeToBytes(&data)
}

func DecodeTxMsgData(raw []byte) (TxMsgData, error) {
	var data TxMsgData
	if err := rlp.DecodeBytes(raw, &data); err != nil {
		return TxMsgData{}, fmt.Errorf("platform: decode tx msg data: %w", err)
	}
	return data, nil
}

// DecodeAny checks the type tag and decodes the value into out.
func DecodeAny(msg Any, typeURL string, out any) error {
	if msg.TypeURL != typeURL {
		return fmt.Errorf("%w: want %s, got %s", ErrUnexpectedTypeURL, typeURL, msg.TypeURL)
	}
	if err := rlp.DecodeBytes(msg.Value, out); err != nil {
		return fmt.Errorf("platform: decode %s: %w", typeURL, err)
	}
	return nil
}

// Responses iterates the message responses of a transaction positionally.
type Responses struct {
	items []Any
	next  int
}

// NewResponses decodes an acknowledgement payload.
func NewResponses(raw []byte) (*Responses, error) {
	data, err := DecodeTxMsgData(raw)
	if err != nil {
		return nil, err
	}
	return &Responses{items: data.MsgResponses}, nil
}

// Next decodes the next response, which must carry typeURL.
func (r *Responses) Next(typeURL string, out any) error {
	if r.next >= len(r.items) {
		return ErrMissingResponse
	}
	item := r.items[r.next]
	r.next++
	return DecodeAny(item, typeURL, out)
}

// Skip advances past the next response without decoding it.
func (r *Responses) Skip() error {
	if r.next >= len(r.items) {
		return ErrMissingResponse
	}
	r.next++
	return nil
}

// Finish fails when responses remain undecoded.
func (r *Responses) Finish() error {
	if rest := len(r.items) - r.next; rest > 0 {
		return fmt.Errorf("%w: %d left", ErrUnexpectedResponses, rest)
	}
	return nil
}
