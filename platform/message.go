// Package platform models the host runtime surface a contract is written
// against: invocation environment, outbound sub-messages, replies, events and
// queries.
package platform

import (
	"encoding/json"
	"fmt"

	"nhblease/crypto"
	"nhblease/finance"
)

// Env carries the invocation context supplied by the host.
type Env struct {
	Now    finance.Timestamp
	Self   crypto.Address
	Height uint64
}

// MessageInfo describes the caller of an execute invocation.
type MessageInfo struct {
	Sender crypto.Address
	Funds  []finance.Coin
}

// ReplyOn selects which outcomes of a sub-message are reported back.
type ReplyOn uint8

const (
	ReplyNever ReplyOn = iota
	ReplyOnSuccess
	ReplyOnError
	ReplyAlways
)

func (r ReplyOn) String() string {
	switch r {
	case ReplyNever:
		return "never"
	case ReplyOnSuccess:
		return "success"
	case ReplyOnError:
		return "error"
	case ReplyAlways:
		return "always"
	default:
		return fmt.Sprintf("reply_on(%d)", uint8(r))
	}
}

// Reports whether an outcome with the given success flag is replied.
func (r ReplyOn) Reports(success bool) bool {
	switch r {
	case ReplyAlways:
		return true
	case ReplyOnSuccess:
		return success
	case ReplyOnError:
		return !success
	default:
		return false
	}
}

// CosmosMsg is the closed set of outbound instructions a contract may emit.
type CosmosMsg interface {
	msgKind() string
}

// ExecuteMsg calls another contract, or the caller itself, with a JSON payload.
type ExecuteMsg struct {
	Contract crypto.Address
	Msg      json.RawMessage
	Funds    []finance.Coin
}

// BankSend moves local funds out of the contract account.
type BankSend struct {
	To     crypto.Address
	Amount []finance.Coin
}

// IBCTransfer is a local ICS-20 transfer to the remote venue. The outcome is
// reported to the sender through a sudo response or timeout.
type IBCTransfer struct {
	Channel  string
	Receiver string
	Token    finance.Coin
	Timeout  finance.Timestamp
	Memo     string
}

// RegisterICA asks the host to open, or re-open, an interchain account.
type RegisterICA struct {
	ConnectionID string
	AccountID    string
}

// SubmitICATx executes a transaction on the remote venue through an
// interchain account.
type SubmitICATx struct {
	ConnectionID string
	AccountID    string
	Trx          Transaction
	Memo         string
	Timeout      finance.Duration
	AckFee       finance.Coin
	TimeoutFee   finance.Coin
}

func (ExecuteMsg) msgKind() string  { return "wasm_execute" }
func (BankSend) msgKind() string    { return "bank_send" }
func (IBCTransfer) msgKind() string { return "ibc_transfer" }
func (RegisterICA) msgKind() string { return "register_ica" }
func (SubmitICATx) msgKind() string { return "submit_ica_tx" }

// Kind names a message for logs and metrics.
func Kind(msg CosmosMsg) string {
	if msg == nil {
		return "none"
	}
	return msg.msgKind()
}

// NewExecute marshals payload into an ExecuteMsg addressed at contract.
func NewExecute(contract crypto.Address, payload any, funds ...finance.Coin) (ExecuteMsg, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return ExecuteMsg{}, fmt.Errorf("platform: encode execute payload: %w", err)
	}
	return ExecuteMsg{Contract: contract, Msg: raw, Funds: funds}, nil
}

// SubMsg pairs an outbound instruction with its reply policy.
type SubMsg struct {
	ID      uint64
	Msg     CosmosMsg
	ReplyOn ReplyOn
}
