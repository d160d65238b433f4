package platform

import (
	"encoding/json"
	"errors"
	"log/slog"

	"nhblease/crypto"
	"nhblease/finance"
	"nhblease/storage"
)

var (
	ErrUnknownContract = errors.New("platform: unknown contract")
	ErrUnknownMessage  = errors.New("platform: unknown message")
)

// Querier answers synchronous read-only requests during an invocation.
type Querier interface {
	// QueryWasm sends a JSON request to contract and decodes the JSON answer
	// into response.
	QueryWasm(contract crypto.Address, request, response any) error
	// QueryBalance reports the local bank balance of addr in ticker.
	QueryBalance(addr crypto.Address, ticker string) (finance.Coin, error)
}

// Deps bundles the host services available to a contract invocation.
// Storage is private to the contract and all-or-nothing per invocation.
type Deps struct {
	Storage storage.Database
	Querier Querier
	Logger  *slog.Logger
}

// Log returns the invocation logger, never nil.
func (d Deps) Log() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// Packet identifies the remote request a sudo callback refers to.
type Packet struct {
	Sequence      uint64 `json:"sequence"`
	SourceChannel string `json:"source_channel"`
}

// OpenAck reports that an interchain account channel was established.
type OpenAck struct {
	PortID                string `json:"port_id"`
	ChannelID             string `json:"channel_id"`
	CounterpartyChannelID string `json:"counterparty_channel_id"`
	CounterpartyVersion   string `json:"counterparty_version"`
}

// SudoResponse carries the acknowledgement data of a remote request.
type SudoResponse struct {
	Request Packet `json:"request"`
	Data    []byte `json:"data"`
}

// SudoTimeout signals that a remote request timed out and its channel closed.
type SudoTimeout struct {
	Request Packet `json:"request"`
}

// SudoError signals that the remote side rejected a request.
type SudoError struct {
	Request Packet `json:"request"`
	Details string `json:"details"`
}

// SudoMsg is a privileged callback from the host about remote operations.
// Exactly one field is set.
type SudoMsg struct {
	OpenAck  *OpenAck      `json:"open_ack,omitempty"`
	Response *SudoResponse `json:"response,omitempty"`
	Timeout  *SudoTimeout  `json:"timeout,omitempty"`
	Error    *SudoError    `json:"error,omitempty"`
}

// Contract is the set of entry points the host invokes.
type Contract interface {
	Instantiate(deps Deps, env Env, info MessageInfo, msg json.RawMessage) (MessageResponse, error)
	Execute(deps Deps, env Env, info MessageInfo, msg json.RawMessage) (MessageResponse, error)
	Sudo(deps Deps, env Env, msg SudoMsg) (MessageResponse, error)
	Reply(deps Deps, env Env, reply Reply) (MessageResponse, error)
	Query(deps Deps, env Env, msg json.RawMessage) (json.RawMessage, error)
}
