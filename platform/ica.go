package platform

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"nhblease/finance"
)

// icaAccountID identifies the single interchain account a lease opens.
const icaAccountID = "0"

var ErrInvalidHostAccount = errors.New("platform: invalid ica host account")

// HostAccount is the address of an interchain account on the remote venue.
type HostAccount string

func NewHostAccount(addr string) (HostAccount, error) {
	if strings.TrimSpace(addr) == "" {
		return "", ErrInvalidHostAccount
	}
	return HostAccount(addr), nil
}

func (h HostAccount) String() string { return string(h) }

// OpenAckVersion is the counterparty version reported when an interchain
// account channel opens.
type OpenAckVersion struct {
	Version                string `json:"version"`
	ControllerConnectionID string `json:"controller_connection_id"`
	HostConnectionID       string `json:"host_connection_id"`
	Address                string `json:"address"`
	Encoding               string `json:"encoding"`
	TxType                 string `json:"tx_type"`
}

// RegisterAccount returns a batch opening the lease's interchain account
// over connection.
func RegisterAccount(connection string) Batch {
	var b Batch
	b.Schedule(RegisterICA{ConnectionID: connection, AccountID: icaAccountID})
	return b
}

// ParseRegisterResponse extracts the host account from an open-ack version.
func ParseRegisterResponse(counterpartyVersion string) (HostAccount, error) {
	var ack OpenAckVersion
	if err := json.Unmarshal([]byte(counterpartyVersion), &ack); err != nil {
		return "", fmt.Errorf("platform: decode open ack version: %w", err)
	}
	return NewHostAccount(ack.Address)
}

// SubmitTransaction returns a batch executing trx through the interchain
// account over connection.
func SubmitTransaction(connection string, trx Transaction, memo string, timeout finance.Duration, ackTip, timeoutTip finance.Coin) Batch {
	var b Batch
	b.Schedule(SubmitICATx{
		ConnectionID: connection,
		AccountID:    icaAccountID,
		Trx:          trx,
		Memo:         memo,
		Timeout:      timeout,
		AckFee:       ackTip,
		TimeoutFee:   timeoutTip,
	})
	return b
}
