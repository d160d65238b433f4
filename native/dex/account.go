package dex

import (
	"errors"
	"fmt"
	"strings"

	"github.com/holiman/uint256"

	"nhblease/crypto"
	"nhblease/finance"
	"nhblease/platform"
)

var (
	ErrInvalidConnection = errors.New("dex: invalid connection parameters")
	ErrEmptyTransaction  = errors.New("dex: nothing to submit")
)

// TransferChannel names the two ends of the ICS-20 channel between the local
// chain and the venue.
type TransferChannel struct {
	LocalEndpoint  string `json:"local_endpoint" toml:"local_endpoint" yaml:"local_endpoint"`
	RemoteEndpoint string `json:"remote_endpoint" toml:"remote_endpoint" yaml:"remote_endpoint"`
}

// ConnectionParams identifies the venue and how transactions are sent to it.
type ConnectionParams struct {
	ConnectionID    string           `json:"connection_id" toml:"connection_id" yaml:"connection_id"`
	TransferChannel TransferChannel  `json:"transfer_channel" toml:"transfer_channel" yaml:"transfer_channel"`
	TxTimeout       finance.Duration `json:"tx_timeout" toml:"tx_timeout" yaml:"tx_timeout"`
	AckTip          finance.Coin     `json:"ack_tip" toml:"ack_tip" yaml:"ack_tip"`
	TimeoutTip      finance.Coin     `json:"timeout_tip" toml:"timeout_tip" yaml:"timeout_tip"`
}

func (c ConnectionParams) Validate() error {
	switch {
	case strings.TrimSpace(c.ConnectionID) == "":
		return fmt.Errorf("%w: empty connection id", ErrInvalidConnection)
	case strings.TrimSpace(c.TransferChannel.LocalEndpoint) == "":
		return fmt.Errorf("%w: empty local transfer endpoint", ErrInvalidConnection)
	case strings.TrimSpace(c.TransferChannel.RemoteEndpoint) == "":
		return fmt.Errorf("%w: empty remote transfer endpoint", ErrInvalidConnection)
	case c.TxTimeout == 0:
		return fmt.Errorf("%w: zero transaction timeout", ErrInvalidConnection)
	case c.AckTip.Ticker != c.TimeoutTip.Ticker:
		return fmt.Errorf("%w: tips in different currencies", ErrInvalidConnection)
	}
	return nil
}

// Account is the lease's interchain account: the local owner, its address on
// the venue and the connection it is reached through.
type Account struct {
	Owner crypto.Address
	Host  platform.HostAccount
	Dex   ConnectionParams
}

// NewAccount is called once the account channel is acknowledged, so host is
// always a real venue address.
func NewAccount(owner crypto.Address, host platform.HostAccount, dex ConnectionParams) (Account, error) {
	if host == "" {
		return Account{}, platform.ErrInvalidHostAccount
	}
	if err := dex.Validate(); err != nil {
		return Account{}, err
	}
	return Account{Owner: owner, Host: host, Dex: dex}, nil
}

// Swap starts a swap transaction executed by the account.
func (a Account) Swap(oracle SwapPathFinder) *SwapTrx {
	return &SwapTrx{account: a, oracle: oracle}
}

// TransferFrom starts an ICS-20 transfer from the account back to the owner.
func (a Account) TransferFrom(now finance.Timestamp) *TransferInTrx {
	return &TransferInTrx{account: a, timeout: now.Add(a.Dex.TxTimeout)}
}

// TransferTo starts a local ICS-20 transfer from the owner to the account.
func (a Account) TransferTo(now finance.Timestamp) *TransferOutTrx {
	return &TransferOutTrx{account: a, timeout: now.Add(a.Dex.TxTimeout)}
}

func (a Account) submit(trx platform.Transaction, memo string) (platform.Batch, error) {
	if trx.Len() == 0 {
		return platform.Batch{}, ErrEmptyTransaction
	}
	return platform.SubmitTransaction(a.Dex.ConnectionID, trx, memo, a.Dex.TxTimeout, a.Dex.AckTip, a.Dex.TimeoutTip), nil
}

func toDexCoin(c finance.Coin) (platform.DexCoin, error) {
	cur, err := finance.Registry().ByTicker(c.Ticker)
	if err != nil {
		return platform.DexCoin{}, err
	}
	return platform.DexCoin{Denom: cur.DexSymbol, Amount: c.Amount.Uint256()}, nil
}

// SwapTrx accumulates exact-in swaps into one transaction.
type SwapTrx struct {
	account Account
	oracle  SwapPathFinder
	trx     platform.Transaction
}

// SwapExactIn adds a swap of the whole coin into out. A coin already in out
// is not swapped.
func (s *SwapTrx) SwapExactIn(coin finance.Coin, out string) error {
	if coin.Ticker == out {
		return nil
	}
	path, err := s.oracle.SwapPath(coin.Ticker, out)
	if err != nil {
		return err
	}
	tokenIn, err := toDexCoin(coin)
	if err != nil {
		return err
	}
	return s.trx.AddMessage(platform.TypeURLSwapExactAmountIn, &platform.MsgSwapExactAmountIn{
		Sender:            s.account.Host.String(),
		Routes:            path,
		TokenIn:           tokenIn,
		TokenOutMinAmount: uint256.NewInt(1),
	})
}

func (s *SwapTrx) Batch() (platform.Batch, error) {
	return s.account.submit(s.trx, "swap")
}

// ExactAmountIn decodes the output of the swap of coin into out from the next
// positional response. A coin already in out yields itself.
func ExactAmountIn(resps *platform.Responses, coin finance.Coin, out string) (finance.Amount, error) {
	if coin.Ticker == out {
		return coin.Amount, nil
	}
	var resp platform.MsgSwapExactAmountInResponse
	if err := resps.Next(platform.TypeURLSwapExactAmountInResponse, &resp); err != nil {
		return finance.Amount{}, err
	}
	return finance.AmountFromUint256(resp.TokenOutAmount)
}

// TransferInTrx sends coins held by the account back to its owner.
type TransferInTrx struct {
	account Account
	timeout finance.Timestamp
	trx     platform.Transaction
}

func (t *TransferInTrx) Send(coin finance.Coin) error {
	token, err := toDexCoin(coin)
	if err != nil {
		return err
	}
	return t.trx.AddMessage(platform.TypeURLTransfer, &platform.MsgTransfer{
		SourcePort:       platform.ICS20Port,
		SourceChannel:    t.account.Dex.TransferChannel.RemoteEndpoint,
		Token:            token,
		Sender:           t.account.Host.String(),
		Receiver:         t.account.Owner.String(),
		TimeoutTimestamp: t.timeout.Nanos(),
	})
}

func (t *TransferInTrx) Batch() (platform.Batch, error) {
	return t.account.submit(t.trx, "transfer-in")
}

// TransferOutTrx sends local coins of the owner to the account.
type TransferOutTrx struct {
	account Account
	timeout finance.Timestamp
	batch   platform.Batch
}

func (t *TransferOutTrx) Send(coin finance.Coin) error {
	if coin.IsZero() {
		return fmt.Errorf("dex: zero transfer of %s", coin.Ticker)
	}
	t.batch.Schedule(platform.IBCTransfer{
		Channel:  t.account.Dex.TransferChannel.LocalEndpoint,
		Receiver: t.account.Host.String(),
		Token:    coin,
		Timeout:  t.timeout,
	})
	return nil
}

func (t *TransferOutTrx) Batch() platform.Batch { return t.batch }
