package platform

import "github.com/holiman/uint256"

// Type urls of the remote messages the lease submits.
const (
	TypeURLSwapExactAmountIn         = "/osmosis.poolmanager.v1beta1.MsgSwapExactAmountIn"
	TypeURLSwapExactAmountInResponse = "/osmosis.poolmanager.v1beta1.MsgSwapExactAmountInResponse"
	TypeURLTransfer                  = "/ibc.applications.transfer.v1.MsgTransfer"
	TypeURLTransferResponse          = "/ibc.applications.transfer.v1.MsgTransferResponse"
)

// ICS20Port is the transfer port on both ends of a channel.
const ICS20Port = "transfer"

// DexCoin is a coin denominated in the venue's symbols.
type DexCoin struct {
	Denom  string
	Amount *uint256.Int
}

// SwapRoute is one hop of a swap path.
type SwapRoute struct {
	PoolID        uint64 `json:"pool_id"`
	TokenOutDenom string `json:"token_out_denom"`
}

type MsgSwapExactAmountIn struct {
	Sender            string
	Routes            []SwapRoute
	TokenIn           DexCoin
	TokenOutMinAmount *uint256.Int
}

type MsgSwapExactAmountInResponse struct {
	TokenOutAmount *uint256.Int
}

// MsgTransfer is an ICS-20 transfer executed by the interchain account.
type MsgTransfer struct {
	SourcePort       string
	SourceChannel    string
	Token            DexCoin
	Sender           string
	Receiver         string
	TimeoutTimestamp uint64
	Memo             string
}

type MsgTransferResponse struct {
	Sequence uint64
}
