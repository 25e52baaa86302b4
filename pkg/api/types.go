package api

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/uhyunpark/nftsettle/pkg/ledger"
)

// API response types for REST endpoints and WebSocket messages

// ==============================
// REST Response Types
// ==============================

// Amount is a wei value with its 18-decimal rendering for display.
type Amount struct {
	Wei   string `json:"wei"`
	Ether string `json:"ether"`
}

func newAmount(wei *big.Int) Amount {
	if wei == nil {
		wei = new(big.Int)
	}
	return Amount{Wei: wei.String(), Ether: decimal.NewFromBigInt(wei, -18).String()}
}

// parseEther converts a decimal ether string ("1.5") to wei.
func parseEther(s string) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, err
	}
	return d.Shift(18).BigInt(), nil
}

// AccountInfo is an account's balances and nonces
type AccountInfo struct {
	Address    common.Address `json:"address"`
	TxNonce    uint64         `json:"txNonce"`    // last envelope nonce used
	OrderNonce string         `json:"orderNonce"` // exchange nonce signed into orders
	Native     Amount         `json:"native"`
	Pool       Amount         `json:"pool"`
	Weth       Amount         `json:"weth"`
}

// ChainStatus is the head of the local chain
type ChainStatus struct {
	Height      uint64      `json:"height"`
	Timestamp   uint64      `json:"timestamp"`
	StateHash   common.Hash `json:"stateHash"`
	MempoolSize int         `json:"mempoolSize"`
}

// BlockInfo is a committed header with its events
type BlockInfo struct {
	Header ledger.Header  `json:"header"`
	Events []ledger.Event `json:"events"`
}

// TokenOwner answers an ERC-721 ownerOf query
type TokenOwner struct {
	Collection common.Address `json:"collection"`
	TokenID    string         `json:"tokenId"`
	Owner      common.Address `json:"owner"`
}

// SubmitTxResponse is returned once a transaction is in the mempool
type SubmitTxResponse struct {
	Status    string      `json:"status"`
	TxHash    common.Hash `json:"txHash"`
	RequestID string      `json:"requestId"`
}

// ==============================
// Request Types
// ==============================

// FaucetRequest credits native value and WETH (ether units)
type FaucetRequest struct {
	Address common.Address `json:"address"`
	Amount  string         `json:"amount"`
}

// FaucetNFTRequest mints a demo token. Amount > 0 mints ERC-1155.
type FaucetNFTRequest struct {
	Address common.Address `json:"address"`
	TokenID string         `json:"tokenId"`
	Amount  string         `json:"amount,omitempty"`
}

// ErrorResponse represents an API error
type ErrorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSSubscribeRequest is a client subscription request
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // "blocks", "events", "contract:<address>", "event:<name>"
}

// WSBlock is pushed on the "blocks" channel after every commit
type WSBlock struct {
	Type   string `json:"type"` // "block"
	Height uint64 `json:"height"`
	Events int    `json:"events"`
}

// WSEvent is one contract event
type WSEvent struct {
	Type    string       `json:"type"` // "event"
	Channel string       `json:"channel"`
	Event   ledger.Event `json:"event"`
}
