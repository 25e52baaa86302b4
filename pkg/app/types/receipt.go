package types

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"
)

// Receipt status values.
const (
	ReceiptFailed  uint8 = 0
	ReceiptSuccess uint8 = 1
)

// Receipt records the outcome of one applied transaction.
type Receipt struct {
	TxHash common.Hash     `json:"txHash"`
	Type   string          `json:"type"`
	From   common.Address  `json:"from"`
	Nonce  uint64          `json:"nonce"`
	Height uint64          `json:"height"`
	Index  int             `json:"index"`
	Status uint8           `json:"status"`
	Error  string          `json:"error,omitempty"`
	Kind   string          `json:"kind,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Events int             `json:"events"`
}
