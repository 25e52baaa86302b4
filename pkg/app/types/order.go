// Package types holds the order model shared by the exchange, the matching
// policies and the signing tools.
package types

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Side of an order.
type Side uint8

const (
	Buy  Side = 0
	Sell Side = 1
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "Buy"
	case Sell:
		return "Sell"
	default:
		return "Unknown"
	}
}

// SignatureVersion selects how Input.V/R/S authenticate the order.
type SignatureVersion uint8

const (
	Single SignatureVersion = 0 // signature over the order digest
	Bulk   SignatureVersion = 1 // signature over a merkle root of order hashes
)

// AssetType reported by a matching policy.
type AssetType uint8

const (
	ERC721  AssetType = 0
	ERC1155 AssetType = 1
)

func (a AssetType) String() string {
	if a == ERC1155 {
		return "ERC1155"
	}
	return "ERC721"
}

// MaxFeeRate is the ceiling on the sum of fee rates of one order, in basis points.
const MaxFeeRate = 10_000

// Fee is a proceeds share in basis points paid to Recipient.
type Fee struct {
	Rate      uint16
	Recipient common.Address
}

// Order is a trader's signed intent to buy or sell an asset.
// PaymentToken zero means the native asset.
type Order struct {
	Trader         common.Address
	Side           Side
	MatchingPolicy common.Address
	Collection     common.Address
	TokenID        *big.Int
	Amount         *big.Int
	PaymentToken   common.Address
	Price          *big.Int
	ListingTime    *big.Int
	ExpirationTime *big.Int
	Fees           []Fee
	Salt           *big.Int
	ExtraParams    []byte
}

// OracleEnabled reports whether the order requires an oracle co-signature.
func (o *Order) OracleEnabled() bool {
	return len(o.ExtraParams) > 0 && o.ExtraParams[0] == 0x01
}

// TotalFeeRate sums the fee rates without overflow.
func (o *Order) TotalFeeRate() uint64 {
	var sum uint64
	for _, f := range o.Fees {
		sum += uint64(f.Rate)
	}
	return sum
}

// Input is an order plus everything needed to authenticate it.
type Input struct {
	Order            Order
	V                uint8
	R                common.Hash
	S                common.Hash
	ExtraSignature   []byte
	SignatureVersion SignatureVersion
	BlockNumber      uint64
}

// Execution pairs a sell and a buy for bulk settlement.
type Execution struct {
	Sell Input `json:"sell"`
	Buy  Input `json:"buy"`
}

// Int returns a big.Int (helper for literals in tests and tools).
func Int(v int64) *big.Int { return big.NewInt(v) }
