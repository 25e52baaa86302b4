package crypto

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/uhyunpark/nftsettle/pkg/app/types"
)

const (
	feeType   = "Fee(uint16 rate,address recipient)"
	orderType = "Order(address trader,uint8 side,address matchingPolicy,address collection,uint256 tokenId,uint256 amount,address paymentToken,uint256 price,uint256 listingTime,uint256 expirationTime,Fee[] fees,uint256 salt,bytes extraParams,uint256 nonce)"
)

// Type hashes. Must stay byte-identical to the deployed contracts or every
// outstanding signature becomes invalid.
var (
	FeeTypeHash         = crypto.Keccak256Hash([]byte(feeType))
	OrderTypeHash       = crypto.Keccak256Hash([]byte(orderType + feeType))
	RootTypeHash        = crypto.Keccak256Hash([]byte("Root(bytes32 root)"))
	OracleOrderTypeHash = crypto.Keccak256Hash([]byte("OracleOrder(Order order,uint256 blockNumber)" + feeType + orderType))
)

// EIP712Domain represents the domain separator for EIP-712 typed data.
// VerifyingContract is the exchange address, so signatures never replay
// across deployments or chains.
type EIP712Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

var domainTypes = []apitypes.Type{
	{Name: "name", Type: "string"},
	{Name: "version", Type: "string"},
	{Name: "chainId", Type: "uint256"},
	{Name: "verifyingContract", Type: "address"},
}

func (d EIP712Domain) typed() apitypes.TypedDataDomain {
	return apitypes.TypedDataDomain{
		Name:              d.Name,
		Version:           d.Version,
		ChainId:           (*math.HexOrDecimal256)(d.ChainID),
		VerifyingContract: d.VerifyingContract.Hex(),
	}
}

// Separator computes the domain separator.
func (d EIP712Domain) Separator() (common.Hash, error) {
	typedData := apitypes.TypedData{
		Types:  apitypes.Types{"EIP712Domain": domainTypes},
		Domain: d.typed(),
	}
	sep, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to hash domain: %w", err)
	}
	return common.BytesToHash(sep), nil
}

var (
	bytes32T, _ = abi.NewType("bytes32", "", nil)
	uint256T, _ = abi.NewType("uint256", "", nil)
	uint16T, _  = abi.NewType("uint16", "", nil)
	uint8T, _   = abi.NewType("uint8", "", nil)
	addressT, _ = abi.NewType("address", "", nil)

	feeArgs = abi.Arguments{
		{Type: bytes32T}, // typeHash
		{Type: uint16T},  // rate
		{Type: addressT}, // recipient
	}

	orderArgs = abi.Arguments{
		{Type: bytes32T}, // typeHash
		{Type: addressT}, // trader
		{Type: uint8T},   // side
		{Type: addressT}, // matchingPolicy
		{Type: addressT}, // collection
		{Type: uint256T}, // tokenId
		{Type: uint256T}, // amount
		{Type: addressT}, // paymentToken
		{Type: uint256T}, // price
		{Type: uint256T}, // listingTime
		{Type: uint256T}, // expirationTime
		{Type: bytes32T}, // keccak(fee hashes)
		{Type: uint256T}, // salt
		{Type: bytes32T}, // keccak(extraParams)
		{Type: uint256T}, // nonce
	}

	hashUintArgs = abi.Arguments{{Type: bytes32T}, {Type: bytes32T}, {Type: uint256T}}
	hashArgs     = abi.Arguments{{Type: bytes32T}, {Type: bytes32T}}
)

func u256(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

// HashFee returns the struct hash of a fee.
func HashFee(f types.Fee) common.Hash {
	encoded, err := feeArgs.Pack(FeeTypeHash, f.Rate, f.Recipient)
	if err != nil {
		panic("failed to encode fee struct: " + err.Error())
	}
	return crypto.Keccak256Hash(encoded)
}

// HashOrder returns the struct hash of an order under the trader's nonce.
// This is the leaf of bulk merkle trees and the key of cancelledOrFilled.
func HashOrder(o *types.Order, nonce *big.Int) common.Hash {
	feeHashes := make([]byte, 0, len(o.Fees)*common.HashLength)
	for _, f := range o.Fees {
		feeHashes = append(feeHashes, HashFee(f).Bytes()...)
	}
	encoded, err := orderArgs.Pack(
		OrderTypeHash,
		o.Trader,
		uint8(o.Side),
		o.MatchingPolicy,
		o.Collection,
		u256(o.TokenID),
		u256(o.Amount),
		o.PaymentToken,
		u256(o.Price),
		u256(o.ListingTime),
		u256(o.ExpirationTime),
		crypto.Keccak256Hash(feeHashes),
		u256(o.Salt),
		crypto.Keccak256Hash(o.ExtraParams),
		u256(nonce),
	)
	if err != nil {
		panic("failed to encode order struct: " + err.Error())
	}
	return crypto.Keccak256Hash(encoded)
}

// typedDigest computes keccak256("\x19\x01" || domainSeparator || structHash).
func typedDigest(separator, structHash common.Hash) common.Hash {
	return crypto.Keccak256Hash([]byte{0x19, 0x01}, separator.Bytes(), structHash.Bytes())
}

// HashToSign is the digest a trader signs for a single order.
func HashToSign(separator, orderHash common.Hash) common.Hash {
	return typedDigest(separator, orderHash)
}

// HashToSignRoot is the digest a trader signs for a bulk merkle root.
func HashToSignRoot(separator, root common.Hash) common.Hash {
	encoded, err := hashArgs.Pack(RootTypeHash, root)
	if err != nil {
		panic("failed to encode root struct: " + err.Error())
	}
	return typedDigest(separator, crypto.Keccak256Hash(encoded))
}

// HashToSignOracle is the digest the oracle signs to authorize an order at blockNumber.
func HashToSignOracle(separator, orderHash common.Hash, blockNumber uint64) common.Hash {
	encoded, err := hashUintArgs.Pack(OracleOrderTypeHash, orderHash, new(big.Int).SetUint64(blockNumber))
	if err != nil {
		panic("failed to encode oracle order struct: " + err.Error())
	}
	return typedDigest(separator, crypto.Keccak256Hash(encoded))
}

// OrderToJSON renders an order as eth_signTypedData_v4 JSON so wallets can
// produce the same signature as SignOrder.
func OrderToJSON(domain EIP712Domain, o *types.Order, nonce *big.Int) (string, error) {
	fees := make([]map[string]interface{}, len(o.Fees))
	for i, f := range o.Fees {
		fees[i] = map[string]interface{}{"rate": f.Rate, "recipient": f.Recipient.Hex()}
	}
	typedData := map[string]interface{}{
		"types": map[string]interface{}{
			"EIP712Domain": []map[string]string{
				{"name": "name", "type": "string"},
				{"name": "version", "type": "string"},
				{"name": "chainId", "type": "uint256"},
				{"name": "verifyingContract", "type": "address"},
			},
			"Fee": []map[string]string{
				{"name": "rate", "type": "uint16"},
				{"name": "recipient", "type": "address"},
			},
			"Order": []map[string]string{
				{"name": "trader", "type": "address"},
				{"name": "side", "type": "uint8"},
				{"name": "matchingPolicy", "type": "address"},
				{"name": "collection", "type": "address"},
				{"name": "tokenId", "type": "uint256"},
				{"name": "amount", "type": "uint256"},
				{"name": "paymentToken", "type": "address"},
				{"name": "price", "type": "uint256"},
				{"name": "listingTime", "type": "uint256"},
				{"name": "expirationTime", "type": "uint256"},
				{"name": "fees", "type": "Fee[]"},
				{"name": "salt", "type": "uint256"},
				{"name": "extraParams", "type": "bytes"},
				{"name": "nonce", "type": "uint256"},
			},
		},
		"primaryType": "Order",
		"domain": map[string]interface{}{
			"name":              domain.Name,
			"version":           domain.Version,
			"chainId":           domain.ChainID.String(),
			"verifyingContract": domain.VerifyingContract.Hex(),
		},
		"message": map[string]interface{}{
			"trader":         o.Trader.Hex(),
			"side":           uint8(o.Side),
			"matchingPolicy": o.MatchingPolicy.Hex(),
			"collection":     o.Collection.Hex(),
			"tokenId":        u256(o.TokenID).String(),
			"amount":         u256(o.Amount).String(),
			"paymentToken":   o.PaymentToken.Hex(),
			"price":          u256(o.Price).String(),
			"listingTime":    u256(o.ListingTime).String(),
			"expirationTime": u256(o.ExpirationTime).String(),
			"fees":           fees,
			"salt":           u256(o.Salt).String(),
			"extraParams":    fmt.Sprintf("0x%x", o.ExtraParams),
			"nonce":          u256(nonce).String(),
		},
	}

	jsonBytes, err := json.MarshalIndent(typedData, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return string(jsonBytes), nil
}
