package types

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Wire format: uint256 as decimal strings, bytes as 0x-hex, addresses as 0x-hex.

type feeJSON struct {
	Rate      uint16         `json:"rate"`
	Recipient common.Address `json:"recipient"`
}

type orderJSON struct {
	Trader         common.Address `json:"trader"`
	Side           Side           `json:"side"`
	MatchingPolicy common.Address `json:"matchingPolicy"`
	Collection     common.Address `json:"collection"`
	TokenID        string         `json:"tokenId"`
	Amount         string         `json:"amount"`
	PaymentToken   common.Address `json:"paymentToken"`
	Price          string         `json:"price"`
	ListingTime    string         `json:"listingTime"`
	ExpirationTime string         `json:"expirationTime"`
	Fees           []feeJSON      `json:"fees"`
	Salt           string         `json:"salt"`
	ExtraParams    hexutil.Bytes  `json:"extraParams"`
}

func decString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func parseDec(field, s string) (*big.Int, error) {
	if s == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(s, 0)
	if !ok || v.Sign() < 0 || v.BitLen() > 256 {
		return nil, fmt.Errorf("invalid %s: %q", field, s)
	}
	return v, nil
}

// MarshalJSON implements json.Marshaler.
func (o Order) MarshalJSON() ([]byte, error) {
	fees := make([]feeJSON, len(o.Fees))
	for i, f := range o.Fees {
		fees[i] = feeJSON(f)
	}
	return json.Marshal(orderJSON{
		Trader:         o.Trader,
		Side:           o.Side,
		MatchingPolicy: o.MatchingPolicy,
		Collection:     o.Collection,
		TokenID:        decString(o.TokenID),
		Amount:         decString(o.Amount),
		PaymentToken:   o.PaymentToken,
		Price:          decString(o.Price),
		ListingTime:    decString(o.ListingTime),
		ExpirationTime: decString(o.ExpirationTime),
		Fees:           fees,
		Salt:           decString(o.Salt),
		ExtraParams:    o.ExtraParams,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (o *Order) UnmarshalJSON(data []byte) error {
	var j orderJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	if j.Side != Buy && j.Side != Sell {
		return fmt.Errorf("invalid side: %d", j.Side)
	}
	out := Order{
		Trader:         j.Trader,
		Side:           j.Side,
		MatchingPolicy: j.MatchingPolicy,
		Collection:     j.Collection,
		PaymentToken:   j.PaymentToken,
		ExtraParams:    j.ExtraParams,
	}
	var err error
	for _, f := range []struct {
		name string
		src  string
		dst  **big.Int
	}{
		{"tokenId", j.TokenID, &out.TokenID},
		{"amount", j.Amount, &out.Amount},
		{"price", j.Price, &out.Price},
		{"listingTime", j.ListingTime, &out.ListingTime},
		{"expirationTime", j.ExpirationTime, &out.ExpirationTime},
		{"salt", j.Salt, &out.Salt},
	} {
		if *f.dst, err = parseDec(f.name, f.src); err != nil {
			return err
		}
	}
	out.Fees = make([]Fee, len(j.Fees))
	for i, f := range j.Fees {
		out.Fees[i] = Fee(f)
	}
	*o = out
	return nil
}

type inputJSON struct {
	Order            Order            `json:"order"`
	V                uint8            `json:"v"`
	R                common.Hash      `json:"r"`
	S                common.Hash      `json:"s"`
	ExtraSignature   hexutil.Bytes    `json:"extraSignature"`
	SignatureVersion SignatureVersion `json:"signatureVersion"`
	BlockNumber      uint64           `json:"blockNumber"`
}

// MarshalJSON implements json.Marshaler.
func (in Input) MarshalJSON() ([]byte, error) {
	return json.Marshal(inputJSON{
		Order:            in.Order,
		V:                in.V,
		R:                in.R,
		S:                in.S,
		ExtraSignature:   in.ExtraSignature,
		SignatureVersion: in.SignatureVersion,
		BlockNumber:      in.BlockNumber,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (in *Input) UnmarshalJSON(data []byte) error {
	var j inputJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	if j.SignatureVersion != Single && j.SignatureVersion != Bulk {
		return fmt.Errorf("invalid signatureVersion: %d", j.SignatureVersion)
	}
	*in = Input{
		Order:            j.Order,
		V:                j.V,
		R:                j.R,
		S:                j.S,
		ExtraSignature:   j.ExtraSignature,
		SignatureVersion: j.SignatureVersion,
		BlockNumber:      j.BlockNumber,
	}
	return nil
}
