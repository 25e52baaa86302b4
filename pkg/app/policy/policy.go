// Package policy holds the matching rules the exchange dispatches to and the
// owner-controlled whitelist that decides which of them may be used.
package policy

import (
	"math/big"

	"github.com/uhyunpark/nftsettle/pkg/app/types"
)

// Match is a policy verdict. Price, TokenID and Amount are what will be
// settled when OK is true.
type Match struct {
	OK        bool
	Price     *big.Int
	TokenID   *big.Int
	Amount    *big.Int
	AssetType types.AssetType
}

// MatchingPolicy decides whether two orders are compatible and at what terms.
// Implementations must be pure functions of their inputs.
type MatchingPolicy interface {
	Name() string
	// CanMatchMakerAsk is invoked when the sell order was listed first.
	CanMatchMakerAsk(makerAsk, takerBid *types.Order) Match
	// CanMatchMakerBid is invoked when the buy order was listed first.
	CanMatchMakerBid(makerBid, takerAsk *types.Order) Match
}

func eq(a, b *big.Int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Cmp(b) == 0
}

// compatible checks the fields every standard policy requires to agree.
func compatible(maker, taker *types.Order) bool {
	return maker.Side != taker.Side &&
		maker.PaymentToken == taker.PaymentToken &&
		maker.Collection == taker.Collection &&
		eq(maker.TokenID, taker.TokenID) &&
		maker.MatchingPolicy == taker.MatchingPolicy &&
		maker.Price != nil && taker.Price != nil
}

func reject() Match { return Match{} }

// StandardERC721 matches single-unit ERC-721 orders at the maker's price.
type StandardERC721 struct{}

func (StandardERC721) Name() string { return "StandardPolicyERC721" }

func (p StandardERC721) CanMatchMakerAsk(makerAsk, takerBid *types.Order) Match {
	if !compatible(makerAsk, takerBid) || takerBid.Price.Cmp(makerAsk.Price) < 0 {
		return reject()
	}
	return Match{true, makerAsk.Price, makerAsk.TokenID, big.NewInt(1), types.ERC721}
}

func (p StandardERC721) CanMatchMakerBid(makerBid, takerAsk *types.Order) Match {
	if !compatible(makerBid, takerAsk) || takerAsk.Price.Cmp(makerBid.Price) > 0 {
		return reject()
	}
	return Match{true, makerBid.Price, makerBid.TokenID, big.NewInt(1), types.ERC721}
}

// StandardERC1155 matches ERC-1155 orders of equal, non-zero amount at the maker's price.
type StandardERC1155 struct{}

func (StandardERC1155) Name() string { return "StandardPolicyERC1155" }

func sameAmount(a, b *types.Order) bool {
	return a.Amount != nil && b.Amount != nil && a.Amount.Sign() > 0 && a.Amount.Cmp(b.Amount) == 0
}

func (p StandardERC1155) CanMatchMakerAsk(makerAsk, takerBid *types.Order) Match {
	if !compatible(makerAsk, takerBid) || !sameAmount(makerAsk, takerBid) || takerBid.Price.Cmp(makerAsk.Price) < 0 {
		return reject()
	}
	return Match{true, makerAsk.Price, makerAsk.TokenID, makerAsk.Amount, types.ERC1155}
}

func (p StandardERC1155) CanMatchMakerBid(makerBid, takerAsk *types.Order) Match {
	if !compatible(makerBid, takerAsk) || !sameAmount(makerBid, takerAsk) || takerAsk.Price.Cmp(makerBid.Price) > 0 {
		return reject()
	}
	return Match{true, makerBid.Price, makerBid.TokenID, makerBid.Amount, types.ERC1155}
}
