package exchange

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/nftsettle/pkg/app/policy"
	"github.com/uhyunpark/nftsettle/pkg/app/types"
)

var basisPoints = big.NewInt(10_000)

// Fill describes one settled pair.
type Fill struct {
	Maker        common.Address  `json:"maker"`
	Taker        common.Address  `json:"taker"`
	Seller       common.Address  `json:"seller"`
	Buyer        common.Address  `json:"buyer"`
	SellHash     common.Hash     `json:"sellHash"`
	BuyHash      common.Hash     `json:"buyHash"`
	Collection   common.Address  `json:"collection"`
	TokenID      *big.Int        `json:"tokenId"`
	Amount       *big.Int        `json:"amount"`
	AssetType    types.AssetType `json:"assetType"`
	PaymentToken common.Address  `json:"paymentToken"`
	Price        *big.Int        `json:"price"`
}

// PairResult is the outcome of one pair in a bulk execution.
type PairResult struct {
	Index int    `json:"index"`
	Fill  *Fill  `json:"fill,omitempty"`
	Err   error  `json:"-"`
	Error string `json:"error,omitempty"`
}

// Execute settles sell against buy. value is the native amount the caller
// attached to the call; whatever is not spent is refunded. On error nothing
// done by this call survives.
func (e *Exchange) Execute(caller common.Address, value *big.Int, sell, buy *types.Input) (fill *Fill, err error) {
	if !e.open.Get() {
		return nil, ErrClosed
	}
	snap := e.st.Snapshot()
	defer func() {
		if err != nil {
			e.st.RevertToSnapshot(snap)
		}
	}()

	e.remaining.Set(new(big.Int).Set(value))
	if fill, err = e.execute(caller, sell, buy); err != nil {
		return nil, err
	}
	if err = e.returnDust(caller); err != nil {
		return nil, err
	}
	return fill, nil
}

// BulkExecute settles every pair independently against one shared attached
// value. A failing pair is rolled back and skipped; the call itself only
// fails when closed or given no pairs.
func (e *Exchange) BulkExecute(caller common.Address, value *big.Int, executions []types.Execution) (results []PairResult, err error) {
	if !e.open.Get() {
		return nil, ErrClosed
	}
	if len(executions) == 0 {
		return nil, ErrEmptyBatch
	}
	snap := e.st.Snapshot()
	defer func() {
		if err != nil {
			e.st.RevertToSnapshot(snap)
		}
	}()

	e.remaining.Set(new(big.Int).Set(value))
	results = make([]PairResult, len(executions))
	for i := range executions {
		pairSnap := e.st.Snapshot()
		fill, perr := e.execute(caller, &executions[i].Sell, &executions[i].Buy)
		results[i] = PairResult{Index: i, Fill: fill, Err: perr}
		if perr != nil {
			e.st.RevertToSnapshot(pairSnap)
			results[i].Error = perr.Error()
			e.log.Debugw("bulk_pair_skipped", "index", i, "kind", KindOf(perr), "err", perr)
		}
	}
	if err = e.returnDust(caller); err != nil {
		return nil, err
	}
	return results, nil
}

func (e *Exchange) execute(caller common.Address, sell, buy *types.Input) (*Fill, error) {
	if sell.Order.Side != types.Sell {
		return nil, sideErr(types.Sell, ErrWrongSide)
	}
	if buy.Order.Side != types.Buy {
		return nil, sideErr(types.Buy, ErrWrongSide)
	}

	sellHash := e.HashOrder(&sell.Order)
	buyHash := e.HashOrder(&buy.Order)

	if !e.validateParameters(&sell.Order, sellHash) {
		return nil, sideErr(types.Sell, ErrInvalidParameters)
	}
	if !e.validateParameters(&buy.Order, buyHash) {
		return nil, sideErr(types.Buy, ErrInvalidParameters)
	}
	if !e.validateSignatures(caller, sell, sellHash) {
		return nil, sideErr(types.Sell, ErrFailedAuthorization)
	}
	if !e.validateSignatures(caller, buy, buyHash) {
		return nil, sideErr(types.Buy, ErrFailedAuthorization)
	}

	match, sellIsMaker, err := e.canMatchOrders(&sell.Order, &buy.Order)
	if err != nil {
		return nil, err
	}

	delegate, ok := e.dir.ExecutionDelegate(e.executionDelegate.Get())
	if !ok {
		return nil, fmt.Errorf("execution delegate %s: %w", e.executionDelegate.Get().Hex(), ErrUnknownContract)
	}

	e.cancelledOrFilled.Set(sellHash, true)
	e.cancelledOrFilled.Set(buyHash, true)

	seller, buyer := sell.Order.Trader, buy.Order.Trader
	maker, taker := seller, buyer
	fees := sell.Order.Fees
	if !sellIsMaker {
		maker, taker = buyer, seller
		fees = buy.Order.Fees
	}

	if err := e.transferFunds(caller, delegate, seller, buyer, sell.Order.PaymentToken, fees, match.Price); err != nil {
		return nil, err
	}
	if err := e.transferAsset(delegate, sell.Order.Collection, seller, buyer, match); err != nil {
		return nil, err
	}

	fill := &Fill{
		Maker:        maker,
		Taker:        taker,
		Seller:       seller,
		Buyer:        buyer,
		SellHash:     sellHash,
		BuyHash:      buyHash,
		Collection:   sell.Order.Collection,
		TokenID:      match.TokenID,
		Amount:       match.Amount,
		AssetType:    match.AssetType,
		PaymentToken: sell.Order.PaymentToken,
		Price:        match.Price,
	}
	e.st.Emit(e.address, "OrdersMatched", map[string]any{
		"maker":    maker.Hex(),
		"taker":    taker.Hex(),
		"sell":     sell.Order,
		"sellHash": sellHash.Hex(),
		"buy":      buy.Order,
		"buyHash":  buyHash.Hex(),
		"price":    match.Price.String(),
	})
	return fill, nil
}

// canMatchOrders dispatches to the maker's policy. The maker is the order
// listed first; the sell wins ties. Only the maker's declared policy is
// checked against the whitelist, and every policy requires the taker to
// name the same one.
func (e *Exchange) canMatchOrders(sell, buy *types.Order) (policy.Match, bool, error) {
	pm, ok := e.dir.PolicyManager(e.policyManager.Get())
	if !ok {
		return policy.Match{}, false, fmt.Errorf("policy manager %s: %w", e.policyManager.Get().Hex(), ErrUnknownContract)
	}

	sellIsMaker := sell.ListingTime.Cmp(buy.ListingTime) <= 0
	maker := buy
	if sellIsMaker {
		maker = sell
	}
	if !pm.IsPolicyWhitelisted(maker.MatchingPolicy) {
		return policy.Match{}, false, ErrPolicyNotWhitelisted
	}
	impl, ok := pm.Policy(maker.MatchingPolicy)
	if !ok {
		return policy.Match{}, false, ErrPolicyNotWhitelisted
	}

	var m policy.Match
	if sellIsMaker {
		m = impl.CanMatchMakerAsk(sell, buy)
	} else {
		m = impl.CanMatchMakerBid(buy, sell)
	}
	if !m.OK {
		return policy.Match{}, false, ErrOrdersCannotBeMatched
	}
	return m, sellIsMaker, nil
}

type payFunc func(to common.Address, amount *big.Int) error

// transferFunds pays fees and the seller's proceeds out of the buyer's funds.
func (e *Exchange) transferFunds(caller common.Address, delegate ExecutionDelegate, seller, buyer, token common.Address, fees []types.Fee, price *big.Int) error {
	var pay payFunc
	switch {
	case token == (common.Address{}) && caller == buyer:
		remaining := e.remaining.Get()
		if remaining == nil || remaining.Cmp(price) < 0 {
			return ErrInsufficientValue
		}
		e.remaining.Set(new(big.Int).Sub(remaining, price))
		pay = func(to common.Address, amount *big.Int) error {
			return e.st.Transfer(e.address, to, amount)
		}
	case token == (common.Address{}) || token == e.cfg.Pool:
		// only the pool can pull native value from someone other than the sender
		pay = func(to common.Address, amount *big.Int) error {
			return e.pool.TransferFrom(e.address, buyer, to, amount)
		}
	case token == e.cfg.Weth:
		pay = func(to common.Address, amount *big.Int) error {
			return delegate.TransferERC20(e.address, token, buyer, to, amount)
		}
	default:
		return fmt.Errorf("%s: %w", token.Hex(), ErrInvalidPaymentToken)
	}

	totalFee := new(big.Int)
	for _, f := range fees {
		fee := new(big.Int).Mul(price, big.NewInt(int64(f.Rate)))
		fee.Quo(fee, basisPoints)
		if err := pay(f.Recipient, fee); err != nil {
			return fmt.Errorf("fee to %s: %w", f.Recipient.Hex(), err)
		}
		totalFee.Add(totalFee, fee)
	}
	if totalFee.Cmp(price) > 0 {
		return ErrFeesExceedPrice
	}
	if err := pay(seller, new(big.Int).Sub(price, totalFee)); err != nil {
		return fmt.Errorf("proceeds to %s: %w", seller.Hex(), err)
	}
	return nil
}

func (e *Exchange) transferAsset(delegate ExecutionDelegate, collection, seller, buyer common.Address, m policy.Match) error {
	switch m.AssetType {
	case types.ERC721:
		return delegate.TransferERC721(e.address, collection, seller, buyer, m.TokenID)
	case types.ERC1155:
		return delegate.TransferERC1155(e.address, collection, seller, buyer, m.TokenID, m.Amount)
	default:
		return errors.New("unknown asset type")
	}
}

// returnDust refunds unspent attached value to the caller.
func (e *Exchange) returnDust(caller common.Address) error {
	remaining := e.remaining.Get()
	e.remaining.Set(new(big.Int))
	if remaining == nil || remaining.Sign() == 0 {
		return nil
	}
	if err := e.st.Transfer(e.address, caller, remaining); err != nil {
		return fmt.Errorf("failed to return dust: %w", err)
	}
	return nil
}
