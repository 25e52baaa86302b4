package app

import (
	"context"
	"encoding/json"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/nftsettle/params"
	"github.com/uhyunpark/nftsettle/pkg/app/exchange"
	"github.com/uhyunpark/nftsettle/pkg/app/transaction"
	"github.com/uhyunpark/nftsettle/pkg/app/types"
	"github.com/uhyunpark/nftsettle/pkg/crypto"
	"github.com/uhyunpark/nftsettle/pkg/storage"
	"github.com/uhyunpark/nftsettle/pkg/util"
)

const genesisTime = 1_700_000_000

func eth(n int64) *big.Int { return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18)) }

type node struct {
	t     *testing.T
	app   *App
	clock *util.ManualClock

	owner, alice, bob *crypto.Signer
	nonces            map[common.Address]uint64
	salt              int64
}

func newSigner(t *testing.T) *crypto.Signer {
	t.Helper()
	s, err := crypto.GenerateKey()
	require.NoError(t, err)
	return s
}

func newNode(t *testing.T, store Store) *node {
	t.Helper()
	n := &node{
		t:      t,
		clock:  util.NewManualClock(time.Unix(genesisTime, 0)),
		owner:  newSigner(t),
		alice:  newSigner(t),
		bob:    newSigner(t),
		nonces: make(map[common.Address]uint64),
	}
	app, err := New(Options{
		Config: params.Default(),
		Owner:  n.owner.Address(),
		Store:  store,
		Clock:  n.clock,
	})
	require.NoError(t, err)
	n.app = app

	for _, s := range []*crypto.Signer{n.alice, n.bob} {
		require.NoError(t, app.Faucet(s.Address(), eth(10)))
	}
	return n
}

func (n *node) sign(s *crypto.Signer, typ transaction.TxType, value *big.Int, payload any) []byte {
	n.t.Helper()
	n.nonces[s.Address()]++
	tx, err := transaction.New(typ, s.Address(), n.nonces[s.Address()], value, payload)
	require.NoError(n.t, err)
	require.NoError(n.t, tx.Sign(s))
	raw, err := tx.Serialize()
	require.NoError(n.t, err)
	return raw
}

func (n *node) submit(s *crypto.Signer, typ transaction.TxType, value *big.Int, payload any) common.Hash {
	n.t.Helper()
	h, err := n.app.SubmitTx(n.sign(s, typ, value, payload))
	require.NoError(n.t, err)
	return h
}

func (n *node) block() *BlockResult {
	n.t.Helper()
	n.clock.Advance(10 * time.Second)
	res, err := n.app.ProduceBlock(context.Background())
	require.NoError(n.t, err)
	return res
}

func (n *node) approveDelegate(s *crypto.Signer) {
	d := n.app.Deployment()
	n.submit(s, transaction.TxERC721SetApprovalForAll, nil, transaction.ApprovalForAllPayload{
		Collection: d.DemoERC721, Operator: d.Delegate, Approved: true,
	})
}

func (n *node) order(trader *crypto.Signer, side types.Side, id int64, price *big.Int, listedAgo int64) types.Order {
	d := n.app.Deployment()
	n.salt++
	now := int64(n.app.Header().Timestamp)
	return types.Order{
		Trader:         trader.Address(),
		Side:           side,
		MatchingPolicy: d.PolicyERC721,
		Collection:     d.DemoERC721,
		TokenID:        big.NewInt(id),
		Amount:         big.NewInt(1),
		PaymentToken:   common.Address{},
		Price:          price,
		ListingTime:    big.NewInt(now - listedAgo),
		ExpirationTime: big.NewInt(now + 3600),
		Salt:           big.NewInt(n.salt),
	}
}

// listing returns alice's signed ask for id and bob's matching bid.
func (n *node) listing(id int64, price *big.Int) transaction.ExecutePayload {
	n.t.Helper()
	sellOrder := n.order(n.alice, types.Sell, id, price, 60)
	sell, err := crypto.SignOrder(n.alice, n.app.ExchangeInfo().DomainSeparator, sellOrder, n.app.OrderNonce(n.alice.Address()))
	require.NoError(n.t, err)
	buy := types.Input{Order: n.order(n.bob, types.Buy, id, price, 1), V: 27, SignatureVersion: types.Single}
	return transaction.ExecutePayload{Sell: sell, Buy: buy}
}

func TestGenesis(t *testing.T) {
	n := newNode(t, nil)
	info := n.app.ExchangeInfo()
	d := n.app.Deployment()

	assert.Equal(t, uint64(0), info.Height)
	assert.True(t, info.Open)
	assert.Equal(t, n.owner.Address(), info.Owner)
	assert.Equal(t, d.Exchange, info.Address)
	assert.Equal(t, d.Delegate, info.ExecutionDelegate)
	assert.ElementsMatch(t, []common.Address{d.PolicyERC721, d.PolicyERC1155}, info.Policies)
	assert.NotEqual(t, common.Hash{}, info.DomainSeparator)
	assert.NotEqual(t, common.Hash{}, n.app.Header().StateHash)

	bal := n.app.Balances(n.alice.Address())
	assert.Equal(t, eth(10), bal.Native)
	assert.Equal(t, eth(10), bal.Weth)
	assert.Equal(t, int64(0), bal.Pool.Int64())
}

func TestGenesisIsDeterministic(t *testing.T) {
	owner := newSigner(t)
	var hashes []common.Hash
	for i := 0; i < 2; i++ {
		app, err := New(Options{
			Config: params.Default(),
			Owner:  owner.Address(),
			Clock:  util.NewManualClock(time.Unix(genesisTime, 0)),
		})
		require.NoError(t, err)
		hashes = append(hashes, app.Header().StateHash)
	}
	assert.Equal(t, hashes[0], hashes[1])
}

func TestSettlementThroughTransactions(t *testing.T) {
	n := newNode(t, nil)
	require.NoError(t, n.app.FaucetNFT(n.alice.Address(), big.NewInt(7), nil))
	n.approveDelegate(n.alice)
	n.block()

	aliceBefore := n.app.Balances(n.alice.Address()).Native
	bobBefore := n.app.Balances(n.bob.Address()).Native
	hash := n.submit(n.bob, transaction.TxExecute, eth(1), n.listing(7, eth(1)))
	res := n.block()

	require.Len(t, res.Receipts, 1)
	rc := res.Receipts[0]
	assert.Equal(t, hash, rc.TxHash)
	require.Equal(t, types.ReceiptSuccess, rc.Status, rc.Error)
	var fill exchange.Fill
	require.NoError(t, json.Unmarshal(rc.Result, &fill))
	assert.Equal(t, n.alice.Address(), fill.Maker)
	assert.Equal(t, n.bob.Address(), fill.Taker)
	assert.Positive(t, rc.Events)

	d := n.app.Deployment()
	assert.Equal(t, n.bob.Address(), n.app.OwnerOf(d.DemoERC721, big.NewInt(7)))
	assert.Equal(t, new(big.Int).Add(aliceBefore, eth(1)), n.app.Balances(n.alice.Address()).Native)
	assert.Equal(t, new(big.Int).Sub(bobBefore, eth(1)), n.app.Balances(n.bob.Address()).Native)

	stored, ok, err := n.app.Receipt(hash)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, rc.Height, stored.Height)

	evs, err := n.app.Events(res.Header.Height)
	require.NoError(t, err)
	names := make([]string, 0, len(evs))
	for _, ev := range evs {
		names = append(names, ev.Name)
	}
	assert.Contains(t, names, "OrdersMatched")
}

func TestCancelLandsBeforeFillInSameBlock(t *testing.T) {
	n := newNode(t, nil)
	require.NoError(t, n.app.FaucetNFT(n.alice.Address(), big.NewInt(1), nil))
	n.approveDelegate(n.alice)
	n.block()

	p := n.listing(1, eth(1))
	fill := n.submit(n.bob, transaction.TxExecute, eth(1), p)
	cancel := n.submit(n.alice, transaction.TxCancelOrder, nil, transaction.CancelOrderPayload{Order: p.Sell.Order})
	res := n.block()

	require.Len(t, res.Receipts, 2)
	assert.Equal(t, cancel, res.Receipts[0].TxHash)
	assert.Equal(t, types.ReceiptSuccess, res.Receipts[0].Status)
	assert.Equal(t, fill, res.Receipts[1].TxHash)
	assert.Equal(t, types.ReceiptFailed, res.Receipts[1].Status)
	assert.Equal(t, string(exchange.KindStaleOrInvalidOrder), res.Receipts[1].Kind)
	assert.Equal(t, "Sell has invalid parameters", res.Receipts[1].Error)

	// the failed fill refunded bob's attached value
	assert.Equal(t, eth(10), n.app.Balances(n.bob.Address()).Native)
}

func TestReplayedTransactionIsDropped(t *testing.T) {
	n := newNode(t, nil)
	raw := n.sign(n.bob, transaction.TxPoolDeposit, eth(2), nil)
	hash, err := n.app.SubmitTx(raw)
	require.NoError(t, err)
	n.block()

	_, err = n.app.SubmitTx(raw)
	assert.ErrorIs(t, err, ErrStaleNonce)

	// a peer may still hand us the stale bytes
	require.True(t, n.app.PushTx(raw))
	res := n.block()
	assert.Empty(t, res.Receipts)

	rc, ok, err := n.app.Receipt(hash)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, types.ReceiptSuccess, rc.Status)
	assert.Equal(t, eth(2), n.app.Balances(n.bob.Address()).Pool)
	assert.Equal(t, uint64(1), n.app.TxNonce(n.bob.Address()))
}

func TestForgedSenderIsRejected(t *testing.T) {
	n := newNode(t, nil)
	tx, err := transaction.New(transaction.TxIncrementNonce, n.alice.Address(), 1, nil, nil)
	require.NoError(t, err)
	require.NoError(t, tx.Sign(n.bob))
	tx.From = n.alice.Address()
	raw, err := tx.Serialize()
	require.NoError(t, err)

	_, err = n.app.SubmitTx(raw)
	assert.ErrorIs(t, err, transaction.ErrInvalidSignature)
}

func TestFailedCallStillConsumesNonce(t *testing.T) {
	n := newNode(t, nil)
	n.submit(n.alice, transaction.TxCancelOrders, eth(1), transaction.CancelOrdersPayload{})
	n.submit(n.alice, transaction.TxClose, nil, nil)
	res := n.block()

	require.Len(t, res.Receipts, 2)
	// close is an owner operation and is applied first
	assert.Equal(t, string(transaction.TxClose), res.Receipts[0].Type)
	assert.Equal(t, string(exchange.KindUnauthorized), res.Receipts[0].Kind)
	assert.Equal(t, types.ReceiptFailed, res.Receipts[1].Status)
	assert.Contains(t, res.Receipts[1].Error, ErrNotPayable.Error())

	assert.Equal(t, uint64(2), n.app.TxNonce(n.alice.Address()))
	assert.Equal(t, eth(10), n.app.Balances(n.alice.Address()).Native)
	assert.True(t, n.app.ExchangeInfo().Open)
}

func TestOwnerOperations(t *testing.T) {
	n := newNode(t, nil)
	oracle := newSigner(t)
	d := n.app.Deployment()

	n.submit(n.owner, transaction.TxClose, nil, nil)
	n.submit(n.owner, transaction.TxSetOracle, nil, transaction.AddressPayload{Address: oracle.Address()})
	n.submit(n.owner, transaction.TxSetBlockRange, nil, transaction.BlockRangePayload{BlockRange: 9})
	n.submit(n.owner, transaction.TxPolicyRemove, nil, transaction.AddressPayload{Address: d.PolicyERC1155})
	n.submit(n.owner, transaction.TxTransferOwnership, nil, transaction.OwnershipPayload{Contract: d.Delegate, NewOwner: n.alice.Address()})
	res := n.block()
	for _, rc := range res.Receipts {
		require.Equal(t, types.ReceiptSuccess, rc.Status, "%s: %s", rc.Type, rc.Error)
	}

	info := n.app.ExchangeInfo()
	assert.False(t, info.Open)
	assert.Equal(t, oracle.Address(), info.Oracle)
	assert.Equal(t, uint64(9), info.BlockRange)
	assert.Equal(t, []common.Address{d.PolicyERC721}, info.Policies)

	// alice now owns the delegate and can deny the exchange
	n.submit(n.alice, transaction.TxDelegateDenyContract, nil, transaction.AddressPayload{Address: d.Exchange})
	n.submit(n.owner, transaction.TxDelegateApproveContract, nil, transaction.AddressPayload{Address: d.Exchange})
	res = n.block()
	require.Len(t, res.Receipts, 2)
	assert.Equal(t, types.ReceiptSuccess, res.Receipts[0].Status)
	assert.Equal(t, string(exchange.KindUnauthorized), res.Receipts[1].Kind)
}

func TestPoolTransactions(t *testing.T) {
	n := newNode(t, nil)
	pool := n.app.Deployment().Pool

	n.submit(n.bob, transaction.TxPoolDeposit, eth(2), nil)
	n.submit(n.bob, transaction.TxNativeTransfer, eth(1), transaction.AddressPayload{Address: pool})
	n.submit(n.bob, transaction.TxPoolWithdraw, nil, transaction.AmountPayload{Amount: eth(1).String()})
	n.submit(n.bob, transaction.TxPoolWithdraw, nil, transaction.AmountPayload{Amount: eth(5).String()})
	res := n.block()

	require.Len(t, res.Receipts, 4)
	for _, rc := range res.Receipts[:3] {
		assert.Equal(t, types.ReceiptSuccess, rc.Status, rc.Error)
	}
	assert.Equal(t, string(exchange.KindInsufficientFunds), res.Receipts[3].Kind)

	bal := n.app.Balances(n.bob.Address())
	assert.Equal(t, eth(2), bal.Pool)
	assert.Equal(t, eth(8), bal.Native)
}

func TestApprovalChecksCollectionStandard(t *testing.T) {
	n := newNode(t, nil)
	d := n.app.Deployment()
	n.submit(n.alice, transaction.TxERC1155SetApprovalForAll, nil, transaction.ApprovalForAllPayload{
		Collection: d.DemoERC721, Operator: d.Delegate, Approved: true,
	})
	n.submit(n.alice, transaction.TxERC1155SetApprovalForAll, nil, transaction.ApprovalForAllPayload{
		Collection: d.DemoERC1155, Operator: d.Delegate, Approved: true,
	})
	res := n.block()

	require.Len(t, res.Receipts, 2)
	assert.Equal(t, types.ReceiptFailed, res.Receipts[0].Status)
	assert.Equal(t, types.ReceiptSuccess, res.Receipts[1].Status)
	assert.False(t, n.app.IsApprovedForAll(d.DemoERC721, n.alice.Address(), d.Delegate))
	assert.True(t, n.app.IsApprovedForAll(d.DemoERC1155, n.alice.Address(), d.Delegate))
}

func TestTimestampNeverGoesBackwards(t *testing.T) {
	n := newNode(t, nil)
	first := n.block().Header
	n.clock.Advance(-time.Hour)
	second, err := n.app.ProduceBlock(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first.Height+1, second.Header.Height)
	assert.Equal(t, first.Timestamp, second.Header.Timestamp)
	assert.NotEqual(t, first.StateHash, second.Header.StateHash)
}

func TestReloadFromPebble(t *testing.T) {
	dir := t.TempDir()
	store, err := storage.NewPebbleStore(dir)
	require.NoError(t, err)

	n := newNode(t, store)
	require.NoError(t, n.app.FaucetNFT(n.alice.Address(), big.NewInt(3), nil))
	n.approveDelegate(n.alice)
	n.block()
	n.submit(n.bob, transaction.TxExecute, eth(1), n.listing(3, eth(1)))
	n.block()
	n.submit(n.alice, transaction.TxIncrementNonce, nil, nil)
	last := n.block()
	require.Len(t, last.Receipts, 1)

	before := n.app.ExchangeInfo()
	require.NoError(t, store.Close())

	store, err = storage.NewPebbleStore(dir)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	reloaded, err := New(Options{Config: params.Default(), Store: store, Clock: n.clock})
	require.NoError(t, err)

	d := reloaded.Deployment()
	assert.Equal(t, n.app.Deployment(), d)
	assert.Equal(t, before, reloaded.ExchangeInfo())
	assert.Equal(t, last.Header, reloaded.Header())
	assert.Equal(t, n.bob.Address(), reloaded.OwnerOf(d.DemoERC721, big.NewInt(3)))
	assert.Equal(t, int64(1), reloaded.OrderNonce(n.alice.Address()).Int64())
	assert.Equal(t, n.app.Balances(n.alice.Address()), reloaded.Balances(n.alice.Address()))
	assert.Equal(t, uint64(2), reloaded.TxNonce(n.alice.Address()))

	// the chain continues from the persisted height
	n.app = reloaded
	n.submit(n.bob, transaction.TxPoolDeposit, eth(1), nil)
	res := n.block()
	assert.Equal(t, last.Header.Height+1, res.Header.Height)
	require.Len(t, res.Receipts, 1)
	assert.Equal(t, types.ReceiptSuccess, res.Receipts[0].Status)
}
