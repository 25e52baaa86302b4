package exchange

import (
	"errors"
	"fmt"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/nftsettle/pkg/app/access"
	"github.com/uhyunpark/nftsettle/pkg/app/delegate"
	"github.com/uhyunpark/nftsettle/pkg/app/pool"
	"github.com/uhyunpark/nftsettle/pkg/app/types"
	"github.com/uhyunpark/nftsettle/pkg/crypto"
	"github.com/uhyunpark/nftsettle/pkg/ledger"
)

// bulkListing mints ids [0,n) to alice and signs one sell per token under a
// single merkle root.
func (w *world) bulkListing(n int, oracle bool) []types.Input {
	w.t.Helper()
	orders := make([]types.Order, n)
	for i := range orders {
		w.mintNFT(w.alice, int64(i))
		orders[i] = w.order(w.alice, types.Sell, int64(i), eth(1), 60)
		if oracle {
			orders[i].ExtraParams = []byte{0x01}
		}
	}
	inputs, err := crypto.SignBulk(w.alice, w.ex.DomainSeparator(), orders, w.ex.Nonce(w.alice.Address()))
	require.NoError(w.t, err)
	return inputs
}

func TestBulkSkipsCancelledOrder(t *testing.T) {
	w := newWorld(t)
	sells := w.bulkListing(16, false)

	_, err := w.ex.CancelOrder(w.alice.Address(), &sells[7].Order)
	require.NoError(t, err)

	execs := make([]types.Execution, len(sells))
	for i := range sells {
		execs[i] = types.Execution{Sell: sells[i], Buy: unsigned(w.order(w.bob, types.Buy, int64(i), eth(1), 0))}
	}

	bobBefore, aliceBefore := w.nativeBalance(w.bob), w.nativeBalance(w.alice)
	res, err := w.bulkExecute(w.bob.Address(), eth(16), execs)
	require.NoError(t, err)
	require.Len(t, res, 16)

	for i, r := range res {
		if i == 7 {
			requireSideErr(t, r.Err, types.Sell, ErrInvalidParameters)
			assert.Equal(t, "Sell has invalid parameters", r.Error)
			assert.Nil(t, r.Fill)
			assert.Equal(t, w.alice.Address(), w.st.Tokens().OwnerOf(nftAddr, big.NewInt(7)))
			continue
		}
		require.NoError(t, r.Err, "pair %d", i)
		assert.Equal(t, w.bob.Address(), w.st.Tokens().OwnerOf(nftAddr, big.NewInt(int64(i))))
	}

	// the cancelled slot's value is refunded
	assert.Equal(t, new(big.Int).Sub(bobBefore, eth(15)), w.nativeBalance(w.bob))
	assert.Equal(t, new(big.Int).Add(aliceBefore, eth(15)), w.nativeBalance(w.alice))
	assert.Equal(t, int64(0), w.st.BalanceOf(exchangeAddr).Int64())
}

func TestBulkPartialValue(t *testing.T) {
	w := newWorld(t)
	sells := w.bulkListing(3, false)
	execs := make([]types.Execution, len(sells))
	for i := range sells {
		execs[i] = types.Execution{Sell: sells[i], Buy: unsigned(w.order(w.bob, types.Buy, int64(i), eth(1), 0))}
	}

	bobBefore := w.nativeBalance(w.bob)
	res, err := w.bulkExecute(w.bob.Address(), eth(2), execs)
	require.NoError(t, err)

	require.NoError(t, res[0].Err)
	require.NoError(t, res[1].Err)
	require.ErrorIs(t, res[2].Err, ErrInsufficientValue)
	assert.Equal(t, KindInsufficientFunds, KindOf(res[2].Err))

	assert.Equal(t, new(big.Int).Sub(bobBefore, eth(2)), w.nativeBalance(w.bob))
	assert.True(t, w.ex.IsCancelledOrFilled(res[0].Fill.SellHash))
	assert.False(t, w.ex.IsCancelledOrFilled(w.ex.HashOrder(&sells[2].Order)))
}

func TestBulkEmptyAndClosed(t *testing.T) {
	w := newWorld(t)
	_, err := w.bulkExecute(w.bob.Address(), nil, nil)
	require.ErrorIs(t, err, ErrEmptyBatch)

	require.NoError(t, w.ex.Close(w.owner.Address()))
	sells := w.bulkListing(1, false)
	_, err = w.bulkExecute(w.bob.Address(), eth(1), []types.Execution{
		{Sell: sells[0], Buy: unsigned(w.order(w.bob, types.Buy, 0, eth(1), 0))},
	})
	require.ErrorIs(t, err, ErrClosed)
}

func TestBulkSignatureRejectsForeignProof(t *testing.T) {
	w := newWorld(t)
	sells := w.bulkListing(4, false)

	// swapping proofs between leaves breaks the recomputed root
	forged := sells[1]
	forged.ExtraSignature = sells[2].ExtraSignature
	_, err := w.execute(w.bob.Address(), eth(1), forged, unsigned(w.order(w.bob, types.Buy, 1, eth(1), 0)))
	requireSideErr(t, err, types.Sell, ErrFailedAuthorization)

	forged.ExtraSignature = []byte{0xde, 0xad}
	_, err = w.execute(w.bob.Address(), eth(1), forged, unsigned(w.order(w.bob, types.Buy, 1, eth(1), 0)))
	requireSideErr(t, err, types.Sell, ErrFailedAuthorization)

	// any field change moves the leaf off the signed root
	for name, mutate := range map[string]func(o *types.Order){
		"price":      func(o *types.Order) { o.Price = eth(2) },
		"token id":   func(o *types.Order) { o.TokenID = big.NewInt(3) },
		"expiration": func(o *types.Order) { o.ExpirationTime = big.NewInt(startTime + 7200) },
		"fees":       func(o *types.Order) { o.Fees = []types.Fee{{Rate: 100, Recipient: w.carol.Address()}} },
	} {
		tampered := sells[1]
		mutate(&tampered.Order)
		buy := w.order(w.bob, types.Buy, tampered.Order.TokenID.Int64(), tampered.Order.Price, 0)
		_, err = w.execute(w.bob.Address(), tampered.Order.Price, tampered, unsigned(buy))
		requireSideErr(t, err, types.Sell, ErrFailedAuthorization)
		assert.False(t, w.ex.IsCancelledOrFilled(crypto.HashOrder(&tampered.Order, w.ex.Nonce(w.alice.Address()))), name)
	}

	_, err = w.execute(w.bob.Address(), eth(1), sells[1], unsigned(w.order(w.bob, types.Buy, 1, eth(1), 0)))
	require.NoError(t, err)
}

func TestOracleWindow(t *testing.T) {
	const signedAt = startHeight

	tests := []struct {
		name    string
		height  uint64
		signAt  uint64
		oracle  func(w *world) *crypto.Signer
		wantErr bool
	}{
		{name: "same block", height: signedAt, signAt: signedAt},
		{name: "last block of range", height: signedAt + 5, signAt: signedAt},
		{name: "one past range", height: signedAt + 6, signAt: signedAt, wantErr: true},
		{name: "signed for a future block", height: signedAt, signAt: signedAt + 1, wantErr: true},
		{
			name: "wrong oracle key", height: signedAt, signAt: signedAt, wantErr: true,
			oracle: func(w *world) *crypto.Signer { return w.carol },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := newWorld(t)
			w.mintNFT(w.alice, 1)
			o := w.order(w.alice, types.Sell, 1, eth(1), 60)
			o.ExtraParams = []byte{0x01}
			sell := w.sign(w.alice, o)

			oracle := w.oracle
			if tt.oracle != nil {
				oracle = tt.oracle(w)
			}
			require.NoError(t, crypto.CoSign(oracle, w.ex.DomainSeparator(), &sell, w.ex.Nonce(w.alice.Address()), tt.signAt))
			w.st.SetHeader(ledger.Header{Height: tt.height, Timestamp: startTime})

			_, err := w.execute(w.bob.Address(), eth(1), sell, unsigned(w.order(w.bob, types.Buy, 1, eth(1), 0)))
			if tt.wantErr {
				requireSideErr(t, err, types.Sell, ErrFailedAuthorization)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestOracleMissingCoSignature(t *testing.T) {
	w := newWorld(t)
	w.mintNFT(w.alice, 1)
	o := w.order(w.alice, types.Sell, 1, eth(1), 60)
	o.ExtraParams = []byte{0x01}
	_, err := w.execute(w.bob.Address(), eth(1), w.sign(w.alice, o), unsigned(w.order(w.bob, types.Buy, 1, eth(1), 0)))
	requireSideErr(t, err, types.Sell, ErrFailedAuthorization)
}

// The sender skips its own signature but never the oracle gate.
func TestOracleGatesSendersOwnOrder(t *testing.T) {
	w := newWorld(t)
	w.mintNFT(w.alice, 1)
	sell := w.sign(w.alice, w.order(w.alice, types.Sell, 1, eth(1), 60))

	o := w.order(w.bob, types.Buy, 1, eth(1), 0)
	o.ExtraParams = []byte{0x01}
	buy := unsigned(o)

	// no co-signature at all
	_, err := w.execute(w.bob.Address(), eth(1), sell, buy)
	requireSideErr(t, err, types.Buy, ErrFailedAuthorization)

	// a block number with no co-signature behind it
	buy.BlockNumber = 1
	w.st.SetHeader(ledger.Header{Height: 1100, Timestamp: startTime})
	_, err = w.execute(w.bob.Address(), eth(1), sell, buy)
	requireSideErr(t, err, types.Buy, ErrFailedAuthorization)

	// a real co-signature that has aged out of the window
	require.NoError(t, crypto.CoSign(w.oracle, w.ex.DomainSeparator(), &buy, w.ex.Nonce(w.bob.Address()), 1000))
	_, err = w.execute(w.bob.Address(), eth(1), sell, buy)
	requireSideErr(t, err, types.Buy, ErrFailedAuthorization)
	assert.Equal(t, w.alice.Address(), w.st.Tokens().OwnerOf(nftAddr, big.NewInt(1)))

	require.NoError(t, crypto.CoSign(w.oracle, w.ex.DomainSeparator(), &buy, w.ex.Nonce(w.bob.Address()), 1098))
	_, err = w.execute(w.bob.Address(), eth(1), sell, buy)
	require.NoError(t, err)
	assert.Equal(t, w.bob.Address(), w.st.Tokens().OwnerOf(nftAddr, big.NewInt(1)))
}

func TestBulkWithOracle(t *testing.T) {
	w := newWorld(t)
	sells := w.bulkListing(5, true)
	nonce := w.ex.Nonce(w.alice.Address())

	execs := make([]types.Execution, len(sells))
	for i := range sells {
		require.NoError(t, crypto.CoSign(w.oracle, w.ex.DomainSeparator(), &sells[i], nonce, startHeight))
		execs[i] = types.Execution{Sell: sells[i], Buy: unsigned(w.order(w.bob, types.Buy, int64(i), eth(1), 0))}
	}
	// one pair goes out without its co-signature
	execs[3].Sell.ExtraSignature = sells[0].ExtraSignature

	w.st.SetHeader(ledger.Header{Height: startHeight + 2, Timestamp: startTime})
	res, err := w.bulkExecute(w.bob.Address(), eth(5), execs)
	require.NoError(t, err)
	for i, r := range res {
		if i == 3 {
			requireSideErr(t, r.Err, types.Sell, ErrFailedAuthorization)
			continue
		}
		require.NoError(t, r.Err, "pair %d", i)
	}
}

func TestMakerBid(t *testing.T) {
	w := newWorld(t)
	w.mintNFT(w.alice, 9)
	w.pool.Deposit(w.bob.Address(), eth(3))

	// Bob's bid predates Alice's ask, so Bob is the maker and his fees apply.
	fee := types.Fee{Rate: 1000, Recipient: w.carol.Address()}
	bid := w.sign(w.bob, w.order(w.bob, types.Buy, 9, eth(2), 120, fee))
	ask := unsigned(w.order(w.alice, types.Sell, 9, eth(2), 0))

	aliceBefore := w.pool.BalanceOf(w.alice.Address())
	fill, err := w.execute(w.alice.Address(), nil, ask, bid)
	require.NoError(t, err)

	assert.Equal(t, w.bob.Address(), fill.Maker)
	assert.Equal(t, w.alice.Address(), fill.Taker)
	assert.Equal(t, new(big.Int).Add(aliceBefore, milli(1800)), w.pool.BalanceOf(w.alice.Address()))
	assert.Equal(t, milli(200), w.pool.BalanceOf(w.carol.Address()))
	assert.Equal(t, eth(1), w.pool.BalanceOf(w.bob.Address()))
	assert.Equal(t, w.bob.Address(), w.st.Tokens().OwnerOf(nftAddr, big.NewInt(9)))
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want Kind
	}{
		{nil, KindNone},
		{ErrClosed, KindSystemClosed},
		{sideErr(types.Sell, ErrInvalidParameters), KindStaleOrInvalidOrder},
		{sideErr(types.Buy, ErrWrongSide), KindStaleOrInvalidOrder},
		{ErrAlreadyCancelled, KindStaleOrInvalidOrder},
		{sideErr(types.Buy, ErrFailedAuthorization), KindAuthorizationFailure},
		{ErrOrdersCannotBeMatched, KindPolicyRejected},
		{ErrPolicyNotWhitelisted, KindPolicyRejected},
		{fmt.Errorf("wrapped: %w", delegate.ErrApprovalRevoked), KindTransferAuthorizationFailure},
		{delegate.ErrContractNotApproved, KindTransferAuthorizationFailure},
		{ledger.ErrNotOwnerOrApproved, KindTransferAuthorizationFailure},
		{ErrInsufficientValue, KindInsufficientFunds},
		{pool.ErrInsufficientBalance, KindInsufficientFunds},
		{access.ErrNotOwner, KindUnauthorized},
		{ErrNotSentByTrader, KindUnauthorized},
		{ErrInvalidPaymentToken, KindInvalidRequest},
		{errors.New("anything else"), KindInvalidRequest},
	}
	for _, tt := range tests {
		name := "nil"
		if tt.err != nil {
			name = tt.err.Error()
		}
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}
