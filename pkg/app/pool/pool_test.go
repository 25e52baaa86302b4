package pool

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/nftsettle/pkg/ledger"
)

var (
	poolAddr = common.HexToAddress("0x9001")
	exchange = common.HexToAddress("0xe0")
	alice    = common.HexToAddress("0xa1")
	bob      = common.HexToAddress("0xb0")
)

func eth(n int64) *big.Int { return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18)) }

// deposit mirrors the call boundary: value moves to the pool first.
func deposit(t *testing.T, st *ledger.State, p *Pool, from common.Address, value *big.Int) {
	t.Helper()
	require.NoError(t, st.Transfer(from, p.Address(), value))
	p.Deposit(from, value)
}

func setup(t *testing.T) (*ledger.State, *Pool) {
	t.Helper()
	st := ledger.NewState()
	st.Mint(alice, eth(10))
	st.Mint(bob, eth(10))
	return st, New(st, poolAddr, exchange)
}

func TestDepositWithdraw(t *testing.T) {
	st, p := setup(t)

	deposit(t, st, p, alice, eth(3))
	assert.Equal(t, eth(3), p.BalanceOf(alice))
	assert.Equal(t, eth(3), p.TotalSupply())
	assert.Equal(t, eth(7), st.BalanceOf(alice))

	require.NoError(t, p.Withdraw(alice, eth(1)))
	assert.Equal(t, eth(2), p.BalanceOf(alice))
	assert.Equal(t, eth(8), st.BalanceOf(alice))
	assert.Equal(t, p.TotalSupply(), st.BalanceOf(poolAddr))

	require.ErrorIs(t, p.Withdraw(alice, eth(3)), ErrInsufficientBalance)
	require.ErrorIs(t, p.Withdraw(bob, big.NewInt(1)), ErrInsufficientBalance)
}

func TestReceiveCreditsLikeDeposit(t *testing.T) {
	st, p := setup(t)
	require.NoError(t, st.Transfer(bob, poolAddr, eth(2)))
	p.Receive(bob, eth(2))
	assert.Equal(t, eth(2), p.BalanceOf(bob))
	assert.Equal(t, p.TotalSupply(), st.BalanceOf(poolAddr))
}

func TestTransferFromGuards(t *testing.T) {
	st, p := setup(t)
	deposit(t, st, p, alice, eth(2))

	require.ErrorIs(t, p.TransferFrom(alice, alice, bob, eth(1)), ErrUnauthorizedCaller)
	require.ErrorIs(t, p.TransferFrom(exchange, alice, common.Address{}, eth(1)), ErrZeroAddress)
	require.ErrorIs(t, p.TransferFrom(exchange, alice, bob, eth(3)), ErrInsufficientBalance)

	require.NoError(t, p.TransferFrom(exchange, alice, bob, eth(2)))
	assert.Equal(t, int64(0), p.BalanceOf(alice).Int64())
	assert.Equal(t, eth(2), p.BalanceOf(bob))
	assert.Equal(t, eth(2), p.TotalSupply())
}

func TestNegativeAmountsRejected(t *testing.T) {
	st, p := setup(t)
	deposit(t, st, p, alice, eth(1))
	require.ErrorIs(t, p.Withdraw(alice, big.NewInt(-1)), ErrNegativeAmount)
	require.ErrorIs(t, p.TransferFrom(exchange, alice, bob, big.NewInt(-1)), ErrNegativeAmount)
}

func TestPoolStateRevertsWithSnapshot(t *testing.T) {
	st, p := setup(t)
	deposit(t, st, p, alice, eth(1))

	snap := st.Snapshot()
	require.NoError(t, p.TransferFrom(exchange, alice, bob, eth(1)))
	st.RevertToSnapshot(snap)

	assert.Equal(t, eth(1), p.BalanceOf(alice))
	assert.Equal(t, int64(0), p.BalanceOf(bob).Int64())
}
