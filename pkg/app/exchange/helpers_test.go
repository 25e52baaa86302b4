package exchange

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/nftsettle/pkg/app/delegate"
	"github.com/uhyunpark/nftsettle/pkg/app/policy"
	"github.com/uhyunpark/nftsettle/pkg/app/pool"
	"github.com/uhyunpark/nftsettle/pkg/app/types"
	"github.com/uhyunpark/nftsettle/pkg/crypto"
	"github.com/uhyunpark/nftsettle/pkg/ledger"
)

const (
	startHeight = 100
	startTime   = 1_700_000_000
)

var (
	exchangeAddr = common.HexToAddress("0xe0")
	delegateAddr = common.HexToAddress("0xde")
	managerAddr  = common.HexToAddress("0x9a")
	poolAddr     = common.HexToAddress("0x9001")
	wethAddr     = common.HexToAddress("0x20")
	nftAddr      = common.HexToAddress("0x721")
	multiAddr    = common.HexToAddress("0x1155")
	p721         = common.HexToAddress("0x7210")
	p1155        = common.HexToAddress("0x11550")
)

func eth(n int64) *big.Int { return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18)) }

func milli(n int64) *big.Int { return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e15)) }

type directory struct {
	del *delegate.Delegate
	pm  *policy.Manager
}

func (d directory) ExecutionDelegate(addr common.Address) (ExecutionDelegate, bool) {
	if addr != d.del.Address() {
		return nil, false
	}
	return d.del, true
}

func (d directory) PolicyManager(addr common.Address) (PolicyManager, bool) {
	if addr != d.pm.Address() {
		return nil, false
	}
	return d.pm, true
}

type world struct {
	t    *testing.T
	st   *ledger.State
	ex   *Exchange
	pool *pool.Pool
	del  *delegate.Delegate
	pm   *policy.Manager

	owner, oracle, alice, bob, carol *crypto.Signer
	salt                             int64
}

func newWorld(t *testing.T) *world {
	t.Helper()
	w := &world{t: t, st: ledger.NewState()}
	for _, s := range []**crypto.Signer{&w.owner, &w.oracle, &w.alice, &w.bob, &w.carol} {
		k, err := crypto.GenerateKey()
		require.NoError(t, err)
		*s = k
	}
	w.st.SetHeader(ledger.Header{Height: startHeight, Timestamp: startTime})

	owner := w.owner.Address()
	w.del = delegate.New(w.st, delegateAddr, owner)
	w.pm = policy.NewManager(w.st, managerAddr, owner)
	w.pm.Deploy(p721, policy.StandardERC721{})
	w.pm.Deploy(p1155, policy.StandardERC1155{})
	require.NoError(t, w.pm.AddPolicy(owner, p721))
	require.NoError(t, w.pm.AddPolicy(owner, p1155))
	w.pool = pool.New(w.st, poolAddr, exchangeAddr)

	w.ex = New(w.st, exchangeAddr, Config{
		Name:    "Blur Exchange",
		ChainID: big.NewInt(1337),
		Weth:    wethAddr,
		Pool:    poolAddr,
	}, directory{w.del, w.pm}, w.pool, nil)
	require.NoError(t, w.ex.Initialize(owner, delegateAddr, managerAddr, w.oracle.Address(), 5, "1.0"))
	require.NoError(t, w.del.ApproveContract(owner, exchangeAddr))

	tok := w.st.Tokens()
	require.NoError(t, tok.Register(nftAddr, ledger.StandardERC721))
	require.NoError(t, tok.Register(multiAddr, ledger.StandardERC1155))
	require.NoError(t, tok.Register(wethAddr, ledger.StandardERC20))
	for _, s := range []*crypto.Signer{w.alice, w.bob, w.carol} {
		w.st.Mint(s.Address(), eth(100))
		require.NoError(t, tok.MintERC20(wethAddr, s.Address(), eth(100)))
		require.NoError(t, tok.Approve(wethAddr, s.Address(), delegateAddr, eth(100)))
		require.NoError(t, tok.SetApprovalForAll(nftAddr, s.Address(), delegateAddr, true))
		require.NoError(t, tok.SetApprovalForAll(multiAddr, s.Address(), delegateAddr, true))
	}
	w.st.Finalize()
	return w
}

// call mirrors the node's call boundary: attached value moves to the
// exchange first and the whole call reverts on error.
func (w *world) call(sender common.Address, value *big.Int, fn func() error) error {
	snap := w.st.Snapshot()
	if value == nil {
		value = new(big.Int)
	}
	if err := w.st.Transfer(sender, exchangeAddr, value); err != nil {
		return err
	}
	if err := fn(); err != nil {
		w.st.RevertToSnapshot(snap)
		return err
	}
	return nil
}

func (w *world) execute(sender common.Address, value *big.Int, sell, buy types.Input) (*Fill, error) {
	if value == nil {
		value = new(big.Int)
	}
	var fill *Fill
	err := w.call(sender, value, func() error {
		var err error
		fill, err = w.ex.Execute(sender, value, &sell, &buy)
		return err
	})
	return fill, err
}

func (w *world) bulkExecute(sender common.Address, value *big.Int, execs []types.Execution) ([]PairResult, error) {
	if value == nil {
		value = new(big.Int)
	}
	var res []PairResult
	err := w.call(sender, value, func() error {
		var err error
		res, err = w.ex.BulkExecute(sender, value, execs)
		return err
	})
	return res, err
}

func (w *world) mintNFT(to *crypto.Signer, id int64) {
	require.NoError(w.t, w.st.Tokens().MintERC721(nftAddr, to.Address(), big.NewInt(id)))
}

// order builds an ERC-721 order listed ageSeconds before now.
func (w *world) order(trader *crypto.Signer, side types.Side, id int64, price *big.Int, ageSeconds int64, fees ...types.Fee) types.Order {
	w.salt++
	return types.Order{
		Trader:         trader.Address(),
		Side:           side,
		MatchingPolicy: p721,
		Collection:     nftAddr,
		TokenID:        big.NewInt(id),
		Amount:         big.NewInt(1),
		PaymentToken:   common.Address{},
		Price:          price,
		ListingTime:    big.NewInt(startTime - ageSeconds),
		ExpirationTime: big.NewInt(startTime + 3600),
		Fees:           fees,
		Salt:           big.NewInt(w.salt),
	}
}

func (w *world) sign(trader *crypto.Signer, o types.Order) types.Input {
	in, err := crypto.SignOrder(trader, w.ex.DomainSeparator(), o, w.ex.Nonce(o.Trader))
	require.NoError(w.t, err)
	return in
}

// unsigned is the bundle a taker submits for its own order.
func unsigned(o types.Order) types.Input {
	return types.Input{Order: o, V: 27, SignatureVersion: types.Single}
}

func (w *world) nativeBalance(s *crypto.Signer) *big.Int { return w.st.BalanceOf(s.Address()) }
