// Package app hosts the exchange contracts on an in-process ledger: it owns
// the state, the mempool and the block loop, and turns signed transaction
// envelopes into contract calls.
package app

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/nftsettle/params"
	"github.com/uhyunpark/nftsettle/pkg/app/delegate"
	"github.com/uhyunpark/nftsettle/pkg/app/exchange"
	"github.com/uhyunpark/nftsettle/pkg/app/mempool"
	"github.com/uhyunpark/nftsettle/pkg/app/policy"
	"github.com/uhyunpark/nftsettle/pkg/app/pool"
	"github.com/uhyunpark/nftsettle/pkg/app/types"
	"github.com/uhyunpark/nftsettle/pkg/events"
	"github.com/uhyunpark/nftsettle/pkg/ledger"
	"github.com/uhyunpark/nftsettle/pkg/storage"
	"github.com/uhyunpark/nftsettle/pkg/util"
)

var (
	ErrMempoolFull    = errors.New("mempool full")
	ErrStaleNonce     = errors.New("nonce too low")
	ErrNotPayable     = errors.New("operation does not accept value")
	ErrFaucetDisabled = errors.New("faucet disabled")
)

// Store is the persistence the App needs. *storage.PebbleStore implements it.
type Store interface {
	CommitBlock(b storage.Block) error
	Height() (uint64, bool, error)
	LoadState(st *ledger.State) (int, error)
	LoadStore(st *ledger.State, store string) (int, error)
	Block(height uint64) (ledger.Header, bool, error)
	Receipt(txHash common.Hash) (*types.Receipt, bool, error)
	Events(height uint64) ([]ledger.Event, error)
}

// Options configures New. Store, Publisher, Clock and Logger are optional.
type Options struct {
	Config    params.Config
	Owner     common.Address // deployer of every genesis contract
	Store     Store
	Publisher events.Publisher
	Clock     util.Clock
	Logger    *zap.SugaredLogger
}

// App is the node's state machine.
//
// mu guards the ledger and everything built on it. Calls into contracts
// must hold it for writing; queries take it for reading.
type App struct {
	mu  sync.RWMutex
	cfg params.Config
	log *zap.SugaredLogger

	st      *ledger.State
	store   Store
	pub     events.Publisher
	clock   util.Clock
	mempool *mempool.Mempool

	deployment *ledger.Value[Deployment]
	txNonces   *ledger.Map[common.Address, uint64]

	ex   *exchange.Exchange
	del  *delegate.Delegate
	pm   *policy.Manager
	pool *pool.Pool
}

// New opens the App. A store holding committed blocks is reloaded;
// otherwise genesis deploys the contracts and commits block 0.
func New(opts Options) (*App, error) {
	a := &App{
		cfg:     opts.Config,
		log:     opts.Logger,
		store:   opts.Store,
		pub:     opts.Publisher,
		clock:   opts.Clock,
		mempool: mempool.NewMempool(opts.Config.Node.MempoolLimit),
		st:      ledger.NewState(),
	}
	if a.log == nil {
		a.log = zap.NewNop().Sugar()
	}
	if a.store == nil {
		a.store = newMemStore()
	}
	if a.clock == nil {
		a.clock = util.RealClock{}
	}
	a.deployment = ledger.NewValue[Deployment](a.st, "app.deployment")
	a.txNonces = ledger.NewMap[common.Address, uint64](a.st, "app.txNonce")

	height, ok, err := a.store.Height()
	if err != nil {
		return nil, err
	}
	if ok {
		if err := a.reload(height); err != nil {
			return nil, fmt.Errorf("failed to reload state at height %d: %w", height, err)
		}
		return a, nil
	}
	if opts.Owner == (common.Address{}) {
		return nil, errors.New("genesis requires an owner address")
	}
	if err := a.genesis(planDeployment(opts.Owner)); err != nil {
		return nil, fmt.Errorf("genesis failed: %w", err)
	}
	return a, nil
}

// wire constructs the contract objects at the deployed addresses. It
// registers every store, so it must run before state is loaded.
func (a *App) wire(d Deployment) {
	a.del = delegate.New(a.st, d.Delegate, d.Deployer)
	a.pm = policy.NewManager(a.st, d.PolicyManager, d.Deployer)
	a.pm.Deploy(d.PolicyERC721, policy.StandardERC721{})
	a.pm.Deploy(d.PolicyERC1155, policy.StandardERC1155{})
	a.pool = pool.New(a.st, d.Pool, d.Exchange)
	a.ex = exchange.New(a.st, d.Exchange, exchange.Config{
		Name:    a.cfg.Exchange.Name,
		ChainID: big.NewInt(a.cfg.Exchange.ChainID),
		Weth:    d.Weth,
		Pool:    d.Pool,
	}, directory{a.del, a.pm}, a.pool, a.log.Named("exchange"))
}

func (a *App) genesis(d Deployment) error {
	a.wire(d)
	owner := d.Deployer
	tok := a.st.Tokens()

	for _, t := range []struct {
		addr common.Address
		std  ledger.Standard
	}{
		{d.Weth, ledger.StandardERC20},
		{d.DemoERC721, ledger.StandardERC721},
		{d.DemoERC1155, ledger.StandardERC1155},
	} {
		if err := tok.Register(t.addr, t.std); err != nil {
			return err
		}
	}
	if err := a.pm.AddPolicy(owner, d.PolicyERC721); err != nil {
		return err
	}
	if err := a.pm.AddPolicy(owner, d.PolicyERC1155); err != nil {
		return err
	}
	oracle := common.Address{}
	if a.cfg.Exchange.Oracle != "" {
		oracle = common.HexToAddress(a.cfg.Exchange.Oracle)
	}
	if err := a.ex.Initialize(owner, d.Delegate, d.PolicyManager, oracle, a.cfg.Exchange.BlockRange, a.cfg.Exchange.Version); err != nil {
		return err
	}
	if err := a.del.ApproveContract(owner, d.Exchange); err != nil {
		return err
	}
	a.deployment.Set(d)

	hdr := ledger.Header{Height: 0, Timestamp: uint64(a.clock.Now().Unix())}
	a.st.SetHeader(hdr)
	if _, err := a.commit(common.Hash{}, hdr, nil); err != nil {
		return err
	}
	a.log.Infow("genesis",
		"owner", owner.Hex(),
		"exchange", d.Exchange.Hex(),
		"delegate", d.Delegate.Hex(),
		"pool", d.Pool.Hex(),
		"domain_separator", a.ex.DomainSeparator().Hex(),
	)
	return nil
}

func (a *App) reload(height uint64) error {
	if _, err := a.store.LoadStore(a.st, "app.deployment"); err != nil {
		return err
	}
	d := a.deployment.Get()
	if d.Exchange == (common.Address{}) {
		return errors.New("no deployment record")
	}
	a.wire(d)
	n, err := a.store.LoadState(a.st)
	if err != nil {
		return err
	}
	// construction wrote owners and emitted events; the loaded state wins
	if _, _, err := a.st.Finalize(); err != nil {
		return err
	}
	if got := a.st.BlockNumber(); got != height {
		return fmt.Errorf("header height %d does not match store height %d", got, height)
	}
	a.log.Infow("state_reloaded", "height", height, "slots", n, "exchange", d.Exchange.Hex())
	return nil
}

// Call runs fn as one atomic contract call: value moves from sender to to
// first, and every effect is reverted if fn fails.
func (a *App) Call(sender, to common.Address, value *big.Int, fn func() error) error {
	snap := a.st.Snapshot()
	if value != nil && value.Sign() > 0 {
		if err := a.st.Transfer(sender, to, value); err != nil {
			a.st.RevertToSnapshot(snap)
			return err
		}
	}
	if err := fn(); err != nil {
		a.st.RevertToSnapshot(snap)
		return err
	}
	return nil
}

// ============================================================================
// Devnet faucet
// ============================================================================

// Faucet mints native value and the same amount of WETH to addr. The
// credit is persisted with the next block.
func (a *App) Faucet(addr common.Address, amount *big.Int) error {
	if !a.cfg.Node.Faucet {
		return ErrFaucetDisabled
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.st.Mint(addr, amount)
	return a.st.Tokens().MintERC20(a.deployment.Get().Weth, addr, amount)
}

// FaucetNFT mints a demo ERC-721 token, or amount of a demo ERC-1155 id
// when amount is set.
func (a *App) FaucetNFT(to common.Address, id, amount *big.Int) error {
	if !a.cfg.Node.Faucet {
		return ErrFaucetDisabled
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	d := a.deployment.Get()
	if amount != nil && amount.Sign() > 0 {
		return a.st.Tokens().MintERC1155(d.DemoERC1155, to, id, amount)
	}
	return a.st.Tokens().MintERC721(d.DemoERC721, to, id)
}
