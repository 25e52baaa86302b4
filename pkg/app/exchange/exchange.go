// Package exchange settles pairs of signed orders: it validates both sides,
// dispatches to a matching policy, moves payment and asset, and records the
// orders as consumed, all inside one atomic ledger call.
package exchange

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/nftsettle/pkg/app/access"
	"github.com/uhyunpark/nftsettle/pkg/app/policy"
	"github.com/uhyunpark/nftsettle/pkg/app/types"
	"github.com/uhyunpark/nftsettle/pkg/crypto"
	"github.com/uhyunpark/nftsettle/pkg/ledger"
)

// ExecutionDelegate is the transfer surface the exchange needs from the delegate.
type ExecutionDelegate interface {
	TransferERC721(caller, collection, from, to common.Address, tokenID *big.Int) error
	TransferERC1155(caller, collection, from, to common.Address, tokenID, amount *big.Int) error
	TransferERC20(caller, token, from, to common.Address, amount *big.Int) error
}

// PolicyManager is the whitelist surface the exchange needs.
type PolicyManager interface {
	IsPolicyWhitelisted(policy common.Address) bool
	Policy(addr common.Address) (policy.MatchingPolicy, bool)
}

// Pool is the native vault surface the exchange needs.
type Pool interface {
	TransferFrom(caller, from, to common.Address, amount *big.Int) error
}

// Directory resolves configured addresses to deployed contracts.
type Directory interface {
	ExecutionDelegate(addr common.Address) (ExecutionDelegate, bool)
	PolicyManager(addr common.Address) (PolicyManager, bool)
}

// Config is fixed at deployment.
type Config struct {
	Name    string
	ChainID *big.Int
	Weth    common.Address
	Pool    common.Address
}

// Exchange is the settlement contract.
type Exchange struct {
	*access.Ownable

	st      *ledger.State
	address common.Address
	cfg     Config
	dir     Directory
	pool    Pool
	log     *zap.SugaredLogger

	initialized       *ledger.Value[bool]
	open              *ledger.Value[bool]
	nonces            *ledger.Map[common.Address, *big.Int]
	cancelledOrFilled *ledger.Map[common.Hash, bool]
	oracle            *ledger.Value[common.Address]
	blockRange        *ledger.Value[uint64]
	executionDelegate *ledger.Value[common.Address]
	policyManager     *ledger.Value[common.Address]
	version           *ledger.Value[string]
	domainSeparator   *ledger.Value[common.Hash]

	// attached value not yet spent by the current call
	remaining *ledger.Value[*big.Int]
}

// New deploys an uninitialized exchange at addr.
func New(st *ledger.State, addr common.Address, cfg Config, dir Directory, pool Pool, log *zap.SugaredLogger) *Exchange {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Exchange{
		Ownable:           access.NewOwnable(st, addr, "exchange"),
		st:                st,
		address:           addr,
		cfg:               cfg,
		dir:               dir,
		pool:              pool,
		log:               log,
		initialized:       ledger.NewValue[bool](st, "exchange.initialized"),
		open:              ledger.NewValue[bool](st, "exchange.open"),
		nonces:            ledger.NewMap[common.Address, *big.Int](st, "exchange.nonces"),
		cancelledOrFilled: ledger.NewMap[common.Hash, bool](st, "exchange.cancelledOrFilled"),
		oracle:            ledger.NewValue[common.Address](st, "exchange.oracle"),
		blockRange:        ledger.NewValue[uint64](st, "exchange.blockRange"),
		executionDelegate: ledger.NewValue[common.Address](st, "exchange.executionDelegate"),
		policyManager:     ledger.NewValue[common.Address](st, "exchange.policyManager"),
		version:           ledger.NewValue[string](st, "exchange.version"),
		domainSeparator:   ledger.NewValue[common.Hash](st, "exchange.domainSeparator"),
		remaining:         ledger.NewValue[*big.Int](st, "exchange.remaining"),
	}
}

// Initialize sets up a freshly deployed exchange; caller becomes owner.
func (e *Exchange) Initialize(caller, executionDelegate, policyManager, oracle common.Address, blockRange uint64, version string) error {
	if e.initialized.Get() {
		return ErrAlreadyInitialized
	}
	e.initialized.Set(true)
	e.Init(caller)
	e.open.Set(true)
	e.executionDelegate.Set(executionDelegate)
	e.policyManager.Set(policyManager)
	e.oracle.Set(oracle)
	e.blockRange.Set(blockRange)
	return e.setVersion(version)
}

func (e *Exchange) setVersion(version string) error {
	sep, err := e.Domain(version).Separator()
	if err != nil {
		return err
	}
	e.version.Set(version)
	e.domainSeparator.Set(sep)
	return nil
}

// Domain returns the EIP-712 domain for version at this deployment.
func (e *Exchange) Domain(version string) crypto.EIP712Domain {
	return crypto.EIP712Domain{
		Name:              e.cfg.Name,
		Version:           version,
		ChainID:           e.cfg.ChainID,
		VerifyingContract: e.address,
	}
}

// ============================================================================
// Admin
// ============================================================================

// Open re-enables settlement.
func (e *Exchange) Open(caller common.Address) error {
	if err := e.OnlyOwner(caller); err != nil {
		return err
	}
	e.open.Set(true)
	e.st.Emit(e.address, "Opened", nil)
	return nil
}

// Close halts all settlement until Open.
func (e *Exchange) Close(caller common.Address) error {
	if err := e.OnlyOwner(caller); err != nil {
		return err
	}
	e.open.Set(false)
	e.st.Emit(e.address, "Closed", nil)
	return nil
}

// SetExecutionDelegate points the exchange at a different delegate.
func (e *Exchange) SetExecutionDelegate(caller, addr common.Address) error {
	if err := e.OnlyOwner(caller); err != nil {
		return err
	}
	if addr == (common.Address{}) {
		return fmt.Errorf("execution delegate: %w", ErrUnknownContract)
	}
	e.executionDelegate.Set(addr)
	e.st.Emit(e.address, "NewExecutionDelegate", map[string]string{"executionDelegate": addr.Hex()})
	return nil
}

// SetPolicyManager points the exchange at a different policy manager.
func (e *Exchange) SetPolicyManager(caller, addr common.Address) error {
	if err := e.OnlyOwner(caller); err != nil {
		return err
	}
	if addr == (common.Address{}) {
		return fmt.Errorf("policy manager: %w", ErrUnknownContract)
	}
	e.policyManager.Set(addr)
	e.st.Emit(e.address, "NewPolicyManager", map[string]string{"policyManager": addr.Hex()})
	return nil
}

// SetOracle replaces the trusted co-signer.
func (e *Exchange) SetOracle(caller, addr common.Address) error {
	if err := e.OnlyOwner(caller); err != nil {
		return err
	}
	if addr == (common.Address{}) {
		return fmt.Errorf("oracle: %w", ErrUnknownContract)
	}
	e.oracle.Set(addr)
	e.st.Emit(e.address, "NewOracle", map[string]string{"oracle": addr.Hex()})
	return nil
}

// SetBlockRange sets how many blocks an oracle co-signature stays valid.
func (e *Exchange) SetBlockRange(caller common.Address, blockRange uint64) error {
	if err := e.OnlyOwner(caller); err != nil {
		return err
	}
	e.blockRange.Set(blockRange)
	e.st.Emit(e.address, "NewBlockRange", map[string]uint64{"blockRange": blockRange})
	return nil
}

// ============================================================================
// Views
// ============================================================================

func (e *Exchange) Address() common.Address           { return e.address }
func (e *Exchange) IsOpen() bool                      { return e.open.Get() }
func (e *Exchange) Oracle() common.Address            { return e.oracle.Get() }
func (e *Exchange) BlockRange() uint64                { return e.blockRange.Get() }
func (e *Exchange) ExecutionDelegate() common.Address { return e.executionDelegate.Get() }
func (e *Exchange) PolicyManager() common.Address     { return e.policyManager.Get() }
func (e *Exchange) Version() string                   { return e.version.Get() }
func (e *Exchange) DomainSeparator() common.Hash      { return e.domainSeparator.Get() }
func (e *Exchange) Weth() common.Address              { return e.cfg.Weth }
func (e *Exchange) Pool() common.Address              { return e.cfg.Pool }

// Nonce returns trader's current nonce.
func (e *Exchange) Nonce(trader common.Address) *big.Int {
	if n := e.nonces.Get(trader); n != nil {
		return new(big.Int).Set(n)
	}
	return new(big.Int)
}

// IsCancelledOrFilled reports whether an order hash has been consumed.
func (e *Exchange) IsCancelledOrFilled(hash common.Hash) bool {
	return e.cancelledOrFilled.Get(hash)
}

// HashOrder hashes order under its trader's current nonce.
func (e *Exchange) HashOrder(order *types.Order) common.Hash {
	return crypto.HashOrder(order, e.Nonce(order.Trader))
}

// HashToSign returns the digest the trader must sign for order today.
func (e *Exchange) HashToSign(order *types.Order) common.Hash {
	return crypto.HashToSign(e.DomainSeparator(), e.HashOrder(order))
}
