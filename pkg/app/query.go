package app

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/nftsettle/pkg/app/types"
	"github.com/uhyunpark/nftsettle/pkg/ledger"
)

// ExchangeInfo is the public configuration of the exchange.
type ExchangeInfo struct {
	Address           common.Address   `json:"address"`
	Name              string           `json:"name"`
	Version           string           `json:"version"`
	ChainID           int64            `json:"chainId"`
	DomainSeparator   common.Hash      `json:"domainSeparator"`
	Open              bool             `json:"open"`
	Owner             common.Address   `json:"owner"`
	Oracle            common.Address   `json:"oracle"`
	BlockRange        uint64           `json:"blockRange"`
	ExecutionDelegate common.Address   `json:"executionDelegate"`
	PolicyManager     common.Address   `json:"policyManager"`
	Policies          []common.Address `json:"policies"`
	Pool              common.Address   `json:"pool"`
	Weth              common.Address   `json:"weth"`
	Height            uint64           `json:"height"`
}

// Balances is what an account holds in the assets the exchange settles in.
type Balances struct {
	Native *big.Int `json:"native"`
	Pool   *big.Int `json:"pool"`
	Weth   *big.Int `json:"weth"`
}

// OrderHashes are the two hashes clients need for an order.
type OrderHashes struct {
	OrderHash  common.Hash `json:"orderHash"`
	HashToSign common.Hash `json:"hashToSign"`
	Nonce      *big.Int    `json:"nonce"`
	Cancelled  bool        `json:"cancelledOrFilled"`
}

func (a *App) Deployment() Deployment {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.deployment.Get()
}

func (a *App) Height() uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.st.BlockNumber()
}

func (a *App) Header() ledger.Header {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.st.Header()
}

func (a *App) MempoolSize() int { return a.mempool.Len() }

func (a *App) ExchangeInfo() ExchangeInfo {
	a.mu.RLock()
	defer a.mu.RUnlock()
	policies, _ := a.pm.ViewWhitelistedPolicies(0, a.pm.ViewCountWhitelistedPolicies())
	return ExchangeInfo{
		Address:           a.ex.Address(),
		Name:              a.cfg.Exchange.Name,
		Version:           a.ex.Version(),
		ChainID:           a.cfg.Exchange.ChainID,
		DomainSeparator:   a.ex.DomainSeparator(),
		Open:              a.ex.IsOpen(),
		Owner:             a.ex.Owner(),
		Oracle:            a.ex.Oracle(),
		BlockRange:        a.ex.BlockRange(),
		ExecutionDelegate: a.ex.ExecutionDelegate(),
		PolicyManager:     a.ex.PolicyManager(),
		Policies:          policies,
		Pool:              a.ex.Pool(),
		Weth:              a.ex.Weth(),
		Height:            a.st.BlockNumber(),
	}
}

func (a *App) Balances(addr common.Address) Balances {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return Balances{
		Native: a.st.BalanceOf(addr),
		Pool:   a.pool.BalanceOf(addr),
		Weth:   a.st.Tokens().BalanceOf(a.ex.Weth(), addr),
	}
}

// TxNonce is the last envelope nonce used by addr; the next must exceed it.
func (a *App) TxNonce(addr common.Address) uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.txNonces.Get(addr)
}

// OrderNonce is the trader's current exchange nonce.
func (a *App) OrderNonce(trader common.Address) *big.Int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.ex.Nonce(trader)
}

func (a *App) HashOrder(order *types.Order) OrderHashes {
	a.mu.RLock()
	defer a.mu.RUnlock()
	h := a.ex.HashOrder(order)
	return OrderHashes{
		OrderHash:  h,
		HashToSign: a.ex.HashToSign(order),
		Nonce:      a.ex.Nonce(order.Trader),
		Cancelled:  a.ex.IsCancelledOrFilled(h),
	}
}

func (a *App) IsCancelledOrFilled(hash common.Hash) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.ex.IsCancelledOrFilled(hash)
}

func (a *App) OwnerOf(collection common.Address, id *big.Int) common.Address {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.st.Tokens().OwnerOf(collection, id)
}

func (a *App) BalanceOf1155(collection, owner common.Address, id *big.Int) *big.Int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.st.Tokens().BalanceOf1155(collection, owner, id)
}

func (a *App) IsApprovedForAll(collection, owner, operator common.Address) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.st.Tokens().IsApprovedForAll(collection, owner, operator)
}

func (a *App) Receipt(hash common.Hash) (*types.Receipt, bool, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.store.Receipt(hash)
}

func (a *App) Block(height uint64) (ledger.Header, bool, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.store.Block(height)
}

func (a *App) Events(height uint64) ([]ledger.Event, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.store.Events(height)
}
