// Package pool is a native-asset vault. Balances inside it can be pulled by
// the exchange without the owner being the transaction sender, which is how
// a seller-side taker settles against a native-priced bid.
package pool

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/nftsettle/pkg/ledger"
)

const (
	Name     = "Blur Pool"
	Symbol   = ""
	Decimals = 18
)

var (
	ErrInsufficientBalance = errors.New("insufficient pool balance")
	ErrZeroAddress         = errors.New("cannot transfer to 0 address")
	ErrUnauthorizedCaller  = errors.New("caller is not the exchange")
	ErrNegativeAmount      = errors.New("negative amount")
)

// Pool tracks per-account claims on the native value it holds.
// Invariant: native balance of Address() == TotalSupply().
type Pool struct {
	st       *ledger.State
	address  common.Address
	exchange common.Address

	balances *ledger.Map[common.Address, *big.Int]
	supply   *ledger.Value[*big.Int]
}

// New deploys a pool at addr that only exchange may pull from.
func New(st *ledger.State, addr, exchange common.Address) *Pool {
	return &Pool{
		st:       st,
		address:  addr,
		exchange: exchange,
		balances: ledger.NewMap[common.Address, *big.Int](st, "pool.balance"),
		supply:   ledger.NewValue[*big.Int](st, "pool.supply"),
	}
}

// Address returns the pool's contract address.
func (p *Pool) Address() common.Address { return p.address }

// BalanceOf returns user's pool balance.
func (p *Pool) BalanceOf(user common.Address) *big.Int {
	if b := p.balances.Get(user); b != nil {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

// TotalSupply returns the sum of all balances.
func (p *Pool) TotalSupply() *big.Int {
	if s := p.supply.Get(); s != nil {
		return new(big.Int).Set(s)
	}
	return new(big.Int)
}

// Deposit credits caller with value already attached to the call.
func (p *Pool) Deposit(caller common.Address, value *big.Int) {
	p.mint(caller, value)
}

// Receive handles a bare value transfer; same as Deposit.
func (p *Pool) Receive(caller common.Address, value *big.Int) {
	p.mint(caller, value)
}

func (p *Pool) mint(to common.Address, value *big.Int) {
	if value.Sign() == 0 {
		return
	}
	p.balances.Set(to, new(big.Int).Add(p.BalanceOf(to), value))
	p.supply.Set(new(big.Int).Add(p.TotalSupply(), value))
	p.emitTransfer(common.Address{}, to, value)
}

// Withdraw pays amount of caller's balance back out in native value.
func (p *Pool) Withdraw(caller common.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	bal := p.BalanceOf(caller)
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("withdraw %s of %s: %w", amount, bal, ErrInsufficientBalance)
	}
	p.balances.Set(caller, new(big.Int).Sub(bal, amount))
	p.supply.Set(new(big.Int).Sub(p.TotalSupply(), amount))
	if err := p.st.Transfer(p.address, caller, amount); err != nil {
		return fmt.Errorf("failed to pay out withdrawal: %w", err)
	}
	p.emitTransfer(caller, common.Address{}, amount)
	return nil
}

// TransferFrom moves pool balance without an allowance. Exchange only.
func (p *Pool) TransferFrom(caller, from, to common.Address, amount *big.Int) error {
	if caller != p.exchange {
		return ErrUnauthorizedCaller
	}
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	if amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	bal := p.BalanceOf(from)
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("transfer %s of %s from %s: %w", amount, bal, from.Hex(), ErrInsufficientBalance)
	}
	p.balances.Set(from, new(big.Int).Sub(bal, amount))
	p.balances.Set(to, new(big.Int).Add(p.BalanceOf(to), amount))
	p.emitTransfer(from, to, amount)
	return nil
}

func (p *Pool) emitTransfer(from, to common.Address, amount *big.Int) {
	p.st.Emit(p.address, "Transfer", map[string]string{
		"from": from.Hex(), "to": to.Hex(), "amount": amount.String(),
	})
}
