package ledger

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrZeroAddress       = errors.New("zero address")
	ErrNegativeAmount    = errors.New("negative amount")
)

// BalanceOf returns the native balance of addr (never nil).
func (st *State) BalanceOf(addr common.Address) *big.Int {
	if b := st.native.Get(addr); b != nil {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

// Transfer moves native value between accounts.
func (st *State) Transfer(from, to common.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	if to == (common.Address{}) {
		return fmt.Errorf("native transfer: %w", ErrZeroAddress)
	}
	if amount.Sign() == 0 {
		return nil
	}
	bal := st.BalanceOf(from)
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("native transfer from %s: have %s, need %s: %w", from.Hex(), bal, amount, ErrInsufficientFunds)
	}
	st.native.Set(from, new(big.Int).Sub(bal, amount))
	st.native.Set(to, new(big.Int).Add(st.BalanceOf(to), amount))
	return nil
}

// Mint credits native value out of thin air. Genesis and devnet faucet only.
func (st *State) Mint(to common.Address, amount *big.Int) {
	st.native.Set(to, new(big.Int).Add(st.BalanceOf(to), amount))
}
