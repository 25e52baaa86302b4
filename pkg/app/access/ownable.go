// Package access provides owner-gated administration for ledger contracts.
package access

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/nftsettle/pkg/ledger"
)

var (
	ErrNotOwner     = errors.New("caller is not the owner")
	ErrZeroNewOwner = errors.New("new owner is the zero address")
)

// Ownable stores a single owner address for a contract.
type Ownable struct {
	st       *ledger.State
	contract common.Address
	owner    *ledger.Value[common.Address]
}

// NewOwnable registers the owner slot of contract under prefix.
func NewOwnable(st *ledger.State, contract common.Address, prefix string) *Ownable {
	return &Ownable{
		st:       st,
		contract: contract,
		owner:    ledger.NewValue[common.Address](st, prefix+".owner"),
	}
}

// Owner returns the current owner (zero once renounced).
func (o *Ownable) Owner() common.Address { return o.owner.Get() }

// OnlyOwner fails unless caller is the owner.
func (o *Ownable) OnlyOwner(caller common.Address) error {
	if caller != o.owner.Get() || caller == (common.Address{}) {
		return ErrNotOwner
	}
	return nil
}

// Init sets the first owner. Used at deployment.
func (o *Ownable) Init(owner common.Address) {
	o.set(owner)
}

// TransferOwnership hands control to newOwner.
func (o *Ownable) TransferOwnership(caller, newOwner common.Address) error {
	if err := o.OnlyOwner(caller); err != nil {
		return err
	}
	if newOwner == (common.Address{}) {
		return ErrZeroNewOwner
	}
	o.set(newOwner)
	return nil
}

// RenounceOwnership leaves the contract without an owner; owner-only
// operations become permanently unavailable.
func (o *Ownable) RenounceOwnership(caller common.Address) error {
	if err := o.OnlyOwner(caller); err != nil {
		return err
	}
	o.set(common.Address{})
	return nil
}

func (o *Ownable) set(newOwner common.Address) {
	prev := o.owner.Get()
	o.owner.Set(newOwner)
	o.st.Emit(o.contract, "OwnershipTransferred", map[string]string{
		"previousOwner": prev.Hex(),
		"newOwner":      newOwner.Hex(),
	})
}
