// Package delegate is the single contract traders approve to move their
// assets. It only acts for owner-approved caller contracts and never for a
// trader who has revoked it.
package delegate

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/nftsettle/pkg/app/access"
	"github.com/uhyunpark/nftsettle/pkg/ledger"
)

var (
	ErrContractNotApproved = errors.New("contract is not approved to make transfers")
	ErrApprovalRevoked     = errors.New("user has revoked approval")
)

// Delegate is the execution delegate contract.
type Delegate struct {
	*access.Ownable

	st      *ledger.State
	address common.Address

	contracts *ledger.Map[common.Address, bool]
	revoked   *ledger.Map[common.Address, bool]
}

// New deploys a delegate at addr owned by owner.
func New(st *ledger.State, addr, owner common.Address) *Delegate {
	d := &Delegate{
		Ownable:   access.NewOwnable(st, addr, "delegate"),
		st:        st,
		address:   addr,
		contracts: ledger.NewMap[common.Address, bool](st, "delegate.contracts"),
		revoked:   ledger.NewMap[common.Address, bool](st, "delegate.revoked"),
	}
	d.Init(owner)
	return d
}

// Address returns the delegate's contract address. Traders approve this address.
func (d *Delegate) Address() common.Address { return d.address }

// ApproveContract lets a caller contract use the transfer primitives.
func (d *Delegate) ApproveContract(caller, contract common.Address) error {
	if err := d.OnlyOwner(caller); err != nil {
		return err
	}
	d.contracts.Set(contract, true)
	d.st.Emit(d.address, "ApproveContract", map[string]string{"contract": contract.Hex()})
	return nil
}

// DenyContract removes a caller contract's access.
func (d *Delegate) DenyContract(caller, contract common.Address) error {
	if err := d.OnlyOwner(caller); err != nil {
		return err
	}
	d.contracts.Delete(contract)
	d.st.Emit(d.address, "DenyContract", map[string]string{"contract": contract.Hex()})
	return nil
}

// RevokeApproval blocks every transfer out of caller's account.
func (d *Delegate) RevokeApproval(caller common.Address) {
	d.revoked.Set(caller, true)
	d.st.Emit(d.address, "RevokeApproval", map[string]string{"user": caller.Hex()})
}

// GrantApproval undoes RevokeApproval.
func (d *Delegate) GrantApproval(caller common.Address) {
	d.revoked.Delete(caller)
	d.st.Emit(d.address, "GrantApproval", map[string]string{"user": caller.Hex()})
}

// IsContractApproved reports whether contract may call the transfer primitives.
func (d *Delegate) IsContractApproved(contract common.Address) bool {
	return d.contracts.Get(contract)
}

// IsRevoked reports whether user has revoked the delegate.
func (d *Delegate) IsRevoked(user common.Address) bool {
	return d.revoked.Get(user)
}

func (d *Delegate) authorize(caller, from common.Address) error {
	if !d.contracts.Get(caller) {
		return ErrContractNotApproved
	}
	if d.revoked.Get(from) {
		return ErrApprovalRevoked
	}
	return nil
}

// TransferERC721Unsafe moves an ERC-721 token without the receiver hook.
func (d *Delegate) TransferERC721Unsafe(caller, collection, from, to common.Address, tokenID *big.Int) error {
	if err := d.authorize(caller, from); err != nil {
		return err
	}
	return d.st.Tokens().TransferERC721(collection, d.address, from, to, tokenID)
}

// TransferERC721 moves an ERC-721 token. The ledger has no contract
// receivers, so the safe variant only differs in name.
func (d *Delegate) TransferERC721(caller, collection, from, to common.Address, tokenID *big.Int) error {
	return d.TransferERC721Unsafe(caller, collection, from, to, tokenID)
}

// TransferERC1155 moves amount units of an ERC-1155 token.
func (d *Delegate) TransferERC1155(caller, collection, from, to common.Address, tokenID, amount *big.Int) error {
	if err := d.authorize(caller, from); err != nil {
		return err
	}
	return d.st.Tokens().TransferERC1155(collection, d.address, from, to, tokenID, amount)
}

// TransferERC20 moves ERC-20 tokens using the allowance from granted to the delegate.
func (d *Delegate) TransferERC20(caller, token, from, to common.Address, amount *big.Int) error {
	if err := d.authorize(caller, from); err != nil {
		return err
	}
	return d.st.Tokens().TransferFrom(token, d.address, from, to, amount)
}
