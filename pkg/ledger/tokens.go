package ledger

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Standard identifies the interface a token contract implements.
type Standard uint8

const (
	StandardUnknown Standard = iota
	StandardERC20
	StandardERC721
	StandardERC1155
)

func (s Standard) String() string {
	switch s {
	case StandardERC20:
		return "ERC20"
	case StandardERC721:
		return "ERC721"
	case StandardERC1155:
		return "ERC1155"
	default:
		return "unknown"
	}
}

var (
	ErrUnknownToken          = errors.New("unknown token")
	ErrWrongStandard         = errors.New("token does not implement standard")
	ErrTokenExists           = errors.New("token already registered")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrInsufficientBalance   = errors.New("insufficient token balance")
	ErrNotOwnerOrApproved    = errors.New("caller is not token owner or approved")
	ErrWrongOwner            = errors.New("transfer from incorrect owner")
	ErrAlreadyMinted         = errors.New("token already minted")
)

type holding struct {
	Token common.Address `json:"token"`
	Owner common.Address `json:"owner"`
}

type allowance struct {
	Token   common.Address `json:"token"`
	Owner   common.Address `json:"owner"`
	Spender common.Address `json:"spender"`
}

type nft struct {
	Collection common.Address `json:"collection"`
	ID         common.Hash    `json:"id"`
}

type multiHolding struct {
	Collection common.Address `json:"collection"`
	ID         common.Hash    `json:"id"`
	Owner      common.Address `json:"owner"`
}

type operatorKey struct {
	Collection common.Address `json:"collection"`
	Owner      common.Address `json:"owner"`
	Operator   common.Address `json:"operator"`
}

// Tokens keeps balances for every token contract hosted on the ledger.
type Tokens struct {
	st        *State
	standards *Map[common.Address, Standard]
	balances  *Map[holding, *big.Int]
	allowed   *Map[allowance, *big.Int]
	owners    *Map[nft, common.Address]
	multi     *Map[multiHolding, *big.Int]
	operators *Map[operatorKey, bool]
}

func newTokens(st *State) *Tokens {
	return &Tokens{
		st:        st,
		standards: NewMap[common.Address, Standard](st, "tok.standard"),
		balances:  NewMap[holding, *big.Int](st, "erc20.balance"),
		allowed:   NewMap[allowance, *big.Int](st, "erc20.allowance"),
		owners:    NewMap[nft, common.Address](st, "erc721.owner"),
		multi:     NewMap[multiHolding, *big.Int](st, "erc1155.balance"),
		operators: NewMap[operatorKey, bool](st, "nft.operator"),
	}
}

func tokenID(id *big.Int) common.Hash { return common.BigToHash(id) }

// Register deploys a token contract of the given standard at addr.
func (t *Tokens) Register(addr common.Address, std Standard) error {
	if _, ok := t.standards.Lookup(addr); ok {
		return fmt.Errorf("%s: %w", addr.Hex(), ErrTokenExists)
	}
	t.standards.Set(addr, std)
	return nil
}

// StandardOf returns the standard of the token at addr.
func (t *Tokens) StandardOf(addr common.Address) Standard {
	return t.standards.Get(addr)
}

func (t *Tokens) require(addr common.Address, std Standard) error {
	got, ok := t.standards.Lookup(addr)
	if !ok {
		return fmt.Errorf("%s: %w", addr.Hex(), ErrUnknownToken)
	}
	if got != std {
		return fmt.Errorf("%s is %s, want %s: %w", addr.Hex(), got, std, ErrWrongStandard)
	}
	return nil
}

// ============================================================================
// ERC-20
// ============================================================================

// BalanceOf returns an ERC-20 balance.
func (t *Tokens) BalanceOf(token, owner common.Address) *big.Int {
	if b := t.balances.Get(holding{token, owner}); b != nil {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

// Allowance returns how much spender may move on behalf of owner.
func (t *Tokens) Allowance(token, owner, spender common.Address) *big.Int {
	if a := t.allowed.Get(allowance{token, owner, spender}); a != nil {
		return new(big.Int).Set(a)
	}
	return new(big.Int)
}

// Approve sets spender's allowance over owner's balance.
func (t *Tokens) Approve(token, owner, spender common.Address, amount *big.Int) error {
	if err := t.require(token, StandardERC20); err != nil {
		return err
	}
	if amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	t.allowed.Set(allowance{token, owner, spender}, new(big.Int).Set(amount))
	t.st.Emit(token, "Approval", map[string]string{
		"owner": owner.Hex(), "spender": spender.Hex(), "value": amount.String(),
	})
	return nil
}

// MintERC20 credits owner with amount tokens.
func (t *Tokens) MintERC20(token, to common.Address, amount *big.Int) error {
	if err := t.require(token, StandardERC20); err != nil {
		return err
	}
	t.balances.Set(holding{token, to}, new(big.Int).Add(t.BalanceOf(token, to), amount))
	return nil
}

// TransferFrom moves ERC-20 tokens, spending spender's allowance unless spender is from.
func (t *Tokens) TransferFrom(token, spender, from, to common.Address, amount *big.Int) error {
	if err := t.require(token, StandardERC20); err != nil {
		return err
	}
	if amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	if to == (common.Address{}) {
		return fmt.Errorf("erc20 transfer: %w", ErrZeroAddress)
	}
	if spender != from {
		allowed := t.Allowance(token, from, spender)
		if allowed.Cmp(amount) < 0 {
			return fmt.Errorf("erc20 %s: allowance %s < %s: %w", token.Hex(), allowed, amount, ErrInsufficientAllowance)
		}
		t.allowed.Set(allowance{token, from, spender}, new(big.Int).Sub(allowed, amount))
	}
	bal := t.BalanceOf(token, from)
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("erc20 %s: balance %s < %s: %w", token.Hex(), bal, amount, ErrInsufficientBalance)
	}
	t.balances.Set(holding{token, from}, new(big.Int).Sub(bal, amount))
	t.balances.Set(holding{token, to}, new(big.Int).Add(t.BalanceOf(token, to), amount))
	t.st.Emit(token, "Transfer", map[string]string{
		"from": from.Hex(), "to": to.Hex(), "value": amount.String(),
	})
	return nil
}

// ============================================================================
// Operator approvals (shared by ERC-721 and ERC-1155)
// ============================================================================

// SetApprovalForAll lets operator move every token owner holds in collection.
func (t *Tokens) SetApprovalForAll(collection, owner, operator common.Address, approved bool) error {
	std := t.standards.Get(collection)
	if std != StandardERC721 && std != StandardERC1155 {
		return fmt.Errorf("%s: %w", collection.Hex(), ErrWrongStandard)
	}
	t.operators.Set(operatorKey{collection, owner, operator}, approved)
	t.st.Emit(collection, "ApprovalForAll", map[string]any{
		"owner": owner.Hex(), "operator": operator.Hex(), "approved": approved,
	})
	return nil
}

// IsApprovedForAll reports whether operator may move owner's tokens.
func (t *Tokens) IsApprovedForAll(collection, owner, operator common.Address) bool {
	return t.operators.Get(operatorKey{collection, owner, operator})
}

// ============================================================================
// ERC-721
// ============================================================================

// OwnerOf returns the owner of an ERC-721 token, zero if unminted.
func (t *Tokens) OwnerOf(collection common.Address, id *big.Int) common.Address {
	return t.owners.Get(nft{collection, tokenID(id)})
}

// MintERC721 creates token id owned by to.
func (t *Tokens) MintERC721(collection, to common.Address, id *big.Int) error {
	if err := t.require(collection, StandardERC721); err != nil {
		return err
	}
	if to == (common.Address{}) {
		return fmt.Errorf("erc721 mint: %w", ErrZeroAddress)
	}
	key := nft{collection, tokenID(id)}
	if _, ok := t.owners.Lookup(key); ok {
		return fmt.Errorf("erc721 %s #%s: %w", collection.Hex(), id, ErrAlreadyMinted)
	}
	t.owners.Set(key, to)
	return nil
}

// TransferERC721 moves token id from -> to on behalf of operator.
func (t *Tokens) TransferERC721(collection, operator, from, to common.Address, id *big.Int) error {
	if err := t.require(collection, StandardERC721); err != nil {
		return err
	}
	if to == (common.Address{}) {
		return fmt.Errorf("erc721 transfer: %w", ErrZeroAddress)
	}
	key := nft{collection, tokenID(id)}
	owner := t.owners.Get(key)
	if owner != from {
		return fmt.Errorf("erc721 %s #%s owned by %s: %w", collection.Hex(), id, owner.Hex(), ErrWrongOwner)
	}
	if operator != from && !t.IsApprovedForAll(collection, from, operator) {
		return fmt.Errorf("erc721 %s #%s: %w", collection.Hex(), id, ErrNotOwnerOrApproved)
	}
	t.owners.Set(key, to)
	t.st.Emit(collection, "Transfer", map[string]string{
		"from": from.Hex(), "to": to.Hex(), "tokenId": id.String(),
	})
	return nil
}

// ============================================================================
// ERC-1155
// ============================================================================

// BalanceOf1155 returns owner's balance of token id.
func (t *Tokens) BalanceOf1155(collection, owner common.Address, id *big.Int) *big.Int {
	if b := t.multi.Get(multiHolding{collection, tokenID(id), owner}); b != nil {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

// MintERC1155 credits amount units of token id to to.
func (t *Tokens) MintERC1155(collection, to common.Address, id, amount *big.Int) error {
	if err := t.require(collection, StandardERC1155); err != nil {
		return err
	}
	key := multiHolding{collection, tokenID(id), to}
	t.multi.Set(key, new(big.Int).Add(t.BalanceOf1155(collection, to, id), amount))
	return nil
}

// TransferERC1155 moves amount units of token id from -> to on behalf of operator.
func (t *Tokens) TransferERC1155(collection, operator, from, to common.Address, id, amount *big.Int) error {
	if err := t.require(collection, StandardERC1155); err != nil {
		return err
	}
	if to == (common.Address{}) {
		return fmt.Errorf("erc1155 transfer: %w", ErrZeroAddress)
	}
	if operator != from && !t.IsApprovedForAll(collection, from, operator) {
		return fmt.Errorf("erc1155 %s #%s: %w", collection.Hex(), id, ErrNotOwnerOrApproved)
	}
	bal := t.BalanceOf1155(collection, from, id)
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("erc1155 %s #%s: balance %s < %s: %w", collection.Hex(), id, bal, amount, ErrInsufficientBalance)
	}
	t.multi.Set(multiHolding{collection, tokenID(id), from}, new(big.Int).Sub(bal, amount))
	t.multi.Set(multiHolding{collection, tokenID(id), to}, new(big.Int).Add(t.BalanceOf1155(collection, to, id), amount))
	t.st.Emit(collection, "TransferSingle", map[string]string{
		"operator": operator.Hex(), "from": from.Hex(), "to": to.Hex(),
		"id": id.String(), "value": amount.String(),
	})
	return nil
}
