package policy

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/nftsettle/pkg/app/access"
	"github.com/uhyunpark/nftsettle/pkg/ledger"
)

var (
	ErrUnknownPolicy      = errors.New("no matching policy deployed at address")
	ErrAlreadyWhitelisted = errors.New("already whitelisted")
	ErrNotWhitelisted     = errors.New("not whitelisted")
)

// Manager is the policy whitelist. The set of deployed implementations is
// fixed at genesis; the owner decides which of them are usable.
//
// The whitelist is an ordered set: removal moves the last element into the
// vacated slot, so pagination order changes after a removal.
type Manager struct {
	*access.Ownable

	st      *ledger.State
	address common.Address
	impls   map[common.Address]MatchingPolicy

	index  *ledger.Map[common.Address, uint64] // 1-based position in values
	values *ledger.Map[uint64, common.Address]
	length *ledger.Value[uint64]
}

// NewManager deploys a policy manager at addr owned by owner.
func NewManager(st *ledger.State, addr, owner common.Address) *Manager {
	m := &Manager{
		Ownable: access.NewOwnable(st, addr, "policy"),
		st:      st,
		address: addr,
		impls:   make(map[common.Address]MatchingPolicy),
		index:   ledger.NewMap[common.Address, uint64](st, "policy.index"),
		values:  ledger.NewMap[uint64, common.Address](st, "policy.values"),
		length:  ledger.NewValue[uint64](st, "policy.length"),
	}
	m.Init(owner)
	return m
}

// Address returns the manager's contract address.
func (m *Manager) Address() common.Address { return m.address }

// Deploy makes impl resolvable at addr. It does not whitelist it.
func (m *Manager) Deploy(addr common.Address, impl MatchingPolicy) {
	m.impls[addr] = impl
}

// Policy resolves a deployed implementation.
func (m *Manager) Policy(addr common.Address) (MatchingPolicy, bool) {
	p, ok := m.impls[addr]
	return p, ok
}

// AddPolicy whitelists a deployed policy.
func (m *Manager) AddPolicy(caller, policy common.Address) error {
	if err := m.OnlyOwner(caller); err != nil {
		return err
	}
	if _, ok := m.impls[policy]; !ok {
		return fmt.Errorf("%s: %w", policy.Hex(), ErrUnknownPolicy)
	}
	if m.IsPolicyWhitelisted(policy) {
		return fmt.Errorf("%s: %w", policy.Hex(), ErrAlreadyWhitelisted)
	}
	n := m.length.Get()
	m.values.Set(n, policy)
	m.index.Set(policy, n+1)
	m.length.Set(n + 1)
	m.st.Emit(m.address, "PolicyWhitelisted", map[string]string{"policy": policy.Hex()})
	return nil
}

// RemovePolicy takes a policy off the whitelist.
func (m *Manager) RemovePolicy(caller, policy common.Address) error {
	if err := m.OnlyOwner(caller); err != nil {
		return err
	}
	pos, ok := m.index.Lookup(policy)
	if !ok {
		return fmt.Errorf("%s: %w", policy.Hex(), ErrNotWhitelisted)
	}
	last := m.length.Get() - 1
	if idx := pos - 1; idx != last {
		moved := m.values.Get(last)
		m.values.Set(idx, moved)
		m.index.Set(moved, pos)
	}
	m.values.Delete(last)
	m.index.Delete(policy)
	m.length.Set(last)
	m.st.Emit(m.address, "PolicyRemoved", map[string]string{"policy": policy.Hex()})
	return nil
}

// IsPolicyWhitelisted reports whether policy may be used for settlement.
func (m *Manager) IsPolicyWhitelisted(policy common.Address) bool {
	_, ok := m.index.Lookup(policy)
	return ok
}

// ViewCountWhitelistedPolicies returns the whitelist size.
func (m *Manager) ViewCountWhitelistedPolicies() uint64 {
	return m.length.Get()
}

// ViewWhitelistedPolicies returns up to size entries starting at cursor and
// the cursor for the next page.
func (m *Manager) ViewWhitelistedPolicies(cursor, size uint64) ([]common.Address, uint64) {
	n := m.length.Get()
	if cursor >= n {
		return []common.Address{}, cursor
	}
	if size > n-cursor {
		size = n - cursor
	}
	out := make([]common.Address, size)
	for i := uint64(0); i < size; i++ {
		out[i] = m.values.Get(cursor + i)
	}
	return out, cursor + size
}
