// Package ledger is the deterministic state machine the settlement contracts run on.
//
// Every mutation goes through journaled storage (Map, Value) so a failed call
// can be rolled back to a snapshot with zero side effects. The ledger itself
// does no locking: callers serialize access (see app.App.Call).
package ledger

import (
	"encoding/json"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// Header is the current block context visible to contracts.
type Header struct {
	Height    uint64      `json:"height"`
	Timestamp uint64      `json:"timestamp"` // Unix seconds
	StateHash common.Hash `json:"stateHash"`
}

// Entry is one dirty storage slot ready to be persisted.
// Value is nil when the slot was deleted.
type Entry struct {
	Store string
	Key   []byte
	Value []byte
}

// store is implemented by every journaled container registered on a State.
type store interface {
	storeName() string
	flushDirty() ([]Entry, error)
	load(key, value []byte) error
}

// State holds all journaled containers, the undo journal and the event log.
type State struct {
	journal []func()
	stores  map[string]store
	events  []Event
	txHash  common.Hash

	header *Value[Header]
	native *Map[common.Address, *big.Int]
	tokens *Tokens
}

// NewState creates an empty ledger at height 0.
func NewState() *State {
	st := &State{stores: make(map[string]store)}
	st.header = NewValue[Header](st, "header")
	st.native = NewMap[common.Address, *big.Int](st, "native")
	st.tokens = newTokens(st)
	return st
}

func (st *State) register(s store) {
	if _, dup := st.stores[s.storeName()]; dup {
		panic(fmt.Sprintf("ledger: store %q registered twice", s.storeName()))
	}
	st.stores[s.storeName()] = s
}

func (st *State) record(undo func()) {
	st.journal = append(st.journal, undo)
}

// Snapshot returns an identifier for the current journal position.
func (st *State) Snapshot() int {
	return len(st.journal)
}

// RevertToSnapshot undoes every mutation recorded after id, newest first.
func (st *State) RevertToSnapshot(id int) {
	if id < 0 || id > len(st.journal) {
		panic(fmt.Sprintf("ledger: invalid snapshot %d (journal=%d)", id, len(st.journal)))
	}
	for i := len(st.journal) - 1; i >= id; i-- {
		st.journal[i]()
	}
	st.journal = st.journal[:id]
}

// Header returns the current block header.
func (st *State) Header() Header { return st.header.Get() }

// BlockNumber returns the current block height.
func (st *State) BlockNumber() uint64 { return st.header.Get().Height }

// Timestamp returns the current block time in Unix seconds.
func (st *State) Timestamp() uint64 { return st.header.Get().Timestamp }

// SetHeader replaces the block context. Used by block production and tests.
func (st *State) SetHeader(h Header) { st.header.Set(h) }

// SetTxContext tags subsequently emitted events with the given tx hash.
func (st *State) SetTxContext(h common.Hash) { st.txHash = h }

// Tokens exposes the asset-standard ledgers.
func (st *State) Tokens() *Tokens { return st.tokens }

// Emit appends an event; it is dropped if the enclosing call reverts.
func (st *State) Emit(contract common.Address, name string, data any) {
	st.events = append(st.events, Event{
		Contract: contract,
		Name:     name,
		Height:   st.BlockNumber(),
		TxHash:   st.txHash,
		Data:     data,
	})
	n := len(st.events) - 1
	st.record(func() { st.events = st.events[:n] })
}

// PendingEvents returns events emitted since the last Finalize.
func (st *State) PendingEvents() []Event {
	return append([]Event(nil), st.events...)
}

// Finalize drops the journal and returns the dirty entries and events
// accumulated since the previous Finalize. After Finalize nothing can be reverted.
func (st *State) Finalize() ([]Entry, []Event, error) {
	names := make([]string, 0, len(st.stores))
	for name := range st.stores {
		names = append(names, name)
	}
	sort.Strings(names)

	var entries []Entry
	for _, name := range names {
		es, err := st.stores[name].flushDirty()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to flush %s: %w", name, err)
		}
		entries = append(entries, es...)
	}

	events := st.events
	st.events = nil
	st.journal = nil
	return entries, events, nil
}

// Load restores one persisted entry into its store.
func (st *State) Load(storeName string, key, value []byte) error {
	s, ok := st.stores[storeName]
	if !ok {
		return fmt.Errorf("unknown store %q", storeName)
	}
	return s.load(key, value)
}

// Event is a log record emitted by a contract during a call.
type Event struct {
	Contract common.Address `json:"contract"`
	Name     string         `json:"name"`
	Height   uint64         `json:"height"`
	TxHash   common.Hash    `json:"txHash"`
	Data     any            `json:"data"`
}

// MarshalData encodes the event payload on its own.
func (e Event) MarshalData() ([]byte, error) {
	return json.Marshal(e.Data)
}
