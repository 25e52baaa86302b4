package ledger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Map is a journaled key/value container. Writes record an undo entry on the
// owning State and mark the key dirty for the next Finalize.
// Stored values must be treated as immutable (never mutate a *big.Int in place).
type Map[K comparable, V any] struct {
	st    *State
	name  string
	m     map[K]V
	dirty map[K]struct{}
}

// NewMap registers a new journaled map under a unique name.
func NewMap[K comparable, V any](st *State, name string) *Map[K, V] {
	m := &Map[K, V]{
		st:    st,
		name:  name,
		m:     make(map[K]V),
		dirty: make(map[K]struct{}),
	}
	st.register(m)
	return m
}

// Get returns the value for k, or the zero value.
func (m *Map[K, V]) Get(k K) V {
	return m.m[k]
}

// Lookup returns the value for k and whether it is present.
func (m *Map[K, V]) Lookup(k K) (V, bool) {
	v, ok := m.m[k]
	return v, ok
}

// Set stores v under k.
func (m *Map[K, V]) Set(k K, v V) {
	prev, had := m.m[k]
	m.st.record(func() {
		if had {
			m.m[k] = prev
		} else {
			delete(m.m, k)
		}
	})
	m.m[k] = v
	m.dirty[k] = struct{}{}
}

// Delete removes k.
func (m *Map[K, V]) Delete(k K) {
	prev, had := m.m[k]
	if !had {
		return
	}
	m.st.record(func() { m.m[k] = prev })
	delete(m.m, k)
	m.dirty[k] = struct{}{}
}

// Len returns the number of present keys.
func (m *Map[K, V]) Len() int { return len(m.m) }

// Range calls fn for every entry in unspecified order until fn returns false.
func (m *Map[K, V]) Range(fn func(K, V) bool) {
	for k, v := range m.m {
		if !fn(k, v) {
			return
		}
	}
}

func (m *Map[K, V]) storeName() string { return m.name }

func (m *Map[K, V]) flushDirty() ([]Entry, error) {
	out := make([]Entry, 0, len(m.dirty))
	for k := range m.dirty {
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal key: %w", err)
		}
		e := Entry{Store: m.name, Key: kb}
		if v, ok := m.m[k]; ok {
			if e.Value, err = json.Marshal(v); err != nil {
				return nil, fmt.Errorf("failed to marshal value: %w", err)
			}
		}
		out = append(out, e)
	}
	m.dirty = make(map[K]struct{})
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i].Key, out[j].Key) < 0 })
	return out, nil
}

func (m *Map[K, V]) load(key, value []byte) error {
	var k K
	if err := json.Unmarshal(key, &k); err != nil {
		return fmt.Errorf("failed to unmarshal key in %s: %w", m.name, err)
	}
	var v V
	if err := json.Unmarshal(value, &v); err != nil {
		return fmt.Errorf("failed to unmarshal value in %s: %w", m.name, err)
	}
	m.m[k] = v
	return nil
}

// Value is a single journaled slot.
type Value[T any] struct {
	m *Map[string, T]
}

const valueSlot = "v"

// NewValue registers a new journaled value under a unique name.
func NewValue[T any](st *State, name string) *Value[T] {
	return &Value[T]{m: NewMap[string, T](st, name)}
}

// Get returns the stored value or the zero value.
func (v *Value[T]) Get() T { return v.m.Get(valueSlot) }

// Set stores x.
func (v *Value[T]) Set(x T) { v.m.Set(valueSlot, x) }
