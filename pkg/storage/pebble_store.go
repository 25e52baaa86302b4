package storage

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/nftsettle/pkg/app/types"
	"github.com/uhyunpark/nftsettle/pkg/ledger"
)

// Block is everything one committed block writes.
type Block struct {
	Header   ledger.Header
	Entries  []ledger.Entry
	Events   []ledger.Event
	Receipts []types.Receipt
}

// PebbleStore persists ledger state, events, receipts and headers.
// Callers serialize writes (App holds its mutex across CommitBlock).
type PebbleStore struct {
	db *pebble.DB
}

// NewPebbleStore opens a Pebble database at the given path
func NewPebbleStore(path string) (*PebbleStore, error) {
	opts := &pebble.Options{
		Cache:                    pebble.NewCache(64 << 20), // 64MB cache
		MemTableSize:             32 << 20,                  // 32MB memtable
		MaxConcurrentCompactions: func() int { return 2 },
		MaxOpenFiles:             1000,
		BytesPerSync:             512 << 10,
	}
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db at %s: %w", path, err)
	}
	return &PebbleStore{db: db}, nil
}

// Close closes the database
func (s *PebbleStore) Close() error { return s.db.Close() }

// CommitBlock writes b in one synced batch. A crash leaves either the whole
// block or none of it.
func (s *PebbleStore) CommitBlock(b Block) error {
	batch := s.db.NewBatch()
	defer batch.Close()

	for _, e := range b.Entries {
		k := stateKey(e.Store, e.Key)
		var err error
		if e.Value == nil {
			err = batch.Delete(k, nil)
		} else {
			err = batch.Set(k, e.Value, nil)
		}
		if err != nil {
			return fmt.Errorf("failed to stage %s: %w", e.Store, err)
		}
	}

	for i, ev := range b.Events {
		data, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("failed to marshal event %s: %w", ev.Name, err)
		}
		if err := batch.Set(eventKey(b.Header.Height, i), data, nil); err != nil {
			return err
		}
	}

	for _, rc := range b.Receipts {
		data, err := json.Marshal(rc)
		if err != nil {
			return fmt.Errorf("failed to marshal receipt: %w", err)
		}
		if err := batch.Set(receiptKey(rc.TxHash), data, nil); err != nil {
			return err
		}
	}

	hdr, err := json.Marshal(b.Header)
	if err != nil {
		return fmt.Errorf("failed to marshal header: %w", err)
	}
	if err := batch.Set(blockKey(b.Header.Height), hdr, nil); err != nil {
		return err
	}
	var h [8]byte
	binary.BigEndian.PutUint64(h[:], b.Header.Height)
	if err := batch.Set([]byte(keyHeight), h[:], nil); err != nil {
		return err
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit block %d: %w", b.Header.Height, err)
	}
	return nil
}

// Height returns the last committed height; ok is false on a fresh database.
func (s *PebbleStore) Height() (height uint64, ok bool, err error) {
	val, closer, err := s.db.Get([]byte(keyHeight))
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get height: %w", err)
	}
	defer closer.Close()
	if len(val) != 8 {
		return 0, false, fmt.Errorf("corrupt height record (%d bytes)", len(val))
	}
	return binary.BigEndian.Uint64(val), true, nil
}

// LoadState replays every persisted slot into st.
func (s *PebbleStore) LoadState(st *ledger.State) (int, error) {
	return s.load(st, []byte(prefixState))
}

// LoadStore replays only the slots of one named store. Used to read the
// deployment record before the rest of the stores exist.
func (s *PebbleStore) LoadStore(st *ledger.State, store string) (int, error) {
	return s.load(st, stateKey(store, nil))
}

func (s *PebbleStore) load(st *ledger.State, prefix []byte) (int, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	n := 0
	for iter.First(); iter.Valid(); iter.Next() {
		store, key, err := splitStateKey(iter.Key())
		if err != nil {
			return n, err
		}
		// iterator buffers are reused; Load must not keep them
		k := append([]byte(nil), key...)
		v := append([]byte(nil), iter.Value()...)
		if err := st.Load(store, k, v); err != nil {
			return n, err
		}
		n++
	}
	return n, iter.Error()
}

// Block returns the header committed at height.
func (s *PebbleStore) Block(height uint64) (ledger.Header, bool, error) {
	var h ledger.Header
	ok, err := s.getJSON(blockKey(height), &h)
	return h, ok, err
}

// Receipt returns the receipt of a transaction.
func (s *PebbleStore) Receipt(txHash common.Hash) (*types.Receipt, bool, error) {
	var rc types.Receipt
	ok, err := s.getJSON(receiptKey(txHash), &rc)
	if !ok || err != nil {
		return nil, ok, err
	}
	return &rc, true, nil
}

// Events returns the events committed at height, in emission order.
func (s *PebbleStore) Events(height uint64) ([]ledger.Event, error) {
	prefix := eventPrefix(height)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []ledger.Event
	for iter.First(); iter.Valid(); iter.Next() {
		var ev ledger.Event
		if err := json.Unmarshal(iter.Value(), &ev); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event %q: %w", iter.Key(), err)
		}
		out = append(out, ev)
	}
	return out, iter.Error()
}

func (s *PebbleStore) getJSON(key []byte, v any) (bool, error) {
	data, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get %q: %w", key, err)
	}
	defer closer.Close()
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("failed to unmarshal %q: %w", key, err)
	}
	return true, nil
}
