package storage

import (
	"bytes"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Pebble key schema:
//
//	st:<store>:<json key>   -> journaled ledger slot (json value)
//	ev:<height>:<index>     -> event
//	rc:<tx hash>            -> receipt
//	blk:<height>            -> block header
//	meta:height             -> last committed height
//
// Heights and indexes are zero-padded so lexicographic order is numeric order.
const (
	prefixState   = "st:"
	prefixEvent   = "ev:"
	prefixReceipt = "rc:"
	prefixBlock   = "blk:"
	keyHeight     = "meta:height"
)

// stateKey returns the key for one ledger slot
// Format: "st:{store}:{key}"
// Example: "st:exchange.nonces:\"0x742d...\""
func stateKey(store string, key []byte) []byte {
	out := make([]byte, 0, len(prefixState)+len(store)+1+len(key))
	out = append(out, prefixState...)
	out = append(out, store...)
	out = append(out, ':')
	return append(out, key...)
}

// splitStateKey is the inverse of stateKey. Store names never contain ':'.
func splitStateKey(k []byte) (string, []byte, error) {
	rest, ok := bytes.CutPrefix(k, []byte(prefixState))
	if !ok {
		return "", nil, fmt.Errorf("not a state key: %q", k)
	}
	store, key, ok := bytes.Cut(rest, []byte{':'})
	if !ok || len(store) == 0 {
		return "", nil, fmt.Errorf("malformed state key: %q", k)
	}
	return string(store), key, nil
}

// eventKey returns the key for an event
// Format: "ev:{height:020}:{index:06}"
func eventKey(height uint64, index int) []byte {
	return []byte(fmt.Sprintf("%s%020d:%06d", prefixEvent, height, index))
}

// eventPrefix returns the prefix for all events of one block
func eventPrefix(height uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d:", prefixEvent, height))
}

// receiptKey returns the key for a receipt
// Format: "rc:{txhash}"
func receiptKey(h common.Hash) []byte {
	return []byte(prefixReceipt + h.Hex())
}

// blockKey returns the key for a block header
// Format: "blk:{height:020}"
func blockKey(height uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixBlock, height))
}

// keyUpperBound returns the exclusive upper bound for a prefix scan
// Example: prefix "ev:0001:" -> upper bound "ev:0001;" (next byte after ':')
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
