package app

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/nftsettle/pkg/app/types"
	"github.com/uhyunpark/nftsettle/pkg/ledger"
	"github.com/uhyunpark/nftsettle/pkg/storage"
)

// memStore keeps committed blocks in memory. Used when no data directory is
// configured; state itself lives in the ledger, so nothing is reloaded.
type memStore struct {
	height   uint64
	ok       bool
	headers  map[uint64]ledger.Header
	events   map[uint64][]ledger.Event
	receipts map[common.Hash]types.Receipt
}

func newMemStore() *memStore {
	return &memStore{
		headers:  make(map[uint64]ledger.Header),
		events:   make(map[uint64][]ledger.Event),
		receipts: make(map[common.Hash]types.Receipt),
	}
}

func (m *memStore) CommitBlock(b storage.Block) error {
	m.height, m.ok = b.Header.Height, true
	m.headers[b.Header.Height] = b.Header
	m.events[b.Header.Height] = b.Events
	for _, rc := range b.Receipts {
		m.receipts[rc.TxHash] = rc
	}
	return nil
}

func (m *memStore) Height() (uint64, bool, error) { return m.height, m.ok, nil }

func (m *memStore) LoadState(*ledger.State) (int, error) { return 0, nil }

func (m *memStore) LoadStore(*ledger.State, string) (int, error) { return 0, nil }

func (m *memStore) Block(height uint64) (ledger.Header, bool, error) {
	h, ok := m.headers[height]
	return h, ok, nil
}

func (m *memStore) Receipt(txHash common.Hash) (*types.Receipt, bool, error) {
	rc, ok := m.receipts[txHash]
	if !ok {
		return nil, false, nil
	}
	return &rc, true, nil
}

func (m *memStore) Events(height uint64) ([]ledger.Event, error) {
	return m.events[height], nil
}
