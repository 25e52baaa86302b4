package app

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"

	"github.com/uhyunpark/nftsettle/pkg/app/types"
	"github.com/uhyunpark/nftsettle/pkg/ledger"
	"github.com/uhyunpark/nftsettle/pkg/storage"
)

// BlockResult summarizes a committed block.
type BlockResult struct {
	Header   ledger.Header   `json:"header"`
	Receipts []types.Receipt `json:"receipts"`
	Events   []ledger.Event  `json:"events"`
}

// ProduceBlock drains the mempool (admin, then cancels, then settlement),
// applies each transaction on its own, and commits the block.
//
// The block timestamp is the wall clock, clamped so it never goes backwards.
func (a *App) ProduceBlock(ctx context.Context) (*BlockResult, error) {
	txs := a.mempool.SelectForProposal(a.cfg.Node.MaxBlockBytes)

	a.mu.Lock()
	prev := a.st.Header()
	hdr := ledger.Header{Height: prev.Height + 1, Timestamp: uint64(a.clock.Now().Unix())}
	if hdr.Timestamp < prev.Timestamp {
		hdr.Timestamp = prev.Timestamp
	}
	a.st.SetHeader(hdr)

	receipts := make([]types.Receipt, 0, len(txs))
	for _, raw := range txs {
		if rc, ok := a.applyTx(raw, hdr.Height, len(receipts)); ok {
			receipts = append(receipts, rc)
		}
	}
	a.st.SetTxContext(common.Hash{})
	blk, err := a.commit(prev.StateHash, hdr, receipts)
	a.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if len(receipts) > 0 {
		a.log.Infow("block_committed",
			"height", blk.Header.Height,
			"txs", len(receipts),
			"dropped", len(txs)-len(receipts),
			"events", len(blk.Events),
			"state_hash", blk.Header.StateHash.Hex(),
		)
	} else {
		a.log.Debugw("block_committed", "height", blk.Header.Height, "dropped", len(txs))
	}

	if a.pub != nil && len(blk.Events) > 0 {
		if err := a.pub.Publish(ctx, blk.Header.Height, blk.Events); err != nil {
			a.log.Warnw("event_publish_failed", "height", blk.Header.Height, "err", err)
		}
	}
	return &BlockResult{Header: blk.Header, Receipts: receipts, Events: blk.Events}, nil
}

// commit finalizes the ledger, seals hdr with the state hash and writes the
// block. Caller holds mu.
func (a *App) commit(parent common.Hash, hdr ledger.Header, receipts []types.Receipt) (storage.Block, error) {
	entries, evs, err := a.st.Finalize()
	if err != nil {
		return storage.Block{}, err
	}
	hdr.StateHash = stateHash(parent, hdr, entries)
	a.st.SetHeader(hdr)
	sealed, _, err := a.st.Finalize()
	if err != nil {
		return storage.Block{}, err
	}

	blk := storage.Block{
		Header:   hdr,
		Entries:  append(entries, sealed...),
		Events:   evs,
		Receipts: receipts,
	}
	if err := a.store.CommitBlock(blk); err != nil {
		return storage.Block{}, fmt.Errorf("failed to commit block %d: %w", hdr.Height, err)
	}
	return blk, nil
}

// stateHash chains the parent hash with every slot this block wrote.
// Entries arrive sorted by store then key, so the result is deterministic.
//
//	keccak256(parent || height || timestamp || for each entry:
//	          len(store) store len(key) key (0x00 | 0x01 len(value) value))
func stateHash(parent common.Hash, hdr ledger.Header, entries []ledger.Entry) common.Hash {
	h := sha3.NewLegacyKeccak256()
	h.Write(parent[:])

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], hdr.Height)
	h.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], hdr.Timestamp)
	h.Write(buf[:])

	writeBytes := func(b []byte) {
		binary.BigEndian.PutUint64(buf[:], uint64(len(b)))
		h.Write(buf[:])
		h.Write(b)
	}
	for _, e := range entries {
		writeBytes([]byte(e.Store))
		writeBytes(e.Key)
		if e.Value == nil {
			h.Write([]byte{0})
			continue
		}
		h.Write([]byte{1})
		writeBytes(e.Value)
	}

	return common.BytesToHash(h.Sum(nil))
}

// Run produces a block every BlockTime until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.log.Infow("block_loop_started", "block_time", a.cfg.Node.BlockTime, "height", a.Height())
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-a.clock.After(a.cfg.Node.BlockTime):
		}
		if _, err := a.ProduceBlock(ctx); err != nil {
			return err
		}
	}
}
