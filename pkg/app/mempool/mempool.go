package mempool

import (
	"encoding/json"
	"sync"

	"github.com/uhyunpark/nftsettle/pkg/app/transaction"
)

// Priority is the bucket a transaction is drained from.
type Priority int

const (
	PriorityAdmin Priority = iota
	PriorityCancel
	PrioritySettlement
)

func (p Priority) String() string {
	switch p {
	case PriorityAdmin:
		return "admin"
	case PriorityCancel:
		return "cancel"
	default:
		return "settlement"
	}
}

// ClassifyRaw classifies a raw transaction by its JSON envelope type.
//
//	owner operations                 -> PriorityAdmin
//	cancel_order(s), increment_nonce -> PriorityCancel
//	everything else                  -> PrioritySettlement
//
// Malformed envelopes land in the settlement bucket and fail at apply time.
func ClassifyRaw(b []byte) Priority {
	if len(b) == 0 || b[0] != '{' {
		return PrioritySettlement
	}
	var env struct {
		Type transaction.TxType `json:"type"`
	}
	if err := json.Unmarshal(b, &env); err != nil {
		return PrioritySettlement
	}
	switch {
	case env.Type.Admin():
		return PriorityAdmin
	case env.Type == transaction.TxCancelOrder, env.Type == transaction.TxCancelOrders,
		env.Type == transaction.TxIncrementNonce:
		return PriorityCancel
	default:
		return PrioritySettlement
	}
}

// Mempool maintains three queues drained in order admin -> cancel ->
// settlement, so a block's cancels and nonce bumps land before any fill that
// would consume the same orders. Within each bucket, FIFO by admission order.
type Mempool struct {
	mu      sync.Mutex
	buckets [3][][]byte
	limit   int
}

// NewMempool creates a mempool holding at most limit txs (0 = unbounded).
func NewMempool(limit int) *Mempool {
	return &Mempool{limit: limit}
}

// PushRaw classifies and enqueues a tx. It returns false when full.
func (m *Mempool) PushRaw(b []byte) bool {
	cp := append([]byte(nil), b...)
	p := ClassifyRaw(b)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.limit > 0 && m.lenLocked() >= m.limit {
		return false
	}
	m.buckets[p] = append(m.buckets[p], cp)
	return true
}

// SelectForProposal returns up to maxBytes worth of txs in priority order,
// removing selected txs from the mempool.
func (m *Mempool) SelectForProposal(maxBytes int64) [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out [][]byte
	var used int64

	pull := func(q *[][]byte) bool {
		for len(*q) > 0 {
			tx := (*q)[0]
			n := int64(len(tx))
			if maxBytes > 0 && used+n > maxBytes {
				return false
			}
			out = append(out, tx)
			used += n
			*q = (*q)[1:]
		}
		return true
	}

	// a lower bucket never jumps ahead of a higher one that ran out of room
	for i := range m.buckets {
		if !pull(&m.buckets[i]) {
			break
		}
	}
	return out
}

// Len returns total pending txs.
func (m *Mempool) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lenLocked()
}

func (m *Mempool) lenLocked() int {
	return len(m.buckets[0]) + len(m.buckets[1]) + len(m.buckets[2])
}
