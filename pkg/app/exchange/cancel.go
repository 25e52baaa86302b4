package exchange

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/nftsettle/pkg/app/types"
)

// CancelOrder permanently disables order under the trader's current nonce.
func (e *Exchange) CancelOrder(caller common.Address, order *types.Order) (common.Hash, error) {
	if caller != order.Trader {
		return common.Hash{}, ErrNotSentByTrader
	}
	hash := e.HashOrder(order)
	if e.cancelledOrFilled.Get(hash) {
		return common.Hash{}, fmt.Errorf("%s: %w", hash.Hex(), ErrAlreadyCancelled)
	}
	e.cancelledOrFilled.Set(hash, true)
	e.st.Emit(e.address, "OrderCancelled", map[string]string{"hash": hash.Hex()})
	return hash, nil
}

// CancelOrders cancels every order; any failure aborts the whole call.
func (e *Exchange) CancelOrders(caller common.Address, orders []types.Order) ([]common.Hash, error) {
	hashes := make([]common.Hash, 0, len(orders))
	for i := range orders {
		h, err := e.CancelOrder(caller, &orders[i])
		if err != nil {
			return nil, fmt.Errorf("order %d: %w", i, err)
		}
		hashes = append(hashes, h)
	}
	return hashes, nil
}

// IncrementNonce invalidates every order caller signed under the current nonce.
func (e *Exchange) IncrementNonce(caller common.Address) *big.Int {
	next := new(big.Int).Add(e.Nonce(caller), big.NewInt(1))
	e.nonces.Set(caller, next)
	e.st.Emit(e.address, "NonceIncremented", map[string]string{
		"trader": caller.Hex(), "newNonce": next.String(),
	})
	return new(big.Int).Set(next)
}
