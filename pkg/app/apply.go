package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/nftsettle/pkg/app/access"
	"github.com/uhyunpark/nftsettle/pkg/app/exchange"
	"github.com/uhyunpark/nftsettle/pkg/app/transaction"
	"github.com/uhyunpark/nftsettle/pkg/app/types"
	"github.com/uhyunpark/nftsettle/pkg/ledger"
)

// SubmitTx admits a signed transaction into the mempool and returns its hash.
// The envelope is re-encoded so the queued bytes hash to the same value as
// the receipt key.
func (a *App) SubmitTx(raw []byte) (common.Hash, error) {
	tx, err := transaction.ParseTransaction(raw)
	if err != nil {
		return common.Hash{}, err
	}
	if err := transaction.VerifySender(tx); err != nil {
		return common.Hash{}, err
	}
	a.mu.RLock()
	last := a.txNonces.Get(tx.From)
	a.mu.RUnlock()
	if tx.Nonce <= last {
		return common.Hash{}, fmt.Errorf("nonce %d, last used %d: %w", tx.Nonce, last, ErrStaleNonce)
	}

	canonical, err := tx.Serialize()
	if err != nil {
		return common.Hash{}, err
	}
	hash, err := tx.Hash()
	if err != nil {
		return common.Hash{}, err
	}
	if !a.mempool.PushRaw(canonical) {
		return common.Hash{}, ErrMempoolFull
	}
	a.log.Debugw("tx_admitted", "hash", hash.Hex(), "type", tx.Type, "from", tx.From.Hex(), "nonce", tx.Nonce)
	return hash, nil
}

// PushTx queues raw bytes without checks. Used for transactions that were
// already admitted by a peer; they are verified again when applied.
func (a *App) PushTx(raw []byte) bool { return a.mempool.PushRaw(raw) }

// applyTx applies one queued transaction at position index of the block.
// Envelopes that fail to parse, verify or pass the nonce check are dropped
// and produce no receipt. Everything else is included: the account nonce is
// consumed and the receipt records whether the call succeeded.
func (a *App) applyTx(raw []byte, height uint64, index int) (types.Receipt, bool) {
	tx, err := transaction.ParseTransaction(raw)
	if err != nil {
		a.log.Debugw("tx_dropped", "err", err)
		return types.Receipt{}, false
	}
	if err := transaction.VerifySender(tx); err != nil {
		a.log.Debugw("tx_dropped", "from", tx.From.Hex(), "err", err)
		return types.Receipt{}, false
	}
	hash, err := tx.Hash()
	if err != nil {
		return types.Receipt{}, false
	}
	if last := a.txNonces.Get(tx.From); tx.Nonce <= last {
		a.log.Debugw("tx_dropped", "hash", hash.Hex(), "nonce", tx.Nonce, "last", last, "err", ErrStaleNonce)
		return types.Receipt{}, false
	}
	a.txNonces.Set(tx.From, tx.Nonce)

	rc := types.Receipt{
		TxHash: hash,
		Type:   string(tx.Type),
		From:   tx.From,
		Nonce:  tx.Nonce,
		Height: height,
		Index:  index,
	}
	a.st.SetTxContext(hash)
	before := len(a.st.PendingEvents())

	result, err := a.dispatch(tx)
	if err != nil {
		rc.Status = types.ReceiptFailed
		rc.Error = err.Error()
		rc.Kind = string(exchange.KindOf(err))
		a.log.Debugw("tx_failed", "hash", hash.Hex(), "type", tx.Type, "kind", rc.Kind, "err", err)
	} else {
		rc.Status = types.ReceiptSuccess
		if result != nil {
			if rc.Result, err = json.Marshal(result); err != nil {
				a.log.Warnw("receipt_result_encode_failed", "hash", hash.Hex(), "err", err)
			}
		}
	}
	rc.Events = len(a.st.PendingEvents()) - before
	return rc, true
}

// dispatch runs tx as one atomic call.
func (a *App) dispatch(tx *transaction.SignedTransaction) (result any, err error) {
	value, err := tx.ValueWei()
	if err != nil {
		return nil, err
	}
	to, err := a.recipient(tx, value)
	if err != nil {
		return nil, err
	}
	err = a.Call(tx.From, to, value, func() error {
		var err error
		result, err = a.invoke(tx, value)
		return err
	})
	return result, err
}

// recipient is where the attached value goes before the call runs.
func (a *App) recipient(tx *transaction.SignedTransaction, value *big.Int) (common.Address, error) {
	switch tx.Type {
	case transaction.TxExecute, transaction.TxBulkExecute:
		return a.ex.Address(), nil
	case transaction.TxPoolDeposit:
		return a.pool.Address(), nil
	case transaction.TxNativeTransfer:
		var p transaction.AddressPayload
		if err := tx.DecodePayload(&p); err != nil {
			return common.Address{}, err
		}
		if p.Address == (common.Address{}) {
			return common.Address{}, fmt.Errorf("native transfer: %w", ledger.ErrZeroAddress)
		}
		return p.Address, nil
	}
	if value.Sign() != 0 {
		return common.Address{}, fmt.Errorf("%s: %w", tx.Type, ErrNotPayable)
	}
	return common.Address{}, nil
}

func (a *App) invoke(tx *transaction.SignedTransaction, value *big.Int) (any, error) {
	from := tx.From
	switch tx.Type {
	case transaction.TxExecute:
		var p transaction.ExecutePayload
		if err := tx.DecodePayload(&p); err != nil {
			return nil, err
		}
		return a.ex.Execute(from, value, &p.Sell, &p.Buy)

	case transaction.TxBulkExecute:
		var p transaction.BulkExecutePayload
		if err := tx.DecodePayload(&p); err != nil {
			return nil, err
		}
		return a.ex.BulkExecute(from, value, p.Executions)

	case transaction.TxCancelOrder:
		var p transaction.CancelOrderPayload
		if err := tx.DecodePayload(&p); err != nil {
			return nil, err
		}
		h, err := a.ex.CancelOrder(from, &p.Order)
		if err != nil {
			return nil, err
		}
		return map[string]common.Hash{"orderHash": h}, nil

	case transaction.TxCancelOrders:
		var p transaction.CancelOrdersPayload
		if err := tx.DecodePayload(&p); err != nil {
			return nil, err
		}
		hashes, err := a.ex.CancelOrders(from, p.Orders)
		if err != nil {
			return nil, err
		}
		return map[string][]common.Hash{"orderHashes": hashes}, nil

	case transaction.TxIncrementNonce:
		return map[string]string{"nonce": a.ex.IncrementNonce(from).String()}, nil

	case transaction.TxPoolDeposit:
		a.pool.Deposit(from, value)
		return nil, nil

	case transaction.TxPoolWithdraw:
		var p transaction.AmountPayload
		if err := tx.DecodePayload(&p); err != nil {
			return nil, err
		}
		amount, err := transaction.ParseAmount(p.Amount)
		if err != nil {
			return nil, err
		}
		return nil, a.pool.Withdraw(from, amount)

	case transaction.TxNativeTransfer:
		// value already moved by the call boundary
		var p transaction.AddressPayload
		if err := tx.DecodePayload(&p); err != nil {
			return nil, err
		}
		if p.Address == a.pool.Address() {
			a.pool.Receive(from, value)
		}
		return nil, nil

	case transaction.TxDelegateRevoke:
		a.del.RevokeApproval(from)
		return nil, nil

	case transaction.TxDelegateGrant:
		a.del.GrantApproval(from)
		return nil, nil

	case transaction.TxERC721SetApprovalForAll, transaction.TxERC1155SetApprovalForAll:
		var p transaction.ApprovalForAllPayload
		if err := tx.DecodePayload(&p); err != nil {
			return nil, err
		}
		want := ledger.StandardERC721
		if tx.Type == transaction.TxERC1155SetApprovalForAll {
			want = ledger.StandardERC1155
		}
		tok := a.st.Tokens()
		if got := tok.StandardOf(p.Collection); got != want {
			return nil, fmt.Errorf("%s is %s, not %s: %w", p.Collection.Hex(), got, want, ledger.ErrWrongStandard)
		}
		return nil, tok.SetApprovalForAll(p.Collection, from, p.Operator, p.Approved)

	case transaction.TxERC20Approve:
		var p transaction.ERC20ApprovePayload
		if err := tx.DecodePayload(&p); err != nil {
			return nil, err
		}
		amount, err := transaction.ParseAmount(p.Amount)
		if err != nil {
			return nil, err
		}
		return nil, a.st.Tokens().Approve(p.Token, from, p.Spender, amount)
	}

	return a.invokeAdmin(tx)
}

// invokeAdmin handles owner operations. Each contract enforces its own owner.
func (a *App) invokeAdmin(tx *transaction.SignedTransaction) (any, error) {
	from := tx.From
	address := func() (common.Address, error) {
		var p transaction.AddressPayload
		err := tx.DecodePayload(&p)
		return p.Address, err
	}

	switch tx.Type {
	case transaction.TxOpen:
		return nil, a.ex.Open(from)
	case transaction.TxClose:
		return nil, a.ex.Close(from)

	case transaction.TxSetOracle:
		addr, err := address()
		if err != nil {
			return nil, err
		}
		return nil, a.ex.SetOracle(from, addr)

	case transaction.TxSetBlockRange:
		var p transaction.BlockRangePayload
		if err := tx.DecodePayload(&p); err != nil {
			return nil, err
		}
		return nil, a.ex.SetBlockRange(from, p.BlockRange)

	case transaction.TxPolicyAdd, transaction.TxPolicyRemove:
		addr, err := address()
		if err != nil {
			return nil, err
		}
		if tx.Type == transaction.TxPolicyAdd {
			return nil, a.pm.AddPolicy(from, addr)
		}
		return nil, a.pm.RemovePolicy(from, addr)

	case transaction.TxDelegateApproveContract, transaction.TxDelegateDenyContract:
		addr, err := address()
		if err != nil {
			return nil, err
		}
		if tx.Type == transaction.TxDelegateApproveContract {
			return nil, a.del.ApproveContract(from, addr)
		}
		return nil, a.del.DenyContract(from, addr)

	case transaction.TxTransferOwnership, transaction.TxRenounceOwnership:
		var p transaction.OwnershipPayload
		if err := tx.DecodePayload(&p); err != nil {
			return nil, err
		}
		o, err := a.ownable(p.Contract)
		if err != nil {
			return nil, err
		}
		if tx.Type == transaction.TxRenounceOwnership {
			return nil, o.RenounceOwnership(from)
		}
		return nil, o.TransferOwnership(from, p.NewOwner)
	}

	return nil, fmt.Errorf("unsupported transaction type %q", tx.Type)
}

func (a *App) ownable(addr common.Address) (*access.Ownable, error) {
	switch addr {
	case a.ex.Address():
		return a.ex.Ownable, nil
	case a.del.Address():
		return a.del.Ownable, nil
	case a.pm.Address():
		return a.pm.Ownable, nil
	}
	return nil, fmt.Errorf("%s: %w", addr.Hex(), errNotOwnable)
}

var errNotOwnable = errors.New("contract has no owner")
