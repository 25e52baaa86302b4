package transaction

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/uhyunpark/nftsettle/pkg/app/types"
)

// TxType represents the type of transaction
type TxType string

const (
	// settlement
	TxExecute     TxType = "execute"
	TxBulkExecute TxType = "bulk_execute"

	// order lifecycle
	TxCancelOrder    TxType = "cancel_order"
	TxCancelOrders   TxType = "cancel_orders"
	TxIncrementNonce TxType = "increment_nonce"

	// user funds and approvals
	TxPoolDeposit              TxType = "pool_deposit"
	TxPoolWithdraw             TxType = "pool_withdraw"
	TxDelegateRevoke           TxType = "delegate_revoke"
	TxDelegateGrant            TxType = "delegate_grant"
	TxERC721SetApprovalForAll  TxType = "erc721_set_approval_for_all"
	TxERC1155SetApprovalForAll TxType = "erc1155_set_approval_for_all"
	TxERC20Approve             TxType = "erc20_approve"
	TxNativeTransfer           TxType = "native_transfer"

	// owner operations
	TxOpen                    TxType = "open"
	TxClose                   TxType = "close"
	TxSetOracle               TxType = "set_oracle"
	TxSetBlockRange           TxType = "set_block_range"
	TxPolicyAdd               TxType = "policy_add"
	TxPolicyRemove            TxType = "policy_remove"
	TxDelegateApproveContract TxType = "delegate_approve_contract"
	TxDelegateDenyContract    TxType = "delegate_deny_contract"
	TxTransferOwnership       TxType = "transfer_ownership"
	TxRenounceOwnership       TxType = "renounce_ownership"
)

var payloadless = map[TxType]bool{
	TxIncrementNonce: true,
	TxPoolDeposit:    true,
	TxDelegateRevoke: true,
	TxDelegateGrant:  true,
	TxOpen:           true,
	TxClose:          true,
}

// Admin reports whether t is an owner-only operation.
func (t TxType) Admin() bool {
	switch t {
	case TxOpen, TxClose, TxSetOracle, TxSetBlockRange, TxPolicyAdd, TxPolicyRemove,
		TxDelegateApproveContract, TxDelegateDenyContract, TxTransferOwnership, TxRenounceOwnership:
		return true
	}
	return false
}

// Known reports whether t is a recognised transaction type.
func (t TxType) Known() bool {
	switch t {
	case TxExecute, TxBulkExecute, TxCancelOrder, TxCancelOrders, TxIncrementNonce,
		TxPoolDeposit, TxPoolWithdraw, TxDelegateRevoke, TxDelegateGrant,
		TxERC721SetApprovalForAll, TxERC1155SetApprovalForAll, TxERC20Approve, TxNativeTransfer:
		return true
	}
	return t.Admin()
}

// SignedTransaction is the envelope every state transition travels in.
// Signature is the sender's secp256k1 signature over SigningHash.
//
// Nonce is per account and strictly increasing. Value is the native wei
// attached to the call as a decimal string.
type SignedTransaction struct {
	Type      TxType          `json:"type"`
	From      common.Address  `json:"from"`
	Nonce     uint64          `json:"nonce"`
	Value     string          `json:"value,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Signature hexutil.Bytes   `json:"signature,omitempty"`
}

// ExecutePayload settles one pair.
type ExecutePayload struct {
	Sell types.Input `json:"sell"`
	Buy  types.Input `json:"buy"`
}

// BulkExecutePayload settles independent pairs against one attached value.
type BulkExecutePayload struct {
	Executions []types.Execution `json:"executions"`
}

// CancelOrderPayload cancels one order.
type CancelOrderPayload struct {
	Order types.Order `json:"order"`
}

// CancelOrdersPayload cancels several orders at once.
type CancelOrdersPayload struct {
	Orders []types.Order `json:"orders"`
}

// AmountPayload carries a decimal wei amount.
type AmountPayload struct {
	Amount string `json:"amount"`
}

// ApprovalForAllPayload toggles an operator on an NFT collection.
type ApprovalForAllPayload struct {
	Collection common.Address `json:"collection"`
	Operator   common.Address `json:"operator"`
	Approved   bool           `json:"approved"`
}

// ERC20ApprovePayload sets a spender allowance.
type ERC20ApprovePayload struct {
	Token   common.Address `json:"token"`
	Spender common.Address `json:"spender"`
	Amount  string         `json:"amount"`
}

// AddressPayload is shared by operations that take a single address.
type AddressPayload struct {
	Address common.Address `json:"address"`
}

// BlockRangePayload sets the oracle block range.
type BlockRangePayload struct {
	BlockRange uint64 `json:"blockRange"`
}

// OwnershipPayload targets one ownable contract. NewOwner is ignored on renounce.
type OwnershipPayload struct {
	Contract common.Address `json:"contract"`
	NewOwner common.Address `json:"newOwner,omitempty"`
}

// New builds an unsigned transaction with payload JSON-encoded.
func New(typ TxType, from common.Address, nonce uint64, value *big.Int, payload any) (*SignedTransaction, error) {
	tx := &SignedTransaction{Type: typ, From: from, Nonce: nonce}
	if value != nil && value.Sign() != 0 {
		tx.Value = value.String()
	}
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal payload: %w", err)
		}
		tx.Payload = b
	}
	return tx, nil
}

// ValueWei returns the attached native value (zero when unset).
func (tx *SignedTransaction) ValueWei() (*big.Int, error) {
	if tx.Value == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(tx.Value, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("invalid value: %q", tx.Value)
	}
	return v, nil
}

// DecodePayload unmarshals the payload into dst.
func (tx *SignedTransaction) DecodePayload(dst any) error {
	if len(tx.Payload) == 0 {
		return fmt.Errorf("%s requires a payload", tx.Type)
	}
	if err := json.Unmarshal(tx.Payload, dst); err != nil {
		return fmt.Errorf("invalid %s payload: %w", tx.Type, err)
	}
	return nil
}

// ParseAmount parses a non-negative decimal wei string.
func ParseAmount(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount: %q", s)
	}
	return v, nil
}

// Serialize converts SignedTransaction to JSON bytes
func (tx *SignedTransaction) Serialize() ([]byte, error) {
	return json.Marshal(tx)
}

// Deserialize parses JSON bytes into SignedTransaction
func Deserialize(data []byte) (*SignedTransaction, error) {
	var tx SignedTransaction
	if err := json.Unmarshal(data, &tx); err != nil {
		return nil, fmt.Errorf("failed to unmarshal transaction: %w", err)
	}
	return &tx, nil
}

// Validate performs basic validation on transaction structure
func (tx *SignedTransaction) Validate() error {
	if tx.Type == "" {
		return fmt.Errorf("missing transaction type")
	}
	if !tx.Type.Known() {
		return fmt.Errorf("unknown transaction type: %s", tx.Type)
	}
	if tx.From == (common.Address{}) {
		return fmt.Errorf("missing sender")
	}
	if len(tx.Signature) == 0 {
		return fmt.Errorf("missing signature")
	}
	if _, err := tx.ValueWei(); err != nil {
		return err
	}
	if len(tx.Payload) == 0 && !payloadless[tx.Type] {
		return fmt.Errorf("%s requires a payload", tx.Type)
	}
	return nil
}

// ParseTransaction deserializes and structurally validates a raw transaction.
func ParseTransaction(data []byte) (*SignedTransaction, error) {
	tx, err := Deserialize(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse transaction: %w", err)
	}
	if err := tx.Validate(); err != nil {
		return nil, fmt.Errorf("invalid transaction: %w", err)
	}
	return tx, nil
}

// Example (buyer taking a signed listing):
//   {
//     "type": "execute",
//     "from": "0x742d35Cc6634C0532925a3b844Bc9e7595f0bEb0",
//     "nonce": 7,
//     "value": "1000000000000000000",
//     "payload": {"sell": {...}, "buy": {...}},
//     "signature": "0x..."
//   }
