package crypto

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/nftsettle/pkg/app/types"
)

// Client-side bundle builders used by the sign-order tool and by tests.
// The separator is the exchange's current domain separator and nonce is the
// trader's current exchange nonce.

// SignOrder produces a single-signature Input for order.
func SignOrder(trader *Signer, separator common.Hash, order types.Order, nonce *big.Int) (types.Input, error) {
	digest := HashToSign(separator, HashOrder(&order, nonce))
	v, r, s, err := trader.SignDigest(digest)
	if err != nil {
		return types.Input{}, fmt.Errorf("failed to sign order: %w", err)
	}
	return types.Input{
		Order:            order,
		V:                v,
		R:                r,
		S:                s,
		SignatureVersion: types.Single,
	}, nil
}

// SignBulk commits orders to one merkle root and signs it once. Every
// returned Input carries its own proof path in ExtraSignature.
func SignBulk(trader *Signer, separator common.Hash, orders []types.Order, nonce *big.Int) ([]types.Input, error) {
	leaves := make([]common.Hash, len(orders))
	for i := range orders {
		leaves[i] = HashOrder(&orders[i], nonce)
	}
	tree := NewMerkleTree(leaves)
	v, r, s, err := trader.SignDigest(HashToSignRoot(separator, tree.Root()))
	if err != nil {
		return nil, fmt.Errorf("failed to sign merkle root: %w", err)
	}

	inputs := make([]types.Input, len(orders))
	for i := range orders {
		path, err := tree.Proof(leaves[i])
		if err != nil {
			return nil, err
		}
		extra, err := EncodeBulkPath(path)
		if err != nil {
			return nil, err
		}
		inputs[i] = types.Input{
			Order:            orders[i],
			V:                v,
			R:                r,
			S:                s,
			ExtraSignature:   extra,
			SignatureVersion: types.Bulk,
		}
	}
	return inputs, nil
}

// OracleSign signs (orderHash, blockNumber) with the oracle key.
func OracleSign(oracle *Signer, separator, orderHash common.Hash, blockNumber uint64) (OracleSig, error) {
	v, r, s, err := oracle.SignDigest(HashToSignOracle(separator, orderHash, blockNumber))
	if err != nil {
		return OracleSig{}, fmt.Errorf("failed to oracle-sign: %w", err)
	}
	return OracleSig{V: v, R: r, S: s}, nil
}

// CoSign attaches an oracle co-signature for blockNumber to in, rewriting
// ExtraSignature in the layout matching in.SignatureVersion. The order must
// already carry the oracle flag in ExtraParams when the trader signed it.
func CoSign(oracle *Signer, separator common.Hash, in *types.Input, nonce *big.Int, blockNumber uint64) error {
	if !in.Order.OracleEnabled() {
		return fmt.Errorf("order does not request an oracle co-signature")
	}
	sig, err := OracleSign(oracle, separator, HashOrder(&in.Order, nonce), blockNumber)
	if err != nil {
		return err
	}
	switch in.SignatureVersion {
	case types.Single:
		in.ExtraSignature, err = EncodeOracleSig(sig)
	case types.Bulk:
		var path []common.Hash
		if path, err = DecodeBulkPath(in.ExtraSignature); err != nil {
			return err
		}
		in.ExtraSignature, err = EncodeBulkOracle(path, sig)
	default:
		return fmt.Errorf("unknown signature version %d", in.SignatureVersion)
	}
	if err != nil {
		return err
	}
	in.BlockNumber = blockNumber
	return nil
}
