package exchange

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/nftsettle/pkg/app/types"
	"github.com/uhyunpark/nftsettle/pkg/crypto"
)

// validateParameters checks the parts of an order that depend on ledger
// state and time: live trader, not consumed, inside its listing window and
// within the fee ceiling. An expirationTime of 0 never expires.
func (e *Exchange) validateParameters(order *types.Order, hash common.Hash) bool {
	if order.Trader == (common.Address{}) || e.cancelledOrFilled.Get(hash) {
		return false
	}
	now := new(big.Int).SetUint64(e.st.Timestamp())
	if order.ListingTime == nil || order.ListingTime.Cmp(now) > 0 {
		return false
	}
	if exp := order.ExpirationTime; exp != nil && exp.Sign() != 0 && now.Cmp(exp) >= 0 {
		return false
	}
	return order.TotalFeeRate() <= types.MaxFeeRate
}

// validateSignatures authenticates one side. An oracle-flagged order needs
// a live co-signature whoever sends it; the transaction sender needs no
// signature of its own for its own order.
func (e *Exchange) validateSignatures(caller common.Address, in *types.Input, hash common.Hash) bool {
	order := &in.Order
	oracleOn := order.OracleEnabled()

	var (
		path      []common.Hash
		oracleSig crypto.OracleSig
		err       error
	)
	switch in.SignatureVersion {
	case types.Single:
		if oracleOn {
			oracleSig, err = crypto.DecodeOracleSig(in.ExtraSignature)
		}
	case types.Bulk:
		switch {
		case oracleOn:
			path, oracleSig, err = crypto.DecodeBulkOracle(in.ExtraSignature)
		case order.Trader != caller:
			path, err = crypto.DecodeBulkPath(in.ExtraSignature)
		}
	default:
		return false
	}
	if err != nil {
		return false
	}

	if oracleOn && !e.validateOracle(hash, in.BlockNumber, oracleSig) {
		return false
	}
	if order.Trader == caller {
		return true
	}

	sep := e.DomainSeparator()
	digest := crypto.HashToSign(sep, hash)
	if in.SignatureVersion == types.Bulk {
		digest = crypto.HashToSignRoot(sep, crypto.ComputeRoot(hash, path))
	}
	return crypto.VerifyRSV(order.Trader, digest, in.V, in.R, in.S)
}

// validateOracle accepts a co-signature for blockNumber while the current
// block is within [blockNumber, blockNumber+blockRange].
func (e *Exchange) validateOracle(hash common.Hash, blockNumber uint64, sig crypto.OracleSig) bool {
	current := e.st.BlockNumber()
	if current < blockNumber || current-blockNumber > e.blockRange.Get() {
		return false
	}
	digest := crypto.HashToSignOracle(e.DomainSeparator(), hash, blockNumber)
	return crypto.VerifyRSV(e.oracle.Get(), digest, sig.V, sig.R, sig.S)
}
