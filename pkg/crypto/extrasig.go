package crypto

import (
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// ABI layouts of Input.ExtraSignature.
var (
	bytes32ArrT, _ = abi.NewType("bytes32[]", "", nil)

	oracleSigArgs  = abi.Arguments{{Type: uint8T}, {Type: bytes32T}, {Type: bytes32T}}
	bulkPathArgs   = abi.Arguments{{Type: bytes32ArrT}}
	bulkOracleArgs = abi.Arguments{{Type: bytes32ArrT}, {Type: uint8T}, {Type: bytes32T}, {Type: bytes32T}}
)

// OracleSig is a split oracle signature.
type OracleSig struct {
	V uint8
	R common.Hash
	S common.Hash
}

func toWords(path []common.Hash) [][32]byte {
	out := make([][32]byte, len(path))
	for i, h := range path {
		out[i] = h
	}
	return out
}

func fromWords(words [][32]byte) []common.Hash {
	out := make([]common.Hash, len(words))
	for i, w := range words {
		out[i] = w
	}
	return out
}

// EncodeOracleSig packs (uint8 v, bytes32 r, bytes32 s).
func EncodeOracleSig(sig OracleSig) ([]byte, error) {
	return oracleSigArgs.Pack(sig.V, [32]byte(sig.R), [32]byte(sig.S))
}

// DecodeOracleSig unpacks (uint8 v, bytes32 r, bytes32 s).
func DecodeOracleSig(data []byte) (OracleSig, error) {
	vals, err := oracleSigArgs.Unpack(data)
	if err != nil {
		return OracleSig{}, fmt.Errorf("failed to decode oracle signature: %w", err)
	}
	return oracleSigFrom(vals)
}

func oracleSigFrom(vals []interface{}) (OracleSig, error) {
	v, ok1 := vals[0].(uint8)
	r, ok2 := vals[1].([32]byte)
	s, ok3 := vals[2].([32]byte)
	if !ok1 || !ok2 || !ok3 {
		return OracleSig{}, fmt.Errorf("unexpected oracle signature layout")
	}
	return OracleSig{V: v, R: r, S: s}, nil
}

// EncodeBulkPath packs (bytes32[] path).
func EncodeBulkPath(path []common.Hash) ([]byte, error) {
	return bulkPathArgs.Pack(toWords(path))
}

// DecodeBulkPath unpacks (bytes32[] path).
func DecodeBulkPath(data []byte) ([]common.Hash, error) {
	vals, err := bulkPathArgs.Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode merkle path: %w", err)
	}
	words, ok := vals[0].([][32]byte)
	if !ok {
		return nil, fmt.Errorf("unexpected merkle path layout")
	}
	return fromWords(words), nil
}

// EncodeBulkOracle packs (bytes32[] path, uint8 v, bytes32 r, bytes32 s).
func EncodeBulkOracle(path []common.Hash, sig OracleSig) ([]byte, error) {
	return bulkOracleArgs.Pack(toWords(path), sig.V, [32]byte(sig.R), [32]byte(sig.S))
}

// DecodeBulkOracle unpacks (bytes32[] path, uint8 v, bytes32 r, bytes32 s).
func DecodeBulkOracle(data []byte) ([]common.Hash, OracleSig, error) {
	vals, err := bulkOracleArgs.Unpack(data)
	if err != nil {
		return nil, OracleSig{}, fmt.Errorf("failed to decode bulk oracle signature: %w", err)
	}
	words, ok := vals[0].([][32]byte)
	if !ok {
		return nil, OracleSig{}, fmt.Errorf("unexpected merkle path layout")
	}
	sig, err := oracleSigFrom(vals[1:])
	if err != nil {
		return nil, OracleSig{}, err
	}
	return fromWords(words), sig, nil
}
