package crypto

import (
	"crypto/ecdsa"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrInvalidV is returned for a recovery id outside {27, 28}.
var ErrInvalidV = errors.New("invalid v parameter")

// Signer manages a secp256k1 key pair (Ethereum-compatible).
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// GenerateKey creates a new random key pair.
func GenerateKey() (*Signer, error) {
	privateKey, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return fromECDSA(privateKey), nil
}

// FromPrivateKeyHex creates a Signer from a hex-encoded private key.
// Accepts "0x1234..." or "1234..." (64 hex chars).
func FromPrivateKeyHex(hexKey string) (*Signer, error) {
	if len(hexKey) >= 2 && hexKey[0] == '0' && (hexKey[1] == 'x' || hexKey[1] == 'X') {
		hexKey = hexKey[2:]
	}
	privateKey, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return fromECDSA(privateKey), nil
}

func fromECDSA(k *ecdsa.PrivateKey) *Signer {
	return &Signer{privateKey: k, address: crypto.PubkeyToAddress(k.PublicKey)}
}

// Address returns the Ethereum address derived from the public key.
func (s *Signer) Address() common.Address {
	return s.address
}

// PrivateKeyHex returns the private key as hex (no 0x prefix).
// WARNING: never log this.
func (s *Signer) PrivateKeyHex() string {
	return fmt.Sprintf("%x", crypto.FromECDSA(s.privateKey))
}

// Sign signs a 32-byte hash and returns [R || S || V] with V in {0, 1}.
func (s *Signer) Sign(hash []byte) ([]byte, error) {
	if len(hash) != 32 {
		return nil, fmt.Errorf("hash must be 32 bytes, got %d", len(hash))
	}
	signature, err := crypto.Sign(hash, s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}
	return signature, nil
}

// SignDigest signs digest and returns the split signature the contracts
// expect, with v in {27, 28}.
func (s *Signer) SignDigest(digest common.Hash) (v uint8, r, sv common.Hash, err error) {
	sig, err := s.Sign(digest.Bytes())
	if err != nil {
		return 0, common.Hash{}, common.Hash{}, err
	}
	return SplitSignature(sig)
}

// RecoverAddress recovers the signer of a 65-byte [R || S || V] signature (V in {0, 1}).
func RecoverAddress(hash []byte, signature []byte) (common.Address, error) {
	if len(signature) != 65 {
		return common.Address{}, fmt.Errorf("invalid signature length: %d", len(signature))
	}
	if len(hash) != 32 {
		return common.Address{}, fmt.Errorf("invalid hash length: %d", len(hash))
	}
	publicKeyBytes, err := crypto.Ecrecover(hash, signature)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover public key: %w", err)
	}
	publicKey, err := crypto.UnmarshalPubkey(publicKeyBytes)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to unmarshal public key: %w", err)
	}
	return crypto.PubkeyToAddress(*publicKey), nil
}

// RecoverRSV recovers the signer of digest from a split signature with v in {27, 28}.
func RecoverRSV(digest common.Hash, v uint8, r, s common.Hash) (common.Address, error) {
	if v != 27 && v != 28 {
		return common.Address{}, fmt.Errorf("v=%d: %w", v, ErrInvalidV)
	}
	return RecoverAddress(digest.Bytes(), JoinSignature(v, r, s))
}

// VerifyRSV reports whether (v, r, s) over digest was produced by signer.
// A zero signer never verifies.
func VerifyRSV(signer common.Address, digest common.Hash, v uint8, r, s common.Hash) bool {
	if signer == (common.Address{}) {
		return false
	}
	recovered, err := RecoverRSV(digest, v, r, s)
	return err == nil && recovered == signer
}

// SplitSignature splits a 65-byte signature into v (27/28), r, s.
func SplitSignature(signature []byte) (v uint8, r, s common.Hash, err error) {
	if len(signature) != 65 {
		return 0, common.Hash{}, common.Hash{}, fmt.Errorf("invalid signature length: %d", len(signature))
	}
	v = signature[64]
	if v < 27 {
		v += 27
	}
	return v, common.BytesToHash(signature[:32]), common.BytesToHash(signature[32:64]), nil
}

// JoinSignature combines v (27/28), r, s into a 65-byte signature with V in {0, 1}.
func JoinSignature(v uint8, r, s common.Hash) []byte {
	signature := make([]byte, 65)
	copy(signature[:32], r.Bytes())
	copy(signature[32:64], s.Bytes())
	signature[64] = v - 27
	return signature
}
