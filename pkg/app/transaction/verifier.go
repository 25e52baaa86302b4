package transaction

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	ethCrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/uhyunpark/nftsettle/pkg/crypto"
)

// ErrInvalidSignature is returned when the envelope was not signed by From.
var ErrInvalidSignature = errors.New("invalid transaction signature")

// txSigningPrefix keeps envelope signatures disjoint from EIP-712 digests.
const txSigningPrefix = "\x19nftsettle transaction:\n"

// SigningHash is keccak256(prefix || canonical JSON of the envelope without
// its signature). encoding/json compacts the raw payload, so whitespace in
// the submitted bytes does not change the hash.
func (tx *SignedTransaction) SigningHash() (common.Hash, error) {
	unsigned := *tx
	unsigned.Signature = nil
	body, err := json.Marshal(&unsigned)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to encode transaction: %w", err)
	}
	return ethCrypto.Keccak256Hash([]byte(txSigningPrefix), body), nil
}

// Hash identifies a signed transaction (receipt key).
func (tx *SignedTransaction) Hash() (common.Hash, error) {
	b, err := tx.Serialize()
	if err != nil {
		return common.Hash{}, err
	}
	return ethCrypto.Keccak256Hash(b), nil
}

// Sign sets From to the signer's address and attaches the signature.
func (tx *SignedTransaction) Sign(s *crypto.Signer) error {
	tx.From = s.Address()
	h, err := tx.SigningHash()
	if err != nil {
		return err
	}
	sig, err := s.Sign(h.Bytes())
	if err != nil {
		return err
	}
	tx.Signature = sig
	return nil
}

// VerifySender checks that From produced Signature.
func VerifySender(tx *SignedTransaction) error {
	if len(tx.Signature) != 65 {
		return fmt.Errorf("signature must be 65 bytes, got %d: %w", len(tx.Signature), ErrInvalidSignature)
	}
	h, err := tx.SigningHash()
	if err != nil {
		return err
	}
	sig := append([]byte(nil), tx.Signature...)
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	signer, err := crypto.RecoverAddress(h.Bytes(), sig)
	if err != nil {
		return fmt.Errorf("%v: %w", err, ErrInvalidSignature)
	}
	if signer != tx.From {
		return fmt.Errorf("recovered %s, want %s: %w", signer.Hex(), tx.From.Hex(), ErrInvalidSignature)
	}
	return nil
}
