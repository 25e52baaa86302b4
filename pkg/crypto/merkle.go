package crypto

import (
	"bytes"
	"errors"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

// Bulk-signature merkle tree.
//
// Convention (must match between signing and verification):
//   - leaves are order hashes, sorted ascending
//   - a parent is keccak256(min(a,b) || max(a,b))
//   - an odd node at the end of a level is promoted unchanged
//
// Because siblings are hashed in sorted order, a proof is just the list of
// sibling hashes; no left/right flags are needed.

var ErrLeafNotFound = errors.New("leaf not in tree")

// hashPair hashes two nodes in sorted order.
func hashPair(a, b common.Hash) common.Hash {
	if bytes.Compare(a[:], b[:]) > 0 {
		a, b = b, a
	}
	h := sha3.NewLegacyKeccak256()
	h.Write(a[:])
	h.Write(b[:])
	var out common.Hash
	h.Sum(out[:0])
	return out
}

// ComputeRoot folds leaf with every proof element.
func ComputeRoot(leaf common.Hash, proof []common.Hash) common.Hash {
	node := leaf
	for _, sibling := range proof {
		node = hashPair(node, sibling)
	}
	return node
}

// MerkleTree holds every level, leaves first.
type MerkleTree struct {
	levels [][]common.Hash
}

// NewMerkleTree builds a tree over leaves. Duplicate leaves are kept.
func NewMerkleTree(leaves []common.Hash) *MerkleTree {
	level := append([]common.Hash(nil), leaves...)
	sort.Slice(level, func(i, j int) bool { return bytes.Compare(level[i][:], level[j][:]) < 0 })

	t := &MerkleTree{levels: [][]common.Hash{level}}
	for len(level) > 1 {
		next := make([]common.Hash, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 == len(level) {
				next = append(next, level[i])
				continue
			}
			next = append(next, hashPair(level[i], level[i+1]))
		}
		t.levels = append(t.levels, next)
		level = next
	}
	return t
}

// Root returns the tree root (zero for an empty tree).
func (t *MerkleTree) Root() common.Hash {
	top := t.levels[len(t.levels)-1]
	if len(top) == 0 {
		return common.Hash{}
	}
	return top[0]
}

// Proof returns the sibling path from leaf to the root.
func (t *MerkleTree) Proof(leaf common.Hash) ([]common.Hash, error) {
	idx := -1
	for i, l := range t.levels[0] {
		if l == leaf {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, ErrLeafNotFound
	}
	var proof []common.Hash
	for _, level := range t.levels[:len(t.levels)-1] {
		sibling := idx ^ 1
		if sibling < len(level) {
			proof = append(proof, level[sibling])
		}
		idx /= 2
	}
	return proof, nil
}
