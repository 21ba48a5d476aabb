package merkle

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/Layr-Labs/merkle-distributor-go/pkg/types"
)

// leafSize is index (8) || account (32) || amount (8).
const leafSize = 8 + 32 + 8

// NewBalanceTree hashes every entry into a leaf at its list position and builds
// the tree bottom-up until a single root remains. Duplicate accounts are fine,
// each occurrence is its own leaf.
func NewBalanceTree(entries []types.Entry) (*BalanceTree, error) {
	if len(entries) == 0 {
		return nil, ErrEmptyInput
	}

	owned := make([]types.Entry, len(entries))
	copy(owned, entries)

	leaves := make([]types.Hash, len(owned))
	for i, e := range owned {
		leaves[i] = HashLeaf(uint64(i), e.Account, e.Amount)
	}

	levels := [][]types.Hash{leaves}
	current := leaves
	for len(current) > 1 {
		next := make([]types.Hash, 0, (len(current)+1)/2)
		for i := 0; i < len(current); i += 2 {
			if i+1 == len(current) {
				// odd node out moves up as is
				next = append(next, current[i])
				continue
			}
			next = append(next, HashPair(current[i], current[i+1]))
		}
		levels = append(levels, next)
		current = next
	}

	return &BalanceTree{
		entries: owned,
		levels:  levels,
	}, nil
}

// Root returns the merkle root.
func (bt *BalanceTree) Root() types.Hash {
	return bt.levels[len(bt.levels)-1][0]
}

// Len returns the number of leaves.
func (bt *BalanceTree) Len() int {
	return len(bt.levels[0])
}

// Leaf returns the leaf hash stored at index.
func (bt *BalanceTree) Leaf(index uint64) (types.Hash, error) {
	if index >= uint64(bt.Len()) {
		return types.Hash{}, fmt.Errorf("%w: index %d out of range (tree has %d leaves)", ErrLeafMismatch, index, bt.Len())
	}
	return bt.levels[0][index], nil
}

// GetProof returns the sibling hashes from the leaf at index up to the root.
// The supplied account and amount must reproduce the stored leaf exactly.
func (bt *BalanceTree) GetProof(index uint64, account types.Account, amount uint64) ([]types.Hash, error) {
	stored, err := bt.Leaf(index)
	if err != nil {
		return nil, err
	}
	if HashLeaf(index, account, amount) != stored {
		return nil, fmt.Errorf("%w: index %d account %s amount %d", ErrLeafMismatch, index, account, amount)
	}

	proof := make([]types.Hash, 0, len(bt.levels)-1)
	position := int(index)
	for level := 0; level < len(bt.levels)-1; level++ {
		nodes := bt.levels[level]
		sibling := position ^ 1
		// a carried-up node has no sibling at this level
		if sibling < len(nodes) {
			proof = append(proof, nodes[sibling])
		}
		position /= 2
	}

	return proof, nil
}

// Claims returns a ClaimProof for every entry, in index order.
func (bt *BalanceTree) Claims() ([]types.ClaimProof, error) {
	claims := make([]types.ClaimProof, 0, len(bt.entries))
	for i, e := range bt.entries {
		proof, err := bt.GetProof(uint64(i), e.Account, e.Amount)
		if err != nil {
			return nil, err
		}
		claims = append(claims, types.ClaimProof{
			Index:   uint64(i),
			Account: e.Account,
			Amount:  e.Amount,
			Proof:   proof,
		})
	}
	return claims, nil
}

// VerifyProof recomputes the leaf for (index, account, amount), folds the proof
// over it with sorted-pair hashing and compares the result with root.
func VerifyProof(root types.Hash, index uint64, account types.Account, amount uint64, proof []types.Hash) bool {
	computed := HashLeaf(index, account, amount)
	for _, sibling := range proof {
		computed = HashPair(computed, sibling)
	}
	return computed == root
}

// HashLeaf computes keccak256(index_le || account || amount_le).
func HashLeaf(index uint64, account types.Account, amount uint64) types.Hash {
	var data [leafSize]byte
	binary.LittleEndian.PutUint64(data[0:8], index)
	copy(data[8:40], account[:])
	binary.LittleEndian.PutUint64(data[40:48], amount)

	return types.Hash(crypto.Keccak256Hash(data[:]))
}

// HashPair computes keccak256 over the two hashes in ascending byte order.
func HashPair(a, b types.Hash) types.Hash {
	if bytes.Compare(a[:], b[:]) <= 0 {
		return types.Hash(crypto.Keccak256Hash(a[:], b[:]))
	}
	return types.Hash(crypto.Keccak256Hash(b[:], a[:]))
}
