package merkle

import "github.com/Layr-Labs/merkle-distributor-go/pkg/types"

// BalanceTree is a binary merkle tree over an ordered list of airdrop
// entitlements. Leaves keep the position of their entry in the input list, so
// the tree is addressed by index rather than by searching for a leaf.
//
// Internal nodes hash their two children in sorted order, which lets a proof
// omit left/right flags. A node without a sibling is carried up to the next
// level unchanged. The tree is immutable once built.
type BalanceTree struct {
	entries []types.Entry

	// levels[0] holds the leaves, levels[len-1] holds only the root
	levels [][]types.Hash
}
