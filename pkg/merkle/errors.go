package merkle

import "errors"

var (
	// ErrEmptyInput is returned when a tree is built from zero entries.
	ErrEmptyInput = errors.New("merkle: cannot build tree from empty entry list")

	// ErrLeafMismatch is returned when a proof is requested for values that do not
	// match the leaf stored at that index.
	ErrLeafMismatch = errors.New("merkle: leaf does not match tree")

	// ErrInvalidProof is returned when a proof does not fold to the expected root.
	ErrInvalidProof = errors.New("merkle: proof does not verify against root")

	// ErrTotalOverflow is returned when the amounts of a distribution sum past u64.
	ErrTotalOverflow = errors.New("merkle: total of all amounts overflows u64")
)
