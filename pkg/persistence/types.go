package persistence

import (
	"errors"

	"github.com/Layr-Labs/merkle-distributor-go/pkg/types"
)

var (
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("persistence: persistence layer is closed")

	// ErrDistributorExists is returned when creating a distributor whose key is taken.
	ErrDistributorExists = errors.New("persistence: distributor already exists")

	// ErrDistributorNotFound is returned when a claim targets an unknown distributor.
	ErrDistributorNotFound = errors.New("persistence: distributor not found")

	// ErrClaimStatusExists is returned when a receipt for the index already exists.
	ErrClaimStatusExists = errors.New("persistence: claim status already exists")

	// ErrInsufficientBalance is returned when a transfer source holds less than the amount.
	ErrInsufficientBalance = errors.New("persistence: insufficient token balance")

	// ErrBalanceOverflow is returned when a credit would wrap a u64 balance.
	ErrBalanceOverflow = errors.New("persistence: token balance overflow")
)

// Names of the supported backends.
const (
	TypeMemory = "memory"
	TypeBadger = "badger"
	TypeBolt   = "bolt"
	TypeRedis  = "redis"
)

// ClaimTransfer is the token movement that commits together with a receipt.
type ClaimTransfer struct {
	Source      types.Account `json:"source"`
	Destination types.Account `json:"destination"`
	Amount      uint64        `json:"amount"`
}

// ClaimFunc decides whether a claim may proceed. It receives a private copy of
// the distributor, which it updates in place, and the existing receipt for the
// index (nil when unclaimed). It returns the receipt to create and the transfer
// to perform.
type ClaimFunc func(d *types.Distributor, existing *types.ClaimStatus) (*types.ClaimStatus, *ClaimTransfer, error)

// ClaimOutcome is everything a backend writes once a claim has been accepted.
type ClaimOutcome struct {
	Distributor *types.Distributor
	Status      *types.ClaimStatus
	Transfer    *ClaimTransfer

	// SourceBalance and DestinationBalance are the post-transfer balances.
	SourceBalance      uint64
	DestinationBalance uint64
}
