package persistence

import "github.com/Layr-Labs/merkle-distributor-go/pkg/types"

// IDistributorPersistence stores distributors, claim receipts and the token
// account ledger. All implementations must be thread-safe; claims for many
// indices are applied concurrently.
//
// The interface supports:
// - Distributor records (create once, load, list)
// - Token account balances (credit, load)
// - Claims, applied as one atomic unit with the receipt, counters and transfer
// - Lifecycle management (close, health check)
type IDistributorPersistence interface {
	// Distributors

	// CreateDistributor stores a new distributor keyed by d.Key.
	// Returns ErrDistributorExists if a distributor with that key is already stored.
	CreateDistributor(d *types.Distributor) error

	// LoadDistributor retrieves a distributor by key.
	// Returns nil if it doesn't exist, error only on storage failure.
	LoadDistributor(key types.Account) (*types.Distributor, error)

	// ListDistributors returns every distributor sorted by creation time, then key.
	// Returns empty slice if none exist.
	ListDistributors() ([]*types.Distributor, error)

	// Token ledger

	// CreditTokenAccount adds amount to the balance of a token account and returns
	// the new balance. Returns ErrBalanceOverflow if the balance would wrap.
	CreditTokenAccount(account types.Account, amount uint64) (uint64, error)

	// LoadTokenBalance returns the balance of a token account, 0 if it was never credited.
	LoadTokenBalance(account types.Account) (uint64, error)

	// Claims

	// ApplyClaim runs fn against the current distributor and the existing receipt
	// for index (nil when unclaimed) inside a single atomic unit. When fn succeeds
	// the receipt is created if absent, the updated distributor is written back and
	// the transfer is moved between token accounts; either all of it commits or
	// none of it does. fn may be invoked more than once and must not have side effects.
	//
	// Returns ErrDistributorNotFound, ErrClaimStatusExists, ErrInsufficientBalance,
	// ErrBalanceOverflow or any error returned by fn.
	ApplyClaim(distributor types.Account, index uint64, fn ClaimFunc) (*types.ClaimStatus, error)

	// LoadClaimStatus retrieves the receipt for index.
	// Returns nil if the leaf is unclaimed, error only on storage failure.
	LoadClaimStatus(distributor types.Account, index uint64) (*types.ClaimStatus, error)

	// ListClaimStatuses returns every receipt of a distributor sorted by index.
	ListClaimStatuses(distributor types.Account) ([]*types.ClaimStatus, error)

	// Lifecycle Management

	// Close cleanly shuts down the persistence layer.
	// Idempotent - safe to call multiple times.
	// After Close(), all other operations return ErrClosed.
	Close() error

	// HealthCheck verifies the persistence layer is operational.
	HealthCheck() error
}
