package memory

import (
	"fmt"
	"sort"
	"sync"

	"github.com/Layr-Labs/merkle-distributor-go/pkg/persistence"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/types"
)

type claimKey struct {
	distributor types.Account
	index       uint64
}

// MemoryPersistence is an in-memory implementation of IDistributorPersistence.
// This implementation is intended for TESTING ONLY.
//
// All data is stored in memory and will be lost when the process exits.
// A single mutex makes every claim one critical section.
// Deep copies data to prevent external mutation.
type MemoryPersistence struct {
	mu sync.RWMutex

	// Distributors: key -> Distributor
	distributors map[types.Account]*types.Distributor

	// Receipts: (distributor, index) -> ClaimStatus
	claims map[claimKey]*types.ClaimStatus

	// Token ledger: token account -> balance
	balances map[types.Account]uint64

	// Closed flag
	closed bool
}

// Ensure MemoryPersistence implements IDistributorPersistence
var _ persistence.IDistributorPersistence = (*MemoryPersistence)(nil)

// NewMemoryPersistence creates a new in-memory persistence layer.
func NewMemoryPersistence() *MemoryPersistence {
	return &MemoryPersistence{
		distributors: make(map[types.Account]*types.Distributor),
		claims:       make(map[claimKey]*types.ClaimStatus),
		balances:     make(map[types.Account]uint64),
	}
}

// CreateDistributor stores a new distributor.
func (m *MemoryPersistence) CreateDistributor(d *types.Distributor) error {
	if d == nil {
		return fmt.Errorf("cannot save nil Distributor")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return persistence.ErrClosed
	}

	if _, exists := m.distributors[d.Key]; exists {
		return fmt.Errorf("%w: %s", persistence.ErrDistributorExists, d.Key)
	}
	m.distributors[d.Key] = d.Clone()

	return nil
}

// LoadDistributor retrieves a distributor by key.
func (m *MemoryPersistence) LoadDistributor(key types.Account) (*types.Distributor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, persistence.ErrClosed
	}

	d, exists := m.distributors[key]
	if !exists {
		return nil, nil // Not found is not an error
	}

	return d.Clone(), nil
}

// ListDistributors returns all distributors sorted by creation time.
func (m *MemoryPersistence) ListDistributors() ([]*types.Distributor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, persistence.ErrClosed
	}

	result := make([]*types.Distributor, 0, len(m.distributors))
	for _, d := range m.distributors {
		result = append(result, d.Clone())
	}
	persistence.SortDistributors(result)

	return result, nil
}

// CreditTokenAccount adds amount to a token account.
func (m *MemoryPersistence) CreditTokenAccount(account types.Account, amount uint64) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, persistence.ErrClosed
	}

	balance, err := persistence.AddBalance(m.balances[account], amount)
	if err != nil {
		return 0, err
	}
	m.balances[account] = balance

	return balance, nil
}

// LoadTokenBalance returns the balance of a token account.
func (m *MemoryPersistence) LoadTokenBalance(account types.Account) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return 0, persistence.ErrClosed
	}

	return m.balances[account], nil
}

// ApplyClaim evaluates and commits a claim while holding the write lock.
func (m *MemoryPersistence) ApplyClaim(distributor types.Account, index uint64, fn persistence.ClaimFunc) (*types.ClaimStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, persistence.ErrClosed
	}

	key := claimKey{distributor: distributor, index: index}
	outcome, err := persistence.EvaluateClaim(
		m.distributors[distributor],
		m.claims[key],
		index,
		fn,
		func(account types.Account) (uint64, error) { return m.balances[account], nil },
	)
	if err != nil {
		return nil, err
	}

	m.claims[key] = outcome.Status.Clone()
	m.distributors[distributor] = outcome.Distributor.Clone()
	m.balances[outcome.Transfer.Source] = outcome.SourceBalance
	m.balances[outcome.Transfer.Destination] = outcome.DestinationBalance

	return outcome.Status, nil
}

// LoadClaimStatus retrieves the receipt for an index.
func (m *MemoryPersistence) LoadClaimStatus(distributor types.Account, index uint64) (*types.ClaimStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, persistence.ErrClosed
	}

	cs, exists := m.claims[claimKey{distributor: distributor, index: index}]
	if !exists {
		return nil, nil
	}

	return cs.Clone(), nil
}

// ListClaimStatuses returns all receipts of a distributor sorted by index.
func (m *MemoryPersistence) ListClaimStatuses(distributor types.Account) ([]*types.ClaimStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, persistence.ErrClosed
	}

	result := make([]*types.ClaimStatus, 0)
	for key, cs := range m.claims {
		if key.distributor == distributor {
			result = append(result, cs.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Index < result[j].Index
	})

	return result, nil
}

// Close marks the persistence layer as closed.
func (m *MemoryPersistence) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	return nil
}

// HealthCheck verifies the persistence layer is operational.
func (m *MemoryPersistence) HealthCheck() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return persistence.ErrClosed
	}

	return nil
}
