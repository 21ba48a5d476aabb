// Package persistencetest holds the behavior every IDistributorPersistence
// backend must share. Backend test files call RunSuite with a constructor.
package persistencetest

import (
	"errors"
	"sync"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Layr-Labs/merkle-distributor-go/pkg/persistence"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/types"
)

// Factory returns a fresh, empty backend. The suite closes it.
type Factory func(t *testing.T) persistence.IDistributorPersistence

// NewDistributor returns a distributor with random keys and the given caps.
func NewDistributor(maxNumNodes, maxTotalClaim uint64) *types.Distributor {
	return &types.Distributor{
		Key:           solana.NewWallet().PublicKey(),
		Base:          solana.NewWallet().PublicKey(),
		Bump:          255,
		Root:          types.Hash{0xaa},
		Mint:          solana.NewWallet().PublicKey(),
		Reserve:       solana.NewWallet().PublicKey(),
		MaxNumNodes:   maxNumNodes,
		MaxTotalClaim: maxTotalClaim,
	}
}

// Accept returns a ClaimFunc that accepts any claim of amount for index and
// pays it to destination. It never looks at the existing receipt, so the
// backend's own create-if-absent guard is what rejects a second claim.
func Accept(index uint64, claimant, destination types.Account, amount uint64) persistence.ClaimFunc {
	return func(d *types.Distributor, existing *types.ClaimStatus) (*types.ClaimStatus, *persistence.ClaimTransfer, error) {
		d.NumNodesClaimed++
		d.TotalAmountClaimed += amount
		return &types.ClaimStatus{
				Distributor: d.Key,
				Index:       index,
				Claimant:    claimant,
				Amount:      amount,
				ClaimedAt:   1700000000,
			}, &persistence.ClaimTransfer{
				Source:      d.Reserve,
				Destination: destination,
				Amount:      amount,
			}, nil
	}
}

// RunSuite runs the shared backend behavior tests.
func RunSuite(t *testing.T, newBackend Factory) {
	open := func(t *testing.T) persistence.IDistributorPersistence {
		p := newBackend(t)
		t.Cleanup(func() { _ = p.Close() })
		return p
	}

	t.Run("CreateAndLoadDistributor", func(t *testing.T) {
		p := open(t)
		d := NewDistributor(3, 1_000_000_000_000)

		require.NoError(t, p.CreateDistributor(d))

		loaded, err := p.LoadDistributor(d.Key)
		require.NoError(t, err)
		require.NotNil(t, loaded)
		assert.Equal(t, d, loaded)

		// returned values are copies
		loaded.NumNodesClaimed = 99
		again, err := p.LoadDistributor(d.Key)
		require.NoError(t, err)
		assert.Equal(t, uint64(0), again.NumNodesClaimed)
	})

	t.Run("CreateDistributor_Duplicate", func(t *testing.T) {
		p := open(t)
		d := NewDistributor(3, 300)
		require.NoError(t, p.CreateDistributor(d))

		changed := d.Clone()
		changed.Root = types.Hash{0xbb}
		err := p.CreateDistributor(changed)
		require.ErrorIs(t, err, persistence.ErrDistributorExists)

		loaded, err := p.LoadDistributor(d.Key)
		require.NoError(t, err)
		assert.Equal(t, d.Root, loaded.Root, "the original root must survive")
	})

	t.Run("CreateDistributor_Nil", func(t *testing.T) {
		p := open(t)
		require.Error(t, p.CreateDistributor(nil))
	})

	t.Run("LoadDistributor_NotFound", func(t *testing.T) {
		p := open(t)
		loaded, err := p.LoadDistributor(solana.NewWallet().PublicKey())
		require.NoError(t, err)
		assert.Nil(t, loaded)
	})

	t.Run("ListDistributors", func(t *testing.T) {
		p := open(t)

		listed, err := p.ListDistributors()
		require.NoError(t, err)
		assert.Empty(t, listed)

		first := NewDistributor(1, 1)
		first.CreatedAt = 300
		second := NewDistributor(1, 1)
		second.CreatedAt = 100
		third := NewDistributor(1, 1)
		third.CreatedAt = 200
		for _, d := range []*types.Distributor{first, second, third} {
			require.NoError(t, p.CreateDistributor(d))
		}

		listed, err = p.ListDistributors()
		require.NoError(t, err)
		require.Len(t, listed, 3)
		assert.Equal(t, second.Key, listed[0].Key)
		assert.Equal(t, third.Key, listed[1].Key)
		assert.Equal(t, first.Key, listed[2].Key)
	})

	t.Run("TokenLedger", func(t *testing.T) {
		p := open(t)
		account := solana.NewWallet().PublicKey()

		balance, err := p.LoadTokenBalance(account)
		require.NoError(t, err)
		assert.Equal(t, uint64(0), balance)

		balance, err = p.CreditTokenAccount(account, 1000)
		require.NoError(t, err)
		assert.Equal(t, uint64(1000), balance)

		balance, err = p.CreditTokenAccount(account, 234)
		require.NoError(t, err)
		assert.Equal(t, uint64(1234), balance)

		_, err = p.CreditTokenAccount(account, ^uint64(0))
		require.ErrorIs(t, err, persistence.ErrBalanceOverflow)

		balance, err = p.LoadTokenBalance(account)
		require.NoError(t, err)
		assert.Equal(t, uint64(1234), balance, "failed credit must not change the balance")
	})

	t.Run("ApplyClaim", func(t *testing.T) {
		p := open(t)
		d := NewDistributor(3, 1000)
		require.NoError(t, p.CreateDistributor(d))
		_, err := p.CreditTokenAccount(d.Reserve, 1000)
		require.NoError(t, err)

		claimant := solana.NewWallet().PublicKey()
		destination := solana.NewWallet().PublicKey()

		status, err := p.ApplyClaim(d.Key, 1, Accept(1, claimant, destination, 101))
		require.NoError(t, err)
		require.NotNil(t, status)
		assert.Equal(t, uint64(1), status.Index)
		assert.Equal(t, claimant, status.Claimant)

		loaded, err := p.LoadClaimStatus(d.Key, 1)
		require.NoError(t, err)
		assert.Equal(t, status, loaded)

		updated, err := p.LoadDistributor(d.Key)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), updated.NumNodesClaimed)
		assert.Equal(t, uint64(101), updated.TotalAmountClaimed)

		reserve, err := p.LoadTokenBalance(d.Reserve)
		require.NoError(t, err)
		assert.Equal(t, uint64(899), reserve)

		received, err := p.LoadTokenBalance(destination)
		require.NoError(t, err)
		assert.Equal(t, uint64(101), received)

		missing, err := p.LoadClaimStatus(d.Key, 0)
		require.NoError(t, err)
		assert.Nil(t, missing)
	})

	t.Run("ApplyClaim_AlreadyExists", func(t *testing.T) {
		p := open(t)
		d := NewDistributor(3, 1000)
		require.NoError(t, p.CreateDistributor(d))
		_, err := p.CreditTokenAccount(d.Reserve, 1000)
		require.NoError(t, err)

		claimant := solana.NewWallet().PublicKey()
		destination := solana.NewWallet().PublicKey()

		first, err := p.ApplyClaim(d.Key, 1, Accept(1, claimant, destination, 101))
		require.NoError(t, err)

		_, err = p.ApplyClaim(d.Key, 1, Accept(1, claimant, destination, 101))
		require.ErrorIs(t, err, persistence.ErrClaimStatusExists)

		// nothing moved the second time
		updated, err := p.LoadDistributor(d.Key)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), updated.NumNodesClaimed)
		reserve, err := p.LoadTokenBalance(d.Reserve)
		require.NoError(t, err)
		assert.Equal(t, uint64(899), reserve)

		loaded, err := p.LoadClaimStatus(d.Key, 1)
		require.NoError(t, err)
		assert.Equal(t, first, loaded)
	})

	t.Run("ApplyClaim_SeesExistingReceipt", func(t *testing.T) {
		p := open(t)
		d := NewDistributor(3, 1000)
		require.NoError(t, p.CreateDistributor(d))
		_, err := p.CreditTokenAccount(d.Reserve, 1000)
		require.NoError(t, err)

		claimant := solana.NewWallet().PublicKey()
		_, err = p.ApplyClaim(d.Key, 2, Accept(2, claimant, claimant, 5))
		require.NoError(t, err)

		var seen *types.ClaimStatus
		sentinel := errors.New("already claimed")
		_, err = p.ApplyClaim(d.Key, 2, func(d *types.Distributor, existing *types.ClaimStatus) (*types.ClaimStatus, *persistence.ClaimTransfer, error) {
			seen = existing
			return nil, nil, sentinel
		})
		require.ErrorIs(t, err, sentinel)
		require.NotNil(t, seen)
		assert.Equal(t, claimant, seen.Claimant)
	})

	t.Run("ApplyClaim_InsufficientReserve", func(t *testing.T) {
		p := open(t)
		d := NewDistributor(3, 1000)
		require.NoError(t, p.CreateDistributor(d))
		_, err := p.CreditTokenAccount(d.Reserve, 100)
		require.NoError(t, err)

		destination := solana.NewWallet().PublicKey()
		_, err = p.ApplyClaim(d.Key, 0, Accept(0, destination, destination, 101))
		require.ErrorIs(t, err, persistence.ErrInsufficientBalance)

		// all or nothing: no receipt, no counters, no balance change
		status, err := p.LoadClaimStatus(d.Key, 0)
		require.NoError(t, err)
		assert.Nil(t, status)

		updated, err := p.LoadDistributor(d.Key)
		require.NoError(t, err)
		assert.Equal(t, uint64(0), updated.NumNodesClaimed)
		assert.Equal(t, uint64(0), updated.TotalAmountClaimed)

		reserve, err := p.LoadTokenBalance(d.Reserve)
		require.NoError(t, err)
		assert.Equal(t, uint64(100), reserve)

		received, err := p.LoadTokenBalance(destination)
		require.NoError(t, err)
		assert.Equal(t, uint64(0), received)
	})

	t.Run("ApplyClaim_RejectedHasNoEffect", func(t *testing.T) {
		p := open(t)
		d := NewDistributor(3, 1000)
		require.NoError(t, p.CreateDistributor(d))
		_, err := p.CreditTokenAccount(d.Reserve, 1000)
		require.NoError(t, err)

		sentinel := errors.New("cap reached")
		_, err = p.ApplyClaim(d.Key, 0, func(d *types.Distributor, _ *types.ClaimStatus) (*types.ClaimStatus, *persistence.ClaimTransfer, error) {
			d.NumNodesClaimed = 42
			return nil, nil, sentinel
		})
		require.ErrorIs(t, err, sentinel)

		updated, err := p.LoadDistributor(d.Key)
		require.NoError(t, err)
		assert.Equal(t, uint64(0), updated.NumNodesClaimed)
	})

	t.Run("ApplyClaim_UnknownDistributor", func(t *testing.T) {
		p := open(t)
		account := solana.NewWallet().PublicKey()
		_, err := p.ApplyClaim(solana.NewWallet().PublicKey(), 0, Accept(0, account, account, 1))
		require.ErrorIs(t, err, persistence.ErrDistributorNotFound)
	})

	t.Run("ListClaimStatuses", func(t *testing.T) {
		p := open(t)
		d := NewDistributor(10, 1000)
		require.NoError(t, p.CreateDistributor(d))
		other := NewDistributor(10, 1000)
		require.NoError(t, p.CreateDistributor(other))
		_, err := p.CreditTokenAccount(d.Reserve, 1000)
		require.NoError(t, err)
		_, err = p.CreditTokenAccount(other.Reserve, 1000)
		require.NoError(t, err)

		empty, err := p.ListClaimStatuses(d.Key)
		require.NoError(t, err)
		assert.Empty(t, empty)

		account := solana.NewWallet().PublicKey()
		for _, index := range []uint64{256, 2, 10, 1} {
			_, err := p.ApplyClaim(d.Key, index, Accept(index, account, account, 1))
			require.NoError(t, err)
		}
		_, err = p.ApplyClaim(other.Key, 3, Accept(3, account, account, 1))
		require.NoError(t, err)

		listed, err := p.ListClaimStatuses(d.Key)
		require.NoError(t, err)
		require.Len(t, listed, 4)
		for i, expected := range []uint64{1, 2, 10, 256} {
			assert.Equal(t, expected, listed[i].Index)
		}
	})

	t.Run("ConcurrentClaims_SameIndex", func(t *testing.T) {
		p := open(t)
		d := NewDistributor(100, 1_000_000)
		require.NoError(t, p.CreateDistributor(d))
		_, err := p.CreditTokenAccount(d.Reserve, 1_000_000)
		require.NoError(t, err)

		const attempts = 16
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			successes int
			rejected  int
		)
		for i := 0; i < attempts; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				account := solana.NewWallet().PublicKey()
				_, err := p.ApplyClaim(d.Key, 7, Accept(7, account, account, 101))
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					successes++
				case errors.Is(err, persistence.ErrClaimStatusExists):
					rejected++
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, successes)
		assert.Equal(t, attempts-1, rejected)

		updated, err := p.LoadDistributor(d.Key)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), updated.NumNodesClaimed)
		assert.Equal(t, uint64(101), updated.TotalAmountClaimed)

		reserve, err := p.LoadTokenBalance(d.Reserve)
		require.NoError(t, err)
		assert.Equal(t, uint64(1_000_000-101), reserve)
	})

	t.Run("ConcurrentClaims_DistinctIndices", func(t *testing.T) {
		claimDistinctIndices(t, open(t), 16)
	})

	t.Run("ConcurrentClaims_HighContention", func(t *testing.T) {
		claimDistinctIndices(t, open(t), 1000)
	})

	t.Run("HealthCheck", func(t *testing.T) {
		p := newBackend(t)
		require.NoError(t, p.HealthCheck())
		require.NoError(t, p.Close())
		require.ErrorIs(t, p.HealthCheck(), persistence.ErrClosed)
	})

	t.Run("Close", func(t *testing.T) {
		p := newBackend(t)
		require.NoError(t, p.Close())
		require.NoError(t, p.Close(), "close must be idempotent")

		err := p.CreateDistributor(NewDistributor(1, 1))
		require.ErrorIs(t, err, persistence.ErrClosed)

		_, err = p.LoadDistributor(solana.NewWallet().PublicKey())
		require.ErrorIs(t, err, persistence.ErrClosed)

		_, err = p.CreditTokenAccount(solana.NewWallet().PublicKey(), 1)
		require.ErrorIs(t, err, persistence.ErrClosed)

		account := solana.NewWallet().PublicKey()
		_, err = p.ApplyClaim(account, 0, Accept(0, account, account, 1))
		require.ErrorIs(t, err, persistence.ErrClosed)
	})
}

// claimDistinctIndices races one claim per index against a single distributor
// and expects every one of them to land.
func claimDistinctIndices(t *testing.T, p persistence.IDistributorPersistence, claims int) {
	t.Helper()
	const amount = 10
	reserveFunds := uint64(claims*amount) * 2

	d := NewDistributor(uint64(claims), reserveFunds)
	require.NoError(t, p.CreateDistributor(d))
	_, err := p.CreditTokenAccount(d.Reserve, reserveFunds)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, claims)
	for i := 0; i < claims; i++ {
		wg.Add(1)
		go func(index uint64) {
			defer wg.Done()
			account := solana.NewWallet().PublicKey()
			_, err := p.ApplyClaim(d.Key, index, Accept(index, account, account, amount))
			errs <- err
		}(uint64(i))
	}
	wg.Wait()
	close(errs)

	failed := 0
	var firstErr error
	for err := range errs {
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			failed++
		}
	}
	require.Zero(t, failed, "first failure: %v", firstErr)

	updated, err := p.LoadDistributor(d.Key)
	require.NoError(t, err)
	assert.Equal(t, uint64(claims), updated.NumNodesClaimed)
	assert.Equal(t, uint64(claims*amount), updated.TotalAmountClaimed)

	reserve, err := p.LoadTokenBalance(d.Reserve)
	require.NoError(t, err)
	assert.Equal(t, reserveFunds-uint64(claims*amount), reserve)

	listed, err := p.ListClaimStatuses(d.Key)
	require.NoError(t, err)
	assert.Len(t, listed, claims)
}
