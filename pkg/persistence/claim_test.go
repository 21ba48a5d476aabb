package persistence

import (
	"errors"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"

	"github.com/Layr-Labs/merkle-distributor-go/pkg/types"
)

func testDistributor() *types.Distributor {
	return &types.Distributor{
		Key:           solana.NewWallet().PublicKey(),
		Mint:          solana.NewWallet().PublicKey(),
		Reserve:       solana.NewWallet().PublicKey(),
		MaxNumNodes:   10,
		MaxTotalClaim: 1000,
	}
}

func acceptingClaim(claimant, destination types.Account, amount uint64) ClaimFunc {
	return func(d *types.Distributor, existing *types.ClaimStatus) (*types.ClaimStatus, *ClaimTransfer, error) {
		d.NumNodesClaimed++
		d.TotalAmountClaimed += amount
		return &types.ClaimStatus{Distributor: d.Key, Index: 4, Claimant: claimant, Amount: amount},
			&ClaimTransfer{Source: d.Reserve, Destination: destination, Amount: amount}, nil
	}
}

func TestEvaluateClaim(t *testing.T) {
	d := testDistributor()
	claimant := solana.NewWallet().PublicKey()
	destination := solana.NewWallet().PublicKey()

	balances := map[types.Account]uint64{d.Reserve: 500, destination: 7}
	balanceOf := func(a types.Account) (uint64, error) { return balances[a], nil }

	t.Run("Accepted", func(t *testing.T) {
		outcome, err := EvaluateClaim(d, nil, 4, acceptingClaim(claimant, destination, 100), balanceOf)
		require.NoError(t, err)
		require.Equal(t, uint64(400), outcome.SourceBalance)
		require.Equal(t, uint64(107), outcome.DestinationBalance)
		require.Equal(t, uint64(1), outcome.Distributor.NumNodesClaimed)
		require.Equal(t, uint64(100), outcome.Distributor.TotalAmountClaimed)

		// the snapshot handed in is never modified
		require.Equal(t, uint64(0), d.NumNodesClaimed)
	})

	t.Run("Existing receipt", func(t *testing.T) {
		existing := &types.ClaimStatus{Distributor: d.Key, Index: 4}
		_, err := EvaluateClaim(d, existing, 4, acceptingClaim(claimant, destination, 100), balanceOf)
		require.ErrorIs(t, err, ErrClaimStatusExists)
	})

	t.Run("Claim function error wins", func(t *testing.T) {
		sentinel := errors.New("rejected")
		fn := func(*types.Distributor, *types.ClaimStatus) (*types.ClaimStatus, *ClaimTransfer, error) {
			return nil, nil, sentinel
		}
		_, err := EvaluateClaim(d, &types.ClaimStatus{}, 4, fn, balanceOf)
		require.ErrorIs(t, err, sentinel)
	})

	t.Run("Insufficient reserve", func(t *testing.T) {
		_, err := EvaluateClaim(d, nil, 4, acceptingClaim(claimant, destination, 501), balanceOf)
		require.ErrorIs(t, err, ErrInsufficientBalance)
	})

	t.Run("Destination overflow", func(t *testing.T) {
		overflowing := func(a types.Account) (uint64, error) {
			if a == destination {
				return ^uint64(0), nil
			}
			return 500, nil
		}
		_, err := EvaluateClaim(d, nil, 4, acceptingClaim(claimant, destination, 1), overflowing)
		require.ErrorIs(t, err, ErrBalanceOverflow)
	})

	t.Run("Index mismatch", func(t *testing.T) {
		_, err := EvaluateClaim(d, nil, 5, acceptingClaim(claimant, destination, 1), balanceOf)
		require.Error(t, err)
		require.Contains(t, err.Error(), "does not match")
	})

	t.Run("Missing distributor", func(t *testing.T) {
		_, err := EvaluateClaim(nil, nil, 4, acceptingClaim(claimant, destination, 1), balanceOf)
		require.ErrorIs(t, err, ErrDistributorNotFound)
	})
}

func TestAddBalance(t *testing.T) {
	sum, err := AddBalance(40, 2)
	require.NoError(t, err)
	require.Equal(t, uint64(42), sum)

	sum, err = AddBalance(^uint64(0)-1, 1)
	require.NoError(t, err)
	require.Equal(t, ^uint64(0), sum)

	_, err = AddBalance(^uint64(0), 1)
	require.ErrorIs(t, err, ErrBalanceOverflow)
}
