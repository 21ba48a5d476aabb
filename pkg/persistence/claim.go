package persistence

import (
	"bytes"
	"fmt"
	"math/bits"
	"sort"

	"github.com/Layr-Labs/merkle-distributor-go/pkg/types"
)

// EvaluateClaim is the backend-independent half of ApplyClaim. Given the state a
// backend read inside its transaction, it runs fn, enforces create-if-absent on
// the receipt and computes the balances the transfer leaves behind. Nothing is
// written; the caller commits the outcome atomically or discards it.
func EvaluateClaim(
	d *types.Distributor,
	existing *types.ClaimStatus,
	index uint64,
	fn ClaimFunc,
	balanceOf func(types.Account) (uint64, error),
) (*ClaimOutcome, error) {
	if d == nil {
		return nil, ErrDistributorNotFound
	}
	if fn == nil {
		return nil, fmt.Errorf("claim function cannot be nil")
	}

	working := d.Clone()
	status, transfer, err := fn(working, existing.Clone())
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: distributor %s index %d", ErrClaimStatusExists, d.Key, index)
	}
	if status == nil || transfer == nil {
		return nil, fmt.Errorf("claim function returned no receipt or transfer")
	}
	if status.Index != index || status.Distributor != d.Key {
		return nil, fmt.Errorf("claim receipt for distributor %s index %d does not match requested index %d", status.Distributor, status.Index, index)
	}
	if working.Key != d.Key || working.Root != d.Root || working.Mint != d.Mint {
		return nil, fmt.Errorf("claim function modified immutable distributor fields")
	}

	sourceBalance, err := balanceOf(transfer.Source)
	if err != nil {
		return nil, fmt.Errorf("failed to load source balance: %w", err)
	}
	if sourceBalance < transfer.Amount {
		return nil, fmt.Errorf("%w: account %s holds %d, needs %d", ErrInsufficientBalance, transfer.Source, sourceBalance, transfer.Amount)
	}
	sourceBalance -= transfer.Amount

	destinationBalance := sourceBalance
	if transfer.Destination != transfer.Source {
		destinationBalance, err = balanceOf(transfer.Destination)
		if err != nil {
			return nil, fmt.Errorf("failed to load destination balance: %w", err)
		}
	}
	destinationBalance, err = AddBalance(destinationBalance, transfer.Amount)
	if err != nil {
		return nil, err
	}
	if transfer.Destination == transfer.Source {
		sourceBalance = destinationBalance
	}

	return &ClaimOutcome{
		Distributor:        working,
		Status:             status.Clone(),
		Transfer:           transfer,
		SourceBalance:      sourceBalance,
		DestinationBalance: destinationBalance,
	}, nil
}

// AddBalance returns balance+amount, or ErrBalanceOverflow if the sum wraps.
func AddBalance(balance, amount uint64) (uint64, error) {
	sum, carry := bits.Add64(balance, amount, 0)
	if carry != 0 {
		return 0, fmt.Errorf("%w: %d + %d", ErrBalanceOverflow, balance, amount)
	}
	return sum, nil
}

// SortDistributors orders distributors by creation time, then by key.
func SortDistributors(ds []*types.Distributor) {
	sort.Slice(ds, func(i, j int) bool {
		if ds[i].CreatedAt != ds[j].CreatedAt {
			return ds[i].CreatedAt < ds[j].CreatedAt
		}
		return bytes.Compare(ds[i].Key[:], ds[j].Key[:]) < 0
	})
}
