// Package distributor implements the claim state machine of a merkle airdrop.
//
// A distributor commits to a list of entitlements through a merkle root and
// holds a token reserve. Each leaf can be redeemed exactly once; the receipt,
// the counters and the token transfer of a claim commit together or not at all.
package distributor

import (
	"errors"
	"fmt"
	"math/bits"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/Layr-Labs/merkle-distributor-go/pkg/merkle"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/persistence"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/types"
)

// Distributor creates distributors and adjudicates claims against them.
type Distributor struct {
	store     persistence.IDistributorPersistence
	programID solana.PublicKey
	logger    *zap.Logger
	now       func() time.Time
}

// CreateDistributorParams describes a new airdrop campaign.
type CreateDistributorParams struct {
	// Base seeds the distributor address. A random key is used when zero.
	Base          solana.PublicKey
	Root          types.Hash
	Mint          solana.PublicKey
	MaxNumNodes   uint64
	MaxTotalClaim uint64
}

// NewDistributor returns a Distributor deriving addresses under programID.
func NewDistributor(store persistence.IDistributorPersistence, programID solana.PublicKey, logger *zap.Logger) *Distributor {
	return &Distributor{
		store:     store,
		programID: programID,
		logger:    logger,
		now:       time.Now,
	}
}

// ProgramID returns the program id addresses are derived under.
func (s *Distributor) ProgramID() solana.PublicKey {
	return s.programID
}

// CreateDistributor validates params and stores a new distributor with zeroed
// counters. The distributor's reserve starts empty; see FundReserve.
func (s *Distributor) CreateDistributor(params CreateDistributorParams) (*types.Distributor, error) {
	if params.MaxNumNodes == 0 || params.MaxTotalClaim == 0 {
		return nil, ErrInvalidCaps
	}
	if params.Mint.IsZero() {
		return nil, ErrInvalidMint
	}

	base := params.Base
	if base.IsZero() {
		base = solana.NewWallet().PublicKey()
	}

	key, bump, err := DeriveDistributorAddress(s.programID, base)
	if err != nil {
		return nil, err
	}
	reserve, _, err := solana.FindAssociatedTokenAddress(key, params.Mint)
	if err != nil {
		return nil, fmt.Errorf("failed to derive reserve address: %w", err)
	}

	d := &types.Distributor{
		Key:           key,
		Base:          base,
		Bump:          bump,
		Root:          params.Root,
		Mint:          params.Mint,
		Reserve:       reserve,
		MaxNumNodes:   params.MaxNumNodes,
		MaxTotalClaim: params.MaxTotalClaim,
		CreatedAt:     s.now().Unix(),
	}

	if err := s.store.CreateDistributor(d); err != nil {
		if errors.Is(err, persistence.ErrDistributorExists) {
			return nil, fmt.Errorf("%w: %s", ErrDistributorExists, key)
		}
		return nil, fmt.Errorf("failed to store distributor: %w", err)
	}

	s.logger.Sugar().Infow("Distributor created",
		"distributor", key.String(),
		"base", base.String(),
		"root", d.Root.String(),
		"mint", d.Mint.String(),
		"maxNumNodes", d.MaxNumNodes,
		"maxTotalClaim", d.MaxTotalClaim,
	)

	return d, nil
}

// FundReserve mints amount into the reserve of a distributor and returns the
// new reserve balance.
func (s *Distributor) FundReserve(key types.Account, amount uint64) (uint64, error) {
	d, err := s.GetDistributor(key)
	if err != nil {
		return 0, err
	}

	balance, err := s.store.CreditTokenAccount(d.Reserve, amount)
	if errors.Is(err, persistence.ErrBalanceOverflow) {
		return 0, fmt.Errorf("%w: reserve %s, amount %d", ErrReserveOverflow, d.Reserve, amount)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to fund reserve %s: %w", d.Reserve, err)
	}

	s.logger.Sugar().Infow("Reserve funded",
		"distributor", key.String(),
		"reserve", d.Reserve.String(),
		"amount", amount,
		"balance", balance,
	)

	return balance, nil
}

// Claim redeems one leaf. The proof is checked against the distributor's root
// first; the caps, the existing receipt and the claimant's authorization are
// then checked, in that order, inside the store's atomic unit so concurrent
// claims always see each other's effects.
func (s *Distributor) Claim(req *types.ClaimRequest) (*types.ClaimStatus, error) {
	if req == nil {
		return nil, fmt.Errorf("claim request cannot be nil")
	}

	d, err := s.GetDistributor(req.Distributor)
	if err != nil {
		return nil, err
	}

	// the root never changes after creation, so this can run outside the transaction
	if !merkle.VerifyProof(d.Root, req.Index, req.Account, req.Amount, req.Proof) {
		s.logRejected(req, ErrInvalidProof)
		return nil, fmt.Errorf("%w: index %d", ErrInvalidProof, req.Index)
	}

	authorized := req.Claimant == req.Account &&
		VerifyClaimSignature(req.Distributor, req.Index, req.Claimant, req.Amount, req.Signature)

	address, _, err := DeriveClaimStatusAddress(s.programID, req.Distributor, req.Index)
	if err != nil {
		return nil, err
	}
	destination, _, err := solana.FindAssociatedTokenAddress(req.Claimant, d.Mint)
	if err != nil {
		return nil, fmt.Errorf("failed to derive claimant token account: %w", err)
	}
	claimedAt := s.now().Unix()

	status, err := s.store.ApplyClaim(req.Distributor, req.Index, func(current *types.Distributor, existing *types.ClaimStatus) (*types.ClaimStatus, *persistence.ClaimTransfer, error) {
		if current.NumNodesClaimed >= current.MaxNumNodes {
			return nil, nil, fmt.Errorf("%w: %d of %d", ErrExceededNodes, current.NumNodesClaimed, current.MaxNumNodes)
		}
		total, carry := bits.Add64(current.TotalAmountClaimed, req.Amount, 0)
		if carry != 0 || total > current.MaxTotalClaim {
			return nil, nil, fmt.Errorf("%w: %d claimed, %d requested, cap %d", ErrExceededClaim, current.TotalAmountClaimed, req.Amount, current.MaxTotalClaim)
		}
		if existing != nil {
			return nil, nil, fmt.Errorf("%w: index %d", ErrAlreadyClaimed, req.Index)
		}
		if !authorized {
			return nil, nil, fmt.Errorf("%w: %s", ErrUnauthorizedClaimant, req.Claimant)
		}

		current.NumNodesClaimed++
		current.TotalAmountClaimed = total

		return &types.ClaimStatus{
				Distributor: current.Key,
				Index:       req.Index,
				Address:     address,
				Claimant:    req.Claimant,
				Amount:      req.Amount,
				ClaimedAt:   claimedAt,
			}, &persistence.ClaimTransfer{
				Source:      current.Reserve,
				Destination: destination,
				Amount:      req.Amount,
			}, nil
	})
	if err != nil {
		err = translateStoreError(err, req)
		s.logRejected(req, err)
		return nil, err
	}

	s.logger.Sugar().Infow("Claim accepted",
		"distributor", req.Distributor.String(),
		"index", req.Index,
		"claimant", req.Claimant.String(),
		"amount", req.Amount,
		"destination", destination.String(),
	)

	return status, nil
}

func translateStoreError(err error, req *types.ClaimRequest) error {
	switch {
	case errors.Is(err, persistence.ErrClaimStatusExists):
		return fmt.Errorf("%w: index %d", ErrAlreadyClaimed, req.Index)
	case errors.Is(err, persistence.ErrInsufficientBalance):
		return fmt.Errorf("%w: %v", ErrInsufficientReserve, err)
	case errors.Is(err, persistence.ErrDistributorNotFound):
		return fmt.Errorf("%w: %s", ErrDistributorNotFound, req.Distributor)
	}
	return err
}

func (s *Distributor) logRejected(req *types.ClaimRequest, err error) {
	fields := []interface{}{
		"distributor", req.Distributor.String(),
		"index", req.Index,
		"claimant", req.Claimant.String(),
		"amount", req.Amount,
		"error", err,
	}
	if Code(err) == CodeUnknown {
		s.logger.Sugar().Errorw("Claim failed", fields...)
		return
	}
	s.logger.Sugar().Infow("Claim rejected", fields...)
}

// GetDistributor returns the distributor stored under key.
func (s *Distributor) GetDistributor(key types.Account) (*types.Distributor, error) {
	d, err := s.store.LoadDistributor(key)
	if err != nil {
		return nil, fmt.Errorf("failed to load distributor: %w", err)
	}
	if d == nil {
		return nil, fmt.Errorf("%w: %s", ErrDistributorNotFound, key)
	}
	return d, nil
}

func (s *Distributor) ListDistributors() ([]*types.Distributor, error) {
	return s.store.ListDistributors()
}

// GetClaimStatus returns the receipt for index, nil if the leaf is unclaimed.
func (s *Distributor) GetClaimStatus(key types.Account, index uint64) (*types.ClaimStatus, error) {
	if _, err := s.GetDistributor(key); err != nil {
		return nil, err
	}
	return s.store.LoadClaimStatus(key, index)
}

func (s *Distributor) IsClaimed(key types.Account, index uint64) (bool, error) {
	status, err := s.GetClaimStatus(key, index)
	if err != nil {
		return false, err
	}
	return status != nil, nil
}

// ListClaims returns every receipt of a distributor ordered by index.
func (s *Distributor) ListClaims(key types.Account) ([]*types.ClaimStatus, error) {
	if _, err := s.GetDistributor(key); err != nil {
		return nil, err
	}
	return s.store.ListClaimStatuses(key)
}

// TokenBalance returns the balance of a token account.
func (s *Distributor) TokenBalance(account types.Account) (uint64, error) {
	return s.store.LoadTokenBalance(account)
}

// ClaimStatusAddress returns the address the receipt for index lives at.
func (s *Distributor) ClaimStatusAddress(key types.Account, index uint64) (solana.PublicKey, error) {
	address, _, err := DeriveClaimStatusAddress(s.programID, key, index)
	return address, err
}

// ClaimantTokenAccount returns where a claimant's tokens for a distributor are paid.
func (s *Distributor) ClaimantTokenAccount(key types.Account, claimant types.Account) (solana.PublicKey, error) {
	d, err := s.GetDistributor(key)
	if err != nil {
		return solana.PublicKey{}, err
	}
	ata, _, err := solana.FindAssociatedTokenAddress(claimant, d.Mint)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to derive claimant token account: %w", err)
	}
	return ata, nil
}

// HealthCheck reports whether the underlying store is usable.
func (s *Distributor) HealthCheck() error {
	return s.store.HealthCheck()
}
