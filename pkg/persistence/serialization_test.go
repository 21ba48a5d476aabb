package persistence

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Layr-Labs/merkle-distributor-go/pkg/types"
)

// TestMarshalUnmarshalDistributor_RoundTrip checks that base58 keys and hex roots survive JSON
func TestMarshalUnmarshalDistributor_RoundTrip(t *testing.T) {
	original := &types.Distributor{
		Key:                solana.NewWallet().PublicKey(),
		Base:               solana.NewWallet().PublicKey(),
		Bump:               254,
		Root:               types.Hash{1, 2, 3},
		Mint:               solana.NewWallet().PublicKey(),
		Reserve:            solana.NewWallet().PublicKey(),
		MaxTotalClaim:      1_000_000_000_000,
		MaxNumNodes:        3,
		TotalAmountClaimed: 101,
		NumNodesClaimed:    1,
		CreatedAt:          1700000000,
	}

	data, err := MarshalDistributor(original)
	require.NoError(t, err)
	require.NotEmpty(t, data)
	assert.Contains(t, string(data), original.Key.String())
	assert.Contains(t, string(data), original.Root.String())

	restored, err := UnmarshalDistributor(data)
	require.NoError(t, err)
	assert.Equal(t, original, restored)
}

func TestMarshalDistributor_NilInput(t *testing.T) {
	_, err := MarshalDistributor(nil)
	require.Error(t, err)
}

func TestUnmarshalDistributor_Invalid(t *testing.T) {
	_, err := UnmarshalDistributor(nil)
	require.Error(t, err)

	_, err = UnmarshalDistributor([]byte("not json"))
	require.Error(t, err)
}

func TestMarshalUnmarshalClaimStatus_RoundTrip(t *testing.T) {
	original := &types.ClaimStatus{
		Distributor: solana.NewWallet().PublicKey(),
		Index:       7,
		Address:     solana.NewWallet().PublicKey(),
		Claimant:    solana.NewWallet().PublicKey(),
		Amount:      107,
		ClaimedAt:   1700000001,
	}

	data, err := MarshalClaimStatus(original)
	require.NoError(t, err)

	restored, err := UnmarshalClaimStatus(data)
	require.NoError(t, err)
	assert.Equal(t, original, restored)

	_, err = MarshalClaimStatus(nil)
	require.Error(t, err)
	_, err = UnmarshalClaimStatus([]byte{})
	require.Error(t, err)
}

func TestEncodeDecodeUint64(t *testing.T) {
	for _, v := range []uint64{0, 1, 255, 256, 1 << 40, ^uint64(0)} {
		decoded, err := DecodeUint64(EncodeUint64(v))
		require.NoError(t, err)
		assert.Equal(t, v, decoded)
	}

	// big-endian keeps byte order equal to numeric order
	assert.Less(t, string(EncodeUint64(9)), string(EncodeUint64(10)))
	assert.Less(t, string(EncodeUint64(255)), string(EncodeUint64(256)))

	_, err := DecodeUint64([]byte{1, 2, 3})
	require.Error(t, err)
}
