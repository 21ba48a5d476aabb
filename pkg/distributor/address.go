package distributor

import (
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/Layr-Labs/merkle-distributor-go/pkg/types"
)

// PDA seeds, identical to the on-chain program.
const (
	DistributorSeed = "MerkleDistributor"
	ClaimStatusSeed = "ClaimStatus"
)

// ClaimMessageDomain prefixes every signed claim message.
const ClaimMessageDomain = "merkle-distributor:claim"

// DeriveDistributorAddress returns the distributor key for base and its bump seed.
func DeriveDistributorAddress(programID, base solana.PublicKey) (solana.PublicKey, uint8, error) {
	key, bump, err := solana.FindProgramAddress([][]byte{
		[]byte(DistributorSeed),
		base.Bytes(),
	}, programID)
	if err != nil {
		return solana.PublicKey{}, 0, fmt.Errorf("failed to derive distributor address: %w", err)
	}
	return key, bump, nil
}

// DeriveClaimStatusAddress returns the address of the receipt for index.
func DeriveClaimStatusAddress(programID, distributor solana.PublicKey, index uint64) (solana.PublicKey, uint8, error) {
	var indexBytes [8]byte
	binary.LittleEndian.PutUint64(indexBytes[:], index)

	key, bump, err := solana.FindProgramAddress([][]byte{
		[]byte(ClaimStatusSeed),
		indexBytes[:],
		distributor.Bytes(),
	}, programID)
	if err != nil {
		return solana.PublicKey{}, 0, fmt.Errorf("failed to derive claim status address: %w", err)
	}
	return key, bump, nil
}

// ClaimMessage is the payload a claimant signs to authorize a claim:
// domain || distributor || index (u64 LE) || account || amount (u64 LE).
func ClaimMessage(distributor types.Account, index uint64, account types.Account, amount uint64) []byte {
	msg := make([]byte, 0, len(ClaimMessageDomain)+32+8+32+8)
	msg = append(msg, ClaimMessageDomain...)
	msg = append(msg, distributor[:]...)
	msg = binary.LittleEndian.AppendUint64(msg, index)
	msg = append(msg, account[:]...)
	msg = binary.LittleEndian.AppendUint64(msg, amount)
	return msg
}

// SignClaim signs the claim of index/amount by the owner of key.
func SignClaim(key solana.PrivateKey, distributor types.Account, index uint64, amount uint64) (solana.Signature, error) {
	sig, err := key.Sign(ClaimMessage(distributor, index, key.PublicKey(), amount))
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to sign claim: %w", err)
	}
	return sig, nil
}

// VerifyClaimSignature reports whether sig authorizes claimant to claim the leaf.
func VerifyClaimSignature(distributor types.Account, index uint64, claimant types.Account, amount uint64, sig solana.Signature) bool {
	return sig.Verify(claimant, ClaimMessage(distributor, index, claimant, amount))
}
