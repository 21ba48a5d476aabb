package types

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gagliardetto/solana-go"
)

// HashLength is the size of every leaf, node and root in the distribution tree.
const HashLength = 32

// Hash is a keccak256 digest. It encodes to JSON as a 0x-prefixed hex string.
type Hash [HashLength]byte

// Account is a 32 byte ed25519 public key identifying a recipient, mint or
// derived program address. It encodes to JSON as base58.
type Account = solana.PublicKey

// HashFromHex parses a 32 byte hex string, with or without the 0x prefix.
func HashFromHex(s string) (Hash, error) {
	var h Hash
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		s = "0x" + s
	}
	b, err := hexutil.Decode(s)
	if err != nil {
		return h, fmt.Errorf("invalid hash %q: %w", s, err)
	}
	if len(b) != HashLength {
		return h, fmt.Errorf("invalid hash length: expected %d bytes, got %d", HashLength, len(b))
	}
	copy(h[:], b)
	return h, nil
}

// String returns the 0x-prefixed hex encoding of the hash.
func (h Hash) String() string {
	return hexutil.Encode(h[:])
}

// Bytes returns a copy of the hash as a slice.
func (h Hash) Bytes() []byte {
	b := make([]byte, HashLength)
	copy(b, h[:])
	return b
}

// IsZero reports whether every byte of the hash is zero.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *Hash) UnmarshalText(data []byte) error {
	parsed, err := HashFromHex(string(data))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// Entry is one entitlement in the issuer's ordered input list. The position of
// the entry in that list becomes its leaf index.
type Entry struct {
	Account Account `json:"account"`
	Amount  uint64  `json:"amount"`
}

// ClaimProof is everything a recipient needs to redeem a single leaf.
type ClaimProof struct {
	Index   uint64  `json:"index"`
	Account Account `json:"account"`
	Amount  uint64  `json:"amount"`
	Proof   []Hash  `json:"proof"`
}

// Distributor is the campaign record. Root, Mint and the caps are fixed at
// creation; the two counters only ever grow, and only through a claim.
type Distributor struct {
	// Key is the program derived address of the distributor, seeded by Base.
	Key  Account `json:"key"`
	Base Account `json:"base"`
	Bump uint8   `json:"bump"`

	// Root is the merkle root committing to every entitlement.
	Root Hash    `json:"root"`
	Mint Account `json:"mint"`

	// Reserve is the distributor's associated token account for Mint.
	Reserve Account `json:"reserve"`

	MaxTotalClaim uint64 `json:"maxTotalClaim"`
	MaxNumNodes   uint64 `json:"maxNumNodes"`

	TotalAmountClaimed uint64 `json:"totalAmountClaimed"`
	NumNodesClaimed    uint64 `json:"numNodesClaimed"`

	CreatedAt int64 `json:"createdAt"`
}

// Clone returns a copy that shares no memory with d.
func (d *Distributor) Clone() *Distributor {
	if d == nil {
		return nil
	}
	c := *d
	return &c
}

// ClaimStatus is the permanent receipt for a redeemed leaf. Its existence is
// what marks the leaf as claimed.
type ClaimStatus struct {
	Distributor Account `json:"distributor"`
	Index       uint64  `json:"index"`

	// Address is the program derived address of this receipt.
	Address  Account `json:"address"`
	Claimant Account `json:"claimant"`
	Amount   uint64  `json:"amount"`

	ClaimedAt int64 `json:"claimedAt"`
}

// Clone returns a copy that shares no memory with cs.
func (cs *ClaimStatus) Clone() *ClaimStatus {
	if cs == nil {
		return nil
	}
	c := *cs
	return &c
}

// ClaimRequest asks to redeem leaf Index of Distributor. Claimant is the
// identity that signed the request; it must be the Account named in the leaf.
type ClaimRequest struct {
	Distributor Account          `json:"distributor"`
	Index       uint64           `json:"index"`
	Account     Account          `json:"account"`
	Amount      uint64           `json:"amount"`
	Proof       []Hash           `json:"proof"`
	Claimant    Account          `json:"claimant"`
	Signature   solana.Signature `json:"signature"`
}
