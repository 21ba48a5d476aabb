package persistence

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/Layr-Labs/merkle-distributor-go/pkg/types"
)

// MarshalDistributor serializes a Distributor to JSON bytes.
func MarshalDistributor(d *types.Distributor) ([]byte, error) {
	if d == nil {
		return nil, fmt.Errorf("cannot marshal nil Distributor")
	}

	data, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal Distributor to JSON: %w", err)
	}

	return data, nil
}

// UnmarshalDistributor deserializes a Distributor from JSON bytes.
func UnmarshalDistributor(data []byte) (*types.Distributor, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("cannot unmarshal empty data")
	}

	var d types.Distributor
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON to Distributor: %w", err)
	}

	return &d, nil
}

// MarshalClaimStatus serializes a ClaimStatus to JSON bytes.
func MarshalClaimStatus(cs *types.ClaimStatus) ([]byte, error) {
	if cs == nil {
		return nil, fmt.Errorf("cannot marshal nil ClaimStatus")
	}

	return json.Marshal(cs)
}

// UnmarshalClaimStatus deserializes a ClaimStatus from JSON bytes.
func UnmarshalClaimStatus(data []byte) (*types.ClaimStatus, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("cannot unmarshal empty data")
	}

	var cs types.ClaimStatus
	if err := json.Unmarshal(data, &cs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON to ClaimStatus: %w", err)
	}

	return &cs, nil
}

// EncodeUint64 encodes v as 8 big-endian bytes, which keeps byte-ordered keys
// in numeric order.
func EncodeUint64(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}

// DecodeUint64 decodes 8 big-endian bytes.
func DecodeUint64(data []byte) (uint64, error) {
	if len(data) != 8 {
		return 0, fmt.Errorf("invalid uint64 data length: %d", len(data))
	}
	return binary.BigEndian.Uint64(data), nil
}
