package distributor

import (
	"errors"
	"net/http"

	"github.com/Layr-Labs/merkle-distributor-go/pkg/merkle"
)

var (
	ErrInvalidProof         = errors.New("distributor: invalid proof")
	ErrAlreadyClaimed       = errors.New("distributor: drop already claimed")
	ErrExceededClaim        = errors.New("distributor: exceeded maximum claim amount")
	ErrExceededNodes        = errors.New("distributor: exceeded maximum number of claimed nodes")
	ErrUnauthorizedClaimant = errors.New("distributor: account is not authorized to execute this claim")
	ErrInvalidCaps          = errors.New("distributor: max num nodes and max total claim must be non-zero")
	ErrDistributorNotFound  = errors.New("distributor: distributor not found")
	ErrInsufficientReserve  = errors.New("distributor: reserve holds too few tokens for the claim")
	ErrDistributorExists    = errors.New("distributor: distributor already exists")
	ErrInvalidMint          = errors.New("distributor: mint cannot be the zero key")
	ErrReserveOverflow      = errors.New("distributor: funding would overflow the reserve balance")
)

// Program error codes. The first five keep the numbering used by the on-chain
// program so clients can share one table.
const (
	CodeUnknown              uint32 = 0
	CodeInvalidProof         uint32 = 6000
	CodeAlreadyClaimed       uint32 = 6001
	CodeExceededClaim        uint32 = 6002
	CodeExceededNodes        uint32 = 6003
	CodeUnauthorizedClaimant uint32 = 6004
	CodeInvalidCaps          uint32 = 6005
	CodeDistributorNotFound  uint32 = 6006
	CodeInsufficientReserve  uint32 = 6007
	CodeDistributorExists    uint32 = 6008
	CodeInvalidMint          uint32 = 6009
	CodeReserveOverflow      uint32 = 6010
)

type errorKind struct {
	err    error
	code   uint32
	status int
}

var errorKinds = []errorKind{
	{ErrInvalidProof, CodeInvalidProof, http.StatusBadRequest},
	{ErrAlreadyClaimed, CodeAlreadyClaimed, http.StatusConflict},
	{ErrExceededClaim, CodeExceededClaim, http.StatusConflict},
	{ErrExceededNodes, CodeExceededNodes, http.StatusConflict},
	{ErrUnauthorizedClaimant, CodeUnauthorizedClaimant, http.StatusUnauthorized},
	{ErrInvalidCaps, CodeInvalidCaps, http.StatusBadRequest},
	{ErrDistributorNotFound, CodeDistributorNotFound, http.StatusNotFound},
	{ErrInsufficientReserve, CodeInsufficientReserve, http.StatusConflict},
	{ErrDistributorExists, CodeDistributorExists, http.StatusConflict},
	{ErrInvalidMint, CodeInvalidMint, http.StatusBadRequest},
	{ErrReserveOverflow, CodeReserveOverflow, http.StatusConflict},
}

// Code returns the program error code for err, CodeUnknown if err is not one
// of the distributor errors.
func Code(err error) uint32 {
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.code
		}
	}
	return CodeUnknown
}

// HTTPStatus maps err to the status code the HTTP transport answers with.
// Tree input errors are client errors; anything unrecognized is a 500.
func HTTPStatus(err error) int {
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.status
		}
	}
	if errors.Is(err, merkle.ErrEmptyInput) || errors.Is(err, merkle.ErrLeafMismatch) || errors.Is(err, merkle.ErrInvalidProof) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// ErrorForCode is the inverse of Code. It returns nil for unknown codes.
func ErrorForCode(code uint32) error {
	for _, k := range errorKinds {
		if k.code == code {
			return k.err
		}
	}
	return nil
}
