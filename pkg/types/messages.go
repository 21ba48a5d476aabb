package types

// CreateDistributorRequest is the body of POST /distributors. A zero Base asks
// the server to generate a fresh base key.
type CreateDistributorRequest struct {
	Base          Account `json:"base"`
	Root          Hash    `json:"root"`
	Mint          Account `json:"mint"`
	MaxNumNodes   uint64  `json:"maxNumNodes"`
	MaxTotalClaim uint64  `json:"maxTotalClaim"`
}

// FundRequest is the body of POST /distributors/{key}/fund.
type FundRequest struct {
	Amount uint64 `json:"amount"`
}

// BalanceResponse reports a token account balance.
type BalanceResponse struct {
	Account Account `json:"account"`
	Amount  uint64  `json:"amount"`
}

// ErrorResponse is returned for every failed request. Code is the stable
// protocol error code of a claim failure, 0 for transport or storage faults.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  uint32 `json:"code"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status      string `json:"status"`
	Persistence string `json:"persistence"`
}

// Distribution is the issuer's output file: the committed root, suggested caps
// and one ClaimProof per entitlement. Mint is filled in once the distributor
// has been created.
type Distribution struct {
	Root          Hash         `json:"root"`
	Mint          *Account     `json:"mint,omitempty"`
	MaxNumNodes   uint64       `json:"maxNumNodes"`
	MaxTotalClaim uint64       `json:"maxTotalClaim"`
	Claims        []ClaimProof `json:"claims"`
}

// ClaimStatusResponse is returned by GET /distributors/{key}/claims/{index}.
// Status is nil while the leaf is unclaimed.
type ClaimStatusResponse struct {
	Distributor Account      `json:"distributor"`
	Index       uint64       `json:"index"`
	Address     Account      `json:"address"`
	Claimed     bool         `json:"claimed"`
	Status      *ClaimStatus `json:"status,omitempty"`
}
