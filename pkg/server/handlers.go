package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gagliardetto/solana-go"

	"github.com/Layr-Labs/merkle-distributor-go/pkg/distributor"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/types"
)

// maxBodyBytes bounds request bodies; a claim with a 64 level proof is ~5KB.
const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeBadRequest answers a malformed request. Such failures never carry a
// program error code.
func writeBadRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, types.ErrorResponse{Error: msg})
}

// writeError answers err with the status and code of the distributor error it
// wraps. Anything else is a server fault and is logged.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := distributor.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		s.logger.Sugar().Errorw("Request failed",
			"request_id", RequestID(r.Context()),
			"path", r.URL.Path,
			"error", err,
		)
		writeJSON(w, status, types.ErrorResponse{Error: "internal error"})
		return
	}
	writeJSON(w, status, types.ErrorResponse{Error: err.Error(), Code: distributor.Code(err)})
}

func decodeBody(r *http.Request, v interface{}) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil {
		return fmt.Errorf("failed to parse request: %w", err)
	}
	return nil
}

func pathKey(r *http.Request, name string) (solana.PublicKey, error) {
	raw := r.PathValue(name)
	key, err := solana.PublicKeyFromBase58(raw)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("invalid %s %q: %w", name, raw, err)
	}
	return key, nil
}

// handleCreateDistributor handles POST /distributors
func (s *Server) handleCreateDistributor(w http.ResponseWriter, r *http.Request) {
	var req types.CreateDistributorRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	d, err := s.svc.CreateDistributor(distributor.CreateDistributorParams{
		Base:          req.Base,
		Root:          req.Root,
		Mint:          req.Mint,
		MaxNumNodes:   req.MaxNumNodes,
		MaxTotalClaim: req.MaxTotalClaim,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, d)
}

func (s *Server) handleListDistributors(w http.ResponseWriter, r *http.Request) {
	ds, err := s.svc.ListDistributors()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ds)
}

func (s *Server) handleGetDistributor(w http.ResponseWriter, r *http.Request) {
	key, err := pathKey(r, "key")
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	d, err := s.svc.GetDistributor(key)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// handleFundReserve handles POST /distributors/{key}/fund
func (s *Server) handleFundReserve(w http.ResponseWriter, r *http.Request) {
	key, err := pathKey(r, "key")
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	var req types.FundRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	d, err := s.svc.GetDistributor(key)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	balance, err := s.svc.FundReserve(key, req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, types.BalanceResponse{Account: d.Reserve, Amount: balance})
}

// handleClaim handles POST /claim
func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	if s.claimLimiter != nil && !s.claimLimiter.Allow() {
		writeJSON(w, http.StatusTooManyRequests, types.ErrorResponse{Error: "claim rate limit exceeded"})
		return
	}

	var req types.ClaimRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	status, err := s.svc.Claim(&req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleListClaims(w http.ResponseWriter, r *http.Request) {
	key, err := pathKey(r, "key")
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	claims, err := s.svc.ListClaims(key)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, claims)
}

func (s *Server) handleGetClaimStatus(w http.ResponseWriter, r *http.Request) {
	key, err := pathKey(r, "key")
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	index, err := strconv.ParseUint(r.PathValue("index"), 10, 64)
	if err != nil {
		writeBadRequest(w, fmt.Sprintf("invalid index %q", r.PathValue("index")))
		return
	}

	status, err := s.svc.GetClaimStatus(key, index)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	address, err := s.svc.ClaimStatusAddress(key, index)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, types.ClaimStatusResponse{
		Distributor: key,
		Index:       index,
		Address:     address,
		Claimed:     status != nil,
		Status:      status,
	})
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	account, err := pathKey(r, "account")
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	balance, err := s.svc.TokenBalance(account)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, types.BalanceResponse{Account: account, Amount: balance})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.HealthCheck(); err != nil {
		s.logger.Sugar().Warnw("Health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, types.HealthResponse{Status: "unhealthy", Persistence: s.persistence})
		return
	}
	writeJSON(w, http.StatusOK, types.HealthResponse{Status: "ok", Persistence: s.persistence})
}
