package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Layr-Labs/merkle-distributor-go/pkg/distributor"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/logger"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/merkle"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/persistence/memory"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/server"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/types"
)

func newTestLogger(t *testing.T) *zap.Logger {
	t.Helper()
	testLogger, err := logger.NewLogger(&logger.LoggerConfig{Debug: false})
	require.NoError(t, err)
	return testLogger
}

func newTestClient(t *testing.T, cfg server.Config) *Client {
	t.Helper()
	testLogger := newTestLogger(t)

	svc := distributor.NewDistributor(memory.NewMemoryPersistence(), solana.MustPublicKeyFromBase58("MRKGLMizK9XSTaD1d1jbVkdHZbQVCSnPpYiTw9aKQv8"), testLogger)
	srv := httptest.NewServer(server.NewServer(svc, cfg, testLogger).GetHandler())
	t.Cleanup(srv.Close)

	c, err := NewClient(&ClientConfig{BaseURL: srv.URL + "/", Logger: testLogger})
	require.NoError(t, err)
	return c
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(nil)
	require.Error(t, err)

	_, err = NewClient(&ClientConfig{Logger: newTestLogger(t)})
	require.Error(t, err)

	_, err = NewClient(&ClientConfig{BaseURL: "http://localhost:8080"})
	require.Error(t, err)
}

func TestClient_EndToEnd(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t, server.Config{})

	keys := []solana.PrivateKey{solana.NewWallet().PrivateKey, solana.NewWallet().PrivateKey, solana.NewWallet().PrivateKey}
	amounts := []uint64{100, 101, 102}
	entries := make([]types.Entry, len(keys))
	for i := range keys {
		entries[i] = types.Entry{Account: keys[i].PublicKey(), Amount: amounts[i]}
	}
	tree, err := merkle.NewBalanceTree(entries)
	require.NoError(t, err)

	health, err := c.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ok", health.Status)

	d, err := c.CreateDistributor(ctx, &types.CreateDistributorRequest{
		Root:          tree.Root(),
		Mint:          solana.NewWallet().PublicKey(),
		MaxNumNodes:   3,
		MaxTotalClaim: 303,
	})
	require.NoError(t, err)

	funded, err := c.FundReserve(ctx, d.Key, 303)
	require.NoError(t, err)
	assert.Equal(t, uint64(303), funded.Amount)
	assert.Equal(t, d.Reserve, funded.Account)

	proof, err := tree.GetProof(1, keys[1].PublicKey(), 101)
	require.NoError(t, err)
	sig, err := distributor.SignClaim(keys[1], d.Key, 1, 101)
	require.NoError(t, err)
	req := &types.ClaimRequest{
		Distributor: d.Key,
		Index:       1,
		Account:     keys[1].PublicKey(),
		Amount:      101,
		Proof:       proof,
		Claimant:    keys[1].PublicKey(),
		Signature:   sig,
	}

	status, err := c.Claim(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), status.Index)

	// errors.Is works on the far side of the wire
	_, err = c.Claim(ctx, req)
	require.ErrorIs(t, err, distributor.ErrAlreadyClaimed)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Equal(t, distributor.CodeAlreadyClaimed, apiErr.Code)

	claimStatus, err := c.GetClaimStatus(ctx, d.Key, 1)
	require.NoError(t, err)
	assert.True(t, claimStatus.Claimed)
	assert.Equal(t, status.Address, claimStatus.Address)

	claims, err := c.ListClaims(ctx, d.Key)
	require.NoError(t, err)
	require.Len(t, claims, 1)

	ata, _, err := solana.FindAssociatedTokenAddress(keys[1].PublicKey(), d.Mint)
	require.NoError(t, err)
	balance, err := c.Balance(ctx, ata)
	require.NoError(t, err)
	assert.Equal(t, uint64(101), balance)

	loaded, err := c.GetDistributor(ctx, d.Key)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), loaded.NumNodesClaimed)
	assert.Equal(t, uint64(101), loaded.TotalAmountClaimed)

	listed, err := c.ListDistributors(ctx)
	require.NoError(t, err)
	assert.Len(t, listed, 1)
}

func TestClient_ErrorMapping(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t, server.Config{})

	_, err := c.GetDistributor(ctx, solana.NewWallet().PublicKey())
	require.ErrorIs(t, err, distributor.ErrDistributorNotFound)

	_, err = c.CreateDistributor(ctx, &types.CreateDistributorRequest{Mint: solana.NewWallet().PublicKey()})
	require.ErrorIs(t, err, distributor.ErrInvalidCaps)

	_, err = c.Claim(ctx, &types.ClaimRequest{Distributor: solana.NewWallet().PublicKey()})
	require.ErrorIs(t, err, distributor.ErrDistributorNotFound)
}

func TestClient_RateLimited(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t, server.Config{ClaimsPerSecond: 0.001, ClaimBurst: 1})

	req := &types.ClaimRequest{Distributor: solana.NewWallet().PublicKey()}
	_, err := c.Claim(ctx, req)
	require.ErrorIs(t, err, distributor.ErrDistributorNotFound)

	_, err = c.Claim(ctx, req)
	require.ErrorIs(t, err, ErrRateLimited)
}

func TestAPIError_Unwrap(t *testing.T) {
	err := error(&APIError{StatusCode: http.StatusBadRequest, Code: distributor.CodeInvalidProof, Message: "bad"})
	assert.ErrorIs(t, err, distributor.ErrInvalidProof)
	assert.Contains(t, err.Error(), "6000")

	err = &APIError{StatusCode: http.StatusInternalServerError, Message: "internal error"}
	assert.Nil(t, errors.Unwrap(err))
	assert.NotContains(t, err.Error(), "code")
}

// flakyServer drops the connection for the first failures requests.
func flakyServer(t *testing.T, failures int32) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= failures {
			if conn, _, err := w.(http.Hijacker).Hijack(); err == nil {
				_ = conn.Close()
			}
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok","persistence":"memory"}`))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestClient_Retry(t *testing.T) {
	retry := &RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond, BackoffMultiple: 2}

	t.Run("GET is retried", func(t *testing.T) {
		srv, calls := flakyServer(t, 2)
		c, err := NewClient(&ClientConfig{BaseURL: srv.URL, Retry: retry, Logger: newTestLogger(t)})
		require.NoError(t, err)

		health, err := c.Health(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "ok", health.Status)
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("GET gives up after max attempts", func(t *testing.T) {
		srv, calls := flakyServer(t, 10)
		c, err := NewClient(&ClientConfig{BaseURL: srv.URL, Retry: retry, Logger: newTestLogger(t)})
		require.NoError(t, err)

		_, err = c.Health(context.Background())
		require.Error(t, err)
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("POST is sent once", func(t *testing.T) {
		srv, calls := flakyServer(t, 10)
		c, err := NewClient(&ClientConfig{BaseURL: srv.URL, Retry: retry, Logger: newTestLogger(t)})
		require.NoError(t, err)

		_, err = c.FundReserve(context.Background(), solana.NewWallet().PublicKey(), 1)
		require.Error(t, err)
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("invalid config", func(t *testing.T) {
		_, err := NewClient(&ClientConfig{BaseURL: "http://localhost", Retry: &RetryConfig{}, Logger: newTestLogger(t)})
		require.Error(t, err)
	})
}

func TestRetryConfig_Backoff(t *testing.T) {
	rc := RetryConfig{BackoffMultiple: 2, MaxBackoff: 300 * time.Millisecond}
	assert.Equal(t, 200*time.Millisecond, rc.next(100*time.Millisecond))
	assert.Equal(t, 300*time.Millisecond, rc.next(200*time.Millisecond))
}
