package badger

import (
	"testing"

	badgerdb "github.com/dgraph-io/badger/v3"
	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Layr-Labs/merkle-distributor-go/pkg/logger"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/persistence"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/persistence/persistencetest"
)

func newTestLogger(t *testing.T) *zap.Logger {
	t.Helper()
	testLogger, err := logger.NewLogger(&logger.LoggerConfig{Debug: false})
	require.NoError(t, err)
	return testLogger
}

func TestBadgerPersistence(t *testing.T) {
	persistencetest.RunSuite(t, func(t *testing.T) persistence.IDistributorPersistence {
		bp, err := NewBadgerPersistence(t.TempDir(), newTestLogger(t))
		require.NoError(t, err)
		return bp
	})
}

func TestBadgerPersistence_SurvivesRestart(t *testing.T) {
	tmpDir := t.TempDir()
	testLogger := newTestLogger(t)

	bp, err := NewBadgerPersistence(tmpDir, testLogger)
	require.NoError(t, err)

	d := persistencetest.NewDistributor(3, 1000)
	require.NoError(t, bp.CreateDistributor(d))
	_, err = bp.CreditTokenAccount(d.Reserve, 1000)
	require.NoError(t, err)

	account := solana.NewWallet().PublicKey()
	claimed, err := bp.ApplyClaim(d.Key, 4, persistencetest.Accept(4, account, account, 250))
	require.NoError(t, err)
	require.NoError(t, bp.Close())

	reopened, err := NewBadgerPersistence(tmpDir, testLogger)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	loaded, err := reopened.LoadDistributor(d.Key)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, uint64(1), loaded.NumNodesClaimed)
	assert.Equal(t, uint64(250), loaded.TotalAmountClaimed)

	status, err := reopened.LoadClaimStatus(d.Key, 4)
	require.NoError(t, err)
	assert.Equal(t, claimed, status)

	reserve, err := reopened.LoadTokenBalance(d.Reserve)
	require.NoError(t, err)
	assert.Equal(t, uint64(750), reserve)

	// a replayed claim after restart is still rejected
	_, err = reopened.ApplyClaim(d.Key, 4, persistencetest.Accept(4, account, account, 250))
	require.ErrorIs(t, err, persistence.ErrClaimStatusExists)
}

func TestBadgerPersistence_SchemaVersionMismatch(t *testing.T) {
	tmpDir := t.TempDir()
	testLogger := newTestLogger(t)

	bp, err := NewBadgerPersistence(tmpDir, testLogger)
	require.NoError(t, err)
	err = bp.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set([]byte(keySchemaVersion), []byte("v0"))
	})
	require.NoError(t, err)
	require.NoError(t, bp.Close())

	_, err = NewBadgerPersistence(tmpDir, testLogger)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported schema version")
}

func TestClaimKeyOrdering(t *testing.T) {
	d := solana.NewWallet().PublicKey()
	low := claimKey(d, 2)
	high := claimKey(d, 256)

	assert.Less(t, string(low), string(high), "big-endian index keys must sort numerically")
	assert.Equal(t, claimPrefix(d), low[:len(claimPrefix(d))])
}
