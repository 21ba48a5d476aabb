package bolt

import (
	"path/filepath"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bbolt "go.etcd.io/bbolt"
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

func TestBoltPersistence(t *testing.T) {
	persistencetest.RunSuite(t, func(t *testing.T) persistence.IDistributorPersistence {
		bp, err := NewBoltPersistence(t.TempDir(), newTestLogger(t))
		require.NoError(t, err)
		return bp
	})
}

func TestBoltPersistence_CreatesDataDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "data")

	bp, err := NewBoltPersistence(dir, newTestLogger(t))
	require.NoError(t, err)
	defer func() { _ = bp.Close() }()

	assert.FileExists(t, filepath.Join(dir, DatabaseFile))
}

func TestBoltPersistence_SurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	testLogger := newTestLogger(t)

	bp, err := NewBoltPersistence(dir, testLogger)
	require.NoError(t, err)

	d := persistencetest.NewDistributor(3, 1000)
	require.NoError(t, bp.CreateDistributor(d))
	_, err = bp.CreditTokenAccount(d.Reserve, 500)
	require.NoError(t, err)

	account := solana.NewWallet().PublicKey()
	_, err = bp.ApplyClaim(d.Key, 0, persistencetest.Accept(0, account, account, 200))
	require.NoError(t, err)
	require.NoError(t, bp.Close())

	reopened, err := NewBoltPersistence(dir, testLogger)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	status, err := reopened.LoadClaimStatus(d.Key, 0)
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.Equal(t, account, status.Claimant)

	balance, err := reopened.LoadTokenBalance(account)
	require.NoError(t, err)
	assert.Equal(t, uint64(200), balance)

	_, err = reopened.ApplyClaim(d.Key, 0, persistencetest.Accept(0, account, account, 200))
	require.ErrorIs(t, err, persistence.ErrClaimStatusExists)
}

func TestBoltPersistence_SchemaVersionMismatch(t *testing.T) {
	dir := t.TempDir()
	testLogger := newTestLogger(t)

	bp, err := NewBoltPersistence(dir, testLogger)
	require.NoError(t, err)
	err = bp.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketMetadata).Put(keySchemaVersion, []byte("v0"))
	})
	require.NoError(t, err)
	require.NoError(t, bp.Close())

	_, err = NewBoltPersistence(dir, testLogger)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported schema version")
}
