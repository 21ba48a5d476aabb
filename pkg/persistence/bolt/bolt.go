// Package bolt stores distributors in a single bbolt file. bbolt serializes
// writers, so every claim is one Update transaction with no retry loop.
package bolt

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Layr-Labs/merkle-distributor-go/pkg/persistence"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/types"
	bbolt "go.etcd.io/bbolt"
	"go.uber.org/zap"
)

const (
	// DatabaseFile is the file created inside the data directory.
	DatabaseFile = "distributor.db"

	currentSchemaVersion = "v1"
)

var (
	bucketDistributors = []byte("distributors")
	bucketClaims       = []byte("claims")
	bucketBalances     = []byte("balances")
	bucketMetadata     = []byte("metadata")

	keySchemaVersion = []byte("schema_version")
)

// BoltPersistence implements IDistributorPersistence on bbolt.
type BoltPersistence struct {
	db     *bbolt.DB
	logger *zap.Logger
	mu     sync.RWMutex
	closed bool
}

var _ persistence.IDistributorPersistence = (*BoltPersistence)(nil)

// NewBoltPersistence opens (or creates) the database file inside dataPath.
func NewBoltPersistence(dataPath string, logger *zap.Logger) (*BoltPersistence, error) {
	absPath, err := filepath.Abs(dataPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path: %w", err)
	}
	if err := os.MkdirAll(absPath, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", absPath, err)
	}

	file := filepath.Join(absPath, DatabaseFile)
	db, err := bbolt.Open(file, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database at %s: %w", file, err)
	}

	bp := &BoltPersistence{db: db, logger: logger}
	if err := bp.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Sugar().Infow("Bolt persistence initialized", "path", file)
	return bp, nil
}

func (b *BoltPersistence) initSchema() error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketDistributors, bucketClaims, bucketBalances, bucketMetadata} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", name, err)
			}
		}

		meta := tx.Bucket(bucketMetadata)
		version := meta.Get(keySchemaVersion)
		if version == nil {
			return meta.Put(keySchemaVersion, []byte(currentSchemaVersion))
		}
		if string(version) != currentSchemaVersion {
			return fmt.Errorf("unsupported schema version: %s (expected: %s)", version, currentSchemaVersion)
		}
		return nil
	})
}

func claimKey(distributor types.Account, index uint64) []byte {
	return append(distributor.Bytes(), persistence.EncodeUint64(index)...)
}

func getDistributor(tx *bbolt.Tx, key types.Account) (*types.Distributor, error) {
	data := tx.Bucket(bucketDistributors).Get(key[:])
	if data == nil {
		return nil, nil
	}
	return persistence.UnmarshalDistributor(data)
}

func getClaimStatus(tx *bbolt.Tx, distributor types.Account, index uint64) (*types.ClaimStatus, error) {
	data := tx.Bucket(bucketClaims).Get(claimKey(distributor, index))
	if data == nil {
		return nil, nil
	}
	return persistence.UnmarshalClaimStatus(data)
}

func getBalance(tx *bbolt.Tx, account types.Account) (uint64, error) {
	data := tx.Bucket(bucketBalances).Get(account[:])
	if data == nil {
		return 0, nil
	}
	return persistence.DecodeUint64(data)
}

func putBalance(tx *bbolt.Tx, account types.Account, balance uint64) error {
	return tx.Bucket(bucketBalances).Put(account.Bytes(), persistence.EncodeUint64(balance))
}

// CreateDistributor stores a new distributor.
func (b *BoltPersistence) CreateDistributor(d *types.Distributor) error {
	if d == nil {
		return fmt.Errorf("cannot save nil Distributor")
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return persistence.ErrClosed
	}

	data, err := persistence.MarshalDistributor(d)
	if err != nil {
		return fmt.Errorf("failed to marshal Distributor: %w", err)
	}

	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketDistributors)
		if bucket.Get(d.Key[:]) != nil {
			return fmt.Errorf("%w: %s", persistence.ErrDistributorExists, d.Key)
		}
		return bucket.Put(d.Key.Bytes(), data)
	})
}

func (b *BoltPersistence) LoadDistributor(key types.Account) (*types.Distributor, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, persistence.ErrClosed
	}

	var d *types.Distributor
	err := b.db.View(func(tx *bbolt.Tx) error {
		var err error
		d, err = getDistributor(tx, key)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load Distributor: %w", err)
	}
	return d, nil
}

func (b *BoltPersistence) ListDistributors() ([]*types.Distributor, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, persistence.ErrClosed
	}

	distributors := make([]*types.Distributor, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketDistributors).ForEach(func(k, v []byte) error {
			d, err := persistence.UnmarshalDistributor(v)
			if err != nil {
				b.logger.Sugar().Warnw("Failed to unmarshal Distributor, skipping", "key", k, "error", err)
				return nil
			}
			distributors = append(distributors, d)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list Distributors: %w", err)
	}

	persistence.SortDistributors(distributors)
	return distributors, nil
}

func (b *BoltPersistence) CreditTokenAccount(account types.Account, amount uint64) (uint64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return 0, persistence.ErrClosed
	}

	var balance uint64
	err := b.db.Update(func(tx *bbolt.Tx) error {
		current, err := getBalance(tx, account)
		if err != nil {
			return fmt.Errorf("failed to read balance: %w", err)
		}
		balance, err = persistence.AddBalance(current, amount)
		if err != nil {
			return err
		}
		return putBalance(tx, account, balance)
	})
	if err != nil {
		return 0, err
	}
	return balance, nil
}

func (b *BoltPersistence) LoadTokenBalance(account types.Account) (uint64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return 0, persistence.ErrClosed
	}

	var balance uint64
	err := b.db.View(func(tx *bbolt.Tx) error {
		var err error
		balance, err = getBalance(tx, account)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to load balance: %w", err)
	}
	return balance, nil
}

// ApplyClaim evaluates and commits a claim inside one bbolt write transaction.
func (b *BoltPersistence) ApplyClaim(distributor types.Account, index uint64, fn persistence.ClaimFunc) (*types.ClaimStatus, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, persistence.ErrClosed
	}

	var status *types.ClaimStatus
	err := b.db.Update(func(tx *bbolt.Tx) error {
		d, err := getDistributor(tx, distributor)
		if err != nil {
			return fmt.Errorf("failed to load Distributor: %w", err)
		}
		existing, err := getClaimStatus(tx, distributor, index)
		if err != nil {
			return fmt.Errorf("failed to load ClaimStatus: %w", err)
		}

		outcome, err := persistence.EvaluateClaim(d, existing, index, fn, func(account types.Account) (uint64, error) {
			return getBalance(tx, account)
		})
		if err != nil {
			return err
		}

		statusData, err := persistence.MarshalClaimStatus(outcome.Status)
		if err != nil {
			return fmt.Errorf("failed to marshal ClaimStatus: %w", err)
		}
		distributorData, err := persistence.MarshalDistributor(outcome.Distributor)
		if err != nil {
			return fmt.Errorf("failed to marshal Distributor: %w", err)
		}

		if err := tx.Bucket(bucketClaims).Put(claimKey(distributor, index), statusData); err != nil {
			return err
		}
		if err := tx.Bucket(bucketDistributors).Put(distributor.Bytes(), distributorData); err != nil {
			return err
		}
		if err := putBalance(tx, outcome.Transfer.Source, outcome.SourceBalance); err != nil {
			return err
		}
		if err := putBalance(tx, outcome.Transfer.Destination, outcome.DestinationBalance); err != nil {
			return err
		}

		status = outcome.Status
		return nil
	})
	if err != nil {
		return nil, err
	}
	return status, nil
}

func (b *BoltPersistence) LoadClaimStatus(distributor types.Account, index uint64) (*types.ClaimStatus, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, persistence.ErrClosed
	}

	var cs *types.ClaimStatus
	err := b.db.View(func(tx *bbolt.Tx) error {
		var err error
		cs, err = getClaimStatus(tx, distributor, index)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load ClaimStatus: %w", err)
	}
	return cs, nil
}

// ListClaimStatuses walks the distributor's key range; big-endian indices keep
// the cursor in index order.
func (b *BoltPersistence) ListClaimStatuses(distributor types.Account) ([]*types.ClaimStatus, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, persistence.ErrClosed
	}

	statuses := make([]*types.ClaimStatus, 0)
	prefix := distributor.Bytes()
	err := b.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketClaims).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			cs, err := persistence.UnmarshalClaimStatus(v)
			if err != nil {
				b.logger.Sugar().Warnw("Failed to unmarshal ClaimStatus, skipping", "key", k, "error", err)
				continue
			}
			statuses = append(statuses, cs)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list ClaimStatuses: %w", err)
	}
	return statuses, nil
}

func (b *BoltPersistence) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	if err := b.db.Close(); err != nil {
		return fmt.Errorf("failed to close bolt database: %w", err)
	}

	b.logger.Sugar().Info("Bolt persistence closed")
	return nil
}

func (b *BoltPersistence) HealthCheck() error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return persistence.ErrClosed
	}

	return b.db.View(func(tx *bbolt.Tx) error {
		meta := tx.Bucket(bucketMetadata)
		if meta == nil || meta.Get(keySchemaVersion) == nil {
			return fmt.Errorf("schema version not found - database may be corrupted")
		}
		return nil
	})
}
