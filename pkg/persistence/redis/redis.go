package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/Layr-Labs/merkle-distributor-go/pkg/persistence"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/types"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Key prefixes for namespacing in Redis
const (
	keyPrefixDistributor = "md:distributor:"
	keyPrefixClaim       = "md:claim:"
	keyPrefixBalance     = "md:balance:"
	keySchemaVersion     = "md:metadata:schema_version"
	currentSchemaVersion = "v1"

	// Key sets for listing operations (Redis doesn't support prefix iteration natively)
	keySetDistributors   = "md:distributors:index"
	keySuffixClaimsIndex = ":index"

	// maxWatchRetries bounds how often an optimistic transaction is replayed
	// after a watched key changed underneath it.
	maxWatchRetries = 128
)

// RedisPersistence is a production-ready persistence implementation using Redis.
// Multi-key updates run as WATCH/MULTI/EXEC transactions, so several service
// replicas can share one Redis.
type RedisPersistence struct {
	client    *redis.Client
	logger    *zap.Logger
	keyPrefix string
	claimMu   persistence.KeyedMutex
	mu        sync.RWMutex
	closed    bool
}

var _ persistence.IDistributorPersistence = (*RedisPersistence)(nil)

// RedisConfig holds the configuration for connecting to Redis
type RedisConfig struct {
	// Address is the Redis server address (host:port)
	Address string
	// Password is the optional Redis password
	Password string
	// DB is the Redis database number (0-15)
	DB int
	// KeyPrefix is an optional custom prefix for all keys (for multi-tenant setups).
	// "airdrop:" results in keys like "airdrop:md:distributor:<key>".
	KeyPrefix string
}

// NewRedisPersistence creates a new Redis-backed persistence layer.
func NewRedisPersistence(cfg *RedisConfig, logger *zap.Logger) (*RedisPersistence, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config cannot be nil")
	}

	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address cannot be empty")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Address, err)
	}

	rp := &RedisPersistence{
		client:    client,
		logger:    logger,
		keyPrefix: cfg.KeyPrefix,
	}

	if err := rp.initSchema(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Sugar().Infow("Redis persistence initialized", "address", cfg.Address, "db", cfg.DB, "key_prefix", cfg.KeyPrefix)

	return rp, nil
}

// prefixKey adds the custom key prefix (if configured) to a key
func (r *RedisPersistence) prefixKey(key string) string {
	if r.keyPrefix == "" {
		return key
	}
	return r.keyPrefix + key
}

func (r *RedisPersistence) distributorKey(key types.Account) string {
	return r.prefixKey(keyPrefixDistributor + key.String())
}

func (r *RedisPersistence) claimKey(distributor types.Account, index uint64) string {
	return r.prefixKey(keyPrefixClaim + distributor.String() + ":" + strconv.FormatUint(index, 10))
}

func (r *RedisPersistence) claimsIndexKey(distributor types.Account) string {
	return r.prefixKey(keyPrefixClaim + distributor.String() + keySuffixClaimsIndex)
}

func (r *RedisPersistence) balanceKey(account types.Account) string {
	return r.prefixKey(keyPrefixBalance + account.String())
}

// initSchema initializes or validates the schema version
func (r *RedisPersistence) initSchema(ctx context.Context) error {
	schemaKey := r.prefixKey(keySchemaVersion)

	// SETNX so concurrent replicas starting on an empty Redis agree
	if err := r.client.SetNX(ctx, schemaKey, currentSchemaVersion, 0).Err(); err != nil {
		return fmt.Errorf("failed to write schema version: %w", err)
	}

	existingVersion, err := r.client.Get(ctx, schemaKey).Result()
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	if existingVersion != currentSchemaVersion {
		return fmt.Errorf("unsupported schema version: %s (expected: %s)", existingVersion, currentSchemaVersion)
	}

	return nil
}

// reader is the part of redis.Client and redis.Tx used for reads.
type reader interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func getBytes(ctx context.Context, c reader, key string) ([]byte, error) {
	data, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return data, err
}

func getDistributor(ctx context.Context, c reader, key string) (*types.Distributor, error) {
	data, err := getBytes(ctx, c, key)
	if err != nil || data == nil {
		return nil, err
	}
	return persistence.UnmarshalDistributor(data)
}

func getClaimStatus(ctx context.Context, c reader, key string) (*types.ClaimStatus, error) {
	data, err := getBytes(ctx, c, key)
	if err != nil || data == nil {
		return nil, err
	}
	return persistence.UnmarshalClaimStatus(data)
}

// Balances are stored as decimal strings so they stay readable with redis-cli.
func getBalance(ctx context.Context, c reader, key string) (uint64, error) {
	data, err := getBytes(ctx, c, key)
	if err != nil || data == nil {
		return 0, err
	}
	balance, err := strconv.ParseUint(string(data), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid balance at %s: %w", key, err)
	}
	return balance, nil
}

// watch runs fn in an optimistic transaction over keys and replays it while
// EXEC aborts because a watched key changed.
func (r *RedisPersistence) watch(ctx context.Context, fn func(tx *redis.Tx) error, keys ...string) error {
	var err error
	for attempt := 0; attempt < maxWatchRetries; attempt++ {
		err = r.client.Watch(ctx, fn, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
		r.logger.Sugar().Debugw("Redis transaction aborted, retrying", "attempt", attempt+1)
	}
	return err
}

// CreateDistributor stores a new distributor
func (r *RedisPersistence) CreateDistributor(d *types.Distributor) error {
	if d == nil {
		return fmt.Errorf("cannot save nil Distributor")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return persistence.ErrClosed
	}

	ctx := context.Background()

	data, err := persistence.MarshalDistributor(d)
	if err != nil {
		return fmt.Errorf("failed to marshal Distributor: %w", err)
	}

	key := r.distributorKey(d.Key)
	indexKey := r.prefixKey(keySetDistributors)

	return r.watch(ctx, func(tx *redis.Tx) error {
		exists, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("failed to check Distributor: %w", err)
		}
		if exists > 0 {
			return fmt.Errorf("%w: %s", persistence.ErrDistributorExists, d.Key)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			pipe.SAdd(ctx, indexKey, d.Key.String())
			return nil
		})
		return err
	}, key)
}

// LoadDistributor retrieves a distributor
func (r *RedisPersistence) LoadDistributor(key types.Account) (*types.Distributor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, persistence.ErrClosed
	}

	d, err := getDistributor(context.Background(), r.client, r.distributorKey(key))
	if err != nil {
		return nil, fmt.Errorf("failed to load Distributor: %w", err)
	}
	return d, nil
}

// ListDistributors returns all distributors sorted by creation time
func (r *RedisPersistence) ListDistributors() ([]*types.Distributor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, persistence.ErrClosed
	}

	ctx := context.Background()
	indexKey := r.prefixKey(keySetDistributors)

	members, err := r.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list Distributor keys: %w", err)
	}

	distributors := make([]*types.Distributor, 0, len(members))
	if len(members) == 0 {
		return distributors, nil
	}

	keys := make([]string, len(members))
	for i, member := range members {
		keys[i] = r.prefixKey(keyPrefixDistributor + member)
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch Distributors: %w", err)
	}

	for i, val := range values {
		data, ok := val.(string)
		if !ok {
			r.logger.Sugar().Warnw("Distributor listed in index but missing", "key", keys[i])
			continue
		}

		d, err := persistence.UnmarshalDistributor([]byte(data))
		if err != nil {
			r.logger.Sugar().Warnw("Failed to unmarshal Distributor, skipping",
				"key", keys[i], "error", err)
			continue
		}

		distributors = append(distributors, d)
	}

	persistence.SortDistributors(distributors)

	return distributors, nil
}

// CreditTokenAccount adds amount to a token account balance
func (r *RedisPersistence) CreditTokenAccount(account types.Account, amount uint64) (uint64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return 0, persistence.ErrClosed
	}

	ctx := context.Background()
	key := r.balanceKey(account)

	var balance uint64
	err := r.watch(ctx, func(tx *redis.Tx) error {
		current, err := getBalance(ctx, tx, key)
		if err != nil {
			return fmt.Errorf("failed to read balance: %w", err)
		}
		balance, err = persistence.AddBalance(current, amount)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, strconv.FormatUint(balance, 10), 0)
			return nil
		})
		return err
	}, key)
	if err != nil {
		return 0, err
	}

	return balance, nil
}

// LoadTokenBalance returns a token account balance
func (r *RedisPersistence) LoadTokenBalance(account types.Account) (uint64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return 0, persistence.ErrClosed
	}

	balance, err := getBalance(context.Background(), r.client, r.balanceKey(account))
	if err != nil {
		return 0, fmt.Errorf("failed to load balance: %w", err)
	}
	return balance, nil
}

// ApplyClaim evaluates a claim under WATCH on the distributor, the receipt and
// both token accounts, then commits all writes in one MULTI/EXEC.
func (r *RedisPersistence) ApplyClaim(distributor types.Account, index uint64, fn persistence.ClaimFunc) (*types.ClaimStatus, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, persistence.ErrClosed
	}

	// WATCH still guards against other processes sharing the database
	unlock := r.claimMu.Lock(distributor)
	defer unlock()

	ctx := context.Background()
	distributorKey := r.distributorKey(distributor)
	claimKey := r.claimKey(distributor, index)
	indexKey := r.claimsIndexKey(distributor)

	var status *types.ClaimStatus
	err := r.watch(ctx, func(tx *redis.Tx) error {
		d, err := getDistributor(ctx, tx, distributorKey)
		if err != nil {
			return fmt.Errorf("failed to load Distributor: %w", err)
		}
		existing, err := getClaimStatus(ctx, tx, claimKey)
		if err != nil {
			return fmt.Errorf("failed to load ClaimStatus: %w", err)
		}

		outcome, err := persistence.EvaluateClaim(d, existing, index, fn, func(account types.Account) (uint64, error) {
			key := r.balanceKey(account)
			if err := tx.Watch(ctx, key).Err(); err != nil {
				return 0, err
			}
			return getBalance(ctx, tx, key)
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

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.SetNX(ctx, claimKey, statusData, 0)
			pipe.SAdd(ctx, indexKey, strconv.FormatUint(index, 10))
			pipe.Set(ctx, distributorKey, distributorData, 0)
			pipe.Set(ctx, r.balanceKey(outcome.Transfer.Source), strconv.FormatUint(outcome.SourceBalance, 10), 0)
			pipe.Set(ctx, r.balanceKey(outcome.Transfer.Destination), strconv.FormatUint(outcome.DestinationBalance, 10), 0)
			return nil
		})
		if err != nil {
			return err
		}

		status = outcome.Status
		return nil
	}, distributorKey, claimKey)
	if err != nil {
		return nil, err
	}

	return status, nil
}

// LoadClaimStatus retrieves the receipt for an index
func (r *RedisPersistence) LoadClaimStatus(distributor types.Account, index uint64) (*types.ClaimStatus, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, persistence.ErrClosed
	}

	cs, err := getClaimStatus(context.Background(), r.client, r.claimKey(distributor, index))
	if err != nil {
		return nil, fmt.Errorf("failed to load ClaimStatus: %w", err)
	}
	return cs, nil
}

// ListClaimStatuses returns all receipts of a distributor sorted by index
func (r *RedisPersistence) ListClaimStatuses(distributor types.Account) ([]*types.ClaimStatus, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, persistence.ErrClosed
	}

	ctx := context.Background()

	indices, err := r.client.SMembers(ctx, r.claimsIndexKey(distributor)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list ClaimStatus indices: %w", err)
	}

	statuses := make([]*types.ClaimStatus, 0, len(indices))
	if len(indices) == 0 {
		return statuses, nil
	}

	keys := make([]string, len(indices))
	for i, index := range indices {
		keys[i] = r.prefixKey(keyPrefixClaim + distributor.String() + ":" + index)
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch ClaimStatuses: %w", err)
	}

	for i, val := range values {
		data, ok := val.(string)
		if !ok {
			r.logger.Sugar().Warnw("ClaimStatus listed in index but missing", "key", keys[i])
			continue
		}

		cs, err := persistence.UnmarshalClaimStatus([]byte(data))
		if err != nil {
			r.logger.Sugar().Warnw("Failed to unmarshal ClaimStatus, skipping",
				"key", keys[i], "error", err)
			continue
		}

		statuses = append(statuses, cs)
	}

	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].Index < statuses[j].Index
	})

	return statuses, nil
}

// Close shuts down the persistence layer
func (r *RedisPersistence) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	if err := r.client.Close(); err != nil {
		return fmt.Errorf("failed to close Redis client: %w", err)
	}

	r.logger.Sugar().Info("Redis persistence closed")
	return nil
}

// HealthCheck verifies the persistence layer is operational
func (r *RedisPersistence) HealthCheck() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return persistence.ErrClosed
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}

	_, err := r.client.Get(ctx, r.prefixKey(keySchemaVersion)).Result()
	if errors.Is(err, redis.Nil) {
		return fmt.Errorf("schema version not found - database may not be properly initialized")
	}
	if err != nil {
		return fmt.Errorf("failed to verify schema version: %w", err)
	}

	return nil
}
