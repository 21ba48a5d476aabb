// Package factory opens the persistence backend named by the server config.
package factory

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/Layr-Labs/merkle-distributor-go/pkg/config"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/persistence"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/persistence/badger"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/persistence/bolt"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/persistence/memory"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/persistence/redis"
)

// NewPersistence opens the backend selected by cfg.PersistenceType.
func NewPersistence(cfg *config.ServerConfig, logger *zap.Logger) (persistence.IDistributorPersistence, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	switch cfg.PersistenceType {
	case config.PersistenceTypeMemory:
		logger.Sugar().Warnw("Using in-memory persistence, state is lost on exit")
		return memory.NewMemoryPersistence(), nil
	case config.PersistenceTypeBadger:
		return badger.NewBadgerPersistence(cfg.DataPath, logger)
	case config.PersistenceTypeBolt:
		return bolt.NewBoltPersistence(cfg.DataPath, logger)
	case config.PersistenceTypeRedis:
		return redis.NewRedisPersistence(&redis.RedisConfig{
			Address:   cfg.Redis.Address,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
		}, logger)
	default:
		return nil, fmt.Errorf("unsupported persistence type: %s", cfg.PersistenceType)
	}
}
