package repositories

import (
	"context"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"codecollab/internal/core/ports"
	"codecollab/internal/infrastructure/repositories/memory"
	"codecollab/internal/infrastructure/repositories/postgres"
	redisrepo "codecollab/internal/infrastructure/repositories/redis"
	"codecollab/pkg/config"
)

// RepositoryFactory creates repositories with fallback support
type RepositoryFactory struct {
	useRedis    bool
	redisClient *goredis.Client
	pgFiles     *postgres.PostgresFileRepository
	logger      *zap.SugaredLogger
}

// NewRepositoryFactory creates a new repository factory
func NewRepositoryFactory(cfg *config.Config, logger *zap.SugaredLogger) (*RepositoryFactory, error) {
	factory := &RepositoryFactory{
		useRedis: cfg.Redis.Enabled,
		logger:   logger,
	}

	// Try to connect to Redis if enabled
	if cfg.Redis.Enabled {
		client, err := redisrepo.NewRedisClient(
			cfg.Redis.Address,
			cfg.Redis.Password,
			cfg.Redis.DB,
			cfg.Redis.PoolSize,
			logger,
		)
		if err != nil {
			logger.Warnw("failed to connect to Redis, falling back to memory repositories",
				"error", err,
			)
			factory.useRedis = false
		} else {
			factory.redisClient = client
			logger.Info("using Redis presence repository")
		}
	}

	if cfg.Postgres.Enabled {
		pg, err := postgres.NewPostgresFileRepository(context.Background(), cfg.Postgres.URL, logger)
		if err != nil {
			logger.Warnw("failed to connect to Postgres, falling back to memory file repository",
				"error", err,
			)
		} else {
			factory.pgFiles = pg
			logger.Info("using Postgres file repository")
		}
	}

	if !factory.useRedis {
		logger.Info("using memory presence repository")
	}

	return factory, nil
}

// CreatePresenceRepository creates a presence repository (Redis or memory with fallback)
func (f *RepositoryFactory) CreatePresenceRepository() ports.PresenceRepository {
	if f.useRedis && f.redisClient != nil {
		return redisrepo.NewRedisPresenceRepository(f.redisClient)
	}
	return memory.NewMemoryPresenceRepository()
}

// CreateFileRepository creates a file repository (Postgres or memory with fallback)
func (f *RepositoryFactory) CreateFileRepository() ports.FileRepository {
	if f.pgFiles != nil {
		return f.pgFiles
	}
	return memory.NewMemoryFileRepository()
}

// CreateRoomRepository creates a room repository (always memory; rooms are
// cheap to recreate and carry no collaborative state of their own)
func (f *RepositoryFactory) CreateRoomRepository() ports.RoomRepository {
	return memory.NewMemoryRoomRepository()
}

// RedisClient exposes the shared client for the relay fanout.
func (f *RepositoryFactory) RedisClient() *goredis.Client {
	if !f.useRedis {
		return nil
	}
	return f.redisClient
}

// Close closes external connections if used
func (f *RepositoryFactory) Close() error {
	if f.pgFiles != nil {
		f.pgFiles.Close()
	}
	if f.redisClient != nil {
		return redisrepo.CloseRedisClient(f.redisClient)
	}
	return nil
}
