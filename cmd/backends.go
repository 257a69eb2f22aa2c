package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/LeeDigitalWorks/zaptus/pkg/metadata"
	"github.com/LeeDigitalWorks/zaptus/pkg/storage/backend"
	"github.com/LeeDigitalWorks/zaptus/pkg/tus"
	"github.com/LeeDigitalWorks/zaptus/pkg/types"

	// Store implementations register themselves
	_ "github.com/LeeDigitalWorks/zaptus/pkg/metadata/leveldb"
	_ "github.com/LeeDigitalWorks/zaptus/pkg/metadata/memory"
	_ "github.com/LeeDigitalWorks/zaptus/pkg/metadata/redis"
	_ "github.com/LeeDigitalWorks/zaptus/pkg/metadata/sql"

	"github.com/spf13/pflag"
)

// readinessCheckID is looked up by the readiness check. Any answer other
// than a store error counts as healthy.
const readinessCheckID = "readiness-check"

// addBackendFlags registers the flags shared by every command that opens the
// metadata store and chunk storage.
func addBackendFlags(f *pflag.FlagSet) {
	f.String("metadata_type", string(metadata.TypeLevelDB), "Metadata store (memory, leveldb, redis, postgres, mysql)")
	f.String("metadata_path", "/tmp/zaptus/meta", "LevelDB directory")
	f.String("metadata_redis_addr", "localhost:6379", "Redis address for the metadata store")
	f.String("metadata_redis_password", "", "Redis password for the metadata store")
	f.Int("metadata_redis_db", 0, "Redis database number for the metadata store")
	f.String("metadata_key_prefix", "zaptus:", "Key prefix for the Redis metadata store")
	f.String("metadata_dsn", "", "Connection string for postgres or mysql")
	f.Int("metadata_max_open_conns", 25, "Maximum open database connections")
	f.Int("metadata_max_idle_conns", 5, "Maximum idle database connections")
	f.Duration("metadata_conn_max_lifetime", 30*time.Minute, "Maximum database connection lifetime")

	f.String("storage_type", string(types.StorageTypeLocal), "Chunk storage (local, memory)")
	f.String("storage_path", "/tmp/zaptus/data", "Directory for in-progress upload blobs")
	f.Bool("storage_sync", false, "fdatasync after every append")

	f.String("base_path", tus.DefaultBasePath, "URL path the upload collection is served under")
	f.Duration("expire_after", 24*time.Hour, "Expire unfinished uploads this long after creation (0 disables)")
}

type backends struct {
	store   metadata.Store
	storage types.ChunkStore
}

func openBackends(l *FlagLoader) (*backends, error) {
	store, err := metadata.Open(metadata.Config{
		Type:            metadata.Type(l.String("metadata_type")),
		Path:            l.String("metadata_path"),
		Addr:            l.String("metadata_redis_addr"),
		Password:        l.String("metadata_redis_password"),
		DB:              l.Int("metadata_redis_db"),
		KeyPrefix:       l.String("metadata_key_prefix"),
		DSN:             l.String("metadata_dsn"),
		MaxOpenConns:    l.Int("metadata_max_open_conns"),
		MaxIdleConns:    l.Int("metadata_max_idle_conns"),
		ConnMaxLifetime: l.Duration("metadata_conn_max_lifetime"),
	})
	if err != nil {
		return nil, err
	}

	storage, err := backend.New(types.BackendConfig{
		Type: types.StorageType(l.String("storage_type")),
		Path: l.String("storage_path"),
		Sync: l.Bool("storage_sync"),
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("open chunk storage: %w", err)
	}
	return &backends{store: store, storage: storage}, nil
}

func (b *backends) ping(ctx context.Context) error {
	_, err := b.store.Get(ctx, readinessCheckID)
	if err == nil || errors.Is(err, metadata.ErrNotFound) {
		return nil
	}
	return err
}

func (b *backends) Close() error {
	return errors.Join(b.store.Close(), b.storage.Close())
}
