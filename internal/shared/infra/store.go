package infra

import (
	"context"
	"fmt"
	"log"

	"pilot-runtime/internal/config"
	"pilot-runtime/internal/shared/storage"
	"pilot-runtime/internal/shared/storage/driver/postgres"
	"pilot-runtime/internal/shared/storage/driver/sqlite"
	"pilot-runtime/internal/shared/storage/mongostore"
	"pilot-runtime/internal/shared/storage/repository"
)

// DefaultMongoDatabase 未配置库名时使用
const DefaultMongoDatabase = "pilot_runtime"

// OpenStore 按 Store 配置打开状态存储
//
// driver 为 none 时返回 NoOpStore，sqlite/postgres 会自动建表。
func OpenStore(ctx context.Context, cfg config.StoreConfig) (storage.StateStore, error) {
	switch cfg.Driver {
	case "none":
		return storage.NoOpStore{}, nil

	case "sqlite", "":
		db, err := sqlite.Open(cfg.URL)
		if err != nil {
			return nil, err
		}
		d := &sqlite.Dialect{}
		if err := d.AutoMigrate(db); err != nil {
			db.Close()
			return nil, err
		}
		log.Printf("[infra.store] SQLite ready: %s", cfg.URL)
		return repository.NewStore(db, d), nil

	case "postgres":
		db, err := postgres.Open(cfg.URL)
		if err != nil {
			return nil, err
		}
		d := &postgres.Dialect{}
		if err := d.AutoMigrate(db); err != nil {
			db.Close()
			return nil, err
		}
		log.Printf("[infra.store] PostgreSQL ready: %s:%d/%s", cfg.Host, cfg.Port, cfg.Name)
		return repository.NewStore(db, d), nil

	case "mongodb":
		name := cfg.Name
		if name == "" {
			name = DefaultMongoDatabase
		}
		s, err := mongostore.NewStore(cfg.URL, name)
		if err != nil {
			return nil, err
		}
		log.Printf("[infra.store] MongoDB ready: db=%s", name)
		return s, nil

	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.Driver)
	}
}
