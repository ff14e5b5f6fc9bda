package cli

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	gormlogger "gorm.io/gorm/logger"

	"github.com/pfrederiksen/dpwh-projects/internal/config"
	"github.com/pfrederiksen/dpwh-projects/internal/logger"
	"github.com/pfrederiksen/dpwh-projects/internal/storage"
	"github.com/pfrederiksen/dpwh-projects/internal/storage/redisstore"
	"github.com/pfrederiksen/dpwh-projects/internal/storage/sqlstore"
)

// sqliteFile is the database file the sqlite driver uses in the data
// directory when no DSN is configured.
const sqliteFile = "dpwh-projects.db"

// backend is the set of stores a command works against. The cursor and
// locker come from Redis when it is configured.
type backend struct {
	regions  storage.RegionStore
	projects storage.ProjectStore
	changes  storage.ChangeLog
	cursor   storage.CursorStore
	locker   storage.Locker
	dryRun   *storage.DryRun
	recorder *changeRecorder
	closers  []func() error
}

func openBackend(ctx context.Context, cfg *config.Config, log *logger.Logger) (*backend, error) {
	store, locker, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	b := &backend{
		regions:  store,
		projects: store,
		changes:  store,
		cursor:   store,
		locker:   locker,
		closers:  []func() error{store.Close},
	}

	if cfg.Redis.Address != "" {
		rdb, err := redisstore.Connect(ctx, cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			_ = b.Close()
			return nil, err
		}
		b.cursor = redisstore.NewCursor(rdb)
		b.locker = redisstore.NewLocker(rdb)
		b.closers = append(b.closers, rdb.Close)
		log.Debug("Using redis for rotation cursor and leases", logger.Fields{"address": cfg.Redis.Address})
	}

	log.Debug("Opened storage", logger.Fields{"driver": cfg.Storage.Driver})
	return b, nil
}

// openStore opens the configured storage.Store. The memory and file drivers
// come with their own Locker.
func openStore(cfg *config.Config) (storage.Store, storage.Locker, error) {
	switch cfg.Storage.Driver {
	case "memory":
		mem := storage.NewMemory()
		return mem, mem, nil

	case "file":
		fs, err := storage.NewFileStore(cfg.Storage.DataDir)
		if err != nil {
			return nil, nil, err
		}
		return fs, fs, nil

	case sqlstore.DriverMySQL, sqlstore.DriverSQLite:
		dsn, err := storeDSN(cfg)
		if err != nil {
			return nil, nil, err
		}
		s, err := sqlstore.Open(cfg.Storage.Driver, dsn, sqlstore.Options{
			MaxOpenConns:    cfg.Storage.MaxOpenConns,
			MaxIdleConns:    cfg.Storage.MaxIdleConns,
			ConnMaxLifetime: cfg.Storage.ConnMaxLifetime,
			LogLevel:        gormLevel(cfg.Logging.Level),
		})
		if err != nil {
			return nil, nil, err
		}
		return s, nil, nil
	}
	return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
}

// storeDSN returns the configured DSN or builds one for the driver.
func storeDSN(cfg *config.Config) (string, error) {
	if cfg.Storage.DSN != "" {
		return cfg.Storage.DSN, nil
	}
	if cfg.Storage.Driver == sqlstore.DriverMySQL {
		s := cfg.Storage
		return sqlstore.MySQLDSN(s.User, s.Password, s.Host, s.Port, s.Name), nil
	}
	dir, err := storage.PrepareDir(cfg.Storage.DataDir)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, sqliteFile), nil
}

func gormLevel(level string) gormlogger.LogLevel {
	if logger.ParseLevel(level) == logger.LevelDebug {
		return gormlogger.Info
	}
	return gormlogger.Error
}

// enableDryRun keeps project and change writes in memory.
func (b *backend) enableDryRun() {
	b.dryRun = storage.NewDryRun(b.projects)
	b.projects = b.dryRun
	b.changes = b.dryRun
}

// recordChanges wraps the change log so appended events can be drained for
// notifications.
func (b *backend) recordChanges() {
	b.recorder = &changeRecorder{ChangeLog: b.changes}
	b.changes = b.recorder
}

func (b *backend) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
