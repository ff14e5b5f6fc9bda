package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/pfrederiksen/dpwh-projects/internal/project"
	"github.com/pfrederiksen/dpwh-projects/internal/storage"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// CursorKey is the cache key of the rotation cursor.
const CursorKey = "dpwh_last_scraped_region_id"

const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"
)

// Options tunes the connection pool. Zero values keep the driver defaults.
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	LogLevel        logger.LogLevel
}

// Store is a gorm-backed storage.Store.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

var _ storage.Store = (*Store)(nil)

// Open connects with the named driver ("mysql" or "sqlite") and migrates the
// schema.
func Open(driver, dsn string, opts Options) (*Store, error) {
	var dialector gorm.Dialector
	switch driver {
	case DriverMySQL:
		dialector = mysql.Open(dsn)
	case DriverSQLite:
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := gorm.Open(dialector, gormConfig(opts))
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", driver, err)
	}

	if sqlDB, err := db.DB(); err == nil {
		if opts.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
		}
		if opts.MaxIdleConns > 0 {
			sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
		}
		if opts.ConnMaxLifetime > 0 {
			sqlDB.SetConnMaxLifetime(opts.ConnMaxLifetime)
		}
	}

	s := &Store{db: db, now: time.Now}
	if err := s.Migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// MySQLDSN builds a DSN in the form the MySQL driver expects.
func MySQLDSN(user, password, host string, port int, name string) string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=true&loc=UTC",
		user, password, host, port, name)
}

func gormConfig(opts Options) *gorm.Config {
	level := opts.LogLevel
	if level == 0 {
		level = logger.Error
	}
	return &gorm.Config{
		Logger: logger.New(
			log.New(os.Stderr, "\r\n", log.LstdFlags),
			logger.Config{
				SlowThreshold:             time.Second,
				LogLevel:                  level,
				IgnoreRecordNotFoundError: true,
				Colorful:                  false,
			},
		),
	}
}

// Migrate creates or updates the tables.
func (s *Store) Migrate() error {
	if err := s.db.AutoMigrate(&regionRow{}, &projectRow{}, &changeRow{}, &cacheRow{}); err != nil {
		return fmt.Errorf("migrating schema: %w", err)
	}
	return nil
}

// ListActive returns the active regions ordered by name.
func (s *Store) ListActive(ctx context.Context) ([]project.Region, error) {
	var rows []regionRow
	if err := s.db.WithContext(ctx).Where("active = ?", true).Order("name").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing regions: %w", err)
	}
	regions := make([]project.Region, 0, len(rows))
	for _, r := range rows {
		regions = append(regions, r.toRegion())
	}
	return regions, nil
}

// SeedRegions inserts or updates regions by name in one transaction.
func (s *Store) SeedRegions(ctx context.Context, seeds []project.Region) ([]project.Region, error) {
	out := make([]project.Region, 0, len(seeds))

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, seed := range seeds {
			var row regionRow
			err := tx.Where("name = ?", seed.Name).First(&row).Error
			switch {
			case errors.Is(err, gorm.ErrRecordNotFound):
				row = regionRow{Name: seed.Name, URL: seed.URL, Active: seed.Active}
				if err := tx.Select("*").Create(&row).Error; err != nil {
					return fmt.Errorf("creating region %s: %w", seed.Name, err)
				}
			case err != nil:
				return fmt.Errorf("finding region %s: %w", seed.Name, err)
			default:
				row.URL = seed.URL
				row.Active = seed.Active
				if err := tx.Save(&row).Error; err != nil {
					return fmt.Errorf("updating region %s: %w", seed.Name, err)
				}
			}
			out = append(out, row.toRegion())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// FindByContractID returns nil, nil when no row has contractID.
func (s *Store) FindByContractID(ctx context.Context, contractID string) (*project.Record, error) {
	var row projectRow
	err := s.db.WithContext(ctx).Where("contract_id = ?", contractID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding project %s: %w", contractID, err)
	}
	return row.toRecord()
}

// Upsert inserts or updates the row keyed by rec.ContractID and sets rec.ID.
func (s *Store) Upsert(ctx context.Context, rec *project.Record) error {
	row, err := newProjectRow(rec)
	if err != nil {
		return err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing projectRow
		err := tx.Select("id", "created_at").Where("contract_id = ?", rec.ContractID).First(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			row.ID = 0
			return tx.Create(row).Error
		case err != nil:
			return err
		}
		row.ID = existing.ID
		row.CreatedAt = existing.CreatedAt
		return tx.Save(row).Error
	})
	if err != nil {
		return fmt.Errorf("saving project %s: %w", rec.ContractID, err)
	}

	rec.ID = row.ID
	return nil
}

// ListByRegionOlderThan returns the region's rows with last_scraped_at
// before cutoff.
func (s *Store) ListByRegionOlderThan(ctx context.Context, regionID int64, cutoff time.Time) ([]*project.Record, error) {
	var rows []projectRow
	err := s.db.WithContext(ctx).
		Where("region_id = ? AND last_scraped_at < ?", regionID, cutoff.UTC()).
		Order("contract_id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("listing stale projects: %w", err)
	}

	recs := make([]*project.Record, 0, len(rows))
	for i := range rows {
		rec, err := rows[i].toRecord()
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// Append inserts evt into project_changes.
func (s *Store) Append(ctx context.Context, evt *project.ChangeEvent) error {
	row, err := newChangeRow(evt)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return fmt.Errorf("appending change for %s: %w", evt.ContractID, err)
	}
	return nil
}

// Recent returns up to limit events, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]*project.ChangeEvent, error) {
	q := s.db.WithContext(ctx).Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var rows []changeRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing changes: %w", err)
	}

	events := make([]*project.ChangeEvent, 0, len(rows))
	for i := range rows {
		evt, err := rows[i].toEvent()
		if err != nil {
			return nil, err
		}
		events = append(events, evt)
	}
	return events, nil
}

// Get reads the cursor from the cache table, ignoring expired entries.
func (s *Store) Get(ctx context.Context) (int64, bool, error) {
	var row cacheRow
	err := s.db.WithContext(ctx).Where(&cacheRow{Key: CursorKey}).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("reading cursor: %w", err)
	}
	if row.ExpiresAt != nil && !s.now().Before(*row.ExpiresAt) {
		return 0, false, nil
	}

	id, err := strconv.ParseInt(row.Value, 10, 64)
	if err != nil {
		// A cursor that does not parse is treated as absent.
		return 0, false, nil
	}
	return id, true, nil
}

// Set stores the cursor in the cache table.
func (s *Store) Set(ctx context.Context, id int64, ttl time.Duration) error {
	row := cacheRow{Key: CursorKey, Value: strconv.FormatInt(id, 10)}
	if ttl > 0 {
		expires := s.now().UTC().Add(ttl)
		row.ExpiresAt = &expires
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "expires_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("writing cursor: %w", err)
	}
	return nil
}

// Clear deletes the cursor entry.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.db.WithContext(ctx).Delete(&cacheRow{Key: CursorKey}).Error; err != nil {
		return fmt.Errorf("clearing cursor: %w", err)
	}
	return nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
