package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// etagRecord is the persisted form of an Entry.
type etagRecord struct {
	URL      string    `gorm:"column:url;primaryKey;size:2048"`
	ETag     string    `gorm:"column:etag;not null"`
	Body     []byte    `gorm:"column:body"`
	StoredAt time.Time `gorm:"column:stored_at;index;not null"`
}

func (etagRecord) TableName() string {
	return "etag_cache"
}

// SQLiteStore keeps entries in a SQLite database so they survive restarts.
type SQLiteStore struct {
	db  *gorm.DB
	ttl time.Duration
	now func() time.Time
}

// NewSQLiteStore opens (or creates) the database at path. Expired rows are
// pruned on open.
func NewSQLiteStore(ctx context.Context, path string, ttl time.Duration, log *slog.Logger) (*SQLiteStore, error) {
	if log == nil {
		log = slog.Default()
	}
	if path == "" {
		return nil, errors.New("cache path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating cache directory: %w", err)
		}
	}

	// Pure Go driver; pragmas go in the DSN so every pooled connection gets them.
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                 newGormLogger("warn", log),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening cache database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting underlying sql.DB: %w", err)
	}
	// One writer is all the client ever needs.
	sqlDB.SetMaxOpenConns(1)

	if err := db.WithContext(ctx).AutoMigrate(&etagRecord{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrating cache schema: %w", err)
	}

	store := &SQLiteStore{db: db, ttl: ttl, now: time.Now}
	if n, err := store.Prune(ctx); err != nil {
		log.Warn("pruning expired cache entries", slog.String("error", err.Error()))
	} else if n > 0 {
		log.Debug("pruned expired cache entries", slog.Int64("count", n))
	}
	return store, nil
}

// Get returns the entry for key.
func (s *SQLiteStore) Get(ctx context.Context, key string) (Entry, bool, error) {
	var rec etagRecord
	err := s.db.WithContext(ctx).Where("url = ?", key).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("reading cache entry: %w", err)
	}

	entry := Entry{ETag: rec.ETag, Body: rec.Body, StoredAt: rec.StoredAt}
	if entry.expired(s.ttl, s.now()) {
		return Entry{}, false, nil
	}
	return entry, true, nil
}

// Put upserts entry under key.
func (s *SQLiteStore) Put(ctx context.Context, key string, entry Entry) error {
	if entry.StoredAt.IsZero() {
		entry.StoredAt = s.now()
	}
	rec := etagRecord{URL: key, ETag: entry.ETag, Body: entry.Body, StoredAt: entry.StoredAt}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "url"}},
		DoUpdates: clause.AssignmentColumns([]string{"etag", "body", "stored_at"}),
	}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("writing cache entry: %w", err)
	}
	return nil
}

// Prune deletes expired rows and returns how many were removed.
func (s *SQLiteStore) Prune(ctx context.Context) (int64, error) {
	if s.ttl <= 0 {
		return 0, nil
	}
	res := s.db.WithContext(ctx).Where("stored_at < ?", s.now().Add(-s.ttl)).Delete(&etagRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("pruning cache: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying sql.DB: %w", err)
	}
	return sqlDB.Close()
}

// Open returns a SQLiteStore when path is set and a MemoryStore otherwise.
func Open(ctx context.Context, path string, ttl time.Duration, log *slog.Logger) (Store, error) {
	if path == "" {
		return NewMemoryStore(ttl), nil
	}
	return NewSQLiteStore(ctx, path, ttl, log)
}
