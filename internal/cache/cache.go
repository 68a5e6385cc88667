// Package cache provides the persistent catalog cache: canonical identifier
// to resolved track metadata, backed by a local SQLite database with an
// in-memory read layer for concurrent lookups.
package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"

	"github.com/namarks/chatmix/migrations"

	_ "modernc.org/sqlite" //revive:disable:blank-imports
)

// Entry is one resolved track record. An entry is immutable once written
// except for full overwrite on forced refresh; there are no partial updates.
type Entry struct {
	ID          string    `db:"canonical_id"`
	Title       string    `db:"title"`
	Artist      string    `db:"artist"`
	DurationMS  int64     `db:"duration_ms"`
	ExternalURL string    `db:"external_url"`
	CachedAt    time.Time `db:"-"`
}

type entryRow struct {
	Entry
	CachedAtUnix int64 `db:"cached_at"`
}

// Cache is safe for concurrent use. Reads are served from memory; writes go
// to the database first and then to memory, last write wins for concurrent
// puts of the same identifier.
type Cache struct {
	db     *sqlx.DB
	logger *slog.Logger

	mu      sync.RWMutex
	entries map[string]Entry
}

// Open opens (creating if needed) the cache database at dbPath, applies
// schema migrations, and loads existing entries into memory.
func Open(dbPath string, logger *slog.Logger) (*Cache, error) {
	db, err := sqlx.Connect("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to cache database: %w", err)
	}

	// SQLite does not support concurrent writes.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := applyMigrations(db.DB); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logger.Error("Error closing cache database after migration failure", "error", closeErr)
		}
		return nil, fmt.Errorf("failed to apply cache migrations: %w", err)
	}

	c := &Cache{
		db:      db,
		logger:  logger.With("component", "cache"),
		entries: make(map[string]Entry),
	}
	if err := c.load(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logger.Error("Error closing cache database after load failure", "error", closeErr)
		}
		return nil, err
	}

	c.logger.Info("Catalog cache opened", "path", dbPath, "entries", len(c.entries))
	return c, nil
}

func applyMigrations(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("failed to create embed source driver instance: %w", err)
	}

	dbDriver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create sqlite3 database driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", dbDriver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	if err := migrator.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

func (c *Cache) load() error {
	var rows []entryRow
	if err := c.db.Select(&rows, `SELECT canonical_id, title, artist, duration_ms, external_url, cached_at FROM cache_entries`); err != nil {
		return fmt.Errorf("failed to load cache entries: %w", err)
	}
	for _, r := range rows {
		e := r.Entry
		e.CachedAt = time.Unix(r.CachedAtUnix, 0).UTC()
		c.entries[e.ID] = e
	}
	return nil
}

func (c *Cache) Close() error {
	return c.db.Close()
}

// Get returns the cached entry for id, if present.
func (c *Cache) Get(_ context.Context, id string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[id]
	return e, ok
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Put stores entry, overwriting any previous entry for the same identifier
// in full. CachedAt defaults to now when unset.
func (c *Cache) Put(ctx context.Context, entry Entry) error {
	if entry.ID == "" {
		return errors.New("cache entry has empty canonical id")
	}
	if entry.CachedAt.IsZero() {
		entry.CachedAt = time.Now().UTC()
	}

	_, err := c.db.ExecContext(ctx, `
        INSERT INTO cache_entries (canonical_id, title, artist, duration_ms, external_url, cached_at)
        VALUES (?, ?, ?, ?, ?, ?)
        ON CONFLICT (canonical_id) DO UPDATE SET
            title = excluded.title,
            artist = excluded.artist,
            duration_ms = excluded.duration_ms,
            external_url = excluded.external_url,
            cached_at = excluded.cached_at;
    `, entry.ID, entry.Title, entry.Artist, entry.DurationMS, entry.ExternalURL, entry.CachedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to store cache entry %s: %w", entry.ID, err)
	}

	c.mu.Lock()
	c.entries[entry.ID] = entry
	c.mu.Unlock()
	return nil
}

// Invalidate removes the entry for id. Removing an absent id is a no-op.
func (c *Cache) Invalidate(ctx context.Context, id string) error {
	if _, err := c.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE canonical_id = ?`, id); err != nil {
		return fmt.Errorf("failed to invalidate cache entry %s: %w", id, err)
	}

	c.mu.Lock()
	delete(c.entries, id)
	c.mu.Unlock()
	return nil
}

// SweepOlderThan removes entries cached before now-maxAge and compacts the
// database file. It returns the number of entries removed.
func (c *Cache) SweepOlderThan(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-maxAge)

	res, err := c.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE cached_at < ?`, cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to sweep cache entries: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count swept cache entries: %w", err)
	}

	c.mu.Lock()
	for id, e := range c.entries {
		if e.CachedAt.Before(cutoff) {
			delete(c.entries, id)
		}
	}
	c.mu.Unlock()

	if removed > 0 {
		if _, err := c.db.ExecContext(ctx, `VACUUM`); err != nil {
			c.logger.WarnContext(ctx, "Cache vacuum failed after sweep", "error", err)
		}
	}

	c.logger.InfoContext(ctx, "Cache sweep completed", "removed", removed, "max_age", maxAge)
	return int(removed), nil
}
