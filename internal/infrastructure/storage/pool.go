package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/starCarlos/HotSpot-Hunter/internal/infrastructure/storage/sqlitedb"
)

// Dataset selects which file family a partition belongs to. The primary
// item dataset and the feed dataset live in separate monthly files.
type Dataset string

const (
	DatasetNews  Dataset = "news"
	DatasetFeeds Dataset = "feeds"
)

func (d Dataset) schema() string {
	if d == DatasetFeeds {
		return feedSchema
	}
	return newsSchema
}

// Pool hands out database handles keyed by (dataset, month). Each handle is
// a *sql.DB, which already serializes checkout/return of its underlying
// connections, so handles are safe to share across workers. The pool is the
// only shared mutable connection state in the process; it is owned by the
// engine and closed with it.
type Pool struct {
	dataDir     string
	busyTimeout int

	mu  sync.Mutex
	dbs map[string]*sql.DB
}

// NewPool creates a pool rooted at dataDir.
func NewPool(dataDir string, busyTimeoutMS int) *Pool {
	return &Pool{
		dataDir:     dataDir,
		busyTimeout: busyTimeoutMS,
		dbs:         make(map[string]*sql.DB),
	}
}

// Path returns the partition file location for a dataset and month.
func (p *Pool) Path(ds Dataset, month string) string {
	return filepath.Join(p.dataDir, string(ds), month+".db")
}

// Exists reports whether a partition file is already on disk, without
// creating it.
func (p *Pool) Exists(ds Dataset, month string) bool {
	_, err := os.Stat(p.Path(ds, month))
	return err == nil
}

// Acquire returns the handle for a partition, opening the file and creating
// the schema on first use.
func (p *Pool) Acquire(ds Dataset, month string) (*sql.DB, error) {
	key := string(ds) + "/" + month

	p.mu.Lock()
	defer p.mu.Unlock()

	if db, ok := p.dbs[key]; ok {
		return db, nil
	}

	db, err := sqlitedb.Open(p.Path(ds, month),
		sqlitedb.WithMkdirAll(),
		sqlitedb.WithBusyTimeout(p.busyTimeout),
		sqlitedb.WithSchema(ds.schema()),
	)
	if err != nil {
		return nil, fmt.Errorf("acquire partition %s: %w", key, err)
	}

	if err := stampSchemaVersion(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("acquire partition %s: %w", key, err)
	}

	p.dbs[key] = db
	return db, nil
}

// Drop closes and forgets the handle for a partition, if open. Used before
// deleting the partition file during retention cleanup.
func (p *Pool) Drop(ds Dataset, month string) error {
	key := string(ds) + "/" + month

	p.mu.Lock()
	defer p.mu.Unlock()

	db, ok := p.dbs[key]
	if !ok {
		return nil
	}
	delete(p.dbs, key)
	return db.Close()
}

// Close releases every open partition handle.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for key, db := range p.dbs {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close partition %s: %w", key, err)
		}
		delete(p.dbs, key)
	}
	return firstErr
}

func stampSchemaVersion(db *sql.DB) error {
	_, err := db.Exec(
		"INSERT OR IGNORE INTO schema_migrations (version, applied_at) VALUES (?, ?)",
		schemaVersion, time.Now().UTC().Format(time.RFC3339),
	)
	return err
}
