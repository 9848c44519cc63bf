package store

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // pure-Go SQLite driver, registered via blank import

	"reddalert/internal/infra/logger"
	"reddalert/internal/infra/storage"
)

// Store wraps the pipeline's sqlite database. A single connection is kept
// open (SetMaxOpenConns(1)) so concurrent writers from the Poller, Match
// Engine and Dispatcher serialize instead of tripping SQLITE_BUSY, the same
// tradeoff the pack's other sqlite-backed store makes for a single-file
// database under concurrent access.
type Store struct {
	db *sqlx.DB
}

// Open opens (creating if absent) the sqlite database at path and applies
// the schema. Callers must call Close when done.
func Open(path string) (*Store, error) {
	if err := storage.EnsureDir(path); err != nil {
		return nil, fmt.Errorf("prepare db directory: %w", err)
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite at %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.Init(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	logger.Infof("store: opened %s", path)
	return s, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
