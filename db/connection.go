package db

import (
	"database/sql"
	"sync"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/teranos/bfhtw/errors"
)

// SQLiteBusyTimeoutMS is how long a writer waits on a locked database.
const SQLiteBusyTimeoutMS = 5000

var registerVec sync.Once

// Open opens a SQLite database at the specified path with optimized settings.
// The sqlite-vec extension is registered process-wide before the first
// connection so vec0 virtual tables are available on every handle.
// If logger is provided, logs database operations; otherwise operates silently.
func Open(path string, logger *zap.SugaredLogger) (*sql.DB, error) {
	registerVec.Do(sqlite_vec.Auto)

	if logger != nil {
		logger.Debugw("Opening database", "path", path)
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.MarkStorage(errors.Wrap(err, "failed to open database"))
	}

	pragmas := []struct {
		stmt string
		what string
	}{
		// WAL allows concurrent reads while a pipeline writes
		{"PRAGMA journal_mode = WAL", "enable WAL mode"},
		{"PRAGMA foreign_keys = ON", "enable foreign keys"},
		{"PRAGMA busy_timeout = 5000", "set busy timeout"},
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p.stmt); err != nil {
			db.Close()
			return nil, errors.MarkStorage(errors.Wrapf(err, "failed to %s", p.what))
		}
	}

	if logger != nil {
		logger.Infow("Database opened",
			"path", path,
			"wal_mode", true,
			"foreign_keys", true,
		)
	}

	return db, nil
}

// OpenWithMigrations opens the database and applies pending migrations.
func OpenWithMigrations(path string, logger *zap.SugaredLogger) (*sql.DB, error) {
	db, err := Open(path, logger)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	if err := Migrate(db, logger); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "migrate %s", path)
	}
	return db, nil
}

// VecVersion reports the loaded sqlite-vec version, or an error when the
// extension is not available on this handle.
func VecVersion(db *sql.DB) (string, error) {
	var v string
	if err := db.QueryRow("SELECT vec_version()").Scan(&v); err != nil {
		return "", errors.MarkStorage(errors.Wrap(err, "sqlite-vec not loaded"))
	}
	return v, nil
}
