package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jannikluhn/tlbc-monitor/internal/config"
	_ "github.com/mattn/go-sqlite3"
)

const dbFolderPerm = 0755

// InvalidDataError reports a database whose contents the monitor cannot
// interpret: a schema from a different version or a corrupt checkpoint blob.
// The operator has to upgrade or delete the database.
type InvalidDataError struct {
	Msg string
}

func (e *InvalidDataError) Error() string {
	return fmt.Sprintf("invalid data in database: %s", e.Msg)
}

// ensureDBFolder ensures the directory that contains dbPath exists.
func ensureDBFolder(dbPath string) error {
	dir := filepath.Dir(dbPath)
	return os.MkdirAll(dir, dbFolderPerm)
}

// NewSQLiteDB opens the SQLite database at dbPath with default settings.
func NewSQLiteDB(dbPath string) (*sql.DB, error) {
	cfg := config.DatabaseConfig{}
	cfg.ApplyDefaults()
	return NewSQLiteDBFromConfig(dbPath, cfg)
}

// NewSQLiteDBFromConfig opens the SQLite database at dbPath with the given
// configuration.
func NewSQLiteDBFromConfig(dbPath string, cfg config.DatabaseConfig) (*sql.DB, error) {
	if err := ensureDBFolder(dbPath); err != nil {
		return nil, fmt.Errorf("failed to ensure DB folder: %w", err)
	}

	connStr := fmt.Sprintf(
		"file:%s?_txlock=immediate&_journal_mode=%s&_busy_timeout=%d",
		dbPath,
		cfg.JournalMode,
		cfg.BusyTimeout,
	)

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConnections)
	db.SetMaxIdleConns(cfg.MaxIdleConnections)

	pragmas := []string{
		fmt.Sprintf("PRAGMA synchronous = %s", cfg.Synchronous),
		fmt.Sprintf("PRAGMA cache_size = %d", cfg.CacheSize),
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	return db, nil
}

// CheckpointWAL merges the write-ahead log into the main database file and
// truncates it. Called occasionally after pruning to reclaim space.
func CheckpointWAL(db *sql.DB) error {
	if _, err := db.Exec(`PRAGMA wal_checkpoint(TRUNCATE);`); err != nil {
		return fmt.Errorf("failed to checkpoint WAL: %w", err)
	}
	return nil
}
