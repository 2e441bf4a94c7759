package cachefs

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

const snapshotSchemaVersion = 1

const snapshotSchema = `
CREATE TABLE IF NOT EXISTS entries (
    rel_path  TEXT NOT NULL,
    file_type INTEGER NOT NULL,
    size      INTEGER NOT NULL,
    mtime     INTEGER NOT NULL,
    PRIMARY KEY (rel_path, file_type)
);

CREATE TABLE IF NOT EXISTS meta (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`

// SnapshotEntry is one file's metadata as persisted in a snapshot.
type SnapshotEntry struct {
	RelPath string
	Type    FileType
	Size    uint64
	ModTime uint64
}

// SnapshotStore persists a cache's metadata view to SQLite for offline
// inspection and diffing. Snapshots are diagnostic output only; startup
// population always comes from a live disk enumeration.
type SnapshotStore struct {
	db *sql.DB
}

// OpenSnapshot opens (or creates) the snapshot database at dbPath.
func OpenSnapshot(dbPath string) (*SnapshotStore, error) {
	l := sub("snapshot")
	l.Debug("opening snapshot database", "path", dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open snapshot db: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if err := migrateSnapshot(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &SnapshotStore{db: db}, nil
}

func migrateSnapshot(db *sql.DB) error {
	var version int
	err := db.QueryRow("SELECT value FROM meta WHERE key = 'schema_version'").Scan(&version)
	if err != nil {
		// meta table doesn't exist or no row — fresh database
		if _, execErr := db.Exec(snapshotSchema); execErr != nil {
			return fmt.Errorf("create schema: %w", execErr)
		}
		if _, execErr := db.Exec(
			"INSERT INTO meta (key, value) VALUES ('schema_version', ?)", snapshotSchemaVersion); execErr != nil {
			return fmt.Errorf("set schema version: %w", execErr)
		}
		return nil
	}
	if version != snapshotSchemaVersion {
		return fmt.Errorf("unsupported snapshot schema version %d", version)
	}
	return nil
}

// Close closes the underlying database.
func (s *SnapshotStore) Close() error { return s.db.Close() }

// Replace overwrites the stored snapshot with entries, atomically.
func (s *SnapshotStore) Replace(entries []SnapshotEntry) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.Exec("DELETE FROM entries"); err != nil {
		return fmt.Errorf("clear entries: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO entries (rel_path, file_type, size, mtime)
		VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.Exec(e.RelPath, int(e.Type), e.Size, e.ModTime); err != nil {
			return fmt.Errorf("insert %s: %w", e.RelPath, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	sub("snapshot").Debug("snapshot replaced", "entries", len(entries))
	return nil
}

// Load returns all stored entries, ordered by relative path.
func (s *SnapshotStore) Load() ([]SnapshotEntry, error) {
	rows, err := s.db.Query(`
		SELECT rel_path, file_type, size, mtime
		FROM entries ORDER BY rel_path, file_type
	`)
	if err != nil {
		return nil, fmt.Errorf("load entries: %w", err)
	}
	defer rows.Close()

	var entries []SnapshotEntry
	for rows.Next() {
		var e SnapshotEntry
		var typ int
		if err := rows.Scan(&e.RelPath, &typ, &e.Size, &e.ModTime); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		e.Type = FileType(typ)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Count returns the number of stored entries.
func (s *SnapshotStore) Count() (int, error) {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM entries").Scan(&n); err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return n, nil
}

// WriteSnapshot exports the cache's current metadata view into store.
// Pending dirty entries are reconciled first so the snapshot reflects
// the disk, not stale marks.
func (c *CachingFileSystem) WriteSnapshot(store *SnapshotStore) error {
	c.mu.Lock()
	c.checkDirtyDirLocked("")
	entries := make([]SnapshotEntry, 0, len(c.sizes))
	for fp, size := range c.sizes {
		entries = append(entries, SnapshotEntry{
			RelPath: fp.RelativePath(),
			Type:    fp.Type(),
			Size:    size,
			ModTime: c.modTimes[fp],
		})
	}
	c.mu.Unlock()

	return store.Replace(entries)
}
