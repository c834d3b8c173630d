package classify

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store persists classification entries in a local sqlite database so a
// restarted process still skips documents it has already seen.
type Store struct {
	db *sql.DB
}

const storeSchema = `
CREATE TABLE IF NOT EXISTS classifications (
	content_hash TEXT PRIMARY KEY,
	target_box   TEXT NOT NULL,
	category     TEXT NOT NULL,
	new_filename TEXT NOT NULL DEFAULT '',
	updated_at   TEXT NOT NULL
);`

// OpenStore opens (creating if needed) the cache database at path.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	if _, err := db.Exec(storeSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init cache schema: %w", err)
	}
	return &Store{db: db}, nil
}

// LoadAll returns every persisted entry, for seeding the in-memory cache.
func (s *Store) LoadAll() (map[string]Entry, error) {
	rows, err := s.db.Query(`SELECT content_hash, target_box, category, new_filename FROM classifications`)
	if err != nil {
		return nil, fmt.Errorf("load cache entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := map[string]Entry{}
	for rows.Next() {
		var hash string
		var e Entry
		if err := rows.Scan(&hash, &e.TargetBox, &e.Category, &e.NewFilename); err != nil {
			return nil, fmt.Errorf("scan cache entry: %w", err)
		}
		out[hash] = e
	}
	return out, rows.Err()
}

// SaveEntry upserts one entry. Last writer wins, which is safe because all
// successful classifiers agree on the outcome for a given hash.
func (s *Store) SaveEntry(hash string, e Entry) error {
	_, err := s.db.Exec(`
		INSERT INTO classifications (content_hash, target_box, category, new_filename, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(content_hash) DO UPDATE SET
			target_box = excluded.target_box,
			category = excluded.category,
			new_filename = excluded.new_filename,
			updated_at = excluded.updated_at`,
		hash, string(e.TargetBox), e.Category, e.NewFilename, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("save cache entry: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
