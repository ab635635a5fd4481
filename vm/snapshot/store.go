package snapshot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"
)

// ErrNotFound indicates no snapshot was recorded for the program.
var ErrNotFound = errors.New("snapshot not found")

// Store keeps a history of snapshots in an SQLite database.
type Store struct {
	db     *sql.DB
	dbPath string
	mu     sync.Mutex
}

// Record is one stored snapshot.
type Record struct {
	ID       int64
	Snapshot *Snapshot
}

// OpenStore opens (creating if needed) the snapshot database at dbPath.
func OpenStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Set busy timeout for concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS snapshots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		program TEXT NOT NULL,
		taken_at INTEGER NOT NULL,
		version INTEGER NOT NULL,
		data BLOB NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}
	return &Store{db: db, dbPath: dbPath}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Save encodes snap and appends it to the history. It returns the row id.
func (s *Store) Save(ctx context.Context, snap *Snapshot) (int64, error) {
	data, err := Marshal(snap)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO snapshots (program, taken_at, version, data) VALUES (?, ?, ?, ?)",
		snap.Program, snap.TakenAt, snap.Version, data,
	)
	if err != nil {
		return 0, fmt.Errorf("saving snapshot: %w", err)
	}
	return res.LastInsertId()
}

// Latest returns the most recent snapshot of program.
func (s *Store) Latest(ctx context.Context, program string) (*Record, error) {
	var (
		id   int64
		data []byte
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, data FROM snapshots WHERE program = ? ORDER BY taken_at DESC, id DESC LIMIT 1",
		program,
	).Scan(&id, &data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying snapshot: %w", err)
	}
	snap, err := Unmarshal(data)
	if err != nil {
		return nil, err
	}
	return &Record{ID: id, Snapshot: snap}, nil
}

// History returns the snapshots of program, oldest first.
func (s *Store) History(ctx context.Context, program string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, data FROM snapshots WHERE program = ? ORDER BY taken_at, id",
		program,
	)
	if err != nil {
		return nil, fmt.Errorf("querying snapshots: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			id   int64
			data []byte
		)
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("scanning snapshot: %w", err)
		}
		snap, err := Unmarshal(data)
		if err != nil {
			return nil, fmt.Errorf("snapshot %d: %w", id, err)
		}
		out = append(out, Record{ID: id, Snapshot: snap})
	}
	return out, rows.Err()
}
