package memento

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/zjrosen/plume/internal/log"
)

const schema = `
CREATE TABLE IF NOT EXISTS mementos (
	scope TEXT PRIMARY KEY,
	data TEXT NOT NULL DEFAULT '{}',
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// sqliteStore persists mementos in a single SQLite table, one row per
// scope with a JSON document as the value.
type sqliteStore struct {
	db *sql.DB

	mu     sync.Mutex
	scopes map[Scope]Memento
	closed bool
}

// OpenSQLiteStore opens (creating if necessary) a SQLite-backed Store at
// the given path. All persisted scopes are loaded eagerly so stale data is
// readable before any writer shows up.
func OpenSQLiteStore(path string) (Store, error) {
	db, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("opening memento database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging memento database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating memento schema: %w", err)
	}

	s := &sqliteStore{
		db:     db,
		scopes: make(map[Scope]Memento),
	}
	if err := s.loadAll(); err != nil {
		_ = db.Close()
		return nil, err
	}

	log.Debug(log.CatMemento, "opened memento store", "path", path, "scopes", len(s.scopes))
	return s, nil
}

func (s *sqliteStore) loadAll() error {
	rows, err := s.db.Query(`SELECT scope, data FROM mementos`)
	if err != nil {
		return fmt.Errorf("loading mementos: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var scope, data string
		if err := rows.Scan(&scope, &data); err != nil {
			return fmt.Errorf("scanning memento row: %w", err)
		}
		m := make(Memento)
		if err := json.Unmarshal([]byte(data), &m); err != nil {
			// A corrupt row loses its data rather than poisoning the store.
			log.Warn(log.CatMemento, "discarding corrupt memento row", "scope", scope)
			m = make(Memento)
		}
		s.scopes[Scope(scope)] = m
	}
	return rows.Err()
}

func (s *sqliteStore) GetMemento(scope Scope) Memento {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.scopes[scope]
	if !ok {
		m = make(Memento)
		s.scopes[scope] = m
	}
	return m
}

func (s *sqliteStore) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning memento save: %w", err)
	}
	for scope, m := range s.scopes {
		data, err := json.Marshal(m)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("encoding memento scope %s: %w", scope, err)
		}
		_, err = tx.Exec(
			`INSERT INTO mementos (scope, data, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
			 ON CONFLICT(scope) DO UPDATE SET data = excluded.data, updated_at = CURRENT_TIMESTAMP`,
			string(scope), string(data),
		)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("saving memento scope %s: %w", scope, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing memento save: %w", err)
	}

	log.Debug(log.CatMemento, "saved mementos", "scopes", len(s.scopes))
	return nil
}

func (s *sqliteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
