// Package persistence provides SQLite-based game state storage: one opaque
// state blob per game plus a metadata table for the save browser.
package persistence

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// DB wraps a SQLite connection for game state persistence.
type DB struct {
	conn *sqlx.DB
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS games (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		game_time TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS game_states (
		game_id TEXT PRIMARY KEY REFERENCES games(id),
		state BLOB NOT NULL,
		saved_at TEXT NOT NULL
	);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// GameMeta is one row of the save browser.
type GameMeta struct {
	ID        string `db:"id"`
	Title     string `db:"title"`
	CreatedAt string `db:"created_at"`
	UpdatedAt string `db:"updated_at"`
	GameTime  string `db:"game_time"`
}

// CreateGame registers a new game. Creating an id that already exists is an
// error; resume instead.
func (db *DB) CreateGame(id, title string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := db.conn.Exec(
		"INSERT INTO games (id, title, created_at, updated_at) VALUES (?, ?, ?, ?)",
		id, title, now, now,
	)
	if err != nil {
		return fmt.Errorf("create game %s: %w", id, err)
	}
	return nil
}

// ListGames returns all registered games, most recently updated first.
func (db *DB) ListGames() ([]GameMeta, error) {
	var games []GameMeta
	err := db.conn.Select(&games,
		"SELECT id, title, created_at, updated_at, game_time FROM games ORDER BY updated_at DESC")
	return games, err
}

// GetGame returns one game's metadata.
func (db *DB) GetGame(id string) (GameMeta, bool, error) {
	var g GameMeta
	err := db.conn.Get(&g,
		"SELECT id, title, created_at, updated_at, game_time FROM games WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return GameMeta{}, false, nil
	}
	if err != nil {
		return GameMeta{}, false, err
	}
	return g, true, nil
}

// DeleteGame removes a game and its saved state.
func (db *DB) DeleteGame(id string) error {
	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM game_states WHERE game_id = ?", id); err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM games WHERE id = ?", id); err != nil {
		return err
	}
	return tx.Commit()
}

// TouchGame updates a game's bookkeeping columns after a save.
func (db *DB) TouchGame(id, gameTime string) error {
	_, err := db.conn.Exec(
		"UPDATE games SET updated_at = ?, game_time = ? WHERE id = ?",
		time.Now().UTC().Format(time.RFC3339), gameTime, id,
	)
	return err
}

// SaveState stores a game's serialized state, replacing any previous save.
func (db *DB) SaveState(gameID string, blob []byte) error {
	_, err := db.conn.Exec(
		"INSERT OR REPLACE INTO game_states (game_id, state, saved_at) VALUES (?, ?, ?)",
		gameID, blob, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("save state for %s: %w", gameID, err)
	}
	return nil
}

// LoadState returns a game's serialized state, or nil if it has never been
// saved.
func (db *DB) LoadState(gameID string) ([]byte, error) {
	var blob []byte
	err := db.conn.Get(&blob, "SELECT state FROM game_states WHERE game_id = ?", gameID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load state for %s: %w", gameID, err)
	}
	return blob, nil
}
