// Package sqlite provides the durable persistence backend: a single
// database file holding both the user directory and the message log.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/danielcroft/chatline/internal/message"
	"github.com/danielcroft/chatline/internal/user"
)

// DB wraps the SQLite connection and implements message.Store and
// user.Directory.
type DB struct {
	conn *sql.DB
}

// Open opens (creating if necessary) the database at path and ensures
// the schema exists.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", path+"?_foreign_keys=1&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}

	db := &DB{conn: conn}
	if err := db.init(); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

// Close closes the underlying connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) init() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT UNIQUE NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			sender TEXT NOT NULL,
			recipient TEXT NOT NULL,
			message TEXT NOT NULL,
			message_id TEXT,
			timestamp TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_pair ON messages(sender, recipient, id)`,
	}

	for _, query := range queries {
		if _, err := db.conn.Exec(query); err != nil {
			return fmt.Errorf("sqlite: init schema: %w", err)
		}
	}
	return nil
}

// Append inserts the message, assigning its id and timestamp.
func (db *DB) Append(ctx context.Context, m *message.Message) error {
	m.CreatedAt = time.Now().UTC()
	res, err := db.conn.ExecContext(ctx,
		`INSERT INTO messages (sender, recipient, message, message_id, timestamp) VALUES (?, ?, ?, ?, ?)`,
		m.Sender, m.Recipient, m.Body, m.ClientID, m.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("sqlite: append message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("sqlite: message id: %w", err)
	}
	m.ID = id
	return nil
}

// ListBetween returns the conversation between a and b, oldest first.
func (db *DB) ListBetween(ctx context.Context, a, b string) ([]*message.Message, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, sender, recipient, message, message_id, timestamp FROM messages
		 WHERE (sender = ? AND recipient = ?) OR (sender = ? AND recipient = ?)
		 ORDER BY id ASC`,
		a, b, b, a)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list messages: %w", err)
	}
	defer rows.Close()

	var msgs []*message.Message
	for rows.Next() {
		var m message.Message
		var ts string
		if err := rows.Scan(&m.ID, &m.Sender, &m.Recipient, &m.Body, &m.ClientID, &ts); err != nil {
			return nil, fmt.Errorf("sqlite: scan message: %w", err)
		}
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			m.CreatedAt = t
		}
		msgs = append(msgs, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: list messages: %w", err)
	}
	return msgs, nil
}

// Remove deletes the message with the given client id if its stored
// sender matches. Returns false when nothing was deleted.
func (db *DB) Remove(ctx context.Context, clientID, sender string) (bool, error) {
	res, err := db.conn.ExecContext(ctx,
		`DELETE FROM messages WHERE message_id = ? AND sender = ?`, clientID, sender)
	if err != nil {
		return false, fmt.Errorf("sqlite: remove message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: remove message: %w", err)
	}
	return n > 0, nil
}

// Exists reports whether the username is registered.
func (db *DB) Exists(ctx context.Context, username string) (bool, error) {
	var found string
	err := db.conn.QueryRowContext(ctx,
		`SELECT username FROM users WHERE username = ?`, username).Scan(&found)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("sqlite: check username: %w", err)
	}
	return true, nil
}

// Create registers the username, failing with user.ErrExists on duplicates.
func (db *DB) Create(ctx context.Context, username string) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO users (username, created_at) VALUES (?, ?)`,
		username, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return user.ErrExists
		}
		return fmt.Errorf("sqlite: register username: %w", err)
	}
	return nil
}
