package todo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a todo id does not exist.
var ErrNotFound = errors.New("todo not found")

const schema = `
CREATE TABLE IF NOT EXISTS todos (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	list         TEXT    NOT NULL,
	title        TEXT    NOT NULL,
	description  TEXT    NOT NULL DEFAULT '',
	priority     TEXT    NOT NULL,
	due          TEXT    NOT NULL DEFAULT '',
	created_at   TEXT    NOT NULL,
	completed_at TEXT    NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS todos_list ON todos (list, completed_at);
`

// Item is one stored todo.
type Item struct {
	ID          int64     `json:"id"`
	List        string    `json:"list"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Priority    string    `json:"priority"`
	Due         string    `json:"due_date,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	CompletedAt time.Time `json:"completed_at,omitzero"`
}

// Done reports whether the item has been completed.
func (i Item) Done() bool { return !i.CompletedAt.IsZero() }

// Store persists todos in SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at dsn and applies the schema.
// Use ":memory:" for a private in-memory database.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("todo: open %s: %w", dsn, err)
	}
	// One connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("todo: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Add inserts item and returns it with its id set.
func (s *Store) Add(ctx context.Context, item Item) (Item, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO todos (list, title, description, priority, due, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		item.List, item.Title, item.Description, item.Priority, item.Due, formatTime(item.CreatedAt))
	if err != nil {
		return Item{}, fmt.Errorf("todo: insert: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Item{}, fmt.Errorf("todo: insert id: %w", err)
	}
	item.ID = id
	return item, nil
}

// List returns the items of list ordered by id. Completed items are included only when requested.
func (s *Store) List(ctx context.Context, list string, includeCompleted bool) ([]Item, error) {
	query := `SELECT id, list, title, description, priority, due, created_at, completed_at FROM todos WHERE list = ?`
	if !includeCompleted {
		query += ` AND completed_at = ''`
	}
	query += ` ORDER BY id`
	rows, err := s.db.QueryContext(ctx, query, list)
	if err != nil {
		return nil, fmt.Errorf("todo: list: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("todo: list: %w", err)
	}
	return items, nil
}

// Get returns the item with id.
func (s *Store) Get(ctx context.Context, id int64) (Item, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, list, title, description, priority, due, created_at, completed_at FROM todos WHERE id = ?`, id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Item{}, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return item, err
}

// Complete marks id as done at the given time. Completing a done item keeps the first timestamp.
func (s *Store) Complete(ctx context.Context, id int64, at time.Time) (Item, error) {
	_, err := s.db.ExecContext(ctx,
		`UPDATE todos SET completed_at = ? WHERE id = ? AND completed_at = ''`, formatTime(at), id)
	if err != nil {
		return Item{}, fmt.Errorf("todo: complete: %w", err)
	}
	return s.Get(ctx, id)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(sc scanner) (Item, error) {
	var (
		item               Item
		created, completed string
	)
	if err := sc.Scan(&item.ID, &item.List, &item.Title, &item.Description, &item.Priority, &item.Due, &created, &completed); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Item{}, err
		}
		return Item{}, fmt.Errorf("todo: scan: %w", err)
	}
	item.CreatedAt = parseTime(created)
	item.CompletedAt = parseTime(completed)
	return item, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
