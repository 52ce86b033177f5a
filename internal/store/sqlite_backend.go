package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/meetq/meetq/internal/models"
)

// SQLiteBackend stores the collection as a single value in a key-value table.
type SQLiteBackend struct {
	db *sql.DB
}

// busyTimeout is how long a connection waits on another writer's lock.
const busyTimeout = 5000

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(path string) (*SQLiteBackend, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database dir: %w", err)
	}

	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)", path, busyTimeout))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	b := &SQLiteBackend{db: db}
	if err := b.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return b, nil
}

func (b *SQLiteBackend) migrate() error {
	_, err := b.db.Exec(`
	CREATE TABLE IF NOT EXISTS kv (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);`)
	return err
}

// Close releases the database handle.
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

// querier is satisfied by *sql.DB and *sql.Conn.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (b *SQLiteBackend) Load(ctx context.Context) ([]models.SessionRecord, error) {
	return load(ctx, b.db)
}

func (b *SQLiteBackend) Save(ctx context.Context, records []models.SessionRecord) error {
	return save(ctx, b.db, records)
}

// Update applies fn inside a BEGIN IMMEDIATE transaction, so a writer on
// another connection waits instead of overwriting the change.
func (b *SQLiteBackend) Update(ctx context.Context, fn UpdateFunc) (err error) {
	conn, err := b.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_, _ = conn.ExecContext(context.WithoutCancel(ctx), "ROLLBACK")
		}
	}()

	records, err := load(ctx, conn)
	if err != nil {
		return err
	}
	if updated, changed := fn(records); changed {
		if err := save(ctx, conn, updated); err != nil {
			return err
		}
	}
	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func load(ctx context.Context, q querier) ([]models.SessionRecord, error) {
	var value string
	err := q.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, DocumentKey).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load records: %w", err)
	}
	return decodeRecords([]byte(value))
}

func save(ctx context.Context, q querier, records []models.SessionRecord) error {
	data, err := encodeRecords(records)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx,
		`INSERT INTO kv (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		DocumentKey, string(data))
	if err != nil {
		return fmt.Errorf("save records: %w", err)
	}
	return nil
}

var (
	_ Backend = (*SQLiteBackend)(nil)
	_ Updater = (*SQLiteBackend)(nil)
)
