// Package sqlitestore implements the storage.Store interface on top of a
// SQLite database. Schema is managed with embedded goose migrations.
package sqlitestore

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/iudanet/apikit/internal/validation"
	"github.com/iudanet/apikit/storage"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// Store represents SQLite storage implementation.
type Store struct {
	db *sql.DB
}

// Compile-time check that Store implements storage.Store
var _ storage.Store = (*Store)(nil)

// New creates a new SQLite store instance.
// dbPath is the path to the SQLite database file.
// Use ":memory:" for in-memory database (useful for testing).
func New(ctx context.Context, dbPath string) (*Store, error) {
	// Открываем соединение с БД
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Проверяем соединение
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// SQLite с WAL mode может поддерживать несколько читателей, но только одного писателя
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
		"PRAGMA busy_timeout = 5000;",
	}

	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	store := &Store{db: db}

	// Запускаем миграции
	if err := store.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

// runMigrations выполняет миграции из embedded FS
func (s *Store) runMigrations() error {
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set dialect: %w", err)
	}

	goose.SetBaseFS(embedMigrations)

	if err := goose.Up(s.db, "migrations"); err != nil {
		return fmt.Errorf("goose up failed: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the stored value for the field, or (nil, nil) if absent.
func (s *Store) Get(ctx context.Context, field string) ([]byte, error) {
	if field == "" {
		return nil, nil
	}
	if err := validation.ValidateField(field); err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrInvalidField, err)
	}

	var value []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM fields WHERE name = ?", field,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query field %q: %w", field, err)
	}

	return value, nil
}

// Set stores the value under the field name.
func (s *Store) Set(ctx context.Context, field string, value []byte) error {
	if field == "" {
		return nil
	}
	if err := validation.ValidateField(field); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidField, err)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO fields (name, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		field, value, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to save field %q: %w", field, err)
	}

	return nil
}

// Delete removes the field. Deleting an absent field is not an error.
func (s *Store) Delete(ctx context.Context, field string) error {
	if field == "" {
		return nil
	}
	if err := validation.ValidateField(field); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidField, err)
	}

	if _, err := s.db.ExecContext(ctx, "DELETE FROM fields WHERE name = ?", field); err != nil {
		return fmt.Errorf("failed to delete field %q: %w", field, err)
	}

	return nil
}

// DB returns the underlying database connection for testing purposes.
func (s *Store) DB() *sql.DB {
	return s.db
}
