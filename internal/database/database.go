// Package database provides functionality for database connection, management,
// and query execution against the Postgres-backed persistence layer named in
// SPEC_FULL.md §6 (users, sessions, chats, participants, messages,
// delivery_records, reactions, edit_history, contacts, attachments).
package database

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/golang-migrate/migrate/v4"
	// Driver for database migrations from file source.
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	// Driver for file-based migrations.
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jmoiron/sqlx"
	// PostgreSQL driver.
	_ "github.com/lib/pq"
)

// DB is a wrapper around *sqlx.DB so the store files in this package
// (session_store.go, chat_store.go, message_store.go, ...) can hang
// domain-specific methods off a single type. A DB may optionally carry a
// read-replica handle; writes always use the primary.
type DB struct {
	*sqlx.DB
	replica *sqlx.DB
}

// New establishes a connection to the primary PostgreSQL database, and
// optionally to a read replica, configures the connection pools per
// SPEC_FULL.md §5 (100 primary / 50 replica), pings both, and returns the
// initialized DB struct.
func New(primaryURL, replicaURL string) (*DB, error) {
	if primaryURL == "" {
		return nil, errors.New("DATABASE_URL environment variable is not set")
	}

	primary, err := sqlx.Connect("postgres", primaryURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to the primary database: %w", err)
	}
	primary.SetMaxOpenConns(100)
	primary.SetMaxIdleConns(100)
	primary.SetConnMaxLifetime(5 * time.Minute)

	if err := primary.Ping(); err != nil {
		primary.Close()
		return nil, fmt.Errorf("failed to ping the primary database: %w", err)
	}

	db := &DB{DB: primary}

	if replicaURL != "" {
		replica, err := sqlx.Connect("postgres", replicaURL)
		if err != nil {
			primary.Close()
			return nil, fmt.Errorf("failed to connect to the replica database: %w", err)
		}
		replica.SetMaxOpenConns(50)
		replica.SetMaxIdleConns(50)
		replica.SetConnMaxLifetime(5 * time.Minute)
		if err := replica.Ping(); err != nil {
			primary.Close()
			replica.Close()
			return nil, fmt.Errorf("failed to ping the replica database: %w", err)
		}
		db.replica = replica
	}

	log.Println("Successfully connected to the PostgreSQL database.")
	return db, nil
}

// Close closes the primary connection and, if present, the replica.
func (db *DB) Close() error {
	if db.replica != nil {
		_ = db.replica.Close()
	}
	return db.DB.Close()
}

// Reader returns the handle reads should use: the replica if one is
// configured, otherwise the primary. Per SPEC_FULL.md §5, writes always go
// to the primary (db.DB directly).
func (db *DB) Reader() *sqlx.DB {
	if db.replica != nil {
		return db.replica
	}
	return db.DB
}

// Ready reports whether the primary (and replica, if configured) are
// reachable, for the /health/ready endpoint.
func (db *DB) Ready() error {
	if err := db.Ping(); err != nil {
		return fmt.Errorf("primary database unreachable: %w", err)
	}
	if db.replica != nil {
		if err := db.replica.Ping(); err != nil {
			return fmt.Errorf("replica database unreachable: %w", err)
		}
	}
	return nil
}

// Migrate applies all available database migrations found in the specified
// path. It does not return an error if the database is already up to date.
func (db *DB) Migrate(databaseURL, migrationsPath string) error {
	sourceURL := fmt.Sprintf("file://%s", migrationsPath)

	m, err := migrate.New(sourceURL, databaseURL)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		log.Printf("Could not get migration version, but migrations were likely applied: %v", err)
	}

	if dirty {
		log.Printf("Database is at migration version %d, but is marked as dirty.", version)
		return fmt.Errorf("database is in a dirty migration state")
	}

	if errors.Is(err, migrate.ErrNilVersion) {
		log.Println("Database migrations applied successfully, but no version tag was found.")
	} else {
		log.Printf("Database migrations are up-to-date at version %d.", version)
	}

	return nil
}
