// Package db provides PostgreSQL access for the runtime, grounded on the
// teacher's internal/db/database.go: a thin *sql.DB wrapper with its own
// Config struct, connection pool tuning, and a Migrate() that creates
// tables idempotently.
//
// Spec.md §1 places the document database itself out of scope ("the
// document-database client and schema management ... assumed"). What this
// package provides is the minimal stand-in the rest of the runtime needs to
// exercise end-to-end: a generic "objects" table, keyed by class name, that
// the plugin catalog (for its Plugin rows) and the store trigger layer (for
// arbitrary content classes) both read and write through.
package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// Config holds PostgreSQL connection configuration.
type Config struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// Database wraps a pooled *sql.DB connection.
type Database struct {
	db *sql.DB
}

// NewDatabase opens and pings a PostgreSQL connection pool.
func NewDatabase(cfg Config) (*Database, error) {
	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)

	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("db: open: %w", err)
	}
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("db: ping: %w", err)
	}
	return &Database{db: conn}, nil
}

// NewDatabaseFromDSN opens and pings a PostgreSQL connection pool from a
// single connection string/URI (e.g. the config layer's DATABASE_URI),
// rather than assembling one from discrete Config fields.
func NewDatabaseFromDSN(dsn string) (*Database, error) {
	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("db: open: %w", err)
	}
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("db: ping: %w", err)
	}
	return &Database{db: conn}, nil
}

// DB exposes the underlying *sql.DB for callers that need raw access.
func (d *Database) DB() *sql.DB { return d.db }

// Close releases the connection pool.
func (d *Database) Close() error { return d.db.Close() }

// Migrate creates the generic "objects" table (which also holds Plugin
// rows) and the syndication_clients table, the
// same idempotent CREATE TABLE IF NOT EXISTS pattern the teacher's
// Migrate() uses for its 82+ tables.
func (d *Database) Migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS objects (
			class_name  TEXT NOT NULL,
			object_id   TEXT NOT NULL,
			data        JSONB NOT NULL,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (class_name, object_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_objects_class ON objects (class_name)`,
		`CREATE TABLE IF NOT EXISTS syndication_clients (
			object_id     TEXT PRIMARY KEY,
			user_ref      TEXT NOT NULL,
			client_name   TEXT NOT NULL,
			refresh_token TEXT NOT NULL,
			created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}
	for _, s := range stmts {
		if _, err := d.db.Exec(s); err != nil {
			return fmt.Errorf("db: migrate: %w", err)
		}
	}
	return nil
}

// Object is one row of the generic class-named document store.
type Object struct {
	ClassName string
	ObjectID  string
	Data      map[string]interface{}
}

// GetObject fetches one row by (className, id). Returns sql.ErrNoRows if absent.
func (d *Database) GetObject(className, id string) (*Object, error) {
	var raw []byte
	row := d.db.QueryRow(`SELECT data FROM objects WHERE class_name=$1 AND object_id=$2`, className, id)
	if err := row.Scan(&raw); err != nil {
		return nil, err
	}
	var data map[string]interface{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, err
	}
	return &Object{ClassName: className, ObjectID: id, Data: data}, nil
}

// SaveObject upserts a row, matching Postgres's ON CONFLICT upsert idiom.
func (d *Database) SaveObject(obj *Object) error {
	raw, err := json.Marshal(obj.Data)
	if err != nil {
		return err
	}
	_, err = d.db.Exec(`
		INSERT INTO objects (class_name, object_id, data, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (class_name, object_id)
		DO UPDATE SET data = EXCLUDED.data, updated_at = now()
	`, obj.ClassName, obj.ObjectID, raw)
	return err
}

// DeleteObject removes a row by (className, id).
func (d *Database) DeleteObject(className, id string) error {
	_, err := d.db.Exec(`DELETE FROM objects WHERE class_name=$1 AND object_id=$2`, className, id)
	return err
}

// Query returns every row for a class, for the search coordinator's
// prefetch step and for simple listing needs.
func (d *Database) Query(className string) ([]*Object, error) {
	rows, err := d.db.Query(`SELECT object_id, data FROM objects WHERE class_name=$1`, className)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Object
	for rows.Next() {
		var id string
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, err
		}
		var data map[string]interface{}
		if err := json.Unmarshal(raw, &data); err != nil {
			return nil, err
		}
		out = append(out, &Object{ClassName: className, ObjectID: id, Data: data})
	}
	return out, rows.Err()
}
