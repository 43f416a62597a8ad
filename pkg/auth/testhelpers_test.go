package auth

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/appvend/appvend/pkg/database"
)

const testSchema = `
	CREATE TABLE settings (
		name TEXT PRIMARY KEY,
		value TEXT
	);

	CREATE TABLE users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		email TEXT,
		avatar TEXT,
		status TEXT NOT NULL DEFAULT 'active',
		default_owner_id INTEGER,
		created_at TIMESTAMP,
		updated_at TIMESTAMP
	);

	CREATE TABLE organizations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		display_name TEXT,
		status TEXT NOT NULL DEFAULT 'active',
		created_at TIMESTAMP,
		updated_at TIMESTAMP
	);

	CREATE TABLE owners (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		kind TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		subject_id INTEGER
	);

	CREATE TABLE identity_federation (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		issuer TEXT NOT NULL,
		external_id TEXT NOT NULL,
		user_id INTEGER NOT NULL,
		created_at TIMESTAMP,
		UNIQUE(issuer, external_id)
	);

	CREATE TABLE service_accounts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		owner_id INTEGER NOT NULL,
		identifier TEXT NOT NULL,
		api_key_hash TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		last_used_at TIMESTAMP,
		created_at TIMESTAMP
	);

	CREATE TABLE principal_roles (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		actor_id INTEGER NOT NULL,
		actor_type TEXT NOT NULL,
		owner_id INTEGER NOT NULL,
		owner_kind TEXT NOT NULL,
		role_name TEXT NOT NULL,
		assigned_at TIMESTAMP,
		updated_at TIMESTAMP,
		UNIQUE(actor_id, actor_type, owner_id)
	);

	CREATE TABLE roles (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		description TEXT,
		capabilities TEXT,
		is_canonical BOOLEAN NOT NULL DEFAULT 0,
		created_at TIMESTAMP
	);
`

func setupAdapter(t *testing.T) database.Adapter {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if _, err := db.Exec(testSchema); err != nil {
		t.Fatalf("Failed to create schema: %v", err)
	}
	return database.NewSQL(db, "sqlite3")
}
