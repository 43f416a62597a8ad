package identity

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/appvend/appvend/pkg/database"
)

// Schema mirrors the persisted layout: owners are thin pointers with a
// subject reference, users carry an optional default owner.
const testSchema = `
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

	CREATE TABLE organization_members (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		org_id INTEGER NOT NULL,
		user_id INTEGER NOT NULL,
		member_role TEXT NOT NULL,
		joined_at TIMESTAMP,
		role_updated_at TIMESTAMP,
		UNIQUE(org_id, user_id)
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
