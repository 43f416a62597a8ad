package rbac

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/appvend/appvend/pkg/database"
)

const testSchema = `
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
