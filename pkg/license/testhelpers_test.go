package license

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/appvend/appvend/pkg/database"
)

const testSchema = `
	CREATE TABLE licenses (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		app_id INTEGER NOT NULL,
		owner_id INTEGER NOT NULL,
		license_key TEXT NOT NULL UNIQUE,
		service_id TEXT,
		status TEXT NOT NULL DEFAULT '',
		start_date TIMESTAMP,
		end_date TIMESTAMP,
		max_allowed_domains INTEGER NOT NULL,
		activated_domains TEXT,
		created_at TIMESTAMP,
		updated_at TIMESTAMP
	);

	CREATE TABLE download_tokens (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		token_hash TEXT NOT NULL UNIQUE,
		app_id INTEGER NOT NULL,
		license_id INTEGER NOT NULL DEFAULT 0,
		expires_at TIMESTAMP,
		created_at TIMESTAMP
	);
`

func setupService(t *testing.T) *Service {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if _, err := db.Exec(testSchema); err != nil {
		t.Fatalf("Failed to create schema: %v", err)
	}
	return NewService(database.NewSQL(db, "sqlite3"))
}

// issueTest creates a minimal active license with the given ceiling.
func issueTest(t *testing.T, s *Service, maxDomains int) *License {
	t.Helper()
	l := &License{AppID: 1, OwnerID: 1, MaxAllowedDomains: maxDomains}
	if err := s.Issue(context.Background(), l); err != nil {
		t.Fatalf("issue: %v", err)
	}
	return l
}

// at pins the service clock.
func at(s *Service, now time.Time) {
	s.now = func() time.Time { return now }
}
