package middleware

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/appvend/appvend/pkg/auth"
	"github.com/appvend/appvend/pkg/cache"
	"github.com/appvend/appvend/pkg/database"
	"github.com/appvend/appvend/pkg/identity"
	"github.com/appvend/appvend/pkg/rbac"
	"github.com/appvend/appvend/pkg/settings"
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

type authEnv struct {
	db         database.Adapter
	identities *identity.Store
	federation *identity.FederationStore
	roles      *rbac.AssignmentStore
	settings   settings.Store
	keyring    *auth.Keyring
	sessions   map[string]string
}

func setupAuthEnv(t *testing.T) *authEnv {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if _, err := db.Exec(testSchema); err != nil {
		t.Fatalf("Failed to create schema: %v", err)
	}
	adapter := database.NewSQL(db, "sqlite3")
	identities := identity.NewStore(adapter)
	return &authEnv{
		db:         adapter,
		identities: identities,
		federation: identity.NewFederationStore(adapter),
		roles:      rbac.NewAssignmentStore(adapter),
		settings:   settings.NewDBStore(adapter),
		keyring:    auth.NewKeyring([]byte("test-hmac-secret"), identities),
		sessions:   make(map[string]string),
	}
}

func (e *authEnv) authenticator(t *testing.T) *Authenticator {
	t.Helper()
	mem, err := cache.NewMemory(64)
	if err != nil {
		t.Fatal(err)
	}
	return &Authenticator{
		Settings:   e.settings,
		Cache:      mem,
		Identities: e.identities,
		Federation: e.federation,
		Roles:      e.roles,
		Keyring:    e.keyring,
		Sessions: func(_ context.Context, token string) (string, bool) {
			externalID, ok := e.sessions[token]
			return externalID, ok
		},
	}
}

// seedFederatedUser creates a user with a default individual owner, a
// federation record, a role assignment and an active session.
func (e *authEnv) seedFederatedUser(t *testing.T, sessionToken, roleName string) *identity.User {
	t.Helper()
	ctx := context.Background()

	u := &identity.User{Name: "ada", Email: "ada@example.com"}
	if err := e.identities.CreateUser(ctx, u); err != nil {
		t.Fatal(err)
	}
	owner, err := e.identities.CreateOwner(ctx, identity.OwnerIndividual)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.db.Update(ctx, "owners",
		map[string]any{"subject_id": u.ID}, map[string]any{"id": owner.ID}); err != nil {
		t.Fatal(err)
	}
	if _, err := e.db.Update(ctx, "users",
		map[string]any{"default_owner_id": owner.ID}, map[string]any{"id": u.ID}); err != nil {
		t.Fatal(err)
	}

	externalID := "ext-" + sessionToken
	installID, err := settings.InstallationID(ctx, e.settings)
	if err != nil {
		t.Fatal(err)
	}
	if err := e.federation.Link(ctx, identity.Issuer(installID), externalID, u.ID); err != nil {
		t.Fatal(err)
	}
	e.sessions[sessionToken] = externalID

	if roleName != "" {
		if err := e.roles.SaveActorRole(ctx, rbac.Assignment{
			ActorID:   u.ID,
			ActorType: identity.ActorUser,
			OwnerID:   owner.ID,
			OwnerKind: identity.OwnerIndividual,
			RoleName:  roleName,
		}); err != nil {
			t.Fatal(err)
		}
	}
	return u
}

// seedServiceAccount creates an owner-scoped service account with a role
// and returns the compound API key.
func (e *authEnv) seedServiceAccount(t *testing.T, roleName string) (string, *identity.ServiceAccount) {
	t.Helper()
	ctx := context.Background()

	owner, err := e.identities.CreateOwner(ctx, identity.OwnerIndividual)
	if err != nil {
		t.Fatal(err)
	}
	account := &identity.ServiceAccount{OwnerID: owner.ID, Identifier: "ci-bot"}
	if err := e.identities.CreateServiceAccount(ctx, account); err != nil {
		t.Fatal(err)
	}
	key, err := e.keyring.Generate(account)
	if err != nil {
		t.Fatal(err)
	}
	if err := e.identities.RotateServiceAccountKey(ctx, account.ID, account.KeyHash); err != nil {
		t.Fatal(err)
	}

	if roleName != "" {
		if err := e.roles.SaveActorRole(ctx, rbac.Assignment{
			ActorID:   account.ID,
			ActorType: identity.ActorServiceAccount,
			OwnerID:   owner.ID,
			OwnerKind: identity.OwnerIndividual,
			RoleName:  roleName,
		}); err != nil {
			t.Fatal(err)
		}
	}
	return key, account
}
