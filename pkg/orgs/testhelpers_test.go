package orgs

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/appvend/appvend/pkg/database"
	"github.com/appvend/appvend/pkg/identity"
	"github.com/appvend/appvend/pkg/rbac"
)

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

	CREATE TABLE org_invitations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		org_id INTEGER NOT NULL,
		email TEXT NOT NULL,
		member_role TEXT NOT NULL,
		token TEXT NOT NULL UNIQUE,
		invited_by INTEGER NOT NULL,
		created_at TIMESTAMP,
		expires_at TIMESTAMP,
		accepted_at TIMESTAMP,
		accepted_by INTEGER
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
`

type testEnv struct {
	service    *Service
	db         database.Adapter
	identities *identity.Store
}

func setupService(t *testing.T) *testEnv {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	_, err = db.Exec(testSchema)
	require.NoError(t, err)

	adapter := database.NewSQL(db, "sqlite3")
	identities := identity.NewStore(adapter)
	roles := rbac.NewAssignmentStore(adapter)
	return &testEnv{
		service:    NewService(adapter, identities, roles),
		db:         adapter,
		identities: identities,
	}
}

// seedOrg creates an organization with a backing owner row and returns
// both ids.
func (e *testEnv) seedOrg(t *testing.T, name string) (orgID, ownerID int64) {
	t.Helper()
	ctx := context.Background()
	org := &identity.Organization{Name: name, DisplayName: name}
	require.NoError(t, e.identities.CreateOrganization(ctx, org))
	owner, err := e.identities.CreateOwner(ctx, identity.OwnerOrganization)
	require.NoError(t, err)
	_, err = e.db.Update(ctx, "owners",
		map[string]any{"subject_id": org.ID},
		map[string]any{"id": owner.ID})
	require.NoError(t, err)
	return org.ID, owner.ID
}

func (e *testEnv) seedUser(t *testing.T, name string) int64 {
	t.Helper()
	user := &identity.User{Name: name, Email: name + "@example.com"}
	require.NoError(t, e.identities.CreateUser(context.Background(), user))
	return user.ID
}

// assignedRole reads the capability role an actor holds in an owner
// scope, or empty.
func (e *testEnv) assignedRole(t *testing.T, userID, ownerID int64) string {
	t.Helper()
	v, err := e.db.GetVar(context.Background(),
		"SELECT role_name FROM principal_roles WHERE actor_id = ? AND actor_type = ? AND owner_id = ?",
		userID, string(identity.ActorUser), ownerID)
	require.NoError(t, err)
	if v == nil {
		return ""
	}
	return database.AsString(v)
}
