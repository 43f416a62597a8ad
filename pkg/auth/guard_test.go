package auth

import (
	"context"
	"testing"

	"github.com/appvend/appvend/pkg/cache"
	"github.com/appvend/appvend/pkg/database"
	"github.com/appvend/appvend/pkg/identity"
	"github.com/appvend/appvend/pkg/rbac"
	"github.com/appvend/appvend/pkg/settings"
)

type stubHost struct {
	externalID string
	loggedIn   bool
}

func (s *stubHost) CurrentExternalID(context.Context) (string, bool) {
	return s.externalID, s.loggedIn
}

type guardEnv struct {
	db         database.Adapter
	identities *identity.Store
	federation *identity.FederationStore
	roles      *rbac.AssignmentStore
	settings   settings.Store
	cache      cache.Cache
	host       *stubHost
}

func setupGuardEnv(t *testing.T) *guardEnv {
	t.Helper()
	db := setupAdapter(t)
	mem, err := cache.NewMemory(64)
	if err != nil {
		t.Fatal(err)
	}
	return &guardEnv{
		db:         db,
		identities: identity.NewStore(db),
		federation: identity.NewFederationStore(db),
		roles:      rbac.NewAssignmentStore(db),
		settings:   settings.NewDBStore(db),
		cache:      mem,
		host:       &stubHost{},
	}
}

func (e *guardEnv) newGuard(sessionToken string) *Guard {
	return NewGuard(e.host, e.settings, e.cache, e.identities, e.federation, e.roles,
		func(context.Context) string { return sessionToken })
}

// seedFederatedUser creates a user with a default individual owner, a
// federation record and a role assignment, returning the user.
func (e *guardEnv) seedFederatedUser(t *testing.T, externalID, roleName string) *identity.User {
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

	installID, err := settings.InstallationID(ctx, e.settings)
	if err != nil {
		t.Fatal(err)
	}
	if err := e.federation.Link(ctx, identity.Issuer(installID), externalID, u.ID); err != nil {
		t.Fatal(err)
	}

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

func TestAuthenticateAnonymousIsNil(t *testing.T) {
	env := setupGuardEnv(t)
	env.host.loggedIn = false

	p, err := env.newGuard("s1").Authenticate(context.Background())
	if err != nil {
		t.Fatalf("anonymous request must not error: %v", err)
	}
	if p != nil {
		t.Fatal("no principal without a logged-in identity")
	}
}

func TestAuthenticateUnfederatedIsNilAndUncached(t *testing.T) {
	env := setupGuardEnv(t)
	env.host.externalID = "ext-unknown"
	env.host.loggedIn = true

	guard := env.newGuard("s1")
	ctx := context.Background()

	p, err := guard.Authenticate(ctx)
	if err != nil || p != nil {
		t.Fatalf("unfederated identity should resolve to nil: p=%v err=%v", p, err)
	}

	// The failure was not cached: once the identity is federated and a
	// role assigned, the same guard resolves a principal.
	env.host.externalID = "ext-1"
	env.seedFederatedUser(t, "ext-1", rbac.RoleViewer)
	p, err = guard.Authenticate(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if p == nil {
		t.Fatal("expected principal after federation")
	}
}

func TestAuthenticateFullChain(t *testing.T) {
	env := setupGuardEnv(t)
	env.host.externalID = "ext-1"
	env.host.loggedIn = true
	u := env.seedFederatedUser(t, "ext-1", rbac.RoleResourceOwner)

	guard := env.newGuard("s1")
	ctx := context.Background()

	p, err := guard.Authenticate(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if p == nil {
		t.Fatal("expected a principal")
	}
	if p.Actor.ActorID() != u.ID || p.Role.Name != rbac.RoleResourceOwner {
		t.Errorf("unexpected principal: actor=%d role=%s", p.Actor.ActorID(), p.Role.Name)
	}
	if p.Subject == nil || p.Subject.SubjectKind() != identity.OwnerIndividual {
		t.Errorf("subject should resolve to the user, got %+v", p.Subject)
	}
	if !p.Can(rbac.CapLicensesIssue) {
		t.Error("resource_owner should issue licenses")
	}

	// Second call returns the identical cached principal and performs no
	// second federation write.
	again, err := guard.Authenticate(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if again != p {
		t.Error("repeated authentication must return the cached principal")
	}
	count, err := env.db.GetVar(ctx, "SELECT COUNT(*) FROM identity_federation")
	if err != nil {
		t.Fatal(err)
	}
	if n := database.AsInt64(count); n != 1 {
		t.Errorf("expected a single federation record, got %d", n)
	}
}

func TestAuthenticateWithoutRoleIsNil(t *testing.T) {
	env := setupGuardEnv(t)
	env.host.externalID = "ext-1"
	env.host.loggedIn = true
	env.seedFederatedUser(t, "ext-1", "")

	p, err := env.newGuard("s1").Authenticate(context.Background())
	if err != nil || p != nil {
		t.Fatalf("missing role must yield nil principal, got p=%v err=%v", p, err)
	}
}

func TestAuthenticateSuspendedUserIsNil(t *testing.T) {
	env := setupGuardEnv(t)
	env.host.externalID = "ext-1"
	env.host.loggedIn = true
	u := env.seedFederatedUser(t, "ext-1", rbac.RoleViewer)
	ctx := context.Background()
	if _, err := env.db.Update(ctx, "users",
		map[string]any{"status": "suspended"}, map[string]any{"id": u.ID}); err != nil {
		t.Fatal(err)
	}

	p, err := env.newGuard("s1").Authenticate(ctx)
	if err != nil || p != nil {
		t.Fatalf("suspended actor must not authenticate, got p=%v err=%v", p, err)
	}
}

func TestOwnerSwitchChangesScope(t *testing.T) {
	env := setupGuardEnv(t)
	env.host.externalID = "ext-1"
	env.host.loggedIn = true
	u := env.seedFederatedUser(t, "ext-1", rbac.RoleResourceOwner)
	ctx := context.Background()

	// An organization the user also holds a role in.
	org := &identity.Organization{Name: "acme"}
	if err := env.identities.CreateOrganization(ctx, org); err != nil {
		t.Fatal(err)
	}
	orgOwner, err := env.identities.CreateOwner(ctx, identity.OwnerOrganization)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.db.Update(ctx, "owners",
		map[string]any{"subject_id": org.ID}, map[string]any{"id": orgOwner.ID}); err != nil {
		t.Fatal(err)
	}
	if err := env.roles.SaveActorRole(ctx, rbac.Assignment{
		ActorID:   u.ID,
		ActorType: identity.ActorUser,
		OwnerID:   orgOwner.ID,
		OwnerKind: identity.OwnerOrganization,
		RoleName:  rbac.RoleViewer,
	}); err != nil {
		t.Fatal(err)
	}

	guard := env.newGuard("session-a")
	p, err := guard.Authenticate(ctx)
	if err != nil || p == nil {
		t.Fatalf("default scope: p=%v err=%v", p, err)
	}
	if p.OwnerKind() != identity.OwnerIndividual {
		t.Fatalf("default owner should be individual, got %s", p.OwnerKind())
	}

	if err := guard.SwitchOwner(ctx, orgOwner.ID); err != nil {
		t.Fatal(err)
	}
	p, err = guard.Authenticate(ctx)
	if err != nil || p == nil {
		t.Fatalf("switched scope: p=%v err=%v", p, err)
	}
	if p.Owner == nil || p.Owner.ID != orgOwner.ID || p.Role.Name != rbac.RoleViewer {
		t.Errorf("owner switch should re-resolve role for the org scope, got owner=%+v role=%s",
			p.Owner, p.Role.Name)
	}
	if p.Subject == nil || p.Subject.SubjectName() != "acme" {
		t.Errorf("subject should be the organization, got %+v", p.Subject)
	}

	// Another session is unaffected by the marker.
	other, err := env.newGuard("session-b").Authenticate(ctx)
	if err != nil || other == nil {
		t.Fatal(err)
	}
	if other.OwnerKind() != identity.OwnerIndividual {
		t.Error("owner switch must be scoped to its own session")
	}

	if err := guard.ClearOwnerSwitch(ctx); err != nil {
		t.Fatal(err)
	}
	p, err = guard.Authenticate(ctx)
	if err != nil || p == nil {
		t.Fatal(err)
	}
	if p.OwnerKind() != identity.OwnerIndividual {
		t.Error("clearing the switch should restore the default owner")
	}
}
