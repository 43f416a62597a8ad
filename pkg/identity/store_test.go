package identity

import (
	"context"
	"errors"
	"testing"

	"github.com/appvend/appvend/pkg/apperr"
)

func TestUserRoundTrip(t *testing.T) {
	store := NewStore(setupAdapter(t))
	ctx := context.Background()

	u := &User{Name: "ada", Email: "ada@example.com"}
	if err := store.CreateUser(ctx, u); err != nil {
		t.Fatalf("create: %v", err)
	}
	if u.ID <= 0 {
		t.Fatal("create should assign an id")
	}
	if !u.Exists() {
		t.Error("persisted user should exist")
	}

	loaded, err := store.UserByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded == nil || loaded.Name != "ada" || loaded.State != StatusActive {
		t.Errorf("unexpected user: %+v", loaded)
	}

	missing, err := store.UserByID(ctx, 9999)
	if err != nil || missing != nil {
		t.Errorf("missing user should be nil, got %v err=%v", missing, err)
	}
}

func TestActorWithoutIDDoesNotExist(t *testing.T) {
	u := &User{Name: "ghost"}
	if u.Exists() {
		t.Error("a user without id must not exist")
	}
	sa := &ServiceAccount{Identifier: "bot"}
	if sa.Exists() {
		t.Error("a service account without id must not exist")
	}
}

func TestOwnerAndSubjectResolution(t *testing.T) {
	adapter := setupAdapter(t)
	store := NewStore(adapter)
	ctx := context.Background()

	org := &Organization{Name: "acme", DisplayName: "Acme Inc"}
	if err := store.CreateOrganization(ctx, org); err != nil {
		t.Fatal(err)
	}
	owner, err := store.CreateOwner(ctx, OwnerOrganization)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := adapter.Update(ctx, "owners",
		map[string]any{"subject_id": org.ID},
		map[string]any{"id": owner.ID}); err != nil {
		t.Fatal(err)
	}

	subject, err := store.SubjectFor(ctx, owner)
	if err != nil {
		t.Fatalf("subject: %v", err)
	}
	if subject == nil || subject.SubjectKind() != OwnerOrganization || subject.SubjectName() != "acme" {
		t.Errorf("unexpected subject: %+v", subject)
	}
}

func TestFederationLookupAndDuplicate(t *testing.T) {
	adapter := setupAdapter(t)
	users := NewStore(adapter)
	fed := NewFederationStore(adapter)
	ctx := context.Background()

	u := &User{Name: "ada"}
	if err := users.CreateUser(ctx, u); err != nil {
		t.Fatal(err)
	}

	issuer := Issuer("11111111-2222-3333-4444-555555555555")
	if _, found, _ := fed.Lookup(ctx, issuer, "ext-1"); found {
		t.Fatal("unfederated identity should not be found")
	}

	if err := fed.Link(ctx, issuer, "ext-1", u.ID); err != nil {
		t.Fatalf("link: %v", err)
	}
	userID, found, err := fed.Lookup(ctx, issuer, "ext-1")
	if err != nil || !found || userID != u.ID {
		t.Fatalf("lookup after link: id=%d found=%v err=%v", userID, found, err)
	}

	err = fed.Link(ctx, issuer, "ext-1", u.ID)
	var appErr *apperr.Error
	if !errors.As(err, &appErr) || appErr.Code != apperr.CodeDuplicateFederation {
		t.Errorf("duplicate link should conflict, got %v", err)
	}
	if appErr != nil && appErr.Status != 409 {
		t.Errorf("duplicate federation should be 409, got %d", appErr.Status)
	}
}

func TestOrgMembersCollection(t *testing.T) {
	members := NewOrgMembers(7)

	m := &OrgMember{User: User{ID: 3, Name: "ada"}, OrgID: 7, MemberRole: "admin"}
	if !members.Add(m) {
		t.Fatal("valid member should be added")
	}
	if members.Get(3) == nil || members.Len() != 1 {
		t.Fatal("member should be retrievable by id")
	}

	// Wrong org and non-persisted members are rejected.
	if members.Add(&OrgMember{User: User{ID: 4}, OrgID: 8}) {
		t.Error("member of another org must be rejected")
	}
	if members.Add(&OrgMember{User: User{Name: "ghost"}, OrgID: 7}) {
		t.Error("non-persisted member must be rejected")
	}

	members.Remove(3)
	if members.Len() != 0 {
		t.Error("remove should delete the entry")
	}
}

func TestServiceAccountLifecycle(t *testing.T) {
	store := NewStore(setupAdapter(t))
	ctx := context.Background()

	account := &ServiceAccount{OwnerID: 1, Identifier: "ci-bot", KeyHash: "x"}
	if err := store.CreateServiceAccount(ctx, account); err != nil {
		t.Fatal(err)
	}

	loaded, err := store.ServiceAccountByID(ctx, account.ID)
	if err != nil || loaded == nil {
		t.Fatalf("load: %v %v", loaded, err)
	}
	if loaded.LastUsedAt != nil {
		t.Error("fresh account should have no last_used_at")
	}

	if err := store.TouchServiceAccount(ctx, account.ID); err != nil {
		t.Fatal(err)
	}
	loaded, _ = store.ServiceAccountByID(ctx, account.ID)
	if loaded.LastUsedAt == nil {
		t.Error("touch should set last_used_at")
	}

	if err := store.RotateServiceAccountKey(ctx, account.ID, "y"); err != nil {
		t.Fatal(err)
	}
	loaded, _ = store.ServiceAccountByID(ctx, account.ID)
	if loaded.KeyHash != "y" {
		t.Error("rotate should replace the key hash")
	}
}
