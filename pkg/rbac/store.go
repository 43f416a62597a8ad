package rbac

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/appvend/appvend/pkg/apperr"
	"github.com/appvend/appvend/pkg/database"
	"github.com/appvend/appvend/pkg/identity"
)

// Assignment records which role an actor holds against an owner. At most
// one assignment exists per (actor, owner) pair; saving again replaces
// the previous role.
type Assignment struct {
	ActorID   int64              `json:"actor_id"`
	ActorType identity.ActorType `json:"actor_type"`
	OwnerID   int64              `json:"owner_id"`
	OwnerKind identity.OwnerKind `json:"owner_kind"`
	RoleName  string             `json:"role_name"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// AssignmentStore persists role assignments and custom roles.
type AssignmentStore struct {
	db database.Adapter
}

// NewAssignmentStore creates an assignment store.
func NewAssignmentStore(db database.Adapter) *AssignmentStore {
	return &AssignmentStore{db: db}
}

// SaveActorRole upserts the role an actor holds against an owner. All
// field validation failures are reported together in one error.
func (s *AssignmentStore) SaveActorRole(ctx context.Context, a Assignment) error {
	if err := validateAssignment(a); err != nil {
		return err
	}
	if CanonicalRole(a.RoleName) == nil {
		stored, err := s.RoleByName(ctx, a.RoleName)
		if err != nil {
			return err
		}
		if stored == nil {
			return apperr.Unprocessable(apperr.CodeMissingFields,
				"role does not exist").WithData("role", a.RoleName)
		}
	}

	now := time.Now().UTC()
	return database.WithTx(ctx, s.db, func(tx database.Tx) error {
		affected, err := tx.Update(ctx, "principal_roles",
			map[string]any{
				"role_name":  a.RoleName,
				"owner_kind": string(a.OwnerKind),
				"updated_at": now,
			},
			map[string]any{
				"actor_id":   a.ActorID,
				"actor_type": string(a.ActorType),
				"owner_id":   a.OwnerID,
			})
		if err != nil {
			return fmt.Errorf("failed to update role assignment: %w", err)
		}
		if affected > 0 {
			return nil
		}
		_, err = tx.Insert(ctx, "principal_roles", map[string]any{
			"actor_id":    a.ActorID,
			"actor_type":  string(a.ActorType),
			"owner_id":    a.OwnerID,
			"owner_kind":  string(a.OwnerKind),
			"role_name":   a.RoleName,
			"assigned_at": now,
			"updated_at":  now,
		})
		if err != nil {
			return fmt.Errorf("failed to insert role assignment: %w", err)
		}
		return nil
	})
}

func validateAssignment(a Assignment) error {
	var missing []string
	if a.ActorID <= 0 {
		missing = append(missing, "actor_id")
	}
	if a.ActorType == "" {
		missing = append(missing, "actor_type")
	}
	if a.OwnerID <= 0 {
		missing = append(missing, "owner_id")
	}
	if a.OwnerKind == "" {
		missing = append(missing, "owner_kind")
	}
	if a.RoleName == "" {
		missing = append(missing, "role_name")
	}
	if len(missing) == 0 {
		return nil
	}
	err := apperr.Unprocessable(apperr.CodeMissingFields, "role assignment is incomplete")
	for _, field := range missing {
		err.Add(apperr.CodeMissingFields, "field is required",
			map[string]any{"field": field})
	}
	return err
}

// PrincipalRole resolves the role an actor holds against an owner. A nil
// owner means the actor's implicit self-owned scope. Assignments are
// always read from the database; role lookups are never cached, so a
// reassignment is visible on the very next request.
func (s *AssignmentStore) PrincipalRole(ctx context.Context, actor identity.Actor, owner *identity.Owner) (*Role, error) {
	if actor == nil || !actor.Exists() {
		return nil, nil
	}
	ownerID := actor.ActorID()
	if owner.Exists() {
		ownerID = owner.ID
	}
	row, err := s.db.GetRow(ctx, `
		SELECT role_name FROM principal_roles
		WHERE actor_id = ? AND actor_type = ? AND owner_id = ?`,
		actor.ActorID(), string(actor.Type()), ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve principal role: %w", err)
	}
	if row == nil {
		return nil, nil
	}
	return s.RoleByName(ctx, database.String(row, "role_name"))
}

// RoleByName resolves a role, canonical roles first, then the roles
// table for custom roles. Nil when unknown.
func (s *AssignmentStore) RoleByName(ctx context.Context, name string) (*Role, error) {
	if name == "" {
		return nil, nil
	}
	if role := CanonicalRole(name); role != nil {
		return role, nil
	}
	row, err := s.db.GetRow(ctx, "SELECT * FROM roles WHERE name = ?", name)
	if err != nil {
		return nil, fmt.Errorf("failed to load role %q: %w", name, err)
	}
	if row == nil {
		return nil, nil
	}
	return roleFromRow(row)
}

func roleFromRow(row map[string]any) (*Role, error) {
	role := &Role{
		ID:          database.Int64(row, "id"),
		Name:        database.String(row, "name"),
		Description: database.String(row, "description"),
		IsCanonical: database.Bool(row, "is_canonical"),
	}
	raw := database.String(row, "capabilities")
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &role.Capabilities); err != nil {
			return nil, fmt.Errorf("failed to decode capabilities for role %q: %w", role.Name, err)
		}
	}
	return role, nil
}

// CreateRole persists a custom role. The capability list was already
// validated by NewRole.
func (s *AssignmentStore) CreateRole(ctx context.Context, role *Role) error {
	caps, err := json.Marshal(role.Capabilities)
	if err != nil {
		return fmt.Errorf("failed to encode capabilities: %w", err)
	}
	id, err := s.db.Insert(ctx, "roles", map[string]any{
		"name":         role.Name,
		"description":  role.Description,
		"capabilities": string(caps),
		"is_canonical": false,
		"created_at":   time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to create role %q: %w", role.Name, err)
	}
	role.ID = id
	return nil
}

// RemoveActorRole deletes the assignment for an (actor, owner) pair.
func (s *AssignmentStore) RemoveActorRole(ctx context.Context, actorID int64, actorType identity.ActorType, ownerID int64) error {
	_, err := s.db.Delete(ctx, "principal_roles", map[string]any{
		"actor_id":   actorID,
		"actor_type": string(actorType),
		"owner_id":   ownerID,
	})
	if err != nil {
		return fmt.Errorf("failed to remove role assignment: %w", err)
	}
	return nil
}
