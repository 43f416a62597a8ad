package identity

import (
	"context"
	"fmt"
	"time"

	"github.com/appvend/appvend/pkg/database"
)

// Store loads and persists identity entities through the database adapter.
type Store struct {
	db database.Adapter
}

// NewStore creates an identity store.
func NewStore(db database.Adapter) *Store {
	return &Store{db: db}
}

func userFromRow(row map[string]any) *User {
	u := &User{
		ID:        database.Int64(row, "id"),
		Name:      database.String(row, "name"),
		Email:     database.String(row, "email"),
		Avatar:    database.String(row, "avatar"),
		State:     Status(database.String(row, "status")),
		CreatedAt: database.Time(row, "created_at"),
		UpdatedAt: database.Time(row, "updated_at"),
	}
	u.markExists(true)
	return u
}

// UserByID loads a user; nil when missing.
func (s *Store) UserByID(ctx context.Context, id int64) (*User, error) {
	if id <= 0 {
		return nil, nil
	}
	row, err := s.db.GetRow(ctx, "SELECT * FROM users WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("failed to load user %d: %w", id, err)
	}
	if row == nil {
		return nil, nil
	}
	return userFromRow(row), nil
}

// CreateUser persists a new user and fills in its id.
func (s *Store) CreateUser(ctx context.Context, u *User) error {
	now := time.Now().UTC()
	if u.State == "" {
		u.State = StatusActive
	}
	id, err := s.db.Insert(ctx, "users", map[string]any{
		"name":       u.Name,
		"email":      u.Email,
		"avatar":     u.Avatar,
		"status":     string(u.State),
		"created_at": now,
		"updated_at": now,
	})
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	u.ID = id
	u.CreatedAt = now
	u.UpdatedAt = now
	u.markExists(true)
	return nil
}

// OrganizationByID loads an organization; nil when missing.
func (s *Store) OrganizationByID(ctx context.Context, id int64) (*Organization, error) {
	if id <= 0 {
		return nil, nil
	}
	row, err := s.db.GetRow(ctx, "SELECT * FROM organizations WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("failed to load organization %d: %w", id, err)
	}
	if row == nil {
		return nil, nil
	}
	return &Organization{
		ID:          database.Int64(row, "id"),
		Name:        database.String(row, "name"),
		DisplayName: database.String(row, "display_name"),
		State:       Status(database.String(row, "status")),
		CreatedAt:   database.Time(row, "created_at"),
		UpdatedAt:   database.Time(row, "updated_at"),
	}, nil
}

// CreateOrganization persists a new organization.
func (s *Store) CreateOrganization(ctx context.Context, org *Organization) error {
	now := time.Now().UTC()
	if org.State == "" {
		org.State = StatusActive
	}
	id, err := s.db.Insert(ctx, "organizations", map[string]any{
		"name":         org.Name,
		"display_name": org.DisplayName,
		"status":       string(org.State),
		"created_at":   now,
		"updated_at":   now,
	})
	if err != nil {
		return fmt.Errorf("failed to create organization: %w", err)
	}
	org.ID = id
	org.CreatedAt = now
	org.UpdatedAt = now
	return nil
}

// OwnerByID loads an owner pointer; nil when missing.
func (s *Store) OwnerByID(ctx context.Context, id int64) (*Owner, error) {
	if id <= 0 {
		return nil, nil
	}
	row, err := s.db.GetRow(ctx, "SELECT * FROM owners WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("failed to load owner %d: %w", id, err)
	}
	if row == nil {
		return nil, nil
	}
	return &Owner{
		ID:    database.Int64(row, "id"),
		Kind:  OwnerKind(database.String(row, "kind")),
		State: Status(database.String(row, "status")),
	}, nil
}

// CreateOwner persists an owner pointer for a subject.
func (s *Store) CreateOwner(ctx context.Context, kind OwnerKind) (*Owner, error) {
	id, err := s.db.Insert(ctx, "owners", map[string]any{
		"kind":   string(kind),
		"status": string(StatusActive),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create owner: %w", err)
	}
	return &Owner{ID: id, Kind: kind, State: StatusActive}, nil
}

// DefaultOwnerFor returns the owner the actor falls back to when no
/// explicit owner switch is active: the owner column on the user row, or
// nil when the actor has none.
func (s *Store) DefaultOwnerFor(ctx context.Context, actor Actor) (*Owner, error) {
	if actor == nil || !actor.Exists() {
		return nil, nil
	}
	ownerID, err := s.db.GetVar(ctx, "SELECT default_owner_id FROM users WHERE id = ?", actor.ActorID())
	if err != nil {
		return nil, fmt.Errorf("failed to resolve default owner: %w", err)
	}
	if ownerID == nil {
		return nil, nil
	}
	return s.OwnerByID(ctx, database.AsInt64(ownerID))
}

// SubjectFor resolves the concrete entity behind an owner.
func (s *Store) SubjectFor(ctx context.Context, owner *Owner) (Subject, error) {
	if !owner.Exists() {
		return nil, nil
	}
	row, err := s.db.GetRow(ctx, "SELECT subject_id FROM owners WHERE id = ?", owner.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve owner subject: %w", err)
	}
	if row == nil {
		return nil, nil
	}
	subjectID := database.Int64(row, "subject_id")
	switch owner.Kind {
	case OwnerOrganization:
		org, err := s.OrganizationByID(ctx, subjectID)
		if err != nil || org == nil {
			return nil, err
		}
		return org, nil
	default:
		user, err := s.UserByID(ctx, subjectID)
		if err != nil || user == nil {
			return nil, err
		}
		return user, nil
	}
}

// Members loads the member collection of an organization.
func (s *Store) Members(ctx context.Context, orgID int64) (*OrgMembers, error) {
	rows, err := s.db.GetResults(ctx, `
		SELECT u.id, u.name, u.email, u.avatar, u.status, u.created_at, u.updated_at,
		       m.org_id, m.member_role, m.joined_at, m.role_updated_at
		FROM organization_members m
		JOIN users u ON u.id = m.user_id
		WHERE m.org_id = ?
		ORDER BY m.joined_at ASC`, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	members := NewOrgMembers(orgID)
	for _, row := range rows {
		member := &OrgMember{
			User:          *userFromRow(row),
			OrgID:         database.Int64(row, "org_id"),
			MemberRole:    database.String(row, "member_role"),
			JoinedAt:      database.Time(row, "joined_at"),
			RoleUpdatedAt: database.Time(row, "role_updated_at"),
		}
		members.Add(member)
	}
	return members, nil
}
