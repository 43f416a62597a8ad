package orgs

import (
	"context"
	"fmt"
	"time"

	"github.com/appvend/appvend/pkg/apperr"
	"github.com/appvend/appvend/pkg/database"
	"github.com/appvend/appvend/pkg/identity"
	"github.com/appvend/appvend/pkg/rbac"
)

// Membership roles inside an organization. The role stored on the
// membership row drives the capability role the member is granted in the
// organization's owner scope.
const (
	MemberOwner   = "owner"
	MemberAdmin   = "admin"
	MemberRegular = "member"
)

// ValidMemberRole reports whether role is one of the membership roles.
func ValidMemberRole(role string) bool {
	switch role {
	case MemberOwner, MemberAdmin, MemberRegular:
		return true
	}
	return false
}

// capabilityRole maps a membership role to the canonical capability role
// granted against the organization's owner scope.
func capabilityRole(memberRole string) string {
	switch memberRole {
	case MemberOwner:
		return rbac.RoleResourceOwner
	case MemberAdmin:
		return rbac.RoleResourceAdmin
	}
	return rbac.RoleViewer
}

// Service owns membership and invitation writes for organizations.
type Service struct {
	db         database.Adapter
	identities *identity.Store
	roles      *rbac.AssignmentStore
}

// NewService creates the membership service. The roles store may be nil,
// in which case capability grants are skipped.
func NewService(db database.Adapter, identities *identity.Store, roles *rbac.AssignmentStore) *Service {
	return &Service{db: db, identities: identities, roles: roles}
}

// Members returns the member collection of an organization.
func (s *Service) Members(ctx context.Context, orgID int64) (*identity.OrgMembers, error) {
	return s.identities.Members(ctx, orgID)
}

// Member returns one member of an organization.
func (s *Service) Member(ctx context.Context, orgID, userID int64) (*identity.OrgMember, error) {
	members, err := s.identities.Members(ctx, orgID)
	if err != nil {
		return nil, err
	}
	member := members.Get(userID)
	if member == nil {
		return nil, apperr.NotFound(apperr.CodeMemberNotFound, "user is not a member of this organization").
			WithData("org_id", orgID).WithData("user_id", userID)
	}
	return member, nil
}

// AddMember adds a user to an organization with the given membership
// role and grants the matching capability role in the organization's
// owner scope.
func (s *Service) AddMember(ctx context.Context, orgID, userID int64, memberRole string) (*identity.OrgMember, error) {
	if !ValidMemberRole(memberRole) {
		return nil, apperr.Unprocessable(apperr.CodeMissingFields, "unknown membership role").
			WithData("member_role", memberRole)
	}
	if err := s.requireOrg(ctx, orgID); err != nil {
		return nil, err
	}
	user, err := s.identities.UserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, apperr.NotFound(apperr.CodeAccountNotFound, "user does not exist").
			WithData("user_id", userID)
	}

	existing, err := s.db.GetVar(ctx,
		"SELECT id FROM organization_members WHERE org_id = ? AND user_id = ?", orgID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to check membership: %w", err)
	}
	if existing != nil {
		return nil, apperr.Conflict(apperr.CodeMemberExists, "user is already a member").
			WithData("org_id", orgID).WithData("user_id", userID)
	}

	now := time.Now().UTC()
	if _, err := s.db.Insert(ctx, "organization_members", map[string]any{
		"org_id":          orgID,
		"user_id":         userID,
		"member_role":     memberRole,
		"joined_at":       now,
		"role_updated_at": now,
	}); err != nil {
		return nil, fmt.Errorf("failed to add member: %w", err)
	}

	if err := s.syncCapabilityRole(ctx, orgID, userID, memberRole); err != nil {
		return nil, err
	}
	return s.Member(ctx, orgID, userID)
}

// UpdateMemberRole changes a member's role. The last remaining owner
// cannot be demoted.
func (s *Service) UpdateMemberRole(ctx context.Context, orgID, userID int64, memberRole string) error {
	if !ValidMemberRole(memberRole) {
		return apperr.Unprocessable(apperr.CodeMissingFields, "unknown membership role").
			WithData("member_role", memberRole)
	}
	if memberRole != MemberOwner {
		if err := s.guardLastOwner(ctx, orgID, userID); err != nil {
			return err
		}
	}

	affected, err := s.db.Update(ctx, "organization_members",
		map[string]any{
			"member_role":     memberRole,
			"role_updated_at": time.Now().UTC(),
		},
		map[string]any{"org_id": orgID, "user_id": userID})
	if err != nil {
		return fmt.Errorf("failed to update member role: %w", err)
	}
	if affected == 0 {
		return apperr.NotFound(apperr.CodeMemberNotFound, "user is not a member of this organization").
			WithData("org_id", orgID).WithData("user_id", userID)
	}
	return s.syncCapabilityRole(ctx, orgID, userID, memberRole)
}

// RemoveMember removes a user from an organization and revokes their
// role in the organization's owner scope. The last remaining owner
// cannot be removed.
func (s *Service) RemoveMember(ctx context.Context, orgID, userID int64) error {
	if err := s.guardLastOwner(ctx, orgID, userID); err != nil {
		return err
	}
	affected, err := s.db.Delete(ctx, "organization_members",
		map[string]any{"org_id": orgID, "user_id": userID})
	if err != nil {
		return fmt.Errorf("failed to remove member: %w", err)
	}
	if affected == 0 {
		return apperr.NotFound(apperr.CodeMemberNotFound, "user is not a member of this organization").
			WithData("org_id", orgID).WithData("user_id", userID)
	}

	if s.roles == nil {
		return nil
	}
	scope, err := s.ownerScope(ctx, orgID)
	if err != nil || scope == 0 {
		return err
	}
	return s.roles.RemoveActorRole(ctx, userID, identity.ActorUser, scope)
}

// requireOrg fails with a not-found error when the organization does not
// exist.
func (s *Service) requireOrg(ctx context.Context, orgID int64) error {
	org, err := s.identities.OrganizationByID(ctx, orgID)
	if err != nil {
		return err
	}
	if org == nil {
		return apperr.NotFound(apperr.CodeOrgNotFound, "organization does not exist").
			WithData("org_id", orgID)
	}
	return nil
}

// guardLastOwner rejects a change that would leave the organization
// without an owner. Non-owner members pass through.
func (s *Service) guardLastOwner(ctx context.Context, orgID, userID int64) error {
	role, err := s.db.GetVar(ctx,
		"SELECT member_role FROM organization_members WHERE org_id = ? AND user_id = ?", orgID, userID)
	if err != nil {
		return fmt.Errorf("failed to read membership: %w", err)
	}
	if role == nil || database.AsString(role) != MemberOwner {
		return nil
	}
	owners, err := s.db.GetVar(ctx,
		"SELECT COUNT(*) FROM organization_members WHERE org_id = ? AND member_role = ?", orgID, MemberOwner)
	if err != nil {
		return fmt.Errorf("failed to count owners: %w", err)
	}
	if database.AsInt64(owners) <= 1 {
		return apperr.Conflict(apperr.CodeLastOwner, "the last owner cannot leave the organization").
			WithData("org_id", orgID)
	}
	return nil
}

// ownerScope returns the owner row backing the organization, or zero
// when the organization owns no resources yet.
func (s *Service) ownerScope(ctx context.Context, orgID int64) (int64, error) {
	id, err := s.db.GetVar(ctx,
		"SELECT id FROM owners WHERE kind = ? AND subject_id = ?",
		string(identity.OwnerOrganization), orgID)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve owner scope: %w", err)
	}
	if id == nil {
		return 0, nil
	}
	return database.AsInt64(id), nil
}

// syncCapabilityRole upserts the member's capability role against the
// organization's owner scope.
func (s *Service) syncCapabilityRole(ctx context.Context, orgID, userID int64, memberRole string) error {
	if s.roles == nil {
		return nil
	}
	scope, err := s.ownerScope(ctx, orgID)
	if err != nil || scope == 0 {
		return err
	}
	return s.roles.SaveActorRole(ctx, rbac.Assignment{
		ActorID:   userID,
		ActorType: identity.ActorUser,
		OwnerID:   scope,
		OwnerKind: identity.OwnerOrganization,
		RoleName:  capabilityRole(memberRole),
	})
}
