package orgs

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/appvend/appvend/pkg/apperr"
	"github.com/appvend/appvend/pkg/database"
)

// InviteTTL is how long an invitation stays acceptable.
const InviteTTL = 7 * 24 * time.Hour

// Invitation is a pending offer to join an organization. The token is
// single use and shared out of band with the invitee.
type Invitation struct {
	ID         int64      `json:"id"`
	OrgID      int64      `json:"org_id"`
	Email      string     `json:"email"`
	MemberRole string     `json:"member_role"`
	Token      string     `json:"token"`
	InvitedBy  int64      `json:"invited_by"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
	AcceptedAt *time.Time `json:"accepted_at,omitempty"`
	AcceptedBy *int64     `json:"accepted_by,omitempty"`
}

// Expired reports whether the invitation can no longer be accepted.
func (i *Invitation) Expired(now time.Time) bool {
	return now.After(i.ExpiresAt)
}

// Invite creates a pending invitation. At most one pending invitation
// per organization and email address exists at a time.
func (s *Service) Invite(ctx context.Context, orgID int64, email, memberRole string, invitedBy int64) (*Invitation, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, apperr.Unprocessable(apperr.CodeMissingFields, "a valid email address is required").
			WithData("email", email)
	}
	if !ValidMemberRole(memberRole) {
		return nil, apperr.Unprocessable(apperr.CodeMissingFields, "unknown membership role").
			WithData("member_role", memberRole)
	}
	if err := s.requireOrg(ctx, orgID); err != nil {
		return nil, err
	}

	pending, err := s.db.GetVar(ctx, `
		SELECT id FROM org_invitations
		WHERE org_id = ? AND email = ? AND accepted_at IS NULL AND expires_at > ?`,
		orgID, email, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to check pending invitations: %w", err)
	}
	if pending != nil {
		return nil, apperr.Conflict(apperr.CodeMemberExists, "an invitation for this email is already pending").
			WithData("org_id", orgID).WithData("email", email)
	}

	token, err := generateToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate invitation token: %w", err)
	}
	now := time.Now().UTC()
	inv := &Invitation{
		OrgID:      orgID,
		Email:      email,
		MemberRole: memberRole,
		Token:      token,
		InvitedBy:  invitedBy,
		CreatedAt:  now,
		ExpiresAt:  now.Add(InviteTTL),
	}
	inv.ID, err = s.db.Insert(ctx, "org_invitations", map[string]any{
		"org_id":      inv.OrgID,
		"email":       inv.Email,
		"member_role": inv.MemberRole,
		"token":       inv.Token,
		"invited_by":  inv.InvitedBy,
		"created_at":  inv.CreatedAt,
		"expires_at":  inv.ExpiresAt,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create invitation: %w", err)
	}
	return inv, nil
}

// InvitationByToken loads an invitation by its token.
func (s *Service) InvitationByToken(ctx context.Context, token string) (*Invitation, error) {
	row, err := s.db.GetRow(ctx, "SELECT * FROM org_invitations WHERE token = ?", token)
	if err != nil {
		return nil, fmt.Errorf("failed to load invitation: %w", err)
	}
	if row == nil {
		return nil, apperr.NotFound(apperr.CodeInvitationNotFound, "invitation does not exist")
	}
	return invitationFromRow(row), nil
}

// PendingInvitations lists the open invitations of an organization,
// newest first.
func (s *Service) PendingInvitations(ctx context.Context, orgID int64) ([]*Invitation, error) {
	rows, err := s.db.GetResults(ctx, `
		SELECT * FROM org_invitations
		WHERE org_id = ? AND accepted_at IS NULL AND expires_at > ?
		ORDER BY id DESC`, orgID, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to list invitations: %w", err)
	}
	invitations := make([]*Invitation, 0, len(rows))
	for _, row := range rows {
		invitations = append(invitations, invitationFromRow(row))
	}
	return invitations, nil
}

// Accept redeems an invitation for the given user. The membership row
// and the invitation update commit together; a token can therefore be
// redeemed at most once.
func (s *Service) Accept(ctx context.Context, token string, userID int64) (*Invitation, error) {
	inv, err := s.InvitationByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	if inv.AcceptedAt != nil {
		return nil, apperr.Conflict(apperr.CodeInvitationAccepted, "invitation was already accepted")
	}
	if inv.Expired(now) {
		return nil, apperr.Conflict(apperr.CodeInvitationExpired, "invitation has expired").
			WithData("expired_at", inv.ExpiresAt)
	}

	err = database.WithTx(ctx, s.db, func(tx database.Tx) error {
		existing, err := tx.GetVar(ctx,
			"SELECT id FROM organization_members WHERE org_id = ? AND user_id = ?", inv.OrgID, userID)
		if err != nil {
			return fmt.Errorf("failed to check membership: %w", err)
		}
		if existing != nil {
			return apperr.Conflict(apperr.CodeMemberExists, "user is already a member").
				WithData("org_id", inv.OrgID).WithData("user_id", userID)
		}
		if _, err := tx.Insert(ctx, "organization_members", map[string]any{
			"org_id":          inv.OrgID,
			"user_id":         userID,
			"member_role":     inv.MemberRole,
			"joined_at":       now,
			"role_updated_at": now,
		}); err != nil {
			return fmt.Errorf("failed to add member: %w", err)
		}
		affected, err := tx.Exec(ctx,
			"UPDATE org_invitations SET accepted_at = ?, accepted_by = ? WHERE id = ? AND accepted_at IS NULL",
			now, userID, inv.ID)
		if err != nil {
			return fmt.Errorf("failed to mark invitation accepted: %w", err)
		}
		if affected == 0 {
			return apperr.Conflict(apperr.CodeInvitationAccepted, "invitation was already accepted")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	inv.AcceptedAt = &now
	inv.AcceptedBy = &userID
	if err := s.syncCapabilityRole(ctx, inv.OrgID, userID, inv.MemberRole); err != nil {
		return nil, err
	}
	return inv, nil
}

// Revoke withdraws a pending invitation. Accepted invitations cannot be
// revoked.
func (s *Service) Revoke(ctx context.Context, id int64) error {
	affected, err := s.db.Exec(ctx,
		"DELETE FROM org_invitations WHERE id = ? AND accepted_at IS NULL", id)
	if err != nil {
		return fmt.Errorf("failed to revoke invitation: %w", err)
	}
	if affected == 0 {
		return apperr.NotFound(apperr.CodeInvitationNotFound, "no pending invitation with this id").
			WithData("id", id)
	}
	return nil
}

// PurgeExpiredInvitations deletes invitations past their expiry that
// were never accepted and returns the purge count.
func (s *Service) PurgeExpiredInvitations(ctx context.Context) (int64, error) {
	affected, err := s.db.Exec(ctx,
		"DELETE FROM org_invitations WHERE accepted_at IS NULL AND expires_at <= ?", time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to purge invitations: %w", err)
	}
	return affected, nil
}

func invitationFromRow(row map[string]any) *Invitation {
	inv := &Invitation{
		ID:         database.Int64(row, "id"),
		OrgID:      database.Int64(row, "org_id"),
		Email:      database.String(row, "email"),
		MemberRole: database.String(row, "member_role"),
		Token:      database.String(row, "token"),
		InvitedBy:  database.Int64(row, "invited_by"),
		CreatedAt:  database.Time(row, "created_at"),
		ExpiresAt:  database.Time(row, "expires_at"),
	}
	if row["accepted_at"] != nil {
		t := database.Time(row, "accepted_at")
		inv.AcceptedAt = &t
		by := database.Int64(row, "accepted_by")
		inv.AcceptedBy = &by
	}
	return inv
}

func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
