package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/appvend/appvend/pkg/httputil"
	"github.com/appvend/appvend/pkg/middleware"
	"github.com/appvend/appvend/pkg/orgs"
	"github.com/appvend/appvend/pkg/rbac"
)

// OrgHandlers manages organization membership and invitations.
type OrgHandlers struct {
	orgs *orgs.Service
}

// RegisterRoutes mounts membership management. Accepting an invitation
// only needs an authenticated caller; everything else requires the
// member-management capability.
func (h *OrgHandlers) RegisterRoutes(router *mux.Router) {
	manage := middleware.RequireCapability(rbac.CapSecurityMembersManage)

	router.Handle("/orgs/{id:[0-9]+}/members", manage(http.HandlerFunc(h.Members))).Methods("GET")
	router.Handle("/orgs/{id:[0-9]+}/members", manage(http.HandlerFunc(h.AddMember))).Methods("POST")
	router.Handle("/orgs/{id:[0-9]+}/members/{user:[0-9]+}", manage(http.HandlerFunc(h.UpdateMember))).Methods("PUT")
	router.Handle("/orgs/{id:[0-9]+}/members/{user:[0-9]+}", manage(http.HandlerFunc(h.RemoveMember))).Methods("DELETE")
	router.Handle("/orgs/{id:[0-9]+}/invitations", manage(http.HandlerFunc(h.Invite))).Methods("POST")
	router.Handle("/orgs/{id:[0-9]+}/invitations", manage(http.HandlerFunc(h.Invitations))).Methods("GET")
	router.Handle("/invitations/accept", middleware.RequireAuthenticated(http.HandlerFunc(h.Accept))).Methods("POST")
	router.Handle("/invitations/{id:[0-9]+}", manage(http.HandlerFunc(h.Revoke))).Methods("DELETE")
}

// Members lists the members of an organization.
func (h *OrgHandlers) Members(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.PathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	members, err := h.orgs.Members(r.Context(), orgID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, members.All())
}

type memberRequest struct {
	UserID int64  `json:"user_id"`
	Role   string `json:"role"`
}

// AddMember adds an existing user to the organization.
func (h *OrgHandlers) AddMember(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.PathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req memberRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	member, err := h.orgs.AddMember(r.Context(), orgID, req.UserID, req.Role)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteCreated(w, member)
}

// UpdateMember changes a member's role.
func (h *OrgHandlers) UpdateMember(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.PathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	userID, ok := httputil.PathInt64OrError(w, r, "user")
	if !ok {
		return
	}
	var req memberRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if err := h.orgs.UpdateMemberRole(r.Context(), orgID, userID, req.Role); err != nil {
		httputil.WriteError(w, err)
		return
	}
	member, err := h.orgs.Member(r.Context(), orgID, userID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, member)
}

// RemoveMember removes a member from the organization.
func (h *OrgHandlers) RemoveMember(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.PathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	userID, ok := httputil.PathInt64OrError(w, r, "user")
	if !ok {
		return
	}
	if err := h.orgs.RemoveMember(r.Context(), orgID, userID); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

type inviteRequest struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

// Invite creates an invitation. The inviting actor is recorded on it.
func (h *OrgHandlers) Invite(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.PathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req inviteRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	invitedBy := middleware.Principal(r).Actor.ActorID()
	inv, err := h.orgs.Invite(r.Context(), orgID, req.Email, req.Role, invitedBy)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteCreated(w, inv)
}

// Invitations lists the open invitations of an organization.
func (h *OrgHandlers) Invitations(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.PathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	pending, err := h.orgs.PendingInvitations(r.Context(), orgID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, pending)
}

// Accept redeems an invitation token for the calling user.
func (h *OrgHandlers) Accept(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	userID := middleware.Principal(r).Actor.ActorID()
	inv, err := h.orgs.Accept(r.Context(), req.Token, userID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, inv)
}

// Revoke withdraws a pending invitation.
func (h *OrgHandlers) Revoke(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.PathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	if err := h.orgs.Revoke(r.Context(), id); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}
