package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/appvend/appvend/pkg/apperr"
	"github.com/appvend/appvend/pkg/audit"
	"github.com/appvend/appvend/pkg/contextkeys"
	"github.com/appvend/appvend/pkg/httputil"
	"github.com/appvend/appvend/pkg/identity"
	"github.com/appvend/appvend/pkg/middleware"
	"github.com/appvend/appvend/pkg/rbac"
)

// RoleHandlers administers roles and role assignments.
type RoleHandlers struct {
	roles *rbac.AssignmentStore
	audit audit.Logger
}

// RegisterRoutes registers role administration routes. The capability
// catalog route must precede the name route or mux would swallow it.
func (h *RoleHandlers) RegisterRoutes(router *mux.Router) {
	manage := middleware.RequireCapability(rbac.CapSecurityRolesManage)

	router.Handle("/roles", manage(http.HandlerFunc(h.CreateRole))).Methods("POST")
	router.Handle("/roles/capabilities", manage(http.HandlerFunc(h.Capabilities))).Methods("GET")
	router.Handle("/roles/assignments", manage(http.HandlerFunc(h.Assign))).Methods("PUT")
	router.Handle("/roles/assignments", manage(http.HandlerFunc(h.Unassign))).Methods("DELETE")
	router.Handle("/roles/{name}", manage(http.HandlerFunc(h.GetRole))).Methods("GET")
}

type roleRequest struct {
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Capabilities []string `json:"capabilities"`
}

// CreateRole persists a custom role. Canonical role names are reserved.
func (h *RoleHandlers) CreateRole(w http.ResponseWriter, r *http.Request) {
	var req roleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if rbac.CanonicalRole(req.Name) != nil {
		httputil.WriteAppError(w, apperr.Conflict(apperr.CodeMissingFields,
			"role name is reserved").WithData("role", req.Name))
		return
	}
	role, err := rbac.NewRole(req.Name, req.Description, req.Capabilities)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := h.roles.CreateRole(r.Context(), role); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteCreated(w, role)
}

// GetRole returns a role by name, canonical or custom.
func (h *RoleHandlers) GetRole(w http.ResponseWriter, r *http.Request) {
	name, ok := httputil.PathStringOrError(w, r, "name")
	if !ok {
		return
	}
	role, err := h.roles.RoleByName(r.Context(), name)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if role == nil {
		httputil.WriteAppError(w, apperr.NotFound(apperr.CodeRoleNotFound, "role not found"))
		return
	}
	httputil.WriteSuccess(w, role)
}

// Capabilities lists the capability registry with descriptions.
func (h *RoleHandlers) Capabilities(w http.ResponseWriter, r *http.Request) {
	caps := rbac.All()
	out := make([]map[string]string, 0, len(caps))
	for _, cap := range caps {
		out = append(out, map[string]string{
			"name":        cap,
			"description": rbac.Describe(cap),
		})
	}
	httputil.WriteSuccess(w, out)
}

type assignmentRequest struct {
	ActorID   int64  `json:"actor_id"`
	ActorType string `json:"actor_type"`
	OwnerID   int64  `json:"owner_id"`
	OwnerKind string `json:"owner_kind"`
	RoleName  string `json:"role_name"`
}

// Assign upserts the role an actor holds against an owner.
func (h *RoleHandlers) Assign(w http.ResponseWriter, r *http.Request) {
	var req assignmentRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	assignment := rbac.Assignment{
		ActorID:   req.ActorID,
		ActorType: identity.ActorType(req.ActorType),
		OwnerID:   req.OwnerID,
		OwnerKind: identity.OwnerKind(req.OwnerKind),
		RoleName:  req.RoleName,
	}
	if err := h.roles.SaveActorRole(r.Context(), assignment); err != nil {
		httputil.WriteError(w, err)
		return
	}
	h.record(r, audit.EventRoleAssigned, map[string]any{
		"actor_id": req.ActorID, "owner_id": req.OwnerID, "role": req.RoleName,
	})
	httputil.WriteNoContent(w)
}

// Unassign removes the role assignment for an (actor, owner) pair.
func (h *RoleHandlers) Unassign(w http.ResponseWriter, r *http.Request) {
	var req assignmentRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.ActorID <= 0 || req.ActorType == "" || req.OwnerID <= 0 {
		httputil.WriteAppError(w, apperr.BadRequest(apperr.CodeMissingParameter,
			"actor_id, actor_type and owner_id are required"))
		return
	}
	err := h.roles.RemoveActorRole(r.Context(), req.ActorID,
		identity.ActorType(req.ActorType), req.OwnerID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	h.record(r, audit.EventRoleRemoved, map[string]any{
		"actor_id": req.ActorID, "owner_id": req.OwnerID,
	})
	httputil.WriteNoContent(w)
}

func (h *RoleHandlers) record(r *http.Request, typ audit.EventType, detail map[string]any) {
	event := &audit.Event{
		Type:      typ,
		Status:    audit.StatusSuccess,
		RequestID: contextkeys.GetRequestID(r.Context()),
		Detail:    detail,
	}
	if principal := middleware.Principal(r); principal != nil {
		event.ActorID = principal.Actor.ActorID()
		event.ActorType = string(principal.Actor.Type())
		event.OwnerID = principal.OwnerID()
	}
	_ = h.audit.Log(r.Context(), event)
}
