package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/appvend/appvend/pkg/apperr"
	"github.com/appvend/appvend/pkg/auth"
	"github.com/appvend/appvend/pkg/httputil"
	"github.com/appvend/appvend/pkg/identity"
	"github.com/appvend/appvend/pkg/middleware"
	"github.com/appvend/appvend/pkg/rbac"
)

// ServiceAccountHandlers manages service accounts and their API keys.
// The plaintext compound key appears in exactly two responses: creation
// and rotation. It is never readable afterwards.
type ServiceAccountHandlers struct {
	identities *identity.Store
	keyring    *auth.Keyring
}

// RegisterRoutes registers service account routes.
func (h *ServiceAccountHandlers) RegisterRoutes(router *mux.Router) {
	manage := middleware.RequireCapability(rbac.CapSecurityAccountsManage)

	router.Handle("/service-accounts", manage(http.HandlerFunc(h.Create))).Methods("POST")
	router.Handle("/service-accounts/{id:[0-9]+}", manage(http.HandlerFunc(h.Get))).Methods("GET")
	router.Handle("/service-accounts/{id:[0-9]+}/rotate", manage(http.HandlerFunc(h.Rotate))).Methods("POST")
}

type serviceAccountRequest struct {
	OwnerID    int64  `json:"owner_id"`
	Identifier string `json:"identifier"`
}

type serviceAccountKeyResponse struct {
	Account *identity.ServiceAccount `json:"account"`
	APIKey  string                   `json:"api_key"`
}

// Create provisions a service account and returns its compound key once.
// The key payload embeds the account id, so the account is persisted
// first and the hash written in a second step.
func (h *ServiceAccountHandlers) Create(w http.ResponseWriter, r *http.Request) {
	var req serviceAccountRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Identifier == "" {
		httputil.WriteAppError(w,
			apperr.BadRequest(apperr.CodeMissingParameter, "identifier is required"))
		return
	}
	account := &identity.ServiceAccount{
		OwnerID:    req.OwnerID,
		Identifier: req.Identifier,
	}
	if account.OwnerID == 0 {
		account.OwnerID = middleware.Principal(r).OwnerID()
	}
	if err := h.identities.CreateServiceAccount(r.Context(), account); err != nil {
		httputil.WriteError(w, err)
		return
	}
	key, err := h.keyring.Generate(account)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := h.identities.RotateServiceAccountKey(r.Context(), account.ID, account.KeyHash); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteCreated(w, serviceAccountKeyResponse{Account: account, APIKey: key})
}

// Get returns a service account. The key hash is never serialized.
func (h *ServiceAccountHandlers) Get(w http.ResponseWriter, r *http.Request) {
	account, ok := h.load(w, r)
	if !ok {
		return
	}
	httputil.WriteSuccess(w, account)
}

// Rotate replaces the account's key and returns the new compound key
// once. The old key stops verifying immediately.
func (h *ServiceAccountHandlers) Rotate(w http.ResponseWriter, r *http.Request) {
	account, ok := h.load(w, r)
	if !ok {
		return
	}
	key, err := h.keyring.Generate(account)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := h.identities.RotateServiceAccountKey(r.Context(), account.ID, account.KeyHash); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, serviceAccountKeyResponse{Account: account, APIKey: key})
}

func (h *ServiceAccountHandlers) load(w http.ResponseWriter, r *http.Request) (*identity.ServiceAccount, bool) {
	id, ok := httputil.PathInt64OrError(w, r, "id")
	if !ok {
		return nil, false
	}
	account, err := h.identities.ServiceAccountByID(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return nil, false
	}
	if account == nil {
		httputil.WriteAppError(w,
			apperr.NotFound(apperr.CodeAccountNotFound, "service account not found"))
		return nil, false
	}
	return account, true
}
