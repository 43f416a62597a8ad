package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/appvend/appvend/pkg/apperr"
	"github.com/appvend/appvend/pkg/apps"
	"github.com/appvend/appvend/pkg/httputil"
	"github.com/appvend/appvend/pkg/middleware"
	"github.com/appvend/appvend/pkg/rbac"
)

// AppHandlers serves the hosted application catalog.
type AppHandlers struct {
	apps *apps.Store
}

// RegisterRoutes registers catalog routes.
func (h *AppHandlers) RegisterRoutes(router *mux.Router) {
	manage := middleware.RequireCapability(rbac.CapAppsManage)
	view := middleware.RequireCapability(rbac.CapAppsView)

	router.Handle("/apps", manage(http.HandlerFunc(h.Create))).Methods("POST")
	router.Handle("/apps", view(http.HandlerFunc(h.List))).Methods("GET")
	router.HandleFunc("/apps/{type}/{slug}", h.Get).Methods("GET")
	router.Handle("/apps/{type}/{slug}", manage(http.HandlerFunc(h.Update))).Methods("PUT")
}

type appRequest struct {
	OwnerID   int64  `json:"owner_id"`
	Type      string `json:"type"`
	Name      string `json:"name"`
	Slug      string `json:"slug"`
	Version   string `json:"version"`
	Monetized bool   `json:"monetized"`
	FileKey   string `json:"file_key"`
}

// Create registers a new app under the principal's owner scope.
func (h *AppHandlers) Create(w http.ResponseWriter, r *http.Request) {
	var req appRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	app := &apps.App{
		OwnerID:   req.OwnerID,
		Type:      apps.Type(req.Type),
		Name:      req.Name,
		Slug:      req.Slug,
		Version:   req.Version,
		Monetized: req.Monetized,
		FileKey:   req.FileKey,
	}
	if app.OwnerID == 0 {
		app.OwnerID = middleware.Principal(r).OwnerID()
	}
	if err := h.apps.Create(r.Context(), app); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteCreated(w, app)
}

// List returns the apps of one owner, defaulting to the principal's.
func (h *AppHandlers) List(w http.ResponseWriter, r *http.Request) {
	ownerID, err := httputil.QueryInt(r, "owner_id", 0)
	if err != nil {
		httputil.WriteAppError(w, apperr.BadRequest(apperr.CodeMissingParameter, err.Error()))
		return
	}
	owner := int64(ownerID)
	if owner == 0 {
		owner = middleware.Principal(r).OwnerID()
	}
	list, listErr := h.apps.ForOwner(r.Context(), owner)
	if listErr != nil {
		httputil.WriteError(w, listErr)
		return
	}
	httputil.WriteSuccess(w, list)
}

// Get returns one catalog entry. Catalog reads are public.
func (h *AppHandlers) Get(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	app, err := h.apps.BySlug(r.Context(), apps.Type(vars["type"]), vars["slug"])
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if app == nil {
		httputil.WriteAppError(w, apperr.NotFound(apperr.CodeAppNotFound, "app not found"))
		return
	}
	httputil.WriteSuccess(w, app)
}

// Update modifies an existing catalog entry addressed by type and slug.
func (h *AppHandlers) Update(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	app, err := h.apps.BySlug(r.Context(), apps.Type(vars["type"]), vars["slug"])
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if app == nil {
		httputil.WriteAppError(w, apperr.NotFound(apperr.CodeAppNotFound, "app not found"))
		return
	}

	var req appRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Name != "" {
		app.Name = req.Name
	}
	if req.Version != "" {
		app.Version = req.Version
	}
	if req.FileKey != "" {
		app.FileKey = req.FileKey
	}
	app.Monetized = req.Monetized

	if err := h.apps.Update(r.Context(), app); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, app)
}
