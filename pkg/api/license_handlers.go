package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/appvend/appvend/pkg/apperr"
	"github.com/appvend/appvend/pkg/audit"
	"github.com/appvend/appvend/pkg/contextkeys"
	"github.com/appvend/appvend/pkg/httputil"
	"github.com/appvend/appvend/pkg/license"
	"github.com/appvend/appvend/pkg/middleware"
	"github.com/appvend/appvend/pkg/observability"
	"github.com/appvend/appvend/pkg/rbac"
	"github.com/appvend/appvend/pkg/webhooks"
)

// LicenseHandlers serves the license lifecycle: issuance and admin
// transitions for operators, activation and token minting for license
// holders addressing their license by key.
type LicenseHandlers struct {
	licenses *license.Service
	audit    audit.Logger
	metrics  *observability.Metrics
	events   *webhooks.Dispatcher
}

// RegisterRoutes registers license routes. The key-addressed endpoints
// are public: possession of the license key is the credential.
func (h *LicenseHandlers) RegisterRoutes(router *mux.Router) {
	issue := middleware.RequireCapability(rbac.CapLicensesIssue)
	view := middleware.RequireCapability(rbac.CapLicensesView)
	manage := middleware.RequireCapability(rbac.CapLicensesManage)
	revoke := middleware.RequireCapability(rbac.CapLicensesRevoke)

	router.Handle("/licenses", issue(http.HandlerFunc(h.Issue))).Methods("POST")
	router.Handle("/licenses", view(http.HandlerFunc(h.List))).Methods("GET")

	router.HandleFunc("/licenses/activate", h.Activate).Methods("POST")
	router.HandleFunc("/licenses/deactivate", h.Deactivate).Methods("POST")
	router.HandleFunc("/licenses/token", h.IssueToken).Methods("POST")

	router.Handle("/licenses/{id:[0-9]+}", view(http.HandlerFunc(h.Get))).Methods("GET")
	router.Handle("/licenses/{id:[0-9]+}/status", view(http.HandlerFunc(h.Status))).Methods("GET")
	router.Handle("/licenses/{id:[0-9]+}/revoke", revoke(http.HandlerFunc(h.Revoke))).Methods("POST")
	router.Handle("/licenses/{id:[0-9]+}/suspend", manage(http.HandlerFunc(h.Suspend))).Methods("POST")
	router.Handle("/licenses/{id:[0-9]+}/resume", manage(http.HandlerFunc(h.Resume))).Methods("POST")
}

type issueLicenseRequest struct {
	AppID             int64  `json:"app_id"`
	OwnerID           int64  `json:"owner_id"`
	Key               string `json:"key"`
	ServiceID         string `json:"service_id"`
	StartDate         string `json:"start_date"`
	EndDate           string `json:"end_date"`
	MaxAllowedDomains int    `json:"max_allowed_domains"`
}

// Issue creates a license. The owner defaults to the caller's scope and
// dates are RFC 3339.
func (h *LicenseHandlers) Issue(w http.ResponseWriter, r *http.Request) {
	var req issueLicenseRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	l := &license.License{
		AppID:             req.AppID,
		OwnerID:           req.OwnerID,
		Key:               req.Key,
		ServiceID:         req.ServiceID,
		MaxAllowedDomains: req.MaxAllowedDomains,
	}
	if l.OwnerID == 0 {
		l.OwnerID = middleware.Principal(r).OwnerID()
	}
	var perr *apperr.Error
	if l.StartDate, perr = parseDate(req.StartDate, "start_date"); perr != nil {
		httputil.WriteAppError(w, perr)
		return
	}
	if l.EndDate, perr = parseDate(req.EndDate, "end_date"); perr != nil {
		httputil.WriteAppError(w, perr)
		return
	}

	if err := h.licenses.Issue(r.Context(), l); err != nil {
		httputil.WriteError(w, err)
		return
	}
	h.record(r, audit.EventLicenseIssued, audit.StatusSuccess, l.ID, nil)
	h.notify(r, webhooks.EventLicenseIssued, l.OwnerID, map[string]any{
		"license_id": l.ID,
		"app_id":     l.AppID,
	})
	httputil.WriteCreated(w, l)
}

func parseDate(value, field string) (time.Time, *apperr.Error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, apperr.BadRequest(apperr.CodeMissingParameter,
			"date must be RFC 3339").WithData("field", field)
	}
	return t, nil
}

// List returns the licenses of one owner, defaulting to the caller's.
func (h *LicenseHandlers) List(w http.ResponseWriter, r *http.Request) {
	ownerID, err := httputil.QueryInt(r, "owner_id", 0)
	if err != nil {
		httputil.WriteAppError(w, apperr.BadRequest(apperr.CodeMissingParameter, err.Error()))
		return
	}
	owner := int64(ownerID)
	if owner == 0 {
		owner = middleware.Principal(r).OwnerID()
	}
	list, listErr := h.licenses.ForOwner(r.Context(), owner)
	if listErr != nil {
		httputil.WriteError(w, listErr)
		return
	}
	httputil.WriteSuccess(w, list)
}

// Get returns one license by id.
func (h *LicenseHandlers) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.PathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	l, err := h.licenses.ByID(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if l == nil {
		httputil.WriteAppError(w, apperr.NotFound(apperr.CodeLicenseNotFound, "license not found"))
		return
	}
	httputil.WriteSuccess(w, l)
}

// Status returns the effective status derived at call time.
func (h *LicenseHandlers) Status(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.PathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	status, err := h.licenses.GetStatus(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]string{"status": string(status)})
}

// Revoke permanently blocks a license.
func (h *LicenseHandlers) Revoke(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.licenses.Revoke, string(license.StatusRevoked), webhooks.EventLicenseRevoked)
}

// Suspend temporarily blocks a license.
func (h *LicenseHandlers) Suspend(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.licenses.Suspend, string(license.StatusSuspended), webhooks.EventLicenseSuspended)
}

// Resume lifts a suspension.
func (h *LicenseHandlers) Resume(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.licenses.Resume, "resumed", webhooks.EventLicenseResumed)
}

func (h *LicenseHandlers) transition(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, id int64) error, outcome string, event webhooks.EventType) {
	id, ok := httputil.PathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	if err := op(r.Context(), id); err != nil {
		httputil.WriteError(w, err)
		return
	}
	h.record(r, audit.EventLicenseTransition, audit.StatusSuccess, id,
		map[string]any{"to": outcome})
	if l, err := h.licenses.ByID(r.Context(), id); err == nil && l != nil {
		h.notify(r, event, l.OwnerID, map[string]any{"license_id": id, "to": outcome})
	}
	httputil.WriteNoContent(w)
}

type domainRequest struct {
	LicenseKey string `json:"license_key"`
	Domain     string `json:"domain"`
}

// Activate registers a domain against a license addressed by key.
func (h *LicenseHandlers) Activate(w http.ResponseWriter, r *http.Request) {
	l, req, ok := h.resolveByKey(w, r)
	if !ok {
		return
	}
	if err := h.licenses.Activate(r.Context(), l.ID, req.Domain); err != nil {
		h.countActivation("denied")
		httputil.WriteError(w, err)
		return
	}
	h.countActivation("success")
	h.record(r, audit.EventLicenseActivated, audit.StatusSuccess, l.ID,
		map[string]any{"domain": req.Domain})
	h.notify(r, webhooks.EventLicenseActivated, l.OwnerID,
		map[string]any{"license_id": l.ID, "domain": req.Domain})
	httputil.WriteNoContent(w)
}

// Deactivate removes a domain from a license addressed by key.
func (h *LicenseHandlers) Deactivate(w http.ResponseWriter, r *http.Request) {
	l, req, ok := h.resolveByKey(w, r)
	if !ok {
		return
	}
	if err := h.licenses.Deactivate(r.Context(), l.ID, req.Domain); err != nil {
		httputil.WriteError(w, err)
		return
	}
	h.notify(r, webhooks.EventLicenseDeactivated, l.OwnerID,
		map[string]any{"license_id": l.ID, "domain": req.Domain})
	httputil.WriteNoContent(w)
}

func (h *LicenseHandlers) resolveByKey(w http.ResponseWriter, r *http.Request) (*license.License, *domainRequest, bool) {
	var req domainRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return nil, nil, false
	}
	if req.LicenseKey == "" {
		httputil.WriteAppError(w,
			apperr.BadRequest(apperr.CodeMissingParameter, "license_key is required"))
		return nil, nil, false
	}
	l, err := h.licenses.ByKey(r.Context(), req.LicenseKey)
	if err != nil {
		httputil.WriteError(w, err)
		return nil, nil, false
	}
	if l == nil {
		httputil.WriteAppError(w,
			apperr.NotFound(apperr.CodeLicenseNotFound, "license not found"))
		return nil, nil, false
	}
	return l, &req, true
}

type tokenRequest struct {
	LicenseKey string `json:"license_key"`
	TTLSeconds int64  `json:"ttl_seconds"`
}

// defaultTokenTTL bounds tokens minted without an explicit ttl.
const defaultTokenTTL = time.Hour

// IssueToken mints a download token for the app a license covers. Only
// an effectively active license can mint.
func (h *LicenseHandlers) IssueToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.LicenseKey == "" {
		httputil.WriteAppError(w,
			apperr.BadRequest(apperr.CodeMissingParameter, "license_key is required"))
		return
	}
	ttl := defaultTokenTTL
	if req.TTLSeconds > 0 {
		ttl = time.Duration(req.TTLSeconds) * time.Second
	}
	token, err := h.licenses.IssueTokenForKey(r.Context(), req.LicenseKey, ttl)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if h.metrics != nil {
		h.metrics.TokensIssuedTotal.Inc()
	}
	h.record(r, audit.EventTokenIssued, audit.StatusSuccess, 0, nil)
	httputil.WriteCreated(w, map[string]any{
		"token":      token,
		"expires_in": int64(ttl.Seconds()),
	})
}

// notify dispatches a webhook event. Delivery is asynchronous and
// never fails the request.
func (h *LicenseHandlers) notify(r *http.Request, t webhooks.EventType, ownerID int64, data map[string]any) {
	if h.events == nil {
		return
	}
	if err := h.events.Dispatch(r.Context(), webhooks.NewEvent(t, ownerID, data)); err != nil {
		observability.FromContext(r.Context()).WithError(err).Warn("webhook dispatch failed")
	}
}

func (h *LicenseHandlers) countActivation(status string) {
	if h.metrics != nil {
		h.metrics.LicenseActivationsTotal.WithLabelValues(status).Inc()
	}
}

// record writes an audit event. Audit failures never fail the request.
func (h *LicenseHandlers) record(r *http.Request, typ audit.EventType, status audit.Status, licenseID int64, detail map[string]any) {
	event := &audit.Event{
		Type:      typ,
		Status:    status,
		RequestID: contextkeys.GetRequestID(r.Context()),
		Detail:    detail,
	}
	if licenseID > 0 {
		event.Resource = "license:" + strconv.FormatInt(licenseID, 10)
	}
	if principal := middleware.Principal(r); principal != nil {
		event.ActorID = principal.Actor.ActorID()
		event.ActorType = string(principal.Actor.Type())
		event.OwnerID = principal.OwnerID()
	}
	_ = h.audit.Log(r.Context(), event)
}
