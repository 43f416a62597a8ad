package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/appvend/appvend/pkg/apperr"
	"github.com/appvend/appvend/pkg/httputil"
	"github.com/appvend/appvend/pkg/middleware"
	"github.com/appvend/appvend/pkg/rbac"
	"github.com/appvend/appvend/pkg/webhooks"
)

// WebhookHandlers manages webhook subscriptions. The dispatcher is
// optional; without one the delivery log endpoints return empty data.
type WebhookHandlers struct {
	subs       *webhooks.SubscriptionStore
	dispatcher *webhooks.Dispatcher
}

// RegisterRoutes registers subscription management, all gated on the
// messaging capability.
func (h *WebhookHandlers) RegisterRoutes(router *mux.Router) {
	manage := middleware.RequireCapability(rbac.CapMessagingManage)

	router.Handle("/webhooks/events", manage(http.HandlerFunc(h.Events))).Methods("GET")
	router.Handle("/webhooks", manage(http.HandlerFunc(h.Create))).Methods("POST")
	router.Handle("/webhooks", manage(http.HandlerFunc(h.List))).Methods("GET")
	router.Handle("/webhooks/{id:[0-9]+}", manage(http.HandlerFunc(h.Get))).Methods("GET")
	router.Handle("/webhooks/{id:[0-9]+}", manage(http.HandlerFunc(h.Update))).Methods("PUT")
	router.Handle("/webhooks/{id:[0-9]+}", manage(http.HandlerFunc(h.Delete))).Methods("DELETE")
	router.Handle("/webhooks/{id:[0-9]+}/activate", manage(http.HandlerFunc(h.Activate))).Methods("POST")
	router.Handle("/webhooks/{id:[0-9]+}/deactivate", manage(http.HandlerFunc(h.Deactivate))).Methods("POST")
	router.Handle("/webhooks/{id:[0-9]+}/deliveries", manage(http.HandlerFunc(h.Deliveries))).Methods("GET")
}

type webhookRequest struct {
	OwnerID     int64    `json:"owner_id"`
	URL         string   `json:"url"`
	Events      []string `json:"events"`
	Secret      string   `json:"secret"`
	Description string   `json:"description"`
}

func (req *webhookRequest) subscription() *webhooks.Subscription {
	sub := &webhooks.Subscription{
		OwnerID:     req.OwnerID,
		URL:         req.URL,
		Secret:      req.Secret,
		Description: req.Description,
	}
	for _, e := range req.Events {
		sub.Events = append(sub.Events, webhooks.EventType(e))
	}
	return sub
}

// Create registers a subscription. The owner defaults to the caller's
// scope.
func (h *WebhookHandlers) Create(w http.ResponseWriter, r *http.Request) {
	var req webhookRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	sub := req.subscription()
	if sub.OwnerID == 0 {
		sub.OwnerID = middleware.Principal(r).OwnerID()
	}
	if err := h.subs.Create(r.Context(), sub); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteCreated(w, sub)
}

// List returns the subscriptions of one owner, defaulting to the
// caller's.
func (h *WebhookHandlers) List(w http.ResponseWriter, r *http.Request) {
	ownerID, err := httputil.QueryInt(r, "owner_id", 0)
	if err != nil {
		httputil.WriteAppError(w, apperr.BadRequest(apperr.CodeMissingParameter, err.Error()))
		return
	}
	owner := int64(ownerID)
	if owner == 0 {
		owner = middleware.Principal(r).OwnerID()
	}
	subs, listErr := h.subs.ForOwner(r.Context(), owner)
	if listErr != nil {
		httputil.WriteError(w, listErr)
		return
	}
	httputil.WriteSuccess(w, subs)
}

// Get returns one subscription.
func (h *WebhookHandlers) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.PathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	sub, err := h.subs.ByID(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, sub)
}

// Update patches URL, event list, secret and description.
func (h *WebhookHandlers) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.PathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req webhookRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	sub := req.subscription()
	sub.ID = id
	if err := h.subs.Update(r.Context(), sub); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, sub)
}

// Delete removes a subscription.
func (h *WebhookHandlers) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.PathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	if err := h.subs.Delete(r.Context(), id); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// Activate resumes delivery for a paused subscription.
func (h *WebhookHandlers) Activate(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, true)
}

// Deactivate pauses delivery without losing configuration.
func (h *WebhookHandlers) Deactivate(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, false)
}

func (h *WebhookHandlers) setActive(w http.ResponseWriter, r *http.Request, active bool) {
	id, ok := httputil.PathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	if err := h.subs.SetActive(r.Context(), id, active); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// Deliveries returns the recent delivery log and stats for a
// subscription.
func (h *WebhookHandlers) Deliveries(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.PathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	if _, err := h.subs.ByID(r.Context(), id); err != nil {
		httputil.WriteError(w, err)
		return
	}
	limit, err := httputil.QueryInt(r, "limit", 50)
	if err != nil {
		httputil.WriteAppError(w, apperr.BadRequest(apperr.CodeMissingParameter, err.Error()))
		return
	}
	out := map[string]any{
		"deliveries": []*webhooks.Delivery{},
		"stats":      webhooks.Stats{SubscriptionID: id},
	}
	if h.dispatcher != nil {
		out["deliveries"] = h.dispatcher.Deliveries(id, limit)
		out["stats"] = h.dispatcher.StatsFor(id)
	}
	httputil.WriteSuccess(w, out)
}

// Events lists the event types a subscription can select.
func (h *WebhookHandlers) Events(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, webhooks.AllEvents())
}
