package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/appvend/appvend/pkg/audit"
	"github.com/appvend/appvend/pkg/contextkeys"
	"github.com/appvend/appvend/pkg/files"
	"github.com/appvend/appvend/pkg/httputil"
	"github.com/appvend/appvend/pkg/middleware"
	"github.com/appvend/appvend/pkg/observability"
	"github.com/appvend/appvend/pkg/webhooks"
)

// DownloadHandlers bridges HTTP onto the download pipeline. Requests are
// flattened into pipeline parameters here; all gating decisions happen
// inside the pipeline.
type DownloadHandlers struct {
	pipeline *files.Pipeline
	audit    audit.Logger
	metrics  *observability.Metrics
	events   *webhooks.Dispatcher
}

// RegisterRoutes registers the download endpoints. All of them are
// public at the routing layer; monetized content is gated by token
// inside the pipeline.
func (h *DownloadHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/apps/{type}/{slug}/download", h.AppPackage).Methods("GET")
	router.HandleFunc("/apps/{type}/{slug}/download/admin", h.AdminAppPackage).Methods("GET")
	router.HandleFunc("/assets/{type}/{slug}/{file}", h.StaticAsset).Methods("GET")
	router.HandleFunc("/proxy", h.ProxyAsset).Methods("GET")
	router.HandleFunc("/licenses/{license_key}/document", h.LicenseDocument).Methods("GET")
}

// AppPackage serves a hosted application package.
func (h *DownloadHandlers) AppPackage(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, h.pipeline.AppPackage(r.Context(), pipelineRequest(r)))
}

// AdminAppPackage serves a package to an operator, bypassing the token
// gate on capability.
func (h *DownloadHandlers) AdminAppPackage(w http.ResponseWriter, r *http.Request) {
	resp := h.pipeline.AdminAppPackage(r.Context(), middleware.Principal(r), pipelineRequest(r))
	h.serve(w, r, resp)
}

// StaticAsset serves an unmonetized per-app asset.
func (h *DownloadHandlers) StaticAsset(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, h.pipeline.StaticAsset(r.Context(), pipelineRequest(r)))
}

// ProxyAsset relays an external asset.
func (h *DownloadHandlers) ProxyAsset(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, h.pipeline.ProxyAsset(r.Context(), pipelineRequest(r)))
}

// LicenseDocument renders a license certificate, token-gated like a
// package download.
func (h *DownloadHandlers) LicenseDocument(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, h.pipeline.LicenseDocument(r.Context(), pipelineRequest(r)))
}

// pipelineRequest flattens route variables and the query string into
// pipeline parameters. Route variables win on collision.
func pipelineRequest(r *http.Request) *files.Request {
	params := map[string]string{}
	for key, values := range r.URL.Query() {
		if len(values) > 0 {
			params[key] = values[0]
		}
	}
	for key, value := range mux.Vars(r) {
		params[key] = value
	}
	return files.NewRequest(params, r.Header)
}

func (h *DownloadHandlers) serve(w http.ResponseWriter, r *http.Request, resp *files.Response) {
	appType := mux.Vars(r)["type"]
	if appType == "" {
		appType = "none"
	}

	if resp.Err != nil {
		if h.metrics != nil {
			h.metrics.DownloadDeniedTotal.WithLabelValues(appType, resp.Err.Code).Inc()
		}
		h.record(r, audit.EventDownloadDenied, audit.StatusDenied, resp.Err.Code)
		if resp.App != nil {
			h.notify(r, webhooks.EventDownloadDenied, resp.App.OwnerID, map[string]any{
				"app_id": resp.App.ID,
				"slug":   resp.App.Slug,
				"code":   resp.Err.Code,
			})
		}
		httputil.WriteAppError(w, resp.Err)
		return
	}

	if err := resp.Send(w); err != nil {
		// Headers are gone by now; the stream failure is only observable.
		observability.FromContext(r.Context()).WithError(err).Error("download stream failed")
		return
	}

	if h.metrics != nil {
		monetized := "false"
		if resp.App != nil {
			appType = string(resp.App.Type)
			monetized = strconv.FormatBool(resp.App.Monetized)
		}
		h.metrics.DownloadsTotal.WithLabelValues(appType, monetized).Inc()
		if size := resp.Size(); size > 0 {
			h.metrics.DownloadBytesTotal.WithLabelValues(appType).Add(float64(size))
		}
	}
	h.record(r, audit.EventDownload, audit.StatusSuccess, "")
	if resp.App != nil {
		h.notify(r, webhooks.EventDownloadCompleted, resp.App.OwnerID, map[string]any{
			"app_id": resp.App.ID,
			"slug":   resp.App.Slug,
			"bytes":  resp.Size(),
		})
	}
}

// notify dispatches a webhook event. Delivery is asynchronous and never
// fails the request.
func (h *DownloadHandlers) notify(r *http.Request, t webhooks.EventType, ownerID int64, data map[string]any) {
	if h.events == nil {
		return
	}
	if err := h.events.Dispatch(r.Context(), webhooks.NewEvent(t, ownerID, data)); err != nil {
		observability.FromContext(r.Context()).WithError(err).Warn("webhook dispatch failed")
	}
}

func (h *DownloadHandlers) record(r *http.Request, typ audit.EventType, status audit.Status, code string) {
	event := &audit.Event{
		Type:      typ,
		Status:    status,
		Resource:  r.URL.Path,
		RequestID: contextkeys.GetRequestID(r.Context()),
	}
	if code != "" {
		event.Detail = map[string]any{"code": code}
	}
	if principal := middleware.Principal(r); principal != nil {
		event.ActorID = principal.Actor.ActorID()
		event.ActorType = string(principal.Actor.Type())
		event.OwnerID = principal.OwnerID()
	}
	_ = h.audit.Log(r.Context(), event)
}
