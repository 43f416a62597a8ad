package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/appvend/appvend/pkg/analytics"
	"github.com/appvend/appvend/pkg/apperr"
	"github.com/appvend/appvend/pkg/httputil"
	"github.com/appvend/appvend/pkg/middleware"
	"github.com/appvend/appvend/pkg/observability"
	"github.com/appvend/appvend/pkg/rbac"
)

// AnalyticsHandlers exposes the usage aggregates.
type AnalyticsHandlers struct {
	analytics *analytics.Service
}

// RegisterRoutes registers the analytics endpoints. Reading aggregates
// and exporting them are separate capabilities.
func (h *AnalyticsHandlers) RegisterRoutes(router *mux.Router) {
	view := middleware.RequireCapability(rbac.CapAnalyticsView)
	export := middleware.RequireCapability(rbac.CapAnalyticsExport)

	router.Handle("/analytics/overview", view(http.HandlerFunc(h.Overview))).Methods("GET")
	router.Handle("/analytics/apps", view(http.HandlerFunc(h.TopApps))).Methods("GET")
	router.Handle("/analytics/export", export(http.HandlerFunc(h.Export))).Methods("GET")
}

// Overview returns the installation-wide KPI set.
func (h *AnalyticsHandlers) Overview(w http.ResponseWriter, r *http.Request) {
	overview, err := h.analytics.Overview(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, overview)
}

// TopApps returns the download leaderboard.
func (h *AnalyticsHandlers) TopApps(w http.ResponseWriter, r *http.Request) {
	limit, err := httputil.QueryInt(r, "limit", 10)
	if err != nil {
		httputil.WriteAppError(w, apperr.BadRequest(apperr.CodeMissingParameter, err.Error()))
		return
	}
	top, err := h.analytics.TopApps(r.Context(), limit)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, top)
}

// Export streams the per-application usage report as CSV. Errors after
// the first byte can only be logged; the status line is already gone.
func (h *AnalyticsHandlers) Export(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="usage.csv"`)
	if err := h.analytics.ExportCSV(r.Context(), w); err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("usage export failed")
	}
}
