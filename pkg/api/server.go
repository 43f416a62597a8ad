package api

import (
	"github.com/gorilla/mux"

	"github.com/appvend/appvend/pkg/analytics"
	"github.com/appvend/appvend/pkg/apps"
	"github.com/appvend/appvend/pkg/audit"
	"github.com/appvend/appvend/pkg/auth"
	"github.com/appvend/appvend/pkg/files"
	"github.com/appvend/appvend/pkg/identity"
	"github.com/appvend/appvend/pkg/license"
	"github.com/appvend/appvend/pkg/observability"
	"github.com/appvend/appvend/pkg/orgs"
	"github.com/appvend/appvend/pkg/rbac"
	"github.com/appvend/appvend/pkg/webhooks"
)

// Deps bundles the services the handlers need.
type Deps struct {
	Apps       *apps.Store
	Licenses   *license.Service
	Pipeline   *files.Pipeline
	Roles      *rbac.AssignmentStore
	Identities *identity.Store
	Keyring    *auth.Keyring
	Audit      audit.Logger
	Metrics    *observability.Metrics
	Orgs       *orgs.Service
	Analytics  *analytics.Service

	// Webhook wiring is optional; without it the subscription routes
	// are not mounted and no events are emitted.
	Webhooks   *webhooks.SubscriptionStore
	Dispatcher *webhooks.Dispatcher
}

// Server groups the handler sets for one API instance.
type Server struct {
	apps      *AppHandlers
	licenses  *LicenseHandlers
	downloads *DownloadHandlers
	roles     *RoleHandlers
	accounts  *ServiceAccountHandlers
	orgs      *OrgHandlers
	analytics *AnalyticsHandlers
	webhooks  *WebhookHandlers
}

// NewServer creates the handler sets. A nil audit logger falls back to
// the discard sink.
func NewServer(deps Deps) *Server {
	if deps.Audit == nil {
		deps.Audit = audit.Discard
	}
	s := &Server{
		apps:      &AppHandlers{apps: deps.Apps},
		licenses:  &LicenseHandlers{licenses: deps.Licenses, audit: deps.Audit, metrics: deps.Metrics, events: deps.Dispatcher},
		downloads: &DownloadHandlers{pipeline: deps.Pipeline, audit: deps.Audit, metrics: deps.Metrics, events: deps.Dispatcher},
		roles:     &RoleHandlers{roles: deps.Roles, audit: deps.Audit},
		accounts:  &ServiceAccountHandlers{identities: deps.Identities, keyring: deps.Keyring},
	}
	if deps.Orgs != nil {
		s.orgs = &OrgHandlers{orgs: deps.Orgs}
	}
	if deps.Analytics != nil {
		s.analytics = &AnalyticsHandlers{analytics: deps.Analytics}
	}
	if deps.Webhooks != nil {
		s.webhooks = &WebhookHandlers{subs: deps.Webhooks, dispatcher: deps.Dispatcher}
	}
	return s
}

// RegisterRoutes mounts every endpoint under /v1.
func (s *Server) RegisterRoutes(router *mux.Router) {
	v1 := router.PathPrefix("/v1").Subrouter()
	s.apps.RegisterRoutes(v1)
	s.licenses.RegisterRoutes(v1)
	s.downloads.RegisterRoutes(v1)
	s.roles.RegisterRoutes(v1)
	s.accounts.RegisterRoutes(v1)
	if s.orgs != nil {
		s.orgs.RegisterRoutes(v1)
	}
	if s.analytics != nil {
		s.analytics.RegisterRoutes(v1)
	}
	if s.webhooks != nil {
		s.webhooks.RegisterRoutes(v1)
	}
}
