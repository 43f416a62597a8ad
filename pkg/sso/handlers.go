package sso

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/appvend/appvend/pkg/apperr"
	"github.com/appvend/appvend/pkg/httputil"
	"github.com/appvend/appvend/pkg/middleware"
	"github.com/appvend/appvend/pkg/observability"
)

// relayCookie carries the relay-state nonce between login and the ACS
// callback.
const relayCookie = "appvend_sso_relay"

// Handlers serves the browser-facing half of the SAML exchange.
type Handlers struct {
	service *Service
}

// NewHandlers creates the SSO HTTP handlers.
func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

// RegisterRoutes mounts the SSO endpoints on the root router. They sit
// outside the versioned API because identity providers post directly to
// the ACS URL.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/sso/providers", h.Providers).Methods("GET")
	router.HandleFunc("/sso/{provider}/login", h.Login).Methods("GET")
	router.HandleFunc("/sso/{provider}/acs", h.Consume).Methods("POST")
}

// Providers lists the configured login options.
func (h *Handlers) Providers(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, h.service.Providers())
}

// Login redirects the browser to the identity provider.
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	provider, err := h.service.Provider(mux.Vars(r)["provider"])
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	relay, err := sessionToken()
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	url, err := provider.LoginURL(relay)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     relayCookie,
		Value:    relay,
		Path:     "/sso",
		MaxAge:   600,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, url, http.StatusFound)
}

// Consume handles the assertion posted back by the identity provider
// and issues the host session.
func (h *Handlers) Consume(w http.ResponseWriter, r *http.Request) {
	log := observability.FromContext(r.Context())

	provider, err := h.service.Provider(mux.Vars(r)["provider"])
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	if err := h.checkRelay(r); err != nil {
		httputil.WriteError(w, err)
		return
	}

	id, err := provider.Consume(r)
	if err != nil {
		log.WithError(err).WithField("provider", provider.Name()).Warn("assertion rejected")
		httputil.WriteError(w, err)
		return
	}

	token, err := h.service.Establish(r.Context(), provider, id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     relayCookie,
		Value:    "",
		Path:     "/sso",
		MaxAge:   -1,
		HttpOnly: true,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   h.service.SessionTTL(),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, h.service.RedirectURL(provider), http.StatusFound)
}

// checkRelay matches the posted relay state against the nonce set at
// login time.
func (h *Handlers) checkRelay(r *http.Request) error {
	cookie, err := r.Cookie(relayCookie)
	if err != nil {
		return apperr.Unauthorized(apperr.CodeInvalidToken, "login was not initiated here")
	}
	if r.FormValue("RelayState") != cookie.Value {
		return apperr.Unauthorized(apperr.CodeInvalidToken, "relay state mismatch")
	}
	return nil
}
