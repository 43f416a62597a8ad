package sso

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/gorilla/mux"
	"golang.org/x/oauth2"

	"github.com/appvend/appvend/pkg/apperr"
	"github.com/appvend/appvend/pkg/httputil"
	"github.com/appvend/appvend/pkg/middleware"
	"github.com/appvend/appvend/pkg/observability"
)

// stateCookie carries the CSRF nonce between the OIDC login redirect
// and the callback.
const stateCookie = "appvend_oidc_state"

// OIDCLoginConfig declares the authorization-code client registered
// with the issuer.
type OIDCLoginConfig struct {
	IssuerURL    string
	ClientID     string
	ClientSecret string

	// RedirectURL is the callback URL registered with the issuer.
	RedirectURL string

	// LandingURL is where the browser goes after login, "/" when empty.
	LandingURL string
}

// OIDCLogin drives the browser half of OIDC federation: the
// authorization-code exchange that yields an ID token. The verified ID
// token itself becomes the session credential, the same credential the
// authenticator verifies on API requests.
type OIDCLogin struct {
	cfg      OIDCLoginConfig
	oauth    *oauth2.Config
	verifier *oidc.IDTokenVerifier
}

// NewOIDCLogin discovers the issuer and builds the code-exchange client.
func NewOIDCLogin(ctx context.Context, cfg OIDCLoginConfig) (*OIDCLogin, error) {
	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
	}
	return &OIDCLogin{
		cfg: cfg,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     provider.Endpoint(),
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
		},
		verifier: provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
	}, nil
}

// AuthCodeURL builds the issuer redirect that starts the exchange.
func (l *OIDCLogin) AuthCodeURL(state string) string {
	return l.oauth.AuthCodeURL(state)
}

// Exchange redeems an authorization code and verifies the returned ID
// token. The raw token is handed back for use as the session credential.
func (l *OIDCLogin) Exchange(ctx context.Context, code string) (string, *oidc.IDToken, error) {
	token, err := l.oauth.Exchange(ctx, code)
	if err != nil {
		return "", nil, apperr.Unauthorized(apperr.CodeInvalidToken, "code exchange failed").WithCause(err)
	}
	raw, ok := token.Extra("id_token").(string)
	if !ok || raw == "" {
		return "", nil, apperr.Unauthorized(apperr.CodeInvalidToken, "issuer returned no id token")
	}
	idToken, err := l.verifier.Verify(ctx, raw)
	if err != nil {
		return "", nil, apperr.Unauthorized(apperr.CodeSignatureMismatch, "id token validation failed").WithCause(err)
	}
	return raw, idToken, nil
}

// LandingURL returns the post-login destination.
func (l *OIDCLogin) LandingURL() string {
	if l.cfg.LandingURL != "" {
		return l.cfg.LandingURL
	}
	return "/"
}

// OIDCHandlers serves the OIDC login and callback endpoints.
type OIDCHandlers struct {
	login *OIDCLogin
}

// NewOIDCHandlers creates the OIDC HTTP handlers.
func NewOIDCHandlers(login *OIDCLogin) *OIDCHandlers {
	return &OIDCHandlers{login: login}
}

// RegisterRoutes mounts the OIDC endpoints on the root router, beside
// the SAML ones.
func (h *OIDCHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/sso/oidc/login", h.Login).Methods("GET")
	router.HandleFunc("/sso/oidc/callback", h.Callback).Methods("GET")
}

// Login redirects the browser to the issuer's authorization endpoint.
func (h *OIDCHandlers) Login(w http.ResponseWriter, r *http.Request) {
	state, err := sessionToken()
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/sso",
		MaxAge:   600,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, h.login.AuthCodeURL(state), http.StatusFound)
}

// Callback redeems the authorization code and installs the verified ID
// token as the session cookie.
func (h *OIDCHandlers) Callback(w http.ResponseWriter, r *http.Request) {
	log := observability.FromContext(r.Context())

	cookie, err := r.Cookie(stateCookie)
	if err != nil {
		httputil.WriteError(w, apperr.Unauthorized(apperr.CodeInvalidToken, "login was not initiated here"))
		return
	}
	if r.URL.Query().Get("state") != cookie.Value {
		httputil.WriteError(w, apperr.Unauthorized(apperr.CodeInvalidToken, "state mismatch"))
		return
	}
	code := r.URL.Query().Get("code")
	if code == "" {
		httputil.WriteError(w, apperr.BadRequest(apperr.CodeMissingParameter, "code is required"))
		return
	}

	raw, idToken, err := h.login.Exchange(r.Context(), code)
	if err != nil {
		log.WithError(err).Warn("code exchange rejected")
		httputil.WriteError(w, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    "",
		Path:     "/sso",
		MaxAge:   -1,
		HttpOnly: true,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookie,
		Value:    raw,
		Path:     "/",
		MaxAge:   int(time.Until(idToken.Expiry).Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, h.login.LandingURL(), http.StatusFound)
}
