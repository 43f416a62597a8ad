package middleware

import (
	"context"
	"net/http"

	"github.com/appvend/appvend/pkg/apperr"
	"github.com/appvend/appvend/pkg/audit"
	"github.com/appvend/appvend/pkg/auth"
	"github.com/appvend/appvend/pkg/cache"
	"github.com/appvend/appvend/pkg/contextkeys"
	"github.com/appvend/appvend/pkg/httputil"
	"github.com/appvend/appvend/pkg/identity"
	"github.com/appvend/appvend/pkg/rbac"
	"github.com/appvend/appvend/pkg/settings"
)

const (
	// SessionHeader carries the host session token.
	SessionHeader = "X-Session-Token"
	// SessionCookie is the fallback session carrier for browser clients.
	SessionCookie = "appvend_session"
	// APIKeyHeader carries a service-account API key. Download tokens use
	// the Authorization header, so API keys get their own.
	APIKeyHeader = "X-Api-Key"
)

// SessionLookup resolves a session token to the external id of the
// logged-in identity. The second return is false for unknown or expired
// sessions.
type SessionLookup func(ctx context.Context, token string) (string, bool)

// SessionsFromCache backs session resolution with the shared cache. The
// login front end stores the external id under "session:" + token; the
// cache TTL is the session lifetime.
func SessionsFromCache(c cache.Cache) SessionLookup {
	return func(ctx context.Context, token string) (string, bool) {
		val, ok, err := c.Get(ctx, "session:"+token)
		if err != nil || !ok || len(val) == 0 {
			return "", false
		}
		return string(val), true
	}
}

// Authenticator resolves the requesting principal into the context. It
// supports two credential paths: host sessions resolved through the
// guard chain, and service-account API keys verified by the keyring.
//
// An absent credential passes through as anonymous; a present but bad
// credential is rejected. Per-route gates decide whether anonymous is
// acceptable.
type Authenticator struct {
	Settings   settings.Store
	Cache      cache.Cache
	Identities *identity.Store
	Federation *identity.FederationStore
	Roles      *rbac.AssignmentStore
	Keyring    *auth.Keyring
	Sessions   SessionLookup
	Audit      audit.Logger
}

// Handler wraps an HTTP handler with principal resolution.
func (a *Authenticator) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if compound := r.Header.Get(APIKeyHeader); compound != "" && a.Keyring != nil {
			principal, appErr := a.keyPrincipal(ctx, compound)
			if appErr != nil {
				a.record(ctx, audit.EventAuthKeyRejected, audit.StatusDenied, nil, appErr.Code)
				httputil.WriteAppError(w, appErr)
				return
			}
			a.record(ctx, audit.EventAuthKeyVerified, audit.StatusSuccess, principal, "")
			ctx = contextkeys.WithPrincipal(ctx, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		if token := sessionToken(r); token != "" && a.Sessions != nil {
			ctx = contextkeys.WithSessionToken(ctx, token)
			guard := a.guardFor(token)
			principal, err := guard.Authenticate(ctx)
			if err != nil {
				httputil.WriteError(w, err)
				return
			}
			if principal != nil {
				a.record(ctx, audit.EventAuthResolved, audit.StatusSuccess, principal, "")
				ctx = contextkeys.WithPrincipal(ctx, principal)
			}
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// guardFor builds the request-scoped guard for one session token.
func (a *Authenticator) guardFor(token string) *auth.Guard {
	tokenFn := func(context.Context) string { return token }
	host := identity.NewSessionIdentity(tokenFn, a.Sessions)
	return auth.NewGuard(host, a.Settings, a.Cache, a.Identities, a.Federation, a.Roles, tokenFn)
}

// keyPrincipal verifies an API key and assembles the service-account
// principal scoped to the account's owner.
func (a *Authenticator) keyPrincipal(ctx context.Context, compound string) (*rbac.Principal, *apperr.Error) {
	account, err := a.Keyring.Verify(ctx, compound)
	if err != nil {
		return nil, apperr.From(err)
	}
	owner, err := a.Identities.OwnerByID(ctx, account.OwnerID)
	if err != nil {
		return nil, apperr.From(err)
	}
	if !owner.Exists() {
		return nil, apperr.Unauthorized(apperr.CodeInvalidToken, "service account owner not found")
	}
	subject, err := a.Identities.SubjectFor(ctx, owner)
	if err != nil {
		return nil, apperr.From(err)
	}
	role, err := a.Roles.PrincipalRole(ctx, account, owner)
	if err != nil {
		return nil, apperr.From(err)
	}
	if role == nil {
		return nil, apperr.Forbidden(apperr.CodeCapabilityDenied, "service account has no role")
	}
	principal, err := rbac.NewPrincipal(account, role, owner, subject)
	if err != nil {
		return nil, apperr.From(err)
	}
	return principal, nil
}

func (a *Authenticator) record(ctx context.Context, typ audit.EventType, status audit.Status, principal *rbac.Principal, code string) {
	if a.Audit == nil {
		return
	}
	event := &audit.Event{
		Type:      typ,
		Status:    status,
		RequestID: contextkeys.GetRequestID(ctx),
	}
	if principal != nil {
		event.ActorID = principal.Actor.ActorID()
		event.ActorType = string(principal.Actor.Type())
		event.OwnerID = principal.OwnerID()
	}
	if code != "" {
		event.Detail = map[string]any{"code": code}
	}
	// Audit failures never fail the request.
	_ = a.Audit.Log(ctx, event)
}

// sessionToken pulls the session token from the header or cookie.
func sessionToken(r *http.Request) string {
	if token := r.Header.Get(SessionHeader); token != "" {
		return token
	}
	if cookie, err := r.Cookie(SessionCookie); err == nil {
		return cookie.Value
	}
	return ""
}

// Principal returns the principal resolved for this request, or nil for
// anonymous requests.
func Principal(r *http.Request) *rbac.Principal {
	principal, _ := r.Context().Value(contextkeys.PrincipalKey).(*rbac.Principal)
	return principal
}

// RequireAuthenticated rejects anonymous requests with 401.
func RequireAuthenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if Principal(r) == nil {
			httputil.WriteAppError(w,
				apperr.Unauthorized(apperr.CodeInvalidToken, "authentication required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireCapability gates a route on one capability: 401 for anonymous
// requests, 403 when the principal's role does not grant it.
func RequireCapability(capability string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := Principal(r)
			if principal == nil {
				httputil.WriteAppError(w,
					apperr.Unauthorized(apperr.CodeInvalidToken, "authentication required"))
				return
			}
			if !principal.Can(capability) {
				httputil.WriteAppError(w,
					apperr.Forbidden(apperr.CodeCapabilityDenied, "capability not granted").
						WithData("capability", capability))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
