package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/appvend/appvend/pkg/apperr"
	"github.com/appvend/appvend/pkg/httputil"
	"github.com/appvend/appvend/pkg/identity"
	"github.com/appvend/appvend/pkg/rbac"
)

// capture records the principal the inner handler observed.
type capture struct {
	called    bool
	principal *rbac.Principal
}

func (c *capture) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.called = true
		c.principal = Principal(r)
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthenticatorAnonymousPassesThrough(t *testing.T) {
	env := setupAuthEnv(t)
	var got capture
	handler := env.authenticator(t).Handler(got.handler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/apps", nil))

	if !got.called {
		t.Fatal("anonymous request must reach the handler")
	}
	if got.principal != nil {
		t.Fatal("anonymous request must carry no principal")
	}
}

func TestAuthenticatorResolvesSessionPrincipal(t *testing.T) {
	env := setupAuthEnv(t)
	u := env.seedFederatedUser(t, "sess-1", rbac.RoleViewer)

	var got capture
	handler := env.authenticator(t).Handler(got.handler())

	r := httptest.NewRequest("GET", "/apps", nil)
	r.Header.Set(SessionHeader, "sess-1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, r)

	if got.principal == nil {
		t.Fatal("expected a resolved principal")
	}
	if got.principal.Actor.ActorID() != u.ID {
		t.Errorf("wrong actor: %d", got.principal.Actor.ActorID())
	}
	if got.principal.Role.Name != rbac.RoleViewer {
		t.Errorf("wrong role: %s", got.principal.Role.Name)
	}
}

func TestAuthenticatorSessionCookieFallback(t *testing.T) {
	env := setupAuthEnv(t)
	env.seedFederatedUser(t, "sess-cookie", rbac.RoleViewer)

	var got capture
	handler := env.authenticator(t).Handler(got.handler())

	r := httptest.NewRequest("GET", "/apps", nil)
	r.AddCookie(&http.Cookie{Name: SessionCookie, Value: "sess-cookie"})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, r)

	if got.principal == nil {
		t.Fatal("cookie session should resolve a principal")
	}
}

func TestAuthenticatorUnknownSessionIsAnonymous(t *testing.T) {
	env := setupAuthEnv(t)
	var got capture
	handler := env.authenticator(t).Handler(got.handler())

	r := httptest.NewRequest("GET", "/apps", nil)
	r.Header.Set(SessionHeader, "sess-ghost")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, r)

	if !got.called || got.principal != nil {
		t.Fatal("unknown session must pass through as anonymous")
	}
}

func TestAuthenticatorAPIKeyPrincipal(t *testing.T) {
	env := setupAuthEnv(t)
	key, account := env.seedServiceAccount(t, rbac.RoleLicenseManager)

	var got capture
	handler := env.authenticator(t).Handler(got.handler())

	r := httptest.NewRequest("POST", "/licenses", nil)
	r.Header.Set(APIKeyHeader, key)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, r)

	if got.principal == nil {
		t.Fatal("expected a service-account principal")
	}
	if got.principal.Actor.ActorID() != account.ID {
		t.Errorf("wrong actor: %d", got.principal.Actor.ActorID())
	}
	if got.principal.Actor.Type() != identity.ActorServiceAccount {
		t.Errorf("wrong actor type: %s", got.principal.Actor.Type())
	}
	if !got.principal.Can(rbac.CapLicensesIssue) {
		t.Error("license manager key should grant license issuing")
	}
}

func TestAuthenticatorRejectsBadAPIKey(t *testing.T) {
	env := setupAuthEnv(t)
	var got capture
	handler := env.authenticator(t).Handler(got.handler())

	r := httptest.NewRequest("POST", "/licenses", nil)
	r.Header.Set(APIKeyHeader, "not.a.key")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, r)

	if got.called {
		t.Fatal("bad API key must not reach the handler")
	}
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	var body httputil.ErrorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Errors[0].Code != apperr.CodeMalformedToken {
		t.Errorf("unexpected code %q", body.Errors[0].Code)
	}
}

func TestAuthenticatorRejectsKeyWithoutRole(t *testing.T) {
	env := setupAuthEnv(t)
	key, _ := env.seedServiceAccount(t, "")

	var got capture
	handler := env.authenticator(t).Handler(got.handler())

	r := httptest.NewRequest("POST", "/licenses", nil)
	r.Header.Set(APIKeyHeader, key)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, r)

	if got.called {
		t.Fatal("role-less service account must not reach the handler")
	}
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestRequireCapability(t *testing.T) {
	env := setupAuthEnv(t)
	env.seedFederatedUser(t, "sess-viewer", rbac.RoleViewer)

	var got capture
	handler := env.authenticator(t).Handler(
		RequireCapability(rbac.CapLicensesRevoke)(got.handler()))

	// Anonymous: 401.
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("DELETE", "/licenses/1", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous: expected 401, got %d", rec.Code)
	}

	// Viewer lacks the revoke capability: 403.
	r := httptest.NewRequest("DELETE", "/licenses/1", nil)
	r.Header.Set(SessionHeader, "sess-viewer")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, r)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("viewer: expected 403, got %d", rec.Code)
	}
	var body httputil.ErrorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Errors[0].Code != apperr.CodeCapabilityDenied {
		t.Errorf("unexpected code %q", body.Errors[0].Code)
	}
	if got.called {
		t.Fatal("gated handler must not run")
	}
}

func TestRequireCapabilityAllowsGrantedRole(t *testing.T) {
	env := setupAuthEnv(t)
	env.seedFederatedUser(t, "sess-lm", rbac.RoleResourceAdmin)

	var got capture
	handler := env.authenticator(t).Handler(
		RequireCapability(rbac.CapLicensesRevoke)(got.handler()))

	r := httptest.NewRequest("DELETE", "/licenses/1", nil)
	r.Header.Set(SessionHeader, "sess-lm")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, r)

	if rec.Code != http.StatusOK || !got.called {
		t.Fatalf("resource admin should pass the gate, got %d", rec.Code)
	}
}

func TestRequireAuthenticated(t *testing.T) {
	var got capture
	handler := RequireAuthenticated(got.handler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/me", nil))
	if rec.Code != http.StatusUnauthorized || got.called {
		t.Fatalf("expected 401 for anonymous, got %d", rec.Code)
	}
}
