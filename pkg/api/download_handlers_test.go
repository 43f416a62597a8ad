package api

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/appvend/appvend/pkg/apperr"
	"github.com/appvend/appvend/pkg/rbac"
)

func TestFreeAppDownload(t *testing.T) {
	env := setupAPI(t)
	app := env.seedApp(t, "gallery", false)

	rec := env.do(t, "GET", "/v1/apps/plugin/gallery/download", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := rec.Body.String(); got != "package-bytes-gallery" {
		t.Errorf("Unexpected body %q", got)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "gallery.zip") {
		t.Errorf("Unexpected disposition %q", cd)
	}
	if cc := rec.Header().Get("Cache-Control"); !strings.Contains(cc, "public") {
		t.Errorf("Free packages should be cacheable, got %q", cc)
	}

	// The download counter is bumped after the stream completes.
	stored, err := env.apps.ByID(context.Background(), app.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Downloads != 1 {
		t.Errorf("Expected 1 recorded download, got %d", stored.Downloads)
	}
}

func TestMonetizedDownloadRequiresToken(t *testing.T) {
	env := setupAPI(t)
	app := env.seedApp(t, "crm", true)
	l := env.seedLicense(t, app.ID)

	rec := env.do(t, "GET", "/v1/apps/plugin/crm/download", "", nil)
	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("Expected 402 without a token, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, "POST", "/v1/licenses/token", "", map[string]any{"license_key": l.Key})
	var minted struct {
		Token string `json:"token"`
	}
	decodeBody(t, rec, &minted)

	rec = env.do(t, "GET", "/v1/apps/plugin/crm/download?token="+minted.Token, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 with token, got %d: %s", rec.Code, rec.Body.String())
	}
	if cc := rec.Header().Get("Cache-Control"); cc != "no-store" {
		t.Errorf("Monetized packages must not be cached, got %q", cc)
	}

	// The Bearer header works as the token fallback.
	req := httptest.NewRequest("GET", "/v1/apps/plugin/crm/download", nil)
	req.Header.Set("Authorization", "Bearer "+minted.Token)
	res := httptest.NewRecorder()
	env.handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("Expected 200 with bearer token, got %d: %s", res.Code, res.Body.String())
	}

	// A token for another app must not unlock this one.
	other := env.seedApp(t, "other", true)
	otherLicense := env.seedLicense(t, other.ID)
	rec = env.do(t, "POST", "/v1/licenses/token", "", map[string]any{"license_key": otherLicense.Key})
	decodeBody(t, rec, &minted)
	rec = env.do(t, "GET", "/v1/apps/plugin/crm/download?token="+minted.Token, "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("Expected 401 for a cross-app token, got %d", rec.Code)
	}
	if code := firstErrorCode(t, rec); code != apperr.CodeInvalidToken {
		t.Errorf("Unexpected error code %q", code)
	}
}

func TestAdminDownload(t *testing.T) {
	env := setupAPI(t)
	env.seedApp(t, "crm", true)

	rec := env.do(t, "GET", "/v1/apps/plugin/crm/download/admin", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("Expected 401 anonymous, got %d", rec.Code)
	}

	viewer, _ := env.seedOperator(t, rbac.RoleViewer)
	rec = env.do(t, "GET", "/v1/apps/plugin/crm/download/admin", viewer, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("Expected 403 for viewer, got %d", rec.Code)
	}

	manager, _ := env.seedOperator(t, rbac.RoleAppManager)
	rec = env.do(t, "GET", "/v1/apps/plugin/crm/download/admin", manager, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 for app_manager, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := rec.Body.String(); got != "package-bytes-crm" {
		t.Errorf("Unexpected body %q", got)
	}
}

func TestStaticAsset(t *testing.T) {
	env := setupAPI(t)
	env.seedApp(t, "gallery", false)
	env.writeBlob(t, "assets/plugin/gallery/readme.txt", []byte("hello"))

	rec := env.do(t, "GET", "/v1/assets/plugin/gallery/readme.txt", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := rec.Body.String(); got != "hello" {
		t.Errorf("Unexpected body %q", got)
	}
	if cc := rec.Header().Get("Cache-Control"); !strings.Contains(cc, "max-age=86400") {
		t.Errorf("Unexpected cache control %q", cc)
	}
}

func TestLicenseDocument(t *testing.T) {
	env := setupAPI(t)
	app := env.seedApp(t, "crm", true)
	l := env.seedLicense(t, app.ID)

	rec := env.do(t, "GET", "/v1/licenses/"+l.Key+"/document", "", nil)
	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("Expected 402 without a token, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, "POST", "/v1/licenses/token", "", map[string]any{"license_key": l.Key})
	var minted struct {
		Token string `json:"token"`
	}
	decodeBody(t, rec, &minted)

	rec = env.do(t, "GET", "/v1/licenses/"+l.Key+"/document?token="+minted.Token, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var doc struct {
		Key    string `json:"key"`
		App    string `json:"app"`
		Status string `json:"status"`
	}
	decodeBody(t, rec, &doc)
	if doc.Key != l.Key || doc.App != "App crm" || doc.Status != "active" {
		t.Errorf("Unexpected document: %+v", doc)
	}
}

func TestProxyAsset(t *testing.T) {
	env := setupAPI(t)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "remote-bytes")
	}))
	defer upstream.Close()

	rec := env.do(t, "GET", "/v1/proxy?url="+url.QueryEscape(upstream.URL+"/logo.png"), "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := rec.Body.String(); got != "remote-bytes" {
		t.Errorf("Unexpected body %q", got)
	}

	rec = env.do(t, "GET", "/v1/proxy?url=not-a-url", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400 for a bad url, got %d", rec.Code)
	}
}
