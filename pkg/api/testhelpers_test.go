package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gorilla/mux"
	_ "github.com/mattn/go-sqlite3"

	"github.com/appvend/appvend/pkg/analytics"
	"github.com/appvend/appvend/pkg/apps"
	"github.com/appvend/appvend/pkg/auth"
	"github.com/appvend/appvend/pkg/cache"
	"github.com/appvend/appvend/pkg/database"
	"github.com/appvend/appvend/pkg/files"
	"github.com/appvend/appvend/pkg/identity"
	"github.com/appvend/appvend/pkg/license"
	"github.com/appvend/appvend/pkg/middleware"
	"github.com/appvend/appvend/pkg/orgs"
	"github.com/appvend/appvend/pkg/rbac"
	"github.com/appvend/appvend/pkg/settings"
	"github.com/appvend/appvend/pkg/webhooks"
)

const testSchema = `
	CREATE TABLE settings (
		name TEXT PRIMARY KEY,
		value TEXT
	);

	CREATE TABLE users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		email TEXT,
		avatar TEXT,
		status TEXT NOT NULL DEFAULT 'active',
		default_owner_id INTEGER,
		created_at TIMESTAMP,
		updated_at TIMESTAMP
	);

	CREATE TABLE organizations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		display_name TEXT,
		status TEXT NOT NULL DEFAULT 'active',
		created_at TIMESTAMP,
		updated_at TIMESTAMP
	);

	CREATE TABLE owners (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		kind TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		subject_id INTEGER
	);

	CREATE TABLE organization_members (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		org_id INTEGER NOT NULL,
		user_id INTEGER NOT NULL,
		member_role TEXT NOT NULL,
		joined_at TIMESTAMP,
		role_updated_at TIMESTAMP,
		UNIQUE(org_id, user_id)
	);

	CREATE TABLE org_invitations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		org_id INTEGER NOT NULL,
		email TEXT NOT NULL,
		member_role TEXT NOT NULL,
		token TEXT NOT NULL UNIQUE,
		invited_by INTEGER NOT NULL,
		created_at TIMESTAMP,
		expires_at TIMESTAMP,
		accepted_at TIMESTAMP,
		accepted_by INTEGER
	);

	CREATE TABLE identity_federation (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		issuer TEXT NOT NULL,
		external_id TEXT NOT NULL,
		user_id INTEGER NOT NULL,
		created_at TIMESTAMP,
		UNIQUE(issuer, external_id)
	);

	CREATE TABLE service_accounts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		owner_id INTEGER NOT NULL,
		identifier TEXT NOT NULL,
		api_key_hash TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		last_used_at TIMESTAMP,
		created_at TIMESTAMP
	);

	CREATE TABLE principal_roles (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		actor_id INTEGER NOT NULL,
		actor_type TEXT NOT NULL,
		owner_id INTEGER NOT NULL,
		owner_kind TEXT NOT NULL,
		role_name TEXT NOT NULL,
		assigned_at TIMESTAMP,
		updated_at TIMESTAMP,
		UNIQUE(actor_id, actor_type, owner_id)
	);

	CREATE TABLE roles (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		description TEXT,
		capabilities TEXT,
		is_canonical BOOLEAN NOT NULL DEFAULT 0,
		created_at TIMESTAMP
	);

	CREATE TABLE apps (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		owner_id INTEGER NOT NULL,
		type TEXT NOT NULL,
		slug TEXT NOT NULL,
		name TEXT NOT NULL,
		version TEXT,
		monetized BOOLEAN NOT NULL DEFAULT 0,
		file_key TEXT,
		downloads INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP,
		updated_at TIMESTAMP,
		UNIQUE(type, slug)
	);

	CREATE TABLE licenses (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		app_id INTEGER NOT NULL,
		owner_id INTEGER NOT NULL,
		license_key TEXT NOT NULL UNIQUE,
		service_id TEXT,
		status TEXT NOT NULL DEFAULT '',
		start_date TIMESTAMP,
		end_date TIMESTAMP,
		max_allowed_domains INTEGER NOT NULL,
		activated_domains TEXT,
		created_at TIMESTAMP,
		updated_at TIMESTAMP
	);

	CREATE TABLE download_tokens (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		token_hash TEXT NOT NULL UNIQUE,
		app_id INTEGER NOT NULL,
		license_id INTEGER NOT NULL DEFAULT 0,
		expires_at TIMESTAMP,
		created_at TIMESTAMP
	);

	CREATE TABLE webhook_subscriptions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		owner_id INTEGER NOT NULL,
		url TEXT NOT NULL,
		events TEXT NOT NULL,
		secret TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		active BOOLEAN NOT NULL DEFAULT 1,
		created_at TIMESTAMP,
		updated_at TIMESTAMP
	);
`

// apiEnv is a full server: real stores over sqlite, a filesystem blob
// backend under a temp dir, and the production middleware chain.
type apiEnv struct {
	db         database.Adapter
	identities *identity.Store
	federation *identity.FederationStore
	roles      *rbac.AssignmentStore
	settings   settings.Store
	keyring    *auth.Keyring
	sessions   map[string]string
	apps       *apps.Store
	licenses   *license.Service
	orgs       *orgs.Service
	webhooks   *webhooks.SubscriptionStore
	dispatcher *webhooks.Dispatcher
	blobRoot   string
	handler    http.Handler
}

func setupAPI(t *testing.T) *apiEnv {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if _, err := db.Exec(testSchema); err != nil {
		t.Fatalf("Failed to create schema: %v", err)
	}
	adapter := database.NewSQL(db, "sqlite3")

	env := &apiEnv{
		db:         adapter,
		identities: identity.NewStore(adapter),
		federation: identity.NewFederationStore(adapter),
		roles:      rbac.NewAssignmentStore(adapter),
		settings:   settings.NewDBStore(adapter),
		sessions:   make(map[string]string),
		apps:       apps.NewStore(adapter),
		licenses:   license.NewService(adapter),
		blobRoot:   t.TempDir(),
	}
	env.keyring = auth.NewKeyring([]byte("test-hmac-secret"), env.identities)
	env.orgs = orgs.NewService(adapter, env.identities, env.roles)
	env.webhooks = webhooks.NewSubscriptionStore(adapter)
	env.dispatcher = webhooks.NewDispatcher(context.Background(), env.webhooks, nil)
	t.Cleanup(func() { env.dispatcher.Close() })

	blob := files.NewFilesystem(env.blobRoot)
	pipeline := files.NewPipeline(env.apps, env.licenses, blob,
		files.Limits{MemoryLimit: 64 << 20}, nil)

	server := NewServer(Deps{
		Apps:       env.apps,
		Licenses:   env.licenses,
		Pipeline:   pipeline,
		Roles:      env.roles,
		Identities: env.identities,
		Keyring:    env.keyring,
		Orgs:       env.orgs,
		Analytics:  analytics.NewService(adapter),
		Webhooks:   env.webhooks,
		Dispatcher: env.dispatcher,
	})
	router := mux.NewRouter()
	server.RegisterRoutes(router)

	mem, err := cache.NewMemory(64)
	if err != nil {
		t.Fatal(err)
	}
	authenticator := &middleware.Authenticator{
		Settings:   env.settings,
		Cache:      mem,
		Identities: env.identities,
		Federation: env.federation,
		Roles:      env.roles,
		Keyring:    env.keyring,
		Sessions: func(_ context.Context, token string) (string, bool) {
			externalID, ok := env.sessions[token]
			return externalID, ok
		},
	}
	env.handler = middleware.Chain(
		middleware.RequestID,
		middleware.Recover,
		authenticator.Handler,
	)(router)
	return env
}

// seedOperator creates a federated user with the given role and an
// active session, returning the session token.
func (e *apiEnv) seedOperator(t *testing.T, roleName string) (string, *identity.User) {
	t.Helper()
	ctx := context.Background()

	token := "sess-" + roleName
	u := &identity.User{Name: "ada", Email: "ada@example.com"}
	if err := e.identities.CreateUser(ctx, u); err != nil {
		t.Fatal(err)
	}
	owner, err := e.identities.CreateOwner(ctx, identity.OwnerIndividual)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.db.Update(ctx, "owners",
		map[string]any{"subject_id": u.ID}, map[string]any{"id": owner.ID}); err != nil {
		t.Fatal(err)
	}
	if _, err := e.db.Update(ctx, "users",
		map[string]any{"default_owner_id": owner.ID}, map[string]any{"id": u.ID}); err != nil {
		t.Fatal(err)
	}

	externalID := "ext-" + token
	installID, err := settings.InstallationID(ctx, e.settings)
	if err != nil {
		t.Fatal(err)
	}
	if err := e.federation.Link(ctx, identity.Issuer(installID), externalID, u.ID); err != nil {
		t.Fatal(err)
	}
	e.sessions[token] = externalID

	if roleName != "" {
		if err := e.roles.SaveActorRole(ctx, rbac.Assignment{
			ActorID:   u.ID,
			ActorType: identity.ActorUser,
			OwnerID:   owner.ID,
			OwnerKind: identity.OwnerIndividual,
			RoleName:  roleName,
		}); err != nil {
			t.Fatal(err)
		}
	}
	return token, u
}

// seedApp creates a catalog entry backed by a real blob file.
func (e *apiEnv) seedApp(t *testing.T, slug string, monetized bool) *apps.App {
	t.Helper()
	key := "packages/" + slug + ".zip"
	e.writeBlob(t, key, []byte("package-bytes-"+slug))
	app := &apps.App{
		OwnerID:   1,
		Type:      apps.TypePlugin,
		Slug:      slug,
		Name:      "App " + slug,
		Version:   "1.0.0",
		Monetized: monetized,
		FileKey:   key,
	}
	if err := e.apps.Create(context.Background(), app); err != nil {
		t.Fatal(err)
	}
	return app
}

func (e *apiEnv) seedLicense(t *testing.T, appID int64) *license.License {
	t.Helper()
	l := &license.License{AppID: appID, OwnerID: 1, MaxAllowedDomains: 3}
	if err := e.licenses.Issue(context.Background(), l); err != nil {
		t.Fatal(err)
	}
	return l
}

func (e *apiEnv) writeBlob(t *testing.T, key string, content []byte) {
	t.Helper()
	path := filepath.Join(e.blobRoot, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}
}

// do runs one request through the full middleware and routing stack.
func (e *apiEnv) do(t *testing.T, method, path, sessionToken string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var payload *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		payload = bytes.NewReader(encoded)
	} else {
		payload = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, payload)
	if sessionToken != "" {
		req.Header.Set(middleware.SessionHeader, sessionToken)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dest any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dest); err != nil {
		t.Fatalf("Failed to decode response %q: %v", rec.Body.String(), err)
	}
}

func firstErrorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Errors []struct {
			Code string `json:"code"`
		} `json:"errors"`
	}
	decodeBody(t, rec, &body)
	if len(body.Errors) == 0 {
		t.Fatalf("Expected an error body, got %q", rec.Body.String())
	}
	return body.Errors[0].Code
}
