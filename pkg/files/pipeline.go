package files

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/appvend/appvend/pkg/apperr"
	"github.com/appvend/appvend/pkg/apps"
	"github.com/appvend/appvend/pkg/license"
	"github.com/appvend/appvend/pkg/rbac"
	"github.com/appvend/appvend/pkg/sanitize"
)

// Request parameter names shared by the entry points.
const (
	ParamType       = "type"
	ParamSlug       = "slug"
	ParamToken      = "token"
	ParamFile       = "file"
	ParamURL        = "url"
	ParamLicenseKey = "license_key"
)

// defaultProxyTimeout bounds outbound asset fetches so a slow upstream
// cannot hang a download request.
const defaultProxyTimeout = 30 * time.Second

// Pipeline routes download requests through their authorization gates to
// a blob backend.
type Pipeline struct {
	apps     *apps.Store
	licenses *license.Service
	blob     Blob
	client   *http.Client
	limits   Limits
}

// NewPipeline wires a pipeline. A nil client gets a timeout-bounded
// default.
func NewPipeline(appStore *apps.Store, licenses *license.Service, blob Blob, limits Limits, client *http.Client) *Pipeline {
	if client == nil {
		client = &http.Client{Timeout: defaultProxyTimeout}
	}
	return &Pipeline{apps: appStore, licenses: licenses, blob: blob, limits: limits, client: client}
}

// resolveApp loads the app addressed by the request's type and slug.
func (p *Pipeline) resolveApp(ctx context.Context, req *Request) (*apps.App, *apperr.Error) {
	app, err := p.apps.BySlug(ctx, apps.Type(req.Param(ParamType)), req.Param(ParamSlug))
	if err != nil {
		return nil, apperr.From(err)
	}
	if app == nil {
		return nil, apperr.NotFound(apperr.CodeAppNotFound, "app not found").
			WithData("type", req.Param(ParamType)).
			WithData("slug", req.Param(ParamSlug))
	}
	return app, nil
}

// requestToken returns the download token: the explicit parameter wins,
// the Bearer header is the fallback.
func requestToken(req *Request) string {
	if token := req.Param(ParamToken); token != "" {
		return token
	}
	return req.BearerToken()
}

// gateMonetized enforces the token gate for a monetized app: a missing
// token is a payment issue, a wrong one an authorization issue.
func (p *Pipeline) gateMonetized(ctx context.Context, req *Request, app *apps.App) *apperr.Error {
	if !app.Monetized {
		return nil
	}
	token := requestToken(req)
	if token == "" {
		return apperr.PaymentRequired("a license token is required for this download").
			WithData("slug", app.Slug)
	}
	return p.licenses.VerifyToken(ctx, token, app.ID)
}

// AppPackage serves a hosted application package. Monetized apps require
// a token scoped to exactly this app; the download counter is bumped
// only after the full stream has been written.
func (p *Pipeline) AppPackage(ctx context.Context, req *Request) *Response {
	app, aerr := p.resolveApp(ctx, req)
	if aerr != nil {
		return Fail(aerr)
	}
	if gerr := p.gateMonetized(ctx, req, app); gerr != nil {
		return Fail(gerr)
	}

	resp := p.openBlob(ctx, app.FileKey)
	if resp.Err != nil {
		return resp
	}
	resp.App = app
	if app.Monetized {
		resp.CacheControl("no-store")
	} else {
		resp.CacheControl("public, max-age=3600")
	}
	appID := app.ID
	resp.AfterServe(func() {
		// Failures here must not fail an already-served download.
		_ = p.apps.RecordDownload(context.WithoutCancel(ctx), appID)
	})
	return resp
}

// AdminAppPackage serves a package to an operator, gated on capability
// instead of a download token.
func (p *Pipeline) AdminAppPackage(ctx context.Context, principal *rbac.Principal, req *Request) *Response {
	if principal == nil {
		return Fail(apperr.Unauthorized(apperr.CodeInvalidToken, "authentication required"))
	}
	if !principal.Can(rbac.CapAppsDownloadAdmin) {
		return Fail(apperr.Forbidden(apperr.CodeCapabilityDenied, "missing capability").
			WithData("capability", rbac.CapAppsDownloadAdmin))
	}
	app, aerr := p.resolveApp(ctx, req)
	if aerr != nil {
		return Fail(aerr)
	}
	resp := p.openBlob(ctx, app.FileKey)
	if resp.Err == nil {
		resp.App = app
		resp.CacheControl("no-store")
	}
	return resp
}

// StaticAsset serves an unmonetized per-app asset (screenshots, icons,
// readme files). The file name is sanitized before joining the blob key.
func (p *Pipeline) StaticAsset(ctx context.Context, req *Request) *Response {
	app, aerr := p.resolveApp(ctx, req)
	if aerr != nil {
		return Fail(aerr)
	}
	name := sanitize.FileName(req.Param(ParamFile))
	resp := p.openBlob(ctx, path.Join("assets", string(app.Type), app.Slug, name))
	if resp.Err == nil {
		resp.App = app
		resp.CacheControl("public, max-age=86400")
	}
	return resp
}

// ProxyAsset fetches an external asset and relays it. Upstream failures
// surface as a structured proxy error, never as a hung request; the
// client's timeout bounds the fetch.
func (p *Pipeline) ProxyAsset(ctx context.Context, req *Request) *Response {
	raw := req.Param(ParamURL)
	target, err := url.Parse(raw)
	if err != nil || (target.Scheme != "http" && target.Scheme != "https") || target.Host == "" {
		return Fail(apperr.BadRequest(apperr.CodeMissingParameter, "a valid asset url is required"))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return Fail(apperr.From(err))
	}
	upstream, err := p.client.Do(httpReq)
	if err != nil {
		return Fail(apperr.New(apperr.CodeProxyFailure, http.StatusBadGateway, "upstream fetch failed").
			WithCause(err).WithData("url", target.String()))
	}
	if upstream.StatusCode != http.StatusOK {
		upstream.Body.Close()
		return Fail(apperr.New(apperr.CodeProxyFailure, http.StatusBadGateway, "upstream returned an error").
			WithData("url", target.String()).
			WithData("upstream_status", upstream.StatusCode))
	}

	name := path.Base(target.Path)
	if name == "/" || name == "." || name == "" {
		name = "asset"
	}
	resp := Stream(upstream.Body, name, upstream.ContentLength, time.Time{})
	resp.CacheControl("public, max-age=3600")
	return resp
}

// DocumentOption adjusts license document generation.
type DocumentOption interface {
	applyDoc(*docOptions)
}

type docOptions struct {
	preauthorized bool
}

type preauthorizedOption struct{}

func (preauthorizedOption) applyDoc(o *docOptions) { o.preauthorized = true }

// Preauthorized skips the token gate for a caller that has already
// verified access through another channel. It must never be set from raw
// request input.
func Preauthorized() DocumentOption {
	return preauthorizedOption{}
}

// licenseDocument is the rendered certificate payload.
type licenseDocument struct {
	Key              string   `json:"key"`
	App              string   `json:"app"`
	Status           string   `json:"status"`
	ActivatedDomains []string `json:"activated_domains"`
	MaxDomains       int      `json:"max_allowed_domains"`
	EndDate          string   `json:"end_date,omitempty"`
	GeneratedAt      string   `json:"generated_at"`
}

// LicenseDocument renders a license certificate. The same token gate as
// package downloads applies unless the caller is preauthorized. The
// in-memory payload is bounded by the configured safe-size ceiling.
func (p *Pipeline) LicenseDocument(ctx context.Context, req *Request, opts ...DocumentOption) *Response {
	var options docOptions
	for _, opt := range opts {
		opt.applyDoc(&options)
	}

	l, err := p.licenses.ByKey(ctx, req.Param(ParamLicenseKey))
	if err != nil {
		return Fail(apperr.From(err))
	}
	if l == nil {
		return Fail(apperr.NotFound(apperr.CodeLicenseNotFound, "license not found"))
	}

	if !options.preauthorized {
		token := requestToken(req)
		if token == "" {
			return Fail(apperr.PaymentRequired("a license token is required for this document"))
		}
		if verr := p.licenses.VerifyToken(ctx, token, l.AppID); verr != nil {
			return Fail(verr)
		}
	}

	appName := ""
	if app, err := p.apps.ByID(ctx, l.AppID); err == nil && app != nil {
		appName = app.Name
	}

	now := time.Now().UTC()
	doc := licenseDocument{
		Key:              l.Key,
		App:              appName,
		Status:           string(l.EffectiveStatus(now)),
		ActivatedDomains: l.ActivatedDomains,
		MaxDomains:       l.MaxAllowedDomains,
		GeneratedAt:      now.Format(time.RFC3339),
	}
	if !l.EndDate.IsZero() {
		doc.EndDate = l.EndDate.UTC().Format(time.RFC3339)
	}
	payload, merr := json.MarshalIndent(doc, "", "  ")
	if merr != nil {
		return Fail(apperr.From(merr))
	}
	if !p.limits.Allows(int64(len(payload))) {
		return Fail(apperr.Unprocessable(apperr.CodeFileTooLarge, "document exceeds the safe payload size").
			WithData("size", len(payload)))
	}

	resp := Document(payload, fmt.Sprintf("license-%s.json", sanitize.Slug(l.Key)))
	resp.CacheControl("no-store")
	return resp
}

func (p *Pipeline) openBlob(ctx context.Context, key string) *Response {
	if key == "" {
		return Fail(apperr.NotFound(apperr.CodeFileNotFound, "file not found"))
	}
	body, info, err := p.blob.Open(ctx, key)
	if err != nil {
		return Fail(apperr.From(err))
	}
	return Stream(body, info.Name, info.Size, info.ModTime)
}
