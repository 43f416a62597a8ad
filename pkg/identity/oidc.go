package identity

import (
	"context"
	"fmt"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
)

// OIDCIdentity resolves the external id by verifying an OpenID Connect ID
// token carried on the request. It is the host-identity backend for
// deployments that front the server with an OIDC-capable proxy.
type OIDCIdentity struct {
	verifier *oidc.IDTokenVerifier
	rawToken func(ctx context.Context) string
}

// NewOIDCIdentity discovers the issuer and builds a verifier. rawToken
// extracts the bearer ID token from the request context.
func NewOIDCIdentity(ctx context.Context, issuerURL, clientID string, rawToken func(ctx context.Context) string) (*OIDCIdentity, error) {
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
	}
	verifier := provider.Verifier(&oidc.Config{ClientID: clientID})
	return &OIDCIdentity{verifier: verifier, rawToken: rawToken}, nil
}

// CurrentExternalID implements HostIdentity. The external id is the token
// subject; verification failures read as "not logged in".
func (o *OIDCIdentity) CurrentExternalID(ctx context.Context) (string, bool) {
	return o.Subject(ctx, o.rawToken(ctx))
}

// Subject verifies a raw ID token and returns its subject. Useful as a
// session lookup where the session credential is the ID token itself.
func (o *OIDCIdentity) Subject(ctx context.Context, raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	token, err := o.verifier.Verify(ctx, raw)
	if err != nil {
		return "", false
	}
	if token.Subject == "" {
		return "", false
	}
	return token.Subject, true
}
