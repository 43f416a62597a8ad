package sso

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net/http"

	saml2 "github.com/russellhaering/gosaml2"
	dsig "github.com/russellhaering/goxmldsig"

	"github.com/appvend/appvend/pkg/apperr"
)

// Identity is the validated subject of a SAML assertion.
type Identity struct {
	ExternalID string
	Email      string
	Name       string
	Groups     []string
}

// Provider wraps one configured identity provider.
type Provider struct {
	cfg ProviderConfig
	sp  *saml2.SAMLServiceProvider
}

// NewProvider builds the service-provider side of the exchange. The ACS
// endpoint is derived from the base URL and provider name.
func NewProvider(cfg ProviderConfig, baseURL string) (*Provider, error) {
	pemBytes, err := cfg.IdP.certificatePEM()
	if err != nil {
		return nil, fmt.Errorf("sso provider %q: %w", cfg.Name, err)
	}
	certStore := &dsig.MemoryX509CertificateStore{}
	for rest := pemBytes; ; {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("sso provider %q: bad certificate: %w", cfg.Name, err)
		}
		certStore.Roots = append(certStore.Roots, cert)
	}
	if len(certStore.Roots) == 0 {
		return nil, fmt.Errorf("sso provider %q: no certificate in PEM", cfg.Name)
	}

	sp := &saml2.SAMLServiceProvider{
		IdentityProviderSSOURL:      cfg.IdP.SSOURL,
		IdentityProviderIssuer:      cfg.IdP.EntityID,
		ServiceProviderIssuer:       baseURL + "/sso/metadata",
		AssertionConsumerServiceURL: baseURL + "/sso/" + cfg.Name + "/acs",
		AudienceURI:                 baseURL + "/sso/metadata",
		IDPCertificateStore:         certStore,
	}
	if cfg.IdP.NameIDFormat != "" {
		sp.NameIdFormat = cfg.IdP.NameIDFormat
	}
	return &Provider{cfg: cfg, sp: sp}, nil
}

// Name returns the provider's configured name.
func (p *Provider) Name() string { return p.cfg.Name }

// LoginURL builds the IdP redirect that starts the exchange.
func (p *Provider) LoginURL(relayState string) (string, error) {
	url, err := p.sp.BuildAuthURL(relayState)
	if err != nil {
		return "", fmt.Errorf("sso provider %q: %w", p.cfg.Name, err)
	}
	return url, nil
}

// Consume validates the posted assertion and extracts the subject.
func (p *Provider) Consume(r *http.Request) (*Identity, error) {
	if err := r.ParseForm(); err != nil {
		return nil, apperr.BadRequest(apperr.CodeMissingParameter, "malformed assertion post")
	}
	encoded := r.FormValue("SAMLResponse")
	if encoded == "" {
		return nil, apperr.BadRequest(apperr.CodeMissingParameter, "SAMLResponse is required")
	}

	info, err := p.sp.RetrieveAssertionInfo(encoded)
	if err != nil {
		return nil, apperr.Unauthorized(apperr.CodeSignatureMismatch, "assertion validation failed").WithCause(err)
	}
	if info.WarningInfo != nil {
		if info.WarningInfo.InvalidTime {
			return nil, apperr.Unauthorized(apperr.CodeExpiredToken, "assertion is outside its validity window")
		}
		if info.WarningInfo.NotInAudience {
			return nil, apperr.Unauthorized(apperr.CodeInvalidToken, "assertion audience mismatch")
		}
	}

	id := &Identity{ExternalID: info.NameID}
	attrs := p.cfg.Attributes
	for _, attr := range info.Values {
		if len(attr.Values) == 0 {
			continue
		}
		switch attr.Name {
		case firstNonEmpty(attrs.Email, "email"):
			id.Email = attr.Values[0].Value
		case firstNonEmpty(attrs.Name, "displayName"):
			id.Name = attr.Values[0].Value
		case attrs.Groups:
			for _, v := range attr.Values {
				id.Groups = append(id.Groups, v.Value)
			}
		}
	}
	if id.ExternalID == "" {
		return nil, apperr.Unauthorized(apperr.CodeInvalidToken, "assertion carries no subject")
	}
	return id, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
