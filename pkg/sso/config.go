package sso

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultSessionTTL is the session lifetime in seconds when the config
// does not set one.
const DefaultSessionTTL = 8 * 60 * 60

// Config is the root of the SAML provider declaration file.
type Config struct {
	// BaseURL is the externally reachable URL of this server, used to
	// derive the service-provider entity id and ACS endpoints.
	BaseURL string `yaml:"base_url"`

	// SessionTTL is the lifetime of issued sessions in seconds.
	SessionTTL int `yaml:"session_ttl"`

	Providers []ProviderConfig `yaml:"providers"`
}

// ProviderConfig declares one identity provider.
type ProviderConfig struct {
	Name          string `yaml:"name"`
	DisplayName   string `yaml:"display_name"`
	Enabled       bool   `yaml:"enabled"`
	AutoProvision bool   `yaml:"auto_provision"`

	// RedirectURL is where the browser lands after a successful login.
	RedirectURL string `yaml:"redirect_url"`

	IdP        IdPConfig    `yaml:"idp"`
	Attributes AttributeMap `yaml:"attributes"`
}

// IdPConfig is the identity-provider half of the SAML exchange.
type IdPConfig struct {
	EntityID string `yaml:"entity_id"`
	SSOURL   string `yaml:"sso_url"`

	// Certificate is the PEM signing certificate, inline or by file.
	Certificate     string `yaml:"certificate"`
	CertificateFile string `yaml:"certificate_file"`

	NameIDFormat string `yaml:"name_id_format"`
}

// AttributeMap names the assertion attributes carrying user fields.
// Unset fields fall back to common attribute names.
type AttributeMap struct {
	Email  string `yaml:"email"`
	Name   string `yaml:"name"`
	Groups string `yaml:"groups"`
}

// LoadConfig reads and validates the provider declaration file.
func LoadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read SSO config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse SSO config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("sso: base_url is required")
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.SessionTTL <= 0 {
		c.SessionTTL = DefaultSessionTTL
	}
	seen := make(map[string]bool)
	for i := range c.Providers {
		p := &c.Providers[i]
		if p.Name == "" {
			return fmt.Errorf("sso: provider %d has no name", i)
		}
		if seen[p.Name] {
			return fmt.Errorf("sso: duplicate provider %q", p.Name)
		}
		seen[p.Name] = true
		if !p.Enabled {
			continue
		}
		if p.IdP.SSOURL == "" || p.IdP.EntityID == "" {
			return fmt.Errorf("sso: provider %q needs idp entity_id and sso_url", p.Name)
		}
		if p.IdP.Certificate == "" && p.IdP.CertificateFile == "" {
			return fmt.Errorf("sso: provider %q needs an idp certificate", p.Name)
		}
	}
	return nil
}

// certificatePEM returns the inline certificate or reads the referenced
// file.
func (i *IdPConfig) certificatePEM() ([]byte, error) {
	if i.Certificate != "" {
		return []byte(i.Certificate), nil
	}
	return os.ReadFile(i.CertificateFile)
}
