package sso

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/appvend/appvend/pkg/apperr"
	"github.com/appvend/appvend/pkg/cache"
	"github.com/appvend/appvend/pkg/identity"
	"github.com/appvend/appvend/pkg/settings"
)

// Service owns the configured providers and turns validated assertions
// into host sessions.
type Service struct {
	cfg        *Config
	providers  map[string]*Provider
	identities *identity.Store
	federation *identity.FederationStore
	settings   settings.Store
	sessions   cache.Cache
}

// NewService builds every enabled provider from the config.
func NewService(cfg *Config, identities *identity.Store, federation *identity.FederationStore,
	settingsStore settings.Store, sessions cache.Cache) (*Service, error) {
	s := &Service{
		cfg:        cfg,
		providers:  make(map[string]*Provider),
		identities: identities,
		federation: federation,
		settings:   settingsStore,
		sessions:   sessions,
	}
	for _, pc := range cfg.Providers {
		if !pc.Enabled {
			continue
		}
		provider, err := NewProvider(pc, cfg.BaseURL)
		if err != nil {
			return nil, err
		}
		s.providers[pc.Name] = provider
	}
	return s, nil
}

// ProviderInfo is the public description of one login option.
type ProviderInfo struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	LoginPath   string `json:"login_path"`
}

// Providers lists the enabled providers, sorted by name.
func (s *Service) Providers() []ProviderInfo {
	infos := make([]ProviderInfo, 0, len(s.providers))
	for name, p := range s.providers {
		display := p.cfg.DisplayName
		if display == "" {
			display = name
		}
		infos = append(infos, ProviderInfo{
			Name:        name,
			DisplayName: display,
			LoginPath:   "/sso/" + name + "/login",
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Provider returns a configured provider by name.
func (s *Service) Provider(name string) (*Provider, error) {
	p, ok := s.providers[name]
	if !ok {
		return nil, apperr.NotFound(apperr.CodeMissingParameter, "unknown identity provider").
			WithData("provider", name)
	}
	return p, nil
}

// Establish bridges a validated assertion into a host session. The
// subject is namespaced per provider before federation, so the same
// NameID from two providers stays two identities.
func (s *Service) Establish(ctx context.Context, provider *Provider, id *Identity) (string, error) {
	installID, err := settings.InstallationID(ctx, s.settings)
	if err != nil {
		return "", err
	}
	issuer := identity.Issuer(installID)
	external := "saml/" + provider.Name() + "/" + id.ExternalID

	_, found, err := s.federation.Lookup(ctx, issuer, external)
	if err != nil {
		return "", err
	}
	if !found {
		if !provider.cfg.AutoProvision {
			return "", apperr.Forbidden(apperr.CodeAccountNotFound,
				"no account is linked to this identity").WithData("provider", provider.Name())
		}
		if err := s.provision(ctx, issuer, external, id); err != nil {
			return "", err
		}
	}

	token, err := sessionToken()
	if err != nil {
		return "", err
	}
	if err := s.sessions.Set(ctx, "session:"+token, []byte(external), s.cfg.SessionTTL); err != nil {
		return "", fmt.Errorf("failed to store session: %w", err)
	}
	return token, nil
}

// provision creates an internal user for a first-time subject and links
// the federation record.
func (s *Service) provision(ctx context.Context, issuer, external string, id *Identity) error {
	name := firstNonEmpty(id.Name, id.Email, id.ExternalID)
	user := &identity.User{Name: name, Email: id.Email}
	if err := s.identities.CreateUser(ctx, user); err != nil {
		return err
	}
	return s.federation.Link(ctx, issuer, external, user.ID)
}

// RedirectURL returns the post-login landing page for a provider.
func (s *Service) RedirectURL(provider *Provider) string {
	if provider.cfg.RedirectURL != "" {
		return provider.cfg.RedirectURL
	}
	return "/"
}

// SessionTTL returns the configured session lifetime in seconds.
func (s *Service) SessionTTL() int { return s.cfg.SessionTTL }

func sessionToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate session token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
