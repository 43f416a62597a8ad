package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"sync"

	"github.com/appvend/appvend/pkg/cache"
	"github.com/appvend/appvend/pkg/identity"
	"github.com/appvend/appvend/pkg/rbac"
	"github.com/appvend/appvend/pkg/settings"
)

// OwnerSwitchTTL bounds how long an explicit owner switch stays active
// without being refreshed, in seconds.
const OwnerSwitchTTL = 900

// Guard resolves the Principal for one request. Construct one Guard per
// request; the resolved principal is memoized on the instance so repeated
// Authenticate calls within the request return the identical value.
//
// Every resolution step is a hard gate: when a gate cannot be satisfied
// (nobody logged in, identity not federated, no owner context, no role)
// Authenticate returns (nil, nil). A nil principal means "proceed as
// unauthenticated"; only infrastructure failures surface as errors.
type Guard struct {
	host       identity.HostIdentity
	settings   settings.Store
	cache      cache.Cache
	identities *identity.Store
	federation *identity.FederationStore
	roles      *rbac.AssignmentStore

	// sessionToken feeds the owner-switch marker key; empty when the
	// request has no session.
	sessionToken func(ctx context.Context) string

	mu        sync.Mutex
	resolved  bool
	principal *rbac.Principal
}

// NewGuard assembles a request-scoped guard.
func NewGuard(
	host identity.HostIdentity,
	settingsStore settings.Store,
	cacheStore cache.Cache,
	identities *identity.Store,
	federation *identity.FederationStore,
	roles *rbac.AssignmentStore,
	sessionToken func(ctx context.Context) string,
) *Guard {
	if sessionToken == nil {
		sessionToken = func(context.Context) string { return "" }
	}
	return &Guard{
		host:         host,
		settings:     settingsStore,
		cache:        cacheStore,
		identities:   identities,
		federation:   federation,
		roles:        roles,
		sessionToken: sessionToken,
	}
}

// Authenticate resolves the current Principal, or nil when any gate in
// the chain fails. The principal cache is written in exactly one place,
// after the full chain succeeds; gate failures are never cached, so a
// later call can succeed once state changes.
func (g *Guard) Authenticate(ctx context.Context) (*rbac.Principal, error) {
	externalID, loggedIn := g.host.CurrentExternalID(ctx)
	if !loggedIn {
		return nil, nil
	}

	g.mu.Lock()
	if g.resolved {
		p := g.principal
		g.mu.Unlock()
		return p, nil
	}
	g.mu.Unlock()

	installID, err := settings.InstallationID(ctx, g.settings)
	if err != nil {
		return nil, err
	}
	issuer := identity.Issuer(installID)

	userID, federated, err := g.federation.Lookup(ctx, issuer, externalID)
	if err != nil {
		return nil, err
	}
	if !federated {
		return nil, nil
	}
	actor, err := g.identities.UserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if actor == nil || actor.ActorStatus() != identity.StatusActive {
		return nil, nil
	}

	owner, err := g.resolveOwner(ctx, issuer, actor)
	if err != nil {
		return nil, err
	}
	if !owner.Exists() {
		return nil, nil
	}
	subject, err := g.identities.SubjectFor(ctx, owner)
	if err != nil {
		return nil, err
	}

	role, err := g.roles.PrincipalRole(ctx, actor, owner)
	if err != nil {
		return nil, err
	}
	if role == nil {
		return nil, nil
	}

	principal, err := rbac.NewPrincipal(actor, role, owner, subject)
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	g.principal = principal
	g.resolved = true
	g.mu.Unlock()
	return principal, nil
}

// resolveOwner prefers an explicit owner-switch marker for this session
// and falls back to the actor's default owner.
func (g *Guard) resolveOwner(ctx context.Context, issuer string, actor identity.Actor) (*identity.Owner, error) {
	if token := g.sessionToken(ctx); token != "" && g.cache != nil {
		raw, ok, err := g.cache.Get(ctx, ownerSwitchKey(issuer, token))
		if err != nil {
			return nil, err
		}
		if ok {
			if ownerID, convErr := strconv.ParseInt(string(raw), 10, 64); convErr == nil {
				owner, err := g.identities.OwnerByID(ctx, ownerID)
				if err != nil {
					return nil, err
				}
				if owner.Exists() {
					return owner, nil
				}
			}
		}
	}
	return g.identities.DefaultOwnerFor(ctx, actor)
}

// SwitchOwner records an explicit owner context for the current session.
// The marker is short-lived and keyed by a hash of issuer and session
// token, so it cannot be replayed across sessions or installations.
func (g *Guard) SwitchOwner(ctx context.Context, ownerID int64) error {
	token := g.sessionToken(ctx)
	if token == "" || g.cache == nil {
		return nil
	}
	installID, err := settings.InstallationID(ctx, g.settings)
	if err != nil {
		return err
	}
	key := ownerSwitchKey(identity.Issuer(installID), token)
	if err := g.cache.Set(ctx, key, []byte(strconv.FormatInt(ownerID, 10)), OwnerSwitchTTL); err != nil {
		return err
	}
	// The memoized principal belongs to the previous owner context.
	g.mu.Lock()
	g.resolved = false
	g.principal = nil
	g.mu.Unlock()
	return nil
}

// ClearOwnerSwitch drops the marker, restoring the default owner on the
// next Authenticate.
func (g *Guard) ClearOwnerSwitch(ctx context.Context) error {
	token := g.sessionToken(ctx)
	if token == "" || g.cache == nil {
		return nil
	}
	installID, err := settings.InstallationID(ctx, g.settings)
	if err != nil {
		return err
	}
	if err := g.cache.Delete(ctx, ownerSwitchKey(identity.Issuer(installID), token)); err != nil {
		return err
	}
	g.mu.Lock()
	g.resolved = false
	g.principal = nil
	g.mu.Unlock()
	return nil
}

func ownerSwitchKey(issuer, sessionToken string) string {
	sum := sha256.Sum256([]byte(issuer + sessionToken))
	return "owner_switch:" + hex.EncodeToString(sum[:])
}
