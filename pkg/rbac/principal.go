package rbac

import (
	"fmt"

	"github.com/appvend/appvend/pkg/identity"
)

// Principal is the fully resolved security context of one request: the
// authenticated actor, the role it holds against the active owner, and
// the subject behind that owner. There is no anonymous principal; a
// request without one is simply not logged in.
type Principal struct {
	Actor   identity.Actor
	Role    *Role
	Owner   *identity.Owner
	Subject identity.Subject
}

// NewPrincipal assembles a principal. A missing actor or role is a
// programming error upstream, not a user-facing condition.
func NewPrincipal(actor identity.Actor, role *Role, owner *identity.Owner, subject identity.Subject) (*Principal, error) {
	if actor == nil || !actor.Exists() {
		return nil, fmt.Errorf("principal requires a persisted actor")
	}
	if role == nil {
		return nil, fmt.Errorf("principal requires a resolved role")
	}
	return &Principal{Actor: actor, Role: role, Owner: owner, Subject: subject}, nil
}

// Can reports whether the principal's role grants a capability.
func (p *Principal) Can(cap string) bool {
	if p == nil {
		return false
	}
	return p.Role.Can(cap)
}

// OwnerID returns the active owner id, or the actor id when the
// principal operates in its implicit self-owned scope.
func (p *Principal) OwnerID() int64 {
	if p.Owner.Exists() {
		return p.Owner.ID
	}
	return p.Actor.ActorID()
}

// OwnerKind returns the active owner kind, defaulting to individual.
func (p *Principal) OwnerKind() identity.OwnerKind {
	if p.Owner.Exists() {
		return p.Owner.Kind
	}
	return identity.OwnerIndividual
}
