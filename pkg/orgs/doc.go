// Package orgs manages organization membership and the invitation flow
// that grows it.
//
// Membership rows live in organization_members and are read back through
// the identity store; this package owns the writes. Every membership
// change also syncs the member's role assignment in the organization's
// owner scope, so a demoted admin loses their capabilities on the next
// request.
//
// Invitations are single-use tokens with a fixed expiry. Accepting one
// creates the membership and marks the invitation inside a single
// transaction.
package orgs
