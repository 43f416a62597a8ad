// Package identity models the authenticating actors (users, service
// accounts, organization members), the resource-owning entities behind
// them, and the federation layer that maps external host identities onto
// internal actors. Authorization itself lives in pkg/rbac; the request
// guard that ties both together lives in pkg/auth.
package identity
