// Package rbac implements the capability registry, role presets, per-owner
// role assignment storage and the request-scoped Principal. A principal is
// only constructible when a role resolves for its (actor, owner) pair;
// there is no anonymous or default role.
package rbac
