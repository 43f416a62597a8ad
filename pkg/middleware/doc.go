// Package middleware provides the HTTP middleware stack for the server.
//
// # Middleware ordering requirements
//
// The stack has strict ordering dependencies. Incorrect order will cause
// capability checks to see a nil principal and reject every request.
//
// REQUIRED ORDERING (outer to inner):
//  1. RequestID - assigns the request id used by logging and audit
//  2. Recover - converts handler panics into 500 responses
//  3. Authenticator.Handler - resolves the principal into the context
//  4. RateLimit.Handler - keys limits by principal, falls back to client IP
//  5. RequireCapability / RequireAuthenticated - per-route gates
//
// The authenticator never rejects a request for being anonymous; it only
// rejects requests that present bad credentials. Routes decide whether a
// principal is required.
package middleware
