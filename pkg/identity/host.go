package identity

import "context"

// HostIdentity is the narrow view of the host environment's session layer:
// whether a logged-in external identity is present for this request, and
// what its external id is. How the host determines that is not this
// package's concern.
type HostIdentity interface {
	// CurrentExternalID returns the external identity for the request,
	// and false when no one is logged in. Absence of auth is a valid
	// terminal state, not an error.
	CurrentExternalID(ctx context.Context) (string, bool)
}

// SessionIdentity resolves the external id from a session-token lookup
// function supplied by the embedding server.
type SessionIdentity struct {
	lookup func(ctx context.Context, sessionToken string) (string, bool)
	token  func(ctx context.Context) string
}

// NewSessionIdentity builds a HostIdentity from a session-token extractor
// and a token-to-external-id resolver.
func NewSessionIdentity(
	token func(ctx context.Context) string,
	lookup func(ctx context.Context, sessionToken string) (string, bool),
) *SessionIdentity {
	return &SessionIdentity{lookup: lookup, token: token}
}

// CurrentExternalID implements HostIdentity.
func (s *SessionIdentity) CurrentExternalID(ctx context.Context) (string, bool) {
	sessionToken := s.token(ctx)
	if sessionToken == "" {
		return "", false
	}
	return s.lookup(ctx, sessionToken)
}
