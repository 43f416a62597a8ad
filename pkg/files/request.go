package files

import (
	"net/http"
	"strings"
)

// Request carries the parameters of one download request, decoupled from
// the transport. Handlers build it from route variables and the query
// string; tests build it directly.
type Request struct {
	params map[string]string
	header http.Header
}

// NewRequest builds a request from a parameter map and headers. Both may
// be nil.
func NewRequest(params map[string]string, header http.Header) *Request {
	if params == nil {
		params = map[string]string{}
	}
	if header == nil {
		header = http.Header{}
	}
	return &Request{params: params, header: header}
}

// Param returns a request parameter, "" when absent.
func (r *Request) Param(key string) string {
	return r.params[key]
}

// Header returns a request header value.
func (r *Request) Header(key string) string {
	return r.header.Get(key)
}

// BearerToken extracts the token from an Authorization header with a
// Bearer scheme. The prefix match is case-insensitive and everything
// after the first space is the token. "" when the header is absent or
// uses another scheme.
func (r *Request) BearerToken() string {
	auth := strings.TrimSpace(r.header.Get("Authorization"))
	if auth == "" {
		return ""
	}
	scheme, token, found := strings.Cut(auth, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
