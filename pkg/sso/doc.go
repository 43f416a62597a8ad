// Package sso implements browser login against enterprise identity
// providers, SAML 2.0 and OIDC.
//
// SAML providers are declared in a YAML file; each one becomes a login
// and assertion-consumer endpoint pair. A validated assertion is
// bridged into the regular identity federation: the subject is linked
// (or provisioned) as an internal user and a cache-backed session is
// issued, so downstream authentication treats SAML users exactly like
// any other host session.
//
// The OIDC flow is the authorization-code exchange for deployments that
// verify ID tokens as the session credential; its callback installs the
// verified raw token in the session cookie.
package sso
