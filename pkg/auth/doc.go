// Package auth resolves request security contexts. The Guard walks the
// identity-federation chain from the host session to a Principal, and the
// Keyring issues and verifies compound service-account API keys.
package auth
