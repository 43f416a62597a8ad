// Package sanitize provides deterministic normalization of request
// parameters into cache keys, slugs and safe file names. All functions are
// pure.
package sanitize

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// maxKeyLen is the longest key emitted verbatim; longer keys are hashed so
// backends with key-length limits behave predictably.
const maxKeyLen = 128

var (
	slugPattern     = regexp.MustCompile(`[^a-z0-9-]+`)
	fileNamePattern = regexp.MustCompile(`[^A-Za-z0-9._-]+`)
)

// Key joins the given parts into a normalized cache key. Parts are trimmed,
// lowercased and joined with ':'; keys longer than 128 characters collapse
// to a sha256 digest of the joined form.
func Key(parts ...string) string {
	cleaned := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		cleaned = append(cleaned, p)
	}
	key := strings.Join(cleaned, ":")
	if len(key) > maxKeyLen {
		sum := sha256.Sum256([]byte(key))
		return hex.EncodeToString(sum[:])
	}
	return key
}

// QueryKey builds a cache key from a parameter map. Parameters are sorted
// by name so the same logical query always yields the same key regardless
// of map iteration order.
func QueryKey(prefix string, params map[string]string) string {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names)+1)
	parts = append(parts, prefix)
	for _, name := range names {
		parts = append(parts, name+"="+params[name])
	}
	return Key(parts...)
}

// Slug normalizes a name into a URL slug: lowercase, spaces and underscores
// to hyphens, everything outside [a-z0-9-] dropped, runs of hyphens
// collapsed.
func Slug(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer(" ", "-", "_", "-").Replace(s)
	s = slugPattern.ReplaceAllString(s, "")
	for strings.Contains(s, "--") {
		s = strings.ReplaceAll(s, "--", "-")
	}
	return strings.Trim(s, "-")
}

// Domain normalizes a license activation domain: scheme, port, path,
// credentials and a leading "www." are stripped and the host lowercased.
// Returns "" when no host can be extracted.
func Domain(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	return strings.TrimPrefix(host, "www.")
}

// FileName reduces a name to characters safe for a Content-Disposition
// filename parameter, keeping the extension. Path separators never survive.
func FileName(name string) string {
	name = filepath.Base(strings.TrimSpace(name))
	name = fileNamePattern.ReplaceAllString(name, "_")
	name = strings.Trim(name, "._")
	if name == "" {
		return "download"
	}
	return name
}
