// Package files is the token-gated download pipeline. Every entry point
// takes a Request (a bag of string parameters plus headers) and returns
// a Response that either streams a payload with computed headers or
// carries the structured error describing exactly which gate failed.
package files
