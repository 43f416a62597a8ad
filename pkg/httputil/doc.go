// Package httputil provides HTTP handler utilities for consistent error
// handling, JSON encoding/decoding, and request parsing.
//
// Error responses always flow through WriteAppError so every endpoint
// emits the same envelope: the HTTP status comes from the structured
// error and the body lists one or more (code, message, data) entries.
package httputil
