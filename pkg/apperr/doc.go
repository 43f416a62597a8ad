// Package apperr defines the structured error taxonomy shared by the
// licensing, identity and file-serving layers. Errors carry a stable string
// code, a human message, an HTTP status and an optional data bag; the
// transport boundary maps them onto responses.
package apperr
