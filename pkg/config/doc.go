// Package config loads application configuration from APPVEND_*
// environment variables with sensible defaults, and validates the
// combination before any process starts serving.
package config
