// Package api wires the HTTP handlers for the catalog, licensing,
// role administration and the download pipeline onto a gorilla/mux
// router. Handlers translate between HTTP and the domain services; all
// authorization decisions stay in the domain and middleware layers.
package api
