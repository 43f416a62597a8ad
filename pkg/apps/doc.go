// Package apps is the hosted application catalog. An app is the unit of
// distribution: a downloadable package owned by one Owner, addressed by
// (type, slug), optionally monetized so downloads require a license
// token.
package apps
