// Package analytics computes usage aggregates over the catalog and
// license tables: a KPI overview, download leaderboards, issuance
// windows and a CSV export.
//
// Everything is derived at query time from the live tables; there is no
// separate stats store to keep in sync. License states are derived
// through the same date-window rules the authorization path uses, so
// the numbers here always agree with what validation would say.
package analytics
