// Package license implements the license lifecycle state machine, domain
// activation with a hard capacity ceiling, and app-scoped download
// tokens. Status is partly derived: terminal administrative states are
// stored, the active/expired distinction is recomputed from the date
// window on every read.
package license
