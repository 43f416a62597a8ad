// Package audit records security-relevant events: principal resolution,
// role changes, license transitions and downloads. Two sinks exist, a
// database table for querying and a JSON file for shipping to external
// collectors; both can run at once behind the Multi logger.
package audit
