// Package webhooks notifies external systems about licensing and download
// activity. Owners register subscriptions naming a callback URL and the
// event types they care about; the dispatcher POSTs signed JSON payloads,
// retries transient failures with exponential backoff, and keeps a
// bounded in-memory log of recent delivery attempts.
package webhooks
