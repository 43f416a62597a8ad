// Package async provides panic-safe background execution: fire-and-forget
// tasks with timeouts, and a bounded worker pool used for webhook delivery.
package async
