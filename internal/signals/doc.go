// Package signals routes inbound human responses and webhooks to running
// workflows.
//
// The Bridge resolves a task to the workflow waiting on it and delivers the
// matching signal. It serves both the HTTP task endpoints and the Listener,
// which consumes the inbound Kafka topic, drops duplicates through a Redis
// backed Deduper, and paces deliveries with a token bucket.
package signals
