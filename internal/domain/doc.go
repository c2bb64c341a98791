// Package domain holds the orchestration service's core types: versioned
// entities and their annotations, schema-versioned payloads, human tasks,
// run audits, schedule definitions, lifecycle events and the error taxonomy.
package domain
