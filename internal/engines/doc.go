// Package engines declares the business engines invoked by activities and
// ships a deterministic implementation of each.
//
// Engines are pure functions of their inputs: they never touch the entity
// store. Activities read the entities and annotations an engine needs, call
// it, and persist whatever it returns.
package engines
