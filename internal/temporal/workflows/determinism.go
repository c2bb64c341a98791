package workflows

import (
	"sort"

	"github.com/google/uuid"
)

// SortedMapKeys returns the keys of m in ascending order. Map iteration
// order is random, so workflow code that ranges over a map must go through
// this to replay identically.
func SortedMapKeys[K ~string, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i] < keys[j]
	})
	return keys
}

// UniqueIDs drops repeated ids and returns the rest ordered by their string
// form. The input is not modified.
func UniqueIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[string]uuid.UUID, len(ids))
	for _, id := range ids {
		seen[id.String()] = id
	}
	out := make([]uuid.UUID, 0, len(seen))
	for _, key := range SortedMapKeys(seen) {
		out = append(out, seen[key])
	}
	return out
}
