// Package cache implements the three independent cache tiers sitting in
// front of the store and query engine: hot-context, query-result, and
// embedding. Each tier has its own TTL, bound, and invalidation trigger, and
// they are never merged. A miss is never an error condition.
//
// Every cache takes an explicit clock so tests control time; no hidden
// global state survives between constructed instances.
package cache

import "time"

// Clock returns the current time; injectable for tests.
type Clock func() time.Time

// SystemClock is the production clock.
func SystemClock() time.Time { return time.Now() }
