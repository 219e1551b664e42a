// Package csrf issues and validates per-session anti-forgery tokens.
//
// A [Manager] generates a random token for a session key, stores it with a
// one hour expiry (overwriting any earlier token for that key) and later
// checks submitted tokens in constant time. Records live behind the [Store]
// get/set/delete interface: [MemoryStore] for a single process and
// [RedisStore] when several replicas share state.
//
// Expired records are deleted when a validation observes them and,
// optionally, by a [Sweeper] running on a cron schedule.
package csrf
