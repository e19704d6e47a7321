// Package rate throttles repeated failures per key.
//
// Two implementations share the [Limiter] interface:
//
//   - [RedisLimiter] keeps fixed-window counters (INCR, EXPIRE on first hit)
//     so every engine instance sees the same budget. Keys are
//     "<prefix>:rl:<scope>:<key>".
//   - [LocalLimiter] keeps one token bucket per key in process memory.
//
// Keys are opaque to this package; callers hash identifiers before passing
// them in. Policy (which operations are throttled, and how hard) belongs to
// the engine.
package rate
