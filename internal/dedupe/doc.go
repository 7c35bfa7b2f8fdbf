// Package dedupe remembers idempotency keys for a bounded time window so a
// retried request maps back to the result of the first attempt.
package dedupe
