// Package notifier delivers user-facing messages (review reminders) through
// a transport.Adapter.
//
// Delivery is asynchronous: Notify enqueues and returns, a small worker pool
// sends under a token-bucket rate limit with jittered retries. Repeated
// messages with the same key are suppressed for a dedup window; the window
// can be persisted in the store so a restart does not re-send reminders.
//
// Service implements quiz.Notifier. Users are addressed by their Telegram
// user id, which is also their private chat id.
package notifier
