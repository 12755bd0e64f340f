// Package realtime is the client side of the notification channel: a
// reconnecting websocket session with bounded fixed-delay retries, a
// presence roster refreshed by polling, and an in-memory conversation
// store with unread counters.
//
// The server counterpart lives in cmd/internal/notify; both speak the
// wire contract in shared/contracts/notify/v1.
package realtime
