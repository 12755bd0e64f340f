// Package notify is the server side of the notification channel: a
// websocket gateway that registers connections by user id, answers
// roster requests, relays direct chat messages, and fans out
// administrative broadcasts.
//
// Clients speak the wire contract in shared/contracts/notify/v1; the
// client implementation lives in cmd/internal/realtime.
package notify
