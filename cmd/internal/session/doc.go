// Package session implements betsweb's concurrent-session ledger.
//
// It enforces the per-user active-session cap (maxSessions, superadmin
// exempt) with atomic check-and-increment/decrement against a per-uid
// record in the document store, tracks per-device session identity and
// heartbeat timestamps, and reconciles sessions presumed dead after
// missed heartbeats.
//
// Every mutation goes through Store.Mutate, a retryable serializable
// transaction. Mutation bodies are pure functions of the latest read
// snapshot so the store may re-invoke them on conflict.
package session
