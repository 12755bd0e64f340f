// Package identity is the authentication boundary: credential sign-in
// with Argon2id password verification, PASETO v4.public access tokens,
// and credential revocation via a per-user version counter.
//
// Session accounting lives elsewhere; this package only answers "who is
// this" and "are their credentials still valid".
package identity
