// Package totp implements RFC 6238 time-based one-time passwords and the
// single-use recovery codes that back them up.
//
// Secrets are raw random bytes exchanged with authenticator apps as unpadded
// base32. Codes are derived from floor(unix/period) through HMAC truncation and
// verified against a symmetric window of adjacent steps to tolerate clock drift.
//
// Recovery codes are shown to the user once and persisted only as salted
// SHA-256 digests; consumption removes the matching digest from the set.
package totp
