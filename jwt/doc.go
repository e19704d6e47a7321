// Package jwt signs and verifies the compact bearer tokens issued by the engine.
//
// Three token types share one claim layout and differ by the "typ" claim and by
// the key that signs them: access tokens prove identity per request, refresh
// tokens are exchanged for a new pair, and pending tokens bridge a password
// login to its second-factor step. Every type has its own signing key so a
// token of one type never verifies as another.
//
// The codec is stateless. Revocation and single-use checks are layered on top
// by the engine through storage.
package jwt
