// Package authcore is an authentication and session-lifecycle engine: password
// login, JWT access tokens with rotating refresh tokens, revocation, email
// verification and password reset tokens, TOTP second factor with recovery
// codes, and role-based authorization.
//
// Engine methods are safe to call from multiple goroutines after
// initialization through [Builder.Build]. The engine keeps no per-principal
// state in memory; every operation re-reads storage, so several engines may
// share one backend.
//
// # Architecture boundaries
//
// authcore is the public surface. It exposes [Engine], [Builder], [Config],
// the error kinds and value types. Leaf components live in their own
// packages (jwt, password, onetime, totp, rbac, storage) and know nothing
// about the engine. Notification delivery, audit dispatch and throttling
// live under internal/.
//
// # Errors
//
// Every operation returns either its result or one [*Error]. Match on kind
// with errors.Is against the exported sentinels, or with [KindOf]:
//
//	_, err := engine.Login(ctx, email, password)
//	if errors.Is(err, authcore.ErrInvalidCredentials) {
//		// unknown email, wrong password, disabled or unverified account
//	}
//
// Authentication failures share one message so responses cannot be used to
// learn which accounts exist. Storage outages and timeouts are always
// [KindUnavailable], never a credential error.
//
// # What this package must NOT do
//
//   - Log or return plaintext passwords, one-time tokens or TOTP secrets
//     after they have been handed out.
//   - Route HTTP, set cookies or send email. The middleware package and the
//     [Notifier] interface are the seams for that.
//   - Run schema migrations on its own. storage/postgres exposes Migrate for
//     deployment tooling.
package authcore
