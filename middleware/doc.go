// Package middleware adapts authcore.Engine checks to net/http.
//
// # Guards
//
//   - [Guard] validates the bearer access token only.
//   - [RequireRoles], [RequireAnyRole] and [RequireAllRoles] also load the
//     principal and evaluate its current roles.
//
// Token failures answer 401, role failures 403 and storage outages 503.
//
// # What this package must NOT do
//
//   - Parse or mint JWTs directly.
//   - Make authorization decisions beyond what the engine returns.
package middleware
