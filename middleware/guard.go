package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/rbac"
	"github.com/MrEthical07/authcore/storage"
)

type claimsContextKey struct{}
type principalContextKey struct{}

// ClaimsFromContext returns the access claims stored by [Guard].
func ClaimsFromContext(ctx context.Context) (*authcore.AccessClaims, bool) {
	claims, ok := ctx.Value(claimsContextKey{}).(*authcore.AccessClaims)
	return claims, ok
}

// PrincipalFromContext returns the principal stored by [RequireRoles].
func PrincipalFromContext(ctx context.Context) (*storage.Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(*storage.Principal)
	return p, ok
}

// Guard admits requests carrying a valid bearer access token. The claims
// are stored in the request context and the subject is recorded as the
// audit actor.
func Guard(engine *authcore.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				writeError(w, authcore.ErrInvalidToken)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				writeError(w, authcore.ErrInvalidToken)
				return
			}

			claims, err := engine.ValidateAccess(r.Context(), token)
			if err != nil {
				writeError(w, err)
				return
			}

			ctx := context.WithValue(r.Context(), claimsContextKey{}, claims)
			ctx = authcore.WithActor(ctx, claims.SubjectID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRoles admits requests whose bearer token belongs to an active
// principal satisfying req. Roles are read from storage on every request.
func RequireRoles(engine *authcore.Engine, req rbac.Requirement) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				writeError(w, authcore.ErrInvalidToken)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				writeError(w, authcore.ErrInvalidToken)
				return
			}

			p, err := engine.Authorize(r.Context(), token, req)
			if err != nil {
				writeError(w, err)
				return
			}

			ctx := context.WithValue(r.Context(), principalContextKey{}, p)
			ctx = authcore.WithActor(ctx, p.ID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// writeError maps an engine error to a status. Bodies stay generic.
func writeError(w http.ResponseWriter, err error) {
	switch authcore.KindOf(err) {
	case authcore.KindAccessDenied:
		http.Error(w, "forbidden", http.StatusForbidden)
	case authcore.KindUnavailable:
		w.Header().Set("Retry-After", "1")
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
	default:
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}
