package middleware

import (
	"net/http"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/rbac"
)

// RequireAnyRole admits principals holding at least one of roles.
func RequireAnyRole(engine *authcore.Engine, roles ...string) func(http.Handler) http.Handler {
	return RequireRoles(engine, rbac.RequireAny(roles...))
}

// RequireAllRoles admits principals holding every one of roles.
func RequireAllRoles(engine *authcore.Engine, roles ...string) func(http.Handler) http.Handler {
	return RequireRoles(engine, rbac.RequireAll(roles...))
}
