// Package rbac evaluates role predicates over a principal's role-name set.
//
// Evaluation is pure: roles are compared by name only and never resolved
// against storage, so a stale role name on a principal simply never matches.
package rbac

import "strings"

// Subject is anything that carries a set of role names.
type Subject interface {
	RoleNames() []string
}

// Roles adapts a plain slice to [Subject].
type Roles []string

// RoleNames implements [Subject].
func (r Roles) RoleNames() []string { return r }

// Mode selects how a [Requirement] combines its roles.
type Mode int

const (
	// Any is satisfied by at least one listed role.
	Any Mode = iota
	// All requires every listed role.
	All
)

func (m Mode) String() string {
	switch m {
	case Any:
		return "any"
	case All:
		return "all"
	default:
		return "unknown"
	}
}

// Requirement is a declarative role predicate used by route guards and
// [Requirement.Satisfied]. An empty requirement is satisfied by any subject.
type Requirement struct {
	Roles []string
	Mode  Mode
}

// RequireAny builds an OR requirement.
func RequireAny(roles ...string) Requirement {
	return Requirement{Roles: roles, Mode: Any}
}

// RequireAll builds an AND requirement.
func RequireAll(roles ...string) Requirement {
	return Requirement{Roles: roles, Mode: All}
}

// Satisfied evaluates r against s.
func (r Requirement) Satisfied(s Subject) bool {
	if len(r.Roles) == 0 {
		return true
	}
	if r.Mode == All {
		return HasAllRoles(s, r.Roles)
	}
	return HasAnyRole(s, r.Roles)
}

func (r Requirement) String() string {
	return r.Mode.String() + "(" + strings.Join(r.Roles, ",") + ")"
}

// HasRole reports whether s holds role.
func HasRole(s Subject, role string) bool {
	if s == nil || role == "" {
		return false
	}
	for _, have := range s.RoleNames() {
		if have == role {
			return true
		}
	}
	return false
}

// HasAnyRole reports whether s holds at least one of roles. It is false for
// an empty list.
func HasAnyRole(s Subject, roles []string) bool {
	if s == nil || len(roles) == 0 {
		return false
	}
	have := roleSet(s)
	for _, r := range roles {
		if _, ok := have[r]; ok {
			return true
		}
	}
	return false
}

// HasAllRoles reports whether s holds every role in roles. It is vacuously
// true for an empty list.
func HasAllRoles(s Subject, roles []string) bool {
	if len(roles) == 0 {
		return true
	}
	if s == nil {
		return false
	}
	have := roleSet(s)
	for _, r := range roles {
		if _, ok := have[r]; !ok {
			return false
		}
	}
	return true
}

func roleSet(s Subject) map[string]struct{} {
	names := s.RoleNames()
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set
}
