package authcore

import (
	"context"
	"errors"
	"slices"
	"strconv"
	"strings"

	"github.com/MrEthical07/authcore/rbac"
	"github.com/MrEthical07/authcore/storage"
	"github.com/google/uuid"
)

/*
====================================
ROLE ADMINISTRATION
====================================
*/

// Every operation in this file takes the caller's subject id explicitly and
// re-reads the caller from storage: the caller must be active and hold
// Account.AdminRole. Operations that change a principal reject
// callerID == targetID with AccessDenied.

// CreateRole stores a new role. Permission names are de-duplicated.
func (e *Engine) CreateRole(ctx context.Context, callerID string, in RoleInput) (*storage.Role, error) {
	ctx, cancel := e.operationContext(ctx)
	defer cancel()

	var role storage.Role
	err := e.adminOp(ctx, callerID, auditEventRoleCreate, "", func() error {
		name, err := roleName(in.Name)
		if err != nil {
			return err
		}
		perms, err := permissionSet(in.Permissions)
		if err != nil {
			return err
		}
		now := e.now()
		role, err = e.store.CreateRole(ctx, storage.Role{
			ID:          uuid.NewString(),
			Name:        name,
			Permissions: perms,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
		return storageError(err, KindRoleNotFound)
	})
	if err != nil {
		return nil, err
	}
	return &role, nil
}

// UpdateRole changes the name and/or permissions of a role. Principals
// reference roles by name, so a rename leaves holders of the old name with
// a dangling reference that grants nothing.
func (e *Engine) UpdateRole(ctx context.Context, callerID, roleID string, in RoleUpdate) (*storage.Role, error) {
	ctx, cancel := e.operationContext(ctx)
	defer cancel()

	var role storage.Role
	err := e.adminOp(ctx, callerID, auditEventRoleUpdate, "", func() error {
		current, err := e.store.GetRoleByID(ctx, roleID)
		if err != nil {
			return storageError(err, KindRoleNotFound)
		}

		patch := storage.RolePatch{UpdatedAt: e.now()}
		if in.Name != nil {
			name, err := roleName(*in.Name)
			if err != nil {
				return err
			}
			if name != current.Name && e.protectedRole(current.Name) {
				return invalidInput("built-in roles cannot be renamed")
			}
			patch.Name = &name
		}
		if in.Permissions != nil {
			perms, err := permissionSet(*in.Permissions)
			if err != nil {
				return err
			}
			patch.Permissions = &perms
		}

		role, err = e.store.UpdateRole(ctx, roleID, patch)
		return storageError(err, KindRoleNotFound)
	})
	if err != nil {
		return nil, err
	}
	return &role, nil
}

// DeleteRole removes a role. Principals still naming it keep the name,
// which no longer matches anything.
func (e *Engine) DeleteRole(ctx context.Context, callerID, roleID string) error {
	ctx, cancel := e.operationContext(ctx)
	defer cancel()

	return e.adminOp(ctx, callerID, auditEventRoleDelete, "", func() error {
		current, err := e.store.GetRoleByID(ctx, roleID)
		if err != nil {
			return storageError(err, KindRoleNotFound)
		}
		if e.protectedRole(current.Name) {
			return invalidInput("built-in roles cannot be deleted")
		}
		return storageError(e.store.DeleteRole(ctx, roleID), KindRoleNotFound)
	})
}

// AssignRole grants role to targetID. Apart from the admin and default
// roles, role must exist.
func (e *Engine) AssignRole(ctx context.Context, callerID, targetID, role string) error {
	ctx, cancel := e.operationContext(ctx)
	defer cancel()

	return e.adminOp(ctx, callerID, auditEventRoleAssign, targetID, func() error {
		// built-in names need no stored record
		if !e.protectedRole(role) {
			if _, err := e.store.GetRoleByName(ctx, role); err != nil {
				return storageError(err, KindRoleNotFound)
			}
		}
		target, err := e.store.GetPrincipalByID(ctx, targetID)
		if err != nil {
			return storageError(err, KindUserNotFound)
		}
		if rbac.HasRole(target, role) {
			return nil
		}
		roles := append(slices.Clone(target.Roles), role)
		return e.setRoles(ctx, targetID, roles)
	})
}

// RemoveRole revokes role from targetID. Removing a role the target does not
// hold, or one that no longer exists, succeeds.
func (e *Engine) RemoveRole(ctx context.Context, callerID, targetID, role string) error {
	ctx, cancel := e.operationContext(ctx)
	defer cancel()

	return e.adminOp(ctx, callerID, auditEventRoleRemove, targetID, func() error {
		target, err := e.store.GetPrincipalByID(ctx, targetID)
		if err != nil {
			return storageError(err, KindUserNotFound)
		}
		if !rbac.HasRole(target, role) {
			return nil
		}
		roles := slices.DeleteFunc(slices.Clone(target.Roles), func(r string) bool { return r == role })
		return e.setRoles(ctx, targetID, roles)
	})
}

// SetAccountActive enables or disables targetID. Disabling also revokes
// every refresh token of the target.
func (e *Engine) SetAccountActive(ctx context.Context, callerID, targetID string, active bool) error {
	ctx, cancel := e.operationContext(ctx)
	defer cancel()

	return e.adminOp(ctx, callerID, auditEventAccountStatusChange, targetID, func() error {
		_, err := e.store.UpdatePrincipal(ctx, targetID, storage.PrincipalPatch{
			Active:    &active,
			UpdatedAt: e.now(),
		})
		if err != nil {
			return storageError(err, KindUserNotFound)
		}
		if active {
			return nil
		}
		_, err = e.store.DeleteAllRefreshTokensFor(ctx, targetID)
		return storageError(err, KindUnavailable)
	}, "active", strconv.FormatBool(active))
}

// EffectivePermissions resolves the role names of subjectID against the
// live roles and returns the sorted union of their permissions. Names
// without a matching role are skipped.
func (e *Engine) EffectivePermissions(ctx context.Context, subjectID string) ([]string, error) {
	ctx, cancel := e.operationContext(ctx)
	defer cancel()

	p, err := e.store.GetPrincipalByID(ctx, subjectID)
	if err != nil {
		return nil, storageError(err, KindUserNotFound)
	}

	var perms []string
	for _, name := range p.Roles {
		role, err := e.store.GetRoleByName(ctx, name)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return nil, storageError(err, KindUnavailable)
		}
		perms = append(perms, role.Permissions...)
	}

	slices.Sort(perms)
	return slices.Compact(perms), nil
}

// adminOp checks the caller, runs op and records the outcome. targetID is
// empty for operations on roles. metadata is an optional list of key/value
// pairs for the audit event.
func (e *Engine) adminOp(ctx context.Context, callerID, event, targetID string, op func() error, metadata ...string) error {
	err := e.requireAdmin(ctx, callerID, targetID)
	if err == nil {
		err = op()
	}

	ctx = WithActor(ctx, callerID)
	e.emitAudit(ctx, event, err == nil, targetID, err, func() map[string]string {
		if len(metadata) == 0 {
			return nil
		}
		m := make(map[string]string, len(metadata)/2)
		for i := 0; i+1 < len(metadata); i += 2 {
			m[metadata[i]] = metadata[i+1]
		}
		return m
	})

	switch {
	case err == nil:
		e.metricInc(MetricRoleAdmin)
	case KindOf(err) == KindAccessDenied:
		e.metricInc(MetricAccessDenied)
	case KindOf(err) == KindUnavailable:
		e.metricInc(MetricUnavailable)
	}
	return err
}

// requireAdmin admits an active caller holding the admin role who is not
// acting on their own principal.
func (e *Engine) requireAdmin(ctx context.Context, callerID, targetID string) error {
	if callerID == "" {
		return ErrAccessDenied
	}
	if targetID != "" && targetID == callerID {
		return newError(KindAccessDenied, errors.New("self-modification is not allowed"))
	}

	caller, err := e.store.GetPrincipalByID(ctx, callerID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrAccessDenied
		}
		return storageError(err, KindUnavailable)
	}
	if !caller.Active || !rbac.HasRole(caller, e.config.Account.AdminRole) {
		return ErrAccessDenied
	}
	return nil
}

func (e *Engine) setRoles(ctx context.Context, targetID string, roles []string) error {
	_, err := e.store.UpdatePrincipal(ctx, targetID, storage.PrincipalPatch{
		Roles:     &roles,
		UpdatedAt: e.now(),
	})
	return storageError(err, KindUserNotFound)
}

func (e *Engine) protectedRole(name string) bool {
	return name == e.config.Account.AdminRole || name == e.config.Account.DefaultRole
}

func roleName(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return "", invalidInput("role name is required")
	}
	if len(name) > 64 {
		return "", invalidInput("role name is too long")
	}
	return name, nil
}

func permissionSet(raw []string) ([]string, error) {
	perms := make([]string, 0, len(raw))
	for _, p := range raw {
		p = strings.TrimSpace(p)
		if p == "" {
			return nil, invalidInput("permission names must not be empty")
		}
		perms = append(perms, p)
	}
	slices.Sort(perms)
	return slices.Compact(perms), nil
}
