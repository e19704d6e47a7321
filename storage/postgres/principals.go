package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/MrEthical07/authcore/storage"
)

const principalColumns = `id, email, password_hash, roles, active, email_verified, last_login_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPrincipal(row rowScanner) (storage.Principal, error) {
	var (
		p         storage.Principal
		rawRoles  []byte
		lastLogin sql.NullTime
	)
	if err := row.Scan(&p.ID, &p.Email, &p.PasswordHash, &rawRoles, &p.Active, &p.EmailVerified, &lastLogin, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return storage.Principal{}, err
	}
	if len(rawRoles) > 0 {
		if err := json.Unmarshal(rawRoles, &p.Roles); err != nil {
			return storage.Principal{}, fmt.Errorf("decode roles: %w", err)
		}
	}
	if lastLogin.Valid {
		p.LastLoginAt = lastLogin.Time
	}
	return p, nil
}

func encodeList(v []string) ([]byte, error) {
	if v == nil {
		v = []string{}
	}
	return json.Marshal(v)
}

func (s *Store) CreatePrincipal(ctx context.Context, p storage.Principal) (storage.Principal, error) {
	roles, err := encodeList(p.Roles)
	if err != nil {
		return storage.Principal{}, err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into principals (`+principalColumns+`)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, p.ID, p.Email, p.PasswordHash, roles, p.Active, p.EmailVerified, nullTime(p.LastLoginAt), p.CreatedAt, p.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.Principal{}, storage.ErrEmailInUse
		}
		return storage.Principal{}, unavailable(err)
	}
	return p.Clone(), nil
}

func (s *Store) GetPrincipalByID(ctx context.Context, id string) (storage.Principal, error) {
	p, err := scanPrincipal(s.db.QueryRowContext(ctx, `select `+principalColumns+` from principals where id = $1`, id))
	if err != nil {
		return storage.Principal{}, classify(err, storage.ErrNotFound)
	}
	return p, nil
}

func (s *Store) GetPrincipalByEmail(ctx context.Context, email string) (storage.Principal, error) {
	p, err := scanPrincipal(s.db.QueryRowContext(ctx, `select `+principalColumns+` from principals where email = $1`, email))
	if err != nil {
		return storage.Principal{}, classify(err, storage.ErrNotFound)
	}
	return p, nil
}

func (s *Store) UpdatePrincipal(ctx context.Context, id string, patch storage.PrincipalPatch) (storage.Principal, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storage.Principal{}, unavailable(err)
	}
	defer func() { _ = tx.Rollback() }()

	p, err := scanPrincipal(tx.QueryRowContext(ctx, `select `+principalColumns+` from principals where id = $1 for update`, id))
	if err != nil {
		return storage.Principal{}, classify(err, storage.ErrNotFound)
	}
	patch.Apply(&p)

	roles, err := encodeList(p.Roles)
	if err != nil {
		return storage.Principal{}, err
	}
	_, err = tx.ExecContext(ctx, `
		update principals
		set email = $2, password_hash = $3, roles = $4, active = $5,
		    email_verified = $6, last_login_at = $7, updated_at = $8
		where id = $1
	`, p.ID, p.Email, p.PasswordHash, roles, p.Active, p.EmailVerified, nullTime(p.LastLoginAt), p.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.Principal{}, storage.ErrEmailInUse
		}
		return storage.Principal{}, unavailable(err)
	}
	if err := tx.Commit(); err != nil {
		return storage.Principal{}, unavailable(err)
	}
	return p, nil
}

const roleColumns = `id, name, permissions, created_at, updated_at`

func scanRole(row rowScanner) (storage.Role, error) {
	var (
		r        storage.Role
		rawPerms []byte
	)
	if err := row.Scan(&r.ID, &r.Name, &rawPerms, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return storage.Role{}, err
	}
	if len(rawPerms) > 0 {
		if err := json.Unmarshal(rawPerms, &r.Permissions); err != nil {
			return storage.Role{}, fmt.Errorf("decode permissions: %w", err)
		}
	}
	return r, nil
}

func (s *Store) CreateRole(ctx context.Context, r storage.Role) (storage.Role, error) {
	perms, err := encodeList(r.Permissions)
	if err != nil {
		return storage.Role{}, err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into roles (`+roleColumns+`)
		values ($1, $2, $3, $4, $5)
	`, r.ID, r.Name, perms, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.Role{}, storage.ErrRoleNameInUse
		}
		return storage.Role{}, unavailable(err)
	}
	return r.Clone(), nil
}

func (s *Store) GetRoleByID(ctx context.Context, id string) (storage.Role, error) {
	r, err := scanRole(s.db.QueryRowContext(ctx, `select `+roleColumns+` from roles where id = $1`, id))
	if err != nil {
		return storage.Role{}, classify(err, storage.ErrNotFound)
	}
	return r, nil
}

func (s *Store) GetRoleByName(ctx context.Context, name string) (storage.Role, error) {
	r, err := scanRole(s.db.QueryRowContext(ctx, `select `+roleColumns+` from roles where name = $1`, name))
	if err != nil {
		return storage.Role{}, classify(err, storage.ErrNotFound)
	}
	return r, nil
}

func (s *Store) UpdateRole(ctx context.Context, id string, patch storage.RolePatch) (storage.Role, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storage.Role{}, unavailable(err)
	}
	defer func() { _ = tx.Rollback() }()

	r, err := scanRole(tx.QueryRowContext(ctx, `select `+roleColumns+` from roles where id = $1 for update`, id))
	if err != nil {
		return storage.Role{}, classify(err, storage.ErrNotFound)
	}
	patch.Apply(&r)

	perms, err := encodeList(r.Permissions)
	if err != nil {
		return storage.Role{}, err
	}
	_, err = tx.ExecContext(ctx, `
		update roles set name = $2, permissions = $3, updated_at = $4
		where id = $1
	`, r.ID, r.Name, perms, r.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.Role{}, storage.ErrRoleNameInUse
		}
		return storage.Role{}, unavailable(err)
	}
	if err := tx.Commit(); err != nil {
		return storage.Role{}, unavailable(err)
	}
	return r, nil
}

func (s *Store) DeleteRole(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from roles where id = $1`, id)
	if err != nil {
		return unavailable(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return unavailable(err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}
