package storage

import (
	"context"
	"errors"
	"slices"
	"time"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("storage: not found")
	// ErrEmailInUse is returned when a principal email collides with another principal.
	ErrEmailInUse = errors.New("storage: email in use")
	// ErrRoleNameInUse is returned when a role name collides with another role.
	ErrRoleNameInUse = errors.New("storage: role name in use")
	// ErrExpired is returned by redeem operations for records past their expiry.
	// The record is consumed either way.
	ErrExpired = errors.New("storage: expired")
	// ErrUnavailable wraps backend outages and timeouts.
	ErrUnavailable = errors.New("storage: unavailable")
)

// Purpose tags a one-time token so that a token issued for one flow can never
// be redeemed by another.
type Purpose string

const (
	PurposeVerifyEmail   Purpose = "verify_email"
	PurposeResetPassword Purpose = "reset_password"
)

// Valid reports whether p is a known purpose.
func (p Purpose) Valid() bool {
	return p == PurposeVerifyEmail || p == PurposeResetPassword
}

// Principal is an authenticable identity. Roles holds role names only.
type Principal struct {
	ID            string
	Email         string
	PasswordHash  string
	Roles         []string
	Active        bool
	EmailVerified bool
	LastLoginAt   time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// RoleNames implements rbac.Subject.
func (p Principal) RoleNames() []string { return p.Roles }

// Clone returns a deep copy of p.
func (p Principal) Clone() Principal {
	p.Roles = slices.Clone(p.Roles)
	return p
}

// PrincipalPatch lists the fields UpdatePrincipal changes. Nil fields are left
// untouched.
type PrincipalPatch struct {
	Email         *string
	PasswordHash  *string
	Roles         *[]string
	Active        *bool
	EmailVerified *bool
	LastLoginAt   *time.Time
	UpdatedAt     time.Time
}

// Apply copies the set fields of patch onto p.
func (patch PrincipalPatch) Apply(p *Principal) {
	if patch.Email != nil {
		p.Email = *patch.Email
	}
	if patch.PasswordHash != nil {
		p.PasswordHash = *patch.PasswordHash
	}
	if patch.Roles != nil {
		p.Roles = slices.Clone(*patch.Roles)
	}
	if patch.Active != nil {
		p.Active = *patch.Active
	}
	if patch.EmailVerified != nil {
		p.EmailVerified = *patch.EmailVerified
	}
	if patch.LastLoginAt != nil {
		p.LastLoginAt = *patch.LastLoginAt
	}
	if !patch.UpdatedAt.IsZero() {
		p.UpdatedAt = patch.UpdatedAt
	}
}

// Role is a named permission bundle referenced by name from principals.
type Role struct {
	ID          string
	Name        string
	Permissions []string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Clone returns a deep copy of r.
func (r Role) Clone() Role {
	r.Permissions = slices.Clone(r.Permissions)
	return r
}

// RolePatch lists the fields UpdateRole changes.
type RolePatch struct {
	Name        *string
	Permissions *[]string
	UpdatedAt   time.Time
}

// Apply copies the set fields of patch onto r.
func (patch RolePatch) Apply(r *Role) {
	if patch.Name != nil {
		r.Name = *patch.Name
	}
	if patch.Permissions != nil {
		r.Permissions = slices.Clone(*patch.Permissions)
	}
	if !patch.UpdatedAt.IsZero() {
		r.UpdatedAt = patch.UpdatedAt
	}
}

// OneTimeToken is a persisted verification or reset token. EmailDigest pins
// the token to the address it was sent to; empty means unbound.
type OneTimeToken struct {
	Hash        string
	SubjectID   string
	EmailDigest string
	Purpose     Purpose
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// RefreshToken tracks an outstanding refresh credential.
type RefreshToken struct {
	Hash      string
	SubjectID string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// BlacklistEntry revokes an access token until its natural expiry.
type BlacklistEntry struct {
	Fingerprint string
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// TwoFactor is the active TOTP credential of a principal. RecoveryCodes
// holds digests, never plaintext codes.
type TwoFactor struct {
	SubjectID       string
	Secret          []byte
	RecoveryCodes   []string
	LastUsedCounter int64
	EnabledAt       time.Time
}

// Clone returns a deep copy of tf.
func (tf TwoFactor) Clone() TwoFactor {
	tf.Secret = slices.Clone(tf.Secret)
	tf.RecoveryCodes = slices.Clone(tf.RecoveryCodes)
	return tf
}

// Store is the persistence contract of the engine.
//
// Redeem operations must be atomic: two concurrent redeems of the same record
// succeed at most once. All methods return errors wrapping [ErrUnavailable]
// on backend failure.
type Store interface {
	CreatePrincipal(ctx context.Context, p Principal) (Principal, error)
	GetPrincipalByID(ctx context.Context, id string) (Principal, error)
	GetPrincipalByEmail(ctx context.Context, email string) (Principal, error)
	UpdatePrincipal(ctx context.Context, id string, patch PrincipalPatch) (Principal, error)

	CreateRole(ctx context.Context, r Role) (Role, error)
	GetRoleByID(ctx context.Context, id string) (Role, error)
	GetRoleByName(ctx context.Context, name string) (Role, error)
	UpdateRole(ctx context.Context, id string, patch RolePatch) (Role, error)
	DeleteRole(ctx context.Context, id string) error

	SaveOneTimeToken(ctx context.Context, t OneTimeToken) error
	// RedeemOneTimeToken deletes the token and returns the consumed record.
	RedeemOneTimeToken(ctx context.Context, hash string, purpose Purpose, now time.Time) (OneTimeToken, error)

	StoreRefreshToken(ctx context.Context, t RefreshToken) error
	RedeemRefreshToken(ctx context.Context, hash string, now time.Time) (string, error)
	DeleteRefreshToken(ctx context.Context, hash string) error
	DeleteAllRefreshTokensFor(ctx context.Context, subjectID string) (int, error)

	Blacklist(ctx context.Context, e BlacklistEntry) error
	// ClaimBlacklist records e unless an entry for the same fingerprint is
	// still live at e.CreatedAt, and reports whether it did. Of two
	// concurrent claims at most one succeeds.
	ClaimBlacklist(ctx context.Context, e BlacklistEntry) (bool, error)
	IsBlacklisted(ctx context.Context, fingerprint string, now time.Time) (bool, error)

	GetTwoFactor(ctx context.Context, subjectID string) (TwoFactor, error)
	SetTwoFactor(ctx context.Context, tf TwoFactor) error
	ClearTwoFactor(ctx context.Context, subjectID string) error
	ConsumeRecoveryCode(ctx context.Context, subjectID, digest string) (bool, error)
	AdvanceTOTPCounter(ctx context.Context, subjectID string, counter int64) (bool, error)

	PurgeExpired(ctx context.Context, now time.Time) (int, error)
	Ping(ctx context.Context) error
	Close() error
}
