package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrEthical07/authcore/storage"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return New(db), mock
}

var principalCols = []string{"id", "email", "password_hash", "roles", "active", "email_verified", "last_login_at", "created_at", "updated_at"}

func TestCreatePrincipalUniqueViolation(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("insert into principals").
		WithArgs("u1", "alice@example.com", "hash", []byte(`["user"]`), true, false, sqlmock.AnyArg(), t0, t0).
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})

	_, err := s.CreatePrincipal(context.Background(), storage.Principal{
		ID: "u1", Email: "alice@example.com", PasswordHash: "hash", Roles: []string{"user"}, Active: true, CreatedAt: t0, UpdatedAt: t0,
	})
	require.ErrorIs(t, err, storage.ErrEmailInUse)
}

func TestGetPrincipalByEmail(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("select .+ from principals where email").
		WithArgs("alice@example.com").
		WillReturnRows(sqlmock.NewRows(principalCols).
			AddRow("u1", "alice@example.com", "hash", []byte(`["user","admin"]`), true, true, nil, t0, t0))
	mock.ExpectQuery("select .+ from principals where email").
		WithArgs("ghost@example.com").
		WillReturnRows(sqlmock.NewRows(principalCols))

	p, err := s.GetPrincipalByEmail(context.Background(), "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, []string{"user", "admin"}, p.Roles)
	assert.True(t, p.EmailVerified)
	assert.True(t, p.LastLoginAt.IsZero())

	_, err = s.GetPrincipalByEmail(context.Background(), "ghost@example.com")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestUpdatePrincipalEmailCollisionRollsBack(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery("select .+ from principals where id .+ for update").
		WithArgs("u2").
		WillReturnRows(sqlmock.NewRows(principalCols).
			AddRow("u2", "bob@example.com", "hash", []byte(`["user"]`), true, true, nil, t0, t0))
	mock.ExpectExec("update principals").
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})
	mock.ExpectRollback()

	email := "alice@example.com"
	_, err := s.UpdatePrincipal(context.Background(), "u2", storage.PrincipalPatch{Email: &email})
	require.ErrorIs(t, err, storage.ErrEmailInUse)
}

func TestCreateRoleNameInUse(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("insert into roles").
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})

	_, err := s.CreateRole(context.Background(), storage.Role{ID: "r1", Name: "admin"})
	require.ErrorIs(t, err, storage.ErrRoleNameInUse)
}

func TestDeleteRoleMissing(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("delete from roles").WithArgs("r1").WillReturnResult(sqlmock.NewResult(0, 0))

	require.ErrorIs(t, s.DeleteRole(context.Background(), "r1"), storage.ErrNotFound)
}

func TestRedeemRefreshTokenUsesDeleteReturning(t *testing.T) {
	s, mock := newMockStore(t)
	cols := []string{"subject_id", "expires_at"}
	mock.ExpectQuery("delete from refresh_tokens where hash = .+ returning subject_id, expires_at").
		WithArgs("h1").
		WillReturnRows(sqlmock.NewRows(cols).AddRow("u1", t0.Add(time.Hour)))
	mock.ExpectQuery("delete from refresh_tokens").
		WithArgs("h1").
		WillReturnRows(sqlmock.NewRows(cols))
	mock.ExpectQuery("delete from refresh_tokens").
		WithArgs("h2").
		WillReturnRows(sqlmock.NewRows(cols).AddRow("u1", t0))

	ctx := context.Background()
	sub, err := s.RedeemRefreshToken(ctx, "h1", t0)
	require.NoError(t, err)
	assert.Equal(t, "u1", sub)

	_, err = s.RedeemRefreshToken(ctx, "h1", t0)
	require.ErrorIs(t, err, storage.ErrNotFound)

	_, err = s.RedeemRefreshToken(ctx, "h2", t0)
	require.ErrorIs(t, err, storage.ErrExpired)
}

func TestRedeemOneTimeTokenMatchesPurpose(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("delete from one_time_tokens").
		WithArgs("h1", string(storage.PurposeResetPassword)).
		WillReturnRows(sqlmock.NewRows([]string{"subject_id", "email_digest", "created_at", "expires_at"}).
			AddRow("u1", "0a1b2c3d4e5f6071", t0, t0.Add(time.Hour)))

	got, err := s.RedeemOneTimeToken(context.Background(), "h1", storage.PurposeResetPassword, t0.Add(59*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "u1", got.SubjectID)
	assert.Equal(t, "0a1b2c3d4e5f6071", got.EmailDigest)
}

func TestSaveOneTimeTokenWritesEmailDigest(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("insert into one_time_tokens").
		WithArgs("h1", string(storage.PurposeVerifyEmail), "u1", "0a1b2c3d4e5f6071", t0, t0.Add(time.Hour)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.SaveOneTimeToken(context.Background(), storage.OneTimeToken{
		Hash:        "h1",
		SubjectID:   "u1",
		EmailDigest: "0a1b2c3d4e5f6071",
		Purpose:     storage.PurposeVerifyEmail,
		CreatedAt:   t0,
		ExpiresAt:   t0.Add(time.Hour),
	}))
}

func TestDriverErrorIsUnavailable(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("select exists").WillReturnError(errors.New("connection reset"))

	_, err := s.IsBlacklisted(context.Background(), "fp", t0)
	require.ErrorIs(t, err, storage.ErrUnavailable)
}

func TestConsumeRecoveryCode(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery("select recovery_codes from two_factor").
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"recovery_codes"}).AddRow([]byte(`["a","b"]`)))
	mock.ExpectExec("update two_factor set recovery_codes").
		WithArgs("u1", []byte(`["b"]`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	ok, err := s.ConsumeRecoveryCode(context.Background(), "u1", "a")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestClaimBlacklistOnlyTakesLapsedRows(t *testing.T) {
	s, mock := newMockStore(t)
	entry := storage.BlacklistEntry{Fingerprint: "fp", CreatedAt: t0, ExpiresAt: t0.Add(5 * time.Minute)}
	mock.ExpectExec("insert into token_blacklist").
		WithArgs("fp", t0, t0.Add(5*time.Minute)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into token_blacklist").
		WithArgs("fp", t0, t0.Add(5*time.Minute)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ctx := context.Background()
	ok, err := s.ClaimBlacklist(ctx, entry)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.ClaimBlacklist(ctx, entry)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAdvanceTOTPCounter(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("update two_factor set last_used_counter").
		WithArgs("u1", int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("update two_factor set last_used_counter").
		WithArgs("u1", int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select exists").
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectExec("update two_factor set last_used_counter").
		WithArgs("ghost", int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select exists").
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	ctx := context.Background()
	ok, err := s.AdvanceTOTPCounter(ctx, "u1", 7)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.AdvanceTOTPCounter(ctx, "u1", 7)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.AdvanceTOTPCounter(ctx, "ghost", 7)
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestPurgeExpired(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("delete from one_time_tokens where expires_at").WithArgs(t0).WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("delete from refresh_tokens where expires_at").WithArgs(t0).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("delete from token_blacklist where expires_at").WithArgs(t0).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	n, err := s.PurgeExpired(context.Background(), t0)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestConvertToPgx5DSN(t *testing.T) {
	cases := map[string]string{
		"postgres://u:p@localhost:5432/db":   "pgx5://u:p@localhost:5432/db",
		"postgresql://u:p@localhost:5432/db": "pgx5://u:p@localhost:5432/db",
		"pgx5://u:p@localhost/db":            "pgx5://u:p@localhost/db",
		"host=localhost dbname=db":           "host=localhost dbname=db",
	}
	for in, want := range cases {
		assert.Equal(t, want, convertToPgx5DSN(in), in)
	}
}

func TestEmbeddedMigrationsPresent(t *testing.T) {
	entries, err := migrationFS.ReadDir("migrations")
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Contains(t, names, "000001_init.up.sql")
	assert.Contains(t, names, "000001_init.down.sql")
	assert.Contains(t, names, "000002_one_time_email_digest.up.sql")
	assert.Contains(t, names, "000002_one_time_email_digest.down.sql")
}
