// Package storagetest is a behavioral suite every storage.Store backend runs
// from its own tests.
package storagetest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrEthical07/authcore/storage"
)

// Factory returns a fresh, empty store. Cleanup is registered on t.
type Factory func(t *testing.T) storage.Store

// Run executes the conformance suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("Principals", func(t *testing.T) { testPrincipals(t, newStore(t)) })
	t.Run("Roles", func(t *testing.T) { testRoles(t, newStore(t)) })
	t.Run("OneTimeTokens", func(t *testing.T) { testOneTimeTokens(t, newStore(t)) })
	t.Run("RefreshTokens", func(t *testing.T) { testRefreshTokens(t, newStore(t)) })
	t.Run("ConcurrentRedeem", func(t *testing.T) { testConcurrentRedeem(t, newStore(t)) })
	t.Run("Blacklist", func(t *testing.T) { testBlacklist(t, newStore(t)) })
	t.Run("ClaimBlacklist", func(t *testing.T) { testClaimBlacklist(t, newStore(t)) })
	t.Run("TwoFactor", func(t *testing.T) { testTwoFactor(t, newStore(t)) })
	t.Run("PurgeExpired", func(t *testing.T) { testPurgeExpired(t, newStore(t)) })
}

var base = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func newPrincipal(email string) storage.Principal {
	return storage.Principal{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: "$2a$04$hash",
		Roles:        []string{"user"},
		Active:       true,
		CreatedAt:    base,
		UpdatedAt:    base,
	}
}

func testPrincipals(t *testing.T, s storage.Store) {
	ctx := context.Background()

	created, err := s.CreatePrincipal(ctx, newPrincipal("alice@example.com"))
	require.NoError(t, err)

	_, err = s.CreatePrincipal(ctx, newPrincipal("alice@example.com"))
	require.ErrorIs(t, err, storage.ErrEmailInUse)

	byID, err := s.GetPrincipalByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", byID.Email)
	assert.Equal(t, []string{"user"}, byID.Roles)
	assert.True(t, byID.Active)

	byEmail, err := s.GetPrincipalByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byEmail.ID)

	_, err = s.GetPrincipalByEmail(ctx, "nobody@example.com")
	require.ErrorIs(t, err, storage.ErrNotFound)
	_, err = s.GetPrincipalByID(ctx, uuid.NewString())
	require.ErrorIs(t, err, storage.ErrNotFound)

	roles := []string{"user", "admin"}
	verified := true
	login := base.Add(time.Minute)
	updated, err := s.UpdatePrincipal(ctx, created.ID, storage.PrincipalPatch{
		Roles:         &roles,
		EmailVerified: &verified,
		LastLoginAt:   &login,
		UpdatedAt:     login,
	})
	require.NoError(t, err)
	assert.Equal(t, roles, updated.Roles)
	assert.True(t, updated.EmailVerified)
	assert.True(t, updated.LastLoginAt.Equal(login))

	other, err := s.CreatePrincipal(ctx, newPrincipal("bob@example.com"))
	require.NoError(t, err)
	taken := "alice@example.com"
	_, err = s.UpdatePrincipal(ctx, other.ID, storage.PrincipalPatch{Email: &taken})
	require.ErrorIs(t, err, storage.ErrEmailInUse)

	moved := "robert@example.com"
	_, err = s.UpdatePrincipal(ctx, other.ID, storage.PrincipalPatch{Email: &moved})
	require.NoError(t, err)
	_, err = s.GetPrincipalByEmail(ctx, "bob@example.com")
	require.ErrorIs(t, err, storage.ErrNotFound)
	got, err := s.GetPrincipalByEmail(ctx, moved)
	require.NoError(t, err)
	assert.Equal(t, other.ID, got.ID)

	_, err = s.UpdatePrincipal(ctx, uuid.NewString(), storage.PrincipalPatch{Email: &moved})
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func testRoles(t *testing.T, s storage.Store) {
	ctx := context.Background()

	r, err := s.CreateRole(ctx, storage.Role{ID: uuid.NewString(), Name: "mod", Permissions: []string{"posts.delete"}, CreatedAt: base, UpdatedAt: base})
	require.NoError(t, err)

	_, err = s.CreateRole(ctx, storage.Role{ID: uuid.NewString(), Name: "mod"})
	require.ErrorIs(t, err, storage.ErrRoleNameInUse)

	byName, err := s.GetRoleByName(ctx, "mod")
	require.NoError(t, err)
	assert.Equal(t, r.ID, byName.ID)
	assert.Equal(t, []string{"posts.delete"}, byName.Permissions)

	name := "moderator"
	perms := []string{"posts.delete", "posts.pin"}
	updated, err := s.UpdateRole(ctx, r.ID, storage.RolePatch{Name: &name, Permissions: &perms})
	require.NoError(t, err)
	assert.Equal(t, "moderator", updated.Name)
	assert.Equal(t, perms, updated.Permissions)

	_, err = s.GetRoleByName(ctx, "mod")
	require.ErrorIs(t, err, storage.ErrNotFound)

	_, err = s.CreateRole(ctx, storage.Role{ID: uuid.NewString(), Name: "mod"})
	require.NoError(t, err)
	clash := "mod"
	_, err = s.UpdateRole(ctx, r.ID, storage.RolePatch{Name: &clash})
	require.ErrorIs(t, err, storage.ErrRoleNameInUse)

	require.NoError(t, s.DeleteRole(ctx, r.ID))
	_, err = s.GetRoleByID(ctx, r.ID)
	require.ErrorIs(t, err, storage.ErrNotFound)
	require.ErrorIs(t, s.DeleteRole(ctx, r.ID), storage.ErrNotFound)
	_, err = s.UpdateRole(ctx, r.ID, storage.RolePatch{Name: &name})
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func testOneTimeTokens(t *testing.T, s storage.Store) {
	ctx := context.Background()
	tok := storage.OneTimeToken{
		Hash:        "h-reset",
		SubjectID:   "u1",
		EmailDigest: "0a1b2c3d4e5f6071",
		Purpose:     storage.PurposeResetPassword,
		CreatedAt:   base,
		ExpiresAt:   base.Add(time.Hour),
	}
	require.NoError(t, s.SaveOneTimeToken(ctx, tok))

	_, err := s.RedeemOneTimeToken(ctx, tok.Hash, storage.PurposeVerifyEmail, base)
	require.ErrorIs(t, err, storage.ErrNotFound, "purpose mismatch must not match")

	got, err := s.RedeemOneTimeToken(ctx, tok.Hash, storage.PurposeResetPassword, base.Add(59*time.Minute+59*time.Second))
	require.NoError(t, err)
	assert.Equal(t, "u1", got.SubjectID)
	assert.Equal(t, tok.EmailDigest, got.EmailDigest)
	assert.Equal(t, storage.PurposeResetPassword, got.Purpose)

	_, err = s.RedeemOneTimeToken(ctx, tok.Hash, storage.PurposeResetPassword, base)
	require.ErrorIs(t, err, storage.ErrNotFound)

	tok.Hash = "h-late"
	require.NoError(t, s.SaveOneTimeToken(ctx, tok))
	_, err = s.RedeemOneTimeToken(ctx, tok.Hash, storage.PurposeResetPassword, base.Add(time.Hour+time.Second))
	require.ErrorIs(t, err, storage.ErrExpired)
	_, err = s.RedeemOneTimeToken(ctx, tok.Hash, storage.PurposeResetPassword, base)
	require.ErrorIs(t, err, storage.ErrNotFound)

	tok.Hash = "h-exact"
	require.NoError(t, s.SaveOneTimeToken(ctx, tok))
	_, err = s.RedeemOneTimeToken(ctx, tok.Hash, storage.PurposeResetPassword, tok.ExpiresAt)
	require.ErrorIs(t, err, storage.ErrExpired)
}

func testRefreshTokens(t *testing.T, s storage.Store) {
	ctx := context.Background()
	for _, h := range []string{"r1", "r2", "r3"} {
		require.NoError(t, s.StoreRefreshToken(ctx, storage.RefreshToken{Hash: h, SubjectID: "u1", CreatedAt: base, ExpiresAt: base.Add(time.Hour)}))
	}
	require.NoError(t, s.StoreRefreshToken(ctx, storage.RefreshToken{Hash: "other", SubjectID: "u2", CreatedAt: base, ExpiresAt: base.Add(time.Hour)}))

	sub, err := s.RedeemRefreshToken(ctx, "r1", base)
	require.NoError(t, err)
	assert.Equal(t, "u1", sub)
	_, err = s.RedeemRefreshToken(ctx, "r1", base)
	require.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, s.DeleteRefreshToken(ctx, "r2"))
	require.NoError(t, s.DeleteRefreshToken(ctx, "r2"), "delete must be idempotent")
	_, err = s.RedeemRefreshToken(ctx, "r2", base)
	require.ErrorIs(t, err, storage.ErrNotFound)

	n, err := s.DeleteAllRefreshTokensFor(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = s.RedeemRefreshToken(ctx, "r3", base)
	require.ErrorIs(t, err, storage.ErrNotFound)

	_, err = s.RedeemRefreshToken(ctx, "other", base.Add(2*time.Hour))
	require.ErrorIs(t, err, storage.ErrExpired)
}

func testConcurrentRedeem(t *testing.T, s storage.Store) {
	ctx := context.Background()
	require.NoError(t, s.StoreRefreshToken(ctx, storage.RefreshToken{Hash: "race", SubjectID: "u1", CreatedAt: base, ExpiresAt: base.Add(time.Hour)}))
	require.NoError(t, s.SaveOneTimeToken(ctx, storage.OneTimeToken{Hash: "race", SubjectID: "u1", Purpose: storage.PurposeVerifyEmail, CreatedAt: base, ExpiresAt: base.Add(time.Hour)}))

	const workers = 16
	var refreshWins, oneTimeWins atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, err := s.RedeemRefreshToken(ctx, "race", base); err == nil {
				refreshWins.Add(1)
			} else if !errors.Is(err, storage.ErrNotFound) {
				t.Errorf("unexpected refresh error: %v", err)
			}
			if _, err := s.RedeemOneTimeToken(ctx, "race", storage.PurposeVerifyEmail, base); err == nil {
				oneTimeWins.Add(1)
			} else if !errors.Is(err, storage.ErrNotFound) {
				t.Errorf("unexpected one-time error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), refreshWins.Load())
	assert.Equal(t, int32(1), oneTimeWins.Load())
}

func testBlacklist(t *testing.T, s storage.Store) {
	ctx := context.Background()
	ok, err := s.IsBlacklisted(ctx, "fp", base)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Blacklist(ctx, storage.BlacklistEntry{Fingerprint: "fp", CreatedAt: base, ExpiresAt: base.Add(time.Minute)}))
	ok, err = s.IsBlacklisted(ctx, "fp", base.Add(30*time.Second))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.IsBlacklisted(ctx, "fp", base.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, ok, "entry lapses with the token's own expiry")
}

func testClaimBlacklist(t *testing.T, s storage.Store) {
	ctx := context.Background()
	entry := storage.BlacklistEntry{Fingerprint: "pending", CreatedAt: base, ExpiresAt: base.Add(time.Minute)}

	const workers = 16
	var wins atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			ok, err := s.ClaimBlacklist(ctx, entry)
			if err != nil {
				t.Errorf("unexpected claim error: %v", err)
				return
			}
			if ok {
				wins.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())

	listed, err := s.IsBlacklisted(ctx, "pending", base.Add(time.Second))
	require.NoError(t, err)
	assert.True(t, listed)

	// a lapsed entry can be claimed again
	later := storage.BlacklistEntry{Fingerprint: "pending", CreatedAt: base.Add(time.Minute), ExpiresAt: base.Add(2 * time.Minute)}
	ok, err := s.ClaimBlacklist(ctx, later)
	require.NoError(t, err)
	assert.True(t, ok)
}

func testTwoFactor(t *testing.T, s storage.Store) {
	ctx := context.Background()
	_, err := s.GetTwoFactor(ctx, "u1")
	require.ErrorIs(t, err, storage.ErrNotFound)

	tf := storage.TwoFactor{
		SubjectID:       "u1",
		Secret:          []byte("12345678901234567890"),
		RecoveryCodes:   []string{"d1", "d2", "d3"},
		LastUsedCounter: 0,
		EnabledAt:       base,
	}
	require.NoError(t, s.SetTwoFactor(ctx, tf))

	got, err := s.GetTwoFactor(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, tf.Secret, got.Secret)
	assert.Equal(t, tf.RecoveryCodes, got.RecoveryCodes)

	ok, err := s.ConsumeRecoveryCode(ctx, "u1", "d2")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.ConsumeRecoveryCode(ctx, "u1", "d2")
	require.NoError(t, err)
	assert.False(t, ok, "recovery codes are single-use")

	got, err = s.GetTwoFactor(ctx, "u1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"d1", "d3"}, got.RecoveryCodes)

	ok, err = s.AdvanceTOTPCounter(ctx, "u1", 100)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.AdvanceTOTPCounter(ctx, "u1", 100)
	require.NoError(t, err)
	assert.False(t, ok, "a counter cannot be used twice")
	ok, err = s.AdvanceTOTPCounter(ctx, "u1", 99)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.ClearTwoFactor(ctx, "u1"))
	_, err = s.GetTwoFactor(ctx, "u1")
	require.ErrorIs(t, err, storage.ErrNotFound)
	_, err = s.ConsumeRecoveryCode(ctx, "u1", "d1")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func testPurgeExpired(t *testing.T, s storage.Store) {
	ctx := context.Background()
	require.NoError(t, s.SaveOneTimeToken(ctx, storage.OneTimeToken{Hash: "old", SubjectID: "u1", Purpose: storage.PurposeVerifyEmail, CreatedAt: base, ExpiresAt: base.Add(time.Minute)}))
	require.NoError(t, s.SaveOneTimeToken(ctx, storage.OneTimeToken{Hash: "new", SubjectID: "u1", Purpose: storage.PurposeVerifyEmail, CreatedAt: base, ExpiresAt: base.Add(time.Hour)}))
	require.NoError(t, s.StoreRefreshToken(ctx, storage.RefreshToken{Hash: "old", SubjectID: "u1", CreatedAt: base, ExpiresAt: base.Add(time.Minute)}))
	require.NoError(t, s.Blacklist(ctx, storage.BlacklistEntry{Fingerprint: "old", CreatedAt: base, ExpiresAt: base.Add(time.Minute)}))

	n, err := s.PurgeExpired(ctx, base.Add(10*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	got, err := s.RedeemOneTimeToken(ctx, "new", storage.PurposeVerifyEmail, base.Add(10*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "u1", got.SubjectID)
}
