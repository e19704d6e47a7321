package authcore

import (
	"context"
	"testing"
	"time"

	"github.com/MrEthical07/authcore/password"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newResetEngine(t *testing.T) (*testEngine, *RegisterResult) {
	t.Helper()
	te := newTestEngine(t, func(c *Config) {
		c.Account.SendVerificationOnRegister = false
	})
	return te, te.register(t, aliceEmail, alicePassword)
}

func TestResetPasswordExpiryBoundary(t *testing.T) {
	te, _ := newResetEngine(t)
	ctx := context.Background()

	require.NoError(t, te.RequestPasswordReset(ctx, aliceEmail))
	early := te.notifier.next(t, notifyReset)
	assert.WithinDuration(t, testStart.Add(time.Hour), early.expiresAt, 0)

	te.clock.Advance(59*time.Minute + 59*time.Second)
	require.NoError(t, te.ResetPassword(ctx, early.token, aliceNewPassword))

	require.NoError(t, te.RequestPasswordReset(ctx, aliceEmail))
	late := te.notifier.next(t, notifyReset)
	te.clock.Advance(time.Hour + time.Second)
	requireKind(t, te.ResetPassword(ctx, late.token, "An0therPass!"), KindTokenExpired)

	te.login(t, aliceEmail, aliceNewPassword)
}

func TestResetPasswordSingleUse(t *testing.T) {
	te, _ := newResetEngine(t)
	ctx := context.Background()

	require.NoError(t, te.RequestPasswordReset(ctx, aliceEmail))
	sent := te.notifier.next(t, notifyReset)

	require.NoError(t, te.ResetPassword(ctx, sent.token, aliceNewPassword))
	requireKind(t, te.ResetPassword(ctx, sent.token, "An0therPass!"), KindInvalidToken)
}

func TestResetPasswordPolicyDoesNotConsumeToken(t *testing.T) {
	te, _ := newResetEngine(t)
	ctx := context.Background()

	require.NoError(t, te.RequestPasswordReset(ctx, aliceEmail))
	sent := te.notifier.next(t, notifyReset)

	err := te.ResetPassword(ctx, sent.token, "short")
	requireKind(t, err, KindWeakPassword)
	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Contains(t, e.Reasons, password.ReasonTooShort)

	require.NoError(t, te.ResetPassword(ctx, sent.token, aliceNewPassword))
}

func TestResetPasswordRejectsEmailInPassword(t *testing.T) {
	te, _ := newResetEngine(t)
	ctx := context.Background()

	require.NoError(t, te.RequestPasswordReset(ctx, aliceEmail))
	sent := te.notifier.next(t, notifyReset)

	err := te.ResetPassword(ctx, sent.token, "Alice-Pass1!")
	requireKind(t, err, KindWeakPassword)
	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Contains(t, e.Reasons, password.ReasonEmailInside)

	// the old password still works and the token is spent
	te.login(t, aliceEmail, alicePassword)
	requireKind(t, te.ResetPassword(ctx, sent.token, aliceNewPassword), KindInvalidToken)
}

func TestResetPasswordClearsLoginThrottle(t *testing.T) {
	te := newTestEngine(t, func(c *Config) {
		c.Account.SendVerificationOnRegister = false
		c.Security.MaxLoginAttempts = 2
	})
	te.register(t, aliceEmail, alicePassword)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := te.Login(ctx, aliceEmail, "Wr0ngPass!")
		requireKind(t, err, KindInvalidCredentials)
	}
	_, err := te.Login(ctx, aliceEmail, alicePassword)
	requireKind(t, err, KindRateLimited)

	require.NoError(t, te.RequestPasswordReset(ctx, aliceEmail))
	require.NoError(t, te.ResetPassword(ctx, te.notifier.next(t, notifyReset).token, aliceNewPassword))

	te.login(t, aliceEmail, aliceNewPassword)
}

func TestRequestPasswordResetRevealsNothing(t *testing.T) {
	te, res := newResetEngine(t)
	ctx := context.Background()

	require.NoError(t, te.RequestPasswordReset(ctx, "nobody@example.com"))
	te.notifier.none(t)

	admin := te.register(t, "root@example.com", alicePassword)
	te.makeAdmin(t, admin.Principal.ID)
	require.NoError(t, te.SetAccountActive(ctx, admin.Principal.ID, res.Principal.ID, false))

	require.NoError(t, te.RequestPasswordReset(ctx, aliceEmail))
	te.notifier.none(t)
	assert.Equal(t, uint64(2), te.MetricsSnapshot().Counters[MetricResetRequest])
}

func TestChangePassword(t *testing.T) {
	te, res := newResetEngine(t)
	ctx := context.Background()
	other := te.login(t, aliceEmail, alicePassword)

	requireKind(t, te.ChangePassword(ctx, res.Principal.ID, "Wr0ngPass!", aliceNewPassword), KindInvalidCredentials)

	err := te.ChangePassword(ctx, res.Principal.ID, alicePassword, alicePassword)
	requireKind(t, err, KindWeakPassword)
	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, []string{reasonPasswordReuse}, e.Reasons)

	require.NoError(t, te.ChangePassword(ctx, res.Principal.ID, alicePassword, aliceNewPassword))

	_, err = te.Refresh(ctx, other.RefreshToken)
	requireKind(t, err, KindInvalidToken)
	te.login(t, aliceEmail, aliceNewPassword)
	assert.Equal(t, uint64(1), te.MetricsSnapshot().Counters[MetricPasswordChange])
}
