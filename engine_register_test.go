package authcore

import (
	"context"
	"testing"
	"time"

	"github.com/MrEthical07/authcore/password"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterIssuesTokensAndDefaultRole(t *testing.T) {
	te := newTestEngine(t)

	res := te.register(t, "  Alice@Example.com ", alicePassword)

	assert.Equal(t, aliceEmail, res.Principal.Email)
	assert.Equal(t, []string{"user"}, res.Principal.Roles)
	assert.True(t, res.Principal.Active)
	assert.False(t, res.Principal.EmailVerified)
	assert.Empty(t, res.Principal.PasswordHash)
	assert.NotEmpty(t, res.Tokens.AccessToken)
	assert.NotEmpty(t, res.Tokens.RefreshToken)
	assert.WithinDuration(t, testStart.Add(15*time.Minute), res.Tokens.AccessExpiresAt, 0)
	assert.True(t, res.VerificationSent)

	sent := te.notifier.next(t, notifyVerification)
	assert.Equal(t, res.Principal.ID, sent.subjectID)
	assert.WithinDuration(t, testStart.Add(24*time.Hour), sent.expiresAt, 0)

	stored, err := te.store.GetPrincipalByEmail(context.Background(), aliceEmail)
	require.NoError(t, err)
	assert.NotEqual(t, alicePassword, stored.PasswordHash)
	assert.Equal(t, 1, te.store.RefreshTokenCount(res.Principal.ID))

	claims, err := te.ValidateAccess(context.Background(), res.Tokens.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, res.Principal.ID, claims.SubjectID)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	te := newTestEngine(t)
	te.register(t, aliceEmail, alicePassword)

	_, err := te.Register(context.Background(), RegisterInput{Email: "ALICE@example.com", Password: "0therPass!"})
	requireKind(t, err, KindEmailInUse)
}

func TestRegisterWeakPasswordListsEveryReason(t *testing.T) {
	te := newTestEngine(t)

	_, err := te.Register(context.Background(), RegisterInput{Email: aliceEmail, Password: "alice"})
	requireKind(t, err, KindWeakPassword)

	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Contains(t, e.Reasons, password.ReasonTooShort)
	assert.Contains(t, e.Reasons, password.ReasonNoUpper)
	assert.Contains(t, e.Reasons, password.ReasonNoDigit)
	assert.Contains(t, e.Reasons, password.ReasonEmailInside)

	// nothing was written
	_, err = te.store.GetPrincipalByEmail(context.Background(), aliceEmail)
	require.Error(t, err)
}

func TestRegisterInvalidEmail(t *testing.T) {
	te := newTestEngine(t)

	for _, email := range []string{"", "not-an-email", "Alice <alice@example.com>"} {
		_, err := te.Register(context.Background(), RegisterInput{Email: email, Password: alicePassword})
		requireKind(t, err, KindInvalidInput)
	}
}

func TestRegisterWithoutVerificationMail(t *testing.T) {
	te := newTestEngine(t, func(c *Config) {
		c.Account.SendVerificationOnRegister = false
	})

	res := te.register(t, aliceEmail, alicePassword)
	assert.False(t, res.VerificationSent)
	te.notifier.none(t)
}

func TestRegisterCountsMetrics(t *testing.T) {
	te := newTestEngine(t)
	te.register(t, aliceEmail, alicePassword)
	_, _ = te.Register(context.Background(), RegisterInput{Email: aliceEmail, Password: alicePassword})

	snap := te.MetricsSnapshot()
	assert.Equal(t, uint64(1), snap.Counters[MetricRegisterSuccess])
	assert.Equal(t, uint64(1), snap.Counters[MetricRegisterFailure])
}
