package authcore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/authcore/rbac"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRefreshConcurrencySingleWinner(t *testing.T) {
	te := newTestEngine(t)
	res := te.register(t, aliceEmail, alicePassword)
	refresh := res.Tokens.RefreshToken

	const n = 16
	var wg sync.WaitGroup
	wg.Add(n)

	type outcome struct {
		pair *TokenPair
		err  error
	}
	results := make(chan outcome, n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			pair, err := te.Refresh(context.Background(), refresh)
			results <- outcome{pair: pair, err: err}
		}()
	}
	wg.Wait()
	close(results)

	var winner *TokenPair
	failures := 0
	for r := range results {
		if r.err == nil {
			require.Nil(t, winner, "second refresh success")
			winner = r.pair
			continue
		}
		requireKind(t, r.err, KindInvalidToken)
		failures++
	}
	require.NotNil(t, winner)
	assert.Equal(t, n-1, failures)
	assert.NotEqual(t, refresh, winner.RefreshToken)

	// the new token is itself refreshable exactly once
	_, err := te.Refresh(context.Background(), winner.RefreshToken)
	require.NoError(t, err)
	_, err = te.Refresh(context.Background(), winner.RefreshToken)
	requireKind(t, err, KindInvalidToken)
}

func TestRefreshRejectsOtherTokenTypes(t *testing.T) {
	te := newTestEngine(t)
	res := te.register(t, aliceEmail, alicePassword)

	_, err := te.Refresh(context.Background(), res.Tokens.AccessToken)
	requireKind(t, err, KindInvalidToken)
	_, err = te.Refresh(context.Background(), "garbage")
	requireKind(t, err, KindInvalidToken)

	_, err = te.ValidateAccess(context.Background(), res.Tokens.RefreshToken)
	requireKind(t, err, KindInvalidToken)
}

func TestRefreshExpired(t *testing.T) {
	te := newTestEngine(t)
	res := te.register(t, aliceEmail, alicePassword)

	te.clock.Advance(7*24*time.Hour + time.Second)
	_, err := te.Refresh(context.Background(), res.Tokens.RefreshToken)
	requireKind(t, err, KindTokenExpired)
}

func TestRefreshDisabledAccount(t *testing.T) {
	te := newTestEngine(t)
	admin := te.register(t, "root@example.com", alicePassword)
	te.makeAdmin(t, admin.Principal.ID)
	res := te.register(t, aliceEmail, alicePassword)

	require.NoError(t, te.SetAccountActive(context.Background(), admin.Principal.ID, res.Principal.ID, false))

	// deactivation revoked every refresh token
	_, err := te.Refresh(context.Background(), res.Tokens.RefreshToken)
	requireKind(t, err, KindInvalidToken)
	_, err = te.Authorize(context.Background(), res.Tokens.AccessToken, rbac.Requirement{})
	requireKind(t, err, KindAccountInactive)
}

func TestLogoutIsIdempotentAndBlacklistsAccess(t *testing.T) {
	te := newTestEngine(t)
	res := te.register(t, aliceEmail, alicePassword)
	ctx := context.Background()

	require.NoError(t, te.Logout(ctx, res.Tokens.RefreshToken, res.Tokens.AccessToken))
	require.NoError(t, te.Logout(ctx, res.Tokens.RefreshToken, res.Tokens.AccessToken))
	require.NoError(t, te.Logout(ctx, "", "not-a-token"))

	_, err := te.Refresh(ctx, res.Tokens.RefreshToken)
	requireKind(t, err, KindInvalidToken)
	_, err = te.ValidateAccess(ctx, res.Tokens.AccessToken)
	requireKind(t, err, KindInvalidToken)

	snap := te.MetricsSnapshot()
	assert.Equal(t, uint64(3), snap.Counters[MetricLogout])
	assert.Equal(t, uint64(1), snap.Counters[MetricAccessBlacklisted])
}

func TestLogoutAll(t *testing.T) {
	te := newTestEngine(t)
	res := te.register(t, aliceEmail, alicePassword)
	second := te.login(t, aliceEmail, alicePassword)
	require.Equal(t, 2, te.store.RefreshTokenCount(res.Principal.ID))

	require.NoError(t, te.LogoutAll(context.Background(), res.Principal.ID))
	assert.Equal(t, 0, te.store.RefreshTokenCount(res.Principal.ID))

	for _, token := range []string{res.Tokens.RefreshToken, second.RefreshToken} {
		_, err := te.Refresh(context.Background(), token)
		requireKind(t, err, KindInvalidToken)
	}

	requireKind(t, te.LogoutAll(context.Background(), ""), KindInvalidInput)
}

func TestValidateAccessExpiry(t *testing.T) {
	te := newTestEngine(t)
	res := te.register(t, aliceEmail, alicePassword)

	te.clock.Advance(15*time.Minute - time.Second)
	_, err := te.ValidateAccess(context.Background(), res.Tokens.AccessToken)
	require.NoError(t, err)

	te.clock.Advance(time.Second)
	_, err = te.ValidateAccess(context.Background(), res.Tokens.AccessToken)
	requireKind(t, err, KindTokenExpired)
}

func TestValidateAccessLatencyHistogram(t *testing.T) {
	te := newTestEngine(t, func(c *Config) {
		c.Metrics.EnableLatencyHistograms = true
	})
	res := te.register(t, aliceEmail, alicePassword)

	for i := 0; i < 3; i++ {
		_, err := te.ValidateAccess(context.Background(), res.Tokens.AccessToken)
		require.NoError(t, err)
	}

	var total uint64
	for _, c := range te.MetricsSnapshot().Histograms[MetricValidateLatency] {
		total += c
	}
	assert.Equal(t, uint64(3), total)
}

func TestAuthorize(t *testing.T) {
	te := newTestEngine(t)
	res := te.register(t, aliceEmail, alicePassword)
	ctx := context.Background()

	p, err := te.Authorize(ctx, res.Tokens.AccessToken, rbac.RequireAny("user", "admin"))
	require.NoError(t, err)
	assert.Equal(t, res.Principal.ID, p.ID)
	assert.Empty(t, p.PasswordHash)

	_, err = te.Authorize(ctx, res.Tokens.AccessToken, rbac.RequireAll("user", "admin"))
	requireKind(t, err, KindAccessDenied)
	assert.Equal(t, uint64(1), te.MetricsSnapshot().Counters[MetricAccessDenied])
}

// Register, rotate, then log out: every superseded refresh token is dead.
func TestEndToEndRotationAndLogout(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	reg := te.register(t, aliceEmail, alicePassword)
	require.NotEmpty(t, reg.Tokens.AccessToken)
	require.NotEmpty(t, reg.Tokens.RefreshToken)

	rotated, err := te.Refresh(ctx, reg.Tokens.RefreshToken)
	require.NoError(t, err)

	_, err = te.Refresh(ctx, reg.Tokens.RefreshToken)
	requireKind(t, err, KindInvalidToken)

	claims, err := te.ValidateAccess(ctx, rotated.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, reg.Principal.ID, claims.SubjectID)

	require.NoError(t, te.Logout(ctx, rotated.RefreshToken, ""))

	_, err = te.Refresh(ctx, rotated.RefreshToken)
	requireKind(t, err, KindInvalidToken)
	assert.Equal(t, 0, te.store.RefreshTokenCount(reg.Principal.ID))
}
