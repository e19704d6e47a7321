package authcore

import (
	"context"
	"testing"
	"time"

	"github.com/MrEthical07/authcore/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// slowHasher delays every call so deadlines can be exercised.
type slowHasher struct {
	passwordHasher
	delay time.Duration
}

func (h slowHasher) Verify(plaintext, encoded string) (bool, error) {
	time.Sleep(h.delay)
	return h.passwordHasher.Verify(plaintext, encoded)
}

func (h slowHasher) Hash(plaintext string) (string, error) {
	time.Sleep(h.delay)
	return h.passwordHasher.Hash(plaintext)
}

func TestLoginSuccessUpdatesLastLogin(t *testing.T) {
	te := newTestEngine(t)
	res := te.register(t, aliceEmail, alicePassword)

	te.clock.Advance(time.Minute)
	pair := te.login(t, "ALICE@example.com", alicePassword)
	assert.Equal(t, res.Principal.ID, pair.SubjectID)

	p, err := te.store.GetPrincipalByID(context.Background(), res.Principal.ID)
	require.NoError(t, err)
	assert.WithinDuration(t, testStart.Add(time.Minute), p.LastLoginAt, 0)
	assert.Equal(t, uint64(1), te.MetricsSnapshot().Counters[MetricLoginSuccess])
}

func TestLoginDoesNotRevealWhichCheckFailed(t *testing.T) {
	te := newTestEngine(t, func(c *Config) {
		c.Account.RequireVerification = true
	})
	res := te.register(t, aliceEmail, alicePassword)
	te.register(t, "carol@example.com", alicePassword)
	inactive := false
	_, err := te.store.UpdatePrincipal(context.Background(), res.Principal.ID, storage.PrincipalPatch{Active: &inactive})
	require.NoError(t, err)

	_, unknown := te.Login(context.Background(), "nonexistent@x.com", "whatever1A")
	_, wrong := te.Login(context.Background(), "carol@example.com", "Wr0ngPass!")
	_, disabled := te.Login(context.Background(), aliceEmail, alicePassword)
	_, unverified := te.Login(context.Background(), "carol@example.com", alicePassword)

	requireKind(t, unknown, KindInvalidCredentials)
	requireKind(t, wrong, KindInvalidCredentials)
	requireKind(t, disabled, KindAccountInactive)
	requireKind(t, unverified, KindNotVerified)

	for _, err := range []error{wrong, disabled, unverified} {
		assert.Equal(t, unknown.Error(), err.Error())
		assert.ErrorIs(t, err, &Error{Kind: KindOf(err)})
	}
	assert.Equal(t, "invalid credentials", unknown.Error())
}

func TestLoginDeadlineIsUnavailable(t *testing.T) {
	te := newTestEngine(t)
	te.register(t, aliceEmail, alicePassword)
	te.hasher = slowHasher{passwordHasher: te.hasher, delay: 300 * time.Millisecond}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := te.Login(ctx, aliceEmail, alicePassword)
	requireKind(t, err, KindUnavailable)
	assert.NotErrorIs(t, err, ErrInvalidCredentials)
	assert.Equal(t, uint64(1), te.MetricsSnapshot().Counters[MetricUnavailable])

	// the unknown-user branch burns a verification under the same deadline
	ctx2, cancel2 := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel2()
	_, err = te.Login(ctx2, "nobody@example.com", alicePassword)
	requireKind(t, err, KindUnavailable)
}

func TestLoginThrottle(t *testing.T) {
	te := newTestEngine(t, func(c *Config) {
		c.Security.MaxLoginAttempts = 3
		c.Security.LoginWindow = time.Minute
	})
	te.register(t, aliceEmail, alicePassword)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := te.Login(ctx, aliceEmail, "Wr0ngPass!")
		requireKind(t, err, KindInvalidCredentials)
	}

	_, err := te.Login(ctx, aliceEmail, alicePassword)
	requireKind(t, err, KindRateLimited)
	assert.Equal(t, uint64(1), te.MetricsSnapshot().Counters[MetricLoginRateLimited])

	te.clock.Advance(time.Minute)
	te.login(t, aliceEmail, alicePassword)
}

func TestLoginRehashesStaleHash(t *testing.T) {
	te := newTestEngine(t)
	res := te.register(t, aliceEmail, alicePassword)
	before, err := te.store.GetPrincipalByID(context.Background(), res.Principal.ID)
	require.NoError(t, err)

	cfg := testConfig()
	cfg.Password.BcryptCost = 5
	stronger, err := New().WithConfig(cfg).WithStore(te.store).WithClock(te.clock.Now).Build()
	require.NoError(t, err)
	defer stronger.Close()

	_, err = stronger.Login(context.Background(), aliceEmail, alicePassword)
	require.NoError(t, err)

	after, err := te.store.GetPrincipalByID(context.Background(), res.Principal.ID)
	require.NoError(t, err)
	assert.NotEqual(t, before.PasswordHash, after.PasswordHash)
	assert.Equal(t, uint64(1), stronger.MetricsSnapshot().Counters[MetricPasswordRehash])

	// both engines still accept the password
	te.login(t, aliceEmail, alicePassword)
}

func TestLoginRejectsBadInputAsInvalidCredentials(t *testing.T) {
	te := newTestEngine(t)
	te.register(t, aliceEmail, alicePassword)

	_, err := te.Login(context.Background(), "not an email", alicePassword)
	requireKind(t, err, KindInvalidCredentials)
	_, err = te.Login(context.Background(), aliceEmail, "")
	requireKind(t, err, KindInvalidCredentials)
}
