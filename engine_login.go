package authcore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"github.com/MrEthical07/authcore/internal/rate"
	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/storage"
)

// Login authenticates email and password.
//
// Unknown email, wrong password, a disabled account and (when verification
// is required) an unverified email all fail with an error whose message is
// "invalid credentials"; the kinds differ only for callers inspecting
// [KindOf]. An unknown email still costs one password verification.
//
// When the principal has TOTP enabled no token pair is issued: the result
// carries a short-lived pending token for [Engine.CompleteTwoFactor].
func (e *Engine) Login(ctx context.Context, email, plaintext string) (*LoginResult, error) {
	ctx, cancel := e.operationContext(ctx)
	defer cancel()

	res, subjectID, err := e.login(ctx, email, plaintext)
	if err != nil {
		switch KindOf(err) {
		case KindRateLimited:
			e.metricInc(MetricLoginRateLimited)
			e.emitAudit(ctx, auditEventLoginRateLimited, false, subjectID, err, nil)
		default:
			e.countFailure(MetricLoginFailure, err)
			e.emitAudit(ctx, auditEventLoginFailure, false, subjectID, err, nil)
		}
		return nil, err
	}

	if res.TwoFactorRequired {
		e.metricInc(MetricLoginTwoFactorRequired)
		e.emitAudit(ctx, auditEventTwoFactorRequired, true, subjectID, nil, nil)
		return res, nil
	}

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, subjectID, nil, nil)
	return res, nil
}

func (e *Engine) login(ctx context.Context, rawEmail, plaintext string) (*LoginResult, string, error) {
	email, ok := normalizeEmail(rawEmail)
	if !ok || plaintext == "" {
		return nil, "", ErrInvalidCredentials
	}

	key := throttleKey(email)
	if err := e.limiter.Check(ctx, key); err != nil {
		return nil, "", throttleError(err)
	}

	p, err := e.store.GetPrincipalByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, "", storageError(err, KindUnavailable)
		}
		if err := e.burnVerify(ctx, plaintext); err != nil {
			return nil, "", err
		}
		e.recordFailedLogin(ctx, key)
		return nil, "", ErrInvalidCredentials
	}

	match, err := e.verifyPassword(ctx, p.ID, plaintext, p.PasswordHash)
	if err != nil {
		return nil, p.ID, err
	}
	if !match {
		e.recordFailedLogin(ctx, key)
		return nil, p.ID, ErrInvalidCredentials
	}

	if !p.Active {
		return nil, p.ID, ErrAccountInactive
	}
	if e.config.Account.RequireVerification && !p.EmailVerified {
		return nil, p.ID, ErrNotVerified
	}

	if err := e.limiter.Reset(ctx, key); err != nil {
		e.logger.Warn("login throttle reset failed", "subject_id", p.ID, "error", err)
	}

	if e.config.Password.UpgradeOnLogin {
		e.upgradeHash(ctx, p, plaintext)
	}

	tf, err := e.store.GetTwoFactor(ctx, p.ID)
	switch {
	case err == nil && len(tf.Secret) > 0:
		pending, claims, err := e.codec.Mint(p.ID, jwt.TypePending, e.config.Tokens.PendingTTL)
		if err != nil {
			return nil, p.ID, newError(KindUnavailable, err)
		}
		return &LoginResult{
			TwoFactorRequired: true,
			PendingToken:      pending,
			PendingExpiresAt:  claims.ExpiresAt.Time,
		}, p.ID, nil
	case err != nil && !errors.Is(err, storage.ErrNotFound):
		return nil, p.ID, storageError(err, KindUnavailable)
	}

	pair, err := e.issuePair(ctx, p.ID)
	if err != nil {
		return nil, p.ID, err
	}
	e.touchLastLogin(ctx, p.ID)

	return &LoginResult{Tokens: pair}, p.ID, nil
}

// upgradeHash re-hashes plaintext when the stored hash uses weaker
// parameters or another algorithm. Failures leave the old hash in place.
func (e *Engine) upgradeHash(ctx context.Context, p storage.Principal, plaintext string) {
	stale, err := e.hasher.NeedsUpgrade(p.PasswordHash)
	if err != nil || !stale {
		return
	}
	hash, err := e.hashPassword(ctx, plaintext)
	if err != nil {
		e.logger.Warn("password rehash failed", "subject_id", p.ID, "error", err)
		return
	}
	_, err = e.store.UpdatePrincipal(ctx, p.ID, storage.PrincipalPatch{
		PasswordHash: &hash,
		UpdatedAt:    e.now(),
	})
	if err != nil {
		e.logger.Warn("password rehash not persisted", "subject_id", p.ID, "error", err)
		return
	}
	e.metricInc(MetricPasswordRehash)
}

// CompleteTwoFactor exchanges a pending token and a TOTP or recovery code
// for a token pair. The pending token is single-use: the first attempt
// claims it, so a wrong code means logging in again.
func (e *Engine) CompleteTwoFactor(ctx context.Context, pendingToken, code string) (*TokenPair, error) {
	ctx, cancel := e.operationContext(ctx)
	defer cancel()

	pair, subjectID, method, err := e.completeTwoFactor(ctx, pendingToken, code)
	if err != nil {
		e.countFailure(MetricTwoFactorFailure, err)
		e.emitAudit(ctx, auditEventTwoFactorFailure, false, subjectID, err, nil)
		return nil, err
	}

	e.metricInc(MetricTwoFactorSuccess)
	if method == secondFactorRecovery {
		e.metricInc(MetricRecoveryCodeUsed)
		e.emitAudit(ctx, auditEventRecoveryCodeUsed, true, subjectID, nil, nil)
	}
	e.emitAudit(ctx, auditEventTwoFactorSuccess, true, subjectID, nil, func() map[string]string {
		return map[string]string{"method": method}
	})
	return pair, nil
}

func (e *Engine) completeTwoFactor(ctx context.Context, pendingToken, code string) (*TokenPair, string, string, error) {
	claims, err := e.codec.Verify(pendingToken, jwt.TypePending)
	if err != nil {
		return nil, "", "", tokenError(err)
	}
	subjectID := claims.Subject
	fingerprint := jwt.Fingerprint(pendingToken)

	key := "2fa:" + subjectID
	if err := e.limiter.Check(ctx, key); err != nil {
		return nil, subjectID, "", throttleError(err)
	}

	// the claim spends the token whatever the code turns out to be
	claimed, err := e.store.ClaimBlacklist(ctx, storage.BlacklistEntry{
		Fingerprint: fingerprint,
		CreatedAt:   e.now(),
		ExpiresAt:   claims.ExpiresAt.Time,
	})
	if err != nil {
		return nil, subjectID, "", storageError(err, KindUnavailable)
	}
	if !claimed {
		return nil, subjectID, "", ErrInvalidToken
	}

	p, err := e.loadActive(ctx, subjectID)
	if err != nil {
		if KindOf(err) == KindUserNotFound {
			return nil, subjectID, "", ErrInvalidCredentials
		}
		return nil, subjectID, "", err
	}

	method, err := e.checkSecondFactor(ctx, p.ID, code, true)
	if err != nil {
		if KindOf(err) == KindInvalidCredentials {
			e.recordFailedLogin(ctx, key)
		}
		return nil, subjectID, "", err
	}

	if err := e.limiter.Reset(ctx, key); err != nil {
		e.logger.Warn("two-factor throttle reset failed", "subject_id", subjectID, "error", err)
	}

	pair, err := e.issuePair(ctx, subjectID)
	if err != nil {
		return nil, subjectID, method, err
	}
	e.touchLastLogin(ctx, subjectID)

	return pair, subjectID, method, nil
}

// throttleKey hashes the normalized email so raw addresses never reach the
// throttle backend.
func throttleKey(email string) string {
	sum := sha256.Sum256([]byte(email))
	return hex.EncodeToString(sum[:])
}

func throttleError(err error) error {
	if errors.Is(err, rate.ErrRateLimited) {
		return newError(KindRateLimited, err)
	}
	return newError(KindUnavailable, err)
}

func (e *Engine) recordFailedLogin(ctx context.Context, key string) {
	if err := e.limiter.Fail(ctx, key); err != nil {
		e.logger.Warn("login throttle update failed", "error", err)
	}
}
