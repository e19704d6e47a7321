package authcore

import (
	"context"
	"errors"
	"strconv"

	"github.com/MrEthical07/authcore/storage"
)

// reasonPasswordReuse is reported when a new password equals the old one.
const reasonPasswordReuse = "new password must differ from the current password"

// RequestPasswordReset queues a reset token for email. Like
// [Engine.RequestEmailVerification] it returns nil for unknown addresses.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) error {
	ctx, cancel := e.operationContext(ctx)
	defer cancel()

	subjectID, err := e.requestPasswordReset(ctx, email)
	e.emitAudit(ctx, auditEventPasswordResetRequest, err == nil, subjectID, err, nil)
	if err != nil {
		e.countFailure(MetricResetFailure, err)
		return err
	}
	e.metricInc(MetricResetRequest)
	return nil
}

func (e *Engine) requestPasswordReset(ctx context.Context, rawEmail string) (string, error) {
	email, ok := normalizeEmail(rawEmail)
	if !ok {
		return "", invalidInput("email is not a valid address")
	}

	p, err := e.store.GetPrincipalByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return "", storageError(err, KindUnavailable)
		}
		return "", unavailableOrNil(e.enumerationDelay(ctx))
	}
	if !p.Active {
		return p.ID, unavailableOrNil(e.enumerationDelay(ctx))
	}

	if err := e.sendOneTime(ctx, p, storage.PurposeResetPassword); err != nil {
		return p.ID, err
	}
	return p.ID, nil
}

// ResetPassword redeems a reset token, stores the new password and revokes
// every refresh token of the principal. The password policy is checked
// before the token is consumed.
func (e *Engine) ResetPassword(ctx context.Context, token, newPassword string) error {
	ctx, cancel := e.operationContext(ctx)
	defer cancel()

	subjectID, revoked, err := e.resetPassword(ctx, token, newPassword)
	e.emitAudit(ctx, auditEventPasswordResetConfirm, err == nil, subjectID, err, func() map[string]string {
		return map[string]string{"revoked": strconv.Itoa(revoked)}
	})
	if err != nil {
		e.countFailure(MetricResetFailure, err)
		return err
	}
	e.metricInc(MetricResetSuccess)
	return nil
}

func (e *Engine) resetPassword(ctx context.Context, token, newPassword string) (string, int, error) {
	// the email is unknown until the token is redeemed
	if err := e.checkPolicy(newPassword, ""); err != nil {
		return "", 0, err
	}

	p, err := e.redeemBound(ctx, token, storage.PurposeResetPassword)
	if err != nil {
		return p.ID, 0, err
	}
	if !p.Active {
		return p.ID, 0, ErrAccountInactive
	}
	// the token is spent by now; only the email rule can still fail here
	if err := e.checkPolicy(newPassword, p.Email); err != nil {
		return p.ID, 0, err
	}

	revoked, err := e.replacePassword(ctx, p, newPassword)
	if err != nil {
		return p.ID, 0, err
	}

	if err := e.limiter.Reset(ctx, throttleKey(p.Email)); err != nil {
		e.logger.Warn("login throttle reset failed", "subject_id", p.ID, "error", err)
	}
	return p.ID, revoked, nil
}

// ChangePassword replaces the password of an authenticated principal after
// checking the current one, then revokes every refresh token.
func (e *Engine) ChangePassword(ctx context.Context, subjectID, oldPassword, newPassword string) error {
	ctx, cancel := e.operationContext(ctx)
	defer cancel()

	err := e.changePassword(ctx, subjectID, oldPassword, newPassword)
	e.emitAudit(ctx, auditEventPasswordChange, err == nil, subjectID, err, nil)
	if err != nil {
		if KindOf(err) == KindUnavailable {
			e.metricInc(MetricUnavailable)
		}
		return err
	}
	e.metricInc(MetricPasswordChange)
	return nil
}

func (e *Engine) changePassword(ctx context.Context, subjectID, oldPassword, newPassword string) error {
	p, err := e.loadActive(ctx, subjectID)
	if err != nil {
		return err
	}

	match, err := e.verifyPassword(ctx, p.ID, oldPassword, p.PasswordHash)
	if err != nil {
		return err
	}
	if !match {
		return ErrInvalidCredentials
	}

	if err := e.checkPolicy(newPassword, p.Email); err != nil {
		return err
	}
	if newPassword == oldPassword {
		return weakPassword([]string{reasonPasswordReuse})
	}

	_, err = e.replacePassword(ctx, p, newPassword)
	return err
}

// replacePassword stores a hash of plaintext and revokes every refresh
// token of p, forcing re-login everywhere.
func (e *Engine) replacePassword(ctx context.Context, p storage.Principal, plaintext string) (int, error) {
	hash, err := e.hashPassword(ctx, plaintext)
	if err != nil {
		return 0, err
	}

	_, err = e.store.UpdatePrincipal(ctx, p.ID, storage.PrincipalPatch{
		PasswordHash: &hash,
		UpdatedAt:    e.now(),
	})
	if err != nil {
		return 0, storageError(err, KindUserNotFound)
	}

	n, err := e.store.DeleteAllRefreshTokensFor(ctx, p.ID)
	if err != nil {
		return 0, storageError(err, KindUnavailable)
	}
	return n, nil
}
