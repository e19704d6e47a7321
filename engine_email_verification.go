package authcore

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"

	"github.com/MrEthical07/authcore/onetime"
	"github.com/MrEthical07/authcore/storage"
)

// RequestEmailVerification queues a verification token for email. The
// result is nil whether or not the address belongs to an unverified
// account, so the call reveals nothing about which addresses exist.
func (e *Engine) RequestEmailVerification(ctx context.Context, email string) error {
	ctx, cancel := e.operationContext(ctx)
	defer cancel()

	subjectID, err := e.requestEmailVerification(ctx, email)
	e.emitAudit(ctx, auditEventVerificationRequest, err == nil, subjectID, err, nil)
	if err != nil {
		e.countFailure(MetricVerificationFailure, err)
		return err
	}
	e.metricInc(MetricVerificationRequest)
	return nil
}

func (e *Engine) requestEmailVerification(ctx context.Context, rawEmail string) (string, error) {
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
	if !p.Active || p.EmailVerified {
		return p.ID, unavailableOrNil(e.enumerationDelay(ctx))
	}

	if err := e.sendOneTime(ctx, p, storage.PurposeVerifyEmail); err != nil {
		return p.ID, err
	}
	return p.ID, nil
}

// VerifyEmail redeems a verification token and marks the address verified.
// The token only verifies the address it was sent to.
func (e *Engine) VerifyEmail(ctx context.Context, token string) error {
	ctx, cancel := e.operationContext(ctx)
	defer cancel()

	subjectID, err := e.verifyEmail(ctx, token)
	e.emitAudit(ctx, auditEventVerificationConfirm, err == nil, subjectID, err, nil)
	if err != nil {
		e.countFailure(MetricVerificationFailure, err)
		return err
	}
	e.metricInc(MetricVerificationSuccess)
	return nil
}

func (e *Engine) verifyEmail(ctx context.Context, token string) (string, error) {
	p, err := e.redeemBound(ctx, token, storage.PurposeVerifyEmail)
	if err != nil {
		return p.ID, err
	}

	verified := true
	_, err = e.store.UpdatePrincipal(ctx, p.ID, storage.PrincipalPatch{
		EmailVerified: &verified,
		UpdatedAt:     e.now(),
	})
	return p.ID, storageError(err, KindUserNotFound)
}

// ChangeEmail moves subjectID to newEmail. The new address always starts
// unverified and a verification token is queued for it, whatever
// Account.RequireVerification says.
func (e *Engine) ChangeEmail(ctx context.Context, subjectID, newEmail string) error {
	ctx, cancel := e.operationContext(ctx)
	defer cancel()

	err := e.changeEmail(ctx, subjectID, newEmail)
	e.emitAudit(ctx, auditEventEmailChange, err == nil, subjectID, err, nil)
	if err != nil {
		if KindOf(err) == KindUnavailable {
			e.metricInc(MetricUnavailable)
		}
		return err
	}
	e.metricInc(MetricEmailChange)
	return nil
}

func (e *Engine) changeEmail(ctx context.Context, subjectID, rawEmail string) error {
	email, ok := normalizeEmail(rawEmail)
	if !ok {
		return invalidInput("email is not a valid address")
	}

	p, err := e.loadActive(ctx, subjectID)
	if err != nil {
		return err
	}
	if p.Email == email {
		return nil
	}

	unverified := false
	p, err = e.store.UpdatePrincipal(ctx, subjectID, storage.PrincipalPatch{
		Email:         &email,
		EmailVerified: &unverified,
		UpdatedAt:     e.now(),
	})
	if err != nil {
		return storageError(err, KindUserNotFound)
	}

	if err := e.sendOneTime(ctx, p, storage.PurposeVerifyEmail); err != nil {
		// the change is committed; RequestEmailVerification can resend
		e.logger.Warn("verification after email change not sent", "subject_id", subjectID, "error", err)
	}
	return nil
}

// sendVerification is used after registration, where a failed issue must
// not undo the account.
func (e *Engine) sendVerification(ctx context.Context, p storage.Principal) bool {
	if err := e.sendOneTime(ctx, p, storage.PurposeVerifyEmail); err != nil {
		e.logger.Warn("verification after registration not sent", "subject_id", p.ID, "error", err)
		return false
	}
	return true
}

// sendOneTime issues a token bound to p's current email and hands it to
// the notifier.
func (e *Engine) sendOneTime(ctx context.Context, p storage.Principal, purpose storage.Purpose) error {
	ttl := e.config.Tokens.VerificationTTL
	kind := notifyVerification
	if purpose == storage.PurposeResetPassword {
		ttl = e.config.Tokens.ResetTTL
		kind = notifyReset
	}

	issued, err := e.tokens.Issue(ctx, onetime.Subject{ID: p.ID, EmailDigest: emailDigest(p.Email)}, purpose, ttl)
	if err != nil {
		return storageError(err, KindUnavailable)
	}
	e.dispatchNotification(kind, p, issued)
	return nil
}

// redeemBound consumes token and returns the principal it was issued to,
// provided that principal still has the email the token was sent to.
func (e *Engine) redeemBound(ctx context.Context, token string, purpose storage.Purpose) (storage.Principal, error) {
	sub, err := e.tokens.Redeem(ctx, token, purpose)
	if err != nil {
		return storage.Principal{}, storageError(err, KindInvalidToken)
	}
	if sub.EmailDigest == "" {
		return storage.Principal{ID: sub.ID}, ErrInvalidToken
	}

	p, err := e.store.GetPrincipalByID(ctx, sub.ID)
	if err != nil {
		return storage.Principal{ID: sub.ID}, storageError(err, KindUserNotFound)
	}
	if subtle.ConstantTimeCompare([]byte(sub.EmailDigest), []byte(emailDigest(p.Email))) != 1 {
		return storage.Principal{ID: sub.ID}, ErrInvalidToken
	}
	return p, nil
}

func emailDigest(email string) string {
	sum := sha256.Sum256([]byte(email))
	return hex.EncodeToString(sum[:8])
}

func unavailableOrNil(err error) error {
	if err == nil {
		return nil
	}
	return newError(KindUnavailable, err)
}
