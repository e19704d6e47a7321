package authcore

import (
	"context"
	"errors"

	"github.com/MrEthical07/authcore/storage"
	"github.com/MrEthical07/authcore/totp"
)

const (
	secondFactorTOTP     = "totp"
	secondFactorRecovery = "recovery_code"
)

// recoveryCodeLength is the canonical length of a generated recovery code.
const recoveryCodeLength = 10

// BeginTOTPEnrollment returns a fresh secret, its otpauth:// URI and a set
// of recovery codes. Nothing is stored: the material only takes effect once
// [Engine.ConfirmTOTPEnrollment] receives it back with a valid code.
func (e *Engine) BeginTOTPEnrollment(ctx context.Context, subjectID string) (*TOTPEnrollment, error) {
	ctx, cancel := e.operationContext(ctx)
	defer cancel()

	p, err := e.loadActive(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	if err := e.ensureNoTwoFactor(ctx, subjectID); err != nil {
		return nil, err
	}

	secret, err := e.totp.GenerateSecret()
	if err != nil {
		return nil, newError(KindUnavailable, err)
	}
	codes, err := totp.GenerateRecoveryCodes(e.config.TOTP.RecoveryCodeCount)
	if err != nil {
		return nil, newError(KindUnavailable, err)
	}

	e.emitAudit(ctx, auditEventTOTPSetupRequested, true, subjectID, nil, nil)

	return &TOTPEnrollment{
		Secret:        secret.Base32,
		URI:           e.totp.ProvisionURI(secret.Base32, p.Email),
		RecoveryCodes: codes,
	}, nil
}

// ConfirmTOTPEnrollment enables TOTP for subjectID once code matches the
// enrollment secret. Recovery codes are stored as digests only. The step
// that confirmed enrollment cannot be replayed at login.
func (e *Engine) ConfirmTOTPEnrollment(ctx context.Context, subjectID string, enrollment TOTPEnrollment, code string) error {
	ctx, cancel := e.operationContext(ctx)
	defer cancel()

	err := e.confirmTOTPEnrollment(ctx, subjectID, enrollment, code)
	e.emitAudit(ctx, auditEventTOTPEnabled, err == nil, subjectID, err, nil)
	if err != nil {
		return err
	}
	e.metricInc(MetricTOTPEnabled)
	return nil
}

func (e *Engine) confirmTOTPEnrollment(ctx context.Context, subjectID string, enrollment TOTPEnrollment, code string) error {
	if _, err := e.loadActive(ctx, subjectID); err != nil {
		return err
	}
	if err := e.ensureNoTwoFactor(ctx, subjectID); err != nil {
		return err
	}

	secret, err := totp.DecodeSecret(enrollment.Secret)
	if err != nil {
		return invalidInput("enrollment secret is malformed")
	}
	if len(enrollment.RecoveryCodes) != e.config.TOTP.RecoveryCodeCount {
		return invalidInput("enrollment recovery codes are incomplete")
	}
	for _, c := range enrollment.RecoveryCodes {
		if len(totp.CanonicalizeRecoveryCode(c)) != recoveryCodeLength {
			return invalidInput("enrollment recovery codes are malformed")
		}
	}

	ok, counter, err := e.totp.Verify(secret, code, e.now())
	if err != nil {
		return newError(KindUnavailable, err)
	}
	if !ok {
		return ErrInvalidCredentials
	}

	err = e.store.SetTwoFactor(ctx, storage.TwoFactor{
		SubjectID:       subjectID,
		Secret:          secret,
		RecoveryCodes:   totp.HashRecoveryCodes(subjectID, enrollment.RecoveryCodes),
		LastUsedCounter: counter,
		EnabledAt:       e.now(),
	})
	return storageError(err, KindUnavailable)
}

// DisableTOTP removes the second factor after checking a current TOTP or
// recovery code.
func (e *Engine) DisableTOTP(ctx context.Context, subjectID, code string) error {
	ctx, cancel := e.operationContext(ctx)
	defer cancel()

	err := e.disableTOTP(ctx, subjectID, code)
	e.emitAudit(ctx, auditEventTOTPDisabled, err == nil, subjectID, err, nil)
	if err != nil {
		return err
	}
	e.metricInc(MetricTOTPDisabled)
	return nil
}

func (e *Engine) disableTOTP(ctx context.Context, subjectID, code string) error {
	if _, err := e.loadActive(ctx, subjectID); err != nil {
		return err
	}
	if _, err := e.checkSecondFactor(ctx, subjectID, code, true); err != nil {
		return err
	}
	return storageError(e.store.ClearTwoFactor(ctx, subjectID), KindUnavailable)
}

// RegenerateRecoveryCodes replaces every recovery code. It requires a TOTP
// code; a recovery code cannot be used to mint new ones.
func (e *Engine) RegenerateRecoveryCodes(ctx context.Context, subjectID, code string) ([]string, error) {
	ctx, cancel := e.operationContext(ctx)
	defer cancel()

	codes, err := e.regenerateRecoveryCodes(ctx, subjectID, code)
	e.emitAudit(ctx, auditEventRecoveryCodesGenerated, err == nil, subjectID, err, nil)
	if err != nil {
		return nil, err
	}
	e.metricInc(MetricRecoveryCodesRegenerated)
	return codes, nil
}

func (e *Engine) regenerateRecoveryCodes(ctx context.Context, subjectID, code string) ([]string, error) {
	if _, err := e.loadActive(ctx, subjectID); err != nil {
		return nil, err
	}
	if _, err := e.checkSecondFactor(ctx, subjectID, code, false); err != nil {
		return nil, err
	}

	codes, err := totp.GenerateRecoveryCodes(e.config.TOTP.RecoveryCodeCount)
	if err != nil {
		return nil, newError(KindUnavailable, err)
	}

	// re-read so the counter advanced above is kept
	tf, err := e.store.GetTwoFactor(ctx, subjectID)
	if err != nil {
		return nil, storageError(err, KindInvalidCredentials)
	}
	tf.RecoveryCodes = totp.HashRecoveryCodes(subjectID, codes)
	if err := e.store.SetTwoFactor(ctx, tf); err != nil {
		return nil, storageError(err, KindUnavailable)
	}
	return codes, nil
}

// checkSecondFactor accepts a TOTP code for an unused step or, when
// allowRecovery is set, an unused recovery code. Both are consumed
// atomically in storage, so concurrent submissions of one code succeed at
// most once.
func (e *Engine) checkSecondFactor(ctx context.Context, subjectID, code string, allowRecovery bool) (string, error) {
	tf, err := e.store.GetTwoFactor(ctx, subjectID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", ErrInvalidCredentials
		}
		return "", storageError(err, KindUnavailable)
	}

	ok, counter, err := e.totp.Verify(tf.Secret, code, e.now())
	if err != nil {
		e.logger.Error("stored totp secret is unusable", "subject_id", subjectID, "error", err)
		return "", ErrInvalidCredentials
	}
	if ok {
		advanced, err := e.store.AdvanceTOTPCounter(ctx, subjectID, counter)
		if err != nil {
			return "", storageError(err, KindInvalidCredentials)
		}
		if !advanced {
			e.metricInc(MetricTOTPReplayRejected)
			return "", ErrInvalidCredentials
		}
		return secondFactorTOTP, nil
	}

	if !allowRecovery || totp.CanonicalizeRecoveryCode(code) == "" {
		return "", ErrInvalidCredentials
	}
	used, err := e.store.ConsumeRecoveryCode(ctx, subjectID, totp.HashRecoveryCode(subjectID, code))
	if err != nil {
		return "", storageError(err, KindInvalidCredentials)
	}
	if !used {
		return "", ErrInvalidCredentials
	}
	return secondFactorRecovery, nil
}

func (e *Engine) ensureNoTwoFactor(ctx context.Context, subjectID string) error {
	_, err := e.store.GetTwoFactor(ctx, subjectID)
	switch {
	case err == nil:
		return invalidInput("two-factor authentication is already enabled")
	case errors.Is(err, storage.ErrNotFound):
		return nil
	default:
		return storageError(err, KindUnavailable)
	}
}
