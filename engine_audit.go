package authcore

import (
	"context"

	"github.com/MrEthical07/authcore/internal/audit"
)

const (
	auditEventRegister               = "register"
	auditEventLoginSuccess           = "login_success"
	auditEventLoginFailure           = "login_failure"
	auditEventLoginRateLimited       = "login_rate_limited"
	auditEventTwoFactorRequired      = "two_factor_required"
	auditEventTwoFactorSuccess       = "two_factor_success"
	auditEventTwoFactorFailure       = "two_factor_failure"
	auditEventRecoveryCodeUsed       = "recovery_code_used"
	auditEventRefreshSuccess         = "refresh_success"
	auditEventRefreshInvalid         = "refresh_invalid"
	auditEventLogout                 = "logout"
	auditEventLogoutAll              = "logout_all"
	auditEventVerificationRequest    = "email_verification_request"
	auditEventVerificationConfirm    = "email_verification_confirm"
	auditEventEmailChange            = "email_change"
	auditEventPasswordResetRequest   = "password_reset_request"
	auditEventPasswordResetConfirm   = "password_reset_confirm"
	auditEventPasswordChange         = "password_change"
	auditEventTOTPSetupRequested     = "totp_setup_requested"
	auditEventTOTPEnabled            = "totp_enabled"
	auditEventTOTPDisabled           = "totp_disabled"
	auditEventRecoveryCodesGenerated = "recovery_codes_generated"
	auditEventRoleCreate             = "role_create"
	auditEventRoleUpdate             = "role_update"
	auditEventRoleDelete             = "role_delete"
	auditEventRoleAssign             = "role_assign"
	auditEventRoleRemove             = "role_remove"
	auditEventAccountStatusChange    = "account_status_change"
	auditEventAccessDenied           = "access_denied"
)

// emitAudit records one event. The error, if any, is reduced to its kind so
// no wrapped detail leaks into the audit trail.
func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	subjectID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	actor, _ := ActorFromContext(ctx)

	event := audit.Event{
		Timestamp: e.now().UTC(),
		Type:      eventType,
		SubjectID: subjectID,
		ActorID:   actor,
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if err != nil {
		event.Error = string(KindOf(err))
	}

	e.audit.Emit(ctx, event)
}
