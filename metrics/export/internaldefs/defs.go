package internaldefs

import (
	"github.com/MrEthical07/authcore"
)

// CounterDef names one engine counter for exporters.
type CounterDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

// HistogramDef names one engine latency histogram for exporters.
type HistogramDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in a stable order.
var CounterDefs = []CounterDef{
	{ID: authcore.MetricRegisterSuccess, Name: "authcore_register_success_total", Help: "Successful registrations."},
	{ID: authcore.MetricRegisterFailure, Name: "authcore_register_failure_total", Help: "Rejected registrations."},
	{ID: authcore.MetricLoginSuccess, Name: "authcore_login_success_total", Help: "Logins that issued a token pair."},
	{ID: authcore.MetricLoginFailure, Name: "authcore_login_failure_total", Help: "Failed login attempts."},
	{ID: authcore.MetricLoginRateLimited, Name: "authcore_login_rate_limited_total", Help: "Login attempts refused by the throttle."},
	{ID: authcore.MetricLoginTwoFactorRequired, Name: "authcore_login_two_factor_required_total", Help: "Logins that returned a pending token."},
	{ID: authcore.MetricTwoFactorSuccess, Name: "authcore_two_factor_success_total", Help: "Completed second-factor challenges."},
	{ID: authcore.MetricTwoFactorFailure, Name: "authcore_two_factor_failure_total", Help: "Failed second-factor challenges."},
	{ID: authcore.MetricRecoveryCodeUsed, Name: "authcore_recovery_code_used_total", Help: "Recovery codes consumed."},
	{ID: authcore.MetricTOTPReplayRejected, Name: "authcore_totp_replay_rejected_total", Help: "TOTP codes rejected as replays."},
	{ID: authcore.MetricRefreshSuccess, Name: "authcore_refresh_success_total", Help: "Refresh token rotations."},
	{ID: authcore.MetricRefreshFailure, Name: "authcore_refresh_failure_total", Help: "Rejected refresh attempts."},
	{ID: authcore.MetricLogout, Name: "authcore_logout_total", Help: "Logout operations."},
	{ID: authcore.MetricLogoutAll, Name: "authcore_logout_all_total", Help: "Logout-everywhere operations."},
	{ID: authcore.MetricAccessBlacklisted, Name: "authcore_access_blacklisted_total", Help: "Access tokens rejected by the blacklist."},
	{ID: authcore.MetricVerificationRequest, Name: "authcore_email_verification_request_total", Help: "Email verification requests."},
	{ID: authcore.MetricVerificationSuccess, Name: "authcore_email_verification_success_total", Help: "Verified email addresses."},
	{ID: authcore.MetricVerificationFailure, Name: "authcore_email_verification_failure_total", Help: "Failed email verifications."},
	{ID: authcore.MetricResetRequest, Name: "authcore_password_reset_request_total", Help: "Password reset requests."},
	{ID: authcore.MetricResetSuccess, Name: "authcore_password_reset_success_total", Help: "Completed password resets."},
	{ID: authcore.MetricResetFailure, Name: "authcore_password_reset_failure_total", Help: "Failed password resets."},
	{ID: authcore.MetricPasswordChange, Name: "authcore_password_change_total", Help: "Password changes by signed-in principals."},
	{ID: authcore.MetricPasswordRehash, Name: "authcore_password_rehash_total", Help: "Hashes upgraded to current parameters at login."},
	{ID: authcore.MetricEmailChange, Name: "authcore_email_change_total", Help: "Email address changes."},
	{ID: authcore.MetricTOTPEnabled, Name: "authcore_totp_enabled_total", Help: "TOTP enrollments confirmed."},
	{ID: authcore.MetricTOTPDisabled, Name: "authcore_totp_disabled_total", Help: "TOTP removals."},
	{ID: authcore.MetricRecoveryCodesRegenerated, Name: "authcore_recovery_codes_regenerated_total", Help: "Recovery code set replacements."},
	{ID: authcore.MetricRoleAdmin, Name: "authcore_role_admin_total", Help: "Successful role administration operations."},
	{ID: authcore.MetricAccessDenied, Name: "authcore_access_denied_total", Help: "Authorization and admin checks that denied access."},
	{ID: authcore.MetricNotificationDropped, Name: "authcore_notification_dropped_total", Help: "Notifications dropped because the queue was full."},
	{ID: authcore.MetricUnavailable, Name: "authcore_unavailable_total", Help: "Operations failed by storage or hashing outages and timeouts."},
	{ID: authcore.MetricPurged, Name: "authcore_purged_records_total", Help: "Expired records removed by the sweeper."},
}

// HistogramDefs lists the latency histograms.
var HistogramDefs = []HistogramDef{
	{ID: authcore.MetricValidateLatency, Name: "authcore_validate_latency_seconds", Help: "Access token validation latency."},
	{ID: authcore.MetricHashLatency, Name: "authcore_hash_latency_seconds", Help: "Password hash and verify latency."},
}

// HistogramUpperBounds are the finite bucket bounds in seconds. The engine
// keeps one more bucket for everything above the last bound.
var HistogramUpperBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// HistogramBoundLabels are the "le" label values for each bucket, +Inf last.
var HistogramBoundLabels = []string{"0.005", "0.01", "0.025", "0.05", "0.1", "0.25", "0.5", "+Inf"}

// NormalizeBuckets copies raw into a fixed-size array, padding with zeros.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
