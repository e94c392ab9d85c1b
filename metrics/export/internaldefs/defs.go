package internaldefs

import (
	"github.com/MrEthical07/dmarcauth"
)

type CounterDef struct {
	ID   dmarcauth.MetricID
	Name string
	Help string
}

type HistogramDef struct {
	ID   dmarcauth.MetricID
	Name string
	Help string
}

// AuditDroppedName is the counter of audit events lost to backpressure.
const AuditDroppedName = "dmarcauth_audit_dropped_total"

var CounterDefs = []CounterDef{
	{ID: dmarcauth.MetricLoginSuccess, Name: "dmarcauth_login_success_total", Help: "Completed logins, any factor."},
	{ID: dmarcauth.MetricLoginFailure, Name: "dmarcauth_login_failure_total", Help: "Password logins rejected."},
	{ID: dmarcauth.MetricLoginRateLimited, Name: "dmarcauth_login_rate_limited_total", Help: "Logins refused by the login_ip or login_account limiter."},
	{ID: dmarcauth.MetricLoginMFARequired, Name: "dmarcauth_login_mfa_required_total", Help: "Password logins answered with a TOTP challenge."},
	{ID: dmarcauth.MetricTOTPSuccess, Name: "dmarcauth_totp_success_total", Help: "Accepted TOTP codes."},
	{ID: dmarcauth.MetricTOTPFailure, Name: "dmarcauth_totp_failure_total", Help: "Rejected TOTP codes."},
	{ID: dmarcauth.MetricTOTPReplay, Name: "dmarcauth_totp_replay_total", Help: "TOTP codes rejected because their step was already used."},
	{ID: dmarcauth.MetricTOTPEnabled, Name: "dmarcauth_totp_enabled_total", Help: "TOTP enrolments."},
	{ID: dmarcauth.MetricTOTPDisabled, Name: "dmarcauth_totp_disabled_total", Help: "TOTP removals."},
	{ID: dmarcauth.MetricRecoveryCodeUsed, Name: "dmarcauth_recovery_code_used_total", Help: "Logins completed with a recovery code."},
	{ID: dmarcauth.MetricRecoveryCodeFailed, Name: "dmarcauth_recovery_code_failed_total", Help: "Rejected recovery codes."},
	{ID: dmarcauth.MetricRecoveryCodesGenerated, Name: "dmarcauth_recovery_codes_generated_total", Help: "Recovery code batches issued."},
	{ID: dmarcauth.MetricRefreshSuccess, Name: "dmarcauth_refresh_success_total", Help: "Refresh-token rotations."},
	{ID: dmarcauth.MetricRefreshFailure, Name: "dmarcauth_refresh_failure_total", Help: "Rejected refresh attempts."},
	{ID: dmarcauth.MetricRefreshTheftDetected, Name: "dmarcauth_refresh_theft_detected_total", Help: "Revoked refresh tokens presented again."},
	{ID: dmarcauth.MetricLogout, Name: "dmarcauth_logout_total", Help: "Logout calls."},
	{ID: dmarcauth.MetricPasswordChangeSuccess, Name: "dmarcauth_password_change_success_total", Help: "Password changes."},
	{ID: dmarcauth.MetricPasswordChangeFailure, Name: "dmarcauth_password_change_failure_total", Help: "Rejected password changes."},
	{ID: dmarcauth.MetricSAMLLoginSuccess, Name: "dmarcauth_saml_login_success_total", Help: "SAML logins."},
	{ID: dmarcauth.MetricSAMLLoginFailure, Name: "dmarcauth_saml_login_failure_total", Help: "SAML assertions failing validation."},
	{ID: dmarcauth.MetricSAMLReplay, Name: "dmarcauth_saml_replay_total", Help: "SAML assertions rejected as replays."},
	{ID: dmarcauth.MetricRateLimitHit, Name: "dmarcauth_rate_limit_hit_total", Help: "Requests refused by any limiter."},
}

var HistogramDefs = []HistogramDef{
	{ID: dmarcauth.MetricRefreshLatency, Name: "dmarcauth_refresh_latency_seconds", Help: "Refresh rotation latency."},
}

// HistogramUpperBounds are the bucket limits in seconds, excluding +Inf.
var HistogramUpperBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// HistogramBounds are the le labels of each bucket.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// Buckets is one refresh latency histogram, +Inf last.
type Buckets = [dmarcauth.LatencyBucketCount]uint64

// NormalizeBuckets copies raw into a fixed-size array, padding with zeros.
func NormalizeBuckets(raw []uint64) Buckets {
	var out Buckets
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw Buckets) Buckets {
	var out Buckets
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
