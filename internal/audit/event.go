package audit

import "time"

// Event types emitted by the engine.
const (
	TypeLoginSuccess      = "login_success"
	TypeLoginFailure      = "login_failure"
	TypeLoginMFARequired  = "login_mfa_required"
	TypeTOTPSuccess       = "totp_success"
	TypeTOTPFailure       = "totp_failure"
	TypeTOTPReplay        = "totp_replay"
	TypeTOTPEnabled       = "totp_enabled"
	TypeTOTPDisabled      = "totp_disabled"
	TypeRecoveryUsed      = "recovery_code_used"
	TypeRecoveryFailure   = "recovery_code_failure"
	TypeRecoveryGenerated = "recovery_codes_generated"
	TypeRefreshRotated    = "refresh_rotated"
	TypeRefreshRejected   = "refresh_rejected"
	TypeTheftDetected     = "refresh_theft_detected"
	TypeLogout            = "logout"
	TypePasswordChanged   = "password_changed"
	TypeSAMLLogin         = "saml_login"
	TypeSAMLReplay        = "saml_replay"
	TypeRateLimited       = "rate_limited"
)

// Event is one audit record.
type Event struct {
	Timestamp time.Time         `json:"timestamp"`
	Type      string            `json:"event_type"`
	UserID    string            `json:"user_id,omitempty"`
	Email     string            `json:"email,omitempty"`
	FamilyID  string            `json:"family_id,omitempty"`
	IP        string            `json:"ip,omitempty"`
	Success   bool              `json:"success"`
	Error     string            `json:"error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}
