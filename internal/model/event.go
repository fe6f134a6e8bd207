package model

import (
	"time"
	"unicode/utf8"
)

// Action tags a security event.  The string value is what lands in
// security_events.action.
type Action string

const (
	ActionSignup                Action = "signup"
	ActionSignupRejected        Action = "signup_rejected"
	ActionLoginFailed           Action = "login_failed"
	ActionLoginBlockedDisabled  Action = "login_blocked_disabled"
	ActionLoginPasswordVerified Action = "login_password_verified"
	ActionTwoFAEnrolled         Action = "twofa_enrolled"
	ActionTwoFAVerified         Action = "twofa_verified"
	ActionTwoFAFailed           Action = "twofa_failed"
	ActionLogout                Action = "logout"
	ActionRoleUpdated           Action = "role_updated"
	ActionStatusUpdated         Action = "status_updated"
	ActionAccountDeleted        Action = "account_deleted"
	ActionPasswordChanged       Action = "password_changed"
)

// Critical reports whether the event must be stored (or durably queued)
// before the triggering response is written.
func (a Action) Critical() bool {
	switch a {
	case ActionSignupRejected, ActionLoginFailed, ActionLoginBlockedDisabled, ActionTwoFAFailed,
		ActionRoleUpdated, ActionStatusUpdated, ActionAccountDeleted:
		return true
	}
	return false
}

// SecurityEvent models an append-only row of `security_events`.  SubjectID is
// nil for attempts against unknown usernames.
type SecurityEvent struct {
	ID            uint64    `json:"id"`
	SubjectID     *uint64   `json:"subjectId,omitempty"`
	Action        Action    `json:"action"`
	Detail        string    `json:"detail,omitempty"`
	SourceAddress string    `json:"sourceAddress,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// Column widths of security_events.
const (
	MaxEventDetailLen   = 512
	MaxSourceAddressLen = 64
)

// Clamped returns ev with Detail and SourceAddress cut to their column widths
// on a rune boundary.
func (ev SecurityEvent) Clamped() SecurityEvent {
	ev.Detail = truncate(ev.Detail, MaxEventDetailLen)
	ev.SourceAddress = truncate(ev.SourceAddress, MaxSourceAddressLen)
	return ev
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	s = s[:n]
	for len(s) > 0 && !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}
