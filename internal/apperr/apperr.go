// Package apperr defines the business-rule failures returned by the radar
// core. They are ordinary error values carrying a machine-readable code and,
// for time-boxed restrictions, the instant the restriction lifts.
package apperr

import (
	"errors"
	"time"
)

// Code is a machine-readable failure identifier surfaced to clients.
type Code string

const (
	CodeInvalidSession   Code = "invalid_session"
	CodeSessionNotFound  Code = "session_not_found"
	CodeTargetNotFound   Code = "target_not_found"
	CodeInCooldown       Code = "in_cooldown"
	CodeTargetNotVisible Code = "target_not_visible"
	CodeBlocked          Code = "blocked"
	CodeAlreadyInChat    Code = "already_in_chat"
	CodeTargetInChat     Code = "target_in_chat"
	CodeNotInChat        Code = "not_in_chat"
	CodeAlreadyBlocked   Code = "already_blocked"
	CodeAlreadyReported  Code = "already_reported"
	CodeSelfTarget       Code = "cannot_target_self"
	CodeRateLimited      Code = "rate_limited"
	CodeInvalidMessage   Code = "invalid_message"
	CodeExcluded         Code = "safety_excluded"
	CodeNoPendingRequest Code = "no_pending_request"
)

// Error is a named business-rule outcome. Two errors match under errors.Is
// when their codes are equal, so callers can compare against the sentinels
// below while still reading ExpiresAt from the concrete value.
type Error struct {
	Code      Code
	Message   string
	ExpiresAt time.Time // zero unless the failure is time-boxed
}

func (e *Error) Error() string {
	if e.Message != "" {
		return string(e.Code) + ": " + e.Message
	}
	return string(e.Code)
}

// Is implements errors.Is matching by code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Sentinels for errors.Is comparisons.
var (
	ErrInvalidSession   = &Error{Code: CodeInvalidSession, Message: "session is invalid or expired"}
	ErrSessionNotFound  = &Error{Code: CodeSessionNotFound, Message: "session not found"}
	ErrTargetNotFound   = &Error{Code: CodeTargetNotFound, Message: "target session not found"}
	ErrInCooldown       = &Error{Code: CodeInCooldown, Message: "chat requests are paused"}
	ErrTargetNotVisible = &Error{Code: CodeTargetNotVisible, Message: "target is not visible"}
	ErrBlocked          = &Error{Code: CodeBlocked, Message: "target is unavailable"}
	ErrAlreadyInChat    = &Error{Code: CodeAlreadyInChat, Message: "already in a chat"}
	ErrTargetInChat     = &Error{Code: CodeTargetInChat, Message: "target is already in a chat"}
	ErrNotInChat        = &Error{Code: CodeNotInChat, Message: "not in a chat with this session"}
	ErrAlreadyBlocked   = &Error{Code: CodeAlreadyBlocked, Message: "already blocked"}
	ErrAlreadyReported  = &Error{Code: CodeAlreadyReported, Message: "already reported"}
	ErrSelfTarget       = &Error{Code: CodeSelfTarget, Message: "cannot target own session"}
	ErrRateLimited      = &Error{Code: CodeRateLimited, Message: "too many requests"}
	ErrInvalidMessage   = &Error{Code: CodeInvalidMessage, Message: "invalid message"}
	ErrExcluded         = &Error{Code: CodeExcluded, Message: "hidden after a safety action"}
	ErrNoPendingRequest = &Error{Code: CodeNoPendingRequest, Message: "no pending chat request from this session"}
)

// WithExpiry returns a copy of base carrying the given deadline.
func WithExpiry(base *Error, expiresAt time.Time) *Error {
	return &Error{Code: base.Code, Message: base.Message, ExpiresAt: expiresAt}
}

// WithMessage returns a copy of base with a more specific message.
func WithMessage(base *Error, msg string) *Error {
	return &Error{Code: base.Code, Message: msg, ExpiresAt: base.ExpiresAt}
}

// CodeOf extracts the code of err, or "" when err is not an *Error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
