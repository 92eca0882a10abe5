package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidStage     = errors.New("invalid stage")
	ErrSessionNotFound  = errors.New("session not found")
	ErrSessionOwnership = errors.New("session belongs to another user")
	ErrProfileNotFound  = errors.New("profile not found")
)

// AuthCode is the machine-readable reason an authentication failed.
type AuthCode string

const (
	AuthFailed          AuthCode = "AUTH_FAILED"
	ProfileNotFound     AuthCode = "PROFILE_NOT_FOUND"
	ProfileLookupFailed AuthCode = "PROFILE_LOOKUP_FAILED"
)

// AuthError is returned by authenticators; Code drives the HTTP status.
type AuthError struct {
	Code AuthCode
	Err  error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// SessionError marks a failure to resolve or create the session of a turn.
// It is the only store failure that aborts a turn.
type SessionError struct {
	SessionID SessionID
	Err       error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("session %s: %v", e.SessionID, e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}
