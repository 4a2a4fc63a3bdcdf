package entity

import "errors"

var (
	// ErrPolicyDenied marks a rate-limit or paused-account skip. It never
	// counts as a publish failure.
	ErrPolicyDenied         = errors.New("policy denied")
	ErrInvalidState         = errors.New("content not in a publishable status")
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrPlatformError        = errors.New("platform error")
	ErrMaxRetriesExceeded   = errors.New("max retries exceeded")
	ErrNoEligiblePlatforms  = errors.New("no eligible platforms")
	ErrContentNotFound      = errors.New("content not found")
	ErrAccountNotFound      = errors.New("platform account not found")
	ErrPersonaNotFound      = errors.New("persona not found")
	// ErrPublishInFlight means another attempt still holds the content's
	// publish claim. The caller should retry later.
	ErrPublishInFlight = errors.New("publish already in flight")
)
