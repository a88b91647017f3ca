package stream

import "errors"

var (
	// ErrNotFound means the requested media file does not exist.
	ErrNotFound = errors.New("media file not found")

	// ErrPathViolation means a path escaped the media root or resolved
	// through a symlink.
	ErrPathViolation = errors.New("path violation")

	// ErrTooLarge means a payload exceeds the configured size limit.
	ErrTooLarge = errors.New("payload too large")

	// ErrTokenExpired means the access token's expiry has passed.
	ErrTokenExpired = errors.New("access token expired")

	// ErrTokenInvalid means the token is malformed or its signature does
	// not verify.
	ErrTokenInvalid = errors.New("access token invalid")

	// ErrTooManyStreams means the concurrent-stream cap is reached. This
	// is an expected outcome under load, not a failure.
	ErrTooManyStreams = errors.New("too many concurrent streams")

	// ErrWeakSecret means the signing secret is shorter than required.
	ErrWeakSecret = errors.New("signing secret too short")
)
