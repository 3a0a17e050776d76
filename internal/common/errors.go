// Package common defines shared constants and sentinel errors used across
// client and mock-server layers of fleetsync. Callers should use errors.Is to
// match these values.
package common

import "errors"

var (
	// Auth errors (invalid or malformed token).
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)
