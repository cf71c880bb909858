// Package auth issues and verifies the short-lived HS256 tokens clients
// present when opening a gateway connection.
package auth

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrAuthDisabled = errors.New("auth disabled")
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
	ErrInvalidUser  = errors.New("invalid username")
)

// MaxUsernameLength bounds the user claim.
const MaxUsernameLength = 64

// ValidateUsername checks the name is 1-64 printable ASCII characters after
// trimming surrounding whitespace, and returns the trimmed value.
func ValidateUsername(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: username is required", ErrInvalidUser)
	}
	if len(name) > MaxUsernameLength {
		return "", fmt.Errorf("%w: username longer than %d characters", ErrInvalidUser, MaxUsernameLength)
	}
	for i := 0; i < len(name); i++ {
		if c := name[i]; c < 0x20 || c > 0x7e {
			return "", fmt.Errorf("%w: username must be printable ASCII", ErrInvalidUser)
		}
	}
	return name, nil
}
