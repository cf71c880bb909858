package sessions

import (
	"errors"
	"regexp"
	"strings"

	"github.com/Alejandro-Adrian/HireRankerAI/pkg/models"
)

// ErrValidation matches every ValidationError via errors.Is.
var ErrValidation = errors.New("validation failed")

// ValidationError names the field that was rejected.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid " + e.Field + ": " + e.Reason
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

var connectionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// PKIX and PKCS#1 framing, matching what keyexchange.ParsePublicKeyPEM decodes.
var pemPublicDelimiters = [...]struct{ begin, end string }{
	{"-----BEGIN PUBLIC KEY-----", "-----END PUBLIC KEY-----"},
	{"-----BEGIN RSA PUBLIC KEY-----", "-----END RSA PUBLIC KEY-----"},
}

// ValidateConnectionID checks the transport-assigned id format.
func ValidateConnectionID(id string) error {
	if !connectionIDPattern.MatchString(id) {
		return &ValidationError{Field: "connection_id", Reason: "must match [A-Za-z0-9_-]{1,128}"}
	}
	return nil
}

// ValidateUser checks the user is 1-64 printable ASCII characters.
func ValidateUser(user string) error {
	if user == "" || len(user) > 64 {
		return &ValidationError{Field: "user", Reason: "must be 1-64 characters"}
	}
	for i := 0; i < len(user); i++ {
		if c := user[i]; c < 0x20 || c > 0x7e {
			return &ValidationError{Field: "user", Reason: "must be printable ASCII"}
		}
	}
	return nil
}

// ValidatePublicKeyPEM checks for well-formed PEM public key delimiters.
// An empty key is allowed.
func ValidatePublicKeyPEM(key string) error {
	if key == "" {
		return nil
	}
	for _, d := range pemPublicDelimiters {
		begin := strings.Index(key, d.begin)
		end := strings.Index(key, d.end)
		if begin >= 0 && end > begin {
			return nil
		}
	}
	return &ValidationError{Field: "client_public_key", Reason: "missing PEM public key delimiters"}
}

// ValidateSession runs every field check for a session row.
func ValidateSession(s *models.Session) error {
	if s == nil {
		return &ValidationError{Field: "session", Reason: "is required"}
	}
	if err := ValidateConnectionID(s.ConnectionID); err != nil {
		return err
	}
	if err := ValidateUser(s.User); err != nil {
		return err
	}
	return ValidatePublicKeyPEM(s.ClientPublicKey)
}
