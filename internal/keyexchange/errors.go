// Package keyexchange implements the per-connection key handshake: RSA-OAEP
// wrapping of freshly generated AES-256 session keys and AES-GCM sealing of
// envelope bodies. PKCS#1 v1.5 encryption is deliberately unsupported.
package keyexchange

import "errors"

// ErrCrypto matches every CryptoError via errors.Is.
var ErrCrypto = errors.New("crypto failure")

// CryptoError reports a failed cryptographic operation. Op names the step for
// server-side logs; it must not be forwarded to clients.
type CryptoError struct {
	Op  string
	Err error
}

func (e *CryptoError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return "keyexchange: " + e.Op + " failed"
	}
	return "keyexchange: " + e.Op + ": " + e.Err.Error()
}

func (e *CryptoError) Unwrap() error { return e.Err }

func (e *CryptoError) Is(target error) bool { return target == ErrCrypto }

func cryptoErr(op string, err error) error {
	return &CryptoError{Op: op, Err: err}
}
