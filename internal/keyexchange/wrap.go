package keyexchange

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"errors"
)

// SessionKeySize is the AES-256 key length in bytes.
const SessionKeySize = 32

// GenerateSessionKey returns 32 random bytes, standard base64 encoded.
func GenerateSessionKey() (string, error) {
	raw := make([]byte, SessionKeySize)
	if _, err := rand.Read(raw); err != nil {
		return "", cryptoErr("generate session key", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// WrapKeyForClient encrypts the UTF-8 bytes of the base64 session key string
// with the client's public key (RSA-OAEP, SHA-256, MGF1-SHA-256, no label).
func WrapKeyForClient(sessionKeyB64, clientPublicKeyPEM string) (string, error) {
	if sessionKeyB64 == "" {
		return "", cryptoErr("wrap session key", errors.New("empty session key"))
	}
	return WrapPayload(clientPublicKeyPEM, []byte(sessionKeyB64))
}

// WrapPayload RSA-OAEP encrypts data for the holder of clientPublicKeyPEM. Data
// longer than the OAEP capacity of the key fails.
func WrapPayload(clientPublicKeyPEM string, data []byte) (string, error) {
	pub, err := ParsePublicKeyPEM(clientPublicKeyPEM)
	if err != nil {
		return "", err
	}
	return wrapWith(pub, data)
}

func wrapWith(pub *rsa.PublicKey, data []byte) (string, error) {
	if limit := pub.Size() - 2*sha256.Size - 2; len(data) > limit {
		return "", cryptoErr("rsa-oaep encrypt", errors.New("payload exceeds key capacity"))
	}
	ct, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, data, nil)
	if err != nil {
		return "", cryptoErr("rsa-oaep encrypt", err)
	}
	return base64.StdEncoding.EncodeToString(ct), nil
}

// Unwrap RSA-OAEP decrypts a base64 ciphertext with the server's private key.
func (k *ServerKey) Unwrap(ciphertextB64 string) (string, error) {
	if k == nil || k.private == nil {
		return "", cryptoErr("rsa-oaep decrypt", errors.New("server key not loaded"))
	}
	ct, err := base64.StdEncoding.DecodeString(ciphertextB64)
	if err != nil {
		return "", cryptoErr("rsa-oaep decrypt", err)
	}
	plain, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, k.private, ct, nil)
	if err != nil {
		return "", cryptoErr("rsa-oaep decrypt", err)
	}
	return string(plain), nil
}

// UnwrapWithPrivateKey is the client-side counterpart of WrapKeyForClient.
func UnwrapWithPrivateKey(private *rsa.PrivateKey, ciphertextB64 string) (string, error) {
	k := &ServerKey{private: private}
	return k.Unwrap(ciphertextB64)
}
