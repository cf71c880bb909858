package keyexchange

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// NonceSize is the AES-GCM nonce length used for every envelope.
const NonceSize = 12

func newGCM(sessionKeyB64 string) (cipher.AEAD, error) {
	key, err := base64.StdEncoding.DecodeString(sessionKeyB64)
	if err != nil {
		return nil, err
	}
	if len(key) != SessionKeySize {
		return nil, fmt.Errorf("session key must be %d bytes, got %d", SessionKeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// SealEnvelope encrypts plaintext with AES-GCM under a fresh random nonce and
// returns base64 ciphertext (tag appended) and nonce.
func SealEnvelope(sessionKeyB64 string, plaintext []byte) (ciphertextB64, ivB64 string, err error) {
	gcm, err := newGCM(sessionKeyB64)
	if err != nil {
		return "", "", cryptoErr("aes-gcm seal", err)
	}
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", "", cryptoErr("aes-gcm seal", err)
	}
	ct := gcm.Seal(nil, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(ct), base64.StdEncoding.EncodeToString(nonce), nil
}

// OpenEnvelope authenticates and decrypts an envelope. It returns either the
// full plaintext or an error, never partial output.
func OpenEnvelope(sessionKeyB64, ivB64, ciphertextB64 string) ([]byte, error) {
	gcm, err := newGCM(sessionKeyB64)
	if err != nil {
		return nil, cryptoErr("aes-gcm open", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(ivB64)
	if err != nil {
		return nil, cryptoErr("aes-gcm open", err)
	}
	if len(nonce) != NonceSize {
		return nil, cryptoErr("aes-gcm open", fmt.Errorf("nonce must be %d bytes, got %d", NonceSize, len(nonce)))
	}
	ct, err := base64.StdEncoding.DecodeString(ciphertextB64)
	if err != nil {
		return nil, cryptoErr("aes-gcm open", err)
	}
	plain, err := gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, cryptoErr("aes-gcm open", err)
	}
	return plain, nil
}
