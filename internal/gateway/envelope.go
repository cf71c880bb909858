package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/Alejandro-Adrian/HireRankerAI/internal/keyexchange"
	"github.com/Alejandro-Adrian/HireRankerAI/internal/router"
)

// Client-facing envelope errors. Details stay in server logs.
const (
	msgNoEncryptedField = "No encrypted field present"
	msgDecryptionFailed = "Decryption failed"
	msgEncryptionFailed = "Encryption failed"
	msgInvalidPayload   = "Invalid payload format (expected JSON)"
)

var (
	errNoEncryptedField = errors.New("no encrypted field present")
	errDecryptionFailed = errors.New("decryption failed")
	errInvalidPayload   = errors.New("invalid plaintext payload")
)

// Envelope modes, used as metric labels.
const (
	modeAES       = "aes"
	modeRSA       = "rsa"
	modePlaintext = "plaintext"
	modeDebug     = "debug"
	modeFailed    = "failed"
)

// InboundEnvelope is the body of a client_request frame.
type InboundEnvelope interface {
	inbound()
}

// EncryptedEnvelope carries a sealed (encrypted+iv) or wrapped (encrypted
// only) request.
type EncryptedEnvelope struct {
	Encrypted string `json:"encrypted,omitempty"`
	IV        string `json:"iv,omitempty"`
}

// PlainEnvelope carries an already-plaintext request in debug mode.
type PlainEnvelope struct {
	Request router.Request
}

func (EncryptedEnvelope) inbound() {}
func (PlainEnvelope) inbound()     {}

// parseInbound builds the envelope for a client_request body. In plaintext
// mode data is the request object or its JSON string.
func parseInbound(data json.RawMessage, plaintextMode bool) (InboundEnvelope, error) {
	if plaintextMode {
		raw := []byte(data)
		var encoded string
		if err := json.Unmarshal(raw, &encoded); err == nil {
			raw = []byte(encoded)
		}
		var req router.Request
		if err := json.Unmarshal(raw, &req); err != nil {
			return nil, fmt.Errorf("%w: %v", errInvalidPayload, err)
		}
		return PlainEnvelope{Request: req}, nil
	}
	var env EncryptedEnvelope
	if len(data) > 0 && string(data) != "null" {
		if err := json.Unmarshal(data, &env); err != nil {
			return nil, fmt.Errorf("%w: %v", errDecryptionFailed, err)
		}
	}
	return env, nil
}

// decryptStrategy is one rung of the inbound ladder.
type decryptStrategy interface {
	mode() string
	applies(env EncryptedEnvelope, sessionKey string) bool
	open(env EncryptedEnvelope, sessionKey string) (router.Request, error)
}

type aesGCMStrategy struct{}

func (aesGCMStrategy) mode() string { return modeAES }

func (aesGCMStrategy) applies(env EncryptedEnvelope, sessionKey string) bool {
	return sessionKey != "" && env.Encrypted != "" && env.IV != ""
}

func (aesGCMStrategy) open(env EncryptedEnvelope, sessionKey string) (router.Request, error) {
	plain, err := keyexchange.OpenEnvelope(sessionKey, env.IV, env.Encrypted)
	if err != nil {
		return router.Request{}, err
	}
	return decodeRequest(plain)
}

// rsaOAEPStrategy handles envelopes sent before a symmetric key exists and
// legacy clients that never send an iv.
type rsaOAEPStrategy struct {
	key *keyexchange.ServerKey
}

func (rsaOAEPStrategy) mode() string { return modeRSA }

func (s rsaOAEPStrategy) applies(env EncryptedEnvelope, sessionKey string) bool {
	return env.Encrypted != "" && (sessionKey == "" || env.IV == "")
}

func (s rsaOAEPStrategy) open(env EncryptedEnvelope, _ string) (router.Request, error) {
	if s.key == nil {
		return router.Request{}, errors.New("server key not loaded")
	}
	plain, err := s.key.Unwrap(env.Encrypted)
	if err != nil {
		return router.Request{}, err
	}
	return decodeRequest([]byte(plain))
}

func decodeRequest(plain []byte) (router.Request, error) {
	var req router.Request
	if err := json.Unmarshal(plain, &req); err != nil {
		return router.Request{}, fmt.Errorf("decode request: %w", err)
	}
	return req, nil
}

// envelopeCodec runs the decrypt and encrypt ladders.
type envelopeCodec struct {
	strategies    []decryptStrategy
	plaintextMode bool
}

func newEnvelopeCodec(serverKey *keyexchange.ServerKey, plaintextMode bool) *envelopeCodec {
	return &envelopeCodec{
		strategies:    []decryptStrategy{aesGCMStrategy{}, rsaOAEPStrategy{key: serverKey}},
		plaintextMode: plaintextMode,
	}
}

// open returns the request carried by env. sessionKey is the confirmed key,
// else the pending key, else "". The returned error is the last strategy
// failure wrapped in errDecryptionFailed, or errNoEncryptedField.
func (c *envelopeCodec) open(env InboundEnvelope, sessionKey string) (router.Request, string, error) {
	switch e := env.(type) {
	case PlainEnvelope:
		return e.Request, modeDebug, nil
	case EncryptedEnvelope:
		if strings.TrimSpace(e.Encrypted) == "" {
			return router.Request{}, "", errNoEncryptedField
		}
		var lastErr error
		for _, strategy := range c.strategies {
			if !strategy.applies(e, sessionKey) {
				continue
			}
			req, err := strategy.open(e, sessionKey)
			if err == nil {
				return req, strategy.mode(), nil
			}
			lastErr = err
		}
		if lastErr == nil {
			lastErr = errors.New("no strategy applies")
		}
		return router.Request{}, "", fmt.Errorf("%w: %v", errDecryptionFailed, lastErr)
	default:
		return router.Request{}, "", fmt.Errorf("%w: unknown envelope %T", errDecryptionFailed, env)
	}
}

// OutboundEnvelope is the body of a result frame.
type OutboundEnvelope interface {
	outbound() string
}

// SealedEnvelope is an AES-GCM sealed payload.
type SealedEnvelope struct {
	Encrypted string `json:"encrypted"`
	IV        string `json:"iv"`
}

// WrappedEnvelope is a payload RSA-OAEP encrypted to the client public key.
type WrappedEnvelope struct {
	Encrypted string `json:"encrypted"`
}

// PlainFallback is sent to clients that offered no key material.
type PlainFallback struct {
	Plaintext router.Payload `json:"plaintext"`
}

// DebugPlain is the bare payload, sent in plaintext mode.
type DebugPlain struct {
	router.Payload
}

// failedEnvelope replaces a payload that could not be encrypted.
type failedEnvelope struct {
	Error string `json:"error"`
}

func (SealedEnvelope) outbound() string  { return modeAES }
func (WrappedEnvelope) outbound() string { return modeRSA }
func (PlainFallback) outbound() string   { return modePlaintext }
func (DebugPlain) outbound() string      { return modeDebug }
func (failedEnvelope) outbound() string  { return modeFailed }

// recipient is the key material known for a connection when a response is
// sealed. It is read per response, never cached per connection.
type recipient struct {
	SymmetricKey    string // confirmed key only
	ClientPublicKey string
}

// seal picks the strongest envelope the recipient supports. An AES failure
// falls back to RSA; an RSA failure never degrades to plaintext.
func (c *envelopeCodec) seal(payload router.Payload, to recipient) (OutboundEnvelope, error) {
	if c.plaintextMode {
		return DebugPlain{Payload: payload}, nil
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return failedEnvelope{Error: msgEncryptionFailed}, fmt.Errorf("encode payload: %w", err)
	}

	var sealErr error
	if to.SymmetricKey != "" {
		ciphertext, iv, err := keyexchange.SealEnvelope(to.SymmetricKey, body)
		if err == nil {
			return SealedEnvelope{Encrypted: ciphertext, IV: iv}, nil
		}
		sealErr = err
	}
	if to.ClientPublicKey != "" {
		wrapped, err := keyexchange.WrapPayload(to.ClientPublicKey, body)
		if err == nil {
			return WrappedEnvelope{Encrypted: wrapped}, sealErr
		}
		return failedEnvelope{Error: msgEncryptionFailed}, errors.Join(sealErr, err)
	}
	if sealErr != nil {
		return failedEnvelope{Error: msgEncryptionFailed}, sealErr
	}
	return PlainFallback{Plaintext: payload}, nil
}

// clientMessage maps an inbound ladder error to its client-facing text.
func clientMessage(err error) string {
	switch {
	case errors.Is(err, errNoEncryptedField):
		return msgNoEncryptedField
	case errors.Is(err, errInvalidPayload):
		return msgInvalidPayload
	default:
		return msgDecryptionFailed
	}
}
