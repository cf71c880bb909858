package keyexchange

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"
)

// MinRSABits is the smallest modulus accepted for client or server keys.
const MinRSABits = 2048

// ParsePublicKeyPEM decodes a PKIX ("PUBLIC KEY") or PKCS#1 ("RSA PUBLIC KEY")
// encoded RSA public key.
func ParsePublicKeyPEM(data string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(strings.TrimSpace(data)))
	if block == nil {
		return nil, cryptoErr("parse public key", errors.New("no PEM block found"))
	}

	var pub *rsa.PublicKey
	switch block.Type {
	case "PUBLIC KEY":
		parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, cryptoErr("parse public key", err)
		}
		key, ok := parsed.(*rsa.PublicKey)
		if !ok {
			return nil, cryptoErr("parse public key", errors.New("not an RSA key"))
		}
		pub = key
	case "RSA PUBLIC KEY":
		key, err := x509.ParsePKCS1PublicKey(block.Bytes)
		if err != nil {
			return nil, cryptoErr("parse public key", err)
		}
		pub = key
	default:
		return nil, cryptoErr("parse public key", fmt.Errorf("unexpected PEM type %q", block.Type))
	}

	if pub.N.BitLen() < MinRSABits {
		return nil, cryptoErr("parse public key", fmt.Errorf("modulus too small: %d bits", pub.N.BitLen()))
	}
	return pub, nil
}

// ParsePrivateKeyPEM decodes a PKCS#1 or PKCS#8 RSA private key.
func ParsePrivateKeyPEM(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, cryptoErr("parse private key", errors.New("no PEM block found"))
	}

	switch block.Type {
	case "RSA PRIVATE KEY":
		key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, cryptoErr("parse private key", err)
		}
		return key, nil
	case "PRIVATE KEY":
		parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, cryptoErr("parse private key", err)
		}
		key, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, cryptoErr("parse private key", errors.New("not an RSA key"))
		}
		return key, nil
	default:
		return nil, cryptoErr("parse private key", fmt.Errorf("unexpected PEM type %q", block.Type))
	}
}

// EncodePublicKeyPEM renders pub as a PKIX "PUBLIC KEY" block.
func EncodePublicKeyPEM(pub *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", cryptoErr("encode public key", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}

// ServerKey holds the gateway's RSA private key, used to unwrap envelopes
// clients encrypt before a symmetric key exists.
type ServerKey struct {
	private   *rsa.PrivateKey
	publicPEM string
}

// NewServerKey wraps an existing private key.
func NewServerKey(private *rsa.PrivateKey) (*ServerKey, error) {
	if private == nil {
		return nil, errors.New("private key is required")
	}
	publicPEM, err := EncodePublicKeyPEM(&private.PublicKey)
	if err != nil {
		return nil, err
	}
	return &ServerKey{private: private, publicPEM: publicPEM}, nil
}

// GenerateServerKey creates a fresh RSA key of the given size.
func GenerateServerKey(bits int) (*ServerKey, error) {
	if bits < MinRSABits {
		bits = MinRSABits
	}
	private, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, cryptoErr("generate server key", err)
	}
	return NewServerKey(private)
}

// LoadServerKey reads a PEM private key from path.
func LoadServerKey(path string) (*ServerKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read server key: %w", err)
	}
	private, err := ParsePrivateKeyPEM(data)
	if err != nil {
		return nil, err
	}
	return NewServerKey(private)
}

// PublicKeyPEM returns the PKIX encoding clients use for RSA envelopes.
func (k *ServerKey) PublicKeyPEM() string {
	if k == nil {
		return ""
	}
	return k.publicPEM
}

// PublicKey returns the RSA public half.
func (k *ServerKey) PublicKey() *rsa.PublicKey {
	return &k.private.PublicKey
}

// WritePrivateKeyPEM writes the key as PKCS#8 with 0600 permissions. It
// refuses to overwrite an existing file.
func (k *ServerKey) WritePrivateKeyPEM(path string) error {
	der, err := x509.MarshalPKCS8PrivateKey(k.private)
	if err != nil {
		return cryptoErr("encode private key", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("create key file: %w", err)
	}
	if err := pem.Encode(f, &pem.Block{Type: "PRIVATE KEY", Bytes: der}); err != nil {
		_ = f.Close()
		return fmt.Errorf("write key file: %w", err)
	}
	return f.Close()
}
